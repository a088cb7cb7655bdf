package sqlstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/conduit-lang/restful/internal/orm/crud"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// PostgreSQL integrity constraint violation codes
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgNotNullViolation    = "23502"
)

// ConvertDBError maps driver errors to request errors carrying the ORM error
// codes. Request errors pass through unchanged.
func ConvertDBError(err error) error {
	if err == nil {
		return nil
	}
	if reqErr, ok := crud.AsRequestError(err); ok {
		return reqErr
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fromPostgres(pgErr.Code, pgErr.ConstraintName, pgErr.ColumnName, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fromPostgres(string(pqErr.Code), pqErr.Constraint, pqErr.Column, err)
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return fromSQLite(liteErr, err)
	}
	return crud.Unknown(err)
}

func fromPostgres(code, constraint, column string, err error) error {
	target := constraint
	if target == "" {
		target = column
	}
	var reqErr *crud.RequestError
	switch code {
	case pgUniqueViolation:
		reqErr = crud.Known(crud.CodeUniqueViolation, "Unique constraint failed on the fields: (`%s`)", target)
	case pgForeignKeyViolation:
		reqErr = crud.Known(crud.CodeForeignKeyViolation, "Foreign key constraint failed on the field: `%s`", target)
	case pgNotNullViolation:
		reqErr = crud.Known(crud.CodeNullViolation, "Null constraint violation on the fields: (`%s`)", target)
	default:
		return crud.Unknown(err)
	}
	reqErr.Err = err
	return reqErr
}

func fromSQLite(liteErr sqlite3.Error, err error) error {
	var reqErr *crud.RequestError
	switch liteErr.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		reqErr = crud.Known(crud.CodeUniqueViolation, "Unique constraint failed on the fields: (`%s`)", sqliteTarget(liteErr))
	case sqlite3.ErrConstraintForeignKey:
		reqErr = crud.Known(crud.CodeForeignKeyViolation, "Foreign key constraint failed on the field: `%s`", sqliteTarget(liteErr))
	case sqlite3.ErrConstraintNotNull:
		reqErr = crud.Known(crud.CodeNullViolation, "Null constraint violation on the fields: (`%s`)", sqliteTarget(liteErr))
	default:
		return crud.Unknown(err)
	}
	reqErr.Err = err
	return reqErr
}

// sqliteTarget extracts "table.column" from messages such as
// "UNIQUE constraint failed: users.email"
func sqliteTarget(err sqlite3.Error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "); i >= 0 {
		return msg[i+2:]
	}
	return fmt.Sprint(err.ExtendedCode)
}
