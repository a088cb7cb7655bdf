package sqlstore

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/conduit-lang/restful/internal/orm/crud"
	"github.com/conduit-lang/restful/internal/orm/query"
	"github.com/conduit-lang/restful/internal/orm/schema/schematest"
	"github.com/conduit-lang/restful/internal/orm/transaction"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const postColumns = `t0."id", t0."title", t0."view_count", t0."published", t0."labels", t0."price", t0."created_at", t0."author_id"`

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := New(db, Postgres{}, schematest.Blog(t),
		WithClock(func() time.Time { return fixedNow }),
		WithRetry(&transaction.RetryConfig{MaxRetries: 1, BaseBackoff: time.Millisecond}),
	)
	return s, mock
}

func postRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "title", "view_count", "published", "labels", "price", "created_at", "author_id"})
}

func TestStore_FindMany(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT ` + postColumns + ` FROM "posts" t0 WHERE t0."title" ILIKE $1 ESCAPE '\' ORDER BY t0."view_count" DESC NULLS FIRST, t0."id" ASC LIMIT 5 OFFSET 10`)).
		WithArgs("%hello%").
		WillReturnRows(postRows().
			AddRow(int64(1), "Hello", int64(3), true, []byte("{a,b}"), []byte("9.99"), fixedNow, nil))

	recs, err := s.FindMany(context.Background(), "Post", query.FindArgs{
		Where:   query.Cond{Field: "title", Op: query.OpContains, Value: "hello", Insensitive: true},
		OrderBy: []query.OrderBy{{Path: []string{"viewCount"}, Desc: true}},
		Skip:    10,
		Take:    5,
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.Equal(t, int64(1), rec["id"])
	assert.Equal(t, "Hello", rec["title"])
	assert.Equal(t, true, rec["published"])
	assert.Equal(t, []any{"a", "b"}, rec["labels"])
	assert.True(t, decimal.RequireFromString("9.99").Equal(rec["price"].(decimal.Decimal)))
	assert.Equal(t, fixedNow, rec["createdAt"])
	assert.Nil(t, rec["authorId"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindManyIncludesAndCounts(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT t0."id", t0."email", t0."name", t0."role" FROM "users" t0 ORDER BY t0."id" ASC`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "role"}).
			AddRow(int64(1), "a@x.io", nil, "USER").
			AddRow(int64(2), "b@x.io", "Bea", "ADMIN"))

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT t0."author_id", `+postColumns+` FROM "posts" t0 WHERE t0."author_id" IN ($1, $2) ORDER BY t0."id" ASC`)).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"parent", "id", "title", "view_count", "published", "labels", "price", "created_at", "author_id"}).
			AddRow(int64(1), int64(10), "first", int64(0), false, "{}", nil, fixedNow, int64(1)).
			AddRow(int64(1), int64(11), "second", int64(0), false, "{}", nil, fixedNow, int64(1)).
			AddRow(int64(2), int64(12), "third", int64(0), true, "{}", nil, fixedNow, int64(2)))

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT t0."author_id", COUNT(*) FROM "posts" t0 WHERE t0."author_id" IN ($1, $2) GROUP BY t0."author_id"`)).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"author_id", "count"}).
			AddRow(int64(1), int64(2)).
			AddRow(int64(2), int64(1)))

	recs, err := s.FindMany(context.Background(), "User", query.FindArgs{
		Include: map[string]*query.Include{"posts": {FindArgs: query.FindArgs{Take: 1}}},
		Count:   map[string]query.Filter{"posts": nil},
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	first := recs[0]["posts"].([]crud.Record)
	require.Len(t, first, 1)
	assert.Equal(t, int64(10), first[0]["id"])
	assert.NotContains(t, first[0], parentKey)
	assert.Equal(t, map[string]int64{"posts": 2}, recs[0].Counts())

	second := recs[1]["posts"].([]crud.Record)
	require.Len(t, second, 1)
	assert.Equal(t, int64(12), second[0]["id"])
	assert.Equal(t, map[string]int64{"posts": 1}, recs[1].Counts())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_IncludeBelongsToIDs(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "posts" t0 ORDER BY t0."id" ASC`)).
		WillReturnRows(postRows().
			AddRow(int64(1), "a", int64(0), false, "{}", nil, fixedNow, int64(7)).
			AddRow(int64(2), "b", int64(0), false, "{}", nil, fixedNow, nil))

	recs, err := s.FindMany(context.Background(), "Post", query.FindArgs{
		Include: map[string]*query.Include{"author": query.IDs()},
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, crud.Record{"id": int64(7)}, recs[0]["author"])
	assert.Nil(t, recs[1]["author"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Count(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "posts" t0 WHERE t0."published" = $1`)).
		WithArgs(true).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(42)))

	n, err := s.Count(context.Background(), "Post", query.Eq("published", true))
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestStore_Create(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "users" WHERE "id" IN ($1)`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery(regexp.QuoteMeta(
		`INSERT INTO "posts" ("title", "view_count", "published", "labels", "created_at", "author_id") VALUES ($1, $2, $3, $4, $5, $6) RETURNING "id"`)).
		WithArgs("Hi", int64(0), false, sqlmock.AnyArg(), fixedNow, int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "tags" WHERE "id" IN ($1)`)).
		WithArgs("go").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectExec(regexp.QuoteMeta(
		`INSERT INTO "post_tags" ("post_id", "tag_id") VALUES ($1, $2) ON CONFLICT DO NOTHING`)).
		WithArgs(int64(7), "go").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT ` + postColumns + ` FROM "posts" t0 WHERE t0."id" = $1 ORDER BY t0."id" ASC LIMIT 1`)).
		WithArgs(int64(7)).
		WillReturnRows(postRows().
			AddRow(int64(7), "Hi", int64(0), false, "{}", nil, fixedNow, int64(1)))
	mock.ExpectCommit()

	rec, err := s.Create(context.Background(), "Post", crud.WriteArgs{
		Data: map[string]any{"title": "Hi"},
		Relations: map[string]crud.RelationWrite{
			"author": {Op: crud.Set, IDs: []any{"1"}},
			"tags":   {Op: crud.Connect, IDs: []any{"go"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec["id"])
	assert.Equal(t, []any{}, rec["labels"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateMissingRequired(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := s.Create(context.Background(), "Comment", crud.WriteArgs{
		Data: map[string]any{"content": "hi"},
	})
	reqErr, ok := crud.AsRequestError(err)
	require.True(t, ok)
	assert.Equal(t, crud.CodeNullViolation, reqErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateConnectMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "posts" WHERE "id" IN ($1)`)).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectRollback()

	_, err := s.Create(context.Background(), "Comment", crud.WriteArgs{
		Data:      map[string]any{"content": "hi"},
		Relations: map[string]crud.RelationWrite{"post": {Op: crud.Connect, IDs: []any{int64(99)}}},
	})
	assert.True(t, crud.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT t0."id" FROM "posts" t0 WHERE t0."id" = $1 ORDER BY t0."id" ASC LIMIT 1`)).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := s.Update(context.Background(), "Post", crud.WriteArgs{
		Where: query.Eq("id", int64(5)),
		Data:  map[string]any{"title": "x"},
	})
	assert.True(t, crud.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateSetsRelations(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT t0."id" FROM "users" t0 WHERE t0."id" = $1 ORDER BY t0."id" ASC LIMIT 1`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "users" SET "name" = $1 WHERE "id" = $2`)).
		WithArgs("Ann", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE "posts" SET "author_id" = NULL WHERE "author_id" = $1 AND "id" NOT IN ($2)`)).
		WithArgs(int64(1), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "posts" SET "author_id" = $1 WHERE "id" IN ($2)`)).
		WithArgs(int64(1), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT t0."id", t0."email", t0."name", t0."role" FROM "users" t0 WHERE t0."id" = $1 ORDER BY t0."id" ASC LIMIT 1`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "role"}).AddRow(int64(1), "a@x.io", "Ann", "USER"))
	mock.ExpectCommit()

	rec, err := s.Update(context.Background(), "User", crud.WriteArgs{
		Where:     query.Eq("id", int64(1)),
		Data:      map[string]any{"name": "Ann"},
		Relations: map[string]crud.RelationWrite{"posts": {Op: crud.Set, IDs: []any{int64(3)}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Ann", rec["name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DeleteRestricted(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT ` + postColumns + ` FROM "posts" t0 WHERE t0."id" = $1 ORDER BY t0."id" ASC LIMIT 1`)).
		WithArgs(int64(1)).
		WillReturnRows(postRows().AddRow(int64(1), "a", int64(0), false, "{}", nil, fixedNow, nil))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "post_tags" WHERE "post_id" = $1`)).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "comments" WHERE "post_id" = $1`)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))
	mock.ExpectRollback()

	_, err := s.Delete(context.Background(), "Post", query.Eq("id", int64(1)))
	assert.True(t, crud.IsForeignKeyViolation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DeleteDeniedByPolicy(t *testing.T) {
	s, mock := newMockStore(t)

	_, err := s.Delete(context.Background(), "Tag", query.Eq("id", "go"))
	reqErr, ok := crud.AsRequestError(err)
	require.True(t, ok)
	assert.Equal(t, crud.CodePolicyRejected, reqErr.Code)
	assert.Equal(t, crud.ReasonAccessPolicyViolation, reqErr.Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UnknownModel(t *testing.T) {
	s, _ := newMockStore(t)
	_, err := s.FindMany(context.Background(), "Nope", query.FindArgs{})
	reqErr, ok := crud.AsRequestError(err)
	require.True(t, ok)
	assert.Equal(t, crud.KindValidation, reqErr.Kind)
}

func TestConvertDBError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
		kind crud.ErrorKind
	}{
		{"pgx unique", &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}, crud.CodeUniqueViolation, crud.KindKnown},
		{"pgx foreign key", &pgconn.PgError{Code: "23503"}, crud.CodeForeignKeyViolation, crud.KindKnown},
		{"pq not null", &pq.Error{Code: "23502", Column: "title"}, crud.CodeNullViolation, crud.KindKnown},
		{"sqlite unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, crud.CodeUniqueViolation, crud.KindKnown},
		{"sqlite foreign key", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey}, crud.CodeForeignKeyViolation, crud.KindKnown},
		{"pgx other", &pgconn.PgError{Code: "42P01"}, "", crud.KindUnknown},
		{"plain", errors.New("connection reset"), "", crud.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reqErr, ok := crud.AsRequestError(ConvertDBError(tt.err))
			require.True(t, ok)
			assert.Equal(t, tt.kind, reqErr.Kind)
			assert.Equal(t, tt.code, reqErr.Code)
			assert.ErrorIs(t, reqErr, tt.err)
		})
	}

	assert.NoError(t, ConvertDBError(nil))
	known := crud.NotFound("gone")
	assert.Same(t, known, ConvertDBError(known))
}
