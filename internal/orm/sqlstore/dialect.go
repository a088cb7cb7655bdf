package sqlstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/conduit-lang/restful/internal/orm/query"
	"github.com/conduit-lang/restful/internal/orm/schema"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// argFunc binds a value and returns its placeholder
type argFunc func(v any) string

// Dialect hides the SQL differences between the supported databases
type Dialect interface {
	// Name identifies the dialect ("postgres" or "sqlite3")
	Name() string
	// Placeholder returns the bind marker for the n-th argument, 1-based
	Placeholder(n int) string
	// Quote quotes an identifier
	Quote(ident string) string
	// Limit renders the LIMIT/OFFSET clause. take 0 means no limit.
	Limit(take, skip int) string
	// InsertIgnore renders an insert that skips conflicting rows
	InsertIgnore(table string, columns []string, values []string) string
	// StringMatch renders contains, startsWith, endsWith and search
	StringMatch(col string, op query.Operator, insensitive bool, needle string, arg argFunc) string
	// ListMatch renders has, hasSome, hasEvery and isEmpty on list columns
	ListMatch(col string, f *schema.Field, op query.Operator, values []any, arg argFunc) string
	// Encode converts a normalized value into a driver argument
	Encode(f *schema.Field, v any) (any, error)
	// DecodeList converts a scanned list column into []any
	DecodeList(raw any) ([]any, error)
	// ColumnType returns the DDL type of a scalar field
	ColumnType(f *schema.Field) string
	// AutoIncrement returns the DDL of an auto-incrementing primary key
	AutoIncrement(f *schema.Field) string
}

// DialectFor returns the dialect used with a database/sql driver name
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "postgres", "pgx":
		return Postgres{}, nil
	case "sqlite3", "sqlite":
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// encodeScalar converts normalized scalars the way both dialects accept them
func encodeScalar(f *schema.Field, v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case decimal.Decimal:
		return x.String(), nil
	case time.Time:
		return x.UTC(), nil
	}
	if f.Type == schema.TypeJSON {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return v, nil
}

func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Postgres is the dialect of PostgreSQL, used by both lib/pq and pgx
type Postgres struct{}

// Name returns the dialect name
func (Postgres) Name() string { return "postgres" }

// Placeholder returns $n
func (Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

// Quote quotes an identifier
func (Postgres) Quote(ident string) string { return pq.QuoteIdentifier(ident) }

// Limit renders LIMIT and OFFSET
func (Postgres) Limit(take, skip int) string {
	var sb strings.Builder
	if take > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", take)
	}
	if skip > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", skip)
	}
	return sb.String()
}

// InsertIgnore renders INSERT ... ON CONFLICT DO NOTHING
func (d Postgres) InsertIgnore(table string, columns []string, values []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		d.Quote(table), quoteAll(d, columns), strings.Join(values, ", "))
}

// StringMatch renders LIKE, ILIKE and full-text search
func (Postgres) StringMatch(col string, op query.Operator, insensitive bool, needle string, arg argFunc) string {
	like := "LIKE"
	if insensitive {
		like = "ILIKE"
	}
	switch op {
	case query.OpStartsWith:
		return fmt.Sprintf(`%s %s %s ESCAPE '\'`, col, like, arg(likePattern(needle)+"%"))
	case query.OpEndsWith:
		return fmt.Sprintf(`%s %s %s ESCAPE '\'`, col, like, arg("%"+likePattern(needle)))
	case query.OpSearch:
		return fmt.Sprintf("to_tsvector('simple', %s) @@ plainto_tsquery('simple', %s)", col, arg(needle))
	default:
		return fmt.Sprintf(`%s %s %s ESCAPE '\'`, col, like, arg("%"+likePattern(needle)+"%"))
	}
}

// ListMatch renders array operators
func (d Postgres) ListMatch(col string, f *schema.Field, op query.Operator, values []any, arg argFunc) string {
	switch op {
	case query.OpHas:
		v, _ := encodeScalar(f, values[0])
		return fmt.Sprintf("%s = ANY(%s)", arg(v), col)
	case query.OpHasSome:
		return fmt.Sprintf("%s && %s", col, arg(d.array(f, values)))
	case query.OpHasEvery:
		return fmt.Sprintf("%s @> %s", col, arg(d.array(f, values)))
	default:
		if empty, _ := values[0].(bool); empty {
			return fmt.Sprintf("COALESCE(cardinality(%s), 0) = 0", col)
		}
		return fmt.Sprintf("COALESCE(cardinality(%s), 0) > 0", col)
	}
}

// array wraps list values in the typed pq array matching the field
func (Postgres) array(f *schema.Field, values []any) any {
	switch f.Type {
	case schema.TypeString, schema.TypeEnum, schema.TypeUUID:
		out := make(pq.StringArray, 0, len(values))
		for _, v := range values {
			s, _ := v.(string)
			out = append(out, s)
		}
		return out
	case schema.TypeInt, schema.TypeBigInt:
		out := make(pq.Int64Array, 0, len(values))
		for _, v := range values {
			n, _ := v.(int64)
			out = append(out, n)
		}
		return out
	case schema.TypeFloat:
		out := make(pq.Float64Array, 0, len(values))
		for _, v := range values {
			n, _ := v.(float64)
			out = append(out, n)
		}
		return out
	case schema.TypeBool:
		out := make(pq.BoolArray, 0, len(values))
		for _, v := range values {
			b, _ := v.(bool)
			out = append(out, b)
		}
		return out
	case schema.TypeDecimal:
		out := make(pq.StringArray, 0, len(values))
		for _, v := range values {
			if d, ok := v.(decimal.Decimal); ok {
				out = append(out, d.String())
			}
		}
		return out
	default:
		return pq.Array(values)
	}
}

// Encode converts values for lib/pq and pgx
func (d Postgres) Encode(f *schema.Field, v any) (any, error) {
	if f.Array && v != nil {
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("list value expected for %s", f.Name)
		}
		return d.array(f, items), nil
	}
	return encodeScalar(f, v)
}

// DecodeList parses the text form of a PostgreSQL array
func (Postgres) DecodeList(raw any) ([]any, error) {
	if raw == nil {
		return nil, nil
	}
	var arr pq.StringArray
	if err := arr.Scan(raw); err != nil {
		return nil, err
	}
	out := make([]any, len(arr))
	for i, s := range arr {
		out[i] = s
	}
	return out, nil
}

// ColumnType maps field types to PostgreSQL types
func (Postgres) ColumnType(f *schema.Field) string {
	var t string
	switch f.Type {
	case schema.TypeInt:
		t = "INTEGER"
	case schema.TypeBigInt:
		t = "BIGINT"
	case schema.TypeFloat:
		t = "DOUBLE PRECISION"
	case schema.TypeDecimal:
		t = "NUMERIC"
	case schema.TypeBool:
		t = "BOOLEAN"
	case schema.TypeTimestamp:
		t = "TIMESTAMPTZ"
	case schema.TypeUUID:
		t = "UUID"
	case schema.TypeJSON:
		t = "JSONB"
	case schema.TypeBytes:
		t = "BYTEA"
	default:
		t = "TEXT"
	}
	if f.Array {
		return t + "[]"
	}
	return t
}

// AutoIncrement uses an identity column
func (d Postgres) AutoIncrement(f *schema.Field) string {
	if f.Type == schema.TypeBigInt {
		return "BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
	}
	return "INTEGER GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
}

// SQLite is the dialect of mattn/go-sqlite3. Lists are stored as JSON text.
type SQLite struct{}

// Name returns the dialect name
func (SQLite) Name() string { return "sqlite3" }

// Placeholder returns ?
func (SQLite) Placeholder(int) string { return "?" }

// Quote quotes an identifier
func (SQLite) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// Limit renders LIMIT and OFFSET. SQLite needs a LIMIT before any OFFSET.
func (SQLite) Limit(take, skip int) string {
	switch {
	case take > 0 && skip > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", take, skip)
	case take > 0:
		return fmt.Sprintf(" LIMIT %d", take)
	case skip > 0:
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", skip)
	}
	return ""
}

// InsertIgnore renders INSERT OR IGNORE
func (d SQLite) InsertIgnore(table string, columns []string, values []string) string {
	return fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)",
		d.Quote(table), quoteAll(d, columns), strings.Join(values, ", "))
}

// StringMatch uses instr and substr, which are case sensitive
func (SQLite) StringMatch(col string, op query.Operator, insensitive bool, needle string, arg argFunc) string {
	if insensitive || op == query.OpSearch {
		col = "lower(" + col + ")"
		needle = strings.ToLower(needle)
	}
	switch op {
	case query.OpStartsWith:
		return fmt.Sprintf("substr(%s, 1, length(%s)) = %s", col, arg(needle), arg(needle))
	case query.OpEndsWith:
		return fmt.Sprintf("(length(%s) = 0 OR substr(%s, -length(%s)) = %s)", arg(needle), col, arg(needle), arg(needle))
	case query.OpSearch:
		words := strings.Fields(needle)
		if len(words) == 0 {
			return "1=1"
		}
		parts := make([]string, len(words))
		for i, w := range words {
			parts[i] = fmt.Sprintf("instr(%s, %s) > 0", col, arg(w))
		}
		return "(" + strings.Join(parts, " AND ") + ")"
	default:
		return fmt.Sprintf("instr(%s, %s) > 0", col, arg(needle))
	}
}

// ListMatch queries JSON arrays through json_each
func (SQLite) ListMatch(col string, f *schema.Field, op query.Operator, values []any, arg argFunc) string {
	in := func() string {
		marks := make([]string, len(values))
		for i, v := range values {
			marks[i] = arg(listElem(v))
		}
		return strings.Join(marks, ", ")
	}
	switch op {
	case query.OpHas:
		return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE json_each.value = %s)", col, arg(listElem(values[0])))
	case query.OpHasSome:
		if len(values) == 0 {
			return "1=0"
		}
		return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE json_each.value IN (%s))", col, in())
	case query.OpHasEvery:
		if len(values) == 0 {
			return "1=1"
		}
		distinct := map[string]bool{}
		for _, v := range values {
			distinct[fmt.Sprint(v)] = true
		}
		return fmt.Sprintf("(SELECT COUNT(DISTINCT json_each.value) FROM json_each(%s) WHERE json_each.value IN (%s)) = %d",
			col, in(), len(distinct))
	default:
		if empty, _ := values[0].(bool); empty {
			return fmt.Sprintf("COALESCE(json_array_length(%s), 0) = 0", col)
		}
		return fmt.Sprintf("COALESCE(json_array_length(%s), 0) > 0", col)
	}
}

// listElem converts a list element into the value json_each reports for it
func listElem(v any) any {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case decimal.Decimal:
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	}
	return v
}

// Encode stores lists and JSON values as JSON text
func (SQLite) Encode(f *schema.Field, v any) (any, error) {
	if f.Array && v != nil {
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("list value expected for %s", f.Name)
		}
		out := make([]any, len(items))
		for i, item := range items {
			switch x := item.(type) {
			case decimal.Decimal:
				out[i] = x.String()
			case time.Time:
				out[i] = x.UTC().Format(time.RFC3339Nano)
			default:
				out[i] = item
			}
		}
		b, err := json.Marshal(out)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return encodeScalar(f, v)
}

// DecodeList parses a JSON array column
func (SQLite) DecodeList(raw any) ([]any, error) {
	var data []byte
	switch x := raw.(type) {
	case nil:
		return nil, nil
	case string:
		data = []byte(x)
	case []byte:
		data = x
	default:
		return nil, fmt.Errorf("unexpected list column type %T", raw)
	}
	var out []any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []any{}
	}
	return out, nil
}

// ColumnType maps field types to SQLite affinities
func (SQLite) ColumnType(f *schema.Field) string {
	if f.Array {
		return "TEXT"
	}
	switch f.Type {
	case schema.TypeInt, schema.TypeBigInt:
		return "INTEGER"
	case schema.TypeFloat:
		return "REAL"
	case schema.TypeBool:
		return "BOOLEAN"
	case schema.TypeTimestamp:
		return "DATETIME"
	case schema.TypeBytes:
		return "BLOB"
	default:
		return "TEXT"
	}
}

// AutoIncrement uses a rowid alias
func (SQLite) AutoIncrement(*schema.Field) string {
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

func quoteAll(d Dialect, idents []string) string {
	out := make([]string, len(idents))
	for i, id := range idents {
		out[i] = d.Quote(id)
	}
	return strings.Join(out, ", ")
}
