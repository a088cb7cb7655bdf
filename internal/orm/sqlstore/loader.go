package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/conduit-lang/restful/internal/orm/crud"
	"github.com/conduit-lang/restful/internal/orm/query"
	"github.com/conduit-lang/restful/internal/orm/schema"
	"go.uber.org/zap"
)

// parentKey carries the owning record's id on rows loaded for an include
const parentKey = "__parent"

// loader runs reads and loads included relations in one query per relation
// and nesting level
type loader struct {
	meta    *schema.Meta
	dialect Dialect
	logger  *zap.Logger
	q       Querier
}

// find loads the rows of m matching args with their includes and counts
func (l *loader) find(ctx context.Context, m *schema.Model, args query.FindArgs) ([]crud.Record, error) {
	c := newCompiler(l.meta, l.dialect)
	fields := m.ScalarFields()
	stmt, err := c.selectSQL(m, fields, args)
	if err != nil {
		return nil, err
	}
	recs, err := l.query(ctx, stmt, c.args, fields)
	if err != nil {
		return nil, err
	}
	if err := l.load(ctx, m, recs, args.Include, args.Count); err != nil {
		return nil, err
	}
	return recs, nil
}

func (l *loader) count(ctx context.Context, m *schema.Model, where query.Filter) (int64, error) {
	c := newCompiler(l.meta, l.dialect)
	stmt, err := c.countSQL(m, where)
	if err != nil {
		return 0, err
	}
	l.logger.Debug("count", zap.String("sql", stmt), zap.Int("args", len(c.args)))

	var n int64
	if err := l.q.QueryRowContext(ctx, stmt, c.args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// query runs stmt and decodes each row into a record keyed by field name
func (l *loader) query(ctx context.Context, stmt string, args []any, fields []*schema.Field) ([]crud.Record, error) {
	l.logger.Debug("query", zap.String("sql", stmt), zap.Int("args", len(args)))

	rows, err := l.q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []crud.Record
	for rows.Next() {
		raw := make([]any, len(fields))
		dest := make([]any, len(fields))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rec := make(crud.Record, len(fields))
		for i, f := range fields {
			v, err := l.decode(f, raw[i])
			if err != nil {
				return nil, err
			}
			rec[f.Name] = v
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return recs, nil
}

// decode converts a scanned column into the field's normalized value
func (l *loader) decode(f *schema.Field, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if f.Array {
		items, err := l.dialect.DecodeList(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", f.Name, err)
		}
		raw = items
	} else if f.Type == schema.TypeJSON {
		var data []byte
		switch x := raw.(type) {
		case string:
			data = []byte(x)
		case []byte:
			data = x
		}
		if data != nil {
			var v any
			if err := json.Unmarshal(data, &v); err != nil {
				return nil, fmt.Errorf("failed to decode %s: %w", f.Name, err)
			}
			return v, nil
		}
	}
	v, err := schema.NormalizeField(f, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", f.Name, err)
	}
	return v, nil
}

// load attaches included relations and relation counts to recs
func (l *loader) load(ctx context.Context, m *schema.Model, recs []crud.Record, include map[string]*query.Include, count map[string]query.Filter) error {
	if len(recs) == 0 {
		return nil
	}

	for _, name := range sortedKeys(include) {
		inc := include[name]
		if inc == nil {
			inc = &query.Include{}
		}
		rel, err := l.meta.Relation(m.Name, name)
		if err != nil {
			return crud.Validation("%v", err)
		}
		if rel.Kind == schema.BelongsTo {
			err = l.loadBelongsTo(ctx, rel, recs, inc)
		} else {
			err = l.loadChildren(ctx, rel, recs, inc)
		}
		if err != nil {
			return err
		}
	}

	if len(count) > 0 {
		for _, rec := range recs {
			rec[crud.CountKey] = make(map[string]int64, len(count))
		}
		for _, name := range sortedKeys(count) {
			if err := l.loadCount(ctx, m, name, count[name], recs); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadBelongsTo resolves the foreign keys of recs with a single IN query
func (l *loader) loadBelongsTo(ctx context.Context, rel *schema.Relation, recs []crud.Record, inc *query.Include) error {
	targetPK, err := rel.Target.PrimaryKey()
	if err != nil {
		return crud.Validation("%v", err)
	}
	fk := rel.ForeignKey.Name

	if inc.IDOnly && inc.Where == nil {
		for _, rec := range recs {
			if rec[fk] == nil {
				rec[rel.Field.Name] = nil
				continue
			}
			rec[rel.Field.Name] = crud.Record{targetPK.Name: rec[fk]}
		}
		return nil
	}

	keys := distinct(recs, fk)
	found := make(map[string]crud.Record, len(keys))
	if len(keys) > 0 {
		args := query.FindArgs{
			Where:   query.AndOf(query.Cond{Field: targetPK.Name, Op: query.OpIn, Value: keys}, inc.Where),
			Include: inc.Include,
			Count:   inc.Count,
		}
		var targets []crud.Record
		if inc.IDOnly {
			c := newCompiler(l.meta, l.dialect)
			fields := []*schema.Field{targetPK}
			stmt, err := c.selectSQL(rel.Target, fields, args)
			if err != nil {
				return err
			}
			targets, err = l.query(ctx, stmt, c.args, fields)
			if err != nil {
				return err
			}
		} else {
			targets, err = l.find(ctx, rel.Target, args)
			if err != nil {
				return err
			}
		}
		for _, t := range targets {
			found[keyOf(t[targetPK.Name])] = t
		}
	}

	for _, rec := range recs {
		if t, ok := found[keyOf(rec[fk])]; ok && rec[fk] != nil {
			rec[rel.Field.Name] = t
		} else {
			rec[rel.Field.Name] = nil
		}
	}
	return nil
}

// loadChildren loads has-one, has-many and many-to-many relations. Rows
// come back ordered and tagged with their parent id. The include window is
// applied per parent.
func (l *loader) loadChildren(ctx context.Context, rel *schema.Relation, recs []crud.Record, inc *query.Include) error {
	sourcePK, err := rel.Source.PrimaryKey()
	if err != nil {
		return crud.Validation("%v", err)
	}
	targetPK, err := rel.Target.PrimaryKey()
	if err != nil {
		return crud.Validation("%v", err)
	}

	parents := distinct(recs, sourcePK.Name)
	groups := make(map[string][]crud.Record, len(parents))

	if len(parents) > 0 {
		fields := rel.Target.ScalarFields()
		if inc.IDOnly {
			fields = []*schema.Field{targetPK}
		}

		ids, err := l.encodeAll(sourcePK, parents)
		if err != nil {
			return err
		}
		c := newCompiler(l.meta, l.dialect)
		parentExpr, from := l.childSource(c, rel)
		stmt := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IN (%s)",
			parentExpr, c.columns("t0", fields), from, parentExpr, c.list(ids))
		where, err := c.where(rel.Target, "t0", inc.Where)
		if err != nil {
			return err
		}
		if where != "" {
			stmt += " AND (" + where + ")"
		}
		order, err := c.orderBy(rel.Target, "t0", inc.OrderBy)
		if err != nil {
			return err
		}
		stmt += order

		parentField := &schema.Field{Name: parentKey, Type: sourcePK.Type}
		rows, err := l.query(ctx, stmt, c.args, append([]*schema.Field{parentField}, fields...))
		if err != nil {
			return err
		}
		for _, row := range rows {
			k := keyOf(row[parentKey])
			delete(row, parentKey)
			groups[k] = append(groups[k], row)
		}
	}

	var kept []crud.Record
	for k, rows := range groups {
		start, end := inc.Window(len(rows))
		groups[k] = rows[start:end]
		kept = append(kept, groups[k]...)
	}
	if !inc.IDOnly {
		if err := l.load(ctx, rel.Target, kept, inc.Include, inc.Count); err != nil {
			return err
		}
	}

	for _, rec := range recs {
		rows := groups[keyOf(rec[sourcePK.Name])]
		if rel.IsCollection() {
			if rows == nil {
				rows = []crud.Record{}
			}
			rec[rel.Field.Name] = rows
		} else if len(rows) > 0 {
			rec[rel.Field.Name] = rows[0]
		} else {
			rec[rel.Field.Name] = nil
		}
	}
	return nil
}

// childSource returns the expression holding the parent id and the FROM
// clause of a to-many or has-one relation's target, aliased as t0
func (l *loader) childSource(c *compiler, rel *schema.Relation) (string, string) {
	if rel.Kind == schema.ManyToMany {
		targetPK, _ := rel.Target.PrimaryKey()
		j := "j0"
		from := fmt.Sprintf("%s t0 JOIN %s %s ON %s = %s",
			c.table(rel.Target), l.dialect.Quote(rel.Through.Table), j,
			c.column(j, rel.Through.Target), c.col("t0", targetPK))
		return c.column(j, rel.Through.Source), from
	}
	return c.col("t0", rel.ForeignKey), c.table(rel.Target) + " t0"
}

// loadCount counts related rows per record with one grouped query
func (l *loader) loadCount(ctx context.Context, m *schema.Model, name string, where query.Filter, recs []crud.Record) error {
	rel, err := l.meta.Relation(m.Name, name)
	if err != nil {
		return crud.Validation("%v", err)
	}
	if !rel.IsCollection() {
		return crud.Validation("cannot count to-one relation %s.%s", m.Name, name)
	}
	sourcePK, err := m.PrimaryKey()
	if err != nil {
		return crud.Validation("%v", err)
	}

	parents := distinct(recs, sourcePK.Name)
	counts := make(map[string]int64, len(parents))
	if len(parents) > 0 {
		ids, err := l.encodeAll(sourcePK, parents)
		if err != nil {
			return err
		}
		c := newCompiler(l.meta, l.dialect)
		parentExpr, from := l.childSource(c, rel)
		stmt := fmt.Sprintf("SELECT %s, COUNT(*) FROM %s WHERE %s IN (%s)",
			parentExpr, from, parentExpr, c.list(ids))
		w, err := c.where(rel.Target, "t0", where)
		if err != nil {
			return err
		}
		if w != "" {
			stmt += " AND (" + w + ")"
		}
		stmt += " GROUP BY " + parentExpr
		l.logger.Debug("count relation", zap.String("sql", stmt), zap.Int("args", len(c.args)))

		rows, err := l.q.QueryContext(ctx, stmt, c.args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				raw any
				n   int64
			)
			if err := rows.Scan(&raw, &n); err != nil {
				return fmt.Errorf("failed to scan count: %w", err)
			}
			id, err := schema.Normalize(sourcePK.Type, raw)
			if err != nil {
				return err
			}
			counts[keyOf(id)] = n
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating rows: %w", err)
		}
	}

	for _, rec := range recs {
		rec.Counts()[name] = counts[keyOf(rec[sourcePK.Name])]
	}
	return nil
}

func (l *loader) encodeAll(f *schema.Field, values []any) ([]any, error) {
	out := make([]any, len(values))
	for i, v := range values {
		enc, err := l.dialect.Encode(f, v)
		if err != nil {
			return nil, err
		}
		out[i] = enc
	}
	return out, nil
}

// distinct returns the non-nil values of field across recs, in order
func distinct(recs []crud.Record, field string) []any {
	seen := make(map[string]bool, len(recs))
	out := make([]any, 0, len(recs))
	for _, rec := range recs {
		v := rec[field]
		if v == nil {
			continue
		}
		k := keyOf(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}

func keyOf(v any) string {
	return fmt.Sprintf("%T:%v", v, v)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
