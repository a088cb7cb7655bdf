package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/conduit-lang/restful/internal/orm/crud"
	"github.com/conduit-lang/restful/internal/orm/query"
	"github.com/conduit-lang/restful/internal/orm/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// writer runs the statements of one write inside a transaction
type writer struct {
	*loader
	now func() time.Time
}

func (w *writer) exec(ctx context.Context, stmt string, args ...any) (int64, error) {
	w.logger.Debug("exec", zap.String("sql", stmt), zap.Int("args", len(args)))
	res, err := w.q.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (w *writer) create(ctx context.Context, m *schema.Model, pk *schema.Field, data map[string]any, rels map[string]crud.RelationWrite) (any, error) {
	row, err := w.assign(m, data)
	if err != nil {
		return nil, err
	}
	if err := w.applyDefaults(m, row); err != nil {
		return nil, err
	}
	if err := w.applyOwned(ctx, m, row, rels); err != nil {
		return nil, err
	}
	for _, f := range m.ScalarFields() {
		if !f.Optional && row[f.Name] == nil && f.Default != schema.DefaultAutoIncrement {
			return nil, crud.Known(crud.CodeNullViolation, "Null constraint violation on the fields: (`%s`)", f.Name)
		}
	}

	id, err := w.insert(ctx, m, pk, row)
	if err != nil {
		return nil, err
	}
	if err := w.applyInverse(ctx, m, id, rels); err != nil {
		return nil, err
	}
	return id, nil
}

// insert writes row and returns the stored primary key
func (w *writer) insert(ctx context.Context, m *schema.Model, pk *schema.Field, row crud.Record) (any, error) {
	c := newCompiler(w.meta, w.dialect)
	var cols, marks []string
	for _, f := range m.ScalarFields() {
		v, ok := row[f.Name]
		if !ok || (v == nil && f.Default == schema.DefaultAutoIncrement) {
			continue
		}
		enc, err := w.dialect.Encode(f, v)
		if err != nil {
			return nil, crud.Validation("%s.%s: %v", m.Name, f.Name, err)
		}
		cols = append(cols, w.dialect.Quote(f.ColumnName()))
		marks = append(marks, c.arg(enc))
	}

	var stmt string
	if len(cols) == 0 {
		stmt = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", c.table(m))
	} else {
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			c.table(m), strings.Join(cols, ", "), strings.Join(marks, ", "))
	}
	stmt += " RETURNING " + w.dialect.Quote(pk.ColumnName())
	w.logger.Debug("insert", zap.String("sql", stmt), zap.Int("args", len(c.args)))

	var raw any
	if err := w.q.QueryRowContext(ctx, stmt, c.args...).Scan(&raw); err != nil {
		return nil, err
	}
	return schema.Normalize(pk.Type, raw)
}

func (w *writer) update(ctx context.Context, m *schema.Model, pk *schema.Field, where query.Filter, data map[string]any, rels map[string]crud.RelationWrite) (any, error) {
	current, err := w.first(ctx, m, []*schema.Field{pk}, where)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, crud.NotFound("Record to update not found.")
	}
	id := current[pk.Name]

	row, err := w.assign(m, data)
	if err != nil {
		return nil, err
	}
	if err := w.applyOwned(ctx, m, row, rels); err != nil {
		return nil, err
	}

	c := newCompiler(w.meta, w.dialect)
	var sets []string
	for _, f := range m.ScalarFields() {
		v, ok := row[f.Name]
		if !ok {
			continue
		}
		if v == nil && !f.Optional {
			return nil, crud.Known(crud.CodeNullViolation, "Null constraint violation on the fields: (`%s`)", f.Name)
		}
		enc, err := w.dialect.Encode(f, v)
		if err != nil {
			return nil, crud.Validation("%s.%s: %v", m.Name, f.Name, err)
		}
		sets = append(sets, w.dialect.Quote(f.ColumnName())+" = "+c.arg(enc))
	}
	if len(sets) > 0 {
		idArg, err := w.dialect.Encode(pk, id)
		if err != nil {
			return nil, err
		}
		stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
			c.table(m), strings.Join(sets, ", "), w.dialect.Quote(pk.ColumnName()), c.arg(idArg))
		if _, err := w.exec(ctx, stmt, c.args...); err != nil {
			return nil, err
		}
		if v, ok := row[pk.Name]; ok && v != nil {
			id = v
		}
	}

	if err := w.applyInverse(ctx, m, id, rels); err != nil {
		return nil, err
	}
	return id, nil
}

func (w *writer) delete(ctx context.Context, m *schema.Model, pk *schema.Field, where query.Filter) (crud.Record, error) {
	row, err := w.first(ctx, m, m.ScalarFields(), where)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, crud.NotFound("Record to delete does not exist.")
	}
	id := row[pk.Name]

	for _, other := range w.meta.Models() {
		for _, f := range other.RelationFields() {
			rel, err := w.meta.Relation(other.Name, f.Name)
			if err != nil {
				return nil, crud.Validation("%v", err)
			}
			switch {
			case rel.Kind == schema.BelongsTo && rel.Target == m:
				if err := w.releaseReferences(ctx, rel, id); err != nil {
					return nil, err
				}
			case rel.Kind == schema.ManyToMany && rel.Source == m:
				if err := w.removeLinks(ctx, rel, id, nil); err != nil {
					return nil, err
				}
			}
		}
	}

	if _, err := w.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		w.dialect.Quote(m.TableName()), w.dialect.Quote(pk.ColumnName()), w.dialect.Placeholder(1)), w.encode(pk, id)); err != nil {
		return nil, err
	}
	return row, nil
}

// reload reads back a written record with its includes
func (w *writer) reload(ctx context.Context, m *schema.Model, pk *schema.Field, id any, include map[string]*query.Include) (crud.Record, error) {
	recs, err := w.find(ctx, m, query.FindArgs{Where: query.Eq(pk.Name, id), Include: include, Take: 1})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, crud.NotFound("Record not found after write.")
	}
	return recs[0], nil
}

// first returns the first row of m matching where, ordered by primary key
func (w *writer) first(ctx context.Context, m *schema.Model, fields []*schema.Field, where query.Filter) (crud.Record, error) {
	c := newCompiler(w.meta, w.dialect)
	stmt, err := c.selectSQL(m, fields, query.FindArgs{Where: where, Take: 1})
	if err != nil {
		return nil, err
	}
	recs, err := w.query(ctx, stmt, c.args, fields)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

func (w *writer) encode(f *schema.Field, v any) any {
	enc, err := w.dialect.Encode(f, v)
	if err != nil {
		return v
	}
	return enc
}

// assign normalizes data into a new row
func (w *writer) assign(m *schema.Model, data map[string]any) (crud.Record, error) {
	row := make(crud.Record, len(data))
	for name, v := range data {
		f, ok := m.Field(name)
		if !ok || f.IsRelation() {
			return nil, crud.Validation("unknown argument %q on %s", name, m.Name)
		}
		n, err := schema.NormalizeField(f, v)
		if err != nil {
			return nil, validationError(err)
		}
		row[name] = n
	}
	return row, nil
}

// applyDefaults fills generated and literal defaults. Auto-increment keys
// are left to the database.
func (w *writer) applyDefaults(m *schema.Model, row crud.Record) error {
	for _, f := range m.ScalarFields() {
		if row[f.Name] != nil {
			continue
		}
		switch f.Default {
		case "", schema.DefaultAutoIncrement:
		case schema.DefaultUUID:
			row[f.Name] = uuid.NewString()
		case schema.DefaultNow:
			row[f.Name] = w.now().UTC()
		default:
			v, ok, err := f.LiteralDefault()
			if err != nil {
				return crud.Validation("default of %s.%s: %v", m.Name, f.Name, err)
			}
			if ok {
				row[f.Name] = v
			}
		}
	}
	return nil
}

// applyOwned applies writes to relations whose key lives on the row itself
func (w *writer) applyOwned(ctx context.Context, m *schema.Model, row crud.Record, rels map[string]crud.RelationWrite) error {
	for _, name := range sortedKeys(rels) {
		rw := rels[name]
		rel, err := w.meta.Relation(m.Name, name)
		if err != nil {
			return crud.Validation("%v", err)
		}
		if rel.Kind != schema.BelongsTo {
			continue
		}

		ids, err := targetIDs(rel, rw.IDs)
		if err != nil {
			return err
		}
		if len(ids) > 1 {
			return crud.Validation("relation %s.%s takes a single record", m.Name, name)
		}

		if len(ids) == 0 || rw.Op == crud.Disconnect {
			if !rel.Optional() {
				return requiredRelation(rel)
			}
			row[rel.ForeignKey.Name] = nil
			continue
		}

		if err := w.mustExist(ctx, rel, ids); err != nil {
			return err
		}
		row[rel.ForeignKey.Name] = ids[0]
	}
	return nil
}

// applyInverse applies writes to relations stored on other rows
func (w *writer) applyInverse(ctx context.Context, m *schema.Model, id any, rels map[string]crud.RelationWrite) error {
	for _, name := range sortedKeys(rels) {
		rw := rels[name]
		rel, err := w.meta.Relation(m.Name, name)
		if err != nil {
			return crud.Validation("%v", err)
		}
		if rel.Kind == schema.BelongsTo {
			continue
		}

		ids, err := targetIDs(rel, rw.IDs)
		if err != nil {
			return err
		}

		switch rel.Kind {
		case schema.HasOne:
			if len(ids) > 1 {
				return crud.Validation("relation %s.%s takes a single record", m.Name, name)
			}
			switch {
			case rw.Op == crud.Disconnect && len(ids) > 0:
				err = w.unlinkInverse(ctx, rel, id, ids, true)
			case rw.Op == crud.Disconnect || len(ids) == 0:
				err = w.unlinkInverse(ctx, rel, id, nil, false)
			default:
				if err = w.unlinkInverse(ctx, rel, id, ids, false); err == nil {
					err = w.linkInverse(ctx, rel, id, ids)
				}
			}

		case schema.HasMany:
			switch rw.Op {
			case crud.Connect:
				err = w.linkInverse(ctx, rel, id, ids)
			case crud.Disconnect:
				if len(ids) > 0 {
					err = w.unlinkInverse(ctx, rel, id, ids, true)
				}
			case crud.Set:
				if err = w.unlinkInverse(ctx, rel, id, ids, false); err == nil {
					err = w.linkInverse(ctx, rel, id, ids)
				}
			}

		case schema.ManyToMany:
			switch rw.Op {
			case crud.Connect:
				err = w.addLinks(ctx, rel, id, ids)
			case crud.Disconnect:
				if len(ids) > 0 {
					err = w.removeLinks(ctx, rel, id, ids)
				}
			case crud.Set:
				if err = w.removeLinks(ctx, rel, id, nil); err == nil {
					err = w.addLinks(ctx, rel, id, ids)
				}
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// linkInverse points the foreign key of each target at id
func (w *writer) linkInverse(ctx context.Context, rel *schema.Relation, id any, ids []any) error {
	if len(ids) == 0 {
		return nil
	}
	targetPK, _ := rel.Target.PrimaryKey()
	c := newCompiler(w.meta, w.dialect)
	stmt := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IN (%s)",
		c.table(rel.Target), w.dialect.Quote(rel.ForeignKey.ColumnName()), c.arg(w.encode(rel.ForeignKey, id)),
		w.dialect.Quote(targetPK.ColumnName()), c.list(w.encodeIDs(targetPK, ids)))
	n, err := w.exec(ctx, stmt, c.args...)
	if err != nil {
		return err
	}
	if n < int64(len(dedupe(ids))) {
		return connectNotFound(rel)
	}
	return nil
}

// unlinkInverse clears the foreign key of the targets pointing at id. With
// only set, the targets listed in ids are released. Otherwise every target
// except those in ids is.
func (w *writer) unlinkInverse(ctx context.Context, rel *schema.Relation, id any, ids []any, only bool) error {
	targetPK, _ := rel.Target.PrimaryKey()
	fkCol := w.dialect.Quote(rel.ForeignKey.ColumnName())

	c := newCompiler(w.meta, w.dialect)
	cond := fmt.Sprintf("%s = %s", fkCol, c.arg(w.encode(rel.ForeignKey, id)))
	switch {
	case only:
		cond += fmt.Sprintf(" AND %s IN (%s)", w.dialect.Quote(targetPK.ColumnName()), c.list(w.encodeIDs(targetPK, ids)))
	case len(ids) > 0:
		cond += fmt.Sprintf(" AND %s NOT IN (%s)", w.dialect.Quote(targetPK.ColumnName()), c.list(w.encodeIDs(targetPK, ids)))
	}

	if !rel.ForeignKey.Optional {
		var n int64
		stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", c.table(rel.Target), cond)
		if err := w.q.QueryRowContext(ctx, stmt, c.args...).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return requiredRelation(rel)
		}
		return nil
	}

	stmt := fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s", c.table(rel.Target), fkCol, cond)
	_, err := w.exec(ctx, stmt, c.args...)
	return err
}

func (w *writer) addLinks(ctx context.Context, rel *schema.Relation, id any, ids []any) error {
	if len(ids) == 0 {
		return nil
	}
	if err := w.mustExist(ctx, rel, ids); err != nil {
		return err
	}
	sourcePK, _ := rel.Source.PrimaryKey()
	targetPK, _ := rel.Target.PrimaryKey()
	stmt := w.dialect.InsertIgnore(rel.Through.Table,
		[]string{rel.Through.Source, rel.Through.Target},
		[]string{w.dialect.Placeholder(1), w.dialect.Placeholder(2)})
	for _, tid := range dedupe(ids) {
		if _, err := w.exec(ctx, stmt, w.encode(sourcePK, id), w.encode(targetPK, tid)); err != nil {
			return err
		}
	}
	return nil
}

// removeLinks deletes join rows of id, limited to ids when it is non-nil
func (w *writer) removeLinks(ctx context.Context, rel *schema.Relation, id any, ids []any) error {
	sourcePK, _ := rel.Source.PrimaryKey()
	targetPK, _ := rel.Target.PrimaryKey()
	c := newCompiler(w.meta, w.dialect)
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		w.dialect.Quote(rel.Through.Table), w.dialect.Quote(rel.Through.Source), c.arg(w.encode(sourcePK, id)))
	if ids != nil {
		stmt += fmt.Sprintf(" AND %s IN (%s)", w.dialect.Quote(rel.Through.Target), c.list(w.encodeIDs(targetPK, ids)))
	}
	_, err := w.exec(ctx, stmt, c.args...)
	return err
}

// releaseReferences nulls or rejects foreign keys pointing at a deleted row
func (w *writer) releaseReferences(ctx context.Context, rel *schema.Relation, id any) error {
	table := w.dialect.Quote(rel.Source.TableName())
	fkCol := w.dialect.Quote(rel.ForeignKey.ColumnName())
	arg := w.encode(rel.ForeignKey, id)

	if !rel.ForeignKey.Optional {
		var n int64
		stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s", table, fkCol, w.dialect.Placeholder(1))
		if err := w.q.QueryRowContext(ctx, stmt, arg).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return crud.Known(crud.CodeForeignKeyViolation, "Foreign key constraint failed on the field: `%s`", rel.ForeignKey.Name)
		}
		return nil
	}

	_, err := w.exec(ctx, fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s = %s",
		table, fkCol, fkCol, w.dialect.Placeholder(1)), arg)
	return err
}

// mustExist checks that every id names a row of the relation target
func (w *writer) mustExist(ctx context.Context, rel *schema.Relation, ids []any) error {
	targetPK, err := rel.Target.PrimaryKey()
	if err != nil {
		return crud.Validation("%v", err)
	}
	unique := dedupe(ids)
	c := newCompiler(w.meta, w.dialect)
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IN (%s)",
		c.table(rel.Target), w.dialect.Quote(targetPK.ColumnName()), c.list(w.encodeIDs(targetPK, unique)))

	var n int64
	if err := w.q.QueryRowContext(ctx, stmt, c.args...).Scan(&n); err != nil {
		return err
	}
	if n < int64(len(unique)) {
		return connectNotFound(rel)
	}
	return nil
}

func (w *writer) encodeIDs(f *schema.Field, ids []any) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = w.encode(f, id)
	}
	return out
}

// targetIDs normalizes identifiers of the related model
func targetIDs(rel *schema.Relation, ids []any) ([]any, error) {
	targetPK, err := rel.Target.PrimaryKey()
	if err != nil {
		return nil, crud.Validation("%v", err)
	}
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		n, err := schema.Normalize(targetPK.Type, id)
		if err != nil {
			return nil, validationError(err)
		}
		out = append(out, n)
	}
	return out, nil
}

func dedupe(ids []any) []any {
	seen := make(map[string]bool, len(ids))
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		k := keyOf(id)
		if !seen[k] {
			seen[k] = true
			out = append(out, id)
		}
	}
	return out
}

func connectNotFound(rel *schema.Relation) error {
	return crud.NotFound("No '%s' record was found for a nested connect on relation '%s' of '%s'.",
		rel.Target.Name, rel.Field.Name, rel.Source.Name)
}

func requiredRelation(rel *schema.Relation) error {
	return crud.Known(crud.CodeRequiredRelation,
		"The change you are trying to make would violate the required relation '%s' between the `%s` and `%s` models.",
		rel.Field.Name, rel.Source.Name, rel.Target.Name)
}
