package memstore

import (
	"time"

	"github.com/conduit-lang/restful/internal/orm/crud"
	"github.com/conduit-lang/restful/internal/orm/query"
	"github.com/conduit-lang/restful/internal/orm/schema"
	"github.com/google/uuid"
)

type writer struct {
	reader
	now func() time.Time
}

func (w *writer) create(m *schema.Model, pk *schema.Field, data map[string]any, rels map[string]crud.RelationWrite) (crud.Record, error) {
	row := make(crud.Record, len(m.Fields))
	if err := w.assign(m, row, data); err != nil {
		return nil, err
	}
	if err := w.applyDefaults(m, row, data); err != nil {
		return nil, err
	}
	if err := w.applyOwned(m, row, rels); err != nil {
		return nil, err
	}
	if err := w.checkRow(m, pk, row, -1); err != nil {
		return nil, err
	}

	table := m.TableName()
	w.st.tables[table] = append(w.st.tables[table], row)

	if err := w.applyInverse(m, row[pk.Name], rels); err != nil {
		return nil, err
	}
	return row, nil
}

func (w *writer) update(m *schema.Model, pk *schema.Field, where query.Filter, data map[string]any, rels map[string]crud.RelationWrite) (crud.Record, error) {
	idx, current, err := w.first(m, where)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, crud.NotFound("Record to update not found.")
	}

	row := make(crud.Record, len(current))
	for k, v := range current {
		row[k] = v
	}
	if err := w.assign(m, row, data); err != nil {
		return nil, err
	}
	if err := w.applyOwned(m, row, rels); err != nil {
		return nil, err
	}
	if !equalValues(row[pk.Name], current[pk.Name]) {
		if field, ok := w.referencedBy(m, current[pk.Name]); ok {
			return nil, crud.Known(crud.CodeForeignKeyViolation, "Foreign key constraint failed on the field: `%s`", field)
		}
	}
	if err := w.checkRow(m, pk, row, idx); err != nil {
		return nil, err
	}

	w.st.tables[m.TableName()][idx] = row

	if err := w.applyInverse(m, row[pk.Name], rels); err != nil {
		return nil, err
	}
	return row, nil
}

func (w *writer) delete(m *schema.Model, pk *schema.Field, where query.Filter) (crud.Record, error) {
	idx, row, err := w.first(m, where)
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
				if err := w.releaseReferences(rel, id); err != nil {
					return nil, err
				}
			case rel.Kind == schema.ManyToMany && rel.Source == m:
				w.removeLinks(rel, id, nil)
			}
		}
	}

	table := m.TableName()
	rows := w.st.tables[table]
	w.st.tables[table] = append(rows[:idx:idx], rows[idx+1:]...)
	return row, nil
}

// first returns the index and row of the first match in table order
func (w *writer) first(m *schema.Model, where query.Filter) (int, crud.Record, error) {
	for i, row := range w.rows(m) {
		ok, err := w.match(m, row, where)
		if err != nil {
			return -1, nil, err
		}
		if ok {
			return i, row, nil
		}
	}
	return -1, nil, nil
}

// assign normalizes data into row
func (w *writer) assign(m *schema.Model, row crud.Record, data map[string]any) error {
	for name, v := range data {
		f, ok := m.Field(name)
		if !ok || f.IsRelation() {
			return crud.Validation("unknown argument %q on %s", name, m.Name)
		}
		n, err := schema.NormalizeField(f, v)
		if err != nil {
			return &crud.RequestError{Kind: crud.KindValidation, Message: err.Error(), Err: err}
		}
		row[name] = n
	}
	return nil
}

func (w *writer) applyDefaults(m *schema.Model, row crud.Record, data map[string]any) error {
	table := m.TableName()
	for _, f := range m.ScalarFields() {
		if v, given := data[f.Name]; given {
			if f.Default == schema.DefaultAutoIncrement {
				if n, ok := row[f.Name].(int64); ok && n > w.st.seq[table] {
					w.st.seq[table] = n
				}
			}
			if v != nil {
				continue
			}
		}
		switch f.Default {
		case "":
		case schema.DefaultAutoIncrement:
			w.st.seq[table]++
			row[f.Name] = w.st.seq[table]
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

// checkRow enforces required fields, unique fields and outgoing foreign keys.
// skip is the row's own index when updating.
func (w *writer) checkRow(m *schema.Model, pk *schema.Field, row crud.Record, skip int) error {
	for _, f := range m.ScalarFields() {
		if !f.Optional && row[f.Name] == nil {
			return crud.Known(crud.CodeNullViolation, "Null constraint violation on the fields: (`%s`)", f.Name)
		}
	}

	for _, f := range m.ScalarFields() {
		if f != pk && !f.Unique {
			continue
		}
		v := row[f.Name]
		if v == nil {
			continue
		}
		for i, other := range w.rows(m) {
			if i != skip && equalValues(other[f.Name], v) {
				return crud.Known(crud.CodeUniqueViolation, "Unique constraint failed on the fields: (`%s`)", f.Name)
			}
		}
	}

	for _, f := range m.RelationFields() {
		rel, err := w.meta.Relation(m.Name, f.Name)
		if err != nil {
			return crud.Validation("%v", err)
		}
		if rel.Kind != schema.BelongsTo || row[rel.ForeignKey.Name] == nil {
			continue
		}
		targetPK, err := rel.Target.PrimaryKey()
		if err != nil {
			return crud.Validation("%v", err)
		}
		if _, target := w.findByID(rel.Target, targetPK, row[rel.ForeignKey.Name]); target == nil {
			return crud.Known(crud.CodeForeignKeyViolation, "Foreign key constraint failed on the field: `%s`", rel.ForeignKey.Name)
		}
	}
	return nil
}

// applyOwned applies writes to relations whose key lives on the row itself
func (w *writer) applyOwned(m *schema.Model, row crud.Record, rels map[string]crud.RelationWrite) error {
	for name, rw := range rels {
		rel, err := w.meta.Relation(m.Name, name)
		if err != nil {
			return crud.Validation("%v", err)
		}
		if rel.Kind != schema.BelongsTo {
			continue
		}

		ids, err := w.targetIDs(rel, rw.IDs)
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

		if err := w.mustExist(rel, ids[0]); err != nil {
			return err
		}
		row[rel.ForeignKey.Name] = ids[0]
	}
	return nil
}

// applyInverse applies writes to relations stored on other rows
func (w *writer) applyInverse(m *schema.Model, id any, rels map[string]crud.RelationWrite) error {
	for name, rw := range rels {
		rel, err := w.meta.Relation(m.Name, name)
		if err != nil {
			return crud.Validation("%v", err)
		}
		if rel.Kind == schema.BelongsTo {
			continue
		}

		ids, err := w.targetIDs(rel, rw.IDs)
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
				err = w.unlinkInverse(rel, id, in(ids))
			case rw.Op == crud.Disconnect || len(ids) == 0:
				err = w.unlinkInverse(rel, id, all)
			default:
				if err = w.unlinkInverse(rel, id, notIn(ids)); err == nil {
					err = w.linkInverse(rel, id, ids)
				}
			}
			if err != nil {
				return err
			}

		case schema.HasMany:
			switch rw.Op {
			case crud.Connect:
				err = w.linkInverse(rel, id, ids)
			case crud.Disconnect:
				err = w.unlinkInverse(rel, id, in(ids))
			case crud.Set:
				if err = w.unlinkInverse(rel, id, notIn(ids)); err == nil {
					err = w.linkInverse(rel, id, ids)
				}
			}
			if err != nil {
				return err
			}

		case schema.ManyToMany:
			switch rw.Op {
			case crud.Connect:
				err = w.addLinks(rel, id, ids)
			case crud.Disconnect:
				w.removeLinks(rel, id, ids)
			case crud.Set:
				w.removeLinks(rel, id, nil)
				err = w.addLinks(rel, id, ids)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// linkInverse points the foreign key of each target at id
func (w *writer) linkInverse(rel *schema.Relation, id any, ids []any) error {
	targetPK, err := rel.Target.PrimaryKey()
	if err != nil {
		return crud.Validation("%v", err)
	}
	table := rel.Target.TableName()
	for _, tid := range ids {
		idx, target := w.findByID(rel.Target, targetPK, tid)
		if target == nil {
			return connectNotFound(rel)
		}
		updated := cloneRecord(target)
		updated[rel.ForeignKey.Name] = id
		w.st.tables[table][idx] = updated
	}
	return nil
}

// unlinkInverse clears the foreign key of the targets pointing at id that
// the release function selects
func (w *writer) unlinkInverse(rel *schema.Relation, id any, release func(tid any) bool) error {
	targetPK, err := rel.Target.PrimaryKey()
	if err != nil {
		return crud.Validation("%v", err)
	}
	table := rel.Target.TableName()
	for i, target := range w.st.tables[table] {
		if !equalValues(target[rel.ForeignKey.Name], id) || !release(target[targetPK.Name]) {
			continue
		}
		if !rel.ForeignKey.Optional {
			return requiredRelation(rel)
		}
		updated := cloneRecord(target)
		updated[rel.ForeignKey.Name] = nil
		w.st.tables[table][i] = updated
	}
	return nil
}

func all(any) bool { return true }

func in(ids []any) func(any) bool {
	return func(tid any) bool { return containsValue(ids, tid) }
}

func notIn(ids []any) func(any) bool {
	return func(tid any) bool { return !containsValue(ids, tid) }
}

func (w *writer) addLinks(rel *schema.Relation, id any, ids []any) error {
	for _, tid := range ids {
		if err := w.mustExist(rel, tid); err != nil {
			return err
		}
		exists := false
		for _, link := range w.st.tables[rel.Through.Table] {
			if equalValues(link[rel.Through.Source], id) && equalValues(link[rel.Through.Target], tid) {
				exists = true
				break
			}
		}
		if !exists {
			w.st.tables[rel.Through.Table] = append(w.st.tables[rel.Through.Table], crud.Record{
				rel.Through.Source: id,
				rel.Through.Target: tid,
			})
		}
	}
	return nil
}

// removeLinks deletes join rows of id, limited to ids when it is non-nil
func (w *writer) removeLinks(rel *schema.Relation, id any, ids []any) {
	links := w.st.tables[rel.Through.Table]
	kept := make([]crud.Record, 0, len(links))
	for _, link := range links {
		if equalValues(link[rel.Through.Source], id) && (ids == nil || containsValue(ids, link[rel.Through.Target])) {
			continue
		}
		kept = append(kept, link)
	}
	w.st.tables[rel.Through.Table] = kept
}

// releaseReferences nulls or rejects foreign keys pointing at a deleted row
func (w *writer) releaseReferences(rel *schema.Relation, id any) error {
	table := rel.Source.TableName()
	for i, row := range w.st.tables[table] {
		if !equalValues(row[rel.ForeignKey.Name], id) {
			continue
		}
		if !rel.ForeignKey.Optional {
			return crud.Known(crud.CodeForeignKeyViolation, "Foreign key constraint failed on the field: `%s`", rel.ForeignKey.Name)
		}
		updated := cloneRecord(row)
		updated[rel.ForeignKey.Name] = nil
		w.st.tables[table][i] = updated
	}
	return nil
}

// referencedBy reports a foreign key or join table still pointing at id
func (w *writer) referencedBy(m *schema.Model, id any) (string, bool) {
	for _, other := range w.meta.Models() {
		for _, f := range other.RelationFields() {
			rel, err := w.meta.Relation(other.Name, f.Name)
			if err != nil {
				continue
			}
			switch {
			case rel.Kind == schema.BelongsTo && rel.Target == m:
				for _, row := range w.rows(other) {
					if equalValues(row[rel.ForeignKey.Name], id) {
						return rel.ForeignKey.Name, true
					}
				}
			case rel.Kind == schema.ManyToMany && rel.Source == m:
				for _, link := range w.st.tables[rel.Through.Table] {
					if equalValues(link[rel.Through.Source], id) {
						return rel.Through.Source, true
					}
				}
			}
		}
	}
	return "", false
}

func (w *writer) mustExist(rel *schema.Relation, id any) error {
	targetPK, err := rel.Target.PrimaryKey()
	if err != nil {
		return crud.Validation("%v", err)
	}
	if _, target := w.findByID(rel.Target, targetPK, id); target == nil {
		return connectNotFound(rel)
	}
	return nil
}

// targetIDs normalizes identifiers of the related model
func (w *writer) targetIDs(rel *schema.Relation, ids []any) ([]any, error) {
	targetPK, err := rel.Target.PrimaryKey()
	if err != nil {
		return nil, crud.Validation("%v", err)
	}
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		n, err := schema.Normalize(targetPK.Type, id)
		if err != nil {
			return nil, &crud.RequestError{Kind: crud.KindValidation, Message: err.Error(), Err: err}
		}
		out = append(out, n)
	}
	return out, nil
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

func cloneRecord(r crud.Record) crud.Record {
	out := make(crud.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if equalValues(item, v) {
			return true
		}
	}
	return false
}
