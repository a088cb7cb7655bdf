package memstore

import (
	"sort"
	"strings"

	"github.com/conduit-lang/restful/internal/orm/crud"
	"github.com/conduit-lang/restful/internal/orm/query"
	"github.com/conduit-lang/restful/internal/orm/schema"
)

type reader struct {
	meta *schema.Meta
	st   *state
}

func (r *reader) rows(m *schema.Model) []crud.Record {
	return r.st.tables[m.TableName()]
}

func (r *reader) findByID(m *schema.Model, pk *schema.Field, id any) (int, crud.Record) {
	for i, row := range r.rows(m) {
		if equalValues(row[pk.Name], id) {
			return i, row
		}
	}
	return -1, nil
}

// selectRows filters, orders and windows rows
func (r *reader) selectRows(m *schema.Model, rows []crud.Record, args query.FindArgs) ([]crud.Record, error) {
	matched := make([]crud.Record, 0, len(rows))
	for _, row := range rows {
		ok, err := r.match(m, row, args.Where)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, row)
		}
	}

	if err := r.sortRows(m, matched, args.OrderBy); err != nil {
		return nil, err
	}

	start, end := args.Window(len(matched))
	return matched[start:end], nil
}

func (r *reader) sortRows(m *schema.Model, rows []crud.Record, orderBy []query.OrderBy) error {
	pk, err := m.PrimaryKey()
	if err != nil {
		return crud.Validation("%v", err)
	}

	keys := make([][]any, len(rows))
	for i, row := range rows {
		k := make([]any, 0, len(orderBy)+1)
		for _, o := range orderBy {
			v, err := r.sortValue(m, row, o.Path)
			if err != nil {
				return err
			}
			k = append(k, v)
		}
		keys[i] = append(k, row[pk.Name])
	}

	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ka, kb := keys[idx[a]], keys[idx[b]]
		for i := range ka {
			c := compareNullable(ka[i], kb[i])
			if i < len(orderBy) && orderBy[i].Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})

	sorted := make([]crud.Record, len(rows))
	for i, j := range idx {
		sorted[i] = rows[j]
	}
	copy(rows, sorted)
	return nil
}

func (r *reader) sortValue(m *schema.Model, row crud.Record, path []string) (any, error) {
	switch len(path) {
	case 1:
		f, ok := m.Field(path[0])
		if !ok || f.IsRelation() {
			return nil, crud.Validation("cannot order %s by %q", m.Name, path[0])
		}
		return row[f.Name], nil
	case 2:
		rel, err := r.meta.Relation(m.Name, path[0])
		if err != nil {
			return nil, crud.Validation("%v", err)
		}
		if rel.IsCollection() {
			return nil, crud.Validation("cannot order %s by to-many relation %q", m.Name, path[0])
		}
		related := r.related(rel, row)
		if len(related) == 0 {
			return nil, nil
		}
		return r.sortValue(rel.Target, related[0], path[1:])
	default:
		return nil, crud.Validation("invalid order path %q", strings.Join(path, "."))
	}
}

// match evaluates a filter against one row
func (r *reader) match(m *schema.Model, row crud.Record, f query.Filter) (bool, error) {
	switch f := f.(type) {
	case nil:
		return true, nil

	case query.And:
		for _, child := range f {
			ok, err := r.match(m, row, child)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case query.Or:
		for _, child := range f {
			ok, err := r.match(m, row, child)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case query.Not:
		ok, err := r.match(m, row, f.Filter)
		return !ok, err

	case query.Cond:
		field, ok := m.Field(f.Field)
		if !ok || field.IsRelation() {
			return false, crud.Validation("unknown field %s.%s", m.Name, f.Field)
		}
		return evalCond(field, row[field.Name], f)

	case query.Relation:
		rel, err := r.meta.Relation(m.Name, f.Name)
		if err != nil {
			return false, crud.Validation("%v", err)
		}
		return r.matchRelation(rel, row, f)

	default:
		return false, crud.Validation("unsupported filter %T", f)
	}
}

func (r *reader) matchRelation(rel *schema.Relation, row crud.Record, f query.Relation) (bool, error) {
	related := r.related(rel, row)

	matching := 0
	for _, rr := range related {
		ok, err := r.match(rel.Target, rr, f.Where)
		if err != nil {
			return false, err
		}
		if ok {
			matching++
		}
	}

	switch f.Quantifier {
	case query.Some, query.Is:
		return matching > 0, nil
	case query.Every:
		return matching == len(related), nil
	case query.None, query.IsNot:
		return matching == 0, nil
	default:
		return false, crud.Validation("unsupported quantifier %s", f.Quantifier)
	}
}

// related returns the rows reached from row through rel
func (r *reader) related(rel *schema.Relation, row crud.Record) []crud.Record {
	targetPK, err := rel.Target.PrimaryKey()
	if err != nil && rel.Kind != schema.HasOne && rel.Kind != schema.HasMany {
		return nil
	}

	switch rel.Kind {
	case schema.BelongsTo:
		fk := row[rel.ForeignKey.Name]
		if fk == nil {
			return nil
		}
		if _, target := r.findByID(rel.Target, targetPK, fk); target != nil {
			return []crud.Record{target}
		}
		return nil

	case schema.HasOne, schema.HasMany:
		sourcePK, err := rel.Source.PrimaryKey()
		if err != nil {
			return nil
		}
		id := row[sourcePK.Name]
		var out []crud.Record
		for _, target := range r.rows(rel.Target) {
			if equalValues(target[rel.ForeignKey.Name], id) {
				out = append(out, target)
			}
		}
		return out

	case schema.ManyToMany:
		sourcePK, err := rel.Source.PrimaryKey()
		if err != nil {
			return nil
		}
		id := row[sourcePK.Name]
		var ids []any
		for _, link := range r.st.tables[rel.Through.Table] {
			if equalValues(link[rel.Through.Source], id) {
				ids = append(ids, link[rel.Through.Target])
			}
		}
		var out []crud.Record
		for _, target := range r.rows(rel.Target) {
			for _, tid := range ids {
				if equalValues(target[targetPK.Name], tid) {
					out = append(out, target)
					break
				}
			}
		}
		return out
	}
	return nil
}

// project copies a row and loads the requested relations and counts
func (r *reader) project(m *schema.Model, row crud.Record, include map[string]*query.Include, count map[string]query.Filter) (crud.Record, error) {
	out := make(crud.Record, len(row)+len(include)+1)
	for _, f := range m.ScalarFields() {
		out[f.Name] = copyValue(row[f.Name])
	}

	for name, inc := range include {
		if inc == nil {
			inc = &query.Include{}
		}
		rel, err := r.meta.Relation(m.Name, name)
		if err != nil {
			return nil, crud.Validation("%v", err)
		}
		targetPK, err := rel.Target.PrimaryKey()
		if err != nil {
			return nil, crud.Validation("%v", err)
		}

		rows, err := r.selectRows(rel.Target, r.related(rel, row), inc.FindArgs)
		if err != nil {
			return nil, err
		}

		loaded := make([]crud.Record, 0, len(rows))
		for _, rr := range rows {
			if inc.IDOnly {
				loaded = append(loaded, crud.Record{targetPK.Name: rr[targetPK.Name]})
				continue
			}
			rec, err := r.project(rel.Target, rr, inc.Include, inc.Count)
			if err != nil {
				return nil, err
			}
			loaded = append(loaded, rec)
		}

		if rel.IsCollection() {
			out[name] = loaded
		} else if len(loaded) > 0 {
			out[name] = loaded[0]
		} else {
			out[name] = nil
		}
	}

	if len(count) > 0 {
		counts := make(map[string]int64, len(count))
		for name, where := range count {
			rel, err := r.meta.Relation(m.Name, name)
			if err != nil {
				return nil, crud.Validation("%v", err)
			}
			if !rel.IsCollection() {
				return nil, crud.Validation("cannot count to-one relation %s.%s", m.Name, name)
			}
			var n int64
			for _, rr := range r.related(rel, row) {
				ok, err := r.match(rel.Target, rr, where)
				if err != nil {
					return nil, err
				}
				if ok {
					n++
				}
			}
			counts[name] = n
		}
		out[crud.CountKey] = counts
	}

	return out, nil
}
