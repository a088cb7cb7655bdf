package schema

import (
	"errors"
	"fmt"

	strutil "github.com/conduit-lang/restful/internal/util/strings"
)

var (
	// ErrUnknownModel is returned when a model name is not declared
	ErrUnknownModel = errors.New("unknown model")
	// ErrUnknownField is returned when a field name is not declared on a model
	ErrUnknownField = errors.New("unknown field")
	// ErrNoID is returned for models without an identifier field
	ErrNoID = errors.New("model has no id field")
	// ErrMultiID is returned for models with more than one identifier field
	ErrMultiID = errors.New("model has multiple id fields")
)

// Meta is the immutable set of models and their resolved relations. It is
// built once and shared by every request.
type Meta struct {
	models    map[string]*Model
	order     []*Model
	relations map[string]map[string]*Relation
}

// ModelKey returns the lookup key for a model name. Keys ignore the case of
// the first letter so that "User" and "user" address the same model.
func ModelKey(name string) string {
	return strutil.LowerFirst(name)
}

// NewMeta indexes the models and resolves every relation field
func NewMeta(models []*Model) (*Meta, error) {
	m := &Meta{
		models:    make(map[string]*Model, len(models)),
		relations: make(map[string]map[string]*Relation, len(models)),
	}

	for _, model := range models {
		if model.Name == "" {
			return nil, errors.New("model without a name")
		}
		key := ModelKey(model.Name)
		if _, exists := m.models[key]; exists {
			return nil, fmt.Errorf("model %s is declared twice", model.Name)
		}

		model.index = make(map[string]*Field, len(model.Fields))
		for _, f := range model.Fields {
			if f.Name == "" {
				return nil, fmt.Errorf("model %s has a field without a name", model.Name)
			}
			if _, exists := model.index[f.Name]; exists {
				return nil, fmt.Errorf("field %s.%s is declared twice", model.Name, f.Name)
			}
			if !f.IsRelation() {
				t, err := ParsePrimitiveType(f.TypeName)
				if err != nil {
					return nil, fmt.Errorf("field %s.%s: %w", model.Name, f.Name, err)
				}
				f.Type = t
			}
			model.index[f.Name] = f
		}

		m.models[key] = model
		m.order = append(m.order, model)
	}

	for _, model := range m.order {
		rels := make(map[string]*Relation)
		for _, f := range model.RelationFields() {
			rel, err := m.resolve(model, f)
			if err != nil {
				return nil, err
			}
			rels[f.Name] = rel
		}
		m.relations[ModelKey(model.Name)] = rels
	}

	return m, nil
}

// Model looks up a model by name
func (m *Meta) Model(name string) (*Model, bool) {
	model, ok := m.models[ModelKey(name)]
	return model, ok
}

// MustModel looks up a model by name and returns ErrUnknownModel when it is
// not declared
func (m *Meta) MustModel(name string) (*Model, error) {
	model, ok := m.Model(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return model, nil
}

// Models returns the models in declaration order
func (m *Meta) Models() []*Model {
	out := make([]*Model, len(m.order))
	copy(out, m.order)
	return out
}

// Relation returns the resolved relation for a model's relation field
func (m *Meta) Relation(model, field string) (*Relation, error) {
	rels, ok := m.relations[ModelKey(model)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	rel, ok := rels[field]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s is not a relation", ErrUnknownField, model, field)
	}
	return rel, nil
}

func (m *Meta) resolve(source *Model, f *Field) (*Relation, error) {
	target, ok := m.Model(f.Model)
	if !ok {
		return nil, fmt.Errorf("relation %s.%s: %w: %s", source.Name, f.Name, ErrUnknownModel, f.Model)
	}

	rel := &Relation{Field: f, Source: source, Target: target}

	switch {
	case f.ForeignKey != "":
		fk, ok := source.Field(f.ForeignKey)
		if !ok || fk.IsRelation() {
			return nil, fmt.Errorf("relation %s.%s: foreign key %s is not a scalar field", source.Name, f.Name, f.ForeignKey)
		}
		if f.Array {
			return nil, fmt.Errorf("relation %s.%s: a foreign key relation cannot be a list", source.Name, f.Name)
		}
		rel.Kind = BelongsTo
		rel.ForeignKey = fk

	case f.Through != nil:
		if f.Through.Table == "" || f.Through.Source == "" || f.Through.Target == "" {
			return nil, fmt.Errorf("relation %s.%s: through needs table, source and target", source.Name, f.Name)
		}
		rel.Kind = ManyToMany
		rel.Through = f.Through

	case f.BackLink != "":
		back, ok := target.Field(f.BackLink)
		if !ok || !back.IsRelation() || ModelKey(back.Model) != ModelKey(source.Name) {
			return nil, fmt.Errorf("relation %s.%s: back link %s.%s does not point back", source.Name, f.Name, target.Name, f.BackLink)
		}
		switch {
		case back.ForeignKey != "":
			fk, ok := target.Field(back.ForeignKey)
			if !ok || fk.IsRelation() {
				return nil, fmt.Errorf("relation %s.%s: foreign key %s.%s is not a scalar field", source.Name, f.Name, target.Name, back.ForeignKey)
			}
			rel.ForeignKey = fk
			if f.Array {
				rel.Kind = HasMany
			} else {
				rel.Kind = HasOne
			}
		case back.Through != nil:
			if !f.Array {
				return nil, fmt.Errorf("relation %s.%s: many-to-many side must be a list", source.Name, f.Name)
			}
			rel.Kind = ManyToMany
			rel.Through = &Through{
				Table:  back.Through.Table,
				Source: back.Through.Target,
				Target: back.Through.Source,
			}
		default:
			return nil, fmt.Errorf("relation %s.%s: back link %s.%s has no foreign key or join table", source.Name, f.Name, target.Name, f.BackLink)
		}

	default:
		return nil, fmt.Errorf("relation %s.%s needs foreign_key, back_link or through", source.Name, f.Name)
	}

	return rel, nil
}

// Optional reports whether the relation may be left empty
func (r *Relation) Optional() bool {
	if r.IsCollection() {
		return true
	}
	if r.Kind == BelongsTo {
		return r.Field.Optional || r.ForeignKey.Optional
	}
	return r.Field.Optional
}
