package rest

import (
	"errors"
	"sort"

	"github.com/conduit-lang/restful/internal/orm/schema"
	"go.uber.org/zap"
)

// RelationshipInfo describes a relationship exposed by a resource type
type RelationshipInfo struct {
	Name         string
	Type         string
	IDField      *schema.Field
	IsCollection bool
	IsOptional   bool

	target   *ModelInfo
	relation *schema.Relation
}

// ModelInfo describes a resource type
type ModelInfo struct {
	// Type is the name used in URLs and in the "type" member of resources
	Type          string
	Model         *schema.Model
	IDField       *schema.Field
	Fields        map[string]*schema.Field
	Relationships map[string]*RelationshipInfo

	skipped map[string]error
}

// Relationship looks up a relationship by name. The error tells apart
// undeclared relationships from ones the registry refused to expose.
func (m *ModelInfo) Relationship(name string) (*RelationshipInfo, *apiError) {
	if rel, ok := m.Relationships[name]; ok {
		return rel, nil
	}
	if err, ok := m.skipped[name]; ok {
		return nil, errorf(ErrInvalidRelation, "relationship %s of %s: %v", name, m.Type, err)
	}
	return nil, errorf(ErrUnsupportedRelationship, "relationship %s is not supported for %s", name, m.Type)
}

// field resolves a field name, mapping "id" to the identifier field
func (m *ModelInfo) field(name string) (*schema.Field, bool) {
	if name == "id" {
		return m.IDField, true
	}
	f, ok := m.Fields[name]
	return f, ok
}

// relationshipNames returns the relationship names in sorted order
func (m *ModelInfo) relationshipNames() []string {
	names := make([]string, 0, len(m.Relationships))
	for name := range m.Relationships {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry maps resource type names to their model info. It is built once
// and only read afterwards.
type Registry struct {
	types   map[string]*ModelInfo
	byModel map[string]*ModelInfo
	skipped map[string]error
}

// BuildRegistry derives the resource types from the schema. Models without
// exactly one identifier field, and relationships to such models, are
// skipped with a warning. typeName maps a model name to its external type
// name.
func BuildRegistry(meta *schema.Meta, typeName func(model string) string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if typeName == nil {
		typeName = schema.ModelKey
	}

	r := &Registry{
		types:   make(map[string]*ModelInfo),
		byModel: make(map[string]*ModelInfo),
		skipped: make(map[string]error),
	}

	for _, m := range meta.Models() {
		name := typeName(m.Name)
		pk, err := m.PrimaryKey()
		if err != nil {
			logger.Warn("model is not exposed",
				zap.String("model", m.Name),
				zap.Error(err))
			r.skipped[name] = err
			continue
		}

		info := &ModelInfo{
			Type:          name,
			Model:         m,
			IDField:       pk,
			Fields:        make(map[string]*schema.Field, len(m.Fields)),
			Relationships: make(map[string]*RelationshipInfo),
			skipped:       make(map[string]error),
		}
		for _, f := range m.Fields {
			info.Fields[f.Name] = f
		}
		r.types[name] = info
		r.byModel[schema.ModelKey(m.Name)] = info
	}

	for _, m := range meta.Models() {
		info, ok := r.byModel[schema.ModelKey(m.Name)]
		if !ok {
			continue
		}
		for _, f := range m.RelationFields() {
			rel, err := meta.Relation(info.Model.Name, f.Name)
			if err != nil {
				logger.Warn("relationship is not exposed",
					zap.String("model", info.Model.Name),
					zap.String("field", f.Name),
					zap.Error(err))
				info.skipped[f.Name] = err
				continue
			}
			target, ok := r.byModel[schema.ModelKey(rel.Target.Name)]
			if !ok {
				_, err := rel.Target.PrimaryKey()
				if err == nil {
					err = errors.New("target model is not exposed")
				}
				logger.Warn("relationship is not exposed",
					zap.String("model", info.Model.Name),
					zap.String("field", f.Name),
					zap.Error(err))
				info.skipped[f.Name] = err
				continue
			}
			info.Relationships[f.Name] = &RelationshipInfo{
				Name:         f.Name,
				Type:         target.Type,
				IDField:      target.IDField,
				IsCollection: rel.IsCollection(),
				IsOptional:   rel.Optional(),
				target:       target,
				relation:     rel,
			}
		}
	}

	return r
}

// Lookup returns the info of a resource type. When the type names a model
// the registry refused to expose, the returned error says why.
func (r *Registry) Lookup(typ string) (*ModelInfo, error) {
	if info, ok := r.types[typ]; ok {
		return info, nil
	}
	if err, ok := r.skipped[typ]; ok {
		return nil, err
	}
	return nil, schema.ErrUnknownModel
}

// ForModel returns the info of the resource type backed by a model
func (r *Registry) ForModel(model string) (*ModelInfo, bool) {
	info, ok := r.byModel[schema.ModelKey(model)]
	return info, ok
}

// Types returns the exposed type names in sorted order
func (r *Registry) Types() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Skipped returns the models the registry refused to expose, keyed by
// type name, with the reason
func (r *Registry) Skipped() map[string]error {
	out := make(map[string]error, len(r.skipped))
	for typ, err := range r.skipped {
		out[typ] = err
	}
	return out
}
