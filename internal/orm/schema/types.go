// Package schema describes the data models served by the API: their scalar
// fields, identifier fields and the relations between them.
package schema

import (
	"fmt"
	"strings"

	"github.com/jinzhu/inflection"

	strutil "github.com/conduit-lang/restful/internal/util/strings"
)

// PrimitiveType represents the primitive kind of a scalar field
type PrimitiveType int

const (
	TypeString PrimitiveType = iota
	TypeInt
	TypeBigInt
	TypeFloat
	TypeDecimal
	TypeBool
	TypeTimestamp
	TypeUUID
	TypeJSON
	TypeBytes
	TypeEnum
)

// String returns the string representation of the primitive type
func (p PrimitiveType) String() string {
	switch p {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeBigInt:
		return "bigint"
	case TypeFloat:
		return "float"
	case TypeDecimal:
		return "decimal"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	case TypeUUID:
		return "uuid"
	case TypeJSON:
		return "json"
	case TypeBytes:
		return "bytes"
	case TypeEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// ParsePrimitiveType converts a string to a PrimitiveType. A few common
// aliases are accepted.
func ParsePrimitiveType(s string) (PrimitiveType, error) {
	switch strings.ToLower(s) {
	case "string", "text":
		return TypeString, nil
	case "int", "integer":
		return TypeInt, nil
	case "bigint":
		return TypeBigInt, nil
	case "float", "double":
		return TypeFloat, nil
	case "decimal":
		return TypeDecimal, nil
	case "bool", "boolean":
		return TypeBool, nil
	case "timestamp", "datetime":
		return TypeTimestamp, nil
	case "uuid":
		return TypeUUID, nil
	case "json":
		return TypeJSON, nil
	case "bytes":
		return TypeBytes, nil
	case "enum":
		return TypeEnum, nil
	default:
		return 0, fmt.Errorf("unknown primitive type: %s", s)
	}
}

// Default value generators understood by the stores
const (
	DefaultAutoIncrement = "autoincrement"
	DefaultUUID          = "uuid"
	DefaultNow           = "now"
)

// Through names the join table backing a many-to-many relation. Source is the
// column referencing the model declaring the field, Target the column
// referencing the related model.
type Through struct {
	Table  string `yaml:"table" json:"table"`
	Source string `yaml:"source" json:"source"`
	Target string `yaml:"target" json:"target"`
}

// Field is a scalar or relation field of a model
type Field struct {
	Name     string        `yaml:"name" json:"name"`
	TypeName string        `yaml:"type" json:"type,omitempty"`
	Type     PrimitiveType `yaml:"-" json:"-"`

	// Model is set on relation fields and names the related model
	Model      string   `yaml:"model" json:"model,omitempty"`
	ForeignKey string   `yaml:"foreign_key" json:"foreign_key,omitempty"`
	BackLink   string   `yaml:"back_link" json:"back_link,omitempty"`
	Through    *Through `yaml:"through" json:"through,omitempty"`

	ID       bool     `yaml:"id" json:"id,omitempty"`
	Array    bool     `yaml:"array" json:"array,omitempty"`
	Optional bool     `yaml:"optional" json:"optional,omitempty"`
	Unique   bool     `yaml:"unique" json:"unique,omitempty"`
	Default  string   `yaml:"default" json:"default,omitempty"`
	Column   string   `yaml:"column" json:"column,omitempty"`
	Validate string   `yaml:"validate" json:"validate,omitempty"`
	Values   []string `yaml:"values" json:"values,omitempty"`
}

// IsRelation reports whether the field references another model
func (f *Field) IsRelation() bool {
	return f.Model != ""
}

// ColumnName returns the database column backing a scalar field
func (f *Field) ColumnName() string {
	if f.Column != "" {
		return f.Column
	}
	return strutil.ToSnakeCase(f.Name)
}

// HasDefault reports whether the store can produce a value for the field
// when the caller omits it
func (f *Field) HasDefault() bool {
	return f.Default != ""
}

// LiteralDefault returns the field's default when it is a constant rather
// than one of the generators
func (f *Field) LiteralDefault() (any, bool, error) {
	switch f.Default {
	case "", DefaultAutoIncrement, DefaultUUID, DefaultNow:
		return nil, false, nil
	}
	if f.Array {
		return []any{}, true, nil
	}
	v, err := Normalize(f.Type, f.Default)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Model describes one data model
type Model struct {
	Name   string   `yaml:"name" json:"name"`
	Table  string   `yaml:"table" json:"table,omitempty"`
	Fields []*Field `yaml:"fields" json:"fields"`
	Deny   []string `yaml:"deny" json:"deny,omitempty"`

	index map[string]*Field
}

// TableName returns the table backing the model
func (m *Model) TableName() string {
	if m.Table != "" {
		return m.Table
	}
	return inflection.Plural(strutil.ToSnakeCase(m.Name))
}

// Field returns the named field
func (m *Model) Field(name string) (*Field, bool) {
	f, ok := m.index[name]
	return f, ok
}

// IDFields returns the identifier fields in declaration order
func (m *Model) IDFields() []*Field {
	var ids []*Field
	for _, f := range m.Fields {
		if f.ID && !f.IsRelation() {
			ids = append(ids, f)
		}
	}
	return ids
}

// PrimaryKey returns the single identifier field, or an error when the model
// declares none or several.
func (m *Model) PrimaryKey() (*Field, error) {
	ids := m.IDFields()
	switch len(ids) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNoID, m.Name)
	case 1:
		return ids[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrMultiID, m.Name)
	}
}

// ScalarFields returns the non-relation fields in declaration order
func (m *Model) ScalarFields() []*Field {
	var out []*Field
	for _, f := range m.Fields {
		if !f.IsRelation() {
			out = append(out, f)
		}
	}
	return out
}

// RelationFields returns the relation fields in declaration order
func (m *Model) RelationFields() []*Field {
	var out []*Field
	for _, f := range m.Fields {
		if f.IsRelation() {
			out = append(out, f)
		}
	}
	return out
}

// Denies reports whether the model's access rules reject the operation
func (m *Model) Denies(op string) bool {
	for _, d := range m.Deny {
		if strings.EqualFold(d, op) || d == "all" {
			return true
		}
	}
	return false
}

// RelationKind describes how a relation is stored
type RelationKind int

const (
	// BelongsTo relations store the foreign key on the declaring model
	BelongsTo RelationKind = iota
	// HasOne relations store the foreign key on the related model
	HasOne
	// HasMany relations store the foreign key on the related model
	HasMany
	// ManyToMany relations are stored in a join table
	ManyToMany
)

// String returns the string representation of the relation kind
func (k RelationKind) String() string {
	switch k {
	case BelongsTo:
		return "belongs_to"
	case HasOne:
		return "has_one"
	case HasMany:
		return "has_many"
	case ManyToMany:
		return "many_to_many"
	default:
		return "unknown"
	}
}

// Relation is a resolved relation field
type Relation struct {
	Kind   RelationKind
	Field  *Field
	Source *Model
	Target *Model

	// ForeignKey is the scalar field holding the reference. It lives on Source
	// for BelongsTo and on Target for HasOne and HasMany.
	ForeignKey *Field

	// Through is oriented from Source to Target for ManyToMany
	Through *Through
}

// IsCollection reports whether the relation yields many records
func (r *Relation) IsCollection() bool {
	return r.Kind == HasMany || r.Kind == ManyToMany
}
