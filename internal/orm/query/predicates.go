// Package query defines the store-independent read arguments: filter trees,
// orderings, relation includes and pagination windows.
package query

import (
	"fmt"
	"strings"
)

// Operator represents a comparison operator
type Operator int

const (
	OpEquals Operator = iota
	OpIn
	OpLt
	OpLte
	OpGt
	OpGte
	OpContains
	OpSearch
	OpStartsWith
	OpEndsWith
	OpHas
	OpHasEvery
	OpHasSome
	OpIsEmpty
)

// String returns the string representation of the operator
func (o Operator) String() string {
	switch o {
	case OpEquals:
		return "equals"
	case OpIn:
		return "in"
	case OpLt:
		return "lt"
	case OpLte:
		return "lte"
	case OpGt:
		return "gt"
	case OpGte:
		return "gte"
	case OpContains:
		return "contains"
	case OpSearch:
		return "search"
	case OpStartsWith:
		return "startsWith"
	case OpEndsWith:
		return "endsWith"
	case OpHas:
		return "has"
	case OpHasEvery:
		return "hasEvery"
	case OpHasSome:
		return "hasSome"
	case OpIsEmpty:
		return "isEmpty"
	default:
		return "unknown"
	}
}

// IsStringOp reports whether the operator only applies to text fields
func (o Operator) IsStringOp() bool {
	switch o {
	case OpContains, OpSearch, OpStartsWith, OpEndsWith:
		return true
	}
	return false
}

// IsListOp reports whether the operator only applies to list fields
func (o Operator) IsListOp() bool {
	switch o {
	case OpHas, OpHasEvery, OpHasSome, OpIsEmpty:
		return true
	}
	return false
}

// Filter is a node of a WHERE tree. Filters are immutable values; builders
// return new trees instead of editing existing ones.
type Filter interface {
	fmt.Stringer
	filter()
}

// And matches when every child matches. An empty And matches everything.
type And []Filter

// Or matches when any child matches. An empty Or matches nothing.
type Or []Filter

// Not negates its child
type Not struct {
	Filter Filter
}

// Cond compares a scalar field against a value. Values are already
// normalized to the field type; OpIn, OpHasEvery and OpHasSome carry []any
// and OpIsEmpty carries a bool.
type Cond struct {
	Field       string
	Op          Operator
	Value       any
	Insensitive bool
}

// Quantifier selects how a relation filter treats related records
type Quantifier int

const (
	// Some matches when at least one related record matches
	Some Quantifier = iota
	// Every matches when all related records match
	Every
	// None matches when no related record matches
	None
	// Is matches when the related record exists and matches
	Is
	// IsNot matches when the related record is absent or does not match
	IsNot
)

// String returns the string representation of the quantifier
func (q Quantifier) String() string {
	switch q {
	case Some:
		return "some"
	case Every:
		return "every"
	case None:
		return "none"
	case Is:
		return "is"
	case IsNot:
		return "isNot"
	default:
		return "unknown"
	}
}

// Relation applies a filter to the records reached through a relation field.
// A nil Where matches any related record.
type Relation struct {
	Name       string
	Quantifier Quantifier
	Where      Filter
}

func (And) filter()      {}
func (Or) filter()       {}
func (Not) filter()      {}
func (Cond) filter()     {}
func (Relation) filter() {}

func (a And) String() string { return joinFilters("AND", a) }
func (o Or) String() string  { return joinFilters("OR", o) }

func (n Not) String() string {
	return fmt.Sprintf("NOT (%s)", n.Filter)
}

func (c Cond) String() string {
	op := c.Op.String()
	if c.Insensitive {
		op = "i" + op
	}
	return fmt.Sprintf("%s %s %v", c.Field, op, c.Value)
}

func (r Relation) String() string {
	if r.Where == nil {
		return fmt.Sprintf("%s %s (*)", r.Name, r.Quantifier)
	}
	return fmt.Sprintf("%s %s (%s)", r.Name, r.Quantifier, r.Where)
}

func joinFilters(sep string, fs []Filter) string {
	parts := make([]string, 0, len(fs))
	for _, f := range fs {
		parts = append(parts, "("+f.String()+")")
	}
	return strings.Join(parts, " "+sep+" ")
}

// Eq builds an equality condition
func Eq(field string, value any) Cond {
	return Cond{Field: field, Op: OpEquals, Value: value}
}

// AndOf combines filters with AND, dropping nils and collapsing single
// children. It returns nil when nothing is left.
func AndOf(filters ...Filter) Filter {
	out := make(And, 0, len(filters))
	for _, f := range filters {
		if f == nil {
			continue
		}
		if nested, ok := f.(And); ok {
			out = append(out, nested...)
			continue
		}
		out = append(out, f)
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return out
	}
}

// OrOf combines filters with OR, collapsing a single child
func OrOf(filters ...Filter) Filter {
	if len(filters) == 1 {
		return filters[0]
	}
	out := make(Or, len(filters))
	copy(out, filters)
	return out
}
