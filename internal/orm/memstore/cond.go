package memstore

import (
	"strings"

	"github.com/conduit-lang/restful/internal/orm/crud"
	"github.com/conduit-lang/restful/internal/orm/query"
	"github.com/conduit-lang/restful/internal/orm/schema"
)

// evalCond evaluates a scalar condition against a stored value
func evalCond(f *schema.Field, v any, c query.Cond) (bool, error) {
	if c.Op.IsListOp() && !f.Array {
		return false, crud.Validation("operator %s needs a list field, %s is not", c.Op, f.Name)
	}

	switch c.Op {
	case query.OpEquals:
		want, err := normalizeOperand(f, c.Value, f.Array)
		if err != nil {
			return false, err
		}
		if c.Insensitive {
			s, ok1 := v.(string)
			w, ok2 := want.(string)
			return ok1 && ok2 && strings.EqualFold(s, w), nil
		}
		return equalValues(v, want), nil

	case query.OpIn:
		items, err := normalizeList(f, c.Value)
		if err != nil {
			return false, err
		}
		for _, item := range items {
			if equalValues(v, item) {
				return true, nil
			}
		}
		return false, nil

	case query.OpLt, query.OpLte, query.OpGt, query.OpGte:
		if v == nil {
			return false, nil
		}
		want, err := normalizeOperand(f, c.Value, false)
		if err != nil {
			return false, err
		}
		cmp, ok := compareValues(v, want)
		if !ok {
			return false, nil
		}
		switch c.Op {
		case query.OpLt:
			return cmp < 0, nil
		case query.OpLte:
			return cmp <= 0, nil
		case query.OpGt:
			return cmp > 0, nil
		default:
			return cmp >= 0, nil
		}

	case query.OpContains, query.OpStartsWith, query.OpEndsWith, query.OpSearch:
		s, ok := v.(string)
		if !ok {
			return false, nil
		}
		needle, ok := c.Value.(string)
		if !ok {
			return false, crud.Validation("operator %s needs a string value", c.Op)
		}
		if c.Insensitive || c.Op == query.OpSearch {
			s = strings.ToLower(s)
			needle = strings.ToLower(needle)
		}
		switch c.Op {
		case query.OpContains:
			return strings.Contains(s, needle), nil
		case query.OpStartsWith:
			return strings.HasPrefix(s, needle), nil
		case query.OpEndsWith:
			return strings.HasSuffix(s, needle), nil
		default:
			for _, word := range strings.Fields(needle) {
				if !strings.Contains(s, word) {
					return false, nil
				}
			}
			return true, nil
		}

	case query.OpHas:
		want, err := normalizeOperand(f, c.Value, false)
		if err != nil {
			return false, err
		}
		return listContains(v, want), nil

	case query.OpHasEvery, query.OpHasSome:
		items, err := normalizeList(f, c.Value)
		if err != nil {
			return false, err
		}
		every := c.Op == query.OpHasEvery
		for _, item := range items {
			has := listContains(v, item)
			if every && !has {
				return false, nil
			}
			if !every && has {
				return true, nil
			}
		}
		return every, nil

	case query.OpIsEmpty:
		want, ok := c.Value.(bool)
		if !ok {
			return false, crud.Validation("isEmpty needs a boolean value")
		}
		list, _ := v.([]any)
		return (len(list) == 0) == want, nil
	}

	return false, crud.Validation("unsupported operator %s", c.Op)
}

func normalizeOperand(f *schema.Field, v any, list bool) (any, error) {
	var (
		n   any
		err error
	)
	if list {
		n, err = schema.NormalizeField(f, v)
	} else {
		n, err = schema.Normalize(f.Type, v)
	}
	if err != nil {
		return nil, &crud.RequestError{Kind: crud.KindValidation, Message: err.Error(), Err: err}
	}
	return n, nil
}

func normalizeList(f *schema.Field, v any) ([]any, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, crud.Validation("operator on %s needs a list value", f.Name)
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		n, err := normalizeOperand(f, item, false)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func listContains(list, want any) bool {
	items, _ := list.([]any)
	for _, item := range items {
		if equalValues(item, want) {
			return true
		}
	}
	return false
}
