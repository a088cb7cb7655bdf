package rest

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/conduit-lang/restful/internal/orm/query"
	"github.com/conduit-lang/restful/internal/orm/schema"
)

var (
	// filterPattern matches filter[a], filter[a][b$op], ...
	filterPattern = regexp.MustCompile(`^filter(\[[^\[\]]+\])+$`)
	// segmentPattern extracts the bracketed segments of a filter key
	segmentPattern = regexp.MustCompile(`\[([^\[\]]+)\]`)
	// fieldsPattern matches fields[type]
	fieldsPattern = regexp.MustCompile(`^fields\[([^\[\]]+)\]$`)
)

// filterOps maps the operator suffixes of filter keys. icontains is
// contains with Insensitive set.
var filterOps = map[string]query.Operator{
	"lt":         query.OpLt,
	"lte":        query.OpLte,
	"gt":         query.OpGt,
	"gte":        query.OpGte,
	"contains":   query.OpContains,
	"icontains":  query.OpContains,
	"search":     query.OpSearch,
	"startsWith": query.OpStartsWith,
	"endsWith":   query.OpEndsWith,
	"has":        query.OpHas,
	"hasEvery":   query.OpHasEvery,
	"hasSome":    query.OpHasSome,
	"isEmpty":    query.OpIsEmpty,
}

// buildFilter compiles every filter[...] parameter into one AND tree.
// Keys are visited in sorted order and each repeated value adds a term.
func buildFilter(info *ModelInfo, q url.Values) (query.Filter, *apiError) {
	keys := make([]string, 0)
	for key := range q {
		if filterPattern.MatchString(key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var terms []query.Filter
	for _, key := range keys {
		var segs []string
		for _, m := range segmentPattern.FindAllStringSubmatch(key, -1) {
			segs = append(segs, m[1])
		}
		for _, value := range q[key] {
			term, err := filterPath(info, segs, value)
			if err != nil {
				return nil, err
			}
			terms = append(terms, term)
		}
	}
	return query.AndOf(terms...), nil
}

// filterPath compiles one filter key. Every segment but the last must be a
// relationship; to-many hops become "some", to-one hops "is".
func filterPath(info *ModelInfo, segs []string, value string) (query.Filter, *apiError) {
	name, opName := splitOp(segs[0])
	if opName != "" {
		if _, ok := filterOps[opName]; !ok {
			return nil, errorf(ErrInvalidFilter, "unsupported filter operator %q", opName)
		}
	}

	if rel, ok := info.Relationships[name]; ok {
		if opName != "" {
			return nil, errorf(ErrInvalidFilter, "operator %q cannot be applied to relationship %s", opName, name)
		}
		if len(segs) == 1 {
			return relationFilter(rel, value)
		}
		inner, err := filterPath(rel.target, segs[1:], value)
		if err != nil {
			return nil, err
		}
		quantifier := query.Is
		if rel.IsCollection {
			quantifier = query.Some
		}
		return query.Relation{Name: name, Quantifier: quantifier, Where: inner}, nil
	}

	f, ok := info.field(name)
	if !ok || f.IsRelation() {
		return nil, errorf(ErrInvalidFilter, "unknown filter field %q", name)
	}
	if len(segs) > 1 {
		return nil, errorf(ErrInvalidFilter, "%s is not a relationship", name)
	}
	return scalarFilter(f, opName, value)
}

func splitOp(seg string) (string, string) {
	if pos := strings.Index(seg, "$"); pos > 0 {
		return seg[:pos], seg[pos+1:]
	}
	return seg, ""
}

// relationFilter matches related records by identifier. A to-many filter
// takes a comma separated list and matches when any related id is listed.
func relationFilter(rel *RelationshipInfo, value string) (query.Filter, *apiError) {
	idName := rel.IDField.Name
	if !rel.IsCollection {
		id, err := coerce(rel.IDField, value)
		if err != nil {
			return nil, err
		}
		return query.Relation{Name: rel.Name, Quantifier: query.Is, Where: query.Eq(idName, id)}, nil
	}

	values := splitList(value)
	if len(values) == 0 {
		return nil, errorf(ErrInvalidValue, "no identifier given for %s", rel.Name)
	}
	terms := make([]query.Filter, 0, len(values))
	for _, v := range values {
		id, err := coerce(rel.IDField, v)
		if err != nil {
			return nil, err
		}
		terms = append(terms, query.Eq(idName, id))
	}
	return query.Relation{Name: rel.Name, Quantifier: query.Some, Where: query.OrOf(terms...)}, nil
}

func scalarFilter(f *schema.Field, opName, value string) (query.Filter, *apiError) {
	if opName == "" {
		if f.Array {
			return nil, errorf(ErrInvalidFilter, "list field %s needs one of has, hasEvery, hasSome or isEmpty", f.Name)
		}
		v, err := coerce(f, value)
		if err != nil {
			return nil, err
		}
		return query.Eq(f.Name, v), nil
	}

	op := filterOps[opName]
	if op.IsListOp() != f.Array {
		return nil, errorf(ErrInvalidFilter, "operator %s cannot be applied to field %s", opName, f.Name)
	}
	if op.IsStringOp() && f.Type != schema.TypeString && f.Type != schema.TypeEnum {
		return nil, errorf(ErrInvalidFilter, "operator %s needs a text field, %s is %s", opName, f.Name, f.Type)
	}

	switch op {
	case query.OpIsEmpty:
		switch value {
		case "true":
			return query.Cond{Field: f.Name, Op: op, Value: true}, nil
		case "false":
			return query.Cond{Field: f.Name, Op: op, Value: false}, nil
		}
		return nil, errorf(ErrInvalidValue, "isEmpty expects true or false, got %q", value)

	case query.OpHasSome, query.OpHasEvery:
		items := splitList(value)
		values := make([]any, 0, len(items))
		for _, item := range items {
			v, err := coerce(f, item)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		return query.Cond{Field: f.Name, Op: op, Value: values}, nil
	}

	v, err := coerce(f, value)
	if err != nil {
		return nil, err
	}
	return query.Cond{Field: f.Name, Op: op, Value: v, Insensitive: opName == "icontains"}, nil
}

// buildSort compiles sort parameters into one ordered list. Repeated sort
// parameters append in the order given.
func buildSort(info *ModelInfo, q url.Values) ([]query.OrderBy, *apiError) {
	var out []query.OrderBy
	for _, value := range q["sort"] {
		for _, spec := range strings.Split(value, ",") {
			spec = strings.TrimSpace(spec)
			if spec == "" {
				continue
			}
			desc := strings.HasPrefix(spec, "-")
			path := splitPath(strings.TrimPrefix(spec, "-"))
			if len(path) == 0 {
				return nil, errorf(ErrInvalidSort, "empty sort field")
			}
			resolved, err := sortPath(info, path)
			if err != nil {
				return nil, err
			}
			out = append(out, query.OrderBy{Path: resolved, Desc: desc})
		}
	}
	return out, nil
}

// sortPath resolves a sort field: a scalar, a to-one relationship (sorted by
// its id), or a scalar or to-one relationship id of a to-one relationship.
func sortPath(info *ModelInfo, path []string) ([]string, *apiError) {
	if len(path) > 2 {
		return nil, errorf(ErrInvalidSort, "sort field %s crosses more than one relationship", strings.Join(path, "."))
	}

	name := path[0]
	if rel, ok := info.Relationships[name]; ok {
		if rel.IsCollection {
			return nil, errorf(ErrInvalidSort, "cannot sort by to-many relationship %s", name)
		}
		if len(path) == 1 {
			return []string{name, rel.IDField.Name}, nil
		}
		f, ok := rel.target.field(path[1])
		if !ok || f.IsRelation() {
			return nil, errorf(ErrInvalidSort, "cannot sort by %s.%s", name, path[1])
		}
		if f.Array {
			return nil, errorf(ErrInvalidSort, "cannot sort by list field %s.%s", name, f.Name)
		}
		return []string{name, f.Name}, nil
	}

	f, ok := info.field(name)
	if !ok || f.IsRelation() {
		return nil, errorf(ErrInvalidSort, "cannot sort by %s", name)
	}
	if len(path) > 1 {
		return nil, errorf(ErrInvalidSort, "%s is not a relationship", name)
	}
	if f.Array {
		return nil, errorf(ErrInvalidSort, "cannot sort by list field %s", name)
	}
	return []string{f.Name}, nil
}

// includeTree is the parsed include parameter: relationship name to nested
// includes
type includeTree map[string]includeTree

// buildInclude parses include=a,b.c into a tree, checking every hop
func buildInclude(info *ModelInfo, q url.Values) (includeTree, *apiError) {
	tree := includeTree{}
	for _, value := range q["include"] {
		for _, spec := range strings.Split(value, ",") {
			path := splitPath(spec)
			cur, curInfo := tree, info
			for _, name := range path {
				rel, err := curInfo.Relationship(name)
				if err != nil {
					return nil, err
				}
				next, ok := cur[name]
				if !ok {
					next = includeTree{}
					cur[name] = next
				}
				cur, curInfo = next, rel.target
			}
		}
	}
	return tree, nil
}

// includeArgs loads every relationship of info: the identifiers only, or
// whole records with their own relationships when the tree includes it
func includeArgs(info *ModelInfo, tree includeTree) map[string]*query.Include {
	out := make(map[string]*query.Include, len(info.Relationships))
	for name, rel := range info.Relationships {
		sub, ok := tree[name]
		if !ok {
			out[name] = query.IDs()
			continue
		}
		out[name] = &query.Include{FindArgs: query.FindArgs{Include: includeArgs(rel.target, sub)}}
	}
	return out
}

// parseFields reads fields[type]=a,b parameters
func parseFields(q url.Values) map[string]map[string]bool {
	out := make(map[string]map[string]bool)
	for key, values := range q {
		m := fieldsPattern.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		set := out[m[1]]
		if set == nil {
			set = make(map[string]bool)
			out[m[1]] = set
		}
		for _, v := range values {
			for _, name := range splitList(v) {
				set[name] = true
			}
		}
	}
	return out
}

// pagination reads page[offset] and page[limit]. The last value of a
// repeated parameter wins.
func (h *Handler) pagination(q url.Values) (offset, limit int) {
	if v := lastValue(q, "page[offset]"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			offset = n
		}
	}

	limit = h.pageSize
	if v := lastValue(q, "page[limit]"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 && n < limit {
			limit = n
		}
	}
	return offset, limit
}

// coerce converts a query or path string to the field's canonical value
func coerce(f *schema.Field, s string) (any, *apiError) {
	elem := *f
	elem.Array = false
	v, err := schema.NormalizeField(&elem, s)
	if err != nil {
		return nil, errorf(ErrInvalidValue, "invalid value %q for %s (%s)", s, f.Name, f.Type)
	}
	return v, nil
}

func lastValue(q url.Values, key string) string {
	values := q[key]
	if len(values) == 0 {
		return ""
	}
	return values[len(values)-1]
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func splitPath(s string) []string {
	var out []string
	for _, item := range strings.Split(strings.TrimSpace(s), ".") {
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
