package rest

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/conduit-lang/restful/internal/orm/crud"
	"github.com/conduit-lang/restful/internal/orm/schema"
	"github.com/conduit-lang/restful/internal/serialization"
)

// Version is the JSON:API version reported by every document
const Version = "1.1"

// Document is a JSON:API top-level document. Data holds a *Resource, a
// []*Resource, a *ResourceIdentifier, a []ResourceIdentifier or nil.
type Document struct {
	JSONAPI  *JSONAPIObject `json:"jsonapi,omitempty"`
	Data     any            `json:"data"`
	Included []*Resource    `json:"included,omitempty"`
	Links    *Links         `json:"links,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// JSONAPIObject describes the server's implementation
type JSONAPIObject struct {
	Version string `json:"version"`
}

// ResourceIdentifier identifies a resource
type ResourceIdentifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Resource is one serialized record
type Resource struct {
	Type          string                   `json:"type"`
	ID            string                   `json:"id"`
	Attributes    map[string]any           `json:"attributes,omitempty"`
	Relationships map[string]*Relationship `json:"relationships,omitempty"`
	Links         *Links                   `json:"links,omitempty"`
}

// Relationship is one member of a resource's relationships. Data is only
// emitted when HasData is set, so that an empty to-one relationship renders
// as null while an unloaded one renders no data member at all.
type Relationship struct {
	Links   *Links
	Data    any
	HasData bool
}

// MarshalJSON implements json.Marshaler
func (r Relationship) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 2)
	if r.Links != nil {
		out["links"] = r.Links
	}
	if r.HasData {
		out["data"] = r.Data
	}
	return json.Marshal(out)
}

// Links holds self/related links and, for paginated documents, the
// navigation links. Prev and Next render as null when absent.
type Links struct {
	Self    string
	Related string
	First   string
	Last    string
	Prev    *string
	Next    *string

	paginated bool
}

// Paginated reports whether the links carry page navigation
func (l Links) Paginated() bool {
	return l.paginated
}

// MarshalJSON implements json.Marshaler
func (l Links) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 6)
	if l.Self != "" {
		out["self"] = l.Self
	}
	if l.Related != "" {
		out["related"] = l.Related
	}
	if l.paginated {
		out["first"] = l.First
		out["last"] = l.Last
		out["prev"] = l.Prev
		out["next"] = l.Next
	}
	return json.Marshal(out)
}

// paginator builds the navigation links of a window over total records
type paginator struct {
	base   string
	query  url.Values
	offset int
	limit  int
	total  int64
}

func (p *paginator) apply(l *Links) {
	l.paginated = true
	l.First = p.url(-1, p.limit)

	pages := int64(math.Ceil(float64(p.total) / float64(p.limit)))
	last := (pages - 1) * int64(p.limit)
	if last < 0 {
		last = 0
	}
	l.Last = p.url(int(last), p.limit)

	total := int(p.total)
	if prev := p.offset - p.limit; prev >= 0 && prev <= total-1 {
		s := p.url(prev, p.limit)
		l.Prev = &s
	}
	if next := p.offset + p.limit; next <= total-1 {
		s := p.url(next, p.limit)
		l.Next = &s
	}
}

// url keeps the request's non-page parameters and sets the window. A
// negative offset leaves page[offset] out.
func (p *paginator) url(offset, limit int) string {
	q := url.Values{}
	for k, v := range p.query {
		if strings.HasPrefix(k, "page[") {
			continue
		}
		q[k] = v
	}
	if offset >= 0 {
		q.Set("page[offset]", strconv.Itoa(offset))
	}
	q.Set("page[limit]", strconv.Itoa(limit))
	return p.base + "?" + unescapeBrackets(q.Encode())
}

func unescapeBrackets(s string) string {
	return strings.NewReplacer("%5B", "[", "%5D", "]").Replace(s)
}

// serializeOptions shape one document
type serializeOptions struct {
	include        includeTree
	fields         map[string]map[string]bool
	self           string
	related        string
	page           *paginator
	total          *int64
	onlyIdentifier bool
}

// serializer converts records into one document. It is used once.
type serializer struct {
	endpoint string
	opts     serializeOptions
	enc      serialization.Encoder
	included []*Resource
	seen     map[string]bool
}

func (h *Handler) newSerializer(opts serializeOptions) *serializer {
	return &serializer{endpoint: h.endpoint, opts: opts, seen: make(map[string]bool)}
}

// one serializes a single record, which may be nil
func (s *serializer) one(info *ModelInfo, rec crud.Record) *Document {
	doc := s.document()
	switch {
	case rec == nil:
		doc.Data = nil
	case s.opts.onlyIdentifier:
		id := s.identifier(info, rec)
		doc.Data = &id
	default:
		s.seen[key(info.Type, s.id(info, rec))] = true
		doc.Data = s.resource(info, rec, []string{"data"})
		s.collectIncluded(info, rec, s.opts.include)
	}
	return s.finish(doc)
}

// many serializes a list of records
func (s *serializer) many(info *ModelInfo, recs []crud.Record) *Document {
	doc := s.document()
	if s.opts.onlyIdentifier {
		ids := make([]ResourceIdentifier, 0, len(recs))
		for _, rec := range recs {
			ids = append(ids, s.identifier(info, rec))
		}
		doc.Data = ids
		return s.finish(doc)
	}

	for _, rec := range recs {
		s.seen[key(info.Type, s.id(info, rec))] = true
	}
	data := make([]*Resource, 0, len(recs))
	for i, rec := range recs {
		data = append(data, s.resource(info, rec, []string{"data", strconv.Itoa(i)}))
	}
	for _, rec := range recs {
		s.collectIncluded(info, rec, s.opts.include)
	}
	doc.Data = data
	return s.finish(doc)
}

func (s *serializer) document() *Document {
	doc := &Document{JSONAPI: &JSONAPIObject{Version: Version}}
	if s.opts.self != "" || s.opts.related != "" || s.opts.page != nil {
		links := &Links{Self: s.opts.self, Related: s.opts.related}
		if s.opts.page != nil {
			s.opts.page.apply(links)
		}
		doc.Links = links
	}
	return doc
}

func (s *serializer) finish(doc *Document) *Document {
	if len(s.included) > 0 {
		doc.Included = s.included
	}
	meta := make(map[string]any)
	if s.opts.total != nil {
		meta["total"] = *s.opts.total
	}
	if m := s.enc.Meta(); m != nil {
		meta["serialization"] = m
	}
	if len(meta) > 0 {
		doc.Meta = meta
	}
	return doc
}

func (s *serializer) resource(info *ModelInfo, rec crud.Record, path []string) *Resource {
	id := s.id(info, rec)
	res := &Resource{
		Type:  info.Type,
		ID:    id,
		Links: &Links{Self: s.link(info.Type, id)},
	}

	projection := s.opts.fields[info.Type]
	attrs := make(map[string]any)
	for _, f := range info.Model.ScalarFields() {
		if f == info.IDField {
			continue
		}
		if projection != nil && !projection[f.Name] {
			continue
		}
		v, ok := rec[f.Name]
		if !ok {
			continue
		}
		attrs[f.Name] = s.enc.Encode(extend(path, "attributes", f.Name), attributeValue(f, v))
	}
	res.Attributes = attrs

	if len(info.Relationships) > 0 {
		res.Relationships = make(map[string]*Relationship, len(info.Relationships))
		for _, name := range info.relationshipNames() {
			rel := info.Relationships[name]
			r := &Relationship{Links: &Links{
				Self:    s.link(info.Type, id, "relationships", name),
				Related: s.link(info.Type, id, name),
			}}
			if v, ok := rec[name]; ok {
				r.HasData = true
				r.Data = s.linkage(rel, v)
			}
			res.Relationships[name] = r
		}
	}
	return res
}

// linkage returns the resource identifiers of a loaded relationship
func (s *serializer) linkage(rel *RelationshipInfo, v any) any {
	if rel.IsCollection {
		ids := make([]ResourceIdentifier, 0)
		if recs, ok := v.([]crud.Record); ok {
			for _, r := range recs {
				ids = append(ids, s.identifier(rel.target, r))
			}
		}
		return ids
	}
	r, ok := v.(crud.Record)
	if !ok || r == nil {
		return nil
	}
	id := s.identifier(rel.target, r)
	return &id
}

// collectIncluded walks the include tree and adds every reached record to
// the included list once
func (s *serializer) collectIncluded(info *ModelInfo, rec crud.Record, tree includeTree) {
	for _, name := range sortedTree(tree) {
		rel, ok := info.Relationships[name]
		if !ok {
			continue
		}
		for _, child := range related(rec[name]) {
			k := key(rel.Type, s.id(rel.target, child))
			if !s.seen[k] {
				s.seen[k] = true
				path := []string{"included", strconv.Itoa(len(s.included))}
				s.included = append(s.included, s.resource(rel.target, child, path))
			}
			s.collectIncluded(rel.target, child, tree[name])
		}
	}
}

func (s *serializer) identifier(info *ModelInfo, rec crud.Record) ResourceIdentifier {
	return ResourceIdentifier{Type: info.Type, ID: s.id(info, rec)}
}

func (s *serializer) id(info *ModelInfo, rec crud.Record) string {
	return formatID(rec[info.IDField.Name])
}

// link joins the endpoint and escaped path segments
func (s *serializer) link(segs ...string) string {
	return makeLink(s.endpoint, segs...)
}

func makeLink(endpoint string, segs ...string) string {
	escaped := make([]string, len(segs))
	for i, seg := range segs {
		escaped[i] = url.PathEscape(seg)
	}
	return strings.TrimRight(endpoint, "/") + "/" + strings.Join(escaped, "/")
}

// attributeValue marks big integers so that the envelope records them
func attributeValue(f *schema.Field, v any) any {
	if f.Type != schema.TypeBigInt {
		return v
	}
	switch x := v.(type) {
	case int64:
		return big.NewInt(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = attributeValue(&schema.Field{Type: f.Type}, item)
		}
		return out
	}
	return v
}

func formatID(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(x)
	}
	return fmt.Sprint(v)
}

func related(v any) []crud.Record {
	switch x := v.(type) {
	case []crud.Record:
		return x
	case crud.Record:
		if x != nil {
			return []crud.Record{x}
		}
	}
	return nil
}

func sortedTree(tree includeTree) []string {
	names := make([]string, 0, len(tree))
	for name := range tree {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func key(typ, id string) string {
	return typ + ":" + id
}

func extend(path []string, segs ...string) []string {
	out := make([]string, 0, len(path)+len(segs))
	out = append(out, path...)
	return append(out, segs...)
}
