// Package rest serves the data models as a JSON:API: it routes request
// paths, compiles filter/sort/include/fields/page parameters into store
// queries, runs them through a crud.Client and serializes the results.
package rest

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/conduit-lang/restful/internal/orm/crud"
	"github.com/conduit-lang/restful/internal/orm/query"
	"github.com/conduit-lang/restful/internal/orm/schema"
	"go.uber.org/zap"
)

const (
	// DefaultPageSize is the page size used when Options.PageSize is zero
	DefaultPageSize = 100
	// Unlimited disables pagination
	Unlimited = math.MaxInt
)

// Options configures a Handler
type Options struct {
	// Endpoint is the base URL of generated links
	Endpoint string
	// PageSize caps page[limit]. Zero means DefaultPageSize; Unlimited
	// returns whole collections unless the client asks for a page.
	PageSize int
	Logger   *zap.Logger
	// Validator, when set, checks attributes of creates and updates
	Validator Validator
	// ModelNameMapping exposes models under other type names
	ModelNameMapping map[string]string
}

// Request is one API call. Path is relative to the endpoint.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

// Response is the outcome of a request. Body is a *Document, an
// *ErrorDocument, or nil for an empty body.
type Response struct {
	Status int
	Body   any
}

// Handler serves JSON:API requests. It holds no per-request state and is
// safe for concurrent use.
type Handler struct {
	registry  *Registry
	endpoint  string
	pageSize  int
	logger    *zap.Logger
	validator Validator
}

// NewHandler builds the registry of meta and returns a handler over it
func NewHandler(meta *schema.Meta, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	return &Handler{
		registry:  BuildRegistry(meta, TypeNamer(opts.ModelNameMapping), logger),
		endpoint:  strings.TrimRight(opts.Endpoint, "/"),
		pageSize:  pageSize,
		logger:    logger,
		validator: opts.Validator,
	}
}

// TypeNamer returns the type name function of a model name mapping.
// Unmapped models use their model key.
func TypeNamer(mapping map[string]string) func(model string) string {
	keyed := make(map[string]string, len(mapping))
	for model, name := range mapping {
		keyed[schema.ModelKey(model)] = name
	}
	return func(model string) string {
		if name, ok := keyed[schema.ModelKey(model)]; ok {
			return name
		}
		return schema.ModelKey(model)
	}
}

// Registry returns the resource types served by the handler
func (h *Handler) Registry() *Registry {
	return h.registry
}

// allowed lists the verbs each path shape accepts
var allowed = map[Shape][]string{
	ShapeCollection:   {http.MethodGet, http.MethodPost},
	ShapeResource:     {http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete},
	ShapeRelated:      {http.MethodGet},
	ShapeRelationship: {http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
}

// Handle runs one request against client
func (h *Handler) Handle(ctx context.Context, client crud.Client, req Request) Response {
	method := strings.ToUpper(req.Method)
	if req.Query == nil {
		req.Query = url.Values{}
	}

	route, ok := Match(req.Path)
	if !ok {
		return newError(ErrInvalidPath, "").response()
	}
	if !verbAllowed(route.Shape, method) {
		return errorf(ErrInvalidVerb, "%s is not supported on %s paths", method, route.Shape).response()
	}

	info, apiErr := h.lookup(route, method)
	if apiErr != nil {
		return apiErr.response()
	}

	resp, err := h.dispatch(ctx, client, method, route, info, req)
	if err != nil {
		return h.storeError(err).response()
	}
	return resp
}

func verbAllowed(shape Shape, method string) bool {
	for _, m := range allowed[shape] {
		if m == method {
			return true
		}
	}
	return false
}

// lookup resolves the type segment. An unknown type is a 404 when a single
// resource is read and a 400 everywhere else.
func (h *Handler) lookup(route Route, method string) (*ModelInfo, *apiError) {
	typ := route.Type
	info, err := h.registry.Lookup(typ)
	if err != nil && schema.ModelKey(typ) != typ {
		info, err = h.registry.Lookup(schema.ModelKey(typ))
	}
	switch {
	case err == nil:
		return info, nil
	case errors.Is(err, schema.ErrNoID):
		return nil, errorf(ErrNoID, "%v", err)
	case errors.Is(err, schema.ErrMultiID):
		return nil, errorf(ErrMultiID, "%v", err)
	}

	apiErr := errorf(ErrUnsupportedModel, "model %s is not supported", typ)
	if route.Shape != ShapeResource || method != http.MethodGet {
		apiErr.withStatus(http.StatusBadRequest)
	}
	return nil, apiErr
}

func (h *Handler) dispatch(ctx context.Context, client crud.Client, method string, route Route, info *ModelInfo, req Request) (Response, error) {
	switch route.Shape {
	case ShapeCollection:
		if method == http.MethodGet {
			return h.readCollection(ctx, client, info, req.Query)
		}
		return h.create(ctx, client, info, req.Body)

	case ShapeResource:
		id, apiErr := h.parseID(info, route.ID)
		if apiErr != nil {
			return Response{}, apiErr
		}
		switch method {
		case http.MethodGet:
			return h.readOne(ctx, client, info, id, req.Query)
		case http.MethodDelete:
			return h.delete(ctx, client, info, id)
		default:
			return h.update(ctx, client, info, id, req.Body)
		}

	case ShapeRelated, ShapeRelationship:
		id, apiErr := h.parseID(info, route.ID)
		if apiErr != nil {
			return Response{}, apiErr
		}
		rel, apiErr := info.Relationship(route.Relationship)
		if apiErr != nil {
			// only the related-resource fetch reports a missing relationship as 404
			if route.Shape == ShapeRelated && apiErr.code == ErrUnsupportedRelationship {
				apiErr.withStatus(http.StatusNotFound)
			}
			return Response{}, apiErr
		}
		if method == http.MethodGet {
			return h.readRelated(ctx, client, info, id, rel, route.Shape == ShapeRelationship, req.Query)
		}
		return h.updateRelationship(ctx, client, info, id, rel, method, req.Body)
	}

	return Response{}, newError(ErrInvalidPath, "")
}

func (h *Handler) parseID(info *ModelInfo, raw string) (any, *apiError) {
	id, err := schema.NormalizeField(info.IDField, raw)
	if err != nil {
		return nil, errorf(ErrInvalidID, "invalid id %q for %s", raw, info.Type)
	}
	return id, nil
}

func (h *Handler) idFilter(info *ModelInfo, id any) query.Filter {
	return query.Eq(info.IDField.Name, id)
}

func (h *Handler) link(segs ...string) string {
	return makeLink(h.endpoint, segs...)
}

func (h *Handler) readCollection(ctx context.Context, client crud.Client, info *ModelInfo, q url.Values) (Response, error) {
	where, apiErr := buildFilter(info, q)
	if apiErr != nil {
		return Response{}, apiErr
	}
	orderBy, apiErr := buildSort(info, q)
	if apiErr != nil {
		return Response{}, apiErr
	}
	tree, apiErr := buildInclude(info, q)
	if apiErr != nil {
		return Response{}, apiErr
	}
	offset, limit := h.pagination(q)

	args := query.FindArgs{
		Where:   where,
		OrderBy: orderBy,
		Skip:    offset,
		Include: includeArgs(info, tree),
	}
	opts := serializeOptions{
		include: tree,
		fields:  parseFields(q),
		self:    h.link(info.Type),
	}

	if limit == Unlimited {
		recs, err := client.FindMany(ctx, info.Model.Name, args)
		if err != nil {
			return Response{}, err
		}
		total := int64(len(recs))
		opts.total = &total
		return Response{Status: http.StatusOK, Body: h.newSerializer(opts).many(info, recs)}, nil
	}

	args.Take = limit
	recs, err := client.FindMany(ctx, info.Model.Name, args)
	if err != nil {
		return Response{}, err
	}
	total, err := client.Count(ctx, info.Model.Name, where)
	if err != nil {
		return Response{}, err
	}

	opts.total = &total
	opts.page = &paginator{base: h.link(info.Type), query: q, offset: offset, limit: limit, total: total}
	return Response{Status: http.StatusOK, Body: h.newSerializer(opts).many(info, recs)}, nil
}

func (h *Handler) readOne(ctx context.Context, client crud.Client, info *ModelInfo, id any, q url.Values) (Response, error) {
	tree, apiErr := buildInclude(info, q)
	if apiErr != nil {
		return Response{}, apiErr
	}

	rec, err := client.FindUnique(ctx, info.Model.Name, query.FindArgs{
		Where:   h.idFilter(info, id),
		Include: includeArgs(info, tree),
	})
	if err != nil {
		return Response{}, err
	}
	if rec == nil {
		return Response{}, errorf(ErrNotFound, "%s %v not found", info.Type, id)
	}

	s := h.newSerializer(serializeOptions{
		include: tree,
		fields:  parseFields(q),
		self:    h.link(info.Type, formatID(id)),
	})
	return Response{Status: http.StatusOK, Body: s.one(info, rec)}, nil
}

// readRelated serves /{type}/{id}/{rel} and, with onlyIdentifier,
// /{type}/{id}/relationships/{rel}. To-many relationships accept filter,
// sort and page parameters applied to the related records.
func (h *Handler) readRelated(ctx context.Context, client crud.Client, info *ModelInfo, id any, rel *RelationshipInfo, onlyIdentifier bool, q url.Values) (Response, error) {
	target := rel.target
	idStr := formatID(id)

	inc := &query.Include{IDOnly: onlyIdentifier}
	opts := serializeOptions{onlyIdentifier: onlyIdentifier, fields: parseFields(q)}
	if onlyIdentifier {
		opts.self = h.link(info.Type, idStr, "relationships", rel.Name)
		opts.related = h.link(info.Type, idStr, rel.Name)
	} else {
		tree, apiErr := buildInclude(target, q)
		if apiErr != nil {
			return Response{}, apiErr
		}
		inc.Include = includeArgs(target, tree)
		opts.include = tree
		opts.self = h.link(info.Type, idStr, rel.Name)
	}

	args := query.FindArgs{
		Where:   h.idFilter(info, id),
		Include: map[string]*query.Include{rel.Name: inc},
	}

	var offset, limit int
	if rel.IsCollection {
		where, apiErr := buildFilter(target, q)
		if apiErr != nil {
			return Response{}, apiErr
		}
		orderBy, apiErr := buildSort(target, q)
		if apiErr != nil {
			return Response{}, apiErr
		}
		offset, limit = h.pagination(q)

		inc.Where = where
		inc.OrderBy = orderBy
		inc.Skip = offset
		if limit != Unlimited {
			inc.Take = limit
			args.Count = map[string]query.Filter{rel.Name: where}
		}
	}

	rec, err := client.FindUnique(ctx, info.Model.Name, args)
	if err != nil {
		return Response{}, err
	}
	if rec == nil {
		return Response{}, errorf(ErrNotFound, "%s %v not found", info.Type, id)
	}

	if !rel.IsCollection {
		child, _ := rec[rel.Name].(crud.Record)
		if child == nil && !onlyIdentifier {
			return Response{}, errorf(ErrNotFound, "%s %v has no %s", info.Type, id, rel.Name)
		}
		return Response{Status: http.StatusOK, Body: h.newSerializer(opts).one(target, child)}, nil
	}

	children, _ := rec[rel.Name].([]crud.Record)
	total := int64(len(children))
	if args.Count != nil {
		total = rec.Counts()[rel.Name]
		base := h.link(info.Type, idStr, rel.Name)
		if onlyIdentifier {
			base = h.link(info.Type, idStr, "relationships", rel.Name)
		}
		opts.page = &paginator{base: base, query: q, offset: offset, limit: limit, total: total}
	}
	opts.total = &total
	return Response{Status: http.StatusOK, Body: h.newSerializer(opts).many(target, children)}, nil
}

func (h *Handler) create(ctx context.Context, client crud.Client, info *ModelInfo, body []byte) (Response, error) {
	p, apiErr := decodeDocument(body)
	if apiErr != nil {
		return Response{}, apiErr
	}
	if p.Type != info.Type {
		return Response{}, errorf(ErrInvalidPayload, "data.type %q does not match %s", p.Type, info.Type)
	}

	data, apiErr := h.attributes(ctx, info, p, crud.OperationCreate)
	if apiErr != nil {
		return Response{}, apiErr
	}
	if p.ID != nil {
		id, apiErr := coerce(info.IDField, idString(p.ID))
		if apiErr != nil {
			return Response{}, apiErr
		}
		data[info.IDField.Name] = id
	}

	rels := make(map[string]crud.RelationWrite, len(p.Relationships))
	for name, rp := range p.Relationships {
		rel, apiErr := info.Relationship(name)
		if apiErr != nil {
			return Response{}, apiErr
		}
		l, err := decodeLinkage(rp.Data)
		if err != nil {
			return Response{}, newError(ErrInvalidRelationData, err.Error())
		}
		if l.null || l.many != rel.IsCollection {
			return Response{}, errorf(ErrInvalidRelationData, "relationship %s expects %s", name, linkageKind(rel))
		}
		ids, apiErr := targetIDs(rel, l.ids)
		if apiErr != nil {
			return Response{}, apiErr
		}
		rels[name] = crud.RelationWrite{Op: crud.Connect, IDs: ids}
	}

	rec, err := client.Create(ctx, info.Model.Name, crud.WriteArgs{
		Data:      data,
		Relations: rels,
		Include:   includeArgs(info, nil),
	})
	if err != nil {
		return Response{}, err
	}

	s := h.newSerializer(serializeOptions{self: h.link(info.Type)})
	return Response{Status: http.StatusCreated, Body: s.one(info, rec)}, nil
}

func (h *Handler) update(ctx context.Context, client crud.Client, info *ModelInfo, id any, body []byte) (Response, error) {
	p, apiErr := decodeDocument(body)
	if apiErr != nil {
		return Response{}, apiErr
	}
	if p.Type != info.Type {
		return Response{}, errorf(ErrInvalidPayload, "data.type %q does not match %s", p.Type, info.Type)
	}

	data, apiErr := h.attributes(ctx, info, p, crud.OperationUpdate)
	if apiErr != nil {
		return Response{}, apiErr
	}

	rels := make(map[string]crud.RelationWrite, len(p.Relationships))
	for name, rp := range p.Relationships {
		rel, apiErr := info.Relationship(name)
		if apiErr != nil {
			return Response{}, apiErr
		}
		l, err := decodeLinkage(rp.Data)
		if err != nil {
			return Response{}, newError(ErrInvalidRelationData, err.Error())
		}
		write, apiErr := relationSet(rel, l)
		if apiErr != nil {
			return Response{}, apiErr
		}
		rels[name] = write
	}

	rec, err := client.Update(ctx, info.Model.Name, crud.WriteArgs{
		Where:     h.idFilter(info, id),
		Data:      data,
		Relations: rels,
		Include:   includeArgs(info, nil),
	})
	if err != nil {
		return Response{}, err
	}

	s := h.newSerializer(serializeOptions{self: h.link(info.Type, formatID(id))})
	return Response{Status: http.StatusOK, Body: s.one(info, rec)}, nil
}

// relationSet replaces a relationship's linkage. A null to-one linkage
// clears an optional relationship.
func relationSet(rel *RelationshipInfo, l *linkage) (crud.RelationWrite, *apiError) {
	if rel.IsCollection {
		if !l.many {
			return crud.RelationWrite{}, errorf(ErrInvalidRelationData, "relationship %s expects an array", rel.Name)
		}
		ids, apiErr := targetIDs(rel, l.ids)
		if apiErr != nil {
			return crud.RelationWrite{}, apiErr
		}
		return crud.RelationWrite{Op: crud.Set, IDs: ids}, nil
	}

	if l.many {
		return crud.RelationWrite{}, errorf(ErrInvalidRelationData, "relationship %s expects an object or null", rel.Name)
	}
	if l.null {
		if !rel.IsOptional {
			return crud.RelationWrite{}, errorf(ErrInvalidPayload, "relationship %s is required", rel.Name)
		}
		return crud.RelationWrite{Op: crud.Set}, nil
	}
	ids, apiErr := targetIDs(rel, l.ids)
	if apiErr != nil {
		return crud.RelationWrite{}, apiErr
	}
	return crud.RelationWrite{Op: crud.Set, IDs: ids}, nil
}

// updateRelationship serves writes to /{type}/{id}/relationships/{rel}.
// To-one relationships can only be replaced; to-many ones map POST to
// connect, DELETE to disconnect and PUT/PATCH to set.
func (h *Handler) updateRelationship(ctx context.Context, client crud.Client, info *ModelInfo, id any, rel *RelationshipInfo, method string, body []byte) (Response, error) {
	if !rel.IsCollection && method != http.MethodPatch && method != http.MethodPut {
		return Response{}, errorf(ErrInvalidVerb, "%s is not supported on to-one relationship %s", method, rel.Name)
	}

	l, apiErr := decodeRelationshipBody(body)
	if apiErr != nil {
		return Response{}, apiErr
	}

	write, apiErr := relationWrite(rel, method, l)
	if apiErr != nil {
		if apiErr.code == ErrInvalidRelationData {
			apiErr.code = ErrInvalidPayload
		}
		return Response{}, apiErr
	}

	rec, err := client.Update(ctx, info.Model.Name, crud.WriteArgs{
		Where:     h.idFilter(info, id),
		Relations: map[string]crud.RelationWrite{rel.Name: write},
		Include:   map[string]*query.Include{rel.Name: query.IDs()},
	})
	if err != nil {
		return Response{}, err
	}

	idStr := formatID(id)
	s := h.newSerializer(serializeOptions{
		onlyIdentifier: true,
		self:           h.link(info.Type, idStr, "relationships", rel.Name),
		related:        h.link(info.Type, idStr, rel.Name),
	})
	if rel.IsCollection {
		children, _ := rec[rel.Name].([]crud.Record)
		return Response{Status: http.StatusOK, Body: s.many(rel.target, children)}, nil
	}
	child, _ := rec[rel.Name].(crud.Record)
	return Response{Status: http.StatusOK, Body: s.one(rel.target, child)}, nil
}

func relationWrite(rel *RelationshipInfo, method string, l *linkage) (crud.RelationWrite, *apiError) {
	if method == http.MethodPatch || method == http.MethodPut {
		return relationSet(rel, l)
	}
	if !l.many {
		return crud.RelationWrite{}, errorf(ErrInvalidPayload, "relationship %s expects an array", rel.Name)
	}
	ids, apiErr := targetIDs(rel, l.ids)
	if apiErr != nil {
		return crud.RelationWrite{}, apiErr
	}
	op := crud.Connect
	if method == http.MethodDelete {
		op = crud.Disconnect
	}
	return crud.RelationWrite{Op: op, IDs: ids}, nil
}

func (h *Handler) delete(ctx context.Context, client crud.Client, info *ModelInfo, id any) (Response, error) {
	if _, err := client.Delete(ctx, info.Model.Name, h.idFilter(info, id)); err != nil {
		return Response{}, err
	}
	return Response{Status: http.StatusNoContent}, nil
}

// attributes normalizes payload attributes and runs the validator
func (h *Handler) attributes(ctx context.Context, info *ModelInfo, p *resourcePayload, op crud.Operation) (map[string]any, *apiError) {
	data := make(map[string]any, len(p.Attributes))
	for name, v := range p.Attributes {
		f, ok := info.Fields[name]
		if !ok || f.IsRelation() {
			return nil, errorf(ErrInvalidPayload, "unknown attribute %q for %s", name, info.Type)
		}
		n, err := schema.NormalizeField(f, v)
		if err != nil {
			return nil, errorf(ErrInvalidValue, "attribute %s: %v", name, err)
		}
		data[name] = n
	}

	if h.validator != nil {
		if err := h.validator.Validate(ctx, info.Model, op, data); err != nil {
			return nil, newError(ErrInvalidPayload, err.Error())
		}
	}
	return data, nil
}

func linkageKind(rel *RelationshipInfo) string {
	if rel.IsCollection {
		return "an array of resource identifiers"
	}
	return "a resource identifier"
}
