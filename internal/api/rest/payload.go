package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/conduit-lang/restful/internal/orm/crud"
	"github.com/conduit-lang/restful/internal/orm/schema"
	"github.com/conduit-lang/restful/internal/serialization"
	"github.com/go-playground/validator/v10"
)

// Validator checks the attributes of a create or update before they reach
// the store. validation.Engine implements it.
type Validator interface {
	Validate(ctx context.Context, m *schema.Model, op crud.Operation, data map[string]any) error
}

// identifierPayload is a resource identifier in a request body
type identifierPayload struct {
	Type string          `json:"type" validate:"required"`
	ID   any             `json:"id" validate:"required"`
	Meta json.RawMessage `json:"meta,omitempty"`
}

// relationshipPayload is one member of data.relationships, or the body of a
// relationship endpoint. Data keeps its raw form so that a missing member,
// null, an object and an array can be told apart.
type relationshipPayload struct {
	Data  json.RawMessage `json:"data"`
	Links json.RawMessage `json:"links,omitempty"`
	Meta  json.RawMessage `json:"meta,omitempty"`
}

type resourcePayload struct {
	Type          string                         `json:"type" validate:"required"`
	ID            any                            `json:"id,omitempty"`
	Attributes    map[string]any                 `json:"attributes,omitempty"`
	Relationships map[string]relationshipPayload `json:"relationships,omitempty"`
}

type documentPayload struct {
	Data *resourcePayload           `json:"data" validate:"required"`
	Meta map[string]json.RawMessage `json:"meta,omitempty"`
}

var payloadValidator = validator.New()

// decodeStrict decodes body into v, rejecting unknown members and trailing
// data. Numbers are kept as json.Number.
func decodeStrict(body []byte, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return errors.New("request body is empty")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after the JSON document")
	}
	return nil
}

// decodeDocument reads a create or update body and restores values
// annotated in meta.serialization
func decodeDocument(body []byte) (*resourcePayload, *apiError) {
	var doc documentPayload
	if err := decodeStrict(body, &doc); err != nil {
		return nil, newError(ErrInvalidPayload, err.Error())
	}
	if err := payloadValidator.Struct(&doc); err != nil {
		return nil, newError(ErrInvalidPayload, validationDetail(err))
	}

	raw, ok := doc.Meta["serialization"]
	if !ok {
		return doc.Data, nil
	}
	meta, err := serialization.DecodeMeta(raw)
	if err != nil {
		return nil, newError(ErrInvalidPayload, err.Error())
	}

	attrs := make(map[string]any, len(doc.Data.Attributes))
	for k, v := range doc.Data.Attributes {
		attrs[k] = v
	}
	data := map[string]any{"attributes": attrs}
	if doc.Data.ID != nil {
		data["id"] = doc.Data.ID
	}
	if _, err := serialization.Deserialize(map[string]any{"data": data}, meta); err != nil {
		return nil, newError(ErrInvalidPayload, err.Error())
	}

	doc.Data.Attributes = attrs
	if id, ok := data["id"]; ok {
		doc.Data.ID = id
	}
	return doc.Data, nil
}

// linkage is the decoded data member of a relationship payload
type linkage struct {
	null bool
	many bool
	ids  []identifierPayload
}

func decodeLinkage(raw json.RawMessage) (*linkage, error) {
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0:
		return nil, errors.New("relationship data is missing")
	case bytes.Equal(trimmed, []byte("null")):
		return &linkage{null: true}, nil
	case trimmed[0] == '[':
		var ids []identifierPayload
		if err := decodeStrict(trimmed, &ids); err != nil {
			return nil, err
		}
		for i := range ids {
			if err := payloadValidator.Struct(&ids[i]); err != nil {
				return nil, errors.New(validationDetail(err))
			}
		}
		return &linkage{many: true, ids: ids}, nil
	case trimmed[0] == '{':
		var id identifierPayload
		if err := decodeStrict(trimmed, &id); err != nil {
			return nil, err
		}
		if err := payloadValidator.Struct(&id); err != nil {
			return nil, errors.New(validationDetail(err))
		}
		return &linkage{ids: []identifierPayload{id}}, nil
	}
	return nil, errors.New("relationship data must be null, an object or an array")
}

// decodeRelationshipBody reads the body of a relationship endpoint
func decodeRelationshipBody(body []byte) (*linkage, *apiError) {
	var doc relationshipPayload
	if err := decodeStrict(body, &doc); err != nil {
		return nil, newError(ErrInvalidPayload, err.Error())
	}
	l, err := decodeLinkage(doc.Data)
	if err != nil {
		return nil, newError(ErrInvalidPayload, err.Error())
	}
	return l, nil
}

// targetIDs converts identifier payloads to id values of the relationship
// target
func targetIDs(rel *RelationshipInfo, ids []identifierPayload) ([]any, *apiError) {
	out := make([]any, 0, len(ids))
	for _, item := range ids {
		if item.Type != rel.Type {
			return nil, errorf(ErrInvalidRelationData, "relationship %s expects type %s, got %s", rel.Name, rel.Type, item.Type)
		}
		id, err := coerce(rel.IDField, idString(item.ID))
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func idString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	}
	return fmt.Sprint(v)
}

func validationDetail(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s is %s", strings.ToLower(fe.Namespace()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
