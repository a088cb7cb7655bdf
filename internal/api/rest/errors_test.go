package rest

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/conduit-lang/restful/internal/orm/crud"
	"github.com/conduit-lang/restful/internal/orm/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestErrorCodeKebab(t *testing.T) {
	tests := map[ErrorCode]string{
		ErrInvalidFilter:           "invalid-filter",
		ErrUnsupportedRelationship: "unsupported-relationship",
		ErrNoID:                    "no-id",
		ErrMultiID:                 "multi-id",
		ErrInvalidRelationData:     "invalid-relation-data",
		ErrStoreRequest:            "store-request-failed",
		ErrUnknown:                 "unknown-error",
		ErrForbidden:               "forbidden",
	}
	for code, want := range tests {
		assert.Equal(t, want, code.Kebab(), string(code))
	}
}

func TestErrorCodeStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, ErrNotFound.Status())
	assert.Equal(t, http.StatusForbidden, ErrForbidden.Status())
	assert.Equal(t, http.StatusBadRequest, ErrInvalidSort.Status())
	assert.Equal(t, http.StatusBadRequest, ErrStoreRequest.Status())
	assert.Equal(t, http.StatusBadRequest, ErrorCode("other").Status())
}

func TestAPIErrorResponse(t *testing.T) {
	resp := errorf(ErrInvalidID, "invalid id %q", "x").response()
	assert.Equal(t, http.StatusBadRequest, resp.Status)

	doc, ok := resp.Body.(*ErrorDocument)
	require.True(t, ok)
	require.Len(t, doc.Errors, 1)
	assert.Equal(t, ErrorObject{
		Status: http.StatusBadRequest,
		Code:   "invalid-id",
		Title:  "Resource ID is invalid",
		Detail: `invalid id "x"`,
	}, doc.Errors[0])

	resp = newError(ErrUnsupportedModel, "").withStatus(http.StatusBadRequest).response()
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Equal(t, "The model type is not supported", resp.Body.(*ErrorDocument).Errors[0].Detail)
}

func TestStoreError(t *testing.T) {
	h := &Handler{logger: zap.NewNop()}

	tests := []struct {
		name   string
		err    error
		status int
		code   string
		title  string
		reason string
		meta   map[string]any
	}{
		{
			name:   "policy",
			err:    crud.PolicyRejected("denied", crud.ReasonAccessPolicyViolation),
			status: http.StatusForbidden,
			code:   "forbidden",
			title:  "Operation is forbidden",
			reason: crud.ReasonAccessPolicyViolation,
		},
		{
			name:   "not found",
			err:    crud.NotFound("missing"),
			status: http.StatusNotFound,
			code:   "not-found",
			title:  "Resource not found",
		},
		{
			name:   "connect target missing",
			err:    crud.Known(crud.CodeConnectedNotFound, "missing"),
			status: http.StatusNotFound,
			code:   "not-found",
			title:  "Resource not found",
		},
		{
			name:   "wrapped known",
			err:    fmt.Errorf("create: %w", crud.Known(crud.CodeUniqueViolation, "duplicate")),
			status: http.StatusBadRequest,
			code:   "store-request-failed",
			title:  "Store request failed",
			meta:   map[string]any{"code": crud.CodeUniqueViolation},
		},
		{
			name:   "validation",
			err:    crud.Validation("unknown field"),
			status: http.StatusBadRequest,
			code:   "invalid-payload",
			title:  "Invalid payload",
		},
		{
			name:   "validation of a value",
			err:    &crud.RequestError{Kind: crud.KindValidation, Message: "bad int", Err: schema.ErrInvalidValue},
			status: http.StatusBadRequest,
			code:   "invalid-value",
			title:  "Invalid value for type",
		},
		{
			name:   "unknown kind",
			err:    crud.Unknown(errors.New("driver failed")),
			status: http.StatusBadRequest,
			code:   "unknown-error",
			title:  "Unknown error",
		},
		{
			name:   "api error passes through",
			err:    newError(ErrInvalidSort, "bad"),
			status: http.StatusBadRequest,
			code:   "invalid-sort",
			title:  "Invalid sort",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.storeError(tt.err).response()
			assert.Equal(t, tt.status, resp.Status)
			e := resp.Body.(*ErrorDocument).Errors[0]
			assert.Equal(t, tt.code, e.Code)
			assert.Equal(t, tt.title, e.Title)
			assert.Equal(t, tt.reason, e.Reason)
			assert.Equal(t, tt.meta, e.Meta)
		})
	}

	resp := h.storeError(errors.New("boom")).response()
	e := resp.Body.(*ErrorDocument).Errors[0]
	assert.Equal(t, "unknown-error", e.Code)
	assert.Contains(t, e.Meta, "stack")
}
