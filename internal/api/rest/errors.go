package rest

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/conduit-lang/restful/internal/orm/crud"
	"github.com/conduit-lang/restful/internal/orm/schema"
	strutil "github.com/conduit-lang/restful/internal/util/strings"
	"github.com/conduit-lang/restful/internal/web/response"
	"go.uber.org/zap"
)

// ErrorCode identifies one entry of the error table
type ErrorCode string

const (
	ErrInvalidPath             ErrorCode = "invalidPath"
	ErrInvalidVerb             ErrorCode = "invalidVerb"
	ErrUnsupportedModel        ErrorCode = "unsupportedModel"
	ErrUnsupportedRelationship ErrorCode = "unsupportedRelationship"
	ErrNotFound                ErrorCode = "notFound"
	ErrNoID                    ErrorCode = "noId"
	ErrMultiID                 ErrorCode = "multiId"
	ErrInvalidID               ErrorCode = "invalidId"
	ErrInvalidPayload          ErrorCode = "invalidPayload"
	ErrInvalidRelationData     ErrorCode = "invalidRelationData"
	ErrInvalidRelation         ErrorCode = "invalidRelation"
	ErrInvalidFilter           ErrorCode = "invalidFilter"
	ErrInvalidSort             ErrorCode = "invalidSort"
	ErrInvalidValue            ErrorCode = "invalidValue"
	ErrForbidden               ErrorCode = "forbidden"
	ErrStoreRequest            ErrorCode = "storeRequestFailed"
	ErrUnknown                 ErrorCode = "unknownError"
)

type errorInfo struct {
	status int
	title  string
	detail string
}

var errorTable = map[ErrorCode]errorInfo{
	ErrInvalidPath:             {http.StatusBadRequest, "The request path is invalid", ""},
	ErrInvalidVerb:             {http.StatusBadRequest, "The HTTP verb is not supported", ""},
	ErrUnsupportedModel:        {http.StatusNotFound, "Unsupported model type", "The model type is not supported"},
	ErrUnsupportedRelationship: {http.StatusBadRequest, "Unsupported relationship", "The relationship is not supported"},
	ErrNotFound:                {http.StatusNotFound, "Resource not found", ""},
	ErrNoID:                    {http.StatusBadRequest, "Model without an ID field is not supported", ""},
	ErrMultiID:                 {http.StatusBadRequest, "Model with multiple ID fields is not supported", ""},
	ErrInvalidID:               {http.StatusBadRequest, "Resource ID is invalid", ""},
	ErrInvalidPayload:          {http.StatusBadRequest, "Invalid payload", ""},
	ErrInvalidRelationData:     {http.StatusBadRequest, "Invalid payload", "Invalid relationship data"},
	ErrInvalidRelation:         {http.StatusBadRequest, "Invalid relation", "Invalid relationship"},
	ErrInvalidFilter:           {http.StatusBadRequest, "Invalid filter", ""},
	ErrInvalidSort:             {http.StatusBadRequest, "Invalid sort", ""},
	ErrInvalidValue:            {http.StatusBadRequest, "Invalid value for type", ""},
	ErrForbidden:               {http.StatusForbidden, "Operation is forbidden", ""},
	ErrStoreRequest:            {http.StatusBadRequest, "Store request failed", ""},
	ErrUnknown:                 {http.StatusBadRequest, "Unknown error", ""},
}

// Kebab returns the wire form of the code, e.g. "invalid-filter"
func (c ErrorCode) Kebab() string {
	return strutil.ToKebabCase(string(c))
}

// Status returns the HTTP status of the code
func (c ErrorCode) Status() int {
	if info, ok := errorTable[c]; ok {
		return info.status
	}
	return http.StatusBadRequest
}

// ErrorObject is one member of an error document
type ErrorObject = response.ErrorObject

// ErrorDocument is the body of every failed response
type ErrorDocument = response.ErrorDocument

// apiError is a failure detected by the handler before or after the store
// call. It carries everything needed to render the error document.
type apiError struct {
	code   ErrorCode
	status int
	detail string
	reason string
	meta   map[string]any
}

func (e *apiError) Error() string {
	if e.detail != "" {
		return fmt.Sprintf("%s: %s", e.code, e.detail)
	}
	return string(e.code)
}

func newError(code ErrorCode, detail string) *apiError {
	info := errorTable[code]
	if detail == "" {
		detail = info.detail
	}
	return &apiError{code: code, status: info.status, detail: detail}
}

func errorf(code ErrorCode, format string, args ...any) *apiError {
	return newError(code, fmt.Sprintf(format, args...))
}

// withStatus overrides the table status, used where the same code is a 404
// on reads and a 400 on writes
func (e *apiError) withStatus(status int) *apiError {
	e.status = status
	return e
}

func (e *apiError) response() Response {
	return Response{
		Status: e.status,
		Body: &ErrorDocument{Errors: []ErrorObject{{
			Status: e.status,
			Code:   e.code.Kebab(),
			Title:  errorTable[e.code].title,
			Detail: e.detail,
			Reason: e.reason,
			Meta:   e.meta,
		}}},
	}
}

// storeError classifies an error returned by the store
func (h *Handler) storeError(err error) *apiError {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	if reqErr, ok := crud.AsRequestError(err); ok {
		switch reqErr.Kind {
		case crud.KindKnown:
			switch reqErr.Code {
			case crud.CodePolicyRejected:
				e := newError(ErrForbidden, reqErr.Message)
				e.reason = reqErr.Reason
				return e
			case crud.CodeNotFound, crud.CodeConnectedNotFound:
				return newError(ErrNotFound, reqErr.Message)
			default:
				h.logger.Debug("store rejected request",
					zap.String("code", reqErr.Code),
					zap.String("message", reqErr.Message))
				// the ORM code travels in meta so clients can branch on it
				e := newError(ErrStoreRequest, reqErr.Message)
				e.meta = map[string]any{"code": reqErr.Code}
				return e
			}
		case crud.KindValidation:
			if errors.Is(reqErr, schema.ErrInvalidValue) {
				return newError(ErrInvalidValue, reqErr.Message)
			}
			return newError(ErrInvalidPayload, reqErr.Message)
		default:
			h.logger.Error("store request failed", zap.Error(reqErr))
			return newError(ErrUnknown, reqErr.Message)
		}
	}

	if errors.Is(err, schema.ErrInvalidValue) {
		return newError(ErrInvalidValue, err.Error())
	}

	h.logger.Error("unexpected error", zap.Error(err))
	e := newError(ErrUnknown, err.Error())
	e.meta = map[string]any{"stack": string(debug.Stack())}
	return e
}
