package crud

import (
	"errors"
	"fmt"
)

// Common CRUD error types
var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")

	// ErrUniqueViolation is returned when a unique constraint is violated
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrForeignKeyViolation is returned when a foreign key constraint is violated
	ErrForeignKeyViolation = errors.New("foreign key constraint violation")

	// ErrNotNullViolation is returned when a NOT NULL constraint is violated
	ErrNotNullViolation = errors.New("not null constraint violation")

	// ErrPolicyRejected is returned when an access rule rejects an operation
	ErrPolicyRejected = errors.New("rejected by policy")
)

// Request error codes. The numbering follows the Prisma engine so that API
// clients written against it keep working.
const (
	CodeUniqueViolation     = "P2002"
	CodeForeignKeyViolation = "P2003"
	CodePolicyRejected      = "P2004"
	CodeNullViolation       = "P2011"
	CodeRequiredRelation    = "P2014"
	CodeConnectedNotFound   = "P2018"
	CodeNotFound            = "P2025"
)

// ReasonAccessPolicyViolation is the rejection reason reported by DenyRules
const ReasonAccessPolicyViolation = "ACCESS_POLICY_VIOLATION"

// ErrorKind classifies request errors
type ErrorKind int

const (
	// KindKnown errors carry one of the Code constants
	KindKnown ErrorKind = iota
	// KindUnknown errors come from the database without a known code
	KindUnknown
	// KindValidation errors reject malformed arguments before execution
	KindValidation
)

// String returns the string representation of the kind
func (k ErrorKind) String() string {
	switch k {
	case KindKnown:
		return "known"
	case KindUnknown:
		return "unknown"
	case KindValidation:
		return "validation"
	default:
		return "invalid"
	}
}

// RequestError is returned by stores for failed operations
type RequestError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Reason  string
	Err     error
}

// Error implements the error interface
func (e *RequestError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying driver error, if any
func (e *RequestError) Unwrap() error {
	return e.Err
}

// Is maps codes to the package sentinels
func (e *RequestError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == CodeNotFound || e.Code == CodeConnectedNotFound
	case ErrUniqueViolation:
		return e.Code == CodeUniqueViolation
	case ErrForeignKeyViolation:
		return e.Code == CodeForeignKeyViolation
	case ErrNotNullViolation:
		return e.Code == CodeNullViolation
	case ErrPolicyRejected:
		return e.Code == CodePolicyRejected
	}
	return false
}

// Known builds a known request error
func Known(code, format string, args ...any) *RequestError {
	return &RequestError{Kind: KindKnown, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing record
func NotFound(format string, args ...any) *RequestError {
	return Known(CodeNotFound, format, args...)
}

// PolicyRejected reports an operation rejected by an access rule
func PolicyRejected(message, reason string) *RequestError {
	return &RequestError{Kind: KindKnown, Code: CodePolicyRejected, Message: message, Reason: reason}
}

// Validation reports arguments the store cannot execute
func Validation(format string, args ...any) *RequestError {
	return &RequestError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Unknown wraps an unclassified database error
func Unknown(err error) *RequestError {
	return &RequestError{Kind: KindUnknown, Message: err.Error(), Err: err}
}

// AsRequestError extracts a RequestError from err
func AsRequestError(err error) (*RequestError, bool) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr, true
	}
	return nil, false
}

// IsNotFound returns true if the error is ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUniqueViolation returns true if the error is ErrUniqueViolation
func IsUniqueViolation(err error) bool {
	return errors.Is(err, ErrUniqueViolation)
}

// IsForeignKeyViolation returns true if the error is ErrForeignKeyViolation
func IsForeignKeyViolation(err error) bool {
	return errors.Is(err, ErrForeignKeyViolation)
}
