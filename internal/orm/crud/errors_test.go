package crud

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/conduit-lang/restful/internal/orm/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"not found", NotFound("no user"), ErrNotFound, true},
		{"connected not found", Known(CodeConnectedNotFound, "missing"), ErrNotFound, true},
		{"unique", Known(CodeUniqueViolation, "dup"), ErrUniqueViolation, true},
		{"foreign key", Known(CodeForeignKeyViolation, "fk"), ErrForeignKeyViolation, true},
		{"policy", PolicyRejected("no", ReasonAccessPolicyViolation), ErrPolicyRejected, true},
		{"mismatch", Known(CodeUniqueViolation, "dup"), ErrNotFound, false},
		{"wrapped", fmt.Errorf("create user: %w", NotFound("x")), ErrNotFound, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestRequestError_Error(t *testing.T) {
	assert.Equal(t, "P2025: no user 1", NotFound("no user %d", 1).Error())
	assert.Equal(t, "bad arg", Validation("bad arg").Error())
}

func TestUnknown_Unwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := Unknown(cause)
	assert.Equal(t, KindUnknown, err.Kind)
	assert.ErrorIs(t, err, cause)
}

func TestAsRequestError(t *testing.T) {
	reqErr, ok := AsRequestError(fmt.Errorf("wrap: %w", NotFound("gone")))
	require.True(t, ok)
	assert.Equal(t, CodeNotFound, reqErr.Code)

	_, ok = AsRequestError(errors.New("plain"))
	assert.False(t, ok)
}

func TestDenyRules(t *testing.T) {
	model := &schema.Model{Name: "Tag", Deny: []string{"delete"}}

	assert.NoError(t, DenyRules.Authorize(context.Background(), model, OperationCreate))

	err := DenyRules.Authorize(context.Background(), model, OperationDelete)
	require.Error(t, err)
	reqErr, ok := AsRequestError(err)
	require.True(t, ok)
	assert.Equal(t, CodePolicyRejected, reqErr.Code)
	assert.Equal(t, ReasonAccessPolicyViolation, reqErr.Reason)
}

func TestOperationString(t *testing.T) {
	assert.Equal(t, "create", OperationCreate.String())
	assert.Equal(t, "delete", OperationDelete.String())
	assert.Equal(t, "unknown", Operation(42).String())
	assert.Equal(t, "set", Set.String())
}

func TestRecordCounts(t *testing.T) {
	r := Record{"id": int64(1), CountKey: map[string]int64{"posts": 3}}
	assert.Equal(t, int64(3), r.Counts()["posts"])
	assert.Nil(t, Record{}.Counts())
}
