package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationErrors(t *testing.T) {
	errs := NewValidationErrors()
	assert.False(t, errs.HasErrors())
	assert.Equal(t, "validation failed", errs.Error())

	errs.Add("title", "too short")
	errs.Add("email", "not an email")
	errs.Add("title", "not a slug")

	assert.True(t, errs.HasErrors())
	assert.Equal(t, 3, errs.Count())
	assert.Len(t, errs.Fields["title"], 2)
	assert.Equal(t, "validation failed: email: not an email; title: too short; title: not a slug", errs.Error())
}

func TestValidationErrors_NilMap(t *testing.T) {
	var errs ValidationErrors
	errs.Add("a", "b")
	assert.Equal(t, 1, errs.Count())
}
