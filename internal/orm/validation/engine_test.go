package validation

import (
	"context"
	"errors"
	"testing"

	"github.com/conduit-lang/restful/internal/orm/crud"
	"github.com/conduit-lang/restful/internal/orm/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rulesYAML = `
models:
  - name: Article
    fields:
      - {name: id, type: int, id: true, default: autoincrement}
      - {name: title, type: string, validate: "min=3,max=20"}
      - {name: slug, type: string, optional: true, validate: slug}
      - {name: email, type: string, optional: true, validate: email}
      - {name: rating, type: decimal, optional: true, validate: "gte=0,lte=5"}
      - {name: tags, type: string, array: true, validate: "min=2"}
      - {name: body, type: string, optional: true}
`

func article(t *testing.T) *schema.Model {
	t.Helper()
	meta, err := schema.Parse([]byte(rulesYAML))
	require.NoError(t, err)
	m, ok := meta.Model("Article")
	require.True(t, ok)
	return m
}

func TestEngine_Valid(t *testing.T) {
	err := NewEngine().Validate(context.Background(), article(t), crud.OperationCreate, map[string]any{
		"title":  "Hello",
		"slug":   "hello-world",
		"email":  "a@b.io",
		"rating": "4.5",
		"tags":   []any{"go", "api"},
		"body":   "x",
	})
	assert.NoError(t, err)
}

func TestEngine_Invalid(t *testing.T) {
	err := NewEngine().Validate(context.Background(), article(t), crud.OperationUpdate, map[string]any{
		"title":  "Hi",
		"slug":   "Not A Slug",
		"email":  "nope",
		"rating": 7,
		"tags":   []any{"x"},
	})
	require.Error(t, err)

	var errs *ValidationErrors
	require.True(t, errors.As(err, &errs))
	assert.Equal(t, []string{"failed on the 'min=3' rule"}, errs.Fields["title"])
	assert.Equal(t, []string{"failed on the 'slug' rule"}, errs.Fields["slug"])
	assert.Equal(t, []string{"failed on the 'email' rule"}, errs.Fields["email"])
	assert.Equal(t, []string{"failed on the 'lte=5' rule"}, errs.Fields["rating"])
	assert.Equal(t, []string{"failed on the 'min=2' rule"}, errs.Fields["tags"])
}

func TestEngine_SkipsNullAndAbsent(t *testing.T) {
	err := NewEngine().Validate(context.Background(), article(t), crud.OperationUpdate, map[string]any{
		"email": nil,
	})
	assert.NoError(t, err)
}

func TestEngine_InvalidType(t *testing.T) {
	err := NewEngine().Validate(context.Background(), article(t), crud.OperationCreate, map[string]any{
		"rating": "lots",
	})
	var errs *ValidationErrors
	require.True(t, errors.As(err, &errs))
	assert.Len(t, errs.Fields["rating"], 1)
}
