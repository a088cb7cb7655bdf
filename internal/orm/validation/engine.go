// Package validation checks write payloads against the validation rules
// declared on model fields, using go-playground/validator tags.
package validation

import (
	"context"
	"fmt"
	"regexp"

	"github.com/conduit-lang/restful/internal/orm/crud"
	"github.com/conduit-lang/restful/internal/orm/schema"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Engine validates attribute maps of a model
type Engine struct {
	validate *validator.Validate
}

// NewEngine creates an engine with the standard validator tags plus "slug"
func NewEngine() *Engine {
	v := validator.New()
	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugPattern.MatchString(fl.Field().String())
	})
	return &Engine{validate: v}
}

// Validate checks every attribute present in data. Attributes without a
// rule, and null values, are not checked here: nullability belongs to the
// store.
func (e *Engine) Validate(ctx context.Context, m *schema.Model, op crud.Operation, data map[string]any) error {
	errs := NewValidationErrors()

	for _, f := range m.ScalarFields() {
		raw, ok := data[f.Name]
		if !ok || raw == nil || f.Validate == "" {
			continue
		}

		v, err := schema.NormalizeField(f, raw)
		if err != nil {
			errs.Add(f.Name, err.Error())
			continue
		}

		tag := f.Validate
		if f.Array {
			tag = "dive," + tag
		}
		if err := e.validate.VarCtx(ctx, validationValue(v), tag); err != nil {
			var fieldErrs validator.ValidationErrors
			if !asValidationErrors(err, &fieldErrs) {
				return fmt.Errorf("validating %s.%s: %w", m.Name, f.Name, err)
			}
			for _, fe := range fieldErrs {
				errs.Add(f.Name, message(fe))
			}
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// validationValue converts values the validator cannot inspect
func validationValue(v any) any {
	switch x := v.(type) {
	case decimal.Decimal:
		return x.InexactFloat64()
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = validationValue(item)
		}
		return out
	}
	return v
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = fieldErrs
	}
	return ok
}

func message(fe validator.FieldError) string {
	if fe.Param() != "" {
		return fmt.Sprintf("failed on the '%s=%s' rule", fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("failed on the '%s' rule", fe.Tag())
}
