package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		typ   PrimitiveType
		input any
		want  any
	}{
		{"string", TypeString, "abc", "abc"},
		{"string from bytes", TypeString, []byte("abc"), "abc"},
		{"int from string", TypeInt, "42", int64(42)},
		{"int from json number", TypeInt, json.Number("7"), int64(7)},
		{"int from float", TypeInt, float64(3), int64(3)},
		{"bigint", TypeBigInt, "9007199254740993", int64(9007199254740993)},
		{"float from string", TypeFloat, "1.5", 1.5},
		{"float from int64", TypeFloat, int64(2), 2.0},
		{"bool from string", TypeBool, "true", true},
		{"bool from sqlite int", TypeBool, int64(0), false},
		{"timestamp rfc3339", TypeTimestamp, "2024-03-01T12:30:00Z", ts},
		{"timestamp with offset", TypeTimestamp, "2024-03-01T13:30:00+01:00", ts},
		{"timestamp from time", TypeTimestamp, ts.In(time.FixedZone("x", 3600)), ts},
		{"date only", TypeTimestamp, "2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"uuid canonical", TypeUUID, "6BA7B810-9DAD-11D1-80B4-00C04FD430C8", "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
		{"bytes from base64", TypeBytes, "aGVsbG8=", []byte("hello")},
		{"json passthrough", TypeJSON, map[string]any{"a": 1.0}, map[string]any{"a": 1.0}},
		{"nil", TypeInt, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.typ, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_Decimal(t *testing.T) {
	got, err := Normalize(TypeDecimal, "12.50")
	require.NoError(t, err)
	d, ok := got.(decimal.Decimal)
	require.True(t, ok)
	assert.True(t, d.Equal(decimal.RequireFromString("12.5")))
}

func TestNormalize_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		typ   PrimitiveType
		input any
	}{
		{"int from text", TypeInt, "abc"},
		{"int from fraction", TypeInt, 1.5},
		{"float from text", TypeFloat, "x1"},
		{"bool from text", TypeBool, "yes please"},
		{"decimal from text", TypeDecimal, "ten"},
		{"timestamp from text", TypeTimestamp, "yesterday"},
		{"uuid from text", TypeUUID, "not-a-uuid"},
		{"string from number", TypeString, 12},
		{"bytes from bad base64", TypeBytes, "***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.typ, tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidValue)

			var ive *InvalidValueError
			require.ErrorAs(t, err, &ive)
			assert.Equal(t, tt.typ, ive.Type)
		})
	}
}

func TestNormalizeField(t *testing.T) {
	list := &Field{Name: "labels", Type: TypeString, Array: true}
	got, err := NormalizeField(list, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, got)

	_, err = NormalizeField(list, "a")
	assert.ErrorIs(t, err, ErrInvalidValue)

	enum := &Field{Name: "role", Type: TypeEnum, Values: []string{"USER", "ADMIN"}}
	got, err = NormalizeField(enum, "ADMIN")
	require.NoError(t, err)
	assert.Equal(t, "ADMIN", got)

	_, err = NormalizeField(enum, "ROOT")
	assert.ErrorIs(t, err, ErrInvalidValue)

	got, err = NormalizeField(enum, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}
