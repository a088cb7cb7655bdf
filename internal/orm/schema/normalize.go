package schema

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInvalidValue is returned when a value cannot be converted to a field type
var ErrInvalidValue = errors.New("invalid value")

// InvalidValueError describes a value that does not fit its primitive type
type InvalidValueError struct {
	Type  PrimitiveType
	Value any
}

// Error implements the error interface
func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value for type %s: %v", e.Type, e.Value)
}

// Unwrap makes errors.Is(err, ErrInvalidValue) hold
func (e *InvalidValueError) Unwrap() error {
	return ErrInvalidValue
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// NormalizeField converts v into the canonical Go value for the field,
// honoring list fields and enum values. nil is passed through.
func NormalizeField(f *Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	if f.Array {
		items, ok := asSlice(v)
		if !ok {
			return nil, &InvalidValueError{Type: f.Type, Value: v}
		}
		out := make([]any, 0, len(items))
		for _, item := range items {
			n, err := normalizeScalar(f, item)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	}

	return normalizeScalar(f, v)
}

func normalizeScalar(f *Field, v any) (any, error) {
	n, err := Normalize(f.Type, v)
	if err != nil {
		return nil, err
	}
	if f.Type == TypeEnum && len(f.Values) > 0 {
		s := n.(string)
		for _, allowed := range f.Values {
			if s == allowed {
				return s, nil
			}
		}
		return nil, &InvalidValueError{Type: f.Type, Value: v}
	}
	return n, nil
}

// Normalize converts a JSON, query-string or driver value into the canonical
// Go representation of the primitive type:
//
//	string, enum, uuid -> string
//	int, bigint        -> int64
//	float              -> float64
//	decimal            -> decimal.Decimal
//	bool               -> bool
//	timestamp          -> time.Time (UTC)
//	bytes              -> []byte
//	json               -> any
func Normalize(t PrimitiveType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	invalid := &InvalidValueError{Type: t, Value: v}

	switch t {
	case TypeString, TypeEnum:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		}
		return nil, invalid

	case TypeUUID:
		switch x := v.(type) {
		case string:
			id, err := uuid.Parse(x)
			if err != nil {
				return nil, invalid
			}
			return id.String(), nil
		case []byte:
			if len(x) == 16 {
				id, err := uuid.FromBytes(x)
				if err != nil {
					return nil, invalid
				}
				return id.String(), nil
			}
			id, err := uuid.ParseBytes(x)
			if err != nil {
				return nil, invalid
			}
			return id.String(), nil
		case [16]byte:
			return uuid.UUID(x).String(), nil
		case uuid.UUID:
			return x.String(), nil
		}
		return nil, invalid

	case TypeInt, TypeBigInt:
		switch x := v.(type) {
		case int:
			return int64(x), nil
		case int8:
			return int64(x), nil
		case int16:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case int64:
			return x, nil
		case uint8:
			return int64(x), nil
		case uint16:
			return int64(x), nil
		case uint32:
			return int64(x), nil
		case uint64:
			if x > math.MaxInt64 {
				return nil, invalid
			}
			return int64(x), nil
		case float64:
			if x != math.Trunc(x) || math.IsInf(x, 0) {
				return nil, invalid
			}
			return int64(x), nil
		case json.Number:
			n, err := strconv.ParseInt(x.String(), 10, 64)
			if err != nil {
				return nil, invalid
			}
			return n, nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return nil, invalid
			}
			return n, nil
		case []byte:
			n, err := strconv.ParseInt(string(x), 10, 64)
			if err != nil {
				return nil, invalid
			}
			return n, nil
		}
		return nil, invalid

	case TypeFloat:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case json.Number:
			f, err := x.Float64()
			if err != nil {
				return nil, invalid
			}
			return f, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, invalid
			}
			return f, nil
		case []byte:
			f, err := strconv.ParseFloat(string(x), 64)
			if err != nil {
				return nil, invalid
			}
			return f, nil
		}
		return nil, invalid

	case TypeDecimal:
		switch x := v.(type) {
		case decimal.Decimal:
			return x, nil
		case float64:
			return decimal.NewFromFloat(x), nil
		case int:
			return decimal.NewFromInt(int64(x)), nil
		case int64:
			return decimal.NewFromInt(x), nil
		case json.Number:
			d, err := decimal.NewFromString(x.String())
			if err != nil {
				return nil, invalid
			}
			return d, nil
		case string:
			d, err := decimal.NewFromString(strings.TrimSpace(x))
			if err != nil {
				return nil, invalid
			}
			return d, nil
		case []byte:
			d, err := decimal.NewFromString(string(x))
			if err != nil {
				return nil, invalid
			}
			return d, nil
		}
		return nil, invalid

	case TypeBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err != nil {
				return nil, invalid
			}
			return b, nil
		case []byte:
			b, err := strconv.ParseBool(string(x))
			if err != nil {
				return nil, invalid
			}
			return b, nil
		}
		return nil, invalid

	case TypeTimestamp:
		switch x := v.(type) {
		case time.Time:
			return x.UTC(), nil
		case string:
			if ts, ok := parseTime(x); ok {
				return ts, nil
			}
		case []byte:
			if ts, ok := parseTime(string(x)); ok {
				return ts, nil
			}
		}
		return nil, invalid

	case TypeBytes:
		switch x := v.(type) {
		case []byte:
			out := make([]byte, len(x))
			copy(out, x)
			return out, nil
		case string:
			b, err := base64.StdEncoding.DecodeString(x)
			if err != nil {
				return nil, invalid
			}
			return b, nil
		}
		return nil, invalid

	case TypeJSON:
		if raw, ok := v.(json.RawMessage); ok {
			var out any
			if err := json.Unmarshal(raw, &out); err != nil {
				return nil, invalid
			}
			return out, nil
		}
		return v, nil
	}

	return nil, invalid
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func asSlice(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
