// Package serialization encodes values JSON cannot represent losslessly
// (timestamps, decimals, big integers, binary data) into plain JSON plus a
// side table of type annotations, and restores them from that table.
//
// The side table follows the superjson "values" layout: keys are
// dot-separated paths into the document and values are annotations such as
// ["Date"], ["bigint"] or [["custom","Decimal"]].
package serialization

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Annotation names
const (
	TypeDate    = "Date"
	TypeBigInt  = "bigint"
	TypeDecimal = "Decimal"
	TypeBytes   = "Bytes"

	custom = "custom"
)

// DateLayout is the text form of encoded timestamps
const DateLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrBadAnnotation is returned for annotations that cannot be applied
var ErrBadAnnotation = errors.New("invalid serialization annotation")

// Meta is the annotation table of an encoded document
type Meta struct {
	Values map[string]any `json:"values,omitempty"`
}

// Empty reports whether the table holds no annotation
func (m *Meta) Empty() bool {
	return m == nil || len(m.Values) == 0
}

// Encoder converts values and records their annotations. The zero value is
// ready to use.
type Encoder struct {
	values map[string]any
}

// Encode returns the JSON form of v found at path, recording an annotation
// for every converted leaf. Maps and slices are copied, never modified.
func (e *Encoder) Encode(path []string, v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		e.annotate(path, []any{TypeDate})
		return x.UTC().Format(DateLayout)
	case *time.Time:
		if x == nil {
			return nil
		}
		return e.Encode(path, *x)
	case decimal.Decimal:
		e.annotate(path, []any{[]any{custom, TypeDecimal}})
		return x.String()
	case *big.Int:
		if x == nil {
			return nil
		}
		e.annotate(path, []any{TypeBigInt})
		return x.String()
	case []byte:
		e.annotate(path, []any{[]any{custom, TypeBytes}})
		return base64.StdEncoding.EncodeToString(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = e.Encode(appendPath(path, k), item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = e.Encode(appendPath(path, strconv.Itoa(i)), item)
		}
		return out
	default:
		return v
	}
}

// Meta returns the recorded annotations, or nil when none was recorded
func (e *Encoder) Meta() *Meta {
	if len(e.values) == 0 {
		return nil
	}
	values := make(map[string]any, len(e.values))
	for k, v := range e.values {
		values[k] = v
	}
	return &Meta{Values: values}
}

func (e *Encoder) annotate(path []string, annotation any) {
	if e.values == nil {
		e.values = make(map[string]any)
	}
	e.values[JoinPath(path)] = annotation
}

func appendPath(path []string, seg string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, seg)
}

// Serialize encodes v from the root and returns its JSON form and the
// annotation table (nil when v needed none)
func Serialize(v any) (any, *Meta) {
	var e Encoder
	out := e.Encode(nil, v)
	return out, e.Meta()
}

// Deserialize restores the annotated leaves of v in place. v is a tree of
// map[string]any and []any as produced by encoding/json. Paths that do not
// resolve are ignored.
func Deserialize(v any, meta *Meta) (any, error) {
	if meta.Empty() {
		return v, nil
	}

	paths := make([]string, 0, len(meta.Values))
	for p := range meta.Values {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		kind, err := parseAnnotation(meta.Values[p])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		segs := SplitPath(p)
		if len(segs) == 0 {
			v, err = restore(kind, v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", p, err)
			}
			continue
		}
		if err := replaceAt(v, segs, kind); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return v, nil
}

// DecodeMeta reads an annotation table from its JSON form
func DecodeMeta(raw json.RawMessage) (*Meta, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var m Meta
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadAnnotation, err)
	}
	return &m, nil
}

func replaceAt(v any, segs []string, kind string) error {
	parent := v
	for _, seg := range segs[:len(segs)-1] {
		next, ok := child(parent, seg)
		if !ok {
			return nil
		}
		parent = next
	}

	last := segs[len(segs)-1]
	switch p := parent.(type) {
	case map[string]any:
		cur, ok := p[last]
		if !ok {
			return nil
		}
		out, err := restore(kind, cur)
		if err != nil {
			return err
		}
		p[last] = out
	case []any:
		i, err := strconv.Atoi(last)
		if err != nil || i < 0 || i >= len(p) {
			return nil
		}
		out, err := restore(kind, p[i])
		if err != nil {
			return err
		}
		p[i] = out
	}
	return nil
}

func child(v any, seg string) (any, bool) {
	switch p := v.(type) {
	case map[string]any:
		next, ok := p[seg]
		return next, ok
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(p) {
			return nil, false
		}
		return p[i], true
	}
	return nil, false
}

func restore(kind string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		if n, isNum := v.(json.Number); isNum {
			s = n.String()
		} else {
			return nil, fmt.Errorf("%w: %s value must be a string", ErrBadAnnotation, kind)
		}
	}

	switch kind {
	case TypeDate:
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("%w: bad date %q", ErrBadAnnotation, s)
		}
		return ts.UTC(), nil
	case TypeBigInt:
		if _, ok := new(big.Int).SetString(s, 10); !ok {
			return nil, fmt.Errorf("%w: bad bigint %q", ErrBadAnnotation, s)
		}
		return json.Number(s), nil
	case TypeDecimal:
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: bad decimal %q", ErrBadAnnotation, s)
		}
		return d, nil
	case TypeBytes:
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: bad base64 data", ErrBadAnnotation)
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: unsupported type %q", ErrBadAnnotation, kind)
}

// parseAnnotation accepts "Date", ["Date"], ["custom","Decimal"] and
// [["custom","Decimal"]]
func parseAnnotation(a any) (string, error) {
	switch x := a.(type) {
	case string:
		return x, nil
	case []any:
		if len(x) == 2 {
			if tag, ok := x[0].(string); ok && tag == custom {
				if name, ok := x[1].(string); ok {
					return name, nil
				}
			}
		}
		if len(x) >= 1 {
			return parseAnnotation(x[0])
		}
	}
	return "", fmt.Errorf("%w: %v", ErrBadAnnotation, a)
}

// JoinPath joins path segments, escaping dots and backslashes
func JoinPath(segs []string) string {
	escaped := make([]string, len(segs))
	for i, s := range segs {
		s = strings.ReplaceAll(s, `\`, `\\`)
		escaped[i] = strings.ReplaceAll(s, ".", `\.`)
	}
	return strings.Join(escaped, ".")
}

// SplitPath reverses JoinPath
func SplitPath(p string) []string {
	if p == "" {
		return nil
	}
	var (
		segs []string
		cur  strings.Builder
	)
	for i := 0; i < len(p); i++ {
		switch c := p[i]; {
		case c == '\\' && i+1 < len(p):
			i++
			cur.WriteByte(p[i])
		case c == '.':
			segs = append(segs, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(segs, cur.String())
}
