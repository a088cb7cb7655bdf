package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperatorString(t *testing.T) {
	tests := map[Operator]string{
		OpEquals:     "equals",
		OpLte:        "lte",
		OpStartsWith: "startsWith",
		OpHasEvery:   "hasEvery",
		OpIsEmpty:    "isEmpty",
		Operator(99): "unknown",
	}
	for op, want := range tests {
		assert.Equal(t, want, op.String())
	}
}

func TestOperatorClasses(t *testing.T) {
	assert.True(t, OpContains.IsStringOp())
	assert.False(t, OpLt.IsStringOp())
	assert.True(t, OpHasSome.IsListOp())
	assert.False(t, OpEquals.IsListOp())
}

func TestAndOf(t *testing.T) {
	a := Eq("a", 1)
	b := Eq("b", 2)
	c := Eq("c", 3)

	assert.Nil(t, AndOf())
	assert.Nil(t, AndOf(nil, nil))
	assert.Equal(t, a, AndOf(nil, a))
	assert.Equal(t, And{a, b}, AndOf(a, nil, b))
	assert.Equal(t, And{a, b, c}, AndOf(And{a, b}, c))
}

func TestAndOf_DoesNotAlias(t *testing.T) {
	base := And{Eq("a", 1), Eq("b", 2)}
	combined := AndOf(base, Eq("c", 3)).(And)
	combined[0] = Eq("x", 0)

	assert.Equal(t, Eq("a", 1), base[0])
}

func TestOrOf(t *testing.T) {
	a := Eq("a", 1)
	assert.Equal(t, a, OrOf(a))
	assert.Equal(t, Or{a, Eq("b", 2)}, OrOf(a, Eq("b", 2)))
}

func TestFilterString(t *testing.T) {
	f := And{
		Cond{Field: "title", Op: OpContains, Value: "go", Insensitive: true},
		Relation{Name: "author", Quantifier: Is, Where: Eq("id", int64(1))},
		Not{Filter: Eq("published", false)},
	}
	assert.Equal(t, "(title icontains go) AND (author is (id equals 1)) AND (NOT (published equals false))", f.String())
	assert.Equal(t, "posts some (*)", Relation{Name: "posts"}.String())
}

func TestFindArgsWindow(t *testing.T) {
	tests := []struct {
		name       string
		args       FindArgs
		n          int
		start, end int
	}{
		{"unbounded", FindArgs{}, 5, 0, 5},
		{"take", FindArgs{Take: 3}, 5, 0, 3},
		{"skip and take", FindArgs{Skip: 3, Take: 3}, 5, 3, 5},
		{"skip past end", FindArgs{Skip: 10}, 5, 5, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := tt.args.Window(tt.n)
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.end, end)
		})
	}

	assert.False(t, FindArgs{}.Paginated())
	assert.True(t, FindArgs{Take: 1}.Paginated())
}

func TestOrderByString(t *testing.T) {
	assert.Equal(t, "author.name desc", OrderBy{Path: []string{"author", "name"}, Desc: true}.String())
	assert.Equal(t, "id asc", OrderBy{Path: []string{"id"}}.String())
}
