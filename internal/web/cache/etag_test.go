package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateETag(t *testing.T) {
	a := GenerateETag([]byte("hello"))
	assert.Equal(t, a, GenerateETag([]byte("hello")))
	assert.NotEqual(t, a, GenerateETag([]byte("hello!")))
	assert.Len(t, a, 34)
	assert.Equal(t, byte('"'), a[0])
}

func TestMatchesETag(t *testing.T) {
	etag := `"abc"`
	tests := []struct {
		header string
		want   bool
	}{
		{"", false},
		{`"abc"`, true},
		{`W/"abc"`, true},
		{`"x", "abc"`, true},
		{`"x","y"`, false},
		{"*", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchesETag(tt.header, etag), tt.header)
	}
}
