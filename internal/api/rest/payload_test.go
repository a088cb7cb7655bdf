package rest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDocument(t *testing.T) {
	p, err := decodeDocument([]byte(`{"data":{"type":"post","id":"7","attributes":{"title":"x","viewCount":3}}}`))
	require.Nil(t, err)
	assert.Equal(t, "post", p.Type)
	assert.Equal(t, "7", p.ID)
	assert.Equal(t, json.Number("3"), p.Attributes["viewCount"])
}

func TestDecodeDocument_Serialization(t *testing.T) {
	p, err := decodeDocument([]byte(`{
		"data":{"type":"post","attributes":{"price":"1.25","createdAt":"2024-01-02T03:04:05.000Z","title":"x"}},
		"meta":{"serialization":{"values":{
			"data.attributes.price":[["custom","Decimal"]],
			"data.attributes.createdAt":["Date"]}}}}`))
	require.Nil(t, err)

	assert.True(t, decimal.RequireFromString("1.25").Equal(p.Attributes["price"].(decimal.Decimal)))
	assert.Equal(t, fixedNow, p.Attributes["createdAt"].(time.Time).UTC())
	assert.Equal(t, "x", p.Attributes["title"])

	_, err = decodeDocument([]byte(`{"data":{"type":"post","attributes":{"price":"abc"}},
		"meta":{"serialization":{"values":{"data.attributes.price":[["custom","Decimal"]]}}}}`))
	require.NotNil(t, err)
	assert.Equal(t, ErrInvalidPayload, err.code)
}

func TestDecodeDocument_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ``},
		{"not json", `nope`},
		{"trailing data", `{"data":{"type":"post"}} {}`},
		{"missing data", `{"meta":{}}`},
		{"missing type", `{"data":{"id":"1"}}`},
		{"unknown resource member", `{"data":{"type":"post","extra":true}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeDocument([]byte(tt.body))
			require.NotNil(t, err)
			assert.Equal(t, ErrInvalidPayload, err.code)
		})
	}
}

func TestDecodeLinkage(t *testing.T) {
	l, err := decodeLinkage(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.True(t, l.null)

	l, err = decodeLinkage(json.RawMessage(`{"type":"user","id":1}`))
	require.NoError(t, err)
	assert.False(t, l.many)
	require.Len(t, l.ids, 1)
	assert.Equal(t, "1", idString(l.ids[0].ID))

	l, err = decodeLinkage(json.RawMessage(` [{"type":"tag","id":"go"},{"type":"tag","id":"db"}] `))
	require.NoError(t, err)
	assert.True(t, l.many)
	assert.Len(t, l.ids, 2)

	l, err = decodeLinkage(json.RawMessage(`[]`))
	require.NoError(t, err)
	assert.True(t, l.many)
	assert.Empty(t, l.ids)

	for _, raw := range []string{``, `"go"`, `[{"type":"tag"}]`, `{"id":"1"}`, `{"type":"tag","id":"go","x":1}`} {
		_, err := decodeLinkage(json.RawMessage(raw))
		assert.Error(t, err, raw)
	}
}

func TestTargetIDs(t *testing.T) {
	post := mustLookup(t, blogRegistry(t), "post")
	author := post.Relationships["author"]

	ids, err := targetIDs(author, []identifierPayload{{Type: "user", ID: json.Number("4")}})
	require.Nil(t, err)
	assert.Equal(t, []any{int64(4)}, ids)

	_, err = targetIDs(author, []identifierPayload{{Type: "tag", ID: "go"}})
	require.NotNil(t, err)
	assert.Equal(t, ErrInvalidRelationData, err.code)

	_, err = targetIDs(author, []identifierPayload{{Type: "user", ID: "abc"}})
	require.NotNil(t, err)
	assert.Equal(t, ErrInvalidValue, err.code)
}
