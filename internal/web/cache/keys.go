package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Key derives the cache key of a read request in generation gen. Query
// parameters are sorted by name; repeated values keep their order, since
// the order of sort values is significant. Names and values are escaped so
// that a value holding '&' or '=' cannot pass for another parameter.
func Key(gen int64, r *http.Request) string {
	q := r.URL.Query()
	names := make([]string, 0, len(q))
	for name := range q {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(url.QueryEscape(r.URL.Path))
	for _, name := range names {
		escaped := url.QueryEscape(name)
		for _, v := range q[name] {
			b.WriteByte('&')
			b.WriteString(escaped)
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}

	hash := sha256.Sum256([]byte(b.String()))
	return "resp:" + strconv.FormatInt(gen, 10) + ":" + hex.EncodeToString(hash[:16])
}
