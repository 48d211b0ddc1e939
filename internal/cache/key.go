package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// DefaultKey builds the normalized request signature:
// method + origin + path + sorted query string + "#" + vary header values.
// Requests differing only in query-parameter order or header order hash to
// the same key. The signature is SHA-256 hashed to keep keys fixed-size.
func DefaultKey(r *http.Request, varyHeaders []string) string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte('|')
	b.WriteString(r.Host)
	b.WriteString(r.URL.Path)
	b.WriteByte('?')
	b.WriteString(sortedQuery(r.URL.Query()))
	b.WriteByte('#')

	vary := make([]string, len(varyHeaders))
	copy(vary, varyHeaders)
	sort.Strings(vary)
	for i, h := range vary {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(h)
		b.WriteByte('=')
		b.WriteString(strings.Join(r.Header.Values(h), ","))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// sortedQuery re-encodes query values with sorted keys and sorted values
// per key, so parameter order never changes the signature.
func sortedQuery(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vals := make([]string, len(q[k]))
		copy(vals, q[k])
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}
