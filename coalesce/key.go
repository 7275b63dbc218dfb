package coalesce

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// Key derives the deduplication key for a request.
//
// Key = SHA256(method | endpoint | sorted query | canonical body). The
// body is canonicalized through JSON encoding (map keys sorted), so two
// logically identical payloads built in different field orders coalesce.
// A nil body contributes nothing to the key.
func Key(endpoint, method string, body any, query url.Values) string {
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{'|'})
	h.Write([]byte(endpoint))
	h.Write([]byte{'|'})
	h.Write([]byte(normalizeQuery(query)))

	if body != nil {
		if b, err := json.Marshal(body); err == nil {
			h.Write([]byte{'|'})
			h.Write(b)
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}

// normalizeQuery renders query parameters in a stable order, with
// multi-valued parameters sorted as well.
func normalizeQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}

	parts := make([]string, 0, len(query))
	for key, values := range query {
		sorted := append([]string(nil), values...)
		sort.Strings(sorted)
		for _, v := range sorted {
			parts = append(parts, key+"="+v)
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, "&")
}
