package fetcher

import (
	"encoding/json"
	"strings"
)

// Fingerprint derives the cache and de-duplication key of a request from its
// method, path, sorted query and JSON body.
func Fingerprint(r Request) string {
	var sb strings.Builder
	sb.WriteString(r.NormalizedMethod())
	sb.WriteByte(' ')
	sb.WriteString(r.Path)
	if len(r.Query) > 0 {
		sb.WriteByte('?')
		sb.WriteString(r.Query.Encode())
	}
	if r.Body != nil {
		// Maps marshal with sorted keys, so equal bodies give equal keys.
		if b, err := json.Marshal(r.Body); err == nil {
			sb.WriteByte(' ')
			sb.Write(b)
		}
	}
	return sb.String()
}
