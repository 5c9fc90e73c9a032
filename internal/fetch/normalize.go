package fetch

import (
	"net/url"
	"strings"
)

// trackingParams are stripped before a URL is used as a cache, coalescing,
// or circuit-breaker key, so the same page reached through different
// campaign links dedupes to one fetch.
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"fbclid":       true,
	"gclid":        true,
}

// NormalizeURL returns the canonical form of a URL: tracking parameters
// dropped, the remaining query re-encoded in sorted key order, scheme and
// host lowercased. Path and fragment case is preserved. Unparseable input
// is returned unchanged.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	q := u.Query()
	for k := range q {
		if trackingParams[k] {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	return u.String()
}
