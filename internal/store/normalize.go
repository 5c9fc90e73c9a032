package store

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// timeLayouts are the accepted input forms for timestamp fields, tried in
// order. Naive forms (no zone) are interpreted as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// normalizeDocument rewrites every timestamp-like field in the serialized
// document into canonical UTC ISO 8601.
func normalizeDocument(data []byte) ([]byte, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	doc = normalizeTimestamps(doc)
	return json.MarshalIndent(doc, "", "    ")
}

// normalizeTimestamps walks the decoded document, canonicalizing values
// under keys ending in "_at", "_time", or "timestamp".
func normalizeTimestamps(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if isTimestampKey(k) {
				out[k] = canonicalTime(val)
			} else {
				out[k] = normalizeTimestamps(val)
			}
		}
		return out
	case []any:
		for i, item := range t {
			t[i] = normalizeTimestamps(item)
		}
		return t
	default:
		return v
	}
}

func isTimestampKey(k string) bool {
	return strings.HasSuffix(k, "_at") || strings.HasSuffix(k, "_time") || strings.HasSuffix(k, "timestamp")
}

// canonicalTime converts strings in any accepted layout and numeric unix
// epochs into RFC 3339 UTC. Unparseable values pass through untouched.
func canonicalTime(v any) any {
	switch t := v.(type) {
	case string:
		if t == "" {
			return t
		}
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC().Format(time.RFC3339Nano)
			}
		}
		return t
	case float64:
		sec, frac := math.Modf(t)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}
