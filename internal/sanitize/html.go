package sanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// StrictPolicy removes all HTML tags and attributes.
var StrictPolicy = bluemonday.StrictPolicy()

// Text strips all markup and returns trimmed plain text. Entities produced by the policy
// are decoded again so apostrophes and ampersands survive into emails and JSON. NUL
// characters are dropped since PostgreSQL text and jsonb reject them.
// Use for: contact fields, metadata strings.
func Text(input string) string {
	return strings.TrimSpace(html.UnescapeString(StrictPolicy.Sanitize(stripNUL(input))))
}

func stripNUL(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

// Metadata returns a copy of m with every string value, at any depth, passed through Text.
// Keys are sanitized too; non-string scalars are kept as decoded.
func Metadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[Text(k)] = value(v)
	}
	return out
}

func value(v any) any {
	switch t := v.(type) {
	case string:
		return Text(t)
	case map[string]any:
		return Metadata(t)
	case []any:
		items := make([]any, len(t))
		for i, item := range t {
			items[i] = value(item)
		}
		return items
	default:
		return v
	}
}
