// Package validation checks the URLs the service is configured with: the public site and
// API roots embedded in emails, and the browser origins allowed by CORS.
package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// URLError reports why a configured URL was rejected.
type URLError struct {
	Field   string
	Message string
	URL     string
}

func (e URLError) Error() string {
	return fmt.Sprintf("%s: %s (url: %s)", e.Field, e.Message, e.URL)
}

// URL requires an absolute http(s) URL with a host. An empty value is accepted; callers
// decide whether the field is mandatory.
func URL(raw, field string, requireHTTPS bool) error {
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return URLError{Field: field, Message: "invalid URL format", URL: raw}
	}
	scheme := strings.ToLower(u.Scheme)
	switch {
	case scheme == "":
		return URLError{Field: field, Message: "URL must include a scheme (http:// or https://)", URL: raw}
	case scheme != "http" && scheme != "https":
		return URLError{Field: field, Message: "URL scheme must be http or https", URL: raw}
	case u.Host == "":
		return URLError{Field: field, Message: "URL must include a host", URL: raw}
	case requireHTTPS && scheme != "https":
		return URLError{Field: field, Message: "URL must use HTTPS in production", URL: raw}
	}
	return nil
}

// Origin checks a CORS origin: scheme and host (and optional port) only, since browsers
// send Origin without path, query or fragment.
func Origin(raw, field string, requireHTTPS bool) error {
	if raw == "*" {
		return URLError{Field: field, Message: "use CORS_ALLOW_ALL_ORIGINS instead of a wildcard origin", URL: raw}
	}
	if err := URL(raw, field, requireHTTPS); err != nil || raw == "" {
		return err
	}

	u, _ := url.Parse(raw)
	switch {
	case u.Path != "" && u.Path != "/":
		return URLError{Field: field, Message: "origin must not contain a path", URL: raw}
	case u.RawQuery != "":
		return URLError{Field: field, Message: "origin must not contain query parameters", URL: raw}
	case u.Fragment != "":
		return URLError{Field: field, Message: "origin must not contain a fragment", URL: raw}
	case u.User != nil:
		return URLError{Field: field, Message: "origin must not contain credentials", URL: raw}
	}
	return nil
}
