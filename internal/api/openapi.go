package api

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"sigs.k8s.io/yaml"

	"github.com/makemelearn/api/internal/api/middleware"
)

//go:embed openapi.yaml
var openAPIYAML []byte

// openAPIDocument converts the embedded YAML description to JSON. The servers list is
// replaced by apiURL when set, and info.version always follows the served API version.
func openAPIDocument(apiURL string) ([]byte, error) {
	raw, err := yaml.YAMLToJSON(openAPIYAML)
	if err != nil {
		return nil, fmt.Errorf("convert openapi document: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode openapi document: %w", err)
	}
	if info, ok := doc["info"].(map[string]any); ok {
		info["version"] = middleware.APIVersion
	}
	if apiURL != "" {
		doc["servers"] = []map[string]string{{"url": apiURL}}
	}
	return json.Marshal(doc)
}

// OpenAPIHandler serves the API description as JSON, built once on first request.
func OpenAPIHandler(apiURL string) http.HandlerFunc {
	build := sync.OnceValues(func() ([]byte, error) {
		return openAPIDocument(apiURL)
	})

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		body, err := build()
		if err != nil {
			middleware.LoggerFromContext(r.Context()).Error().Err(err).Msg("openapi document unavailable")
			http.Error(w, "openapi unavailable", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(body)
		}
	}
}
