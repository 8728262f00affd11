package api

import (
	"encoding/json"
	"net/http"
	"runtime"

	"github.com/makemelearn/api/internal/api/middleware"
)

// BuildInfo is set via ldflags during build (see Dockerfile).
type BuildInfo struct {
	Version   string
	GitCommit string
	BuildDate string
}

func (b BuildInfo) withDefaults() BuildInfo {
	if b.Version == "" {
		b.Version = "dev"
	}
	if b.GitCommit == "" {
		b.GitCommit = "unknown"
	}
	if b.BuildDate == "" {
		b.BuildDate = "unknown"
	}
	return b
}

// versionResponse represents the JSON response for the /version endpoint
type versionResponse struct {
	Version    string `json:"version"`
	APIVersion string `json:"api_version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	GoVersion  string `json:"go_version"`
}

// VersionHandler returns build metadata: binary version, API version, git commit,
// build date and Go version.
func VersionHandler(build BuildInfo) http.Handler {
	build = build.withDefaults()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		writeJSON(w, versionResponse{
			Version:    build.Version,
			APIVersion: middleware.APIVersion,
			GitCommit:  build.GitCommit,
			BuildDate:  build.BuildDate,
			GoVersion:  runtime.Version(),
		})
	})
}

type infoResponse struct {
	Name          string            `json:"name"`
	Version       string            `json:"version"`
	Description   string            `json:"description"`
	Endpoints     map[string]string `json:"endpoints"`
	Documentation string            `json:"documentation"`
	Support       string            `json:"support"`
}

// InfoHandler describes the API for humans browsing to /info.
func InfoHandler(supportEmail string) http.Handler {
	info := infoResponse{
		Name:        "MakeMeLearn API",
		Version:     middleware.APIVersion,
		Description: "API pour la gestion des inscriptions anticipées",
		Endpoints: map[string]string{
			"health":        "/health",
			"registrations": "/registrations",
			"contact":       "/contact",
			"stats":         "/stats",
		},
		Documentation: "/openapi.json",
		Support:       supportEmail,
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, info)
	})
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(payload)
}
