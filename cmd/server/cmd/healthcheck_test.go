package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPerformHealthCheck(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		statusCode     int
		responseBody   any
		expectHealthy  bool
		expectError    bool
		expectedStatus string
	}{
		{
			name:           "healthy server",
			path:           "/health",
			statusCode:     http.StatusOK,
			responseBody:   map[string]any{"status": "healthy"},
			expectHealthy:  true,
			expectedStatus: "healthy",
		},
		{
			name:       "degraded server on detailed endpoint",
			path:       "/health/detailed",
			statusCode: http.StatusOK,
			responseBody: map[string]any{
				"status": "degraded",
				"checks": map[string]any{"job_queue": map[string]string{"status": "warn"}},
			},
			expectHealthy:  true,
			expectedStatus: "degraded",
		},
		{
			name:           "degraded server on basic endpoint",
			path:           "/health",
			statusCode:     http.StatusOK,
			responseBody:   map[string]any{"status": "degraded"},
			expectHealthy:  false,
			expectedStatus: "degraded",
		},
		{
			name:           "unhealthy server (503)",
			path:           "/health",
			statusCode:     http.StatusServiceUnavailable,
			responseBody:   map[string]any{"status": "unhealthy"},
			expectHealthy:  false,
			expectedStatus: "unhealthy",
		},
		{
			name:          "invalid response",
			path:          "/health",
			statusCode:    http.StatusOK,
			responseBody:  "not json",
			expectHealthy: false,
			expectError:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				if str, ok := tt.responseBody.(string); ok {
					fmt.Fprint(w, str)
				} else {
					_ = json.NewEncoder(w).Encode(tt.responseBody)
				}
			}))
			defer server.Close()

			result := performHealthCheck(context.Background(), server.Client(), server.URL+tt.path)

			if result.IsHealthy != tt.expectHealthy {
				t.Errorf("expected IsHealthy=%v, got %v", tt.expectHealthy, result.IsHealthy)
			}
			if tt.expectError && result.Error == "" {
				t.Error("expected error, got none")
			}
			if !tt.expectError && result.Status != tt.expectedStatus {
				t.Errorf("expected status=%s, got %s", tt.expectedStatus, result.Status)
			}
			if result.LatencyMs < 0 {
				t.Error("expected non-negative latency")
			}
		})
	}
}

func TestPerformHealthCheckTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result := performHealthCheck(ctx, server.Client(), server.URL+"/health")
	if result.Error == "" {
		t.Error("expected timeout error, got none")
	}
	if result.IsHealthy {
		t.Error("expected unhealthy result on timeout")
	}
}

func TestPerformHealthCheckUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	result := performHealthCheck(context.Background(), http.DefaultClient, url+"/health")
	if result.Error == "" || result.IsHealthy {
		t.Errorf("expected connection error, got %+v", result)
	}
}

func TestHealthcheckURL(t *testing.T) {
	tests := []struct {
		explicit string
		detailed bool
		port     string
		want     string
	}{
		{"", false, "", "http://localhost:3000/health"},
		{"", false, "8080", "http://localhost:8080/health"},
		{"", true, "", "http://localhost:3000/health/detailed"},
		{"http://api:3000/health", true, "8080", "http://api:3000/health"},
	}

	for _, tt := range tests {
		if got := healthcheckURL(tt.explicit, tt.detailed, tt.port); got != tt.want {
			t.Errorf("healthcheckURL(%q, %v, %q) = %q, want %q", tt.explicit, tt.detailed, tt.port, got, tt.want)
		}
	}
}

func TestHealthcheckCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}))
	defer server.Close()

	cmd := newHealthcheckCommand()
	cmd.SetArgs([]string{"--url", server.URL + "/health", "--timeout", "2s"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("healthcheck failed: %v", err)
	}
}

func TestHealthcheckCommandUnhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy"})
	}))
	defer server.Close()

	cmd := newHealthcheckCommand()
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	cmd.SetArgs([]string{"--url", server.URL + "/health"})
	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Fatal("expected error for unhealthy server")
	}
}
