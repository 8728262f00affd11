package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type healthcheckOptions struct {
	url      string
	timeout  time.Duration
	detailed bool
}

func newHealthcheckCommand() *cobra.Command {
	var flags healthcheckOptions

	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check if the server is healthy",
		Long: `Performs a health check by calling the /health endpoint.

This command is used by the container HEALTHCHECK. It exits with code 0 when
the server reports "healthy" and non-zero otherwise. With --detailed it calls
/health/detailed and accepts "degraded" as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := healthcheckURL(flags.url, flags.detailed, os.Getenv("SERVER_PORT"))
			ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
			defer cancel()

			result := performHealthCheck(ctx, http.DefaultClient, target)
			if !result.IsHealthy {
				if result.Error != "" {
					return fmt.Errorf("health check failed: %s", result.Error)
				}
				return fmt.Errorf("unhealthy: status=%s", result.Status)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%dms)\n", result.Status, result.LatencyMs)
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.url, "url", "", "health check URL (default: http://localhost:{SERVER_PORT}/health)")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 5*time.Second, "request timeout")
	cmd.Flags().BoolVar(&flags.detailed, "detailed", false, "query /health/detailed instead of /health")
	return cmd
}

// HealthCheckResult is what a single probe observed.
type HealthCheckResult struct {
	IsHealthy bool
	Status    string
	LatencyMs int64
	Error     string
}

type healthResponse struct {
	Status string                     `json:"status"`
	Checks map[string]json.RawMessage `json:"checks,omitempty"`
}

func healthcheckURL(explicit string, detailed bool, port string) string {
	if explicit != "" {
		return explicit
	}
	if port == "" {
		port = "3000"
	}
	path := "/health"
	if detailed {
		path = "/health/detailed"
	}
	return fmt.Sprintf("http://localhost:%s%s", port, path)
}

func performHealthCheck(ctx context.Context, client *http.Client, url string) HealthCheckResult {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return HealthCheckResult{Error: err.Error()}
	}

	resp, err := client.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return HealthCheckResult{LatencyMs: latency, Error: err.Error()}
	}
	defer resp.Body.Close()

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return HealthCheckResult{LatencyMs: latency, Error: fmt.Sprintf("invalid response (status %d): %v", resp.StatusCode, err)}
	}

	result := HealthCheckResult{Status: body.Status, LatencyMs: latency}
	if resp.StatusCode != http.StatusOK {
		return result
	}
	switch {
	case body.Status == "healthy":
		result.IsHealthy = true
	case body.Status == "degraded" && strings.HasSuffix(url, "/detailed"):
		result.IsHealthy = true
	}
	return result
}
