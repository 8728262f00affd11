package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/makemelearn/api/internal/api/middleware"
	"github.com/makemelearn/api/internal/domain/errs"
	"github.com/makemelearn/api/internal/metrics"
	"github.com/makemelearn/api/internal/storage/postgres"
)

const (
	serviceName = "makemelearn-api"

	codeMaintenanceError = "MAINTENANCE_ERROR"
	msgMaintenanceDone   = "Maintenance effectuée avec succès"
	msgMaintenanceError  = "Erreur lors de la maintenance"

	// memoryWarnBytes degrades /health/detailed when the heap grows past it.
	memoryWarnBytes = 512 << 20
	// warmupPeriod is how long a fresh process reports its uptime check as "warn".
	warmupPeriod = 30 * time.Second
)

// todayMetricNames are reported by /health/detailed.
var todayMetricNames = []string{"signup_success", "signup_attempts", "page_views"}

// HealthCheck is the body of /health/detailed.
type HealthCheck struct {
	Status       string                 `json:"status"`
	Service      string                 `json:"service"`
	Version      string                 `json:"version"`
	GitCommit    string                 `json:"git_commit"`
	Environment  string                 `json:"environment"`
	Slot         string                 `json:"slot,omitempty"`
	Checks       map[string]CheckResult `json:"checks"`
	TodayMetrics map[string]int64       `json:"todayMetrics,omitempty"`
	Timestamp    string                 `json:"timestamp"`
}

// CheckResult represents the result of a single health check
type CheckResult struct {
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	LatencyMs int64          `json:"latency_ms,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HealthDB is the database surface the probes need.
type HealthDB interface {
	Ping(ctx context.Context) error
	PoolStats() postgres.PoolStats
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type HealthStats interface {
	StatValues(ctx context.Context, date time.Time, names ...string) (map[string]int64, error)
	ServerVersion(ctx context.Context) (string, error)
}

type Maintainer interface {
	PerformMaintenance(ctx context.Context, unverifiedDays, statsDays int) (postgres.MaintenanceResult, error)
}

// HealthOptions carries the build and retention settings reported or used by HealthChecker.
type HealthOptions struct {
	Version                 string
	GitCommit               string
	Environment             string
	JobsEnabled             bool
	UnverifiedRetentionDays int
	StatsRetentionDays      int
	ShowDetails             bool
}

// HealthChecker serves the /health family of endpoints.
type HealthChecker struct {
	db         HealthDB
	stats      HealthStats
	maintainer Maintainer
	opts       HealthOptions
	now        func() time.Time
	uptime     func() time.Duration
}

func NewHealthChecker(db HealthDB, stats HealthStats, maintainer Maintainer, opts HealthOptions) *HealthChecker {
	return &HealthChecker{
		db:         db,
		stats:      stats,
		maintainer: maintainer,
		opts:       opts,
		now:        time.Now,
		uptime:     metrics.Uptime,
	}
}

type basicHealth struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
	Error     string `json:"error,omitempty"`
}

// Health is the load balancer probe: 200 while the database answers, 503 otherwise.
func (h *HealthChecker) Health(w http.ResponseWriter, r *http.Request) {
	select {
	case <-r.Context().Done():
		writeJSON(w, http.StatusServiceUnavailable, basicHealth{Status: "shutting_down", Timestamp: h.timestamp(), Service: serviceName})
		return
	default:
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		middleware.LoggerFromContext(r.Context()).Error().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, basicHealth{
			Status:    "unhealthy",
			Timestamp: h.timestamp(),
			Service:   serviceName,
			Error:     "Database connection failed",
		})
		return
	}
	writeJSON(w, http.StatusOK, basicHealth{Status: "healthy", Timestamp: h.timestamp(), Service: serviceName})
}

// Detailed runs every check. Any failing check answers 503; warnings degrade the status
// but keep 200.
func (h *HealthChecker) Detailed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]CheckResult{
		"database":   h.checkDatabase(ctx),
		"migrations": h.checkMigrations(ctx),
		"job_queue":  h.checkJobQueue(ctx),
		"memory":     checkMemory(),
		"uptime":     checkUptime(h.uptime()),
	}

	overallStatus := "healthy"
	statusCode := http.StatusOK
	for name, check := range checks {
		metrics.HealthCheckStatus.WithLabelValues(name).Set(statusValue(check.Status))
		switch check.Status {
		case "fail":
			overallStatus = "unhealthy"
			statusCode = http.StatusServiceUnavailable
		case "warn":
			if overallStatus == "healthy" {
				overallStatus = "degraded"
			}
		}
	}
	if statusCode != http.StatusOK {
		middleware.LoggerFromContext(r.Context()).Warn().Str("status", overallStatus).Msg("service health check failed")
	}

	today, err := h.stats.StatValues(ctx, h.now(), todayMetricNames...)
	if err != nil {
		middleware.LoggerFromContext(r.Context()).Warn().Err(err).Msg("today's metrics unavailable")
		today = nil
	}

	slot := os.Getenv("DEPLOYMENT_SLOT")
	if slot == "" {
		slot = os.Getenv("SLOT")
	}

	writeJSON(w, statusCode, HealthCheck{
		Status:       overallStatus,
		Service:      serviceName,
		Version:      h.opts.Version,
		GitCommit:    h.opts.GitCommit,
		Environment:  h.opts.Environment,
		Slot:         slot,
		Checks:       checks,
		TodayMetrics: today,
		Timestamp:    h.timestamp(),
	})
}

// checkDatabase verifies PostgreSQL connectivity and reports pool usage.
func (h *HealthChecker) checkDatabase(ctx context.Context) CheckResult {
	start := time.Now()

	// Per-check timeout so one slow check cannot starve the others
	dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	err := h.db.Ping(dbCtx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		message := "Database query failed"
		details := map[string]any{"error": err.Error()}
		switch {
		case errors.Is(dbCtx.Err(), context.DeadlineExceeded):
			message = "Database query timed out after 2 seconds"
			details["remediation"] = "Check PostgreSQL performance, network latency, or increase timeout"
		case errors.Is(err, postgres.ErrDatabaseUnavailable):
			message = "Database unreachable"
			details["remediation"] = "Verify PostgreSQL is running and DATABASE_URL host/port are correct"
		default:
			details["remediation"] = "Check DATABASE_URL environment variable and PostgreSQL service status"
		}
		return CheckResult{Status: "fail", Message: message, LatencyMs: latency, Details: details}
	}

	pool := h.db.PoolStats()
	details := map[string]any{
		"max_connections":      pool.Max,
		"total_connections":    pool.Total,
		"idle_connections":     pool.Idle,
		"acquired_connections": pool.Acquired,
	}
	if version, err := h.stats.ServerVersion(dbCtx); err == nil {
		details["server_version"] = version
	}
	return CheckResult{
		Status:    "pass",
		Message:   "PostgreSQL connection successful",
		LatencyMs: latency,
		Details:   details,
	}
}

// checkMigrations reports the applied schema version and fails on a dirty migration.
func (h *HealthChecker) checkMigrations(ctx context.Context) CheckResult {
	start := time.Now()

	migCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var (
		version int64
		dirty   bool
	)
	err := h.db.QueryRow(migCtx, `SELECT version, dirty FROM schema_migrations ORDER BY version DESC LIMIT 1`).
		Scan(&version, &dirty)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		message := "Failed to query migration version"
		details := map[string]any{"error": err.Error()}
		if strings.Contains(err.Error(), "does not exist") || errors.Is(err, pgx.ErrNoRows) {
			message = "Migrations not applied"
			details["remediation"] = "Run database migrations first: makemelearn-api migrate up"
		} else {
			details["remediation"] = "Verify migrations have been applied and schema_migrations table exists"
		}
		return CheckResult{Status: "fail", Message: message, LatencyMs: latency, Details: details}
	}

	if dirty {
		return CheckResult{
			Status:    "fail",
			Message:   "Database in dirty migration state - manual intervention required",
			LatencyMs: latency,
			Details: map[string]any{
				"version": version,
				"dirty":   dirty,
				"action":  "Do NOT run new migrations until this is resolved",
			},
		}
	}

	return CheckResult{
		Status:    "pass",
		Message:   fmt.Sprintf("Migrations applied successfully (version %d)", version),
		LatencyMs: latency,
		Details:   map[string]any{"version": version, "dirty": false},
	}
}

// checkJobQueue verifies the River tables are reachable. A disabled queue only warns:
// verification emails are then sent inline.
func (h *HealthChecker) checkJobQueue(ctx context.Context) CheckResult {
	start := time.Now()

	if !h.opts.JobsEnabled {
		return CheckResult{
			Status:  "warn",
			Message: "Job queue disabled, verification emails are sent inline",
		}
	}

	jobCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var tableExists bool
	err := h.db.QueryRow(jobCtx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			 WHERE table_schema = 'public'
			   AND table_name = 'river_job'
		)`).Scan(&tableExists)
	if err != nil {
		return CheckResult{
			Status:    "fail",
			Message:   "Failed to check job queue table existence",
			LatencyMs: time.Since(start).Milliseconds(),
			Details:   map[string]any{"error": err.Error()},
		}
	}
	if !tableExists {
		return CheckResult{
			Status:    "warn",
			Message:   "River job queue table not found",
			LatencyMs: time.Since(start).Milliseconds(),
			Details:   map[string]any{"remediation": "Run makemelearn-api migrate up to create the river tables"},
		}
	}

	var activeJobs, failedJobs int64
	err = h.db.QueryRow(jobCtx, `
		SELECT COUNT(*) FILTER (WHERE state IN ('available', 'running', 'retryable')),
		       COUNT(*) FILTER (WHERE state = 'discarded' AND finalized_at >= NOW() - INTERVAL '1 day')
		  FROM river_job`).Scan(&activeJobs, &failedJobs)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return CheckResult{
			Status:    "fail",
			Message:   "Failed to query job queue",
			LatencyMs: latency,
			Details:   map[string]any{"error": err.Error()},
		}
	}

	status, message := "pass", "River job queue operational"
	if failedJobs > 0 {
		status, message = "warn", "Jobs were discarded during the last day"
	}
	return CheckResult{
		Status:    status,
		Message:   message,
		LatencyMs: latency,
		Details:   map[string]any{"active_jobs": activeJobs, "discarded_last_day": failedJobs},
	}
}

func checkMemory() CheckResult {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	details := map[string]any{
		"heap_in_use_bytes": mem.HeapInuse,
		"sys_bytes":         mem.Sys,
		"goroutines":        runtime.NumGoroutine(),
	}
	if mem.HeapInuse > memoryWarnBytes {
		return CheckResult{Status: "warn", Message: "Heap usage is high", Details: details}
	}
	return CheckResult{Status: "pass", Message: "Memory usage normal", Details: details}
}

func checkUptime(uptime time.Duration) CheckResult {
	details := map[string]any{
		"seconds": int64(uptime.Seconds()),
		"human":   humanDuration(uptime),
	}
	if uptime < warmupPeriod {
		return CheckResult{Status: "warn", Message: "Service starting", Details: details}
	}
	return CheckResult{Status: "pass", Message: "Service running", Details: details}
}

func humanDuration(d time.Duration) string {
	minutes := int64(d.Minutes())
	return fmt.Sprintf("%dd %dh %dm", minutes/(24*60), (minutes/60)%24, minutes%60)
}

func statusValue(status string) float64 {
	switch status {
	case "pass":
		return 2
	case "warn":
		return 1
	}
	return 0
}

type readinessResponse struct {
	Status    string          `json:"status"`
	Timestamp string          `json:"timestamp"`
	Checks    map[string]bool `json:"checks,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Readiness reports whether the instance can take traffic.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		middleware.LoggerFromContext(r.Context()).Error().Err(err).Msg("readiness check failed")
		resp := readinessResponse{Status: "not_ready", Timestamp: h.timestamp(), Error: "database unavailable"}
		if h.opts.ShowDetails {
			resp.Error = err.Error()
		}
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, readinessResponse{
		Status:    "ready",
		Timestamp: h.timestamp(),
		Checks:    map[string]bool{"database": true, "application": true},
	})
}

type livenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Uptime    int64  `json:"uptime"`
	PID       int    `json:"pid"`
}

// Liveness only proves the process answers.
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, livenessResponse{
		Status:    "alive",
		Timestamp: h.timestamp(),
		Uptime:    int64(h.uptime().Seconds()),
		PID:       os.Getpid(),
	})
}

// Maintenance runs the retention cleanup on demand. The route is guarded by the
// maintenance bearer token.
func (h *HealthChecker) Maintenance(w http.ResponseWriter, r *http.Request) {
	middleware.LoggerFromContext(r.Context()).Info().Msg("manual maintenance triggered")

	result, err := h.maintainer.PerformMaintenance(r.Context(), h.opts.UnverifiedRetentionDays, h.opts.StatsRetentionDays)
	if err != nil {
		writeError(w, r, errs.Wrap(errs.KindInternal, codeMaintenanceError, msgMaintenanceError, err), h.opts.ShowDetails)
		return
	}
	respond(w, http.StatusOK, "MAINTENANCE_SUCCESS", msgMaintenanceDone, result)
}

// MetricsHandler exposes the Prometheus registry in text format.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{Registry: metrics.Registry})
}

func (h *HealthChecker) timestamp() string {
	return h.now().UTC().Format(time.RFC3339)
}
