package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/makemelearn/api/internal/metrics"
)

// IncrementStat adds amount to today's value of metric. Failures are logged and dropped:
// counters must never fail the operation that emits them.
func (db *DB) IncrementStat(ctx context.Context, metric string, amount int64) {
	db.IncrementStatOn(ctx, metric, amount, time.Time{})
}

// IncrementStatOn is IncrementStat for an explicit day. amount <= 0 counts as 1 and a
// zero date means today (UTC).
func (db *DB) IncrementStatOn(ctx context.Context, metric string, amount int64, date time.Time) {
	if amount <= 0 {
		amount = 1
	}
	if date.IsZero() {
		date = time.Now().UTC()
	}
	day := dateOnly(date)

	if _, err := db.Exec(ctx, `SELECT increment_stat($1, $2, $3::date)`, metric, amount, day); err != nil {
		metrics.StatIncrementFailures.Inc()
		db.logger.Warn().Err(err).Str("metric", metric).Msg("stat increment skipped")
	}
}

// PoolStats is a snapshot of connection pool usage.
type PoolStats struct {
	Total    int32 `json:"totalConnections"`
	Idle     int32 `json:"idleConnections"`
	Acquired int32 `json:"acquiredConnections"`
	Max      int32 `json:"maxConnections"`
}

func (db *DB) PoolStats() PoolStats {
	stat := db.pool.Stat()
	return PoolStats{
		Total:    stat.TotalConns(),
		Idle:     stat.IdleConns(),
		Acquired: stat.AcquiredConns(),
		Max:      stat.MaxConns(),
	}
}

type MaintenanceResult struct {
	RegistrationsDeleted int64     `json:"registrationsDeleted"`
	StatsDeleted         int64     `json:"statsDeleted"`
	Pool                 PoolStats `json:"poolStats"`
}

// PerformMaintenance purges unverified registrations older than unverifiedDays and stat
// rows older than statsDays, then reports pool usage.
func (db *DB) PerformMaintenance(ctx context.Context, unverifiedDays, statsDays int) (MaintenanceResult, error) {
	if unverifiedDays <= 0 || statsDays <= 0 {
		return MaintenanceResult{}, fmt.Errorf("maintenance: retention windows must be positive")
	}

	var result MaintenanceResult
	err := db.QueryRow(ctx,
		`SELECT registrations_deleted, stats_deleted FROM cleanup_old_data($1, $2)`,
		unverifiedDays, statsDays,
	).Scan(&result.RegistrationsDeleted, &result.StatsDeleted)
	if err != nil {
		return MaintenanceResult{}, fmt.Errorf("cleanup old data: %w", err)
	}
	result.Pool = db.PoolStats()

	db.logger.Info().
		Int64("registrations_deleted", result.RegistrationsDeleted).
		Int64("stats_deleted", result.StatsDeleted).
		Int32("pool_total", result.Pool.Total).
		Int32("pool_idle", result.Pool.Idle).
		Msg("maintenance completed")
	return result, nil
}

// dateOnly truncates t to its UTC calendar day.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
