package postgres

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/makemelearn/api/internal/metrics"
)

// StatsRepository runs read-only aggregations. Registration aggregates only count
// active (not unsubscribed) rows.
type StatsRepository struct {
	q Querier
}

func NewStatsRepository(q Querier) *StatsRepository {
	return &StatsRepository{q: q}
}

type RegistrationCounts struct {
	Total    int64 `json:"total"`
	Verified int64 `json:"verified"`
	Today    int64 `json:"today"`
	Week     int64 `json:"thisWeek"`
}

// VerificationRate is the rounded percentage of verified registrations.
func (c RegistrationCounts) VerificationRate() int {
	if c.Total == 0 {
		return 0
	}
	return int(math.Round(float64(c.Verified) * 100 / float64(c.Total)))
}

type PeriodCount struct {
	Period time.Time `json:"period" db:"period"`
	Count  int64     `json:"count" db:"count"`
}

type SourceCount struct {
	Source     string  `json:"source" db:"source"`
	Count      int64   `json:"count" db:"count"`
	Percentage float64 `json:"percentage" db:"percentage"`
}

type DomainCount struct {
	Domain string `json:"domain" db:"domain"`
	Count  int64  `json:"count" db:"count"`
}

type MonthlyGrowth struct {
	Month      time.Time `json:"month" db:"month"`
	New        int64     `json:"newRegistrations" db:"new_registrations"`
	Cumulative int64     `json:"cumulative" db:"cumulative"`
}

type TableStat struct {
	Table     string `json:"table" db:"table_name"`
	Inserts   int64  `json:"inserts" db:"inserts"`
	Updates   int64  `json:"updates" db:"updates"`
	Deletes   int64  `json:"deletes" db:"deletes"`
	SizeBytes int64  `json:"sizeBytes" db:"size_bytes"`
	Size      string `json:"size" db:"size"`
}

type DatabaseSize struct {
	Bytes  int64  `json:"bytes"`
	Pretty string `json:"pretty"`
}

// DailyStats groups the stat counters of one day.
type DailyStats struct {
	Date    time.Time        `json:"date"`
	Metrics map[string]int64 `json:"metrics"`
}

func (r *StatsRepository) RegistrationCounts(ctx context.Context) (RegistrationCounts, error) {
	var c RegistrationCounts
	err := r.q.QueryRow(ctx, `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE is_verified),
       COUNT(*) FILTER (WHERE created_at >= CURRENT_DATE),
       COUNT(*) FILTER (WHERE created_at >= NOW() - INTERVAL '7 days')
  FROM registrations
 WHERE unsubscribed_at IS NULL
`).Scan(&c.Total, &c.Verified, &c.Today, &c.Week)
	if err != nil {
		return RegistrationCounts{}, fmt.Errorf("registration counts: %w", err)
	}
	return c, nil
}

// WeeklyRegistrations returns counts per ISO week for the last 8 weeks, newest first.
func (r *StatsRepository) WeeklyRegistrations(ctx context.Context) ([]PeriodCount, error) {
	return collect[PeriodCount](ctx, r.q, "weekly registrations", `
SELECT DATE_TRUNC('week', created_at) AS period, COUNT(*) AS count
  FROM registrations
 WHERE unsubscribed_at IS NULL
   AND created_at >= NOW() - INTERVAL '8 weeks'
 GROUP BY period
 ORDER BY period DESC
 LIMIT 8
`)
}

// DailyRegistrations returns counts per day for the last days days, newest first.
func (r *StatsRepository) DailyRegistrations(ctx context.Context, days int) ([]PeriodCount, error) {
	return collect[PeriodCount](ctx, r.q, "daily registrations", `
SELECT DATE_TRUNC('day', created_at) AS period, COUNT(*) AS count
  FROM registrations
 WHERE unsubscribed_at IS NULL
   AND created_at >= NOW() - make_interval(days => $1)
 GROUP BY period
 ORDER BY period DESC
`, days)
}

func (r *StatsRepository) SourceBreakdown(ctx context.Context) ([]SourceCount, error) {
	return collect[SourceCount](ctx, r.q, "source breakdown", `
SELECT source,
       COUNT(*) AS count,
       ROUND(COUNT(*) * 100.0 / SUM(COUNT(*)) OVER (), 1)::float8 AS percentage
  FROM registrations
 WHERE unsubscribed_at IS NULL
 GROUP BY source
 ORDER BY count DESC, source
`)
}

func (r *StatsRepository) TopDomains(ctx context.Context, limit int) ([]DomainCount, error) {
	return collect[DomainCount](ctx, r.q, "top domains", `
SELECT SUBSTRING(email FROM '@(.*)$') AS domain, COUNT(*) AS count
  FROM registrations
 WHERE unsubscribed_at IS NULL
 GROUP BY domain
 ORDER BY count DESC, domain
 LIMIT $1
`, limit)
}

// MonthlyGrowth returns the last 12 months with new and running-total counts, newest first.
func (r *StatsRepository) MonthlyGrowth(ctx context.Context) ([]MonthlyGrowth, error) {
	return collect[MonthlyGrowth](ctx, r.q, "monthly growth", `
SELECT month,
       new_registrations,
       SUM(new_registrations) OVER (ORDER BY month)::bigint AS cumulative
  FROM (
        SELECT DATE_TRUNC('month', created_at) AS month, COUNT(*) AS new_registrations
          FROM registrations
         WHERE unsubscribed_at IS NULL
         GROUP BY month
       ) m
 ORDER BY month DESC
 LIMIT 12
`)
}

// CurrentGrowthRate compares this month's signups with last month's, in percent
// rounded to one decimal. It is 0 when last month had no signups.
func (r *StatsRepository) CurrentGrowthRate(ctx context.Context) (float64, error) {
	var current, previous int64
	err := r.q.QueryRow(ctx, `
SELECT COUNT(*) FILTER (WHERE created_at >= DATE_TRUNC('month', NOW())),
       COUNT(*) FILTER (WHERE created_at >= DATE_TRUNC('month', NOW()) - INTERVAL '1 month'
                          AND created_at <  DATE_TRUNC('month', NOW()))
  FROM registrations
 WHERE unsubscribed_at IS NULL
   AND created_at >= DATE_TRUNC('month', NOW()) - INTERVAL '1 month'
`).Scan(&current, &previous)
	if err != nil {
		return 0, fmt.Errorf("growth rate: %w", err)
	}
	return growthRate(current, previous), nil
}

func growthRate(current, previous int64) float64 {
	if previous == 0 {
		return 0
	}
	rate := float64(current-previous) * 100 / float64(previous)
	return math.Round(rate*10) / 10
}

func (r *StatsRepository) DatabaseSize(ctx context.Context) (DatabaseSize, error) {
	var size DatabaseSize
	err := r.q.QueryRow(ctx,
		`SELECT pg_database_size(current_database()), pg_size_pretty(pg_database_size(current_database()))`,
	).Scan(&size.Bytes, &size.Pretty)
	if err != nil {
		return DatabaseSize{}, fmt.Errorf("database size: %w", err)
	}
	return size, nil
}

func (r *StatsRepository) ActiveConnections(ctx context.Context) (int64, error) {
	var n int64
	err := r.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM pg_stat_activity WHERE state = 'active' AND datname = current_database()`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("active connections: %w", err)
	}
	return n, nil
}

func (r *StatsRepository) TableStats(ctx context.Context) ([]TableStat, error) {
	return collect[TableStat](ctx, r.q, "table stats", `
SELECT relname::text AS table_name,
       n_tup_ins AS inserts,
       n_tup_upd AS updates,
       n_tup_del AS deletes,
       pg_total_relation_size(relid) AS size_bytes,
       pg_size_pretty(pg_total_relation_size(relid)) AS size
  FROM pg_stat_user_tables
 WHERE schemaname = 'public'
 ORDER BY relname
`)
}

// RecentStats returns stat counters of the last days days grouped by date, newest first.
func (r *StatsRepository) RecentStats(ctx context.Context, days int) ([]DailyStats, error) {
	rows, err := r.q.Query(ctx, `
SELECT date, metric_name, SUM(metric_value)::bigint
  FROM stats
 WHERE date >= CURRENT_DATE - $1::int
 GROUP BY date, metric_name
 ORDER BY date DESC, metric_name
`, days)
	if err != nil {
		return nil, fmt.Errorf("recent stats: %w", err)
	}
	defer rows.Close()

	var out []DailyStats
	for rows.Next() {
		var (
			date  time.Time
			name  string
			value int64
		)
		if err := rows.Scan(&date, &name, &value); err != nil {
			return nil, fmt.Errorf("scan recent stats: %w", err)
		}
		if len(out) == 0 || !out[len(out)-1].Date.Equal(date) {
			out = append(out, DailyStats{Date: date, Metrics: map[string]int64{}})
		}
		out[len(out)-1].Metrics[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent stats: %w", err)
	}
	return out, nil
}

// StatTotalsSince sums each stat metric from since (a date) onward.
func (r *StatsRepository) StatTotalsSince(ctx context.Context, since time.Time) (map[string]int64, error) {
	rows, err := r.q.Query(ctx, `
SELECT metric_name, SUM(metric_value)::bigint
  FROM stats
 WHERE date >= $1::date
 GROUP BY metric_name
`, dateOnly(since))
	if err != nil {
		return nil, fmt.Errorf("stat totals: %w", err)
	}
	totals := map[string]int64{}
	var (
		name  string
		value int64
	)
	_, err = pgx.ForEachRow(rows, []any{&name, &value}, func() error {
		totals[name] = value
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stat totals: %w", err)
	}
	return totals, nil
}

// RegistrationSnapshot feeds metrics.RegistrationCollector.
func (r *StatsRepository) RegistrationSnapshot(ctx context.Context) (metrics.RegistrationSnapshot, error) {
	counts, err := r.RegistrationCounts(ctx)
	if err != nil {
		return metrics.RegistrationSnapshot{}, err
	}
	events, err := r.StatTotalsSince(ctx, time.Now().AddDate(0, 0, -1))
	if err != nil {
		return metrics.RegistrationSnapshot{}, err
	}
	return metrics.RegistrationSnapshot{
		Total:    counts.Total,
		Verified: counts.Verified,
		Today:    counts.Today,
		Week:     counts.Week,
		Events:   events,
	}, nil
}

// StatValues returns the value of each of names on date's day (UTC); missing metrics are 0.
func (r *StatsRepository) StatValues(ctx context.Context, date time.Time, names ...string) (map[string]int64, error) {
	values := make(map[string]int64, len(names))
	for _, n := range names {
		values[n] = 0
	}
	rows, err := r.q.Query(ctx,
		`SELECT metric_name, metric_value FROM stats WHERE date = $1::date AND metric_name = ANY($2)`,
		dateOnly(date), names,
	)
	if err != nil {
		return nil, fmt.Errorf("stat values: %w", err)
	}
	var (
		name  string
		value int64
	)
	_, err = pgx.ForEachRow(rows, []any{&name, &value}, func() error {
		values[name] = value
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stat values: %w", err)
	}
	return values, nil
}

func (r *StatsRepository) ServerVersion(ctx context.Context) (string, error) {
	var version string
	if err := r.q.QueryRow(ctx, `SELECT current_setting('server_version')`).Scan(&version); err != nil {
		return "", fmt.Errorf("server version: %w", err)
	}
	return version, nil
}

func collect[T any](ctx context.Context, q Querier, what string, sql string, args ...any) ([]T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}
