package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// RegistrationSnapshot is the point-in-time view exported by RegistrationCollector.
type RegistrationSnapshot struct {
	Total    int64
	Verified int64
	Today    int64
	Week     int64
	// Events holds custom stat counters summed over the last day, keyed by metric name.
	Events map[string]int64
}

// SnapshotFunc loads a RegistrationSnapshot, typically from the database.
type SnapshotFunc func(ctx context.Context) (RegistrationSnapshot, error)

// RegistrationCollector queries registration aggregates on every scrape.
type RegistrationCollector struct {
	load    SnapshotFunc
	timeout time.Duration
	logger  zerolog.Logger

	total    *prometheus.Desc
	verified *prometheus.Desc
	today    *prometheus.Desc
	week     *prometheus.Desc
	events   *prometheus.Desc
	up       *prometheus.Desc
}

func NewRegistrationCollector(load SnapshotFunc, logger zerolog.Logger) *RegistrationCollector {
	return &RegistrationCollector{
		load:    load,
		timeout: 3 * time.Second,
		logger:  logger.With().Str("component", "registration_collector").Logger(),
		total: prometheus.NewDesc(prometheus.BuildFQName(namespace, "registrations", "total"),
			"Active registrations", nil, nil),
		verified: prometheus.NewDesc(prometheus.BuildFQName(namespace, "registrations", "verified"),
			"Active verified registrations", nil, nil),
		today: prometheus.NewDesc(prometheus.BuildFQName(namespace, "registrations", "today"),
			"Active registrations created today", nil, nil),
		week: prometheus.NewDesc(prometheus.BuildFQName(namespace, "registrations", "week"),
			"Active registrations created during the last 7 days", nil, nil),
		events: prometheus.NewDesc(prometheus.BuildFQName(namespace, "events", "last_day"),
			"Custom stat counters summed over the last day", []string{"metric"}, nil),
		up: prometheus.NewDesc(prometheus.BuildFQName(namespace, "registrations", "scrape_success"),
			"Whether the last registration aggregate query succeeded", nil, nil),
	}
}

func (c *RegistrationCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.total
	ch <- c.verified
	ch <- c.today
	ch <- c.week
	ch <- c.events
	ch <- c.up
}

func (c *RegistrationCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	snap, err := c.load(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("registration metrics unavailable")
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}

	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(snap.Total))
	ch <- prometheus.MustNewConstMetric(c.verified, prometheus.GaugeValue, float64(snap.Verified))
	ch <- prometheus.MustNewConstMetric(c.today, prometheus.GaugeValue, float64(snap.Today))
	ch <- prometheus.MustNewConstMetric(c.week, prometheus.GaugeValue, float64(snap.Week))
	for name, value := range snap.Events {
		ch <- prometheus.MustNewConstMetric(c.events, prometheus.GaugeValue, float64(value), name)
	}
}
