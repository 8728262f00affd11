package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all MakeMeLearn metrics
const namespace = "makemelearn"

// Registry is the global Prometheus registry for all metrics
var Registry = prometheus.NewRegistry()

var startedAt = time.Now()

// AppInfo exposes build information as labels (value is always 1)
var AppInfo = promauto.With(Registry).NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "app_info",
		Help:      "Application version information (always set to 1, version info in labels)",
	},
	[]string{"version", "commit", "build_date"},
)

// HealthCheckStatus tracks individual health check results
// Values: 0 = fail, 1 = warn, 2 = pass
var HealthCheckStatus = promauto.With(Registry).NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "health_check_status",
		Help:      "Individual health check status (0=fail, 1=warn, 2=pass)",
	},
	[]string{"check"},
)

// Business metrics
var (
	// RegistrationOutcomes counts signup attempts by outcome
	// (created, resent, conflict, invalid, error).
	RegistrationOutcomes = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registration_outcomes_total",
			Help:      "Signup attempts by outcome",
		},
		[]string{"outcome"},
	)

	// VerificationOutcomes counts verification token submissions by outcome.
	VerificationOutcomes = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_outcomes_total",
			Help:      "Verification token submissions by outcome",
		},
		[]string{"outcome"},
	)

	// ContactMessages counts relayed contact messages by outcome.
	ContactMessages = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contact_messages_total",
			Help:      "Contact form submissions by outcome",
		},
		[]string{"outcome"},
	)

	// EmailsSent counts outbound emails by provider, template and result.
	EmailsSent = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_sent_total",
			Help:      "Outbound emails by provider, template and result",
		},
		[]string{"provider", "template", "result"},
	)

	// RateLimited counts requests rejected by a rate limit policy.
	RateLimited = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by rate limiting",
		},
		[]string{"policy"},
	)

	// StatIncrementFailures counts daily counter updates that were dropped.
	StatIncrementFailures = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stat_increment_failures_total",
			Help:      "Daily stat increments that failed and were skipped",
		},
	)
)

// Init registers runtime collectors and sets version information
func Init(version, commit, buildDate string) {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	Registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the process started",
		},
		func() float64 { return Uptime().Seconds() },
	))

	AppInfo.WithLabelValues(version, commit, buildDate).Set(1)
}

// Uptime reports how long the process has been running.
func Uptime() time.Duration {
	return time.Since(startedAt)
}
