package api

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/makemelearn/api/internal/api/handlers"
	"github.com/makemelearn/api/internal/api/middleware"
	"github.com/makemelearn/api/internal/audit"
	"github.com/makemelearn/api/internal/config"
	"github.com/makemelearn/api/internal/domain/errs"
	"github.com/makemelearn/api/internal/metrics"
	"github.com/makemelearn/api/web"
)

const (
	msgAuthRequired            = "Token d'authentification requis"
	msgInvalidMaintenanceToken = "Token de maintenance invalide"
)

// Deps are the collaborators wired into the handlers. Site may be nil when the landing
// pages are served elsewhere.
type Deps struct {
	Registrations handlers.RegistrationService
	Contact       handlers.ContactService
	Stats         handlers.StatsReader
	Recorder      handlers.StatRecorder
	Health        *handlers.HealthChecker
	RateStore     middleware.RateStore
	Site          *web.Site
	Build         BuildInfo
}

// NewRouter builds the HTTP handler: routes on a method-aware ServeMux, wrapped by the
// middleware chain.
func NewRouter(cfg config.Config, logger zerolog.Logger, deps Deps) http.Handler {
	showDetails := cfg.ShowErrorDetails()
	trusted := cfg.RateLimit.TrustedProxyCIDRs
	globalPolicy, registrationPolicy, contactPolicy := middleware.Policies(cfg.RateLimit)

	limit := func(p middleware.Policy, h http.HandlerFunc) http.Handler {
		return middleware.RateLimit(deps.RateStore, p, trusted)(h)
	}

	regs := handlers.NewRegistrationsHandler(deps.Registrations, trusted, cfg.Registration.ConcealResendOutcome, showDetails)
	contact := handlers.NewContactHandler(deps.Contact, showDetails)
	stats := handlers.NewStatsHandler(deps.Stats, deps.Recorder, showDetails)
	health := deps.Health

	auditLog := audit.NewLogger(logger)
	requireStatsToken := middleware.BearerAuth(cfg.SystemStatsToken(), errs.CodeAuthRequired, msgAuthRequired)
	requireMaintenanceToken := middleware.BearerAuth(cfg.Auth.MaintenanceToken, errs.CodeInvalidMaintenanceToken, msgInvalidMaintenanceToken)

	mux := http.NewServeMux()

	mux.Handle("POST /registrations", limit(registrationPolicy, regs.Create))
	mux.HandleFunc("GET /registrations/verify/{token}", regs.Verify)
	mux.Handle("POST /registrations/resend-verification", limit(registrationPolicy, regs.ResendVerification))
	mux.Handle("DELETE /registrations/unsubscribe/{email}", limit(registrationPolicy, regs.Unsubscribe))

	mux.Handle("POST /contact", limit(contactPolicy, contact.Submit))

	mux.HandleFunc("GET /stats/public", stats.Public)
	mux.HandleFunc("GET /stats/growth", stats.Growth)
	mux.Handle("GET /stats/system", auditLog.Middleware("stats.system", trusted)(
		requireStatsToken(http.HandlerFunc(stats.System))))
	mux.HandleFunc("POST /stats/track", stats.Track)

	mux.HandleFunc("GET /health", health.Health)
	mux.HandleFunc("GET /health/detailed", health.Detailed)
	mux.Handle("GET /health/metrics", handlers.MetricsHandler())
	mux.HandleFunc("GET /health/readiness", health.Readiness)
	mux.HandleFunc("GET /health/liveness", health.Liveness)
	mux.Handle("POST /health/maintenance", auditLog.Middleware("health.maintenance", trusted)(
		requireMaintenanceToken(http.HandlerFunc(health.Maintenance))))

	mux.Handle("GET /version", VersionHandler(deps.Build))
	mux.Handle("GET /info", InfoHandler(cfg.Email.ContactTo))
	mux.Handle("GET /openapi.json", OpenAPIHandler(cfg.Server.APIURL))

	if deps.Site != nil {
		deps.Site.Register(mux)
	}
	mux.Handle("/", handlers.NotFound())

	// Tracing and metrics sit closest to the mux so they see r.Pattern.
	var h http.Handler = mux
	h = metrics.HTTPMiddleware(h)
	h = middleware.Tracing(h)
	h = middleware.RateLimit(deps.RateStore, globalPolicy, trusted, "/health", "/assets")(h)
	h = middleware.RequestSize(cfg.Server.MaxBodyBytes)(h)
	h = middleware.CORS(cfg.CORS, logger)(h)
	h = middleware.VersionHeaders(h)
	h = middleware.SecurityHeaders(cfg.Server.RequireHTTPS)(h)
	h = middleware.RequestLogging(trusted)(h)
	h = middleware.CorrelationID(logger)(h)
	return h
}
