package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makemelearn/api/internal/api/handlers"
	"github.com/makemelearn/api/internal/api/middleware"
	"github.com/makemelearn/api/internal/config"
	"github.com/makemelearn/api/internal/domain/contact"
	"github.com/makemelearn/api/internal/domain/errs"
	"github.com/makemelearn/api/internal/domain/registrations"
	"github.com/makemelearn/api/internal/storage/postgres"
	"github.com/makemelearn/api/web"
)

type stubRegistrations struct{}

func (stubRegistrations) Create(_ context.Context, in registrations.CreateInput) (*registrations.CreateResult, error) {
	return &registrations.CreateResult{
		Outcome:      registrations.OutcomeCreated,
		Registration: registrations.Registration{Email: in.Email, Source: registrations.SourceLandingPage},
	}, nil
}

func (stubRegistrations) VerifyByToken(context.Context, string) (*registrations.Registration, error) {
	return nil, errs.New(errs.KindNotFound, errs.CodeTokenNotFound, "Token de vérification invalide ou expiré")
}

func (stubRegistrations) ResendVerification(context.Context, string) (*registrations.Registration, error) {
	return &registrations.Registration{}, nil
}

func (stubRegistrations) Unsubscribe(context.Context, string) (*registrations.Registration, error) {
	return &registrations.Registration{}, nil
}

type stubContact struct{}

func (stubContact) Submit(context.Context, contact.Input) (string, error) {
	return "<id@test>", nil
}

type stubStats struct{}

func (stubStats) RegistrationCounts(context.Context) (postgres.RegistrationCounts, error) {
	return postgres.RegistrationCounts{Total: 2, Verified: 1}, nil
}

func (stubStats) WeeklyRegistrations(context.Context) ([]postgres.PeriodCount, error) {
	return nil, nil
}

func (stubStats) DailyRegistrations(context.Context, int) ([]postgres.PeriodCount, error) {
	return nil, nil
}

func (stubStats) SourceBreakdown(context.Context) ([]postgres.SourceCount, error) {
	return nil, nil
}

func (stubStats) TopDomains(context.Context, int) ([]postgres.DomainCount, error) {
	return nil, nil
}

func (stubStats) MonthlyGrowth(context.Context) ([]postgres.MonthlyGrowth, error) {
	return nil, nil
}

func (stubStats) CurrentGrowthRate(context.Context) (float64, error) {
	return 0, nil
}

func (stubStats) DatabaseSize(context.Context) (postgres.DatabaseSize, error) {
	return postgres.DatabaseSize{}, nil
}

func (stubStats) ActiveConnections(context.Context) (int64, error) {
	return 1, nil
}

func (stubStats) TableStats(context.Context) ([]postgres.TableStat, error) {
	return nil, nil
}

func (stubStats) RecentStats(context.Context, int) ([]postgres.DailyStats, error) {
	return nil, nil
}

func (stubStats) IncrementStat(context.Context, string, int64) {}

func (stubStats) StatValues(context.Context, time.Time, ...string) (map[string]int64, error) {
	return map[string]int64{}, nil
}

func (stubStats) ServerVersion(context.Context) (string, error) {
	return "16", nil
}

func (stubStats) PerformMaintenance(context.Context, int, int) (postgres.MaintenanceResult, error) {
	return postgres.MaintenanceResult{RegistrationsDeleted: 1}, nil
}

type stubDB struct{ pingErr error }

func (d stubDB) Ping(context.Context) error {
	return d.pingErr
}

func (stubDB) PoolStats() postgres.PoolStats {
	return postgres.PoolStats{}
}

func (stubDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return errRow{}
}

type errRow struct{}

func (errRow) Scan(...any) error {
	return errors.New("not implemented")
}

func testConfig() config.Config {
	return config.Config{
		Environment: "test",
		Server:      config.ServerConfig{MaxBodyBytes: 1 << 20},
		Auth:        config.AuthConfig{MaintenanceToken: "maint-secret", StatsToken: "stats-secret"},
		RateLimit: config.RateLimitConfig{
			Window: 15 * time.Minute, MaxRequests: 100,
			RegistrationWindow: time.Hour, RegistrationMax: 2,
			ContactWindow: time.Hour, ContactMax: 5,
		},
		CORS:         config.CORSConfig{AllowedOrigins: []string{"https://makemelearn.fr"}},
		Email:        config.EmailConfig{ContactTo: "hello@makemelearn.fr"},
		Registration: config.RegistrationConfig{ConcealResendOutcome: true},
	}
}

func newTestRouter(t *testing.T, cfg config.Config) http.Handler {
	t.Helper()
	return newTestRouterWithLogger(t, cfg, zerolog.Nop())
}

func newTestRouterWithLogger(t *testing.T, cfg config.Config, logger zerolog.Logger) http.Handler {
	t.Helper()
	siteCfg, err := web.DefaultSiteConfig()
	require.NoError(t, err)
	site, err := web.NewSite(siteCfg)
	require.NoError(t, err)

	store := middleware.NewMemoryStore()
	t.Cleanup(store.Stop)

	stats := stubStats{}
	return NewRouter(cfg, logger, Deps{
		Registrations: stubRegistrations{},
		Contact:       stubContact{},
		Stats:         stats,
		Recorder:      stats,
		Health:        handlers.NewHealthChecker(stubDB{}, stats, stats, handlers.HealthOptions{Version: "1.0.0"}),
		RateStore:     store,
		Site:          site,
		Build:         BuildInfo{Version: "1.0.0"},
	})
}

func do(h http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRouter_Routes(t *testing.T) {
	router := newTestRouter(t, testConfig())

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		header     map[string]string
		wantStatus int
		wantBody   string
	}{
		{"register", http.MethodPost, "/registrations", `{"email":"a@b.com"}`, nil, http.StatusCreated, "REGISTRATION_SUCCESS"},
		{"verify unknown token", http.MethodGet, "/registrations/verify/0b3c6a9e-1f2d-4e5f-9a8b-7c6d5e4f3a2b", "", nil, http.StatusNotFound, "TOKEN_NOT_FOUND"},
		{"resend", http.MethodPost, "/registrations/resend-verification", `{"email":"a@b.com"}`, nil, http.StatusOK, "VERIFICATION_RESENT"},
		{"unsubscribe", http.MethodDelete, "/registrations/unsubscribe/a@b.com", "", nil, http.StatusOK, "UNSUBSCRIBE_SUCCESS"},
		{"contact", http.MethodPost, "/contact", `{"name":"Ada"}`, nil, http.StatusOK, "CONTACT_SUCCESS"},
		{"public stats", http.MethodGet, "/stats/public", "", nil, http.StatusOK, "STATS_SUCCESS"},
		{"growth stats", http.MethodGet, "/stats/growth", "", nil, http.StatusOK, "GROWTH_STATS_SUCCESS"},
		{"system stats without token", http.MethodGet, "/stats/system", "", nil, http.StatusUnauthorized, "AUTH_REQUIRED"},
		{"system stats with token", http.MethodGet, "/stats/system", "", map[string]string{"Authorization": "Bearer stats-secret"}, http.StatusOK, "SYSTEM_STATS_SUCCESS"},
		{"track", http.MethodPost, "/stats/track", `{"event":"cta_click"}`, nil, http.StatusOK, "EVENT_TRACKED"},
		{"health", http.MethodGet, "/health", "", nil, http.StatusOK, "healthy"},
		{"liveness", http.MethodGet, "/health/liveness", "", nil, http.StatusOK, "alive"},
		{"readiness", http.MethodGet, "/health/readiness", "", nil, http.StatusOK, "ready"},
		{"metrics", http.MethodGet, "/health/metrics", "", nil, http.StatusOK, "makemelearn_"},
		{"maintenance wrong token", http.MethodPost, "/health/maintenance", "", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized, "INVALID_MAINTENANCE_TOKEN"},
		{"maintenance", http.MethodPost, "/health/maintenance", "", map[string]string{"Authorization": "Bearer maint-secret"}, http.StatusOK, "Maintenance effectuée avec succès"},
		{"version", http.MethodGet, "/version", "", nil, http.StatusOK, `"api_version":"1.0.0"`},
		{"info", http.MethodGet, "/info", "", nil, http.StatusOK, "MakeMeLearn API"},
		{"openapi", http.MethodGet, "/openapi.json", "", nil, http.StatusOK, `"openapi":"3.1.0"`},
		{"landing page", http.MethodGet, "/", "", nil, http.StatusOK, "signupForm"},
		{"faq page", http.MethodGet, "/faq", "", nil, http.StatusOK, "Questions fréquentes"},
		{"unknown route", http.MethodGet, "/nope", "", nil, http.StatusNotFound, "ROUTE_NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, tt.method, tt.target, tt.body, tt.header)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestRouter_UnmatchedMethodIsNotFound(t *testing.T) {
	router := newTestRouter(t, testConfig())

	w := do(router, http.MethodPut, "/registrations", `{}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "PUT /registrations")
}

func TestRouter_CommonHeaders(t *testing.T) {
	router := newTestRouter(t, testConfig())

	w := do(router, http.MethodGet, "/stats/public", "", map[string]string{"Origin": "https://makemelearn.fr"})
	assert.Equal(t, "1.0.0", w.Header().Get("X-API-Version"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "https://makemelearn.fr", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestRouter_RegistrationLimit(t *testing.T) {
	router := newTestRouter(t, testConfig())

	for i := 0; i < 2; i++ {
		w := do(router, http.MethodPost, "/registrations", `{"email":"a@b.com"}`, nil)
		require.Equal(t, http.StatusCreated, w.Code)
	}
	w := do(router, http.MethodPost, "/registrations", `{"email":"a@b.com"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "REGISTRATION_LIMIT_EXCEEDED")
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Other routes use their own budget.
	w = do(router, http.MethodPost, "/contact", `{"name":"Ada"}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_HealthExemptFromGlobalLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.MaxRequests = 1
	router := newTestRouter(t, cfg)

	for i := 0; i < 5; i++ {
		w := do(router, http.MethodGet, "/health", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	require.Equal(t, http.StatusOK, do(router, http.MethodGet, "/stats/public", "", nil).Code)
	w := do(router, http.MethodGet, "/stats/public", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")
}

func TestRouter_BodyTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxBodyBytes = 32
	router := newTestRouter(t, cfg)

	w := do(router, http.MethodPost, "/contact", `{"name":"`+strings.Repeat("x", 100)+`"}`, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRouter_AuditsPrivilegedRoutes(t *testing.T) {
	var buf bytes.Buffer
	router := newTestRouterWithLogger(t, testConfig(), zerolog.New(&buf))

	do(router, http.MethodGet, "/stats/system", "", nil)
	do(router, http.MethodPost, "/health/maintenance", "", map[string]string{"Authorization": "Bearer maint-secret"})
	do(router, http.MethodGet, "/stats/public", "", nil)

	var audits []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if strings.Contains(line, `"log_type":"audit"`) {
			audits = append(audits, line)
		}
	}
	require.Len(t, audits, 2)
	assert.Contains(t, audits[0], `"action":"stats.system"`)
	assert.Contains(t, audits[0], `"status":"failure"`)
	assert.Contains(t, audits[1], `"action":"health.maintenance"`)
	assert.Contains(t, audits[1], `"status":"success"`)
}
