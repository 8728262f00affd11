package handlers

import (
	"context"
	"net/http"
	"regexp"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/makemelearn/api/internal/api/middleware"
	"github.com/makemelearn/api/internal/domain/errs"
	"github.com/makemelearn/api/internal/metrics"
	"github.com/makemelearn/api/internal/storage/postgres"
)

const (
	StatStatsViewed = "stats_viewed"

	msgEventRequired    = "Nom d'événement requis"
	msgInvalidEventName = "Nom d'événement invalide (alphanumerique + underscore uniquement)"
	msgEventTracked     = "Événement enregistré avec succès"

	topDomainsLimit   = 10
	growthWindowDays  = 30
	recentStatsWindow = 7
)

var eventNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// StatsReader is the read side used by the stats endpoints.
type StatsReader interface {
	RegistrationCounts(ctx context.Context) (postgres.RegistrationCounts, error)
	WeeklyRegistrations(ctx context.Context) ([]postgres.PeriodCount, error)
	DailyRegistrations(ctx context.Context, days int) ([]postgres.PeriodCount, error)
	SourceBreakdown(ctx context.Context) ([]postgres.SourceCount, error)
	TopDomains(ctx context.Context, limit int) ([]postgres.DomainCount, error)
	MonthlyGrowth(ctx context.Context) ([]postgres.MonthlyGrowth, error)
	CurrentGrowthRate(ctx context.Context) (float64, error)
	DatabaseSize(ctx context.Context) (postgres.DatabaseSize, error)
	ActiveConnections(ctx context.Context) (int64, error)
	TableStats(ctx context.Context) ([]postgres.TableStat, error)
	RecentStats(ctx context.Context, days int) ([]postgres.DailyStats, error)
}

type StatRecorder interface {
	IncrementStat(ctx context.Context, metric string, amount int64)
}

// StatsHandler serves the public, growth and system statistics plus custom event tracking.
type StatsHandler struct {
	reader      StatsReader
	recorder    StatRecorder
	validate    *validator.Validate
	now         func() time.Time
	showDetails bool
}

func NewStatsHandler(reader StatsReader, recorder StatRecorder, showDetails bool) *StatsHandler {
	v := validator.New()
	_ = v.RegisterValidation("metric_name", func(fl validator.FieldLevel) bool {
		return eventNamePattern.MatchString(fl.Field().String())
	})
	return &StatsHandler{
		reader:      reader,
		recorder:    recorder,
		validate:    v,
		now:         time.Now,
		showDetails: showDetails,
	}
}

type overview struct {
	Total            int64 `json:"total"`
	Verified         int64 `json:"verified"`
	VerificationRate int   `json:"verificationRate"`
}

type weeklyCount struct {
	Week          time.Time `json:"week"`
	Registrations int64     `json:"registrations"`
}

type dailyCount struct {
	Date          time.Time `json:"date"`
	Registrations int64     `json:"registrations"`
}

type publicStats struct {
	Overview   overview               `json:"overview"`
	Weekly     []weeklyCount          `json:"weekly"`
	Sources    []postgres.SourceCount `json:"sources"`
	TopDomains []postgres.DomainCount `json:"topDomains"`
}

// Public handles GET /stats/public. The four aggregates are queried concurrently.
func (h *StatsHandler) Public(w http.ResponseWriter, r *http.Request) {
	var (
		counts postgres.RegistrationCounts
		weekly []postgres.PeriodCount
		stats  publicStats
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) {
		counts, err = h.reader.RegistrationCounts(ctx)
		return err
	})
	g.Go(func() (err error) {
		weekly, err = h.reader.WeeklyRegistrations(ctx)
		return err
	})
	g.Go(func() (err error) {
		stats.Sources, err = h.reader.SourceBreakdown(ctx)
		return err
	})
	g.Go(func() (err error) {
		stats.TopDomains, err = h.reader.TopDomains(ctx, topDomainsLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		writeError(w, r, err, h.showDetails)
		return
	}

	stats.Overview = overview{
		Total:            counts.Total,
		Verified:         counts.Verified,
		VerificationRate: counts.VerificationRate(),
	}
	stats.Weekly = make([]weeklyCount, 0, len(weekly))
	for _, p := range weekly {
		stats.Weekly = append(stats.Weekly, weeklyCount{Week: p.Period, Registrations: p.Count})
	}

	h.recorder.IncrementStat(r.Context(), StatStatsViewed, 1)
	middleware.LoggerFromContext(r.Context()).Info().Msg("public stats accessed")

	w.Header().Set("Cache-Control", "no-store")
	respondGenerated(w, "STATS_SUCCESS", stats, h.now())
}

type growthStats struct {
	Monthly           []postgres.MonthlyGrowth `json:"monthly"`
	Daily             []dailyCount             `json:"daily"`
	CurrentGrowthRate float64                  `json:"currentGrowthRate"`
}

// Growth handles GET /stats/growth.
func (h *StatsHandler) Growth(w http.ResponseWriter, r *http.Request) {
	var (
		growth growthStats
		daily  []postgres.PeriodCount
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) {
		growth.Monthly, err = h.reader.MonthlyGrowth(ctx)
		return err
	})
	g.Go(func() (err error) {
		daily, err = h.reader.DailyRegistrations(ctx, growthWindowDays)
		return err
	})
	g.Go(func() (err error) {
		growth.CurrentGrowthRate, err = h.reader.CurrentGrowthRate(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		writeError(w, r, err, h.showDetails)
		return
	}

	growth.Daily = make([]dailyCount, 0, len(daily))
	for _, p := range daily {
		growth.Daily = append(growth.Daily, dailyCount{Date: p.Period, Registrations: p.Count})
	}
	respondGenerated(w, "GROWTH_STATS_SUCCESS", growth, h.now())
}

type databaseStats struct {
	Size              postgres.DatabaseSize `json:"size"`
	ActiveConnections int64                 `json:"activeConnections"`
	Tables            []postgres.TableStat  `json:"tables"`
}

type memoryStats struct {
	AllocBytes      uint64 `json:"allocBytes"`
	TotalAllocBytes uint64 `json:"totalAllocBytes"`
	SysBytes        uint64 `json:"sysBytes"`
	HeapInUseBytes  uint64 `json:"heapInUseBytes"`
	NumGC           uint32 `json:"numGC"`
}

type performanceStats struct {
	Memory        memoryStats `json:"memoryUsage"`
	UptimeSeconds int64       `json:"uptime"`
	Goroutines    int         `json:"goroutines"`
	GoVersion     string      `json:"goVersion"`
}

type systemStats struct {
	Database    databaseStats         `json:"database"`
	Metrics     []postgres.DailyStats `json:"metrics"`
	Performance performanceStats      `json:"performance"`
}

// System handles GET /stats/system. The route is guarded by a bearer token.
func (h *StatsHandler) System(w http.ResponseWriter, r *http.Request) {
	var stats systemStats
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() (err error) {
		stats.Database.Size, err = h.reader.DatabaseSize(ctx)
		return err
	})
	g.Go(func() (err error) {
		stats.Database.ActiveConnections, err = h.reader.ActiveConnections(ctx)
		return err
	})
	g.Go(func() (err error) {
		stats.Database.Tables, err = h.reader.TableStats(ctx)
		return err
	})
	g.Go(func() (err error) {
		stats.Metrics, err = h.reader.RecentStats(ctx, recentStatsWindow)
		return err
	})
	if err := g.Wait(); err != nil {
		writeError(w, r, err, h.showDetails)
		return
	}
	if stats.Metrics == nil {
		stats.Metrics = []postgres.DailyStats{}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	stats.Performance = performanceStats{
		Memory: memoryStats{
			AllocBytes:      mem.Alloc,
			TotalAllocBytes: mem.TotalAlloc,
			SysBytes:        mem.Sys,
			HeapInUseBytes:  mem.HeapInuse,
			NumGC:           mem.NumGC,
		},
		UptimeSeconds: int64(metrics.Uptime().Seconds()),
		Goroutines:    runtime.NumGoroutine(),
		GoVersion:     runtime.Version(),
	}
	respondGenerated(w, "SYSTEM_STATS_SUCCESS", stats, h.now())
}

type trackRequest struct {
	Event string `json:"event"`
	Value int64  `json:"value"`
}

// Track handles POST /stats/track. A missing or non-positive value counts as 1.
func (h *StatsHandler) Track(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, h.showDetails)
		return
	}
	if err := h.validate.Var(req.Event, "required"); err != nil {
		writeError(w, r, errs.Validation(errs.CodeEventRequired, msgEventRequired,
			map[string]string{"event": msgEventRequired}), h.showDetails)
		return
	}
	if err := h.validate.Var(req.Event, "max=100,metric_name"); err != nil {
		writeError(w, r, errs.Validation(errs.CodeInvalidEventName, msgInvalidEventName,
			map[string]string{"event": msgInvalidEventName}), h.showDetails)
		return
	}

	value := req.Value
	if value <= 0 {
		value = 1
	}
	h.recorder.IncrementStat(r.Context(), req.Event, value)
	middleware.LoggerFromContext(r.Context()).Info().
		Str("event", req.Event).
		Int64("value", value).
		Msg("custom event tracked")
	respond(w, http.StatusOK, "EVENT_TRACKED", msgEventTracked, nil)
}
