package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/makemelearn/api/internal/api"
	"github.com/makemelearn/api/internal/api/handlers"
	"github.com/makemelearn/api/internal/api/middleware"
	"github.com/makemelearn/api/internal/config"
	"github.com/makemelearn/api/internal/domain/contact"
	"github.com/makemelearn/api/internal/domain/registrations"
	"github.com/makemelearn/api/internal/email"
	"github.com/makemelearn/api/internal/jobs"
	"github.com/makemelearn/api/internal/metrics"
	"github.com/makemelearn/api/internal/storage/postgres"
	"github.com/makemelearn/api/internal/telemetry"
	"github.com/makemelearn/api/web"
)

const (
	shutdownTimeout         = 10 * time.Second
	dbCollectorInterval     = 15 * time.Second
	rateLimitRedisKeyPrefix = "makemelearn:ratelimit:"
)

type serveOptions struct {
	host    string
	port    int
	migrate bool
	noSite  bool
}

func newServeCommand(opts *globalOptions) *cobra.Command {
	var flags serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MakeMeLearn HTTP server",
		Long: `Start the MakeMeLearn HTTP server and begin accepting API requests.

The server will:
- Load configuration from environment variables (and --config if provided)
- Connect to PostgreSQL and, with --migrate, apply pending migrations
- Start the job queue workers that send verification emails and run maintenance
- Serve the landing pages and the JSON API
- Handle graceful shutdown on SIGINT/SIGTERM

Examples:
  # Start with default configuration (from env vars)
  server serve

  # Start on a specific host and port
  server serve --host 127.0.0.1 --port 9090

  # Apply migrations first, with debug logging
  server serve --migrate --log-level debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), opts, flags)
		},
	}

	cmd.Flags().StringVar(&flags.host, "host", "", "server host address (default: 0.0.0.0)")
	cmd.Flags().IntVar(&flags.port, "port", 0, "server port (default: 3000)")
	cmd.Flags().BoolVar(&flags.migrate, "migrate", false, "apply database and job queue migrations before serving")
	cmd.Flags().BoolVar(&flags.noSite, "no-site", false, "serve the API only, without the landing pages")
	return cmd
}

func runServer(ctx context.Context, opts *globalOptions, flags serveOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	applyServeOverrides(&cfg, flags)

	logger := config.NewLogger(cfg.Logging)
	logger.Info().
		Str("version", Version).
		Str("environment", cfg.Environment).
		Msg("starting MakeMeLearn API")

	metrics.Init(Version, GitCommit, BuildDate)

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, Version, cfg.Environment)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown error")
		}
	}()

	db, err := postgres.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if flags.migrate {
		if err := applyMigrations(ctx, cfg, db, logger); err != nil {
			return err
		}
	}

	mailer, err := email.NewService(cfg.Email, logger)
	if err != nil {
		return fmt.Errorf("email: %w", err)
	}
	if !mailer.Configured() {
		logger.Warn().Str("provider", mailer.Provider()).Msg("email delivery not configured; messages will be dropped")
	}

	slogger := config.NewSlogLogger(cfg.Logging)
	links := jobs.Links{APIURL: cfg.Server.APIURL, PublicURL: cfg.Server.PublicURL}

	var notifier registrations.VerificationNotifier = jobs.NewDirectNotifier(mailer, links)
	var riverClient *river.Client[pgx.Tx]
	if cfg.Jobs.Enabled {
		workers := jobs.NewWorkers(jobs.WorkerDeps{
			Sender:         mailer,
			Links:          links,
			DB:             db,
			UnverifiedDays: cfg.Maintenance.UnverifiedRetentionDays,
			StatsDays:      cfg.Maintenance.StatsRetentionDays,
			Logger:         slogger,
		})
		riverClient, err = jobs.NewClient(db.Pool(), cfg.Jobs, workers, slogger,
			[]rivertype.Hook{metrics.NewRiverMetricsHook()},
			jobs.NewPeriodicJobs(cfg.Maintenance.Interval))
		if err != nil {
			return fmt.Errorf("job queue: %w", err)
		}
		notifier = jobs.NewQueueNotifier(riverClient, jobs.NewRetryPolicy(cfg.Jobs))
	} else {
		logger.Warn().Msg("job queue disabled; verification emails are sent inline")
	}

	statsRepo := postgres.NewStatsRepository(db)
	regService := registrations.NewService(postgres.NewRegistrationRepository(db), db, notifier, logger,
		registrations.WithBlockedDomains(cfg.Registration.BlockedDomains))
	contactService := contact.NewService(mailer, db, cfg.Email.ContactTo, cfg.Email.From, logger)

	metrics.Registry.MustRegister(metrics.NewRegistrationCollector(statsRepo.RegistrationSnapshot, logger))

	store, closeStore, err := newRateStore(ctx, cfg.RateLimit, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var site *web.Site
	if !flags.noSite {
		site, err = newSite()
		if err != nil {
			return err
		}
	}

	health := handlers.NewHealthChecker(db, statsRepo, db, handlers.HealthOptions{
		Version:                 Version,
		GitCommit:               GitCommit,
		Environment:             cfg.Environment,
		JobsEnabled:             cfg.Jobs.Enabled,
		UnverifiedRetentionDays: cfg.Maintenance.UnverifiedRetentionDays,
		StatsRetentionDays:      cfg.Maintenance.StatsRetentionDays,
		ShowDetails:             cfg.ShowErrorDetails(),
	})

	router := api.NewRouter(cfg, logger, api.Deps{
		Registrations: regService,
		Contact:       contactService,
		Stats:         statsRepo,
		Recorder:      db,
		Health:        health,
		RateStore:     store,
		Site:          site,
		Build:         api.BuildInfo{Version: Version, GitCommit: GitCommit, BuildDate: BuildDate},
	})

	server := newHTTPServer(cfg.Server, router)

	if riverClient != nil {
		if err := riverClient.Start(ctx); err != nil {
			return fmt.Errorf("job workers failed to start: %w", err)
		}
		logger.Info().Int("max_workers", cfg.Jobs.MaxWorkers).Msg("job workers started")
	}

	g, gctx := errgroup.WithContext(ctx)

	dbCollector := metrics.NewDBCollector(db.Pool())
	g.Go(func() error {
		dbCollector.Start(gctx, dbCollectorInterval)
		return nil
	})

	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		dbCollector.Stop()
		err := server.Shutdown(stopCtx)
		if riverClient != nil {
			if stopErr := riverClient.Stop(stopCtx); stopErr != nil {
				logger.Error().Err(stopErr).Msg("job workers shutdown error")
			} else {
				logger.Info().Msg("job workers stopped")
			}
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func applyServeOverrides(cfg *config.Config, flags serveOptions) {
	if flags.host != "" {
		cfg.Server.Host = flags.host
	}
	if flags.port != 0 {
		cfg.Server.Port = flags.port
	}
}

func newHTTPServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

// newRateStore uses Redis when RATE_LIMIT_REDIS_URL is set so every instance shares the
// same counters, and an in-process store otherwise.
func newRateStore(ctx context.Context, cfg config.RateLimitConfig, logger zerolog.Logger) (middleware.RateStore, func(), error) {
	if cfg.RedisURL == "" {
		store := middleware.NewMemoryStore()
		return store, store.Stop, nil
	}

	client, err := middleware.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("rate limit store: %w", err)
	}
	logger.Info().Msg("rate limits shared through redis")
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn().Err(err).Msg("redis close error")
		}
	}
	return middleware.NewRedisStore(client, rateLimitRedisKeyPrefix), closeFn, nil
}

func newSite() (*web.Site, error) {
	siteCfg, err := web.DefaultSiteConfig()
	if err != nil {
		return nil, fmt.Errorf("site config: %w", err)
	}
	site, err := web.NewSite(siteCfg)
	if err != nil {
		return nil, fmt.Errorf("site: %w", err)
	}
	return site, nil
}
