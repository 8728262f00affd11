package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/makemelearn/api/internal/validation"
)

type Config struct {
	Server       ServerConfig       `envPrefix:"SERVER_"`
	Database     DatabaseConfig     `envPrefix:"DATABASE_"`
	Auth         AuthConfig         `envPrefix:"AUTH_"`
	RateLimit    RateLimitConfig    `envPrefix:"RATE_LIMIT_"`
	CORS         CORSConfig         `envPrefix:"CORS_"`
	Email        EmailConfig        `envPrefix:"EMAIL_"`
	Registration RegistrationConfig `envPrefix:"REGISTRATION_"`
	Maintenance  MaintenanceConfig  `envPrefix:"MAINTENANCE_"`
	Jobs         JobsConfig         `envPrefix:"JOBS_"`
	Logging      LoggingConfig      `envPrefix:"LOG_"`
	Tracing      TracingConfig      `envPrefix:"TRACING_"`
	Environment  string             `env:"ENVIRONMENT" envDefault:"development"`
}

type ServerConfig struct {
	Host      string `env:"HOST" envDefault:"0.0.0.0"`
	Port      int    `env:"PORT" envDefault:"3000"`
	PublicURL string `env:"PUBLIC_URL" envDefault:"https://makemelearn.fr"`
	// APIURL is the externally visible API root used in verification links.
	APIURL       string `env:"API_URL" envDefault:"https://makemelearn.fr/api"`
	MaxBodyBytes int64  `env:"MAX_BODY_BYTES" envDefault:"10485760"`
	RequireHTTPS bool   `env:"REQUIRE_HTTPS" envDefault:"false"`
}

type DatabaseConfig struct {
	URL            string        `env:"URL"`
	MaxConnections int32         `env:"MAX_CONNECTIONS" envDefault:"20"`
	MinConnections int32         `env:"MIN_CONNECTIONS" envDefault:"0"`
	MaxIdleTime    time.Duration `env:"MAX_IDLE_TIME" envDefault:"30s"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"2s"`
	AcquireTimeout time.Duration `env:"ACQUIRE_TIMEOUT" envDefault:"5s"`
	MigrationsPath string        `env:"MIGRATIONS_PATH" envDefault:"internal/storage/postgres/migrations"`
}

type AuthConfig struct {
	MaintenanceToken string `env:"MAINTENANCE_TOKEN,unset"`
	// StatsToken guards /stats/system. Falls back to MaintenanceToken when empty.
	StatsToken string `env:"STATS_TOKEN,unset"`
}

type RateLimitConfig struct {
	Window             time.Duration `env:"WINDOW" envDefault:"15m"`
	MaxRequests        int           `env:"MAX_REQUESTS" envDefault:"100"`
	RegistrationWindow time.Duration `env:"REGISTRATION_WINDOW" envDefault:"1h"`
	RegistrationMax    int           `env:"REGISTRATION_MAX" envDefault:"5"`
	ContactWindow      time.Duration `env:"CONTACT_WINDOW" envDefault:"1h"`
	ContactMax         int           `env:"CONTACT_MAX" envDefault:"5"`
	RedisURL           string        `env:"REDIS_URL"`
	TrustedProxyCIDRs  []string      `env:"TRUSTED_PROXY_CIDRS" envSeparator:","`
}

type CORSConfig struct {
	AllowedOrigins  []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"https://makemelearn.fr,https://inscription.makemelearn.fr"`
	AllowAllOrigins bool     `env:"ALLOW_ALL_ORIGINS" envDefault:"false"`
}

type EmailConfig struct {
	Enabled      bool   `env:"ENABLED" envDefault:"true"`
	Provider     string `env:"PROVIDER" envDefault:"smtp"`
	From         string `env:"FROM" envDefault:"noreply@makemelearn.fr"`
	FromName     string `env:"FROM_NAME" envDefault:"MakeMeLearn"`
	ContactTo    string `env:"CONTACT_TO" envDefault:"hello@makemelearn.fr"`
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASSWORD,unset"`
	ResendAPIKey string `env:"RESEND_API_KEY,unset"`
	TemplatesDir string `env:"TEMPLATES_DIR"`
}

type RegistrationConfig struct {
	// ConcealResendOutcome makes "not found" and "already verified" indistinguishable on resend.
	ConcealResendOutcome bool     `env:"CONCEAL_RESEND_OUTCOME" envDefault:"true"`
	BlockedDomains       []string `env:"BLOCKED_DOMAINS" envSeparator:"," envDefault:"tempmail.com,10minutemail.com,guerrillamail.com"`
}

type MaintenanceConfig struct {
	UnverifiedRetentionDays int           `env:"UNVERIFIED_RETENTION_DAYS" envDefault:"30"`
	StatsRetentionDays      int           `env:"STATS_RETENTION_DAYS" envDefault:"730"`
	Interval                time.Duration `env:"INTERVAL" envDefault:"24h"`
}

type JobsConfig struct {
	Enabled              bool `env:"ENABLED" envDefault:"true"`
	MaxWorkers           int  `env:"MAX_WORKERS" envDefault:"10"`
	RetryVerificationMax int  `env:"RETRY_VERIFICATION_EMAIL" envDefault:"5"`
	RetryMaintenanceMax  int  `env:"RETRY_MAINTENANCE" envDefault:"3"`
}

type LoggingConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

type TracingConfig struct {
	Enabled      bool    `env:"ENABLED" envDefault:"false"`
	Exporter     string  `env:"EXPORTER" envDefault:"stdout"`
	OTLPEndpoint string  `env:"OTLP_ENDPOINT" envDefault:"localhost:4317"`
	SampleRate   float64 `env:"SAMPLE_RATE" envDefault:"1.0"`
	ServiceName  string  `env:"SERVICE_NAME" envDefault:"makemelearn-api"`
}

// Load reads an optional .env file (or envFile when given) and parses the environment.
func Load(envFile ...string) (Config, error) {
	if err := loadDotEnv(envFile...); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadDotEnv(files ...string) error {
	if len(files) > 0 && files[0] != "" {
		if err := godotenv.Load(files...); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		return nil
	}
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func (c Config) validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.Database.MaxConnections < 1 {
		errs = append(errs, errors.New("DATABASE_MAX_CONNECTIONS must be positive"))
	}
	switch strings.ToLower(c.Email.Provider) {
	case "smtp", "resend":
	default:
		errs = append(errs, fmt.Errorf("EMAIL_PROVIDER %q is not supported (smtp, resend)", c.Email.Provider))
	}
	prod := c.IsProduction()
	if err := validation.URL(c.Server.PublicURL, "SERVER_PUBLIC_URL", prod); err != nil {
		errs = append(errs, err)
	}
	if err := validation.URL(c.Server.APIURL, "SERVER_API_URL", prod); err != nil {
		errs = append(errs, err)
	}
	for _, origin := range nonEmpty(c.CORS.AllowedOrigins) {
		if err := validation.Origin(origin, "CORS_ALLOWED_ORIGINS", prod); err != nil {
			errs = append(errs, err)
		}
	}
	if prod {
		if !c.CORS.AllowAllOrigins && len(nonEmpty(c.CORS.AllowedOrigins)) == 0 {
			errs = append(errs, errors.New("CORS_ALLOWED_ORIGINS is required in production"))
		}
		if c.Auth.MaintenanceToken == "" {
			errs = append(errs, errors.New("AUTH_MAINTENANCE_TOKEN is required in production"))
		}
	}
	return errors.Join(errs...)
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// ShowErrorDetails reports whether internal error text may reach clients.
func (c Config) ShowErrorDetails() bool {
	env := strings.ToLower(c.Environment)
	return env == "development" || env == "test"
}

// SystemStatsToken returns the bearer token guarding system statistics.
func (c Config) SystemStatsToken() string {
	if c.Auth.StatsToken != "" {
		return c.Auth.StatsToken
	}
	return c.Auth.MaintenanceToken
}

func nonEmpty(values []string) []string {
	out := values[:0:0]
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, strings.TrimSpace(v))
		}
	}
	return out
}
