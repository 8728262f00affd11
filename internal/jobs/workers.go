package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/riverqueue/river"

	"github.com/makemelearn/api/internal/email"
	"github.com/makemelearn/api/internal/storage/postgres"
	"github.com/makemelearn/api/internal/telemetry"
)

// VerificationEmailArgs carries what the verification email needs; the registration is
// not re-read when the job runs.
type VerificationEmailArgs struct {
	RegistrationID string `json:"registration_id"`
	Email          string `json:"email"`
	Token          string `json:"token"`
}

func (VerificationEmailArgs) Kind() string { return JobKindVerificationEmail }

// VerificationSender is implemented by *email.Service.
type VerificationSender interface {
	SendVerification(ctx context.Context, to string, data email.VerificationData) (string, error)
}

// Links builds the URLs embedded in verification emails.
type Links struct {
	// APIURL is the public API root, e.g. https://makemelearn.fr/api.
	APIURL string
	// PublicURL is the landing site root, e.g. https://makemelearn.fr.
	PublicURL string
}

func (l Links) Verification(token, address string) email.VerificationData {
	return email.VerificationData{
		VerifyURL:      strings.TrimRight(l.APIURL, "/") + "/registrations/verify/" + url.PathEscape(token),
		UnsubscribeURL: strings.TrimRight(l.PublicURL, "/") + "/unsubscribe?email=" + url.QueryEscape(address),
		CurrentYear:    time.Now().Year(),
	}
}

type VerificationEmailWorker struct {
	river.WorkerDefaults[VerificationEmailArgs]
	Sender VerificationSender
	Links  Links
	Logger *slog.Logger
}

func (VerificationEmailWorker) Kind() string { return JobKindVerificationEmail }

func (w VerificationEmailWorker) Work(ctx context.Context, job *river.Job[VerificationEmailArgs]) (err error) {
	if w.Sender == nil {
		return fmt.Errorf("email sender not configured")
	}
	if job == nil {
		return fmt.Errorf("verification email job missing")
	}
	if job.Args.Email == "" || job.Args.Token == "" {
		return river.JobCancel(fmt.Errorf("verification email job %d has no recipient or token", job.ID))
	}

	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, end := telemetry.StartJobSpan(ctx, job.Kind, job.ID, job.Attempt)
	defer func() { end(err) }()

	id, err := w.Sender.SendVerification(ctx, job.Args.Email, w.Links.Verification(job.Args.Token, job.Args.Email))
	if err != nil {
		return fmt.Errorf("send verification email: %w", err)
	}
	logger.Info("verification email sent",
		"registration_id", job.Args.RegistrationID,
		"message_id", id,
		"attempt", job.Attempt,
	)
	return nil
}

// MaintenanceArgs defines the periodic retention job.
type MaintenanceArgs struct{}

func (MaintenanceArgs) Kind() string { return JobKindMaintenance }

type Maintainer interface {
	PerformMaintenance(ctx context.Context, unverifiedDays, statsDays int) (postgres.MaintenanceResult, error)
}

// MaintenanceWorker purges stale unverified registrations and old stat rows.
type MaintenanceWorker struct {
	river.WorkerDefaults[MaintenanceArgs]
	DB             Maintainer
	UnverifiedDays int
	StatsDays      int
	Logger         *slog.Logger
}

func (MaintenanceWorker) Kind() string { return JobKindMaintenance }

func (w MaintenanceWorker) Work(ctx context.Context, job *river.Job[MaintenanceArgs]) (err error) {
	if w.DB == nil {
		return fmt.Errorf("database not configured")
	}

	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if job != nil {
		var end func(error)
		ctx, end = telemetry.StartJobSpan(ctx, job.Kind, job.ID, job.Attempt)
		defer func() { end(err) }()
	}

	start := time.Now()
	result, err := w.DB.PerformMaintenance(ctx, w.UnverifiedDays, w.StatsDays)
	if err != nil {
		return fmt.Errorf("perform maintenance: %w", err)
	}
	logger.Info("maintenance job completed",
		"registrations_deleted", result.RegistrationsDeleted,
		"stats_deleted", result.StatsDeleted,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// WorkerDeps groups the collaborators the workers need.
type WorkerDeps struct {
	Sender         VerificationSender
	Links          Links
	DB             Maintainer
	UnverifiedDays int
	StatsDays      int
	Logger         *slog.Logger
}

func NewWorkers(deps WorkerDeps) *river.Workers {
	workers := river.NewWorkers()
	river.AddWorker[VerificationEmailArgs](workers, VerificationEmailWorker{
		Sender: deps.Sender,
		Links:  deps.Links,
		Logger: deps.Logger,
	})
	river.AddWorker[MaintenanceArgs](workers, MaintenanceWorker{
		DB:             deps.DB,
		UnverifiedDays: deps.UnverifiedDays,
		StatsDays:      deps.StatsDays,
		Logger:         deps.Logger,
	})
	return workers
}
