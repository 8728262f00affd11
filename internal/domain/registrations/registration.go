// Package registrations implements the newsletter signup workflow:
// signup, email verification, resend and unsubscribe.
package registrations

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository errors.
var (
	ErrNotFound   = errors.New("registration not found")
	ErrEmailTaken = errors.New("email already registered")
)

type Source string

const (
	SourceLandingPage Source = "landing_page"
	SourceSocialMedia Source = "social_media"
	SourceReferral    Source = "referral"
	SourceBlog        Source = "blog"
	SourceDirect      Source = "direct"
)

var Sources = []Source{SourceLandingPage, SourceSocialMedia, SourceReferral, SourceBlog, SourceDirect}

type Registration struct {
	ID                uuid.UUID
	Email             string
	Source            Source
	Metadata          map[string]any
	VerificationToken *uuid.UUID
	IsVerified        bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
	UnsubscribedAt    *time.Time
}

// Active reports whether the registration has not been unsubscribed.
func (r Registration) Active() bool {
	return r.UnsubscribedAt == nil
}

type NewRegistration struct {
	Email             string
	Source            Source
	Metadata          map[string]any
	VerificationToken uuid.UUID
}

// Repository persists registrations. Implementations return ErrNotFound when no row
// matches and ErrEmailTaken when an insert hits the unique email constraint.
type Repository interface {
	// FindByEmail returns the row regardless of its unsubscribed state. With lock set,
	// the row stays locked until the surrounding transaction ends.
	FindByEmail(ctx context.Context, email string, lock bool) (*Registration, error)
	Insert(ctx context.Context, params NewRegistration) (*Registration, error)
	RotateToken(ctx context.Context, id uuid.UUID, token uuid.UUID) (*Registration, error)
	// ConsumeToken marks the matching unverified, active row verified and clears its token.
	ConsumeToken(ctx context.Context, token uuid.UUID) (*Registration, error)
	// Unsubscribe marks the active row with this email unsubscribed.
	Unsubscribe(ctx context.Context, email string) (*Registration, error)
	WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}

// StatRecorder increments daily counters. Failures are the recorder's concern.
type StatRecorder interface {
	IncrementStat(ctx context.Context, metric string, amount int64)
}

// VerificationNotifier schedules delivery of a verification email for reg.
type VerificationNotifier interface {
	NotifyVerification(ctx context.Context, reg Registration) error
}

type Outcome int

const (
	OutcomeCreated Outcome = iota + 1
	OutcomeVerificationResent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeVerificationResent:
		return "resent"
	}
	return "unknown"
}

// CreateResult is returned by Service.Create. Registration carries the current token.
type CreateResult struct {
	Outcome      Outcome
	Registration Registration
}

type CreateInput struct {
	Email     string
	Source    string
	Metadata  []byte
	ClientIP  string
	UserAgent string
}
