package registrations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/makemelearn/api/internal/domain/errs"
	"github.com/makemelearn/api/internal/metrics"
)

// Daily stat metrics emitted by the workflow.
const (
	StatSignupSuccess      = "signup_success"
	StatSignupAttempts     = "signup_attempts"
	StatVerificationResent = "verification_resent"
	StatEmailVerified      = "email_verified"
	StatUnsubscribed       = "unsubscribed"
	statSourcePrefix       = "signup_source_"
)

const (
	msgEmailAlreadyExists = "Cette adresse email est déjà inscrite"
	msgInvalidToken       = "Token de vérification invalide"
	msgTokenNotFound      = "Token de vérification invalide ou expiré"
	msgInvalidEmail       = "Email invalide"
	msgEmailNotFound      = "Aucune inscription trouvée avec cet email"
	msgAlreadyVerified    = "Cet email est déjà vérifié"
	msgNotFoundOrUnsub    = "Aucune inscription trouvée ou déjà désabonnée"
)

type Service struct {
	repo           Repository
	stats          StatRecorder
	notifier       VerificationNotifier
	validate       *validator.Validate
	blockedDomains map[string]struct{}
	now            func() time.Time
	newToken       func() uuid.UUID
	logger         zerolog.Logger
}

type Option func(*Service)

// WithBlockedDomains rejects signups whose email domain is in domains.
func WithBlockedDomains(domains []string) Option {
	return func(s *Service) {
		for _, d := range domains {
			if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
				s.blockedDomains[d] = struct{}{}
			}
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, stats StatRecorder, notifier VerificationNotifier, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:           repo,
		stats:          stats,
		notifier:       notifier,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		blockedDomains: map[string]struct{}{},
		now:            time.Now,
		newToken:       uuid.New,
		logger:         logger.With().Str("component", "registrations").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers email, or re-issues a verification token when an unverified
// registration already exists.
func (s *Service) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	email, source, metadata, err := s.validateCreate(in)
	if err != nil {
		metrics.RegistrationOutcomes.WithLabelValues("invalid").Inc()
		return nil, err
	}

	metadata["registrationIp"] = in.ClientIP
	metadata["registrationUserAgent"] = in.UserAgent
	metadata["registrationTime"] = s.now().UTC().Format(time.RFC3339Nano)

	var result *CreateResult
	// A concurrent signup for the same email can win the insert; the retry then
	// observes the committed row and resolves to resend or conflict.
	for attempt := 0; ; attempt++ {
		result, err = s.createOnce(ctx, email, source, metadata)
		if err == nil {
			break
		}
		if errors.Is(err, ErrEmailTaken) && attempt == 0 {
			s.logger.Debug().Str("email_domain", domainOf(email)).Msg("concurrent signup, retrying")
			continue
		}
		if errors.Is(err, ErrEmailTaken) {
			err = errs.Wrap(errs.KindConflict, errs.CodeEmailAlreadyExists, msgEmailAlreadyExists, err)
		}
		metrics.RegistrationOutcomes.WithLabelValues(outcomeLabel(err)).Inc()
		return nil, err
	}

	switch result.Outcome {
	case OutcomeCreated:
		s.stats.IncrementStat(ctx, StatSignupSuccess, 1)
		s.stats.IncrementStat(ctx, StatSignupAttempts, 1)
		s.stats.IncrementStat(ctx, statSourcePrefix+string(source), 1)
		s.logger.Info().
			Str("registration_id", result.Registration.ID.String()).
			Str("source", string(source)).
			Msg("registration created")
	case OutcomeVerificationResent:
		s.stats.IncrementStat(ctx, StatVerificationResent, 1)
		s.logger.Info().
			Str("registration_id", result.Registration.ID.String()).
			Msg("verification token reissued on signup")
	}
	metrics.RegistrationOutcomes.WithLabelValues(result.Outcome.String()).Inc()
	s.notify(ctx, result.Registration)
	return result, nil
}

func (s *Service) createOnce(ctx context.Context, email string, source Source, metadata map[string]any) (*CreateResult, error) {
	var result *CreateResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		existing, err := repo.FindByEmail(ctx, email, true)
		switch {
		case errors.Is(err, ErrNotFound):
			created, err := repo.Insert(ctx, NewRegistration{
				Email:             email,
				Source:            source,
				Metadata:          metadata,
				VerificationToken: s.newToken(),
			})
			if err != nil {
				return err
			}
			result = &CreateResult{Outcome: OutcomeCreated, Registration: *created}
			return nil
		case err != nil:
			return fmt.Errorf("find registration: %w", err)
		}

		if existing.IsVerified || !existing.Active() {
			return errs.New(errs.KindConflict, errs.CodeEmailAlreadyExists, msgEmailAlreadyExists)
		}
		rotated, err := repo.RotateToken(ctx, existing.ID, s.newToken())
		if err != nil {
			return fmt.Errorf("rotate token: %w", err)
		}
		result = &CreateResult{Outcome: OutcomeVerificationResent, Registration: *rotated}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// VerifyByToken consumes a verification token. Each token succeeds at most once.
func (s *Service) VerifyByToken(ctx context.Context, rawToken string) (*Registration, error) {
	token, err := uuid.Parse(strings.TrimSpace(rawToken))
	if err != nil {
		metrics.VerificationOutcomes.WithLabelValues("invalid").Inc()
		return nil, errs.New(errs.KindValidation, errs.CodeInvalidToken, msgInvalidToken)
	}

	reg, err := s.repo.ConsumeToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		metrics.VerificationOutcomes.WithLabelValues("not_found").Inc()
		return nil, errs.New(errs.KindNotFound, errs.CodeTokenNotFound, msgTokenNotFound)
	}
	if err != nil {
		metrics.VerificationOutcomes.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("consume token: %w", err)
	}

	metrics.VerificationOutcomes.WithLabelValues("verified").Inc()
	s.stats.IncrementStat(ctx, StatEmailVerified, 1)
	s.logger.Info().Str("registration_id", reg.ID.String()).Msg("email verified")
	return reg, nil
}

// ResendVerification issues a fresh token for an active, unverified registration.
func (s *Service) ResendVerification(ctx context.Context, rawEmail string) (*Registration, error) {
	email, ok := s.validEmail(rawEmail)
	if !ok {
		return nil, errs.Validation(errs.CodeValidation, msgInvalidEmail, map[string]string{"email": msgInvalidEmail})
	}

	var reg *Registration
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		existing, err := repo.FindByEmail(ctx, email, true)
		if errors.Is(err, ErrNotFound) {
			return errs.New(errs.KindNotFound, errs.CodeEmailNotFound, msgEmailNotFound)
		}
		if err != nil {
			return fmt.Errorf("find registration: %w", err)
		}
		if !existing.Active() {
			return errs.New(errs.KindNotFound, errs.CodeEmailNotFound, msgEmailNotFound)
		}
		if existing.IsVerified {
			return errs.New(errs.KindAlreadyVerified, errs.CodeAlreadyVerified, msgAlreadyVerified)
		}
		reg, err = repo.RotateToken(ctx, existing.ID, s.newToken())
		if err != nil {
			return fmt.Errorf("rotate token: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.stats.IncrementStat(ctx, StatVerificationResent, 1)
	s.notify(ctx, *reg)
	return reg, nil
}

// Unsubscribe deactivates the registration for email. It is terminal.
func (s *Service) Unsubscribe(ctx context.Context, rawEmail string) (*Registration, error) {
	email, ok := s.validEmail(rawEmail)
	if !ok {
		return nil, errs.New(errs.KindValidation, errs.CodeInvalidEmail, msgInvalidEmail)
	}

	reg, err := s.repo.Unsubscribe(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, errs.New(errs.KindNotFound, errs.CodeNotFoundOrUnsubscribed, msgNotFoundOrUnsub)
	}
	if err != nil {
		return nil, fmt.Errorf("unsubscribe: %w", err)
	}

	s.stats.IncrementStat(ctx, StatUnsubscribed, 1)
	s.logger.Info().Str("registration_id", reg.ID.String()).Msg("registration unsubscribed")
	return reg, nil
}

func (s *Service) notify(ctx context.Context, reg Registration) {
	if s.notifier == nil || reg.VerificationToken == nil {
		return
	}
	if err := s.notifier.NotifyVerification(ctx, reg); err != nil {
		s.logger.Warn().Err(err).
			Str("registration_id", reg.ID.String()).
			Msg("verification email not scheduled")
	}
}

func outcomeLabel(err error) string {
	if errs.KindOf(err) == errs.KindConflict {
		return "conflict"
	}
	return "error"
}

func domainOf(email string) string {
	if at := strings.LastIndexByte(email, '@'); at >= 0 {
		return email[at+1:]
	}
	return ""
}
