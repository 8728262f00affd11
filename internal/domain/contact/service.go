// Package contact relays contact-form messages to the team mailbox. Nothing is persisted.
package contact

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/makemelearn/api/internal/domain/errs"
	"github.com/makemelearn/api/internal/email"
	"github.com/makemelearn/api/internal/metrics"
	"github.com/makemelearn/api/internal/sanitize"
)

const StatContactSent = "contact_sent"

const (
	msgName               = "Le nom doit contenir entre 2 et 100 caractères"
	msgEmail              = "Adresse email invalide"
	msgSubject            = "Le sujet doit contenir entre 5 et 200 caractères"
	msgMessage            = "Le message doit contenir entre 10 et 5000 caractères"
	msgServiceUnavailable = "Service email temporairement indisponible. Veuillez réessayer plus tard ou nous contacter directement."
	msgConfigError        = "Configuration email incorrecte. Veuillez contacter l'administrateur."
	msgAuthError          = "Erreur d'authentification email. Veuillez réessayer plus tard."
	msgDeliveryError      = "Erreur lors de l'envoi du message"
	senderName            = "MakeMeLearn Contact"
)

// Mailer renders and delivers the notification.
type Mailer interface {
	RenderContact(data email.ContactData) (html, text string, err error)
	Send(ctx context.Context, msg email.Message) (string, error)
}

type StatRecorder interface {
	IncrementStat(ctx context.Context, metric string, amount int64)
}

type Input struct {
	Name    string
	Email   string
	Subject string
	Message string

	// Metadata is client context (page, campaign). It is logged with the submission,
	// never mailed or stored.
	Metadata map[string]any
}

// fields holds sanitized input. Lengths are checked in runes by the custom "runes" tag.
type fields struct {
	Name    string `validate:"runes=2-100"`
	Email   string `validate:"required,email,max=254"`
	Subject string `validate:"runes=5-200"`
	Message string `validate:"runes=10-5000"`
}

type Service struct {
	mailer    Mailer
	stats     StatRecorder
	recipient string
	from      string
	validate  *validator.Validate
	now       func() time.Time
	logger    zerolog.Logger
}

// NewService relays to recipient from the from address. stats may be nil.
func NewService(mailer Mailer, stats StatRecorder, recipient, from string, logger zerolog.Logger) *Service {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("runes", validRuneLength)
	return &Service{
		mailer:    mailer,
		stats:     stats,
		recipient: recipient,
		from:      from,
		validate:  v,
		now:       time.Now,
		logger:    logger.With().Str("component", "contact").Logger(),
	}
}

// Submit validates in and relays it. It returns the provider's message id.
func (s *Service) Submit(ctx context.Context, in Input) (string, error) {
	f := fields{
		Name:    sanitize.Text(in.Name),
		Email:   strings.ToLower(strings.TrimSpace(in.Email)),
		Subject: sanitize.Text(in.Subject),
		Message: sanitize.Text(in.Message),
	}
	if err := s.check(f); err != nil {
		metrics.ContactMessages.WithLabelValues("invalid").Inc()
		return "", err
	}

	html, text, err := s.mailer.RenderContact(email.ContactData{
		Name:       f.Name,
		Email:      f.Email,
		Subject:    f.Subject,
		Message:    f.Message,
		ReceivedAt: s.now(),
	})
	if err != nil {
		metrics.ContactMessages.WithLabelValues("error").Inc()
		return "", errs.Wrap(errs.KindDelivery, errs.CodeContactError, msgDeliveryError, err)
	}

	id, err := s.mailer.Send(ctx, email.Message{
		From:     s.from,
		FromName: senderName,
		To:       []string{s.recipient},
		ReplyTo:  (&mail.Address{Name: f.Name, Address: f.Email}).String(),
		Subject:  "[Contact] " + f.Subject,
		HTML:     html,
		Text:     text,
		Template: "contact",
	})
	if err != nil {
		metrics.ContactMessages.WithLabelValues("error").Inc()
		s.logger.Error().Err(err).Str("email", f.Email).Msg("contact relay failed")
		return "", classify(err)
	}

	metrics.ContactMessages.WithLabelValues("sent").Inc()
	if s.stats != nil {
		s.stats.IncrementStat(ctx, StatContactSent, 1)
	}
	event := s.logger.Info().
		Str("name", f.Name).
		Str("email", f.Email).
		Str("subject", f.Subject).
		Str("message_id", id)
	if len(in.Metadata) > 0 {
		event = event.Interface("metadata", sanitize.Metadata(in.Metadata))
	}
	event.Msg("contact form submission")
	return id, nil
}

func (s *Service) check(f fields) error {
	err := s.validate.Struct(f)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errs.Wrap(errs.KindInternal, errs.CodeInternal, errs.MsgInternal, err)
	}
	problems := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		switch fe.Field() {
		case "Name":
			problems["name"] = msgName
		case "Email":
			problems["email"] = msgEmail
		case "Subject":
			problems["subject"] = msgSubject
		case "Message":
			problems["message"] = msgMessage
		}
	}
	return errs.Validation(errs.CodeValidation, errs.MsgValidation, problems)
}

// classify maps delivery failures onto tagged kinds.
func classify(err error) error {
	switch {
	case errors.Is(err, email.ErrNotConfigured):
		return errs.Wrap(errs.KindEmailServiceUnavailable, errs.CodeEmailServiceUnavailable, msgServiceUnavailable, err)
	case errors.Is(err, email.ErrInvalidCredentials):
		return errs.Wrap(errs.KindEmailConfig, errs.CodeEmailConfigError, msgConfigError, err)
	case errors.Is(err, email.ErrAuthentication):
		return errs.Wrap(errs.KindEmailAuth, errs.CodeEmailAuthError, msgAuthError, err)
	default:
		return errs.Wrap(errs.KindDelivery, errs.CodeContactError, msgDeliveryError, err)
	}
}

// validRuneLength implements the "runes=min-max" tag.
func validRuneLength(fl validator.FieldLevel) bool {
	var lo, hi int
	if _, err := fmt.Sscanf(fl.Param(), "%d-%d", &lo, &hi); err != nil {
		return false
	}
	n := utf8.RuneCountInString(fl.Field().String())
	return n >= lo && n <= hi
}
