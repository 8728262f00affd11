package email

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"

	"github.com/makemelearn/api/internal/config"
	"github.com/makemelearn/api/internal/metrics"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

// Delivery failures, distinguishable with errors.Is.
var (
	// ErrNotConfigured means no usable provider is set up (disabled or missing settings).
	ErrNotConfigured = errors.New("email delivery not configured")
	// ErrInvalidCredentials means the provider rejected the API key or sender configuration.
	ErrInvalidCredentials = errors.New("email provider rejected configuration")
	// ErrAuthentication means the SMTP server rejected the login.
	ErrAuthentication = errors.New("email authentication failed")
	ErrRateLimited    = errors.New("email provider rate limit exceeded")
)

const (
	ProviderSMTP   = "smtp"
	ProviderResend = "resend"
)

// Message is a single outbound email. Empty From/FromName fall back to configuration.
type Message struct {
	From     string
	FromName string
	To       []string
	ReplyTo  string
	Subject  string
	HTML     string
	Text     string
	// Template labels the message in metrics and logs.
	Template string
}

// Service delivers email through SMTP or the Resend API.
type Service struct {
	config        config.EmailConfig
	provider      string
	resendClient  *resend.Client
	htmlTemplates *htmltemplate.Template
	textTemplates *texttemplate.Template
	logger        zerolog.Logger
}

func NewService(cfg config.EmailConfig, logger zerolog.Logger) (*Service, error) {
	if cfg.Enabled && cfg.From != "" {
		if err := validateEmailAddress(cfg.From); err != nil {
			return nil, fmt.Errorf("invalid sender email in config: %w", err)
		}
	}

	htmlTemplates, err := htmltemplate.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse html email templates: %w", err)
	}
	textTemplates, err := texttemplate.ParseFS(templateFS, "templates/*.txt")
	if err != nil {
		return nil, fmt.Errorf("failed to parse text email templates: %w", err)
	}

	s := &Service{
		config:        cfg,
		provider:      strings.ToLower(cfg.Provider),
		htmlTemplates: htmlTemplates,
		textTemplates: textTemplates,
		logger:        logger.With().Str("component", "email").Logger(),
	}
	if s.provider == ProviderResend && cfg.ResendAPIKey != "" {
		s.resendClient = resend.NewCustomClient(&http.Client{
			Timeout:   15 * time.Second,
			Transport: &statusRecorder{next: http.DefaultTransport},
		}, cfg.ResendAPIKey)
	}
	return s, nil
}

// Configured reports whether messages can actually be delivered.
func (s *Service) Configured() bool {
	if !s.config.Enabled {
		return false
	}
	switch s.provider {
	case ProviderSMTP:
		return s.config.SMTPHost != "" && s.config.SMTPUser != "" && s.config.SMTPPassword != ""
	case ProviderResend:
		return s.resendClient != nil
	}
	return false
}

func (s *Service) Provider() string { return s.provider }

// Send delivers msg and returns the provider's message id.
func (s *Service) Send(ctx context.Context, msg Message) (string, error) {
	if !s.Configured() {
		return "", ErrNotConfigured
	}
	if len(msg.To) == 0 {
		return "", fmt.Errorf("email has no recipient")
	}
	for _, to := range msg.To {
		if err := validateEmailAddress(to); err != nil {
			return "", fmt.Errorf("invalid recipient email: %w", err)
		}
	}
	if msg.ReplyTo != "" {
		if err := validateEmailAddress(msg.ReplyTo); err != nil {
			return "", fmt.Errorf("invalid reply-to email: %w", err)
		}
	}
	if msg.From == "" {
		msg.From = s.config.From
	}
	if msg.FromName == "" {
		msg.FromName = s.config.FromName
	}

	var (
		id  string
		err error
	)
	switch s.provider {
	case ProviderResend:
		id, err = s.sendViaResend(ctx, msg)
	default:
		id, err = s.sendViaSMTP(ctx, msg)
	}

	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.EmailsSent.WithLabelValues(s.provider, templateLabel(msg.Template), result).Inc()
	if err != nil {
		return "", err
	}

	s.logger.Info().
		Str("message_id", id).
		Str("template", msg.Template).
		Str("provider", s.provider).
		Msg("email sent")
	return id, nil
}

// ContactData feeds the contact notification templates.
type ContactData struct {
	Name       string
	Email      string
	Subject    string
	Message    string
	ReceivedAt time.Time
}

// RenderContact renders the HTML and plain-text contact notification.
func (s *Service) RenderContact(data ContactData) (html, text string, err error) {
	if data.ReceivedAt.IsZero() {
		data.ReceivedAt = time.Now()
	}
	if html, err = s.renderHTML("contact.html", data); err != nil {
		return "", "", err
	}
	if text, err = s.renderText("contact.txt", data); err != nil {
		return "", "", err
	}
	return html, text, nil
}

// VerificationData feeds the verification email templates.
type VerificationData struct {
	VerifyURL      string
	UnsubscribeURL string
	CurrentYear    int
}

// SendVerification emails the verification link to a new registrant. When email is
// disabled the send is skipped and logged.
func (s *Service) SendVerification(ctx context.Context, to string, data VerificationData) (string, error) {
	if err := validateEmailAddress(to); err != nil {
		return "", fmt.Errorf("invalid recipient email: %w", err)
	}
	if err := validateLinkURL(data.VerifyURL); err != nil {
		return "", fmt.Errorf("invalid verification link: %w", err)
	}
	if err := validateLinkURL(data.UnsubscribeURL); err != nil {
		return "", fmt.Errorf("invalid unsubscribe link: %w", err)
	}

	if !s.config.Enabled {
		s.logger.Info().Msg("email service disabled, skipping verification email")
		return "", nil
	}

	if data.CurrentYear == 0 {
		data.CurrentYear = time.Now().Year()
	}
	html, err := s.renderHTML("verification.html", data)
	if err != nil {
		return "", err
	}
	text, err := s.renderText("verification.txt", data)
	if err != nil {
		return "", err
	}
	return s.Send(ctx, Message{
		To:       []string{to},
		Subject:  "Confirmez votre inscription à MakeMeLearn",
		HTML:     html,
		Text:     text,
		Template: "verification",
	})
}

func (s *Service) renderHTML(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := s.htmlTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

func (s *Service) renderText(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := s.textTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

// validateEmailAddress rejects malformed addresses and header injection attempts.
func validateEmailAddress(email string) error {
	if strings.ContainsAny(email, "\r\n") {
		return fmt.Errorf("invalid email address: contains newline characters")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("invalid email format: %w", err)
	}
	return nil
}

// validateLinkURL accepts only absolute http(s) URLs.
func validateLinkURL(link string) error {
	u, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s (must be http or https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

func templateLabel(name string) string {
	if name == "" {
		return "custom"
	}
	return name
}
