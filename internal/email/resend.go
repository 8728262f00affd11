package email

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"sync"

	"github.com/resend/resend-go/v2"
)

// sendViaResend sends an email using the Resend API. Rate limits are reported, not retried.
func (s *Service) sendViaResend(ctx context.Context, msg Message) (string, error) {
	if s.resendClient == nil {
		return "", fmt.Errorf("resend client not initialized: %w", ErrNotConfigured)
	}

	from := msg.From
	if msg.FromName != "" {
		from = (&mail.Address{Name: msg.FromName, Address: msg.From}).String()
	}
	params := &resend.SendEmailRequest{
		From:    from,
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
		ReplyTo: msg.ReplyTo,
	}

	status := &responseStatus{}
	sent, err := s.resendClient.Emails.SendWithContext(withResponseStatus(ctx, status), params)
	if err != nil {
		var rateLimitErr *resend.RateLimitError
		if errors.As(err, &rateLimitErr) {
			s.logger.Warn().
				Str("limit", rateLimitErr.Limit).
				Str("remaining", rateLimitErr.Remaining).
				Str("reset", rateLimitErr.Reset).
				Msg("resend rate limit exceeded")
			return "", fmt.Errorf("email rate limit exceeded (limit: %s, resets in: %s seconds): %w: %w",
				rateLimitErr.Limit, rateLimitErr.Reset, ErrRateLimited, err)
		}
		switch status.get() {
		case http.StatusUnauthorized, http.StatusForbidden:
			s.logger.Error().Err(err).Int("status", status.get()).Msg("resend rejected credentials")
			return "", fmt.Errorf("resend API error: %w: %w", ErrInvalidCredentials, err)
		}
		return "", fmt.Errorf("resend API error: %w", err)
	}
	return sent.Id, nil
}

// responseStatus captures the HTTP status of the provider call made with its context.
type responseStatus struct {
	mu   sync.Mutex
	code int
}

func (r *responseStatus) set(code int) {
	r.mu.Lock()
	r.code = code
	r.mu.Unlock()
}

func (r *responseStatus) get() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.code
}

type responseStatusKey struct{}

func withResponseStatus(ctx context.Context, status *responseStatus) context.Context {
	return context.WithValue(ctx, responseStatusKey{}, status)
}

// statusRecorder is an http.RoundTripper that reports response codes back to the caller.
type statusRecorder struct {
	next http.RoundTripper
}

func (t *statusRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err == nil {
		if status, ok := req.Context().Value(responseStatusKey{}).(*responseStatus); ok {
			status.set(resp.StatusCode)
		}
	}
	return resp, err
}
