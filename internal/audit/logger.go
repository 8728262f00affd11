// Package audit records privileged operations (token-guarded endpoints) as structured log
// entries separate from the request log.
package audit

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/makemelearn/api/internal/api/middleware"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Entry is a single audit record.
type Entry struct {
	Timestamp  time.Time         `json:"timestamp"`
	Action     string            `json:"action"`
	RequestID  string            `json:"request_id,omitempty"`
	IPAddress  string            `json:"ip_address"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Status     string            `json:"status"`
	HTTPStatus int               `json:"http_status"`
	Duration   time.Duration     `json:"duration_ns"`
	Details    map[string]string `json:"details,omitempty"`
}

// Logger writes entries under the "audit" key with log_type=audit so they can be routed
// apart from request logs.
type Logger struct {
	logger zerolog.Logger
	now    func() time.Time
}

func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{
		logger: logger.With().Str("component", "audit").Logger(),
		now:    time.Now,
	}
}

func (l *Logger) Log(entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now().UTC()
	}
	event := l.logger.Info()
	if entry.Status == StatusFailure {
		event = l.logger.Warn()
	}
	event.Str("log_type", "audit").Interface("audit", entry).Msg(entry.Action)
}

// Middleware audits every request reaching next as action. Responses below 400 are
// recorded as successes. Place it outside the auth check so rejected attempts are kept.
func (l *Logger) Middleware(action string, trustedProxyCIDRs []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := l.now()
			sw := &statusWriter{ResponseWriter: w}

			next.ServeHTTP(sw, r)

			code := sw.status
			if code == 0 {
				code = http.StatusOK
			}
			status := StatusSuccess
			if code >= http.StatusBadRequest {
				status = StatusFailure
			}
			l.Log(Entry{
				Action:     action,
				RequestID:  middleware.GetRequestID(r.Context()),
				IPAddress:  middleware.ClientIP(r, trustedProxyCIDRs),
				UserAgent:  r.UserAgent(),
				Status:     status,
				HTTPStatus: code,
				Duration:   l.now().Sub(start),
				Details:    map[string]string{"method": r.Method, "path": r.URL.Path},
			})
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(p)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
