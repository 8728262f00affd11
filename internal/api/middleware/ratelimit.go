package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/makemelearn/api/internal/api/problem"
	"github.com/makemelearn/api/internal/config"
	"github.com/makemelearn/api/internal/metrics"
)

// Policy is one rate-limit rule: Limit requests per Window per client.
type Policy struct {
	Name    string
	Limit   int
	Window  time.Duration
	Code    string
	Message string
}

// Decision is a store's verdict for one request.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateStore counts requests per key. Implementations must be safe for concurrent use.
type RateStore interface {
	Allow(ctx context.Context, key string, policy Policy) (Decision, error)
}

// Policies derives the global, registration and contact policies from configuration.
func Policies(cfg config.RateLimitConfig) (global, registration, contact Policy) {
	global = Policy{
		Name: "global", Limit: cfg.MaxRequests, Window: cfg.Window,
		Code:    "RATE_LIMIT_EXCEEDED",
		Message: "Trop de requêtes depuis cette IP, veuillez réessayer plus tard.",
	}
	registration = Policy{
		Name: "registration", Limit: cfg.RegistrationMax, Window: cfg.RegistrationWindow,
		Code:    "REGISTRATION_LIMIT_EXCEEDED",
		Message: "Trop d'inscriptions depuis cette IP, veuillez réessayer plus tard.",
	}
	contact = Policy{
		Name: "contact", Limit: cfg.ContactMax, Window: cfg.ContactWindow,
		Code:    "CONTACT_LIMIT_EXCEEDED",
		Message: "Trop de messages envoyés récemment. Veuillez patienter avant de réessayer.",
	}
	return global, registration, contact
}

// RateLimit enforces policy per client IP. Paths with an exempt prefix are never counted.
// A store failure lets the request through.
func RateLimit(store RateStore, policy Policy, trustedProxyCIDRs []string, exemptPrefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil || policy.Limit <= 0 || policy.Window <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || isExempt(r.URL.Path, exemptPrefixes) {
				next.ServeHTTP(w, r)
				return
			}

			key := policy.Name + ":" + ClientIP(r, trustedProxyCIDRs)
			decision, err := store.Allow(r.Context(), key, policy)
			if err != nil {
				LoggerFromContext(r.Context()).Warn().Err(err).Str("policy", policy.Name).Msg("rate limit store unavailable")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("RateLimit-Limit", strconv.Itoa(policy.Limit))
			w.Header().Set("RateLimit-Remaining", strconv.Itoa(max(decision.Remaining, 0)))

			if !decision.Allowed {
				metrics.RateLimited.WithLabelValues(policy.Name).Inc()
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(decision.RetryAfter)))
				LoggerFromContext(r.Context()).Warn().
					Str("policy", policy.Name).
					Str("ip", ClientIP(r, trustedProxyCIDRs)).
					Msg("rate limit exceeded")
				problem.Write(w, r, http.StatusTooManyRequests, problem.Type(policy.Code), policy.Message, nil, false,
					problem.WithCode(policy.Code))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isExempt(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, strings.TrimRight(p, "/")+"/") {
			return true
		}
	}
	return false
}

func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}

// MemoryStore keeps a token bucket per key: Limit tokens refilled evenly over Window.
// Keys idle for longer than their window are swept every sweepInterval.
type MemoryStore struct {
	mu          sync.Mutex
	limiters    map[string]*limiterEntry
	now         func() time.Time
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

type limiterEntry struct {
	limiter  *rate.Limiter
	window   time.Duration
	lastSeen time.Time
}

const sweepInterval = 5 * time.Minute

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		limiters:    make(map[string]*limiterEntry),
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *MemoryStore) Allow(ctx context.Context, key string, policy Policy) (Decision, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.limiters[key]
	if !ok {
		interval := policy.Window / time.Duration(policy.Limit)
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Every(interval), policy.Limit),
			window:  policy.Window,
		}
		s.limiters[key] = entry
	}
	entry.lastSeen = now

	reservation := entry.limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}, nil
	}
	return Decision{Allowed: true, Remaining: int(entry.limiter.TokensAt(now))}, nil
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup drops entries idle for longer than their window; a fresh bucket is equivalent.
func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, entry := range s.limiters {
		if now.Sub(entry.lastSeen) > entry.window {
			delete(s.limiters, key)
		}
	}
}

// Stop ends the sweeper goroutine.
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

func (s *MemoryStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}
