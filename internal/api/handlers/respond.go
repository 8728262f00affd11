package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/makemelearn/api/internal/api/problem"
	"github.com/makemelearn/api/internal/domain/errs"
	"github.com/makemelearn/api/internal/storage/postgres"
)

// envelope is the success body shared by every JSON endpoint.
type envelope struct {
	Message     string     `json:"message,omitempty"`
	Code        string     `json:"code"`
	Data        any        `json:"data,omitempty"`
	GeneratedAt *time.Time `json:"generatedAt,omitempty"`
}

const (
	msgInvalidJSON    = "Corps de requête JSON invalide"
	msgBodyTooLarge   = "Corps de requête trop volumineux"
	msgRouteNotFound  = "Route non trouvée"
	codeInvalidJSON   = "INVALID_JSON"
	codeBodyTooLarge  = "PAYLOAD_TOO_LARGE"
	codeRouteNotFound = "ROUTE_NOT_FOUND"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respond(w http.ResponseWriter, status int, code, message string, data any) {
	writeJSON(w, status, envelope{Message: message, Code: code, Data: data})
}

// respondGenerated is respond for aggregates, stamped with their computation time.
func respondGenerated(w http.ResponseWriter, code string, data any, generatedAt time.Time) {
	at := generatedAt.UTC()
	writeJSON(w, http.StatusOK, envelope{Code: code, Data: data, GeneratedAt: &at})
}

// decodeJSON reads a single JSON object from the request body. Failures come back as
// tagged validation errors.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errs.Wrap(errs.KindValidation, codeBodyTooLarge, msgBodyTooLarge, err)
		}
		return errs.Wrap(errs.KindValidation, codeInvalidJSON, msgInvalidJSON, err)
	}
	if dec.More() {
		return errs.New(errs.KindValidation, codeInvalidJSON, msgInvalidJSON)
	}
	return nil
}

// statusForKind is the single mapping from error kind to HTTP status.
func statusForKind(kind errs.Kind) int {
	switch kind {
	case errs.KindValidation, errs.KindAlreadyVerified:
		return http.StatusBadRequest
	case errs.KindUnauthorized:
		return http.StatusUnauthorized
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindRateLimited:
		return http.StatusTooManyRequests
	case errs.KindDatabaseUnavailable:
		return http.StatusServiceUnavailable
	case errs.KindEmailServiceUnavailable, errs.KindEmailConfig, errs.KindEmailAuth, errs.KindDelivery,
		errs.KindDatabase, errs.KindInternal:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// classify tags err. Untagged storage errors are recognized by their sentinels.
func classify(err error) *errs.Error {
	var tagged *errs.Error
	if errors.As(err, &tagged) {
		return tagged
	}
	switch {
	case errors.Is(err, postgres.ErrUniqueViolation):
		return errs.Wrap(errs.KindConflict, errs.CodeDuplicateEntry, errs.MsgDuplicateEntry, err)
	case errors.Is(err, postgres.ErrInvalidReference):
		return errs.Wrap(errs.KindValidation, errs.CodeInvalidReference, errs.MsgInvalidReference, err)
	case errors.Is(err, postgres.ErrCheckViolation):
		return errs.Wrap(errs.KindValidation, errs.CodeConstraintViolation, errs.MsgConstraint, err)
	case errors.Is(err, postgres.ErrDatabaseUnavailable):
		return errs.Wrap(errs.KindDatabaseUnavailable, errs.CodeDatabaseConnection, errs.MsgDatabaseConnection, err)
	}
	return errs.As(err)
}

// writeError renders err as a problem response. Internal error text is only exposed when
// showDetails is set.
func writeError(w http.ResponseWriter, r *http.Request, err error, showDetails bool) {
	e := classify(err)
	status := statusForKind(e.Kind)
	opts := []problem.Option{problem.WithCode(e.Code)}
	if len(e.Fields) > 0 {
		opts = append(opts, problem.WithErrors(e.Fields))
	}
	problem.Write(w, r, status, problem.Type(e.Code), e.Message, err, showDetails, opts...)
}

// NotFound answers unmatched routes with a ROUTE_NOT_FOUND problem.
func NotFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		problem.Write(w, r, http.StatusNotFound, problem.Type(codeRouteNotFound), msgRouteNotFound, nil, false,
			problem.WithCode(codeRouteNotFound),
			problem.WithDetail(r.Method+" "+strings.TrimSpace(r.URL.Path)))
	})
}
