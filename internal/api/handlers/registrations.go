package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/makemelearn/api/internal/api/middleware"
	"github.com/makemelearn/api/internal/domain/errs"
	"github.com/makemelearn/api/internal/domain/registrations"
)

const (
	msgRegistrationSuccess = "Inscription réussie ! Merci de nous rejoindre."
	msgVerificationResent  = "Email de vérification renvoyé"
	msgVerificationSuccess = "Email vérifié avec succès !"
	msgUnsubscribeSuccess  = "Désabonnement réussi"
	// msgResendConcealed answers every resend outcome except validation errors when
	// concealment is on.
	msgResendConcealed = "Si une inscription non vérifiée existe pour cet email, un nouveau lien de vérification a été envoyé"
)

// RegistrationService is the signup workflow consumed by RegistrationsHandler.
type RegistrationService interface {
	Create(ctx context.Context, in registrations.CreateInput) (*registrations.CreateResult, error)
	VerifyByToken(ctx context.Context, token string) (*registrations.Registration, error)
	ResendVerification(ctx context.Context, email string) (*registrations.Registration, error)
	Unsubscribe(ctx context.Context, email string) (*registrations.Registration, error)
}

type RegistrationsHandler struct {
	service           RegistrationService
	trustedProxyCIDRs []string
	concealResend     bool
	showDetails       bool
}

func NewRegistrationsHandler(service RegistrationService, trustedProxyCIDRs []string, concealResend, showDetails bool) *RegistrationsHandler {
	return &RegistrationsHandler{
		service:           service,
		trustedProxyCIDRs: trustedProxyCIDRs,
		concealResend:     concealResend,
		showDetails:       showDetails,
	}
}

type createRegistrationRequest struct {
	Email    string          `json:"email"`
	Source   string          `json:"source"`
	Metadata json.RawMessage `json:"metadata"`
}

type registrationData struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"createdAt"`
}

type verificationData struct {
	ID         uuid.UUID `json:"id"`
	Email      string    `json:"email"`
	VerifiedAt time.Time `json:"verifiedAt"`
}

// Create handles POST /registrations.
func (h *RegistrationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRegistrationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, h.showDetails)
		return
	}

	result, err := h.service.Create(r.Context(), registrations.CreateInput{
		Email:     req.Email,
		Source:    req.Source,
		Metadata:  req.Metadata,
		ClientIP:  middleware.ClientIP(r, h.trustedProxyCIDRs),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeError(w, r, err, h.showDetails)
		return
	}

	if result.Outcome == registrations.OutcomeVerificationResent {
		respond(w, http.StatusOK, "VERIFICATION_RESENT", msgVerificationResent, nil)
		return
	}
	reg := result.Registration
	respond(w, http.StatusCreated, "REGISTRATION_SUCCESS", msgRegistrationSuccess, registrationData{
		ID:        reg.ID,
		Email:     reg.Email,
		Source:    string(reg.Source),
		CreatedAt: reg.CreatedAt,
	})
}

// Verify handles GET /registrations/verify/{token}.
func (h *RegistrationsHandler) Verify(w http.ResponseWriter, r *http.Request) {
	reg, err := h.service.VerifyByToken(r.Context(), r.PathValue("token"))
	if err != nil {
		writeError(w, r, err, h.showDetails)
		return
	}
	respond(w, http.StatusOK, "VERIFICATION_SUCCESS", msgVerificationSuccess, verificationData{
		ID:         reg.ID,
		Email:      reg.Email,
		VerifiedAt: reg.UpdatedAt,
	})
}

type resendRequest struct {
	Email string `json:"email"`
}

// ResendVerification handles POST /registrations/resend-verification. With concealment on,
// unknown and already verified emails get the same 200 answer as a real resend.
func (h *RegistrationsHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, h.showDetails)
		return
	}

	_, err := h.service.ResendVerification(r.Context(), req.Email)
	if h.concealResend {
		switch errs.KindOf(err) {
		case errs.KindNotFound, errs.KindAlreadyVerified:
			middleware.LoggerFromContext(r.Context()).Info().
				Str("outcome", errs.As(err).Code).
				Msg("resend outcome concealed")
			err = nil
		}
		if err == nil {
			respond(w, http.StatusOK, "VERIFICATION_RESENT", msgResendConcealed, nil)
			return
		}
	}
	if err != nil {
		writeError(w, r, err, h.showDetails)
		return
	}
	respond(w, http.StatusOK, "VERIFICATION_RESENT", msgVerificationResent, nil)
}

// Unsubscribe handles DELETE /registrations/unsubscribe/{email}.
func (h *RegistrationsHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	if _, err := h.service.Unsubscribe(r.Context(), r.PathValue("email")); err != nil {
		writeError(w, r, err, h.showDetails)
		return
	}
	respond(w, http.StatusOK, "UNSUBSCRIBE_SUCCESS", msgUnsubscribeSuccess, nil)
}
