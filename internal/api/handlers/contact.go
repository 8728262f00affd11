package handlers

import (
	"context"
	"net/http"

	"github.com/makemelearn/api/internal/domain/contact"
)

const msgContactSuccess = "Message envoyé avec succès"

type ContactService interface {
	Submit(ctx context.Context, in contact.Input) (string, error)
}

type ContactHandler struct {
	service     ContactService
	showDetails bool
}

func NewContactHandler(service ContactService, showDetails bool) *ContactHandler {
	return &ContactHandler{service: service, showDetails: showDetails}
}

type contactRequest struct {
	Name     string         `json:"name"`
	Email    string         `json:"email"`
	Subject  string         `json:"subject"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type contactData struct {
	MessageID string `json:"messageId,omitempty"`
}

// Submit handles POST /contact.
func (h *ContactHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err, h.showDetails)
		return
	}

	id, err := h.service.Submit(r.Context(), contact.Input{
		Name:     req.Name,
		Email:    req.Email,
		Subject:  req.Subject,
		Message:  req.Message,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeError(w, r, err, h.showDetails)
		return
	}
	respond(w, http.StatusOK, "CONTACT_SUCCESS", msgContactSuccess, contactData{MessageID: id})
}
