package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makemelearn/api/internal/domain/contact"
	"github.com/makemelearn/api/internal/domain/errs"
)

type fakeContactService struct {
	id  string
	err error
	got contact.Input
}

func (f *fakeContactService) Submit(_ context.Context, in contact.Input) (string, error) {
	f.got = in
	return f.id, f.err
}

func TestContactHandler_Submit(t *testing.T) {
	svc := &fakeContactService{id: "<01J8Z@makemelearn.fr>"}
	h := NewContactHandler(svc, false)

	w := httptest.NewRecorder()
	h.Submit(w, httptest.NewRequest(http.MethodPost, "/contact", strings.NewReader(
		`{"name":"Ada Lovelace","email":"ada@example.com","subject":"Partenariat","message":"Bonjour, je souhaite en savoir plus."}`)))

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "CONTACT_SUCCESS", body["code"])
	assert.Equal(t, "Message envoyé avec succès", body["message"])
	assert.Equal(t, map[string]any{"messageId": "<01J8Z@makemelearn.fr>"}, body["data"])
	assert.Equal(t, contact.Input{
		Name:    "Ada Lovelace",
		Email:   "ada@example.com",
		Subject: "Partenariat",
		Message: "Bonjour, je souhaite en savoir plus.",
	}, svc.got)
}

func TestContactHandler_PassesMetadata(t *testing.T) {
	svc := &fakeContactService{id: "<01J8Z@makemelearn.fr>"}
	h := NewContactHandler(svc, false)

	w := httptest.NewRecorder()
	h.Submit(w, httptest.NewRequest(http.MethodPost, "/contact", strings.NewReader(
		`{"name":"Ada","email":"ada@example.com","subject":"Partenariat","message":"Bonjour à toute l'équipe.","metadata":{"page":"/faq"}}`)))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"page": "/faq"}, svc.got.Metadata)
}

func TestContactHandler_RejectsNonObjectMetadata(t *testing.T) {
	h := NewContactHandler(&fakeContactService{}, false)

	w := httptest.NewRecorder()
	h.Submit(w, httptest.NewRequest(http.MethodPost, "/contact", strings.NewReader(
		`{"name":"Ada","email":"ada@example.com","subject":"Partenariat","message":"Bonjour à toute l'équipe.","metadata":[1]}`)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestContactHandler_SubmitErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name: "validation",
			err: errs.Validation(errs.CodeValidation, errs.MsgValidation,
				map[string]string{"message": "Le message doit contenir entre 10 et 5000 caractères"}),
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "smtp credentials rejected",
			err:        errs.New(errs.KindEmailAuth, errs.CodeEmailAuthError, "Erreur d'authentification email"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "EMAIL_AUTH_ERROR",
		},
		{
			name:       "relay failure",
			err:        errs.New(errs.KindDelivery, errs.CodeContactError, "Erreur lors de l'envoi du message"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "CONTACT_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewContactHandler(&fakeContactService{err: tt.err}, false)
			w := httptest.NewRecorder()
			h.Submit(w, httptest.NewRequest(http.MethodPost, "/contact", strings.NewReader(`{"name":"Ada"}`)))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decodeBody(t, w)["code"])
		})
	}
}
