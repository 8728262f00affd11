package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makemelearn/api/internal/api/problem"
)

func TestBearerAuth(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		header     string
		wantStatus int
	}{
		{"valid token", "s3cret-token", "Bearer s3cret-token", http.StatusOK},
		{"scheme is case insensitive", "s3cret-token", "bearer s3cret-token", http.StatusOK},
		{"missing header", "s3cret-token", "", http.StatusUnauthorized},
		{"basic scheme", "s3cret-token", "Basic s3cret-token", http.StatusUnauthorized},
		{"wrong token", "s3cret-token", "Bearer nope", http.StatusUnauthorized},
		{"empty bearer", "s3cret-token", "Bearer ", http.StatusUnauthorized},
		{"nothing configured", "", "Bearer anything", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := BearerAuth(tt.configured, "AUTH_REQUIRED", "Token d'authentification requis")(okHandler())
			req := httptest.NewRequest(http.MethodGet, "/stats/system", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusUnauthorized {
				return
			}
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
			assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

			var body problem.ProblemDetails
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, "AUTH_REQUIRED", body.Code)
			assert.Equal(t, "Token d'authentification requis", body.Title)
			assert.Empty(t, body.Detail)
		})
	}
}
