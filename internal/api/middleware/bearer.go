package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/makemelearn/api/internal/api/problem"
)

var errBearerRejected = errors.New("bearer token missing or invalid")

// BearerAuth admits requests whose Authorization header carries exactly token. An empty
// configured token rejects everything. Rejections are 401 problems with code and title.
func BearerAuth(token, code, title string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, ok := bearerToken(r)
			if !ok || len(expected) == 0 || subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="makemelearn"`)
				problem.Write(w, r, http.StatusUnauthorized, problem.Type(code), title, errBearerRejected, false,
					problem.WithCode(code))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
