package middleware

import "net/http"

// APIVersion is advertised on every response.
const APIVersion = "1.0.0"

func VersionHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-API-Version", APIVersion)
		w.Header().Set("X-Powered-By", "MakeMeLearn")
		next.ServeHTTP(w, r)
	})
}
