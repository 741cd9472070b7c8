package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/riverbend/watchlistd/internal"
)

// requireBearer requires a bearer token equal to the configured shared
// secret (WORKER_SECRET) on every route but /health. Constant-time
// comparison avoids leaking the secret's length/prefix through response
// timing.
func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.secret)) != 1 {
			writeError(w, http.StatusUnauthorized, internal.ErrAuth, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}
