package api

import (
	"campus-sync/auth"
	"campus-sync/errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Authenticate puts the identity of a valid bearer token in the request
// context. Requests without one go through anonymous; the services reject
// them where an identity is required.
func Authenticate(log *slog.Logger, secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			identity, err := auth.IdentityFromBearer(secret, header)
			if err != nil {
				log.Debug("Invalid bearer token", "path", r.URL.Path, "error", err)
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
		})
	}
}

// writable rejects the writes of a backend that owns its own rows.
func writable(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, fmt.Errorf("%w: %s %s", errors.ErrReadOnly, r.Method, r.URL.Path))
		})
	}
}
