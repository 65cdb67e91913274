package server

import (
	"context"
	"net/http"

	"github.com/geopuzzle/api/internal/auth"
)

type ctxKey int

const ctxKeyIdentity ctxKey = iota

// authMiddleware requires a valid bearer token and stores the resolved
// identity in the request context.
func authMiddleware(tokens *auth.Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.BearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			id, err := tokens.Verify(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyIdentity, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func identityFrom(r *http.Request) auth.Identity {
	return r.Context().Value(ctxKeyIdentity).(auth.Identity)
}
