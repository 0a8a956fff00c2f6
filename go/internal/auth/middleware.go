package auth

import (
	"net/http"

	"github.com/mcdev12/draftroom/go/internal/apperr"
	"github.com/rs/zerolog/log"
)

// Middleware rejects requests without a valid token and stores the principal
// on the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.FromRequest(r)
		if err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("rejected unauthenticated request")
			apperr.WriteError(w, apperr.Wrap(apperr.CodeUnauthenticated, err, "authentication required"))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireRole must run after Middleware.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := FromContext(r.Context())
			if !ok {
				apperr.WriteError(w, apperr.New(apperr.CodeUnauthenticated, "authentication required"))
				return
			}
			if !p.HasRole(role) {
				apperr.WriteError(w, apperr.New(apperr.CodeForbidden, "role %s required", role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
