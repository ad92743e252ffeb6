package middleware

import (
	"net/http"

	"github.com/briangreenhill/inkpot/internal/auth"
)

// Gate redirects requests the access gate rejects and stores the verified
// identity, if any, in the request context for downstream handlers.
func Gate(g *auth.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			target, id := g.Check(r.Context(), w, r)
			if target != "" {
				http.Redirect(w, r, target, http.StatusFound)
				return
			}
			if id.ID != "" {
				r = r.WithContext(auth.WithIdentity(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}
