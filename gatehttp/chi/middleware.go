// Package chi provides a chi-idiomatic adapter over the shared Payment
// Gate core. It is a thin adapter (the teacher's own description of its
// http/chi/middleware.go): everything except the OPTIONS/CORS-preflight
// bypass delegates to gate.Gate.
package chi

import (
	"net/http"

	"github.com/x402gate/x402/gate"
)

// Middleware wraps next with g's payment gating, bypassing gating for
// OPTIONS requests so CORS preflight checks are never charged a payment
// challenge, matching the teacher's http/chi/middleware.go.
func Middleware(g *gate.Gate) func(http.Handler) http.Handler {
	gated := g.Middleware
	return func(next http.Handler) http.Handler {
		gatedNext := gated(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			gatedNext.ServeHTTP(w, r)
		})
	}
}
