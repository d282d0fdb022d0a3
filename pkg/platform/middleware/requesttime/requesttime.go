// Package requesttime pins one "now" per request so audit timestamps and
// proof checks within a request agree.
package requesttime

import (
	"net/http"
	"time"

	"stealth/pkg/requestcontext"
)

// Middleware stores the request start time via requestcontext.WithTime.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
