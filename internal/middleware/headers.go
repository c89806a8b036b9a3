package middleware

import (
	"net/http"
	"time"

	"github.com/subscriptly/billing/internal/calendar"
	"github.com/subscriptly/billing/internal/services"
)

func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}

// Blackout refuses requests while the nightly billing window is open.
func Blackout(window calendar.Window, now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if window.Contains(now()) {
				w.Header().Set("Retry-After", "1800")
				services.SendErrorResponse(w, "Payments are paused during the nightly billing window", http.StatusServiceUnavailable, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
