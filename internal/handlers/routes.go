package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	mw "github.com/subscriptly/billing/internal/middleware"
)

type Middleware = func(http.Handler) http.Handler

// NewRouter wires the public payment endpoints and the authenticated
// account API.
func NewRouter(payments *PaymentHandler, accounts *AccountHandler, auth, blackout Middleware) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.SecurityHeaders)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.With(blackout).Get("/pay/{invoice}/{gateway}", payments.InstantPay)
	r.Get("/payments/verify", payments.Callback)
	r.Post("/payments/verify", payments.Callback)
	r.Get("/payments/{invoice}", payments.Status)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth)

		r.Get("/wallet", accounts.Wallet)
		r.With(blackout).Post("/wallet/charge", accounts.ChargeWallet)
		r.With(blackout).Post("/followers/charge", accounts.ChargeFollower)
		r.With(blackout).Post("/targets/{targetID}/donate", accounts.Donate)
		r.Post("/sms-packages/{packageID}/purchase", accounts.BuySmsPackage)

		r.Post("/subscriptions", accounts.Subscribe)
		r.Delete("/subscriptions/{subscriptionID}", accounts.Cancel)
		r.Get("/subscriptions/{subscriptionID}/active", accounts.Active)
	})

	return r
}
