/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and the routes. This is
  the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:       Request logging
  2. Recoverer:    Panic recovery (500 instead of crash)
  3. RequestID:    Unique ID per request for tracing
  4. CORS:         Cross-origin requests for the portal frontend
  5. Authenticate: Member JWT, on every route except health and link
                   confirmation

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Member token middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler, jwtSecret string, origins []string) *chi.Mux {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// The token in the link is the credential.
	r.Post("/bookings/confirm/{token}", h.ConfirmBooking)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(jwtSecret))

		r.Post("/purchase", h.Purchase)
		r.Post("/booking", h.Book)
		r.Get("/bookings/{reference}", h.GetBooking)

		r.Route("/transactions/{id}", func(r chi.Router) {
			r.Post("/cancel", h.CancelTransaction)
			r.Post("/reinstate", h.ReinstateTransaction)
		})

		r.Route("/organizations/{id}", func(r chi.Router) {
			r.Get("/transactions", h.ListTransactions)
			r.Get("/balances", h.GetBalances)
		})
	})

	return r
}
