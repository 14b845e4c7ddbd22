package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/escrowdesk/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Post("/api/user/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Get("/api/user/me", h.Me)
		r.Post("/api/user/claim-owner", h.ClaimOwner)

		r.Route("/api/deals", func(r chi.Router) {
			r.Get("/", h.ListDeals)
			r.Post("/", h.CreateDeal)
			r.Get("/{id}", h.GetDeal)
			r.Post("/{id}/actions", h.DealAction)
			r.Post("/{id}/notes", h.AddDealNote)
		})

		r.Get("/api/fee", h.QuoteFee)
		r.Get("/api/config/fee", h.GetFeeConfig)
		r.Put("/api/config/fee", h.UpdateFeeConfig)

		r.Get("/api/users", h.ListUsers)
		r.Put("/api/users/{id}/role", h.SetUserRole)

		r.Get("/api/prices", h.Prices)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
