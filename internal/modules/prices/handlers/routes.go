package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers price routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/prices", func(r chi.Router) {
		r.Get("/", h.HandleGetPrices)
		r.Post("/", h.HandleStorePrices)
	})
}
