package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers FX rate routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/fx-rates", func(r chi.Router) {
		r.Get("/", h.HandleListRates)
		r.Post("/", h.HandleStoreRates)
		r.Get("/convert", h.HandleConvert)
	})
}
