package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers portfolio and transaction routes. Derived-state
// routes under /portfolios/{id} are registered by the portfolio module.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/portfolios", h.HandleCreatePortfolio)
	r.Get("/portfolios", h.HandleListPortfolios)
	r.Get("/portfolios/{id}", h.HandleGetPortfolio)
	r.Get("/portfolios/{id}/transactions", h.HandleListTransactions)
	r.Post("/portfolios/{id}/transactions", h.HandleAppendTransactions)
}
