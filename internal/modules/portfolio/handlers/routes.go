package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers derived-state, position and return routes. The
// portfolio records themselves (/portfolios, /portfolios/{id}) are served by
// the ledger module, so routes are registered flat rather than mounted.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/portfolios/{id}/recompute", h.HandleRecompute)         // Rebuild derived state
	r.Get("/portfolios/{id}/recompute", h.HandleGetLastRun)         // Last rebuild metadata
	r.Get("/portfolios/{id}/lots", h.HandleGetLots)                 // Tax lots (?instrument=)
	r.Get("/portfolios/{id}/realized-gains", h.HandleGetGains)      // Realized gains (?from=&to=)
	r.Get("/portfolios/{id}/cash-flows", h.HandleGetCashFlows)      // External cash flows (?from=&to=)
	r.Get("/portfolios/{id}/audit", h.HandleGetAudit)               // Corporate action audit log
	r.Get("/portfolios/{id}/positions", h.HandleGetPositions)       // Point-in-time snapshot (?as_of=)
	r.Get("/portfolios/{id}/performance", h.HandleGetPerformance)   // Performance report (?start=&end=)
	r.Get("/portfolios/{id}/returns/mwr", h.HandleGetMoneyWeighted) // Money-weighted return (?start=&end=)
	r.Get("/portfolios/{id}/returns/twr", h.HandleGetTimeWeighted)  // Time-weighted return (?start=&end=)
}
