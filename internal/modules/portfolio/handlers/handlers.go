// Package handlers provides HTTP handlers for derived portfolio state,
// positions and returns.
package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/lotledger/internal/domain"
	"github.com/aristath/lotledger/internal/modules/portfolio"
	"github.com/aristath/lotledger/internal/modules/positions"
	"github.com/aristath/lotledger/internal/modules/returns"
	"github.com/aristath/lotledger/internal/money"
	"github.com/aristath/lotledger/internal/utils"
)

// Handler handles portfolio HTTP requests
type Handler struct {
	service *portfolio.PortfolioService
	now     func() time.Time
	log     zerolog.Logger
}

// NewHandler creates a new portfolio handler
func NewHandler(service *portfolio.PortfolioService, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		now:     time.Now,
		log:     log.With().Str("handler", "portfolio").Logger(),
	}
}

// HandleRecompute handles POST /api/portfolios/{id}/recompute
func (h *Handler) HandleRecompute(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Recompute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"portfolio_id":        result.PortfolioID,
		"fingerprint":         result.Fingerprint,
		"transaction_count":   result.TransactionCount,
		"lot_count":           len(result.Lots),
		"realized_gain_count": len(result.RealizedGains),
		"cash_flow_count":     len(result.CashFlows),
		"instrument_failures": result.InstrumentFailures,
	}, h.log)
}

// HandleGetLastRun handles GET /api/portfolios/{id}/recompute
func (h *Handler) HandleGetLastRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.LastRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteData(w, http.StatusOK, run, h.log)
}

// HandleGetLots handles GET /api/portfolios/{id}/lots
func (h *Handler) HandleGetLots(w http.ResponseWriter, r *http.Request) {
	lots, err := h.service.Lots(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("instrument"))
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"lots":  lots,
		"count": len(lots),
	}, h.log)
}

// HandleGetGains handles GET /api/portfolios/{id}/realized-gains
func (h *Handler) HandleGetGains(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	gains, err := h.service.RealizedGains(r.Context(), chi.URLParam(r, "id"), from, to)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	total, shortTerm, longTerm := decimal.Zero, decimal.Zero, decimal.Zero
	for _, g := range gains {
		total = total.Add(g.Gain)
		if g.LongTerm {
			longTerm = longTerm.Add(g.Gain)
		} else {
			shortTerm = shortTerm.Add(g.Gain)
		}
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"realized_gains": gains,
		"count":          len(gains),
		"total":          total,
		"short_term":     shortTerm,
		"long_term":      longTerm,
	}, h.log)
}

// HandleGetCashFlows handles GET /api/portfolios/{id}/cash-flows
func (h *Handler) HandleGetCashFlows(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	flows, err := h.service.CashFlows(r.Context(), chi.URLParam(r, "id"), from, to)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"cash_flows": flows,
		"count":      len(flows),
	}, h.log)
}

// HandleGetAudit handles GET /api/portfolios/{id}/audit
func (h *Handler) HandleGetAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.AuditLog(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	}, h.log)
}

// HandleGetPositions handles GET /api/portfolios/{id}/positions?as_of=YYYY-MM-DD.
// as_of defaults to today (UTC).
func (h *Handler) HandleGetPositions(w http.ResponseWriter, r *http.Request) {
	asOf := domain.StartOfDay(h.now())
	if v := r.URL.Query().Get("as_of"); v != "" {
		var err error
		if asOf, err = domain.ParseDate("as_of", v); err != nil {
			utils.WriteError(w, err, h.log)
			return
		}
	}

	snap, err := h.service.PositionSnapshot(r.Context(), chi.URLParam(r, "id"), asOf)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	rounded := make([]domain.Position, len(snap.Positions))
	for i, p := range snap.Positions {
		rounded[i] = positions.Round(p, snap.BaseCurrency)
	}
	snap.Positions = rounded
	snap.Summary = positions.RoundSummary(snap.Summary, snap.BaseCurrency)

	utils.WriteData(w, http.StatusOK, snap, h.log)
}

// HandleGetMoneyWeighted handles GET /api/portfolios/{id}/returns/mwr?start=&end=
func (h *Handler) HandleGetMoneyWeighted(w http.ResponseWriter, r *http.Request) {
	period, err := parsePeriod(r)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	portfolioID := chi.URLParam(r, "id")
	rate, err := h.service.MoneyWeightedReturn(r.Context(), portfolioID, period)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"portfolio_id":         portfolioID,
		"start":                period.Start.Format(domain.DateLayout),
		"end":                  period.End.Format(domain.DateLayout),
		"money_weighted":       money.Round(rate, money.ReturnPlaces),
		"money_weighted_label": money.FormatPercent(rate),
	}, h.log)
}

// HandleGetTimeWeighted handles GET /api/portfolios/{id}/returns/twr?start=&end=
func (h *Handler) HandleGetTimeWeighted(w http.ResponseWriter, r *http.Request) {
	period, err := parsePeriod(r)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	portfolioID := chi.URLParam(r, "id")
	total, err := h.service.TimeWeightedReturn(r.Context(), portfolioID, period)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	resp := map[string]interface{}{
		"portfolio_id":        portfolioID,
		"start":               period.Start.Format(domain.DateLayout),
		"end":                 period.End.Format(domain.DateLayout),
		"time_weighted":       money.Round(total, money.ReturnPlaces),
		"time_weighted_label": money.FormatPercent(total),
	}
	if annual, ok := returns.Annualize(total, domain.DaysBetween(period.Start, period.End)); ok {
		resp["time_weighted_annualized"] = money.Round(annual, money.ReturnPlaces)
	}
	utils.WriteData(w, http.StatusOK, resp, h.log)
}

// HandleGetPerformance handles GET /api/portfolios/{id}/performance?start=&end=
func (h *Handler) HandleGetPerformance(w http.ResponseWriter, r *http.Request) {
	period, err := parsePeriod(r)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	portfolioID := chi.URLParam(r, "id")
	p, err := h.service.Portfolio(r.Context(), portfolioID)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	perf, err := h.service.Performance(r.Context(), portfolioID, period)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	utils.WriteData(w, http.StatusOK, perf.Round(p.BaseCurrency), h.log)
}

// parseRange reads optional from/to dates; to covers its whole day.
func parseRange(r *http.Request) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = domain.ParseDate("from", v); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = domain.ParseDate("to", v); err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = domain.EndOfDay(to)
	}
	return from, to, nil
}

// parsePeriod reads the required start/end dates.
func parsePeriod(r *http.Request) (domain.Period, error) {
	q := r.URL.Query()
	start, err := domain.ParseDate("start", q.Get("start"))
	if err != nil {
		return domain.Period{}, err
	}
	end, err := domain.ParseDate("end", q.Get("end"))
	if err != nil {
		return domain.Period{}, err
	}
	return portfolio.NewPeriod(start, end)
}
