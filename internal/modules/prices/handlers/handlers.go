// Package handlers provides HTTP handlers for daily price operations.
package handlers

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/lotledger/internal/domain"
	"github.com/aristath/lotledger/internal/events"
	"github.com/aristath/lotledger/internal/modules/prices"
	"github.com/aristath/lotledger/internal/utils"
)

// Handler handles price HTTP requests
type Handler struct {
	repo         *prices.Repository
	eventManager *events.Manager
	log          zerolog.Logger
}

// NewHandler creates a new price handler
func NewHandler(repo *prices.Repository, eventManager *events.Manager, log zerolog.Logger) *Handler {
	return &Handler{
		repo:         repo,
		eventManager: eventManager,
		log:          log.With().Str("handler", "prices").Logger(),
	}
}

// PriceRequest is one closing price in the instrument currency.
type PriceRequest struct {
	InstrumentID string          `json:"instrument_id"`
	Date         string          `json:"date"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency"`
}

// StorePricesRequest is the body of POST /api/prices
type StorePricesRequest struct {
	Prices []PriceRequest `json:"prices"`
	Source string         `json:"source,omitempty"`
}

// HandleGetPrices handles GET /api/prices?instruments=A,B&from=&to=
func (h *Handler) HandleGetPrices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	instruments := utils.ParseCSV(q.Get("instruments"))
	if len(instruments) == 0 {
		utils.WriteError(w, domain.NewValidationError("", "instruments", "at least one instrument is required"), h.log)
		return
	}

	var from, to time.Time
	var err error
	if v := q.Get("from"); v != "" {
		if from, err = domain.ParseDate("from", v); err != nil {
			utils.WriteError(w, err, h.log)
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = domain.ParseDate("to", v); err != nil {
			utils.WriteError(w, err, h.log)
			return
		}
	}

	history := make(map[string][]domain.Price, len(instruments))
	count := 0
	for _, id := range utils.SortedUnique(instruments) {
		list, err := h.repo.History(r.Context(), id, from, to)
		if err != nil {
			utils.WriteError(w, err, h.log)
			return
		}
		history[id] = list
		count += len(list)
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"prices": history,
		"count":  count,
	}, h.log)
}

// HandleStorePrices handles POST /api/prices
func (h *Handler) HandleStorePrices(w http.ResponseWriter, r *http.Request) {
	var req StorePricesRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	if len(req.Prices) == 0 {
		utils.WriteError(w, domain.NewValidationError("", "prices", "at least one price is required"), h.log)
		return
	}

	list := make([]domain.Price, 0, len(req.Prices))
	for _, pr := range req.Prices {
		day, err := domain.ParseDate("date", pr.Date)
		if err != nil {
			utils.WriteError(w, err, h.log)
			return
		}
		list = append(list, domain.Price{
			InstrumentID: pr.InstrumentID,
			Date:         day,
			Price:        pr.Price,
			Currency:     pr.Currency,
		})
	}

	count, err := h.repo.Upsert(r.Context(), list, req.Source)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	source := req.Source
	if source == "" {
		source = "manual"
	}
	h.eventManager.EmitTyped("prices", &events.PricesUpdatedData{Count: count, Source: source})

	utils.WriteData(w, http.StatusCreated, map[string]interface{}{
		"stored": count,
	}, h.log)
}
