// Package handlers provides HTTP handlers for ledger operations.
package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/lotledger/internal/domain"
	"github.com/aristath/lotledger/internal/events"
	"github.com/aristath/lotledger/internal/modules/ledger"
	"github.com/aristath/lotledger/internal/utils"
)

// Handler handles ledger HTTP requests
type Handler struct {
	repo         *ledger.Repository
	eventManager *events.Manager
	defaultBase  string
	log          zerolog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(
	repo *ledger.Repository,
	eventManager *events.Manager,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		repo:         repo,
		eventManager: eventManager,
		log:          log.With().Str("handler", "ledger").Logger(),
	}
}

// SetDefaultBaseCurrency sets the base currency used when a create request
// omits one.
func (h *Handler) SetDefaultBaseCurrency(code string) {
	h.defaultBase = code
}

// CreatePortfolioRequest is the body of POST /api/portfolios
type CreatePortfolioRequest struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	BaseCurrency string `json:"base_currency"`
}

// TransactionRequest is one transaction in an append request.
// TradeDate must be RFC3339 with an explicit offset or a bare YYYY-MM-DD.
type TransactionRequest struct {
	ID           string          `json:"id,omitempty"`
	InstrumentID string          `json:"instrument_id"`
	Kind         string          `json:"kind"`
	TradeDate    string          `json:"trade_date"`
	Quantity     decimal.Decimal `json:"quantity"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	Fees         decimal.Decimal `json:"fees"`
	Currency     string          `json:"currency"`
}

// AppendRequest is the body of POST /api/portfolios/{id}/transactions
type AppendRequest struct {
	Transactions []TransactionRequest `json:"transactions"`
}

// HandleCreatePortfolio handles POST /api/portfolios
func (h *Handler) HandleCreatePortfolio(w http.ResponseWriter, r *http.Request) {
	var req CreatePortfolioRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	if req.BaseCurrency == "" {
		req.BaseCurrency = h.defaultBase
	}

	p, err := h.repo.CreatePortfolio(r.Context(), domain.Portfolio{
		ID:           req.ID,
		Name:         req.Name,
		BaseCurrency: req.BaseCurrency,
	})
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	h.eventManager.EmitTyped("ledger", &events.PortfolioCreatedData{
		PortfolioID:  p.ID,
		BaseCurrency: p.BaseCurrency,
	})
	utils.WriteData(w, http.StatusCreated, p, h.log)
}

// HandleListPortfolios handles GET /api/portfolios
func (h *Handler) HandleListPortfolios(w http.ResponseWriter, r *http.Request) {
	portfolios, err := h.repo.ListPortfolios(r.Context())
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"portfolios": portfolios,
		"count":      len(portfolios),
	}, h.log)
}

// HandleGetPortfolio handles GET /api/portfolios/{id}
func (h *Handler) HandleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := h.repo.GetPortfolio(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteData(w, http.StatusOK, p, h.log)
}

// HandleListTransactions handles GET /api/portfolios/{id}/transactions?from=&to=
func (h *Handler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "id")
	if _, err := h.repo.GetPortfolio(r.Context(), portfolioID); err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	var from, to time.Time
	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = domain.ParseDate("from", v); err != nil {
			utils.WriteError(w, err, h.log)
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = domain.ParseDate("to", v); err != nil {
			utils.WriteError(w, err, h.log)
			return
		}
		to = domain.EndOfDay(to)
	}

	txs, err := h.repo.TransactionsBetween(r.Context(), portfolioID, from, to)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"count":        len(txs),
	}, h.log)
}

// HandleAppendTransactions handles POST /api/portfolios/{id}/transactions
func (h *Handler) HandleAppendTransactions(w http.ResponseWriter, r *http.Request) {
	portfolioID := chi.URLParam(r, "id")

	var req AppendRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	txs := make([]domain.Transaction, 0, len(req.Transactions))
	for _, tr := range req.Transactions {
		tradeDate, err := domain.ParseTimestamp("trade_date", tr.TradeDate)
		if err != nil {
			utils.WriteError(w, err, h.log)
			return
		}
		txs = append(txs, domain.Transaction{
			ID:           tr.ID,
			PortfolioID:  portfolioID,
			InstrumentID: tr.InstrumentID,
			Kind:         domain.TransactionKind(tr.Kind),
			TradeDate:    tradeDate,
			Quantity:     tr.Quantity,
			PricePerUnit: tr.PricePerUnit,
			Fees:         tr.Fees,
			Currency:     tr.Currency,
		})
	}

	stored, err := h.repo.Append(r.Context(), portfolioID, txs)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	ids := make([]string, len(stored))
	for i, tx := range stored {
		ids[i] = tx.ID
	}
	h.eventManager.EmitTyped("ledger", &events.TransactionsAppendedData{
		PortfolioID:    portfolioID,
		TransactionIDs: ids,
		Count:          len(ids),
	})

	utils.WriteData(w, http.StatusCreated, map[string]interface{}{
		"transactions": stored,
		"count":        len(stored),
	}, h.log)
}
