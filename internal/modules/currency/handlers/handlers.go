// Package handlers provides HTTP handlers for FX rate operations.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/lotledger/internal/domain"
	"github.com/aristath/lotledger/internal/events"
	"github.com/aristath/lotledger/internal/modules/currency"
	"github.com/aristath/lotledger/internal/money"
	"github.com/aristath/lotledger/internal/utils"
)

// Handler handles FX rate HTTP requests
type Handler struct {
	repo         *currency.Repository
	eventManager *events.Manager
	log          zerolog.Logger
}

// NewHandler creates a new FX rate handler
func NewHandler(
	repo *currency.Repository,
	eventManager *events.Manager,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		repo:         repo,
		eventManager: eventManager,
		log:          log.With().Str("handler", "currency").Logger(),
	}
}

// RateRequest is one dated rate: 1 Base = Rate Quote.
type RateRequest struct {
	Base  string          `json:"base"`
	Quote string          `json:"quote"`
	Date  string          `json:"date"`
	Rate  decimal.Decimal `json:"rate"`
}

// StoreRatesRequest is the body of POST /api/fx-rates
type StoreRatesRequest struct {
	Rates  []RateRequest `json:"rates"`
	Source string        `json:"source,omitempty"`
}

// HandleListRates handles GET /api/fx-rates?base=&quote=&from=&to=
// Without a pair every stored rate is returned.
func (h *Handler) HandleListRates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	base := money.NormalizeCurrency(q.Get("base"))
	quote := money.NormalizeCurrency(q.Get("quote"))

	var rates []domain.FxRate
	var err error
	switch {
	case base == "" && quote == "":
		rates, err = h.repo.All(r.Context())
	case base == "" || quote == "":
		err = domain.NewValidationError("", "pair", "base and quote must be given together")
	default:
		var from, to time.Time
		if from, to, err = parseRange(q.Get("from"), q.Get("to")); err == nil {
			rates, err = h.repo.List(r.Context(), domain.CurrencyPair{Base: base, Quote: quote}, from, to)
		}
	}
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"rates": rates,
		"count": len(rates),
	}, h.log)
}

// HandleStoreRates handles POST /api/fx-rates
func (h *Handler) HandleStoreRates(w http.ResponseWriter, r *http.Request) {
	var req StoreRatesRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	if len(req.Rates) == 0 {
		utils.WriteError(w, domain.NewValidationError("", "rates", "at least one rate is required"), h.log)
		return
	}

	rates := make([]domain.FxRate, 0, len(req.Rates))
	pairs := make(map[string]bool)
	for _, rr := range req.Rates {
		day, err := domain.ParseDate("date", rr.Date)
		if err != nil {
			utils.WriteError(w, err, h.log)
			return
		}
		pair := domain.CurrencyPair{
			Base:  money.NormalizeCurrency(rr.Base),
			Quote: money.NormalizeCurrency(rr.Quote),
		}
		pairs[pair.String()] = true
		rates = append(rates, domain.FxRate{Pair: pair, Date: day, Rate: rr.Rate})
	}

	count, err := h.repo.Upsert(r.Context(), rates, req.Source)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	names := make([]string, 0, len(pairs))
	for p := range pairs {
		names = append(names, p)
	}
	h.eventManager.EmitTyped("currency", &events.RatesUpdatedData{
		Count:  count,
		Pairs:  utils.SortedUnique(names),
		Source: sourceOrManual(req.Source),
	})

	utils.WriteData(w, http.StatusCreated, map[string]interface{}{
		"stored": count,
	}, h.log)
}

// HandleConvert handles GET /api/fx-rates/convert?amount=&from=&to=&date=
// The conversion uses the nearest rate on or before date.
func (h *Handler) HandleConvert(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	amount, err := decimal.NewFromString(strings.TrimSpace(q.Get("amount")))
	if err != nil {
		utils.WriteError(w, domain.NewValidationError("", "amount", "invalid amount %q", q.Get("amount")), h.log)
		return
	}
	from := money.NormalizeCurrency(q.Get("from"))
	to := money.NormalizeCurrency(q.Get("to"))
	for field, code := range map[string]string{"from": from, "to": to} {
		if err := money.ValidateCurrency(code); err != nil {
			utils.WriteError(w, domain.NewValidationError("", field, "%v", err), h.log)
			return
		}
	}
	on, err := domain.ParseDate("date", q.Get("date"))
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	table, err := h.repo.LoadTable(r.Context())
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	converter := currency.NewConverter(to, table, h.log)

	rate, err := converter.Rate(from, on)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"from":      from,
		"to":        to,
		"date":      on.Format(domain.DateLayout),
		"rate":      rate,
		"amount":    amount,
		"converted": money.RoundAmount(amount.Mul(rate), to),
	}, h.log)
}

func parseRange(fromValue, toValue string) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error
	if fromValue != "" {
		if from, err = domain.ParseDate("from", fromValue); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if toValue != "" {
		if to, err = domain.ParseDate("to", toValue); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	return from, to, nil
}

func sourceOrManual(source string) string {
	if source == "" {
		return "manual"
	}
	return source
}
