// Package lots tracks tax lots per (portfolio, instrument) and consumes them
// first-in, first-out on sale.
package lots

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/lotledger/internal/domain"
	"github.com/aristath/lotledger/internal/money"
)

// DefaultLongTermDays is the holding period at which a gain becomes long term.
const DefaultLongTermDays = 365

// lotNamespace scopes the deterministic UUIDv5 lot identifiers.
var lotNamespace = uuid.MustParse("6f1c1f0e-3a8e-5b8e-9d0c-7b6f4f3f2a10")

// LotID derives the stable identifier of the lot opened by a transaction.
// Replaying the same ledger always yields the same ids.
func LotID(portfolioID, sourceTransactionID string) string {
	return uuid.NewSHA1(lotNamespace, []byte(portfolioID+"/"+sourceTransactionID)).String()
}

// Key identifies one lot queue in the arena.
type Key struct {
	PortfolioID  string
	InstrumentID string
}

// lot keeps its exact total cost. Unit cost is always derived, so splits and
// partial sales never accumulate rounding in the stored state.
type lot struct {
	id           string
	instrumentID string
	sourceTxID   string
	currency     string
	acquired     time.Time
	originalQty  decimal.Decimal
	remainingQty decimal.Decimal
	cost         decimal.Decimal // base-currency cost of originalQty, fees included
	consumedCost decimal.Decimal // cost already released by sales
}

func (l *lot) unitCost() decimal.Decimal {
	return money.Div(l.cost, l.originalQty)
}

func (l *lot) remainingCost() decimal.Decimal {
	return l.cost.Sub(l.consumedCost)
}

func (l *lot) snapshot(portfolioID string) domain.TaxLot {
	return domain.TaxLot{
		LotID:                     l.id,
		PortfolioID:               portfolioID,
		InstrumentID:              l.instrumentID,
		AcquisitionDate:           l.acquired,
		OriginalQuantity:          l.originalQty,
		RemainingQuantity:         l.remainingQty,
		UnitCostBaseCurrency:      l.unitCost(),
		RemainingCostBaseCurrency: l.remainingCost(),
		SourceTransactionID:       l.sourceTxID,
		Currency:                  l.currency,
	}
}

// Options configures a Tracker.
type Options struct {
	LongTermDays int
}

// Tracker owns every lot of one portfolio. Lots are stored in an arena keyed
// by (portfolio, instrument) and only copies leave the tracker.
// A Tracker is not safe for concurrent use; run one per portfolio.
type Tracker struct {
	arena        map[Key][]*lot
	portfolioID  string
	longTermDays int
	log          zerolog.Logger
}

// NewTracker creates an empty tracker for portfolioID.
func NewTracker(portfolioID string, opts Options, log zerolog.Logger) *Tracker {
	if opts.LongTermDays <= 0 {
		opts.LongTermDays = DefaultLongTermDays
	}
	return &Tracker{
		arena:        make(map[Key][]*lot),
		portfolioID:  portfolioID,
		longTermDays: opts.LongTermDays,
		log:          log.With().Str("component", "lot_tracker").Str("portfolio_id", portfolioID).Logger(),
	}
}

// PortfolioID returns the portfolio this tracker belongs to.
func (t *Tracker) PortfolioID() string {
	return t.portfolioID
}

func (t *Tracker) key(instrumentID string) Key {
	return Key{PortfolioID: t.portfolioID, InstrumentID: instrumentID}
}

func (t *Tracker) checkOwnership(tx domain.Transaction) error {
	if tx.PortfolioID != t.portfolioID {
		return domain.NewValidationError(tx.ID, "portfolio_id",
			"transaction belongs to %s, tracker holds %s", tx.PortfolioID, t.portfolioID)
	}
	return nil
}

// ApplyBuy opens a lot for a BUY. fxRate converts the trade currency into the
// base currency on the trade date. Unit cost is (quantity*price + fees)*fx / quantity.
func (t *Tracker) ApplyBuy(tx domain.Transaction, fxRate decimal.Decimal) (domain.TaxLot, error) {
	if err := t.checkOwnership(tx); err != nil {
		return domain.TaxLot{}, err
	}
	if tx.Kind != domain.KindBuy {
		return domain.TaxLot{}, domain.NewValidationError(tx.ID, "kind", "expected BUY, got %s", tx.Kind)
	}
	if !tx.Quantity.IsPositive() {
		return domain.TaxLot{}, domain.NewValidationError(tx.ID, "quantity", "buy quantity must be positive")
	}
	if !fxRate.IsPositive() {
		return domain.TaxLot{}, domain.NewValidationError(tx.ID, "fx_rate", "fx rate must be positive")
	}

	l := &lot{
		id:           LotID(t.portfolioID, tx.ID),
		instrumentID: tx.InstrumentID,
		sourceTxID:   tx.ID,
		currency:     tx.Currency,
		acquired:     tx.TradeDate,
		originalQty:  tx.Quantity,
		remainingQty: tx.Quantity,
		cost:         tx.Gross().Add(tx.Fees).Mul(fxRate),
		consumedCost: decimal.Zero,
	}

	key := t.key(tx.InstrumentID)
	t.arena[key] = insertFIFO(t.arena[key], l)

	t.log.Debug().
		Str("transaction_id", tx.ID).
		Str("instrument_id", tx.InstrumentID).
		Str("lot_id", l.id).
		Str("quantity", l.originalQty.String()).
		Msg("Opened lot")

	return l.snapshot(t.portfolioID), nil
}

// insertFIFO keeps lots ordered by acquisition date, ties by source transaction id.
func insertFIFO(queue []*lot, l *lot) []*lot {
	i := sort.Search(len(queue), func(i int) bool {
		q := queue[i]
		if !q.acquired.Equal(l.acquired) {
			return q.acquired.After(l.acquired)
		}
		return q.sourceTxID > l.sourceTxID
	})
	queue = append(queue, nil)
	copy(queue[i+1:], queue[i:])
	queue[i] = l
	return queue
}

// ApplySell consumes open lots oldest first and returns one realized gain per
// lot touched. Proceeds (quantity*price - fees)*fx are allocated pro rata.
// The sale is all-or-nothing: on InsufficientQuantityError no lot is changed.
func (t *Tracker) ApplySell(tx domain.Transaction, fxRate decimal.Decimal) ([]domain.RealizedGain, error) {
	if err := t.checkOwnership(tx); err != nil {
		return nil, err
	}
	if tx.Kind != domain.KindSell {
		return nil, domain.NewValidationError(tx.ID, "kind", "expected SELL, got %s", tx.Kind)
	}
	if !fxRate.IsPositive() {
		return nil, domain.NewValidationError(tx.ID, "fx_rate", "fx rate must be positive")
	}

	sellQty := tx.Quantity.Abs()
	if sellQty.IsZero() {
		return nil, domain.NewValidationError(tx.ID, "quantity", "sell quantity must not be zero")
	}

	available := t.OpenQuantity(tx.InstrumentID)
	if available.LessThan(sellQty) {
		return nil, &domain.InsufficientQuantityError{
			TransactionID: tx.ID,
			InstrumentID:  tx.InstrumentID,
			Requested:     sellQty,
			Available:     available,
		}
	}

	totalProceeds := tx.Gross().Sub(tx.Fees).Mul(fxRate)
	allocated := decimal.Zero
	needed := sellQty
	gains := make([]domain.RealizedGain, 0, 1)

	for _, l := range t.arena[t.key(tx.InstrumentID)] {
		if needed.IsZero() {
			break
		}
		if !l.remainingQty.IsPositive() {
			continue
		}

		take := decimal.Min(l.remainingQty, needed)
		needed = needed.Sub(take)

		var cost decimal.Decimal
		if take.Equal(l.remainingQty) {
			// Closing the lot releases exactly what is left of its cost.
			cost = l.remainingCost()
		} else {
			cost = money.ProRata(l.cost, take, l.originalQty)
		}

		var proceeds decimal.Decimal
		if needed.IsZero() {
			proceeds = totalProceeds.Sub(allocated)
		} else {
			proceeds = money.ProRata(totalProceeds, take, sellQty)
		}
		allocated = allocated.Add(proceeds)

		l.remainingQty = l.remainingQty.Sub(take)
		l.consumedCost = l.consumedCost.Add(cost)

		days := domain.DaysBetween(l.acquired, tx.TradeDate)
		gains = append(gains, domain.RealizedGain{
			LotID:                l.id,
			SellTransactionID:    tx.ID,
			InstrumentID:         tx.InstrumentID,
			SaleDate:             tx.TradeDate,
			AcquisitionDate:      l.acquired,
			QuantityClosed:       take,
			ProceedsBaseCurrency: proceeds,
			CostBaseCurrency:     cost,
			Gain:                 proceeds.Sub(cost),
			HoldingPeriodDays:    days,
			LongTerm:             days >= t.longTermDays,
		})
	}

	t.log.Debug().
		Str("transaction_id", tx.ID).
		Str("instrument_id", tx.InstrumentID).
		Str("quantity", sellQty.String()).
		Int("lots_touched", len(gains)).
		Msg("Applied sale")

	return gains, nil
}

// LotAdjustment records the effect of a corporate action on one lot.
type LotAdjustment struct {
	LotID          string          `json:"lot_id"`
	QuantityBefore decimal.Decimal `json:"quantity_before"`
	QuantityAfter  decimal.Decimal `json:"quantity_after"`
	UnitCostBefore decimal.Decimal `json:"unit_cost_before"`
	UnitCostAfter  decimal.Decimal `json:"unit_cost_after"`
}

// Scale multiplies the original and remaining quantity of every open lot of
// an instrument by ratio. Total cost is unchanged, so unit cost is divided by
// ratio. Closed lots are left untouched.
func (t *Tracker) Scale(instrumentID string, ratio decimal.Decimal) ([]LotAdjustment, error) {
	if !ratio.IsPositive() {
		return nil, domain.NewValidationError("", "ratio", "scale ratio must be positive, got %s", ratio)
	}

	adjustments := make([]LotAdjustment, 0)
	for _, l := range t.arena[t.key(instrumentID)] {
		if !l.remainingQty.IsPositive() {
			continue
		}

		before := l.remainingQty
		unitBefore := l.unitCost()

		l.originalQty = l.originalQty.Mul(ratio)
		l.remainingQty = l.remainingQty.Mul(ratio)

		adjustments = append(adjustments, LotAdjustment{
			LotID:          l.id,
			QuantityBefore: before,
			QuantityAfter:  l.remainingQty,
			UnitCostBefore: unitBefore,
			UnitCostAfter:  l.unitCost(),
		})
	}

	return adjustments, nil
}

// OpenQuantity returns the total remaining quantity of an instrument.
func (t *Tracker) OpenQuantity(instrumentID string) decimal.Decimal {
	total := decimal.Zero
	for _, l := range t.arena[t.key(instrumentID)] {
		total = total.Add(l.remainingQty)
	}
	return total
}

// Lots returns copies of every lot of an instrument, open or closed, in FIFO order.
func (t *Tracker) Lots(instrumentID string) []domain.TaxLot {
	queue := t.arena[t.key(instrumentID)]
	out := make([]domain.TaxLot, 0, len(queue))
	for _, l := range queue {
		out = append(out, l.snapshot(t.portfolioID))
	}
	return out
}

// OpenLots returns copies of the lots that still hold units, in FIFO order.
func (t *Tracker) OpenLots(instrumentID string) []domain.TaxLot {
	out := make([]domain.TaxLot, 0)
	for _, l := range t.arena[t.key(instrumentID)] {
		if l.remainingQty.IsPositive() {
			out = append(out, l.snapshot(t.portfolioID))
		}
	}
	return out
}

// Instruments returns every instrument that ever had a lot, sorted.
func (t *Tracker) Instruments() []string {
	ids := make([]string, 0, len(t.arena))
	for k := range t.arena {
		ids = append(ids, k.InstrumentID)
	}
	sort.Strings(ids)
	return ids
}

// AllLots returns every lot grouped by instrument (sorted) in FIFO order.
func (t *Tracker) AllLots() []domain.TaxLot {
	out := make([]domain.TaxLot, 0)
	for _, id := range t.Instruments() {
		out = append(out, t.Lots(id)...)
	}
	return out
}

// Currency returns the trade currency of an instrument's first lot.
func (t *Tracker) Currency(instrumentID string) (string, bool) {
	queue := t.arena[t.key(instrumentID)]
	if len(queue) == 0 {
		return "", false
	}
	return queue[0].currency, true
}

// Drop discards every lot of an instrument. Used when an instrument's
// replay is abandoned and its partial state must not be reported.
func (t *Tracker) Drop(instrumentID string) {
	delete(t.arena, t.key(instrumentID))
}
