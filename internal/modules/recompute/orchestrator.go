// Package recompute rebuilds all derived state of a portfolio by replaying
// its transaction history from scratch.
//
// A replay never reads the clock and does no I/O: transactions and FX rates
// are supplied already resolved, so identical input always yields an
// identical Result (and Fingerprint).
package recompute

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/lotledger/internal/domain"
	"github.com/aristath/lotledger/internal/modules/cash_flows"
	"github.com/aristath/lotledger/internal/modules/corporate_actions"
	"github.com/aristath/lotledger/internal/modules/currency"
	"github.com/aristath/lotledger/internal/modules/lots"
	"github.com/aristath/lotledger/internal/money"
)

// Input is one portfolio's full history.
type Input struct {
	PortfolioID  string
	BaseCurrency string
	// Transactions ordered by trade date, ties in ledger sequence order
	Transactions []domain.Transaction
	Rates        domain.RateLookup
}

// InstrumentFailure records an instrument whose replay was abandoned because
// an external input was missing. Its lots, gains, flows and audit entries are
// left out of the result; other instruments are unaffected.
type InstrumentFailure struct {
	InstrumentID        string `json:"instrument_id"`
	TransactionID       string `json:"transaction_id"`
	Reason              string `json:"reason"`
	SkippedTransactions int    `json:"skipped_transactions"`
}

// Result is the derived state of one portfolio.
type Result struct {
	PortfolioID        string                         `json:"portfolio_id"`
	BaseCurrency       string                         `json:"base_currency"`
	Lots               []domain.TaxLot                `json:"lots"`
	RealizedGains      []domain.RealizedGain          `json:"realized_gains"`
	CashFlows          []domain.CashFlow              `json:"cash_flows"`
	AuditLog           []corporate_actions.AuditEntry `json:"audit_log"`
	InstrumentFailures []InstrumentFailure            `json:"instrument_failures"`
	TransactionCount   int                            `json:"transaction_count"`
	Fingerprint        string                         `json:"fingerprint,omitempty"`
}

// LotsByInstrument groups the result's lots, preserving FIFO order.
func (r *Result) LotsByInstrument() map[string][]domain.TaxLot {
	out := make(map[string][]domain.TaxLot)
	for _, l := range r.Lots {
		out[l.InstrumentID] = append(out[l.InstrumentID], l)
	}
	return out
}

// Failed reports whether instrumentID was quarantined.
func (r *Result) Failed(instrumentID string) bool {
	for _, f := range r.InstrumentFailures {
		if f.InstrumentID == instrumentID {
			return true
		}
	}
	return false
}

// Options configures an Orchestrator.
type Options struct {
	LongTermDays int
}

// Orchestrator replays transaction histories. It is stateless between calls
// and safe for concurrent use across portfolios.
type Orchestrator struct {
	opts      Options
	processor *corporate_actions.Processor
	log       zerolog.Logger
}

// NewOrchestrator creates a recompute orchestrator.
func NewOrchestrator(opts Options, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		opts:      opts,
		processor: corporate_actions.NewProcessor(log),
		log:       log.With().Str("component", "recompute").Logger(),
	}
}

// Recompute replays the full history.
func (o *Orchestrator) Recompute(ctx context.Context, in Input) (*Result, error) {
	return o.ReplayUntil(ctx, in, time.Time{})
}

// ReplayUntil replays transactions with a trade date on or before asOf.
// A zero asOf replays everything.
func (o *Orchestrator) ReplayUntil(ctx context.Context, in Input, asOf time.Time) (*Result, error) {
	r, err := o.start(in)
	if err != nil {
		return nil, err
	}

	for _, tx := range in.Transactions {
		if !asOf.IsZero() && tx.TradeDate.After(asOf) {
			break
		}
		if err := r.step(ctx, tx); err != nil {
			return nil, err
		}
	}

	result := r.snapshot()
	fp, err := Fingerprint(result)
	if err != nil {
		return nil, err
	}
	result.Fingerprint = fp

	o.log.Debug().
		Str("portfolio_id", in.PortfolioID).
		Int("transactions", result.TransactionCount).
		Int("lots", len(result.Lots)).
		Int("failures", len(result.InstrumentFailures)).
		Str("fingerprint", fp).
		Msg("Replay complete")

	return result, nil
}

// ReplayCheckpoints replays the history once and calls fn with the state at
// the close of each checkpoint (every transaction dated on or before it
// applied). Checkpoints are visited in ascending order. Results passed to fn
// carry no fingerprint.
func (o *Orchestrator) ReplayCheckpoints(ctx context.Context, in Input, checkpoints []time.Time, fn func(asOf time.Time, state *Result) error) error {
	r, err := o.start(in)
	if err != nil {
		return err
	}

	dates := make([]time.Time, len(checkpoints))
	copy(dates, checkpoints)
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	next := 0
	for _, tx := range in.Transactions {
		for next < len(dates) && dates[next].Before(tx.TradeDate) {
			if err := fn(dates[next], r.snapshot()); err != nil {
				return err
			}
			next++
		}
		if next == len(dates) {
			return nil
		}
		if err := r.step(ctx, tx); err != nil {
			return err
		}
	}
	for ; next < len(dates); next++ {
		if err := fn(dates[next], r.snapshot()); err != nil {
			return err
		}
	}
	return nil
}

// replay is the mutable state of one run. It never escapes the orchestrator.
type replay struct {
	o           *Orchestrator
	in          Input
	tracker     *lots.Tracker
	converter   *currency.Converter
	gains       []domain.RealizedGain
	flows       []domain.CashFlow
	audit       []corporate_actions.AuditEntry
	failures    []InstrumentFailure
	quarantined map[string]int // instrument -> index into failures
	applied     int
}

func (o *Orchestrator) start(in Input) (*replay, error) {
	if in.PortfolioID == "" {
		return nil, domain.NewValidationError("", "portfolio_id", "portfolio id is required")
	}
	base := money.NormalizeCurrency(in.BaseCurrency)
	if err := money.ValidateCurrency(base); err != nil {
		return nil, domain.NewValidationError("", "base_currency", "%v", err)
	}
	if in.Rates == nil {
		return nil, domain.NewValidationError("", "rates", "rate lookup is required")
	}
	for _, tx := range in.Transactions {
		if err := tx.Validate(); err != nil {
			return nil, o.fail(in.PortfolioID, tx.ID, err)
		}
		if tx.PortfolioID != in.PortfolioID {
			return nil, o.fail(in.PortfolioID, tx.ID, domain.NewValidationError(tx.ID, "portfolio_id",
				"transaction belongs to portfolio %s", tx.PortfolioID))
		}
	}
	if err := domain.ValidateOrder(in.Transactions); err != nil {
		var valErr *domain.ValidationError
		txID := ""
		if errors.As(err, &valErr) {
			txID = valErr.TransactionID
		}
		return nil, o.fail(in.PortfolioID, txID, err)
	}

	in.BaseCurrency = base
	return &replay{
		o:           o,
		in:          in,
		tracker:     lots.NewTracker(in.PortfolioID, lots.Options{LongTermDays: o.opts.LongTermDays}, o.log),
		converter:   currency.NewConverter(base, in.Rates, o.log),
		gains:       make([]domain.RealizedGain, 0),
		flows:       make([]domain.CashFlow, 0),
		audit:       make([]corporate_actions.AuditEntry, 0),
		failures:    make([]InstrumentFailure, 0),
		quarantined: make(map[string]int),
	}, nil
}

func (o *Orchestrator) fail(portfolioID, txID string, err error) error {
	return &domain.RecomputeError{PortfolioID: portfolioID, TransactionID: txID, Err: err}
}

// step folds one transaction into the state. A transaction is either fully
// applied or not at all.
func (r *replay) step(ctx context.Context, tx domain.Transaction) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("recompute of portfolio %s abandoned: %w", r.in.PortfolioID, err)
	}

	if i, ok := r.quarantined[tx.InstrumentID]; ok {
		r.failures[i].SkippedTransactions++
		return nil
	}

	err := r.apply(tx)
	if err == nil {
		r.applied++
		return nil
	}

	err = domain.AttachTransaction(err, tx.ID)
	if domain.IsInstrumentScoped(err) {
		r.quarantine(tx, err)
		return nil
	}
	return r.o.fail(r.in.PortfolioID, tx.ID, err)
}

func (r *replay) rate(tx domain.Transaction) (decimal.Decimal, error) {
	return r.converter.Rate(tx.Currency, tx.TradeDate)
}

func (r *replay) apply(tx domain.Transaction) error {
	// Lot cost is kept in one trade currency per instrument. Dividends and
	// fees may be paid in any currency and are converted on their own.
	tradesLots := tx.Kind == domain.KindBuy || tx.Kind == domain.KindSell
	if known, ok := r.tracker.Currency(tx.InstrumentID); ok && tradesLots && known != tx.Currency {
		return domain.NewValidationError(tx.ID, "currency", "instrument %s trades in %s, got %s", tx.InstrumentID, known, tx.Currency)
	}

	switch tx.Kind {
	case domain.KindBuy:
		fx, err := r.rate(tx)
		if err != nil {
			return err
		}
		flow, err := cash_flows.FromTrade(tx, fx)
		if err != nil {
			return err
		}
		if _, err := r.tracker.ApplyBuy(tx, fx); err != nil {
			return err
		}
		r.flows = append(r.flows, flow)

	case domain.KindSell:
		fx, err := r.rate(tx)
		if err != nil {
			return err
		}
		flow, err := cash_flows.FromTrade(tx, fx)
		if err != nil {
			return err
		}
		gains, err := r.tracker.ApplySell(tx, fx)
		if err != nil {
			return err
		}
		r.gains = append(r.gains, gains...)
		r.flows = append(r.flows, flow)

	case domain.KindSplit, domain.KindBonus:
		out, err := r.o.processor.Apply(r.tracker, tx, decimal.NewFromInt(1))
		if err != nil {
			return err
		}
		r.audit = append(r.audit, out.Audit)

	case domain.KindDividend:
		fx, err := r.rate(tx)
		if err != nil {
			return err
		}
		out, err := r.o.processor.Apply(r.tracker, tx, fx)
		if err != nil {
			return err
		}
		r.audit = append(r.audit, out.Audit)
		if out.CashFlow != nil {
			r.flows = append(r.flows, *out.CashFlow)
		}

	case domain.KindFee:
		fx, err := r.rate(tx)
		if err != nil {
			return err
		}
		flow, err := cash_flows.FromFee(tx, fx)
		if err != nil {
			return err
		}
		r.flows = append(r.flows, flow)
	}
	return nil
}

// quarantine drops everything derived for the instrument so far.
func (r *replay) quarantine(tx domain.Transaction, err error) {
	inst := tx.InstrumentID
	r.tracker.Drop(inst)
	r.gains = filter(r.gains, func(g domain.RealizedGain) bool { return g.InstrumentID != inst })
	r.flows = filter(r.flows, func(f domain.CashFlow) bool { return f.InstrumentID != inst })
	r.audit = filter(r.audit, func(a corporate_actions.AuditEntry) bool { return a.InstrumentID != inst })

	r.quarantined[inst] = len(r.failures)
	r.failures = append(r.failures, InstrumentFailure{
		InstrumentID:  inst,
		TransactionID: tx.ID,
		Reason:        err.Error(),
	})

	r.o.log.Warn().
		Str("portfolio_id", r.in.PortfolioID).
		Str("instrument_id", inst).
		Str("transaction_id", tx.ID).
		Err(err).
		Msg("Instrument quarantined, replay continues without it")
}

func filter[T any](items []T, keep func(T) bool) []T {
	out := items[:0:0]
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

// snapshot copies the current state into a Result.
func (r *replay) snapshot() *Result {
	res := &Result{
		PortfolioID:        r.in.PortfolioID,
		BaseCurrency:       r.in.BaseCurrency,
		Lots:               r.tracker.AllLots(),
		RealizedGains:      append([]domain.RealizedGain(nil), r.gains...),
		CashFlows:          append([]domain.CashFlow(nil), r.flows...),
		AuditLog:           append([]corporate_actions.AuditEntry(nil), r.audit...),
		InstrumentFailures: append([]InstrumentFailure(nil), r.failures...),
		TransactionCount:   r.applied,
	}
	if res.RealizedGains == nil {
		res.RealizedGains = []domain.RealizedGain{}
	}
	if res.CashFlows == nil {
		res.CashFlows = []domain.CashFlow{}
	}
	if res.AuditLog == nil {
		res.AuditLog = []corporate_actions.AuditEntry{}
	}
	if res.InstrumentFailures == nil {
		res.InstrumentFailures = []InstrumentFailure{}
	}
	cash_flows.Sort(res.CashFlows)
	return res
}
