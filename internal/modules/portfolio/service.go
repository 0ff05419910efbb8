// Package portfolio exposes the accounting engine per portfolio: it loads the
// ledger and market data, runs the recompute orchestrator, persists derived
// state and answers position and return queries.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/lotledger/internal/clientdata"
	"github.com/aristath/lotledger/internal/domain"
	"github.com/aristath/lotledger/internal/events"
	"github.com/aristath/lotledger/internal/modules/cash_flows"
	"github.com/aristath/lotledger/internal/modules/corporate_actions"
	"github.com/aristath/lotledger/internal/modules/currency"
	"github.com/aristath/lotledger/internal/modules/ledger"
	"github.com/aristath/lotledger/internal/modules/positions"
	"github.com/aristath/lotledger/internal/modules/prices"
	"github.com/aristath/lotledger/internal/modules/recompute"
	"github.com/aristath/lotledger/internal/modules/returns"
	"github.com/aristath/lotledger/internal/utils"
)

// Options configures a PortfolioService.
type Options struct {
	Solver       returns.SolverOptions
	RiskFreeRate float64
	// CacheTTL bounds how long a performance report stays in cache.db.
	// Zero uses clientdata.TTLPerformance.
	CacheTTL time.Duration
	// Workers limits parallel recomputes in RecomputeAll
	Workers int
}

// Snapshot is the valuation of a whole portfolio on one day.
type Snapshot struct {
	AsOfDate     time.Time         `json:"as_of_date"`
	PortfolioID  string            `json:"portfolio_id"`
	BaseCurrency string            `json:"base_currency"`
	Positions    []domain.Position `json:"positions"`
	Summary      positions.Summary `json:"summary"`
	// Instruments left out of Positions, either quarantined during replay or
	// missing a price or rate on the snapshot date
	InstrumentFailures []recompute.InstrumentFailure `json:"instrument_failures"`
}

// PortfolioService orchestrates accounting operations for one portfolio at a time.
//
// Responsibilities:
//   - Recompute derived state from the ledger and persist it wholesale
//   - Build point-in-time position snapshots
//   - Compute money-weighted and time-weighted returns over a period
//   - Compute and cache performance reports
//
// Dependencies:
//   - ledger.Repository: Portfolios and transaction history (ledger.db)
//   - prices.Repository, currency.Repository: Market data (history.db)
//   - DerivedRepository: Derived lots, gains, flows and audit entries (portfolio.db)
//   - clientdata.Repository: Optional report cache (cache.db)
//   - recompute.Orchestrator, positions.Calculator: The pure engine
//   - events.Manager: Optional event emission
//
// The service reads the clock only to stamp persisted runs; every computation
// receives its dates explicitly.
type PortfolioService struct {
	ledgerRepo   *ledger.Repository
	priceRepo    *prices.Repository
	rateRepo     *currency.Repository
	derivedRepo  *DerivedRepository
	cache        *clientdata.Repository
	orchestrator *recompute.Orchestrator
	calculator   *positions.Calculator
	eventManager *events.Manager
	opts         Options
	log          zerolog.Logger
}

// NewPortfolioService creates a new portfolio service.
// cache and eventManager may be nil.
func NewPortfolioService(
	ledgerRepo *ledger.Repository,
	priceRepo *prices.Repository,
	rateRepo *currency.Repository,
	derivedRepo *DerivedRepository,
	cache *clientdata.Repository,
	orchestrator *recompute.Orchestrator,
	calculator *positions.Calculator,
	eventManager *events.Manager,
	opts Options,
	log zerolog.Logger,
) *PortfolioService {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = clientdata.TTLPerformance
	}
	return &PortfolioService{
		ledgerRepo:   ledgerRepo,
		priceRepo:    priceRepo,
		rateRepo:     rateRepo,
		derivedRepo:  derivedRepo,
		cache:        cache,
		orchestrator: orchestrator,
		calculator:   calculator,
		eventManager: eventManager,
		opts:         opts,
		log:          log.With().Str("service", "portfolio").Logger(),
	}
}

// NewPeriod builds the closed period from the start of startDay to the end of
// endDay. endDay must fall after startDay.
func NewPeriod(startDay, endDay time.Time) (domain.Period, error) {
	if startDay.IsZero() || endDay.IsZero() {
		return domain.Period{}, domain.NewValidationError("", "period", "start and end are required")
	}
	p := domain.Period{Start: domain.StartOfDay(startDay), End: domain.EndOfDay(endDay)}
	if !domain.StartOfDay(endDay).After(p.Start) {
		return domain.Period{}, domain.NewValidationError("", "period", "end %s must be after start %s",
			endDay.Format(domain.DateLayout), startDay.Format(domain.DateLayout))
	}
	return p, nil
}

// Recompute rebuilds and persists the derived state of one portfolio.
//
// Parameters:
//   - ctx: Cancels the replay between transactions
//   - portfolioID: Portfolio to rebuild
//
// Returns:
//   - *recompute.Result: The fingerprinted derived state
//   - error: utils.ErrNotFound, *domain.RecomputeError or a storage error.
//     Stored state is left untouched on error.
func (s *PortfolioService) Recompute(ctx context.Context, portfolioID string) (*recompute.Result, error) {
	defer utils.OperationTimer("portfolio_recompute", s.log)()
	started := time.Now()

	in, _, err := s.loadInput(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	result, err := s.orchestrator.Recompute(ctx, in)
	if err != nil {
		s.emitFailed(portfolioID, err)
		return nil, err
	}

	if err := s.persist(ctx, result, started); err != nil {
		return nil, err
	}
	return result, nil
}

// RecomputeAll rebuilds every portfolio, replaying independent portfolios in
// parallel. A failing portfolio is reported in its Outcome and never stops
// the others.
func (s *PortfolioService) RecomputeAll(ctx context.Context) ([]recompute.Outcome, error) {
	defer utils.OperationTimer("portfolio_recompute_all", s.log)()
	started := time.Now()

	portfolios, err := s.ledgerRepo.ListPortfolios(ctx)
	if err != nil {
		return nil, err
	}
	rates, err := s.rateRepo.LoadTable(ctx)
	if err != nil {
		return nil, err
	}

	inputs := make([]recompute.Input, 0, len(portfolios))
	for _, p := range portfolios {
		txs, err := s.ledgerRepo.Transactions(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, recompute.Input{
			PortfolioID:  p.ID,
			BaseCurrency: p.BaseCurrency,
			Transactions: txs,
			Rates:        rates,
		})
	}

	outcomes := s.orchestrator.RecomputeAll(ctx, inputs, s.opts.Workers)
	failed := 0
	for i := range outcomes {
		o := &outcomes[i]
		if o.Err == nil {
			o.Err = s.persist(ctx, o.Result, started)
		} else {
			s.emitFailed(o.PortfolioID, o.Err)
		}
		if o.Err != nil {
			failed++
			s.log.Error().Err(o.Err).Str("portfolio_id", o.PortfolioID).Msg("Recompute failed")
		}
	}

	s.log.Info().
		Int("portfolios", len(outcomes)).
		Int("failed", failed).
		Msg("Recomputed all portfolios")
	return outcomes, nil
}

func (s *PortfolioService) persist(ctx context.Context, result *recompute.Result, started time.Time) error {
	if err := s.derivedRepo.Replace(ctx, result, started.UTC()); err != nil {
		return fmt.Errorf("failed to persist derived state of %s: %w", result.PortfolioID, err)
	}

	if s.eventManager != nil {
		s.eventManager.EmitTyped("portfolio", &events.RecomputeCompletedData{
			PortfolioID:        result.PortfolioID,
			Fingerprint:        result.Fingerprint,
			TransactionCount:   result.TransactionCount,
			LotCount:           len(result.Lots),
			InstrumentFailures: len(result.InstrumentFailures),
			DurationMs:         time.Since(started).Milliseconds(),
		})
	}
	return nil
}

func (s *PortfolioService) emitFailed(portfolioID string, err error) {
	if s.eventManager == nil {
		return
	}
	data := &events.RecomputeFailedData{PortfolioID: portfolioID, Error: err.Error()}
	var recErr *domain.RecomputeError
	if errors.As(err, &recErr) {
		data.TransactionID = recErr.TransactionID
	}
	s.eventManager.EmitTyped("portfolio", data)
}

// loadInput reads the full history of a portfolio together with every stored
// FX rate.
func (s *PortfolioService) loadInput(ctx context.Context, portfolioID string) (recompute.Input, *domain.Portfolio, error) {
	p, err := s.ledgerRepo.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return recompute.Input{}, nil, err
	}
	txs, err := s.ledgerRepo.Transactions(ctx, portfolioID)
	if err != nil {
		return recompute.Input{}, nil, err
	}
	rates, err := s.rateRepo.LoadTable(ctx)
	if err != nil {
		return recompute.Input{}, nil, err
	}

	return recompute.Input{
		PortfolioID:  p.ID,
		BaseCurrency: p.BaseCurrency,
		Transactions: txs,
		Rates:        rates,
	}, p, nil
}

// marketData loads the prices of every instrument the portfolio has traded.
func (s *PortfolioService) marketData(ctx context.Context, in recompute.Input) (*prices.PriceTable, *currency.Converter, error) {
	seen := make(map[string]bool)
	ids := make([]string, 0)
	for _, tx := range in.Transactions {
		if tx.InstrumentID != "" && !seen[tx.InstrumentID] {
			seen[tx.InstrumentID] = true
			ids = append(ids, tx.InstrumentID)
		}
	}
	sort.Strings(ids)

	table := prices.NewPriceTable(nil)
	if len(ids) > 0 {
		var err error
		if table, err = s.priceRepo.LoadTable(ctx, ids); err != nil {
			return nil, nil, err
		}
	}
	return table, currency.NewConverter(in.BaseCurrency, in.Rates, s.log), nil
}

// PositionSnapshot values every instrument held at the close of asOf.
//
// Parameters:
//   - ctx: Request context
//   - portfolioID: Portfolio to value
//   - asOf: Snapshot day; transactions dated on that day are included
//
// Returns:
//   - *Snapshot: Positions sorted by instrument. Instruments whose price or
//     rate is missing are listed in InstrumentFailures instead of failing the
//     whole snapshot.
//   - error: Lookup or replay error
func (s *PortfolioService) PositionSnapshot(ctx context.Context, portfolioID string, asOf time.Time) (*Snapshot, error) {
	defer utils.OperationTimer("portfolio_position_snapshot", s.log)()

	in, p, err := s.loadInput(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	closeOfDay := domain.EndOfDay(asOf)

	state, err := s.orchestrator.ReplayUntil(ctx, in, closeOfDay)
	if err != nil {
		return nil, err
	}
	priceTable, converter, err := s.marketData(ctx, in)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		AsOfDate:           domain.StartOfDay(asOf),
		PortfolioID:        p.ID,
		BaseCurrency:       p.BaseCurrency,
		Positions:          make([]domain.Position, 0),
		InstrumentFailures: append([]recompute.InstrumentFailure{}, state.InstrumentFailures...),
	}

	for instrumentID, lots := range state.LotsByInstrument() {
		pos, err := s.calculator.Snapshot(instrumentID, lots[0].Currency, lots, closeOfDay, priceTable, converter)
		if err != nil {
			if !isMissingMarketData(err) {
				return nil, err
			}
			snap.InstrumentFailures = append(snap.InstrumentFailures, recompute.InstrumentFailure{
				InstrumentID: instrumentID,
				Reason:       err.Error(),
			})
			continue
		}
		if pos.OpenQuantity.IsZero() {
			continue
		}
		snap.Positions = append(snap.Positions, pos)
	}

	positions.SortByInstrument(snap.Positions)
	sort.Slice(snap.InstrumentFailures, func(i, j int) bool {
		return snap.InstrumentFailures[i].InstrumentID < snap.InstrumentFailures[j].InstrumentID
	})
	snap.Summary = positions.Summarize(snap.AsOfDate, snap.Positions)
	return snap, nil
}

func isMissingMarketData(err error) bool {
	var priceErr *domain.PriceUnavailableError
	var rateErr *domain.RateUnavailableError
	return errors.As(err, &priceErr) || errors.As(err, &rateErr)
}

// periodData is everything a return computation needs for one period.
type periodData struct {
	in     recompute.Input
	period domain.Period
	// flows dated after the start day through the end of the period
	flows []domain.CashFlow
}

func (s *PortfolioService) loadPeriod(ctx context.Context, portfolioID string, period domain.Period) (*periodData, error) {
	if !period.Valid() {
		return nil, domain.NewValidationError("", "period", "start must be before end")
	}
	in, _, err := s.loadInput(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	state, err := s.orchestrator.ReplayUntil(ctx, in, period.End)
	if err != nil {
		return nil, err
	}

	startDay := domain.StartOfDay(period.Start)
	flows := cash_flows.Filter(state.CashFlows, func(f domain.CashFlow) bool {
		return domain.StartOfDay(f.Date).After(startDay) && !f.Date.After(period.End)
	})
	return &periodData{in: in, period: period, flows: flows}, nil
}

// valuations values the portfolio at the close of each day. Quarantined
// instruments are left out; a missing price or rate for a held instrument
// fails the series.
func (s *PortfolioService) valuations(ctx context.Context, in recompute.Input, days []time.Time) ([]returns.Valuation, error) {
	priceTable, converter, err := s.marketData(ctx, in)
	if err != nil {
		return nil, err
	}

	checkpoints := make([]time.Time, len(days))
	for i, d := range days {
		checkpoints[i] = domain.EndOfDay(d)
	}

	series := make([]returns.Valuation, 0, len(days))
	err = s.orchestrator.ReplayCheckpoints(ctx, in, checkpoints, func(asOf time.Time, state *recompute.Result) error {
		total := decimal.Zero
		for instrumentID, lots := range state.LotsByInstrument() {
			pos, err := s.calculator.Snapshot(instrumentID, lots[0].Currency, lots, asOf, priceTable, converter)
			if err != nil {
				return err
			}
			total = total.Add(pos.MarketValue)
		}
		series = append(series, returns.Valuation{Date: domain.StartOfDay(asOf), Value: total})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return series, nil
}

// flowDays returns the start day, every distinct day carrying a flow, and the
// end day, in order.
func flowDays(period domain.Period, flows []domain.CashFlow) []time.Time {
	startDay := domain.StartOfDay(period.Start)
	endDay := domain.StartOfDay(period.End)

	seen := map[time.Time]bool{startDay: true, endDay: true}
	days := []time.Time{startDay}
	for _, f := range flows {
		day := domain.StartOfDay(f.Date)
		if !seen[day] {
			seen[day] = true
			days = append(days, day)
		}
	}
	days = append(days, endDay)
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}

// dailyDays returns every day from the start day to the end day.
func dailyDays(period domain.Period) []time.Time {
	days := make([]time.Time, 0)
	for d := domain.StartOfDay(period.Start); !d.After(period.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// MoneyWeightedReturn returns the annualized internal rate of return over the
// period: the portfolio value at the close of the start day is an investment,
// flows inside the period follow, and the value at the close of the end day is
// a terminal withdrawal.
//
// Returns:
//   - decimal.Decimal: Annual rate as a fraction
//   - error: *domain.NoConvergenceError when the return is undefined, or a
//     missing market data error
func (s *PortfolioService) MoneyWeightedReturn(ctx context.Context, portfolioID string, period domain.Period) (decimal.Decimal, error) {
	defer utils.OperationTimer("portfolio_mwr", s.log)()

	data, err := s.loadPeriod(ctx, portfolioID, period)
	if err != nil {
		return decimal.Zero, err
	}
	series, err := s.valuations(ctx, data.in, []time.Time{period.Start, period.End})
	if err != nil {
		return decimal.Zero, err
	}

	return returns.MoneyWeightedForPeriod(series[0].Value, data.flows, series[len(series)-1].Value, period, s.opts.Solver)
}

// TimeWeightedReturn returns the chained time-weighted return over the
// period, valuing the portfolio at the close of every day that carries a flow.
func (s *PortfolioService) TimeWeightedReturn(ctx context.Context, portfolioID string, period domain.Period) (decimal.Decimal, error) {
	defer utils.OperationTimer("portfolio_twr", s.log)()

	data, err := s.loadPeriod(ctx, portfolioID, period)
	if err != nil {
		return decimal.Zero, err
	}
	series, err := s.valuations(ctx, data.in, flowDays(period, data.flows))
	if err != nil {
		return decimal.Zero, err
	}

	return returns.TimeWeighted(series, data.flows)
}

// Performance computes the performance report of a period from a daily
// valuation series. Reports are cached in cache.db under a key that covers
// the ledger and market data they were computed from, so any append or price
// or rate update yields a fresh computation.
func (s *PortfolioService) Performance(ctx context.Context, portfolioID string, period domain.Period) (*returns.Performance, error) {
	defer utils.OperationTimer("portfolio_performance", s.log)()

	key, err := s.cacheKey(ctx, portfolioID, period)
	if err != nil {
		return nil, err
	}
	if cached := s.cachedPerformance(key); cached != nil {
		return cached, nil
	}

	data, err := s.loadPeriod(ctx, portfolioID, period)
	if err != nil {
		return nil, err
	}
	series, err := s.valuations(ctx, data.in, dailyDays(period))
	if err != nil {
		return nil, err
	}

	perf, err := returns.Compute(returns.PerformanceInput{
		Period:       period,
		Flows:        data.flows,
		Valuations:   series,
		Solver:       s.opts.Solver,
		RiskFreeRate: s.opts.RiskFreeRate,
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil && key != "" {
		if err := s.cache.Store(clientdata.TableRecompute, key, perf, s.opts.CacheTTL); err != nil {
			s.log.Warn().Err(err).Str("portfolio_id", portfolioID).Msg("Failed to cache performance report")
		}
	}
	return perf, nil
}

func (s *PortfolioService) cacheKey(ctx context.Context, portfolioID string, period domain.Period) (string, error) {
	if s.cache == nil {
		return "", nil
	}
	if _, err := s.ledgerRepo.GetPortfolio(ctx, portfolioID); err != nil {
		return "", err
	}

	ledgerStamp, err := s.ledgerRepo.Stamp(ctx, portfolioID)
	if err != nil {
		return "", err
	}
	priceStamp, err := s.priceRepo.Stamp(ctx)
	if err != nil {
		return "", err
	}
	rateStamp, err := s.rateRepo.Stamp(ctx)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("performance|%s|%d|%d|%s|%s|%s",
		portfolioID, period.Start.UnixNano(), period.End.UnixNano(), ledgerStamp, priceStamp, rateStamp), nil
}

func (s *PortfolioService) cachedPerformance(key string) *returns.Performance {
	if s.cache == nil || key == "" {
		return nil
	}

	var perf returns.Performance
	found, err := s.cache.GetIfFresh(clientdata.TableRecompute, key, &perf)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read cached performance report")
		return nil
	}
	if !found {
		return nil
	}

	// msgpack restores times in the local zone
	perf.StartDate = perf.StartDate.UTC()
	perf.EndDate = perf.EndDate.UTC()
	return &perf
}

// Lots returns the persisted lots of the last recompute.
func (s *PortfolioService) Lots(ctx context.Context, portfolioID, instrumentID string) ([]domain.TaxLot, error) {
	if _, err := s.ledgerRepo.GetPortfolio(ctx, portfolioID); err != nil {
		return nil, err
	}
	return s.derivedRepo.Lots(ctx, portfolioID, instrumentID)
}

// RealizedGains returns the persisted gains with a sale date within [from, to].
func (s *PortfolioService) RealizedGains(ctx context.Context, portfolioID string, from, to time.Time) ([]domain.RealizedGain, error) {
	if _, err := s.ledgerRepo.GetPortfolio(ctx, portfolioID); err != nil {
		return nil, err
	}
	return s.derivedRepo.RealizedGains(ctx, portfolioID, from, to)
}

// CashFlows returns the persisted flows within [from, to].
func (s *PortfolioService) CashFlows(ctx context.Context, portfolioID string, from, to time.Time) ([]domain.CashFlow, error) {
	if _, err := s.ledgerRepo.GetPortfolio(ctx, portfolioID); err != nil {
		return nil, err
	}
	return s.derivedRepo.CashFlows(ctx, portfolioID, from, to)
}

// AuditLog returns the persisted corporate action entries.
func (s *PortfolioService) AuditLog(ctx context.Context, portfolioID string) ([]corporate_actions.AuditEntry, error) {
	if _, err := s.ledgerRepo.GetPortfolio(ctx, portfolioID); err != nil {
		return nil, err
	}
	return s.derivedRepo.AuditLog(ctx, portfolioID)
}

// LastRun returns metadata of the last persisted recompute.
func (s *PortfolioService) LastRun(ctx context.Context, portfolioID string) (*RunInfo, error) {
	return s.derivedRepo.LastRun(ctx, portfolioID)
}

// Portfolio returns the ledger record of a portfolio.
func (s *PortfolioService) Portfolio(ctx context.Context, portfolioID string) (*domain.Portfolio, error) {
	return s.ledgerRepo.GetPortfolio(ctx, portfolioID)
}
