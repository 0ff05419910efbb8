package portfolio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/lotledger/internal/clientdata"
	"github.com/aristath/lotledger/internal/database"
	"github.com/aristath/lotledger/internal/domain"
	"github.com/aristath/lotledger/internal/events"
	"github.com/aristath/lotledger/internal/modules/cash_flows"
	"github.com/aristath/lotledger/internal/modules/currency"
	"github.com/aristath/lotledger/internal/modules/ledger"
	"github.com/aristath/lotledger/internal/modules/positions"
	"github.com/aristath/lotledger/internal/modules/prices"
	"github.com/aristath/lotledger/internal/modules/recompute"
	testhelpers "github.com/aristath/lotledger/internal/testing"
	"github.com/aristath/lotledger/internal/utils"
)

type fixture struct {
	service *PortfolioService
	ledger  *ledger.Repository
	prices  *prices.Repository
	rates   *currency.Repository
	cacheDB *database.DB
	bus     *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zerolog.Nop()

	ledgerDB := testhelpers.NewTestDB(t, database.NameLedger)
	historyDB := testhelpers.NewTestDB(t, database.NameHistory)
	portfolioDB := testhelpers.NewTestDB(t, database.NamePortfolio)
	cacheDB := testhelpers.NewTestDB(t, database.NameCache)

	f := &fixture{
		ledger:  ledger.NewRepository(ledgerDB.Conn(), log),
		prices:  prices.NewRepository(historyDB.Conn(), log),
		rates:   currency.NewRepository(historyDB.Conn(), log),
		cacheDB: cacheDB,
		bus:     events.NewBus(log),
	}
	derived := NewDerivedRepository(portfolioDB.Conn(), cash_flows.NewRepository(portfolioDB.Conn(), log), log)
	f.service = NewPortfolioService(
		f.ledger, f.prices, f.rates, derived,
		clientdata.NewRepository(cacheDB.Conn()),
		recompute.NewOrchestrator(recompute.Options{}, log),
		positions.NewCalculator(positions.Options{}, log),
		events.NewManager(f.bus, log),
		Options{},
		log,
	)
	return f
}

// seed creates p1 (USD) holding ACME: 100 bought on Jan 2 at 10 and 100 on
// Jan 4 at 11, with closes of 10, 10.5, 11 and 12.1 from Jan 2 to Jan 5.
func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	_, err := f.ledger.CreatePortfolio(ctx, domain.Portfolio{ID: "p1", Name: "Main", BaseCurrency: "USD"})
	require.NoError(t, err)
	_, err = f.ledger.Append(ctx, "p1", testhelpers.NewLedger("p1", "USD").
		Buy("ACME", testhelpers.Date(2024, 1, 2), "100", "10", "0").
		Buy("ACME", testhelpers.Date(2024, 1, 4), "100", "11", "0").
		Transactions())
	require.NoError(t, err)

	closes := map[int]string{2: "10", 3: "10.5", 4: "11", 5: "12.1"}
	list := make([]domain.Price, 0, len(closes))
	for day, px := range closes {
		list = append(list, domain.Price{InstrumentID: "ACME", Date: testhelpers.Date(2024, 1, day), Price: testhelpers.D(px), Currency: "USD"})
	}
	_, err = f.prices.Upsert(ctx, list, "test")
	require.NoError(t, err)
}

func period(t *testing.T, startDay, endDay int) domain.Period {
	t.Helper()
	p, err := NewPeriod(testhelpers.Date(2024, 1, startDay), testhelpers.Date(2024, 1, endDay))
	require.NoError(t, err)
	return p
}

func TestNewPeriod(t *testing.T) {
	p, err := NewPeriod(testhelpers.Date(2024, 1, 2), testhelpers.Date(2024, 1, 5))
	require.NoError(t, err)
	assert.Equal(t, testhelpers.Date(2024, 1, 2), p.Start)
	assert.Equal(t, domain.EndOfDay(testhelpers.Date(2024, 1, 5)), p.End)

	var valErr *domain.ValidationError
	_, err = NewPeriod(testhelpers.Date(2024, 1, 5), testhelpers.Date(2024, 1, 5))
	assert.ErrorAs(t, err, &valErr)
	_, err = NewPeriod(testhelpers.Date(2024, 1, 5), testhelpers.Date(2024, 1, 2))
	assert.ErrorAs(t, err, &valErr)
	_, err = NewPeriod(time.Time{}, testhelpers.Date(2024, 1, 2))
	assert.ErrorAs(t, err, &valErr)
}

func TestRecompute_PersistsDerivedState(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	var completed *events.Event
	f.bus.Subscribe(events.RecomputeCompleted, func(e *events.Event) { completed = e })

	result, err := f.service.Recompute(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.TransactionCount)

	lots, err := f.service.Lots(ctx, "p1", "")
	require.NoError(t, err)
	require.Len(t, lots, 2)
	assert.Equal(t, result.Lots[0].LotID, lots[0].LotID)
	assert.True(t, lots[1].UnitCostBaseCurrency.Equal(testhelpers.D("11")))
	assert.Equal(t, testhelpers.Date(2024, 1, 4), lots[1].AcquisitionDate)

	flows, err := f.service.CashFlows(ctx, "p1", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, flows, 2)
	assert.True(t, flows[1].AmountBaseCurrency.Equal(testhelpers.D("-1100")))

	run, err := f.service.LastRun(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, result.Fingerprint, run.Fingerprint)
	assert.Equal(t, 2, run.LotCount)
	assert.Empty(t, run.InstrumentFailures)

	require.NotNil(t, completed)
	assert.Equal(t, "p1", completed.Data["portfolio_id"])
	assert.Equal(t, result.Fingerprint, completed.Data["fingerprint"])
}

func TestRecompute_FailureKeepsPreviousState(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	first, err := f.service.Recompute(ctx, "p1")
	require.NoError(t, err)

	var failed *events.Event
	f.bus.Subscribe(events.RecomputeFailed, func(e *events.Event) { failed = e })

	oversell := testhelpers.NewLedger("p1", "USD").Sell("ACME", testhelpers.Date(2024, 1, 6), "500", "12", "0").Transactions()
	oversell[0].ID = "oversell"
	_, err = f.ledger.Append(ctx, "p1", oversell)
	require.NoError(t, err)

	_, err = f.service.Recompute(ctx, "p1")
	var recErr *domain.RecomputeError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, "oversell", recErr.TransactionID)
	var qtyErr *domain.InsufficientQuantityError
	assert.ErrorAs(t, err, &qtyErr)

	require.NotNil(t, failed)
	assert.Equal(t, "oversell", failed.Data["transaction_id"])

	run, err := f.service.LastRun(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, first.Fingerprint, run.Fingerprint)
}

func TestRecompute_UnknownPortfolio(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Recompute(context.Background(), "nope")
	assert.ErrorIs(t, err, utils.ErrNotFound)

	_, err = f.service.LastRun(context.Background(), "nope")
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestRecomputeAll_IsolatesFailures(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	_, err := f.ledger.CreatePortfolio(ctx, domain.Portfolio{ID: "p2", Name: "Broken", BaseCurrency: "USD"})
	require.NoError(t, err)
	_, err = f.ledger.Append(ctx, "p2", testhelpers.NewLedger("p2", "USD").
		Sell("ACME", testhelpers.Date(2024, 1, 2), "1", "10", "0").Transactions())
	require.NoError(t, err)

	outcomes, err := f.service.RecomputeAll(ctx)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	byID := map[string]recompute.Outcome{}
	for _, o := range outcomes {
		byID[o.PortfolioID] = o
	}
	assert.NoError(t, byID["p1"].Err)
	assert.Error(t, byID["p2"].Err)

	_, err = f.service.LastRun(ctx, "p1")
	assert.NoError(t, err)
	_, err = f.service.LastRun(ctx, "p2")
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestPositionSnapshot(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	// Held but never priced
	_, err := f.ledger.Append(ctx, "p1", withoutIDs(testhelpers.NewLedger("p1", "USD").
		Buy("BETA", testhelpers.Date(2024, 1, 3), "5", "20", "0").Transactions()))
	require.NoError(t, err)

	snap, err := f.service.PositionSnapshot(ctx, "p1", testhelpers.Date(2024, 1, 5))
	require.NoError(t, err)
	assert.Equal(t, testhelpers.Date(2024, 1, 5), snap.AsOfDate)
	assert.Equal(t, "USD", snap.BaseCurrency)

	require.Len(t, snap.Positions, 1)
	acme := snap.Positions[0]
	assert.Equal(t, "ACME", acme.InstrumentID)
	assert.True(t, acme.OpenQuantity.Equal(testhelpers.D("200")))
	assert.True(t, acme.TotalCost.Equal(testhelpers.D("2100")))
	assert.True(t, acme.MarketValue.Equal(testhelpers.D("2420")), acme.MarketValue.String())
	assert.True(t, acme.AverageCost.Equal(testhelpers.D("10.5")))

	require.Len(t, snap.InstrumentFailures, 1)
	assert.Equal(t, "BETA", snap.InstrumentFailures[0].InstrumentID)
	assert.Contains(t, snap.InstrumentFailures[0].Reason, "BETA")

	assert.Equal(t, 1, snap.Summary.OpenPositions)
	assert.True(t, snap.Summary.UnrealizedGain.Equal(testhelpers.D("320")))
	assert.Equal(t, "15.23809524", positions.RoundSummary(snap.Summary, "USD").UnrealizedGainPercentage.String())
	require.Len(t, snap.Summary.CurrencyAllocation, 1)
	assert.True(t, snap.Summary.CurrencyAllocation["USD"].Equal(testhelpers.D("100")))
}

func TestPositionSnapshot_PointInTime(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	snap, err := f.service.PositionSnapshot(context.Background(), "p1", testhelpers.Date(2024, 1, 3))
	require.NoError(t, err)
	require.Len(t, snap.Positions, 1)
	assert.True(t, snap.Positions[0].OpenQuantity.Equal(testhelpers.D("100")))
	assert.True(t, snap.Positions[0].MarketValue.Equal(testhelpers.D("1050")))
}

func TestTimeWeightedReturn(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	// +10% to Jan 4 (net of the 1100 buy), then +10% to Jan 5
	twr, err := f.service.TimeWeightedReturn(context.Background(), "p1", period(t, 2, 5))
	require.NoError(t, err)
	assert.InDelta(t, 0.21, twr.InexactFloat64(), 1e-9)
}

func TestMoneyWeightedReturn(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	// 10% on the 2100 invested by year end
	_, err := f.prices.Upsert(ctx, []domain.Price{
		{InstrumentID: "ACME", Date: testhelpers.Date(2024, 12, 31), Price: testhelpers.D("11.55"), Currency: "USD"},
	}, "test")
	require.NoError(t, err)

	p, err := NewPeriod(testhelpers.Date(2024, 1, 2), testhelpers.Date(2024, 12, 31))
	require.NoError(t, err)

	mwr, err := f.service.MoneyWeightedReturn(ctx, "p1", p)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, mwr.InexactFloat64(), 0.002)
}

func TestMoneyWeightedReturn_Undefined(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	// Nothing held and nothing traded
	p, err := NewPeriod(testhelpers.Date(2023, 12, 1), testhelpers.Date(2024, 1, 1))
	require.NoError(t, err)

	_, err = f.service.MoneyWeightedReturn(context.Background(), "p1", p)
	var undefined *domain.NoConvergenceError
	assert.True(t, errors.As(err, &undefined), "expected NoConvergenceError, got %v", err)
}

func TestReturns_MissingPrice(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	// ACME is valued from its Jan 5 close on Jan 8, BETA has no price at all
	_, err := f.ledger.Append(context.Background(), "p1", withoutIDs(testhelpers.NewLedger("p1", "USD").
		Buy("BETA", testhelpers.Date(2024, 1, 8), "1", "1", "0").Transactions()))
	require.NoError(t, err)

	_, err = f.service.TimeWeightedReturn(context.Background(), "p1", period(t, 2, 9))
	var priceErr *domain.PriceUnavailableError
	assert.ErrorAs(t, err, &priceErr)
}

func TestPerformance_CachedUntilInputsChange(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()
	p := period(t, 2, 5)

	perf, err := f.service.Performance(ctx, "p1", p)
	require.NoError(t, err)
	assert.True(t, perf.StartValue.Equal(testhelpers.D("1000")))
	assert.True(t, perf.CurrentValue.Equal(testhelpers.D("2420")))
	assert.True(t, perf.TotalInvested.Equal(testhelpers.D("1100")))
	assert.True(t, perf.NetInvested.Equal(testhelpers.D("2100")))
	assert.True(t, perf.TotalReturn.Equal(testhelpers.D("320")))
	require.NotNil(t, perf.TimeWeighted)
	assert.InDelta(t, 0.21, perf.TimeWeighted.InexactFloat64(), 1e-9)
	assert.Equal(t, 3, perf.DaysInvested)

	cached, err := f.service.Performance(ctx, "p1", p)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, cached.StartDate.Location())
	assert.True(t, cached.StartDate.Equal(perf.StartDate))
	assert.True(t, cached.CurrentValue.Equal(perf.CurrentValue))
	assert.True(t, cached.TimeWeighted.Equal(*perf.TimeWeighted))
	assert.Equal(t, 1, countRows(t, f.cacheDB))

	// A new close changes the price stamp and so the key
	_, err = f.prices.Upsert(ctx, []domain.Price{
		{InstrumentID: "ACME", Date: testhelpers.Date(2024, 1, 5), Price: testhelpers.D("13.2"), Currency: "USD"},
	}, "test")
	require.NoError(t, err)

	updated, err := f.service.Performance(ctx, "p1", p)
	require.NoError(t, err)
	assert.True(t, updated.CurrentValue.Equal(testhelpers.D("2640")), updated.CurrentValue.String())
	assert.Equal(t, 2, countRows(t, f.cacheDB))
}

func TestPerformance_UnknownPortfolio(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Performance(context.Background(), "nope", period(t, 2, 5))
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

// withoutIDs lets the ledger generate ids for entries appended after seed.
func withoutIDs(txs []domain.Transaction) []domain.Transaction {
	for i := range txs {
		txs[i].ID = ""
	}
	return txs
}

func countRows(t *testing.T, db *database.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM recompute_cache`).Scan(&n))
	return n
}
