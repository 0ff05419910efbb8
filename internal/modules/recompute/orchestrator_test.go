package recompute

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/lotledger/internal/domain"
	"github.com/aristath/lotledger/internal/modules/currency"
	testhelpers "github.com/aristath/lotledger/internal/testing"
)

func newOrchestrator() *Orchestrator {
	return NewOrchestrator(Options{}, zerolog.Nop())
}

func usdRates() *currency.RateTable {
	return currency.NewRateTable([]domain.FxRate{
		{Pair: domain.CurrencyPair{Base: "EUR", Quote: "USD"}, Date: testhelpers.Date(2024, 1, 1), Rate: testhelpers.D("1.1")},
		{Pair: domain.CurrencyPair{Base: "EUR", Quote: "USD"}, Date: testhelpers.Date(2024, 6, 1), Rate: testhelpers.D("1.2")},
	})
}

func mixedLedger() *testhelpers.Ledger {
	return testhelpers.NewLedger("p1", "USD").
		Buy("ACME", testhelpers.Date(2024, 1, 2), "100", "10", "1").
		Buy("ACME", testhelpers.Date(2024, 2, 2), "50", "12", "0").
		Dividend("ACME", testhelpers.Date(2024, 3, 1), "0.2", "3").
		Split("ACME", testhelpers.Date(2024, 4, 1), "2").
		Sell("ACME", testhelpers.Date(2024, 5, 1), "250", "7", "2").
		WithCurrency("EUR").
		Buy("EURO", testhelpers.Date(2024, 5, 2), "10", "100", "0").
		Sell("EURO", testhelpers.Date(2024, 7, 1), "4", "110", "0").
		WithCurrency("USD").
		Fee(testhelpers.Date(2024, 7, 2), "15")
}

func input(l *testhelpers.Ledger) Input {
	return Input{PortfolioID: l.PortfolioID, BaseCurrency: "USD", Transactions: l.Transactions(), Rates: usdRates()}
}

func TestRecompute_Idempotent(t *testing.T) {
	o := newOrchestrator()
	in := input(mixedLedger())

	first, err := o.Recompute(context.Background(), in)
	require.NoError(t, err)
	second, err := o.Recompute(context.Background(), in)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("recompute is not idempotent (-first +second):\n%s", diff)
	}
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Len(t, first.Fingerprint, 64)
}

func TestRecompute_FingerprintTracksInput(t *testing.T) {
	o := newOrchestrator()
	a, err := o.Recompute(context.Background(), input(mixedLedger()))
	require.NoError(t, err)

	changed := mixedLedger().Buy("ACME", testhelpers.Date(2024, 8, 1), "1", "1", "0")
	b, err := o.Recompute(context.Background(), input(changed))
	require.NoError(t, err)

	assert.NotEqual(t, a.Fingerprint, b.Fingerprint)
}

func TestRecompute_DerivedState(t *testing.T) {
	res, err := newOrchestrator().Recompute(context.Background(), input(mixedLedger()))
	require.NoError(t, err)

	assert.Equal(t, 8, res.TransactionCount)
	assert.Empty(t, res.InstrumentFailures)

	byInstrument := res.LotsByInstrument()
	// 150 bought, doubled to 300, 250 sold
	acme := byInstrument["ACME"]
	require.Len(t, acme, 2)
	assert.False(t, acme[0].IsOpen())
	assert.True(t, acme[1].RemainingQuantity.Equal(testhelpers.D("50")))
	assert.True(t, acme[1].UnitCostBaseCurrency.Equal(testhelpers.D("6")))

	// EUR lot converted at 1.1 (nearest prior rate)
	euro := byInstrument["EURO"]
	require.Len(t, euro, 1)
	assert.True(t, euro[0].UnitCostBaseCurrency.Equal(testhelpers.D("110")))
	assert.True(t, euro[0].RemainingQuantity.Equal(testhelpers.D("6")))

	// Sale of 250 closes the first lot (200 after split) and 50 of the second
	require.Len(t, res.RealizedGains, 3)
	assert.True(t, res.RealizedGains[0].QuantityClosed.Equal(testhelpers.D("200")))
	assert.True(t, res.RealizedGains[0].CostBaseCurrency.Equal(testhelpers.D("1001")))
	assert.True(t, res.RealizedGains[1].QuantityClosed.Equal(testhelpers.D("50")))
	// EUR sale converted at 1.2: 4 * 110 * 1.2 = 528 against 4 * 110 cost
	assert.True(t, res.RealizedGains[2].ProceedsBaseCurrency.Equal(testhelpers.D("528")))
	assert.True(t, res.RealizedGains[2].Gain.Equal(testhelpers.D("88")))

	require.Len(t, res.AuditLog, 2)
	assert.Equal(t, domain.KindDividend, res.AuditLog[0].Kind)
	assert.Equal(t, domain.KindSplit, res.AuditLog[1].Kind)

	types := make([]domain.FlowType, 0, len(res.CashFlows))
	for _, f := range res.CashFlows {
		types = append(types, f.FlowType)
	}
	assert.Equal(t, []domain.FlowType{
		domain.FlowBuy, domain.FlowBuy, domain.FlowDividend, domain.FlowSell,
		domain.FlowBuy, domain.FlowSell, domain.FlowFee,
	}, types)
	// (150 * 0.2 - 3)
	assert.True(t, res.CashFlows[2].AmountBaseCurrency.Equal(testhelpers.D("27")))
}

func TestRecompute_QuantityConservation(t *testing.T) {
	res, err := newOrchestrator().Recompute(context.Background(), input(mixedLedger()))
	require.NoError(t, err)

	open := map[string]string{}
	for id, lots := range res.LotsByInstrument() {
		total := testhelpers.D("0")
		for _, l := range lots {
			total = total.Add(l.RemainingQuantity)
		}
		open[id] = total.String()
	}
	// ACME: (100 + 50) * 2 - 250, EURO: 10 - 4
	assert.Equal(t, map[string]string{"ACME": "50", "EURO": "6"}, open)
}

func TestRecompute_RejectsOutOfOrderInput(t *testing.T) {
	ledger := testhelpers.NewLedger("p1", "USD").
		Buy("ACME", testhelpers.Date(2024, 2, 1), "1", "1", "0").
		Buy("ACME", testhelpers.Date(2024, 1, 1), "1", "1", "0")

	_, err := newOrchestrator().Recompute(context.Background(), input(ledger))

	var recErr *domain.RecomputeError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, ledger.Last().ID, recErr.TransactionID)
	var valErr *domain.ValidationError
	assert.ErrorAs(t, err, &valErr)
}

func TestRecompute_RejectsNaiveTimestamps(t *testing.T) {
	ledger := testhelpers.NewLedger("p1", "USD")
	txs := ledger.Buy("ACME", testhelpers.Date(2024, 1, 1), "1", "1", "0").Transactions()
	txs[0].TradeDate = time.Date(2024, 1, 1, 9, 0, 0, 0, time.FixedZone("CET", 3600))

	_, err := newOrchestrator().Recompute(context.Background(),
		Input{PortfolioID: "p1", BaseCurrency: "USD", Transactions: txs, Rates: usdRates()})
	var valErr *domain.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "trade_date", valErr.Field)
}

func TestRecompute_InsufficientQuantityAbortsPortfolio(t *testing.T) {
	ledger := testhelpers.NewLedger("p1", "USD").
		Buy("ACME", testhelpers.Date(2024, 1, 1), "400", "1", "0").
		Sell("ACME", testhelpers.Date(2024, 2, 1), "500", "1", "0")

	res, err := newOrchestrator().Recompute(context.Background(), input(ledger))
	assert.Nil(t, res)

	var recErr *domain.RecomputeError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, "p1", recErr.PortfolioID)
	assert.Equal(t, ledger.Last().ID, recErr.TransactionID)
	var qtyErr *domain.InsufficientQuantityError
	assert.ErrorAs(t, err, &qtyErr)
}

func TestRecompute_MissingRateQuarantinesInstrument(t *testing.T) {
	ledger := testhelpers.NewLedger("p1", "USD").
		Buy("ACME", testhelpers.Date(2024, 1, 2), "10", "10", "0").
		WithCurrency("JPY").
		Buy("NIKKEI", testhelpers.Date(2024, 1, 3), "10", "1000", "0").
		Sell("NIKKEI", testhelpers.Date(2024, 1, 4), "5", "1100", "0").
		WithCurrency("USD").
		Sell("ACME", testhelpers.Date(2024, 1, 5), "5", "12", "0")

	res, err := newOrchestrator().Recompute(context.Background(), input(ledger))
	require.NoError(t, err)

	require.Len(t, res.InstrumentFailures, 1)
	failure := res.InstrumentFailures[0]
	assert.Equal(t, "NIKKEI", failure.InstrumentID)
	assert.Equal(t, ledger.Transactions()[1].ID, failure.TransactionID)
	assert.Equal(t, 1, failure.SkippedTransactions)
	assert.True(t, res.Failed("NIKKEI"))

	assert.Empty(t, res.LotsByInstrument()["NIKKEI"])
	require.Len(t, res.RealizedGains, 1)
	assert.Equal(t, "ACME", res.RealizedGains[0].InstrumentID)
	for _, f := range res.CashFlows {
		assert.Equal(t, "ACME", f.InstrumentID)
	}
}

func TestRecompute_InvalidCorporateActionAbortsPortfolio(t *testing.T) {
	ledger := testhelpers.NewLedger("p1", "USD").
		Split("ACME", testhelpers.Date(2024, 1, 2), "2")

	_, err := newOrchestrator().Recompute(context.Background(), input(ledger))
	var caErr *domain.InvalidCorporateActionError
	require.ErrorAs(t, err, &caErr)
}

func TestRecompute_RejectsForeignTransactions(t *testing.T) {
	ledger := testhelpers.NewLedger("p2", "USD").Buy("ACME", testhelpers.Date(2024, 1, 2), "1", "1", "0")
	in := input(ledger)
	in.PortfolioID = "p1"

	_, err := newOrchestrator().Recompute(context.Background(), in)
	var valErr *domain.ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestRecompute_RejectsCurrencyChangeForInstrument(t *testing.T) {
	ledger := testhelpers.NewLedger("p1", "USD").
		Buy("ACME", testhelpers.Date(2024, 1, 2), "1", "1", "0").
		WithCurrency("EUR").
		Buy("ACME", testhelpers.Date(2024, 1, 3), "1", "1", "0")

	_, err := newOrchestrator().Recompute(context.Background(), input(ledger))
	var valErr *domain.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "currency", valErr.Field)
}

func TestRecompute_CrossCurrencyDividend(t *testing.T) {
	ledger := testhelpers.NewLedger("p1", "USD").
		Buy("ACME", testhelpers.Date(2024, 1, 2), "10", "20", "0").
		WithCurrency("EUR").
		Dividend("ACME", testhelpers.Date(2024, 3, 1), "0.5", "0")

	res, err := newOrchestrator().Recompute(context.Background(), input(ledger))
	require.NoError(t, err)
	assert.Empty(t, res.InstrumentFailures)
	require.Len(t, res.Lots, 1)
	assert.True(t, res.Lots[0].RemainingQuantity.Equal(testhelpers.D("10")))

	var dividends []domain.CashFlow
	for _, f := range res.CashFlows {
		if f.FlowType == domain.FlowDividend {
			dividends = append(dividends, f)
		}
	}
	require.Len(t, dividends, 1)
	// 10 units x 0.5 EUR at 1.1 USD per EUR
	assert.True(t, dividends[0].AmountBaseCurrency.Equal(testhelpers.D("5.5")), dividends[0].AmountBaseCurrency.String())
}

func TestRecompute_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newOrchestrator().Recompute(ctx, input(mixedLedger()))
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestReplayUntil_PointInTime(t *testing.T) {
	res, err := newOrchestrator().ReplayUntil(context.Background(), input(mixedLedger()), domain.EndOfDay(testhelpers.Date(2024, 3, 15)))
	require.NoError(t, err)

	acme := res.LotsByInstrument()["ACME"]
	require.Len(t, acme, 2)
	assert.True(t, acme[0].RemainingQuantity.Equal(testhelpers.D("100")))
	assert.Empty(t, res.RealizedGains)
	assert.Len(t, res.CashFlows, 3)
}

func TestReplayCheckpoints(t *testing.T) {
	in := input(mixedLedger())
	checkpoints := []time.Time{
		domain.EndOfDay(testhelpers.Date(2024, 4, 1)),
		domain.EndOfDay(testhelpers.Date(2024, 1, 1)),
		domain.EndOfDay(testhelpers.Date(2024, 12, 31)),
	}

	var seen []time.Time
	var counts []int
	err := newOrchestrator().ReplayCheckpoints(context.Background(), in, checkpoints, func(asOf time.Time, state *Result) error {
		seen = append(seen, asOf)
		counts = append(counts, state.TransactionCount)
		assert.Empty(t, state.Fingerprint)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []time.Time{checkpoints[1], checkpoints[0], checkpoints[2]}, seen)
	assert.Equal(t, []int{0, 4, 8}, counts)
}

func TestReplayCheckpoints_MatchesReplayUntil(t *testing.T) {
	o := newOrchestrator()
	in := input(mixedLedger())
	asOf := domain.EndOfDay(testhelpers.Date(2024, 5, 1))

	direct, err := o.ReplayUntil(context.Background(), in, asOf)
	require.NoError(t, err)

	err = o.ReplayCheckpoints(context.Background(), in, []time.Time{asOf}, func(_ time.Time, state *Result) error {
		state.Fingerprint = direct.Fingerprint
		if diff := cmp.Diff(direct, state); diff != "" {
			t.Errorf("checkpoint differs from ReplayUntil (-want +got):\n%s", diff)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestRecomputeAll_IsolatesFailures(t *testing.T) {
	good := input(mixedLedger())
	bad := input(testhelpers.NewLedger("p2", "USD").
		Sell("ACME", testhelpers.Date(2024, 1, 1), "1", "1", "0"))
	alsoGood := input(testhelpers.NewLedger("p3", "USD").
		Buy("ACME", testhelpers.Date(2024, 1, 1), "1", "1", "0"))

	outcomes := newOrchestrator().RecomputeAll(context.Background(), []Input{good, bad, alsoGood}, 2)
	require.Len(t, outcomes, 3)

	assert.Equal(t, "p1", outcomes[0].PortfolioID)
	assert.NoError(t, outcomes[0].Err)
	assert.NotNil(t, outcomes[0].Result)

	var qtyErr *domain.InsufficientQuantityError
	assert.ErrorAs(t, outcomes[1].Err, &qtyErr)
	assert.Nil(t, outcomes[1].Result)

	assert.NoError(t, outcomes[2].Err)
	assert.Len(t, outcomes[2].Result.Lots, 1)
}
