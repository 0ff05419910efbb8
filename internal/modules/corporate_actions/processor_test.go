package corporate_actions

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/lotledger/internal/domain"
	"github.com/aristath/lotledger/internal/modules/lots"
	testhelpers "github.com/aristath/lotledger/internal/testing"
)

var one = testhelpers.D("1")

func setup(t *testing.T, ledger *testhelpers.Ledger) *lots.Tracker {
	t.Helper()
	tracker := lots.NewTracker(ledger.PortfolioID, lots.Options{}, zerolog.Nop())
	for _, tx := range ledger.Transactions() {
		switch tx.Kind {
		case domain.KindBuy:
			_, err := tracker.ApplyBuy(tx, one)
			require.NoError(t, err)
		case domain.KindSell:
			_, err := tracker.ApplySell(tx, one)
			require.NoError(t, err)
		}
	}
	return tracker
}

func marketValue(tracker *lots.Tracker, instrument string, price decimal.Decimal) decimal.Decimal {
	return tracker.OpenQuantity(instrument).Mul(price)
}

func totalRemainingCost(tracker *lots.Tracker, instrument string) decimal.Decimal {
	total := decimal.Zero
	for _, l := range tracker.OpenLots(instrument) {
		total = total.Add(l.RemainingCostBaseCurrency)
	}
	return total
}

func TestSplit_Neutrality(t *testing.T) {
	ledger := testhelpers.NewLedger("p1", "USD").
		Buy("ACME", testhelpers.Date(2024, 1, 2), "100", "50", "0").
		Buy("ACME", testhelpers.Date(2024, 2, 2), "30", "70", "1")
	tracker := setup(t, ledger)
	costBefore := totalRemainingCost(tracker, "ACME")
	valueBefore := marketValue(tracker, "ACME", testhelpers.D("80"))

	split := ledger.Split("ACME", testhelpers.Date(2024, 3, 1), "2").Last()
	out, err := NewProcessor(zerolog.Nop()).Apply(tracker, split, one)
	require.NoError(t, err)

	// Price halves after a 2:1 split
	assert.True(t, marketValue(tracker, "ACME", testhelpers.D("40")).Equal(valueBefore))
	assert.True(t, totalRemainingCost(tracker, "ACME").Equal(costBefore))
	assert.True(t, tracker.OpenQuantity("ACME").Equal(testhelpers.D("260")))

	first := tracker.OpenLots("ACME")[0]
	assert.True(t, first.UnitCostBaseCurrency.Equal(testhelpers.D("25")))
	assert.True(t, first.OriginalQuantity.Equal(testhelpers.D("200")))

	assert.Nil(t, out.CashFlow)
	assert.Equal(t, split.ID, out.Audit.TransactionID)
	assert.Equal(t, domain.KindSplit, out.Audit.Kind)
	require.NotNil(t, out.Audit.Ratio)
	assert.True(t, out.Audit.Ratio.Equal(testhelpers.D("2")))
	require.Len(t, out.Audit.Adjustments, 2)
	assert.True(t, out.Audit.Adjustments[0].QuantityBefore.Equal(testhelpers.D("100")))
	assert.True(t, out.Audit.Adjustments[0].QuantityAfter.Equal(testhelpers.D("200")))
}

func TestSplit_ReverseSplit(t *testing.T) {
	ledger := testhelpers.NewLedger("p1", "USD").
		Buy("ACME", testhelpers.Date(2024, 1, 2), "100", "1", "0")
	tracker := setup(t, ledger)

	split := ledger.Split("ACME", testhelpers.Date(2024, 3, 1), "0.1").Last()
	_, err := NewProcessor(zerolog.Nop()).Apply(tracker, split, one)
	require.NoError(t, err)

	lot := tracker.OpenLots("ACME")[0]
	assert.True(t, lot.RemainingQuantity.Equal(testhelpers.D("10")))
	assert.True(t, lot.UnitCostBaseCurrency.Equal(testhelpers.D("10")))
}

func TestSplit_LeavesClosedLotsAlone(t *testing.T) {
	ledger := testhelpers.NewLedger("p1", "USD").
		Buy("ACME", testhelpers.Date(2024, 1, 2), "10", "10", "0").
		Buy("ACME", testhelpers.Date(2024, 1, 3), "10", "20", "0").
		Sell("ACME", testhelpers.Date(2024, 1, 4), "10", "15", "0")
	tracker := setup(t, ledger)
	closed := tracker.Lots("ACME")[0]

	split := ledger.Split("ACME", testhelpers.Date(2024, 2, 1), "4").Last()
	out, err := NewProcessor(zerolog.Nop()).Apply(tracker, split, one)
	require.NoError(t, err)

	assert.Len(t, out.Audit.Adjustments, 1)
	assert.Equal(t, closed, tracker.Lots("ACME")[0])
}

func TestBonus_MultipliesByOnePlusRatio(t *testing.T) {
	ledger := testhelpers.NewLedger("p1", "USD").
		Buy("ACME", testhelpers.Date(2024, 1, 2), "100", "30", "0")
	tracker := setup(t, ledger)

	// 1 bonus share for every 2 held
	bonus := ledger.Bonus("ACME", testhelpers.Date(2024, 3, 1), "0.5").Last()
	out, err := NewProcessor(zerolog.Nop()).Apply(tracker, bonus, one)
	require.NoError(t, err)

	lot := tracker.OpenLots("ACME")[0]
	assert.True(t, lot.RemainingQuantity.Equal(testhelpers.D("150")))
	assert.True(t, lot.UnitCostBaseCurrency.Equal(testhelpers.D("20")))
	assert.True(t, lot.RemainingCostBaseCurrency.Equal(testhelpers.D("3000")))
	assert.True(t, out.Audit.Ratio.Equal(testhelpers.D("1.5")))
}

func TestDividend_EmitsCashFlowWithoutTouchingLots(t *testing.T) {
	ledger := testhelpers.NewLedger("p1", "USD").
		Buy("ACME", testhelpers.Date(2024, 1, 2), "100", "30", "0")
	tracker := setup(t, ledger)
	before := tracker.AllLots()

	div := ledger.Dividend("ACME", testhelpers.Date(2024, 3, 1), "0.5", "7.5").Last()
	out, err := NewProcessor(zerolog.Nop()).Apply(tracker, div, testhelpers.D("0.9"))
	require.NoError(t, err)

	assert.Equal(t, before, tracker.AllLots())
	require.NotNil(t, out.CashFlow)
	// (100 * 0.5 - 7.5) * 0.9
	assert.True(t, out.CashFlow.AmountBaseCurrency.Equal(testhelpers.D("38.25")))
	assert.Equal(t, domain.FlowDividend, out.CashFlow.FlowType)
	assert.Equal(t, div.Sequence, out.CashFlow.Sequence)
	assert.True(t, out.Audit.Entitled.Equal(testhelpers.D("100")))
	assert.Empty(t, out.Audit.Adjustments)
}

func TestDividend_ExplicitEntitledQuantity(t *testing.T) {
	ledger := testhelpers.NewLedger("p1", "USD").
		Buy("ACME", testhelpers.Date(2024, 1, 2), "100", "30", "0")
	tracker := setup(t, ledger)

	div := domain.Transaction{
		ID: "div", PortfolioID: "p1", InstrumentID: "ACME", Kind: domain.KindDividend,
		TradeDate: testhelpers.Date(2024, 3, 1), Quantity: testhelpers.D("60"),
		PricePerUnit: testhelpers.D("1"), Fees: testhelpers.D("0"), Currency: "USD",
	}
	out, err := NewProcessor(zerolog.Nop()).Apply(tracker, div, one)
	require.NoError(t, err)
	assert.True(t, out.CashFlow.AmountBaseCurrency.Equal(testhelpers.D("60")))
}

func TestInvalidCorporateActions(t *testing.T) {
	held := testhelpers.NewLedger("p1", "USD").
		Buy("ACME", testhelpers.Date(2024, 1, 2), "10", "10", "0")

	tests := []struct {
		name   string
		ledger *testhelpers.Ledger
		tx     func(l *testhelpers.Ledger) domain.Transaction
	}{
		{"zero split ratio", held, func(l *testhelpers.Ledger) domain.Transaction {
			return l.Split("ACME", testhelpers.Date(2024, 2, 1), "0").Last()
		}},
		{"negative split ratio", held, func(l *testhelpers.Ledger) domain.Transaction {
			return l.Split("ACME", testhelpers.Date(2024, 2, 1), "-2").Last()
		}},
		{"zero bonus", held, func(l *testhelpers.Ledger) domain.Transaction {
			return l.Bonus("ACME", testhelpers.Date(2024, 2, 1), "0").Last()
		}},
		{"split without lots", held, func(l *testhelpers.Ledger) domain.Transaction {
			return l.Split("OTHER", testhelpers.Date(2024, 2, 1), "2").Last()
		}},
		{"dividend without lots", held, func(l *testhelpers.Ledger) domain.Transaction {
			return l.Dividend("OTHER", testhelpers.Date(2024, 2, 1), "1", "0").Last()
		}},
		{"zero dividend", held, func(l *testhelpers.Ledger) domain.Transaction {
			return l.Dividend("ACME", testhelpers.Date(2024, 2, 1), "0", "0").Last()
		}},
		{"withholding above gross", held, func(l *testhelpers.Ledger) domain.Transaction {
			return l.Dividend("ACME", testhelpers.Date(2024, 2, 1), "1", "11").Last()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := setup(t, tt.ledger)
			before := tracker.AllLots()

			tx := tt.tx(testhelpers.NewLedger("p1", "USD"))
			_, err := NewProcessor(zerolog.Nop()).Apply(tracker, tx, one)

			var caErr *domain.InvalidCorporateActionError
			require.ErrorAs(t, err, &caErr)
			assert.Equal(t, tx.ID, caErr.TransactionID)
			assert.Equal(t, before, tracker.AllLots())
		})
	}
}

func TestSplitAfterFullSaleIsInvalid(t *testing.T) {
	ledger := testhelpers.NewLedger("p1", "USD").
		Buy("ACME", testhelpers.Date(2024, 1, 2), "10", "10", "0").
		Sell("ACME", testhelpers.Date(2024, 1, 5), "10", "12", "0")
	tracker := setup(t, ledger)

	split := ledger.Split("ACME", testhelpers.Date(2024, 2, 1), "2").Last()
	_, err := NewProcessor(zerolog.Nop()).Apply(tracker, split, one)
	var caErr *domain.InvalidCorporateActionError
	require.ErrorAs(t, err, &caErr)
}

func TestApply_RejectsTrades(t *testing.T) {
	ledger := testhelpers.NewLedger("p1", "USD").Buy("ACME", testhelpers.Date(2024, 1, 2), "10", "10", "0")
	tracker := lots.NewTracker("p1", lots.Options{}, zerolog.Nop())
	_, err := NewProcessor(zerolog.Nop()).Apply(tracker, ledger.Last(), one)
	var valErr *domain.ValidationError
	require.ErrorAs(t, err, &valErr)
}
