package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validBuy() Transaction {
	return Transaction{
		ID:           "t1",
		PortfolioID:  "p1",
		InstrumentID: "AAPL",
		Kind:         KindBuy,
		TradeDate:    time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Quantity:     decimal.NewFromInt(10),
		PricePerUnit: decimal.NewFromInt(100),
		Fees:         decimal.NewFromInt(1),
		Currency:     "USD",
	}
}

func TestTransactionValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(tx *Transaction)
		field  string
	}{
		{"valid buy", func(tx *Transaction) {}, ""},
		{"missing id", func(tx *Transaction) { tx.ID = "" }, "id"},
		{"missing portfolio", func(tx *Transaction) { tx.PortfolioID = "" }, "portfolio_id"},
		{"unknown kind", func(tx *Transaction) { tx.Kind = "TRANSFER" }, "kind"},
		{"zero trade date", func(tx *Transaction) { tx.TradeDate = time.Time{} }, "trade_date"},
		{"non-utc trade date", func(tx *Transaction) {
			tx.TradeDate = time.Date(2024, 1, 2, 9, 0, 0, 0, time.FixedZone("CET", 3600))
		}, "trade_date"},
		{"unknown currency", func(tx *Transaction) { tx.Currency = "XXY" }, "currency"},
		{"negative fees", func(tx *Transaction) { tx.Fees = decimal.NewFromInt(-1) }, "fees"},
		{"missing instrument", func(tx *Transaction) { tx.InstrumentID = "" }, "instrument_id"},
		{"non-positive buy", func(tx *Transaction) { tx.Quantity = decimal.Zero }, "quantity"},
		{"sell with negative quantity", func(tx *Transaction) {
			tx.Kind = KindSell
			tx.Quantity = decimal.NewFromInt(-5)
		}, ""},
		{"sell fees above gross", func(tx *Transaction) {
			tx.Kind = KindSell
			tx.Quantity = decimal.NewFromInt(1)
			tx.PricePerUnit = decimal.NewFromInt(1)
			tx.Fees = decimal.NewFromInt(2)
		}, "fees"},
		{"account level fee", func(tx *Transaction) {
			tx.Kind = KindFee
			tx.InstrumentID = ""
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := validBuy()
			tt.mutate(&tx)

			err := tx.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestValidateOrder(t *testing.T) {
	a := validBuy()
	b := validBuy()
	b.ID = "t2"
	b.TradeDate = a.TradeDate.AddDate(0, 0, -1)

	err := ValidateOrder([]Transaction{a, b})

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "t2", vErr.TransactionID)
	assert.NoError(t, ValidateOrder([]Transaction{b, a}))
}

func TestParseTimestamp(t *testing.T) {
	t.Run("offset is normalized to UTC", func(t *testing.T) {
		ts, err := ParseTimestamp("trade_date", "2024-03-01T10:00:00+02:00")
		require.NoError(t, err)
		assert.Equal(t, time.UTC, ts.Location())
		assert.Equal(t, 8, ts.Hour())
	})

	t.Run("Z suffix is accepted", func(t *testing.T) {
		ts, err := ParseTimestamp("trade_date", "2024-03-01T00:00:00Z")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), ts)
	})

	t.Run("bare calendar date is rejected", func(t *testing.T) {
		_, err := ParseTimestamp("trade_date", "2024-03-01")
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "trade_date", vErr.Field)
	})

	t.Run("naive timestamp is rejected", func(t *testing.T) {
		_, err := ParseTimestamp("trade_date", "2024-03-01T10:00:00")
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "trade_date", vErr.Field)
	})

	t.Run("empty is rejected", func(t *testing.T) {
		_, err := ParseTimestamp("trade_date", " ")
		assert.Error(t, err)
	})
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2023, 1, 1, 23, 0, 0, 0, time.UTC)
	b := time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)

	assert.Equal(t, 365, DaysBetween(a, b))
	assert.True(t, SameDay(b, EndOfDay(b)))
}

func TestErrorHelpers(t *testing.T) {
	rateErr := &RateUnavailableError{Pair: CurrencyPair{Base: "USD", Quote: "EUR"}, Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	wrapped := fmt.Errorf("converting: %w", rateErr)

	AttachTransaction(wrapped, "t9")

	assert.Equal(t, "t9", rateErr.TransactionID)
	assert.True(t, IsInstrumentScoped(wrapped))
	assert.False(t, IsInstrumentScoped(&InsufficientQuantityError{}))

	recErr := &RecomputeError{PortfolioID: "p1", TransactionID: "t9", Err: wrapped}
	assert.True(t, errors.Is(recErr, rateErr))
	assert.Contains(t, recErr.Error(), "USD/EUR")
}
