package currency

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/lotledger/internal/domain"
	testhelpers "github.com/aristath/lotledger/internal/testing"
)

func TestRepository_UpsertListAndLoad(t *testing.T) {
	db := testhelpers.NewTestDB(t, "history")
	repo := NewRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	n, err := repo.Upsert(ctx, []domain.FxRate{
		rate(usdEur, testhelpers.Date(2024, 1, 2), "0.91"),
		rate(usdEur, testhelpers.Date(2024, 1, 1), "0.90"),
	}, "test")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Replace one day
	_, err = repo.Upsert(ctx, []domain.FxRate{rate(usdEur, testhelpers.Date(2024, 1, 2), "0.915")}, "")
	require.NoError(t, err)

	rates, err := repo.List(ctx, usdEur, testhelpers.Date(2024, 1, 1), testhelpers.Date(2024, 1, 31))
	require.NoError(t, err)
	require.Len(t, rates, 2)
	assert.Equal(t, testhelpers.Date(2024, 1, 1), rates[0].Date)
	assert.True(t, rates[1].Rate.Equal(testhelpers.D("0.915")))

	latest, err := repo.LatestDate(ctx, usdEur)
	require.NoError(t, err)
	assert.Equal(t, testhelpers.Date(2024, 1, 2), latest)

	table, err := repo.LoadTable(ctx)
	require.NoError(t, err)
	got, err := table.Rate(usdEur, testhelpers.Date(2024, 1, 5))
	require.NoError(t, err)
	assert.True(t, got.Equal(testhelpers.D("0.915")))
}

func TestRepository_LatestDateEmpty(t *testing.T) {
	db := testhelpers.NewTestDB(t, "history")
	repo := NewRepository(db.Conn(), zerolog.Nop())

	latest, err := repo.LatestDate(context.Background(), usdEur)
	require.NoError(t, err)
	assert.True(t, latest.IsZero())
}

func TestRepository_UpsertRejectsInvalidRates(t *testing.T) {
	db := testhelpers.NewTestDB(t, "history")
	repo := NewRepository(db.Conn(), zerolog.Nop())

	tests := []struct {
		name string
		fx   domain.FxRate
	}{
		{"non-positive", rate(usdEur, testhelpers.Date(2024, 1, 1), "-1")},
		{"same currency", rate(domain.CurrencyPair{Base: "EUR", Quote: "EUR"}, testhelpers.Date(2024, 1, 1), "1")},
		{"unknown currency", rate(domain.CurrencyPair{Base: "ABC", Quote: "EUR"}, testhelpers.Date(2024, 1, 1), "1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.Upsert(context.Background(), []domain.FxRate{tt.fx}, "test")
			var vErr *domain.ValidationError
			assert.ErrorAs(t, err, &vErr)
		})
	}
}
