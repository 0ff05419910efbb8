package exchangerate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/lotledger/internal/clientdata"
	"github.com/aristath/lotledger/internal/database"
	"github.com/aristath/lotledger/internal/domain"
	testhelpers "github.com/aristath/lotledger/internal/testing"
)

const timeseriesBody = `{
	"amount": 1.0,
	"base": "EUR",
	"start_date": "2024-01-02",
	"end_date": "2024-01-03",
	"rates": {
		"2024-01-03": {"USD": 1.0919, "GBP": 0.86290},
		"2024-01-02": {"USD": 1.0956, "GBP": 0.86518}
	}
}`

func newCache(t *testing.T) *clientdata.Repository {
	t.Helper()
	db := testhelpers.NewTestDB(t, database.NameCache)
	return clientdata.NewRepository(db.Conn())
}

func TestNewClient_DefaultBaseURL(t *testing.T) {
	client := NewClient("", nil, zerolog.Nop())
	assert.Equal(t, DefaultBaseURL, client.baseURL)

	client = NewClient("http://localhost:8080/", nil, zerolog.Nop())
	assert.Equal(t, "http://localhost:8080", client.baseURL)
}

func TestTimeseries_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2024-01-02..2024-01-03", r.URL.Path)
		assert.Equal(t, "EUR", r.URL.Query().Get("from"))
		assert.Equal(t, "GBP,USD", r.URL.Query().Get("to"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(timeseriesBody))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, zerolog.Nop())
	rates, err := client.Timeseries(context.Background(), "EUR", []string{"USD", "GBP"},
		testhelpers.Date(2024, 1, 2), testhelpers.Date(2024, 1, 3))
	require.NoError(t, err)
	require.Len(t, rates, 4)

	// Ordered by date, then quote
	assert.Equal(t, domain.CurrencyPair{Base: "EUR", Quote: "GBP"}, rates[0].Pair)
	assert.Equal(t, testhelpers.Date(2024, 1, 2), rates[0].Date)
	assert.Equal(t, "0.86518", rates[0].Rate.String())
	assert.Equal(t, domain.CurrencyPair{Base: "EUR", Quote: "USD"}, rates[1].Pair)
	assert.Equal(t, "1.0956", rates[1].Rate.String())
	assert.Equal(t, testhelpers.Date(2024, 1, 3), rates[3].Date)
	assert.Equal(t, "1.0919", rates[3].Rate.String())
}

func TestTimeseries_CachesResponses(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(timeseriesBody))
	}))
	defer server.Close()

	client := NewClient(server.URL, newCache(t), zerolog.Nop())
	from, to := testhelpers.Date(2024, 1, 2), testhelpers.Date(2024, 1, 3)

	first, err := client.Timeseries(context.Background(), "EUR", []string{"USD", "GBP"}, from, to)
	require.NoError(t, err)
	second, err := client.Timeseries(context.Background(), "EUR", []string{"GBP", "USD"}, from, to)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Pair, second[i].Pair)
		assert.Equal(t, first[i].Date, second[i].Date)
		assert.True(t, first[i].Rate.Equal(second[i].Rate))
	}
}

func TestTimeseries_StaleFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cache := newCache(t)
	stale := cachedRates{Rates: []domain.FxRate{{
		Pair: domain.CurrencyPair{Base: "EUR", Quote: "USD"},
		Date: testhelpers.Date(2024, 1, 2),
		Rate: testhelpers.D("1.0956"),
	}}}
	require.NoError(t, cache.Store(clientdata.TableExchangeRate, "EUR:USD:2024-01-02:2024-01-02", stale, -time.Hour))

	client := NewClient(server.URL, cache, zerolog.Nop())
	day := testhelpers.Date(2024, 1, 2)

	rates, err := client.Timeseries(context.Background(), "EUR", []string{"USD"}, day, day)
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.Equal(t, day, rates[0].Date)
	assert.Equal(t, "1.0956", rates[0].Rate.String())

	// Nothing cached for another range
	_, err = client.Timeseries(context.Background(), "EUR", []string{"USD"}, day, testhelpers.Date(2024, 1, 3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestTimeseries_InvalidInput(t *testing.T) {
	client := NewClient("http://127.0.0.1:0", nil, zerolog.Nop())

	rates, err := client.Timeseries(context.Background(), "EUR", nil, testhelpers.Date(2024, 1, 2), testhelpers.Date(2024, 1, 3))
	require.NoError(t, err)
	assert.Empty(t, rates)

	_, err = client.Timeseries(context.Background(), "EUR", []string{"USD"}, testhelpers.Date(2024, 1, 3), testhelpers.Date(2024, 1, 2))
	assert.Error(t, err)
}

func TestTimeseries_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"base":"EUR","rates":{"02/01/2024":{"USD":1.1}}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, zerolog.Nop())
	day := testhelpers.Date(2024, 1, 2)
	_, err := client.Timeseries(context.Background(), "EUR", []string{"USD"}, day, day)
	assert.Error(t, err)
}
