package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/lotledger/internal/database"
	"github.com/aristath/lotledger/internal/events"
	"github.com/aristath/lotledger/internal/modules/ledger"
	testhelpers "github.com/aristath/lotledger/internal/testing"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func setupRouter(t *testing.T) (http.Handler, *events.Bus) {
	t.Helper()
	db := testhelpers.NewTestDB(t, database.NameLedger)
	bus := events.NewBus(zerolog.Nop())
	h := NewHandler(ledger.NewRepository(db.Conn(), zerolog.Nop()), events.NewManager(bus, zerolog.Nop()), zerolog.Nop())

	router := chi.NewRouter()
	router.Route("/api", h.RegisterRoutes)
	return router, bus
}

func do(t *testing.T, router http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func TestPortfolioLifecycle(t *testing.T) {
	router, bus := setupRouter(t)

	var created *events.Event
	bus.Subscribe(events.PortfolioCreated, func(e *events.Event) { created = e })

	w, env := do(t, router, http.MethodPost, "/api/portfolios", `{"id":"p1","name":"Main","base_currency":"usd"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, created)
	assert.Equal(t, "p1", created.Data["portfolio_id"])

	var p map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, "USD", p["base_currency"])

	w, _ = do(t, router, http.MethodGet, "/api/portfolios/p1", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = do(t, router, http.MethodGet, "/api/portfolios/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	w, env = do(t, router, http.MethodGet, "/api/portfolios", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, 1, list.Count)
}

func TestCreatePortfolio_BadCurrency(t *testing.T) {
	router, _ := setupRouter(t)

	w, env := do(t, router, http.MethodPost, "/api/portfolios", `{"name":"Main","base_currency":"ZZZ"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestCreatePortfolio_DefaultBaseCurrency(t *testing.T) {
	db := testhelpers.NewTestDB(t, database.NameLedger)
	h := NewHandler(ledger.NewRepository(db.Conn(), zerolog.Nop()), events.NewManager(events.NewBus(zerolog.Nop()), zerolog.Nop()), zerolog.Nop())
	h.SetDefaultBaseCurrency("EUR")
	router := chi.NewRouter()
	router.Route("/api", h.RegisterRoutes)

	w, env := do(t, router, http.MethodPost, "/api/portfolios", `{"id":"p1","name":"Main"}`)
	require.Equal(t, http.StatusCreated, w.Code, env.Error.Message)

	var p map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, "EUR", p["base_currency"])
}

func TestAppendTransactions(t *testing.T) {
	router, bus := setupRouter(t)
	do(t, router, http.MethodPost, "/api/portfolios", `{"id":"p1","name":"Main","base_currency":"USD"}`)

	var appended *events.Event
	bus.Subscribe(events.TransactionsAppended, func(e *events.Event) { appended = e })

	body := `{"transactions":[
		{"instrument_id":"ACME","kind":"BUY","trade_date":"2024-01-02T10:00:00+02:00","quantity":"100","price_per_unit":"50","fees":"0","currency":"USD"},
		{"instrument_id":"ACME","kind":"SELL","trade_date":"2024-02-01T00:00:00Z","quantity":"10","price_per_unit":55.5,"fees":"1","currency":"usd"}
	]}`
	w, env := do(t, router, http.MethodPost, "/api/portfolios/p1/transactions", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.NotNil(t, appended)
	assert.Equal(t, float64(2), appended.Data["count"])

	var stored struct {
		Transactions []struct {
			TradeDate string `json:"trade_date"`
			Currency  string `json:"currency"`
			Sequence  int64  `json:"sequence"`
		} `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &stored))
	require.Len(t, stored.Transactions, 2)
	assert.Equal(t, "2024-01-02T08:00:00Z", stored.Transactions[0].TradeDate)
	assert.Equal(t, "USD", stored.Transactions[1].Currency)

	w, env = do(t, router, http.MethodGet, "/api/portfolios/p1/transactions?from=2024-01-15", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &listed))
	assert.Equal(t, 1, listed.Count)
}

func TestAppendTransactions_RejectsNaiveTimestamp(t *testing.T) {
	router, _ := setupRouter(t)
	do(t, router, http.MethodPost, "/api/portfolios", `{"id":"p1","name":"Main","base_currency":"USD"}`)

	body := `{"transactions":[{"instrument_id":"ACME","kind":"BUY","trade_date":"2024-01-02T10:00:00","quantity":"1","price_per_unit":"1","fees":"0","currency":"USD"}]}`
	w, env := do(t, router, http.MethodPost, "/api/portfolios/p1/transactions", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, env.Error.Message, "trade_date")
}

func TestAppendTransactions_RejectsBareDate(t *testing.T) {
	router, _ := setupRouter(t)
	do(t, router, http.MethodPost, "/api/portfolios", `{"id":"p1","name":"Main","base_currency":"USD"}`)

	body := `{"transactions":[{"instrument_id":"ACME","kind":"BUY","trade_date":"2024-01-02","quantity":"1","price_per_unit":"1","fees":"0","currency":"USD"}]}`
	w, env := do(t, router, http.MethodPost, "/api/portfolios/p1/transactions", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, env.Error.Message, "trade_date")

	w, env = do(t, router, http.MethodGet, "/api/portfolios/p1/transactions", "")
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &listed))
	assert.Zero(t, listed.Count)
}

func TestAppendTransactions_UnknownKind(t *testing.T) {
	router, _ := setupRouter(t)
	do(t, router, http.MethodPost, "/api/portfolios", `{"id":"p1","name":"Main","base_currency":"USD"}`)

	body := `{"transactions":[{"instrument_id":"ACME","kind":"SHORT","trade_date":"2024-01-02T00:00:00Z","quantity":"1","price_per_unit":"1","fees":"0","currency":"USD"}]}`
	w, _ := do(t, router, http.MethodPost, "/api/portfolios/p1/transactions", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
