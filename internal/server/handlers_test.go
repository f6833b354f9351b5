package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/purser/internal/database"
	"github.com/aristath/purser/internal/domain"
	"github.com/aristath/purser/internal/modules/ledger"
	"github.com/aristath/purser/internal/modules/marketdata"
	"github.com/aristath/purser/internal/modules/pnl"
	"github.com/aristath/purser/internal/modules/portfolio"
)

type fixture struct {
	srv    *Server
	stocks *marketdata.StockRepository
	prices *marketdata.PriceRepository
	logs   *marketdata.DownloadLogRepository
	ledger *ledger.Service
	pnl    *pnl.Calculator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "purser.db"),
		Profile: database.ProfileStandard,
		Name:    "test",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	log := zerolog.Nop()
	conn := db.Conn()

	stocks := marketdata.NewStockRepository(conn, log)
	prices := marketdata.NewPriceRepository(conn, log)
	logs := marketdata.NewDownloadLogRepository(conn, log)

	transactions := ledger.NewTransactionRepository(conn, log)
	lots := ledger.NewLotRepository(conn, log)
	allocations := ledger.NewAllocationRepository(conn, log)
	ledgerSvc := ledger.NewService(conn, transactions, lots, allocations, log)

	pnlRepo := pnl.NewRepository(conn, log)
	calc := pnl.NewCalculator(pnlRepo, prices, lots, allocations, transactions, pnl.Config{}, log)

	portfolioSvc := portfolio.NewService(conn, ledgerSvc, lots, allocations, transactions,
		prices, pnlRepo, portfolio.Config{}, log)

	srv := New(Config{Port: 0}, Deps{
		Prices:    prices,
		Ledger:    ledgerSvc,
		Portfolio: portfolioSvc,
		PnL:       pnlRepo,
		Logs:      logs,
	}, log)

	return &fixture{
		srv:    srv,
		stocks: stocks,
		prices: prices,
		logs:   logs,
		ledger: ledgerSvc,
		pnl:    calc,
	}
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) seedPrice(t *testing.T, symbol, date string, closePrice float64) {
	t.Helper()

	require.NoError(t, f.stocks.EnsureStock(symbol))
	_, err := f.prices.UpsertPrices(symbol, []domain.PriceBar{{
		Symbol:   symbol,
		Date:     date,
		Open:     closePrice,
		High:     closePrice,
		Low:      closePrice,
		Close:    closePrice,
		AdjClose: closePrice,
		Volume:   1000,
	}})
	require.NoError(t, err)
}

func (f *fixture) buy(t *testing.T, symbol, date, quantity, price string) {
	t.Helper()

	_, _, err := f.ledger.RecordBuy(context.Background(), ledger.BuyRequest{
		OwnerID:  "alice",
		Symbol:   symbol,
		Quantity: decimal.RequireFromString(quantity),
		Price:    decimal.RequireFromString(price),
		Date:     date,
	})
	require.NoError(t, err)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "purser", body["service"])
}

func TestPricesEndpoint(t *testing.T) {
	f := newFixture(t)
	f.seedPrice(t, "AAPL", "2024-03-14", 172)
	f.seedPrice(t, "AAPL", "2024-03-15", 175)

	rec := f.get(t, "/api/prices/aapl")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "AAPL", body["symbol"])
	assert.Equal(t, float64(2), body["count"])

	rec = f.get(t, "/api/prices/AAPL?from=2024-03-15")
	body = decodeBody(t, rec)
	assert.Equal(t, float64(1), body["count"])
}

func TestPricesEndpoint_UnknownSymbol(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/api/prices/NOPE")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "NOPE")
}

func TestPricesEndpoint_RejectsBadInput(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/api/prices/AAPL?from=14-03-2024")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.get(t, "/api/prices/AAPL?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPositionsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.seedPrice(t, "AAPL", "2024-03-15", 175)
	f.buy(t, "AAPL", "2024-01-15", "100", "150")

	rec := f.get(t, "/api/positions/alice?as_of=2024-03-15")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	positions, ok := body["positions"].([]interface{})
	require.True(t, ok)
	require.Len(t, positions, 1)

	position := positions[0].(map[string]interface{})
	assert.Equal(t, "AAPL", position["symbol"])
	assert.Equal(t, "100", position["quantity"])
	assert.Equal(t, "175", position["market_price"])
}

func TestPositionsEndpoint_RequiresValidDate(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/api/positions/alice?as_of=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLotsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.buy(t, "AAPL", "2024-01-15", "100", "150")
	f.buy(t, "MSFT", "2024-02-01", "10", "400")

	rec := f.get(t, "/api/lots/alice")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "alice", body["owner_id"])
	lots, ok := body["lots"].([]interface{})
	require.True(t, ok)
	assert.Len(t, lots, 2)

	rec = f.get(t, "/api/lots/alice?open=true&symbol=AAPL")
	body = decodeBody(t, rec)
	lots = body["lots"].([]interface{})
	assert.Len(t, lots, 1)

	rec = f.get(t, "/api/lots/alice?open=true")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPnLEndpoint(t *testing.T) {
	f := newFixture(t)
	f.seedPrice(t, "AAPL", "2024-03-15", 175)
	f.buy(t, "AAPL", "2024-01-15", "100", "150")

	_, err := f.pnl.ComputeDaily(context.Background(), "alice", "AAPL", "2024-03-15")
	require.NoError(t, err)

	rec := f.get(t, "/api/pnl/alice")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["count"])
	rows := body["rows"].([]interface{})
	row := rows[0].(map[string]interface{})
	assert.Equal(t, "AAPL", row["symbol"])
	assert.Equal(t, "2024-03-15", row["valuation_date"])
}

func TestPerformanceEndpoint_NoDataIs404(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/api/performance/alice")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecentDownloadsEndpoint(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.logs.Insert(marketdata.DownloadLog{
		RunID:        "run-1",
		Symbol:       "AAPL",
		DownloadType: "prices",
		Status:       "success",
		RowsAdded:    10,
	}))

	rec := f.get(t, "/api/downloads/recent")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["count"])

	rec = f.get(t, "/api/downloads/recent?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusEndpoint_NotWired(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/api/status")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
