package marketdata

import (
	"path/filepath"
	"testing"

	"github.com/aristath/purser/internal/database"
	"github.com/aristath/purser/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "test.db"),
		Profile: database.ProfileStandard,
		Name:    "test",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func sampleBars(symbol string, dates ...string) []domain.PriceBar {
	bars := make([]domain.PriceBar, 0, len(dates))
	for i, d := range dates {
		px := 100.0 + float64(i)
		bars = append(bars, domain.PriceBar{
			Symbol: symbol, Date: d,
			Open: px, High: px + 1, Low: px - 1, Close: px + 0.5, AdjClose: px + 0.5,
			Volume: 1000,
		})
	}
	return bars
}

func TestStockRepository_EnsureStockIdempotent(t *testing.T) {
	db := newTestDB(t)
	repo := NewStockRepository(db.Conn(), zerolog.Nop())

	require.NoError(t, repo.EnsureStock("aapl"))
	require.NoError(t, repo.EnsureStock("AAPL"))

	stock, err := repo.GetStock("AAPL")
	require.NoError(t, err)
	require.NotNil(t, stock)
	assert.Equal(t, "AAPL", stock.Symbol)

	symbols, err := repo.ListSymbols()
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, symbols)
}

func TestStockRepository_UpdateMetadataKeepsExistingOnEmpty(t *testing.T) {
	db := newTestDB(t)
	repo := NewStockRepository(db.Conn(), zerolog.Nop())
	require.NoError(t, repo.EnsureStock("AAPL"))

	require.NoError(t, repo.UpdateMetadata(domain.CompanyProfile{
		Symbol: "AAPL", Name: "Apple Inc", Sector: "Technology",
	}))
	require.NoError(t, repo.UpdateMetadata(domain.CompanyProfile{
		Symbol: "AAPL", Industry: "Consumer Electronics",
	}))

	stock, err := repo.GetStock("AAPL")
	require.NoError(t, err)
	assert.Equal(t, "Apple Inc", stock.CompanyName)
	assert.Equal(t, "Technology", stock.Sector)
	assert.Equal(t, "Consumer Electronics", stock.Industry)
}

func TestPriceRepository_UpsertIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	stocks := NewStockRepository(db.Conn(), zerolog.Nop())
	prices := NewPriceRepository(db.Conn(), zerolog.Nop())
	require.NoError(t, stocks.EnsureStock("AAPL"))

	bars := sampleBars("AAPL", "2024-01-02", "2024-01-03", "2024-01-04")

	n, err := prices.UpsertPrices("AAPL", bars)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Upsert(upsert(x)) == upsert(x)
	_, err = prices.UpsertPrices("AAPL", bars)
	require.NoError(t, err)

	count, err := prices.CountPrices("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestPriceRepository_GetPricesRangeAndLimit(t *testing.T) {
	db := newTestDB(t)
	stocks := NewStockRepository(db.Conn(), zerolog.Nop())
	prices := NewPriceRepository(db.Conn(), zerolog.Nop())
	require.NoError(t, stocks.EnsureStock("AAPL"))

	_, err := prices.UpsertPrices("AAPL", sampleBars("AAPL",
		"2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05"))
	require.NoError(t, err)

	ranged, err := prices.GetPrices("AAPL", "2024-01-03", "2024-01-04", 0)
	require.NoError(t, err)
	require.Len(t, ranged, 2)
	assert.Equal(t, "2024-01-03", ranged[0].Date)
	assert.Equal(t, "2024-01-04", ranged[1].Date)

	// Limit keeps the most recent rows but returns them ascending
	limited, err := prices.GetPrices("AAPL", "", "", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "2024-01-04", limited[0].Date)
	assert.Equal(t, "2024-01-05", limited[1].Date)
}

func TestPriceRepository_LastDateAndAtOrBefore(t *testing.T) {
	db := newTestDB(t)
	stocks := NewStockRepository(db.Conn(), zerolog.Nop())
	prices := NewPriceRepository(db.Conn(), zerolog.Nop())
	require.NoError(t, stocks.EnsureStock("AAPL"))

	last, err := prices.GetLastPriceDate("AAPL")
	require.NoError(t, err)
	assert.Empty(t, last, "no prices stored yet")

	_, err = prices.UpsertPrices("AAPL", sampleBars("AAPL", "2024-01-02", "2024-01-05"))
	require.NoError(t, err)

	last, err = prices.GetLastPriceDate("AAPL")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-05", last)

	// Exact hit
	bar, err := prices.GetPriceAtOrBefore("AAPL", "2024-01-05")
	require.NoError(t, err)
	require.NotNil(t, bar)
	assert.Equal(t, "2024-01-05", bar.Date)

	// Weekend: backfills to the previous trading day
	bar, err = prices.GetPriceAtOrBefore("AAPL", "2024-01-04")
	require.NoError(t, err)
	require.NotNil(t, bar)
	assert.Equal(t, "2024-01-02", bar.Date)

	// Before the series starts
	bar, err = prices.GetPriceAtOrBefore("AAPL", "2023-12-31")
	require.NoError(t, err)
	assert.Nil(t, bar)
}

func TestPriceRepository_GetTradingDays(t *testing.T) {
	db := newTestDB(t)
	stocks := NewStockRepository(db.Conn(), zerolog.Nop())
	prices := NewPriceRepository(db.Conn(), zerolog.Nop())
	require.NoError(t, stocks.EnsureStock("AAPL"))
	require.NoError(t, stocks.EnsureStock("MSFT"))

	_, err := prices.UpsertPrices("AAPL", sampleBars("AAPL", "2024-01-02", "2024-01-03"))
	require.NoError(t, err)
	_, err = prices.UpsertPrices("MSFT", sampleBars("MSFT", "2024-01-03", "2024-01-04"))
	require.NoError(t, err)

	days, err := prices.GetTradingDays("2024-01-01", "2024-01-31")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-02", "2024-01-03", "2024-01-04"}, days)
}

func TestFinancialRepository_UpsertAndGet(t *testing.T) {
	db := newTestDB(t)
	repo := NewFinancialRepository(db.Conn(), zerolog.Nop())

	rows := []domain.StatementRow{
		{Statement: domain.StatementIncome, Symbol: "AAPL", Period: "2023-09-30", Metric: "revenue", Value: 383_285_000_000},
		{Statement: domain.StatementIncome, Symbol: "AAPL", Period: "2023-09-30", Metric: "net_income", Value: 96_995_000_000},
		{Statement: domain.StatementBalance, Symbol: "AAPL", Period: "2023-09-30", Metric: "total_assets", Value: 352_583_000_000},
		{Statement: domain.StatementCashFlow, Symbol: "AAPL", Period: "2023-09-30", Metric: "free_cash_flow", Value: 99_584_000_000},
	}

	n, err := repo.UpsertStatements("AAPL", rows)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// Replaces on conflict instead of duplicating
	rows[0].Value = 400_000_000_000
	_, err = repo.UpsertStatements("AAPL", rows)
	require.NoError(t, err)

	income, err := repo.GetStatements("AAPL", domain.StatementIncome)
	require.NoError(t, err)
	require.Len(t, income, 2)
	assert.Equal(t, "net_income", income[0].Metric)
	assert.Equal(t, "revenue", income[1].Metric)
	assert.Equal(t, 400_000_000_000.0, income[1].Value)
	assert.Equal(t, "USD", income[1].Currency)

	refreshed, err := repo.LastRefreshed("AAPL")
	require.NoError(t, err)
	assert.False(t, refreshed.IsZero())

	missing, err := repo.LastRefreshed("ZZZZ")
	require.NoError(t, err)
	assert.True(t, missing.IsZero())
}

func TestFinancialRepository_RejectsUnknownStatement(t *testing.T) {
	db := newTestDB(t)
	repo := NewFinancialRepository(db.Conn(), zerolog.Nop())

	_, err := repo.UpsertStatements("AAPL", []domain.StatementRow{
		{Statement: "general_ledger", Symbol: "AAPL", Period: "2023", Metric: "x", Value: 1},
	})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestDownloadLogRepository_InsertAndQuery(t *testing.T) {
	db := newTestDB(t)
	repo := NewDownloadLogRepository(db.Conn(), zerolog.Nop())

	require.NoError(t, repo.Insert(DownloadLog{
		RunID: "run-1", Symbol: "AAPL", DownloadType: DownloadTypePrices,
		Strategy: StrategyBulkFull, Status: StatusSuccess,
		RowsAdded: 250, FirstDate: "2024-01-02", LastDate: "2024-12-31", DurationMS: 1200,
	}))
	require.NoError(t, repo.Insert(DownloadLog{
		RunID: "run-1", Symbol: "MSFT", DownloadType: DownloadTypePrices,
		Status: StatusFailed, ErrorCategory: "provider_unavailable", ErrorMessage: "boom",
	}))

	recent, err := repo.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "MSFT", recent[0].Symbol, "newest first")
	assert.Equal(t, "provider_unavailable", recent[0].ErrorCategory)

	forSymbol, err := repo.RecentForSymbol("AAPL", 10)
	require.NoError(t, err)
	require.Len(t, forSymbol, 1)
	assert.Equal(t, StrategyBulkFull, forSymbol[0].Strategy)
	assert.Equal(t, 250, forSymbol[0].RowsAdded)
}
