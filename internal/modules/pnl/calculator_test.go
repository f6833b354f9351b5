package pnl

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/aristath/purser/internal/database"
	"github.com/aristath/purser/internal/domain"
	"github.com/aristath/purser/internal/modules/ledger"
	"github.com/aristath/purser/internal/modules/marketdata"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db     *database.DB
	ledger *ledger.Service
	repo   *Repository
	prices *marketdata.PriceRepository
	stocks *marketdata.StockRepository

	lots         *ledger.LotRepository
	allocations  *ledger.AllocationRepository
	transactions *ledger.TransactionRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "test.db"),
		Profile: database.ProfileLedger,
		Name:    "test",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	log := zerolog.Nop()
	f := &fixture{
		db:           db,
		repo:         NewRepository(db.Conn(), log),
		prices:       marketdata.NewPriceRepository(db.Conn(), log),
		stocks:       marketdata.NewStockRepository(db.Conn(), log),
		lots:         ledger.NewLotRepository(db.Conn(), log),
		allocations:  ledger.NewAllocationRepository(db.Conn(), log),
		transactions: ledger.NewTransactionRepository(db.Conn(), log),
	}
	f.ledger = ledger.NewService(db.Conn(), f.transactions, f.lots, f.allocations, log)
	return f
}

func (f *fixture) calculator(t *testing.T, cfg Config) *Calculator {
	t.Helper()
	return NewCalculator(f.repo, f.prices, f.lots, f.allocations, f.transactions, cfg, zerolog.Nop())
}

func (f *fixture) seedPrice(t *testing.T, symbol, date string, close float64) {
	t.Helper()
	require.NoError(t, f.stocks.EnsureStock(symbol))
	_, err := f.prices.UpsertPrices(symbol, []domain.PriceBar{{
		Symbol: symbol, Date: date,
		Open: close, High: close, Low: close, Close: close, AdjClose: close,
		Volume: 1000,
	}})
	require.NoError(t, err)
}

func (f *fixture) buy(t *testing.T, symbol, date, quantity, price string) {
	t.Helper()
	_, _, err := f.ledger.RecordBuy(context.Background(), ledger.BuyRequest{
		OwnerID: "u1", Symbol: symbol,
		Quantity: mustDec(quantity), Price: mustDec(price), Date: date,
	})
	require.NoError(t, err)
}

func (f *fixture) sell(t *testing.T, symbol, date, quantity, price string) {
	t.Helper()
	_, _, err := f.ledger.RecordSell(context.Background(), ledger.SellRequest{
		OwnerID: "u1", Symbol: symbol,
		Quantity: mustDec(quantity), Price: mustDec(price), Date: date,
		Basis: domain.BasisFIFO,
	})
	require.NoError(t, err)
}

// seedPosition records the canonical position: two buys and a FIFO sell of
// 120 @ 170 on 2024-03-01, leaving 30 shares at cost basis 160.
func (f *fixture) seedPosition(t *testing.T) {
	t.Helper()
	f.buy(t, "AAPL", "2024-01-15", "100", "150")
	f.buy(t, "AAPL", "2024-02-01", "50", "160")
	f.sell(t, "AAPL", "2024-03-01", "120", "170")
}

func mustDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestComputeDaily_ValuesRemainingPosition(t *testing.T) {
	f := newFixture(t)
	f.seedPosition(t)
	f.seedPrice(t, "AAPL", "2024-03-15", 175)

	calc := f.calculator(t, Config{PriceSource: PriceSourceClose})
	row, err := calc.ComputeDaily(context.Background(), "u1", "AAPL", "2024-03-15")
	require.NoError(t, err)

	assert.True(t, row.Quantity.Equal(mustDec("30")), "got %s", row.Quantity)
	assert.True(t, row.WeightedAvgCost.Equal(mustDec("160")), "got %s", row.WeightedAvgCost)
	assert.True(t, row.TotalCost.Equal(mustDec("4800")), "got %s", row.TotalCost)
	assert.True(t, row.MarketValue.Equal(mustDec("5250")), "got %s", row.MarketValue)
	assert.True(t, row.UnrealizedPnL.Equal(mustDec("450")), "got %s", row.UnrealizedPnL)
	assert.True(t, row.RealizedPnLDay.IsZero(), "got %s", row.RealizedPnLDay)
	assert.False(t, row.IsStalePrice)
	assert.Equal(t, "2024-03-15", row.PriceDate)
	assert.Equal(t, PriceSourceClose, row.PriceSource)
}

func TestComputeDaily_RealizedOnSellDate(t *testing.T) {
	f := newFixture(t)
	f.seedPosition(t)
	f.seedPrice(t, "AAPL", "2024-03-01", 170)

	calc := f.calculator(t, Config{PriceSource: PriceSourceClose})
	row, err := calc.ComputeDaily(context.Background(), "u1", "AAPL", "2024-03-01")
	require.NoError(t, err)

	// (170-150)x100 + (170-160)x20 from the FIFO sell
	assert.True(t, row.RealizedPnLDay.Equal(mustDec("2200")), "got %s", row.RealizedPnLDay)
	assert.True(t, row.Quantity.Equal(mustDec("30")))
}

func TestComputeDaily_ReplaysHistoricalPosition(t *testing.T) {
	f := newFixture(t)
	f.seedPosition(t)
	f.seedPrice(t, "AAPL", "2024-02-15", 165)

	// Before the sell: both lots fully open
	calc := f.calculator(t, Config{PriceSource: PriceSourceClose})
	row, err := calc.ComputeDaily(context.Background(), "u1", "AAPL", "2024-02-15")
	require.NoError(t, err)

	assert.True(t, row.Quantity.Equal(mustDec("150")), "got %s", row.Quantity)
	assert.True(t, row.TotalCost.Equal(mustDec("23000")), "got %s", row.TotalCost)
	assert.True(t, row.UnrealizedPnL.Equal(mustDec("1750")), "got %s", row.UnrealizedPnL)
	assert.True(t, row.RealizedPnLDay.IsZero())
}

func TestComputeDaily_BackfillMarksStale(t *testing.T) {
	f := newFixture(t)
	f.seedPosition(t)
	f.seedPrice(t, "AAPL", "2024-03-15", 175)

	calc := f.calculator(t, Config{PriceSource: PriceSourceClose, MissingPriceStrategy: StrategyBackfill})
	row, err := calc.ComputeDaily(context.Background(), "u1", "AAPL", "2024-03-16")
	require.NoError(t, err)

	assert.True(t, row.IsStalePrice)
	assert.Equal(t, "2024-03-15", row.PriceDate)
	assert.Equal(t, "2024-03-16", row.ValuationDate)
	assert.True(t, row.MarketValue.Equal(mustDec("5250")))
}

func TestComputeDaily_StrictFailsOnMissingPrice(t *testing.T) {
	f := newFixture(t)
	f.seedPosition(t)
	f.seedPrice(t, "AAPL", "2024-03-15", 175)

	calc := f.calculator(t, Config{PriceSource: PriceSourceClose, MissingPriceStrategy: StrategyStrict})
	_, err := calc.ComputeDaily(context.Background(), "u1", "AAPL", "2024-03-16")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindNoPrice), "got %v", err)

	rows, listErr := f.repo.GetDailyPnL("u1", "AAPL", "", "")
	require.NoError(t, listErr)
	assert.Empty(t, rows, "strict failures must not write")
}

func TestComputeDaily_NoPriceAtAll(t *testing.T) {
	f := newFixture(t)
	f.seedPosition(t)

	calc := f.calculator(t, Config{PriceSource: PriceSourceClose})
	_, err := calc.ComputeDaily(context.Background(), "u1", "AAPL", "2024-03-15")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindNoPrice))
}

func TestComputeDaily_UpsertIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedPosition(t)
	f.seedPrice(t, "AAPL", "2024-03-15", 175)

	calc := f.calculator(t, Config{PriceSource: PriceSourceClose})
	_, err := calc.ComputeDaily(context.Background(), "u1", "AAPL", "2024-03-15")
	require.NoError(t, err)

	// Price revision, recompute replaces the row
	f.seedPrice(t, "AAPL", "2024-03-15", 180)
	_, err = calc.ComputeDaily(context.Background(), "u1", "AAPL", "2024-03-15")
	require.NoError(t, err)

	rows, err := f.repo.GetDailyPnL("u1", "AAPL", "", "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].MarketValue.Equal(mustDec("5400")), "got %s", rows[0].MarketValue)
}

func TestComputeDaily_PriceSourceSelection(t *testing.T) {
	f := newFixture(t)
	f.buy(t, "AAPL", "2024-01-15", "10", "100")
	require.NoError(t, f.stocks.EnsureStock("AAPL"))
	_, err := f.prices.UpsertPrices("AAPL", []domain.PriceBar{{
		Symbol: "AAPL", Date: "2024-03-15",
		Open: 100, High: 101, Low: 99, Close: 100, AdjClose: 50,
		Volume: 1000,
	}})
	require.NoError(t, err)

	adjusted := f.calculator(t, Config{PriceSource: PriceSourceAdjClose})
	row, err := adjusted.ComputeDaily(context.Background(), "u1", "AAPL", "2024-03-15")
	require.NoError(t, err)
	assert.True(t, row.MarketPrice.Equal(mustDec("50")), "got %s", row.MarketPrice)

	raw := f.calculator(t, Config{PriceSource: PriceSourceClose})
	row, err = raw.ComputeDaily(context.Background(), "u1", "AAPL", "2024-03-15")
	require.NoError(t, err)
	assert.True(t, row.MarketPrice.Equal(mustDec("100")), "got %s", row.MarketPrice)
}

func TestComputeDate_CoversHeldSymbolsAndReportsFailures(t *testing.T) {
	f := newFixture(t)
	f.seedPosition(t)
	f.buy(t, "MSFT", "2024-02-10", "10", "400")
	f.seedPrice(t, "AAPL", "2024-03-15", 175)
	// MSFT has no stored prices

	calc := f.calculator(t, Config{PriceSource: PriceSourceClose})
	results, err := calc.ComputeDate(context.Background(), "u1", "2024-03-15", nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "AAPL", results[0].Symbol)
	assert.Empty(t, results[0].Error)
	require.NotNil(t, results[0].Row)

	assert.Equal(t, "MSFT", results[1].Symbol)
	assert.NotEmpty(t, results[1].Error)
	assert.Nil(t, results[1].Row)
}

func TestBatch_TradingDaysOnly(t *testing.T) {
	f := newFixture(t)
	f.seedPosition(t)
	f.seedPrice(t, "AAPL", "2024-03-14", 172)
	f.seedPrice(t, "AAPL", "2024-03-15", 175)

	calc := f.calculator(t, Config{PriceSource: PriceSourceClose})
	summary, err := calc.Batch(context.Background(), "u1", "2024-03-10", "2024-03-20", true, []string{"AAPL"})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.DaysProcessed)
	assert.Equal(t, 2, summary.RowsWritten)
	assert.Empty(t, summary.Failures)
	assert.False(t, summary.Partial())

	rows, err := f.repo.GetDailyPnL("u1", "AAPL", "2024-03-10", "2024-03-20")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2024-03-14", rows[0].ValuationDate)
	assert.Equal(t, "2024-03-15", rows[1].ValuationDate)
}

func TestBatch_PartialSuccess(t *testing.T) {
	f := newFixture(t)
	f.seedPosition(t)
	f.buy(t, "MSFT", "2024-02-10", "10", "400")
	f.seedPrice(t, "AAPL", "2024-03-15", 175)

	calc := f.calculator(t, Config{PriceSource: PriceSourceClose})
	summary, err := calc.Batch(context.Background(), "u1", "2024-03-15", "2024-03-15", false, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.DaysProcessed)
	assert.Equal(t, 1, summary.RowsWritten)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "MSFT", summary.Failures[0].Symbol)
	assert.True(t, summary.Partial())
}

func TestBatch_ValidatesRange(t *testing.T) {
	f := newFixture(t)
	calc := f.calculator(t, Config{})

	_, err := calc.Batch(context.Background(), "u1", "2024-03-15", "2024-03-01", false, nil)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestRepository_LatestValuationDateAndTotals(t *testing.T) {
	f := newFixture(t)
	f.seedPosition(t)
	f.buy(t, "MSFT", "2024-02-10", "10", "400")
	f.seedPrice(t, "AAPL", "2024-03-15", 175)
	f.seedPrice(t, "MSFT", "2024-03-15", 410)

	calc := f.calculator(t, Config{PriceSource: PriceSourceClose})
	_, err := calc.ComputeDate(context.Background(), "u1", "2024-03-15", nil)
	require.NoError(t, err)

	latest, err := f.repo.LatestValuationDate("u1")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15", latest)

	totals, err := f.repo.GetDailyTotals("u1", "", "")
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, 2, totals[0].Symbols)
	// AAPL 30x160 + MSFT 10x400
	assert.True(t, totals[0].TotalCost.Equal(mustDec("8800")), "got %s", totals[0].TotalCost)
	// AAPL 30x175 + MSFT 10x410
	assert.True(t, totals[0].MarketValue.Equal(mustDec("9350")), "got %s", totals[0].MarketValue)
}
