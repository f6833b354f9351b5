package pnl

import (
	"context"
	"sort"
	"strings"

	"github.com/aristath/purser/internal/domain"
	"github.com/aristath/purser/internal/modules/ledger"
	"github.com/aristath/purser/internal/modules/marketdata"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Config controls price selection and the missing-price strategy.
type Config struct {
	PriceSource          string // close or adj_close
	MissingPriceStrategy string // backfill or strict
}

// Calculator derives daily valuations by replaying the lot ledger against
// the stored price history. Pure arithmetic is decimal throughout; only
// the stored OHLCV floats are converted once on the way in.
type Calculator struct {
	repo         *Repository
	prices       *marketdata.PriceRepository
	lots         *ledger.LotRepository
	allocations  *ledger.AllocationRepository
	transactions *ledger.TransactionRepository
	cfg          Config
	log          zerolog.Logger
}

// NewCalculator creates a new PnL calculator.
func NewCalculator(repo *Repository, prices *marketdata.PriceRepository, lots *ledger.LotRepository,
	allocations *ledger.AllocationRepository, transactions *ledger.TransactionRepository,
	cfg Config, log zerolog.Logger) *Calculator {
	if cfg.PriceSource == "" {
		cfg.PriceSource = PriceSourceAdjClose
	}
	if cfg.MissingPriceStrategy == "" {
		cfg.MissingPriceStrategy = StrategyBackfill
	}
	return &Calculator{
		repo:         repo,
		prices:       prices,
		lots:         lots,
		allocations:  allocations,
		transactions: transactions,
		cfg:          cfg,
		log:          log.With().Str("service", "pnl").Logger(),
	}
}

// priceLookup resolves the latest bar at or before a date. Batch swaps in
// a preloaded per-symbol series to avoid one query per (symbol, date).
type priceLookup func(symbol, date string) (*domain.PriceBar, error)

// ComputeDaily computes and upserts the valuation row for one
// (owner, symbol, date).
func (c *Calculator) ComputeDaily(ctx context.Context, ownerID, symbol, date string) (*DailyPnL, error) {
	return c.computeDaily(ctx, ownerID, symbol, date, c.prices.GetPriceAtOrBefore)
}

func (c *Calculator) computeDaily(ctx context.Context, ownerID, symbol, date string, lookup priceLookup) (*DailyPnL, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, domain.NewError(domain.KindValidation, "owner must not be empty")
	}
	if !domain.ValidDate(date) {
		return nil, domain.NewError(domain.KindValidation, "date must be YYYY-MM-DD, got %q", date)
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.WrapError(domain.KindCanceled, err, "pnl computation canceled")
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	bar, err := lookup(symbol, date)
	if err != nil {
		return nil, err
	}
	if bar == nil {
		return nil, domain.NewError(domain.KindNoPrice, "no price for %s at or before %s", symbol, date)
	}
	if bar.Date != date && c.cfg.MissingPriceStrategy == StrategyStrict {
		return nil, domain.NewError(domain.KindNoPrice, "no price for %s on %s (latest is %s)", symbol, date, bar.Date)
	}

	price := selectPrice(bar, c.cfg.PriceSource)

	quantity, totalCost, unrealized, err := c.replayLots(ownerID, symbol, date, price)
	if err != nil {
		return nil, err
	}

	realizedDay, err := c.allocations.RealizedOnDate(ownerID, symbol, date)
	if err != nil {
		return nil, err
	}

	row := &DailyPnL{
		OwnerID:        ownerID,
		Symbol:         symbol,
		ValuationDate:  date,
		Quantity:       quantity,
		TotalCost:      totalCost,
		MarketPrice:    price,
		MarketValue:    price.Mul(quantity),
		UnrealizedPnL:  unrealized,
		RealizedPnLDay: realizedDay,
		PriceDate:      bar.Date,
		IsStalePrice:   bar.Date != date,
		PriceSource:    c.cfg.PriceSource,
	}
	if quantity.IsPositive() {
		row.WeightedAvgCost = totalCost.Div(quantity)
	}
	if totalCost.IsPositive() {
		row.UnrealizedPnLPct = unrealized.Div(totalCost).Mul(decimal.NewFromInt(100))
	}

	if err := c.repo.UpsertDailyPnL(row); err != nil {
		return nil, err
	}

	c.log.Debug().
		Str("owner", ownerID).
		Str("symbol", symbol).
		Str("date", date).
		Str("quantity", quantity.String()).
		Str("market_value", row.MarketValue.String()).
		Bool("stale", row.IsStalePrice).
		Msg("Daily PnL computed")

	return row, nil
}

// replayLots derives the effective open position at end of date: lots
// purchased on or before date, minus every allocation sold against them
// through date.
func (c *Calculator) replayLots(ownerID, symbol, date string, price decimal.Decimal) (quantity, totalCost, unrealized decimal.Decimal, err error) {
	lots, err := c.lots.List(ownerID, symbol)
	if err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, err
	}

	for _, lot := range lots {
		if lot.PurchaseDate > date {
			continue
		}

		sold, err := c.allocations.SoldFromLotThrough(lot.ID, date)
		if err != nil {
			return decimal.Zero, decimal.Zero, decimal.Zero, err
		}

		effective := lot.OriginalQuantity.Sub(sold)
		if !effective.IsPositive() {
			continue
		}

		quantity = quantity.Add(effective)
		totalCost = totalCost.Add(lot.CostBasisPerShare.Mul(effective))
		unrealized = unrealized.Add(price.Sub(lot.CostBasisPerShare).Mul(effective))
	}

	return quantity, totalCost, unrealized, nil
}

// ComputeDate computes the valuation for every symbol the owner has ever
// held (or the given subset) on one date. Per-symbol failures do not stop
// the rest; they are reported in the result list.
func (c *Calculator) ComputeDate(ctx context.Context, ownerID, date string, symbols []string) ([]SymbolResult, error) {
	return c.computeDate(ctx, ownerID, date, symbols, c.prices.GetPriceAtOrBefore)
}

func (c *Calculator) computeDate(ctx context.Context, ownerID, date string, symbols []string, lookup priceLookup) ([]SymbolResult, error) {
	if len(symbols) == 0 {
		held, err := c.transactions.SymbolsHeld(ownerID)
		if err != nil {
			return nil, err
		}
		symbols = held
	}

	normalized := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			normalized = append(normalized, s)
		}
	}
	sort.Strings(normalized)

	results := make([]SymbolResult, 0, len(normalized))
	for _, symbol := range normalized {
		if err := ctx.Err(); err != nil {
			results = append(results, SymbolResult{Symbol: symbol, Error: "canceled"})
			continue
		}

		row, err := c.computeDaily(ctx, ownerID, symbol, date, lookup)
		if err != nil {
			results = append(results, SymbolResult{Symbol: symbol, Error: err.Error()})
			continue
		}
		results = append(results, SymbolResult{Symbol: symbol, Row: row})
	}

	return results, nil
}

// Batch computes valuations over [start, end]. With onlyTradingDays the
// dates are the distinct dates of the stored price series; otherwise every
// calendar day is attempted. The price series is loaded once per symbol
// for the whole window.
func (c *Calculator) Batch(ctx context.Context, ownerID, start, end string, onlyTradingDays bool, symbols []string) (*BatchSummary, error) {
	if !domain.ValidDate(start) || !domain.ValidDate(end) {
		return nil, domain.NewError(domain.KindValidation, "start and end must be YYYY-MM-DD")
	}
	if start > end {
		return nil, domain.NewError(domain.KindValidation, "start %s is after end %s", start, end)
	}

	dates, err := c.batchDates(start, end, onlyTradingDays)
	if err != nil {
		return nil, err
	}

	series := newSeriesCache(c.prices, end)
	summary := &BatchSummary{Start: start, End: end}

	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return summary, domain.WrapError(domain.KindCanceled, err, "batch canceled after %d days", summary.DaysProcessed)
		}

		results, err := c.computeDate(ctx, ownerID, date, symbols, series.atOrBefore)
		if err != nil {
			return summary, err
		}

		summary.DaysProcessed++
		for _, res := range results {
			if res.Error != "" {
				summary.Failures = append(summary.Failures, Failure{Date: date, Symbol: res.Symbol, Error: res.Error})
				continue
			}
			summary.RowsWritten++
		}
	}

	c.log.Info().
		Str("owner", ownerID).
		Str("start", start).
		Str("end", end).
		Int("days", summary.DaysProcessed).
		Int("rows", summary.RowsWritten).
		Int("failures", len(summary.Failures)).
		Msg("Batch PnL computation finished")

	return summary, nil
}

func (c *Calculator) batchDates(start, end string, onlyTradingDays bool) ([]string, error) {
	if onlyTradingDays {
		return c.prices.GetTradingDays(start, end)
	}

	var dates []string
	for d := start; d <= end; {
		dates = append(dates, d)
		next, err := domain.NextDay(d)
		if err != nil {
			return nil, err
		}
		d = next
	}
	return dates, nil
}

// seriesCache loads each symbol's full price history through end once and
// answers at-or-before lookups with a binary search.
type seriesCache struct {
	prices *marketdata.PriceRepository
	end    string
	bySym  map[string][]domain.PriceBar
}

func newSeriesCache(prices *marketdata.PriceRepository, end string) *seriesCache {
	return &seriesCache{
		prices: prices,
		end:    end,
		bySym:  make(map[string][]domain.PriceBar),
	}
}

func (s *seriesCache) atOrBefore(symbol, date string) (*domain.PriceBar, error) {
	bars, ok := s.bySym[symbol]
	if !ok {
		loaded, err := s.prices.GetPrices(symbol, "", s.end, 0)
		if err != nil {
			return nil, err
		}
		s.bySym[symbol] = loaded
		bars = loaded
	}

	// First index whose date is after the target; the bar before it is the
	// latest at-or-before match.
	idx := sort.Search(len(bars), func(i int) bool { return bars[i].Date > date })
	if idx == 0 {
		return nil, nil
	}

	bar := bars[idx-1]
	return &bar, nil
}

func selectPrice(bar *domain.PriceBar, source string) decimal.Decimal {
	if source == PriceSourceAdjClose && bar.AdjClose > 0 {
		return decimal.NewFromFloat(bar.AdjClose)
	}
	return decimal.NewFromFloat(bar.Close)
}
