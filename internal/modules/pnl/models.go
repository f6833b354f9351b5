// Package pnl derives daily per-position valuations from the lot ledger
// and the stored price history, and persists them idempotently keyed by
// (owner, symbol, valuation date).
package pnl

import (
	"github.com/shopspring/decimal"
)

// Price source selectors and missing-price strategies. Values match the
// PRICE_SOURCE and MISSING_PRICE_STRATEGY environment settings.
const (
	PriceSourceClose    = "close"
	PriceSourceAdjClose = "adj_close"

	StrategyBackfill = "backfill"
	StrategyStrict   = "strict"
)

// DailyPnL is one valuation row of the daily_pnl table.
type DailyPnL struct {
	ID               int64           `json:"id"`
	OwnerID          string          `json:"owner_id"`
	Symbol           string          `json:"symbol"`
	ValuationDate    string          `json:"valuation_date"`
	Quantity         decimal.Decimal `json:"quantity"`
	WeightedAvgCost  decimal.Decimal `json:"weighted_avg_cost"`
	TotalCost        decimal.Decimal `json:"total_cost"`
	MarketPrice      decimal.Decimal `json:"market_price"`
	MarketValue      decimal.Decimal `json:"market_value"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPnLPct decimal.Decimal `json:"unrealized_pnl_pct"`
	RealizedPnLDay   decimal.Decimal `json:"realized_pnl_day"`
	PriceDate        string          `json:"price_date"`
	IsStalePrice     bool            `json:"is_stale_price"`
	PriceSource      string          `json:"price_source"`
	CreatedAt        string          `json:"created_at,omitempty"`
	UpdatedAt        string          `json:"updated_at,omitempty"`
}

// DailyTotal aggregates every symbol's valuation on one date.
type DailyTotal struct {
	Date          string          `json:"date"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	Symbols       int             `json:"symbols"`
}

// SymbolResult is the per-symbol outcome of a multi-symbol computation.
type SymbolResult struct {
	Symbol string    `json:"symbol"`
	Row    *DailyPnL `json:"row,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// Failure is one failed (date, symbol) pair of a batch run.
type Failure struct {
	Date   string `json:"date"`
	Symbol string `json:"symbol"`
	Error  string `json:"error"`
}

// BatchSummary reports a date-range computation.
type BatchSummary struct {
	Start         string    `json:"start"`
	End           string    `json:"end"`
	DaysProcessed int       `json:"days_processed"`
	RowsWritten   int       `json:"rows_written"`
	Failures      []Failure `json:"failures,omitempty"`
}

// Partial reports whether some rows were written and some failed.
func (s BatchSummary) Partial() bool {
	return s.RowsWritten > 0 && len(s.Failures) > 0
}
