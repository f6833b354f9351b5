// Package portfolio builds owner-level reports on top of the lot ledger,
// the price history, and the stored daily valuations: position summaries,
// performance series, realized-gain tax detail, sell simulations, and a
// ledger consistency checker.
package portfolio

import (
	"github.com/aristath/purser/internal/modules/ledger"
	"github.com/aristath/purser/internal/modules/pnl"
	"github.com/shopspring/decimal"
)

// Position is one symbol's line of the portfolio summary.
type Position struct {
	Symbol           string          `json:"symbol"`
	Quantity         decimal.Decimal `json:"quantity"`
	WeightedAvgCost  decimal.Decimal `json:"weighted_avg_cost"`
	TotalCost        decimal.Decimal `json:"total_cost"`
	MarketPrice      decimal.Decimal `json:"market_price"`
	MarketValue      decimal.Decimal `json:"market_value"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPnLPct decimal.Decimal `json:"unrealized_pnl_pct"`
	PriceDate        string          `json:"price_date,omitempty"`
	StalePrice       bool            `json:"stale_price,omitempty"`
	LotCount         int             `json:"lot_count"`
	FirstBuyDate     string          `json:"first_buy_date"`
	Note             string          `json:"note,omitempty"`
}

// Summary is the whole portfolio valued as of one date. Symbols without a
// usable price appear in Positions with a note and in MissingPrices; they
// are excluded from the totals.
type Summary struct {
	OwnerID          string          `json:"owner_id"`
	AsOf             string          `json:"as_of"`
	Positions        []Position      `json:"positions"`
	TotalCost        decimal.Decimal `json:"total_cost"`
	MarketValue      decimal.Decimal `json:"market_value"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPnLPct decimal.Decimal `json:"unrealized_pnl_pct"`
	MissingPrices    []string        `json:"missing_prices,omitempty"`
}

// Performance aggregates the stored daily valuations over a date range.
type Performance struct {
	OwnerID        string           `json:"owner_id"`
	Start          string           `json:"start"`
	End            string           `json:"end"`
	Days           int              `json:"days"`
	StartValue     decimal.Decimal  `json:"start_value"`
	EndValue       decimal.Decimal  `json:"end_value"`
	ReturnPct      decimal.Decimal  `json:"return_pct"`
	RealizedPnL    decimal.Decimal  `json:"realized_pnl"`
	UnrealizedPnL  decimal.Decimal  `json:"unrealized_pnl"`
	PnLVsCostPct   decimal.Decimal  `json:"pnl_vs_cost_pct"`
	MaxDrawdownPct decimal.Decimal  `json:"max_drawdown_pct"`
	Series         []pnl.DailyTotal `json:"series"`
}

// TaxEntry is one realized-gain line with its holding-period bucket.
// LongTerm means the shares were held for more than 365 days.
type TaxEntry struct {
	ledger.TaxReportRow
	HoldingDays int  `json:"holding_days"`
	LongTerm    bool `json:"long_term"`
}

// TaxReport is the realized-gains detail over a date range.
type TaxReport struct {
	OwnerID      string          `json:"owner_id"`
	Start        string          `json:"start"`
	End          string          `json:"end"`
	Entries      []TaxEntry      `json:"entries"`
	ShortTermPnL decimal.Decimal `json:"short_term_pnl"`
	LongTermPnL  decimal.Decimal `json:"long_term_pnl"`
	TotalPnL     decimal.Decimal `json:"total_pnl"`
	ShortCount   int             `json:"short_count"`
	LongCount    int             `json:"long_count"`
}

// MethodOutcome is one cost-basis method's hypothetical result.
type MethodOutcome struct {
	Method      string          `json:"method"`
	Plan        string          `json:"plan,omitempty"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	LotsTouched int             `json:"lots_touched"`
	Error       string          `json:"error,omitempty"`
}

// Simulation compares the cost-basis methods for a hypothetical sell.
// Read-only; nothing is written.
type Simulation struct {
	OwnerID  string          `json:"owner_id"`
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Outcomes []MethodOutcome `json:"outcomes"`
}

// Violation is one failed consistency check.
type Violation struct {
	Check  string `json:"check"`
	Detail string `json:"detail"`
}

// VerifyReport is the result of re-deriving the ledger invariants.
type VerifyReport struct {
	OwnerID      string      `json:"owner_id"`
	LotsChecked  int         `json:"lots_checked"`
	SellsChecked int         `json:"sells_checked"`
	Violations   []Violation `json:"violations,omitempty"`
}

// OK reports whether every invariant held.
func (r VerifyReport) OK() bool {
	return len(r.Violations) == 0
}
