// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"time"
)

// DateLayout is the canonical date format used across storage and APIs.
const DateLayout = "2006-01-02"

// Statement identifies one of the three financial statement tables.
type Statement string

const (
	StatementIncome   Statement = "income_statement"
	StatementBalance  Statement = "balance_sheet"
	StatementCashFlow Statement = "cash_flow"
)

// TransactionKind is the side of a ledger transaction.
type TransactionKind string

const (
	TransactionBuy  TransactionKind = "BUY"
	TransactionSell TransactionKind = "SELL"
)

// BasisMethod selects how a sell is matched against open lots.
type BasisMethod string

const (
	BasisFIFO     BasisMethod = "fifo"
	BasisLIFO     BasisMethod = "lifo"
	BasisSpecific BasisMethod = "specific"
	BasisAverage  BasisMethod = "average"
)

// PriceBar is a single daily OHLCV observation as returned by a provider.
type PriceBar struct {
	Symbol   string  `json:"symbol"`
	Date     string  `json:"date"` // YYYY-MM-DD
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	AdjClose float64 `json:"adj_close"`
	Volume   int64   `json:"volume"`
}

// CompanyProfile is provider metadata about a listed company.
type CompanyProfile struct {
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	Sector      string `json:"sector"`
	Industry    string `json:"industry"`
	Description string `json:"description"`
}

// StatementRow is one metric observation in long form, ready for storage.
type StatementRow struct {
	Statement Statement `json:"statement"`
	Symbol    string    `json:"symbol"`
	Period    string    `json:"period"` // YYYY or YYYY-MM-DD, provider-dependent
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Currency  string    `json:"currency"`
}

// FundamentalsBundle is everything a fundamentals download yields for a symbol.
type FundamentalsBundle struct {
	Symbol     string          `json:"symbol"`
	Profile    *CompanyProfile `json:"profile,omitempty"`
	Statements []StatementRow  `json:"statements"`
}

// ParseDate parses a YYYY-MM-DD date string in UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// ValidDate reports whether s is a well-formed YYYY-MM-DD date.
func ValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Today returns the current UTC date as YYYY-MM-DD.
func Today() string {
	return time.Now().UTC().Format(DateLayout)
}

// DaysBetween returns the whole days from a to b (negative when b precedes a).
func DaysBetween(a, b string) (int, error) {
	ta, err := ParseDate(a)
	if err != nil {
		return 0, err
	}
	tb, err := ParseDate(b)
	if err != nil {
		return 0, err
	}
	return int(tb.Sub(ta).Hours() / 24), nil
}

// NextDay returns the date one calendar day after s.
func NextDay(s string) (string, error) {
	t, err := ParseDate(s)
	if err != nil {
		return "", err
	}
	return FormatDate(t.AddDate(0, 0, 1)), nil
}
