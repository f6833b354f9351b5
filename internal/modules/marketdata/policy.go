package marketdata

import (
	"time"

	"github.com/aristath/purser/internal/domain"
)

// Provider kinds a plan can select.
type ProviderKind string

const (
	ProviderBulk ProviderKind = "bulk"
	ProviderAPI  ProviderKind = "api"
)

// Strategy labels recorded on results and download logs.
const (
	StrategyAPIIncremental = "api_incremental"
	StrategyBulkFull       = "bulk_full"
)

// PolicyConfig tunes the acquisition decision.
type PolicyConfig struct {
	ThresholdDays int    // Gap above which incremental patching gives way to a full refresh
	HistoryStart  string // First date covered by bulk downloads
}

// Plan is the outcome of the acquisition decision for one symbol.
type Plan struct {
	Provider ProviderKind
	Strategy string
	From     string
	To       string
}

// PlanPriceDownload decides how to fetch prices for a symbol given the most
// recent stored date. Pure function.
//
//	no data stored        -> bulk from HistoryStart
//	gap <= ThresholdDays  -> api  for (last, today]
//	gap >  ThresholdDays  -> bulk from HistoryStart (full refresh)
func PlanPriceDownload(lastStoredDate, today string, cfg PolicyConfig) (Plan, error) {
	bulk := Plan{
		Provider: ProviderBulk,
		Strategy: StrategyBulkFull,
		From:     cfg.HistoryStart,
		To:       today,
	}

	if lastStoredDate == "" {
		return bulk, nil
	}

	gap, err := domain.DaysBetween(lastStoredDate, today)
	if err != nil {
		return Plan{}, err
	}
	if gap > cfg.ThresholdDays {
		return bulk, nil
	}

	from, err := domain.NextDay(lastStoredDate)
	if err != nil {
		return Plan{}, err
	}

	return Plan{
		Provider: ProviderAPI,
		Strategy: StrategyAPIIncremental,
		From:     from,
		To:       today,
	}, nil
}

// ShouldRefreshFundamentals reports whether stored fundamentals are stale.
// A zero lastRefreshed means no data is present and always refreshes.
func ShouldRefreshFundamentals(lastRefreshed time.Time, now time.Time, refreshDays int) bool {
	if lastRefreshed.IsZero() {
		return true
	}
	return now.Sub(lastRefreshed) > time.Duration(refreshDays)*24*time.Hour
}
