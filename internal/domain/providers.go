package domain

import "context"

// PriceProvider downloads daily OHLCV history for one symbol.
// Implementations retry transient failures internally and classify
// terminal outcomes via domain error kinds.
type PriceProvider interface {
	// Name identifies the provider in logs and download records.
	Name() string

	// DownloadPrices returns bars for [from, to] inclusive, oldest first.
	// An empty upstream response yields a KindNoData error.
	DownloadPrices(ctx context.Context, symbol, from, to string) ([]PriceBar, error)
}

// FundamentalsProvider downloads company metadata and financial statements.
type FundamentalsProvider interface {
	Name() string
	DownloadFundamentals(ctx context.Context, symbol string) (*FundamentalsBundle, error)
}
