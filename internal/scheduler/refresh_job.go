package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/purser/internal/modules/marketdata"
	"github.com/rs/zerolog"
)

// downloader is the slice of the market data service the refresh job needs.
type downloader interface {
	Batch(ctx context.Context, symbols []string, opts marketdata.BatchOptions) []marketdata.Result
}

// RefreshJob downloads fresh prices for the watchlist. Scheduled after
// market close it keeps the price store current without manual runs.
type RefreshJob struct {
	service           downloader
	watchlist         []string
	includeFinancials bool
	timeout           time.Duration
	log               zerolog.Logger
}

// NewRefreshJob creates a refresh job over the given watchlist.
func NewRefreshJob(service downloader, watchlist []string, includeFinancials bool, log zerolog.Logger) *RefreshJob {
	return &RefreshJob{
		service:           service,
		watchlist:         watchlist,
		includeFinancials: includeFinancials,
		timeout:           30 * time.Minute,
		log:               log.With().Str("job", "refresh").Logger(),
	}
}

// Name implements Job.
func (j *RefreshJob) Name() string {
	return "market-data-refresh"
}

// Run downloads the whole watchlist. Per-symbol failures are reported in
// the returned error but never stop the remaining symbols.
func (j *RefreshJob) Run() error {
	if len(j.watchlist) == 0 {
		j.log.Warn().Msg("Refresh skipped, watchlist is empty")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	results := j.service.Batch(ctx, j.watchlist, marketdata.BatchOptions{
		IncludeFinancials: j.includeFinancials,
	})

	failed := 0
	rows := 0
	for _, result := range results {
		if result.Success {
			rows += result.RowsAdded
		} else {
			failed++
		}
	}

	j.log.Info().
		Int("symbols", len(results)).
		Int("failed", failed).
		Int("rows_added", rows).
		Msg("Refresh finished")

	if failed > 0 {
		return fmt.Errorf("refresh failed for %d of %d symbols", failed, len(results))
	}

	return nil
}
