package scheduler

import (
	"context"
	"testing"

	"github.com/aristath/purser/internal/modules/marketdata"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDownloader struct {
	symbols []string
	opts    marketdata.BatchOptions
	results []marketdata.Result
}

func (f *fakeDownloader) Batch(ctx context.Context, symbols []string, opts marketdata.BatchOptions) []marketdata.Result {
	f.symbols = symbols
	f.opts = opts
	return f.results
}

func TestRefreshJob_DownloadsWatchlist(t *testing.T) {
	fake := &fakeDownloader{results: []marketdata.Result{
		{Symbol: "AAPL", Success: true, RowsAdded: 5},
		{Symbol: "MSFT", Success: true, RowsAdded: 3},
	}}

	job := NewRefreshJob(fake, []string{"AAPL", "MSFT"}, true, zerolog.Nop())
	require.NoError(t, job.Run())

	assert.Equal(t, []string{"AAPL", "MSFT"}, fake.symbols)
	assert.True(t, fake.opts.IncludeFinancials)
}

func TestRefreshJob_ReportsPartialFailure(t *testing.T) {
	fake := &fakeDownloader{results: []marketdata.Result{
		{Symbol: "AAPL", Success: true, RowsAdded: 5},
		{Symbol: "MSFT", Success: false, ErrorMessage: "provider down"},
	}}

	job := NewRefreshJob(fake, []string{"AAPL", "MSFT"}, false, zerolog.Nop())
	err := job.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")
}

func TestRefreshJob_EmptyWatchlistIsNoop(t *testing.T) {
	fake := &fakeDownloader{}

	job := NewRefreshJob(fake, nil, false, zerolog.Nop())
	require.NoError(t, job.Run())
	assert.Nil(t, fake.symbols)
}

func TestScheduler_RegistersAndRunsJobs(t *testing.T) {
	s := New(zerolog.Nop())

	fake := &fakeDownloader{results: []marketdata.Result{{Symbol: "AAPL", Success: true}}}
	job := NewRefreshJob(fake, []string{"AAPL"}, false, zerolog.Nop())

	require.NoError(t, s.AddJob("@daily", job))
	assert.Error(t, s.AddJob("not a schedule", job))

	require.NoError(t, s.RunNow(job))
	assert.Equal(t, []string{"AAPL"}, fake.symbols)

	s.Start()
	s.Stop()
}
