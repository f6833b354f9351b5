package marketdata

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aristath/purser/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Config tunes the data service.
type Config struct {
	ThresholdDays        int
	HistoryStart         string
	FinancialRefreshDays int
	WorkerPoolSize       int
	TotalDeadline        time.Duration // Deadline per symbol across all retries; zero disables
}

// Service orchestrates policy, providers and storage for downloads.
type Service struct {
	stocks       *StockRepository
	prices       *PriceRepository
	financials   *FinancialRepository
	logs         *DownloadLogRepository
	bulk         domain.PriceProvider
	api          domain.PriceProvider
	fundamentals domain.FundamentalsProvider
	cfg          Config
	log          zerolog.Logger

	// today is swappable in tests to freeze the clock
	today func() string
	now   func() time.Time
}

// NewService creates a new data service.
func NewService(
	stocks *StockRepository,
	prices *PriceRepository,
	financials *FinancialRepository,
	logs *DownloadLogRepository,
	bulk domain.PriceProvider,
	api domain.PriceProvider,
	fundamentals domain.FundamentalsProvider,
	cfg Config,
	log zerolog.Logger,
) *Service {
	if cfg.WorkerPoolSize < 1 {
		cfg.WorkerPoolSize = 4
	}

	return &Service{
		stocks:       stocks,
		prices:       prices,
		financials:   financials,
		logs:         logs,
		bulk:         bulk,
		api:          api,
		fundamentals: fundamentals,
		cfg:          cfg,
		log:          log.With().Str("service", "marketdata").Logger(),
		today:        domain.Today,
		now:          time.Now,
	}
}

// DownloadOptions tunes one price download.
type DownloadOptions struct {
	RunID     string // Batch run id stamped on download logs; generated when empty
	StartDate string // Overrides the policy's bulk start date
}

// DownloadPrices runs the hybrid acquisition flow for one symbol:
// ensure stock, plan, fetch (with bulk fallback), filter, upsert, log.
func (s *Service) DownloadPrices(ctx context.Context, symbol string, opts DownloadOptions) Result {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	started := s.now()

	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	result := s.downloadPrices(ctx, symbol, opts)
	result.Duration = s.now().Sub(started)

	s.recordLog(opts.RunID, DownloadTypePrices, result)

	evt := s.log.Info()
	if !result.Success {
		evt = s.log.Warn()
	}
	evt.Str("symbol", symbol).
		Str("strategy", result.StrategyUsed).
		Int("rows_added", result.RowsAdded).
		Str("error_category", result.ErrorCategory).
		Dur("duration", result.Duration).
		Msg("Price download finished")

	return result
}

func (s *Service) downloadPrices(ctx context.Context, symbol string, opts DownloadOptions) Result {
	result := Result{Symbol: symbol}

	if symbol == "" {
		return failure(result, domain.NewError(domain.KindValidation, "symbol must not be empty"))
	}
	if err := ctx.Err(); err != nil {
		return failure(result, domain.WrapError(domain.KindCanceled, err, "download canceled for %s", symbol))
	}

	if s.cfg.TotalDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TotalDeadline)
		defer cancel()
	}

	if err := s.stocks.EnsureStock(symbol); err != nil {
		return failure(result, err)
	}

	lastStored, err := s.prices.GetLastPriceDate(symbol)
	if err != nil {
		return failure(result, err)
	}

	today := s.today()
	policyCfg := PolicyConfig{ThresholdDays: s.cfg.ThresholdDays, HistoryStart: s.cfg.HistoryStart}
	if opts.StartDate != "" {
		policyCfg.HistoryStart = opts.StartDate
	}

	plan, err := PlanPriceDownload(lastStored, today, policyCfg)
	if err != nil {
		return failure(result, domain.WrapError(domain.KindValidation, err, "cannot plan download for %s", symbol))
	}

	bars, strategy, err := s.fetchWithFallback(ctx, symbol, plan)
	if err != nil {
		result.StrategyUsed = strategy
		if domain.KindOf(err) == domain.KindNoData {
			// Nothing upstream for the window; not a failure for an
			// incremental patch on a quiet market day.
			result.Success = true
			result.NoNewData = true
			return result
		}
		return failure(result, err)
	}
	result.StrategyUsed = strategy

	bars, dropped := domain.FilterValidBars(bars)
	if dropped > 0 {
		s.log.Warn().Str("symbol", symbol).Int("dropped", dropped).Msg("Dropped invalid provider rows")
	}

	// Incremental patches only add rows past the stored frontier; the bulk
	// path upserts the full overlap and relies on the unique constraint.
	if strategy == StrategyAPIIncremental && lastStored != "" {
		kept := bars[:0]
		for _, b := range bars {
			if b.Date > lastStored {
				kept = append(kept, b)
			}
		}
		bars = kept
	}

	if len(bars) == 0 {
		result.Success = true
		result.NoNewData = true
		return result
	}

	countBefore, err := s.prices.CountPrices(symbol)
	if err != nil {
		return failure(result, err)
	}
	if _, err := s.prices.UpsertPrices(symbol, bars); err != nil {
		return failure(result, err)
	}
	countAfter, err := s.prices.CountPrices(symbol)
	if err != nil {
		return failure(result, err)
	}

	result.Success = true
	result.RowsAdded = countAfter - countBefore
	result.NoNewData = result.RowsAdded == 0
	result.FirstDate = bars[0].Date
	result.LastDate = bars[len(bars)-1].Date

	return result
}

// fetchWithFallback invokes the planned provider. An API attempt that ends
// in provider_unavailable or no_data escalates to a full bulk refresh
// within the same invocation.
func (s *Service) fetchWithFallback(ctx context.Context, symbol string, plan Plan) ([]domain.PriceBar, string, error) {
	provider := s.bulk
	if plan.Provider == ProviderAPI {
		provider = s.api
	}

	bars, err := provider.DownloadPrices(ctx, symbol, plan.From, plan.To)
	if err == nil {
		return bars, plan.Strategy, nil
	}

	if plan.Provider == ProviderAPI {
		switch domain.KindOf(err) {
		case domain.KindProviderUnavailable, domain.KindNoData:
			s.log.Warn().
				Err(err).
				Str("symbol", symbol).
				Msg("Incremental download failed, falling back to bulk refresh")

			bars, bulkErr := s.bulk.DownloadPrices(ctx, symbol, s.cfg.HistoryStart, plan.To)
			if bulkErr != nil {
				return nil, StrategyBulkFull, bulkErr
			}
			return bars, StrategyBulkFull, nil
		}
	}

	return nil, plan.Strategy, err
}

// DownloadFundamentals refreshes statements and company metadata for one
// symbol, honoring the freshness policy.
func (s *Service) DownloadFundamentals(ctx context.Context, symbol, runID string) Result {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	started := s.now()

	if runID == "" {
		runID = uuid.NewString()
	}

	result := s.downloadFundamentals(ctx, symbol)
	result.Duration = s.now().Sub(started)

	s.recordLog(runID, DownloadTypeFinancials, result)

	return result
}

func (s *Service) downloadFundamentals(ctx context.Context, symbol string) Result {
	result := Result{Symbol: symbol}

	if symbol == "" {
		return failure(result, domain.NewError(domain.KindValidation, "symbol must not be empty"))
	}
	if s.fundamentals == nil {
		return failure(result, domain.NewError(domain.KindValidation, "no fundamentals provider configured"))
	}
	if err := ctx.Err(); err != nil {
		return failure(result, domain.WrapError(domain.KindCanceled, err, "download canceled for %s", symbol))
	}

	if err := s.stocks.EnsureStock(symbol); err != nil {
		return failure(result, err)
	}

	lastRefreshed, err := s.financials.LastRefreshed(symbol)
	if err != nil {
		return failure(result, err)
	}
	if !ShouldRefreshFundamentals(lastRefreshed, s.now(), s.cfg.FinancialRefreshDays) {
		s.log.Debug().Str("symbol", symbol).Time("last_refreshed", lastRefreshed).Msg("Fundamentals still fresh, skipping")
		result.Success = true
		result.NoNewData = true
		result.StrategyUsed = StatusSkipped
		return result
	}

	bundle, err := s.fundamentals.DownloadFundamentals(ctx, symbol)
	if err != nil {
		return failure(result, err)
	}

	if bundle.Profile != nil {
		if err := s.stocks.UpdateMetadata(*bundle.Profile); err != nil {
			return failure(result, err)
		}
	}

	written, err := s.financials.UpsertStatements(symbol, bundle.Statements)
	if err != nil {
		return failure(result, err)
	}

	result.Success = true
	result.RowsAdded = written
	result.NoNewData = written == 0

	return result
}

// BatchOptions tunes a batch download run.
type BatchOptions struct {
	StartDate         string
	IncludeFinancials bool
	FinancialsOnly    bool
}

// Batch downloads all symbols with a bounded worker pool. One symbol's
// failure never aborts the batch; a canceled context yields canceled
// results for the symbols not completed. Results are ordered by symbol.
func (s *Service) Batch(ctx context.Context, symbols []string, opts BatchOptions) []Result {
	runID := uuid.NewString()

	s.log.Info().
		Str("run_id", runID).
		Int("symbols", len(symbols)).
		Int("workers", s.cfg.WorkerPoolSize).
		Msg("Batch download started")

	var mu sync.Mutex
	results := make([]Result, 0, len(symbols))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.WorkerPoolSize)

	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			var result Result
			if err := ctx.Err(); err != nil {
				result = Result{
					Symbol:        strings.ToUpper(strings.TrimSpace(symbol)),
					ErrorCategory: string(domain.KindCanceled),
					ErrorMessage:  err.Error(),
				}
			} else {
				result = s.downloadOne(ctx, symbol, runID, opts)
			}

			mu.Lock()
			results = append(results, result)
			mu.Unlock()

			// Always nil: the batch must outlive individual failures.
			return nil
		})
	}

	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Symbol < results[j].Symbol })

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	s.log.Info().
		Str("run_id", runID).
		Int("succeeded", succeeded).
		Int("failed", len(results)-succeeded).
		Msg("Batch download finished")

	return results
}

// downloadOne runs the per-symbol work item: prices, fundamentals, or both.
func (s *Service) downloadOne(ctx context.Context, symbol, runID string, opts BatchOptions) Result {
	if opts.FinancialsOnly {
		return s.DownloadFundamentals(ctx, symbol, runID)
	}

	result := s.DownloadPrices(ctx, symbol, DownloadOptions{RunID: runID, StartDate: opts.StartDate})

	if opts.IncludeFinancials && result.Success {
		fin := s.DownloadFundamentals(ctx, symbol, runID)
		if !fin.Success {
			// Price data landed; report the fundamentals failure without
			// discarding the rows already added.
			result.ErrorCategory = fin.ErrorCategory
			result.ErrorMessage = fin.ErrorMessage
		}
	}

	return result
}

// RecentLogs exposes the latest download attempts for the HTTP facade and CLI.
func (s *Service) RecentLogs(limit int) ([]DownloadLog, error) {
	return s.logs.Recent(limit)
}

func (s *Service) recordLog(runID, downloadType string, result Result) {
	status := StatusSuccess
	switch {
	case !result.Success:
		status = StatusFailed
	case result.StrategyUsed == StatusSkipped:
		status = StatusSkipped
	}

	entry := DownloadLog{
		RunID:         runID,
		Symbol:        result.Symbol,
		DownloadType:  downloadType,
		Strategy:      result.StrategyUsed,
		Status:        status,
		RowsAdded:     result.RowsAdded,
		FirstDate:     result.FirstDate,
		LastDate:      result.LastDate,
		ErrorCategory: result.ErrorCategory,
		ErrorMessage:  result.ErrorMessage,
		DurationMS:    result.Duration.Milliseconds(),
	}

	if err := s.logs.Insert(entry); err != nil {
		s.log.Warn().Err(err).Str("symbol", result.Symbol).Msg("Failed to record download log")
	}
}

func failure(result Result, err error) Result {
	result.Success = false
	result.ErrorMessage = err.Error()

	if kind := domain.KindOf(err); kind != "" {
		result.ErrorCategory = string(kind)
	} else {
		result.ErrorCategory = string(domain.KindStorage)
	}

	return result
}
