// Package stooq provides bulk daily price history downloads from stooq.com.
package stooq

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/purser/internal/domain"
	"github.com/rs/zerolog"
)

const (
	defaultBaseURL = "https://stooq.com"

	// Daily history for one symbol is a few hundred KB; anything near this
	// limit is not a CSV we want.
	maxBodyBytes = 16 << 20
)

// Config holds client tuning. Zero values fall back to defaults.
type Config struct {
	BaseURL    string
	MaxRetries int
	BaseDelay  time.Duration
	Timeout    time.Duration
}

// Client downloads daily CSV history from stooq.com.
// The feed is pre-adjusted, so adj_close always equals close.
type Client struct {
	baseURL    string
	client     *http.Client
	log        zerolog.Logger
	maxRetries int
	baseDelay  time.Duration
}

// NewClient creates a new stooq client.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		client:     &http.Client{Timeout: cfg.Timeout},
		log:        log.With().Str("client", "stooq").Logger(),
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
	}
}

// Name identifies the provider in logs and download records.
func (c *Client) Name() string {
	return "stooq"
}

// DownloadPrices fetches daily bars for [from, to] inclusive, oldest first.
// Transient failures are retried with exponential backoff and jitter.
func (c *Client) DownloadPrices(ctx context.Context, symbol, from, to string) ([]domain.PriceBar, error) {
	if symbol == "" {
		return nil, domain.NewError(domain.KindValidation, "symbol must not be empty")
	}
	if !domain.ValidDate(from) || !domain.ValidDate(to) {
		return nil, domain.NewError(domain.KindValidation, "invalid date range %q..%q", from, to)
	}

	url := fmt.Sprintf("%s/q/d/l/?s=%s&d1=%s&d2=%s&i=d",
		c.baseURL, stooqSymbol(symbol), compactDate(from), compactDate(to))

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.wait(ctx, attempt, symbol); err != nil {
				return nil, err
			}
		}

		bars, retryable, err := c.fetchOnce(ctx, url, symbol)
		if err == nil {
			c.log.Debug().
				Str("symbol", symbol).
				Int("bars", len(bars)).
				Str("from", from).
				Str("to", to).
				Msg("Downloaded daily history")
			return bars, nil
		}
		if !retryable {
			return nil, err
		}

		lastErr = err
		c.log.Warn().
			Err(err).
			Str("symbol", symbol).
			Int("attempt", attempt+1).
			Msg("Download failed, will retry")
	}

	return nil, domain.WrapError(domain.KindProviderUnavailable, lastErr,
		"stooq unavailable for %s after %d attempts", symbol, c.maxRetries)
}

// fetchOnce performs a single request. The second return value reports
// whether the failure is worth retrying.
func (c *Client) fetchOnce(ctx context.Context, url, symbol string) ([]domain.PriceBar, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, domain.WrapError(domain.KindProviderError, err, "failed to build request for %s", symbol)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, domain.WrapError(domain.KindCanceled, ctx.Err(), "download aborted for %s", symbol)
		}
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to parsing
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("stooq returned status %d", resp.StatusCode)
	default:
		return nil, false, domain.NewError(domain.KindProviderError,
			"stooq returned status %d for %s", resp.StatusCode, symbol)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response: %w", err)
	}

	bars, err := parseDailyCSV(symbol, body)
	if err != nil {
		return nil, false, err
	}

	return bars, false, nil
}

// wait sleeps for the backoff delay before the given attempt, honoring ctx.
func (c *Client) wait(ctx context.Context, attempt int, symbol string) error {
	delay := c.baseDelay * time.Duration(1<<uint(attempt-1))
	delay += time.Duration(rand.Float64() * float64(delay) * 0.1)

	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return domain.WrapError(domain.KindCanceled, ctx.Err(), "download aborted for %s", symbol)
	}
}

// parseDailyCSV converts a stooq daily CSV body into price bars.
// Format: Date,Open,High,Low,Close,Volume with dates ascending.
func parseDailyCSV(symbol string, body []byte) ([]domain.PriceBar, error) {
	text := strings.TrimSpace(string(body))
	if text == "" || strings.EqualFold(text, "no data") || strings.HasPrefix(text, "<") {
		return nil, domain.NewError(domain.KindNoData, "stooq has no data for %s", symbol)
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, domain.WrapError(domain.KindProviderError, err, "malformed CSV for %s", symbol)
	}
	if len(records) < 2 {
		return nil, domain.NewError(domain.KindNoData, "stooq returned no rows for %s", symbol)
	}

	cols := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"date", "open", "high", "low", "close"} {
		if _, ok := cols[required]; !ok {
			return nil, domain.NewError(domain.KindProviderError,
				"stooq CSV for %s is missing column %q", symbol, required)
		}
	}
	volumeIdx, hasVolume := cols["volume"]

	// FieldsPerRecord is relaxed above, so short rows must be skipped by
	// hand before indexing into them.
	maxCol := cols["date"]
	for _, name := range []string{"open", "high", "low", "close"} {
		if cols[name] > maxCol {
			maxCol = cols[name]
		}
	}

	bars := make([]domain.PriceBar, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) <= maxCol {
			continue
		}

		open, err1 := strconv.ParseFloat(rec[cols["open"]], 64)
		high, err2 := strconv.ParseFloat(rec[cols["high"]], 64)
		low, err3 := strconv.ParseFloat(rec[cols["low"]], 64)
		closePx, err4 := strconv.ParseFloat(rec[cols["close"]], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			// stooq emits N/D placeholders on holiday rows; skip them
			continue
		}

		var volume int64
		if hasVolume && volumeIdx < len(rec) {
			if v, err := strconv.ParseFloat(rec[volumeIdx], 64); err == nil {
				volume = int64(v)
			}
		}

		bars = append(bars, domain.PriceBar{
			Symbol:   strings.ToUpper(symbol),
			Date:     rec[cols["date"]],
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closePx,
			AdjClose: closePx,
			Volume:   volume,
		})
	}

	if len(bars) == 0 {
		return nil, domain.NewError(domain.KindNoData, "stooq returned no usable rows for %s", symbol)
	}

	return bars, nil
}

// stooqSymbol maps a plain US ticker to stooq's market-suffixed form.
// Symbols that already carry a market suffix pass through unchanged.
func stooqSymbol(symbol string) string {
	s := strings.ToLower(symbol)
	if strings.Contains(s, ".") {
		return s
	}
	return s + ".us"
}

// compactDate converts YYYY-MM-DD to stooq's YYYYMMDD query form.
func compactDate(date string) string {
	return strings.ReplaceAll(date, "-", "")
}
