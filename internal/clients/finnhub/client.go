// Package finnhub provides incremental daily prices, company fundamentals
// and live trade streaming from finnhub.io.
package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aristath/purser/internal/clientdata"
	"github.com/aristath/purser/internal/domain"
	"github.com/rs/zerolog"
)

const (
	defaultBaseURL = "https://finnhub.io/api/v1"
	defaultWSURL   = "wss://ws.finnhub.io"
)

// Config holds client tuning. Zero values fall back to defaults.
type Config struct {
	APIKey     string
	BaseURL    string
	WSURL      string
	MaxRetries int
	BaseDelay  time.Duration
	Timeout    time.Duration
}

// Client talks to the finnhub REST API.
type Client struct {
	baseURL    string
	wsURL      string
	apiKey     string
	client     *http.Client
	log        zerolog.Logger
	maxRetries int
	baseDelay  time.Duration
	cache      *clientdata.Repository
}

// NewClient creates a new finnhub client.
// cache is optional - if nil, response caching is disabled.
func NewClient(cfg Config, cache *clientdata.Repository, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.WSURL == "" {
		cfg.WSURL = defaultWSURL
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
		wsURL:      cfg.WSURL,
		apiKey:     cfg.APIKey,
		client:     &http.Client{Timeout: cfg.Timeout},
		log:        log.With().Str("client", "finnhub").Logger(),
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		cache:      cache,
	}
}

// Name identifies the provider in logs and download records.
func (c *Client) Name() string {
	return "finnhub"
}

// candleResponse is the /stock/candle payload. Arrays are index-aligned.
type candleResponse struct {
	Status     string    `json:"s"`
	Timestamps []int64   `json:"t"`
	Open       []float64 `json:"o"`
	High       []float64 `json:"h"`
	Low        []float64 `json:"l"`
	Close      []float64 `json:"c"`
	Volume     []float64 `json:"v"`
}

// DownloadPrices fetches daily candles for [from, to] inclusive, oldest first.
// Finnhub has no adjusted close on this endpoint, so adj_close equals close.
func (c *Client) DownloadPrices(ctx context.Context, symbol, from, to string) ([]domain.PriceBar, error) {
	if err := c.requireKey(); err != nil {
		return nil, err
	}
	if symbol == "" {
		return nil, domain.NewError(domain.KindValidation, "symbol must not be empty")
	}

	fromTime, err := domain.ParseDate(from)
	if err != nil {
		return nil, domain.WrapError(domain.KindValidation, err, "invalid from date")
	}
	toTime, err := domain.ParseDate(to)
	if err != nil {
		return nil, domain.WrapError(domain.KindValidation, err, "invalid to date")
	}

	endpoint := fmt.Sprintf("%s/stock/candle?symbol=%s&resolution=D&from=%d&to=%d",
		c.baseURL,
		url.QueryEscape(strings.ToUpper(symbol)),
		fromTime.Unix(),
		toTime.Add(24*time.Hour-time.Second).Unix(),
	)

	var cr candleResponse
	if err := c.withRetries(ctx, symbol, func() (bool, error) {
		return c.getJSON(ctx, endpoint, &cr)
	}); err != nil {
		return nil, err
	}

	switch cr.Status {
	case "ok":
		// fall through
	case "no_data":
		return nil, domain.NewError(domain.KindNoData, "finnhub has no data for %s", symbol)
	default:
		return nil, domain.NewError(domain.KindProviderError,
			"finnhub returned status %q for %s", cr.Status, symbol)
	}

	n := len(cr.Timestamps)
	if len(cr.Open) != n || len(cr.High) != n || len(cr.Low) != n || len(cr.Close) != n || len(cr.Volume) != n {
		return nil, domain.NewError(domain.KindProviderError,
			"finnhub candle arrays misaligned for %s", symbol)
	}
	if n == 0 {
		return nil, domain.NewError(domain.KindNoData, "finnhub returned no candles for %s", symbol)
	}

	bars := make([]domain.PriceBar, 0, n)
	for i := 0; i < n; i++ {
		bars = append(bars, domain.PriceBar{
			Symbol:   strings.ToUpper(symbol),
			Date:     time.Unix(cr.Timestamps[i], 0).UTC().Format(domain.DateLayout),
			Open:     cr.Open[i],
			High:     cr.High[i],
			Low:      cr.Low[i],
			Close:    cr.Close[i],
			AdjClose: cr.Close[i],
			Volume:   int64(cr.Volume[i]),
		})
	}

	c.log.Debug().
		Str("symbol", symbol).
		Int("bars", len(bars)).
		Str("from", from).
		Str("to", to).
		Msg("Downloaded daily candles")

	return bars, nil
}

// Quote is a real-time snapshot for one symbol.
type Quote struct {
	Symbol        string  `json:"symbol" msgpack:"symbol"`
	Current       float64 `json:"current" msgpack:"current"`
	Open          float64 `json:"open" msgpack:"open"`
	High          float64 `json:"high" msgpack:"high"`
	Low           float64 `json:"low" msgpack:"low"`
	PreviousClose float64 `json:"previous_close" msgpack:"previous_close"`
}

// GetQuote fetches the current quote, serving from cache when fresh.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	if err := c.requireKey(); err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(symbol)

	if c.cache != nil {
		if payload, err := c.cache.GetIfFresh(clientdata.CategoryQuote, symbol); err == nil && payload != nil {
			var q Quote
			if err := clientdata.Unmarshal(payload, &q); err == nil {
				c.log.Debug().Str("symbol", symbol).Msg("Quote cache hit")
				return &q, nil
			}
		}
	}

	endpoint := fmt.Sprintf("%s/quote?symbol=%s", c.baseURL, url.QueryEscape(symbol))

	var raw struct {
		Current       float64 `json:"c"`
		Open          float64 `json:"o"`
		High          float64 `json:"h"`
		Low           float64 `json:"l"`
		PreviousClose float64 `json:"pc"`
	}
	if err := c.withRetries(ctx, symbol, func() (bool, error) {
		return c.getJSON(ctx, endpoint, &raw)
	}); err != nil {
		return nil, err
	}

	if raw.Current == 0 && raw.PreviousClose == 0 {
		return nil, domain.NewError(domain.KindNoData, "finnhub has no quote for %s", symbol)
	}

	q := &Quote{
		Symbol:        symbol,
		Current:       raw.Current,
		Open:          raw.Open,
		High:          raw.High,
		Low:           raw.Low,
		PreviousClose: raw.PreviousClose,
	}

	if c.cache != nil {
		if err := c.cache.Store(clientdata.CategoryQuote, symbol, q, clientdata.TTLQuote); err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache quote")
		}
	}

	return q, nil
}

func (c *Client) requireKey() error {
	if c.apiKey == "" {
		return domain.NewError(domain.KindValidation, "FINNHUB_API_KEY is not configured")
	}
	return nil
}

// withRetries runs fn until it succeeds, fails fatally, or attempts run out.
// fn reports whether its failure is retryable.
func (c *Client) withRetries(ctx context.Context, symbol string, fn func() (bool, error)) error {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay * time.Duration(1<<uint(attempt-1))
			delay += time.Duration(rand.Float64() * float64(delay) * 0.1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return domain.WrapError(domain.KindCanceled, ctx.Err(), "request aborted for %s", symbol)
			}
		}

		retryable, err := fn()
		if err == nil {
			return nil
		}
		if !retryable {
			return err
		}

		lastErr = err
		c.log.Warn().
			Err(err).
			Str("symbol", symbol).
			Int("attempt", attempt+1).
			Msg("Request failed, will retry")
	}

	return domain.WrapError(domain.KindProviderUnavailable, lastErr,
		"finnhub unavailable for %s after %d attempts", symbol, c.maxRetries)
}

// getJSON performs one GET and decodes the body. The first return value
// reports whether a failure is worth retrying.
func (c *Client) getJSON(ctx context.Context, endpoint string, dest interface{}) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, domain.WrapError(domain.KindProviderError, err, "failed to build request")
	}
	req.Header.Set("X-Finnhub-Token", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, domain.WrapError(domain.KindCanceled, ctx.Err(), "request aborted")
		}
		return true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decoding
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return true, fmt.Errorf("finnhub returned status %d", resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, domain.NewError(domain.KindProviderError, "finnhub rejected the API key (status %d)", resp.StatusCode)
	default:
		return false, domain.NewError(domain.KindProviderError, "finnhub returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return false, domain.WrapError(domain.KindProviderError, err, "failed to parse finnhub response")
	}

	return false, nil
}
