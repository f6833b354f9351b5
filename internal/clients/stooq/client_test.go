package stooq

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/purser/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ domain.PriceProvider = (*Client)(nil)

const sampleCSV = `Date,Open,High,Low,Close,Volume
2024-01-02,185.0,186.5,184.2,185.9,48210000
2024-01-03,185.5,186.0,183.8,184.2,52130000
2024-01-04,184.0,184.9,182.5,182.7,49850000
`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		BaseURL:    srv.URL,
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		Timeout:    time.Second,
	}, zerolog.Nop())
}

func TestDownloadPrices_ParsesCSV(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(sampleCSV))
	})

	bars, err := c.DownloadPrices(context.Background(), "AAPL", "2024-01-01", "2024-01-05")
	require.NoError(t, err)
	require.Len(t, bars, 3)

	assert.Contains(t, gotQuery, "s=aapl.us")
	assert.Contains(t, gotQuery, "d1=20240101")
	assert.Contains(t, gotQuery, "d2=20240105")

	first := bars[0]
	assert.Equal(t, "AAPL", first.Symbol)
	assert.Equal(t, "2024-01-02", first.Date)
	assert.Equal(t, 185.0, first.Open)
	assert.Equal(t, 185.9, first.Close)
	assert.Equal(t, first.Close, first.AdjClose)
	assert.Equal(t, int64(48210000), first.Volume)
}

func TestDownloadPrices_KeepsMarketSuffix(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(sampleCSV))
	})

	_, err := c.DownloadPrices(context.Background(), "BMW.DE", "2024-01-01", "2024-01-05")
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "s=bmw.de")
}

func TestDownloadPrices_EmptyBodyIsNoData(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(""))
	})

	_, err := c.DownloadPrices(context.Background(), "ZZZZ", "2024-01-01", "2024-01-05")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindNoData))
}

func TestDownloadPrices_ClientErrorIsFatal(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.DownloadPrices(context.Background(), "AAPL", "2024-01-01", "2024-01-05")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindProviderError))
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestDownloadPrices_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(sampleCSV))
	})

	bars, err := c.DownloadPrices(context.Background(), "AAPL", "2024-01-01", "2024-01-05")
	require.NoError(t, err)
	assert.Len(t, bars, 3)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDownloadPrices_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.DownloadPrices(context.Background(), "AAPL", "2024-01-01", "2024-01-05")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindProviderUnavailable))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDownloadPrices_ContextCanceled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.DownloadPrices(ctx, "AAPL", "2024-01-01", "2024-01-05")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindCanceled))
}

func TestDownloadPrices_RejectsBadDates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := c.DownloadPrices(context.Background(), "AAPL", "01-01-2024", "2024-01-05")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestParseDailyCSV_SkipsPlaceholderRows(t *testing.T) {
	body := []byte(`Date,Open,High,Low,Close,Volume
2024-01-02,185.0,186.5,184.2,185.9,48210000
2024-01-03,N/D,N/D,N/D,N/D,0
2024-01-04,184.0,184.9,182.5,182.7,49850000
`)

	bars, err := parseDailyCSV("AAPL", body)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "2024-01-04", bars[1].Date)
}

func TestParseDailyCSV_SkipsTruncatedRows(t *testing.T) {
	body := []byte(`Date,Open,High,Low,Close,Volume
2024-01-02,185.0
2024-01-03,185.5,186.0,183.8,184.2,52130000
`)

	bars, err := parseDailyCSV("AAPL", body)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "2024-01-03", bars[0].Date)
}

func TestParseDailyCSV_OnlyTruncatedRowsIsNoData(t *testing.T) {
	body := []byte("Date,Open,High,Low,Close,Volume\n2024-01-02,185.0\n")

	_, err := parseDailyCSV("AAPL", body)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindNoData))
}

func TestParseDailyCSV_MissingColumnIsProviderError(t *testing.T) {
	body := []byte("Date,Open,High,Low\n2024-01-02,1,2,0.5\n")

	_, err := parseDailyCSV("AAPL", body)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindProviderError))
}
