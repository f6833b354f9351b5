package finnhub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/purser/internal/clientdata"
	"github.com/aristath/purser/internal/database"
	"github.com/aristath/purser/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ domain.PriceProvider = (*Client)(nil)
var _ domain.FundamentalsProvider = (*Client)(nil)

func newTestClient(t *testing.T, handler http.Handler, cache *clientdata.Repository) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		Timeout:    time.Second,
	}, cache, zerolog.Nop())
}

func newTestCache(t *testing.T) *clientdata.Repository {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "cache.db"),
		Profile: database.ProfileCache,
		Name:    "test",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	return clientdata.NewRepository(db.Conn())
}

func TestDownloadPrices_ParsesCandles(t *testing.T) {
	day := func(date string) int64 {
		ts, err := domain.ParseDate(date)
		require.NoError(t, err)
		return ts.Unix()
	}

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stock/candle", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		assert.Equal(t, "test-key", r.Header.Get("X-Finnhub-Token"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"s": "ok",
			"t": [` + itoa(day("2024-03-14")) + `,` + itoa(day("2024-03-15")) + `],
			"o": [170.0, 172.0],
			"h": [173.0, 176.0],
			"l": [169.0, 171.5],
			"c": [172.0, 175.0],
			"v": [1000000, 1200000]
		}`))
	}), nil)

	bars, err := client.DownloadPrices(context.Background(), "aapl", "2024-03-14", "2024-03-15")
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Equal(t, "AAPL", bars[0].Symbol)
	assert.Equal(t, "2024-03-14", bars[0].Date)
	assert.Equal(t, 172.0, bars[0].Close)
	assert.Equal(t, 172.0, bars[0].AdjClose, "adj_close mirrors close on this endpoint")
	assert.Equal(t, "2024-03-15", bars[1].Date)
	assert.Equal(t, int64(1200000), bars[1].Volume)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func TestDownloadPrices_NoData(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"s": "no_data"}`))
	}), nil)

	_, err := client.DownloadPrices(context.Background(), "AAPL", "2024-03-14", "2024-03-15")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindNoData), "got %v", err)
}

func TestDownloadPrices_MisalignedArrays(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"s": "ok", "t": [1, 2], "o": [1.0], "h": [1.0], "l": [1.0], "c": [1.0], "v": [1.0]}`))
	}), nil)

	_, err := client.DownloadPrices(context.Background(), "AAPL", "2024-03-14", "2024-03-15")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindProviderError))
}

func TestDownloadPrices_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"s": "no_data"}`))
	}), nil)

	_, err := client.DownloadPrices(context.Background(), "AAPL", "2024-03-14", "2024-03-15")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindNoData))
	assert.Equal(t, int32(2), calls.Load())
}

func TestDownloadPrices_ExhaustedRetriesAreUnavailable(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}), nil)

	_, err := client.DownloadPrices(context.Background(), "AAPL", "2024-03-14", "2024-03-15")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindProviderUnavailable), "got %v", err)
}

func TestDownloadPrices_RequiresKey(t *testing.T) {
	client := NewClient(Config{}, nil, zerolog.Nop())

	_, err := client.DownloadPrices(context.Background(), "AAPL", "2024-03-14", "2024-03-15")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestGetQuote_ServesFromCache(t *testing.T) {
	var calls atomic.Int32
	cache := newTestCache(t)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"c": 175.5, "o": 172.0, "h": 176.0, "l": 171.5, "pc": 172.0}`))
	}), cache)

	first, err := client.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 175.5, first.Current)

	second, err := client.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, first.Current, second.Current)
	assert.Equal(t, int32(1), calls.Load(), "second quote must come from cache")
}

func TestDownloadFundamentals_ParsesReportedFinancials(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/stock/profile2":
			_, _ = w.Write([]byte(`{"name": "Apple Inc", "finnhubIndustry": "Technology"}`))
		case "/stock/financials-reported":
			_, _ = w.Write([]byte(`{"data": [{
				"year": 2023,
				"endDate": "2023-09-30 00:00:00",
				"report": {
					"ic": [{"concept": "Revenues", "unit": "usd", "value": 383285000000}],
					"bs": [{"concept": "Assets", "unit": "usd", "value": 352583000000}],
					"cf": [{"concept": "NetCashOperating", "unit": "usd", "value": "110543000000"}]
				}
			}]}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}), nil)

	bundle, err := client.DownloadFundamentals(context.Background(), "aapl")
	require.NoError(t, err)

	require.NotNil(t, bundle.Profile)
	assert.Equal(t, "Apple Inc", bundle.Profile.Name)
	assert.Equal(t, "Technology", bundle.Profile.Industry)

	require.Len(t, bundle.Statements, 3)
	byStatement := make(map[domain.Statement]domain.StatementRow)
	for _, row := range bundle.Statements {
		byStatement[row.Statement] = row
		assert.Equal(t, "AAPL", row.Symbol)
		assert.Equal(t, "2023-09-30", row.Period)
		assert.Equal(t, "USD", row.Currency)
	}

	assert.Equal(t, "Revenues", byStatement[domain.StatementIncome].Metric)
	assert.Equal(t, 383285000000.0, byStatement[domain.StatementIncome].Value)
	assert.Equal(t, 110543000000.0, byStatement[domain.StatementCashFlow].Value, "string values are coerced")
}

func TestDownloadFundamentals_FallsBackToLegacyEndpoint(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/stock/profile2":
			_, _ = w.Write([]byte(`{}`))
		case "/stock/financials-reported":
			_, _ = w.Write([]byte(`{"data": []}`))
		case "/stock/financials":
			switch r.URL.Query().Get("statement") {
			case "ic":
				_, _ = w.Write([]byte(`{"financials": [{"period": "2023-12-31", "revenue": 1000, "netIncome": 100}]}`))
			default:
				_, _ = w.Write([]byte(`{"financials": []}`))
			}
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}), nil)

	bundle, err := client.DownloadFundamentals(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.Nil(t, bundle.Profile)
	require.Len(t, bundle.Statements, 2)
	for _, row := range bundle.Statements {
		assert.Equal(t, domain.StatementIncome, row.Statement)
		assert.Equal(t, "2023-12-31", row.Period)
	}
}

func TestDownloadFundamentals_NoDataAnywhere(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/stock/profile2":
			_, _ = w.Write([]byte(`{}`))
		case "/stock/financials-reported":
			_, _ = w.Write([]byte(`{"data": []}`))
		case "/stock/financials":
			_, _ = w.Write([]byte(`{"financials": []}`))
		}
	}), nil)

	_, err := client.DownloadFundamentals(context.Background(), "AAPL")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindNoData), "got %v", err)
}

func TestDownloadFundamentals_ServesFromCache(t *testing.T) {
	var calls atomic.Int32
	cache := newTestCache(t)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/stock/profile2":
			_, _ = w.Write([]byte(`{"name": "Apple Inc", "finnhubIndustry": "Technology"}`))
		case "/stock/financials-reported":
			_, _ = w.Write([]byte(`{"data": [{
				"year": 2023, "endDate": "2023-09-30 00:00:00",
				"report": {"ic": [{"concept": "Revenues", "unit": "usd", "value": 1000}], "bs": [], "cf": []}
			}]}`))
		}
	}), cache)

	first, err := client.DownloadFundamentals(context.Background(), "AAPL")
	require.NoError(t, err)

	requests := calls.Load()
	second, err := client.DownloadFundamentals(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, requests, calls.Load(), "second download must come from cache")
	assert.Equal(t, first.Profile.Name, second.Profile.Name)
	assert.Len(t, second.Statements, len(first.Statements))
}
