package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/aristath/purser/internal/clientdata"
	"github.com/aristath/purser/internal/domain"
)

// DownloadFundamentals fetches the company profile and annual financial
// statements for a symbol, serving from the response cache when fresh.
// The as-reported endpoint is preferred; the legacy per-statement endpoint
// is the fallback for symbols it does not cover.
func (c *Client) DownloadFundamentals(ctx context.Context, symbol string) (*domain.FundamentalsBundle, error) {
	if err := c.requireKey(); err != nil {
		return nil, err
	}
	if symbol == "" {
		return nil, domain.NewError(domain.KindValidation, "symbol must not be empty")
	}
	symbol = strings.ToUpper(symbol)

	if c.cache != nil {
		if payload, err := c.cache.GetIfFresh(clientdata.CategoryFundamentals, symbol); err == nil && payload != nil {
			var bundle domain.FundamentalsBundle
			if err := clientdata.Unmarshal(payload, &bundle); err == nil {
				c.log.Debug().Str("symbol", symbol).Msg("Fundamentals cache hit")
				return &bundle, nil
			}
		}
	}

	bundle := &domain.FundamentalsBundle{Symbol: symbol}

	profile, err := c.getProfile(ctx, symbol)
	if err != nil {
		if domain.IsKind(err, domain.KindCanceled) {
			return nil, err
		}
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Profile fetch failed, continuing without it")
	} else {
		bundle.Profile = profile
	}

	statements, err := c.getReportedFinancials(ctx, symbol)
	if err != nil {
		if domain.IsKind(err, domain.KindCanceled) {
			return nil, err
		}
		c.log.Debug().Err(err).Str("symbol", symbol).Msg("As-reported financials unavailable, trying legacy endpoint")
		statements, err = c.getLegacyFinancials(ctx, symbol)
		if err != nil && !domain.IsKind(err, domain.KindNoData) {
			return nil, err
		}
	}
	bundle.Statements = statements

	if bundle.Profile == nil && len(bundle.Statements) == 0 {
		return nil, domain.NewError(domain.KindNoData, "finnhub has no fundamentals for %s", symbol)
	}

	if c.cache != nil {
		if err := c.cache.Store(clientdata.CategoryFundamentals, symbol, bundle, clientdata.TTLFundamentals); err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache fundamentals")
		}
	}

	c.log.Debug().
		Str("symbol", symbol).
		Bool("profile", bundle.Profile != nil).
		Int("statement_rows", len(bundle.Statements)).
		Msg("Downloaded fundamentals")

	return bundle, nil
}

func (c *Client) getProfile(ctx context.Context, symbol string) (*domain.CompanyProfile, error) {
	endpoint := fmt.Sprintf("%s/stock/profile2?symbol=%s", c.baseURL, url.QueryEscape(symbol))

	var raw struct {
		Name     string `json:"name"`
		Industry string `json:"finnhubIndustry"`
	}
	if err := c.withRetries(ctx, symbol, func() (bool, error) {
		return c.getJSON(ctx, endpoint, &raw)
	}); err != nil {
		return nil, err
	}

	if raw.Name == "" {
		return nil, domain.NewError(domain.KindNoData, "finnhub has no profile for %s", symbol)
	}

	// Finnhub reports a single industry classification; it doubles as the
	// sector until a richer source is wired.
	return &domain.CompanyProfile{
		Symbol:   symbol,
		Name:     raw.Name,
		Sector:   raw.Industry,
		Industry: raw.Industry,
	}, nil
}

// reportItem is one concept of an as-reported statement. Values are
// occasionally strings, so they decode leniently.
type reportItem struct {
	Concept string          `json:"concept"`
	Unit    string          `json:"unit"`
	Value   json.RawMessage `json:"value"`
}

type reportedResponse struct {
	Data []struct {
		Year    int    `json:"year"`
		EndDate string `json:"endDate"`
		Report  struct {
			IC []reportItem `json:"ic"`
			BS []reportItem `json:"bs"`
			CF []reportItem `json:"cf"`
		} `json:"report"`
	} `json:"data"`
}

func (c *Client) getReportedFinancials(ctx context.Context, symbol string) ([]domain.StatementRow, error) {
	endpoint := fmt.Sprintf("%s/stock/financials-reported?symbol=%s&freq=annual",
		c.baseURL, url.QueryEscape(symbol))

	var raw reportedResponse
	if err := c.withRetries(ctx, symbol, func() (bool, error) {
		return c.getJSON(ctx, endpoint, &raw)
	}); err != nil {
		return nil, err
	}

	if len(raw.Data) == 0 {
		return nil, domain.NewError(domain.KindNoData, "finnhub has no reported financials for %s", symbol)
	}

	var rows []domain.StatementRow
	for _, filing := range raw.Data {
		period := filing.EndDate
		if len(period) >= 10 {
			period = period[:10]
		}
		if period == "" {
			period = fmt.Sprintf("%d", filing.Year)
		}

		rows = append(rows, itemsToRows(symbol, period, domain.StatementIncome, filing.Report.IC)...)
		rows = append(rows, itemsToRows(symbol, period, domain.StatementBalance, filing.Report.BS)...)
		rows = append(rows, itemsToRows(symbol, period, domain.StatementCashFlow, filing.Report.CF)...)
	}

	if len(rows) == 0 {
		return nil, domain.NewError(domain.KindNoData, "finnhub reported financials are empty for %s", symbol)
	}

	return rows, nil
}

func itemsToRows(symbol, period string, statement domain.Statement, items []reportItem) []domain.StatementRow {
	rows := make([]domain.StatementRow, 0, len(items))
	for _, item := range items {
		if item.Concept == "" {
			continue
		}
		value, ok := rawToFloat(item.Value)
		if !ok {
			continue
		}

		currency := strings.ToUpper(item.Unit)
		if currency == "" {
			currency = "USD"
		}

		rows = append(rows, domain.StatementRow{
			Statement: statement,
			Symbol:    symbol,
			Period:    period,
			Metric:    item.Concept,
			Value:     value,
			Currency:  currency,
		})
	}
	return rows
}

// legacyStatements maps the legacy endpoint's statement parameter to the
// storage table it feeds.
var legacyStatements = []struct {
	param     string
	statement domain.Statement
}{
	{"ic", domain.StatementIncome},
	{"bs", domain.StatementBalance},
	{"cf", domain.StatementCashFlow},
}

func (c *Client) getLegacyFinancials(ctx context.Context, symbol string) ([]domain.StatementRow, error) {
	var rows []domain.StatementRow

	for _, ls := range legacyStatements {
		endpoint := fmt.Sprintf("%s/stock/financials?symbol=%s&statement=%s&freq=annual",
			c.baseURL, url.QueryEscape(symbol), ls.param)

		var raw struct {
			Financials []map[string]json.RawMessage `json:"financials"`
		}
		if err := c.withRetries(ctx, symbol, func() (bool, error) {
			return c.getJSON(ctx, endpoint, &raw)
		}); err != nil {
			return nil, err
		}

		for _, entry := range raw.Financials {
			var period string
			if rawPeriod, ok := entry["period"]; ok {
				_ = json.Unmarshal(rawPeriod, &period)
			}
			if period == "" {
				continue
			}

			for metric, rawValue := range entry {
				if metric == "period" {
					continue
				}
				value, ok := rawToFloat(rawValue)
				if !ok {
					continue
				}
				rows = append(rows, domain.StatementRow{
					Statement: ls.statement,
					Symbol:    symbol,
					Period:    period,
					Metric:    metric,
					Value:     value,
					Currency:  "USD",
				})
			}
		}
	}

	if len(rows) == 0 {
		return nil, domain.NewError(domain.KindNoData, "finnhub has no financials for %s", symbol)
	}

	return rows, nil
}

func rawToFloat(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		var parsed float64
		if _, err := fmt.Sscanf(s, "%g", &parsed); err == nil {
			return parsed, true
		}
	}

	return 0, false
}
