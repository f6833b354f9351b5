package marketdata

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/aristath/purser/internal/database"
	"github.com/aristath/purser/internal/domain"
	"github.com/rs/zerolog"
)

const pricesColumns = `symbol, date, open, high, low, close, adj_close, volume`

// PriceRepository handles the stock_prices table.
type PriceRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPriceRepository creates a new price repository.
func NewPriceRepository(db *sql.DB, log zerolog.Logger) *PriceRepository {
	return &PriceRepository{
		db:  db,
		log: log.With().Str("repo", "prices").Logger(),
	}
}

// UpsertPrices writes the bars in one transaction, replacing rows that
// collide on (symbol, date). Returns the number of bars written.
func (r *PriceRepository) UpsertPrices(symbol string, bars []domain.PriceBar) (int, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if len(bars) == 0 {
		return 0, nil
	}

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO stock_prices (symbol, date, open, high, low, close, adj_close, volume)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (symbol, date) DO UPDATE SET
				open = excluded.open, high = excluded.high, low = excluded.low,
				close = excluded.close, adj_close = excluded.adj_close, volume = excluded.volume`)
		if err != nil {
			return fmt.Errorf("failed to prepare price upsert: %w", err)
		}
		defer stmt.Close()

		for _, b := range bars {
			if _, err := stmt.Exec(symbol, b.Date, b.Open, b.High, b.Low, b.Close, b.AdjClose, b.Volume); err != nil {
				return fmt.Errorf("failed to upsert price %s %s: %w", symbol, b.Date, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, domain.WrapError(domain.KindStorage, err, "failed to upsert prices for %s", symbol)
	}

	r.log.Debug().Str("symbol", symbol).Int("bars", len(bars)).Msg("Prices upserted")
	return len(bars), nil
}

// GetPrices returns bars for the symbol, dates ascending. Empty range bounds
// are open-ended; limit <= 0 means no limit (limit keeps the most recent rows).
func (r *PriceRepository) GetPrices(symbol, startDate, endDate string, limit int) ([]domain.PriceBar, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	query := "SELECT " + pricesColumns + " FROM stock_prices WHERE symbol = ?"
	args := []interface{}{symbol}

	if startDate != "" {
		query += " AND date >= ?"
		args = append(args, startDate)
	}
	if endDate != "" {
		query += " AND date <= ?"
		args = append(args, endDate)
	}

	if limit > 0 {
		query = "SELECT " + pricesColumns + " FROM (" + query + " ORDER BY date DESC LIMIT ?) ORDER BY date ASC"
		args = append(args, limit)
	} else {
		query += " ORDER BY date ASC"
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, domain.WrapError(domain.KindStorage, err, "failed to query prices for %s", symbol)
	}
	defer rows.Close()

	var bars []domain.PriceBar
	for rows.Next() {
		var b domain.PriceBar
		if err := rows.Scan(&b.Symbol, &b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.AdjClose, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan price row: %w", err)
		}
		bars = append(bars, b)
	}

	return bars, rows.Err()
}

// GetLastPriceDate returns the most recent stored date for the symbol,
// or the empty string when no prices are stored.
func (r *PriceRepository) GetLastPriceDate(symbol string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	var date sql.NullString
	err := r.db.QueryRow("SELECT MAX(date) FROM stock_prices WHERE symbol = ?", symbol).Scan(&date)
	if err != nil {
		return "", domain.WrapError(domain.KindStorage, err, "failed to get last price date for %s", symbol)
	}

	return date.String, nil
}

// GetPriceAtOrBefore returns the latest bar on or before date, or nil when
// the symbol has no bar that early.
func (r *PriceRepository) GetPriceAtOrBefore(symbol, date string) (*domain.PriceBar, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	query := "SELECT " + pricesColumns + ` FROM stock_prices
		WHERE symbol = ? AND date <= ? ORDER BY date DESC LIMIT 1`

	var b domain.PriceBar
	err := r.db.QueryRow(query, symbol, date).
		Scan(&b.Symbol, &b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.AdjClose, &b.Volume)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.WrapError(domain.KindStorage, err, "failed to get price at or before %s for %s", date, symbol)
	}

	return &b, nil
}

// GetTradingDays returns the distinct dates with any price row in [start, end].
func (r *PriceRepository) GetTradingDays(start, end string) ([]string, error) {
	rows, err := r.db.Query(
		"SELECT DISTINCT date FROM stock_prices WHERE date >= ? AND date <= ? ORDER BY date ASC",
		start, end,
	)
	if err != nil {
		return nil, domain.WrapError(domain.KindStorage, err, "failed to query trading days")
	}
	defer rows.Close()

	var days []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan trading day: %w", err)
		}
		days = append(days, d)
	}

	return days, rows.Err()
}

// CountPrices returns the number of stored bars for the symbol.
func (r *PriceRepository) CountPrices(symbol string) (int, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM stock_prices WHERE symbol = ?", symbol).Scan(&count)
	if err != nil {
		return 0, domain.WrapError(domain.KindStorage, err, "failed to count prices for %s", symbol)
	}

	return count, nil
}
