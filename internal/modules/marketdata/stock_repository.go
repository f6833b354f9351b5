package marketdata

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/aristath/purser/internal/domain"
	"github.com/rs/zerolog"
)

const stocksColumns = `symbol, company_name, sector, industry, description, created_at, updated_at`

// StockRepository handles the stocks table.
type StockRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStockRepository creates a new stock repository.
func NewStockRepository(db *sql.DB, log zerolog.Logger) *StockRepository {
	return &StockRepository{
		db:  db,
		log: log.With().Str("repo", "stocks").Logger(),
	}
}

// EnsureStock inserts the symbol if it is not present yet. Idempotent.
func (r *StockRepository) EnsureStock(symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return domain.NewError(domain.KindValidation, "symbol must not be empty")
	}

	_, err := r.db.Exec(`INSERT OR IGNORE INTO stocks (symbol) VALUES (?)`, symbol)
	if err != nil {
		return domain.WrapError(domain.KindStorage, err, "failed to ensure stock %s", symbol)
	}

	return nil
}

// GetStock returns the stock row, or nil when the symbol is unknown.
func (r *StockRepository) GetStock(symbol string) (*Stock, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	query := "SELECT " + stocksColumns + " FROM stocks WHERE symbol = ?"
	row := r.db.QueryRow(query, symbol)

	var s Stock
	var name, sector, industry, description sql.NullString
	err := row.Scan(&s.Symbol, &name, &sector, &industry, &description, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.WrapError(domain.KindStorage, err, "failed to get stock %s", symbol)
	}

	s.CompanyName = name.String
	s.Sector = sector.String
	s.Industry = industry.String
	s.Description = description.String

	return &s, nil
}

// UpdateMetadata refreshes company metadata from a provider profile.
// Empty fields are left untouched.
func (r *StockRepository) UpdateMetadata(profile domain.CompanyProfile) error {
	symbol := strings.ToUpper(strings.TrimSpace(profile.Symbol))
	if symbol == "" {
		return domain.NewError(domain.KindValidation, "symbol must not be empty")
	}

	_, err := r.db.Exec(`
		UPDATE stocks SET
			company_name = COALESCE(NULLIF(?, ''), company_name),
			sector       = COALESCE(NULLIF(?, ''), sector),
			industry     = COALESCE(NULLIF(?, ''), industry),
			description  = COALESCE(NULLIF(?, ''), description),
			updated_at   = datetime('now')
		WHERE symbol = ?`,
		profile.Name, profile.Sector, profile.Industry, profile.Description, symbol,
	)
	if err != nil {
		return domain.WrapError(domain.KindStorage, err, "failed to update metadata for %s", symbol)
	}

	r.log.Debug().Str("symbol", symbol).Msg("Stock metadata refreshed")
	return nil
}

// ListSymbols returns every known symbol, alphabetically.
func (r *StockRepository) ListSymbols() ([]string, error) {
	rows, err := r.db.Query("SELECT symbol FROM stocks ORDER BY symbol")
	if err != nil {
		return nil, domain.WrapError(domain.KindStorage, err, "failed to list symbols")
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, s)
	}

	return symbols, rows.Err()
}
