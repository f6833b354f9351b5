package pnl

import (
	"database/sql"
	"strings"

	"github.com/aristath/purser/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const dailyPnLColumns = `id, owner_id, symbol, valuation_date, quantity, weighted_avg_cost,
	total_cost, market_price, market_value, unrealized_pnl, unrealized_pnl_pct,
	realized_pnl_day, price_date, is_stale_price, price_source, created_at, updated_at`

// Repository handles the daily_pnl table.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new daily PnL repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "daily_pnl").Logger(),
	}
}

// UpsertDailyPnL writes or replaces the row keyed by
// (owner_id, symbol, valuation_date).
func (r *Repository) UpsertDailyPnL(row *DailyPnL) error {
	stale := 0
	if row.IsStalePrice {
		stale = 1
	}

	_, err := r.db.Exec(`
		INSERT INTO daily_pnl
		(owner_id, symbol, valuation_date, quantity, weighted_avg_cost, total_cost,
		 market_price, market_value, unrealized_pnl, unrealized_pnl_pct,
		 realized_pnl_day, price_date, is_stale_price, price_source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, symbol, valuation_date) DO UPDATE SET
			quantity           = excluded.quantity,
			weighted_avg_cost  = excluded.weighted_avg_cost,
			total_cost         = excluded.total_cost,
			market_price       = excluded.market_price,
			market_value       = excluded.market_value,
			unrealized_pnl     = excluded.unrealized_pnl,
			unrealized_pnl_pct = excluded.unrealized_pnl_pct,
			realized_pnl_day   = excluded.realized_pnl_day,
			price_date         = excluded.price_date,
			is_stale_price     = excluded.is_stale_price,
			price_source       = excluded.price_source,
			updated_at         = datetime('now')`,
		row.OwnerID,
		strings.ToUpper(strings.TrimSpace(row.Symbol)),
		row.ValuationDate,
		row.Quantity.String(),
		row.WeightedAvgCost.String(),
		row.TotalCost.String(),
		row.MarketPrice.String(),
		row.MarketValue.String(),
		row.UnrealizedPnL.String(),
		row.UnrealizedPnLPct.String(),
		row.RealizedPnLDay.String(),
		row.PriceDate,
		stale,
		row.PriceSource,
	)
	if err != nil {
		return domain.WrapError(domain.KindStorage, err,
			"failed to upsert daily pnl for %s/%s on %s", row.OwnerID, row.Symbol, row.ValuationDate)
	}

	return nil
}

// GetDailyPnL returns valuation rows for an owner, oldest date first.
// Symbol and the date bounds are optional filters.
func (r *Repository) GetDailyPnL(ownerID, symbol, start, end string) ([]DailyPnL, error) {
	query := "SELECT " + dailyPnLColumns + " FROM daily_pnl WHERE owner_id = ?"
	args := []interface{}{ownerID}

	if symbol != "" {
		query += " AND symbol = ?"
		args = append(args, strings.ToUpper(strings.TrimSpace(symbol)))
	}
	if start != "" {
		query += " AND valuation_date >= ?"
		args = append(args, start)
	}
	if end != "" {
		query += " AND valuation_date <= ?"
		args = append(args, end)
	}
	query += " ORDER BY valuation_date ASC, symbol ASC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, domain.WrapError(domain.KindStorage, err, "failed to query daily pnl")
	}
	defer rows.Close()

	var out []DailyPnL
	for rows.Next() {
		row, err := scanDailyPnL(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}

	return out, rows.Err()
}

// LatestValuationDate returns the owner's most recent valuation date, or
// the empty string when none exists.
func (r *Repository) LatestValuationDate(ownerID string) (string, error) {
	var date sql.NullString
	err := r.db.QueryRow(
		"SELECT MAX(valuation_date) FROM daily_pnl WHERE owner_id = ?", ownerID,
	).Scan(&date)
	if err != nil {
		return "", domain.WrapError(domain.KindStorage, err, "failed to get latest valuation date")
	}

	return date.String, nil
}

// GetDailyTotals aggregates the owner's rows per valuation date over
// [start, end], summing in decimal rather than SQL to keep exactness.
func (r *Repository) GetDailyTotals(ownerID, start, end string) ([]DailyTotal, error) {
	rows, err := r.GetDailyPnL(ownerID, "", start, end)
	if err != nil {
		return nil, err
	}

	var out []DailyTotal
	byDate := make(map[string]int)

	for _, row := range rows {
		idx, ok := byDate[row.ValuationDate]
		if !ok {
			idx = len(out)
			byDate[row.ValuationDate] = idx
			out = append(out, DailyTotal{Date: row.ValuationDate})
		}

		out[idx].TotalCost = out[idx].TotalCost.Add(row.TotalCost)
		out[idx].MarketValue = out[idx].MarketValue.Add(row.MarketValue)
		out[idx].UnrealizedPnL = out[idx].UnrealizedPnL.Add(row.UnrealizedPnL)
		out[idx].RealizedPnL = out[idx].RealizedPnL.Add(row.RealizedPnLDay)
		out[idx].Symbols++
	}

	return out, nil
}

func scanDailyPnL(rows *sql.Rows) (DailyPnL, error) {
	var row DailyPnL
	var quantity, wac, totalCost string
	var marketPrice, marketValue, unrealized, unrealizedPct sql.NullString
	var realizedDay string
	var priceDate, priceSource sql.NullString
	var stale int

	err := rows.Scan(&row.ID, &row.OwnerID, &row.Symbol, &row.ValuationDate,
		&quantity, &wac, &totalCost, &marketPrice, &marketValue,
		&unrealized, &unrealizedPct, &realizedDay, &priceDate, &stale,
		&priceSource, &row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		return row, domain.WrapError(domain.KindStorage, err, "failed to scan daily pnl row")
	}

	row.IsStalePrice = stale != 0
	row.PriceDate = priceDate.String
	row.PriceSource = priceSource.String

	if row.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return row, domain.WrapError(domain.KindStorage, err, "corrupt quantity on daily pnl %d", row.ID)
	}
	if row.WeightedAvgCost, err = decimal.NewFromString(wac); err != nil {
		return row, domain.WrapError(domain.KindStorage, err, "corrupt avg cost on daily pnl %d", row.ID)
	}
	if row.TotalCost, err = decimal.NewFromString(totalCost); err != nil {
		return row, domain.WrapError(domain.KindStorage, err, "corrupt total cost on daily pnl %d", row.ID)
	}
	if row.RealizedPnLDay, err = decimal.NewFromString(realizedDay); err != nil {
		return row, domain.WrapError(domain.KindStorage, err, "corrupt realized pnl on daily pnl %d", row.ID)
	}

	if row.MarketPrice, err = nullDecimal(marketPrice); err != nil {
		return row, domain.WrapError(domain.KindStorage, err, "corrupt market price on daily pnl %d", row.ID)
	}
	if row.MarketValue, err = nullDecimal(marketValue); err != nil {
		return row, domain.WrapError(domain.KindStorage, err, "corrupt market value on daily pnl %d", row.ID)
	}
	if row.UnrealizedPnL, err = nullDecimal(unrealized); err != nil {
		return row, domain.WrapError(domain.KindStorage, err, "corrupt unrealized pnl on daily pnl %d", row.ID)
	}
	if row.UnrealizedPnLPct, err = nullDecimal(unrealizedPct); err != nil {
		return row, domain.WrapError(domain.KindStorage, err, "corrupt unrealized pct on daily pnl %d", row.ID)
	}

	return row, nil
}

func nullDecimal(s sql.NullString) (decimal.Decimal, error) {
	if !s.Valid || s.String == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s.String)
}
