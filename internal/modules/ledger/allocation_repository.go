package ledger

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/aristath/purser/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const allocationsColumns = `id, owner_id, sell_transaction_id, lot_id, quantity_sold,
	cost_basis_per_share, sale_price_per_share, realized_pnl, created_at`

// AllocationRepository handles the append-only sale_allocations table.
type AllocationRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewAllocationRepository creates a new allocation repository.
func NewAllocationRepository(db *sql.DB, log zerolog.Logger) *AllocationRepository {
	return &AllocationRepository{
		db:  db,
		log: log.With().Str("repo", "allocations").Logger(),
	}
}

// Insert writes an allocation within tx and returns its id.
func (r *AllocationRepository) Insert(tx *sql.Tx, a *SaleAllocation) (int64, error) {
	res, err := tx.Exec(`
		INSERT INTO sale_allocations
		(owner_id, sell_transaction_id, lot_id, quantity_sold,
		 cost_basis_per_share, sale_price_per_share, realized_pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.OwnerID,
		a.SellTransactionID,
		a.LotID,
		a.QuantitySold.String(),
		a.CostBasisPerShare.String(),
		a.SalePricePerShare.String(),
		a.RealizedPnL.String(),
	)
	if err != nil {
		return 0, domain.WrapError(domain.KindStorage, err, "failed to insert allocation")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, domain.WrapError(domain.KindStorage, err, "failed to read allocation id")
	}

	return id, nil
}

// ListBySellTransaction returns the allocations of one sell, insertion order.
func (r *AllocationRepository) ListBySellTransaction(sellTransactionID int64) ([]SaleAllocation, error) {
	query := "SELECT " + allocationsColumns + ` FROM sale_allocations
		WHERE sell_transaction_id = ? ORDER BY id ASC`

	return r.queryAllocations(query, sellTransactionID)
}

// ListByOwner returns the owner's allocations, newest first. Symbol is an
// optional filter (resolved through the sell transaction).
func (r *AllocationRepository) ListByOwner(ownerID, symbol string) ([]SaleAllocation, error) {
	query := "SELECT a.id, a.owner_id, a.sell_transaction_id, a.lot_id, a.quantity_sold, " +
		"a.cost_basis_per_share, a.sale_price_per_share, a.realized_pnl, a.created_at " +
		"FROM sale_allocations a JOIN transactions t ON t.id = a.sell_transaction_id " +
		"WHERE a.owner_id = ?"
	args := []interface{}{ownerID}

	if symbol != "" {
		query += " AND t.symbol = ?"
		args = append(args, strings.ToUpper(strings.TrimSpace(symbol)))
	}
	query += " ORDER BY t.transaction_date DESC, a.id DESC"

	return r.queryAllocations(query, args...)
}

// RealizedOnDate sums realized PnL from allocations whose sell transaction
// is dated exactly date, for one owner and symbol.
func (r *AllocationRepository) RealizedOnDate(ownerID, symbol, date string) (decimal.Decimal, error) {
	rows, err := r.db.Query(`
		SELECT a.realized_pnl
		FROM sale_allocations a
		JOIN transactions t ON t.id = a.sell_transaction_id
		WHERE a.owner_id = ? AND t.symbol = ? AND t.transaction_date = ?`,
		ownerID, strings.ToUpper(strings.TrimSpace(symbol)), date,
	)
	if err != nil {
		return decimal.Zero, domain.WrapError(domain.KindStorage, err, "failed to query realized pnl")
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, domain.WrapError(domain.KindStorage, err, "failed to scan realized pnl")
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, domain.WrapError(domain.KindStorage, err, "corrupt realized pnl value")
		}
		total = total.Add(v)
	}

	return total, rows.Err()
}

// SoldFromLotThrough sums quantity_sold against one lot from allocations
// whose sell transaction date is on or before date. Used to replay a lot's
// effective remaining quantity at a historical valuation date.
func (r *AllocationRepository) SoldFromLotThrough(lotID int64, date string) (decimal.Decimal, error) {
	rows, err := r.db.Query(`
		SELECT a.quantity_sold
		FROM sale_allocations a
		JOIN transactions t ON t.id = a.sell_transaction_id
		WHERE a.lot_id = ? AND t.transaction_date <= ?`,
		lotID, date,
	)
	if err != nil {
		return decimal.Zero, domain.WrapError(domain.KindStorage, err, "failed to query lot allocations")
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, domain.WrapError(domain.KindStorage, err, "failed to scan quantity sold")
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, domain.WrapError(domain.KindStorage, err, "corrupt quantity sold value")
		}
		total = total.Add(v)
	}

	return total, rows.Err()
}

// TaxReportRow is one realized-gain line: an allocation joined with its
// sell transaction and originating lot.
type TaxReportRow struct {
	Symbol       string          `json:"symbol"`
	AcquiredDate string          `json:"acquired_date"`
	SoldDate     string          `json:"sold_date"`
	Quantity     decimal.Decimal `json:"quantity"`
	Proceeds     decimal.Decimal `json:"proceeds"`
	CostBasis    decimal.Decimal `json:"cost_basis"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
}

// ListForTaxReport returns realized-gain rows for sells dated in
// [start, end], oldest sale first.
func (r *AllocationRepository) ListForTaxReport(ownerID, start, end string) ([]TaxReportRow, error) {
	rows, err := r.db.Query(`
		SELECT t.symbol, l.purchase_date, t.transaction_date,
		       a.quantity_sold, a.sale_price_per_share, a.cost_basis_per_share, a.realized_pnl
		FROM sale_allocations a
		JOIN transactions t ON t.id = a.sell_transaction_id
		JOIN position_lots l ON l.id = a.lot_id
		WHERE a.owner_id = ? AND t.transaction_date >= ? AND t.transaction_date <= ?
		ORDER BY t.transaction_date ASC, a.id ASC`,
		ownerID, start, end,
	)
	if err != nil {
		return nil, domain.WrapError(domain.KindStorage, err, "failed to query tax report rows")
	}
	defer rows.Close()

	var out []TaxReportRow
	for rows.Next() {
		var row TaxReportRow
		var quantity, salePrice, costBasis, realized string
		if err := rows.Scan(&row.Symbol, &row.AcquiredDate, &row.SoldDate,
			&quantity, &salePrice, &costBasis, &realized); err != nil {
			return nil, domain.WrapError(domain.KindStorage, err, "failed to scan tax report row")
		}

		q, err := decimal.NewFromString(quantity)
		if err != nil {
			return nil, domain.WrapError(domain.KindStorage, err, "corrupt quantity in tax report")
		}
		sp, err := decimal.NewFromString(salePrice)
		if err != nil {
			return nil, domain.WrapError(domain.KindStorage, err, "corrupt sale price in tax report")
		}
		cb, err := decimal.NewFromString(costBasis)
		if err != nil {
			return nil, domain.WrapError(domain.KindStorage, err, "corrupt cost basis in tax report")
		}
		pnl, err := decimal.NewFromString(realized)
		if err != nil {
			return nil, domain.WrapError(domain.KindStorage, err, "corrupt realized pnl in tax report")
		}

		row.Quantity = q
		row.Proceeds = sp.Mul(q)
		row.CostBasis = cb.Mul(q)
		row.RealizedPnL = pnl
		out = append(out, row)
	}

	return out, rows.Err()
}

func (r *AllocationRepository) queryAllocations(query string, args ...interface{}) ([]SaleAllocation, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, domain.WrapError(domain.KindStorage, err, "failed to query allocations")
	}
	defer rows.Close()

	var out []SaleAllocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}

	return out, rows.Err()
}

func scanAllocation(row rowScanner) (SaleAllocation, error) {
	var a SaleAllocation
	var quantity, costBasis, salePrice, realized string

	err := row.Scan(&a.ID, &a.OwnerID, &a.SellTransactionID, &a.LotID,
		&quantity, &costBasis, &salePrice, &realized, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, domain.WrapError(domain.KindStorage, err, "failed to scan allocation")
	}

	if a.QuantitySold, err = decimal.NewFromString(quantity); err != nil {
		return a, domain.WrapError(domain.KindStorage, err, "corrupt quantity on allocation %d", a.ID)
	}
	if a.CostBasisPerShare, err = decimal.NewFromString(costBasis); err != nil {
		return a, domain.WrapError(domain.KindStorage, err, "corrupt cost basis on allocation %d", a.ID)
	}
	if a.SalePricePerShare, err = decimal.NewFromString(salePrice); err != nil {
		return a, domain.WrapError(domain.KindStorage, err, "corrupt sale price on allocation %d", a.ID)
	}
	if a.RealizedPnL, err = decimal.NewFromString(realized); err != nil {
		return a, domain.WrapError(domain.KindStorage, err, "corrupt realized pnl on allocation %d", a.ID)
	}

	return a, nil
}
