package ledger

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/aristath/purser/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const lotsColumns = `id, owner_id, symbol, buy_transaction_id, original_quantity,
	remaining_quantity, cost_basis_per_share, purchase_date, is_closed, created_at, updated_at`

// LotRepository handles the position_lots table.
type LotRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewLotRepository creates a new lot repository.
func NewLotRepository(db *sql.DB, log zerolog.Logger) *LotRepository {
	return &LotRepository{
		db:  db,
		log: log.With().Str("repo", "lots").Logger(),
	}
}

// Insert writes a lot within tx and returns its id.
func (r *LotRepository) Insert(tx *sql.Tx, lot *PositionLot) (int64, error) {
	res, err := tx.Exec(`
		INSERT INTO position_lots
		(owner_id, symbol, buy_transaction_id, original_quantity, remaining_quantity,
		 cost_basis_per_share, purchase_date, is_closed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		lot.OwnerID,
		strings.ToUpper(strings.TrimSpace(lot.Symbol)),
		lot.BuyTransactionID,
		lot.OriginalQuantity.String(),
		lot.RemainingQuantity.String(),
		lot.CostBasisPerShare.String(),
		lot.PurchaseDate,
		boolToInt(lot.IsClosed),
	)
	if err != nil {
		return 0, domain.WrapError(domain.KindStorage, err, "failed to insert lot")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, domain.WrapError(domain.KindStorage, err, "failed to read lot id")
	}

	return id, nil
}

// UpdateRemaining sets a lot's remaining quantity and closed flag within tx.
// Only sell allocation writes call this, in the same transaction.
func (r *LotRepository) UpdateRemaining(tx *sql.Tx, lotID int64, remaining decimal.Decimal, isClosed bool) error {
	res, err := tx.Exec(`
		UPDATE position_lots
		SET remaining_quantity = ?, is_closed = ?, updated_at = datetime('now')
		WHERE id = ?`,
		remaining.String(), boolToInt(isClosed), lotID,
	)
	if err != nil {
		return domain.WrapError(domain.KindStorage, err, "failed to update lot %d", lotID)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.WrapError(domain.KindStorage, err, "failed to check lot update %d", lotID)
	}
	if affected == 0 {
		return domain.NewError(domain.KindNotFound, "lot %d not found", lotID)
	}

	return nil
}

// GetByID returns one lot, or nil when absent.
func (r *LotRepository) GetByID(id int64) (*PositionLot, error) {
	query := "SELECT " + lotsColumns + " FROM position_lots WHERE id = ?"

	lot, err := scanLot(r.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &lot, nil
}

// GetOpenLots returns the owner's open lots for a symbol, oldest purchase
// first with id as tie-break. Matchers reorder as their method requires.
func (r *LotRepository) GetOpenLots(ownerID, symbol string) ([]PositionLot, error) {
	query := "SELECT " + lotsColumns + ` FROM position_lots
		WHERE owner_id = ? AND symbol = ? AND is_closed = 0
		ORDER BY purchase_date ASC, id ASC`

	return r.queryLots(query, ownerID, strings.ToUpper(strings.TrimSpace(symbol)))
}

// List returns the owner's lots including closed ones, oldest first.
// Symbol is an optional filter.
func (r *LotRepository) List(ownerID, symbol string) ([]PositionLot, error) {
	query := "SELECT " + lotsColumns + " FROM position_lots WHERE owner_id = ?"
	args := []interface{}{ownerID}

	if symbol != "" {
		query += " AND symbol = ?"
		args = append(args, strings.ToUpper(strings.TrimSpace(symbol)))
	}
	query += " ORDER BY purchase_date ASC, id ASC"

	return r.queryLots(query, args...)
}

// GetByBuyTransaction returns the lot created by a buy, or nil when absent.
func (r *LotRepository) GetByBuyTransaction(buyTransactionID int64) (*PositionLot, error) {
	query := "SELECT " + lotsColumns + " FROM position_lots WHERE buy_transaction_id = ?"

	lot, err := scanLot(r.db.QueryRow(query, buyTransactionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &lot, nil
}

func (r *LotRepository) queryLots(query string, args ...interface{}) ([]PositionLot, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, domain.WrapError(domain.KindStorage, err, "failed to query lots")
	}
	defer rows.Close()

	var lots []PositionLot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}

	return lots, rows.Err()
}

func scanLot(row rowScanner) (PositionLot, error) {
	var lot PositionLot
	var original, remaining, costBasis string
	var isClosed int

	err := row.Scan(&lot.ID, &lot.OwnerID, &lot.Symbol, &lot.BuyTransactionID,
		&original, &remaining, &costBasis, &lot.PurchaseDate, &isClosed,
		&lot.CreatedAt, &lot.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return lot, err
		}
		return lot, domain.WrapError(domain.KindStorage, err, "failed to scan lot")
	}

	lot.IsClosed = isClosed != 0

	if lot.OriginalQuantity, err = decimal.NewFromString(original); err != nil {
		return lot, domain.WrapError(domain.KindStorage, err, "corrupt original quantity on lot %d", lot.ID)
	}
	if lot.RemainingQuantity, err = decimal.NewFromString(remaining); err != nil {
		return lot, domain.WrapError(domain.KindStorage, err, "corrupt remaining quantity on lot %d", lot.ID)
	}
	if lot.CostBasisPerShare, err = decimal.NewFromString(costBasis); err != nil {
		return lot, domain.WrapError(domain.KindStorage, err, "corrupt cost basis on lot %d", lot.ID)
	}

	return lot, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
