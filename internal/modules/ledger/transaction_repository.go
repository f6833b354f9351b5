package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/aristath/purser/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const transactionsColumns = `id, owner_id, symbol, kind, quantity, price, commission,
	transaction_date, external_id, notes, created_at`

// TransactionRepository handles the transactions table. Writes happen
// inside the ledger service's transaction scope.
type TransactionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTransactionRepository creates a new transaction repository.
func NewTransactionRepository(db *sql.DB, log zerolog.Logger) *TransactionRepository {
	return &TransactionRepository{
		db:  db,
		log: log.With().Str("repo", "transactions").Logger(),
	}
}

// Insert writes a transaction within tx and returns its id.
// A duplicate (owner_id, external_id) surfaces as constraint_violation.
func (r *TransactionRepository) Insert(tx *sql.Tx, t *Transaction) (int64, error) {
	res, err := tx.Exec(`
		INSERT INTO transactions
		(owner_id, symbol, kind, quantity, price, commission, transaction_date, external_id, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.OwnerID,
		strings.ToUpper(strings.TrimSpace(t.Symbol)),
		string(t.Kind),
		t.Quantity.String(),
		t.Price.String(),
		t.Commission.String(),
		t.TransactionDate,
		nullString(t.ExternalID),
		nullString(t.Notes),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, domain.WrapError(domain.KindConstraint, err,
				"transaction with external id %q already exists for owner %s", t.ExternalID, t.OwnerID)
		}
		return 0, domain.WrapError(domain.KindStorage, err, "failed to insert transaction")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, domain.WrapError(domain.KindStorage, err, "failed to read transaction id")
	}

	return id, nil
}

// GetByID returns one transaction, or nil when absent.
func (r *TransactionRepository) GetByID(id int64) (*Transaction, error) {
	query := "SELECT " + transactionsColumns + " FROM transactions WHERE id = ?"
	return r.scanOne(r.db.QueryRow(query, id))
}

// GetByExternalID returns the owner's transaction with the given external id,
// or nil when absent.
func (r *TransactionRepository) GetByExternalID(ownerID, externalID string) (*Transaction, error) {
	query := "SELECT " + transactionsColumns + " FROM transactions WHERE owner_id = ? AND external_id = ?"
	return r.scanOne(r.db.QueryRow(query, ownerID, externalID))
}

// List returns the owner's transactions, newest first. Symbol and kind are
// optional filters; limit <= 0 means no limit.
func (r *TransactionRepository) List(ownerID, symbol string, kind domain.TransactionKind, limit int) ([]Transaction, error) {
	query := "SELECT " + transactionsColumns + " FROM transactions WHERE owner_id = ?"
	args := []interface{}{ownerID}

	if symbol != "" {
		query += " AND symbol = ?"
		args = append(args, strings.ToUpper(strings.TrimSpace(symbol)))
	}
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, string(kind))
	}

	query += " ORDER BY transaction_date DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, domain.WrapError(domain.KindStorage, err, "failed to query transactions")
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}

	return out, rows.Err()
}

// SymbolsHeld returns the distinct symbols the owner has ever transacted in.
func (r *TransactionRepository) SymbolsHeld(ownerID string) ([]string, error) {
	rows, err := r.db.Query(
		"SELECT DISTINCT symbol FROM transactions WHERE owner_id = ? ORDER BY symbol", ownerID)
	if err != nil {
		return nil, domain.WrapError(domain.KindStorage, err, "failed to query symbols for owner %s", ownerID)
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

func (r *TransactionRepository) scanOne(row *sql.Row) (*Transaction, error) {
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var t Transaction
	var kind string
	var quantity, price, commission string
	var externalID, notes sql.NullString

	err := row.Scan(&t.ID, &t.OwnerID, &t.Symbol, &kind, &quantity, &price, &commission,
		&t.TransactionDate, &externalID, &notes, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, domain.WrapError(domain.KindStorage, err, "failed to scan transaction")
	}

	t.Kind = domain.TransactionKind(kind)
	t.ExternalID = externalID.String
	t.Notes = notes.String

	if t.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return t, domain.WrapError(domain.KindStorage, err, "corrupt quantity on transaction %d", t.ID)
	}
	if t.Price, err = decimal.NewFromString(price); err != nil {
		return t, domain.WrapError(domain.KindStorage, err, "corrupt price on transaction %d", t.ID)
	}
	if t.Commission, err = decimal.NewFromString(commission); err != nil {
		return t, domain.WrapError(domain.KindStorage, err, "corrupt commission on transaction %d", t.ID)
	}

	return t, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
