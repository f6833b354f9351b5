package marketdata

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/purser/internal/database"
	"github.com/aristath/purser/internal/domain"
	"github.com/rs/zerolog"
)

// statementTables maps a statement kind to its table. Only these three
// tables exist; the map doubles as validation against SQL injection via
// the table name.
var statementTables = map[domain.Statement]string{
	domain.StatementIncome:   "income_statement",
	domain.StatementBalance:  "balance_sheet",
	domain.StatementCashFlow: "cash_flow",
}

// FinancialRepository handles the three financial statement tables.
type FinancialRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewFinancialRepository creates a new financial repository.
func NewFinancialRepository(db *sql.DB, log zerolog.Logger) *FinancialRepository {
	return &FinancialRepository{
		db:  db,
		log: log.With().Str("repo", "financials").Logger(),
	}
}

// UpsertStatements writes all rows in one transaction, replacing rows that
// collide on (symbol, period, metric_name). Returns the number of rows written.
func (r *FinancialRepository) UpsertStatements(symbol string, statementRows []domain.StatementRow) (int, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if len(statementRows) == 0 {
		return 0, nil
	}

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmts := make(map[domain.Statement]*sql.Stmt, len(statementTables))
		defer func() {
			for _, s := range stmts {
				_ = s.Close()
			}
		}()

		for _, row := range statementRows {
			table, ok := statementTables[row.Statement]
			if !ok {
				return domain.NewError(domain.KindValidation, "unknown statement type %q", row.Statement)
			}

			stmt, ok := stmts[row.Statement]
			if !ok {
				var err error
				stmt, err = tx.Prepare(fmt.Sprintf(`
					INSERT INTO %s (symbol, period, metric_name, metric_value, currency)
					VALUES (?, ?, ?, ?, ?)
					ON CONFLICT (symbol, period, metric_name) DO UPDATE SET
						metric_value = excluded.metric_value, currency = excluded.currency`, table))
				if err != nil {
					return fmt.Errorf("failed to prepare upsert for %s: %w", table, err)
				}
				stmts[row.Statement] = stmt
			}

			currency := row.Currency
			if currency == "" {
				currency = "USD"
			}
			if _, err := stmt.Exec(symbol, row.Period, row.Metric, row.Value, currency); err != nil {
				return fmt.Errorf("failed to upsert %s %s/%s: %w", table, row.Period, row.Metric, err)
			}
		}
		return nil
	})
	if err != nil {
		if domain.KindOf(err) != "" {
			return 0, err
		}
		return 0, domain.WrapError(domain.KindStorage, err, "failed to upsert statements for %s", symbol)
	}

	r.log.Debug().Str("symbol", symbol).Int("rows", len(statementRows)).Msg("Statements upserted")
	return len(statementRows), nil
}

// GetStatements returns all rows of one statement for the symbol, newest
// period first.
func (r *FinancialRepository) GetStatements(symbol string, statement domain.Statement) ([]domain.StatementRow, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	table, ok := statementTables[statement]
	if !ok {
		return nil, domain.NewError(domain.KindValidation, "unknown statement type %q", statement)
	}

	rows, err := r.db.Query(fmt.Sprintf(
		"SELECT symbol, period, metric_name, metric_value, currency FROM %s WHERE symbol = ? ORDER BY period DESC, metric_name ASC",
		table), symbol)
	if err != nil {
		return nil, domain.WrapError(domain.KindStorage, err, "failed to query %s for %s", table, symbol)
	}
	defer rows.Close()

	var out []domain.StatementRow
	for rows.Next() {
		row := domain.StatementRow{Statement: statement}
		var value sql.NullFloat64
		if err := rows.Scan(&row.Symbol, &row.Period, &row.Metric, &value, &row.Currency); err != nil {
			return nil, fmt.Errorf("failed to scan statement row: %w", err)
		}
		row.Value = value.Float64
		out = append(out, row)
	}

	return out, rows.Err()
}

// LastRefreshed returns when fundamentals for the symbol were last written,
// across all three tables. Zero time when no data is present.
func (r *FinancialRepository) LastRefreshed(symbol string) (time.Time, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	var latest time.Time
	for _, table := range statementTables {
		var created sql.NullString
		err := r.db.QueryRow(fmt.Sprintf("SELECT MAX(created_at) FROM %s WHERE symbol = ?", table), symbol).Scan(&created)
		if err != nil {
			return time.Time{}, domain.WrapError(domain.KindStorage, err, "failed to read refresh time from %s", table)
		}
		if !created.Valid || created.String == "" {
			continue
		}

		t, err := time.Parse("2006-01-02 15:04:05", created.String)
		if err != nil {
			continue
		}
		if t.After(latest) {
			latest = t
		}
	}

	return latest, nil
}
