package database

import (
	"fmt"
)

// Migrate brings the schema up to the current version. Migrations are
// forward-only and keyed by the schema_version table; re-running is a no-op.
func (db *DB) Migrate() error {
	if _, err := db.conn.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	version := 0
	_ = db.conn.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := db.conn.Exec(`
			CREATE TABLE IF NOT EXISTS stocks (
				symbol       TEXT PRIMARY KEY,
				company_name TEXT,
				sector       TEXT,
				industry     TEXT,
				description  TEXT,
				created_at   TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at   TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE TABLE IF NOT EXISTS stock_prices (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				symbol     TEXT NOT NULL REFERENCES stocks(symbol),
				date       TEXT NOT NULL,
				open       REAL,
				high       REAL,
				low        REAL,
				close      REAL,
				adj_close  REAL,
				volume     INTEGER,
				created_at TEXT NOT NULL DEFAULT (datetime('now')),
				UNIQUE (symbol, date)
			);
			CREATE INDEX IF NOT EXISTS idx_stock_prices_date ON stock_prices(date);

			CREATE TABLE IF NOT EXISTS income_statement (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				symbol       TEXT NOT NULL,
				period       TEXT NOT NULL,
				metric_name  TEXT NOT NULL,
				metric_value REAL,
				currency     TEXT DEFAULT 'USD',
				created_at   TEXT NOT NULL DEFAULT (datetime('now')),
				UNIQUE (symbol, period, metric_name)
			);

			CREATE TABLE IF NOT EXISTS balance_sheet (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				symbol       TEXT NOT NULL,
				period       TEXT NOT NULL,
				metric_name  TEXT NOT NULL,
				metric_value REAL,
				currency     TEXT DEFAULT 'USD',
				created_at   TEXT NOT NULL DEFAULT (datetime('now')),
				UNIQUE (symbol, period, metric_name)
			);

			CREATE TABLE IF NOT EXISTS cash_flow (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				symbol       TEXT NOT NULL,
				period       TEXT NOT NULL,
				metric_name  TEXT NOT NULL,
				metric_value REAL,
				currency     TEXT DEFAULT 'USD',
				created_at   TEXT NOT NULL DEFAULT (datetime('now')),
				UNIQUE (symbol, period, metric_name)
			);

			CREATE TABLE IF NOT EXISTS download_logs (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id         TEXT NOT NULL,
				symbol         TEXT NOT NULL,
				download_type  TEXT NOT NULL,
				strategy       TEXT,
				status         TEXT NOT NULL,
				rows_added     INTEGER NOT NULL DEFAULT 0,
				first_date     TEXT,
				last_date      TEXT,
				error_category TEXT,
				error_message  TEXT,
				duration_ms    INTEGER NOT NULL DEFAULT 0,
				created_at     TEXT NOT NULL DEFAULT (datetime('now'))
			);
			CREATE INDEX IF NOT EXISTS idx_download_logs_symbol ON download_logs(symbol);
			CREATE INDEX IF NOT EXISTS idx_download_logs_run ON download_logs(run_id);

			CREATE TABLE IF NOT EXISTS client_cache (
				category   TEXT NOT NULL,
				cache_key  TEXT NOT NULL,
				payload    BLOB NOT NULL,
				created_at INTEGER NOT NULL,
				expires_at INTEGER NOT NULL,
				PRIMARY KEY (category, cache_key)
			);
			CREATE INDEX IF NOT EXISTS idx_client_cache_expires ON client_cache(expires_at);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1 (market data): %w", err)
		}
	}

	if version < 2 {
		_, err := db.conn.Exec(`
			CREATE TABLE IF NOT EXISTS transactions (
				id               INTEGER PRIMARY KEY AUTOINCREMENT,
				owner_id         TEXT NOT NULL,
				symbol           TEXT NOT NULL,
				kind             TEXT NOT NULL CHECK (kind IN ('BUY', 'SELL')),
				quantity         TEXT NOT NULL,
				price            TEXT NOT NULL,
				commission       TEXT NOT NULL DEFAULT '0',
				transaction_date TEXT NOT NULL,
				external_id      TEXT,
				notes            TEXT,
				created_at       TEXT NOT NULL DEFAULT (datetime('now'))
			);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_owner_external
				ON transactions(owner_id, external_id) WHERE external_id IS NOT NULL;
			CREATE INDEX IF NOT EXISTS idx_transactions_owner_symbol
				ON transactions(owner_id, symbol, transaction_date);

			CREATE TABLE IF NOT EXISTS position_lots (
				id                   INTEGER PRIMARY KEY AUTOINCREMENT,
				owner_id             TEXT NOT NULL,
				symbol               TEXT NOT NULL,
				buy_transaction_id   INTEGER NOT NULL REFERENCES transactions(id),
				original_quantity    TEXT NOT NULL,
				remaining_quantity   TEXT NOT NULL,
				cost_basis_per_share TEXT NOT NULL,
				purchase_date        TEXT NOT NULL,
				is_closed            INTEGER NOT NULL DEFAULT 0,
				created_at           TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at           TEXT NOT NULL DEFAULT (datetime('now'))
			);
			CREATE INDEX IF NOT EXISTS idx_position_lots_open
				ON position_lots(owner_id, symbol, is_closed);

			CREATE TABLE IF NOT EXISTS sale_allocations (
				id                   INTEGER PRIMARY KEY AUTOINCREMENT,
				owner_id             TEXT NOT NULL,
				sell_transaction_id  INTEGER NOT NULL REFERENCES transactions(id),
				lot_id               INTEGER NOT NULL REFERENCES position_lots(id),
				quantity_sold        TEXT NOT NULL,
				cost_basis_per_share TEXT NOT NULL,
				sale_price_per_share TEXT NOT NULL,
				realized_pnl         TEXT NOT NULL,
				created_at           TEXT NOT NULL DEFAULT (datetime('now'))
			);
			CREATE INDEX IF NOT EXISTS idx_sale_allocations_sell
				ON sale_allocations(sell_transaction_id);
			CREATE INDEX IF NOT EXISTS idx_sale_allocations_lot
				ON sale_allocations(lot_id);

			INSERT OR IGNORE INTO schema_version (version) VALUES (2);
		`)
		if err != nil {
			return fmt.Errorf("migration v2 (ledger): %w", err)
		}
	}

	if version < 3 {
		_, err := db.conn.Exec(`
			CREATE TABLE IF NOT EXISTS daily_pnl (
				id                 INTEGER PRIMARY KEY AUTOINCREMENT,
				owner_id           TEXT NOT NULL,
				symbol             TEXT NOT NULL,
				valuation_date     TEXT NOT NULL,
				quantity           TEXT NOT NULL,
				weighted_avg_cost  TEXT NOT NULL,
				total_cost         TEXT NOT NULL,
				market_price       TEXT,
				market_value       TEXT,
				unrealized_pnl     TEXT,
				unrealized_pnl_pct TEXT,
				realized_pnl_day   TEXT NOT NULL DEFAULT '0',
				price_date         TEXT,
				is_stale_price     INTEGER NOT NULL DEFAULT 0,
				price_source       TEXT,
				created_at         TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at         TEXT NOT NULL DEFAULT (datetime('now')),
				UNIQUE (owner_id, symbol, valuation_date)
			);
			CREATE INDEX IF NOT EXISTS idx_daily_pnl_owner_date
				ON daily_pnl(owner_id, valuation_date);

			INSERT OR IGNORE INTO schema_version (version) VALUES (3);
		`)
		if err != nil {
			return fmt.Errorf("migration v3 (daily pnl): %w", err)
		}
	}

	if version < 4 {
		// GetOpenLots orders by purchase_date, so the open-lots index alone
		// leaves a sort on every sell.
		_, err := db.conn.Exec(`
			CREATE INDEX IF NOT EXISTS idx_position_lots_purchase
				ON position_lots(owner_id, symbol, purchase_date);

			INSERT OR IGNORE INTO schema_version (version) VALUES (4);
		`)
		if err != nil {
			return fmt.Errorf("migration v4 (lot purchase index): %w", err)
		}
	}

	return nil
}
