package db

import "fmt"

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS closed_positions (
    id TEXT PRIMARY KEY,
    symbol TEXT NOT NULL,
    position_side TEXT NOT NULL,
    qty REAL NOT NULL,
    entry_price REAL NOT NULL,
    close_price REAL NOT NULL,
    leverage INTEGER NOT NULL DEFAULT 1,
    notional REAL NOT NULL DEFAULT 0,
    margin_used REAL NOT NULL DEFAULT 0,
    original_tp_price REAL DEFAULT 0,
    original_sl_price REAL DEFAULT 0,
    status TEXT NOT NULL,
    close_reason TEXT NOT NULL,
    entry_commission REAL DEFAULT 0,
    exit_commission REAL DEFAULT 0,
    realized_pnl REAL NOT NULL,
    source TEXT,
    open_time DATETIME,
    close_time DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_closed_positions_symbol
    ON closed_positions(symbol, close_time);

CREATE TABLE IF NOT EXISTS pending_orders (
    id TEXT PRIMARY KEY,
    symbol TEXT NOT NULL,
    position_side TEXT NOT NULL,
    kind TEXT NOT NULL,
    trigger_price REAL DEFAULT 0,
    limit_price REAL DEFAULT 0,
    qty REAL NOT NULL,
    leverage INTEGER NOT NULL DEFAULT 1,
    margin_usdt REAL DEFAULT 0,
    tp_price REAL DEFAULT 0,
    sl_price REAL DEFAULT 0,
    exchange_order_id TEXT,
    exchange_algo_id TEXT,
    source TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// ApplyMigrations creates tables when missing. Idempotent.
func ApplyMigrations(d *Database) error {
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
