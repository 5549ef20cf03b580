package db

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// ClosedPosition is one row of the append-only position history.
type ClosedPosition struct {
	ID              string
	Symbol          string
	PositionSide    string
	Qty             float64
	EntryPrice      float64
	ClosePrice      float64
	Leverage        int
	Notional        float64
	MarginUsed      float64
	OriginalTpPrice float64
	OriginalSlPrice float64
	Status          string
	CloseReason     string
	EntryCommission float64
	ExitCommission  float64
	RealizedPnl     float64
	Source          string
	OpenTime        time.Time
	CloseTime       time.Time
}

// PendingOrderRow mirrors an in-memory pending order for restart durability.
type PendingOrderRow struct {
	ID              string
	Symbol          string
	PositionSide    string
	Kind            string
	TriggerPrice    float64
	LimitPrice      float64
	Qty             float64
	Leverage        int
	MarginUSDT      float64
	TpPrice         float64
	SlPrice         float64
	ExchangeOrderID string
	ExchangeAlgoID  string
	Source          string
	CreatedAt       time.Time
}

// HistoryStats aggregates the closed-position history.
type HistoryStats struct {
	Total           int
	Wins            int
	Losses          int
	TotalPnl        float64
	TotalCommission float64
}

// InsertClosedPosition appends one closed position. INSERT OR IGNORE keeps
// the table append-only even if a row is re-delivered after a crash replay.
func (d *Database) InsertClosedPosition(ctx context.Context, p ClosedPosition) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT OR IGNORE INTO closed_positions (
			id, symbol, position_side, qty, entry_price, close_price,
			leverage, notional, margin_used, original_tp_price, original_sl_price,
			status, close_reason, entry_commission, exit_commission,
			realized_pnl, source, open_time, close_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`,
		p.ID, p.Symbol, p.PositionSide, p.Qty, p.EntryPrice, p.ClosePrice,
		p.Leverage, p.Notional, p.MarginUsed, p.OriginalTpPrice, p.OriginalSlPrice,
		p.Status, p.CloseReason, p.EntryCommission, p.ExitCommission,
		p.RealizedPnl, p.Source, p.OpenTime, p.CloseTime,
	)
	return err
}

// ListClosedPositions returns recent history, newest first.
func (d *Database) ListClosedPositions(ctx context.Context, limit int) ([]ClosedPosition, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, position_side, qty, entry_price, close_price,
		       leverage, notional, margin_used, original_tp_price, original_sl_price,
		       status, close_reason, entry_commission, exit_commission,
		       realized_pnl, COALESCE(source, ''), open_time, close_time
		FROM closed_positions
		ORDER BY close_time DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []ClosedPosition
	for rows.Next() {
		var p ClosedPosition
		if err := rows.Scan(
			&p.ID, &p.Symbol, &p.PositionSide, &p.Qty, &p.EntryPrice, &p.ClosePrice,
			&p.Leverage, &p.Notional, &p.MarginUsed, &p.OriginalTpPrice, &p.OriginalSlPrice,
			&p.Status, &p.CloseReason, &p.EntryCommission, &p.ExitCommission,
			&p.RealizedPnl, &p.Source, &p.OpenTime, &p.CloseTime,
		); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// CountClosedPositions returns the number of history rows with the given id.
func (d *Database) CountClosedPositions(ctx context.Context, id string) (int, error) {
	var n int
	err := d.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM closed_positions WHERE id = ?`, id).Scan(&n)
	return n, err
}

// GetHistoryStats aggregates realized results over the whole history.
func (d *Database) GetHistoryStats(ctx context.Context) (HistoryStats, error) {
	var s HistoryStats
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN realized_pnl > 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN realized_pnl < 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(realized_pnl), 0),
		       COALESCE(SUM(entry_commission + exit_commission), 0)
		FROM closed_positions
	`).Scan(&s.Total, &s.Wins, &s.Losses, &s.TotalPnl, &s.TotalCommission)
	return s, err
}

// SavePendingOrder upserts a pending-order row.
func (d *Database) SavePendingOrder(ctx context.Context, p PendingOrderRow) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO pending_orders (
			id, symbol, position_side, kind, trigger_price, limit_price,
			qty, leverage, margin_usdt, tp_price, sl_price,
			exchange_order_id, exchange_algo_id, source, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
		ON CONFLICT(id) DO UPDATE SET
			exchange_order_id = excluded.exchange_order_id,
			exchange_algo_id = excluded.exchange_algo_id
	`,
		p.ID, p.Symbol, p.PositionSide, p.Kind, p.TriggerPrice, p.LimitPrice,
		p.Qty, p.Leverage, p.MarginUSDT, p.TpPrice, p.SlPrice,
		p.ExchangeOrderID, p.ExchangeAlgoID, p.Source, p.CreatedAt,
	)
	return err
}

// DeletePendingOrder removes a pending-order row.
func (d *Database) DeletePendingOrder(ctx context.Context, id string) error {
	_, err := d.DB.ExecContext(ctx, `DELETE FROM pending_orders WHERE id = ?`, id)
	return err
}

// ListPendingOrders returns all persisted pending orders.
func (d *Database) ListPendingOrders(ctx context.Context) ([]PendingOrderRow, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, position_side, kind, trigger_price, limit_price,
		       qty, leverage, margin_usdt, tp_price, sl_price,
		       COALESCE(exchange_order_id, ''), COALESCE(exchange_algo_id, ''),
		       COALESCE(source, ''), created_at
		FROM pending_orders`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []PendingOrderRow
	for rows.Next() {
		var p PendingOrderRow
		if err := rows.Scan(
			&p.ID, &p.Symbol, &p.PositionSide, &p.Kind, &p.TriggerPrice, &p.LimitPrice,
			&p.Qty, &p.Leverage, &p.MarginUSDT, &p.TpPrice, &p.SlPrice,
			&p.ExchangeOrderID, &p.ExchangeAlgoID, &p.Source, &p.CreatedAt,
		); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
