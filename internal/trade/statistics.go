package trade

import (
	"context"

	"position-engine/pkg/db"
)

// Statistics is a point-in-time view of engine state and realized results.
type Statistics struct {
	OpenPositions   int     `json:"open_positions"`
	PendingOrders   int     `json:"pending_orders"`
	ClosedTotal     int     `json:"closed_total"`
	Wins            int     `json:"wins"`
	Losses          int     `json:"losses"`
	WinRate         float64 `json:"win_rate"`
	TotalPnl        float64 `json:"total_pnl"`
	TotalCommission float64 `json:"total_commission"`
	OpenNotional    float64 `json:"open_notional"`
	OpenMargin      float64 `json:"open_margin"`
}

// Statistics aggregates the in-memory ledger with the persisted history.
func (s *Service) Statistics(ctx context.Context, database *db.Database) (Statistics, error) {
	stats := Statistics{
		PendingOrders: len(s.Pending.List()),
	}
	for _, rec := range s.Records.ListOpen() {
		stats.OpenPositions++
		stats.OpenNotional += rec.Notional
		stats.OpenMargin += rec.MarginUsed
	}

	hs, err := database.GetHistoryStats(ctx)
	if err != nil {
		return stats, err
	}
	stats.ClosedTotal = hs.Total
	stats.Wins = hs.Wins
	stats.Losses = hs.Losses
	stats.TotalPnl = hs.TotalPnl
	stats.TotalCommission = hs.TotalCommission
	if hs.Total > 0 {
		stats.WinRate = float64(hs.Wins) / float64(hs.Total)
	}
	return stats, nil
}
