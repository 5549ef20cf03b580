package db

import (
	"context"
	"testing"
	"time"
)

func testDB(t *testing.T) *Database {
	t.Helper()
	d, err := New(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := ApplyMigrations(d); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return d
}

func TestMigrationsAreIdempotent(t *testing.T) {
	d := testDB(t)
	if err := ApplyMigrations(d); err != nil {
		t.Fatalf("second migration: %v", err)
	}
}

func TestInsertClosedPositionIgnoresDuplicates(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	p := ClosedPosition{
		ID:           "rec-1",
		Symbol:       "BTCUSDT",
		PositionSide: "LONG",
		Qty:          0.1,
		EntryPrice:   40000,
		ClosePrice:   42000,
		Leverage:     10,
		Status:       "TP_CLOSED",
		CloseReason:  "TAKE_PROFIT",
		RealizedPnl:  198,
		OpenTime:     time.Now().Add(-time.Hour),
		CloseTime:    time.Now(),
	}
	if err := d.InsertClosedPosition(ctx, p); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Replays after a crash must not double-book.
	p.RealizedPnl = -1
	if err := d.InsertClosedPosition(ctx, p); err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}

	rows, err := d.ListClosedPositions(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].RealizedPnl != 198 {
		t.Errorf("first write must win: pnl = %v", rows[0].RealizedPnl)
	}
}

func TestListClosedPositionsNewestFirst(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "mid", "new"} {
		err := d.InsertClosedPosition(ctx, ClosedPosition{
			ID:           id,
			Symbol:       "BTCUSDT",
			PositionSide: "LONG",
			Qty:          0.1,
			EntryPrice:   40000,
			ClosePrice:   41000,
			Status:       "MANUAL_CLOSED",
			CloseReason:  "MANUAL",
			RealizedPnl:  float64(i),
			OpenTime:     base,
			CloseTime:    base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	rows, err := d.ListClosedPositions(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want limit 2", len(rows))
	}
	if rows[0].ID != "new" || rows[1].ID != "mid" {
		t.Errorf("order = %s, %s; want new, mid", rows[0].ID, rows[1].ID)
	}
}

func TestGetHistoryStats(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	inserts := []struct {
		id   string
		pnl  float64
		fees float64
	}{
		{"w1", 100, 2},
		{"w2", 50, 1},
		{"l1", -30, 1},
	}
	for _, in := range inserts {
		err := d.InsertClosedPosition(ctx, ClosedPosition{
			ID:              in.id,
			Symbol:          "BTCUSDT",
			PositionSide:    "LONG",
			Qty:             0.1,
			EntryPrice:      40000,
			ClosePrice:      41000,
			Status:          "TP_CLOSED",
			CloseReason:     "TAKE_PROFIT",
			RealizedPnl:     in.pnl,
			EntryCommission: in.fees / 2,
			ExitCommission:  in.fees / 2,
			OpenTime:        time.Now(),
			CloseTime:       time.Now(),
		})
		if err != nil {
			t.Fatalf("insert %s: %v", in.id, err)
		}
	}

	s, err := d.GetHistoryStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if s.Total != 3 || s.Wins != 2 || s.Losses != 1 {
		t.Errorf("counts = %+v", s)
	}
	if s.TotalPnl != 120 || s.TotalCommission != 4 {
		t.Errorf("sums = %+v", s)
	}
}

func TestHistoryStatsOnEmptyTable(t *testing.T) {
	d := testDB(t)
	s, err := d.GetHistoryStats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if s.Total != 0 || s.TotalPnl != 0 {
		t.Errorf("empty stats = %+v", s)
	}
}

func TestPendingOrderRoundTrip(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	row := PendingOrderRow{
		ID:              "po-1",
		Symbol:          "ETHUSDT",
		PositionSide:    "SHORT",
		Kind:            "CONDITIONAL",
		TriggerPrice:    2600,
		Qty:             1.5,
		Leverage:        5,
		MarginUSDT:      780,
		TpPrice:         2400,
		SlPrice:         2700,
		ExchangeAlgoID:  "algo-9",
		Source:          "api",
		CreatedAt:       time.Now(),
	}
	if err := d.SavePendingOrder(ctx, row); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Upsert refreshes exchange handles once the order is routed.
	row.ExchangeOrderID = "ord-7"
	if err := d.SavePendingOrder(ctx, row); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rows, err := d.ListPendingOrders(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	got := rows[0]
	if got.ID != "po-1" || got.Kind != "CONDITIONAL" || got.TriggerPrice != 2600 {
		t.Errorf("fields: %+v", got)
	}
	if got.ExchangeOrderID != "ord-7" || got.ExchangeAlgoID != "algo-9" {
		t.Errorf("handles not upserted: %+v", got)
	}

	if err := d.DeletePendingOrder(ctx, "po-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	rows, _ = d.ListPendingOrders(ctx)
	if len(rows) != 0 {
		t.Errorf("rows after delete = %d", len(rows))
	}
}

func TestNewRejectsEmptyPath(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("empty path must fail")
	}
}
