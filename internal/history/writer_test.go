package history

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"position-engine/internal/record"
	"position-engine/pkg/db"
	"position-engine/pkg/exchanges/common"
)

func testDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}

func closedRecord(id string) record.Record {
	now := time.Now()
	return record.Record{
		ID:           id,
		Symbol:       "BTCUSDT",
		PositionSide: common.PositionLong,
		Quantity:     0.1,
		EntryPrice:   40000,
		ClosePrice:   42000,
		Leverage:     10,
		Notional:     4000,
		MarginUsed:   400,
		Status:       record.StatusTpClosed,
		CloseReason:  record.ReasonTakeProfit,
		RealizedPnl:  198,
		Source:       "test",
		OpenTime:     now.Add(-time.Hour),
		CloseTime:    now,
	}
}

func TestWriterDrainsQueueOnClose(t *testing.T) {
	database := testDB(t)
	w := NewWriter(database, 32)

	for i := 0; i < 10; i++ {
		w.Record(closedRecord(fmt.Sprintf("rec-%d", i)))
	}
	w.Close()

	rows, err := database.ListClosedPositions(context.Background(), 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 10 {
		t.Fatalf("rows = %d, want 10", len(rows))
	}
}

func TestWriterPersistsFields(t *testing.T) {
	database := testDB(t)
	w := NewWriter(database, 8)

	w.Record(closedRecord("rec-1"))
	w.Close()

	rows, err := database.ListClosedPositions(context.Background(), 10)
	if err != nil || len(rows) != 1 {
		t.Fatalf("list: %v, rows=%d", err, len(rows))
	}
	got := rows[0]
	if got.ID != "rec-1" || got.Symbol != "BTCUSDT" || got.PositionSide != "LONG" {
		t.Errorf("identity fields: %+v", got)
	}
	if got.EntryPrice != 40000 || got.ClosePrice != 42000 || got.RealizedPnl != 198 {
		t.Errorf("numeric fields: %+v", got)
	}
	if got.Status != string(record.StatusTpClosed) || got.CloseReason != string(record.ReasonTakeProfit) {
		t.Errorf("close fields: %+v", got)
	}
}

func TestDuplicateRecordWrittenOnce(t *testing.T) {
	database := testDB(t)
	w := NewWriter(database, 8)

	rec := closedRecord("rec-dup")
	w.Record(rec)
	w.Record(rec)
	w.Close()

	n, err := database.CountClosedPositions(context.Background(), "rec-dup")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows for rec-dup = %d, want 1", n)
	}
}

func TestConcurrentRecordAndClose(t *testing.T) {
	database := testDB(t)
	w := NewWriter(database, 4)

	const n = 24
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			w.Record(closedRecord(fmt.Sprintf("rec-%d", i)))
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		w.Close()
	}()
	close(start)
	wg.Wait()
	w.Close()

	// Every close lands, whether queued, inline on overflow, or inline
	// because shutdown won the race.
	rows, err := database.ListClosedPositions(context.Background(), n+1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != n {
		t.Fatalf("rows = %d, want %d", len(rows), n)
	}
}

func TestRecordAfterCloseWritesInline(t *testing.T) {
	database := testDB(t)
	w := NewWriter(database, 8)
	w.Close()

	// Even after shutdown a close must not be lost.
	w.Record(closedRecord("rec-late"))

	n, err := database.CountClosedPositions(context.Background(), "rec-late")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows for rec-late = %d, want 1", n)
	}
}
