// Package history persists closed positions. Writes are queued so the close
// funnel never blocks on disk.
package history

import (
	"context"
	"log"
	"sync"
	"time"

	"position-engine/internal/record"
	"position-engine/pkg/db"
)

// Writer drains closed records into the closed_positions table on a
// background goroutine. Record never blocks: when the queue is full the row
// is written inline instead of dropped, since history is the system of record
// for realized results.
type Writer struct {
	db    *db.Database
	queue chan record.Record

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewWriter starts a writer with the given queue depth.
func NewWriter(database *db.Database, queueSize int) *Writer {
	if queueSize <= 0 {
		queueSize = 256
	}
	w := &Writer{
		db:    database,
		queue: make(chan record.Record, queueSize),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Record enqueues one closed record. The enqueue and Close's channel close are
// serialized under the mutex, so a record arriving during shutdown takes the
// inline path instead of hitting a closed channel.
func (w *Writer) Record(rec record.Record) {
	w.mu.Lock()
	if !w.closed {
		select {
		case w.queue <- rec:
			w.mu.Unlock()
			return
		default:
			log.Printf("history: queue full, writing %s inline", rec.ID)
		}
	}
	w.mu.Unlock()
	w.write(rec)
}

// Close stops the worker after draining everything already queued.
func (w *Writer) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Writer) run() {
	defer w.wg.Done()
	for rec := range w.queue {
		w.write(rec)
	}
}

func (w *Writer) write(rec record.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := w.db.InsertClosedPosition(ctx, db.ClosedPosition{
		ID:              rec.ID,
		Symbol:          rec.Symbol,
		PositionSide:    string(rec.PositionSide),
		Qty:             rec.Quantity,
		EntryPrice:      rec.EntryPrice,
		ClosePrice:      rec.ClosePrice,
		Leverage:        rec.Leverage,
		Notional:        rec.Notional,
		MarginUsed:      rec.MarginUsed,
		OriginalTpPrice: rec.OriginalTpPrice,
		OriginalSlPrice: rec.OriginalSlPrice,
		Status:          string(rec.Status),
		CloseReason:     string(rec.CloseReason),
		EntryCommission: rec.EntryCommission,
		ExitCommission:  rec.ExitCommission,
		RealizedPnl:     rec.RealizedPnl,
		Source:          rec.Source,
		OpenTime:        rec.OpenTime,
		CloseTime:       rec.CloseTime,
	})
	if err != nil {
		log.Printf("history: persist %s failed: %v", rec.ID, err)
	}
}
