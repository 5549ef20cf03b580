package record

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"position-engine/pkg/db"
	"position-engine/pkg/exchanges/common"
)

// PendingBook keeps entry intents in memory and mirrors them to the database
// so a restart does not lose track of orders resting on the exchange.
type PendingBook struct {
	mu     sync.Mutex
	orders map[string]*PendingOrder // id -> order
	db     *db.Database
}

// NewPendingBook creates a pending-order book; database may be nil in tests.
func NewPendingBook(database *db.Database) *PendingBook {
	return &PendingBook{
		orders: make(map[string]*PendingOrder),
		db:     database,
	}
}

// Load seeds the book from the database on startup.
func (b *PendingBook) Load(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	rows, err := b.db.ListPendingOrders(ctx)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, row := range rows {
		b.orders[row.ID] = &PendingOrder{
			ID:              row.ID,
			Symbol:          row.Symbol,
			PositionSide:    common.PositionSide(row.PositionSide),
			Kind:            PendingKind(row.Kind),
			TriggerPrice:    row.TriggerPrice,
			LimitPrice:      row.LimitPrice,
			Quantity:        row.Qty,
			Leverage:        row.Leverage,
			MarginUSDT:      row.MarginUSDT,
			TpPrice:         row.TpPrice,
			SlPrice:         row.SlPrice,
			ExchangeOrderID: row.ExchangeOrderID,
			ExchangeAlgoID:  row.ExchangeAlgoID,
			Source:          row.Source,
			CreatedAt:       row.CreatedAt,
		}
	}
	return nil
}

// Add registers a new pending order, assigning an ID when absent.
func (b *PendingBook) Add(ctx context.Context, po PendingOrder) (PendingOrder, error) {
	if po.ID == "" {
		po.ID = uuid.NewString()
	}
	if po.CreatedAt.IsZero() {
		po.CreatedAt = time.Now()
	}
	if po.ExchangeOrderID == "" && po.ExchangeAlgoID == "" {
		return PendingOrder{}, fmt.Errorf("pending book: order %s has no exchange handle", po.ID)
	}

	b.mu.Lock()
	b.orders[po.ID] = &po
	b.mu.Unlock()

	b.persist(ctx, po)
	return po, nil
}

// Get returns the pending order with the given id.
func (b *PendingBook) Get(id string) (PendingOrder, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	po, ok := b.orders[id]
	if !ok {
		return PendingOrder{}, false
	}
	return *po, true
}

// ByExchangeID resolves a pending order from either its plain order ID or its
// conditional (algo) ID.
func (b *PendingBook) ByExchangeID(exchangeID string) (PendingOrder, bool) {
	if exchangeID == "" {
		return PendingOrder{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, po := range b.orders {
		if po.ExchangeOrderID == exchangeID || po.ExchangeAlgoID == exchangeID {
			return *po, true
		}
	}
	return PendingOrder{}, false
}

// List returns a snapshot of all pending orders.
func (b *PendingBook) List() []PendingOrder {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PendingOrder, 0, len(b.orders))
	for _, po := range b.orders {
		out = append(out, *po)
	}
	return out
}

// Remove deletes a pending order once it leaves NEW (filled, cancelled,
// expired or rejected).
func (b *PendingBook) Remove(ctx context.Context, id string) {
	b.mu.Lock()
	_, ok := b.orders[id]
	delete(b.orders, id)
	b.mu.Unlock()

	if ok && b.db != nil {
		if err := b.db.DeletePendingOrder(ctx, id); err != nil {
			log.Printf("pending book: delete %s: %v", id, err)
		}
	}
}

func (b *PendingBook) persist(ctx context.Context, po PendingOrder) {
	if b.db == nil {
		return
	}
	row := db.PendingOrderRow{
		ID:              po.ID,
		Symbol:          po.Symbol,
		PositionSide:    string(po.PositionSide),
		Kind:            string(po.Kind),
		TriggerPrice:    po.TriggerPrice,
		LimitPrice:      po.LimitPrice,
		Qty:             po.Quantity,
		Leverage:        po.Leverage,
		MarginUSDT:      po.MarginUSDT,
		TpPrice:         po.TpPrice,
		SlPrice:         po.SlPrice,
		ExchangeOrderID: po.ExchangeOrderID,
		ExchangeAlgoID:  po.ExchangeAlgoID,
		Source:          po.Source,
		CreatedAt:       po.CreatedAt,
	}
	if err := b.db.SavePendingOrder(ctx, row); err != nil {
		log.Printf("pending book: persist %s: %v", po.ID, err)
	}
}
