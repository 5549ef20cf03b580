// Package dispatch routes normalized user-data stream events to the trade
// service. It owns event identification - deciding which record or pending
// intent an exchange order ID belongs to - but no lifecycle logic of its own.
package dispatch

import (
	"context"
	"log"
	"sync"

	"position-engine/internal/events"
	"position-engine/internal/record"
	"position-engine/internal/trade"
)

// Listener observes every stream event after the primary handler ran.
// Listener errors and panics never affect dispatch.
type Listener func(events.StreamEvent)

// Dispatcher fans stream events into the trade service.
type Dispatcher struct {
	Records *record.Store
	Pending *record.PendingBook
	Linked  *record.LinkedIndex
	Trades  *trade.Service

	mu        sync.RWMutex
	listeners []Listener
}

// AddListener registers a secondary observer.
func (d *Dispatcher) AddListener(fn Listener) {
	d.mu.Lock()
	d.listeners = append(d.listeners, fn)
	d.mu.Unlock()
}

// Handle processes one stream event. The kind switch is exhaustive over the
// closed enum; the stream layer never emits anything else.
func (d *Dispatcher) Handle(ctx context.Context, ev events.StreamEvent) {
	switch ev.Kind {
	case events.KindAccountUpdate:
		d.handleAccount(ctx, ev.Account)
	case events.KindOrderUpdate:
		d.handleOrder(ctx, ev)
	case events.KindAlgoUpdate:
		d.handleAlgo(ctx, ev)
	default:
		log.Printf("dispatch: unhandled stream kind %v", ev.Kind)
	}
	d.notify(ev)
}

func (d *Dispatcher) notify(ev events.StreamEvent) {
	d.mu.RLock()
	listeners := d.listeners
	d.mu.RUnlock()
	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("dispatch: listener panic: %v", r)
				}
			}()
			fn(ev)
		}()
	}
}

// dispatchFilled resolves who owns a filled exchange order and applies the
// matching transition. Resolution order: the linked-order index first (it
// knows the purpose), then the pending book (an entry the index lost, e.g.
// after a restart), then the open records' protective handles. Events that
// resolve to nothing are logged and dropped - the sync loop is the safety
// net, not the event path.
func (d *Dispatcher) dispatchFilled(ctx context.Context, exchangeID string, ev events.OrderEvent) {
	if lo, ok := d.Linked.Resolve(exchangeID); ok {
		switch lo.Purpose {
		case record.PurposeEntry:
			if po, ok := d.Pending.ByExchangeID(exchangeID); ok {
				if err := d.Trades.OnEntryFilled(ctx, po, ev); err != nil {
					log.Printf("dispatch: entry fill %s: %v", exchangeID, err)
				}
				return
			}
			log.Printf("dispatch: linked entry %s has no pending intent, dropped", exchangeID)
			d.Linked.Remove(exchangeID)
		case record.PurposeTakeProfit:
			if rec, ok := d.Records.Get(lo.RecordID); ok {
				d.Trades.OnTpTriggered(ctx, rec, ev)
			}
		case record.PurposeStopLoss:
			if rec, ok := d.Records.Get(lo.RecordID); ok {
				d.Trades.OnSlTriggered(ctx, rec, ev)
			}
		case record.PurposeClose:
			if rec, ok := d.Records.Get(lo.RecordID); ok {
				d.Trades.OnManualCloseFilled(ctx, rec, ev)
			}
		}
		return
	}

	if po, ok := d.Pending.ByExchangeID(exchangeID); ok {
		if err := d.Trades.OnEntryFilled(ctx, po, ev); err != nil {
			log.Printf("dispatch: entry fill %s: %v", exchangeID, err)
		}
		return
	}

	for _, rec := range d.Records.ListOpen() {
		switch exchangeID {
		case rec.TpOrderID, rec.TpAlgoID:
			d.Trades.OnTpTriggered(ctx, rec, ev)
			return
		case rec.SlAlgoID:
			d.Trades.OnSlTriggered(ctx, rec, ev)
			return
		}
	}

	log.Printf("dispatch: fill for unknown order %s on %s, dropped", exchangeID, ev.Symbol)
}
