package dispatch

import (
	"context"
	"log"

	"position-engine/internal/events"
	"position-engine/internal/record"
)

// handleAccount reacts to position snapshot deltas. A zero-quantity leg that
// still has an open record means the position was closed before (or without)
// its fill event reaching us, so it is closed with an inferred reason; a
// later authoritative fill event may upgrade that reason but never re-prices
// the close.
func (d *Dispatcher) handleAccount(ctx context.Context, au *events.AccountUpdate) {
	if au == nil {
		return
	}
	for _, pos := range au.Positions {
		if pos.Quantity != 0 {
			continue
		}
		for _, rec := range d.Records.OpenBySymbol(pos.Symbol, pos.PositionSide) {
			log.Printf("dispatch: %s %s flat on exchange (reason=%s), inferring close of %s",
				pos.Symbol, pos.PositionSide, au.Reason, rec.ID)
			d.Trades.OnExternalClose(ctx, rec, record.ReasonInferred)
		}
	}
}
