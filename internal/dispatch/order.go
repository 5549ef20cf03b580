package dispatch

import (
	"context"
	"log"

	"position-engine/internal/events"
	"position-engine/pkg/exchanges/common"
)

// handleOrder reacts to plain order transitions: fills drive lifecycle
// changes, cancels and expiries clean up intents and protective handles,
// everything else (NEW acks, partial fills) is noise here.
func (d *Dispatcher) handleOrder(ctx context.Context, sev events.StreamEvent) {
	ou := sev.Order
	if ou == nil || ou.OrderID == "" {
		return
	}

	ev := events.OrderEvent{
		Symbol:       ou.Symbol,
		OrderID:      ou.OrderID,
		Status:       ou.Status,
		Side:         ou.Side,
		PositionSide: ou.PositionSide,
		AvgPrice:     ou.AvgPrice,
		FilledQty:    ou.CumQty,
		Time:         sev.Time,
	}

	switch ou.Status {
	case common.StatusFilled:
		d.dispatchFilled(ctx, ou.OrderID, ev)
	case common.StatusCanceled, common.StatusExpired, common.StatusRejected:
		d.Trades.OnOrderCancelledOrExpired(ctx, ev)
	case common.StatusPartial:
		log.Printf("dispatch: %s order %s partially filled %.8g", ou.Symbol, ou.OrderID, ou.CumQty)
	}
}

// handleAlgo reacts to conditional-order transitions using the algo ID as the
// resolution key. A FILLED conditional means it triggered and its market leg
// executed.
func (d *Dispatcher) handleAlgo(ctx context.Context, sev events.StreamEvent) {
	au := sev.Algo
	if au == nil || au.AlgoID == "" {
		return
	}

	ev := events.OrderEvent{
		Symbol:       au.Symbol,
		AlgoID:       au.AlgoID,
		Status:       au.Status,
		Side:         au.Side,
		PositionSide: au.PositionSide,
		AvgPrice:     au.AvgPrice,
		FilledQty:    au.CumQty,
		Time:         sev.Time,
	}

	switch au.Status {
	case common.StatusFilled:
		d.dispatchFilled(ctx, au.AlgoID, ev)
	case common.StatusCanceled, common.StatusExpired, common.StatusRejected:
		d.Trades.OnOrderCancelledOrExpired(ctx, ev)
	}
}
