package dispatch

import (
	"context"
	"fmt"
	"testing"

	"position-engine/internal/events"
	"position-engine/internal/executor"
	"position-engine/internal/record"
	"position-engine/internal/trade"
	"position-engine/pkg/exchanges/common"
)

type stubGateway struct {
	mark    float64
	details map[string]common.OrderDetail

	nextID      int
	algoCancels []string
}

func newStubGateway() *stubGateway {
	return &stubGateway{mark: 40000, details: map[string]common.OrderDetail{}, nextID: 5000}
}

func (g *stubGateway) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	g.nextID++
	id := fmt.Sprint(g.nextID)
	if req.Type == common.OrderTypeMarket {
		g.details[id] = common.OrderDetail{ExchangeOrderID: id, Status: common.StatusFilled, AvgPrice: g.mark, ExecutedQty: req.Qty}
		return common.OrderResult{ExchangeOrderID: id, Status: common.StatusFilled, AvgPrice: g.mark}, nil
	}
	return common.OrderResult{ExchangeOrderID: id, Status: common.StatusNew}, nil
}

func (g *stubGateway) PlaceConditionalOrder(ctx context.Context, req common.ConditionalRequest) (common.ConditionalResult, error) {
	g.nextID++
	return common.ConditionalResult{AlgoID: fmt.Sprint(g.nextID), Status: common.StatusNew}, nil
}

func (g *stubGateway) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }

func (g *stubGateway) CancelConditionalOrder(ctx context.Context, symbol, algoID string) error {
	g.algoCancels = append(g.algoCancels, algoID)
	return nil
}

func (g *stubGateway) GetOrder(ctx context.Context, symbol, orderID string) (common.OrderDetail, error) {
	if d, ok := g.details[orderID]; ok {
		return d, nil
	}
	return common.OrderDetail{}, fmt.Errorf("order %s not found", orderID)
}

func (g *stubGateway) GetOpenOrders(ctx context.Context, symbol string) ([]common.OpenOrder, error) {
	return nil, nil
}

func (g *stubGateway) GetOpenConditionalOrders(ctx context.Context, symbol string) ([]common.OpenConditionalOrder, error) {
	return nil, nil
}

func (g *stubGateway) GetPositionRisk(ctx context.Context) ([]common.PositionRisk, error) {
	return nil, nil
}

func (g *stubGateway) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	return g.mark, nil
}

func (g *stubGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error { return nil }

func (g *stubGateway) SetPositionSideDual(ctx context.Context, dual bool) error { return nil }

func (g *stubGateway) SymbolFilters(ctx context.Context, symbol string) (common.SymbolFilters, error) {
	return common.SymbolFilters{}, nil
}

type nopHistory struct{ n int }

func (h *nopHistory) Record(rec record.Record) { h.n++ }

type nopAlerts struct{}

func (nopAlerts) Critical(code, format string, args ...any) {}
func (nopAlerts) Warn(code, format string, args ...any)     {}

func newTestDispatcher(gw *stubGateway) (*Dispatcher, *trade.Service, *nopHistory) {
	hist := &nopHistory{}
	svc := &trade.Service{
		Records: record.NewStore(),
		Pending: record.NewPendingBook(nil),
		Linked:  record.NewLinkedIndex(),
		Exec:    executor.New(gw),
		History: hist,
		Alerts:  nopAlerts{},
		Bus:     events.NewBus(),
		Source:  "test",
	}
	d := &Dispatcher{
		Records: svc.Records,
		Pending: svc.Pending,
		Linked:  svc.Linked,
		Trades:  svc,
	}
	return d, svc, hist
}

func orderFill(symbol, orderID string) events.StreamEvent {
	return events.StreamEvent{
		Kind: events.KindOrderUpdate,
		Time: 1700000000000,
		Order: &events.OrderUpdate{
			Symbol:  symbol,
			OrderID: orderID,
			Status:  common.StatusFilled,
		},
	}
}

func TestEntryFillPromotesViaLinkedIndex(t *testing.T) {
	gw := newStubGateway()
	d, svc, _ := newTestDispatcher(gw)
	ctx := context.Background()

	po, err := svc.Pending.Add(ctx, record.PendingOrder{
		Symbol:          "BTCUSDT",
		PositionSide:    common.PositionLong,
		Kind:            record.PendingLimit,
		LimitPrice:      39500,
		Quantity:        0.1,
		Leverage:        10,
		ExchangeOrderID: "777",
	})
	if err != nil {
		t.Fatalf("add pending: %v", err)
	}
	svc.Linked.Put("777", po.ID, record.PurposeEntry)
	gw.details["777"] = common.OrderDetail{ExchangeOrderID: "777", Status: common.StatusFilled, AvgPrice: 39500, ExecutedQty: 0.1}

	d.Handle(ctx, orderFill("BTCUSDT", "777"))

	if len(svc.Records.ListOpen()) != 1 {
		t.Fatal("entry fill did not create an open record")
	}
	if _, ok := svc.Pending.Get(po.ID); ok {
		t.Error("pending intent not removed")
	}
}

func TestTpFillResolvesViaProtectiveHandles(t *testing.T) {
	gw := newStubGateway()
	d, svc, hist := newTestDispatcher(gw)
	ctx := context.Background()

	rec, err := svc.OpenPosition(ctx, trade.OpenRequest{
		Symbol:       "BTCUSDT",
		PositionSide: common.PositionLong,
		MarginUSDT:   400,
		Leverage:     10,
		TpPrice:      42000,
		SlPrice:      39000,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// Drop the index entries so resolution has to fall back to the record scan.
	svc.Linked.RemoveByRecord(rec.ID)
	gw.details[rec.TpOrderID] = common.OrderDetail{ExchangeOrderID: rec.TpOrderID, Status: common.StatusFilled, AvgPrice: 42001}

	d.Handle(ctx, orderFill("BTCUSDT", rec.TpOrderID))

	got, _ := svc.Records.Get(rec.ID)
	if got.Status != record.StatusTpClosed {
		t.Errorf("status = %s, want TP close", got.Status)
	}
	if hist.n != 1 {
		t.Errorf("history writes = %d", hist.n)
	}
}

func TestSlAlgoFillClosesRecord(t *testing.T) {
	gw := newStubGateway()
	d, svc, _ := newTestDispatcher(gw)
	ctx := context.Background()

	rec, _ := svc.OpenPosition(ctx, trade.OpenRequest{
		Symbol:       "BTCUSDT",
		PositionSide: common.PositionLong,
		MarginUSDT:   400,
		Leverage:     10,
		SlPrice:      39000,
	})

	d.Handle(ctx, events.StreamEvent{
		Kind: events.KindAlgoUpdate,
		Algo: &events.AlgoUpdate{
			Symbol:   "BTCUSDT",
			AlgoID:   rec.SlAlgoID,
			Status:   common.StatusFilled,
			AvgPrice: 38990,
		},
	})

	got, _ := svc.Records.Get(rec.ID)
	if got.Status != record.StatusSlClosed || got.CloseReason != record.ReasonStopLoss {
		t.Errorf("close state: %+v", got)
	}
	if got.ClosePrice != 38990 {
		t.Errorf("close price = %v, want stream avg price", got.ClosePrice)
	}
}

func TestUnknownFillIsDropped(t *testing.T) {
	gw := newStubGateway()
	d, svc, hist := newTestDispatcher(gw)

	d.Handle(context.Background(), orderFill("BTCUSDT", "does-not-exist"))

	if len(svc.Records.ListOpen()) != 0 || hist.n != 0 {
		t.Error("unknown fill must not change state")
	}
}

func TestAccountFlatLegInfersClose(t *testing.T) {
	gw := newStubGateway()
	d, svc, hist := newTestDispatcher(gw)
	ctx := context.Background()

	rec, _ := svc.OpenPosition(ctx, trade.OpenRequest{
		Symbol:       "BTCUSDT",
		PositionSide: common.PositionLong,
		MarginUSDT:   400,
		Leverage:     10,
		SlPrice:      39000,
	})

	d.Handle(ctx, events.StreamEvent{
		Kind: events.KindAccountUpdate,
		Account: &events.AccountUpdate{
			Reason: "ORDER",
			Positions: []events.AccountPosition{
				{Symbol: "BTCUSDT", PositionSide: common.PositionLong, Quantity: 0},
			},
		},
	})

	got, _ := svc.Records.Get(rec.ID)
	if got.Status != record.StatusClosedExternal || got.CloseReason != record.ReasonInferred {
		t.Errorf("inferred close not applied: %+v", got)
	}
	if hist.n != 1 {
		t.Errorf("history writes = %d", hist.n)
	}
}

func TestAccountNonFlatLegIsIgnored(t *testing.T) {
	gw := newStubGateway()
	d, svc, _ := newTestDispatcher(gw)
	ctx := context.Background()

	rec, _ := svc.OpenPosition(ctx, trade.OpenRequest{
		Symbol:       "BTCUSDT",
		PositionSide: common.PositionLong,
		MarginUSDT:   400,
		Leverage:     10,
		SlPrice:      39000,
	})

	d.Handle(ctx, events.StreamEvent{
		Kind: events.KindAccountUpdate,
		Account: &events.AccountUpdate{
			Positions: []events.AccountPosition{
				{Symbol: "BTCUSDT", PositionSide: common.PositionLong, Quantity: 0.1},
			},
		},
	})

	got, _ := svc.Records.Get(rec.ID)
	if !got.IsOpen() {
		t.Error("non-flat leg must not close the record")
	}
}

func TestCancelRemovesPendingEntry(t *testing.T) {
	gw := newStubGateway()
	d, svc, _ := newTestDispatcher(gw)
	ctx := context.Background()

	po, _ := svc.Pending.Add(ctx, record.PendingOrder{
		Symbol:          "BTCUSDT",
		PositionSide:    common.PositionLong,
		Kind:            record.PendingLimit,
		LimitPrice:      39500,
		Quantity:        0.1,
		ExchangeOrderID: "888",
	})
	svc.Linked.Put("888", po.ID, record.PurposeEntry)

	d.Handle(ctx, events.StreamEvent{
		Kind: events.KindOrderUpdate,
		Order: &events.OrderUpdate{
			Symbol:  "BTCUSDT",
			OrderID: "888",
			Status:  common.StatusCanceled,
		},
	})

	if _, ok := svc.Pending.Get(po.ID); ok {
		t.Error("cancelled entry intent not removed")
	}
	if _, ok := svc.Linked.Resolve("888"); ok {
		t.Error("linked entry not removed")
	}
}

func TestListenerPanicIsContained(t *testing.T) {
	gw := newStubGateway()
	d, _, _ := newTestDispatcher(gw)

	var seen int
	d.AddListener(func(ev events.StreamEvent) { panic("listener bug") })
	d.AddListener(func(ev events.StreamEvent) { seen++ })

	d.Handle(context.Background(), orderFill("BTCUSDT", "does-not-exist"))

	if seen != 1 {
		t.Errorf("second listener saw %d events, want 1", seen)
	}
}
