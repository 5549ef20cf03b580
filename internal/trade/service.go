// Package trade is the reconciliation brain: it applies position lifecycle
// transitions in response to normalized exchange events and funnels every
// close through one idempotent path.
package trade

import (
	"context"
	"fmt"
	"log"

	"position-engine/internal/events"
	"position-engine/internal/executor"
	"position-engine/internal/record"
	"position-engine/pkg/exchanges/common"
)

// HistoryWriter receives each record exactly once, when its close transition
// wins the race in the store.
type HistoryWriter interface {
	Record(rec record.Record)
}

// Alerter surfaces conditions needing follow-up (protection gaps, repeated
// sync failures).
type Alerter interface {
	Critical(code, format string, args ...any)
	Warn(code, format string, args ...any)
}

// Service owns position lifecycle transitions. It is pure logic over the
// record store and the executor; it holds no exchange subscription of its own.
type Service struct {
	Records *record.Store
	Pending *record.PendingBook
	Linked  *record.LinkedIndex
	Exec    *executor.Executor
	History HistoryWriter
	Alerts  Alerter
	Bus     *events.Bus

	Source string // bookkeeping tag stamped on records this engine opens
}

// OpenRequest asks for an immediate market entry with protection targets.
type OpenRequest struct {
	Symbol       string
	PositionSide common.PositionSide
	MarginUSDT   float64
	Leverage     int
	TpPrice      float64
	SlPrice      float64
}

// entrySide maps the position leg to the order side that opens it.
func entrySide(ps common.PositionSide) common.Side {
	if ps == common.PositionLong {
		return common.SideBuy
	}
	return common.SideSell
}

// OpenPosition opens a position at market and attaches protection. The record
// is created from the authoritative fill lookup, not the ack.
func (s *Service) OpenPosition(ctx context.Context, req OpenRequest) (record.Record, error) {
	if err := s.prepareAccount(ctx, req.Symbol, req.Leverage); err != nil {
		return record.Record{}, err
	}

	mark, err := s.Exec.MarkPrice(ctx, req.Symbol)
	if err != nil {
		return record.Record{}, fmt.Errorf("open %s: %w", req.Symbol, err)
	}
	qty := positionQty(req.MarginUSDT, req.Leverage, mark)
	if qty <= 0 {
		return record.Record{}, fmt.Errorf("open %s: margin %.2f yields no quantity", req.Symbol, req.MarginUSDT)
	}

	res := s.Exec.PlaceMarket(ctx, req.Symbol, entrySide(req.PositionSide), req.PositionSide, qty)
	if !res.OK {
		return record.Record{}, fmt.Errorf("open %s: %w", req.Symbol, res.Err)
	}

	entryPrice, commission := s.authoritativeFill(ctx, req.Symbol, res.OrderID, res.AvgPrice, mark)
	rec, err := s.Records.Create(record.CreateSpec{
		Symbol:          req.Symbol,
		PositionSide:    req.PositionSide,
		Quantity:        qty,
		EntryPrice:      entryPrice,
		Leverage:        req.Leverage,
		TpPrice:         req.TpPrice,
		SlPrice:         req.SlPrice,
		EntryCommission: commission,
		Source:          s.Source,
	})
	if err != nil {
		// The exchange position exists; this must be visible, not swallowed.
		s.Alerts.Critical("DUPLICATE_OPEN", "market entry filled for %s %s but ledger refused: %v",
			req.Symbol, req.PositionSide, err)
		return record.Record{}, err
	}

	rec = s.placeProtection(ctx, rec)
	if s.Bus != nil {
		s.Bus.Publish(events.EventPositionOpened, rec)
	}
	log.Printf("trade: opened %s %s qty=%.8g entry=%.8g tp=%.8g sl=%.8g",
		rec.Symbol, rec.PositionSide, rec.Quantity, rec.EntryPrice, rec.TpPrice, rec.SlPrice)
	return rec, nil
}

// EntryOrderRequest asks for an entry at a target price instead of at market.
type EntryOrderRequest struct {
	Symbol       string
	PositionSide common.PositionSide
	Price        float64
	MarginUSDT   float64
	Leverage     int
	TpPrice      float64
	SlPrice      float64
}

// PlaceEntryOrder registers a pending entry and routes it to the exchange via
// the executor's smart routing.
func (s *Service) PlaceEntryOrder(ctx context.Context, req EntryOrderRequest) (record.PendingOrder, error) {
	if err := s.prepareAccount(ctx, req.Symbol, req.Leverage); err != nil {
		return record.PendingOrder{}, err
	}
	qty := positionQty(req.MarginUSDT, req.Leverage, req.Price)
	if qty <= 0 {
		return record.PendingOrder{}, fmt.Errorf("entry %s: margin %.2f yields no quantity", req.Symbol, req.MarginUSDT)
	}

	res := s.Exec.PlaceEntry(ctx, executor.EntryIntent{
		Symbol:       req.Symbol,
		Side:         entrySide(req.PositionSide),
		PositionSide: req.PositionSide,
		Price:        req.Price,
		Qty:          qty,
	})
	if !res.OK {
		return record.PendingOrder{}, fmt.Errorf("entry %s: %w", req.Symbol, res.Err)
	}

	po := record.PendingOrder{
		Symbol:          req.Symbol,
		PositionSide:    req.PositionSide,
		Quantity:        qty,
		Leverage:        req.Leverage,
		MarginUSDT:      req.MarginUSDT,
		TpPrice:         req.TpPrice,
		SlPrice:         req.SlPrice,
		Source:          s.Source,
		ExchangeOrderID: res.OrderID,
		ExchangeAlgoID:  res.AlgoID,
	}
	if res.AlgoID != "" {
		po.Kind = record.PendingConditional
		po.TriggerPrice = req.Price
	} else {
		po.Kind = record.PendingLimit
		po.LimitPrice = req.Price
	}

	po, err := s.Pending.Add(ctx, po)
	if err != nil {
		return record.PendingOrder{}, err
	}
	exchangeID := po.ExchangeOrderID
	if exchangeID == "" {
		exchangeID = po.ExchangeAlgoID
	}
	s.Linked.Put(exchangeID, po.ID, record.PurposeEntry)
	if s.Bus != nil {
		s.Bus.Publish(events.EventPendingPlaced, po)
	}
	return po, nil
}

// CancelPending cancels a resting entry order and removes the intent.
func (s *Service) CancelPending(ctx context.Context, id string) error {
	po, ok := s.Pending.Get(id)
	if !ok {
		return fmt.Errorf("cancel pending: %s not found", id)
	}
	var err error
	if po.ExchangeAlgoID != "" {
		err = s.Exec.CancelConditional(ctx, po.Symbol, po.ExchangeAlgoID)
	} else {
		err = s.Exec.CancelOrder(ctx, po.Symbol, po.ExchangeOrderID)
	}
	if err != nil {
		return fmt.Errorf("cancel pending %s: %w", id, err)
	}
	s.removePending(ctx, po)
	return nil
}

// OnEntryFilled promotes a filled pending order into an open record. The push
// price is only a hint: fill price and commission come from a REST lookup
// keyed by the exchange order ID (commission never rides on push events).
func (s *Service) OnEntryFilled(ctx context.Context, po record.PendingOrder, ev events.OrderEvent) error {
	orderID := ev.OrderID
	if orderID == "" {
		orderID = ev.AlgoID
	}
	if orderID == "" {
		orderID = po.ExchangeOrderID
	}

	hint := ev.AvgPrice
	if hint == 0 {
		hint = po.LimitPrice
	}
	if hint == 0 {
		hint = po.TriggerPrice
	}
	entryPrice, commission := s.authoritativeFill(ctx, po.Symbol, orderID, hint, po.TriggerPrice)

	qty := ev.FilledQty
	if qty == 0 {
		qty = po.Quantity
	}

	rec, err := s.Records.Create(record.CreateSpec{
		Symbol:          po.Symbol,
		PositionSide:    po.PositionSide,
		Quantity:        qty,
		EntryPrice:      entryPrice,
		Leverage:        po.Leverage,
		TpPrice:         po.TpPrice,
		SlPrice:         po.SlPrice,
		EntryCommission: commission,
		Source:          po.Source,
	})
	if err != nil {
		s.Alerts.Critical("DUPLICATE_OPEN", "entry fill for %s %s but ledger refused: %v",
			po.Symbol, po.PositionSide, err)
		s.removePending(ctx, po)
		return err
	}

	// Pending intent is spent regardless of how protection placement goes.
	s.removePending(ctx, po)

	rec = s.placeProtection(ctx, rec)
	if s.Bus != nil {
		s.Bus.Publish(events.EventPositionOpened, rec)
	}
	log.Printf("trade: entry filled %s %s qty=%.8g entry=%.8g fee=%.8g",
		rec.Symbol, rec.PositionSide, rec.Quantity, rec.EntryPrice, commission)
	return nil
}

// OnTpTriggered closes a record after its take-profit executed.
func (s *Service) OnTpTriggered(ctx context.Context, rec record.Record, ev events.OrderEvent) {
	s.closeRecord(ctx, rec, &ev, record.StatusTpClosed, record.ReasonTakeProfit)
}

// OnSlTriggered closes a record after its stop-loss executed.
func (s *Service) OnSlTriggered(ctx context.Context, rec record.Record, ev events.OrderEvent) {
	s.closeRecord(ctx, rec, &ev, record.StatusSlClosed, record.ReasonStopLoss)
}

// OnManualCloseFilled closes a record after an explicit close order filled.
func (s *Service) OnManualCloseFilled(ctx context.Context, rec record.Record, ev events.OrderEvent) {
	s.closeRecord(ctx, rec, &ev, record.StatusManualClosed, record.ReasonManual)
}

// OnExternalClose closes a record that the exchange reports flat without any
// captured fill event. The reason stays inferred so a later authoritative
// event may upgrade it (metadata only).
func (s *Service) OnExternalClose(ctx context.Context, rec record.Record, reason record.CloseReason) {
	if reason == "" {
		reason = record.ReasonExternal
	}
	s.closeRecord(ctx, rec, nil, record.StatusClosedExternal, reason)
}

// OnOrderCancelledOrExpired reacts to a cancel/expire of an order the engine
// placed: entry intents are dropped, protective handles are cleared. Core
// fields of an OPEN record are never touched here.
func (s *Service) OnOrderCancelledOrExpired(ctx context.Context, ev events.OrderEvent) {
	exchangeID := ev.OrderID
	if exchangeID == "" {
		exchangeID = ev.AlgoID
	}

	if po, ok := s.Pending.ByExchangeID(exchangeID); ok {
		log.Printf("trade: pending entry %s (%s) %s on exchange", po.ID, exchangeID, ev.Status)
		s.removePending(ctx, po)
		return
	}

	if lo, ok := s.Linked.Resolve(exchangeID); ok {
		switch lo.Purpose {
		case record.PurposeTakeProfit, record.PurposeStopLoss:
			s.Records.ClearProtectionID(lo.RecordID, lo.Purpose)
			if rec, ok := s.Records.Get(lo.RecordID); ok && rec.IsOpen() {
				s.Alerts.Warn("PROTECTION_CANCELLED", "%s order %s for open %s %s was cancelled",
					lo.Purpose, exchangeID, rec.Symbol, rec.PositionSide)
			}
		}
		s.Linked.Remove(exchangeID)
	}
}

// CloseManually flattens an open position at market and funnels the close.
func (s *Service) CloseManually(ctx context.Context, recordID string) (record.Record, error) {
	rec, ok := s.Records.Get(recordID)
	if !ok {
		return record.Record{}, fmt.Errorf("close: record %s not found", recordID)
	}
	if !rec.IsOpen() {
		return rec, nil
	}

	res := s.Exec.PlaceMarket(ctx, rec.Symbol, rec.PositionSide.CloseSide(), rec.PositionSide, rec.Quantity)
	if !res.OK {
		return rec, fmt.Errorf("close %s: %w", rec.Symbol, res.Err)
	}
	ev := events.OrderEvent{
		Symbol:   rec.Symbol,
		OrderID:  res.OrderID,
		Status:   res.Status,
		AvgPrice: res.AvgPrice,
	}
	s.OnManualCloseFilled(ctx, rec, ev)
	closed, _ := s.Records.Get(recordID)
	return closed, nil
}

// closeRecord is the single close funnel: resolve exit price and commission,
// cancel the sibling protective order, perform the idempotent store close,
// then emit exactly one history write. Every close path in the engine - push
// events, sync passes, manual closes - converges here, which is what makes
// duplicate delivery safe.
func (s *Service) closeRecord(ctx context.Context, stale record.Record, ev *events.OrderEvent, status record.Status, reason record.CloseReason) {
	rec, ok := s.Records.Get(stale.ID)
	if !ok {
		log.Printf("trade: close for unknown record %s dropped", stale.ID)
		return
	}
	if !rec.IsOpen() {
		// Late authoritative event for an inferred close: upgrade the reason,
		// never the numbers.
		if reason != record.ReasonInferred && reason != record.ReasonExternal {
			if s.Records.UpgradeCloseReason(rec.ID, status, reason) {
				log.Printf("trade: upgraded close reason of %s to %s", rec.ID, reason)
			}
		}
		return
	}

	exitPrice, exitCommission := s.resolveExit(ctx, rec, ev, reason)
	s.cancelSiblings(ctx, rec, reason)

	pnl := RealizedPnl(rec.PositionSide, rec.Quantity, rec.EntryPrice, exitPrice,
		rec.EntryCommission, exitCommission)
	closed, closedNow := s.Records.Close(rec.ID, exitPrice, status, reason, exitCommission, pnl)
	if !closedNow {
		// Lost the race against a concurrent close path; the winner wrote history.
		return
	}

	s.Linked.RemoveByRecord(closed.ID)
	s.History.Record(closed)
	if s.Bus != nil {
		s.Bus.Publish(events.EventPositionClosed, closed)
	}
	log.Printf("trade: closed %s %s reason=%s exit=%.8g pnl=%.8g",
		closed.Symbol, closed.PositionSide, reason, exitPrice, pnl)
}

// resolveExit picks the best available exit price and commission: REST lookup
// by order ID first, then the event's price, then the record's own target,
// then the mark price.
func (s *Service) resolveExit(ctx context.Context, rec record.Record, ev *events.OrderEvent, reason record.CloseReason) (price, commission float64) {
	if ev != nil {
		orderID := ev.OrderID
		if orderID == "" {
			orderID = ev.AlgoID
		}
		if orderID != "" {
			if detail, err := s.Exec.OrderDetail(ctx, rec.Symbol, orderID); err == nil && detail.AvgPrice > 0 {
				return detail.AvgPrice, detail.Commission
			} else if err != nil {
				log.Printf("trade: exit lookup %s %s failed: %v", rec.Symbol, orderID, err)
			}
		}
		if ev.AvgPrice > 0 {
			return ev.AvgPrice, 0
		}
	}

	switch reason {
	case record.ReasonTakeProfit:
		if rec.TpPrice > 0 {
			return rec.TpPrice, 0
		}
	case record.ReasonStopLoss:
		if rec.SlPrice > 0 {
			return rec.SlPrice, 0
		}
	}

	if mark, err := s.Exec.MarkPrice(ctx, rec.Symbol); err == nil && mark > 0 {
		return mark, 0
	}
	return rec.EntryPrice, 0
}

// cancelSiblings best-effort cancels whatever protective orders remain after
// one of them fired. Failures are logged, never block the close; the next
// sync pass sweeps leftovers.
func (s *Service) cancelSiblings(ctx context.Context, rec record.Record, reason record.CloseReason) {
	if reason != record.ReasonTakeProfit {
		if err := s.Exec.CancelOrder(ctx, rec.Symbol, rec.TpOrderID); err != nil {
			log.Printf("trade: cancel TP order %s: %v", rec.TpOrderID, err)
		}
		if err := s.Exec.CancelConditional(ctx, rec.Symbol, rec.TpAlgoID); err != nil {
			log.Printf("trade: cancel TP algo %s: %v", rec.TpAlgoID, err)
		}
	}
	if reason != record.ReasonStopLoss {
		if err := s.Exec.CancelConditional(ctx, rec.Symbol, rec.SlAlgoID); err != nil {
			log.Printf("trade: cancel SL algo %s: %v", rec.SlAlgoID, err)
		}
	}
}

// authoritativeFill resolves the true fill price and commission over REST,
// falling back to the hint price when the lookup fails.
func (s *Service) authoritativeFill(ctx context.Context, symbol, orderID string, hint, fallback float64) (price, commission float64) {
	if orderID != "" {
		if detail, err := s.Exec.OrderDetail(ctx, symbol, orderID); err == nil && detail.AvgPrice > 0 {
			return detail.AvgPrice, detail.Commission
		} else if err != nil {
			log.Printf("trade: fill lookup %s %s failed: %v", symbol, orderID, err)
		}
	}
	if hint > 0 {
		return hint, 0
	}
	return fallback, 0
}

func (s *Service) prepareAccount(ctx context.Context, symbol string, leverage int) error {
	if err := s.Exec.EnsureHedgeMode(ctx); err != nil {
		return err
	}
	return s.Exec.EnsureLeverage(ctx, symbol, leverage)
}

func (s *Service) removePending(ctx context.Context, po record.PendingOrder) {
	if po.ExchangeOrderID != "" {
		s.Linked.Remove(po.ExchangeOrderID)
	}
	if po.ExchangeAlgoID != "" {
		s.Linked.Remove(po.ExchangeAlgoID)
	}
	s.Pending.Remove(ctx, po.ID)
	if s.Bus != nil {
		s.Bus.Publish(events.EventPendingRemoved, po)
	}
}

// RealizedPnl books profit net of entry and exit commissions.
func RealizedPnl(side common.PositionSide, qty, entry, exit, entryFee, exitFee float64) float64 {
	var gross float64
	if side == common.PositionLong {
		gross = (exit - entry) * qty
	} else {
		gross = (entry - exit) * qty
	}
	return gross - entryFee - exitFee
}

func positionQty(marginUSDT float64, leverage int, price float64) float64 {
	if price <= 0 || marginUSDT <= 0 {
		return 0
	}
	if leverage <= 0 {
		leverage = 1
	}
	return marginUSDT * float64(leverage) / price
}
