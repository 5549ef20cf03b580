// Package reconciliation periodically heals drift between the local ledger
// and the exchange. Push events are the fast path; this loop is the safety
// net that catches everything the stream missed.
package reconciliation

import (
	"context"
	"log"
	"time"

	"position-engine/internal/events"
	"position-engine/internal/executor"
	"position-engine/internal/monitor"
	"position-engine/internal/record"
	"position-engine/internal/trade"
	"position-engine/pkg/exchanges/common"
)

// Report summarizes one sync iteration.
type Report struct {
	At              time.Time `json:"at"`
	FullPass        bool      `json:"full_pass"`
	PendingRemoved  int       `json:"pending_removed"`
	ProtectiveFixes int       `json:"protective_fixes"`
	PositionsClosed int       `json:"positions_closed"`
	OrphansCanceled int       `json:"orphans_canceled"`
	Err             string    `json:"error,omitempty"`
}

// Service runs the periodic sync passes.
type Service struct {
	Records *record.Store
	Pending *record.PendingBook
	Linked  *record.LinkedIndex
	Trades  *trade.Service
	Exec    *executor.Executor
	Bus     *events.Bus
	Alerts  trade.Alerter
	Latency *monitor.LatencyHistogram // optional pass-duration histogram

	Interval  time.Duration
	FullEvery int // every Nth tick also reconciles positions and orphans

	failStreak int
}

// Run ticks until the context is cancelled. A failed iteration is skipped
// entirely rather than applied half-way; repeated failures raise an alert.
func (s *Service) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 8 * time.Second
	}
	fullEvery := s.FullEvery
	if fullEvery <= 0 {
		fullEvery = 6
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			full := tick%fullEvery == 0
			report := s.RunOnce(ctx, full)
			if report.Err != "" {
				s.failStreak++
				log.Printf("sync: iteration skipped: %s (streak %d)", report.Err, s.failStreak)
				if s.failStreak == 3 {
					s.Alerts.Warn("SYNC_FAILING", "%d consecutive sync failures: %s", s.failStreak, report.Err)
				}
			} else {
				s.failStreak = 0
			}
			if s.Bus != nil {
				s.Bus.Publish(events.EventSyncReport, report)
			}
		}
	}
}

// RunOnce performs a single sync iteration. Order and conditional-order
// snapshots are fetched once and shared by all passes so every pass sees the
// same exchange view.
func (s *Service) RunOnce(ctx context.Context, full bool) Report {
	timer := monitor.NewTimer(s.Latency)
	defer timer.Stop()

	report := Report{At: time.Now(), FullPass: full}

	open, err := s.Exec.OpenOrders(ctx, "")
	if err != nil {
		report.Err = "open orders: " + err.Error()
		return report
	}
	conditionals, err := s.Exec.OpenConditionalOrders(ctx, "")
	if err != nil {
		report.Err = "open conditional orders: " + err.Error()
		return report
	}

	live := make(map[string]bool, len(open)+len(conditionals))
	for _, o := range open {
		live[o.ExchangeOrderID] = true
	}
	for _, o := range conditionals {
		live[o.AlgoID] = true
	}

	report.PendingRemoved = s.syncPending(ctx, live)
	report.ProtectiveFixes = s.syncProtective(ctx, live)

	if full {
		closed, err := s.syncPositions(ctx)
		if err != nil {
			report.Err = "position risk: " + err.Error()
			return report
		}
		report.PositionsClosed = closed
		report.OrphansCanceled = s.cleanupOrphans(ctx, conditionals)
	}
	return report
}

// syncPending drops pending intents whose exchange order vanished without a
// cancel event reaching us. A silent fill is promoted instead of dropped.
func (s *Service) syncPending(ctx context.Context, live map[string]bool) int {
	removed := 0
	for _, po := range s.Pending.List() {
		exchangeID := po.ExchangeOrderID
		if exchangeID == "" {
			exchangeID = po.ExchangeAlgoID
		}
		if exchangeID == "" || live[exchangeID] {
			continue
		}

		if detail, err := s.Exec.OrderDetail(ctx, po.Symbol, exchangeID); err == nil {
			if detail.Status == common.StatusFilled {
				log.Printf("sync: pending %s filled without event, promoting", po.ID)
				if err := s.Trades.OnEntryFilled(ctx, po, events.OrderEvent{
					Symbol:   po.Symbol,
					OrderID:  exchangeID,
					Status:   common.StatusFilled,
					AvgPrice: detail.AvgPrice,
				}); err != nil {
					log.Printf("sync: promote pending %s: %v", po.ID, err)
				}
				removed++
				continue
			}
		}

		log.Printf("sync: pending %s (%s) gone from exchange, dropping", po.ID, exchangeID)
		s.Trades.OnOrderCancelledOrExpired(ctx, events.OrderEvent{
			Symbol:  po.Symbol,
			OrderID: exchangeID,
			Status:  common.StatusCanceled,
		})
		removed++
	}
	return removed
}

// syncProtective resolves protective handles that are no longer on the
// exchange: a filled TP/SL goes through the close funnel exactly like its
// missed push event would have; a cancelled one is cleared and re-placed.
func (s *Service) syncProtective(ctx context.Context, live map[string]bool) int {
	fixes := 0
	for _, rec := range s.Records.ListOpen() {
		if s.resolveHandle(ctx, rec, rec.TpOrderID, record.PurposeTakeProfit, live) {
			fixes++
			continue // record state changed, re-examine next tick
		}
		if s.resolveHandle(ctx, rec, rec.TpAlgoID, record.PurposeTakeProfit, live) {
			fixes++
			continue
		}
		if s.resolveHandle(ctx, rec, rec.SlAlgoID, record.PurposeStopLoss, live) {
			fixes++
		}
	}
	return fixes
}

// resolveHandle reports true when it changed state for the record.
func (s *Service) resolveHandle(ctx context.Context, rec record.Record, exchangeID string, purpose record.Purpose, live map[string]bool) bool {
	if exchangeID == "" || live[exchangeID] {
		return false
	}

	detail, err := s.Exec.OrderDetail(ctx, rec.Symbol, exchangeID)
	if err != nil {
		log.Printf("sync: lookup %s %s for %s: %v", purpose, exchangeID, rec.Symbol, err)
		return false
	}

	switch detail.Status {
	case common.StatusFilled:
		ev := events.OrderEvent{
			Symbol:   rec.Symbol,
			OrderID:  exchangeID,
			Status:   common.StatusFilled,
			AvgPrice: detail.AvgPrice,
		}
		log.Printf("sync: %s %s filled without event, closing %s", purpose, exchangeID, rec.ID)
		if purpose == record.PurposeTakeProfit {
			s.Trades.OnTpTriggered(ctx, rec, ev)
		} else {
			s.Trades.OnSlTriggered(ctx, rec, ev)
		}
		return true
	case common.StatusCanceled, common.StatusExpired, common.StatusRejected:
		log.Printf("sync: %s %s for open %s was %s, re-placing", purpose, exchangeID, rec.Symbol, detail.Status)
		s.Records.ClearProtectionID(rec.ID, purpose)
		s.Linked.Remove(exchangeID)
		s.Trades.EnsureProtection(ctx, rec.ID)
		return true
	}
	return false
}

// syncPositions closes records whose exchange leg is flat. The close is
// priced at the mark since no fill is known, and the reason stays external.
func (s *Service) syncPositions(ctx context.Context) (int, error) {
	risks, err := s.Exec.PositionRisk(ctx)
	if err != nil {
		return 0, err
	}
	held := make(map[string]float64, len(risks))
	for _, r := range risks {
		held[r.Symbol+"|"+string(r.PositionSide)] += r.Quantity
	}

	closed := 0
	for _, rec := range s.Records.ListOpen() {
		if held[rec.Symbol+"|"+string(rec.PositionSide)] > 0 {
			continue
		}
		log.Printf("sync: %s %s flat on exchange, closing record %s", rec.Symbol, rec.PositionSide, rec.ID)
		s.Trades.OnExternalClose(ctx, rec, record.ReasonExternal)
		closed++
	}
	return closed, nil
}

type legKey struct {
	symbol  string
	side    common.PositionSide
	purpose record.Purpose
}

// cleanupOrphans cancels close-style conditional orders that protect nothing,
// and prunes duplicate protective orders down to the one the ledger recorded.
// When the ledger has no handle for the leg, the newest duplicate is kept.
func (s *Service) cleanupOrphans(ctx context.Context, conditionals []common.OpenConditionalOrder) int {
	recorded := make(map[legKey]string)
	openLegs := make(map[string]bool)
	for _, rec := range s.Records.ListOpen() {
		openLegs[rec.Symbol+"|"+string(rec.PositionSide)] = true
		if rec.TpAlgoID != "" {
			recorded[legKey{rec.Symbol, rec.PositionSide, record.PurposeTakeProfit}] = rec.TpAlgoID
		}
		if rec.SlAlgoID != "" {
			recorded[legKey{rec.Symbol, rec.PositionSide, record.PurposeStopLoss}] = rec.SlAlgoID
		}
	}
	pendingAlgo := make(map[string]bool)
	for _, po := range s.Pending.List() {
		if po.ExchangeAlgoID != "" {
			pendingAlgo[po.ExchangeAlgoID] = true
		}
	}

	canceled := 0
	unrecorded := make(map[legKey][]common.OpenConditionalOrder)
	for _, o := range conditionals {
		if pendingAlgo[o.AlgoID] {
			continue // a conditional entry this engine is waiting on
		}
		closing := o.ReduceOnly || o.Qty == 0 // closePosition orders report qty 0
		if !closing {
			continue
		}

		leg := o.Symbol + "|" + string(o.PositionSide)
		if !openLegs[leg] {
			log.Printf("sync: orphan %s %s on flat %s, cancelling", o.Type, o.AlgoID, leg)
			if err := s.Exec.CancelConditional(ctx, o.Symbol, o.AlgoID); err != nil {
				log.Printf("sync: cancel orphan %s: %v", o.AlgoID, err)
				continue
			}
			canceled++
			continue
		}

		purpose := record.PurposeStopLoss
		if o.Type == common.OrderTypeTakeProfitMarket || o.Type == "TAKE_PROFIT" {
			purpose = record.PurposeTakeProfit
		}
		key := legKey{o.Symbol, o.PositionSide, purpose}
		want := recorded[key]
		if want == "" {
			unrecorded[key] = append(unrecorded[key], o)
			continue
		}
		if want != o.AlgoID {
			log.Printf("sync: duplicate %s %s on %s (keeping %s), cancelling", purpose, o.AlgoID, leg, want)
			if err := s.Exec.CancelConditional(ctx, o.Symbol, o.AlgoID); err != nil {
				log.Printf("sync: cancel duplicate %s: %v", o.AlgoID, err)
				continue
			}
			canceled++
		}
	}

	// Legs whose ledger lost the protective handle: keep the newest duplicate,
	// cancel the rest.
	for key, orders := range unrecorded {
		if len(orders) < 2 {
			continue
		}
		newest := orders[0]
		for _, o := range orders[1:] {
			if o.Time > newest.Time {
				newest = o
			}
		}
		for _, o := range orders {
			if o.AlgoID == newest.AlgoID {
				continue
			}
			log.Printf("sync: duplicate %s %s on %s|%s (keeping newest %s), cancelling",
				key.purpose, o.AlgoID, key.symbol, key.side, newest.AlgoID)
			if err := s.Exec.CancelConditional(ctx, o.Symbol, o.AlgoID); err != nil {
				log.Printf("sync: cancel duplicate %s: %v", o.AlgoID, err)
				continue
			}
			canceled++
		}
	}
	return canceled
}
