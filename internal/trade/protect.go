package trade

import (
	"context"
	"fmt"
	"log"

	"position-engine/internal/record"
	"position-engine/pkg/exchanges/common"
)

// placeProtection attaches TP and SL to a freshly opened record and returns
// the record with its protective handles filled in.
//
// The TP prefers a resting reduce-side limit at the target (maker economics);
// if the venue rejects it - usually because the target is already through the
// mark - it falls back to a conditional TAKE_PROFIT_MARKET. The SL is always
// a conditional STOP_MARKET with closePosition, so it flattens whatever size
// the leg has when it fires.
func (s *Service) placeProtection(ctx context.Context, rec record.Record) record.Record {
	closeSide := rec.PositionSide.CloseSide()

	if rec.TpPrice > 0 {
		res := s.Exec.PlaceLimit(ctx, rec.Symbol, closeSide, rec.PositionSide, rec.TpPrice, rec.Quantity)
		if res.OK {
			rec.TpOrderID = res.OrderID
		} else {
			log.Printf("trade: TP limit for %s %s rejected (%v), falling back to conditional",
				rec.Symbol, rec.PositionSide, res.Err)
			res = s.Exec.PlaceConditional(ctx, common.ConditionalRequest{
				Symbol:        rec.Symbol,
				Side:          closeSide,
				Type:          common.OrderTypeTakeProfitMarket,
				TriggerPrice:  rec.TpPrice,
				ClosePosition: true,
				PositionSide:  rec.PositionSide,
			})
			if res.OK {
				rec.TpAlgoID = res.AlgoID
			} else {
				s.Alerts.Warn("TP_PLACEMENT_FAILED", "no TP on %s %s: %v",
					rec.Symbol, rec.PositionSide, res.Err)
			}
		}
		if id := firstNonEmpty(rec.TpOrderID, rec.TpAlgoID); id != "" {
			s.Linked.Put(id, rec.ID, record.PurposeTakeProfit)
		}
	}

	if rec.SlPrice > 0 {
		res := s.Exec.PlaceConditional(ctx, common.ConditionalRequest{
			Symbol:        rec.Symbol,
			Side:          closeSide,
			Type:          common.OrderTypeStopMarket,
			TriggerPrice:  rec.SlPrice,
			ClosePosition: true,
			PositionSide:  rec.PositionSide,
		})
		if res.OK {
			rec.SlAlgoID = res.AlgoID
			s.Linked.Put(res.AlgoID, rec.ID, record.PurposeStopLoss)
		} else {
			// An unprotected downside is the one state that must never pass
			// silently.
			s.Alerts.Critical("SL_PLACEMENT_FAILED", "no SL on %s %s: %v",
				rec.Symbol, rec.PositionSide, res.Err)
		}
	}

	s.Records.Update(rec.ID, func(r *record.Record) {
		r.TpOrderID = rec.TpOrderID
		r.TpAlgoID = rec.TpAlgoID
		r.SlAlgoID = rec.SlAlgoID
	})
	if updated, ok := s.Records.Get(rec.ID); ok {
		return updated
	}
	return rec
}

// EnsureProtection re-places any protective order a live record is missing.
// The sync loop calls this after a cancel was observed or a placement failed.
func (s *Service) EnsureProtection(ctx context.Context, recordID string) {
	rec, ok := s.Records.Get(recordID)
	if !ok || !rec.IsOpen() {
		return
	}
	needTp := rec.TpPrice > 0 && !rec.HasLiveTp()
	needSl := rec.SlPrice > 0 && rec.SlAlgoID == ""
	if !needTp && !needSl {
		return
	}

	closeSide := rec.PositionSide.CloseSide()
	if needTp {
		res := s.Exec.PlaceLimit(ctx, rec.Symbol, closeSide, rec.PositionSide, rec.TpPrice, rec.Quantity)
		var id string
		if res.OK {
			id = res.OrderID
			s.Records.Update(rec.ID, func(r *record.Record) { r.TpOrderID = id })
		} else {
			res = s.Exec.PlaceConditional(ctx, common.ConditionalRequest{
				Symbol:        rec.Symbol,
				Side:          closeSide,
				Type:          common.OrderTypeTakeProfitMarket,
				TriggerPrice:  rec.TpPrice,
				ClosePosition: true,
				PositionSide:  rec.PositionSide,
			})
			if res.OK {
				id = res.AlgoID
				s.Records.Update(rec.ID, func(r *record.Record) { r.TpAlgoID = id })
			}
		}
		if id != "" {
			s.Linked.Put(id, rec.ID, record.PurposeTakeProfit)
			log.Printf("trade: restored TP for %s %s at %.8g", rec.Symbol, rec.PositionSide, rec.TpPrice)
		}
	}
	if needSl {
		res := s.Exec.PlaceConditional(ctx, common.ConditionalRequest{
			Symbol:        rec.Symbol,
			Side:          closeSide,
			Type:          common.OrderTypeStopMarket,
			TriggerPrice:  rec.SlPrice,
			ClosePosition: true,
			PositionSide:  rec.PositionSide,
		})
		if res.OK {
			s.Records.Update(rec.ID, func(r *record.Record) { r.SlAlgoID = res.AlgoID })
			s.Linked.Put(res.AlgoID, rec.ID, record.PurposeStopLoss)
			log.Printf("trade: restored SL for %s %s at %.8g", rec.Symbol, rec.PositionSide, rec.SlPrice)
		} else {
			s.Alerts.Critical("SL_PLACEMENT_FAILED", "still no SL on %s %s: %v",
				rec.Symbol, rec.PositionSide, res.Err)
		}
	}
}

// AdjustProtection moves the TP and/or SL target of a live record. Pass 0 to
// leave a target untouched. The old exchange representation is cancelled
// before the new one is placed; the original targets set at open are kept for
// accounting.
func (s *Service) AdjustProtection(ctx context.Context, recordID string, newTp, newSl float64) (record.Record, error) {
	rec, ok := s.Records.Get(recordID)
	if !ok {
		return record.Record{}, fmt.Errorf("adjust: record %s not found", recordID)
	}
	if !rec.IsOpen() {
		return rec, fmt.Errorf("adjust: record %s is %s", recordID, rec.Status)
	}

	if newTp > 0 && newTp != rec.TpPrice {
		if err := s.Exec.CancelOrder(ctx, rec.Symbol, rec.TpOrderID); err != nil {
			return rec, fmt.Errorf("adjust TP: cancel %s: %w", rec.TpOrderID, err)
		}
		if err := s.Exec.CancelConditional(ctx, rec.Symbol, rec.TpAlgoID); err != nil {
			return rec, fmt.Errorf("adjust TP: cancel algo %s: %w", rec.TpAlgoID, err)
		}
		s.Linked.Remove(rec.TpOrderID)
		s.Linked.Remove(rec.TpAlgoID)
		s.Records.Update(rec.ID, func(r *record.Record) {
			r.TpOrderID, r.TpAlgoID = "", ""
			r.TpPrice = newTp
		})
	}
	if newSl > 0 && newSl != rec.SlPrice {
		if err := s.Exec.CancelConditional(ctx, rec.Symbol, rec.SlAlgoID); err != nil {
			return rec, fmt.Errorf("adjust SL: cancel algo %s: %w", rec.SlAlgoID, err)
		}
		s.Linked.Remove(rec.SlAlgoID)
		s.Records.Update(rec.ID, func(r *record.Record) {
			r.SlAlgoID = ""
			r.SlPrice = newSl
		})
	}

	s.EnsureProtection(ctx, recordID)
	updated, _ := s.Records.Get(recordID)
	return updated, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
