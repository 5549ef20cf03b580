package record

import (
	"sync"
	"testing"

	"position-engine/pkg/exchanges/common"
)

func openSpec(symbol string, side common.PositionSide) CreateSpec {
	return CreateSpec{
		Symbol:       symbol,
		PositionSide: side,
		Quantity:     0.5,
		EntryPrice:   40000,
		Leverage:     10,
		TpPrice:      42000,
		SlPrice:      39000,
	}
}

func TestCreateEnforcesOneOpenPerLeg(t *testing.T) {
	s := NewStore()

	first, err := s.Create(openSpec("BTCUSDT", common.PositionLong))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Status != StatusOpen {
		t.Fatalf("status = %s, want OPEN", first.Status)
	}
	if first.Notional != 0.5*40000 {
		t.Errorf("notional = %v", first.Notional)
	}
	if first.MarginUsed != first.Notional/10 {
		t.Errorf("margin = %v", first.MarginUsed)
	}

	if _, err := s.Create(openSpec("BTCUSDT", common.PositionLong)); err == nil {
		t.Fatal("second open on the same leg must fail")
	}

	// The opposite leg and other symbols are independent.
	if _, err := s.Create(openSpec("BTCUSDT", common.PositionShort)); err != nil {
		t.Fatalf("short leg: %v", err)
	}
	if _, err := s.Create(openSpec("ETHUSDT", common.PositionLong)); err != nil {
		t.Fatalf("other symbol: %v", err)
	}

	// After closing, the leg frees up.
	if _, ok := s.Close(first.ID, 41000, StatusManualClosed, ReasonManual, 0, 500); !ok {
		t.Fatal("close should win")
	}
	if _, err := s.Create(openSpec("BTCUSDT", common.PositionLong)); err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s := NewStore()
	rec, _ := s.Create(openSpec("BTCUSDT", common.PositionLong))

	closed, ok := s.Close(rec.ID, 42000, StatusTpClosed, ReasonTakeProfit, 1.2, 999)
	if !ok {
		t.Fatal("first close must win")
	}
	if closed.ClosePrice != 42000 || closed.RealizedPnl != 999 || closed.ExitCommission != 1.2 {
		t.Errorf("close fields not applied: %+v", closed)
	}

	again, ok := s.Close(rec.ID, 1, StatusSlClosed, ReasonStopLoss, 9, -1)
	if ok {
		t.Fatal("duplicate close must lose")
	}
	if again.ClosePrice != 42000 || again.Status != StatusTpClosed {
		t.Errorf("duplicate close mutated the record: %+v", again)
	}
}

func TestCloseRaceHasOneWinner(t *testing.T) {
	s := NewStore()
	rec, _ := s.Create(openSpec("BTCUSDT", common.PositionLong))

	const n = 16
	var wg sync.WaitGroup
	wins := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := s.Close(rec.ID, 42000, StatusTpClosed, ReasonTakeProfit, 0, 0)
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for ok := range wins {
		if ok {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
}

func TestUpdateOnlyTouchesOpenRecords(t *testing.T) {
	s := NewStore()
	rec, _ := s.Create(openSpec("BTCUSDT", common.PositionLong))

	if ok := s.Update(rec.ID, func(r *Record) { r.TpOrderID = "101" }); !ok {
		t.Fatal("update on open record failed")
	}
	got, _ := s.Get(rec.ID)
	if got.TpOrderID != "101" {
		t.Errorf("TpOrderID = %q", got.TpOrderID)
	}

	s.Close(rec.ID, 42000, StatusTpClosed, ReasonTakeProfit, 0, 0)
	if ok := s.Update(rec.ID, func(r *Record) { r.TpOrderID = "nope" }); ok {
		t.Fatal("update on terminal record must report false")
	}
	got, _ = s.Get(rec.ID)
	if got.TpOrderID != "101" {
		t.Errorf("terminal record mutated: %q", got.TpOrderID)
	}
}

func TestUpgradeCloseReason(t *testing.T) {
	s := NewStore()
	rec, _ := s.Create(openSpec("BTCUSDT", common.PositionLong))
	s.Close(rec.ID, 41800, StatusClosedExternal, ReasonInferred, 0, 900)

	if ok := s.UpgradeCloseReason(rec.ID, StatusTpClosed, ReasonTakeProfit); !ok {
		t.Fatal("upgrade from inferred must succeed")
	}
	got, _ := s.Get(rec.ID)
	if got.Status != StatusTpClosed || got.CloseReason != ReasonTakeProfit {
		t.Errorf("upgrade not applied: %+v", got)
	}
	// Numbers stay untouched.
	if got.ClosePrice != 41800 || got.RealizedPnl != 900 {
		t.Errorf("upgrade recomputed numbers: %+v", got)
	}

	// A second upgrade has nothing inferred left to replace.
	if ok := s.UpgradeCloseReason(rec.ID, StatusSlClosed, ReasonStopLoss); ok {
		t.Fatal("upgrade of a non-inferred reason must fail")
	}
}

func TestClearProtectionID(t *testing.T) {
	s := NewStore()
	rec, _ := s.Create(openSpec("BTCUSDT", common.PositionLong))
	s.Update(rec.ID, func(r *Record) {
		r.TpOrderID = "101"
		r.TpAlgoID = "202"
		r.SlAlgoID = "303"
	})

	s.ClearProtectionID(rec.ID, PurposeTakeProfit)
	got, _ := s.Get(rec.ID)
	if got.HasLiveTp() {
		t.Errorf("TP handles not cleared: %+v", got)
	}
	if got.SlAlgoID != "303" {
		t.Errorf("SL handle lost: %+v", got)
	}

	s.ClearProtectionID(rec.ID, PurposeStopLoss)
	got, _ = s.Get(rec.ID)
	if got.SlAlgoID != "" {
		t.Errorf("SL handle not cleared: %+v", got)
	}
}

func TestLinkedIndexResolution(t *testing.T) {
	idx := NewLinkedIndex()
	idx.Put("101", "rec-1", PurposeTakeProfit)
	idx.Put("202", "rec-1", PurposeStopLoss)
	idx.Put("303", "rec-2", PurposeEntry)

	lo, ok := idx.Resolve("101")
	if !ok || lo.RecordID != "rec-1" || lo.Purpose != PurposeTakeProfit {
		t.Fatalf("resolve 101 = %+v, %v", lo, ok)
	}
	if _, ok := idx.Resolve("999"); ok {
		t.Fatal("unknown id must not resolve")
	}

	idx.RemoveByRecord("rec-1")
	if _, ok := idx.Resolve("101"); ok {
		t.Fatal("101 should be gone after RemoveByRecord")
	}
	if _, ok := idx.Resolve("202"); ok {
		t.Fatal("202 should be gone after RemoveByRecord")
	}
	if _, ok := idx.Resolve("303"); !ok {
		t.Fatal("other record's entries must survive")
	}
}
