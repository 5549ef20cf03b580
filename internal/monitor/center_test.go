package monitor

import (
	"errors"
	"testing"

	"position-engine/internal/events"
)

func TestRecentReturnsNewestFirst(t *testing.T) {
	c := NewCenter(nil, 10)
	c.Warn("A", "first")
	c.Critical("B", "second")
	c.Warn("C", "third")

	got := c.Recent(2)
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].Code != "C" || got[1].Code != "B" {
		t.Errorf("order = %s, %s; want C, B", got[0].Code, got[1].Code)
	}
	if got[0].Level != LevelWarn || got[1].Level != LevelCritical {
		t.Errorf("levels = %s, %s", got[0].Level, got[1].Level)
	}
}

func TestRingIsBounded(t *testing.T) {
	c := NewCenter(nil, 3)
	for i := 0; i < 10; i++ {
		c.Warn("X", "alert %d", i)
	}

	got := c.Recent(0)
	if len(got) != 3 {
		t.Fatalf("ring size = %d, want 3", len(got))
	}
	if got[0].Message != "alert 9" || got[2].Message != "alert 7" {
		t.Errorf("ring kept wrong alerts: %v", got)
	}
}

func TestSinksReceiveAlerts(t *testing.T) {
	c := NewCenter(nil, 10)

	var delivered []Alert
	c.AddSink(SinkFunc(func(a Alert) error {
		delivered = append(delivered, a)
		return nil
	}))
	// A failing sink must not stop delivery to the others.
	c.AddSink(SinkFunc(func(a Alert) error { return errors.New("down") }))

	c.Critical("SL_PLACEMENT_FAILED", "BTCUSDT LONG unprotected")

	if len(delivered) != 1 || delivered[0].Code != "SL_PLACEMENT_FAILED" {
		t.Fatalf("delivered = %v", delivered)
	}
	if delivered[0].Message != "BTCUSDT LONG unprotected" {
		t.Errorf("message = %q", delivered[0].Message)
	}
}

func TestAlertsPublishToBus(t *testing.T) {
	bus := events.NewBus()
	ch, unsub := bus.Subscribe(events.EventAlert, 4)
	defer unsub()

	c := NewCenter(bus, 10)
	c.Warn("SYNC_FAILING", "3 consecutive sync failures")

	select {
	case payload := <-ch:
		a, ok := payload.(Alert)
		if !ok || a.Code != "SYNC_FAILING" {
			t.Errorf("payload = %v", payload)
		}
	default:
		t.Fatal("alert not published to bus")
	}
}

func TestLatencyHistogramStats(t *testing.T) {
	h := NewLatencyHistogram(100)
	for _, v := range []float64{5, 1, 3, 2, 4} {
		h.Record(v)
	}

	s := h.Stats()
	if s.Count != 5 || s.Min != 1 || s.Max != 5 || s.Avg != 3 {
		t.Errorf("stats = %+v", s)
	}
	if s.P50 != 3 {
		t.Errorf("p50 = %v", s.P50)
	}

	// Cached until the next sample arrives.
	if again := h.Stats(); again != s {
		t.Errorf("cached stats differ: %+v vs %+v", again, s)
	}
	h.Record(100)
	if s2 := h.Stats(); s2.Max != 100 || s2.Count != 6 {
		t.Errorf("stats after new sample = %+v", s2)
	}
}

func TestLatencyHistogramWindowSlides(t *testing.T) {
	h := NewLatencyHistogram(3)
	for i := 1; i <= 5; i++ {
		h.Record(float64(i))
	}
	s := h.Stats()
	if s.Count != 3 || s.Min != 3 || s.Max != 5 {
		t.Errorf("window stats = %+v", s)
	}
}

func TestCountersAppearInSnapshot(t *testing.T) {
	m := NewEngineMetrics()
	m.IncrementStreamEvents()
	m.IncrementStreamEvents()
	m.IncrementOpened()
	m.IncrementClosed()
	m.IncrementErrors()

	snap := m.GetSnapshot()
	if snap.StreamEvents != 2 || snap.PositionsOpened != 1 || snap.PositionsClosed != 1 || snap.ErrorsCount != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.GoroutineCount <= 0 {
		t.Errorf("goroutines = %d", snap.GoroutineCount)
	}
}
