package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// EngineMetrics tracks runtime performance of the engine.
type EngineMetrics struct {
	// Latency histograms
	HTTPLatency *LatencyHistogram
	SyncLatency *LatencyHistogram

	// Counters
	streamEvents    uint64
	positionsOpened uint64
	positionsClosed uint64
	errorsCount     uint64
}

// LatencyHistogram tracks latency samples with a sliding window and lazily
// computed stats.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewEngineMetrics creates a metrics instance.
func NewEngineMetrics() *EngineMetrics {
	return &EngineMetrics{
		HTTPLatency: NewLatencyHistogram(1000),
		SyncLatency: NewLatencyHistogram(1000),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99. Recomputes only when samples
// changed since the last call.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementStreamEvents counts one consumed stream event.
func (m *EngineMetrics) IncrementStreamEvents() {
	atomic.AddUint64(&m.streamEvents, 1)
}

// IncrementOpened counts one opened position.
func (m *EngineMetrics) IncrementOpened() {
	atomic.AddUint64(&m.positionsOpened, 1)
}

// IncrementClosed counts one closed position.
func (m *EngineMetrics) IncrementClosed() {
	atomic.AddUint64(&m.positionsClosed, 1)
}

// IncrementErrors counts one engine error.
func (m *EngineMetrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// MetricsSnapshot is a point-in-time metrics view.
type MetricsSnapshot struct {
	HTTPLatency     LatencyStats `json:"http_latency"`
	SyncLatency     LatencyStats `json:"sync_latency"`
	StreamEvents    uint64       `json:"stream_events"`
	PositionsOpened uint64       `json:"positions_opened"`
	PositionsClosed uint64       `json:"positions_closed"`
	ErrorsCount     uint64       `json:"errors_count"`
	GoroutineCount  int          `json:"goroutine_count"`
	HeapAlloc       uint64       `json:"heap_alloc_bytes"`
	HeapSys         uint64       `json:"heap_sys_bytes"`
	Timestamp       time.Time    `json:"timestamp"`
}

// GetSnapshot returns the current snapshot.
func (m *EngineMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		HTTPLatency:     m.HTTPLatency.Stats(),
		SyncLatency:     m.SyncLatency.Stats(),
		StreamEvents:    atomic.LoadUint64(&m.streamEvents),
		PositionsOpened: atomic.LoadUint64(&m.positionsOpened),
		PositionsClosed: atomic.LoadUint64(&m.positionsClosed),
		ErrorsCount:     atomic.LoadUint64(&m.errorsCount),
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		HeapSys:         memStats.HeapSys,
		Timestamp:       time.Now(),
	}
}

// Timer measures one operation into a histogram.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer starts a timer recording into h.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{start: time.Now(), histogram: h}
}

// Stop records the elapsed time.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
