package record

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"position-engine/pkg/exchanges/common"
)

// Store owns every Record. All mutation happens under one store-wide lock so
// cross-record invariants (one OPEN record per symbol/side) are checked
// atomically; per-record locks could not give that.
type Store struct {
	mu      sync.Mutex
	records map[string]*Record // id -> record, open and closed
	open    map[string]string  // symbol|side -> record id
}

// NewStore creates an empty record store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*Record),
		open:    make(map[string]string),
	}
}

func openKey(symbol string, side common.PositionSide) string {
	return symbol + "|" + string(side)
}

// CreateSpec carries the fields needed to open a record.
type CreateSpec struct {
	Symbol          string
	PositionSide    common.PositionSide
	Quantity        float64
	EntryPrice      float64
	Leverage        int
	TpPrice         float64
	SlPrice         float64
	EntryCommission float64
	Source          string
}

// Create opens a new record. It fails when an OPEN record already exists for
// the same (symbol, side): the hedge invariant.
func (s *Store) Create(spec CreateSpec) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := openKey(spec.Symbol, spec.PositionSide)
	if id, ok := s.open[key]; ok {
		return Record{}, fmt.Errorf("record store: %s %s already has open record %s",
			spec.Symbol, spec.PositionSide, id)
	}

	lev := spec.Leverage
	if lev <= 0 {
		lev = 1
	}
	notional := spec.Quantity * spec.EntryPrice
	r := &Record{
		ID:              uuid.NewString(),
		Symbol:          spec.Symbol,
		PositionSide:    spec.PositionSide,
		Quantity:        spec.Quantity,
		EntryPrice:      spec.EntryPrice,
		Leverage:        lev,
		Notional:        notional,
		MarginUsed:      notional / float64(lev),
		TpPrice:         spec.TpPrice,
		SlPrice:         spec.SlPrice,
		OriginalTpPrice: spec.TpPrice,
		OriginalSlPrice: spec.SlPrice,
		Status:          StatusOpen,
		EntryCommission: spec.EntryCommission,
		Source:          spec.Source,
		OpenTime:        time.Now(),
	}
	s.records[r.ID] = r
	s.open[key] = r.ID
	return *r, nil
}

// Get returns a copy of the record with the given id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// OpenBySymbol returns open records for a symbol; side narrows to one leg
// when non-empty.
func (s *Store) OpenBySymbol(symbol string, side common.PositionSide) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, id := range s.open {
		r := s.records[id]
		if r.Symbol != symbol {
			continue
		}
		if side != "" && r.PositionSide != side {
			continue
		}
		out = append(out, *r)
	}
	return out
}

// ListOpen returns a snapshot of every open record.
func (s *Store) ListOpen() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.open))
	for _, id := range s.open {
		out = append(out, *s.records[id])
	}
	return out
}

// Update mutates an OPEN record under the store lock. Terminal records are
// left untouched and Update reports false.
func (s *Store) Update(id string, mutate func(*Record)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok || r.Status != StatusOpen {
		return false
	}
	mutate(r)
	// The mutator must not flip lifecycle state; Close owns that.
	r.Status = StatusOpen
	return true
}

// Close transitions a record out of StatusOpen. The returned bool is true
// only for the call that actually performed the transition; duplicate and
// late close attempts get the existing terminal record and false. This is the
// primary idempotency guard: exactly one caller wins the race, and only that
// caller may emit the history write.
func (s *Store) Close(id string, closePrice float64, status Status, reason CloseReason, exitCommission, realizedPnl float64) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	if r.Status != StatusOpen {
		return *r, false
	}

	r.Status = status
	r.ClosePrice = closePrice
	r.CloseReason = reason
	r.ExitCommission = exitCommission
	r.RealizedPnl = realizedPnl
	r.CloseTime = time.Now()
	delete(s.open, openKey(r.Symbol, r.PositionSide))
	return *r, true
}

// UpgradeCloseReason replaces an inferred close reason once the authoritative
// event arrives. Metadata only: price and PnL are never recomputed.
func (s *Store) UpgradeCloseReason(id string, status Status, reason CloseReason) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok || r.Status == StatusOpen || r.CloseReason != ReasonInferred {
		return false
	}
	r.Status = status
	r.CloseReason = reason
	return true
}

// ClearProtectionID drops a protective order handle after the exchange
// reports it gone. No-op on terminal records.
func (s *Store) ClearProtectionID(id string, purpose Purpose) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok || r.Status != StatusOpen {
		return
	}
	switch purpose {
	case PurposeTakeProfit:
		r.TpOrderID = ""
		r.TpAlgoID = ""
	case PurposeStopLoss:
		r.SlAlgoID = ""
	}
}
