// Package record holds the position ledger: open/closed position records,
// pending entry orders, and the linked-order index that remembers why each
// exchange order exists.
package record

import (
	"time"

	"position-engine/pkg/exchanges/common"
)

// Status is the position lifecycle state. Once a record leaves StatusOpen it
// is terminal and immutable (metadata-only reason upgrades excepted).
type Status string

const (
	StatusOpen           Status = "OPEN"
	StatusTpClosed       Status = "TP_CLOSED"
	StatusSlClosed       Status = "SL_CLOSED"
	StatusManualClosed   Status = "MANUAL_CLOSED"
	StatusClosedExternal Status = "POSITION_CLOSED_EXTERNALLY"
)

// CloseReason explains why a position left StatusOpen.
type CloseReason string

const (
	ReasonTakeProfit CloseReason = "take_profit"
	ReasonStopLoss   CloseReason = "stop_loss"
	ReasonManual     CloseReason = "manual"
	ReasonExternal   CloseReason = "closed_externally"
	// ReasonInferred marks closes derived from a zero-quantity account update
	// before the authoritative fill event arrived.
	ReasonInferred CloseReason = "unknown_inferred"
)

// Record is an open or closed position.
type Record struct {
	ID           string
	Symbol       string
	PositionSide common.PositionSide
	Quantity     float64
	EntryPrice   float64
	Leverage     int
	Notional     float64
	MarginUsed   float64

	// Mutable current protection targets.
	TpPrice float64
	SlPrice float64
	// Immutable targets set at open, used for risk-multiple accounting.
	OriginalTpPrice float64
	OriginalSlPrice float64

	// Exchange-side protective order handles. At most one live TP
	// representation (order or algo) and one live SL representation.
	TpOrderID string // resting limit TP
	TpAlgoID  string // conditional TP fallback
	SlAlgoID  string // conditional SL

	Status           Status
	EntryCommission  float64
	ExitCommission   float64
	Source           string
	OpenTime         time.Time
	CloseTime        time.Time
	ClosePrice       float64
	CloseReason      CloseReason
	RealizedPnl      float64
}

// IsOpen reports whether the record is still live.
func (r *Record) IsOpen() bool {
	return r.Status == StatusOpen
}

// HasLiveTp reports whether some TP representation is on the exchange.
func (r *Record) HasLiveTp() bool {
	return r.TpOrderID != "" || r.TpAlgoID != ""
}

// PendingKind distinguishes resting limit entries from conditional entries.
type PendingKind string

const (
	PendingLimit       PendingKind = "LIMIT"
	PendingConditional PendingKind = "CONDITIONAL"
)

// PendingOrder is an entry intent that has not filled yet. It is deleted the
// moment it leaves NEW: filled intents are promoted into a Record, the rest
// are dropped.
type PendingOrder struct {
	ID           string
	Symbol       string
	PositionSide common.PositionSide
	Kind         PendingKind
	TriggerPrice float64
	LimitPrice   float64
	Quantity     float64
	Leverage     int
	MarginUSDT   float64
	TpPrice      float64
	SlPrice      float64

	ExchangeOrderID string // set for LIMIT entries
	ExchangeAlgoID  string // set for CONDITIONAL entries

	Source    string
	CreatedAt time.Time
}

// Purpose tags what role an exchange order plays for a record.
type Purpose string

const (
	PurposeEntry      Purpose = "ENTRY"
	PurposeTakeProfit Purpose = "TAKE_PROFIT"
	PurposeStopLoss   Purpose = "STOP_LOSS"
	PurposeClose      Purpose = "CLOSE"
)

// LinkedOrder binds an exchange order/algo ID to the record it protects. The
// exchange never echoes back why an order exists; this index remembers.
type LinkedOrder struct {
	ExchangeID string
	RecordID   string
	Purpose    Purpose
}
