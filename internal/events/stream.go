package events

import (
	"position-engine/pkg/exchanges/common"
)

// StreamEventKind is the closed set of user-data stream event kinds the
// engine consumes. Anything else is dropped at the stream boundary.
type StreamEventKind int

const (
	// KindAccountUpdate carries the account's position snapshot deltas.
	KindAccountUpdate StreamEventKind = iota
	// KindOrderUpdate carries plain order fills and cancellations.
	KindOrderUpdate
	// KindAlgoUpdate carries conditional-order trigger/cancel/expire events.
	KindAlgoUpdate
)

func (k StreamEventKind) String() string {
	switch k {
	case KindAccountUpdate:
		return "ACCOUNT_UPDATE"
	case KindOrderUpdate:
		return "ORDER_UPDATE"
	case KindAlgoUpdate:
		return "ALGO_UPDATE"
	}
	return "UNKNOWN"
}

// StreamEvent is a tagged union: exactly one of the payload pointers matching
// Kind is non-nil. Raw exchange payloads are normalized into these at the
// websocket boundary so downstream handlers never see venue JSON.
type StreamEvent struct {
	Kind    StreamEventKind
	Time    int64 // event time, ms epoch
	Account *AccountUpdate
	Order   *OrderUpdate
	Algo    *AlgoUpdate
}

// AccountPosition is one position entry of an ACCOUNT_UPDATE.
type AccountPosition struct {
	Symbol       string
	PositionSide common.PositionSide
	Quantity     float64 // absolute size; 0 means the leg is flat
	EntryPrice   float64
}

// AccountUpdate reports position deltas pushed by the exchange.
type AccountUpdate struct {
	Reason    string
	Positions []AccountPosition
}

// OrderUpdate reports a plain order transition.
type OrderUpdate struct {
	Symbol        string
	OrderID       string
	ClientOrderID string
	Side          common.Side
	Type          common.OrderType
	Status        common.OrderStatus
	ExecutionType string // NEW, TRADE, CANCELED, EXPIRED
	AvgPrice      float64
	LastPrice     float64
	LastQty       float64
	CumQty        float64
	ReduceOnly    bool
	PositionSide  common.PositionSide
}

// AlgoUpdate reports a conditional-order transition. The exchange reuses the
// order channel for these; the stream splits them by order type so handlers
// get a dedicated kind.
type AlgoUpdate struct {
	Symbol        string
	AlgoID        string
	ClientOrderID string
	Side          common.Side
	Type          common.OrderType
	Status        common.OrderStatus
	ExecutionType string
	TriggerPrice  float64
	AvgPrice      float64
	LastPrice     float64
	CumQty        float64
	ReduceOnly    bool
	PositionSide  common.PositionSide
}

// OrderEvent is the canonical normalized form handlers hand to the trade
// service. Exactly one of OrderID/AlgoID is set depending on the source.
type OrderEvent struct {
	Symbol       string
	OrderID      string
	AlgoID       string
	Status       common.OrderStatus
	Side         common.Side
	PositionSide common.PositionSide
	AvgPrice     float64
	FilledQty    float64
	Time         int64
}
