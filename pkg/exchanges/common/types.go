package common

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// PositionSide distinguishes the two legs of a hedge-mode account.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// CloseSide returns the order side that reduces a position on this leg.
func (p PositionSide) CloseSide() Side {
	if p == PositionLong {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes futures order types.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFGTX TimeInForce = "GTX" // Post Only / Maker Only
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIALLY_FILLED"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// OrderRequest captures a plain order intent to be sent to the exchange.
type OrderRequest struct {
	Symbol       string
	Side         Side
	Type         OrderType // MARKET or LIMIT
	Qty          float64
	Price        float64 // required for LIMIT
	TimeInForce  TimeInForce
	ClientID     string // optional client order id
	ReduceOnly   bool
	PositionSide PositionSide
}

// ConditionalRequest captures a stop/take-profit intent that activates on a
// price cross.
type ConditionalRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType // STOP_MARKET or TAKE_PROFIT_MARKET
	TriggerPrice  float64
	Qty           float64
	ClientID      string
	ReduceOnly    bool
	ClosePosition bool // close the whole leg regardless of Qty
	PositionSide  PositionSide
	GoodTillDate  int64 // ms epoch, 0 = GTC
}

// OrderResult returns the exchange ack for a plain order.
type OrderResult struct {
	ExchangeOrderID string
	Status          OrderStatus
	AvgPrice        float64
	ClientID        string
}

// ConditionalResult returns the exchange ack for a conditional order.
type ConditionalResult struct {
	AlgoID   string
	Status   OrderStatus
	ClientID string
}

// OrderDetail is the authoritative post-trade view of an order, fetched over
// REST. Commission is only available here, never on push events.
type OrderDetail struct {
	ExchangeOrderID string
	Symbol          string
	Side            Side
	Status          OrderStatus
	AvgPrice        float64
	ExecutedQty     float64
	Commission      float64
	UpdateTime      int64
}

// OpenOrder is one entry of the exchange's open-order list.
type OpenOrder struct {
	ExchangeOrderID string
	Symbol          string
	Side            Side
	Type            OrderType
	Price           float64
	Qty             float64
	ReduceOnly      bool
	PositionSide    PositionSide
	Time            int64
}

// OpenConditionalOrder is one entry of the open conditional-order list.
type OpenConditionalOrder struct {
	AlgoID       string
	Symbol       string
	Side         Side
	Type         OrderType
	TriggerPrice float64
	Qty          float64
	ReduceOnly   bool
	PositionSide PositionSide
	Time         int64
}

// PositionRisk is the exchange's authoritative position view.
type PositionRisk struct {
	Symbol        string
	PositionSide  PositionSide
	Quantity      float64 // absolute size; 0 means flat
	EntryPrice    float64
	MarkPrice     float64
	Leverage      int
	UnrealizedPnl float64
}
