package common

import "context"

// Gateway is the exchange surface the engine consumes. Implementations wrap
// venue-specific REST APIs; all errors cross this boundary as *ExchangeError
// where the venue reported a coded failure.
type Gateway interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	PlaceConditionalOrder(ctx context.Context, req ConditionalRequest) (ConditionalResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelConditionalOrder(ctx context.Context, symbol, algoID string) error

	GetOrder(ctx context.Context, symbol, orderID string) (OrderDetail, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	GetOpenConditionalOrders(ctx context.Context, symbol string) ([]OpenConditionalOrder, error)
	GetPositionRisk(ctx context.Context) ([]PositionRisk, error)
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)

	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetPositionSideDual(ctx context.Context, dual bool) error

	SymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error)
}
