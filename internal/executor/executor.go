// Package executor turns domain intents into exchange REST calls. It is
// side-effect-only: network calls, precision formatting and idempotent
// account-mode preconditions, never ledger mutation.
package executor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"position-engine/pkg/cache"
	"position-engine/pkg/exchanges/common"
)

// Result reports the outcome of a placement or cancel. REST failures are
// carried in Err rather than raised, so the reconciliation paths decide for
// themselves what is retryable.
type Result struct {
	OK       bool
	OrderID  string
	AlgoID   string
	AvgPrice float64
	Status   common.OrderStatus
	Err      error
}

func failure(err error) Result {
	return Result{Err: err}
}

// Executor wraps a gateway with precision formatting and cached account-mode
// preconditions. Safe for concurrent use; the caches are read-mostly.
type Executor struct {
	Gateway common.Gateway

	// Prices serves MarkPrice lookups younger than PriceTTL without a REST
	// round trip.
	Prices   *cache.PriceCache
	PriceTTL time.Duration

	mu        sync.RWMutex
	leverages map[string]int // symbol -> leverage confirmed on the exchange
	hedgeMode bool           // dual-side position mode confirmed
}

// New creates an executor over a gateway.
func New(gw common.Gateway) *Executor {
	return &Executor{
		Gateway:   gw,
		Prices:    cache.NewPriceCache(),
		PriceTTL:  2 * time.Second,
		leverages: make(map[string]int),
	}
}

// EnsureLeverage sets leverage for a symbol once; repeated calls with the
// same value are cache hits. "Already set" venue responses count as success.
func (e *Executor) EnsureLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage <= 0 {
		leverage = 1
	}
	e.mu.RLock()
	cur, ok := e.leverages[symbol]
	e.mu.RUnlock()
	if ok && cur == leverage {
		return nil
	}

	if err := e.Gateway.SetLeverage(ctx, symbol, leverage); err != nil && !common.IsAlreadySatisfied(err) {
		return fmt.Errorf("set leverage %s x%d: %w", symbol, leverage, err)
	}
	e.mu.Lock()
	e.leverages[symbol] = leverage
	e.mu.Unlock()
	return nil
}

// EnsureHedgeMode enables dual-side position mode once per process.
func (e *Executor) EnsureHedgeMode(ctx context.Context) error {
	e.mu.RLock()
	done := e.hedgeMode
	e.mu.RUnlock()
	if done {
		return nil
	}

	if err := e.Gateway.SetPositionSideDual(ctx, true); err != nil && !common.IsAlreadySatisfied(err) {
		return fmt.Errorf("enable hedge mode: %w", err)
	}
	e.mu.Lock()
	e.hedgeMode = true
	e.mu.Unlock()
	return nil
}

// PlaceMarket submits a market order.
func (e *Executor) PlaceMarket(ctx context.Context, symbol string, side common.Side, posSide common.PositionSide, qty float64) Result {
	res, err := e.Gateway.PlaceOrder(ctx, common.OrderRequest{
		Symbol:       symbol,
		Side:         side,
		Type:         common.OrderTypeMarket,
		Qty:          qty,
		PositionSide: posSide,
	})
	if err != nil {
		return failure(err)
	}
	return Result{OK: true, OrderID: res.ExchangeOrderID, AvgPrice: res.AvgPrice, Status: res.Status}
}

// PlaceLimit submits a resting limit order.
func (e *Executor) PlaceLimit(ctx context.Context, symbol string, side common.Side, posSide common.PositionSide, price, qty float64) Result {
	res, err := e.Gateway.PlaceOrder(ctx, common.OrderRequest{
		Symbol:       symbol,
		Side:         side,
		Type:         common.OrderTypeLimit,
		Price:        price,
		Qty:          qty,
		TimeInForce:  common.TIFGTC,
		PositionSide: posSide,
	})
	if err != nil {
		return failure(err)
	}
	return Result{OK: true, OrderID: res.ExchangeOrderID, AvgPrice: res.AvgPrice, Status: res.Status}
}

// PlaceConditional submits a stop/take-profit market order activating at the
// trigger price.
func (e *Executor) PlaceConditional(ctx context.Context, req common.ConditionalRequest) Result {
	res, err := e.Gateway.PlaceConditionalOrder(ctx, req)
	if err != nil {
		return failure(err)
	}
	return Result{OK: true, AlgoID: res.AlgoID, Status: res.Status}
}

// EntryIntent is a desired entry at a target price.
type EntryIntent struct {
	Symbol       string
	Side         common.Side // BUY opens LONG, SELL opens SHORT
	PositionSide common.PositionSide
	Price        float64
	Qty          float64
}

// PlaceEntry routes an entry intent to the cheapest safe representation.
//
// A resting limit order that would be immediately marketable (BUY above the
// mark, SELL below it) risks an instant fill at taker economics, so those
// intents become conditional orders that only activate once price crosses
// the trigger. Everything else rests as a plain limit at the maker fee tier.
// The routing decision is made once, here, and never re-evaluated.
func (e *Executor) PlaceEntry(ctx context.Context, intent EntryIntent) Result {
	mark, err := e.Gateway.GetMarkPrice(ctx, intent.Symbol)
	if err != nil {
		return failure(fmt.Errorf("mark price %s: %w", intent.Symbol, err))
	}

	marketable := (intent.Side == common.SideBuy && intent.Price > mark) ||
		(intent.Side == common.SideSell && intent.Price < mark)
	if !marketable {
		return e.PlaceLimit(ctx, intent.Symbol, intent.Side, intent.PositionSide, intent.Price, intent.Qty)
	}

	typ := ConditionalEntryType(intent.Side, intent.Price, mark)
	log.Printf("executor: %s %s entry at %.8g is marketable against mark %.8g, routing as %s",
		intent.Symbol, intent.Side, intent.Price, mark, typ)
	return e.PlaceConditional(ctx, common.ConditionalRequest{
		Symbol:       intent.Symbol,
		Side:         intent.Side,
		Type:         typ,
		TriggerPrice: intent.Price,
		Qty:          intent.Qty,
		PositionSide: intent.PositionSide,
	})
}

// ConditionalEntryType classifies a conditional entry: a trigger on the far
// side of the mark (BUY above, SELL below) is a stop; a trigger on the near
// side is a take-profit-style entry that fires on a pullback.
func ConditionalEntryType(side common.Side, trigger, mark float64) common.OrderType {
	above := trigger > mark
	if (side == common.SideBuy && above) || (side == common.SideSell && !above) {
		return common.OrderTypeStopMarket
	}
	return common.OrderTypeTakeProfitMarket
}

// CancelOrder cancels a plain order; a venue report that the order is
// already gone counts as success.
func (e *Executor) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if orderID == "" {
		return nil
	}
	err := e.Gateway.CancelOrder(ctx, symbol, orderID)
	if err != nil && !common.IsAlreadySatisfied(err) {
		return err
	}
	return nil
}

// CancelConditional cancels a conditional order with the same already-gone
// tolerance.
func (e *Executor) CancelConditional(ctx context.Context, symbol, algoID string) error {
	if algoID == "" {
		return nil
	}
	err := e.Gateway.CancelConditionalOrder(ctx, symbol, algoID)
	if err != nil && !common.IsAlreadySatisfied(err) {
		return err
	}
	return nil
}

// OpenOrders passes through the exchange's open-order list.
func (e *Executor) OpenOrders(ctx context.Context, symbol string) ([]common.OpenOrder, error) {
	return e.Gateway.GetOpenOrders(ctx, symbol)
}

// OpenConditionalOrders passes through the open conditional-order list.
func (e *Executor) OpenConditionalOrders(ctx context.Context, symbol string) ([]common.OpenConditionalOrder, error) {
	return e.Gateway.GetOpenConditionalOrders(ctx, symbol)
}

// PositionRisk passes through the exchange position view.
func (e *Executor) PositionRisk(ctx context.Context) ([]common.PositionRisk, error) {
	return e.Gateway.GetPositionRisk(ctx)
}

// MarkPrice fetches the current mark price, serving from the cache when the
// last fetch is fresh enough.
func (e *Executor) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	if e.Prices != nil && e.PriceTTL > 0 {
		if price, age, ok := e.Prices.GetWithAge(symbol); ok && age <= e.PriceTTL {
			return price, nil
		}
	}
	price, err := e.Gateway.GetMarkPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if e.Prices != nil {
		e.Prices.Set(symbol, price)
	}
	return price, nil
}

// OrderDetail fetches the authoritative fill view of an order.
func (e *Executor) OrderDetail(ctx context.Context, symbol, orderID string) (common.OrderDetail, error) {
	return e.Gateway.GetOrder(ctx, symbol, orderID)
}
