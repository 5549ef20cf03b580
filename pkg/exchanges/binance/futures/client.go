// Package futures implements the Binance USDT-M futures gateway: signed REST
// calls plus the user-data websocket stream.
package futures

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"position-engine/pkg/exchanges/common"
)

// Config holds Binance USDT-M futures credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64 // ms
	Timeout    time.Duration
}

// Client handles Binance USDT-M futures REST calls.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter

	mu      sync.RWMutex
	filters map[string]common.SymbolFilters // exchangeInfo cache
}

// NewClient creates a new USDT-M futures client.
func NewClient(cfg Config) *Client {
	base := "https://fapi.binance.com"
	if cfg.Testnet {
		base = "https://testnet.binancefuture.com"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		filters:    make(map[string]common.SymbolFilters),
	}
	c.timeSync = common.NewTimeSync(func() (int64, error) {
		return c.GetServerTime()
	})
	c.rateLimiter = common.NewRateLimiter(2400, time.Minute)
	return c
}

// RateLimiter exposes the weight tracker for monitoring hooks.
func (c *Client) RateLimiter() *common.RateLimiter {
	return c.rateLimiter
}

// StartTimeSync begins background clock synchronization.
func (c *Client) StartTimeSync(ctx context.Context) {
	c.timeSync.Start(ctx)
}

func (c *Client) now() int64 {
	if c.timeSync != nil && c.timeSync.Offset() != 0 {
		return c.timeSync.Now()
	}
	return time.Now().UnixMilli()
}

type orderResp struct {
	OrderID       int64  `json:"orderId"`
	Status        string `json:"status"`
	AvgPrice      string `json:"avgPrice"`
	ClientOrderID string `json:"clientOrderId"`
}

// PlaceOrder places a plain MARKET or LIMIT order.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.OrderResult{}, errors.New("binance futures: API key/secret required")
	}
	f, err := c.SymbolFilters(ctx, req.Symbol)
	if err != nil {
		return common.OrderResult{}, err
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	params.Set("quantity", f.FormatQty(req.Qty))
	if req.Type == common.OrderTypeLimit {
		params.Set("price", f.FormatPrice(req.Price))
		tif := req.TimeInForce
		if tif == "" {
			tif = common.TIFGTC
		}
		params.Set("timeInForce", string(tif))
	}
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}
	if req.PositionSide != "" {
		params.Set("positionSide", string(req.PositionSide))
	} else if req.ReduceOnly {
		// reduceOnly is rejected in hedge mode; only send for one-way accounts.
		params.Set("reduceOnly", "true")
	}
	c.signTimestamp(params)

	body, err := c.doSigned(ctx, http.MethodPost, c.baseURL+"/fapi/v1/order", params)
	if err != nil {
		return common.OrderResult{}, err
	}
	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order: %w", err)
	}
	return common.OrderResult{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		Status:          mapStatus(resp.Status),
		AvgPrice:        toFloat(resp.AvgPrice),
		ClientID:        resp.ClientOrderID,
	}, nil
}

// PlaceConditionalOrder places a STOP_MARKET or TAKE_PROFIT_MARKET order that
// activates once the mark price crosses the trigger.
func (c *Client) PlaceConditionalOrder(ctx context.Context, req common.ConditionalRequest) (common.ConditionalResult, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.ConditionalResult{}, errors.New("binance futures: API key/secret required")
	}
	f, err := c.SymbolFilters(ctx, req.Symbol)
	if err != nil {
		return common.ConditionalResult{}, err
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	params.Set("stopPrice", f.FormatPrice(req.TriggerPrice))
	params.Set("workingType", "MARK_PRICE")
	if req.ClosePosition {
		params.Set("closePosition", "true")
	} else {
		params.Set("quantity", f.FormatQty(req.Qty))
		if req.ReduceOnly && req.PositionSide == "" {
			params.Set("reduceOnly", "true")
		}
	}
	if req.PositionSide != "" {
		params.Set("positionSide", string(req.PositionSide))
	}
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}
	if req.GoodTillDate > 0 {
		params.Set("goodTillDate", strconv.FormatInt(req.GoodTillDate, 10))
	}
	c.signTimestamp(params)

	body, err := c.doSigned(ctx, http.MethodPost, c.baseURL+"/fapi/v1/order", params)
	if err != nil {
		return common.ConditionalResult{}, err
	}
	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.ConditionalResult{}, fmt.Errorf("decode conditional order: %w", err)
	}
	return common.ConditionalResult{
		AlgoID:   strconv.FormatInt(resp.OrderID, 10),
		Status:   mapStatus(resp.Status),
		ClientID: resp.ClientOrderID,
	}, nil
}

// CancelOrder cancels an order by symbol and exchange ID.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	c.signTimestamp(params)
	_, err := c.doSigned(ctx, http.MethodDelete, c.baseURL+"/fapi/v1/order", params)
	return err
}

// CancelConditionalOrder cancels a conditional order. On this venue both kinds
// live on the same endpoint.
func (c *Client) CancelConditionalOrder(ctx context.Context, symbol, algoID string) error {
	return c.CancelOrder(ctx, symbol, algoID)
}

// GetOrder fetches the authoritative view of an order, including executed
// quantity and average fill price, and sums commissions from its trades.
func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (common.OrderDetail, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	c.signTimestamp(params)
	body, err := c.doSigned(ctx, http.MethodGet, c.baseURL+"/fapi/v1/order", params)
	if err != nil {
		return common.OrderDetail{}, err
	}
	var resp struct {
		OrderID     int64  `json:"orderId"`
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		Status      string `json:"status"`
		AvgPrice    string `json:"avgPrice"`
		ExecutedQty string `json:"executedQty"`
		UpdateTime  int64  `json:"updateTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderDetail{}, fmt.Errorf("decode order detail: %w", err)
	}

	detail := common.OrderDetail{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		Symbol:          resp.Symbol,
		Side:            common.Side(resp.Side),
		Status:          mapStatus(resp.Status),
		AvgPrice:        toFloat(resp.AvgPrice),
		ExecutedQty:     toFloat(resp.ExecutedQty),
		UpdateTime:      resp.UpdateTime,
	}

	// Commission lives on the trade records, not the order.
	trades, err := c.getOrderTrades(ctx, symbol, orderID)
	if err != nil {
		// The fill price is still usable; report the detail without fees.
		return detail, nil
	}
	for _, t := range trades {
		detail.Commission += t.Commission
	}
	return detail, nil
}

type orderTrade struct {
	Commission float64
}

func (c *Client) getOrderTrades(ctx context.Context, symbol, orderID string) ([]orderTrade, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	c.signTimestamp(params)
	body, err := c.doSigned(ctx, http.MethodGet, c.baseURL+"/fapi/v1/userTrades", params)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Commission string `json:"commission"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode user trades: %w", err)
	}
	out := make([]orderTrade, 0, len(raw))
	for _, r := range raw {
		out = append(out, orderTrade{Commission: toFloat(r.Commission)})
	}
	return out, nil
}

// GetOpenOrders returns open plain orders; symbol optional.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]common.OpenOrder, error) {
	raw, err := c.getOpenOrdersRaw(ctx, symbol)
	if err != nil {
		return nil, err
	}
	var out []common.OpenOrder
	for _, o := range raw {
		if isConditionalType(o.Type) {
			continue
		}
		out = append(out, common.OpenOrder{
			ExchangeOrderID: strconv.FormatInt(o.OrderID, 10),
			Symbol:          o.Symbol,
			Side:            common.Side(o.Side),
			Type:            common.OrderType(o.Type),
			Price:           toFloat(o.Price),
			Qty:             toFloat(o.OrigQty),
			ReduceOnly:      o.ReduceOnly,
			PositionSide:    common.PositionSide(o.PositionSide),
			Time:            o.Time,
		})
	}
	return out, nil
}

// GetOpenConditionalOrders returns open stop/take-profit orders.
func (c *Client) GetOpenConditionalOrders(ctx context.Context, symbol string) ([]common.OpenConditionalOrder, error) {
	raw, err := c.getOpenOrdersRaw(ctx, symbol)
	if err != nil {
		return nil, err
	}
	var out []common.OpenConditionalOrder
	for _, o := range raw {
		if !isConditionalType(o.Type) {
			continue
		}
		out = append(out, common.OpenConditionalOrder{
			AlgoID:       strconv.FormatInt(o.OrderID, 10),
			Symbol:       o.Symbol,
			Side:         common.Side(o.Side),
			Type:         common.OrderType(o.Type),
			TriggerPrice: toFloat(o.StopPrice),
			Qty:          toFloat(o.OrigQty),
			ReduceOnly:   o.ReduceOnly || o.ClosePosition,
			PositionSide: common.PositionSide(o.PositionSide),
			Time:         o.Time,
		})
	}
	return out, nil
}

type rawOpenOrder struct {
	OrderID       int64  `json:"orderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	StopPrice     string `json:"stopPrice"`
	OrigQty       string `json:"origQty"`
	ReduceOnly    bool   `json:"reduceOnly"`
	ClosePosition bool   `json:"closePosition"`
	PositionSide  string `json:"positionSide"`
	Time          int64  `json:"time"`
}

func (c *Client) getOpenOrdersRaw(ctx context.Context, symbol string) ([]rawOpenOrder, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	c.signTimestamp(params)
	body, err := c.doSigned(ctx, http.MethodGet, c.baseURL+"/fapi/v1/openOrders", params)
	if err != nil {
		return nil, err
	}
	var raw []rawOpenOrder
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	return raw, nil
}

// GetPositionRisk returns the authoritative position view for all symbols.
func (c *Client) GetPositionRisk(ctx context.Context) ([]common.PositionRisk, error) {
	params := url.Values{}
	c.signTimestamp(params)
	body, err := c.doSigned(ctx, http.MethodGet, c.baseURL+"/fapi/v2/positionRisk", params)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Symbol           string `json:"symbol"`
		PositionSide     string `json:"positionSide"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		MarkPrice        string `json:"markPrice"`
		Leverage         string `json:"leverage"`
		UnRealizedProfit string `json:"unRealizedProfit"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode position risk: %w", err)
	}
	out := make([]common.PositionRisk, 0, len(raw))
	for _, p := range raw {
		amt := toFloat(p.PositionAmt)
		if amt < 0 {
			amt = -amt
		}
		lev, _ := strconv.Atoi(p.Leverage)
		out = append(out, common.PositionRisk{
			Symbol:        p.Symbol,
			PositionSide:  common.PositionSide(p.PositionSide),
			Quantity:      amt,
			EntryPrice:    toFloat(p.EntryPrice),
			MarkPrice:     toFloat(p.MarkPrice),
			Leverage:      lev,
			UnrealizedPnl: toFloat(p.UnRealizedProfit),
		})
	}
	return out, nil
}

// GetMarkPrice fetches the current mark price for a symbol.
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/fapi/v1/premiumIndex?symbol="+url.QueryEscape(symbol), nil)
	if err != nil {
		return 0, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return 0, c.asExchangeError(res.StatusCode, body)
	}
	var out struct {
		MarkPrice string `json:"markPrice"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("decode mark price: %w", err)
	}
	return toFloat(out.MarkPrice), nil
}

// SetLeverage sets leverage for a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	c.signTimestamp(params)
	_, err := c.doSigned(ctx, http.MethodPost, c.baseURL+"/fapi/v1/leverage", params)
	return err
}

// SetPositionSideDual enables/disables hedge mode account-wide.
func (c *Client) SetPositionSideDual(ctx context.Context, dual bool) error {
	params := url.Values{}
	params.Set("dualSidePosition", strconv.FormatBool(dual))
	c.signTimestamp(params)
	_, err := c.doSigned(ctx, http.MethodPost, c.baseURL+"/fapi/v1/positionSide/dual", params)
	return err
}

// SymbolFilters returns cached precision filters for a symbol, fetching
// exchangeInfo on first use.
func (c *Client) SymbolFilters(ctx context.Context, symbol string) (common.SymbolFilters, error) {
	c.mu.RLock()
	f, ok := c.filters[symbol]
	c.mu.RUnlock()
	if ok {
		return f, nil
	}
	if err := c.loadExchangeInfo(ctx); err != nil {
		return common.SymbolFilters{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok = c.filters[symbol]
	if !ok {
		return common.SymbolFilters{}, fmt.Errorf("binance futures: unknown symbol %s", symbol)
	}
	return f, nil
}

func (c *Client) loadExchangeInfo(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return c.asExchangeError(res.StatusCode, body)
	}
	var info struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType string `json:"filterType"`
				TickSize   string `json:"tickSize"`
				StepSize   string `json:"stepSize"`
				MinQty     string `json:"minQty"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return fmt.Errorf("decode exchange info: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range info.Symbols {
		f := common.SymbolFilters{Symbol: s.Symbol}
		for _, flt := range s.Filters {
			switch flt.FilterType {
			case "PRICE_FILTER":
				f.TickSize = flt.TickSize
			case "LOT_SIZE":
				f.StepSize = flt.StepSize
				f.MinQty = flt.MinQty
			}
		}
		c.filters[s.Symbol] = f
	}
	return nil
}

// CreateListenKey creates a listen key for the user data stream.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/fapi/v1/listenKey", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return "", c.asExchangeError(res.StatusCode, body)
	}
	var out struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	return out.ListenKey, nil
}

// KeepAliveListenKey extends listen key life.
func (c *Client) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/fapi/v1/listenKey?listenKey="+listenKey, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		body, _ := io.ReadAll(res.Body)
		return c.asExchangeError(res.StatusCode, body)
	}
	return nil
}

// GetServerTime fetches futures server time.
func (c *Client) GetServerTime() (int64, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/fapi/v1/time")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("server time status %d: %s", resp.StatusCode, string(b))
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return 0, err
	}
	return res.ServerTime, nil
}

func (c *Client) signTimestamp(params url.Values) {
	params.Set("timestamp", strconv.FormatInt(c.now(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
}

// doSigned handles signing and sending requests. Coded venue failures come
// back as *common.ExchangeError.
func (c *Client) doSigned(ctx context.Context, method, endpoint string, params url.Values) ([]byte, error) {
	sig := sign(params.Encode(), c.cfg.APISecret)
	params.Set("signature", sig)

	var (
		req *http.Request
		err error
	)
	encoded := params.Encode()
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if c.rateLimiter != nil {
		c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))
	}

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, c.asExchangeError(res.StatusCode, body)
	}
	return body, nil
}

// asExchangeError parses Binance's {"code":-NNNN,"msg":"..."} error body.
func (c *Client) asExchangeError(httpStatus int, body []byte) error {
	var be struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &be); err != nil || be.Code == 0 {
		return &common.ExchangeError{
			Kind:       common.ClassifyBinanceCode(0, httpStatus),
			HTTPStatus: httpStatus,
			Message:    string(body),
		}
	}
	return &common.ExchangeError{
		Kind:       common.ClassifyBinanceCode(be.Code, httpStatus),
		Code:       be.Code,
		HTTPStatus: httpStatus,
		Message:    be.Msg,
	}
}
