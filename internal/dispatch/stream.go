package dispatch

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"position-engine/internal/events"
	"position-engine/pkg/exchanges/common"
)

// listenKeyClient is the slice of the futures client the stream needs.
type listenKeyClient interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, listenKey string) error
}

// UserStream consumes the Binance USDT-M futures user-data stream, normalizes
// raw payloads into StreamEvents and hands them to the handler. It reconnects
// with backoff until the context is cancelled.
type UserStream struct {
	Client  listenKeyClient
	Testnet bool
	Handler func(context.Context, events.StreamEvent)
}

// Run blocks, maintaining the stream connection until ctx is done.
func (s *UserStream) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.runOnce(ctx); err != nil {
			log.Printf("user stream: %v, reconnecting in %s", err, backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *UserStream) runOnce(ctx context.Context) error {
	listenKey, err := s.Client.CreateListenKey(ctx)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.streamURL(listenKey), nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Printf("user stream: connected (testnet=%v)", s.Testnet)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Listen keys expire after 60 minutes without keepalive.
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-connCtx.Done():
				return
			case <-ticker.C:
				if err := s.Client.KeepAliveListenKey(connCtx, listenKey); err != nil {
					log.Printf("user stream: keepalive: %v", err)
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handleMessage(ctx, msg)
	}
}

func (s *UserStream) streamURL(listenKey string) string {
	host := "fstream.binance.com"
	if s.Testnet {
		host = "stream.binancefuture.com"
	}
	u := url.URL{Scheme: "wss", Host: host, Path: "/ws/" + listenKey}
	return u.String()
}

func (s *UserStream) handleMessage(ctx context.Context, msg []byte) {
	// "e" is not guaranteed to be a plain string on every event, so sniff it
	// through RawMessage first.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(msg, &raw); err != nil {
		log.Printf("user stream: parse error: %v", err)
		return
	}
	var eventType string
	if v, ok := raw["e"]; ok {
		if err := json.Unmarshal(v, &eventType); err != nil {
			return
		}
	} else {
		return
	}

	switch eventType {
	case "ORDER_TRADE_UPDATE":
		s.handleOrderTradeUpdate(ctx, msg)
	case "ACCOUNT_UPDATE":
		s.handleAccountUpdate(ctx, msg)
	case "listenKeyExpired":
		log.Printf("user stream: listen key expired, forcing reconnect")
	default:
		// ignore margin calls, account config pushes etc.
	}
}

func (s *UserStream) handleOrderTradeUpdate(ctx context.Context, msg []byte) {
	var wrap struct {
		EventTime int64 `json:"E"`
		Data      struct {
			Symbol        string `json:"s"`
			ClientOrderID string `json:"c"`
			Side          string `json:"S"`
			OrderType     string `json:"o"`
			ExecutionType string `json:"x"`
			Status        string `json:"X"`
			OrderID       int64  `json:"i"`
			AvgPrice      string `json:"ap"`
			StopPrice     string `json:"sp"`
			LastPrice     string `json:"L"`
			LastQty       string `json:"l"`
			CumQty        string `json:"z"`
			ReduceOnly    bool   `json:"R"`
			PositionSide  string `json:"ps"`
		} `json:"o"`
	}
	if err := json.Unmarshal(msg, &wrap); err != nil {
		log.Printf("user stream: order update parse error: %v", err)
		return
	}
	o := wrap.Data

	orderType := common.OrderType(strings.ToUpper(o.OrderType))
	ev := events.StreamEvent{Time: wrap.EventTime}
	if isConditional(orderType) {
		ev.Kind = events.KindAlgoUpdate
		ev.Algo = &events.AlgoUpdate{
			Symbol:        o.Symbol,
			AlgoID:        strconv.FormatInt(o.OrderID, 10),
			ClientOrderID: o.ClientOrderID,
			Side:          common.Side(o.Side),
			Type:          orderType,
			Status:        mapStreamStatus(o.Status),
			ExecutionType: o.ExecutionType,
			TriggerPrice:  toFloat(o.StopPrice),
			AvgPrice:      avgOrLast(o.AvgPrice, o.LastPrice),
			LastPrice:     toFloat(o.LastPrice),
			CumQty:        toFloat(o.CumQty),
			ReduceOnly:    o.ReduceOnly,
			PositionSide:  common.PositionSide(o.PositionSide),
		}
	} else {
		ev.Kind = events.KindOrderUpdate
		ev.Order = &events.OrderUpdate{
			Symbol:        o.Symbol,
			OrderID:       strconv.FormatInt(o.OrderID, 10),
			ClientOrderID: o.ClientOrderID,
			Side:          common.Side(o.Side),
			Type:          orderType,
			Status:        mapStreamStatus(o.Status),
			ExecutionType: o.ExecutionType,
			AvgPrice:      avgOrLast(o.AvgPrice, o.LastPrice),
			LastPrice:     toFloat(o.LastPrice),
			LastQty:       toFloat(o.LastQty),
			CumQty:        toFloat(o.CumQty),
			ReduceOnly:    o.ReduceOnly,
			PositionSide:  common.PositionSide(o.PositionSide),
		}
	}
	s.Handler(ctx, ev)
}

func (s *UserStream) handleAccountUpdate(ctx context.Context, msg []byte) {
	var wrap struct {
		EventTime int64 `json:"E"`
		Data      struct {
			Reason    string `json:"m"`
			Positions []struct {
				Symbol       string `json:"s"`
				Amount       string `json:"pa"`
				EntryPrice   string `json:"ep"`
				PositionSide string `json:"ps"`
			} `json:"P"`
		} `json:"a"`
	}
	if err := json.Unmarshal(msg, &wrap); err != nil {
		log.Printf("user stream: account update parse error: %v", err)
		return
	}

	au := &events.AccountUpdate{Reason: wrap.Data.Reason}
	for _, p := range wrap.Data.Positions {
		side := common.PositionSide(p.PositionSide)
		if side != common.PositionLong && side != common.PositionShort {
			continue // BOTH leg is one-way mode, which the engine does not run
		}
		au.Positions = append(au.Positions, events.AccountPosition{
			Symbol:       p.Symbol,
			PositionSide: side,
			Quantity:     math.Abs(toFloat(p.Amount)),
			EntryPrice:   toFloat(p.EntryPrice),
		})
	}
	if len(au.Positions) == 0 {
		return
	}
	s.Handler(ctx, events.StreamEvent{
		Kind:    events.KindAccountUpdate,
		Time:    wrap.EventTime,
		Account: au,
	})
}

func isConditional(t common.OrderType) bool {
	switch t {
	case common.OrderTypeStopMarket, common.OrderTypeTakeProfitMarket, "STOP", "TAKE_PROFIT":
		return true
	}
	return false
}

func mapStreamStatus(s string) common.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW":
		return common.StatusNew
	case "PARTIALLY_FILLED":
		return common.StatusPartial
	case "FILLED":
		return common.StatusFilled
	case "CANCELED":
		return common.StatusCanceled
	case "REJECTED":
		return common.StatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return common.StatusExpired
	}
	return common.StatusUnknown
}

func avgOrLast(avg, last string) float64 {
	if v := toFloat(avg); v > 0 {
		return v
	}
	return toFloat(last)
}

func toFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
