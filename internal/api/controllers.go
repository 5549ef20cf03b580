package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"position-engine/internal/record"
	"position-engine/internal/trade"
	"position-engine/pkg/exchanges/common"
)

type openPositionRequest struct {
	Symbol     string  `json:"symbol" binding:"required,min=1"`
	Side       string  `json:"side" binding:"required,oneof=LONG SHORT"`
	MarginUSDT float64 `json:"margin_usdt" binding:"gt=0"`
	Leverage   int     `json:"leverage" binding:"gt=0"`
	TpPrice    float64 `json:"tp_price"`
	SlPrice    float64 `json:"sl_price"`
}

type placeEntryOrderRequest struct {
	Symbol     string  `json:"symbol" binding:"required,min=1"`
	Side       string  `json:"side" binding:"required,oneof=LONG SHORT"`
	Price      float64 `json:"price" binding:"gt=0"`
	MarginUSDT float64 `json:"margin_usdt" binding:"gt=0"`
	Leverage   int     `json:"leverage" binding:"gt=0"`
	TpPrice    float64 `json:"tp_price"`
	SlPrice    float64 `json:"sl_price"`
}

type adjustProtectionRequest struct {
	TpPrice float64 `json:"tp_price"`
	SlPrice float64 `json:"sl_price"`
}

type listHistoryQuery struct {
	Limit int `form:"limit"`
}

func (q *listHistoryQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

// positionView is the JSON shape of a record.
type positionView struct {
	ID              string  `json:"id"`
	Symbol          string  `json:"symbol"`
	PositionSide    string  `json:"position_side"`
	Quantity        float64 `json:"quantity"`
	EntryPrice      float64 `json:"entry_price"`
	Leverage        int     `json:"leverage"`
	Notional        float64 `json:"notional"`
	MarginUsed      float64 `json:"margin_used"`
	TpPrice         float64 `json:"tp_price"`
	SlPrice         float64 `json:"sl_price"`
	Status          string  `json:"status"`
	CloseReason     string  `json:"close_reason,omitempty"`
	ClosePrice      float64 `json:"close_price,omitempty"`
	RealizedPnl     float64 `json:"realized_pnl,omitempty"`
	Source          string  `json:"source,omitempty"`
	OpenTime        string  `json:"open_time"`
	CloseTime       string  `json:"close_time,omitempty"`
	HasTpProtection bool    `json:"has_tp_protection"`
	HasSlProtection bool    `json:"has_sl_protection"`
}

func toPositionView(r record.Record) positionView {
	v := positionView{
		ID:              r.ID,
		Symbol:          r.Symbol,
		PositionSide:    string(r.PositionSide),
		Quantity:        r.Quantity,
		EntryPrice:      r.EntryPrice,
		Leverage:        r.Leverage,
		Notional:        r.Notional,
		MarginUsed:      r.MarginUsed,
		TpPrice:         r.TpPrice,
		SlPrice:         r.SlPrice,
		Status:          string(r.Status),
		CloseReason:     string(r.CloseReason),
		ClosePrice:      r.ClosePrice,
		RealizedPnl:     r.RealizedPnl,
		Source:          r.Source,
		OpenTime:        r.OpenTime.UTC().Format(time.RFC3339),
		HasTpProtection: r.HasLiveTp(),
		HasSlProtection: r.SlAlgoID != "",
	}
	if !r.CloseTime.IsZero() {
		v.CloseTime = r.CloseTime.UTC().Format(time.RFC3339)
	}
	return v
}

// pendingView is the JSON shape of a pending entry order.
type pendingView struct {
	ID              string  `json:"id"`
	Symbol          string  `json:"symbol"`
	PositionSide    string  `json:"position_side"`
	Kind            string  `json:"kind"`
	LimitPrice      float64 `json:"limit_price,omitempty"`
	TriggerPrice    float64 `json:"trigger_price,omitempty"`
	Quantity        float64 `json:"quantity"`
	Leverage        int     `json:"leverage"`
	MarginUSDT      float64 `json:"margin_usdt"`
	TpPrice         float64 `json:"tp_price"`
	SlPrice         float64 `json:"sl_price"`
	ExchangeOrderID string  `json:"exchange_order_id,omitempty"`
	ExchangeAlgoID  string  `json:"exchange_algo_id,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

func toPendingView(p record.PendingOrder) pendingView {
	return pendingView{
		ID:              p.ID,
		Symbol:          p.Symbol,
		PositionSide:    string(p.PositionSide),
		Kind:            string(p.Kind),
		LimitPrice:      p.LimitPrice,
		TriggerPrice:    p.TriggerPrice,
		Quantity:        p.Quantity,
		Leverage:        p.Leverage,
		MarginUSDT:      p.MarginUSDT,
		TpPrice:         p.TpPrice,
		SlPrice:         p.SlPrice,
		ExchangeOrderID: p.ExchangeOrderID,
		ExchangeAlgoID:  p.ExchangeAlgoID,
		CreatedAt:       p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "running",
		"venue":   s.Meta.Venue,
		"testnet": s.Meta.Testnet,
		"symbols": s.Meta.Symbols,
		"version": s.Meta.Version,
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metrics not enabled"})
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func (s *Server) getPositions(c *gin.Context) {
	recs := s.Records.ListOpen()
	out := make([]positionView, 0, len(recs))
	for _, r := range recs {
		out = append(out, toPositionView(r))
	}
	c.JSON(http.StatusOK, gin.H{"positions": out})
}

func (s *Server) getPosition(c *gin.Context) {
	rec, ok := s.Records.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "error": "position not found"})
		return
	}
	c.JSON(http.StatusOK, toPositionView(rec))
}

func (s *Server) openPosition(c *gin.Context) {
	var req openPositionRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": err.Error()})
		return
	}

	rec, err := s.Trades.OpenPosition(c.Request.Context(), trade.OpenRequest{
		Symbol:       strings.ToUpper(req.Symbol),
		PositionSide: common.PositionSide(req.Side),
		MarginUSDT:   req.MarginUSDT,
		Leverage:     req.Leverage,
		TpPrice:      req.TpPrice,
		SlPrice:      req.SlPrice,
	})
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "OPEN_FAILED", "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, toPositionView(rec))
}

func (s *Server) closePosition(c *gin.Context) {
	rec, err := s.Trades.CloseManually(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "CLOSE_FAILED", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toPositionView(rec))
}

func (s *Server) adjustProtection(c *gin.Context) {
	var req adjustProtectionRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": err.Error()})
		return
	}
	rec, err := s.Trades.AdjustProtection(c.Request.Context(), c.Param("id"), req.TpPrice, req.SlPrice)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "ADJUST_FAILED", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toPositionView(rec))
}

func (s *Server) getPendingOrders(c *gin.Context) {
	pos := s.Pending.List()
	out := make([]pendingView, 0, len(pos))
	for _, p := range pos {
		out = append(out, toPendingView(p))
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

func (s *Server) placeEntryOrder(c *gin.Context) {
	var req placeEntryOrderRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": err.Error()})
		return
	}

	po, err := s.Trades.PlaceEntryOrder(c.Request.Context(), trade.EntryOrderRequest{
		Symbol:       strings.ToUpper(req.Symbol),
		PositionSide: common.PositionSide(req.Side),
		Price:        req.Price,
		MarginUSDT:   req.MarginUSDT,
		Leverage:     req.Leverage,
		TpPrice:      req.TpPrice,
		SlPrice:      req.SlPrice,
	})
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "ENTRY_FAILED", "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, toPendingView(po))
}

func (s *Server) cancelPendingOrder(c *gin.Context) {
	if err := s.Trades.CancelPending(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "CANCEL_FAILED", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (s *Server) getHistory(c *gin.Context) {
	var q listHistoryQuery
	if err := c.BindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_QUERY", "error": err.Error()})
		return
	}
	q.normalize()

	rows, err := s.DB.ListClosedPositions(c.Request.Context(), q.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": rows})
}

func (s *Server) getStatistics(c *gin.Context) {
	stats, err := s.Trades.Statistics(c.Request.Context(), s.DB)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) getAlerts(c *gin.Context) {
	if s.Alerts == nil {
		c.JSON(http.StatusOK, gin.H{"alerts": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": s.Alerts.Recent(100)})
}
