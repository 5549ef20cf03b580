// Package api exposes the engine's read model and control operations over
// HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"position-engine/internal/events"
	"position-engine/internal/monitor"
	"position-engine/internal/record"
	"position-engine/internal/trade"
	"position-engine/pkg/db"
)

// Server wires HTTP endpoints around the engine services.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	DB        *db.Database
	Records   *record.Store
	Pending   *record.PendingBook
	Trades    *trade.Service
	Alerts    *monitor.Center
	Metrics   *monitor.EngineMetrics
	JWTSecret string
	Meta      SystemMeta
}

// SystemMeta describes runtime status exposed on /api/system/status.
type SystemMeta struct {
	Venue   string   `json:"venue"`
	Testnet bool     `json:"testnet"`
	Symbols []string `json:"symbols"`
	Version string   `json:"version"`
}

// NewServer builds the router with the full middleware stack.
func NewServer(bus *events.Bus, database *db.Database, records *record.Store, pending *record.PendingBook, trades *trade.Service, alerts *monitor.Center, metrics *monitor.EngineMetrics, meta SystemMeta, jwtSecret string) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(metrics))
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Bus:       bus,
		DB:        database,
		Records:   records,
		Pending:   pending,
		Trades:    trades,
		Alerts:    alerts,
		Metrics:   metrics,
		JWTSecret: jwtSecret,
		Meta:      meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/positions", s.getPositions)
			protected.GET("/positions/:id", s.getPosition)
			protected.POST("/positions", s.openPosition)
			protected.POST("/positions/:id/close", s.closePosition)
			protected.PUT("/positions/:id/protection", s.adjustProtection)

			protected.GET("/orders", s.getPendingOrders)
			protected.POST("/orders", s.placeEntryOrder)
			protected.DELETE("/orders/:id", s.cancelPendingOrder)

			protected.GET("/history", s.getHistory)
			protected.GET("/statistics", s.getStatistics)
			protected.GET("/alerts", s.getAlerts)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start serves on addr until the listener fails.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
