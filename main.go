package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"position-engine/internal/api"
	"position-engine/internal/dispatch"
	"position-engine/internal/events"
	"position-engine/internal/executor"
	"position-engine/internal/history"
	"position-engine/internal/monitor"
	"position-engine/internal/reconciliation"
	"position-engine/internal/record"
	"position-engine/internal/trade"
	"position-engine/pkg/config"
	"position-engine/pkg/db"
	futures "position-engine/pkg/exchanges/binance/futures"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if cfg.LogPath != "" {
		log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogPath,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   true,
		}))
	}
	log.Printf("position engine starting (port=%s testnet=%v)", cfg.Port, cfg.BinanceTestnet)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("db migrations failed: %v", err)
	}

	// Exchange gateway
	client := futures.NewClient(futures.Config{
		APIKey:    cfg.BinanceAPIKey,
		APISecret: cfg.BinanceAPISecret,
		Testnet:   cfg.BinanceTestnet,
		Timeout:   cfg.RequestTimeout,
	})
	client.StartTimeSync(ctx)

	alerts := monitor.NewCenter(bus, 200)
	client.RateLimiter().SetWarnFunc(func(used, limit int, pct float64) {
		alerts.Warn("RATE_LIMIT", "request weight at %.0f%% (%d/%d)", pct, used, limit)
	})
	metrics := monitor.NewEngineMetrics()

	exec := executor.New(client)

	// Ledger: records in memory, pending intents seeded from DB
	records := record.NewStore()
	pending := record.NewPendingBook(database)
	if err := pending.Load(ctx); err != nil {
		log.Fatalf("pending orders load failed: %v", err)
	}
	linked := record.NewLinkedIndex()
	for _, po := range pending.List() {
		id := po.ExchangeOrderID
		if id == "" {
			id = po.ExchangeAlgoID
		}
		if id != "" {
			linked.Put(id, po.ID, record.PurposeEntry)
		}
	}

	histWriter := history.NewWriter(database, cfg.HistoryQueueSize)
	defer histWriter.Close()

	trades := &trade.Service{
		Records: records,
		Pending: pending,
		Linked:  linked,
		Exec:    exec,
		History: histWriter,
		Alerts:  alerts,
		Bus:     bus,
		Source:  "position-engine",
	}

	// Symbol defaults from the trading config; optional.
	var symbols []string
	if tc, err := config.LoadTrading(cfg.TradingConfigPath); err == nil {
		trades.Source = tc.Source
		for _, sc := range tc.Symbols {
			symbols = append(symbols, sc.Symbol)
			if err := exec.EnsureLeverage(ctx, sc.Symbol, sc.Leverage); err != nil {
				log.Printf("leverage preset %s: %v", sc.Symbol, err)
			}
		}
	} else {
		log.Printf("trading config %s not loaded: %v", cfg.TradingConfigPath, err)
	}

	// Stream event routing
	dispatcher := &dispatch.Dispatcher{
		Records: records,
		Pending: pending,
		Linked:  linked,
		Trades:  trades,
	}
	dispatcher.AddListener(func(events.StreamEvent) {
		metrics.IncrementStreamEvents()
	})
	openedSub, unsubOpened := bus.Subscribe(events.EventPositionOpened, 50)
	defer unsubOpened()
	closedSub, unsubClosed := bus.Subscribe(events.EventPositionClosed, 50)
	defer unsubClosed()
	go func() {
		for range openedSub {
			metrics.IncrementOpened()
		}
	}()
	go func() {
		for range closedSub {
			metrics.IncrementClosed()
		}
	}()

	stream := &dispatch.UserStream{
		Client:  client,
		Testnet: cfg.BinanceTestnet,
		Handler: dispatcher.Handle,
	}
	go stream.Run(ctx)

	// Periodic reconciliation against the exchange
	sync := &reconciliation.Service{
		Records:   records,
		Pending:   pending,
		Linked:    linked,
		Trades:    trades,
		Exec:      exec,
		Bus:       bus,
		Alerts:    alerts,
		Latency:   metrics.SyncLatency,
		Interval:  cfg.SyncInterval,
		FullEvery: cfg.PositionSyncMult,
	}
	go sync.Run(ctx)

	// API
	version := os.Getenv("APP_VERSION")
	if version == "" {
		version = "dev"
	}
	server := api.NewServer(
		bus,
		database,
		records,
		pending,
		trades,
		alerts,
		metrics,
		api.SystemMeta{
			Venue:   "binance-usdtfut",
			Testnet: cfg.BinanceTestnet,
			Symbols: symbols,
			Version: version,
		},
		cfg.JWTSecret,
	)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
	cancel()
}
