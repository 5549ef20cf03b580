package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"position-engine/pkg/crypto"
)

// Config holds environment-driven settings for the position engine.
type Config struct {
	Port string

	// Binance USDT-M futures
	BinanceTestnet   bool
	BinanceAPIKey    string
	BinanceAPISecret string

	// Database
	DBPath string

	// Reconciliation loop
	SyncInterval     time.Duration // orders / TP-SL pass
	PositionSyncMult int           // run the full position pass every Nth tick

	// Exchange REST
	RequestTimeout time.Duration

	// History writer
	HistoryQueueSize int

	// API auth
	JWTSecret string

	// Trading config file (symbols, leverage, margin)
	TradingConfigPath string

	// Logging
	LogPath       string // empty disables file logging
	LogMaxSizeMB  int
	LogMaxBackups int
}

// Load reads environment variables (optionally via .env) into Config.
// API credentials may be stored encrypted (ENC[vN]: prefix); they are
// decrypted here with the key material from the environment.
func Load() (*Config, error) {
	// Ignore error so the engine still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		BinanceTestnet:    getEnv("BINANCE_TESTNET", "false") == "true",
		BinanceAPIKey:     os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:  os.Getenv("BINANCE_API_SECRET"),
		DBPath:            getEnv("DB_PATH", "./data/positions.db"),
		SyncInterval:      getEnvDuration("SYNC_INTERVAL", 8*time.Second),
		PositionSyncMult:  getEnvInt("POSITION_SYNC_MULTIPLE", 6),
		RequestTimeout:    getEnvDuration("REQUEST_TIMEOUT", 10*time.Second),
		HistoryQueueSize:  getEnvInt("HISTORY_QUEUE_SIZE", 256),
		JWTSecret:         getEnv("JWT_SECRET", "dev-secret"),
		TradingConfigPath: getEnv("TRADING_CONFIG", "./trading.yaml"),
		LogPath:           getEnv("LOG_PATH", ""),
		LogMaxSizeMB:      getEnvInt("LOG_MAX_SIZE_MB", 50),
		LogMaxBackups:     getEnvInt("LOG_MAX_BACKUPS", 5),
	}

	if err := cfg.decryptCredentials(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decryptCredentials() error {
	if !crypto.IsEncrypted(c.BinanceAPIKey) && !crypto.IsEncrypted(c.BinanceAPISecret) {
		return nil
	}

	km, err := crypto.NewKeyManager()
	if err != nil {
		return fmt.Errorf("credentials are encrypted but no key is available: %w", err)
	}
	if crypto.IsEncrypted(c.BinanceAPIKey) {
		if c.BinanceAPIKey, err = km.Decrypt(c.BinanceAPIKey); err != nil {
			return fmt.Errorf("decrypt API key: %w", err)
		}
	}
	if crypto.IsEncrypted(c.BinanceAPISecret) {
		if c.BinanceAPISecret, err = km.Decrypt(c.BinanceAPISecret); err != nil {
			return fmt.Errorf("decrypt API secret: %w", err)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
