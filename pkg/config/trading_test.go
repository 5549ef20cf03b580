package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTrading(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trading.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadTrading(t *testing.T) {
	path := writeTrading(t, `
source: grid-bot
symbols:
  - symbol: BTCUSDT
    leverage: 10
    margin_usdt: 400
  - symbol: ETHUSDT
    leverage: 0
    margin_usdt: 200
`)

	tc, err := LoadTrading(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tc.Source != "grid-bot" {
		t.Errorf("source = %q", tc.Source)
	}
	if len(tc.Symbols) != 2 {
		t.Fatalf("symbols = %d", len(tc.Symbols))
	}

	btc, ok := tc.Symbol("BTCUSDT")
	if !ok || btc.Leverage != 10 || btc.MarginUSDT != 400 {
		t.Errorf("BTCUSDT = %+v, %v", btc, ok)
	}

	// Zero leverage is normalized, never passed to the exchange.
	eth, _ := tc.Symbol("ETHUSDT")
	if eth.Leverage != 1 {
		t.Errorf("ETHUSDT leverage = %d, want normalized 1", eth.Leverage)
	}

	if _, ok := tc.Symbol("SOLUSDT"); ok {
		t.Error("unknown symbol must not resolve")
	}
}

func TestLoadTradingDefaultsSource(t *testing.T) {
	path := writeTrading(t, "symbols: []\n")
	tc, err := LoadTrading(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tc.Source != "default" {
		t.Errorf("source = %q", tc.Source)
	}
}

func TestLoadTradingMissingFile(t *testing.T) {
	if _, err := LoadTrading(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("missing file must fail")
	}
}

func TestLoadTradingBadYAML(t *testing.T) {
	path := writeTrading(t, "symbols: [unterminated\n")
	if _, err := LoadTrading(path); err == nil {
		t.Fatal("malformed yaml must fail")
	}
}
