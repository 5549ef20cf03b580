package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SymbolConfig describes per-symbol trading parameters in YAML.
type SymbolConfig struct {
	Symbol     string  `yaml:"symbol"`
	Leverage   int     `yaml:"leverage"`
	MarginUSDT float64 `yaml:"margin_usdt"`
}

// TradingConfig is the top-level YAML structure.
type TradingConfig struct {
	Source  string         `yaml:"source"`
	Symbols []SymbolConfig `yaml:"symbols"`
}

// LoadTrading reads the trading config from a YAML file.
func LoadTrading(path string) (*TradingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tc TradingConfig
	if err := yaml.Unmarshal(data, &tc); err != nil {
		return nil, fmt.Errorf("parse trading config: %w", err)
	}
	if tc.Source == "" {
		tc.Source = "default"
	}
	for i := range tc.Symbols {
		if tc.Symbols[i].Leverage <= 0 {
			tc.Symbols[i].Leverage = 1
		}
	}
	return &tc, nil
}

// Symbol returns the config entry for a symbol, if present.
func (tc *TradingConfig) Symbol(symbol string) (SymbolConfig, bool) {
	for _, sc := range tc.Symbols {
		if sc.Symbol == symbol {
			return sc, true
		}
	}
	return SymbolConfig{}, false
}
