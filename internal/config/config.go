// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/vkozlov/cryptofolio/internal/domain"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the sessions database, always absolute
	Port     int
	LogLevel string
	DevMode  bool

	// Exchange and market-data credentials for the default session.
	// Per-session credentials come through domain.CredentialsProvider.
	ExchangeAPIKey    string
	ExchangeAPISecret string
	MarketDataAPIKey  string

	// Index composition
	QuoteAsset    string // unit of account and trading counter-asset
	IndexBaseSize int    // size of the base index window (top-N by rank)
	IndexSelected int    // number of selected constituents
	Stablecoins   []string

	// Rebalancing thresholds
	IntervalSeconds   int     // default cycle interval
	MinTradeThreshold float64 // below this value operations route to convert
	DiffEpsilon       float64 // |target-current| below this is ignored
	DustFloor         float64 // residues below this are ignored entirely
	FeeReserve        float64 // fraction of sell proceeds reserved for fees
	MinQuoteReserve   float64 // absolute quote buffer never spent on buys
	AutoConvertDust   bool
	DryRun            bool

	// Exchange rules cache TTL in seconds
	RulesCacheTTLSeconds int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("TRADER_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvInt("PORT", 8090),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvBool("DEV_MODE", false),

		ExchangeAPIKey:    getEnv("BINANCE_API_KEY", ""),
		ExchangeAPISecret: getEnv("BINANCE_API_SECRET", ""),
		MarketDataAPIKey:  getEnv("COINMARKETCAP_API_KEY", ""),

		QuoteAsset:    getEnv("QUOTE_ASSET", "USDC"),
		IndexBaseSize: getEnvInt("INDEX_BASE_SIZE", 20),
		IndexSelected: getEnvInt("INDEX_SELECTED_COUNT", 2),
		Stablecoins:   domain.DefaultStablecoins,

		IntervalSeconds:   getEnvInt("CMC_INDEX_UPDATE_INTERVAL", 3600),
		MinTradeThreshold: getEnvFloat("MIN_TRADE_THRESHOLD", 5.0),
		DiffEpsilon:       getEnvFloat("REBALANCE_DIFF_EPSILON", 1.0),
		DustFloor:         getEnvFloat("DUST_FLOOR", 0.10),
		FeeReserve:        getEnvFloat("FEE_RESERVE", 0.01),
		MinQuoteReserve:   getEnvFloat("MIN_QUOTE_RESERVE", 0.0),
		AutoConvertDust:   getEnvBool("AUTO_CONVERT_DUST", true),
		DryRun:            getEnvBool("DRY_RUN", true),

		RulesCacheTTLSeconds: getEnvInt("RULES_CACHE_TTL", 1800),
	}

	if cfg.IndexBaseSize < cfg.IndexSelected || cfg.IndexSelected < 1 {
		return nil, fmt.Errorf("invalid index config: base=%d selected=%d", cfg.IndexBaseSize, cfg.IndexSelected)
	}
	if cfg.IntervalSeconds < 60 {
		cfg.IntervalSeconds = 60
	}

	return cfg, nil
}

// SessionsDBPath returns the path of the sessions database file.
func (c *Config) SessionsDBPath() string {
	return filepath.Join(c.DataDir, "sessions.db")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
