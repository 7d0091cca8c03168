// Package config defines the broker configuration for tradingcore.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// credentials overridable via TRADINGCORE_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/ccnets-team/tradingcore/pkg/types"
)

// brokerDefaults holds the per-broker endpoint defaults applied when a
// Config field is left blank. DataRESTBase is intentionally absent here —
// it depends on AssetType and is resolved by Config.DataRESTBase().
type brokerDefaults struct {
	marketWSURL   string
	tradesWSURL   string
	paperRESTBase string
	liveRESTBase  string
}

var defaultsByBroker = map[types.Broker]brokerDefaults{
	types.BrokerAlpaca: {
		marketWSURL:   "wss://stream.data.alpaca.markets/v2/iex",
		tradesWSURL:   "wss://paper-api.alpaca.markets/stream",
		paperRESTBase: "https://paper-api.alpaca.markets/v2",
		liveRESTBase:  "https://api.alpaca.markets/v2",
	},
	types.BrokerBinance: {
		marketWSURL:   "wss://stream.binance.com:9443/ws",
		tradesWSURL:   "wss://stream.binance.com:9443/ws",
		paperRESTBase: "https://testnet.binance.vision/api",
		liveRESTBase:  "https://api.binance.com/api",
	},
	types.BrokerIBKR: {
		marketWSURL:   "wss://your-ibkr-ws",
		tradesWSURL:   "wss://your-ibkr-trades",
		paperRESTBase: "https://your-ibkr-paper-rest",
		liveRESTBase:  "https://your-ibkr-live-rest",
	},
}

// Config is the immutable broker/connection configuration consumed by
// TradingMarket. Maps directly onto the YAML file structure.
type Config struct {
	Broker    types.Broker    `mapstructure:"broker"`
	APIKey    string          `mapstructure:"api_key"`
	SecretKey string          `mapstructure:"secret_key"`
	TradeMode types.TradeMode `mapstructure:"trade_mode"`

	// Asset identity, used to build the asset_id observation feature.
	CountryCode string `mapstructure:"country_code"`
	ExchangeCode string `mapstructure:"exchange_code"`
	AssetType   string `mapstructure:"asset_type"`

	// Endpoints; auto-filled from defaultsByBroker when left blank.
	MarketWSURL   string `mapstructure:"market_ws_url"`
	TradesWSURL   string `mapstructure:"trades_ws_url"`
	PaperRESTBase string `mapstructure:"paper_rest_base"`
	LiveRESTBase  string `mapstructure:"live_rest_base"`
	DataRESTBaseOverride string `mapstructure:"data_rest_base"`

	// Rate limits / timeouts.
	RecvTimeoutSec float64 `mapstructure:"recv_timeout_sec"`
	RestRPS        float64 `mapstructure:"rest_rps"`
	RestBurst      float64 `mapstructure:"rest_burst"`
	WSPullRPS      float64 `mapstructure:"ws_pull_rps"`
	WSPullBurst    float64 `mapstructure:"ws_pull_burst"`

	// Timeframe for REST bar backfill, e.g. "1Min".
	BarsTimeframe string `mapstructure:"bars_timeframe"`
}

// Defaults returns a Config with every non-credential field at its
// reference value; callers overlay broker/credentials/trade mode on top.
func Defaults() Config {
	return Config{
		TradeMode:      types.ModeLocal,
		CountryCode:    "US",
		ExchangeCode:   "XNYS",
		AssetType:      "ESXXXX",
		RecvTimeoutSec: 1.0,
		RestRPS:        5.0,
		RestBurst:      10,
		WSPullRPS:      20.0,
		WSPullBurst:    50,
		BarsTimeframe:  "1Min",
	}
}

// applyBrokerDefaults fills any blank WS/REST endpoint field from the
// broker's published defaults. The data-REST base is not set here; it is
// resolved on each call to DataRESTBase().
func (c *Config) applyBrokerDefaults() {
	d, ok := defaultsByBroker[types.Broker(strings.ToLower(string(c.Broker)))]
	if !ok {
		return
	}
	if c.MarketWSURL == "" {
		c.MarketWSURL = d.marketWSURL
	}
	if c.TradesWSURL == "" {
		c.TradesWSURL = d.tradesWSURL
	}
	if c.PaperRESTBase == "" {
		c.PaperRESTBase = d.paperRESTBase
	}
	if c.LiveRESTBase == "" {
		c.LiveRESTBase = d.liveRESTBase
	}
}

// RESTBase returns the trading REST base (accounts, orders) for the
// configured trade mode.
func (c Config) RESTBase() string {
	if c.TradeMode == types.ModePaper {
		return c.PaperRESTBase
	}
	return c.LiveRESTBase
}

// DataRESTBase returns the data REST base (bars), honoring an explicit
// override or deriving a broker/asset-class-appropriate default: Alpaca
// crypto uses v1beta3, Alpaca stocks use v2, Binance uses its klines API,
// and anything else falls back to the trading REST base.
func (c Config) DataRESTBase() string {
	if c.DataRESTBaseOverride != "" {
		return strings.TrimRight(c.DataRESTBaseOverride, "/")
	}
	broker := strings.ToLower(string(c.Broker))
	assetType := strings.ToLower(c.AssetType)

	switch broker {
	case string(types.BrokerAlpaca):
		if strings.HasPrefix(assetType, "crypto") {
			return "https://data.alpaca.markets/v1beta3/crypto/us"
		}
		return "https://data.alpaca.markets/v2/stocks"
	case string(types.BrokerBinance):
		return "https://api.binance.com/api"
	default:
		return strings.TrimRight(c.RESTBase(), "/")
	}
}

// Load reads config from a YAML file with TRADINGCORE_* env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TRADINGCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Defaults()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("TRADINGCORE_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	if secret := os.Getenv("TRADINGCORE_SECRET_KEY"); secret != "" {
		cfg.SecretKey = secret
	}

	cfg.applyBrokerDefaults()
	return &cfg, nil
}

// Validate checks required fields, matching the original's __post_init__
// checks: broker, api_key, and secret_key must all be non-empty.
func (c *Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("broker is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required (set TRADINGCORE_API_KEY)")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("secret_key is required (set TRADINGCORE_SECRET_KEY)")
	}
	switch c.TradeMode {
	case types.ModeLocal, types.ModePaper, types.ModeReal:
	default:
		return fmt.Errorf("trade_mode must be one of: local, paper, real")
	}
	if c.RestRPS <= 0 || c.RestBurst <= 0 {
		return fmt.Errorf("rest_rps and rest_burst must be > 0")
	}
	if c.WSPullRPS <= 0 || c.WSPullBurst <= 0 {
		return fmt.Errorf("ws_pull_rps and ws_pull_burst must be > 0")
	}
	c.applyBrokerDefaults()
	return nil
}
