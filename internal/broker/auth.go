// Package broker implements the low-level REST and WebSocket primitives
// TradingMarket composes: authenticated HTTP headers, a rate-limited resty
// client, reconnecting WebSocket feeds, per-broker bar backfill, and the
// market/trades message parsers.
package broker

import (
	"github.com/ccnets-team/tradingcore/internal/config"
)

// Auth carries the broker credentials used for both REST headers and the
// WebSocket auth frame.
type Auth struct {
	APIKey    string
	SecretKey string
}

// NewAuth builds an Auth from a loaded Config.
func NewAuth(cfg config.Config) *Auth {
	return &Auth{APIKey: cfg.APIKey, SecretKey: cfg.SecretKey}
}

// RESTHeaders returns the headers attached to every trading/data REST call.
// Alpaca-compatible brokers authenticate via these two header keys; other
// broker adapters would extend this with their own signing scheme.
func (a *Auth) RESTHeaders() map[string]string {
	return map[string]string{
		"APCA-API-KEY-ID":     a.APIKey,
		"APCA-API-SECRET-KEY": a.SecretKey,
		"Content-Type":        "application/json",
	}
}
