// Package market implements TradingMarket, the live broker client
// TradingVecEnv drives: a market/trades WebSocket pair, REST account and
// order access, and the caches that back synchronous feature reads.
package market

import (
	"sync"

	"github.com/ccnets-team/tradingcore/pkg/types"
)

// navPrevKey is the reserved AccountCache key holding the previous-NAV-by-
// symbol map used for non-local reward differentials.
const navPrevKey = "_nav_prev_by_sym"

// caches bundles the four pieces of shared state the bridge's channel
// loops write and synchronous callers read, all behind one coarse mutex —
// contention is low (a handful of reads per step against two writers) so
// a single RWMutex is simpler and just as fast as four.
type caches struct {
	mu sync.RWMutex

	market        map[string]types.Bar
	orders        map[string]types.OrderResult
	account       map[string]any
	subscriptions map[string]bool
}

func newCaches() *caches {
	return &caches{
		market:        make(map[string]types.Bar),
		orders:        make(map[string]types.OrderResult),
		account:       make(map[string]any),
		subscriptions: make(map[string]bool),
	}
}

func (c *caches) putBar(symbol string, bar types.Bar) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.market[symbol] = bar
}

func (c *caches) getBar(symbol string) (types.Bar, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.market[symbol]
	return b, ok
}

func (c *caches) putOrder(id string, o types.OrderResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders[id] = o
}

func (c *caches) mergeAccount(fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range fields {
		c.account[k] = v
	}
}

func (c *caches) navPrevBySymbol() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	raw, _ := c.account[navPrevKey].(map[string]float64)
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	return out
}

func (c *caches) setNavPrevBySymbol(nav map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.account[navPrevKey] = nav
}

func (c *caches) isSubscribed(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions[symbol]
}

func (c *caches) addSubscription(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[symbol] = true
}

func (c *caches) removeSubscription(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, symbol)
}

func (c *caches) subscribedSnapshot() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]bool, len(c.subscriptions))
	for k, v := range c.subscriptions {
		out[k] = v
	}
	return out
}
