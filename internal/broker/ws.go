// ws.go implements the two WebSocket feeds TradingMarket composes: the
// market (bars) channel and the trades (order/account updates) channel.
//
// Both auto-reconnect with exponential backoff (1s -> 30s max) and
// re-authenticate + re-subscribe to every tracked symbol on reconnection.
// A read deadline (90s) ensures a silently dead connection is detected
// within roughly two missed heartbeats.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ccnets-team/tradingcore/pkg/types"
)

const (
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	barBufferSize    = 256
	tradeBufferSize  = 64
)

// ChannelKind selects which subscribe protocol a WSFeed speaks.
type ChannelKind string

const (
	ChannelMarket ChannelKind = "market"
	ChannelTrades ChannelKind = "trades"
)

// WSFeed manages one authenticated WebSocket connection (market or trades
// channel): connection lifecycle, subscription tracking, message
// dispatch, and automatic reconnect.
type WSFeed struct {
	url     string
	auth    *Auth
	channel ChannelKind

	connMu sync.Mutex
	conn   *websocket.Conn

	subscribedMu sync.RWMutex
	subscribed   map[string]bool

	barCh   chan types.ParsedMarketUpdate
	tradeCh chan types.ParsedTradeMessage

	logger *slog.Logger
}

// NewWSFeed builds a feed for the given channel. url is the broker's
// streaming endpoint for that channel.
func NewWSFeed(url string, auth *Auth, channel ChannelKind, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:        url,
		auth:       auth,
		channel:    channel,
		subscribed: make(map[string]bool),
		barCh:      make(chan types.ParsedMarketUpdate, barBufferSize),
		tradeCh:    make(chan types.ParsedTradeMessage, tradeBufferSize),
		logger:     logger.With("component", "ws_"+string(channel)),
	}
}

// BarUpdates returns the read-only channel of parsed bar updates (market
// channel only; empty for a trades feed).
func (f *WSFeed) BarUpdates() <-chan types.ParsedMarketUpdate { return f.barCh }

// TradeUpdates returns the read-only channel of parsed trade/account
// messages (trades channel only; empty for a market feed).
func (f *WSFeed) TradeUpdates() <-chan types.ParsedTradeMessage { return f.tradeCh }

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Subscribe adds symbols to the tracked set and, if connected, sends the
// subscribe frame(s) immediately.
func (f *WSFeed) Subscribe(symbols []string) error {
	f.subscribedMu.Lock()
	for _, s := range symbols {
		f.subscribed[s] = true
	}
	f.subscribedMu.Unlock()
	return f.sendSubscribe(symbols)
}

// Unsubscribe removes symbols from the tracked set and, if connected,
// sends an unsubscribe frame.
func (f *WSFeed) Unsubscribe(symbols []string) error {
	f.subscribedMu.Lock()
	for _, s := range symbols {
		delete(f.subscribed, s)
	}
	f.subscribedMu.Unlock()
	if f.channel != ChannelMarket {
		return nil
	}
	return f.writeJSON(types.WSSubscribeBarsFrame{Action: "unsubscribe", Bars: symbols})
}

// Close closes the underlying connection, if any.
func (f *WSFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *WSFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.writeJSON(types.WSAuthFrame{Action: "auth", Key: f.auth.APIKey, Secret: f.auth.SecretKey}); err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	if f.channel == ChannelTrades {
		if err := f.sendTradesHandshake(); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		f.logger.Info("websocket connected", "channel", f.channel)
	} else {
		f.subscribedMu.RLock()
		symbols := make([]string, 0, len(f.subscribed))
		for s := range f.subscribed {
			symbols = append(symbols, s)
		}
		f.subscribedMu.RUnlock()

		if err := f.sendSubscribe(symbols); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		f.logger.Info("websocket connected", "channel", f.channel, "symbols", len(symbols))
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

// sendSubscribe sends the market channel's per-symbol bars subscribe
// frame. A no-op when there are no tracked symbols yet.
func (f *WSFeed) sendSubscribe(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	return f.writeJSON(types.WSSubscribeBarsFrame{Action: "subscribe", Bars: symbols})
}

// sendTradesHandshake sends the trades-channel subscribe pair
// unconditionally on every (re)connect, regardless of any per-symbol
// tracking: both the v2-style wildcard subscribe and the legacy "listen"
// frame, matching the reference client's connect sequence exactly.
func (f *WSFeed) sendTradesHandshake() error {
	if err := f.writeJSON(types.WSSubscribeTradesFrame{Action: "subscribe", Orders: []string{"*"}, Account: []string{"*"}}); err != nil {
		return err
	}
	return f.writeJSON(types.WSListenFrame{Action: "listen", Data: types.WSListenData{Streams: []string{"trade_updates", "account_updates"}}})
}

func (f *WSFeed) dispatchMessage(data []byte) {
	if f.channel == ChannelMarket {
		for _, upd := range ParseMarketMessage(data) {
			select {
			case f.barCh <- upd:
			default:
				f.logger.Warn("bar channel full, dropping update", "symbol", upd.Symbol)
			}
		}
		return
	}

	var envelope []json.RawMessage
	if err := json.Unmarshal(data, &envelope); err == nil {
		for _, e := range envelope {
			parsed := ParseTradeMessage(e)
			if parsed.Kind == types.TradeMessageOther {
				continue
			}
			select {
			case f.tradeCh <- parsed:
			default:
				f.logger.Warn("trade channel full, dropping update")
			}
		}
		return
	}

	parsed := ParseTradeMessage(data)
	if parsed.Kind == types.TradeMessageOther {
		return
	}
	select {
	case f.tradeCh <- parsed:
	default:
		f.logger.Warn("trade channel full, dropping update")
	}
}

func (f *WSFeed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}
