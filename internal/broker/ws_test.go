package broker

import (
	"io"
	"log/slog"
	"testing"

	"github.com/ccnets-team/tradingcore/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWSFeedSubscribeTracksSetWithoutConnection(t *testing.T) {
	f := NewWSFeed("wss://example.test", &Auth{}, ChannelMarket, testLogger())

	// No live connection: sendSubscribe's writeJSON fails, but the
	// tracked subscription set must still be updated so reconnection
	// re-subscribes everything.
	_ = f.Subscribe([]string{"AAPL", "MSFT"})

	f.subscribedMu.RLock()
	defer f.subscribedMu.RUnlock()
	if !f.subscribed["AAPL"] || !f.subscribed["MSFT"] {
		t.Errorf("subscribed set = %v, want AAPL and MSFT tracked", f.subscribed)
	}
}

func TestWSFeedUnsubscribeRemovesFromSet(t *testing.T) {
	f := NewWSFeed("wss://example.test", &Auth{}, ChannelMarket, testLogger())
	_ = f.Subscribe([]string{"AAPL"})
	_ = f.Unsubscribe([]string{"AAPL"})

	f.subscribedMu.RLock()
	defer f.subscribedMu.RUnlock()
	if f.subscribed["AAPL"] {
		t.Error("expected AAPL removed from subscribed set")
	}
}

func TestWSFeedDispatchMessageMarketChannel(t *testing.T) {
	f := NewWSFeed("wss://example.test", &Auth{}, ChannelMarket, testLogger())
	f.dispatchMessage([]byte(`[{"S":"AAPL","o":1,"h":1,"l":1,"c":1,"v":1}]`))

	select {
	case upd := <-f.BarUpdates():
		if upd.Symbol != "AAPL" {
			t.Errorf("Symbol = %q, want AAPL", upd.Symbol)
		}
	default:
		t.Fatal("expected a bar update on BarUpdates()")
	}
}

func TestWSFeedDispatchMessageTradesChannelEnvelope(t *testing.T) {
	f := NewWSFeed("wss://example.test", &Auth{}, ChannelTrades, testLogger())
	f.dispatchMessage([]byte(`[{"filled_avg_price":100},{"foo":"bar"}]`))

	select {
	case parsed := <-f.TradeUpdates():
		if parsed.Kind != types.TradeMessageOrder {
			t.Errorf("Kind = %v, want TradeMessageOrder", parsed.Kind)
		}
	default:
		t.Fatal("expected exactly one trade update (the order message); the Other message should be dropped")
	}

	select {
	case parsed := <-f.TradeUpdates():
		t.Fatalf("expected only one queued update, got a second: %+v", parsed)
	default:
	}
}

func TestWSFeedDispatchMessageTradesChannelSingleObject(t *testing.T) {
	f := NewWSFeed("wss://example.test", &Auth{}, ChannelTrades, testLogger())
	f.dispatchMessage([]byte(`{"cash":"1000","equity":"1500"}`))

	select {
	case parsed := <-f.TradeUpdates():
		if parsed.Kind != types.TradeMessageAccount {
			t.Errorf("Kind = %v, want TradeMessageAccount", parsed.Kind)
		}
	default:
		t.Fatal("expected an account update on TradeUpdates()")
	}
}

func TestWSFeedDispatchMessageDropsOtherKind(t *testing.T) {
	f := NewWSFeed("wss://example.test", &Auth{}, ChannelTrades, testLogger())
	f.dispatchMessage([]byte(`{"foo":"bar"}`))

	select {
	case parsed := <-f.TradeUpdates():
		t.Fatalf("expected no update for an Other-kind message, got %+v", parsed)
	default:
	}
}

func TestWSFeedWriteJSONFailsWithoutConnection(t *testing.T) {
	f := NewWSFeed("wss://example.test", &Auth{}, ChannelMarket, testLogger())
	if err := f.writeJSON(types.WSAuthFrame{Action: "auth"}); err == nil {
		t.Error("expected an error writing to a feed with no live connection")
	}
}

func TestWSFeedCloseWithoutConnectionIsNoop(t *testing.T) {
	f := NewWSFeed("wss://example.test", &Auth{}, ChannelMarket, testLogger())
	if err := f.Close(); err != nil {
		t.Errorf("Close() on a never-connected feed = %v, want nil", err)
	}
}
