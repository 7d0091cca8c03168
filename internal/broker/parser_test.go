package broker

import (
	"testing"

	"github.com/ccnets-team/tradingcore/pkg/types"
)

func TestParseMarketMessageBareArray(t *testing.T) {
	raw := []byte(`[{"S":"AAPL","o":1,"h":2,"l":0.5,"c":1.5,"v":100,"t":5}]`)
	got := ParseMarketMessage(raw)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Symbol != "AAPL" {
		t.Errorf("Symbol = %q, want AAPL", got[0].Symbol)
	}
	want := types.Bar{O: 1, H: 2, L: 0.5, C: 1.5, V: 100, T: 5}
	if got[0].Bar != want {
		t.Errorf("Bar = %+v, want %+v", got[0].Bar, want)
	}
}

func TestParseMarketMessageBarsEnvelope(t *testing.T) {
	raw := []byte(`{"bars":[{"symbol":"MSFT","o":10,"h":11,"l":9,"c":10.5,"v":50}]}`)
	got := ParseMarketMessage(raw)
	if len(got) != 1 || got[0].Symbol != "MSFT" {
		t.Fatalf("got %+v, want single MSFT update", got)
	}
}

func TestParseMarketMessageSingleObject(t *testing.T) {
	raw := []byte(`{"S":"AMZN","o":1,"h":1,"l":1,"c":1,"v":1}`)
	got := ParseMarketMessage(raw)
	if len(got) != 1 || got[0].Symbol != "AMZN" {
		t.Fatalf("got %+v, want single AMZN update", got)
	}
}

func TestParseMarketMessageClosePriceFallback(t *testing.T) {
	raw := []byte(`{"S":"AAPL","price":123.45}`)
	got := ParseMarketMessage(raw)
	if len(got) != 1 || got[0].Bar.C != 123.45 {
		t.Fatalf("got %+v, want close fallback to price field", got)
	}
}

func TestParseMarketMessageSkipsMissingSymbol(t *testing.T) {
	raw := []byte(`[{"o":1,"h":1,"l":1,"c":1,"v":1}]`)
	got := ParseMarketMessage(raw)
	if len(got) != 0 {
		t.Fatalf("got %d updates, want 0 (no symbol field)", len(got))
	}
}

func TestParseMarketMessageInvalidJSON(t *testing.T) {
	got := ParseMarketMessage([]byte(`not json`))
	if got != nil {
		t.Errorf("got %v, want nil on invalid JSON", got)
	}
}

func TestParseTradeMessageOrderByFilledField(t *testing.T) {
	raw := []byte(`{"filled_avg_price":100.5,"symbol":"AAPL"}`)
	got := ParseTradeMessage(raw)
	if got.Kind != types.TradeMessageOrder {
		t.Errorf("Kind = %v, want TradeMessageOrder", got.Kind)
	}
}

func TestParseTradeMessageOrderByTypeSubstring(t *testing.T) {
	// "type" need only *contain* "order" anywhere, not be a prefix match.
	raw := []byte(`{"type":"trade_updates_order_fill"}`)
	got := ParseTradeMessage(raw)
	if got.Kind != types.TradeMessageOrder {
		t.Errorf("Kind = %v, want TradeMessageOrder for substring match", got.Kind)
	}
}

func TestParseTradeMessageAccount(t *testing.T) {
	raw := []byte(`{"cash":"1000","equity":"1500"}`)
	got := ParseTradeMessage(raw)
	if got.Kind != types.TradeMessageAccount {
		t.Errorf("Kind = %v, want TradeMessageAccount", got.Kind)
	}
}

func TestParseTradeMessageAccountByStreamField(t *testing.T) {
	raw := []byte(`{"stream":"account_updates","data":{}}`)
	got := ParseTradeMessage(raw)
	if got.Kind != types.TradeMessageAccount {
		t.Errorf("Kind = %v, want TradeMessageAccount via stream field", got.Kind)
	}
}

func TestParseTradeMessageOther(t *testing.T) {
	raw := []byte(`{"foo":"bar"}`)
	got := ParseTradeMessage(raw)
	if got.Kind != types.TradeMessageOther {
		t.Errorf("Kind = %v, want TradeMessageOther", got.Kind)
	}
}

func TestParseTradeMessageInvalidJSON(t *testing.T) {
	got := ParseTradeMessage([]byte(`not json`))
	if got.Kind != types.TradeMessageOther {
		t.Errorf("Kind = %v, want TradeMessageOther on invalid JSON", got.Kind)
	}
}

func TestParseTradeMessageArrayTakesFirstElement(t *testing.T) {
	raw := []byte(`[{"filled_avg_price":1},{"filled_avg_price":2}]`)
	got := ParseTradeMessage(raw)
	if got.Kind != types.TradeMessageOrder {
		t.Errorf("Kind = %v, want TradeMessageOrder", got.Kind)
	}
}
