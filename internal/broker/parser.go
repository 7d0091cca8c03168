package broker

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ccnets-team/tradingcore/pkg/types"
)

// nowFractionalDay returns the current time expressed as seconds-since-epoch
// divided by 86400, the fractional-day timestamp convention used throughout
// the bar cache and the time_features observation column.
func nowFractionalDay() float64 {
	return float64(time.Now().UnixNano()) / 1e9 / 86400.0
}

// ParseMarketMessage normalizes a market-channel WebSocket frame into zero
// or more (symbol, Bar) pairs. It accepts a bare array of bar objects, an
// envelope containing a "bars" or "data" array, or a single bar object.
func ParseMarketMessage(raw []byte) []types.ParsedMarketUpdate {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil
	}

	var items []map[string]any
	switch v := generic.(type) {
	case []any:
		items = asMapSlice(v)
	case map[string]any:
		if bars, ok := v["bars"].([]any); ok {
			items = asMapSlice(bars)
		} else if data, ok := v["data"].([]any); ok {
			items = asMapSlice(data)
		} else {
			items = []map[string]any{v}
		}
	default:
		return nil
	}

	now := nowFractionalDay()
	out := make([]types.ParsedMarketUpdate, 0, len(items))
	for _, it := range items {
		sym := firstString(it, "S", "symbol")
		if sym == "" {
			continue
		}
		bar := types.Bar{
			O: firstFloat(it, "o"),
			H: firstFloat(it, "h"),
			L: firstFloat(it, "l"),
			C: firstFloatFallback(it, "c", "price"),
			V: firstFloat(it, "v"),
			T: firstFloatOr(it, "t", now),
		}
		out = append(out, types.ParsedMarketUpdate{Symbol: sym, Bar: bar})
	}
	return out
}

// ParseTradeMessage classifies a trades-channel WebSocket frame. Following
// the reference broker exactly: a payload is an order update if it carries
// a filled_avg_price field, OR if its "type" field *contains* the substring
// "order" anywhere (not merely as a prefix). Otherwise it's an account
// update if it carries cash/equity or stream=="account_updates". Anything
// else is classified Other.
func ParseTradeMessage(raw []byte) types.ParsedTradeMessage {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return types.ParsedTradeMessage{Kind: types.TradeMessageOther}
	}

	var item map[string]any
	switch v := generic.(type) {
	case map[string]any:
		item = v
	case []any:
		if len(v) > 0 {
			if m, ok := v[0].(map[string]any); ok {
				item = m
			}
		}
	}
	if item == nil {
		return types.ParsedTradeMessage{Kind: types.TradeMessageOther}
	}

	if _, hasFilled := item["filled_avg_price"]; hasFilled {
		return types.ParsedTradeMessage{Kind: types.TradeMessageOrder, Payload: item}
	}
	if typ, _ := item["type"].(string); strings.Contains(typ, "order") {
		return types.ParsedTradeMessage{Kind: types.TradeMessageOrder, Payload: item}
	}

	_, hasCash := item["cash"]
	_, hasEquity := item["equity"]
	stream, _ := item["stream"].(string)
	if hasCash || hasEquity || stream == "account_updates" {
		return types.ParsedTradeMessage{Kind: types.TradeMessageAccount, Payload: item}
	}

	return types.ParsedTradeMessage{Kind: types.TradeMessageOther, Payload: item}
}

func asMapSlice(v []any) []map[string]any {
	out := make([]map[string]any, 0, len(v))
	for _, e := range v {
		if m, ok := e.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstFloat(m map[string]any, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return 0
}

func firstFloatFallback(m map[string]any, key, fallback string) float64 {
	if v, ok := m[key].(float64); ok && v != 0 {
		return v
	}
	return firstFloat(m, fallback)
}

func firstFloatOr(m map[string]any, key string, def float64) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return def
}
