package broker

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ccnets-team/tradingcore/pkg/types"
)

// backfillConcurrency bounds how many per-symbol REST requests a
// BarBackfiller fans out at once, so a large symbol universe doesn't open
// one connection per symbol.
const backfillConcurrency = 8

// BarBackfiller fetches the single latest bar for each requested symbol via
// REST, used to seed the cache on connect and to patch zero-price lanes.
// Implementations are chosen once at construction time by (broker, asset
// class), never re-dispatched per call.
type BarBackfiller interface {
	LatestBars(ctx context.Context, symbols []string) map[string]types.Bar
}

// NewBarBackfiller selects the concrete backfiller for a (broker, assetType)
// pair. Unknown brokers fall back to the generic (Alpaca-stocks-shaped)
// implementation.
func NewBarBackfiller(broker types.Broker, assetType, timeframe, dataBase string, rest *RESTClient) BarBackfiller {
	isCrypto := strings.HasPrefix(strings.ToLower(assetType), "crypto")
	switch {
	case broker == types.BrokerAlpaca && !isCrypto:
		return &flexBackfiller{rest: rest, base: dataBase, timeframe: timeframe, path: stocksPath}
	case broker == types.BrokerAlpaca && isCrypto:
		return &alpacaCryptoBackfiller{rest: rest, base: dataBase, timeframe: timeframe}
	case broker == types.BrokerBinance:
		return &binanceBackfiller{rest: rest, base: dataBase, timeframe: timeframe}
	default:
		return &flexBackfiller{rest: rest, base: dataBase, timeframe: timeframe, path: stocksPath}
	}
}

func stocksPath(sym, timeframe string) string {
	return sym + "/bars?timeframe=" + timeframe + "&limit=1"
}

func nowFractionalDayBar() float64 {
	return float64(time.Now().UnixNano()) / 1e9 / 86400.0
}

// rawBar is the wire shape of one bar object as returned by the Alpaca
// stocks/generic and Alpaca crypto bar endpoints.
type rawBar struct {
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
	T any     `json:"t"`
}

func (r rawBar) normalize() types.Bar {
	t := nowFractionalDayBar()
	if v, ok := resolveTimestamp(r.T); ok {
		t = v
	}
	return types.Bar{O: r.O, H: r.H, L: r.L, C: r.C, V: r.V, T: t}
}

func resolveTimestamp(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		if f, err := strconv.ParseFloat(x, 64); err == nil {
			return f, true
		}
		if ts, err := time.Parse(time.RFC3339, x); err == nil {
			return float64(ts.UnixNano()) / 1e9 / 86400.0, true
		}
	}
	return 0, false
}

// flexBody decodes a "bars" (or "bar") field that the broker may send as
// either a single object or an array of objects — the dispatcher always
// wants the most recent one.
type flexBody struct {
	Bars flexBars `json:"bars"`
	Bar  flexBars `json:"bar"`
}

type flexBars []rawBar

func (f *flexBars) UnmarshalJSON(data []byte) error {
	data = trimSpaceBytes(data)
	if len(data) == 0 || string(data) == "null" {
		*f = nil
		return nil
	}
	if data[0] == '[' {
		var arr []rawBar
		if err := json.Unmarshal(data, &arr); err != nil {
			return err
		}
		*f = arr
		return nil
	}
	var one rawBar
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*f = flexBars{one}
	return nil
}

func trimSpaceBytes(b []byte) []byte {
	i, j := 0, len(b)
	for i < j && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	for j > i && (b[j-1] == ' ' || b[j-1] == '\t' || b[j-1] == '\n' || b[j-1] == '\r') {
		j--
	}
	return b[i:j]
}

func (f flexBars) latest() (types.Bar, bool) {
	if len(f) == 0 {
		return types.Bar{}, false
	}
	return f[len(f)-1].normalize(), true
}

// flexBackfiller handles the Alpaca-stocks and generic/IBKR response shape:
// GET {base}/{symbol}/bars?timeframe=...&limit=1, latest bar from "bars" or
// "bar".
type flexBackfiller struct {
	rest      *RESTClient
	base      string
	timeframe string
	path      func(symbol, timeframe string) string
}

func (b *flexBackfiller) LatestBars(ctx context.Context, symbols []string) map[string]types.Bar {
	var mu sync.Mutex
	out := make(map[string]types.Bar, len(symbols))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(backfillConcurrency)
	for _, sym := range symbols {
		sym := sym
		eg.Go(func() error {
			var resp flexBody
			_, ok, _ := b.rest.GetJSON(egCtx, b.base, b.path(sym, b.timeframe), &resp)
			if !ok {
				return nil
			}
			bar, ok := resp.Bars.latest()
			if !ok {
				bar, ok = resp.Bar.latest()
			}
			if !ok {
				return nil
			}
			mu.Lock()
			out[sym] = bar
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return out
}

// alpacaCryptoBackfiller fetches bars from Alpaca's v1beta3 crypto data API,
// where bars are keyed by symbol rather than returned as a flat list.
type alpacaCryptoBackfiller struct {
	rest      *RESTClient
	base      string
	timeframe string
}

func (b *alpacaCryptoBackfiller) LatestBars(ctx context.Context, symbols []string) map[string]types.Bar {
	var mu sync.Mutex
	out := make(map[string]types.Bar, len(symbols))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(backfillConcurrency)
	for _, sym := range symbols {
		sym := sym
		eg.Go(func() error {
			var resp struct {
				Bars map[string][]rawBar `json:"bars"`
			}
			_, ok, _ := b.rest.GetJSON(egCtx, b.base, "bars?symbols="+sym+"&timeframe="+b.timeframe+"&limit=1", &resp)
			if !ok {
				return nil
			}
			seq := resp.Bars[sym]
			if len(seq) == 0 {
				return nil
			}
			mu.Lock()
			out[sym] = seq[len(seq)-1].normalize()
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return out
}

// binanceBackfiller fetches the latest kline (candlestick) from Binance.
type binanceBackfiller struct {
	rest      *RESTClient
	base      string
	timeframe string
}

var binanceIntervals = map[string]string{
	"1min": "1m", "1m": "1m", "5min": "5m", "5m": "5m",
}

func (b *binanceBackfiller) LatestBars(ctx context.Context, symbols []string) map[string]types.Bar {
	interval, ok := binanceIntervals[strings.ToLower(b.timeframe)]
	if !ok {
		interval = "1m"
	}

	var mu sync.Mutex
	out := make(map[string]types.Bar, len(symbols))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(backfillConcurrency)
	for _, sym := range symbols {
		sym := sym
		eg.Go(func() error {
			var klines [][]json.Number
			_, ok, _ := b.rest.GetJSON(egCtx, b.base, "v3/klines?symbol="+sym+"&interval="+interval+"&limit=1", &klines)
			if !ok || len(klines) == 0 {
				return nil
			}
			k := klines[len(klines)-1]
			if len(k) < 7 {
				return nil
			}
			o, _ := k[1].Float64()
			h, _ := k[2].Float64()
			l, _ := k[3].Float64()
			c, _ := k[4].Float64()
			v, _ := k[5].Float64()
			closeTime, _ := k[6].Float64()
			mu.Lock()
			out[sym] = types.Bar{O: o, H: h, L: l, C: c, V: v, T: closeTime / 86_400_000.0}
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return out
}
