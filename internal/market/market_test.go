package market

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ccnets-team/tradingcore/internal/broker"
	"github.com/ccnets-team/tradingcore/internal/config"
	"github.com/ccnets-team/tradingcore/internal/ratelimit"
	"github.com/ccnets-team/tradingcore/pkg/types"
)

func newTestMarket(restBase string) *TradingMarket {
	cfg := config.Config{TradeMode: types.ModePaper, PaperRESTBase: restBase}
	return &TradingMarket{
		cfg:    cfg,
		rest:   broker.NewRESTClient(broker.NewAuth(cfg), ratelimit.NewTokenBucket(10, 1000)),
		caches: newCaches(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// S3 (paper, order id extraction): stub POST /orders returning {"id":"abc"}
// 200; submit one lane; expect order_id == "abc" at that lane.
func TestSubmitRESTOrderExtractsID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"abc","status":"accepted"}`))
	}))
	defer srv.Close()

	m := newTestMarket(srv.URL)
	res := m.submitRESTOrder(context.Background(), "AAPL", types.SideBuy, 1, time.Now().UnixMicro())
	if res.OrderID != "abc" {
		t.Errorf("OrderID = %q, want abc", res.OrderID)
	}
	if res.Status != "accepted" {
		t.Errorf("Status = %q, want accepted", res.Status)
	}
}

// S3 (continued): stub 500 -> order_id starts with "err-".
func TestSubmitRESTOrderRejectedGetsErrPrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := newTestMarket(srv.URL)
	res := m.submitRESTOrder(context.Background(), "AAPL", types.SideBuy, 1, time.Now().UnixMicro())
	if !strings.HasPrefix(res.OrderID, "err-") {
		t.Errorf("OrderID = %q, want err- prefix on non-2xx", res.OrderID)
	}
}

func TestSubmitRESTOrderTransportFailureGetsExcPrefix(t *testing.T) {
	m := newTestMarket("http://127.0.0.1:1")
	res := m.submitRESTOrder(context.Background(), "AAPL", types.SideBuy, 1, time.Now().UnixMicro())
	if !strings.HasPrefix(res.OrderID, "exc-") {
		t.Errorf("OrderID = %q, want exc- prefix on transport failure", res.OrderID)
	}
	if res.Error == "" {
		t.Error("expected Error field populated on transport failure")
	}
}

func TestCachesBarRoundTrip(t *testing.T) {
	c := newCaches()
	if _, ok := c.getBar("AAPL"); ok {
		t.Fatal("expected no bar before put")
	}
	c.putBar("AAPL", types.Bar{C: 150})
	bar, ok := c.getBar("AAPL")
	if !ok || bar.C != 150 {
		t.Fatalf("getBar() = %v, %v; want {C:150}, true", bar, ok)
	}
}

func TestCachesSubscriptionSet(t *testing.T) {
	c := newCaches()
	if c.isSubscribed("AAPL") {
		t.Fatal("expected not subscribed initially")
	}
	c.addSubscription("AAPL")
	if !c.isSubscribed("AAPL") {
		t.Fatal("expected subscribed after addSubscription")
	}
	c.removeSubscription("AAPL")
	if c.isSubscribed("AAPL") {
		t.Fatal("expected not subscribed after removeSubscription")
	}
}

func TestCachesNavPrevBySymbolRoundTrip(t *testing.T) {
	c := newCaches()
	prev := c.navPrevBySymbol()
	if len(prev) != 0 {
		t.Fatalf("expected empty nav map initially, got %v", prev)
	}
	c.setNavPrevBySymbol(map[string]float64{"AAPL": 100})
	prev = c.navPrevBySymbol()
	if prev["AAPL"] != 100 {
		t.Fatalf("navPrevBySymbol()[AAPL] = %v, want 100", prev["AAPL"])
	}
}

func TestBarRowOrdering(t *testing.T) {
	b := types.Bar{O: 1, H: 2, L: 3, C: 4, V: 5, T: 6}
	row := barRow(b)
	want := [6]float32{1, 2, 3, 4, 5, 6}
	if row != want {
		t.Errorf("barRow() = %v, want %v", row, want)
	}
}
