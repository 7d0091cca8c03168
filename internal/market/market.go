package market

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ccnets-team/tradingcore/internal/assets"
	"github.com/ccnets-team/tradingcore/internal/broker"
	"github.com/ccnets-team/tradingcore/internal/config"
	"github.com/ccnets-team/tradingcore/internal/ratelimit"
	"github.com/ccnets-team/tradingcore/internal/runtime"
	"github.com/ccnets-team/tradingcore/pkg/types"
)

// TradingMarket is the live broker client: it owns the market/trades
// WebSocket connections, a rate-limited REST client, and the caches that
// back synchronous reads from TradingVecEnv. The runtime.Bridge's context
// roots the two channel loops and is cancelled on Close; REST calls and WS
// writes run on the calling goroutine and are not routed through
// Bridge.Submit. Callers lock the caches directly.
type TradingMarket struct {
	cfg    config.Config
	auth   *broker.Auth
	rest   *broker.RESTClient
	rl     *ratelimit.Group
	bridge *runtime.Bridge
	eg     *errgroup.Group

	marketFeed *broker.WSFeed
	tradesFeed *broker.WSFeed
	backfill   broker.BarBackfiller

	caches      *caches
	initSymbols []string
	logger      *slog.Logger

	assetCountryID   int32
	assetExchangeID  int32
	assetAssetTypeID int32

	closeOnce sync.Once
}

// NewTradingMarket validates cfg and wires up the REST client, rate
// limiters, and WS feeds. Connect must be called before any network
// activity begins.
func NewTradingMarket(cfg config.Config, initSymbols []string) (*TradingMarket, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("trading market config: %w", err)
	}

	auth := broker.NewAuth(cfg)
	rl := ratelimit.NewGroup(cfg.RestBurst, cfg.RestRPS, cfg.WSPullBurst, cfg.WSPullRPS)
	rest := broker.NewRESTClient(auth, rl.REST)
	logger := slog.Default().With("component", "trading_market", "broker", cfg.Broker)

	countryID := assets.CountryID(cfg.CountryCode)
	m := &TradingMarket{
		cfg:              cfg,
		auth:             auth,
		rest:             rest,
		rl:               rl,
		backfill:         broker.NewBarBackfiller(cfg.Broker, cfg.AssetType, cfg.BarsTimeframe, cfg.DataRESTBase(), rest),
		caches:           newCaches(),
		initSymbols:      initSymbols,
		logger:           logger,
		assetCountryID:   countryID,
		assetExchangeID:  assets.ExchangeID(countryID, cfg.ExchangeCode),
		assetAssetTypeID: assets.AssetTypeID(cfg.AssetType),
		marketFeed:       broker.NewWSFeed(cfg.MarketWSURL, auth, broker.ChannelMarket, logger),
	}
	if cfg.TradeMode != types.ModeLocal {
		m.tradesFeed = broker.NewWSFeed(cfg.TradesWSURL, auth, broker.ChannelTrades, logger)
	}
	return m, nil
}

// InitSymbols returns the seed symbol list TradingVecEnv cycles to build
// its initial lane assignment.
func (m *TradingMarket) InitSymbols() []string { return m.initSymbols }

// AssetIDFor resolves the (country, exchange, asset type, local symbol)
// tuple for one ticker under this market's configured asset identity.
func (m *TradingMarket) AssetIDFor(symbol string) types.AssetID {
	localID, _ := assets.SymbolID(m.assetCountryID, m.assetExchangeID, m.assetAssetTypeID, symbol)
	return types.AssetID{
		CountryID:     m.assetCountryID,
		ExchangeID:    m.assetExchangeID,
		AssetTypeID:   m.assetAssetTypeID,
		LocalSymbolID: localID,
	}
}

// TradeMode returns the configured trade mode.
func (m *TradingMarket) TradeMode() types.TradeMode { return m.cfg.TradeMode }

// recvTimeout returns the configured RecvTimeout, defaulting to 1s.
func (m *TradingMarket) recvTimeout() time.Duration {
	if m.cfg.RecvTimeoutSec <= 0 {
		return time.Second
	}
	return time.Duration(m.cfg.RecvTimeoutSec * float64(time.Second))
}

// Connect starts the bridge goroutine, subscribes to InitSymbols on the
// market channel, opens the trades channel in non-local mode, and
// performs a one-shot REST backfill so features aren't all-zero at reset.
func (m *TradingMarket) Connect(ctx context.Context) error {
	m.bridge = runtime.NewBridge(ctx)
	eg, egCtx := errgroup.WithContext(m.bridge.Context())
	m.eg = eg

	if len(m.initSymbols) > 0 {
		if err := m.marketFeed.Subscribe(m.initSymbols); err != nil {
			m.logger.Warn("initial market subscribe failed", "error", err)
		}
		for _, s := range m.initSymbols {
			m.caches.addSubscription(s)
		}
	}

	eg.Go(func() error { return m.runMarketLoop(egCtx) })
	if m.tradesFeed != nil {
		eg.Go(func() error { return m.runTradesLoop(egCtx) })
	}

	if len(m.initSymbols) > 0 {
		backfillCtx, cancel := context.WithTimeout(ctx, 10*m.recvTimeout())
		bars := m.backfill.LatestBars(backfillCtx, m.initSymbols)
		cancel()
		for sym, bar := range bars {
			m.caches.putBar(sym, bar)
		}
	}

	return nil
}

func (m *TradingMarket) runMarketLoop(ctx context.Context) error {
	go func() {
		if err := m.marketFeed.Run(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn("market feed stopped", "error", err)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd := <-m.marketFeed.BarUpdates():
			if err := m.rl.WS.Acquire(ctx); err != nil {
				return err
			}
			m.caches.putBar(upd.Symbol, upd.Bar)
		}
	}
}

func (m *TradingMarket) runTradesLoop(ctx context.Context) error {
	go func() {
		if err := m.tradesFeed.Run(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn("trades feed stopped", "error", err)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-m.tradesFeed.TradeUpdates():
			if err := m.rl.WS.Acquire(ctx); err != nil {
				return err
			}
			switch msg.Kind {
			case types.TradeMessageOrder:
				id, _ := msg.Payload["id"].(string)
				if id == "" {
					id = uuid.NewString() + "-" + strconv.FormatInt(time.Now().UnixMicro(), 10)
				}
				m.caches.putOrder(id, types.OrderResult{OrderID: id, Status: firstString(msg.Payload, "status")})
			case types.TradeMessageAccount:
				m.caches.mergeAccount(msg.Payload)
			}
		}
	}
}

func firstString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// Subscribe adds symbols to the market subscription set and sends the WS
// subscribe frame. No-op in paper/real mode, where subscriptions are
// frozen at construction.
func (m *TradingMarket) Subscribe(ctx context.Context, symbols []string) error {
	if m.cfg.TradeMode.FreezeSubscriptions() {
		return nil
	}
	var fresh []string
	for _, s := range symbols {
		if !m.caches.isSubscribed(s) {
			fresh = append(fresh, s)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	for _, s := range fresh {
		m.caches.addSubscription(s)
	}
	return m.marketFeed.Subscribe(fresh)
}

// Unsubscribe removes symbols from the subscription set. No-op in
// paper/real mode.
func (m *TradingMarket) Unsubscribe(ctx context.Context, symbols []string) error {
	if m.cfg.TradeMode.FreezeSubscriptions() {
		return nil
	}
	for _, s := range symbols {
		m.caches.removeSubscription(s)
	}
	return m.marketFeed.Unsubscribe(symbols)
}

// ResetSubscriptions reconciles the subscription set to exactly the given
// target list: subscribes anything missing, unsubscribes anything no
// longer needed. Best-effort — individual frame failures are logged, not
// propagated, since a stale subscription is recoverable on the next call.
func (m *TradingMarket) ResetSubscriptions(ctx context.Context, target []string) error {
	if m.cfg.TradeMode.FreezeSubscriptions() {
		return nil
	}
	want := make(map[string]bool, len(target))
	for _, s := range target {
		want[s] = true
	}
	current := m.caches.subscribedSnapshot()

	var toAdd, toRemove []string
	for s := range want {
		if !current[s] {
			toAdd = append(toAdd, s)
		}
	}
	for s := range current {
		if !want[s] {
			toRemove = append(toRemove, s)
		}
	}
	if len(toAdd) > 0 {
		if err := m.Subscribe(ctx, toAdd); err != nil {
			m.logger.Warn("reset subscriptions: subscribe failed", "error", err)
		}
	}
	if len(toRemove) > 0 {
		if err := m.Unsubscribe(ctx, toRemove); err != nil {
			m.logger.Warn("reset subscriptions: unsubscribe failed", "error", err)
		}
	}
	return nil
}

// GetMarketFeatures returns the (N,6) market array [o,h,l,c,v,t] for the
// given symbols, preserving input order and duplicates. Lanes whose close
// is stale trigger one best-effort REST backfill before the final read.
func (m *TradingMarket) GetMarketFeatures(ctx context.Context, symbols []string, timeout time.Duration) ([][6]float32, error) {
	if !m.cfg.TradeMode.FreezeSubscriptions() {
		var unsub []string
		for _, s := range symbols {
			if !m.caches.isSubscribed(s) {
				unsub = append(unsub, s)
			}
		}
		if len(unsub) > 0 {
			if err := m.Subscribe(ctx, unsub); err != nil {
				m.logger.Debug("opportunistic subscribe failed", "error", err)
			}
		}
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		allPresent := true
		for _, s := range symbols {
			if !m.caches.isSubscribed(s) {
				continue
			}
			if _, ok := m.caches.getBar(s); !ok {
				allPresent = false
				break
			}
		}
		if allPresent {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	out := make([][6]float32, len(symbols))
	staleSyms := map[string]bool{}
	for i, s := range symbols {
		bar, _ := m.caches.getBar(s)
		out[i] = barRow(bar)
		if bar.IsStale() {
			staleSyms[s] = true
		}
	}

	if len(staleSyms) > 0 {
		uniq := make([]string, 0, len(staleSyms))
		for s := range staleSyms {
			uniq = append(uniq, s)
		}
		fresh := m.backfill.LatestBars(ctx, uniq)
		for sym, bar := range fresh {
			m.caches.putBar(sym, bar)
		}
		for i, s := range symbols {
			if staleSyms[s] {
				if bar, ok := m.caches.getBar(s); ok {
					out[i] = barRow(bar)
				}
			}
		}
	}

	return out, nil
}

func barRow(b types.Bar) [6]float32 {
	return [6]float32{float32(b.O), float32(b.H), float32(b.L), float32(b.C), float32(b.V), float32(b.T)}
}

// GetAccountFeatures pulls /account and /positions concurrently, updates
// AccountCache, and emits (N,6) account features in canonical order for
// the given symbols (duplicates share the same cash split).
func (m *TradingMarket) GetAccountFeatures(ctx context.Context, symbols []string) ([][6]float32, error) {
	var account types.AccountSnapshot
	var positions []types.PositionSnapshot

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		_, ok, err := m.rest.GetJSON(egCtx, m.cfg.RESTBase(), "account", &account)
		if err != nil {
			return err
		}
		if ok {
			m.caches.mergeAccount(map[string]any{"cash": account.Cash, "equity": account.Equity})
		}
		return nil
	})
	eg.Go(func() error {
		_, ok, err := m.rest.GetJSON(egCtx, m.cfg.RESTBase(), "positions", &positions)
		if err != nil {
			return err
		}
		if !ok {
			positions = nil
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	posBySym := make(map[string]types.PositionSnapshot, len(positions))
	for _, p := range positions {
		posBySym[p.Symbol] = p
	}

	cashShare := account.Cash / float64(max(1, len(symbols)))

	out := make([][6]float32, len(symbols))
	for i, s := range symbols {
		pos := posBySym[s]
		bar, _ := m.caches.getBar(s)
		px := bar.C
		exposure := pos.Qty * px
		unrealized := (px - pos.AvgEntryPrice) * pos.Qty
		nav := cashShare + exposure
		out[i] = [6]float32{
			float32(pos.Qty),
			float32(cashShare),
			float32(pos.AvgEntryPrice),
			float32(unrealized),
			float32(exposure),
			float32(nav),
		}
	}
	return out, nil
}

// SubmitOrders places one order per lane (local synthetic fill or broker
// REST submission depending on mode) and returns an N-length result slice
// with deterministic slot-to-lane mapping.
func (m *TradingMarket) SubmitOrders(ctx context.Context, symbols []string, sides []types.Side, qtys []int64, mode types.TradeMode) []types.OrderResult {
	n := len(symbols)
	results := make([]types.OrderResult, n)
	firstIdx := make(map[string]int, n)
	var uniqSyms []string

	for i, sym := range symbols {
		if mode == types.ModeLocal && !m.caches.isSubscribed(sym) {
			if err := m.Subscribe(ctx, []string{sym}); err != nil {
				m.logger.Debug("auto-subscribe before order failed", "symbol", sym, "error", err)
			}
		}
		if !m.caches.isSubscribed(sym) {
			results[i] = types.OrderResult{Symbol: sym, Skipped: true, Reason: "not_subscribed"}
			continue
		}
		if _, dup := firstIdx[sym]; dup {
			results[i] = types.OrderResult{Symbol: sym, Skipped: true, Reason: "duplicate_lane"}
			continue
		}
		firstIdx[sym] = i
		uniqSyms = append(uniqSyms, sym)
	}

	if len(uniqSyms) > 0 {
		if _, err := m.GetMarketFeatures(ctx, uniqSyms, 500*time.Millisecond); err != nil {
			m.logger.Debug("pre-warm market features failed", "error", err)
		}
	}

	nowMicros := time.Now().UnixMicro()
	if mode == types.ModeLocal {
		for j, sym := range uniqSyms {
			i := firstIdx[sym]
			bar, _ := m.caches.getBar(sym)
			side := sides[i]
			res := types.OrderResult{
				OrderID:        fmt.Sprintf("local-%s-%d", sym, nowMicros+int64(j)),
				Symbol:         sym,
				Status:         "filled",
				FilledAvgPrice: bar.C,
				Action:         types.SideToAction(side),
			}
			m.caches.putOrder(res.OrderID, res)
			results[i] = res
		}
	} else {
		for _, sym := range uniqSyms {
			i := firstIdx[sym]
			results[i] = m.submitRESTOrder(ctx, sym, sides[i], qtys[i], nowMicros)
		}
	}

	for i := range results {
		if results[i].Symbol == "" && results[i].Reason == "" {
			results[i] = types.OrderResult{Symbol: symbols[i], Skipped: true, Reason: "no_order"}
		}
	}
	return results
}

func (m *TradingMarket) submitRESTOrder(ctx context.Context, sym string, side types.Side, qty int64, nowMicros int64) types.OrderResult {
	req := types.OrderRequest{Symbol: sym, Qty: qty, Side: side, Type: "market", TimeInForce: "day"}
	var resp types.OrderResponse
	status, ok, err := m.rest.PostJSON(ctx, m.cfg.RESTBase(), "orders", req, &resp)
	if err != nil || status == 0 {
		msg := "transport failure"
		if err != nil {
			msg = err.Error()
		}
		return types.OrderResult{Symbol: sym, OrderID: fmt.Sprintf("exc-%s-%d", sym, nowMicros), Status: "error", Action: types.SideToAction(side), Error: msg}
	}
	if !ok || status/100 != 2 {
		return types.OrderResult{Symbol: sym, OrderID: fmt.Sprintf("err-%s-%d", sym, nowMicros), Status: "rejected", Action: types.SideToAction(side)}
	}
	id := resp.ID
	if id == "" {
		id = fmt.Sprintf("order-%d", nowMicros)
	}
	filled, _ := strconv.ParseFloat(resp.FilledAvgPrice, 64)
	return types.OrderResult{Symbol: sym, OrderID: id, Status: resp.Status, Action: types.SideToAction(side), FilledAvgPrice: filled}
}

// PinNavPrev seeds AccountCache["_nav_prev_by_sym"] with each symbol's
// just-computed NAV, so that the first StepAccount call after a symbol is
// freshly allocated to a lane sees prev==nav and yields a zero reward
// instead of nav-vs-zero. Called from TradingVecEnv.Reset in non-local
// mode, once per symbol assignment.
func (m *TradingMarket) PinNavPrev(ctx context.Context, symbols []string) error {
	uniq := make(map[string]bool, len(symbols))
	var uniqSyms []string
	for _, s := range symbols {
		if s != "" && !uniq[s] {
			uniq[s] = true
			uniqSyms = append(uniqSyms, s)
		}
	}
	if len(uniqSyms) == 0 {
		return nil
	}

	var account types.AccountSnapshot
	var positions []types.PositionSnapshot
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		_, _, err := m.rest.GetJSON(egCtx, m.cfg.RESTBase(), "account", &account)
		return err
	})
	eg.Go(func() error {
		_, _, err := m.rest.GetJSON(egCtx, m.cfg.RESTBase(), "positions", &positions)
		return err
	})
	if err := eg.Wait(); err != nil {
		return err
	}

	posBySym := make(map[string]types.PositionSnapshot, len(positions))
	for _, p := range positions {
		posBySym[p.Symbol] = p
	}
	cashShare := account.Cash / float64(max(1, len(uniqSyms)))

	prev := m.caches.navPrevBySymbol()
	for _, sym := range uniqSyms {
		bar, _ := m.caches.getBar(sym)
		pos := posBySym[sym]
		prev[sym] = cashShare + pos.Qty*bar.C
	}
	m.caches.setNavPrevBySymbol(prev)
	return nil
}

// StepAccount computes non-local reward/termination from order results
// against REST-sourced NAV, keyed by symbol so duplicate/inactive lanes
// never double-count a fill.
func (m *TradingMarket) StepAccount(ctx context.Context, results []types.OrderResult, symbols []string) ([]float32, []bool, []bool) {
	n := len(results)
	reward := make([]float32, n)
	truncated := make([]bool, n)
	terminated := make([]bool, n)

	activeIdx := make(map[string]int)
	for i := 0; i < n; i++ {
		sym := results[i].Symbol
		if sym == "" && i < len(symbols) {
			sym = symbols[i]
		}
		if sym == "" || results[i].Skipped {
			continue
		}
		if !m.caches.isSubscribed(sym) {
			continue
		}
		if _, dup := activeIdx[sym]; dup {
			continue
		}
		activeIdx[sym] = i
	}
	if len(activeIdx) == 0 {
		return reward, truncated, terminated
	}

	activeSyms := make([]string, 0, len(activeIdx))
	for s := range activeIdx {
		activeSyms = append(activeSyms, s)
	}

	var account types.AccountSnapshot
	var positions []types.PositionSnapshot
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		_, _, err := m.rest.GetJSON(egCtx, m.cfg.RESTBase(), "account", &account)
		return err
	})
	eg.Go(func() error {
		_, _, err := m.rest.GetJSON(egCtx, m.cfg.RESTBase(), "positions", &positions)
		return err
	})
	if err := eg.Wait(); err != nil {
		m.logger.Warn("step account REST fetch failed", "error", err)
		return reward, truncated, terminated
	}

	posBySym := make(map[string]types.PositionSnapshot, len(positions))
	for _, p := range positions {
		posBySym[p.Symbol] = p
	}
	cashShare := account.Cash / float64(max(1, len(activeSyms)))

	prev := m.caches.navPrevBySymbol()
	navNow := make(map[string]float64, len(activeSyms))
	for _, sym := range activeSyms {
		bar, _ := m.caches.getBar(sym)
		pos := posBySym[sym]
		nav := cashShare + pos.Qty*bar.C
		navNow[sym] = nav
		i := activeIdx[sym]
		reward[i] = float32(nav - prev[sym])
	}
	m.caches.setNavPrevBySymbol(navNow)

	return reward, truncated, terminated
}

// Close cancels the bridge context, waits for the channel loops (bounded
// by a 2s timeout), and closes both WS connections.
func (m *TradingMarket) Close(ctx context.Context) error {
	var closeErr error
	m.closeOnce.Do(func() {
		closeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		if m.bridge != nil {
			closeErr = m.bridge.Close(closeCtx)
		}
		if m.eg != nil {
			if err := m.eg.Wait(); err != nil && closeCtx.Err() == nil {
				m.logger.Debug("channel loop exited", "error", err)
			}
		}
		if m.marketFeed != nil {
			_ = m.marketFeed.Close()
		}
		if m.tradesFeed != nil {
			_ = m.tradesFeed.Close()
		}
	})
	return closeErr
}
