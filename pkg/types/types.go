// Package types defines the wire and domain records shared across the
// broker, market, account, and vector-environment packages.
//
// Outgoing WebSocket frames, REST bodies and order results are modeled as
// explicit structs here. Incoming WebSocket frames are decoded by the
// parsers in internal/broker into map[string]any, and trades-channel
// payloads are carried onward as map[string]any in ParsedTradeMessage.
package types

// TradeMode selects how TradingMarket and TradingVecEnv route orders.
type TradeMode string

const (
	// ModeLocal simulates fills against live prices with no network order
	// submission. The only mode LocalAccount participates in.
	ModeLocal TradeMode = "local"
	// ModePaper submits real orders to the broker's paper-trading endpoint.
	ModePaper TradeMode = "paper"
	// ModeReal submits real orders against a live account.
	ModeReal TradeMode = "real"
)

// FreezeSubscriptions reports whether this mode forbids mutating the
// market's subscription set after construction.
func (m TradeMode) FreezeSubscriptions() bool {
	return m != ModeLocal
}

// Broker identifies which REST/WS endpoint family a BrokerConfig targets.
type Broker string

const (
	BrokerAlpaca  Broker = "alpaca"
	BrokerBinance Broker = "binance"
	BrokerIBKR    Broker = "ibkr"
)

// Action is the per-lane trading decision: hold, buy, or sell one unit.
type Action int32

const (
	ActionHold Action = 0
	ActionBuy  Action = 1
	ActionSell Action = 2
)

// Side is the textual order side understood by broker REST endpoints.
type Side string

const (
	SideHold Side = "hold"
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ActionToSide maps a vectorized action value to its broker-facing side string.
func ActionToSide(a Action) Side {
	switch a {
	case ActionBuy:
		return SideBuy
	case ActionSell:
		return SideSell
	default:
		return SideHold
	}
}

// SideToAction is the inverse of ActionToSide, used when replaying an order
// result back into a reward/termination computation.
func SideToAction(s Side) Action {
	switch s {
	case SideBuy:
		return ActionBuy
	case SideSell:
		return ActionSell
	default:
		return ActionHold
	}
}

// Bar is one OHLCV market tick, cached per symbol.
type Bar struct {
	O float64 // open
	H float64 // high
	L float64 // low
	C float64 // close
	V float64 // volume
	T float64 // fractional-day timestamp (seconds / 86400)
}

// IsStale reports whether this bar has never received a real price update.
func (b Bar) IsStale() bool { return b.C == 0.0 }

// OrderResult is the per-lane outcome of SubmitOrders, whether filled
// locally, accepted by the broker, or skipped.
type OrderResult struct {
	Symbol         string
	OrderID        string
	Status         string
	FilledAvgPrice float64
	Action         Action
	Skipped        bool
	Reason         string // "not_subscribed", "duplicate_lane", "no_order"
	Error          string
}

// AccountFeatureColumns is the canonical column order produced by
// GetAccountFeatures — shared between LocalAccount and TradingMarket so
// observation assembly never has to special-case the trade mode.
var AccountFeatureColumns = [6]string{
	"position_qty", "cash", "avg_entry_price", "unrealized_pnl", "exposure", "asset_nav",
}

// MarketFeatureColumns mirrors the (N,5) market feature slice handed to the
// observation (O, H, L, C, V — time is carried separately as TimeFeatures).
var MarketFeatureColumns = [5]string{"o", "h", "l", "c", "v"}

// AssetID identifies one tradable instrument in the observation's asset_id
// MultiDiscrete space: (country, exchange, asset type, local symbol).
type AssetID struct {
	CountryID     int32
	ExchangeID    int32
	AssetTypeID   int32
	LocalSymbolID int32
}

// Observation is the Gym-style per-step/per-reset return value of
// TradingVecEnv, one row per lane.
type Observation struct {
	AssetID         []AssetID
	MarketFeatures  [][5]float32
	AccountFeatures [][6]float32
	TimeFeatures    [][10]float32
}

// ---- Broker WebSocket wire shapes (Alpaca-compatible) ----

// WSAuthFrame is sent immediately after the WebSocket connects.
type WSAuthFrame struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

// WSSubscribeBarsFrame (un)subscribes the market channel to per-symbol bars.
type WSSubscribeBarsFrame struct {
	Action string   `json:"action"`
	Bars   []string `json:"bars"`
}

// WSSubscribeTradesFrame is the v2-style trades-channel subscribe payload.
type WSSubscribeTradesFrame struct {
	Action  string   `json:"action"`
	Orders  []string `json:"orders"`
	Account []string `json:"account"`
}

// WSListenFrame is the legacy trades-channel subscribe payload, sent
// alongside WSSubscribeTradesFrame for broker compatibility.
type WSListenFrame struct {
	Action string       `json:"action"`
	Data   WSListenData `json:"data"`
}

// WSListenData carries the stream names for WSListenFrame.
type WSListenData struct {
	Streams []string `json:"streams"`
}

// RawBarMessage is one bar entry as received from the market WebSocket,
// before symbol/timestamp normalization.
type RawBarMessage struct {
	Symbol string  `json:"S"`
	Sym    string  `json:"symbol"`
	O      float64 `json:"o"`
	H      float64 `json:"h"`
	L      float64 `json:"l"`
	C      float64 `json:"c"`
	Price  float64 `json:"price"`
	V      float64 `json:"v"`
	T      any     `json:"t"`
}

// ResolvedSymbol returns whichever of Symbol/Sym is populated.
func (m RawBarMessage) ResolvedSymbol() string {
	if m.Symbol != "" {
		return m.Symbol
	}
	return m.Sym
}

// ResolvedClose falls back to Price when C is unset.
func (m RawBarMessage) ResolvedClose() float64 {
	if m.C != 0 {
		return m.C
	}
	return m.Price
}

// ParsedMarketUpdate is one (symbol, bar) pair produced by the market parser.
type ParsedMarketUpdate struct {
	Symbol string
	Bar    Bar
}

// TradeMessageKind tags what a decoded trades-channel payload represents.
type TradeMessageKind int

const (
	TradeMessageOther TradeMessageKind = iota
	TradeMessageOrder
	TradeMessageAccount
)

// ParsedTradeMessage is the sum-type result of the trades parser.
type ParsedTradeMessage struct {
	Kind    TradeMessageKind
	Payload map[string]any
}

// ---- Broker REST wire shapes ----

// OrderRequest is the body POSTed to /orders in paper/real mode.
type OrderRequest struct {
	Symbol      string `json:"symbol"`
	Qty         int64  `json:"qty"`
	Side        Side   `json:"side"`
	Type        string `json:"type"`
	TimeInForce string `json:"time_in_force"`
}

// OrderResponse is the REST body returned by a successful POST /orders.
type OrderResponse struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	FilledAvgPrice string `json:"filled_avg_price"`
}

// AccountSnapshot is the REST body returned by GET /account.
type AccountSnapshot struct {
	Cash   float64 `json:"cash,string"`
	Equity float64 `json:"equity,string"`
}

// PositionSnapshot is one entry in the REST body returned by GET /positions.
type PositionSnapshot struct {
	Symbol        string  `json:"symbol"`
	Qty           float64 `json:"qty,string"`
	AvgEntryPrice float64 `json:"avg_entry_price,string"`
}
