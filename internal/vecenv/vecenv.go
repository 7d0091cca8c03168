// Package vecenv implements TradingVecEnv, the Gym-style vectorized
// environment that composes TradingMarket and LocalAccount into an
// observation/action/reward interface for RL rollouts over many parallel
// symbol lanes.
package vecenv

import (
	"context"
	"math"
	"time"

	"github.com/ccnets-team/tradingcore/internal/account"
	"github.com/ccnets-team/tradingcore/internal/sanitize"
	"github.com/ccnets-team/tradingcore/pkg/types"
)

// timeFeaturePeriods are the cyclical periods (in days) the time feature
// builds sin/cos pairs for: 1, 7, 12, 4 and 365 days, in that order.
var timeFeaturePeriods = [5]float64{1, 7, 12, 4, 365}

// marketSource is the subset of *market.TradingMarket that TradingVecEnv
// drives. Expressed as an interface so the environment can be exercised
// against a fake in tests without a live broker connection.
type marketSource interface {
	TradeMode() types.TradeMode
	InitSymbols() []string
	AssetIDFor(symbol string) types.AssetID
	ResetSubscriptions(ctx context.Context, target []string) error
	PinNavPrev(ctx context.Context, symbols []string) error
	SubmitOrders(ctx context.Context, symbols []string, sides []types.Side, qtys []int64, mode types.TradeMode) []types.OrderResult
	StepAccount(ctx context.Context, results []types.OrderResult, symbols []string) ([]float32, []bool, []bool)
	GetMarketFeatures(ctx context.Context, symbols []string, timeout time.Duration) ([][6]float32, error)
	GetAccountFeatures(ctx context.Context, symbols []string) ([][6]float32, error)
	Close(ctx context.Context) error
}

// TradingVecEnv is the synchronous vectorized trading environment. It
// owns a TradingMarket (and, in local mode, a LocalAccount) and is driven
// by a single-threaded RL loop via Reset/Step.
type TradingVecEnv struct {
	market    marketSource
	local     *account.LocalAccount
	tradeMode types.TradeMode

	numEnvs     int
	initSymbols []string
	symbols     []string
	stepCount   int64
}

// Config bundles the construction parameters forwarded to LocalAccount
// when the environment runs in local mode.
type Config struct {
	NumEnvs        int
	NumStocksRange account.Range[int64]
	BudgetRange    account.Range[float64]
	MaxStepRange   account.Range[int64]
}

// New binds m and, in local mode, allocates a LocalAccount sized to
// cfg.NumEnvs. The initial symbol lanes are taken (cycling if needed)
// from the market's seed symbol list.
func New(m marketSource, cfg Config) *TradingVecEnv {
	env := &TradingVecEnv{
		market:      m,
		tradeMode:   m.TradeMode(),
		numEnvs:     cfg.NumEnvs,
		initSymbols: m.InitSymbols(),
		symbols:     cycleSymbols(m.InitSymbols(), cfg.NumEnvs),
	}
	if env.tradeMode == types.ModeLocal {
		env.local = account.NewLocalAccount(cfg.NumEnvs, cfg.NumStocksRange, cfg.BudgetRange, cfg.MaxStepRange)
	}
	return env
}

func cycleSymbols(pool []string, n int) []string {
	out := make([]string, n)
	if len(pool) == 0 {
		return out
	}
	for i := range out {
		out[i] = pool[i%len(pool)]
	}
	return out
}

// Reset zeroes the step counter, re-draws local-mode account state, and
// reconciles subscriptions, returning the first observation.
func (e *TradingVecEnv) Reset(ctx context.Context) (types.Observation, error) {
	e.stepCount = 0

	if e.local != nil {
		chosen := e.local.ResetAccount(e.initSymbols, nil)
		for i, s := range chosen {
			if s != "" {
				e.symbols[i] = s
			}
		}
	}

	if err := e.market.ResetSubscriptions(ctx, e.symbols); err != nil {
		return types.Observation{}, err
	}

	if e.local == nil {
		if err := e.market.PinNavPrev(ctx, e.symbols); err != nil {
			return types.Observation{}, err
		}
	}

	obs, err := e.buildObservation(ctx)
	if err != nil {
		return types.Observation{}, err
	}
	for i := range obs.MarketFeatures {
		obs.MarketFeatures[i] = sanitize.Array5(obs.MarketFeatures[i])
	}
	for i := range obs.AccountFeatures {
		obs.AccountFeatures[i] = sanitize.Array6(obs.AccountFeatures[i])
	}
	for i := range obs.TimeFeatures {
		obs.TimeFeatures[i] = sanitize.Array10(obs.TimeFeatures[i])
	}
	return obs, nil
}

// Step applies one vectorized action, advances the episode, and performs
// local-mode vector auto-reset on any lane that terminated or truncated.
func (e *TradingVecEnv) Step(ctx context.Context, action []int32) (types.Observation, []float32, []bool, []bool, error) {
	e.stepCount++

	sides := make([]types.Side, e.numEnvs)
	qtys := make([]int64, e.numEnvs)
	for i := 0; i < e.numEnvs; i++ {
		sides[i] = types.ActionToSide(types.Action(action[i]))
		qtys[i] = 1
	}

	results := e.market.SubmitOrders(ctx, e.symbols, sides, qtys, e.tradeMode)

	var reward []float32
	var truncated, terminated []bool
	if e.local != nil {
		reward, truncated, terminated = e.local.StepAccount(results, e.stepCount)
	} else {
		reward, truncated, terminated = e.market.StepAccount(ctx, results, e.symbols)
	}

	obs, err := e.buildObservation(ctx)
	if err != nil {
		return types.Observation{}, nil, nil, nil, err
	}

	sanitize.Float32Slice(reward)
	for i := range obs.MarketFeatures {
		obs.MarketFeatures[i] = sanitize.Array5(obs.MarketFeatures[i])
	}
	for i := range obs.AccountFeatures {
		obs.AccountFeatures[i] = sanitize.Array6(obs.AccountFeatures[i])
	}
	for i := range obs.TimeFeatures {
		obs.TimeFeatures[i] = sanitize.Array10(obs.TimeFeatures[i])
	}

	if e.local != nil {
		e.autoReset(ctx, truncated, terminated)
	}

	return obs, reward, terminated, truncated, nil
}

// autoReset redraws any done lane's symbol and account state, re-subscribes,
// and realigns prevNAV against the freshly-assigned symbol's current price
// so the next reward isn't a spurious spike from the stale-to-fresh gap.
func (e *TradingVecEnv) autoReset(ctx context.Context, truncated, terminated []bool) {
	var doneIdx []int
	for i := 0; i < e.numEnvs; i++ {
		if truncated[i] || terminated[i] {
			doneIdx = append(doneIdx, i)
		}
	}
	if len(doneIdx) == 0 {
		return
	}

	chosen := e.local.ResetAccount(e.initSymbols, doneIdx)
	for k, i := range doneIdx {
		if chosen[k] != "" {
			e.symbols[i] = chosen[k]
		}
	}

	if err := e.market.ResetSubscriptions(ctx, e.symbols); err != nil {
		return
	}

	doneSymbols := make([]string, len(doneIdx))
	for k, i := range doneIdx {
		doneSymbols[k] = e.symbols[i]
	}
	doneMarket, err := e.market.GetMarketFeatures(ctx, doneSymbols, 500*time.Millisecond)
	if err != nil {
		return
	}
	e.local.UpdateAccount(doneMarket, doneIdx)
}

func (e *TradingVecEnv) buildObservation(ctx context.Context) (types.Observation, error) {
	marketRows, err := e.market.GetMarketFeatures(ctx, e.symbols, 2*time.Second)
	if err != nil {
		return types.Observation{}, err
	}

	var accountRows [][6]float32
	if e.local != nil {
		accountRows = e.local.GetAccountFeatures(e.symbols)
	} else {
		accountRows, err = e.market.GetAccountFeatures(ctx, e.symbols)
		if err != nil {
			return types.Observation{}, err
		}
	}

	obs := types.Observation{
		AssetID:         make([]types.AssetID, e.numEnvs),
		MarketFeatures:  make([][5]float32, e.numEnvs),
		AccountFeatures: accountRows,
		TimeFeatures:    make([][10]float32, e.numEnvs),
	}
	for i := 0; i < e.numEnvs; i++ {
		obs.AssetID[i] = e.market.AssetIDFor(e.symbols[i])
		obs.MarketFeatures[i] = [5]float32{marketRows[i][0], marketRows[i][1], marketRows[i][2], marketRows[i][3], marketRows[i][4]}
		obs.TimeFeatures[i] = buildTimeFeatures(float64(marketRows[i][5]))
	}
	return obs, nil
}

// buildTimeFeatures expands a fractional-day timestamp into five
// [sin(2*pi*t/p), cos(2*pi*t/p)] pairs, one per period in
// timeFeaturePeriods.
func buildTimeFeatures(t float64) [10]float32 {
	var out [10]float32
	for i, p := range timeFeaturePeriods {
		angle := 2 * math.Pi * t / p
		out[2*i] = float32(math.Sin(angle))
		out[2*i+1] = float32(math.Cos(angle))
	}
	return out
}

// Close forwards to the underlying market client in non-local modes; in
// local mode there is no network resource to release.
func (e *TradingVecEnv) Close(ctx context.Context) error {
	if e.tradeMode == types.ModeLocal {
		return nil
	}
	return e.market.Close(ctx)
}

// StepCount returns the environment's own scalar step counter, the same
// value LocalAccount.StepAccount broadcasts against every lane's
// per-lane maxSteps.
func (e *TradingVecEnv) StepCount() int64 { return e.stepCount }

// NumEnvs returns the lane count.
func (e *TradingVecEnv) NumEnvs() int { return e.numEnvs }

// Symbols returns the current per-lane symbol assignment (a copy).
func (e *TradingVecEnv) Symbols() []string {
	out := make([]string, len(e.symbols))
	copy(out, e.symbols)
	return out
}
