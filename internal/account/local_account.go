// Package account implements LocalAccount, the in-process paper-trading
// ledger used in local trade mode: every lane's cash, position, and NAV
// are tracked here instead of round-tripping through a broker.
package account

import (
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/ccnets-team/tradingcore/pkg/types"
)

// Range is an inclusive [Min, Max] sampling bound.
type Range[T int64 | float64] struct {
	Min, Max T
}

// LocalAccount holds per-lane portfolio state for local trade mode. Cash
// and NAV are accumulated in decimal.Decimal internally and converted to
// float64 only when features are emitted, so many steps of an episode
// never compound binary floating-point drift.
type LocalAccount struct {
	numEnvs int
	rng     *rand.Rand

	numStocksRange Range[int64]
	budgetRange    Range[float64]
	maxStepRange   Range[int64]

	cash           []decimal.Decimal
	positionQty    []int64
	avgEntryPrice  []decimal.Decimal
	prevNAV        []decimal.Decimal
	maxSteps       []int64
	unrealizedPnL  []decimal.Decimal
	exposure       []decimal.Decimal
	assetNAV       []decimal.Decimal
}

// NewLocalAccount allocates lane arrays for numEnvs lanes, sampling
// ranges supplied at construction (forwarded from vecenv.Config by
// TradingVecEnv). Lanes start zeroed; call ResetAccount to seed them.
func NewLocalAccount(numEnvs int, numStocksRange Range[int64], budgetRange Range[float64], maxStepRange Range[int64]) *LocalAccount {
	a := &LocalAccount{
		numEnvs:        numEnvs,
		rng:            rand.New(rand.NewSource(1)),
		numStocksRange: numStocksRange,
		budgetRange:    budgetRange,
		maxStepRange:   maxStepRange,
		cash:           make([]decimal.Decimal, numEnvs),
		positionQty:    make([]int64, numEnvs),
		avgEntryPrice:  make([]decimal.Decimal, numEnvs),
		prevNAV:        make([]decimal.Decimal, numEnvs),
		maxSteps:       make([]int64, numEnvs),
		unrealizedPnL:  make([]decimal.Decimal, numEnvs),
		exposure:       make([]decimal.Decimal, numEnvs),
		assetNAV:       make([]decimal.Decimal, numEnvs),
	}
	return a
}

// GetAccountFeatures returns the (N,6) account feature array in
// types.AccountFeatureColumns order. symbols is accepted for interface
// symmetry with TradingMarket.GetAccountFeatures but unused here — every
// lane already carries its own state regardless of symbol.
func (a *LocalAccount) GetAccountFeatures(symbols []string) [][6]float32 {
	out := make([][6]float32, a.numEnvs)
	for i := 0; i < a.numEnvs; i++ {
		out[i] = [6]float32{
			float32(a.positionQty[i]),
			float32(toFloat(a.cash[i])),
			float32(toFloat(a.avgEntryPrice[i])),
			float32(toFloat(a.unrealizedPnL[i])),
			float32(toFloat(a.exposure[i])),
			float32(toFloat(a.assetNAV[i])),
		}
	}
	return out
}

// ApplyActions applies one action per lane against a matching price and
// returns the per-lane reward (NAV delta). actions use types.Action
// values (0 hold, 1 buy, 2 sell).
func (a *LocalAccount) ApplyActions(actions []int64, prices []float64) []float32 {
	reward := make([]float32, a.numEnvs)
	for i := 0; i < a.numEnvs; i++ {
		p := decimal.NewFromFloat(prices[i])
		switch types.Action(actions[i]) {
		case types.ActionBuy:
			q := a.positionQty[i]
			a.avgEntryPrice[i] = a.avgEntryPrice[i].Mul(decimal.NewFromInt(q)).Add(p).Div(decimal.NewFromInt(q + 1))
			a.positionQty[i] = q + 1
			a.cash[i] = a.cash[i].Sub(p)
		case types.ActionSell:
			if a.positionQty[i] >= 1 {
				a.positionQty[i]--
				a.cash[i] = a.cash[i].Add(p)
				if a.positionQty[i] == 0 {
					a.avgEntryPrice[i] = decimal.Zero
				}
			}
		}

		qty := decimal.NewFromInt(a.positionQty[i])
		a.exposure[i] = qty.Mul(p)
		a.unrealizedPnL[i] = p.Sub(a.avgEntryPrice[i]).Mul(qty)
		nav := a.cash[i].Add(a.exposure[i])
		reward[i] = float32(toFloat(nav.Sub(a.prevNAV[i])))
		a.prevNAV[i] = nav
		a.assetNAV[i] = nav
	}
	return reward
}

// ResetAccount reseeds lanes from a symbol pool: all lanes when indices
// is nil, else only the listed ones. Returns the freshly-drawn symbol for
// each reset lane, sampled with replacement when the pool is smaller than
// the number of lanes being reset.
func (a *LocalAccount) ResetAccount(pool []string, indices []int) []string {
	targets := indices
	if targets == nil {
		targets = make([]int, a.numEnvs)
		for i := range targets {
			targets[i] = i
		}
	}

	withReplacement := len(targets) > len(pool)
	perm := a.rng.Perm(max(len(pool), 1))

	chosen := make([]string, len(targets))
	for k, i := range targets {
		a.maxSteps[i] = a.randRange(a.maxStepRange)
		cash := a.randFloatRange(a.budgetRange)
		a.cash[i] = decimal.NewFromFloat(cash)
		a.positionQty[i] = a.randRange(a.numStocksRange)
		a.avgEntryPrice[i] = decimal.Zero
		a.exposure[i] = decimal.Zero
		a.unrealizedPnL[i] = decimal.Zero
		a.prevNAV[i] = a.cash[i]
		a.assetNAV[i] = a.cash[i]

		if len(pool) == 0 {
			chosen[k] = ""
			continue
		}
		if withReplacement {
			chosen[k] = pool[a.rng.Intn(len(pool))]
		} else {
			chosen[k] = pool[perm[k]]
		}
	}
	return chosen
}

// UpdateAccount recomputes exposure/unrealizedPnL/assetNAV for the given
// lanes from fresh market features (close is column 3), then syncs
// prevNAV to the recomputed NAV so the next reward isn't a spurious spike
// caused by the gap between reset and the first real fill.
func (a *LocalAccount) UpdateAccount(marketFeatures [][6]float32, indices []int) {
	for k, i := range indices {
		if k >= len(marketFeatures) {
			return
		}
		close := decimal.NewFromFloat32(marketFeatures[k][3])
		qty := decimal.NewFromInt(a.positionQty[i])
		a.exposure[i] = qty.Mul(close)
		a.unrealizedPnL[i] = close.Sub(a.avgEntryPrice[i]).Mul(qty)
		nav := a.cash[i].Add(a.exposure[i])
		a.assetNAV[i] = nav
		a.prevNAV[i] = nav
	}
}

// StepAccount applies one step's order results and returns per-lane
// reward, truncation, and termination. stepCount is the environment's own
// scalar step counter, broadcast against each lane's own maxSteps — it is
// the same value for every lane in a given call, not a per-lane array.
func (a *LocalAccount) StepAccount(results []types.OrderResult, stepCount int64) (reward []float32, truncated, terminated []bool) {
	actions := make([]int64, a.numEnvs)
	prices := make([]float64, a.numEnvs)
	for i := 0; i < a.numEnvs && i < len(results); i++ {
		r := results[i]
		if r.Skipped {
			continue
		}
		actions[i] = int64(r.Action)
		prices[i] = r.FilledAvgPrice
	}

	reward = a.ApplyActions(actions, prices)

	truncated = make([]bool, a.numEnvs)
	terminated = make([]bool, a.numEnvs)
	for i := 0; i < a.numEnvs; i++ {
		truncated[i] = stepCount >= a.maxSteps[i]
		terminated[i] = toFloat(a.cash[i]) <= 0
	}
	return reward, truncated, terminated
}

func (a *LocalAccount) randRange(r Range[int64]) int64 {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + a.rng.Int63n(r.Max-r.Min+1)
}

func (a *LocalAccount) randFloatRange(r Range[float64]) float64 {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + a.rng.Float64()*(r.Max-r.Min)
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
