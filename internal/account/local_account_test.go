package account

import (
	"testing"

	"github.com/ccnets-team/tradingcore/pkg/types"
)

func testRanges() (Range[int64], Range[float64], Range[int64]) {
	return Range[int64]{Min: 0, Max: 0}, Range[float64]{Min: 1000, Max: 1000}, Range[int64]{Min: 10, Max: 10}
}

func TestResetAccountSeedsLanes(t *testing.T) {
	numStocks, budget, maxStep := testRanges()
	a := NewLocalAccount(2, numStocks, budget, maxStep)
	chosen := a.ResetAccount([]string{"AAPL", "MSFT"}, nil)

	if len(chosen) != 2 {
		t.Fatalf("len(chosen) = %d, want 2", len(chosen))
	}
	feats := a.GetAccountFeatures(chosen)
	for i, f := range feats {
		if f[1] != 1000 {
			t.Errorf("lane %d cash = %v, want 1000", i, f[1])
		}
		if f[5] != 1000 {
			t.Errorf("lane %d assetNav = %v, want 1000", i, f[5])
		}
	}
}

func TestApplyActionsBuyThenSell(t *testing.T) {
	numStocks, budget, maxStep := testRanges()
	a := NewLocalAccount(1, numStocks, budget, maxStep)
	a.ResetAccount([]string{"AAPL"}, nil)

	reward := a.ApplyActions([]int64{int64(types.ActionBuy)}, []float64{100})
	feats := a.GetAccountFeatures(nil)
	if feats[0][0] != 1 {
		t.Errorf("positionQty after buy = %v, want 1", feats[0][0])
	}
	if feats[0][1] != 900 {
		t.Errorf("cash after buy = %v, want 900", feats[0][1])
	}
	if reward[0] != 0 {
		t.Errorf("reward after buy at cost basis = %v, want 0 (exposure gain cancels cash drop)", reward[0])
	}

	a.ApplyActions([]int64{int64(types.ActionSell)}, []float64{110})
	feats = a.GetAccountFeatures(nil)
	if feats[0][0] != 0 {
		t.Errorf("positionQty after sell = %v, want 0", feats[0][0])
	}
	if feats[0][2] != 0 {
		t.Errorf("avgEntryPrice after qty hits 0 = %v, want 0", feats[0][2])
	}
}

func TestApplyActionsSellAtZeroQtyIsNoop(t *testing.T) {
	numStocks, budget, maxStep := testRanges()
	a := NewLocalAccount(1, numStocks, budget, maxStep)
	a.ResetAccount([]string{"AAPL"}, nil)

	a.ApplyActions([]int64{int64(types.ActionSell)}, []float64{50})
	feats := a.GetAccountFeatures(nil)
	if feats[0][0] != 0 {
		t.Errorf("positionQty after no-op sell = %v, want 0", feats[0][0])
	}
	if feats[0][1] != 1000 {
		t.Errorf("cash after no-op sell = %v, want unchanged 1000", feats[0][1])
	}
}

func TestStepAccountTruncatesAtMaxSteps(t *testing.T) {
	numStocks, budget, maxStep := testRanges()
	a := NewLocalAccount(1, numStocks, budget, maxStep)
	a.ResetAccount([]string{"AAPL"}, nil)

	results := []types.OrderResult{{Symbol: "AAPL", Action: types.ActionHold, Skipped: false}}
	_, truncated, terminated := a.StepAccount(results, 9)
	if truncated[0] {
		t.Errorf("truncated at stepCount=9 with maxSteps=10, want false")
	}
	_, truncated, _ = a.StepAccount(results, 10)
	if !truncated[0] {
		t.Errorf("truncated at stepCount=10 with maxSteps=10, want true")
	}
	if terminated[0] {
		t.Errorf("terminated with positive cash, want false")
	}
}

func TestStepAccountTerminatesOnZeroCash(t *testing.T) {
	numStocks := Range[int64]{Min: 0, Max: 0}
	budget := Range[float64]{Min: 0, Max: 0}
	maxStep := Range[int64]{Min: 1000, Max: 1000}
	a := NewLocalAccount(1, numStocks, budget, maxStep)
	a.ResetAccount([]string{"AAPL"}, nil)

	results := []types.OrderResult{{Symbol: "AAPL", Action: types.ActionHold}}
	_, _, terminated := a.StepAccount(results, 1)
	if !terminated[0] {
		t.Errorf("terminated with zero cash, want true")
	}
}

func TestUpdateAccountSyncsPrevNAV(t *testing.T) {
	numStocks, budget, maxStep := testRanges()
	a := NewLocalAccount(2, numStocks, budget, maxStep)
	a.ResetAccount([]string{"AAPL", "MSFT"}, nil)

	marketFeatures := [][6]float32{{0, 0, 0, 150, 0, 0}}
	a.UpdateAccount(marketFeatures, []int{1})

	reward := a.ApplyActions([]int64{int64(types.ActionHold), int64(types.ActionHold)}, []float64{0, 150})
	if reward[1] != 0 {
		t.Errorf("reward after UpdateAccount sync = %v, want 0 (no spurious spike)", reward[1])
	}
}
