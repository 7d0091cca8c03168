package types

import "testing"

func TestActionSideRoundTrip(t *testing.T) {
	t.Parallel()
	cases := []struct {
		action Action
		side   Side
	}{
		{ActionHold, SideHold},
		{ActionBuy, SideBuy},
		{ActionSell, SideSell},
	}
	for _, c := range cases {
		if got := ActionToSide(c.action); got != c.side {
			t.Errorf("ActionToSide(%v) = %v, want %v", c.action, got, c.side)
		}
		if got := SideToAction(c.side); got != c.action {
			t.Errorf("SideToAction(%v) = %v, want %v", c.side, got, c.action)
		}
	}
}

func TestSideToActionUnknownDefaultsHold(t *testing.T) {
	t.Parallel()
	if got := SideToAction(Side("garbage")); got != ActionHold {
		t.Errorf("SideToAction(garbage) = %v, want ActionHold", got)
	}
}

func TestFreezeSubscriptions(t *testing.T) {
	t.Parallel()
	if ModeLocal.FreezeSubscriptions() {
		t.Error("local mode must not freeze subscriptions")
	}
	if !ModePaper.FreezeSubscriptions() {
		t.Error("paper mode must freeze subscriptions")
	}
	if !ModeReal.FreezeSubscriptions() {
		t.Error("real mode must freeze subscriptions")
	}
}

func TestBarIsStale(t *testing.T) {
	t.Parallel()
	if !(Bar{}).IsStale() {
		t.Error("zero-value bar should be stale")
	}
	if (Bar{C: 1.23}).IsStale() {
		t.Error("bar with nonzero close should not be stale")
	}
}

func TestRawBarMessageFallbacks(t *testing.T) {
	t.Parallel()
	m := RawBarMessage{Sym: "AAPL", Price: 150.5}
	if got := m.ResolvedSymbol(); got != "AAPL" {
		t.Errorf("ResolvedSymbol() = %q, want AAPL", got)
	}
	if got := m.ResolvedClose(); got != 150.5 {
		t.Errorf("ResolvedClose() = %v, want 150.5", got)
	}

	m2 := RawBarMessage{Symbol: "MSFT", C: 300.0, Price: 1.0}
	if got := m2.ResolvedSymbol(); got != "MSFT" {
		t.Errorf("ResolvedSymbol() = %q, want MSFT", got)
	}
	if got := m2.ResolvedClose(); got != 300.0 {
		t.Errorf("ResolvedClose() = %v, want 300.0", got)
	}
}
