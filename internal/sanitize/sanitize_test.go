package sanitize

import (
	"math"
	"testing"
)

func TestFloat32(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in, want float32
	}{
		{1.5, 1.5},
		{float32(math.NaN()), 0},
		{float32(math.Inf(1)), 0},
		{float32(math.Inf(-1)), 0},
	}
	for _, c := range cases {
		if got := Float32(c.in); got != c.want {
			t.Errorf("Float32(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestFloat32Slice(t *testing.T) {
	t.Parallel()
	in := []float32{1, float32(math.NaN()), float32(math.Inf(1)), -2}
	got := Float32Slice(in)
	want := []float32{1, 0, 0, -2}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestArray6(t *testing.T) {
	t.Parallel()
	row := [6]float32{1, 2, float32(math.NaN()), 4, float32(math.Inf(-1)), 6}
	got := Array6(row)
	want := [6]float32{1, 2, 0, 4, 0, 6}
	if got != want {
		t.Errorf("Array6() = %v, want %v", got, want)
	}
}
