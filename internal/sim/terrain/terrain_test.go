package terrain

import (
	"testing"

	"worldsim.ai/internal/nav"
)

var (
	_ nav.HeightProvider = Flat{}
	_ nav.HeightProvider = Noise{}
)

func TestFlat_Blit(t *testing.T) {
	out := make([]float32, 6)
	Flat{Height: 2.5}.BlitHeights(-1, 2, 4, 6, out)
	for i, v := range out {
		if v != 2.5 {
			t.Fatalf("out[%d]=%v", i, v)
		}
	}
}

func TestNoise_BlitMatchesHeightAt(t *testing.T) {
	n := Noise{Seed: 7, Amplitude: 4, Scale: 8, Base: 1}
	out := make([]float32, 3*2)
	n.BlitHeights(10, 13, -3, -1, out)
	// Row-major, y outer.
	if got, want := out[1*3+2], float32(n.HeightAt(12, -2)); got != want {
		t.Fatalf("out[5]=%v want %v", got, want)
	}
	for i, v := range out {
		if v < 1 || v > 5 {
			t.Fatalf("out[%d]=%v outside [base, base+amplitude]", i, v)
		}
	}
}

func TestNoise_ContinuousAcrossLattice(t *testing.T) {
	n := Noise{Seed: 3, Amplitude: 10, Scale: 4}
	a := n.HeightAt(3.999, 1)
	b := n.HeightAt(4.001, 1)
	if d := a - b; d > 0.05 || d < -0.05 {
		t.Fatalf("jump across lattice line: %v vs %v", a, b)
	}
	if n.HeightAt(5, 5) != (Noise{Seed: 3, Amplitude: 10, Scale: 4}).HeightAt(5, 5) {
		t.Fatalf("not deterministic")
	}
}
