// Package terrain provides ground height sources for the awareness engine.
package terrain

import (
	"math"

	"worldsim.ai/internal/sim/mathx"
)

// Flat is a level plane.
type Flat struct {
	Height float32
}

func (f Flat) BlitHeights(xMin, xMax, yMin, yMax int, out []float32) {
	n := (xMax - xMin) * (yMax - yMin)
	for i := 0; i < n; i++ {
		out[i] = f.Height
	}
}

// Noise is smoothed value noise: random heights on a lattice every Scale
// meters, interpolated between lattice points.
type Noise struct {
	Seed      int64
	Amplitude float64
	Scale     float64
	Base      float64
}

func (n Noise) HeightAt(x, y float64) float64 {
	scale := n.Scale
	if scale <= 0 {
		scale = 1
	}
	gx := x / scale
	gy := y / scale
	ix := int(math.Floor(gx))
	iy := int(math.Floor(gy))
	fx := smooth(gx - float64(ix))
	fy := smooth(gy - float64(iy))

	v00 := mathx.Unit2(n.Seed, ix, iy)
	v10 := mathx.Unit2(n.Seed, ix+1, iy)
	v01 := mathx.Unit2(n.Seed, ix, iy+1)
	v11 := mathx.Unit2(n.Seed, ix+1, iy+1)
	top := v00 + (v10-v00)*fx
	bot := v01 + (v11-v01)*fx
	return n.Base + (top+(bot-top)*fy)*n.Amplitude
}

func (n Noise) BlitHeights(xMin, xMax, yMin, yMax int, out []float32) {
	w := xMax - xMin
	for y := yMin; y < yMax; y++ {
		row := (y - yMin) * w
		for x := xMin; x < xMax; x++ {
			out[row+x-xMin] = float32(n.HeightAt(float64(x), float64(y)))
		}
	}
}

func smooth(t float64) float64 { return t * t * (3 - 2*t) }
