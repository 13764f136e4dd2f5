package nav

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"worldsim.ai/internal/sim/mathx"
)

// HeightProvider fills out with ground heights sampled at unit spacing for
// x in [xMin, xMax) and y in [yMin, yMax), row-major with y outer.
type HeightProvider interface {
	BlitHeights(xMin, xMax, yMin, yMax int, out []float32)
}

// heightGrid is a blitted unit-spaced height patch.
type heightGrid struct {
	x0, y0 int
	w, h   int
	z      []float32
}

func (g *heightGrid) at(ix, iy int) float64 {
	if ix < 0 {
		ix = 0
	} else if ix >= g.w {
		ix = g.w - 1
	}
	if iy < 0 {
		iy = 0
	} else if iy >= g.h {
		iy = g.h - 1
	}
	return float64(g.z[iy*g.w+ix])
}

// sample returns the bilinear height at (x, y) and the slope angle in degrees.
func (g *heightGrid) sample(x, y float64) (float64, float64) {
	gx := x - float64(g.x0)
	gy := y - float64(g.y0)
	ix := int(math.Floor(gx))
	iy := int(math.Floor(gy))
	fx := gx - float64(ix)
	fy := gy - float64(iy)

	h00 := g.at(ix, iy)
	h10 := g.at(ix+1, iy)
	h01 := g.at(ix, iy+1)
	h11 := g.at(ix+1, iy+1)

	h := h00*(1-fx)*(1-fy) + h10*fx*(1-fy) + h01*(1-fx)*fy + h11*fx*fy
	dhdx := (h10-h00)*(1-fy) + (h11-h01)*fy
	dhdy := (h01-h00)*(1-fx) + (h11-h10)*fx
	slope := math.Atan(math.Hypot(dhdx, dhdy)) * 180 / math.Pi
	return h, slope
}

// rasterizeTile builds the single layer of tile (tx, ty): terrain walkability
// by slope, eroded by the agent radius, with footprints carved out.
func (a *Awareness) rasterizeTile(tx, ty int, footprints []RotBox2) *TileLayer {
	cs := a.cs
	border := a.border
	size := a.cfg.TileSize
	w := size + 2*border

	ox := a.bmin[0] + float64(tx)*a.tileWorld - float64(border)*cs
	oy := a.bmin[1] + float64(ty)*a.tileWorld - float64(border)*cs
	ex := ox + float64(w)*cs
	ey := oy + float64(w)*cs

	// One extra vertex in each direction so the tile edges are covered.
	grid := &heightGrid{
		x0: int(math.Floor(ox)) - 1,
		y0: int(math.Floor(oy)) - 1,
	}
	x1 := int(math.Ceil(ex)) + 1
	y1 := int(math.Ceil(ey)) + 1
	grid.w = x1 - grid.x0
	grid.h = y1 - grid.y0
	grid.z = make([]float32, grid.w*grid.h)
	a.heights.BlitHeights(grid.x0, x1, grid.y0, y1, grid.z)

	areas := make([]uint8, w*w)
	hs := make([]float32, w*w)
	for j := 0; j < w; j++ {
		cy := oy + (float64(j)+0.5)*cs
		for i := 0; i < w; i++ {
			cx := ox + (float64(i)+0.5)*cs
			h, slope := grid.sample(cx, cy)
			idx := j*w + i
			hs[idx] = float32(h)
			if !a.insideExtent(cx, cy) || math.IsNaN(h) {
				continue
			}
			if slope <= a.cfg.WalkableSlopeAngle {
				areas[idx] = AreaGround
			}
		}
	}

	areas = erode(areas, w, a.cfg.walkableRadius())

	for _, fp := range footprints {
		bb := fp.BoundingBox()
		i0 := mathx.ClampInt(int(math.Floor((bb.Min[0]-ox)/cs)), 0, w-1)
		i1 := mathx.ClampInt(int(math.Floor((bb.Max[0]-ox)/cs)), 0, w-1)
		j0 := mathx.ClampInt(int(math.Floor((bb.Min[1]-oy)/cs)), 0, w-1)
		j1 := mathx.ClampInt(int(math.Floor((bb.Max[1]-oy)/cs)), 0, w-1)
		for j := j0; j <= j1; j++ {
			cy := oy + (float64(j)+0.5)*cs
			for i := i0; i <= i1; i++ {
				cx := ox + (float64(i)+0.5)*cs
				if fp.ContainsPoint(mgl64.Vec2{cx, cy}) {
					areas[j*w+i] = AreaNull
				}
			}
		}
	}

	// Drop the border.
	layer := &TileLayer{
		TX:       tx,
		TY:       ty,
		Width:    size,
		Height:   size,
		OriginX:  ox + float64(border)*cs,
		OriginY:  oy + float64(border)*cs,
		CellSize: cs,
		Areas:    make([]uint8, size*size),
		Heights:  make([]float32, size*size),
	}
	for j := 0; j < size; j++ {
		src := (j+border)*w + border
		copy(layer.Areas[j*size:(j+1)*size], areas[src:src+size])
		copy(layer.Heights[j*size:(j+1)*size], hs[src:src+size])
	}
	return layer
}

// erode clears every walkable cell within radius cells of a blocked cell or
// the grid edge.
func erode(areas []uint8, w, radius int) []uint8 {
	if radius <= 0 {
		return areas
	}
	out := make([]uint8, len(areas))
	copy(out, areas)
	r2 := radius * radius
	n := len(areas) / w
	for j := 0; j < n; j++ {
		for i := 0; i < w; i++ {
			if areas[j*w+i] == AreaNull {
				continue
			}
		scan:
			for dj := -radius; dj <= radius; dj++ {
				for di := -radius; di <= radius; di++ {
					if di*di+dj*dj > r2 {
						continue
					}
					ni, nj := i+di, j+dj
					if ni < 0 || nj < 0 || ni >= w || nj >= n || areas[nj*w+ni] == AreaNull {
						out[j*w+i] = AreaNull
						break scan
					}
				}
			}
		}
	}
	return out
}

func (a *Awareness) insideExtent(x, y float64) bool {
	return x >= a.bmin[0] && x <= a.bmax[0] && y >= a.bmin[1] && y <= a.bmax[1]
}
