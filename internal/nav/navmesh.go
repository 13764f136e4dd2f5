package nav

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"worldsim.ai/internal/sim/mathx"
)

// Navmesh vectors are ordered (x, height, y). Caller space is (x, y, z up).
func toNav(p mgl64.Vec3) mgl64.Vec3   { return mgl64.Vec3{p[0], p[2], p[1]} }
func fromNav(p mgl64.Vec3) mgl64.Vec3 { return mgl64.Vec3{p[0], p[2], p[1]} }

// polyRef addresses one walkable cell by its global grid coordinates. Each
// walkable cell is a square polygon sharing edges with its 4-neighbours.
type polyRef struct{ X, Y int }

// navTile is the queryable form of a built layer.
type navTile struct {
	layer    *TileLayer
	walkable int
}

func newNavTile(l *TileLayer) *navTile {
	n := 0
	for _, a := range l.Areas {
		if a != AreaNull {
			n++
		}
	}
	return &navTile{layer: l, walkable: n}
}

// poly returns the ground height of cell ref, or false when ref is not a
// walkable cell of a built tile.
func (a *Awareness) poly(ref polyRef) (float64, bool) {
	size := a.cfg.TileSize
	t := a.mesh[tileKey{mathx.FloorDiv(ref.X, size), mathx.FloorDiv(ref.Y, size)}]
	if t == nil {
		return 0, false
	}
	lx, ly := mathx.Mod(ref.X, size), mathx.Mod(ref.Y, size)
	if !t.layer.Walkable(lx, ly) {
		return 0, false
	}
	return float64(t.layer.Heights[ly*size+lx]), true
}

func (a *Awareness) cellMin(ref polyRef) mgl64.Vec2 {
	return mgl64.Vec2{a.bmin[0] + float64(ref.X)*a.cs, a.bmin[1] + float64(ref.Y)*a.cs}
}

func (a *Awareness) cellCenter(ref polyRef, h float64) mgl64.Vec3 {
	m := a.cellMin(ref)
	return mgl64.Vec3{m[0] + a.cs/2, h, m[1] + a.cs/2}
}

// closestPointOnPoly clamps p (nav order) onto the cell's square.
func (a *Awareness) closestPointOnPoly(ref polyRef, h float64, p mgl64.Vec3) mgl64.Vec3 {
	m := a.cellMin(ref)
	return mgl64.Vec3{
		math.Min(math.Max(p[0], m[0]), m[0]+a.cs),
		h,
		math.Min(math.Max(p[2], m[1]), m[1]+a.cs),
	}
}

// findNearestPoly returns the walkable cell closest to center among those
// overlapping the query box center +- ext (nav order).
func (a *Awareness) findNearestPoly(center, ext mgl64.Vec3) (polyRef, mgl64.Vec3, bool) {
	if !finite3(center) || !finite3(ext) {
		return polyRef{}, mgl64.Vec3{}, false
	}
	size := a.cfg.TileSize
	gx0 := int(math.Floor((center[0] - ext[0] - a.bmin[0]) / a.cs))
	gx1 := int(math.Floor((center[0] + ext[0] - a.bmin[0]) / a.cs))
	gy0 := int(math.Floor((center[2] - ext[2] - a.bmin[1]) / a.cs))
	gy1 := int(math.Floor((center[2] + ext[2] - a.bmin[1]) / a.cs))

	var (
		best     polyRef
		bestPt   mgl64.Vec3
		bestDist = math.Inf(1)
		found    bool
	)
	for ty := mathx.FloorDiv(gy0, size); ty <= mathx.FloorDiv(gy1, size); ty++ {
		for tx := mathx.FloorDiv(gx0, size); tx <= mathx.FloorDiv(gx1, size); tx++ {
			t := a.mesh[tileKey{tx, ty}]
			if t == nil || t.walkable == 0 {
				continue
			}
			lx0 := mathx.ClampInt(gx0-tx*size, 0, size-1)
			lx1 := mathx.ClampInt(gx1-tx*size, 0, size-1)
			ly0 := mathx.ClampInt(gy0-ty*size, 0, size-1)
			ly1 := mathx.ClampInt(gy1-ty*size, 0, size-1)
			for ly := ly0; ly <= ly1; ly++ {
				for lx := lx0; lx <= lx1; lx++ {
					if !t.layer.Walkable(lx, ly) {
						continue
					}
					h := float64(t.layer.Heights[ly*size+lx])
					if math.Abs(h-center[1]) > ext[1] {
						continue
					}
					ref := polyRef{tx*size + lx, ty*size + ly}
					pt := a.closestPointOnPoly(ref, h, center)
					d := pt.Sub(center).LenSqr()
					if d < bestDist {
						best, bestPt, bestDist, found = ref, pt, d, true
					}
				}
			}
		}
	}
	return best, bestPt, found
}

var polyNeighbours = [4][2]int{{1, 0}, {0, 1}, {-1, 0}, {0, -1}}

// neighbours appends the cells reachable from ref in one step.
func (a *Awareness) neighbours(ref polyRef, h float64, out []polyRef) []polyRef {
	for _, d := range polyNeighbours {
		n := polyRef{ref.X + d[0], ref.Y + d[1]}
		nh, ok := a.poly(n)
		if !ok || math.Abs(nh-h) > a.cfg.WalkableClimb {
			continue
		}
		out = append(out, n)
	}
	return out
}

// portal returns the shared edge between adjacent cells from and to, as
// (left, right) seen when travelling from -> to.
func (a *Awareness) portal(from, to polyRef) (mgl64.Vec2, mgl64.Vec2) {
	m := a.cellMin(from)
	cs := a.cs
	switch {
	case to.X > from.X:
		return mgl64.Vec2{m[0] + cs, m[1] + cs}, mgl64.Vec2{m[0] + cs, m[1]}
	case to.X < from.X:
		return mgl64.Vec2{m[0], m[1]}, mgl64.Vec2{m[0], m[1] + cs}
	case to.Y > from.Y:
		return mgl64.Vec2{m[0], m[1] + cs}, mgl64.Vec2{m[0] + cs, m[1] + cs}
	default:
		return mgl64.Vec2{m[0] + cs, m[1]}, mgl64.Vec2{m[0], m[1]}
	}
}
