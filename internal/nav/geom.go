package nav

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Box2 is an axis-aligned box on the horizontal (x, y) plane.
type Box2 struct {
	Min, Max mgl64.Vec2
}

func (b Box2) Valid() bool {
	return finite2(b.Min) && finite2(b.Max) && b.Min[0] <= b.Max[0] && b.Min[1] <= b.Max[1]
}

// Intersects treats touching boxes as intersecting.
func (b Box2) Intersects(o Box2) bool {
	return b.Min[0] <= o.Max[0] && o.Min[0] <= b.Max[0] &&
		b.Min[1] <= o.Max[1] && o.Min[1] <= b.Max[1]
}

func (b Box2) ContainsPoint(p mgl64.Vec2) bool {
	return p[0] >= b.Min[0] && p[0] <= b.Max[0] && p[1] >= b.Min[1] && p[1] <= b.Max[1]
}

func (b Box2) Expand(d float64) Box2 {
	return Box2{Min: b.Min.Sub(mgl64.Vec2{d, d}), Max: b.Max.Add(mgl64.Vec2{d, d})}
}

func (b Box2) corners() [4]mgl64.Vec2 {
	return [4]mgl64.Vec2{
		b.Min,
		{b.Max[0], b.Min[1]},
		{b.Min[0], b.Max[1]},
		b.Max,
	}
}

// Box3 is an axis-aligned box in caller space: x, y horizontal and z up.
type Box3 struct {
	Min, Max mgl64.Vec3
}

func (b Box3) Valid() bool {
	for i := 0; i < 3; i++ {
		if math.IsNaN(b.Min[i]) || math.IsNaN(b.Max[i]) || math.IsInf(b.Min[i], 0) || math.IsInf(b.Max[i], 0) {
			return false
		}
		if b.Min[i] > b.Max[i] {
			return false
		}
	}
	return true
}

func (b Box3) Horizontal() Box2 {
	return Box2{Min: mgl64.Vec2{b.Min[0], b.Min[1]}, Max: mgl64.Vec2{b.Max[0], b.Max[1]}}
}

// RotBox2 is a box with one corner at Corner, extending Size along its local
// axes, which are rotated by Theta radians counter-clockwise.
type RotBox2 struct {
	Corner mgl64.Vec2
	Size   mgl64.Vec2
	Theta  float64
}

// AxisRotBox wraps an axis-aligned box.
func AxisRotBox(b Box2) RotBox2 {
	return RotBox2{Corner: b.Min, Size: b.Max.Sub(b.Min)}
}

func (r RotBox2) axes() (mgl64.Vec2, mgl64.Vec2) {
	s, c := math.Sincos(r.Theta)
	return mgl64.Vec2{c, s}, mgl64.Vec2{-s, c}
}

// Corners are ordered like the bit pattern of their index: bit 0 selects the
// far side along the first axis, bit 1 along the second.
func (r RotBox2) Corners() [4]mgl64.Vec2 {
	ax, ay := r.axes()
	ex := ax.Mul(r.Size[0])
	ey := ay.Mul(r.Size[1])
	return [4]mgl64.Vec2{
		r.Corner,
		r.Corner.Add(ex),
		r.Corner.Add(ey),
		r.Corner.Add(ex).Add(ey),
	}
}

func (r RotBox2) BoundingBox() Box2 {
	cs := r.Corners()
	out := Box2{Min: cs[0], Max: cs[0]}
	for _, c := range cs[1:] {
		out.Min[0] = math.Min(out.Min[0], c[0])
		out.Min[1] = math.Min(out.Min[1], c[1])
		out.Max[0] = math.Max(out.Max[0], c[0])
		out.Max[1] = math.Max(out.Max[1], c[1])
	}
	return out
}

func (r RotBox2) ContainsPoint(p mgl64.Vec2) bool {
	ax, ay := r.axes()
	d := p.Sub(r.Corner)
	u := d.Dot(ax)
	v := d.Dot(ay)
	return u >= 0 && u <= r.Size[0] && v >= 0 && v <= r.Size[1]
}

// IntersectsBox is a separating-axis test; touching counts as intersecting.
func (r RotBox2) IntersectsBox(b Box2) bool {
	rc := r.Corners()
	bc := b.corners()
	ax, ay := r.axes()
	for _, axis := range [4]mgl64.Vec2{{1, 0}, {0, 1}, ax, ay} {
		rmin, rmax := project(rc, axis)
		bmin, bmax := project(bc, axis)
		if rmax < bmin || bmax < rmin {
			return false
		}
	}
	return true
}

func project(pts [4]mgl64.Vec2, axis mgl64.Vec2) (float64, float64) {
	lo := pts[0].Dot(axis)
	hi := lo
	for _, p := range pts[1:] {
		d := p.Dot(axis)
		lo = math.Min(lo, d)
		hi = math.Max(hi, d)
	}
	return lo, hi
}

// Segment2 is a focus line, typically from an agent along its heading.
type Segment2 struct {
	A, B mgl64.Vec2
}

func (s Segment2) Valid() bool { return finite2(s.A) && finite2(s.B) }

// IntersectsBox clips the segment against b (Liang-Barsky).
func (s Segment2) IntersectsBox(b Box2) bool {
	t0, t1 := 0.0, 1.0
	d := s.B.Sub(s.A)
	for i := 0; i < 2; i++ {
		if d[i] == 0 {
			if s.A[i] < b.Min[i] || s.A[i] > b.Max[i] {
				return false
			}
			continue
		}
		inv := 1 / d[i]
		tn := (b.Min[i] - s.A[i]) * inv
		tf := (b.Max[i] - s.A[i]) * inv
		if tn > tf {
			tn, tf = tf, tn
		}
		t0 = math.Max(t0, tn)
		t1 = math.Min(t1, tf)
		if t0 > t1 {
			return false
		}
	}
	return true
}

func finite2(v mgl64.Vec2) bool {
	return !math.IsNaN(v[0]) && !math.IsNaN(v[1]) && !math.IsInf(v[0], 0) && !math.IsInf(v[1], 0)
}

func finite3(v mgl64.Vec3) bool {
	for i := 0; i < 3; i++ {
		if math.IsNaN(v[i]) || math.IsInf(v[i], 0) {
			return false
		}
	}
	return true
}

// cross2 is positive when b lies counter-clockwise of a.
func cross2(a, b mgl64.Vec2) float64 { return a[0]*b[1] - a[1]*b[0] }
