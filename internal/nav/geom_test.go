package nav

import (
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestRotBox2_IntersectsBox(t *testing.T) {
	b := box(0, 0, 1, 1)
	diamond := RotBox2{Corner: mgl64.Vec2{2, 0.5}, Size: mgl64.Vec2{1, 1}, Theta: math.Pi / 4}
	if diamond.IntersectsBox(b) {
		t.Fatalf("diamond right of box should not intersect")
	}
	diamond.Corner = mgl64.Vec2{0.9, 0.5}
	if !diamond.IntersectsBox(b) {
		t.Fatalf("overlapping diamond should intersect")
	}
	// Containment counts.
	big := AxisRotBox(box(-5, -5, 5, 5))
	if !big.IntersectsBox(b) {
		t.Fatalf("containing box should intersect")
	}
	// Touching counts.
	if !AxisRotBox(box(1, 0, 2, 1)).IntersectsBox(b) {
		t.Fatalf("touching boxes should intersect")
	}
}

func TestRotBox2_BoundingBox(t *testing.T) {
	r := RotBox2{Corner: mgl64.Vec2{0, 0}, Size: mgl64.Vec2{1, 1}, Theta: math.Pi / 4}
	bb := r.BoundingBox()
	h := math.Sqrt2 / 2
	if math.Abs(bb.Min[0]+h) > 1e-9 || math.Abs(bb.Max[0]-h) > 1e-9 || bb.Min[1] != 0 || math.Abs(bb.Max[1]-math.Sqrt2) > 1e-9 {
		t.Fatalf("bbox: %+v", bb)
	}
}

func TestSegment2_IntersectsBox(t *testing.T) {
	b := box(0, 0, 1, 1)
	cases := []struct {
		s    Segment2
		want bool
	}{
		{Segment2{mgl64.Vec2{-1, 0.5}, mgl64.Vec2{2, 0.5}}, true},
		{Segment2{mgl64.Vec2{0.2, 0.2}, mgl64.Vec2{0.3, 0.3}}, true},
		{Segment2{mgl64.Vec2{-1, 2}, mgl64.Vec2{2, 2}}, false},
		{Segment2{mgl64.Vec2{-1, -1}, mgl64.Vec2{-0.5, 3}}, false},
		{Segment2{mgl64.Vec2{2, 0}, mgl64.Vec2{0, 2}}, true},
	}
	for i, c := range cases {
		if got := c.s.IntersectsBox(b); got != c.want {
			t.Fatalf("case %d: got %v want %v", i, got, c.want)
		}
	}
	if (Segment2{A: mgl64.Vec2{math.NaN(), 0}}).Valid() {
		t.Fatalf("NaN segment valid")
	}
}

func TestLinkedSet_OrderAndMRU(t *testing.T) {
	s := newLinkedSet[int]()
	s.PushBack(1)
	s.PushBack(2)
	s.PushFront(3)
	if s.PushBack(1) {
		t.Fatalf("duplicate insert")
	}
	if got := s.Keys(); len(got) != 3 || got[0] != 3 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("order: %v", got)
	}
	s.Touch(2)
	if f, _ := s.Front(); f != 2 {
		t.Fatalf("front: %d", f)
	}
	k, ok := s.PopBackWhere(func(k int) bool { return k == 1 })
	if !ok || k != 3 {
		t.Fatalf("pop: %d %v", k, ok)
	}
	if !s.Remove(1) || s.Remove(1) || s.Len() != 1 {
		t.Fatalf("remove")
	}
	s.Clear()
	if _, ok := s.Front(); ok || s.Len() != 0 {
		t.Fatalf("clear")
	}
}

func TestTileCache_PutGetLimit(t *testing.T) {
	c, err := newTileCache(2)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer c.close()

	mk := func(tx, ty int, fill uint8) *TileLayer {
		l := &TileLayer{TX: tx, TY: ty, Width: 4, Height: 4, CellSize: 0.2,
			Areas: make([]uint8, 16), Heights: make([]float32, 16)}
		for i := range l.Areas {
			l.Areas[i] = fill
		}
		return l
	}
	if err := c.put(mk(0, 0, AreaGround)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := c.put(mk(1, 0, AreaGround)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := c.put(mk(2, 0, AreaGround)); !errors.Is(err, ErrTileCacheFull) {
		t.Fatalf("expected full, got %v", err)
	}
	// Replacing an existing layer is always allowed.
	if err := c.put(mk(0, 0, AreaNull)); err != nil {
		t.Fatalf("replace: %v", err)
	}
	l, err := c.get(0, 0, 0)
	if err != nil || l == nil || l.Walkable(1, 1) {
		t.Fatalf("get replaced: %v %v", l, err)
	}
	if l, err := c.get(5, 5, 0); l != nil || err != nil {
		t.Fatalf("missing layer: %v %v", l, err)
	}
	if !c.remove(1, 0, 0) || c.remove(1, 0, 0) || c.layerCount() != 1 || len(c.tiles()) != 1 {
		t.Fatalf("remove")
	}
}

type rampHeights float32

func (h rampHeights) BlitHeights(xMin, xMax, yMin, yMax int, out []float32) {
	w := xMax - xMin
	for y := yMin; y < yMax; y++ {
		for x := xMin; x < xMax; x++ {
			out[(y-yMin)*w+(x-xMin)] = float32(h) * float32(x)
		}
	}
}

func TestRasterizeTile_SlopeLimit(t *testing.T) {
	walkableCells := func(slope float32) int {
		a, err := New(testConfig(), rampHeights(slope), testExtent)
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		defer a.Close()
		l := a.rasterizeTile(3, 3, nil)
		n := 0
		for y := 0; y < l.Height; y++ {
			for x := 0; x < l.Width; x++ {
				if l.Walkable(x, y) {
					n++
				}
			}
		}
		return n
	}
	if n := walkableCells(2); n != 16*16 {
		t.Fatalf("63 degree ramp: %d walkable", n)
	}
	if n := walkableCells(5); n != 0 {
		t.Fatalf("79 degree ramp: %d walkable", n)
	}
}

func TestRasterizeTile_ErodesWorldEdge(t *testing.T) {
	a := newTestAwareness(t, testConfig(), nil)
	l := a.rasterizeTile(0, 0, nil)
	if l.Walkable(0, 5) || l.Walkable(1, 5) {
		t.Fatalf("cells within the agent radius of the edge should be eroded")
	}
	if !l.Walkable(2, 5) {
		t.Fatalf("cell beyond the agent radius should be walkable")
	}
}
