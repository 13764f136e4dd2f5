package nav

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func crate(id string, pos mgl64.Vec3) Entity {
	return Entity{ID: id, Location: Location{
		Pos:         pos,
		Orientation: mgl64.QuatIdent(),
		BBox:        &Box3{Min: mgl64.Vec3{-0.5, -0.5, 0}, Max: mgl64.Vec3{0.5, 0.5, 1}},
		Solid:       true,
	}}
}

func TestEntity_StationarySolidDirtiesAndRebuilds(t *testing.T) {
	ev := &tileEvents{}
	a := newTestAwareness(t, testConfig(), ev)
	a.SetAwarenessArea("obs", AxisRotBox(box(4, 4, 5, 5)), nil)
	rebuildAll(t, a)
	rebuilt := len(ev.rebuilt)

	a.AddEntity("obs", crate("c1", mgl64.Vec3{4.8, 4.8, 0}), false)
	if a.Stats().DirtyAware != 1 {
		t.Fatalf("crate should dirty its aware tile: %+v", a.Stats())
	}
	if ev.dirty != 2 {
		t.Fatalf("dirty events: %d", ev.dirty)
	}
	if a.RebuildDirtyTile() != 0 {
		t.Fatalf("expected queue drained")
	}
	if len(ev.rebuilt) != rebuilt+1 {
		t.Fatalf("rebuilt: %v", ev.rebuilt)
	}

	err := a.VisitTile(1, 1, func(l *TileLayer) {
		// Tile origin is 3.2, cells are 0.2.
		if l.Walkable(8, 8) {
			t.Fatalf("cell under crate still walkable")
		}
		if !l.Walkable(0, 0) {
			t.Fatalf("free cell blocked")
		}
	})
	if err != nil {
		t.Fatalf("visit: %v", err)
	}
}

func TestEntity_IgnoredReleasedWithLastObserver(t *testing.T) {
	a := newTestAwareness(t, testConfig(), nil)
	ghost := Entity{ID: "ghost", Location: Location{Pos: mgl64.Vec3{5, 5, 0}, Orientation: mgl64.QuatIdent()}}
	a.AddEntity("o1", ghost, false)
	a.AddEntity("o2", ghost, false)
	if a.ObserverCount("ghost") != 2 {
		t.Fatalf("observers: %d", a.ObserverCount("ghost"))
	}
	if a.HasFootprint("ghost") {
		t.Fatalf("ignored entity has footprint")
	}
	a.RemoveEntity("o1", "ghost")
	if _, ok := a.TrackedEntity("ghost"); !ok {
		t.Fatalf("released too early")
	}
	a.RemoveEntity("o2", "ghost")
	if _, ok := a.TrackedEntity("ghost"); ok {
		t.Fatalf("ignored entity should be released")
	}
	// Extra removals are harmless.
	a.RemoveEntity("o2", "ghost")
}

func TestEntity_SolidRetainedUnlessReleaseConfigured(t *testing.T) {
	a := newTestAwareness(t, testConfig(), nil)
	a.AddEntity("obs", crate("c1", mgl64.Vec3{5, 5, 0}), false)
	a.RemoveEntity("obs", "c1")
	if _, ok := a.TrackedEntity("c1"); !ok || !a.HasFootprint("c1") {
		t.Fatalf("solid entity should stay tracked")
	}
	if a.ObserverCount("c1") != 0 {
		t.Fatalf("observers: %d", a.ObserverCount("c1"))
	}

	cfg := testConfig()
	cfg.ReleaseUnobservedSolids = true
	b := newTestAwareness(t, cfg, nil)
	b.SetAwarenessArea("obs", AxisRotBox(box(4, 4, 5, 5)), nil)
	rebuildAll(t, b)
	b.AddEntity("obs", crate("c1", mgl64.Vec3{5, 5, 0}), false)
	rebuildAll(t, b)
	b.RemoveEntity("obs", "c1")
	if _, ok := b.TrackedEntity("c1"); ok || b.HasFootprint("c1") {
		t.Fatalf("solid entity should be released")
	}
	if b.Stats().DirtyAware == 0 {
		t.Fatalf("released footprint should dirty its tiles")
	}
}

func TestEntity_StartsAndStopsMoving(t *testing.T) {
	a := newTestAwareness(t, testConfig(), nil)
	c := crate("c1", mgl64.Vec3{5, 5, 0})
	a.AddEntity("obs", c, false)
	if a.IsMoving("c1") || !a.HasFootprint("c1") {
		t.Fatalf("crate should start static")
	}

	c.Velocity = mgl64.Vec3{1, 0, 0}
	c.Timestamp = 1
	a.UpdateEntityMovement("obs", c)
	if !a.IsMoving("c1") || a.HasFootprint("c1") {
		t.Fatalf("pushed crate should be a moving obstacle")
	}

	c.Pos = mgl64.Vec3{7, 5, 0}
	c.Velocity = mgl64.Vec3{}
	a.UpdateEntityMovement("obs", c)
	if a.IsMoving("c1") || !a.HasFootprint("c1") {
		t.Fatalf("crate at rest should be carved again")
	}
	fp := a.footprints["c1"]
	if !fp.ContainsPoint(mgl64.Vec2{7, 5}) {
		t.Fatalf("footprint not moved: %+v", fp)
	}
}

func TestEntity_DynamicNeverSettles(t *testing.T) {
	a := newTestAwareness(t, testConfig(), nil)
	a.AddEntity("obs", crate("npc", mgl64.Vec3{5, 5, 0}), true)
	if !a.IsMoving("npc") || a.HasFootprint("npc") {
		t.Fatalf("dynamic entity should be a moving obstacle")
	}
}

func TestEntity_LosingBBoxStopsCarving(t *testing.T) {
	a := newTestAwareness(t, testConfig(), nil)
	c := crate("c1", mgl64.Vec3{5, 5, 0})
	a.AddEntity("obs", c, false)
	c.BBox = nil
	a.UpdateEntityMovement("obs", c)
	if a.HasFootprint("c1") {
		t.Fatalf("footprint should be dropped")
	}
	c.BBox = &Box3{Min: mgl64.Vec3{-1, -1, 0}, Max: mgl64.Vec3{1, 1, 1}}
	a.UpdateEntityMovement("obs", c)
	if !a.HasFootprint("c1") {
		t.Fatalf("entity with a bbox again should be carved")
	}
}

func TestEntity_OwnedMovementOnlyFromSelf(t *testing.T) {
	a := newTestAwareness(t, testConfig(), nil)
	self := crate("me", mgl64.Vec3{5, 5, 0})
	a.AddEntity("me", self, false)

	moved := self
	moved.Pos = mgl64.Vec3{6, 5, 0}
	a.UpdateEntityMovement("someone", moved)
	if e, _ := a.TrackedEntity("me"); e.Pos != self.Pos {
		t.Fatalf("movement from another observer applied: %v", e.Pos)
	}
	a.UpdateEntityMovement("me", moved)
	if e, _ := a.TrackedEntity("me"); e.Pos != moved.Pos {
		t.Fatalf("own movement not applied: %v", e.Pos)
	}
}

func TestProjectPosition(t *testing.T) {
	a := newTestAwareness(t, testConfig(), nil)
	e := mover("m", mgl64.Vec3{1, 2, 0}, mgl64.Vec3{1, 0, 0})
	e.Timestamp = 10
	a.AddEntity("obs", e, true)
	p, ok := a.ProjectPosition("m", 12)
	if !ok || !near3(p, mgl64.Vec3{3, 2, 0}, 1e-9) {
		t.Fatalf("projected: %v %v", p, ok)
	}
	if _, ok := a.ProjectPosition("nobody", 12); ok {
		t.Fatalf("unknown entity projected")
	}
}

func TestFootprint_RotatedByHeading(t *testing.T) {
	loc := Location{
		Pos:         mgl64.Vec3{10, 10, 0},
		Orientation: mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{0, 0, 1}),
		BBox:        &Box3{Min: mgl64.Vec3{0, 0, 0}, Max: mgl64.Vec3{2, 1, 1}},
		Solid:       true,
	}
	fp, ok := loc.footprint(0)
	if !ok {
		t.Fatalf("footprint rejected")
	}
	// Local +x now points along world +y.
	if !fp.ContainsPoint(mgl64.Vec2{9.5, 11.5}) {
		t.Fatalf("rotated footprint misses point: %+v", fp)
	}
	if fp.ContainsPoint(mgl64.Vec2{11.5, 10.5}) {
		t.Fatalf("unrotated point should be outside: %+v", fp)
	}

	loc.Orientation = mgl64.Quat{}
	if _, ok := loc.footprint(0); ok {
		t.Fatalf("zero quaternion should be rejected")
	}
	loc.Orientation = mgl64.QuatIdent()
	loc.Pos = mgl64.Vec3{math.NaN(), 0, 0}
	if _, ok := loc.footprint(0); ok {
		t.Fatalf("NaN position should be rejected")
	}
}

func TestRebuildDirtyTile_ObstacleCapKeepsLowestIDs(t *testing.T) {
	cfg := testConfig()
	cfg.MaxObstacles = 1
	a := newTestAwareness(t, cfg, nil)
	a.SetAwarenessArea("obs", AxisRotBox(box(4, 4, 5, 5)), nil)
	// Added out of order so insertion order cannot pick the winner.
	a.AddEntity("obs", crate("z", mgl64.Vec3{5.8, 5.8, 0}), false)
	a.AddEntity("obs", crate("a", mgl64.Vec3{4.0, 4.0, 0}), false)

	for i := 0; i < 20; i++ {
		a.MarkTilesAsDirty(box(4, 4, 5, 5))
		rebuildAll(t, a)
		err := a.VisitTile(1, 1, func(l *TileLayer) {
			// Tile origin is 3.2, cells are 0.2.
			if l.Walkable(4, 4) {
				t.Fatalf("rebuild %d: crate a not carved", i)
			}
			if !l.Walkable(13, 13) {
				t.Fatalf("rebuild %d: crate z carved past the cap", i)
			}
		})
		if err != nil {
			t.Fatalf("visit: %v", err)
		}
	}
}
