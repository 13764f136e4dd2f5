package nav

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

type flatHeights float32

func (h flatHeights) BlitHeights(xMin, xMax, yMin, yMax int, out []float32) {
	n := (xMax - xMin) * (yMax - yMin)
	for i := 0; i < n; i++ {
		out[i] = float32(h)
	}
}

type tileEvents struct {
	dirty   int
	rebuilt [][2]int
	evicted [][3]int
}

func (e *tileEvents) listener() TileListener {
	return TileListenerFuncs{
		OnDirty:   func() { e.dirty++ },
		OnRebuilt: func(tx, ty int) { e.rebuilt = append(e.rebuilt, [2]int{tx, ty}) },
		OnEvicted: func(tx, ty, layer int) { e.evicted = append(e.evicted, [3]int{tx, ty, layer}) },
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TileSize = 16 // 3.2m tiles
	return cfg
}

var testExtent = Box3{Min: mgl64.Vec3{0, 0, -10}, Max: mgl64.Vec3{32, 32, 10}}

func newTestAwareness(t *testing.T, cfg Config, ev *tileEvents) *Awareness {
	t.Helper()
	var opts []Option
	if ev != nil {
		opts = append(opts, WithListener(ev.listener()))
	}
	a, err := New(cfg, flatHeights(0), testExtent, opts...)
	if err != nil {
		t.Fatalf("new awareness: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func box(x0, y0, x1, y1 float64) Box2 {
	return Box2{Min: mgl64.Vec2{x0, y0}, Max: mgl64.Vec2{x1, y1}}
}

func rebuildAll(t *testing.T, a *Awareness) {
	t.Helper()
	for i := 0; a.Stats().DirtyAware > 0; i++ {
		if i > 1000 {
			t.Fatalf("dirty queue does not drain")
		}
		a.RebuildDirtyTile()
	}
}

func TestNew_RejectsInvalidInput(t *testing.T) {
	bad := DefaultConfig()
	bad.TileSize = 4
	if a, err := New(bad, flatHeights(0), testExtent); err == nil || a != nil || !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("tile size 4: a=%v err=%v", a, err)
	}
	if _, err := New(DefaultConfig(), nil, testExtent); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("nil heights: %v", err)
	}
	flat := Box3{Min: mgl64.Vec3{0, 0, 0}, Max: mgl64.Vec3{0, 10, 1}}
	if _, err := New(DefaultConfig(), flatHeights(0), flat); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("empty extent: %v", err)
	}
}

func TestNew_SizesGrid(t *testing.T) {
	a := newTestAwareness(t, testConfig(), nil)
	if a.tilesX != 10 || a.tilesY != 10 {
		t.Fatalf("tiles: %dx%d", a.tilesX, a.tilesY)
	}
	if a.cache.maxLayers != 128 {
		t.Fatalf("max layers: %d", a.cache.maxLayers)
	}
	if got := a.TileSizeInMeters(); got < 3.19 || got > 3.21 {
		t.Fatalf("tile size: %v", got)
	}
	if a.DesiredTilesAmount() != DefaultBaseTileAmount {
		t.Fatalf("desired: %d", a.DesiredTilesAmount())
	}
}

func TestAwarenessArea_RefcountAndDirtyLifecycle(t *testing.T) {
	ev := &tileEvents{}
	a := newTestAwareness(t, testConfig(), ev)
	area := AxisRotBox(box(4, 4, 5, 5))

	a.SetAwarenessArea("obs", area, nil)
	if st := a.Stats(); st.AwareTiles != 1 || st.DirtyAware != 1 {
		t.Fatalf("after set: %+v", st)
	}
	if ev.dirty != 1 {
		t.Fatalf("dirty events: %d", ev.dirty)
	}
	if !a.IsPositionAware(4.5, 4.5) || a.IsPositionAware(20, 20) {
		t.Fatalf("position awareness wrong")
	}
	if a.ReadyTilesInArea("obs") != 0 {
		t.Fatalf("tile should be pending")
	}

	if left := a.RebuildDirtyTile(); left != 0 {
		t.Fatalf("remaining dirty: %d", left)
	}
	if len(ev.rebuilt) != 1 || ev.rebuilt[0] != [2]int{1, 1} {
		t.Fatalf("rebuilt: %v", ev.rebuilt)
	}
	if st := a.Stats(); st.CachedLayers != 1 || st.NavMeshTiles != 1 {
		t.Fatalf("after rebuild: %+v", st)
	}
	if a.ReadyTilesInArea("obs") != 1 {
		t.Fatalf("tile should be ready")
	}

	// Same area again: no requeue, no extra reference.
	a.SetAwarenessArea("obs", area, nil)
	if st := a.Stats(); st.DirtyAware != 0 || a.aware[tileKey{1, 1}] != 1 {
		t.Fatalf("re-set: %+v refs=%d", st, a.aware[tileKey{1, 1}])
	}

	a.SetAwarenessArea("other", area, nil)
	if a.aware[tileKey{1, 1}] != 2 {
		t.Fatalf("refs: %d", a.aware[tileKey{1, 1}])
	}
	a.RemoveAwarenessArea("obs")
	if !a.IsPositionAware(4.5, 4.5) {
		t.Fatalf("tile still referenced by other area")
	}
	a.RemoveAwarenessArea("other")
	if a.IsPositionAware(4.5, 4.5) {
		t.Fatalf("tile should no longer be aware")
	}
	if st := a.Stats(); st.AreasTracked != 0 {
		t.Fatalf("areas not released: %+v", st)
	}
}

func TestAwarenessArea_DirtyUnawareBecomesAware(t *testing.T) {
	ev := &tileEvents{}
	a := newTestAwareness(t, testConfig(), ev)
	area := AxisRotBox(box(4, 4, 5, 5))
	a.SetAwarenessArea("obs", area, nil)
	rebuildAll(t, a)

	a.MarkTilesAsDirty(box(4.5, 4.5, 4.6, 4.6))
	if st := a.Stats(); st.DirtyAware != 1 {
		t.Fatalf("mark: %+v", st)
	}
	if ev.dirty != 2 {
		t.Fatalf("dirty events: %d", ev.dirty)
	}

	a.RemoveAwarenessArea("obs")
	if st := a.Stats(); st.DirtyAware != 0 || st.DirtyUnaware != 1 {
		t.Fatalf("after remove: %+v", st)
	}

	a.SetAwarenessArea("obs", area, nil)
	if st := a.Stats(); st.DirtyAware != 1 || st.DirtyUnaware != 0 {
		t.Fatalf("after re-add: %+v", st)
	}
}

func TestMarkTilesAsDirty_EdgeTriggered(t *testing.T) {
	ev := &tileEvents{}
	a := newTestAwareness(t, testConfig(), ev)
	a.SetAwarenessArea("obs", AxisRotBox(box(4, 4, 8, 5)), nil)
	if ev.dirty != 1 {
		t.Fatalf("dirty events: %d", ev.dirty)
	}
	a.MarkTilesAsDirty(box(4, 4, 8, 5))
	if ev.dirty != 1 {
		t.Fatalf("queue was not empty, got %d events", ev.dirty)
	}
	rebuildAll(t, a)
	a.MarkTilesAsDirty(box(20, 20, 21, 21))
	if ev.dirty != 1 {
		t.Fatalf("unaware tiles must not fire, got %d", ev.dirty)
	}
	if a.Stats().DirtyUnaware == 0 {
		t.Fatalf("expected unaware dirty tiles")
	}
	a.MarkTilesAsDirty(box(4, 4, 4.1, 4.1))
	if ev.dirty != 2 {
		t.Fatalf("dirty events: %d", ev.dirty)
	}
}

func TestAwarenessArea_FocusLineQueuesFirst(t *testing.T) {
	ev := &tileEvents{}
	a := newTestAwareness(t, testConfig(), ev)
	focus := &Segment2{A: mgl64.Vec2{8.5, 4.5}, B: mgl64.Vec2{9, 4.5}}
	a.SetAwarenessArea("obs", AxisRotBox(box(0.5, 4, 9, 5)), focus)
	a.RebuildDirtyTile()
	if len(ev.rebuilt) != 1 || ev.rebuilt[0] != [2]int{2, 1} {
		t.Fatalf("first rebuilt: %v", ev.rebuilt)
	}
}

func TestPruneTiles_EvictsLeastRecentlyUsedUnawareTile(t *testing.T) {
	ev := &tileEvents{}
	cfg := testConfig()
	cfg.BaseTileAmount = 1
	a := newTestAwareness(t, cfg, ev)

	a.SetAwarenessArea("obs", AxisRotBox(box(4, 4, 5, 5)), nil)
	rebuildAll(t, a)
	if a.NeedsPruning() {
		t.Fatalf("nothing to prune yet")
	}
	a.SetAwarenessArea("obs", AxisRotBox(box(20, 20, 21, 21)), nil)
	rebuildAll(t, a)

	if !a.NeedsPruning() {
		t.Fatalf("expected pruning: %+v", a.Stats())
	}
	a.PruneTiles()
	if len(ev.evicted) != 1 || ev.evicted[0] != [3]int{1, 1, 0} {
		t.Fatalf("evicted: %v", ev.evicted)
	}
	if st := a.Stats(); st.CachedLayers != 1 || st.ActiveTiles != 1 || st.NavMeshTiles != 1 {
		t.Fatalf("after prune: %+v", st)
	}
	if a.NeedsPruning() {
		t.Fatalf("should be within budget")
	}
}

func TestPruneTiles_KeepsAwareTiles(t *testing.T) {
	cfg := testConfig()
	cfg.BaseTileAmount = 1
	a := newTestAwareness(t, cfg, nil)
	a.SetAwarenessArea("a", AxisRotBox(box(4, 4, 5, 5)), nil)
	a.SetAwarenessArea("b", AxisRotBox(box(20, 20, 21, 21)), nil)
	rebuildAll(t, a)
	if a.NeedsPruning() {
		t.Fatalf("aware tiles exceed budget but must not be pruned")
	}
	a.PruneTiles()
	if a.Stats().CachedLayers != 2 {
		t.Fatalf("aware tile evicted")
	}
}

func TestObservers_ScaleDesiredTiles(t *testing.T) {
	cfg := testConfig()
	cfg.BaseTileAmount = 10
	a := newTestAwareness(t, cfg, nil)
	a.AddObserver()
	if a.DesiredTilesAmount() != 10 {
		t.Fatalf("one observer: %d", a.DesiredTilesAmount())
	}
	a.AddObserver()
	a.AddObserver()
	if a.DesiredTilesAmount() != 18 {
		t.Fatalf("three observers: %d", a.DesiredTilesAmount())
	}
	a.RemoveObserver()
	a.RemoveObserver()
	a.RemoveObserver()
	a.RemoveObserver()
	if a.DesiredTilesAmount() != 10 {
		t.Fatalf("no observers: %d", a.DesiredTilesAmount())
	}
}

func TestObservers_ZeroScaleKeepsBudgetFlat(t *testing.T) {
	cfg := testConfig()
	cfg.BaseTileAmount = 10
	cfg.ObserverScale = Scale(0)
	if n := cfg.Normalize(); n.ObserverScale == nil || *n.ObserverScale != 0 {
		t.Fatalf("normalize replaced an explicit zero scale: %v", n.ObserverScale)
	}
	a := newTestAwareness(t, cfg, nil)
	for i := 0; i < 3; i++ {
		a.AddObserver()
	}
	if a.DesiredTilesAmount() != 10 {
		t.Fatalf("three observers with zero scale: %d", a.DesiredTilesAmount())
	}

	cfg.ObserverScale = nil
	if n := cfg.Normalize(); n.ObserverScale == nil || *n.ObserverScale != DefaultObserverScale {
		t.Fatalf("unset scale not defaulted: %v", n.ObserverScale)
	}
	cfg.ObserverScale = Scale(-1)
	if err := cfg.Normalize().Validate(); err == nil {
		t.Fatalf("negative scale accepted")
	}
}

func TestVisitTiles(t *testing.T) {
	a := newTestAwareness(t, testConfig(), nil)
	a.SetAwarenessArea("obs", AxisRotBox(box(4, 4, 8, 5)), nil)
	rebuildAll(t, a)
	var seen []int
	err := a.VisitTiles(box(0, 0, 32, 32), func(l *TileLayer) {
		if l.Width != 16 || len(l.Areas) != 16*16 {
			t.Fatalf("layer shape: %dx%d", l.Width, l.Height)
		}
		seen = append(seen, l.TX)
	})
	if err != nil {
		t.Fatalf("visit: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("visited %v", seen)
	}
}

func TestIsPositionAware_BelowGridOrigin(t *testing.T) {
	a := newTestAwareness(t, testConfig(), nil)
	a.SetAwarenessArea("obs", AxisRotBox(box(0.5, 0.5, 1, 1)), nil)
	if !a.IsPositionAware(0.5, 0.5) || !a.IsPositionAware(0, 0) {
		t.Fatalf("tile 0 should be aware")
	}
	// Just below the origin is tile -1, not tile 0.
	if a.IsPositionAware(-0.1, 0.5) || a.IsPositionAware(0.5, -0.1) || a.IsPositionAware(-3, -3) {
		t.Fatalf("position below the grid origin reported aware")
	}
}
