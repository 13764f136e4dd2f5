package nav

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/sirupsen/logrus"

	"worldsim.ai/internal/sim/mathx"
)

// Awareness keeps a tiled navmesh current around the areas observers care
// about. Tiles are rebuilt lazily from terrain heights and the footprints of
// solid stationary entities; moving entities are only avoided.
//
// Awareness is not safe for concurrent use.
type Awareness struct {
	cfg     Config
	log     logrus.FieldLogger
	heights HeightProvider

	// Horizontal plane is (x, y); index 2 is height.
	bmin, bmax mgl64.Vec3

	cs        float64
	tileWorld float64
	border    int
	tilesX    int
	tilesY    int

	cache *tileCache
	mesh  map[tileKey]*navTile

	// aware counts the areas covering each tile.
	aware        map[tileKey]int
	dirtyAware   *linkedSet[tileKey]
	dirtyUnaware map[tileKey]struct{}
	// active holds every tile with cached data, most recently used first.
	active *linkedSet[tileKey]
	areas  map[string]map[tileKey]struct{}

	entities   map[string]*entityEntry
	moving     map[string]struct{}
	footprints map[string]RotBox2

	observers int
	desired   int

	listeners []TileListener
}

type Option func(*Awareness)

func WithLogger(l logrus.FieldLogger) Option {
	return func(a *Awareness) {
		if l != nil {
			a.log = l
		}
	}
}

func WithListener(l TileListener) Option {
	return func(a *Awareness) { a.Subscribe(l) }
}

// New sizes the tile grid over extent and prepares an empty tile cache. No
// tile is built until an awareness area covers it.
func New(cfg Config, heights HeightProvider, extent Box3, opts ...Option) (*Awareness, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if heights == nil {
		return nil, fmt.Errorf("%w: nil height provider", ErrInvalidConfig)
	}
	if !extent.Valid() || extent.Max[0] <= extent.Min[0] || extent.Max[1] <= extent.Min[1] {
		return nil, fmt.Errorf("%w: empty or invalid extent", ErrInvalidConfig)
	}

	a := &Awareness{
		cfg:          cfg,
		log:          logrus.StandardLogger(),
		heights:      heights,
		bmin:         extent.Min,
		bmax:         extent.Max,
		cs:           cfg.cellSize(),
		tileWorld:    cfg.tileWorldSize(),
		border:       cfg.borderSize(),
		mesh:         map[tileKey]*navTile{},
		aware:        map[tileKey]int{},
		dirtyAware:   newLinkedSet[tileKey](),
		dirtyUnaware: map[tileKey]struct{}{},
		active:       newLinkedSet[tileKey](),
		areas:        map[string]map[tileKey]struct{}{},
		entities:     map[string]*entityEntry{},
		moving:       map[string]struct{}{},
		footprints:   map[string]RotBox2{},
		desired:      cfg.BaseTileAmount,
	}
	a.tilesX = int(math.Ceil((a.bmax[0] - a.bmin[0]) / a.tileWorld))
	a.tilesY = int(math.Ceil((a.bmax[1] - a.bmin[1]) / a.tileWorld))
	if a.tilesX <= 0 || a.tilesY <= 0 {
		return nil, fmt.Errorf("%w: extent smaller than a tile", ErrInvalidConfig)
	}

	maxTiles := mathx.NextPow2(a.tilesX * a.tilesY * expectedLayersPerTile)
	if maxTiles > 1<<maxTileBits {
		maxTiles = 1 << maxTileBits
	}
	cache, err := newTileCache(maxTiles)
	if err != nil {
		return nil, err
	}
	a.cache = cache

	for _, opt := range opts {
		opt(a)
	}
	a.log.WithFields(logrus.Fields{
		"tiles_x":    a.tilesX,
		"tiles_y":    a.tilesY,
		"max_tiles":  maxTiles,
		"cell_size":  a.cs,
		"tile_world": a.tileWorld,
	}).Debug("awareness created")
	return a, nil
}

func (a *Awareness) Close() {
	if a.cache != nil {
		a.cache.close()
	}
}

func (a *Awareness) TileSizeInMeters() float64 { return a.tileWorld }

func (a *Awareness) tileBounds(tx, ty int) Box2 {
	x := a.bmin[0] + float64(tx)*a.tileWorld
	y := a.bmin[1] + float64(ty)*a.tileWorld
	return Box2{Min: mgl64.Vec2{x, y}, Max: mgl64.Vec2{x + a.tileWorld, y + a.tileWorld}}
}

func (a *Awareness) borderedTileBounds(tx, ty int) Box2 {
	return a.tileBounds(tx, ty).Expand(float64(a.border) * a.cs)
}

// tileRange returns the inclusive tile index range covering b clamped to the
// world extent.
func (a *Awareness) tileRange(b Box2) (tx0, ty0, tx1, ty1 int) {
	clampX := func(v float64) float64 { return math.Min(math.Max(v, a.bmin[0]), a.bmax[0]) }
	clampY := func(v float64) float64 { return math.Min(math.Max(v, a.bmin[1]), a.bmax[1]) }
	idx := func(v, min float64, n int) int {
		return mathx.ClampInt(int((v-min)/a.tileWorld), 0, n-1)
	}
	tx0 = idx(clampX(b.Min[0]), a.bmin[0], a.tilesX)
	tx1 = idx(clampX(b.Max[0]), a.bmin[0], a.tilesX)
	ty0 = idx(clampY(b.Min[1]), a.bmin[1], a.tilesY)
	ty1 = idx(clampY(b.Max[1]), a.bmin[1], a.tilesY)
	return
}

// SetAwarenessArea makes the tiles under area aware on behalf of id,
// replacing whatever id covered before. Dirty tiles crossed by focus are
// queued ahead of the others.
func (a *Awareness) SetAwarenessArea(id string, area RotBox2, focus *Segment2) {
	old := a.areas[id]
	next := map[tileKey]struct{}{}
	wasDirty := a.dirtyAware.Len() > 0
	useFocus := focus != nil && focus.Valid()

	tx0, ty0, tx1, ty1 := a.tileRange(area.BoundingBox())
	for tx := tx0; tx <= tx1; tx++ {
		for ty := ty0; ty <= ty1; ty++ {
			bounds := a.borderedTileBounds(tx, ty)
			if !area.IntersectsBox(bounds) {
				continue
			}
			k := tileKey{tx, ty}
			next[k] = struct{}{}

			_, unaware := a.dirtyUnaware[k]
			if a.dirtyAware.Contains(k) || unaware || !a.cache.has(tx, ty, 0) {
				if useFocus && focus.IntersectsBox(bounds) {
					a.dirtyAware.PushFront(k)
				} else {
					a.dirtyAware.PushBack(k)
				}
			}
			delete(a.dirtyUnaware, k)

			if _, had := old[k]; had {
				delete(old, k)
			} else {
				a.aware[k]++
			}
			a.active.Touch(k)
		}
	}

	a.returnAwareTiles(old)
	a.areas[id] = next

	a.log.WithFields(logrus.Fields{
		"area":          id,
		"dirty_unaware": len(a.dirtyUnaware),
		"dirty_aware":   a.dirtyAware.Len(),
		"aware":         len(a.aware),
	}).Trace("awareness area set")

	if !wasDirty && a.dirtyAware.Len() > 0 {
		a.emitDirty()
	}
}

func (a *Awareness) returnAwareTiles(tiles map[tileKey]struct{}) {
	for k := range tiles {
		n, ok := a.aware[k]
		if !ok {
			continue
		}
		if n > 1 {
			a.aware[k] = n - 1
			continue
		}
		delete(a.aware, k)
		if a.dirtyAware.Remove(k) {
			a.dirtyUnaware[k] = struct{}{}
		}
	}
}

func (a *Awareness) RemoveAwarenessArea(id string) {
	tiles, ok := a.areas[id]
	if !ok {
		return
	}
	a.returnAwareTiles(tiles)
	delete(a.areas, id)
}

// ReadyTilesInArea counts the tiles of area id that are not awaiting a rebuild.
func (a *Awareness) ReadyTilesInArea(id string) int {
	n := 0
	for k := range a.areas[id] {
		if !a.dirtyAware.Contains(k) {
			n++
		}
	}
	return n
}

// MarkTilesAsDirty invalidates every tile whose bordered bounds touch area.
func (a *Awareness) MarkTilesAsDirty(area Box2) {
	if !area.Valid() {
		return
	}
	wasDirty := a.dirtyAware.Len() > 0
	tx0, ty0, tx1, ty1 := a.tileRange(area.Expand(float64(a.border) * a.cs))
	for tx := tx0; tx <= tx1; tx++ {
		for ty := ty0; ty <= ty1; ty++ {
			if !area.Intersects(a.borderedTileBounds(tx, ty)) {
				continue
			}
			k := tileKey{tx, ty}
			if _, ok := a.aware[k]; ok {
				a.dirtyAware.PushBack(k)
			} else {
				a.dirtyUnaware[k] = struct{}{}
			}
		}
	}
	if !wasDirty && a.dirtyAware.Len() > 0 {
		a.emitDirty()
	}
}

// RebuildDirtyTile rebuilds the first queued aware tile and returns how many
// aware tiles remain dirty.
func (a *Awareness) RebuildDirtyTile() int {
	k, ok := a.dirtyAware.Front()
	if !ok {
		return 0
	}
	a.dirtyAware.Remove(k)

	bounds := a.borderedTileBounds(k.X, k.Y)
	var ids []string
	for id, fp := range a.footprints {
		if fp.IntersectsBox(bounds) {
			ids = append(ids, id)
		}
	}
	// Sorted so the same footprints survive the cap on every rebuild.
	sort.Strings(ids)
	fps := make([]RotBox2, 0, len(ids))
	for _, id := range ids {
		if len(fps) >= a.cfg.MaxObstacles {
			a.log.WithFields(logrus.Fields{"tx": k.X, "ty": k.Y, "entity": id}).Warn("too many obstacles in tile, skipping footprint")
			continue
		}
		fps = append(fps, a.footprints[id])
	}
	a.rebuildTile(k.X, k.Y, fps)
	return a.dirtyAware.Len()
}

func (a *Awareness) rebuildTile(tx, ty int, fps []RotBox2) {
	layer := a.rasterizeTile(tx, ty, fps)
	if err := a.cache.put(layer); err != nil {
		fields := logrus.Fields{"tx": tx, "ty": ty}
		if errors.Is(err, ErrTileCacheFull) {
			fields["layers"] = a.cache.layerCount()
		}
		a.log.WithFields(fields).WithError(err).Warn("failed to add tile in awareness")
	}
	a.buildNavMeshTile(tx, ty)
	a.emitRebuilt(tx, ty)
}

// buildNavMeshTile replaces the queryable tile at (tx, ty) with whatever the
// cache holds for it.
func (a *Awareness) buildNavMeshTile(tx, ty int) {
	k := tileKey{tx, ty}
	l, err := a.cache.get(tx, ty, 0)
	if err != nil {
		a.log.WithFields(logrus.Fields{"tx": tx, "ty": ty}).WithError(err).Warn("failed to build nav mesh tile in awareness")
		delete(a.mesh, k)
		return
	}
	if l == nil {
		delete(a.mesh, k)
		return
	}
	a.mesh[k] = newNavTile(l)
}

// NeedsPruning reports whether more tiles are cached than both the aware set
// and the desired budget call for.
func (a *Awareness) NeedsPruning() bool {
	n := a.active.Len()
	return n > len(a.aware) && n > a.desired
}

// PruneTiles evicts the least recently used tile that no area covers.
func (a *Awareness) PruneTiles() {
	if !a.NeedsPruning() {
		return
	}
	k, ok := a.active.PopBackWhere(func(k tileKey) bool {
		_, aware := a.aware[k]
		return aware
	})
	if !ok {
		return
	}
	for _, layer := range a.cache.layersAt(k.X, k.Y) {
		a.cache.remove(k.X, k.Y, layer)
		a.emitEvicted(k.X, k.Y, layer)
	}
	delete(a.mesh, k)
}

func (a *Awareness) SetDesiredTilesAmount(n int) { a.desired = n }

func (a *Awareness) DesiredTilesAmount() int { return a.desired }

func (a *Awareness) AddObserver() {
	a.observers++
	a.recomputeDesired()
}

func (a *Awareness) RemoveObserver() {
	if a.observers > 0 {
		a.observers--
	}
	a.recomputeDesired()
}

// Each observer past the first grows the budget by ObserverScale of the base.
func (a *Awareness) recomputeDesired() {
	base := float64(a.cfg.BaseTileAmount)
	if a.observers == 0 {
		a.desired = a.cfg.BaseTileAmount
		return
	}
	a.desired = int(base + float64(a.observers-1)*base*a.cfg.observerScale())
}

// IsPositionAware reports whether the tile containing (x, y) is covered by
// an awareness area.
func (a *Awareness) IsPositionAware(x, y float64) bool {
	tx := int(math.Floor((x - a.bmin[0]) / a.tileWorld))
	ty := int(math.Floor((y - a.bmin[1]) / a.tileWorld))
	_, ok := a.aware[tileKey{tx, ty}]
	return ok
}

// VisitTile decodes each cached layer of tile (tx, ty) and hands it to fn.
func (a *Awareness) VisitTile(tx, ty int, fn func(*TileLayer)) error {
	for _, layer := range a.cache.layersAt(tx, ty) {
		l, err := a.cache.get(tx, ty, layer)
		if err != nil {
			return err
		}
		if l != nil {
			fn(l)
		}
	}
	return nil
}

// VisitTiles visits every cached tile whose bounds intersect area.
func (a *Awareness) VisitTiles(area Box2, fn func(*TileLayer)) error {
	if !area.Valid() {
		return nil
	}
	tx0, ty0, tx1, ty1 := a.tileRange(area)
	for ty := ty0; ty <= ty1; ty++ {
		for tx := tx0; tx <= tx1; tx++ {
			if !area.Intersects(a.tileBounds(tx, ty)) {
				continue
			}
			if err := a.VisitTile(tx, ty, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

type Stats struct {
	AwareTiles   int `json:"aware_tiles"`
	DirtyAware   int `json:"dirty_aware_tiles"`
	DirtyUnaware int `json:"dirty_unaware_tiles"`
	ActiveTiles  int `json:"active_tiles"`
	CachedLayers int `json:"cached_layers"`
	CachedBytes  int `json:"cached_bytes"`
	Entities     int `json:"entities"`
	Moving       int `json:"moving_entities"`
	Footprints   int `json:"footprints"`
	Observers    int `json:"observers"`
	DesiredTiles int `json:"desired_tiles"`
	NavMeshTiles int `json:"navmesh_tiles"`
	AreasTracked int `json:"areas"`
}

func (a *Awareness) Stats() Stats {
	return Stats{
		AwareTiles:   len(a.aware),
		DirtyAware:   a.dirtyAware.Len(),
		DirtyUnaware: len(a.dirtyUnaware),
		ActiveTiles:  a.active.Len(),
		CachedLayers: a.cache.layerCount(),
		CachedBytes:  a.cache.bytes,
		Entities:     len(a.entities),
		Moving:       len(a.moving),
		Footprints:   len(a.footprints),
		Observers:    a.observers,
		DesiredTiles: a.desired,
		NavMeshTiles: len(a.mesh),
		AreasTracked: len(a.areas),
	}
}
