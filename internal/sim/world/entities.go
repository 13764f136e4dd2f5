package world

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"worldsim.ai/internal/nav"
	"worldsim.ai/internal/protocol"
)

// Entity is a world object. Observers ("minds") additionally keep an
// awareness area around themselves and see every other entity.
type Entity struct {
	id          string
	loc         nav.Location
	observer    bool
	sightRadius float64
}

func (e *Entity) ID() string { return e.id }

func (e *Entity) snapshot() nav.Entity { return nav.Entity{ID: e.id, Location: e.loc} }

// apply copies the set fields of a into the entity.
func (e *Entity) apply(a protocol.EntityArgs, now float64) {
	if a.Pos != nil {
		e.loc.Pos = mgl64.Vec3(*a.Pos)
	}
	if a.Orientation != nil {
		o := *a.Orientation
		e.loc.Orientation = mgl64.Quat{W: o[3], V: mgl64.Vec3{o[0], o[1], o[2]}}
	}
	if a.Velocity != nil {
		e.loc.Velocity = mgl64.Vec3(*a.Velocity)
	}
	if a.BBox != nil {
		b := *a.BBox
		e.loc.BBox = &nav.Box3{
			Min: mgl64.Vec3{b[0], b[1], b[2]},
			Max: mgl64.Vec3{b[3], b[4], b[5]},
		}
	}
	if a.Solid != nil {
		e.loc.Solid = *a.Solid
	}
	if a.SightRadius > 0 {
		e.sightRadius = a.SightRadius
	}
	e.loc.Timestamp = now
}

func (e *Entity) pos2() mgl64.Vec2 { return mgl64.Vec2{e.loc.Pos[0], e.loc.Pos[1]} }

func (w *World) createEntity(id string, a protocol.EntityArgs) (*Entity, error) {
	if id == "" {
		return nil, fmt.Errorf("create: empty id")
	}
	if id == w.cfg.ID || id == protocol.CheatOrigin {
		return nil, fmt.Errorf("create: reserved id %q", id)
	}
	if _, exists := w.entities[id]; exists {
		return nil, fmt.Errorf("create: entity %s already exists", id)
	}
	e := &Entity{
		id:          id,
		loc:         nav.Location{Orientation: mgl64.QuatIdent(), Solid: true},
		observer:    a.Observer,
		sightRadius: w.cfg.DefaultSightRadius,
	}
	e.apply(a, w.clock())
	w.entities[id] = e

	snap := e.snapshot()
	for _, oid := range w.observers {
		w.aware.AddEntity(oid, snap, e.observer)
	}
	if e.observer {
		w.addObserverID(id)
		w.aware.AddObserver()
		for _, oid := range w.sortedEntityIDs() {
			other := w.entities[oid]
			w.aware.AddEntity(id, other.snapshot(), other.observer)
		}
		w.updateSight(e)
	}
	return e, nil
}

func (w *World) moveEntity(e *Entity, a protocol.EntityArgs) {
	e.apply(a, w.clock())
	snap := e.snapshot()
	for _, oid := range w.observers {
		w.aware.UpdateEntityMovement(oid, snap)
	}
	if e.observer {
		w.updateSight(e)
	}
}

func (w *World) deleteEntity(id string) {
	e, ok := w.entities[id]
	if !ok {
		return
	}
	if e.observer {
		for _, oid := range w.sortedEntityIDs() {
			w.aware.RemoveEntity(id, oid)
		}
		w.aware.RemoveAwarenessArea(id)
		w.aware.RemoveObserver()
		w.removeObserverID(id)
	}
	for _, oid := range w.observers {
		w.aware.RemoveEntity(oid, id)
	}
	delete(w.entities, id)
}

// updateSight recenters the observer's awareness area. The focus line points
// along its velocity so tiles ahead are built first.
func (w *World) updateSight(e *Entity) {
	r := e.sightRadius
	p := e.pos2()
	area := nav.AxisRotBox(nav.Box2{
		Min: p.Sub(mgl64.Vec2{r, r}),
		Max: p.Add(mgl64.Vec2{r, r}),
	})
	var focus *nav.Segment2
	v := mgl64.Vec2{e.loc.Velocity[0], e.loc.Velocity[1]}
	if l := v.Len(); l > 1e-9 {
		focus = &nav.Segment2{A: p, B: p.Add(v.Mul(r / l))}
	}
	w.aware.SetAwarenessArea(e.id, area, focus)
}

func (w *World) sortedEntityIDs() []string {
	return sortedKeys(w.entities)
}
