package nav

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/sirupsen/logrus"
)

// AddEntity records that observerID can see e. The first observation creates
// the entry; isDynamic entities start out in the moving set.
func (a *Awareness) AddEntity(observerID string, e Entity, isDynamic bool) {
	entry, ok := a.entities[e.ID]
	if !ok {
		entry = &entityEntry{
			id:        e.ID,
			observers: 1,
			ignored:   !e.hasBBox(),
			moving:    isDynamic,
			dynamic:   isDynamic,
		}
		if isDynamic {
			a.moving[e.ID] = struct{}{}
		}
		a.entities[e.ID] = entry
		a.log.WithField("entity", e.ID).Trace("creating awareness entry")
	} else {
		entry.observers++
	}

	if e.ID == observerID {
		entry.actorOwned = true
	}
	// Owned entities only report their own movement.
	if !entry.actorOwned || e.ID == observerID {
		a.processMovementChange(entry, e.Location)
	}
}

// UpdateEntityMovement is called when the position, orientation, velocity or
// size of an observed entity changes.
func (a *Awareness) UpdateEntityMovement(observerID string, e Entity) {
	entry, ok := a.entities[e.ID]
	if !ok {
		return
	}
	if entry.actorOwned && entry.id != observerID {
		return
	}
	if entry.ignored && e.hasBBox() {
		a.log.WithField("entity", e.ID).Trace("stopped ignoring entity")
		entry.ignored = false
	}
	a.processMovementChange(entry, e.Location)
}

// RemoveEntity drops one observation of entityID. Ignored entities are
// released with their last observer. Solid ones stay in the navmesh unless
// ReleaseUnobservedSolids is set.
func (a *Awareness) RemoveEntity(observerID, entityID string) {
	entry, ok := a.entities[entityID]
	if !ok {
		return
	}
	if entry.observers == 0 {
		a.log.WithField("entity", entityID).Warn("entity entry observer count would drop below zero")
		return
	}
	entry.observers--
	if observerID == entityID {
		entry.actorOwned = false
	}
	if entry.observers > 0 {
		return
	}
	if entry.ignored || a.cfg.ReleaseUnobservedSolids {
		if entry.moving {
			delete(a.moving, entityID)
		} else {
			a.dropFootprint(entityID)
		}
		delete(a.entities, entityID)
	}
}

func (a *Awareness) processMovementChange(entry *entityEntry, loc Location) {
	switch {
	case entry.moving:
		entry.loc = loc
		// Objects set in motion become static obstacles again once at rest.
		if !entry.dynamic && !loc.moving() && !entry.ignored && loc.hasBBox() {
			entry.moving = false
			delete(a.moving, entry.id)
			a.placeFootprint(entry)
		}

	case entry.ignored:
		entry.loc = loc

	case !loc.hasBBox():
		a.log.WithField("entity", entry.id).Trace("ignoring entity without bbox")
		entry.loc = loc
		entry.ignored = true
		a.dropFootprint(entry.id)

	case !sameLocation(entry.loc, loc):
		entry.loc = loc
		if loc.moving() {
			a.moving[entry.id] = struct{}{}
			entry.moving = true
			a.dropFootprint(entry.id)
			return
		}
		a.placeFootprint(entry)
	}
}

// placeFootprint carves the entity's current footprint, invalidating both the
// tiles it covered before and the ones it covers now.
func (a *Awareness) placeFootprint(entry *entityEntry) {
	fp, ok := entry.loc.footprint(a.cfg.AgentRadius)
	if !ok || !entry.solid() {
		a.dropFootprint(entry.id)
		return
	}
	a.MarkTilesAsDirty(fp.BoundingBox())
	if old, had := a.footprints[entry.id]; had {
		a.MarkTilesAsDirty(old.BoundingBox())
	}
	a.footprints[entry.id] = fp
	a.log.WithFields(logrus.Fields{
		"entity":        entry.id,
		"dirty_unaware": len(a.dirtyUnaware),
		"dirty_aware":   a.dirtyAware.Len(),
	}).Trace("entity footprint updated")
}

func (a *Awareness) dropFootprint(id string) {
	old, ok := a.footprints[id]
	if !ok {
		return
	}
	a.MarkTilesAsDirty(old.BoundingBox())
	delete(a.footprints, id)
}

// ProjectPosition extrapolates the last known position of id to time now.
func (a *Awareness) ProjectPosition(id string, now float64) (mgl64.Vec3, bool) {
	e, ok := a.entities[id]
	if !ok {
		return mgl64.Vec3{}, false
	}
	if !finite3(e.loc.Velocity) {
		return e.loc.Pos, true
	}
	return e.loc.Project(now), true
}

// TrackedEntity returns the last known state of id.
func (a *Awareness) TrackedEntity(id string) (Entity, bool) {
	e, ok := a.entities[id]
	if !ok {
		return Entity{}, false
	}
	return Entity{ID: e.id, Location: e.loc}, true
}

// ObserverCount reports how many observers currently see id.
func (a *Awareness) ObserverCount(id string) int {
	if e, ok := a.entities[id]; ok {
		return e.observers
	}
	return 0
}

// IsMoving reports whether id is tracked as a moving obstacle.
func (a *Awareness) IsMoving(id string) bool {
	_, ok := a.moving[id]
	return ok
}

// HasFootprint reports whether id is carved into the navmesh.
func (a *Awareness) HasFootprint(id string) bool {
	_, ok := a.footprints[id]
	return ok
}
