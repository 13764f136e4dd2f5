package nav

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Location is the last observed motion state of an entity, in caller space
// (z up). BBox is relative to Pos and unrotated.
type Location struct {
	Pos         mgl64.Vec3
	Orientation mgl64.Quat
	Velocity    mgl64.Vec3
	BBox        *Box3
	Solid       bool
	// Timestamp is the simulation time, in seconds, the state was observed at.
	Timestamp float64
}

// Entity is a snapshot handed to observers of the awareness.
type Entity struct {
	ID string
	Location
}

func (l Location) hasBBox() bool { return l.BBox != nil && l.BBox.Valid() }

func (l Location) posValid() bool { return finite3(l.Pos) }

func (l Location) orientationValid() bool {
	q := l.Orientation
	if math.IsNaN(q.W) || math.IsInf(q.W, 0) || !finite3(q.V) {
		return false
	}
	return q.Len() > 1e-9
}

func (l Location) moving() bool {
	return l.Velocity[0] != 0 || l.Velocity[1] != 0 || l.Velocity[2] != 0
}

// Project extrapolates the position to time now.
func (l Location) Project(now float64) mgl64.Vec3 {
	return l.Pos.Add(l.Velocity.Mul(now - l.Timestamp))
}

// heading returns the yaw of the orientation on the horizontal plane.
func (l Location) heading() float64 {
	x := l.Orientation.Normalize().Rotate(mgl64.Vec3{1, 0, 0})
	return math.Atan2(x[1], x[0])
}

// footprint is the obstacle the entity cuts out of the navmesh: its bbox
// grown by the agent radius, rotated by its heading. ok is false when the
// entity cannot be placed.
func (l Location) footprint(agentRadius float64) (RotBox2, bool) {
	if !l.hasBBox() || !l.posValid() || !l.orientationValid() {
		return RotBox2{}, false
	}
	lo := mgl64.Vec2{l.BBox.Min[0] - agentRadius, l.BBox.Min[1] - agentRadius}
	hi := mgl64.Vec2{l.BBox.Max[0] + agentRadius, l.BBox.Max[1] + agentRadius}
	theta := l.heading()
	s, c := math.Sincos(theta)
	rlo := mgl64.Vec2{c*lo[0] - s*lo[1], s*lo[0] + c*lo[1]}
	return RotBox2{
		Corner: mgl64.Vec2{l.Pos[0], l.Pos[1]}.Add(rlo),
		Size:   hi.Sub(lo),
		Theta:  theta,
	}, true
}

// radius bounds the horizontal extent of the bbox around Pos.
func (l Location) radius() float64 {
	if !l.hasBBox() {
		return 0
	}
	bx := math.Max(math.Abs(l.BBox.Min[0]), math.Abs(l.BBox.Max[0]))
	by := math.Max(math.Abs(l.BBox.Min[1]), math.Abs(l.BBox.Max[1]))
	return math.Hypot(bx, by)
}

func sameLocation(a, b Location) bool {
	if a.Pos != b.Pos || a.Orientation != b.Orientation || a.Velocity != b.Velocity || a.Solid != b.Solid {
		return false
	}
	if (a.BBox == nil) != (b.BBox == nil) {
		return false
	}
	return a.BBox == nil || *a.BBox == *b.BBox
}

type entityEntry struct {
	id        string
	loc       Location
	observers int
	// moving entities are avoided, not carved into the navmesh.
	moving bool
	// ignored entities have no usable bbox and never become footprints.
	ignored    bool
	actorOwned bool
	// dynamic entities (creatures) never settle into the navmesh.
	dynamic bool
}

func (e *entityEntry) solid() bool { return e.loc.hasBBox() && e.loc.Solid }
