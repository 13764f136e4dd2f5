package main

import (
	"math/rand"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/sirupsen/logrus"

	"worldsim.ai/internal/protocol"
)

const arriveDist = 0.05

// walker wanders an observer around its home point, following paths
// requested from the world. Every tick reply advances it one step.
type walker struct {
	home   mgl64.Vec3
	pos    mgl64.Vec3
	wander float64
	speed  float64
	step   float64
	rng    *rand.Rand

	path    []mgl64.Vec3
	lastVel mgl64.Vec3
	pending bool
	serial  int64
}

func newWalker(home mgl64.Vec3, wander, speed, step float64, rng *rand.Rand) *walker {
	if step <= 0 {
		step = 0.5
	}
	return &walker{home: home, pos: home, wander: wander, speed: speed, step: step, rng: rng}
}

func (w *walker) op(typ string, args any) *protocol.Operation {
	w.serial++
	op := protocol.MustOperation(typ, args)
	op.Serial = w.serial
	return op
}

// start creates the observer entity and a repeating tick that drives it.
func (w *walker) start() []*protocol.Operation {
	solid := false
	pos := [3]float64(w.pos)
	return []*protocol.Operation{
		w.op(protocol.OpCreate, protocol.EntityArgs{
			Pos:      &pos,
			BBox:     &[6]float64{-0.3, -0.3, 0, 0.3, 0.3, 1.8},
			Solid:    &solid,
			Observer: true,
		}),
		w.op(protocol.OpTick, protocol.TickArgs{Every: w.step, Count: 1 << 30}),
	}
}

func (w *walker) handle(op *protocol.Operation, log logrus.FieldLogger) []*protocol.Operation {
	switch op.Type {
	case protocol.OpTick:
		return w.tick()
	case protocol.OpPathResult:
		var res protocol.PathResultArgs
		if err := op.DecodeArgs(&res); err != nil {
			log.WithError(err).Warn("path result")
			w.pending = false
			return nil
		}
		w.onPath(res)
		if res.Status < 0 {
			log.WithField("reason", res.Reason).Debug("no path")
		}
	case protocol.OpError:
		var e protocol.ErrorArgs
		_ = op.DecodeArgs(&e)
		log.WithFields(logrus.Fields{"code": e.Code, "refno": op.Refno}).Warn(e.Message)
	}
	return nil
}

func (w *walker) onPath(res protocol.PathResultArgs) {
	w.pending = false
	w.path = w.path[:0]
	if res.Status < 0 {
		return
	}
	for _, p := range res.Points {
		w.path = append(w.path, mgl64.Vec3(p))
	}
}

// tick moves along the current path, or asks for a new one when idle.
func (w *walker) tick() []*protocol.Operation {
	for len(w.path) > 0 && planarDist(w.path[0], w.pos) <= arriveDist {
		w.path = w.path[1:]
	}
	if len(w.path) == 0 {
		if w.pending {
			return nil
		}
		w.pending = true
		ops := []*protocol.Operation{}
		if w.moving() {
			ops = append(ops, w.moveOp(mgl64.Vec3{}))
		}
		target := w.home.Add(mgl64.Vec3{
			(w.rng.Float64()*2 - 1) * w.wander,
			(w.rng.Float64()*2 - 1) * w.wander,
			0,
		})
		return append(ops, w.op(protocol.OpPath, protocol.PathArgs{Target: [3]float64(target), Radius: 1}))
	}

	next := w.path[0]
	d := mgl64.Vec3{next[0] - w.pos[0], next[1] - w.pos[1], 0}
	l := d.Len()
	reach := w.speed * w.step
	if l <= reach {
		w.pos = next
		w.path = w.path[1:]
		return []*protocol.Operation{w.moveOp(d.Mul(1 / w.step))}
	}
	vel := d.Mul(w.speed / l)
	w.pos = w.pos.Add(vel.Mul(w.step))
	w.pos[2] = next[2]
	return []*protocol.Operation{w.moveOp(vel)}
}

func (w *walker) moving() bool { return w.lastVel.Len() > 0 }

func (w *walker) moveOp(vel mgl64.Vec3) *protocol.Operation {
	w.lastVel = vel
	pos := [3]float64(w.pos)
	v := [3]float64(vel)
	return w.op(protocol.OpMove, protocol.EntityArgs{Pos: &pos, Velocity: &v})
}

func planarDist(a, b mgl64.Vec3) float64 {
	return mgl64.Vec2{a[0] - b[0], a[1] - b[1]}.Len()
}
