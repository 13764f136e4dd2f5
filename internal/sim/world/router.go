package world

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/sirupsen/logrus"

	"worldsim.ai/internal/protocol"
	"worldsim.ai/internal/sim/dispatch"
)

var errNoEntity = errors.New("no such entity")

// route is the dispatcher's processor. Operations addressed to another
// entity are delivered to its client; the rest are handled by type.
func (w *World) route(op *protocol.Operation, from dispatch.Entity) error {
	err := w.routeOp(op)
	if w.dispatchLogger != nil {
		entry := DispatchEntry{Seconds: op.Time(), Op: *op}
		if err != nil {
			entry.Error = err.Error()
		}
		if lerr := w.dispatchLogger.WriteDispatch(entry); lerr != nil {
			w.log.WithError(lerr).Warn("dispatch log write failed")
		}
	}
	return err
}

func (w *World) routeOp(op *protocol.Operation) error {
	if op.To != "" && op.To != w.cfg.ID {
		w.deliver(op)
		return nil
	}
	switch op.Type {
	case protocol.OpCreate:
		return w.opCreate(op)
	case protocol.OpMove:
		return w.opMove(op)
	case protocol.OpDelete:
		return w.opDelete(op)
	case protocol.OpSight:
		return w.opSight(op)
	case protocol.OpPath:
		return w.opPath(op)
	case protocol.OpAvoid:
		return w.opAvoid(op)
	case protocol.OpTick:
		return w.opTick(op)
	case protocol.OpInfo:
		return w.opInfo(op)
	}
	w.sendError(op.From, op.Serial, protocol.ErrUnknownOp, fmt.Sprintf("unknown operation %q", op.Type))
	return fmt.Errorf("unknown operation type %q", op.Type)
}

// fail answers the sender with an error op and returns err for the dispatcher log.
func (w *World) fail(op *protocol.Operation, code string, err error) error {
	w.sendError(op.From, op.Serial, code, err.Error())
	return err
}

func (w *World) opCreate(op *protocol.Operation) error {
	var a protocol.EntityArgs
	if err := op.DecodeArgs(&a); err != nil {
		return w.fail(op, protocol.ErrBadRequest, err)
	}
	id := a.ID
	if id == "" {
		id = op.From
	}
	if _, err := w.createEntity(id, a); err != nil {
		return w.fail(op, protocol.ErrInvalidTarget, err)
	}
	return nil
}

func (w *World) opMove(op *protocol.Operation) error {
	var a protocol.EntityArgs
	if err := op.DecodeArgs(&a); err != nil {
		return w.fail(op, protocol.ErrBadRequest, err)
	}
	id := a.ID
	if id == "" {
		id = op.From
	}
	e := w.entities[id]
	if e == nil {
		return w.fail(op, protocol.ErrInvalidTarget, fmt.Errorf("move %s: %w", id, errNoEntity))
	}
	w.moveEntity(e, a)
	return nil
}

func (w *World) opDelete(op *protocol.Operation) error {
	var a protocol.DeleteArgs
	if len(op.Args) > 0 {
		if err := op.DecodeArgs(&a); err != nil {
			return w.fail(op, protocol.ErrBadRequest, err)
		}
	}
	id := a.ID
	if id == "" {
		id = op.From
	}
	if _, ok := w.entities[id]; !ok {
		return w.fail(op, protocol.ErrInvalidTarget, fmt.Errorf("delete %s: %w", id, errNoEntity))
	}
	w.deleteEntity(id)
	return nil
}

func (w *World) opSight(op *protocol.Operation) error {
	var a protocol.SightArgs
	if err := op.DecodeArgs(&a); err != nil {
		return w.fail(op, protocol.ErrBadRequest, err)
	}
	e := w.entities[op.From]
	if e == nil || !e.observer {
		return w.fail(op, protocol.ErrInvalidTarget, fmt.Errorf("sight: %s is not an observer", op.From))
	}
	if !(a.Radius > 0) {
		return w.fail(op, protocol.ErrBadRequest, fmt.Errorf("sight: radius must be > 0"))
	}
	e.sightRadius = a.Radius
	w.updateSight(e)
	return nil
}

func (w *World) opPath(op *protocol.Operation) error {
	var a protocol.PathArgs
	if err := op.DecodeArgs(&a); err != nil {
		return w.fail(op, protocol.ErrBadRequest, err)
	}
	e := w.entities[op.From]
	if e == nil {
		return w.fail(op, protocol.ErrInvalidTarget, fmt.Errorf("path: %s: %w", op.From, errNoEntity))
	}
	start := e.loc.Project(w.clock())
	pts, st := w.aware.FindPath(start, mgl64.Vec3(a.Target), a.Radius)
	res := protocol.PathResultArgs{Status: int(st)}
	if !st.OK() {
		res.Reason = st.String()
	}
	for _, p := range pts {
		res.Points = append(res.Points, [3]float64(p))
	}
	w.reply(op, protocol.OpPathResult, res)
	return nil
}

func (w *World) opAvoid(op *protocol.Operation) error {
	var a protocol.AvoidArgs
	if err := op.DecodeArgs(&a); err != nil {
		return w.fail(op, protocol.ErrBadRequest, err)
	}
	e := w.entities[op.From]
	if e == nil {
		return w.fail(op, protocol.ErrInvalidTarget, fmt.Errorf("avoid: %s: %w", op.From, errNoEntity))
	}
	now := w.clock()
	p := e.loc.Project(now)
	desired := mgl64.Vec2(a.Velocity)
	v, adjusted := w.aware.AvoidObstacles(e.id, mgl64.Vec2{p[0], p[1]}, desired, now)
	if !adjusted {
		v = desired
	}
	w.reply(op, protocol.OpAvoidResult, protocol.AvoidResultArgs{Adjusted: adjusted, Velocity: [2]float64(v)})
	return nil
}

// opTick echoes a tick back to the sender and reschedules itself while
// Count allows.
func (w *World) opTick(op *protocol.Operation) error {
	var a protocol.TickArgs
	if len(op.Args) > 0 {
		if err := op.DecodeArgs(&a); err != nil {
			return w.fail(op, protocol.ErrBadRequest, err)
		}
	}
	w.reply(op, protocol.OpTick, a)
	if a.Count > 1 && a.Every > 0 {
		next := protocol.MustOperation(protocol.OpTick, protocol.TickArgs{Every: a.Every, Count: a.Count - 1})
		next.Serial = op.Serial
		next.SetFutureSeconds(a.Every)
		var from dispatch.Entity = origin(op.From)
		if e := w.entities[op.From]; e != nil {
			from = e
		}
		w.disp.Enqueue(next, from)
	}
	return nil
}

func (w *World) opInfo(op *protocol.Operation) error {
	var a protocol.InfoArgs
	if len(op.Args) > 0 {
		if err := op.DecodeArgs(&a); err != nil {
			return w.fail(op, protocol.ErrBadRequest, err)
		}
	}
	id := a.ID
	if id == "" {
		id = op.From
	}
	e := w.entities[id]
	if e == nil {
		return w.fail(op, protocol.ErrInvalidTarget, fmt.Errorf("info %s: %w", id, errNoEntity))
	}
	w.reply(op, protocol.OpInfo, protocol.InfoArgs{
		ID:       e.id,
		Pos:      [3]float64(e.loc.Pos),
		Velocity: [3]float64(e.loc.Velocity),
		Solid:    e.loc.Solid,
		Aware:    w.aware.IsPositionAware(e.loc.Pos[0], e.loc.Pos[1]),
	})
	return nil
}

func (w *World) reply(op *protocol.Operation, typ string, args any) {
	r, err := op.Reply(typ, args)
	if err != nil {
		w.log.WithError(err).WithField("op", typ).Error("building reply")
		return
	}
	r.From = w.cfg.ID
	r.Serial = w.serial()
	r.SetSeconds(w.clock())
	w.deliver(r)
}

func (w *World) sendError(to string, refno int64, code, msg string) {
	if to == "" || to == w.cfg.ID {
		return
	}
	r := protocol.MustOperation(protocol.OpError, protocol.ErrorArgs{Code: code, Message: msg})
	r.From = w.cfg.ID
	r.To = to
	r.Refno = refno
	r.Serial = w.serial()
	r.SetSeconds(w.clock())
	w.deliver(r)
}

// deliver sends op to the client controlling op.To. Operations for entities
// without a connected client are dropped.
func (w *World) deliver(op *protocol.Operation) {
	c := w.clients[op.To]
	if c == nil {
		w.log.WithFields(logrus.Fields{"op": op.Type, "to": op.To}).Debug("no client for operation")
		return
	}
	b, err := json.Marshal(protocol.OpMsg{
		Type:            protocol.TypeOp,
		ProtocolVersion: protocol.Version,
		Op:              *op,
	})
	if err != nil {
		w.log.WithError(err).Error("encoding operation")
		return
	}
	w.send(c, b)
}

func (w *World) send(c *client, b []byte) {
	select {
	case c.out <- b:
	default:
		w.dropped++
	}
}

func (w *World) tileEvent(kind string, tx, ty, layer int) {
	now := w.clock()
	if w.tileLogger != nil {
		if err := w.tileLogger.WriteTileEvent(TileLogEntry{Seconds: now, Kind: kind, TX: tx, TY: ty, Layer: layer}); err != nil {
			w.log.WithError(err).Warn("tile log write failed")
		}
	}
	var b []byte
	for _, id := range sortedKeys(w.clients) {
		c := w.clients[id]
		if !c.tileEvents {
			continue
		}
		if b == nil {
			var err error
			b, err = json.Marshal(protocol.TileEventMsg{
				Type:            protocol.TypeTileEvent,
				ProtocolVersion: protocol.Version,
				Kind:            kind,
				TX:              tx,
				TY:              ty,
				Layer:           layer,
			})
			if err != nil {
				w.log.WithError(err).Error("encoding tile event")
				return
			}
		}
		w.send(c, b)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
