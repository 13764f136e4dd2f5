package protocol

import (
	"encoding/json"
	"fmt"
)

// Operation types understood by the world router.
const (
	OpCreate      = "create"
	OpMove        = "move"
	OpDelete      = "delete"
	OpSight       = "sight"
	OpPath        = "path"
	OpPathResult  = "path_result"
	OpAvoid       = "avoid"
	OpAvoidResult = "avoid_result"
	OpTick        = "tick"
	OpInfo        = "info"
	OpError       = "error"
)

// CheatOrigin is reserved and must never be carried by a queued operation.
const CheatOrigin = "cheat"

// Operation is a typed message scheduled on the world's dispatcher.
// Args is opaque to the dispatcher; only the router decodes it.
//
// Seconds is absolute simulation time. FutureSeconds is a relative offset
// that is converted to absolute time when the operation is enqueued.
type Operation struct {
	Type          string          `json:"type"`
	Serial        int64           `json:"serialno,omitempty"`
	Refno         int64           `json:"refno,omitempty"`
	From          string          `json:"from,omitempty"`
	To            string          `json:"to,omitempty"`
	Seconds       *float64        `json:"seconds,omitempty"`
	FutureSeconds *float64        `json:"future_seconds,omitempty"`
	Args          json.RawMessage `json:"args,omitempty"`
}

func NewOperation(typ string, args any) (*Operation, error) {
	op := &Operation{Type: typ}
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("%s args: %w", typ, err)
		}
		op.Args = b
	}
	return op, nil
}

// MustOperation is NewOperation for args that are known to marshal.
func MustOperation(typ string, args any) *Operation {
	op, err := NewOperation(typ, args)
	if err != nil {
		panic(err)
	}
	return op
}

func (op *Operation) DecodeArgs(v any) error {
	if len(op.Args) == 0 {
		return fmt.Errorf("%s: missing args", op.Type)
	}
	if err := json.Unmarshal(op.Args, v); err != nil {
		return fmt.Errorf("%s args: %w", op.Type, err)
	}
	return nil
}

func (op *Operation) SetSeconds(s float64) { op.Seconds = &s }

func (op *Operation) SetFutureSeconds(s float64) { op.FutureSeconds = &s }

// Time returns the absolute delivery time, or 0 when unset.
func (op *Operation) Time() float64 {
	if op == nil || op.Seconds == nil {
		return 0
	}
	return *op.Seconds
}

// Reply builds an operation addressed back to the sender of op.
func (op *Operation) Reply(typ string, args any) (*Operation, error) {
	r, err := NewOperation(typ, args)
	if err != nil {
		return nil, err
	}
	r.To = op.From
	r.Refno = op.Serial
	return r, nil
}

// EntityArgs describes an entity for create/move. Nil fields are left unchanged on move.
type EntityArgs struct {
	ID          string      `json:"id"`
	Pos         *[3]float64 `json:"pos,omitempty"`
	Orientation *[4]float64 `json:"orientation,omitempty"` // x, y, z, w
	Velocity    *[3]float64 `json:"velocity,omitempty"`
	BBox        *[6]float64 `json:"bbox,omitempty"` // lx, ly, lz, hx, hy, hz
	Solid       *bool       `json:"solid,omitempty"`
	Observer    bool        `json:"observer,omitempty"`
	SightRadius float64     `json:"sight_radius,omitempty"`
}

type DeleteArgs struct {
	ID string `json:"id"`
}

type SightArgs struct {
	Radius float64 `json:"radius"`
}

type PathArgs struct {
	Target [3]float64 `json:"target"`
	Radius float64    `json:"radius,omitempty"`
}

type PathResultArgs struct {
	Status int          `json:"status"`
	Reason string       `json:"reason,omitempty"`
	Points [][3]float64 `json:"points,omitempty"`
}

type AvoidArgs struct {
	Velocity [2]float64 `json:"velocity"`
}

type AvoidResultArgs struct {
	Adjusted bool       `json:"adjusted"`
	Velocity [2]float64 `json:"velocity"`
}

type TickArgs struct {
	Every float64 `json:"every,omitempty"`
	Count int     `json:"count,omitempty"`
}

type InfoArgs struct {
	ID       string     `json:"id"`
	Pos      [3]float64 `json:"pos"`
	Velocity [3]float64 `json:"velocity"`
	Solid    bool       `json:"solid"`
	Aware    bool       `json:"aware"`
}

type ErrorArgs struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
