package dispatch

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"worldsim.ai/internal/protocol"
)

const (
	DefaultBatchCap = 10
	// IdleCeiling is reported by SecondsUntilNextOp when nothing is queued.
	IdleCeiling = 600.0

	MonitorQueueDepth = "operations_queue"
)

// Processor handles one due operation. Returned errors and panics are
// logged by the dispatcher and never stop the batch.
type Processor func(op *protocol.Operation, from Entity) error

// Clock returns monotonic simulation seconds.
type Clock func() float64

type Monitor interface {
	Insert(name string, value int64)
}

type Option func(*Dispatcher)

func WithLogger(l logrus.FieldLogger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

func WithMonitor(m Monitor) Option {
	return func(d *Dispatcher) { d.monitor = m }
}

func WithTimeMultiplier(m float64) Option {
	return func(d *Dispatcher) {
		if m > 0 {
			d.timeMultiplier = m
		}
	}
}

func WithBatchCap(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchCap = n
		}
	}
}

// Dispatcher pulls due operations off the queue in time order and hands them
// to the processor. Not safe for concurrent use; the world goroutine owns it.
type Dispatcher struct {
	queue     Queue
	processor Processor
	clock     Clock
	monitor   Monitor
	log       logrus.FieldLogger

	timeMultiplier float64
	batchCap       int
	dirty          bool
}

func New(processor Processor, clock Clock, opts ...Option) *Dispatcher {
	if processor == nil {
		panic("dispatch: nil processor")
	}
	if clock == nil {
		panic("dispatch: nil clock")
	}
	d := &Dispatcher{
		processor:      processor,
		clock:          clock,
		log:            logrus.StandardLogger(),
		timeMultiplier: 1,
		batchCap:       DefaultBatchCap,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) Now() float64 { return d.clock() }

func (d *Dispatcher) TimeMultiplier() float64 { return d.timeMultiplier }

// Enqueue schedules op on behalf of from. An op with absolute Seconds keeps
// them; otherwise delivery is now, or now + FutureSeconds*multiplier.
func (d *Dispatcher) Enqueue(op *protocol.Operation, from Entity) {
	if op == nil {
		panic("dispatch: enqueue nil operation")
	}
	if from == nil {
		panic("dispatch: enqueue without origin entity")
	}
	if op.From == protocol.CheatOrigin {
		panic(fmt.Sprintf("dispatch: %s operation carries reserved origin %q", op.Type, protocol.CheatOrigin))
	}
	op.From = from.ID()

	if op.Seconds == nil {
		now := d.clock()
		if op.FutureSeconds != nil {
			op.SetSeconds(now + *op.FutureSeconds*d.timeMultiplier)
			op.FutureSeconds = nil
		} else {
			op.SetSeconds(now)
		}
	}
	d.queue.Push(op, from)
	d.dirty = true
}

// Idle dispatches at most batchCap due operations and reports whether more
// due work remains.
func (d *Dispatcher) Idle() bool {
	now := d.clock()
	for processed := 0; processed < d.batchCap; processed++ {
		top, _, ok := d.queue.Peek()
		if !ok || top.Time() > now {
			break
		}
		// Pop before processing; handlers may enqueue.
		op, from, _ := d.queue.Pop()
		op.SetSeconds(now)
		d.dispatch(op, from)
	}
	if d.monitor != nil {
		d.monitor.Insert(MonitorQueueDepth, int64(d.queue.Len()))
	}

	top, _, ok := d.queue.Peek()
	return ok && top.Time() <= d.clock()
}

func (d *Dispatcher) dispatch(op *protocol.Operation, from Entity) {
	defer func() {
		if r := recover(); r != nil {
			d.failure(op, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := d.processor(op, from); err != nil {
		d.failure(op, err)
	}
}

func (d *Dispatcher) failure(op *protocol.Operation, err error) {
	d.log.WithFields(logrus.Fields{
		"op":       op.Type,
		"from":     op.From,
		"to":       op.To,
		"serialno": op.Serial,
	}).WithError(err).Error("dispatching operation")
}

// SecondsUntilNextOp is 0 when work is due, the delay to the next operation
// otherwise, and IdleCeiling for an empty queue.
func (d *Dispatcher) SecondsUntilNextOp() float64 {
	top, _, ok := d.queue.Peek()
	if !ok {
		return IdleCeiling
	}
	diff := top.Time() - d.clock()
	if diff < 0 {
		return 0
	}
	return diff
}

func (d *Dispatcher) IsQueueDirty() bool { return d.dirty }

func (d *Dispatcher) MarkQueueAsClean() { d.dirty = false }

// Clear drops every queued operation, releasing the origin entities.
func (d *Dispatcher) Clear() {
	d.queue.Clear()
	if d.monitor != nil {
		d.monitor.Insert(MonitorQueueDepth, 0)
	}
}

func (d *Dispatcher) Len() int { return d.queue.Len() }
