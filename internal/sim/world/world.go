package world

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"worldsim.ai/internal/nav"
	"worldsim.ai/internal/protocol"
	"worldsim.ai/internal/sim/dispatch"
	"worldsim.ai/internal/sim/monitors"
	"worldsim.ai/internal/sim/tuning"
)

type Config struct {
	ID                 string
	TimeMultiplier     float64
	BatchCap           int
	IdleWaitCeiling    float64 // seconds
	RebuildsPerTick    int
	DefaultSightRadius float64
	Nav                nav.Config
	Extent             nav.Box3
}

func ConfigFromTuning(t tuning.Tuning) Config {
	return Config{
		ID:                 t.WorldID,
		TimeMultiplier:     t.TimeMultiplier,
		BatchCap:           t.BatchCap,
		IdleWaitCeiling:    t.IdleWaitCeilingSec,
		RebuildsPerTick:    t.RebuildsPerTick,
		DefaultSightRadius: t.DefaultSightRadius,
		Nav:                t.Nav,
		Extent:             t.Box(),
	}
}

type JoinRequest struct {
	SessionID  string
	Name       string
	TileEvents bool
	Out        chan []byte
	Resp       chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
}

// OpEnvelope is an operation injected by a connected client.
type OpEnvelope struct {
	EntityID string
	Op       protocol.Operation
}

// OpLogEntry records an injected operation after it was stamped with its
// origin and absolute delivery time.
type OpLogEntry struct {
	Seconds float64            `json:"seconds"`
	Op      protocol.Operation `json:"op"`
}

// DispatchEntry records an operation handed to the router.
type DispatchEntry struct {
	Seconds float64            `json:"seconds"`
	Op      protocol.Operation `json:"op"`
	Error   string             `json:"error,omitempty"`
}

type TileLogEntry struct {
	Seconds float64 `json:"seconds"`
	Kind    string  `json:"kind"`
	TX      int     `json:"tx"`
	TY      int     `json:"ty"`
	Layer   int     `json:"layer"`
}

type OpLogger interface {
	WriteOp(entry OpLogEntry) error
}

type DispatchLogger interface {
	WriteDispatch(entry DispatchEntry) error
}

type TileLogger interface {
	WriteTileEvent(entry TileLogEntry) error
}

type Option func(*World)

func WithLogger(l logrus.FieldLogger) Option {
	return func(w *World) {
		if l != nil {
			w.log = l
		}
	}
}

// WithClock replaces the wall clock. Replays and tests drive time manually.
func WithClock(c dispatch.Clock) Option {
	return func(w *World) { w.clock = c }
}

func WithMonitors(m *monitors.Monitors) Option {
	return func(w *World) {
		if m != nil {
			w.monitors = m
		}
	}
}

func WithOpLogger(l OpLogger) Option { return func(w *World) { w.opLogger = l } }

func WithDispatchLogger(l DispatchLogger) Option { return func(w *World) { w.dispatchLogger = l } }

func WithTileLogger(l TileLogger) Option { return func(w *World) { w.tileLogger = l } }

type client struct {
	sessionID  string
	entityID   string
	name       string
	tileEvents bool
	out        chan []byte
}

// World is a single-threaded operation-driven simulation.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg      Config
	log      logrus.FieldLogger
	clock    dispatch.Clock
	monitors *monitors.Monitors

	disp  *dispatch.Dispatcher
	aware *nav.Awareness

	entities  map[string]*Entity
	observers []string // sorted
	clients   map[string]*client

	inbox   chan OpEnvelope
	join    chan JoinRequest
	leave   chan string
	resetCh chan struct{}
	inspect chan inspectReq
	stop    chan struct{}

	nextClientNum uint64
	nextSerial    int64
	dropped       int64

	opLogger       OpLogger
	dispatchLogger DispatchLogger
	tileLogger     TileLogger
}

// origin identifies operations that are not sent by a world entity.
type origin string

func (o origin) ID() string { return string(o) }

func New(cfg Config, heights nav.HeightProvider, opts ...Option) (*World, error) {
	if cfg.ID == "" {
		return nil, errors.New("world: empty id")
	}
	if cfg.RebuildsPerTick <= 0 {
		cfg.RebuildsPerTick = 1
	}
	if cfg.IdleWaitCeiling <= 0 {
		cfg.IdleWaitCeiling = dispatch.IdleCeiling
	}
	if cfg.DefaultSightRadius <= 0 {
		cfg.DefaultSightRadius = 16
	}

	w := &World{
		cfg:      cfg,
		log:      logrus.StandardLogger(),
		monitors: monitors.New(),
		entities: map[string]*Entity{},
		clients:  map[string]*client{},
		inbox:    make(chan OpEnvelope, 1024),
		join:     make(chan JoinRequest, 64),
		leave:    make(chan string, 64),
		resetCh:  make(chan struct{}, 1),
		inspect:  make(chan inspectReq),
		stop:     make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	if w.clock == nil {
		start := time.Now()
		w.clock = func() float64 { return time.Since(start).Seconds() }
	}
	w.log = w.log.WithField("world", cfg.ID)

	aw, err := nav.New(cfg.Nav.Normalize(), heights, cfg.Extent,
		nav.WithLogger(w.log.WithField("component", "awareness")),
		nav.WithListener(nav.TileListenerFuncs{
			OnDirty:   func() { w.tileEvent(protocol.TileDirty, -1, -1, -1) },
			OnRebuilt: func(tx, ty int) { w.tileEvent(protocol.TileRebuilt, tx, ty, 0) },
			OnEvicted: func(tx, ty, layer int) { w.tileEvent(protocol.TileEvicted, tx, ty, layer) },
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("world %s: %w", cfg.ID, err)
	}
	w.aware = aw
	w.disp = dispatch.New(w.route, w.clock,
		dispatch.WithLogger(w.log.WithField("component", "dispatch")),
		dispatch.WithMonitor(w.monitors),
		dispatch.WithTimeMultiplier(cfg.TimeMultiplier),
		dispatch.WithBatchCap(cfg.BatchCap),
	)
	w.describeMonitors()
	return w, nil
}

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) Inbox() chan<- OpEnvelope     { return w.inbox }
func (w *World) Join() chan<- JoinRequest     { return w.join }
func (w *World) Leave() chan<- string         { return w.leave }
func (w *World) Monitors() *monitors.Monitors { return w.monitors }

// Awareness exposes the navigation engine. Only safe from the world goroutine
// or while Run is not active.
func (w *World) Awareness() *nav.Awareness { return w.aware }

func (w *World) Now() float64 { return w.clock() }

// RequestReset asks the running loop to drop every queued operation.
func (w *World) RequestReset() {
	select {
	case w.resetCh <- struct{}{}:
	default:
	}
}

func (w *World) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			w.handleJoin(req)
		case id := <-w.leave:
			w.handleLeave(id)
		case env := <-w.inbox:
			w.handleInject(env)
		case <-w.resetCh:
			w.Reset()
		case req := <-w.inspect:
			req.fn(w.aware)
			close(req.done)
		case <-timer.C:
		}
		resetTimer(timer, w.step())
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

type inspectReq struct {
	fn   func(*nav.Awareness)
	done chan struct{}
}

// Inspect runs fn on the world goroutine with read access to the
// navigation engine. fn must not keep references to tile layers.
func (w *World) Inspect(ctx context.Context, fn func(*nav.Awareness)) error {
	req := inspectReq{fn: fn, done: make(chan struct{})}
	select {
	case w.inspect <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *World) Stop() { close(w.stop) }

// Close releases the navigation engine. Call after Run has returned.
func (w *World) Close() { w.aware.Close() }

// StepOnce runs one loop iteration without waiting. It is intended for
// deterministic replays and tests and returns the delay until more work is due.
func (w *World) StepOnce() time.Duration { return w.step() }

var ErrNotSettled = errors.New("world did not settle")

// Settle steps until no operation is due and every aware tile is built.
// It returns the number of steps taken.
func (w *World) Settle(maxSteps int) (int, error) {
	for steps := 1; steps <= maxSteps; steps++ {
		w.step()
		if w.aware.Stats().DirtyAware == 0 && w.disp.SecondsUntilNextOp() > 0 {
			return steps, nil
		}
	}
	return maxSteps, ErrNotSettled
}

func (w *World) step() time.Duration {
	more := w.disp.Idle()
	w.disp.MarkQueueAsClean()

	remaining := 0
	for i := 0; i < w.cfg.RebuildsPerTick; i++ {
		remaining = w.aware.RebuildDirtyTile()
		if remaining == 0 {
			break
		}
	}
	if w.aware.NeedsPruning() {
		w.aware.PruneTiles()
	}
	w.updateMonitors()

	if more || remaining > 0 {
		return 0
	}
	wait := w.disp.SecondsUntilNextOp()
	if wait > w.cfg.IdleWaitCeiling {
		wait = w.cfg.IdleWaitCeiling
	}
	return time.Duration(wait * float64(time.Second))
}

// SecondsUntilNextOp reports the dispatcher's delay until the next due op.
func (w *World) SecondsUntilNextOp() float64 { return w.disp.SecondsUntilNextOp() }

// Reset drops every queued operation.
func (w *World) Reset() {
	n := w.disp.Len()
	w.disp.Clear()
	w.log.WithField("dropped", n).Info("operation queue reset")
}

// Inject enqueues op on behalf of entityID, exactly as a connected client
// would. Used by the loop and by replays.
func (w *World) Inject(entityID string, op protocol.Operation) error {
	if op.From == protocol.CheatOrigin {
		return fmt.Errorf("operation %s: reserved origin %q", op.Type, protocol.CheatOrigin)
	}
	if op.Type == "" {
		return fmt.Errorf("operation without type")
	}
	if entityID == "" {
		return fmt.Errorf("operation %s: empty origin", op.Type)
	}
	p := op
	var from dispatch.Entity = origin(entityID)
	if e := w.entities[entityID]; e != nil {
		from = e
	}
	w.disp.Enqueue(&p, from)
	if w.opLogger != nil {
		if err := w.opLogger.WriteOp(OpLogEntry{Seconds: p.Time(), Op: p}); err != nil {
			w.log.WithError(err).Warn("op log write failed")
		}
	}
	return nil
}

func (w *World) handleInject(env OpEnvelope) {
	if err := w.Inject(env.EntityID, env.Op); err != nil {
		w.sendError(env.EntityID, env.Op.Serial, protocol.ErrBadRequest, err.Error())
	}
}

func (w *World) handleJoin(req JoinRequest) {
	w.nextClientNum++
	entityID := fmt.Sprintf("A%d", w.nextClientNum)
	c := &client{
		sessionID:  req.SessionID,
		entityID:   entityID,
		name:       req.Name,
		tileEvents: req.TileEvents,
		out:        req.Out,
	}
	w.clients[entityID] = c
	w.log.WithFields(logrus.Fields{"session": req.SessionID, "entity": entityID, "name": req.Name}).Info("client joined")

	if req.Resp != nil {
		nc := w.cfg.Nav.Normalize()
		req.Resp <- JoinResponse{Welcome: protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       req.SessionID,
			EntityID:        entityID,
			WorldParams: protocol.WorldParams{
				WorldID:        w.cfg.ID,
				AgentRadius:    nc.AgentRadius,
				AgentHeight:    nc.AgentHeight,
				TileSize:       nc.TileSize,
				TileSizeMeters: w.aware.TileSizeInMeters(),
				TimeMultiplier: w.disp.TimeMultiplier(),
			},
		}}
	}
}

// handleLeave disconnects a client and removes the entity it controlled.
func (w *World) handleLeave(entityID string) {
	if _, ok := w.clients[entityID]; !ok {
		return
	}
	delete(w.clients, entityID)
	if _, ok := w.entities[entityID]; ok {
		w.deleteEntity(entityID)
	}
	w.log.WithField("entity", entityID).Info("client left")
}

func (w *World) describeMonitors() {
	w.monitors.Describe(dispatch.MonitorQueueDepth, "Operations waiting in the dispatcher queue.")
	w.monitors.Describe("entities", "Entities known to the world.")
	w.monitors.Describe("aware_tiles", "Tiles inside at least one awareness area.")
	w.monitors.Describe("dirty_tiles", "Aware tiles waiting for a rebuild.")
	w.monitors.Describe("active_tiles", "Tiles with a built navmesh layer.")
	w.monitors.Describe("moving_entities", "Entities tracked as moving obstacles.")
	w.monitors.Describe("clients", "Connected client sessions.")
	w.monitors.Describe("dropped_messages", "Outbound messages dropped on full client queues.")
}

func (w *World) updateMonitors() {
	st := w.aware.Stats()
	w.monitors.Insert("entities", int64(len(w.entities)))
	w.monitors.Insert("aware_tiles", int64(st.AwareTiles))
	w.monitors.Insert("dirty_tiles", int64(st.DirtyAware))
	w.monitors.Insert("active_tiles", int64(st.ActiveTiles))
	w.monitors.Insert("moving_entities", int64(st.Moving))
	w.monitors.Insert("clients", int64(len(w.clients)))
	w.monitors.Insert("dropped_messages", w.dropped)
}

func (w *World) addObserverID(id string) {
	i := sort.SearchStrings(w.observers, id)
	if i < len(w.observers) && w.observers[i] == id {
		return
	}
	w.observers = append(w.observers, "")
	copy(w.observers[i+1:], w.observers[i:])
	w.observers[i] = id
}

func (w *World) removeObserverID(id string) {
	i := sort.SearchStrings(w.observers, id)
	if i < len(w.observers) && w.observers[i] == id {
		w.observers = append(w.observers[:i], w.observers[i+1:]...)
	}
}

func (w *World) serial() int64 {
	w.nextSerial++
	return w.nextSerial
}
