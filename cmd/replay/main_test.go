package main

import (
	"testing"

	"github.com/sirupsen/logrus"

	persistlog "worldsim.ai/internal/persistence/log"
	"worldsim.ai/internal/protocol"
	"worldsim.ai/internal/sim/tuning"
	"worldsim.ai/internal/sim/world"
)

func smallTuning() tuning.Tuning {
	tune := tuning.Defaults()
	tune.WorldID = "replay_test"
	tune.DefaultSightRadius = 4
	tune.Extent.Min = [3]float64{-32, -32, -8}
	tune.Extent.Max = [3]float64{32, 32, 8}
	return tune
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func TestReplayReproducesLiveDigest(t *testing.T) {
	dir := t.TempDir()
	tune := smallTuning()
	opLog := persistlog.NewOpLogger(dir)

	clk := &manualClock{}
	live, err := world.New(world.ConfigFromTuning(tune), tune.Heights(),
		world.WithLogger(quietLogger()),
		world.WithClock(clk.Now),
		world.WithOpLogger(opLog),
	)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	defer live.Close()

	solid := false
	inject := func(at float64, from, typ string, args any) {
		t.Helper()
		clk.now = at
		if err := live.Inject(from, *protocol.MustOperation(typ, args)); err != nil {
			t.Fatalf("inject %s: %v", typ, err)
		}
		if _, err := live.Settle(1 << 16); err != nil {
			t.Fatalf("settle: %v", err)
		}
	}
	inject(1, "A1", protocol.OpCreate, protocol.EntityArgs{
		Pos:      &[3]float64{1, 1, 0},
		BBox:     &[6]float64{-0.3, -0.3, 0, 0.3, 0.3, 1.8},
		Solid:    &solid,
		Observer: true,
	})
	inject(2, "A1", protocol.OpCreate, protocol.EntityArgs{
		ID:   "crate",
		Pos:  &[3]float64{2.5, 1, 0},
		BBox: &[6]float64{-0.4, -0.4, 0, 0.4, 0.4, 1},
	})
	inject(3, "A1", protocol.OpMove, protocol.EntityArgs{Pos: &[3]float64{6, 2, 0}})
	inject(4, "A1", protocol.OpTick, protocol.TickArgs{Every: 2, Count: 3})

	// Let the repeating tick run out.
	for _, at := range []float64{6, 8, 10} {
		clk.now = at
		if _, err := live.Settle(1 << 16); err != nil {
			t.Fatalf("settle: %v", err)
		}
	}
	if err := opLog.Close(); err != nil {
		t.Fatalf("close op log: %v", err)
	}

	entries, err := persistlog.ReadOps(dir)
	if err != nil {
		t.Fatalf("read ops: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("logged %d ops, want 4", len(entries))
	}

	res, err := replay(tune, entries, 10, quietLogger())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Ops != 4 || res.Rejected != 0 {
		t.Fatalf("replay counts: %+v", res)
	}
	if res.Seconds != 10 {
		t.Fatalf("replay ended at %v, want 10", res.Seconds)
	}
	if res.Stats.AwareTiles == 0 {
		t.Fatalf("replay stats: %+v", res.Stats)
	}
	if want := live.Digest(); res.Digest != want {
		t.Fatalf("digest mismatch: replay=%s live=%s", res.Digest, want)
	}
}

func TestReplayCountsRejectedOps(t *testing.T) {
	entries := []world.OpLogEntry{
		{Seconds: 1, Op: protocol.Operation{Type: protocol.OpTick, From: "A1"}},
		{Seconds: 2, Op: protocol.Operation{Type: "", From: "A1"}},
	}
	res, err := replay(smallTuning(), entries, 0, quietLogger())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Ops != 2 || res.Rejected != 1 {
		t.Fatalf("counts: %+v", res)
	}
}

func TestReplayRunsClockToUntil(t *testing.T) {
	solid := false
	entries := []world.OpLogEntry{{Seconds: 1, Op: *protocol.MustOperation(protocol.OpCreate, protocol.EntityArgs{
		Pos:      &[3]float64{1, 1, 0},
		Solid:    &solid,
		Observer: true,
	})}}
	entries[0].Op.From = "A1"

	res, err := replay(smallTuning(), entries, 25, quietLogger())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Seconds != 25 {
		t.Fatalf("idle replay ended at %v, want 25", res.Seconds)
	}

	// until before the last op leaves the clock at that op.
	res, err = replay(smallTuning(), entries, 0.5, quietLogger())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Seconds != 1 {
		t.Fatalf("ended at %v, want 1", res.Seconds)
	}
}
