package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"worldsim.ai/internal/persistence/indexdb"
	persistlog "worldsim.ai/internal/persistence/log"
	"worldsim.ai/internal/sim/tuning"
	"worldsim.ai/internal/sim/world"
)

func main() {
	var (
		worldDir   = flag.String("world_dir", "", "world data dir containing ops/ (e.g. ./data/worlds/world_1)")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		useIndex   = flag.Bool("tuning_from_index", false, "read the tuning recorded in <world_dir>/index/world.sqlite instead of -tuning")
		until      = flag.Float64("until", 0, "simulate up to this many seconds (default: time of the last logged op)")
		expect     = flag.String("expect", "", "expected state digest (optional)")
		verbose    = flag.Bool("v", false, "log world activity")
	)
	flag.Parse()

	if *worldDir == "" {
		fmt.Fprintln(os.Stderr, "missing -world_dir")
		os.Exit(2)
	}

	var tune tuning.Tuning
	var err error
	if *useIndex {
		tune, err = tuningFromIndex(filepath.Join(*worldDir, "index", "world.sqlite"))
	} else {
		tune, err = tuning.Load(*tuningPath)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "tuning:", err)
		os.Exit(1)
	}

	entries, err := persistlog.ReadOps(*worldDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read ops:", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "no op log entries found in", *worldDir)
		os.Exit(1)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	res, err := replay(tune, entries, *until, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay world=%s ops=%d rejected=%d seconds=%.3f steps=%d aware_tiles=%d active_tiles=%d entities=%d\n",
		tune.WorldID, res.Ops, res.Rejected, res.Seconds, res.Steps, res.Stats.AwareTiles, res.Stats.ActiveTiles, res.Stats.Entities)
	fmt.Printf("digest=%s\n", res.Digest)

	if *expect != "" && *expect != res.Digest {
		fmt.Fprintf(os.Stderr, "digest mismatch: got=%s want=%s\n", res.Digest, *expect)
		os.Exit(1)
	}
}

func tuningFromIndex(path string) (tuning.Tuning, error) {
	if _, err := os.Stat(path); err != nil {
		return tuning.Tuning{}, err
	}
	idx, err := indexdb.OpenSQLite(path, nil)
	if err != nil {
		return tuning.Tuning{}, err
	}
	defer idx.Close()

	raw, err := idx.Meta(context.Background(), "tuning")
	if err != nil {
		return tuning.Tuning{}, fmt.Errorf("index meta: %w", err)
	}
	tune := tuning.Defaults()
	if err := json.Unmarshal([]byte(raw), &tune); err != nil {
		return tuning.Tuning{}, fmt.Errorf("index meta: %w", err)
	}
	tune.Nav = tune.Nav.Normalize()
	return tune, tune.Validate()
}

type manualClock struct{ now float64 }

func (c *manualClock) Now() float64 { return c.now }

type result struct {
	Ops      int
	Rejected int
	Steps    int
	Seconds  float64
	Digest   string
	Stats    worldStats
}

type worldStats struct {
	AwareTiles  int
	ActiveTiles int
	Entities    int
}

// maxStepsPerInstant bounds the steps run without the clock moving.
const maxStepsPerInstant = 1 << 20

// replay rebuilds a world from logged operations on a manual clock. Between
// two logged injections the clock jumps from one due operation to the next,
// so scheduled work lands at the same simulated time it did live.
func replay(tune tuning.Tuning, entries []world.OpLogEntry, until float64, logger logrus.FieldLogger) (result, error) {
	clk := &manualClock{}
	w, err := world.New(world.ConfigFromTuning(tune), tune.Heights(),
		world.WithLogger(logger),
		world.WithClock(clk.Now),
	)
	if err != nil {
		return result{}, err
	}
	defer w.Close()

	var res result
	for _, e := range entries {
		if err := advance(w, clk, e.Seconds, &res); err != nil {
			return res, err
		}
		res.Ops++
		if err := w.Inject(e.Op.From, e.Op); err != nil {
			res.Rejected++
			logger.WithError(err).Warn("logged op rejected")
		}
	}
	end := clk.now
	if until > end {
		end = until
	}
	if err := advance(w, clk, end, &res); err != nil {
		return res, err
	}

	st := w.Awareness().Stats()
	res.Seconds = clk.now
	res.Digest = w.Digest()
	res.Stats = worldStats{AwareTiles: st.AwareTiles, ActiveTiles: st.ActiveTiles, Entities: st.Entities}
	return res, nil
}

// advance runs every operation due at or before target and leaves the clock
// at target. The clock never moves backwards.
func advance(w *world.World, clk *manualClock, target float64, res *result) error {
	for {
		if err := drain(w, res); err != nil {
			return err
		}
		next := clk.now + w.SecondsUntilNextOp()
		if next > target {
			break
		}
		clk.now = next
	}
	if target > clk.now {
		clk.now = target
		return drain(w, res)
	}
	return nil
}

// drain steps until nothing is due at the current instant.
func drain(w *world.World, res *result) error {
	n, err := w.Settle(maxStepsPerInstant)
	res.Steps += n
	return err
}
