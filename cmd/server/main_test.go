package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	persistlog "worldsim.ai/internal/persistence/log"
	"worldsim.ai/internal/sim/tuning"
	"worldsim.ai/internal/sim/world"
)

type recTileLogger struct{ n int }

func (r *recTileLogger) WriteTileEvent(world.TileLogEntry) error {
	r.n++
	return nil
}

func TestMultiTileLoggerToleratesNil(t *testing.T) {
	a := &recTileLogger{}
	m := multiTileLogger{a: a}
	if err := m.WriteTileEvent(world.TileLogEntry{Kind: "DIRTY"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	b := &recTileLogger{}
	m = multiTileLogger{a: a, b: b}
	_ = m.WriteTileEvent(world.TileLogEntry{Kind: "REBUILT"})
	if a.n != 2 || b.n != 1 {
		t.Fatalf("a=%d b=%d", a.n, b.n)
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("WS_TEST_BOOL", "true")
	if !envBool("WS_TEST_BOOL", false) {
		t.Fatalf("expected true")
	}
	t.Setenv("WS_TEST_BOOL", "nope")
	if envBool("WS_TEST_BOOL", false) {
		t.Fatalf("invalid value should fall back to default")
	}
	t.Setenv("DEPLOY_ENV", "production")
	if defaultEnableDebugHTTP() {
		t.Fatalf("debug http must be off in production")
	}
}

func TestOpenRuntimeIndexBackends(t *testing.T) {
	log := logrus.New()
	idx, err := openRuntimeIndex(t.TempDir(), true, log)
	if err != nil || idx != nil {
		t.Fatalf("disabled: idx=%v err=%v", idx, err)
	}

	t.Setenv("WS_INDEX_BACKEND", "bogus")
	if _, err := openRuntimeIndex(t.TempDir(), false, log); err == nil {
		t.Fatalf("expected error for unknown backend")
	}

	t.Setenv("WS_INDEX_BACKEND", "sqlite")
	dir := t.TempDir()
	idx, err = openRuntimeIndex(dir, false, log)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	defer idx.Close()
	if _, err := os.Stat(filepath.Join(dir, "index", "world.sqlite")); err != nil {
		t.Fatalf("sqlite file: %v", err)
	}
}

func TestWriteMetrics(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	tune := tuning.Defaults()
	w, err := world.New(world.ConfigFromTuning(tune), tune.Heights(), world.WithLogger(log))
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	defer w.Close()
	w.StepOnce()

	idx, err := openRuntimeIndex(t.TempDir(), false, log)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	defer idx.Close()

	opLog := persistlog.NewOpLogger(t.TempDir())
	defer opLog.Close()
	if err := opLog.WriteOp(world.OpLogEntry{Seconds: 1}); err != nil {
		t.Fatalf("write op: %v", err)
	}

	var buf bytes.Buffer
	writeMetrics(&buf, w, idx, opLog.Writer)
	out := buf.String()
	for _, want := range []string{
		`worldsim_entities{world="world_1"} 0`,
		`worldsim_log_records_total{log="ops"} 1`,
		"# TYPE worldsim_index_queue_depth gauge",
		`worldsim_index_dropped_total{kind="op"} 0`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics missing %q:\n%s", want, out)
		}
	}
}
