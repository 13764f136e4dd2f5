package log

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"worldsim.ai/internal/protocol"
	"worldsim.ai/internal/sim/world"
)

func TestOpLogger_RotatesHourlyAndReadsBack(t *testing.T) {
	dir := t.TempDir()
	l := NewOpLogger(dir)
	clock := time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		op := protocol.MustOperation(protocol.OpTick, protocol.TickArgs{Count: i})
		op.From = "A1"
		op.SetSeconds(float64(i))
		if err := l.WriteOp(world.OpLogEntry{Seconds: float64(i), Op: *op}); err != nil {
			t.Fatalf("write: %v", err)
		}
		clock = clock.Add(time.Minute)
	}
	if st := l.Stats(); st.Records != 3 || st.Files != 2 || st.Bytes == 0 {
		t.Fatalf("stats: %+v", st)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := ListFiles(filepath.Join(dir, "ops"), "ops")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "ops-2024-05-01-10.jsonl.zst" {
		t.Fatalf("files: %v", files)
	}

	entries, err := ReadOps(dir)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries: %d", len(entries))
	}
	for i, e := range entries {
		var a protocol.TickArgs
		if err := e.Op.DecodeArgs(&a); err != nil {
			t.Fatalf("args: %v", err)
		}
		if e.Seconds != float64(i) || a.Count != i || e.Op.From != "A1" {
			t.Fatalf("entry %d: %+v", i, e)
		}
	}
}

func TestTileLogger_AppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		l := NewTileLogger(dir)
		if err := l.WriteTileEvent(world.TileLogEntry{Seconds: float64(i), Kind: protocol.TileRebuilt, TX: i, TY: 1}); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := l.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	files, err := ListFiles(filepath.Join(dir, "tiles"), "tiles")
	if err != nil || len(files) == 0 {
		t.Fatalf("list: %v %v", files, err)
	}
	var got []world.TileLogEntry
	for _, f := range files {
		err := ScanFile(f, func(line []byte) error {
			var e world.TileLogEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return err
			}
			got = append(got, e)
			return nil
		})
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
	}
	if len(got) != 2 || got[1].TX != 1 || got[0].Kind != protocol.TileRebuilt {
		t.Fatalf("entries: %+v", got)
	}
}

func TestWriter_CloseWithoutWrites(t *testing.T) {
	l := NewTileLogger(t.TempDir())
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if st := l.Stats(); st != (Stats{}) {
		t.Fatalf("stats: %+v", st)
	}
}

func TestReadOps_MissingDir(t *testing.T) {
	if _, err := ReadOps(t.TempDir()); err == nil {
		t.Fatalf("expected error for missing ops dir")
	}
}
