package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"worldsim.ai/internal/sim/world"
)

const hourLayout = "2006-01-02-15"

// Stats counts what a Writer has appended since it was opened.
type Stats struct {
	Records uint64
	Bytes   uint64
	Files   uint64
}

// Writer appends JSON records to zstd-compressed files named
// <prefix>-<UTC hour>.jsonl.zst. A new file (and zstd frame) starts on
// every hour change and on every reopen, so readers see a sequence of
// complete frames.
type Writer struct {
	dir    string
	prefix string
	now    func() time.Time
	// eager flushes the line buffer after every record.
	eager bool

	mu    sync.Mutex
	hour  string
	file  *os.File
	zw    *zstd.Encoder
	buf   *bufio.Writer
	stats Stats
}

func newWriter(dir, prefix string, eager bool) *Writer {
	return &Writer{dir: dir, prefix: prefix, now: time.Now, eager: eager}
}

// Name is the file prefix, e.g. "ops".
func (w *Writer) Name() string { return w.prefix }

func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Writer) Append(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s log: marshal: %w", w.prefix, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if hour := w.now().UTC().Format(hourLayout); hour != w.hour || w.buf == nil {
		if err := w.openLocked(hour); err != nil {
			return fmt.Errorf("%s log: open %s: %w", w.prefix, hour, err)
		}
	}
	b = append(b, '\n')
	if _, err := w.buf.Write(b); err != nil {
		return err
	}
	w.stats.Records++
	w.stats.Bytes += uint64(len(b))
	if w.eager {
		return w.buf.Flush()
	}
	return nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *Writer) openLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.file, w.zw, w.hour = f, zw, hour
	w.buf = bufio.NewWriterSize(zw, 64*1024)
	w.stats.Files++
	return nil
}

func (w *Writer) closeLocked() error {
	if w.file == nil {
		return nil
	}
	err := w.buf.Flush()
	if cerr := w.zw.Close(); err == nil {
		err = cerr
	}
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.file, w.zw, w.buf = nil, nil, nil
	return err
}

func (w *Writer) path(hour string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// OpLogger records every injected operation under <worldDir>/ops. Records
// are flushed one by one since replay depends on none being lost.
type OpLogger struct{ *Writer }

func NewOpLogger(worldDir string) *OpLogger {
	return &OpLogger{newWriter(filepath.Join(worldDir, "ops"), "ops", true)}
}

func (l *OpLogger) WriteOp(e world.OpLogEntry) error { return l.Append(e) }

// TileLogger records tile lifecycle events under <worldDir>/tiles.
type TileLogger struct{ *Writer }

func NewTileLogger(worldDir string) *TileLogger {
	return &TileLogger{newWriter(filepath.Join(worldDir, "tiles"), "tiles", false)}
}

func (l *TileLogger) WriteTileEvent(e world.TileLogEntry) error { return l.Append(e) }
