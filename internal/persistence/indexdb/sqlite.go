package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"worldsim.ai/internal/sim/tuning"
	"worldsim.ai/internal/sim/world"
)

// SQLiteIndex is a queryable read model of dispatched operations and tile
// events. Writes go through a buffered channel to a single writer goroutine
// and are dropped when it falls behind; the JSONL logs remain the source of
// truth.
type SQLiteIndex struct {
	db  *sql.DB
	log logrus.FieldLogger

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropOps   atomic.Uint64
	dropTiles atomic.Uint64
	writeErrs atomic.Uint64
}

type reqKind int

const (
	reqOp reqKind = iota + 1
	reqTile
)

type req struct {
	kind reqKind

	op   world.DispatchEntry
	tile world.TileLogEntry
}

type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	DropOpTotal   uint64 `json:"drop_op_total"`
	DropTileTotal uint64 `json:"drop_tile_total"`
	WriteErrTotal uint64 `json:"write_err_total"`
}

func OpenSQLite(path string, log logrus.FieldLogger) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:  db,
		log: log.WithField("component", "indexdb"),
		ch:  make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ops (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			seconds REAL NOT NULL,
			type TEXT NOT NULL,
			from_id TEXT NOT NULL,
			to_id TEXT NOT NULL,
			serialno INTEGER NOT NULL,
			refno INTEGER NOT NULL,
			error TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ops_from_seconds ON ops(from_id, seconds);`,
		`CREATE INDEX IF NOT EXISTS idx_ops_type_seconds ON ops(type, seconds);`,
		`CREATE TABLE IF NOT EXISTS tile_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			seconds REAL NOT NULL,
			kind TEXT NOT NULL,
			tx INTEGER NOT NULL,
			ty INTEGER NOT NULL,
			layer INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tile_events_tile ON tile_events(tx, ty, seconds);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteDispatch(entry world.DispatchEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqOp, op: entry}:
	default:
		s.dropOps.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteTileEvent(entry world.TileLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTile, tile: entry}:
	default:
		s.dropTiles.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropOpTotal:   s.dropOps.Load(),
		DropTileTotal: s.dropTiles.Load(),
		WriteErrTotal: s.writeErrs.Load(),
	}
}

// RecordTuning stores the tuning values in effect, as canonical JSON with
// its digest.
func (s *SQLiteIndex) RecordTuning(tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rows := [][2]string{
		{"schema_version", "1"},
		{"world_id", tune.WorldID},
		{"tuning", string(b)},
		{"tuning_digest", hex.EncodeToString(sum[:])},
		{"recorded_at", time.Now().UTC().Format(time.RFC3339Nano)},
	}
	for _, r := range rows {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`, r[0], r[1]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) Meta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key=?`, key).Scan(&v)
	return v, err
}

type OpRow struct {
	Seq      int64   `json:"seq"`
	Seconds  float64 `json:"seconds"`
	Type     string  `json:"type"`
	From     string  `json:"from"`
	To       string  `json:"to"`
	Serialno int64   `json:"serialno"`
	Error    string  `json:"error,omitempty"`
}

// RecentOps returns the latest dispatched operations, newest first. An empty
// from matches every origin.
func (s *SQLiteIndex) RecentOps(ctx context.Context, from string, limit int) ([]OpRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT seq,seconds,type,from_id,to_id,serialno,COALESCE(error,'')
		FROM ops WHERE (?='' OR from_id=?) ORDER BY seq DESC LIMIT ?`, from, from, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OpRow
	for rows.Next() {
		var r OpRow
		if err := rows.Scan(&r.Seq, &r.Seconds, &r.Type, &r.From, &r.To, &r.Serialno, &r.Error); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TileEventCounts groups recorded tile events by kind.
func (s *SQLiteIndex) TileEventCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM tile_events GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertOp, _ := s.db.Prepare(`INSERT INTO ops(seconds,type,from_id,to_id,serialno,refno,error,raw_json) VALUES(?,?,?,?,?,?,?,?)`)
	insertTile, _ := s.db.Prepare(`INSERT INTO tile_events(seconds,kind,tx,ty,layer) VALUES(?,?,?,?,?)`)
	defer func() {
		if insertOp != nil {
			_ = insertOp.Close()
		}
		if insertTile != nil {
			_ = insertTile.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeErrs.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrs.Add(1)
			s.log.WithError(err).Warn("index commit failed")
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func(err error) {
		s.writeErrs.Add(1)
		s.log.WithError(err).Warn("index write failed")
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqOp:
			if insertOp == nil {
				continue
			}
			op := r.op.Op
			b, _ := json.Marshal(op)
			var errText any
			if r.op.Error != "" {
				errText = r.op.Error
			}
			if _, err := tx.Stmt(insertOp).Exec(r.op.Seconds, op.Type, op.From, op.To, op.Serial, op.Refno, errText, string(b)); err != nil {
				rollback(err)
				continue
			}
			opCount++
		case reqTile:
			if insertTile == nil {
				continue
			}
			t := r.tile
			if _, err := tx.Stmt(insertTile).Exec(t.Seconds, t.Kind, t.TX, t.TY, t.Layer); err != nil {
				rollback(err)
				continue
			}
			opCount++
		}
		// Commit on idle so readers see recent rows.
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}
	commit()
}
