package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	from := fs.String("from", "", "from_id filter (ops)")
	typ := fs.String("type", "", "type filter (ops)")
	failed := fs.Bool("failed", false, "only ops that failed (ops)")
	_ = fs.Parse(args)

	q := "ops"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	var rows []any
	switch q {
	case "ops":
		rows, err = queryOps(db, opQuery{From: *from, Type: *typ, Failed: *failed, Limit: *limit})
	case "tiles":
		rows, err = queryTiles(db, *limit)
	case "meta":
		rows, err = queryMeta(db)
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data] [-world WORLD|-db PATH] [-limit N] ops|tiles|meta")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, r := range rows {
		printJSON(r)
	}
}

type opQuery struct {
	From   string
	Type   string
	Failed bool
	Limit  int
}

type opRow struct {
	Seq      int64   `json:"seq"`
	Seconds  float64 `json:"seconds"`
	Type     string  `json:"type"`
	From     string  `json:"from"`
	To       string  `json:"to,omitempty"`
	Serialno int64   `json:"serialno"`
	Refno    int64   `json:"refno,omitempty"`
	Error    string  `json:"error,omitempty"`
}

func queryOps(db *sql.DB, q opQuery) ([]any, error) {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	failed := 0
	if q.Failed {
		failed = 1
	}
	rows, err := db.Query(`SELECT seq,seconds,type,from_id,to_id,serialno,refno,COALESCE(error,'') FROM ops
		WHERE (?='' OR from_id=?) AND (?='' OR type=?) AND (?=0 OR COALESCE(error,'')<>'')
		ORDER BY seq DESC LIMIT ?`, q.From, q.From, q.Type, q.Type, failed, q.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []any
	for rows.Next() {
		var r opRow
		if err := rows.Scan(&r.Seq, &r.Seconds, &r.Type, &r.From, &r.To, &r.Serialno, &r.Refno, &r.Error); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type tileRow struct {
	TX      int            `json:"tx"`
	TY      int            `json:"ty"`
	Events  int            `json:"events"`
	Kinds   map[string]int `json:"kinds"`
	LastSec float64        `json:"last_seconds"`
}

// queryTiles summarises tile events per tile, busiest tiles first.
// Dirty notifications carry no tile and are skipped.
func queryTiles(db *sql.DB, limit int) ([]any, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`SELECT tx,ty,kind,COUNT(*),MAX(seconds) FROM tile_events
		WHERE tx >= 0 AND ty >= 0 GROUP BY tx,ty,kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type key struct{ tx, ty int }
	byTile := map[key]*tileRow{}
	var order []*tileRow
	for rows.Next() {
		var tx, ty, n int
		var kind string
		var last float64
		if err := rows.Scan(&tx, &ty, &kind, &n, &last); err != nil {
			return nil, err
		}
		r := byTile[key{tx, ty}]
		if r == nil {
			r = &tileRow{TX: tx, TY: ty, Kinds: map[string]int{}}
			byTile[key{tx, ty}] = r
			order = append(order, r)
		}
		r.Kinds[kind] += n
		r.Events += n
		if last > r.LastSec {
			r.LastSec = last
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortTileRows(order)
	if len(order) > limit {
		order = order[:limit]
	}
	out := make([]any, 0, len(order))
	for _, r := range order {
		out = append(out, *r)
	}
	return out, nil
}

func sortTileRows(rs []*tileRow) {
	sort.Slice(rs, func(i, j int) bool { return tileLess(rs[i], rs[j]) })
}

func tileLess(a, b *tileRow) bool {
	if a.Events != b.Events {
		return a.Events > b.Events
	}
	if a.TY != b.TY {
		return a.TY < b.TY
	}
	return a.TX < b.TX
}

func queryMeta(db *sql.DB) ([]any, error) {
	rows, err := db.Query(`SELECT key,value FROM meta ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []any
	for rows.Next() {
		var r struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		if err := rows.Scan(&r.Key, &r.Value); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
