package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	persistlog "worldsim.ai/internal/persistence/log"
	"worldsim.ai/internal/sim/world"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "oplog":
			oplogCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "tiles":
			tilesCmd(os.Args[2:])
			return
		case "reset":
			resetCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "worlds")
	if *worldID != "" {
		base = filepath.Join(base, *worldID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

// oplogCmd prints logged operations as JSON lines.
func oplogCmd(args []string) {
	fs := flag.NewFlagSet("oplog", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	from := fs.String("from", "", "only ops sent by this entity (optional)")
	typ := fs.String("type", "", "only ops of this type (optional)")
	since := fs.Float64("since", 0, "only ops scheduled at or after this many seconds")
	until := fs.Float64("until", 0, "only ops scheduled at or before this many seconds (optional)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*worldID) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	entries, err := persistlog.ReadOps(filepath.Join(*dataDir, "worlds", *worldID))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read ops:", err)
		os.Exit(1)
	}
	for _, e := range filterOps(entries, opFilter{From: *from, Type: *typ, Since: *since, Until: *until}) {
		printJSON(e)
	}
}

type opFilter struct {
	From  string
	Type  string
	Since float64
	Until float64 // 0 means open ended
}

func filterOps(entries []world.OpLogEntry, f opFilter) []world.OpLogEntry {
	var out []world.OpLogEntry
	for _, e := range entries {
		if f.From != "" && e.Op.From != f.From {
			continue
		}
		if f.Type != "" && e.Op.Type != f.Type {
			continue
		}
		if e.Seconds < f.Since {
			continue
		}
		if f.Until > 0 && e.Seconds > f.Until {
			continue
		}
		out = append(out, e)
	}
	return out
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
