package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"worldsim.ai/internal/persistence/indexdb"
	"worldsim.ai/internal/sim/tuning"
	"worldsim.ai/internal/sim/world"
)

type runtimeIndex interface {
	world.DispatchLogger
	world.TileLogger
	Close() error
	Stats() indexdb.Stats
	RecordTuning(tune tuning.Tuning) error
	RecentOps(ctx context.Context, from string, limit int) ([]indexdb.OpRow, error)
}

func openRuntimeIndex(worldDir string, disableDB bool, logger logrus.FieldLogger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("WS_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(worldDir, "index", "world.sqlite")
		return indexdb.OpenSQLite(dbPath, logger.WithField("component", "indexdb"))
	default:
		return nil, fmt.Errorf("unsupported WS_INDEX_BACKEND: %s", backend)
	}
}

// multiTileLogger fans tile events out to the JSONL log and the index.
type multiTileLogger struct {
	a world.TileLogger
	b world.TileLogger
}

func (m multiTileLogger) WriteTileEvent(entry world.TileLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTileEvent(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTileEvent(entry)
	}
	return nil
}
