package monitors

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// Monitors is a registry of named integer gauges. The world goroutine
// writes; HTTP handlers read.
type Monitors struct {
	mu     sync.RWMutex
	values map[string]int64
	help   map[string]string
}

func New() *Monitors {
	return &Monitors{
		values: map[string]int64{},
		help:   map[string]string{},
	}
}

func (m *Monitors) Insert(name string, value int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.values[name] = value
	m.mu.Unlock()
}

// Describe sets the HELP text used in the Prometheus rendering.
func (m *Monitors) Describe(name, help string) {
	m.mu.Lock()
	m.help[name] = help
	m.mu.Unlock()
}

func (m *Monitors) Get(name string) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[name]
	return v, ok
}

func (m *Monitors) Snapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int64, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// WritePrometheus renders every gauge as <prefix>_<name>{world="..."}.
func (m *Monitors) WritePrometheus(w io.Writer, prefix, worldID string) {
	m.mu.RLock()
	names := make([]string, 0, len(m.values))
	for k := range m.values {
		names = append(names, k)
	}
	sort.Strings(names)
	type row struct {
		name, help string
		v          int64
	}
	rows := make([]row, 0, len(names))
	for _, k := range names {
		rows = append(rows, row{name: k, help: m.help[k], v: m.values[k]})
	}
	m.mu.RUnlock()

	for _, r := range rows {
		metric := prefix + "_" + sanitize(r.name)
		help := r.help
		if help == "" {
			help = r.name
		}
		fmt.Fprintf(w, "# HELP %s %s\n", metric, help)
		fmt.Fprintf(w, "# TYPE %s gauge\n", metric)
		fmt.Fprintf(w, "%s{world=%q} %d\n", metric, worldID, r.v)
	}
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, name)
}
