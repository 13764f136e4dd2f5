package tuning

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"worldsim.ai/internal/nav"
	"worldsim.ai/internal/sim/terrain"
)

func writeTuning(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoad_ShippedConfig(t *testing.T) {
	tu, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.WorldID != "world_1" || tu.BatchCap != 10 || tu.IdleWaitCeilingSec != 600 {
		t.Fatalf("unexpected tuning: %+v", tu)
	}
	if tu.Nav.TileSize != 64 || tu.Nav.AvoidanceRadius != 5 || tu.Nav.MaxAvoidCircles != 4 {
		t.Fatalf("nav: %+v", tu.Nav)
	}
	if _, ok := tu.Heights().(terrain.Noise); !ok {
		t.Fatalf("expected noise terrain")
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	p := writeTuning(t, "world_id: w2\nnav:\n  tile_size: 32\n")
	tu, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	d := Defaults()
	if tu.WorldID != "w2" || tu.Nav.TileSize != 32 {
		t.Fatalf("overrides lost: %+v", tu)
	}
	if tu.BatchCap != d.BatchCap || tu.Nav.AgentRadius != d.Nav.AgentRadius || tu.Nav.WalkableClimb <= 0 {
		t.Fatalf("defaults lost: %+v", tu)
	}
	if _, ok := tu.Heights().(terrain.Flat); !ok {
		t.Fatalf("expected flat terrain")
	}
}

func TestLoad_ZeroObserverScale(t *testing.T) {
	tu, err := Load(writeTuning(t, "nav:\n  observer_scale: 0\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.Nav.ObserverScale == nil || *tu.Nav.ObserverScale != 0 {
		t.Fatalf("observer_scale 0 not kept: %v", tu.Nav.ObserverScale)
	}
	tu, err = Load(writeTuning(t, "world_id: w3\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.Nav.ObserverScale == nil || *tu.Nav.ObserverScale != nav.DefaultObserverScale {
		t.Fatalf("default observer_scale lost: %v", tu.Nav.ObserverScale)
	}
}

func TestLoad_SchemaRejectsUnknownAndOutOfRange(t *testing.T) {
	for _, body := range []string{
		"bogus: 1\n",
		"nav:\n  tile_size: 4\n",
		"terrain:\n  kind: lava\n",
		"extent:\n  min: [0, 0]\n  max: [1, 1, 1]\n",
		"time_multiplier: 0\n",
	} {
		_, err := Load(writeTuning(t, body))
		if !errors.Is(err, ErrInvalid) {
			t.Fatalf("%q: expected ErrInvalid, got %v", body, err)
		}
	}
}

func TestLoad_SemanticChecks(t *testing.T) {
	p := writeTuning(t, "extent:\n  min: [0, 0, 0]\n  max: [10, 0, 5]\n")
	if _, err := Load(p); !errors.Is(err, ErrInvalid) {
		t.Fatalf("flat extent accepted: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist, got %v", err)
	}
}

func TestDefaults_Valid(t *testing.T) {
	d := Defaults()
	d.Nav = d.Nav.Normalize()
	if err := d.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	b := d.Box()
	if b.Min[0] != -256 || b.Max[2] != 64 {
		t.Fatalf("box: %+v", b)
	}
}
