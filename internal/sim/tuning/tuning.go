package tuning

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v3"

	"worldsim.ai/internal/nav"
	"worldsim.ai/internal/protocol"
	"worldsim.ai/internal/sim/terrain"
	"worldsim.ai/schemas"
)

var ErrInvalid = errors.New("tuning: invalid")

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`
	WorldID         string `yaml:"world_id"`
	Seed            int64  `yaml:"seed"`

	TimeMultiplier     float64 `yaml:"time_multiplier"`
	BatchCap           int     `yaml:"batch_cap"`
	IdleWaitCeilingSec float64 `yaml:"idle_wait_ceiling_sec"`
	RebuildsPerTick    int     `yaml:"rebuilds_per_tick"`
	DefaultSightRadius float64 `yaml:"default_sight_radius"`

	Extent  Extent     `yaml:"extent"`
	Terrain Terrain    `yaml:"terrain"`
	Nav     nav.Config `yaml:"nav"`
}

// Extent is the navigable volume; z is height.
type Extent struct {
	Min [3]float64 `yaml:"min"`
	Max [3]float64 `yaml:"max"`
}

type Terrain struct {
	Kind      string  `yaml:"kind"` // flat | noise
	Height    float64 `yaml:"height"`
	Base      float64 `yaml:"base"`
	Amplitude float64 `yaml:"amplitude"`
	Scale     float64 `yaml:"scale"`
}

const (
	TerrainFlat  = "flat"
	TerrainNoise = "noise"
)

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    protocol.Version,
		WorldID:            "world_1",
		Seed:               1337,
		TimeMultiplier:     1,
		BatchCap:           10,
		IdleWaitCeilingSec: 600,
		RebuildsPerTick:    4,
		DefaultSightRadius: 16,
		Extent: Extent{
			Min: [3]float64{-256, -256, -64},
			Max: [3]float64{256, 256, 64},
		},
		Terrain: Terrain{Kind: TerrainFlat},
		Nav:     nav.DefaultConfig(),
	}
}

// Load reads a tuning file, validates it against the embedded schema and
// fills unset fields from Defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := validateSchema(raw); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Nav = t.Nav.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func validateSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	// The validator wants JSON values, not yaml's int/map types.
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	v, err := schemas.Decode(b)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	s, err := schemas.Compile("tuning.schema.json")
	if err != nil {
		return err
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func (t Tuning) Validate() error {
	switch {
	case t.WorldID == "":
		return fmt.Errorf("%w: world_id is required", ErrInvalid)
	case t.TimeMultiplier <= 0:
		return fmt.Errorf("%w: time_multiplier must be > 0", ErrInvalid)
	case t.BatchCap <= 0:
		return fmt.Errorf("%w: batch_cap must be > 0", ErrInvalid)
	case t.IdleWaitCeilingSec <= 0:
		return fmt.Errorf("%w: idle_wait_ceiling_sec must be > 0", ErrInvalid)
	case t.RebuildsPerTick <= 0:
		return fmt.Errorf("%w: rebuilds_per_tick must be > 0", ErrInvalid)
	case t.DefaultSightRadius <= 0:
		return fmt.Errorf("%w: default_sight_radius must be > 0", ErrInvalid)
	}
	for i := 0; i < 3; i++ {
		if t.Extent.Max[i] <= t.Extent.Min[i] {
			return fmt.Errorf("%w: extent max must exceed min on every axis", ErrInvalid)
		}
	}
	switch t.Terrain.Kind {
	case "", TerrainFlat:
	case TerrainNoise:
		if t.Terrain.Scale <= 0 {
			return fmt.Errorf("%w: noise terrain needs scale > 0", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown terrain kind %q", ErrInvalid, t.Terrain.Kind)
	}
	if err := t.Nav.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func (t Tuning) Box() nav.Box3 {
	return nav.Box3{
		Min: mgl64.Vec3(t.Extent.Min),
		Max: mgl64.Vec3(t.Extent.Max),
	}
}

// Heights builds the height provider described by the terrain section.
func (t Tuning) Heights() nav.HeightProvider {
	if t.Terrain.Kind == TerrainNoise {
		return terrain.Noise{
			Seed:      t.Seed,
			Amplitude: t.Terrain.Amplitude,
			Scale:     t.Terrain.Scale,
			Base:      t.Terrain.Base,
		}
	}
	return terrain.Flat{Height: float32(t.Terrain.Height)}
}
