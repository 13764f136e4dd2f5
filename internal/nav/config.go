package nav

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidConfig = errors.New("nav: invalid config")
	ErrTileCacheFull = errors.New("nav: tile cache full")
)

const (
	DefaultAgentRadius        = 0.4
	DefaultAgentHeight        = 1.8
	DefaultTileSize           = 64
	DefaultBaseTileAmount     = 128
	DefaultObserverScale      = 0.4
	DefaultWalkableSlopeAngle = 70.0
	DefaultAvoidanceRadius    = 5.0
	DefaultMaxAvoidCircles    = 4
	DefaultMaxObstacles       = 256

	// Layers expected per tile; the rasterizer produces a single floor.
	expectedLayersPerTile = 1
	maxTileBits           = 14

	maxPathPolys = 4096
	maxPathVerts = 512
	maxNodes     = 65536
)

type Config struct {
	AgentRadius float64 `yaml:"agent_radius"`
	AgentHeight float64 `yaml:"agent_height"`

	// TileSize is the tile edge length in cells.
	TileSize int `yaml:"tile_size"`

	BaseTileAmount int `yaml:"base_tile_amount"`
	// ObserverScale is the share of BaseTileAmount each extra observer adds.
	// Nil means DefaultObserverScale; zero keeps the budget flat.
	ObserverScale *float64 `yaml:"observer_scale"`

	WalkableSlopeAngle float64 `yaml:"walkable_slope_angle"`
	// WalkableClimb is the largest height step between adjacent cells, in meters.
	// Zero means 100 cell heights.
	WalkableClimb float64 `yaml:"walkable_climb"`

	AvoidanceRadius float64 `yaml:"avoidance_radius"`
	MaxAvoidCircles int     `yaml:"max_avoid_circles"`
	// MaxObstacles caps the footprints carved into a single tile.
	MaxObstacles int `yaml:"max_obstacles"`

	// ReleaseUnobservedSolids deletes a solid entity and invalidates its tiles
	// once its last observer is gone. When false, only ignored entities are
	// released and solid ones stay tracked.
	ReleaseUnobservedSolids bool `yaml:"release_unobserved_solids"`
}

func DefaultConfig() Config {
	return Config{
		AgentRadius:        DefaultAgentRadius,
		AgentHeight:        DefaultAgentHeight,
		TileSize:           DefaultTileSize,
		BaseTileAmount:     DefaultBaseTileAmount,
		ObserverScale:      Scale(DefaultObserverScale),
		WalkableSlopeAngle: DefaultWalkableSlopeAngle,
		AvoidanceRadius:    DefaultAvoidanceRadius,
		MaxAvoidCircles:    DefaultMaxAvoidCircles,
		MaxObstacles:       DefaultMaxObstacles,
	}
}

// Normalize fills zero fields with defaults.
func (c Config) Normalize() Config {
	d := DefaultConfig()
	if c.AgentRadius == 0 {
		c.AgentRadius = d.AgentRadius
	}
	if c.AgentHeight == 0 {
		c.AgentHeight = d.AgentHeight
	}
	if c.TileSize == 0 {
		c.TileSize = d.TileSize
	}
	if c.BaseTileAmount == 0 {
		c.BaseTileAmount = d.BaseTileAmount
	}
	if c.ObserverScale == nil {
		c.ObserverScale = d.ObserverScale
	}
	if c.WalkableSlopeAngle == 0 {
		c.WalkableSlopeAngle = d.WalkableSlopeAngle
	}
	if c.WalkableClimb == 0 {
		c.WalkableClimb = 100 * c.cellHeight()
	}
	if c.AvoidanceRadius == 0 {
		c.AvoidanceRadius = d.AvoidanceRadius
	}
	if c.MaxAvoidCircles == 0 {
		c.MaxAvoidCircles = d.MaxAvoidCircles
	}
	if c.MaxObstacles == 0 {
		c.MaxObstacles = d.MaxObstacles
	}
	return c
}

func (c Config) Validate() error {
	switch {
	case !(c.AgentRadius > 0) || math.IsInf(c.AgentRadius, 0):
		return fmt.Errorf("%w: agent_radius must be > 0", ErrInvalidConfig)
	case !(c.AgentHeight > 0):
		return fmt.Errorf("%w: agent_height must be > 0", ErrInvalidConfig)
	case c.TileSize < 8 || c.TileSize > 255:
		return fmt.Errorf("%w: tile_size must be in [8,255]", ErrInvalidConfig)
	case c.BaseTileAmount <= 0:
		return fmt.Errorf("%w: base_tile_amount must be > 0", ErrInvalidConfig)
	case c.ObserverScale != nil && !(*c.ObserverScale >= 0):
		return fmt.Errorf("%w: observer_scale must be >= 0", ErrInvalidConfig)
	case c.WalkableSlopeAngle <= 0 || c.WalkableSlopeAngle >= 90:
		return fmt.Errorf("%w: walkable_slope_angle must be in (0,90)", ErrInvalidConfig)
	case c.WalkableClimb < 0:
		return fmt.Errorf("%w: walkable_climb must be >= 0", ErrInvalidConfig)
	case c.AvoidanceRadius <= 0:
		return fmt.Errorf("%w: avoidance_radius must be > 0", ErrInvalidConfig)
	case c.MaxAvoidCircles <= 0:
		return fmt.Errorf("%w: max_avoid_circles must be > 0", ErrInvalidConfig)
	case c.MaxObstacles <= 0:
		return fmt.Errorf("%w: max_obstacles must be > 0", ErrInvalidConfig)
	}
	return nil
}

// Cell size is half the agent radius; cell height half the cell size.
// Scale returns a pointer to v, for optional Config fields.
func Scale(v float64) *float64 { return &v }

func (c Config) observerScale() float64 {
	if c.ObserverScale == nil {
		return DefaultObserverScale
	}
	return *c.ObserverScale
}

func (c Config) cellSize() float64   { return c.AgentRadius / 2 }
func (c Config) cellHeight() float64 { return c.cellSize() / 2 }

func (c Config) walkableRadius() int {
	return int(math.Ceil(c.AgentRadius / c.cellSize()))
}

func (c Config) borderSize() int { return c.walkableRadius() + 3 }

func (c Config) tileWorldSize() float64 { return float64(c.TileSize) * c.cellSize() }
