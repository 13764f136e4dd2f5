package observerproto

import "worldsim.ai/internal/nav"

// Version is the debug observer protocol version (separate from the client WS protocol).
const Version = "0.1"

// HTTP response for GET /debug/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string    `json:"protocol_version"`
	WorldID         string    `json:"world_id"`
	Seconds         float64   `json:"seconds"`
	TileSizeMeters  float64   `json:"tile_size_meters"`
	Stats           nav.Stats `json:"stats"`
}

// HTTP response for GET /debug/v1/observer/tiles.
type TilesResponse struct {
	ProtocolVersion string     `json:"protocol_version"`
	WorldID         string     `json:"world_id"`
	Area            [4]float64 `json:"area"` // min x, min y, max x, max y
	Layers          []TileView `json:"layers"`
	Truncated       bool       `json:"truncated,omitempty"`
}

// TileView is one cached layer. Rows are printed top row first;
// '#' marks a walkable cell and '.' a blocked one.
type TileView struct {
	TX       int        `json:"tx"`
	TY       int        `json:"ty"`
	Layer    int        `json:"layer"`
	Width    int        `json:"width"`
	Height   int        `json:"height"`
	Origin   [2]float64 `json:"origin"`
	CellSize float64    `json:"cell_size"`
	Walkable int        `json:"walkable"`
	Rows     []string   `json:"rows,omitempty"`
}
