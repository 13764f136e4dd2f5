package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ClientName      string            `json:"client_name"`
	Capabilities    HelloCapabilities `json:"capabilities"`
}

type HelloCapabilities struct {
	TileEvents bool `json:"tile_events,omitempty"`
	MaxQueue   int  `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	EntityID        string      `json:"entity_id"`
	WorldParams     WorldParams `json:"world_params"`
}

type WorldParams struct {
	WorldID        string  `json:"world_id"`
	AgentRadius    float64 `json:"agent_radius"`
	AgentHeight    float64 `json:"agent_height"`
	TileSize       int     `json:"tile_size"`
	TileSizeMeters float64 `json:"tile_size_meters"`
	TimeMultiplier float64 `json:"time_multiplier"`
}

// OP carries one Operation in either direction.
type OpMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	Op              Operation `json:"op"`
}

// TILE_EVENT (server -> client), only sent to sessions that asked for tile events.
type TileEventMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Kind            string `json:"kind"`
	TX              int    `json:"tx"`
	TY              int    `json:"ty"`
	Layer           int    `json:"layer"`
}

const (
	TileDirty   = "DIRTY"
	TileRebuilt = "REBUILT"
	TileEvicted = "EVICTED"
)

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
