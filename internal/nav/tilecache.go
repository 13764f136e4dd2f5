package nav

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Walkability values stored per cell.
const (
	AreaNull   uint8 = 0
	AreaGround uint8 = 63
)

type tileKey struct{ X, Y int }

type layerKey struct {
	tileKey
	Layer int
}

// TileLayer is one rasterized floor of a tile: a Width x Height cell grid
// (row-major, y outer) of walkability and ground height.
type TileLayer struct {
	TX       int       `msgpack:"tx"`
	TY       int       `msgpack:"ty"`
	Layer    int       `msgpack:"l"`
	Width    int       `msgpack:"w"`
	Height   int       `msgpack:"h"`
	OriginX  float64   `msgpack:"ox"`
	OriginY  float64   `msgpack:"oy"`
	CellSize float64   `msgpack:"cs"`
	Areas    []uint8   `msgpack:"a"`
	Heights  []float32 `msgpack:"z"`
}

func (l *TileLayer) Walkable(x, y int) bool { return l.Areas[y*l.Width+x] != AreaNull }

// tileCache stores compressed layers keyed by tile and layer index.
type tileCache struct {
	enc *zstd.Encoder
	dec *zstd.Decoder

	layers    map[layerKey][]byte
	perTile   map[tileKey][]int
	maxLayers int
	bytes     int
}

func newTileCache(maxLayers int) (*tileCache, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("tile cache encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("tile cache decoder: %w", err)
	}
	return &tileCache{
		enc:       enc,
		dec:       dec,
		layers:    map[layerKey][]byte{},
		perTile:   map[tileKey][]int{},
		maxLayers: maxLayers,
	}, nil
}

func (c *tileCache) close() {
	if c.enc != nil {
		_ = c.enc.Close()
		c.enc = nil
	}
	if c.dec != nil {
		c.dec.Close()
		c.dec = nil
	}
}

// put replaces any layer stored under the same key.
func (c *tileCache) put(l *TileLayer) error {
	k := layerKey{tileKey{l.TX, l.TY}, l.Layer}
	old, replacing := c.layers[k]
	if !replacing && len(c.layers) >= c.maxLayers {
		return ErrTileCacheFull
	}
	raw, err := msgpack.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode layer: %w", err)
	}
	data := c.enc.EncodeAll(raw, make([]byte, 0, len(raw)/4))
	if replacing {
		c.bytes -= len(old)
	} else {
		c.perTile[k.tileKey] = append(c.perTile[k.tileKey], k.Layer)
	}
	c.layers[k] = data
	c.bytes += len(data)
	return nil
}

func (c *tileCache) get(tx, ty, layer int) (*TileLayer, error) {
	data, ok := c.layers[layerKey{tileKey{tx, ty}, layer}]
	if !ok {
		return nil, nil
	}
	raw, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress layer %d,%d/%d: %w", tx, ty, layer, err)
	}
	var l TileLayer
	if err := msgpack.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("decode layer %d,%d/%d: %w", tx, ty, layer, err)
	}
	return &l, nil
}

func (c *tileCache) has(tx, ty, layer int) bool {
	_, ok := c.layers[layerKey{tileKey{tx, ty}, layer}]
	return ok
}

func (c *tileCache) layersAt(tx, ty int) []int {
	return append([]int(nil), c.perTile[tileKey{tx, ty}]...)
}

func (c *tileCache) remove(tx, ty, layer int) bool {
	k := layerKey{tileKey{tx, ty}, layer}
	data, ok := c.layers[k]
	if !ok {
		return false
	}
	c.bytes -= len(data)
	delete(c.layers, k)
	ls := c.perTile[k.tileKey]
	for i, v := range ls {
		if v == layer {
			ls = append(ls[:i], ls[i+1:]...)
			break
		}
	}
	if len(ls) == 0 {
		delete(c.perTile, k.tileKey)
	} else {
		c.perTile[k.tileKey] = ls
	}
	return true
}

// tiles lists every tile with at least one stored layer.
func (c *tileCache) tiles() []tileKey {
	out := make([]tileKey, 0, len(c.perTile))
	for k := range c.perTile {
		out = append(out, k)
	}
	return out
}

func (c *tileCache) layerCount() int { return len(c.layers) }
