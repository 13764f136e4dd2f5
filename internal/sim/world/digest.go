package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
)

// Digest hashes the entity registry and navigation counters. Two worlds fed
// the same operations at the same times produce the same digest.
func (w *World) Digest() string {
	h := sha256.New()
	var buf [8]byte
	putF := func(f float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
		h.Write(buf[:])
	}
	putI := func(i int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(i))
		h.Write(buf[:])
	}
	for _, id := range w.sortedEntityIDs() {
		e := w.entities[id]
		h.Write([]byte(id))
		for _, v := range e.loc.Pos {
			putF(v)
		}
		for _, v := range e.loc.Velocity {
			putF(v)
		}
		putF(e.sightRadius)
		if e.observer {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	}
	st := w.aware.Stats()
	putI(st.AwareTiles)
	putI(st.DirtyAware)
	putI(st.ActiveTiles)
	putI(st.Footprints)
	putI(st.Moving)
	putI(w.disp.Len())
	return hex.EncodeToString(h.Sum(nil))
}
