package nav

// TileListener receives tile lifecycle notifications. Calls happen on the
// goroutine driving the Awareness.
type TileListener interface {
	// TileDirty fires when the aware dirty queue goes from empty to non-empty.
	TileDirty()
	TileRebuilt(tx, ty int)
	TileEvicted(tx, ty, layer int)
}

// TileListenerFuncs adapts optional funcs to TileListener.
type TileListenerFuncs struct {
	OnDirty   func()
	OnRebuilt func(tx, ty int)
	OnEvicted func(tx, ty, layer int)
}

func (f TileListenerFuncs) TileDirty() {
	if f.OnDirty != nil {
		f.OnDirty()
	}
}

func (f TileListenerFuncs) TileRebuilt(tx, ty int) {
	if f.OnRebuilt != nil {
		f.OnRebuilt(tx, ty)
	}
}

func (f TileListenerFuncs) TileEvicted(tx, ty, layer int) {
	if f.OnEvicted != nil {
		f.OnEvicted(tx, ty, layer)
	}
}

func (a *Awareness) Subscribe(l TileListener) {
	if l != nil {
		a.listeners = append(a.listeners, l)
	}
}

func (a *Awareness) emitDirty() {
	for _, l := range a.listeners {
		l.TileDirty()
	}
}

func (a *Awareness) emitRebuilt(tx, ty int) {
	for _, l := range a.listeners {
		l.TileRebuilt(tx, ty)
	}
}

func (a *Awareness) emitEvicted(tx, ty, layer int) {
	for _, l := range a.listeners {
		l.TileEvicted(tx, ty, layer)
	}
}
