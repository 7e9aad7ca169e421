package cmap

import "sync"

type Map[K comparable, V any] struct {
	cMap sync.Map
}

func NewMap[K comparable, V any]() Map[K, V] {
	return Map[K, V]{}
}

func (m *Map[K, V]) Get(k K) (V, bool) {
	v, exists := m.cMap.Load(k)
	if !exists {
		var zero V
		return zero, false
	}

	return v.(V), true
}

// GetOrSet returns the existing value for k if present, otherwise stores and
// returns v. loaded reports whether the value was already present.
func (m *Map[K, V]) GetOrSet(k K, v V) (actual V, loaded bool) {
	a, loaded := m.cMap.LoadOrStore(k, v)
	return a.(V), loaded
}

func (m *Map[K, V]) Delete(k K) {
	m.cMap.Delete(k)
}
