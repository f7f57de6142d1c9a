package container

// Map is a string-keyed hash map with an in-place foreach over a
// closure and key/value snapshotting. It is a thin,
// explicit wrapper over the Go builtin map rather than a from-scratch
// hash table: the builtin already gives O(1) amortized insert/lookup/
// delete.
type Map[V any] struct {
	m map[string]V
}

// NewMap creates an empty Map.
func NewMap[V any]() *Map[V] {
	return &Map[V]{m: make(map[string]V)}
}

// Put inserts or overwrites the value for key.
func (m *Map[V]) Put(key string, v V) { m.m[key] = v }

// Get looks up key.
func (m *Map[V]) Get(key string) (V, bool) {
	v, ok := m.m[key]
	return v, ok
}

// Del removes key, reporting whether it was present.
func (m *Map[V]) Del(key string) bool {
	_, ok := m.m[key]
	delete(m.m, key)
	return ok
}

// Size returns the number of entries.
func (m *Map[V]) Size() int { return len(m.m) }

// Keys returns a snapshot of the current keys.
func (m *Map[V]) Keys() []string {
	out := make([]string, 0, len(m.m))
	for k := range m.m {
		out = append(out, k)
	}
	return out
}

// Values returns a snapshot of the current values.
func (m *Map[V]) Values() []V {
	out := make([]V, 0, len(m.m))
	for _, v := range m.m {
		out = append(out, v)
	}
	return out
}

// Each calls fn for every entry. fn may be a closure capturing outer
// state; mutating the map from within fn is not supported.
func (m *Map[V]) Each(fn func(key string, v V)) {
	for k, v := range m.m {
		fn(k, v)
	}
}
