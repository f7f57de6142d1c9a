package container

import "github.com/dkrasnov/serveez/internal/socket"

// SideTable is a map keyed by socket identity, used to attach values to a
// socket (notably its bindings array) without carrying the
// pointer on the Socket struct itself.
type SideTable[V any] struct {
	m map[socket.ID]V
}

// NewSideTable creates an empty SideTable.
func NewSideTable[V any]() *SideTable[V] {
	return &SideTable[V]{m: make(map[socket.ID]V)}
}

// Put attaches v to id.
func (t *SideTable[V]) Put(id socket.ID, v V) { t.m[id] = v }

// Get retrieves the value attached to id.
func (t *SideTable[V]) Get(id socket.ID) (V, bool) {
	v, ok := t.m[id]
	return v, ok
}

// Remove detaches id. The runtime's pre-free hook calls this (through
// binding.Registry.Forget) for every listener the reactor tears down;
// listeners are the only sockets with entries, so the table never leaks
// entries for dead sockets.
func (t *SideTable[V]) Remove(id socket.ID) {
	delete(t.m, id)
}

// Size returns the number of attached entries.
func (t *SideTable[V]) Size() int { return len(t.m) }
