// Package stats collects process-wide reactor and socket counters.
//
// Counter writes happen on the reactor thread; reads come from the
// admin API's own goroutine, so everything is atomic.
package stats

import "sync/atomic"

// Counters is safe for concurrent use; the reactor itself is single-
// threaded, but the admin API reads
// these from a separate goroutine.
type Counters struct {
	acceptsTotal     atomic.Uint64
	acceptsRejected  atomic.Uint64
	connectsRejected atomic.Uint64
	socketsKilled    atomic.Uint64
	floodKicks       atomic.Uint64
	bufferOverflows  atomic.Uint64
	datagramsDropped atomic.Uint64
	accessDenied     atomic.Uint64
}

// New creates an empty Counters.
func New() *Counters { return &Counters{} }

func (c *Counters) RecordAccept()           { c.acceptsTotal.Add(1) }
func (c *Counters) RecordAcceptRejected()   { c.acceptsRejected.Add(1) }
func (c *Counters) RecordConnectRejected()  { c.connectsRejected.Add(1) }
func (c *Counters) RecordSocketKilled()     { c.socketsKilled.Add(1) }
func (c *Counters) RecordFloodKick()        { c.floodKicks.Add(1) }
func (c *Counters) RecordBufferOverflow()   { c.bufferOverflows.Add(1) }
func (c *Counters) RecordDatagramDropped()  { c.datagramsDropped.Add(1) }
func (c *Counters) RecordAccessDenied()     { c.accessDenied.Add(1) }

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	AcceptsTotal     uint64
	AcceptsRejected  uint64
	ConnectsRejected uint64
	SocketsKilled    uint64
	FloodKicks       uint64
	BufferOverflows  uint64
	DatagramsDropped uint64
	AccessDenied     uint64
}

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		AcceptsTotal:     c.acceptsTotal.Load(),
		AcceptsRejected:  c.acceptsRejected.Load(),
		ConnectsRejected: c.connectsRejected.Load(),
		SocketsKilled:    c.socketsKilled.Load(),
		FloodKicks:       c.floodKicks.Load(),
		BufferOverflows:  c.bufferOverflows.Load(),
		DatagramsDropped: c.datagramsDropped.Load(),
		AccessDenied:     c.accessDenied.Load(),
	}
}
