package socket

import "fmt"

// IDPool allocates unique socket ids from a recyclable range sized by the
// socket-count ceiling. Freed ids are reused, keeping the
// id space dense for use as a side-table key.
type IDPool struct {
	max  int
	free []ID
	next ID
	used int
}

// NewIDPool creates a pool that will never hand out more than max ids
// live at once.
func NewIDPool(max int) *IDPool {
	if max <= 0 {
		max = 1
	}
	return &IDPool{max: max}
}

// Alloc returns a fresh id, or an error if the ceiling has been reached.
func (p *IDPool) Alloc() (ID, error) {
	if len(p.free) > 0 {
		id := p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
		p.used++
		return id, nil
	}
	if p.used >= p.max {
		return 0, fmt.Errorf("socket: id pool exhausted (max %d)", p.max)
	}
	id := p.next
	p.next++
	p.used++
	return id, nil
}

// Free returns an id to the pool, making it available for reuse.
func (p *IDPool) Free(id ID) {
	p.free = append(p.free, id)
	if p.used > 0 {
		p.used--
	}
}

// InUse reports how many ids are currently allocated.
func (p *IDPool) InUse() int { return p.used }

// Max reports the configured ceiling.
func (p *IDPool) Max() int { return p.max }
