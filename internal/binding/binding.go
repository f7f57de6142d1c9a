// Package binding implements the port-configuration/binding registry:
// bind/unbind, listener takeover, and the binding filter
// that routes an accepted connection or received datagram to the right
// server among several sharing one listener.
package binding

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/dkrasnov/serveez/internal/container"
	"github.com/dkrasnov/serveez/internal/iface"
	"github.com/dkrasnov/serveez/internal/portcfg"
	"github.com/dkrasnov/serveez/internal/socket"
)

// Server is the subset of a server instance the binding registry needs.
// internal/registry's Instance satisfies this; binding does not import
// registry, so the dependency runs one way only.
type Server interface {
	// InstanceName identifies the server instance for dedup/logging.
	InstanceName() string
}

// Binding is a (server, port-config) pair attached to a listener.
type Binding struct {
	Server Server
	Port   *portcfg.Config
}

// ErrConflict is returned by Bind when the new port config shares a port
// with an existing listener but uses a mutually exclusive binding style.
var ErrConflict = errors.New("binding: conflicting port configuration")

// CreateListener builds and starts listening on a concrete (already
// expand()-ed) port config, returning the new listener socket. The
// registry never creates sockets itself; it is supplied this factory by
// the runtime context, keeping binding free of a dependency on transport.
type CreateListener func(port *portcfg.Config) (*socket.Socket, error)

// DestroyListener tears down a listener socket that has lost its last
// binding.
type DestroyListener func(l *socket.Socket) error

// Registry maps servers onto listener sockets: bind/unbind, takeover,
// and the per-packet binding filter.
type Registry struct {
	ifaces    *iface.List
	create    CreateListener
	destroy   DestroyListener
	listeners *container.Array[*socket.Socket]
	bindings  *container.SideTable[[]Binding]
}

// NewRegistry builds an empty binding registry. ifaces supplies the
// interface list used to expand wildcard-NOIP port configs.
func NewRegistry(ifaces *iface.List, create CreateListener, destroy DestroyListener) *Registry {
	return &Registry{
		ifaces:    ifaces,
		create:    create,
		destroy:   destroy,
		listeners: container.NewArray[*socket.Socket](nil),
		bindings:  container.NewSideTable[[]Binding](),
	}
}

// Listeners returns a snapshot of the live listener sockets.
func (r *Registry) Listeners() []*socket.Socket {
	return r.listeners.Slice()
}

// BindingsOf returns the bindings attached to a listener socket.
func (r *Registry) BindingsOf(l *socket.Socket) []Binding {
	v, ok := r.bindings.Get(l.ID)
	if !ok {
		return nil
	}
	return v
}

// Bind expands port into concrete configs, then for each one locates a
// compatible listener, creating, merging into, or taking over an
// existing one as required.
func (r *Registry) Bind(server Server, port *portcfg.Config) error {
	var ifs []iface.Record
	if r.ifaces != nil {
		ifs = r.ifaces.All()
	}
	for _, concrete := range portcfg.Expand(port, ifs) {
		if err := concrete.Validate(); err != nil {
			return fmt.Errorf("binding: bind %s: %w", server.InstanceName(), err)
		}
		if err := r.bindOne(server, concrete); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) bindOne(server Server, port *portcfg.Config) error {
	for _, l := range r.listeners.Slice() {
		existing, _ := l.Port.(*portcfg.Config)
		if existing == nil {
			continue
		}
		switch portcfg.Equal(existing, port) {
		case portcfg.CONFLICT:
			return fmt.Errorf("binding: bind %s on %v: %w", server.InstanceName(), port, ErrConflict)
		case portcfg.EQUAL:
			r.appendBinding(l, Binding{Server: server, Port: port}, true)
			return nil
		case portcfg.MATCH:
			if port.AddrFlag == portcfg.AddrAny && existing.AddrFlag != portcfg.AddrAny {
				return r.takeover(l, server, port)
			}
			r.appendBinding(l, Binding{Server: server, Port: port}, false)
			return nil
		}
	}
	return r.createListener(server, port)
}

// takeover handles a wildcard bind arriving while narrower listeners
// already cover parts of it: every listener the new wildcard bind covers is
// merged into one new wildcard listener and torn down.
func (r *Registry) takeover(narrow *socket.Socket, server Server, port *portcfg.Config) error {
	merged := append([]Binding(nil), r.BindingsOf(narrow)...)
	merged = append(merged, Binding{Server: server, Port: port})

	toTear := []*socket.Socket{narrow}
	for _, l := range r.listeners.Slice() {
		if l == narrow {
			continue
		}
		existing, _ := l.Port.(*portcfg.Config)
		if existing == nil {
			continue
		}
		if portcfg.Equal(existing, port) == portcfg.MATCH && existing.AddrFlag != portcfg.AddrAny {
			merged = append(merged, r.BindingsOf(l)...)
			toTear = append(toTear, l)
		}
	}

	wildcard, err := r.create(port)
	if err != nil {
		return fmt.Errorf("binding: takeover for %s: %w", server.InstanceName(), err)
	}
	wildcard.Port = port
	r.bindings.Put(wildcard.ID, merged)
	r.listeners.Add(wildcard)

	for _, l := range toTear {
		r.bindings.Remove(l.ID)
		r.listeners.Del(r.listeners.Idx(func(s *socket.Socket) bool { return s == l }))
		if r.destroy != nil {
			if err := r.destroy(l); err != nil {
				return fmt.Errorf("binding: takeover teardown: %w", err)
			}
		}
	}
	return nil
}

func (r *Registry) createListener(server Server, port *portcfg.Config) error {
	l, err := r.create(port)
	if err != nil {
		return fmt.Errorf("binding: create listener for %s: %w", server.InstanceName(), err)
	}
	l.Port = port
	r.listeners.Add(l)
	r.bindings.Put(l.ID, []Binding{{Server: server, Port: port}})
	return nil
}

// appendBinding adds b to l's bindings, deduplicating by EQUAL port
// config when dedup is true.
func (r *Registry) appendBinding(l *socket.Socket, b Binding, dedup bool) {
	existing := r.BindingsOf(l)
	if dedup {
		for _, cur := range existing {
			if cur.Server == b.Server && portcfg.Equal(cur.Port, b.Port) == portcfg.EQUAL {
				return
			}
		}
	}
	r.bindings.Put(l.ID, append(existing, b))
}

// Forget discards l's side-table bindings entry and drops it from the
// listener list without closing its descriptor. The reactor's pre-free
// hook calls this for a listener the reactor itself is tearing down
// (as opposed to one retired via Unbind/takeover).
func (r *Registry) Forget(l *socket.Socket) {
	r.bindings.Remove(l.ID)
	if idx := r.listeners.Idx(func(s *socket.Socket) bool { return s == l }); idx >= 0 {
		r.listeners.Del(idx)
	}
}

// Unbind removes every binding belonging to server, tearing down any
// listener whose binding count falls to zero.
func (r *Registry) Unbind(server Server) error {
	for _, l := range append([]*socket.Socket(nil), r.listeners.Slice()...) {
		existing := r.BindingsOf(l)
		kept := existing[:0:0]
		for _, b := range existing {
			if b.Server != server {
				kept = append(kept, b)
			}
		}
		if len(kept) == len(existing) {
			continue
		}
		if len(kept) == 0 {
			r.bindings.Remove(l.ID)
			r.listeners.Del(r.listeners.Idx(func(s *socket.Socket) bool { return s == l }))
			if r.destroy != nil {
				if err := r.destroy(l); err != nil {
					return fmt.Errorf("binding: unbind teardown: %w", err)
				}
			}
			continue
		}
		r.bindings.Put(l.ID, kept)
	}
	return nil
}

// Filter returns, for a listener and the incoming local destination,
// the subset of its bindings that should receive the packet or
// connection.
func Filter(l *socket.Socket, port *portcfg.Config, localAddr netip.Addr, localPort uint16, bindings []Binding) []Binding {
	if port.Proto == portcfg.ProtoPipe {
		return bindings
	}
	var out []Binding
	for _, b := range bindings {
		if port.Proto != portcfg.ProtoICMP && port.Proto != portcfg.ProtoRAW {
			if b.Port.Port != int(localPort) {
				continue
			}
		}
		switch b.Port.AddrFlag {
		case portcfg.AddrAny, portcfg.AddrDevice:
			out = append(out, b)
		case portcfg.AddrSpecific:
			if b.Port.Addr == localAddr {
				out = append(out, b)
			}
		default:
			out = append(out, b)
		}
	}
	return out
}
