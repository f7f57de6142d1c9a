// Package echodgram implements a minimal datagram-oriented server
// type: handle_request writes the received payload straight back to
// the peer. The handler is declared at the registry.Type level (rather
// than installed by connect_socket) because a datagram is dispatched
// to every surviving binding on a shared listener, not to a single
// per-socket callback slot.
package echodgram

import (
	"net/netip"

	"github.com/dkrasnov/serveez/internal/registry"
	"github.com/dkrasnov/serveez/internal/socket"
	"github.com/dkrasnov/serveez/internal/transport"
)

// TypeName is the server type's registry name.
const TypeName = "echo-dgram"

// NewType builds the echo-dgram server type descriptor.
func NewType() *registry.Type {
	return &registry.Type{
		Name:          TypeName,
		HandleRequest: handleRequest,
	}
}

// handleRequest queues buf back to remote on s's datagram queue,
// letting the transport's WriteDatagram drain it on the next
// write-ready tick (internal/transport/udp.go's DatagramQueue).
func handleRequest(inst *registry.Instance, s *socket.Socket, buf []byte, remote netip.AddrPort) error {
	queue, ok := s.Data.(*transport.DatagramQueue)
	if !ok {
		return nil
	}
	queue.Enqueue(remote, buf)
	return nil
}
