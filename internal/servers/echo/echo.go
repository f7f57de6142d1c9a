// Package echo implements a minimal stream-oriented server type:
// check_request copies the receive buffer into the send buffer and
// clears the consumed fill. It exists to exercise the reactor and
// transports end to end, and doubles as the smallest useful example of
// the server callback contract.
package echo

import (
	"fmt"

	"github.com/dkrasnov/serveez/internal/registry"
	"github.com/dkrasnov/serveez/internal/socket"
)

// TypeName is the server type's registry name.
const TypeName = "echo"

// state counts connections served since startup or the last reset.
type state struct {
	connections int
}

// NewType builds the echo server type descriptor for registration
// with a registry.Registry.
func NewType() *registry.Type {
	return &registry.Type{
		Name: TypeName,
		Items: []registry.Item{
			{Name: "banner", Kind: registry.KindString, HasDefault: true, Default: ""},
		},
		Init:          func(inst *registry.Instance) error { inst.State = &state{}; return nil },
		ConnectSocket: connectSocket,
		InfoServer: func(inst *registry.Instance) string {
			st, _ := inst.State.(*state)
			if st == nil {
				return "echo"
			}
			return fmt.Sprintf("echo, %d connections served", st.connections)
		},
		Reset: func(inst *registry.Instance) {
			if st, ok := inst.State.(*state); ok {
				st.connections = 0
			}
		},
	}
}

// connectSocket wires CheckRequest onto a freshly accepted stream
// socket. It is installed as registry.Type.ConnectSocket, invoked by
// the orchestration layer right after a stream socket is accepted and
// bound to this instance.
func connectSocket(inst *registry.Instance, s *socket.Socket) error {
	if st, ok := inst.State.(*state); ok {
		st.connections++
	}
	banner, _ := inst.Config["banner"].(string)
	if banner != "" {
		if err := s.Send.Append([]byte(banner), socket.MaxBufferSize); err != nil {
			return err
		}
	}
	s.Callbacks.CheckRequest = CheckRequest
	return nil
}

// CheckRequest is the echo server's entire protocol: whatever arrived
// is copied verbatim into the send buffer and the receive buffer is
// drained.
func CheckRequest(s *socket.Socket) error {
	if s.Recv.Fill == 0 {
		return nil
	}
	if err := s.Send.Append(s.Recv.Filled(), socket.MaxBufferSize); err != nil {
		return err
	}
	return s.Recv.Reduce(s.Recv.Fill)
}
