package transport

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/dkrasnov/serveez/internal/portcfg"
	"github.com/dkrasnov/serveez/internal/socket"
	"golang.org/x/sys/unix"
)

// datagramMsg is one queued outbound packet.
type datagramMsg struct {
	addr netip.AddrPort
	data []byte
}

// DatagramQueue is the FIFO WriteDatagram drains, attached to a
// datagram socket's Data field.
type DatagramQueue struct {
	pending []datagramMsg
}

// Enqueue appends an outbound packet to the FIFO.
func (q *DatagramQueue) Enqueue(addr netip.AddrPort, data []byte) {
	cp := append([]byte(nil), data...)
	q.pending = append(q.pending, datagramMsg{addr: addr, data: cp})
}

func (q *DatagramQueue) empty() bool { return len(q.pending) == 0 }

// PendingWrite satisfies socket.Socket's pendingWriter interface so the
// reactor polls a datagram socket for write-readiness even though a
// queued outbound packet never touches the Send buffer.
func (q *DatagramQueue) PendingWrite() bool { return !q.empty() }

// ListenUDP creates a nonblocking datagram socket bound per port.
func ListenUDP(port *portcfg.Config) (fd int, err error) {
	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return -1, fmt.Errorf("transport: udp socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("transport: setsockopt SO_REUSEADDR: %w", err)
	}
	if err := setNonblocking(fd); err != nil {
		unix.Close(fd)
		return -1, err
	}
	sa, err := bindSockaddr(port)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("transport: bind: %w", err)
	}
	return fd, nil
}

// NewDatagram wraps a bound UDP fd into a Socket with the default
// recvfrom/sendto callbacks installed. The caller is responsible for
// setting Callbacks.HandleRequest to the binding-filter-driven
// dispatch; ReadDatagram merely invokes it once per packet.
func NewDatagram(id socket.ID, fd int, local netip.AddrPort, port *portcfg.Config) *socket.Socket {
	s := socket.New(id, port.RecvBufferSize, port.SendBufferSize)
	s.FD = fd
	s.RecvFD = fd
	s.SendFD = fd
	s.Kind = socket.KindDatagram
	s.Proto = socket.ProtoUDP
	s.Flags |= socket.FlagSock
	s.LocalAddr = local.Addr()
	s.LocalPort = local.Port()
	s.Data = &DatagramQueue{}
	s.Callbacks.ReadSocket = ReadDatagram
	s.Callbacks.WriteSocket = WriteDatagram
	return s
}

// ReadDatagram is the default UDP read_socket: receive
// one datagram into a scratch buffer, fill the socket's remote
// addr/port, then invoke HandleRequest. Routing among several servers
// sharing the listener (the binding filter) lives in HandleRequest,
// installed by the caller.
func ReadDatagram(s *socket.Socket) error {
	buf := scratchPool.Get()
	defer scratchPool.Put(buf)
	n, sa, err := unix.Recvfrom(s.RecvFD, buf, 0)
	if err != nil {
		if wouldBlock(err) {
			s.UnavailableUntil = time.Now().Add(50 * time.Millisecond)
			return nil
		}
		return fmt.Errorf("transport: udp recvfrom: %w", err)
	}
	remote := addrPortFromSockaddr(sa)
	s.RemoteAddr = remote.Addr()
	s.RemotePort = remote.Port()
	s.LastRecv = time.Now()
	if checkFlood(s) {
		return kick(s, false)
	}
	if s.Callbacks.HandleRequest != nil {
		return s.Callbacks.HandleRequest(s, buf[:n], remote)
	}
	return nil
}

// WriteDatagram is the default UDP write_socket: drains queued
// datagrams from the socket's DatagramQueue via sendto.
func WriteDatagram(s *socket.Socket) error {
	q, _ := s.Data.(*DatagramQueue)
	if q == nil || q.empty() {
		return nil
	}
	for !q.empty() {
		msg := q.pending[0]
		sa, err := sockaddrFromAddrPort(msg.addr)
		if err != nil {
			return err
		}
		if err := unix.Sendto(s.SendFD, msg.data, 0, sa); err != nil {
			if wouldBlock(err) {
				s.UnavailableUntil = time.Now().Add(50 * time.Millisecond)
				return nil
			}
			return fmt.Errorf("transport: udp sendto: %w", err)
		}
		q.pending = q.pending[1:]
		s.LastSend = time.Now()
	}
	return nil
}
