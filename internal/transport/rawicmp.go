package transport

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/dkrasnov/serveez/internal/portcfg"
	"github.com/dkrasnov/serveez/internal/socket"
	"golang.org/x/sys/unix"
)

// OpenRaw creates a raw IPPROTO_ICMP or IPPROTO_RAW socket. Raw sockets are not port-addressed; several
// serveez tenants may share one via port.ICMPSubType, resolved in the
// runtime's datagram dispatch (after the binding filter) rather than at
// the socket layer.
func OpenRaw(port *portcfg.Config) (fd int, err error) {
	proto := unix.IPPROTO_ICMP
	if port.Proto == portcfg.ProtoRAW {
		proto = unix.IPPROTO_RAW
	}
	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_RAW, proto)
	if err != nil {
		return -1, fmt.Errorf("transport: raw socket: %w", err)
	}
	if err := setNonblocking(fd); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// NewRaw wraps a raw socket fd into a Socket with the default recvfrom
// callback installed, mirroring NewDatagram's "receive, then dispatch
// via HandleRequest" shape.
func NewRaw(id socket.ID, fd int, local netip.AddrPort, port *portcfg.Config) *socket.Socket {
	s := socket.New(id, port.RecvBufferSize, port.SendBufferSize)
	s.FD = fd
	s.RecvFD = fd
	s.SendFD = fd
	s.Kind = socket.KindRaw
	if port.Proto == portcfg.ProtoRAW {
		s.Proto = socket.ProtoRAW
	} else {
		s.Proto = socket.ProtoICMP
	}
	s.Flags |= socket.FlagSock
	s.LocalAddr = local.Addr()
	s.Data = &DatagramQueue{}
	s.Callbacks.ReadSocket = ReadRaw
	s.Callbacks.WriteSocket = WriteRaw
	return s
}

// ReadRaw receives one raw packet and dispatches it to HandleRequest;
// ICMPSubType filtering is done by the HandleRequest dispatch the caller
// installs, not by this routine.
func ReadRaw(s *socket.Socket) error {
	buf := scratchPool.Get()
	defer scratchPool.Put(buf)
	n, sa, err := unix.Recvfrom(s.RecvFD, buf, 0)
	if err != nil {
		if wouldBlock(err) {
			s.UnavailableUntil = time.Now().Add(50 * time.Millisecond)
			return nil
		}
		return fmt.Errorf("transport: raw recvfrom: %w", err)
	}
	remote := addrPortFromSockaddr(sa)
	s.RemoteAddr = remote.Addr()
	s.LastRecv = time.Now()
	if checkFlood(s) {
		return kick(s, false)
	}
	if s.Callbacks.HandleRequest != nil {
		return s.Callbacks.HandleRequest(s, buf[:n], remote)
	}
	return nil
}

// WriteRaw drains queued raw packets the same way WriteDatagram does.
func WriteRaw(s *socket.Socket) error {
	return WriteDatagram(s)
}
