package transport

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/dkrasnov/serveez/internal/portcfg"
	"github.com/dkrasnov/serveez/internal/socket"
	"golang.org/x/sys/unix"
)

// ListenTCP creates a nonblocking stream socket, binds it per port's
// address flag, and starts listening with port.Backlog. Its ReadSocket callback is left nil; the caller
// installs AcceptTCP (or a wrapper around it) once it has an id and a
// capacity check available.
func ListenTCP(port *portcfg.Config) (fd int, err error) {
	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("transport: tcp socket: %w", err)
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
	backlog := port.Backlog
	if backlog <= 0 {
		backlog = portcfg.SOMAXCONNDefault
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("transport: listen: %w", err)
	}
	return fd, nil
}

func bindSockaddr(port *portcfg.Config) (unix.Sockaddr, error) {
	switch port.AddrFlag {
	case portcfg.AddrSpecific:
		if !port.Addr.Is4() {
			return nil, fmt.Errorf("transport: bind address %s is not IPv4", port.Addr)
		}
		return &unix.SockaddrInet4{Port: port.Port, Addr: port.Addr.As4()}, nil
	default:
		// AddrAny and AddrDevice both bind INADDR_ANY and SO_BINDTODEVICE
		// is not set, so a device-bound port accepts on every interface;
		// the binding filter also admits device-bound bindings whatever
		// the local address.
		return &unix.SockaddrInet4{Port: port.Port}, nil
	}
}

// AcceptTCP performs one non-blocking accept4 call, returning the new
// connection's fd and remote address. io.EOF-equivalent "no pending
// connection" is reported via wouldBlock(err) == true.
func AcceptTCP(listenerFD int) (fd int, remote netip.AddrPort, err error) {
	connFD, sa, err := unix.Accept4(listenerFD, unix.SOCK_NONBLOCK)
	if err != nil {
		return -1, netip.AddrPort{}, err
	}
	return connFD, addrPortFromSockaddr(sa), nil
}

// ConnectTCP starts a non-blocking connect to remote. The returned fd is almost always still mid-
// handshake (EINPROGRESS); completion is signalled by write-readiness
// and confirmed by ConnectedStream's SO_ERROR check.
func ConnectTCP(remote netip.AddrPort) (fd int, err error) {
	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("transport: tcp socket: %w", err)
	}
	if err := setNonblocking(fd); err != nil {
		unix.Close(fd)
		return -1, err
	}
	sa, err := sockaddrFromAddrPort(remote)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Connect(fd, sa); err != nil && !wouldBlock(err) {
		unix.Close(fd)
		return -1, fmt.Errorf("transport: connect %s: %w", remote, err)
	}
	return fd, nil
}

// NewConnecting wraps a mid-handshake fd from ConnectTCP into a socket
// the reactor polls for write-readiness. ConnectedStream runs on
// completion; callers wanting their own connected_socket should wrap it
// rather than replace it, so the SO_ERROR check still happens.
func NewConnecting(id socket.ID, fd int, remote netip.AddrPort, port *portcfg.Config) *socket.Socket {
	s := socket.New(id, port.RecvBufferSize, port.SendBufferSize)
	s.FD = fd
	s.RecvFD = fd
	s.SendFD = fd
	s.Kind = socket.KindConnecting
	s.Proto = socket.ProtoTCP
	s.Flags |= socket.FlagSock | socket.FlagConnecting
	s.RemoteAddr = remote.Addr()
	s.RemotePort = remote.Port()
	s.Callbacks.WriteSocket = WriteStream
	s.Callbacks.ConnectedSocket = ConnectedStream
	return s
}

// ConnectedStream is the default connected_socket: it
// inspects the pending socket error via the getsockopt-equivalent,
// materializes local peer info, and installs the default stream
// callbacks. The reactor has already cleared CONNECTING and set
// CONNECTED by the time this runs.
func ConnectedStream(s *socket.Socket) error {
	soErr, err := unix.GetsockoptInt(s.FD, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("transport: getsockopt SO_ERROR: %w", err)
	}
	if soErr != 0 {
		return fmt.Errorf("transport: connect %s:%d: %w", s.RemoteAddr, s.RemotePort, unix.Errno(soErr))
	}
	local, err := LocalAddrPort(s.FD)
	if err != nil {
		return err
	}
	s.LocalAddr = local.Addr()
	s.LocalPort = local.Port()
	s.Kind = socket.KindStream
	s.Callbacks.ReadSocket = ReadStream
	s.Callbacks.WriteSocket = WriteStream
	s.Callbacks.ReadSocketOOB = ReadStreamOOB
	s.Callbacks.WriteSocketOOB = WriteStreamOOB
	return nil
}

// NewStream wraps an already-accepted or already-connected fd into a
// Socket with the default stream read/write callbacks installed.
func NewStream(id socket.ID, fd int, remote, local netip.AddrPort, port *portcfg.Config) *socket.Socket {
	s := socket.New(id, port.RecvBufferSize, port.SendBufferSize)
	s.FD = fd
	s.RecvFD = fd
	s.SendFD = fd
	s.Kind = socket.KindStream
	s.Proto = socket.ProtoTCP
	s.Flags |= socket.FlagSock | socket.FlagConnected
	s.RemoteAddr = remote.Addr()
	s.RemotePort = remote.Port()
	s.LocalAddr = local.Addr()
	s.LocalPort = local.Port()
	s.Callbacks.ReadSocket = ReadStream
	s.Callbacks.WriteSocket = WriteStream
	s.Callbacks.ReadSocketOOB = ReadStreamOOB
	s.Callbacks.WriteSocketOOB = WriteStreamOOB
	return s
}

// ReadStream is the default stream read_socket: bounded recv into the free tail of Recv, last_recv update,
// 0-byte read treated as orderly shutdown, EAGAIN enters a backoff
// window.
func ReadStream(s *socket.Socket) error {
	space := s.Recv.Space()
	if space <= 0 {
		return nil
	}
	if space > ReadCap {
		space = ReadCap
	}
	n, err := unix.Read(s.RecvFD, s.Recv.Tail()[:space])
	if err != nil {
		if wouldBlock(err) {
			s.UnavailableUntil = time.Now().Add(50 * time.Millisecond)
			return nil
		}
		return fmt.Errorf("transport: tcp read: %w", err)
	}
	if n == 0 {
		return ErrPeerClosed
	}
	s.Recv.Fill += n
	s.LastRecv = time.Now()
	if checkFlood(s) {
		return kick(s, false)
	}
	fillBefore := s.Recv.Fill
	if s.Callbacks.CheckRequest != nil {
		if err := s.Callbacks.CheckRequest(s); err != nil {
			return err
		}
	}
	if s.Recv.Space() == 0 && s.Recv.Fill == fillBefore {
		return kick(s, true)
	}
	return nil
}

// ReadStreamOOB is the default stream read_socket_oob: a single
// MSG_OOB byte recv. Platforms or socket states that don't support it
// (EINVAL, ENOTSUP) are a non-fatal no-op rather than an error.
func ReadStreamOOB(s *socket.Socket) error {
	var oob [1]byte
	n, _, err := unix.Recvfrom(s.RecvFD, oob[:], unix.MSG_OOB)
	if err != nil {
		if wouldBlock(err) || errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOTSUP) {
			return nil
		}
		return fmt.Errorf("transport: tcp read oob: %w", err)
	}
	if n == 0 {
		return nil
	}
	s.OOBByte = oob[0]
	if s.Callbacks.CheckRequestOOB != nil {
		return s.Callbacks.CheckRequestOOB(s)
	}
	return nil
}

// WriteStreamOOB is the default stream write_socket_oob: sends the byte
// queued by Socket.QueueOOB. A platform/state that rejects MSG_OOB is
// swallowed the same way ReadStreamOOB swallows it, clearing the pending
// flag so the reactor stops polling for it.
func WriteStreamOOB(s *socket.Socket) error {
	if !s.PendingOOBWrite {
		return nil
	}
	err := unix.Sendto(s.SendFD, []byte{s.OOBByte}, unix.MSG_OOB, nil)
	if err != nil {
		if wouldBlock(err) {
			return nil
		}
		s.PendingOOBWrite = false
		if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOTSUP) {
			return nil
		}
		return fmt.Errorf("transport: tcp write oob: %w", err)
	}
	s.PendingOOBWrite = false
	return nil
}

// WriteStream is the default stream write_socket: sends
// up to WriteCap bytes from Send, shifts the remainder down,
// last_send update. When FlagFinalWrite is set and the buffer has just
// drained, returns ErrFinalWrite to trigger teardown.
func WriteStream(s *socket.Socket) error {
	if s.Send.Fill == 0 {
		s.Flags &^= socket.FlagFlush
		if s.Flags.Has(socket.FlagFinalWrite) {
			return ErrFinalWrite
		}
		return nil
	}
	n := s.Send.Fill
	if n > WriteCap {
		n = WriteCap
	}
	written, err := unix.Write(s.SendFD, s.Send.Filled()[:n])
	if err != nil {
		if wouldBlock(err) {
			s.UnavailableUntil = time.Now().Add(50 * time.Millisecond)
			return nil
		}
		return fmt.Errorf("transport: tcp write: %w", err)
	}
	if err := s.Send.Reduce(written); err != nil {
		return err
	}
	s.LastSend = time.Now()
	if s.Send.Fill == 0 {
		s.Flags &^= socket.FlagFlush
		if s.Flags.Has(socket.FlagFinalWrite) {
			return ErrFinalWrite
		}
	}
	return nil
}
