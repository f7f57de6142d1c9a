// Package transport implements the default read/write/accept routines
// for each protocol serveez speaks: TCP, UDP, ICMP/RAW, and pipe. Each
// file provides the socket construction routine for one transport plus
// its default Callbacks; policy that spans sockets (binding selection,
// detection, registry bookkeeping) is left to the caller, wired in
// through the existing socket.Callbacks fields so this package never
// imports internal/binding or internal/reactor.
//
// Non-blocking fd setup, accept4, connect, and raw socket option
// control go through golang.org/x/sys/unix; net.Conn does not expose
// the descriptor-level control the reactor's polling model needs.
package transport

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/dkrasnov/serveez/internal/pool"
	"github.com/dkrasnov/serveez/internal/socket"
	"golang.org/x/sys/unix"
)

// ReadCap / WriteCap bound how many bytes a single tick's read_socket
// or write_socket call may move, so one busy socket cannot starve the
// rest of the tick.
const (
	ReadCap  = 64 * 1024
	WriteCap = 64 * 1024
)

// FloodReadsPerSecond is the flood threshold: a socket whose
// read_socket callback runs more than this many times within one
// one-second window (see checkFlood) is kicked unless FlagNoFlood is set.
const FloodReadsPerSecond = 100

// ErrFinalWrite is returned by WriteStream when FlagFinalWrite was set
// and the send buffer has just drained, triggering teardown.
var ErrFinalWrite = errors.New("transport: final write complete")

// ErrPeerClosed distinguishes an orderly shutdown (0-byte read) from a
// genuine transport error for logging severity.
var ErrPeerClosed = errors.New("transport: peer closed")

// ErrFlood is returned by a read routine when a socket exceeded
// FloodReadsPerSecond, triggering kicked_socket then teardown.
var ErrFlood = errors.New("transport: flood threshold exceeded")

// ErrOverflow is returned when the recv buffer filled without
// check_request consuming anything.
var ErrOverflow = errors.New("transport: recv buffer overflow")

// scratchPool backs the single per-read scratch buffer used by the
// datagram-shaped transports (UDP, ICMP/RAW), avoiding one make([]byte)
// per tick on the hot read path.
var scratchPool = pool.New(func() []byte { return make([]byte, ReadCap) })

// checkFlood accounts one read_socket invocation against s's one-second
// window, which restarts at the first read after the previous window has
// expired, and reports whether the threshold was exceeded.
// FlagNoFlood exempts the socket entirely.
func checkFlood(s *socket.Socket) bool {
	if s.Flags.Has(socket.FlagNoFlood) {
		return false
	}
	now := time.Now()
	if now.Sub(s.FloodWindowStart) >= time.Second {
		s.FloodWindowStart = now
		s.FloodCount = 0
	}
	s.FloodCount++
	return s.FloodCount > FloodReadsPerSecond
}

// kick fires KickedSocket (if attached) and records the event in s.Stats,
// returning the sentinel error that tells the caller to tear the socket
// down.
func kick(s *socket.Socket, overflow bool) error {
	if s.Callbacks.KickedSocket != nil {
		_ = s.Callbacks.KickedSocket(s)
	}
	if s.Stats != nil {
		if overflow {
			s.Stats.RecordBufferOverflow()
		} else {
			s.Stats.RecordFloodKick()
		}
	}
	if overflow {
		return ErrOverflow
	}
	return ErrFlood
}

func setNonblocking(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("transport: set nonblocking: %w", err)
	}
	return nil
}

func wouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINPROGRESS)
}

func sockaddrFromAddrPort(ap netip.AddrPort) (*unix.SockaddrInet4, error) {
	if !ap.Addr().Is4() {
		return nil, fmt.Errorf("transport: %s is not an IPv4 address", ap.Addr())
	}
	sa := &unix.SockaddrInet4{Port: int(ap.Port())}
	sa.Addr = ap.Addr().As4()
	return sa, nil
}

func addrPortFromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port))
	default:
		return netip.AddrPort{}
	}
}

// LocalAddrPort performs a getsockname(2) lookup, used by the binding
// filter to learn what local address/port a freshly accepted or bound
// socket is actually reachable on, which matters for a wildcard
// listener accepting on one of several local interfaces.
func LocalAddrPort(fd int) (netip.AddrPort, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("transport: getsockname: %w", err)
	}
	return addrPortFromSockaddr(sa), nil
}
