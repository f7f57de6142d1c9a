package socket

import (
	"net/netip"
	"time"
)

// ID is a unique, monotonic, recyclable socket identifier.
// It is also the key into the property side-table.
type ID int

// Callbacks is the socket's nullable callback vtable. A nil field
// means "absent" and disables the corresponding dispatch; it is a
// first-class state, never a stand-in no-op.
//
// Every callback except IdleFunc returns an error; a non-nil return schedules the
// socket for teardown (FlagKilled) rather than unwinding through the
// reactor, so disconnect hooks always still run.
type Callbacks struct {
	ReadSocket         func(*Socket) error
	WriteSocket        func(*Socket) error
	ReadSocketOOB      func(*Socket) error
	WriteSocketOOB     func(*Socket) error
	CheckRequest       func(*Socket) error
	HandleRequest      func(*Socket, []byte, netip.AddrPort) error
	ConnectedSocket    func(*Socket) error
	DisconnectedSocket func(*Socket) error
	KickedSocket       func(*Socket) error
	// IdleFunc is invoked when IdleCounter reaches zero. It returns the
	// next idle counter value, or -1 to mark the socket KILLED.
	IdleFunc         func(*Socket) int
	CheckRequestOOB  func(*Socket) error
}

// Socket is the central entity of the core runtime.
type Socket struct {
	ID    ID
	Kind  Kind
	Proto Proto
	Flags Flag

	FD     int // OS-level handle; -1 when not backed by a real descriptor
	RecvFD int // pipe read end; equals FD for non-pipe sockets
	SendFD int // pipe write end; equals FD for non-pipe sockets

	RemoteAddr netip.Addr
	RemotePort uint16
	LocalAddr  netip.Addr
	LocalPort  uint16

	Recv Buffer
	Send Buffer

	LastRecv         time.Time
	LastSend         time.Time
	IdleCounter      int
	UnavailableUntil time.Time

	Callbacks Callbacks

	// Data is opaque per-socket state owned by the attached server.
	Data any

	// Referer is a non-owning back-link to a peered socket (e.g. a
	// tunnel source<->target pair). HasReferer distinguishes "peered
	// with socket 0" from "not peered".
	Referer    ID
	HasReferer bool

	// Port is the port configuration that created this socket, set for
	// listeners. It is declared `any` here (rather than a concrete
	// *portcfg.Config) to keep this package free of a dependency on
	// internal/portcfg; callers type-assert it.
	Port any

	// RecvCodecState / SendCodecState hold the codec package's private
	// splice bookkeeping when a decoder/encoder is attached to this
	// socket's receive/send path. Declared `any` for the
	// same reason as Port.
	RecvCodecState any
	SendCodecState any

	// FloodCount / FloodWindowStart back the per-second read-rate
	// flood check.
	FloodCount       int
	FloodWindowStart time.Time

	// Stats receives kicked_socket accounting (flood kicks, buffer
	// overflow kicks) from internal/transport. Declared as an interface
	// here, rather than a concrete *stats.Counters, to keep this package
	// free of a dependency on internal/stats; nil means "not attached",
	// matching the nullable-callback convention above.
	Stats FloodStats

	// OOBByte / PendingOOBWrite hold the single pending urgent byte of
	// the out-of-band path. PendingOOBWrite is cleared once
	// WriteSocketOOB consumes it.
	OOBByte         byte
	PendingOOBWrite bool

	killedNotified bool
}

// FloodStats is the subset of internal/stats.Counters that transport-level
// flood/overflow detection reports to. Structurally satisfied by
// *stats.Counters without an import, mirroring the pendingWriter pattern
// below.
type FloodStats interface {
	RecordFloodKick()
	RecordBufferOverflow()
}

// New allocates a Socket with buffers of the given initial sizes. The id
// must come from an IDPool.
func New(id ID, recvSize, sendSize int) *Socket {
	return &Socket{
		ID:     id,
		FD:     -1,
		RecvFD: -1,
		SendFD: -1,
		Recv:   NewBuffer(recvSize),
		Send:   NewBuffer(sendSize),
	}
}

// WantsRead reports whether the reactor should poll this socket for
// read-readiness: a read callback is installed and Recv has space.
func (s *Socket) WantsRead() bool {
	if s.Flags.Has(FlagKilled) {
		return false
	}
	hasReader := s.Callbacks.ReadSocket != nil || s.Callbacks.ReadSocketOOB != nil
	return hasReader && s.Recv.Space() > 0
}

// pendingWriter lets a socket's opaque Data report outbound work the
// Send buffer doesn't carry (internal/transport's datagram queue keeps
// its own FIFO rather than flattening it into Send), so WantsWrite
// still asks poll(2) for write-readiness on an otherwise idle buffer.
type pendingWriter interface{ PendingWrite() bool }

// WantsWrite reports whether the reactor should poll this socket for
// write-readiness: bytes are queued, a connect is pending (write-
// readiness signals its completion), a flush/final-write is due, or an
// urgent byte waits.
func (s *Socket) WantsWrite() bool {
	if s.Flags.Has(FlagKilled) {
		return false
	}
	if s.Callbacks.WriteSocket == nil {
		return false
	}
	if s.Send.Fill > 0 || s.Flags.Has(FlagConnecting) || s.Flags.Has(FlagFlush) || s.Flags.Has(FlagFinalWrite) {
		return true
	}
	if s.Callbacks.WriteSocketOOB != nil && s.PendingOOBWrite {
		return true
	}
	if pw, ok := s.Data.(pendingWriter); ok {
		return pw.PendingWrite()
	}
	return false
}

// QueueOOB marks b as the next urgent byte to send on this socket's
// out-of-band path, waking the reactor's write interest
// even when Send is otherwise empty.
func (s *Socket) QueueOOB(b byte) {
	s.OOBByte = b
	s.PendingOOBWrite = true
}

// Pair links a and b as peered sockets (e.g. a tunnel's source and
// target). Each side holds only the other's id; teardown of either side
// clears the survivor's link.
func Pair(a, b *Socket) {
	a.Referer, a.HasReferer = b.ID, true
	b.Referer, b.HasReferer = a.ID, true
}

// Kill marks the socket for teardown on the next reactor pass.
func (s *Socket) Kill() { s.Flags |= FlagKilled }

// Shutdown requests a graceful close: the send path drains whatever is
// already queued, then tears down (FlagFinalWrite). If a codec is
// spliced onto the send path, FlagFlush is set alongside it so the
// codec finalizes before the connection goes away.
func (s *Socket) Shutdown() {
	s.Flags |= FlagFinalWrite
	if s.SendCodecState != nil {
		s.Flags |= FlagFlush
	}
}

// Killed reports whether the socket has been marked for teardown.
func (s *Socket) Killed() bool { return s.Flags.Has(FlagKilled) }

// NotifyDisconnectOnce invokes DisconnectedSocket at most once for
// this socket's lifetime, however many teardown paths reach it.
func (s *Socket) NotifyDisconnectOnce() error {
	if s.killedNotified {
		return nil
	}
	s.killedNotified = true
	if s.Callbacks.DisconnectedSocket != nil {
		return s.Callbacks.DisconnectedSocket(s)
	}
	return nil
}
