// Package reactor implements the single-threaded, cooperative event
// loop at the heart of the runtime: one readiness computation and
// dispatch pass per tick, over every live socket, with deferred free
// for killed sockets and a process-wide "nuke" shutdown flag.
package reactor

import (
	"context"
	"fmt"
	"time"

	"github.com/dkrasnov/serveez/internal/container"
	"github.com/dkrasnov/serveez/internal/socket"
	"golang.org/x/sys/unix"
)

// PollFunc matches golang.org/x/sys/unix.Poll's signature, overridable
// in tests so the dispatch/teardown logic can be exercised without real
// file descriptors.
type PollFunc func(fds []unix.PollFd, timeoutMs int) (int, error)

// PreFree is invoked once per socket immediately before it is handed to
// Free, discarding per-socket side-table entries and (for listeners)
// the bindings array.
type PreFree func(s *socket.Socket)

// Free performs the actual deallocation: closing the descriptor and
// returning its id to the pool. Kept out of this package so reactor has
// no dependency on a concrete transport or id-pool wiring.
type Free func(s *socket.Socket)

// Reactor owns the live socket collection and drives one dispatch tick
// at a time.
type Reactor struct {
	TickInterval time.Duration
	MaxSockets   int

	// Notify, when non-nil, runs once at the start of every tick, before
	// readiness computation. The runtime context uses it to drive each
	// server instance's notify hook.
	Notify func()

	live        *container.Array[*socket.Socket]
	pendingFree []*socket.Socket
	nuked       bool

	poll    PollFunc
	preFree PreFree
	free    Free
}

// New builds a Reactor. tickInterval is the poll timeout; zero or
// negative selects the one-second default.
func New(tickInterval time.Duration, maxSockets int, preFree PreFree, free Free) *Reactor {
	if tickInterval <= 0 {
		tickInterval = time.Second
	}
	return &Reactor{
		TickInterval: tickInterval,
		MaxSockets:   maxSockets,
		live:         container.NewArray[*socket.Socket](nil),
		poll:         unix.Poll,
		preFree:      preFree,
		free:         free,
	}
}

// SetPollFunc overrides the poll(2) implementation; used by tests.
func (r *Reactor) SetPollFunc(p PollFunc) { r.poll = p }

// AtCapacity reports whether the live-socket ceiling has been reached.
// The TCP accept path consults this right after accepting, tearing the
// new connection down when the ceiling is hit.
func (r *Reactor) AtCapacity() bool {
	return r.MaxSockets > 0 && r.live.Size() >= r.MaxSockets
}

// Add registers a new live socket, rejecting it if the ceiling has been
// reached.
func (r *Reactor) Add(s *socket.Socket) error {
	if r.AtCapacity() {
		return fmt.Errorf("reactor: socket ceiling %d reached", r.MaxSockets)
	}
	r.live.Add(s)
	return nil
}

// Live returns a snapshot of the live socket list.
func (r *Reactor) Live() []*socket.Socket { return r.live.Slice() }

// Nuke sets the process-wide shutdown flag; the next tick finalizes
// every live socket and the reactor's Run loop returns.
func (r *Reactor) Nuke() { r.nuked = true }

// Nuked reports whether shutdown has been requested.
func (r *Reactor) Nuked() bool { return r.nuked }

// Run drives ticks until ctx is cancelled or Nuke is called, finalizing
// with finalize (invoked once, server finalize + live-socket disconnect
// sweep) before returning.
func (r *Reactor) Run(ctx context.Context, finalize func()) error {
	ticker := time.NewTicker(r.TickInterval)
	defer ticker.Stop()
	for {
		if r.nuked {
			if finalize != nil {
				finalize()
			}
			r.disconnectAll()
			return nil
		}
		select {
		case <-ctx.Done():
			if finalize != nil {
				finalize()
			}
			r.disconnectAll()
			return ctx.Err()
		case <-ticker.C:
			if err := r.Tick(); err != nil {
				return err
			}
		}
	}
}

func (r *Reactor) disconnectAll() {
	for _, s := range r.live.Slice() {
		s.Kill()
		_ = s.NotifyDisconnectOnce()
	}
}

// pollEntry pairs a live socket with the indices into the tick's fds
// slice carrying its read and write interest. A pipe socket's RecvFD
// and SendFD are genuinely different descriptors, so readIdx and
// writeIdx may point at two separate unix.PollFd entries; for every
// other socket kind they coincide. -1 means "no interest requested".
type pollEntry struct {
	sock     *socket.Socket
	wantRead bool
	wantOOB  bool
	readIdx  int
	writeIdx int
}

// Tick runs exactly one reactor iteration: the Notify hook, idle
// countdown, readiness computation, ordered dispatch, then deferred
// teardown.
func (r *Reactor) Tick() error {
	sockets := r.live.Slice()

	if r.Notify != nil {
		r.Notify()
	}
	r.tickIdle(sockets)

	fds := make([]unix.PollFd, 0, len(sockets))
	entries := make([]pollEntry, 0, len(sockets))
	for _, s := range sockets {
		if s.Killed() || s.FD < 0 {
			continue
		}
		readFD := s.RecvFD
		if readFD < 0 {
			readFD = s.FD
		}
		writeFD := s.SendFD
		if writeFD < 0 {
			writeFD = s.FD
		}

		wantRead := s.Callbacks.ReadSocket != nil && s.Recv.Space() > 0
		wantOOB := s.Callbacks.ReadSocketOOB != nil
		wantWrite := s.WantsWrite()

		var readEvents int16
		if wantRead {
			readEvents |= unix.POLLIN
		}
		if wantOOB {
			readEvents |= unix.POLLPRI
		}

		readIdx, writeIdx := -1, -1
		if readFD == writeFD {
			events := readEvents
			if wantWrite {
				events |= unix.POLLOUT
			}
			if events != 0 {
				readIdx = len(fds)
				writeIdx = readIdx
				fds = append(fds, unix.PollFd{Fd: int32(readFD), Events: events})
			}
		} else {
			if readEvents != 0 {
				readIdx = len(fds)
				fds = append(fds, unix.PollFd{Fd: int32(readFD), Events: readEvents})
			}
			if wantWrite {
				writeIdx = len(fds)
				fds = append(fds, unix.PollFd{Fd: int32(writeFD), Events: unix.POLLOUT})
			}
		}
		if readIdx < 0 && writeIdx < 0 {
			continue
		}
		entries = append(entries, pollEntry{sock: s, wantRead: wantRead, wantOOB: wantOOB, readIdx: readIdx, writeIdx: writeIdx})
	}

	if len(fds) > 0 {
		if _, err := r.poll(fds, int(r.TickInterval/time.Millisecond)); err != nil && err != unix.EINTR {
			return fmt.Errorf("reactor: poll: %w", err)
		}
	}

	r.dispatch(entries, fds)
	r.reapKilled(sockets)
	r.freePending()
	return nil
}

func (r *Reactor) tickIdle(sockets []*socket.Socket) {
	for _, s := range sockets {
		if s.Killed() {
			continue
		}
		if s.Callbacks.IdleFunc == nil {
			continue
		}
		s.IdleCounter--
		if s.IdleCounter > 0 {
			continue
		}
		next := s.Callbacks.IdleFunc(s)
		if next < 0 {
			s.Kill()
			continue
		}
		s.IdleCounter = next
	}
}

// dispatch runs the five ordered phases of a tick: urgent-read,
// normal-read, urgent-write, normal-write, connect-completion.
func (r *Reactor) dispatch(entries []pollEntry, fds []unix.PollFd) {
	for _, e := range entries {
		if e.sock.Killed() || !e.wantOOB || e.readIdx < 0 {
			continue
		}
		if fds[e.readIdx].Revents&unix.POLLPRI == 0 {
			continue
		}
		if err := e.sock.Callbacks.ReadSocketOOB(e.sock); err != nil {
			e.sock.Kill()
		}
	}
	for _, e := range entries {
		if e.sock.Killed() || !e.wantRead || e.readIdx < 0 {
			continue
		}
		if fds[e.readIdx].Revents&unix.POLLIN == 0 {
			continue
		}
		if err := e.sock.Callbacks.ReadSocket(e.sock); err != nil {
			e.sock.Kill()
		}
	}
	for _, e := range entries {
		if e.sock.Killed() || e.writeIdx < 0 {
			continue
		}
		if fds[e.writeIdx].Revents&unix.POLLOUT == 0 || e.sock.Flags.Has(socket.FlagConnecting) {
			continue
		}
		if e.sock.Callbacks.WriteSocketOOB != nil && e.sock.PendingOOBWrite {
			if err := e.sock.Callbacks.WriteSocketOOB(e.sock); err != nil {
				e.sock.Kill()
				continue
			}
		}
	}
	for _, e := range entries {
		if e.sock.Killed() || e.writeIdx < 0 {
			continue
		}
		if fds[e.writeIdx].Revents&unix.POLLOUT == 0 || e.sock.Flags.Has(socket.FlagConnecting) {
			continue
		}
		if e.sock.Callbacks.WriteSocket == nil {
			continue
		}
		if err := e.sock.Callbacks.WriteSocket(e.sock); err != nil {
			e.sock.Kill()
		}
	}
	for _, e := range entries {
		if e.sock.Killed() || !e.sock.Flags.Has(socket.FlagConnecting) || e.writeIdx < 0 {
			continue
		}
		// A failed connect may report only POLLERR/POLLHUP; either way
		// the handshake is over and connected_socket's SO_ERROR check
		// decides the outcome.
		if fds[e.writeIdx].Revents&(unix.POLLOUT|unix.POLLERR|unix.POLLHUP) == 0 {
			continue
		}
		e.sock.Flags &^= socket.FlagConnecting
		e.sock.Flags |= socket.FlagConnected
		if e.sock.Callbacks.ConnectedSocket != nil {
			if err := e.sock.Callbacks.ConnectedSocket(e.sock); err != nil {
				e.sock.Kill()
			}
		}
	}
}

func (r *Reactor) reapKilled(sockets []*socket.Socket) {
	for _, s := range sockets {
		if !s.Killed() {
			continue
		}
		_ = s.NotifyDisconnectOnce()
		r.releasePeer(s)
		if r.preFree != nil {
			r.preFree(s)
		}
		idx := r.live.Idx(func(v *socket.Socket) bool { return v == s })
		if idx >= 0 {
			r.live.Del(idx)
		}
		r.pendingFree = append(r.pendingFree, s)
	}
}

// releasePeer clears the referer back-link of s's peered counterpart
// and schedules that counterpart for a graceful shutdown. Links are ids, never pointers, so the dead
// socket holds nothing the peer could dangle on.
func (r *Reactor) releasePeer(s *socket.Socket) {
	if !s.HasReferer {
		return
	}
	peerID := s.Referer
	s.HasReferer = false
	for _, peer := range r.live.Slice() {
		if peer.ID != peerID || !peer.HasReferer || peer.Referer != s.ID {
			continue
		}
		peer.HasReferer = false
		peer.Shutdown()
		return
	}
}

// freePending frees the sockets reaped this tick. The free is deferred
// to the end of the tick because a callback dispatched earlier in it
// may still hold the socket's address on its stack.
func (r *Reactor) freePending() {
	if len(r.pendingFree) == 0 {
		return
	}
	for _, s := range r.pendingFree {
		if r.free != nil {
			r.free(s)
		}
	}
	r.pendingFree = r.pendingFree[:0]
}
