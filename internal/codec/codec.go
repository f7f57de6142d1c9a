// Package codec implements the streaming-transform splice pipeline: an
// encoder or decoder is transparently spliced into a socket's receive
// or send path by swapping the saved check_request/write_socket
// callback for a wrapper, and (for the duration of that wrapper's call
// into the saved callback) swapping the socket's buffer for the
// codec's own.
//
// Buffer is a value type (flat slice + fill pointer), not a pointer
// the codec could alias past its call, so the swap below is an
// ordinary struct assignment restored before return; the server
// callback only ever observes one consistent view at a time.
package codec

import (
	"errors"
	"fmt"

	"github.com/dkrasnov/serveez/internal/socket"
)

// Impl is one codec implementation. Code treats the socket's currently buffered bytes as one
// complete message: it either produces the whole result (consumed ==
// len(in)) or reports ErrIncomplete so the caller waits for more bytes
// to arrive on the next read, or reports more == true so the caller
// grows its output buffer and retries the same input.
type Impl interface {
	Init(encode bool) error
	Code(in, out []byte) (consumed, produced int, more bool, err error)
	Finalize() error
	Ratio() float64
	DetectionSize() int
	MatchesMagic(prefix []byte) bool
	Name() string
}

// ErrIncomplete signals that in does not yet hold a complete decodable
// unit; the caller must leave the raw bytes buffered and retry once
// more arrive, rather than treating this as a real codec error.
var ErrIncomplete = errors.New("codec: need more input")

// Detect returns the first impl among candidates whose magic matches
// the start of raw, or nil if none do.
func Detect(candidates []Impl, raw []byte) Impl {
	for _, impl := range candidates {
		n := impl.DetectionSize()
		if n <= 0 || len(raw) < n {
			continue
		}
		if impl.MatchesMagic(raw[:n]) {
			return impl
		}
	}
	return nil
}

type recvState struct {
	impl              Impl
	savedCheckRequest func(*socket.Socket) error
	savedDisconnected func(*socket.Socket) error
	outBuf            socket.Buffer
}

type sendState struct {
	impl             Impl
	savedWriteSocket func(*socket.Socket) error
	outBuf           socket.Buffer
}

// SpliceRecv installs impl as a decoder on s's receive path.
func SpliceRecv(s *socket.Socket, impl Impl) error {
	if err := impl.Init(false); err != nil {
		return fmt.Errorf("codec: init decoder %s: %w", impl.Name(), err)
	}
	st := &recvState{
		impl:              impl,
		savedCheckRequest: s.Callbacks.CheckRequest,
		savedDisconnected: s.Callbacks.DisconnectedSocket,
		outBuf:            socket.NewBuffer(4096),
	}
	s.RecvCodecState = st
	s.Callbacks.CheckRequest = recvWrapper
	s.Callbacks.DisconnectedSocket = recvTeardown
	return nil
}

// SpliceSend installs impl as an encoder on s's send path, symmetric to
// SpliceRecv.
func SpliceSend(s *socket.Socket, impl Impl) error {
	if err := impl.Init(true); err != nil {
		return fmt.Errorf("codec: init encoder %s: %w", impl.Name(), err)
	}
	st := &sendState{
		impl:             impl,
		savedWriteSocket: s.Callbacks.WriteSocket,
		outBuf:           socket.NewBuffer(4096),
	}
	s.SendCodecState = st
	s.Callbacks.WriteSocket = sendWrapper
	return nil
}

// recvWrapper is spliced in as Callbacks.CheckRequest: it decodes the
// raw bytes currently in s.Recv, then hands the saved check_request a
// view of the decoded output before restoring the raw view.
func recvWrapper(s *socket.Socket) error {
	st, ok := s.RecvCodecState.(*recvState)
	if !ok || st == nil {
		return nil
	}
	raw := s.Recv.Filled()
	if len(raw) == 0 {
		return nil
	}
	for {
		consumed, produced, more, err := st.impl.Code(raw, st.outBuf.Tail())
		if errors.Is(err, ErrIncomplete) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("codec: decode %s: %w", st.impl.Name(), err)
		}
		if !more {
			st.outBuf.Fill += produced
			if err := s.Recv.Reduce(consumed); err != nil {
				return err
			}
			break
		}
		if err := st.outBuf.Grow(st.outBuf.Size()*2, socket.MaxBufferSize); err != nil {
			return fmt.Errorf("codec: grow decode buffer: %w", err)
		}
	}
	if st.outBuf.Fill == 0 {
		return nil
	}
	if st.savedCheckRequest == nil {
		st.outBuf.Reset()
		return nil
	}
	saved := s.Recv
	s.Recv = st.outBuf
	err := st.savedCheckRequest(s)
	st.outBuf = s.Recv
	s.Recv = saved
	return err
}

func recvTeardown(s *socket.Socket) error {
	st, ok := s.RecvCodecState.(*recvState)
	if !ok || st == nil {
		return nil
	}
	_ = st.impl.Finalize()
	if st.savedDisconnected != nil {
		return st.savedDisconnected(s)
	}
	return nil
}

// sendWrapper is spliced in as Callbacks.WriteSocket: it encodes
// whatever plaintext the server queued in s.Send, then hands the saved
// write_socket a view of the encoded output.
func sendWrapper(s *socket.Socket) error {
	st, ok := s.SendCodecState.(*sendState)
	if !ok || st == nil {
		return nil
	}
	if plain := s.Send.Filled(); len(plain) > 0 {
		for {
			consumed, produced, more, err := st.impl.Code(plain, st.outBuf.Tail())
			if err != nil {
				return fmt.Errorf("codec: encode %s: %w", st.impl.Name(), err)
			}
			if !more {
				st.outBuf.Fill += produced
				if err := s.Send.Reduce(consumed); err != nil {
					return err
				}
				break
			}
			if err := st.outBuf.Grow(st.outBuf.Size()*2, socket.MaxBufferSize); err != nil {
				return fmt.Errorf("codec: grow encode buffer: %w", err)
			}
		}
	}
	if s.Flags.Has(socket.FlagFlush) {
		if err := st.impl.Finalize(); err != nil {
			return fmt.Errorf("codec: flush %s: %w", st.impl.Name(), err)
		}
		s.Flags &^= socket.FlagFlush
	}
	if st.savedWriteSocket == nil {
		return nil
	}
	saved := s.Send
	s.Send = st.outBuf
	err := st.savedWriteSocket(s)
	st.outBuf = s.Send
	s.Send = saved
	return err
}
