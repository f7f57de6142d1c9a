package codec

import (
	"strings"
	"testing"

	"github.com/dkrasnov/serveez/internal/socket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// upperImpl is a trivial codec.Impl double: "decoding" upper-cases the
// input, "encoding" lower-cases it, one full message per Code call.
type upperImpl struct {
	encode    bool
	finalized int
}

func (u *upperImpl) Init(encode bool) error { u.encode = encode; return nil }
func (u *upperImpl) Finalize() error        { u.finalized++; return nil }
func (u *upperImpl) Ratio() float64         { return 1 }
func (u *upperImpl) DetectionSize() int     { return 0 }
func (u *upperImpl) MatchesMagic([]byte) bool { return false }
func (u *upperImpl) Name() string           { return "upper" }

func (u *upperImpl) Code(in, out []byte) (consumed, produced int, more bool, err error) {
	var result string
	if u.encode {
		result = strings.ToLower(string(in))
	} else {
		result = strings.ToUpper(string(in))
	}
	if len(result) > len(out) {
		return 0, 0, true, nil
	}
	n := copy(out, result)
	return len(in), n, false, nil
}

func TestSpliceRecv_DecodesAndRestoresRawViewAfterward(t *testing.T) {
	s := socket.New(1, 64, 64)
	var seenDecoded string
	s.Callbacks.CheckRequest = func(s *socket.Socket) error {
		seenDecoded = string(s.Recv.Filled())
		return nil
	}
	require.NoError(t, SpliceRecv(s, &upperImpl{}))

	require.NoError(t, s.Recv.Append([]byte("ping"), socket.MaxBufferSize))
	require.NoError(t, s.Callbacks.CheckRequest(s))

	assert.Equal(t, "PING", seenDecoded)
	assert.Equal(t, 0, s.Recv.Fill, "raw bytes fully consumed by the codec")
}

func TestSpliceRecv_GrowsOutputBufferOnMoreOut(t *testing.T) {
	s := socket.New(1, 64, 64)
	var seenDecoded string
	s.Callbacks.CheckRequest = func(s *socket.Socket) error {
		seenDecoded = string(s.Recv.Filled())
		return nil
	}
	require.NoError(t, SpliceRecv(s, &upperImpl{}))
	long := strings.Repeat("x", 8192)
	require.NoError(t, s.Recv.Append([]byte(long), socket.MaxBufferSize))
	require.NoError(t, s.Callbacks.CheckRequest(s))
	assert.Equal(t, strings.ToUpper(long), seenDecoded)
}

func TestSpliceSend_EncodesBeforeSavedWriteSocket(t *testing.T) {
	s := socket.New(1, 64, 64)
	var sentRaw string
	s.Callbacks.WriteSocket = func(s *socket.Socket) error {
		sentRaw = string(s.Send.Filled())
		s.Send.Reset()
		return nil
	}
	require.NoError(t, SpliceSend(s, &upperImpl{}))

	require.NoError(t, s.Send.Append([]byte("PONG"), socket.MaxBufferSize))
	require.NoError(t, s.Callbacks.WriteSocket(s))

	assert.Equal(t, "pong", sentRaw)
}

func TestSpliceSend_ShutdownFlushesCodecAndClearsFlag(t *testing.T) {
	s := socket.New(1, 64, 64)
	s.Callbacks.WriteSocket = func(s *socket.Socket) error {
		s.Send.Reset()
		return nil
	}
	impl := &upperImpl{}
	require.NoError(t, SpliceSend(s, impl))

	s.Shutdown()
	assert.True(t, s.Flags.Has(socket.FlagFlush))

	require.NoError(t, s.Callbacks.WriteSocket(s))
	assert.Equal(t, 1, impl.finalized)
	assert.False(t, s.Flags.Has(socket.FlagFlush), "flush is one-shot per Shutdown call")
}

func TestDetect_FirstMatchingMagicWins(t *testing.T) {
	magicA := &fakeDetector{size: 2, magic: []byte{0xAA, 0xBB}}
	magicB := &fakeDetector{size: 2, magic: []byte{0xCC, 0xDD}}
	got := Detect([]Impl{magicA, magicB}, []byte{0xCC, 0xDD, 0x01})
	assert.Equal(t, Impl(magicB), got)
}

type fakeDetector struct {
	size  int
	magic []byte
}

func (f *fakeDetector) Init(bool) error    { return nil }
func (f *fakeDetector) Finalize() error    { return nil }
func (f *fakeDetector) Ratio() float64     { return 0 }
func (f *fakeDetector) DetectionSize() int { return f.size }
func (f *fakeDetector) Name() string       { return "fake" }
func (f *fakeDetector) Code(in, out []byte) (int, int, bool, error) {
	n := copy(out, in)
	return len(in), n, false, nil
}
func (f *fakeDetector) MatchesMagic(prefix []byte) bool {
	if len(prefix) < len(f.magic) {
		return false
	}
	for i, b := range f.magic {
		if prefix[i] != b {
			return false
		}
	}
	return true
}
