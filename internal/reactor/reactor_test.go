package reactor

import (
	"errors"
	"testing"
	"time"

	"github.com/dkrasnov/serveez/internal/socket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// allReadyPoll marks every polled fd's requested events as also its
// revents, simulating "always ready" without touching real descriptors.
func allReadyPoll(fds []unix.PollFd, _ int) (int, error) {
	for i := range fds {
		fds[i].Revents = fds[i].Events
	}
	return len(fds), nil
}

func newTestReactor(maxSockets int) (*Reactor, *[]socket.ID) {
	freed := &[]socket.ID{}
	r := New(10*time.Millisecond, maxSockets, nil, func(s *socket.Socket) {
		*freed = append(*freed, s.ID)
	})
	r.SetPollFunc(allReadyPoll)
	return r, freed
}

func TestAdd_RejectsAtCapacity(t *testing.T) {
	r, _ := newTestReactor(1)
	s1 := socket.New(1, 64, 64)
	s2 := socket.New(2, 64, 64)
	require.NoError(t, r.Add(s1))
	assert.Error(t, r.Add(s2))
}

func TestTick_IdleFuncFiresAtZero(t *testing.T) {
	r, _ := newTestReactor(0)
	s := socket.New(1, 64, 64)
	s.FD = -1
	s.IdleCounter = 1
	fired := false
	s.Callbacks.IdleFunc = func(*socket.Socket) int {
		fired = true
		return 5
	}
	require.NoError(t, r.Add(s))
	require.NoError(t, r.Tick())
	assert.True(t, fired)
	assert.Equal(t, 5, s.IdleCounter)
}

func TestTick_IdleFuncNegativeKillsSocket(t *testing.T) {
	r, freed := newTestReactor(0)
	s := socket.New(1, 64, 64)
	s.FD = -1
	s.IdleCounter = 1
	s.Callbacks.IdleFunc = func(*socket.Socket) int { return -1 }
	require.NoError(t, r.Add(s))
	require.NoError(t, r.Tick())
	assert.Len(t, *freed, 1)
	assert.Len(t, r.Live(), 0)
}

func TestTick_DispatchesReadThenWrite(t *testing.T) {
	r, _ := newTestReactor(0)
	s := socket.New(1, 64, 64)
	s.FD = 3
	s.Send.Fill = 1

	var order []string
	s.Callbacks.ReadSocket = func(*socket.Socket) error {
		order = append(order, "read")
		return nil
	}
	s.Callbacks.WriteSocket = func(*socket.Socket) error {
		order = append(order, "write")
		return nil
	}
	s.Recv.Fill = 0

	require.NoError(t, r.Add(s))
	require.NoError(t, r.Tick())
	assert.Equal(t, []string{"read", "write"}, order)
}

func TestTick_ReadErrorKillsSocketAndFreesAtEndOfTick(t *testing.T) {
	r, freed := newTestReactor(0)
	s := socket.New(1, 64, 64)
	s.FD = 3
	s.Callbacks.ReadSocket = func(*socket.Socket) error { return errors.New("boom") }

	require.NoError(t, r.Add(s))
	require.NoError(t, r.Tick())
	assert.True(t, s.Killed())
	assert.Len(t, *freed, 1)
	assert.Len(t, r.Live(), 0)
}

func TestTick_ConnectCompletionInvokesConnectedSocketOnce(t *testing.T) {
	r, _ := newTestReactor(0)
	s := socket.New(1, 64, 64)
	s.FD = 3
	s.Flags |= socket.FlagConnecting

	calls := 0
	s.Callbacks.ConnectedSocket = func(*socket.Socket) error {
		calls++
		return nil
	}
	s.Callbacks.WriteSocket = func(*socket.Socket) error {
		t.Fatal("normal write should not run while FlagConnecting is set")
		return nil
	}

	require.NoError(t, r.Add(s))
	require.NoError(t, r.Tick())
	assert.Equal(t, 1, calls)
	assert.False(t, s.Flags.Has(socket.FlagConnecting))
	assert.True(t, s.Flags.Has(socket.FlagConnected))
}

func TestAtCapacity_ZeroMeansUnlimited(t *testing.T) {
	r, _ := newTestReactor(0)
	assert.False(t, r.AtCapacity())
}

func TestTick_NotifyRunsOncePerTick(t *testing.T) {
	r, _ := newTestReactor(4)
	ticks := 0
	r.Notify = func() { ticks++ }
	require.NoError(t, r.Tick())
	require.NoError(t, r.Tick())
	assert.Equal(t, 2, ticks)
}

func TestReapKilled_ClearsPeerLinkAndSchedulesPeerShutdown(t *testing.T) {
	r, freed := newTestReactor(8)
	a := socket.New(1, 64, 64)
	b := socket.New(2, 64, 64)
	socket.Pair(a, b)
	require.NoError(t, r.Add(a))
	require.NoError(t, r.Add(b))

	a.Kill()
	require.NoError(t, r.Tick())

	assert.Equal(t, []socket.ID{1}, *freed, "only the killed side is freed this tick")
	assert.False(t, b.HasReferer, "survivor's back-link must be cleared")
	assert.True(t, b.Flags.Has(socket.FlagFinalWrite), "survivor must be scheduled for shutdown")
}
