package echo

import (
	"testing"

	"github.com/dkrasnov/serveez/internal/registry"
	"github.com/dkrasnov/serveez/internal/socket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckRequest_CopiesRecvIntoSendAndDrainsRecv(t *testing.T) {
	s := socket.New(1, 64, 64)
	require.NoError(t, s.Recv.Append([]byte("hello"), socket.MaxBufferSize))

	require.NoError(t, CheckRequest(s))

	assert.Equal(t, "hello", string(s.Send.Filled()))
	assert.Equal(t, 0, s.Recv.Fill)
}

func TestCheckRequest_EmptyRecvIsNoop(t *testing.T) {
	s := socket.New(1, 64, 64)
	require.NoError(t, CheckRequest(s))
	assert.Equal(t, 0, s.Send.Fill)
}

func TestConnectSocket_WritesConfiguredBanner(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.RegisterType(NewType()))
	inst, err := r.Instantiate(TypeName, "echo-0", map[string]any{"banner": "welcome\n"})
	require.NoError(t, err)

	s := socket.New(1, 64, 64)
	require.NoError(t, inst.Type.ConnectSocket(inst, s))

	assert.Equal(t, "welcome\n", string(s.Send.Filled()))
	require.NotNil(t, s.Callbacks.CheckRequest)
}

func TestConnectSocket_NoBannerLeavesSendEmpty(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.RegisterType(NewType()))
	inst, err := r.Instantiate(TypeName, "echo-0", nil)
	require.NoError(t, err)

	s := socket.New(1, 64, 64)
	require.NoError(t, inst.Type.ConnectSocket(inst, s))
	assert.Equal(t, 0, s.Send.Fill)
}
