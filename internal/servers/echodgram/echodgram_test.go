package echodgram

import (
	"net/netip"
	"testing"

	"github.com/dkrasnov/serveez/internal/registry"
	"github.com/dkrasnov/serveez/internal/socket"
	"github.com/dkrasnov/serveez/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleRequest_EnqueuesPayloadBackToSender(t *testing.T) {
	s := socket.New(1, 64, 64)
	q := &transport.DatagramQueue{}
	s.Data = q
	remote := netip.MustParseAddrPort("192.0.2.1:9999")

	require.NoError(t, handleRequest(nil, s, []byte("ping"), remote))
	// DatagramQueue's entries are private to internal/transport; from this
	// package's side a pending write is what can be observed. Draining is
	// exercised end to end by runtimectx's UDP multiplex test.
	assert.True(t, q.PendingWrite())
}

func TestNewType_DeclaresHandleRequest(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.RegisterType(NewType()))
	typ, ok := r.Type(TypeName)
	require.True(t, ok)
	assert.NotNil(t, typ.HandleRequest)
}

func TestHandleRequest_NilDataIsNoop(t *testing.T) {
	s := socket.New(1, 64, 64)
	remote := netip.MustParseAddrPort("192.0.2.1:9999")
	assert.NoError(t, handleRequest(nil, s, []byte("ping"), remote))
}
