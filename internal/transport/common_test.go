package transport

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSockaddrAddrPortRoundTrip(t *testing.T) {
	ap := netip.MustParseAddrPort("127.0.0.1:5353")
	sa, err := sockaddrFromAddrPort(ap)
	require.NoError(t, err)

	back := addrPortFromSockaddr(sa)
	assert.Equal(t, ap, back)
}

func TestSockaddrFromAddrPort_RejectsIPv6(t *testing.T) {
	ap := netip.MustParseAddrPort("[::1]:53")
	_, err := sockaddrFromAddrPort(ap)
	assert.Error(t, err)
}
