package portcfg

import (
	"net/netip"
	"testing"

	"github.com/dkrasnov/serveez/internal/iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tcp(port int, flag AddrFlag, addr string, device string) *Config {
	c := &Config{Proto: ProtoTCP, Port: port, AddrFlag: flag, Device: device}
	if addr != "" {
		c.Addr = netip.MustParseAddr(addr)
	}
	return c
}

func TestEqual_WildcardIsEqualToWildcard(t *testing.T) {
	a := tcp(2000, AddrAny, "", "")
	b := tcp(2000, AddrAny, "", "")
	assert.Equal(t, EQUAL, Equal(a, b))
}

func TestEqual_SpecificMatchesWildcard(t *testing.T) {
	wildcard := tcp(2001, AddrAny, "", "")
	specific := tcp(2001, AddrSpecific, "127.0.0.1", "")
	assert.Equal(t, MATCH, Equal(wildcard, specific))
	assert.Equal(t, MATCH, Equal(specific, wildcard))
}

func TestEqual_DeviceVsSpecificSamePortIsConflict(t *testing.T) {
	device := tcp(2002, AddrDevice, "", "eth0")
	specific := tcp(2002, AddrSpecific, "127.0.0.1", "")
	assert.Equal(t, CONFLICT, Equal(device, specific))
}

func TestEqual_DifferentPortsNoMatch(t *testing.T) {
	a := tcp(2003, AddrAny, "", "")
	b := tcp(2004, AddrAny, "", "")
	assert.Equal(t, NOMATCH, Equal(a, b))
}

func TestEqual_ReflexiveSymmetricTransitiveOnEqual(t *testing.T) {
	a := tcp(2005, AddrSpecific, "10.0.0.1", "")
	b := tcp(2005, AddrSpecific, "10.0.0.1", "")
	c := tcp(2005, AddrSpecific, "10.0.0.1", "")

	require.Equal(t, EQUAL, Equal(a, a)) // reflexive
	require.Equal(t, EQUAL, Equal(a, b))
	require.Equal(t, EQUAL, Equal(b, a)) // symmetric
	require.Equal(t, EQUAL, Equal(b, c))
	assert.Equal(t, EQUAL, Equal(a, c)) // transitive
}

func TestValidate_PortOutOfRange(t *testing.T) {
	c := tcp(0, AddrAny, "", "")
	assert.Error(t, c.Validate())

	c2 := tcp(70000, AddrAny, "", "")
	assert.Error(t, c2.Validate())
}

func TestValidate_ClampsBacklogAndDetectionWindow(t *testing.T) {
	c := tcp(2006, AddrAny, "", "")
	c.Backlog = 999999
	c.DetectionFill = 999999
	c.DetectionWait = 999999

	require.NoError(t, c.Validate())
	assert.Equal(t, SOMAXCONNDefault, c.Backlog)
	assert.Equal(t, MaxDetectionFill, c.DetectionFill)
	assert.Equal(t, MaxDetectionWait, c.DetectionWait)
}

func TestValidate_PipeRequiresEndpointNames(t *testing.T) {
	c := &Config{Proto: ProtoPipe}
	assert.Error(t, c.Validate())
}

func TestValidate_PipeRejectsMismatchedUID(t *testing.T) {
	bogus := -1
	c := &Config{
		Proto: ProtoPipe,
		Recv:  PipeEndpoint{Name: "/tmp/in", User: "root", UID: &bogus},
		Send:  PipeEndpoint{Name: "/tmp/out"},
	}
	assert.Error(t, c.Validate())
}

func TestExpand_WildcardInterfaceFanOut(t *testing.T) {
	c := &Config{Proto: ProtoTCP, Port: 2007, AddrFlag: AddrAll}
	ifs := []iface.Record{
		{Index: 0, Addr: netip.MustParseAddr("192.168.1.2")},
		{Index: 1, Addr: netip.MustParseAddr("10.0.0.5")},
	}

	out := Expand(c, ifs)
	require.Len(t, out, 2)
	assert.Equal(t, AddrSpecific, out[0].AddrFlag)
	assert.Equal(t, ifs[0].Addr, out[0].Addr)
	assert.Equal(t, ifs[1].Addr, out[1].Addr)
}

func TestExpand_NonWildcardReturnsSingleDuplicate(t *testing.T) {
	c := tcp(2008, AddrSpecific, "127.0.0.1", "")
	out := Expand(c, nil)
	require.Len(t, out, 1)
	assert.NotSame(t, c, out[0])
	assert.Equal(t, c.Addr, out[0].Addr)
}

func TestPermitsPeer_DenyWinsOverAllow(t *testing.T) {
	c := &Config{Allow: []string{"10.0.0.0/8"}, Deny: []string{"10.1.2.3"}}
	assert.False(t, c.PermitsPeer(netip.MustParseAddr("10.1.2.3")))
	assert.True(t, c.PermitsPeer(netip.MustParseAddr("10.9.9.9")))
	assert.False(t, c.PermitsPeer(netip.MustParseAddr("192.168.1.1")), "outside the allow list")
}

func TestPermitsPeer_EmptyListsPermitEveryone(t *testing.T) {
	c := &Config{}
	assert.True(t, c.PermitsPeer(netip.MustParseAddr("1.2.3.4")))
}

func TestPermitsPeer_DenyCIDR(t *testing.T) {
	c := &Config{Deny: []string{"192.168.0.0/16"}}
	assert.False(t, c.PermitsPeer(netip.MustParseAddr("192.168.44.5")))
	assert.True(t, c.PermitsPeer(netip.MustParseAddr("172.16.0.1")))
}
