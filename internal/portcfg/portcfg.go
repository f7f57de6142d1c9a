// Package portcfg implements the port-configuration type and its
// three-valued equality relation.
package portcfg

import (
	"fmt"
	"net/netip"
	"os/user"
	"strconv"
)

// Proto is the protocol discriminant a port config binds to.
type Proto int

const (
	ProtoTCP Proto = iota
	ProtoUDP
	ProtoICMP
	ProtoRAW
	ProtoPipe
)

func (p Proto) String() string {
	switch p {
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	case ProtoICMP:
		return "icmp"
	case ProtoRAW:
		return "raw"
	case ProtoPipe:
		return "pipe"
	default:
		return "unknown"
	}
}

// AddrFlag describes how a port config's address is interpreted.
type AddrFlag int

const (
	// AddrAny is the IPv4 wildcard ("*"): binds to every interface on
	// one socket.
	AddrAny AddrFlag = iota
	// AddrSpecific is a single, concrete IPv4 address.
	AddrSpecific
	// AddrDevice is a device/interface-name bind, mutually exclusive
	// with AddrSpecific.
	AddrDevice
	// AddrAll is the no-IP "each interface" token: expand() turns this
	// into one concrete port config per known interface.
	AddrAll
)

// Relation is the three-valued (four, counting CONFLICT) comparison
// result of Equal.
type Relation int

const (
	NOMATCH Relation = iota
	EQUAL
	MATCH
	CONFLICT
)

// SOMAXCONNDefault mirrors a conservative backlog ceiling; real servers
// usually see net.core.somaxconn at 128 or more, but the core clamps to
// this value absent a way to query the kernel's configured maximum.
const SOMAXCONNDefault = 128

// DefaultDetectionWait is the detection timeout (seconds) used when a
// port enables detection but leaves DetectionWait at zero. Nothing fills
// in DefaultDetectionFill: a zero DetectionFill disables protocol
// detection. Validate clamps both fields to their maxima.
const (
	DefaultDetectionFill = 16
	DefaultDetectionWait = 30
	MaxDetectionFill     = 4096
	MaxDetectionWait     = 300
)

// PipeEndpoint describes one end (recv or send) of a pipe port config.
type PipeEndpoint struct {
	Name        string
	User        string
	Group       string
	UID         *int
	GID         *int
	Permissions uint32 // defaults to 0600 when zero and unset by caller
}

// Config is a named endpoint description.
type Config struct {
	Name string

	Proto Proto

	AddrFlag AddrFlag
	Addr     netip.Addr // valid when AddrFlag == AddrSpecific
	Device   string     // valid when AddrFlag == AddrDevice
	Port     int        // 1..65535; unused for pipe

	Backlog int

	Allow []string
	Deny  []string

	SendBufferSize int
	RecvBufferSize int
	MaxInFlight    int

	DetectionFill int
	DetectionWait int // seconds

	ConnectFrequency int // max accepts per second, 0 = unlimited

	// ICMPSubType multiplexes several serveez tenants over one raw ICMP
	// socket; 0 disables the filter term, so plain echo-style listeners
	// skip it entirely.
	ICMPSubType byte

	// Codec names the streaming transform spliced onto this port's
	// accepted connections: one of "gzip", "lz4", "snappy", "bzip2",
	// "" for none, or "auto" to match
	// the first received bytes against each codec's magic and splice the
	// winning decoder on the receive side only.
	Codec string

	Recv PipeEndpoint
	Send PipeEndpoint
}

// Validate checks boundary conditions and clamps what can be clamped,
// returning an error only for what cannot be repaired.
func (c *Config) Validate() error {
	if c.Proto != ProtoPipe {
		if c.Port <= 0 || c.Port > 65535 {
			return fmt.Errorf("portcfg %q: port %d out of range 1..65535", c.Name, c.Port)
		}
	}
	if c.AddrFlag == AddrDevice && c.Device == "" {
		return fmt.Errorf("portcfg %q: device bind requires a device name", c.Name)
	}
	if c.AddrFlag == AddrSpecific && !c.Addr.IsValid() {
		return fmt.Errorf("portcfg %q: specific bind requires a valid address", c.Name)
	}
	if c.Backlog <= 0 {
		c.Backlog = SOMAXCONNDefault
	} else if c.Backlog > SOMAXCONNDefault {
		c.Backlog = SOMAXCONNDefault
	}
	if c.DetectionFill < 0 {
		c.DetectionFill = 0
	} else if c.DetectionFill > MaxDetectionFill {
		c.DetectionFill = MaxDetectionFill
	}
	if c.DetectionWait < 0 {
		c.DetectionWait = 0
	} else if c.DetectionWait > MaxDetectionWait {
		c.DetectionWait = MaxDetectionWait
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = 4096
	}
	if c.RecvBufferSize <= 0 {
		c.RecvBufferSize = 4096
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 100
	}
	switch c.Codec {
	case "", "auto", "gzip", "lz4", "snappy", "bzip2":
	default:
		return fmt.Errorf("portcfg %q: unknown codec %q", c.Name, c.Codec)
	}
	if err := validatePipeEndpoint(c, &c.Recv); c.Proto == ProtoPipe && err != nil {
		return err
	}
	if err := validatePipeEndpoint(c, &c.Send); c.Proto == ProtoPipe && err != nil {
		return err
	}
	return nil
}

// validatePipeEndpoint rejects a pipe config whose explicit uid/gid
// and explicit user/group name would resolve to different ids.
func validatePipeEndpoint(c *Config, ep *PipeEndpoint) error {
	if ep.Name == "" {
		return fmt.Errorf("portcfg %q: pipe endpoint requires a name", c.Name)
	}
	if ep.Permissions == 0 {
		ep.Permissions = 0600
	}
	if ep.User != "" && ep.UID != nil {
		u, err := user.Lookup(ep.User)
		if err != nil {
			return fmt.Errorf("portcfg %q: pipe endpoint user %q: %w", c.Name, ep.User, err)
		}
		uid, err := strconv.Atoi(u.Uid)
		if err != nil {
			return fmt.Errorf("portcfg %q: pipe endpoint user %q: malformed uid %q", c.Name, ep.User, u.Uid)
		}
		if uid != *ep.UID {
			return fmt.Errorf("portcfg %q: pipe endpoint user %q resolves to uid %d, conflicts with explicit uid %d", c.Name, ep.User, uid, *ep.UID)
		}
	}
	if ep.Group != "" && ep.GID != nil {
		g, err := user.LookupGroup(ep.Group)
		if err != nil {
			return fmt.Errorf("portcfg %q: pipe endpoint group %q: %w", c.Name, ep.Group, err)
		}
		gid, err := strconv.Atoi(g.Gid)
		if err != nil {
			return fmt.Errorf("portcfg %q: pipe endpoint group %q: malformed gid %q", c.Name, ep.Group, g.Gid)
		}
		if gid != *ep.GID {
			return fmt.Errorf("portcfg %q: pipe endpoint group %q resolves to gid %d, conflicts with explicit gid %d", c.Name, ep.Group, gid, *ep.GID)
		}
	}
	return nil
}

// PermitsPeer evaluates the port's allow/deny peer lists against a
// remote address. A deny entry always wins; with no allow entries, every
// non-denied peer is permitted. Peer specs are either a literal
// dotted-quad or a CIDR prefix.
func (c *Config) PermitsPeer(addr netip.Addr) bool {
	for _, spec := range c.Deny {
		if peerSpecMatches(spec, addr) {
			return false
		}
	}
	if len(c.Allow) == 0 {
		return true
	}
	for _, spec := range c.Allow {
		if peerSpecMatches(spec, addr) {
			return true
		}
	}
	return false
}

func peerSpecMatches(spec string, addr netip.Addr) bool {
	if prefix, err := netip.ParsePrefix(spec); err == nil {
		return prefix.Contains(addr)
	}
	if a, err := netip.ParseAddr(spec); err == nil {
		return a == addr
	}
	return false
}

// Equal computes the three/four-valued relation between two port
// configs: EQUAL for identical endpoints, MATCH when
// one is a wildcard that covers the other, CONFLICT when they share a
// port but are mutually exclusive binding styles (device-bound vs
// specific address), NOMATCH otherwise.
func Equal(a, b *Config) Relation {
	if a.Proto != b.Proto {
		return NOMATCH
	}
	if a.Proto == ProtoPipe {
		return equalPipe(a, b)
	}
	if a.Port != b.Port {
		// RAW/ICMP listeners are not port-addressed; fall through to
		// sub-type comparison instead of treating this as a mismatch.
		if a.Proto != ProtoICMP && a.Proto != ProtoRAW {
			return NOMATCH
		}
	}
	if (a.Proto == ProtoICMP || a.Proto == ProtoRAW) && a.ICMPSubType != 0 && b.ICMPSubType != 0 && a.ICMPSubType != b.ICMPSubType {
		return NOMATCH
	}

	switch {
	case a.AddrFlag == AddrAny && b.AddrFlag == AddrAny:
		return EQUAL
	case a.AddrFlag == AddrAll && b.AddrFlag == AddrAll:
		return EQUAL
	case a.AddrFlag == AddrAny || b.AddrFlag == AddrAny:
		// A wildcard MATCHes (covers) any non-wildcard binding style,
		// device binds included: every Any/specific, Any/device and
		// Any/each-interface pair is a coverable MATCH, never a CONFLICT.
		return MATCH
	case a.AddrFlag == AddrDevice && b.AddrFlag == AddrDevice:
		if a.Device == b.Device {
			return EQUAL
		}
		return NOMATCH
	case a.AddrFlag == AddrSpecific && b.AddrFlag == AddrSpecific:
		if a.Addr == b.Addr {
			return EQUAL
		}
		return NOMATCH
	case (a.AddrFlag == AddrDevice && b.AddrFlag == AddrSpecific) ||
		(a.AddrFlag == AddrSpecific && b.AddrFlag == AddrDevice):
		// Same port, mutually exclusive binding styles: neither EQUAL
		// nor coverable by MATCH.
		return CONFLICT
	default:
		return NOMATCH
	}
}

func equalPipe(a, b *Config) Relation {
	if a.Recv.Name == b.Recv.Name && a.Send.Name == b.Send.Name {
		return EQUAL
	}
	return NOMATCH
}

// Clone returns a deep-enough copy suitable for mutation without
// aliasing the original (used by expand()).
func (c *Config) Clone() *Config {
	cp := *c
	cp.Allow = append([]string(nil), c.Allow...)
	cp.Deny = append([]string(nil), c.Deny...)
	return &cp
}
