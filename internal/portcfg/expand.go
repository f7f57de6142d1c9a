package portcfg

import "github.com/dkrasnov/serveez/internal/iface"

// Expand materializes a port config's listener set: if the config's address
// is the no-IP "each interface" token, it returns one concrete copy per
// known interface with the address filled in; otherwise it returns a
// one-element list containing a duplicate, so callers never mutate the
// registry's canonical copy.
func Expand(p *Config, interfaces []iface.Record) []*Config {
	if p.AddrFlag != AddrAll || p.Proto == ProtoPipe {
		return []*Config{p.Clone()}
	}

	if len(interfaces) == 0 {
		return nil
	}
	out := make([]*Config, 0, len(interfaces))
	for _, rec := range interfaces {
		cp := p.Clone()
		cp.AddrFlag = AddrSpecific
		cp.Addr = rec.Addr
		out = append(out, cp)
	}
	return out
}
