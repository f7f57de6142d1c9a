// Package iface maintains the process's interface record list: an
// ordered, startup-populated sequence of local IPv4 interfaces,
// extended by procedure-added entries.
//
// Discovery is backed by github.com/shirou/gopsutil/v3/net rather
// than hand-parsing /proc/net/dev.
package iface

import (
	"fmt"
	"net/netip"

	gopsnet "github.com/shirou/gopsutil/v3/net"
)

// Record is one entry in the interface list.
type Record struct {
	Index       int
	Addr        netip.Addr
	Description string
	// UserAdded distinguishes an interface the embedding process added
	// at runtime from one discovered at startup.
	UserAdded bool
}

// List is the ordered interface list. The registry owns it; everything else holds references.
type List struct {
	records []Record
	next    int
}

// NewList creates an empty interface list.
func NewList() *List {
	return &List{}
}

// Discover populates the list from the host's network interfaces,
// keeping only interfaces with at least one IPv4 address (the core is
// v4-only by design).
func (l *List) Discover() error {
	ifs, err := gopsnet.Interfaces()
	if err != nil {
		return fmt.Errorf("iface: discover: %w", err)
	}
	for _, ifc := range ifs {
		for _, a := range ifc.Addrs {
			addr, ok := parseIPv4(a.Addr)
			if !ok {
				continue
			}
			l.records = append(l.records, Record{
				Index:       l.next,
				Addr:        addr,
				Description: ifc.Name,
			})
			l.next++
			break // one entry per interface, first IPv4 address wins
		}
	}
	return nil
}

// Add appends a procedure-added interface entry.
func (l *List) Add(addr netip.Addr, description string) Record {
	rec := Record{Index: l.next, Addr: addr, Description: description, UserAdded: true}
	l.records = append(l.records, rec)
	l.next++
	return rec
}

// All returns a snapshot of the current interface list.
func (l *List) All() []Record {
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// parseIPv4 extracts a bare IPv4 address from a gopsutil CIDR-or-bare
// address string, rejecting IPv6 (the core is v4-only).
func parseIPv4(raw string) (netip.Addr, bool) {
	if p, err := netip.ParsePrefix(raw); err == nil {
		raw = p.Addr().String()
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Addr{}, false
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return netip.Addr{}, false
	}
	return addr, true
}
