package handlers

import "time"

// StatusResponse is the /health payload.
type StatusResponse struct {
	Status string `json:"status"`
}

// PortResponse describes one registered port-configuration listener.
type PortResponse struct {
	Name     string `json:"name"`
	Proto    string `json:"proto"`
	AddrFlag string `json:"addr_flag"`
	Addr     string `json:"addr,omitempty"`
	Device   string `json:"device,omitempty"`
	Port     int    `json:"port"`
	Bindings int    `json:"bindings"`
}

// ServerResponse describes one server instance bound to a port. Info
// carries the instance's info_server() line when its type declares one.
type ServerResponse struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Port string `json:"port"`
	Info string `json:"info,omitempty"`
}

// InterfaceResponse describes one known network interface.
type InterfaceResponse struct {
	Index       int    `json:"index"`
	Addr        string `json:"addr"`
	Description string `json:"description"`
	UserAdded   bool   `json:"user_added"`
}

// StatsResponse is the /stats payload: reactor/socket counters plus
// process uptime.
type StatsResponse struct {
	UptimeSeconds    int64  `json:"uptime_seconds"`
	LiveSockets      int    `json:"live_sockets"`
	Listeners        int    `json:"listeners"`
	AcceptsTotal     uint64 `json:"accepts_total"`
	AcceptsRejected  uint64 `json:"accepts_rejected"`
	ConnectsRejected uint64 `json:"connects_rejected"`
	SocketsKilled    uint64 `json:"sockets_killed"`
	FloodKicks       uint64 `json:"flood_kicks"`
	BufferOverflows  uint64 `json:"buffer_overflows"`
	DatagramsDropped uint64 `json:"datagrams_dropped"`
	AccessDenied     uint64 `json:"access_denied"`
}

// ErrorResponse is the shape of every non-2xx JSON body.
type ErrorResponse struct {
	Error string `json:"error"`
}

func uptimeSince(start time.Time) int64 {
	return int64(time.Since(start).Seconds())
}
