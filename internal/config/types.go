// Package config loads the serveez daemon's process-wide configuration:
// verbosity, socket ceiling, log sink, the port-configuration list, and
// the server instances bound to them.
//
// The loader is Viper-backed: hardcoded defaults, an optional YAML
// file, and SERVEEZ_-prefixed environment binding, in ascending
// priority.
package config

// ProcessConfig holds process-wide settings.
type ProcessConfig struct {
	Verbosity  int    `yaml:"verbosity"   mapstructure:"verbosity"`
	MaxSockets int    `yaml:"max_sockets" mapstructure:"max_sockets"`
	LogFile    string `yaml:"log_file"    mapstructure:"log_file"`
	LoadPath   string `yaml:"load_path"   mapstructure:"load_path"`
}

// LoggingConfig mirrors internal/logging.Config's shape so the daemon
// can pass it straight through.
type LoggingConfig struct {
	Level            string            `yaml:"level"             mapstructure:"level"`
	Structured       bool              `yaml:"structured"        mapstructure:"structured"`
	StructuredFormat string            `yaml:"structured_format" mapstructure:"structured_format"`
	IncludePID       bool              `yaml:"include_pid"       mapstructure:"include_pid"`
	ExtraFields      map[string]string `yaml:"extra_fields"      mapstructure:"extra_fields"`
}

// APIConfig controls the admin HTTP surface,
// loopback-bound by default and gated by a shared-secret API key.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Host    string `yaml:"host"    mapstructure:"host"`
	Port    int    `yaml:"port"    mapstructure:"port"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
}

// StoreConfig controls the optional SQLite registry snapshot.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path"    mapstructure:"path"`
}

// PipeEndpointConfig is the config-file shape of a portcfg.PipeEndpoint.
type PipeEndpointConfig struct {
	Name        string `yaml:"name"        mapstructure:"name"`
	User        string `yaml:"user"        mapstructure:"user"`
	Group       string `yaml:"group"       mapstructure:"group"`
	UID         *int   `yaml:"uid"         mapstructure:"uid"`
	GID         *int   `yaml:"gid"         mapstructure:"gid"`
	Permissions uint32 `yaml:"permissions" mapstructure:"permissions"`
}

// PortConfigEntry is the config-file shape of a portcfg.Config.
type PortConfigEntry struct {
	Name  string `yaml:"name"  mapstructure:"name"`
	Proto string `yaml:"proto" mapstructure:"proto"` // tcp | udp | icmp | raw | pipe

	IPAddr string `yaml:"ipaddr" mapstructure:"ipaddr"` // dotted-quad, "*", "*noip*", or empty
	Device string `yaml:"device" mapstructure:"device"`
	Port   int    `yaml:"port"   mapstructure:"port"`

	Backlog int `yaml:"backlog" mapstructure:"backlog"`

	Allow []string `yaml:"allow" mapstructure:"allow"`
	Deny  []string `yaml:"deny"  mapstructure:"deny"`

	SendBufferSize int `yaml:"send_buffer_size" mapstructure:"send_buffer_size"`
	RecvBufferSize int `yaml:"recv_buffer_size" mapstructure:"recv_buffer_size"`
	MaxInFlight    int `yaml:"max_in_flight"    mapstructure:"max_in_flight"`

	DetectionFill int `yaml:"detection_fill" mapstructure:"detection_fill"`
	DetectionWait int `yaml:"detection_wait" mapstructure:"detection_wait"`

	ConnectFrequency int  `yaml:"connect_frequency" mapstructure:"connect_frequency"`
	ICMPSubType      byte `yaml:"icmp_subtype"      mapstructure:"icmp_subtype"`

	// Codec names the splice codec attached to this port's connections
	// (internal/codec); one of "gzip", "lz4", "snappy", "bzip2",
	// "auto" for receive-side magic detection, or empty for none.
	Codec string `yaml:"codec" mapstructure:"codec"`

	Recv PipeEndpointConfig `yaml:"recv" mapstructure:"recv"`
	Send PipeEndpointConfig `yaml:"send" mapstructure:"send"`
}

// ServerInstanceEntry names one server-type instance to instantiate
// and bind; Options feeds the type's declared item list.
type ServerInstanceEntry struct {
	Type    string         `yaml:"type"    mapstructure:"type"`
	Name    string         `yaml:"name"    mapstructure:"name"`
	Port    string         `yaml:"port"    mapstructure:"port"` // references a PortConfigEntry.Name
	Options map[string]any `yaml:"options" mapstructure:"options"`
}

// Config is the fully loaded daemon configuration.
type Config struct {
	Process ProcessConfig `yaml:"process" mapstructure:"process"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	API     APIConfig     `yaml:"api"     mapstructure:"api"`
	Store   StoreConfig   `yaml:"store"   mapstructure:"store"`

	Ports   []PortConfigEntry     `yaml:"ports"   mapstructure:"ports"`
	Servers []ServerInstanceEntry `yaml:"servers" mapstructure:"servers"`
}
