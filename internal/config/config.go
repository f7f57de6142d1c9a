package config

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/dkrasnov/serveez/internal/portcfg"
	"github.com/spf13/viper"
)

// Load reads the daemon configuration from hardcoded defaults, an
// optional YAML file, and SERVEEZ_-prefixed environment variables: a
// YAML value overrides its default, and an environment variable
// overrides both.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SERVEEZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("process.verbosity", 1)
	v.SetDefault("process.max_sockets", 1024)
	v.SetDefault("process.log_file", "")
	v.SetDefault("process.load_path", "")

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.structured", false)
	v.SetDefault("logging.structured_format", "text")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8283)

	v.SetDefault("store.enabled", false)
	v.SetDefault("store.path", "serveez.db")
}

// Validate checks process-wide settings that have no per-port analogue;
// per-port validation is left to portcfg.Config.Validate, which the
// binding registry runs at bind time on the result of ToPortConfig.
func (c *Config) Validate() error {
	if c.Process.Verbosity < 0 || c.Process.Verbosity > 4 {
		return fmt.Errorf("config: process.verbosity %d out of range 0..4", c.Process.Verbosity)
	}
	if c.Process.MaxSockets <= 0 {
		return fmt.Errorf("config: process.max_sockets must be positive")
	}
	names := make(map[string]bool, len(c.Ports))
	for _, p := range c.Ports {
		if p.Name == "" {
			return fmt.Errorf("config: port entry missing a name")
		}
		if names[p.Name] {
			return fmt.Errorf("config: duplicate port name %q", p.Name)
		}
		names[p.Name] = true
	}
	for _, s := range c.Servers {
		if s.Type == "" || s.Name == "" {
			return fmt.Errorf("config: server entry requires type and name")
		}
		if s.Port != "" && !names[s.Port] {
			return fmt.Errorf("config: server %q references unknown port %q", s.Name, s.Port)
		}
	}
	return nil
}

// ToPortConfig converts a config-file port entry into the portcfg.Config
// the binding registry consumes.
func (e PortConfigEntry) ToPortConfig() (*portcfg.Config, error) {
	proto, err := parseProto(e.Proto)
	if err != nil {
		return nil, err
	}
	cfg := &portcfg.Config{
		Name:             e.Name,
		Proto:            proto,
		Device:           e.Device,
		Port:             e.Port,
		Backlog:          e.Backlog,
		Allow:            e.Allow,
		Deny:             e.Deny,
		SendBufferSize:   e.SendBufferSize,
		RecvBufferSize:   e.RecvBufferSize,
		MaxInFlight:      e.MaxInFlight,
		DetectionFill:    e.DetectionFill,
		DetectionWait:    e.DetectionWait,
		ConnectFrequency: e.ConnectFrequency,
		ICMPSubType:      e.ICMPSubType,
		Codec:            e.Codec,
		Recv: portcfg.PipeEndpoint{
			Name: e.Recv.Name, User: e.Recv.User, Group: e.Recv.Group,
			UID: e.Recv.UID, GID: e.Recv.GID, Permissions: e.Recv.Permissions,
		},
		Send: portcfg.PipeEndpoint{
			Name: e.Send.Name, User: e.Send.User, Group: e.Send.Group,
			UID: e.Send.UID, GID: e.Send.GID, Permissions: e.Send.Permissions,
		},
	}

	switch {
	case e.Device != "":
		cfg.AddrFlag = portcfg.AddrDevice
	case e.IPAddr == "" || e.IPAddr == "*":
		cfg.AddrFlag = portcfg.AddrAny
	case e.IPAddr == "*noip*":
		cfg.AddrFlag = portcfg.AddrAll
	default:
		addr, err := netip.ParseAddr(e.IPAddr)
		if err != nil {
			return nil, fmt.Errorf("config: port %q: invalid ipaddr %q: %w", e.Name, e.IPAddr, err)
		}
		cfg.AddrFlag = portcfg.AddrSpecific
		cfg.Addr = addr
	}

	return cfg, nil
}

func parseProto(s string) (portcfg.Proto, error) {
	switch strings.ToLower(s) {
	case "tcp":
		return portcfg.ProtoTCP, nil
	case "udp":
		return portcfg.ProtoUDP, nil
	case "icmp":
		return portcfg.ProtoICMP, nil
	case "raw":
		return portcfg.ProtoRAW, nil
	case "pipe":
		return portcfg.ProtoPipe, nil
	default:
		return 0, fmt.Errorf("config: unknown protocol %q", s)
	}
}
