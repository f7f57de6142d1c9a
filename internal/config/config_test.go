package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dkrasnov/serveez/internal/portcfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Process.Verbosity)
	assert.Equal(t, 1024, cfg.Process.MaxSockets)
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, "127.0.0.1", cfg.API.Host)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "serveez.yaml")
	yaml := `
process:
  verbosity: 3
  max_sockets: 64
ports:
  - name: echo-tcp
    proto: tcp
    ipaddr: "*"
    port: 2000
servers:
  - type: echo
    name: echo-0
    port: echo-tcp
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Process.Verbosity)
	assert.Equal(t, 64, cfg.Process.MaxSockets)
	require.Len(t, cfg.Ports, 1)
	assert.Equal(t, "echo-tcp", cfg.Ports[0].Name)
	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, "echo", cfg.Servers[0].Type)
}

func TestLoadRejectsUnknownPortReference(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "serveez.yaml")
	yaml := `
servers:
  - type: echo
    name: echo-0
    port: nonexistent
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SERVEEZ_PROCESS_VERBOSITY", "4")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Process.Verbosity)
}

func TestToPortConfigWildcard(t *testing.T) {
	entry := PortConfigEntry{Name: "p", Proto: "tcp", IPAddr: "*", Port: 2000}
	cfg, err := entry.ToPortConfig()
	require.NoError(t, err)
	assert.Equal(t, portcfg.ProtoTCP, cfg.Proto)
	assert.Equal(t, portcfg.AddrAny, cfg.AddrFlag)
}

func TestToPortConfigSpecificAddr(t *testing.T) {
	entry := PortConfigEntry{Name: "p", Proto: "udp", IPAddr: "127.0.0.1", Port: 3000}
	cfg, err := entry.ToPortConfig()
	require.NoError(t, err)
	assert.Equal(t, portcfg.AddrSpecific, cfg.AddrFlag)
	assert.Equal(t, "127.0.0.1", cfg.Addr.String())
}

func TestToPortConfigAllInterfaces(t *testing.T) {
	entry := PortConfigEntry{Name: "p", Proto: "tcp", IPAddr: "*noip*", Port: 4000}
	cfg, err := entry.ToPortConfig()
	require.NoError(t, err)
	assert.Equal(t, portcfg.AddrAll, cfg.AddrFlag)
}

func TestToPortConfigInvalidProto(t *testing.T) {
	entry := PortConfigEntry{Name: "p", Proto: "sctp", Port: 1}
	_, err := entry.ToPortConfig()
	assert.Error(t, err)
}

func TestValidateRejectsBadVerbosity(t *testing.T) {
	cfg := &Config{Process: ProcessConfig{Verbosity: 9, MaxSockets: 1}}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsDuplicatePortNames(t *testing.T) {
	cfg := &Config{
		Process: ProcessConfig{Verbosity: 1, MaxSockets: 1},
		Ports: []PortConfigEntry{
			{Name: "dup"}, {Name: "dup"},
		},
	}
	assert.Error(t, cfg.Validate())
}
