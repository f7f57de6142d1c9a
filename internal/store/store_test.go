package store

import (
	"path/filepath"
	"testing"

	"github.com/dkrasnov/serveez/internal/config"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoadSnapshotRoundTrips(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "serveez.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	cfg := &config.Config{
		Ports: []config.PortConfigEntry{
			{Name: "tcp-echo", Proto: "tcp", IPAddr: "*", Port: 2000, Allow: []string{"127.0.0.1"}},
		},
		Servers: []config.ServerInstanceEntry{
			{Type: "echo", Name: "echo-0", Port: "tcp-echo", Options: map[string]any{"banner": "hi"}},
		},
	}
	require.NoError(t, s.SaveSnapshot(cfg))

	ports, servers, err := s.LoadSnapshot()
	require.NoError(t, err)
	require.Len(t, ports, 1)
	require.Equal(t, "tcp-echo", ports[0].Name)
	require.Equal(t, []string{"127.0.0.1"}, ports[0].Allow)
	require.Len(t, servers, 1)
	require.Equal(t, "echo-0", servers[0].Name)
	require.Equal(t, "hi", servers[0].Options["banner"])
}

func TestSaveSnapshotReplacesPriorContents(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "serveez.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveSnapshot(&config.Config{
		Ports: []config.PortConfigEntry{{Name: "a", Proto: "tcp", Port: 1}},
	}))
	require.NoError(t, s.SaveSnapshot(&config.Config{
		Ports: []config.PortConfigEntry{{Name: "b", Proto: "udp", Port: 2}},
	}))

	ports, _, err := s.LoadSnapshot()
	require.NoError(t, err)
	require.Len(t, ports, 1)
	require.Equal(t, "b", ports[0].Name)
}

func TestHealth(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "serveez.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Health())
}
