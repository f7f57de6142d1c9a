// Package store provides optional SQLite-backed persistence of the
// port-configuration and server-instance registry across restarts.
// It is strictly a restart-recovery and
// introspection aid: the live in-memory registry (internal/registry,
// internal/binding) is always authoritative while the process runs;
// this package is never consulted from the reactor's hot path.
//
// The setup is sql.Open with a WAL-mode DSN, schema managed by
// golang-migrate/migrate/v4 against an embedded migrations/*.sql
// filesystem.
package store

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/dkrasnov/serveez/internal/config"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite connection holding the last-saved registry
// snapshot.
type Store struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// Open opens or creates the snapshot database at path, running any
// pending migrations.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	s := &Store{conn: conn}
	if err := s.runMigrations(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.conn.Close() }

// Health pings the underlying connection.
func (s *Store) Health() error { return s.conn.Ping() }

func (s *Store) runMigrations() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: migration source: %w", err)
	}
	dbDriver, err := sqlite.WithInstance(s.conn, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("store: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("store: migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("store: run migrations: %w", err)
	}
	return nil
}

// SaveSnapshot replaces the stored port-config/server-instance
// snapshot with cfg's, inside one transaction.
func (s *Store) SaveSnapshot(cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM port_configs"); err != nil {
		return fmt.Errorf("store: clear port_configs: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM server_instances"); err != nil {
		return fmt.Errorf("store: clear server_instances: %w", err)
	}

	portStmt, err := tx.Prepare(`
		INSERT INTO port_configs (
			name, proto, ipaddr, device, port, backlog, allow, deny,
			send_buffer_size, recv_buffer_size, max_in_flight,
			detection_fill, detection_wait, connect_frequency, icmp_subtype,
			codec, recv_endpoint, send_endpoint, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`)
	if err != nil {
		return fmt.Errorf("store: prepare port insert: %w", err)
	}
	defer portStmt.Close()

	for _, p := range cfg.Ports {
		allow, _ := json.Marshal(p.Allow)
		deny, _ := json.Marshal(p.Deny)
		recv, _ := json.Marshal(p.Recv)
		send, _ := json.Marshal(p.Send)
		if _, err := portStmt.Exec(
			p.Name, p.Proto, p.IPAddr, p.Device, p.Port, p.Backlog,
			string(allow), string(deny), p.SendBufferSize, p.RecvBufferSize,
			p.MaxInFlight, p.DetectionFill, p.DetectionWait, p.ConnectFrequency,
			p.ICMPSubType, p.Codec, string(recv), string(send),
		); err != nil {
			return fmt.Errorf("store: insert port %q: %w", p.Name, err)
		}
	}

	serverStmt, err := tx.Prepare(`
		INSERT INTO server_instances (name, type, port_name, options, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
	`)
	if err != nil {
		return fmt.Errorf("store: prepare server insert: %w", err)
	}
	defer serverStmt.Close()

	for _, srv := range cfg.Servers {
		options, _ := json.Marshal(srv.Options)
		if _, err := serverStmt.Exec(srv.Name, srv.Type, srv.Port, string(options)); err != nil {
			return fmt.Errorf("store: insert server %q: %w", srv.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// LoadSnapshot reads back the last-saved port configs and server
// instances, for use as a fallback when no config file is given.
func (s *Store) LoadSnapshot() ([]config.PortConfigEntry, []config.ServerInstanceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ports, err := s.loadPorts()
	if err != nil {
		return nil, nil, err
	}
	servers, err := s.loadServers()
	if err != nil {
		return nil, nil, err
	}
	return ports, servers, nil
}

func (s *Store) loadPorts() ([]config.PortConfigEntry, error) {
	rows, err := s.conn.Query(`
		SELECT name, proto, ipaddr, device, port, backlog, allow, deny,
		       send_buffer_size, recv_buffer_size, max_in_flight,
		       detection_fill, detection_wait, connect_frequency, icmp_subtype,
		       codec, recv_endpoint, send_endpoint
		FROM port_configs ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("store: query port_configs: %w", err)
	}
	defer rows.Close()

	var out []config.PortConfigEntry
	for rows.Next() {
		var p config.PortConfigEntry
		var allow, deny, recv, send string
		if err := rows.Scan(
			&p.Name, &p.Proto, &p.IPAddr, &p.Device, &p.Port, &p.Backlog,
			&allow, &deny, &p.SendBufferSize, &p.RecvBufferSize, &p.MaxInFlight,
			&p.DetectionFill, &p.DetectionWait, &p.ConnectFrequency, &p.ICMPSubType,
			&p.Codec, &recv, &send,
		); err != nil {
			return nil, fmt.Errorf("store: scan port_configs: %w", err)
		}
		_ = json.Unmarshal([]byte(allow), &p.Allow)
		_ = json.Unmarshal([]byte(deny), &p.Deny)
		_ = json.Unmarshal([]byte(recv), &p.Recv)
		_ = json.Unmarshal([]byte(send), &p.Send)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) loadServers() ([]config.ServerInstanceEntry, error) {
	rows, err := s.conn.Query(`SELECT name, type, port_name, options FROM server_instances ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: query server_instances: %w", err)
	}
	defer rows.Close()

	var out []config.ServerInstanceEntry
	for rows.Next() {
		var srv config.ServerInstanceEntry
		var options string
		if err := rows.Scan(&srv.Name, &srv.Type, &srv.Port, &options); err != nil {
			return nil, fmt.Errorf("store: scan server_instances: %w", err)
		}
		_ = json.Unmarshal([]byte(options), &srv.Options)
		out = append(out, srv)
	}
	return out, rows.Err()
}
