// Command serveezd is the serveez daemon: it loads the process
// configuration, wires the socket/reactor/binding runtime, binds every
// configured port to its server instance, and serves the admin HTTP
// surface until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dkrasnov/serveez/internal/api"
	"github.com/dkrasnov/serveez/internal/config"
	"github.com/dkrasnov/serveez/internal/logging"
	"github.com/dkrasnov/serveez/internal/portcfg"
	"github.com/dkrasnov/serveez/internal/runtimectx"
	"github.com/dkrasnov/serveez/internal/servers/echo"
	"github.com/dkrasnov/serveez/internal/servers/echodgram"
	"github.com/dkrasnov/serveez/internal/store"
	flag "github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

type cliFlags struct {
	configPath string
	host       string
	apiPort    int
	maxSockets int
	jsonLogs   bool
	debug      bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "path to YAML config file")
	flag.StringVar(&f.host, "api-host", "", "override admin API bind host")
	flag.IntVar(&f.apiPort, "api-port", 0, "override admin API bind port")
	flag.IntVar(&f.maxSockets, "max-sockets", 0, "override the socket ceiling (process.max_sockets)")
	flag.BoolVar(&f.jsonLogs, "json-logs", false, "enable JSON structured logging")
	flag.BoolVar(&f.debug, "debug", false, "enable debug logging")
	flag.Parse()
	return f
}

func applyCLIOverrides(cfg *config.Config, f cliFlags) {
	if f.host != "" {
		cfg.API.Host = f.host
	}
	if f.apiPort != 0 {
		cfg.API.Port = f.apiPort
	}
	if f.maxSockets != 0 {
		cfg.Process.MaxSockets = f.maxSockets
	}
	if f.jsonLogs {
		cfg.Logging.Structured = true
		cfg.Logging.StructuredFormat = "json"
	}
	if f.debug {
		cfg.Logging.Level = "DEBUG"
	}
}

func run() error {
	flags := parseFlags()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cfg, flags)

	logger := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
		ExtraFields:      cfg.Logging.ExtraFields,
		File:             cfg.Process.LogFile,
	})
	logger.Info("serveez starting",
		"max_sockets", cfg.Process.MaxSockets,
		"ports", len(cfg.Ports),
		"servers", len(cfg.Servers),
	)

	rctx, err := runtimectx.New(logger, cfg.Process.MaxSockets, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("build runtime context: %w", err)
	}
	if err := rctx.RegisterServerType(echo.NewType()); err != nil {
		return fmt.Errorf("register server type %q: %w", echo.TypeName, err)
	}
	if err := rctx.RegisterServerType(echodgram.NewType()); err != nil {
		return fmt.Errorf("register server type %q: %w", echodgram.TypeName, err)
	}

	var st *store.Store
	if cfg.Store.Enabled {
		st, err = store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		if err := st.SaveSnapshot(cfg); err != nil {
			logger.Warn("failed to persist config snapshot", "err", err)
		}
	}

	ports := make(map[string]*portConfigPair, len(cfg.Ports))
	for _, p := range cfg.Ports {
		pc, err := p.ToPortConfig()
		if err != nil {
			return fmt.Errorf("port %q: %w", p.Name, err)
		}
		ports[p.Name] = &portConfigPair{entry: p, cfg: pc}
	}
	for _, s := range cfg.Servers {
		pair, ok := ports[s.Port]
		if !ok {
			return fmt.Errorf("server %q references unknown port %q", s.Name, s.Port)
		}
		if _, err := rctx.InstantiateAndBind(s.Type, s.Name, s.Options, pair.cfg.Clone()); err != nil {
			return fmt.Errorf("bind server %q to port %q: %w", s.Name, s.Port, err)
		}
		logger.Info("server bound", "server", s.Name, "type", s.Type, "port", s.Port)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for range hup {
			logger.Info("SIGHUP received, scheduling server reset")
			rctx.RequestReset()
		}
	}()

	var apiSrv *api.Server
	if cfg.API.Enabled {
		apiSrv = api.New(cfg, rctx, logger)
		logger.Info("admin API starting", "addr", apiSrv.Addr())
		go func() {
			if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin API error", "err", err)
				cancel()
			}
		}()
	}

	runErr := rctx.Run(ctx)

	if apiSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = apiSrv.Shutdown(shutdownCtx)
		shutdownCancel()
		logger.Info("admin API stopped")
	}

	if runErr != nil {
		return fmt.Errorf("reactor exited with error: %w", runErr)
	}
	return nil
}

type portConfigPair struct {
	entry config.PortConfigEntry
	cfg   *portcfg.Config
}
