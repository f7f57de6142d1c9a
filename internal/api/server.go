// Package api implements the admin HTTP introspection surface:
// read-only access to live reactor/socket stats,
// registered port configurations, bound server instances, and the
// interface list. It carries no request/response semantics of its own
// beyond reading runtime state — it is not one of the out-of-scope
// application-level servers built on top of the core.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dkrasnov/serveez/internal/api/handlers"
	"github.com/dkrasnov/serveez/internal/api/middleware"
	"github.com/dkrasnov/serveez/internal/config"
	"github.com/dkrasnov/serveez/internal/runtimectx"
	"github.com/gin-gonic/gin"
)

// Server is the admin HTTP server.
type Server struct {
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server
}

// New builds a Server bound to ctx, serving on cfg.API.Host:cfg.API.Port.
func New(cfg *config.Config, rctx *runtimectx.Context, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.SlogRequestLogger(logger))

	h := handlers.New(rctx)
	registerRoutes(engine, h, cfg.API.APIKey)

	addr := net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{logger: logger, engine: engine, httpServer: httpServer}
}

func registerRoutes(engine *gin.Engine, h *handlers.Handler, apiKey string) {
	engine.GET("/health", h.Health)

	v1 := engine.Group("/api/v1", middleware.RequireAPIKey(apiKey))
	v1.GET("/stats", h.Stats)
	v1.GET("/ports", h.Ports)
	v1.GET("/servers", h.Servers)
	v1.GET("/interfaces", h.Interfaces)
}

// Addr returns the server's listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Engine exposes the gin engine, mainly for tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

// ListenAndServe blocks serving HTTP until Shutdown is called.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
