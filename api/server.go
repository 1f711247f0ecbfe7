package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/isdmx/runbox/config"
	"github.com/isdmx/runbox/sandbox"
)

// readHeaderTimeout bounds slow clients; request bodies are bounded by size.
const readHeaderTimeout = 10 * time.Second

// Server is the REST front end of the executor
type Server struct {
	logger     *zap.Logger
	config     *config.Config
	executor   sandbox.SandboxExecutor
	engine     *gin.Engine
	httpServer *http.Server
	addr       net.Addr
}

// New creates a Server with all routes registered
func New(logger *zap.Logger, cfg *config.Config, executor sandbox.SandboxExecutor) *Server {
	s := &Server{
		logger:   logger,
		config:   cfg,
		executor: executor,
		engine:   gin.New(),
	}

	s.engine.Use(gin.Recovery(), requestID(), accessLog(logger))
	s.engine.NoRoute(func(c *gin.Context) {
		abort(c, ErrNotFound)
	})

	s.engine.GET("/healthz", s.healthz)

	run := []gin.HandlerFunc{s.bodyLimit}
	if cfg.Auth.JWTSecret != "" {
		run = append(run, bearerAuth(logger, cfg.Auth.JWTSecret, cfg.Auth.Issuer))
	}
	run = append(run, s.runCode)
	s.engine.POST("/run_code", run...)

	if cfg.Metrics.Enabled {
		s.engine.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	return s
}

// Handler returns the router, for tests and custom listeners
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start binds the configured port and serves in the background. Binding
// happens before Start returns so that a busy port fails startup.
func (s *Server) Start(_ context.Context) error {
	addr := s.config.ListenAddr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.addr = listener.Addr()
	s.httpServer = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.logger.Info("starting REST server", zap.String("addr", listener.Addr().String()))
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("REST server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("stopping REST server")
	return s.httpServer.Shutdown(ctx)
}
