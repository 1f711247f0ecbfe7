package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/runbox/api"
	"github.com/isdmx/runbox/config"
	"github.com/isdmx/runbox/logger"
	"github.com/isdmx/runbox/mcpserver"
	"github.com/isdmx/runbox/sandbox"
)

// startTimeout leaves room for pulling the sandbox image on startup.
const startTimeout = 5 * time.Minute

func main() {
	app := fx.New(
		fx.StartTimeout(startTimeout),

		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Container engine for the configured backend
			sandbox.NewRuntime,

			// Sandbox executor bound to the runtime
			newExecutor,

			// REST and MCP front ends
			api.New,
			mcpserver.New,
		),

		fx.Invoke(run),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}

func newExecutor(log *zap.Logger, cfg *config.Config, runtime sandbox.Runtime) (sandbox.SandboxExecutor, error) {
	return sandbox.NewExecutorFromConfig(log, cfg, runtime)
}

type imagePuller interface {
	EnsureImage(ctx context.Context, ref string) error
}

func run(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	cfg *config.Config,
	log *zap.Logger,
	runtime sandbox.Runtime,
	rest *api.Server,
	mcp *mcpserver.MCPServer,
) {
	if cfg.Logging.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.String("server.listen_addr", cfg.ListenAddr()),
		zap.String("sandbox.backend", cfg.Sandbox.Backend),
		zap.String("sandbox.image", cfg.Sandbox.Image),
		zap.String("sandbox.command", cfg.Sandbox.Command),
		zap.String("sandbox.working_dir", cfg.Sandbox.WorkingDir),
		zap.Int("sandbox.memory_mb", cfg.Sandbox.MemoryMB),
		zap.Float64("sandbox.max_time_sec", cfg.Sandbox.MaxTimeSec),
		zap.Bool("sandbox.auto_remove", cfg.Sandbox.AutoRemove),
		zap.Bool("auth.enabled", cfg.Auth.JWTSecret != ""),
		zap.Bool("metrics.enabled", cfg.Metrics.Enabled),
	)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if puller, ok := runtime.(imagePuller); ok && cfg.Sandbox.PullImage {
				if err := puller.EnsureImage(ctx, cfg.Sandbox.Image); err != nil {
					return err
				}
			}

			switch cfg.Server.Transport {
			case "rest":
				return rest.Start(ctx)
			case "stdio":
				go serve(log, shutdowner, mcp.ServeStdio)
			case "http":
				go serve(log, shutdowner, mcp.ServeHTTP)
			default:
				return fmt.Errorf("unsupported transport: %s", cfg.Server.Transport)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := rest.Shutdown(ctx); err != nil {
				log.Warn("REST server shutdown", zap.Error(err))
			}
			if err := mcp.Shutdown(ctx); err != nil {
				log.Warn("MCP server shutdown", zap.Error(err))
			}
			if closer, ok := runtime.(io.Closer); ok {
				if err := closer.Close(); err != nil {
					log.Warn("closing runtime", zap.Error(err))
				}
			}
			_ = log.Sync()
			return nil
		},
	})
}

// serve runs a blocking transport and stops the app once it returns, e.g.
// when stdin is closed.
func serve(log *zap.Logger, shutdowner fx.Shutdowner, fn func() error) {
	if err := fn(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("transport stopped", zap.Error(err))
		_ = shutdowner.Shutdown(fx.ExitCode(1))
		return
	}
	_ = shutdowner.Shutdown()
}
