package sandbox

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/isdmx/runbox/config"
)

// NewRuntime creates the runtime for the configured backend
func NewRuntime(logger *zap.Logger, cfg *config.Config) (Runtime, error) {
	var (
		runtime Runtime
		err     error
	)

	switch cfg.Sandbox.Backend {
	case "docker":
		runtime, err = NewDockerRuntime(logger, cfg.Sandbox.Host)
	case "podman":
		runtime, err = NewPodmanRuntime(logger, cfg.Sandbox.Host)
	case "local":
		if !cfg.Sandbox.EnableLocalBackend {
			return nil, fmt.Errorf("local backend is disabled, set sandbox.enable_local_backend to use it")
		}
		runtime, err = NewLocalRuntime(logger, "")
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Sandbox.Backend)
	}
	if err != nil {
		return nil, err
	}
	return runtime, nil
}

// NewExecutorFromConfig maps the sandbox policy onto an Executor bound to
// runtime
func NewExecutorFromConfig(logger *zap.Logger, cfg *config.Config, runtime Runtime, opts ...ExecutorOption) (*Executor, error) {
	command, err := cfg.SandboxCommand()
	if err != nil {
		return nil, err
	}

	executorConfig := &Config{
		Image:          cfg.Sandbox.Image,
		Command:        command,
		WorkingDir:     cfg.Sandbox.WorkingDir,
		MemoryBytes:    cfg.MemoryBytes(),
		MaxTime:        cfg.MaxTime(),
		AutoRemove:     cfg.Sandbox.AutoRemove,
		NameAttempts:   cfg.Sandbox.NameAttempts,
		CleanupTimeout: cfg.CleanupTimeout(),
	}

	return NewExecutor(logger, executorConfig, runtime, opts...), nil
}
