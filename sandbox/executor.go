package sandbox

import (
	"bytes"
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/runbox/metrics"
)

// Config is the sandbox policy shared by every request.
type Config struct {
	Image          string
	Command        []string
	WorkingDir     string
	MemoryBytes    int64
	MaxTime        time.Duration
	AutoRemove     bool
	NameAttempts   int
	CleanupTimeout time.Duration
}

// DefaultCleanupTimeout bounds kill and remove calls when Config leaves
// CleanupTimeout unset.
const DefaultCleanupTimeout = 30 * time.Second

func (c *Config) cleanupTimeout() time.Duration {
	if c.CleanupTimeout <= 0 {
		return DefaultCleanupTimeout
	}
	return c.CleanupTimeout
}

func (c *Config) spec() ContainerSpec {
	return ContainerSpec{
		Image:      c.Image,
		Command:    c.Command,
		WorkingDir: c.WorkingDir,
		AutoRemove: c.AutoRemove,
	}
}

// Executor drives one sandbox per request through create, limit, upload,
// start, collect, inspect and remove. Any step after create that fails
// removes the sandbox before the error is returned.
type Executor struct {
	logger  *zap.Logger
	config  *Config
	runtime Runtime
	newName func() string
}

// ExecutorOption defines a functional option for Executor
type ExecutorOption func(*Executor)

// WithNameGenerator replaces NewName as the source of sandbox names
func WithNameGenerator(newName func() string) ExecutorOption {
	return func(e *Executor) {
		e.newName = newName
	}
}

// NewExecutor creates an Executor bound to runtime
func NewExecutor(logger *zap.Logger, config *Config, runtime Runtime, opts ...ExecutorOption) *Executor {
	executor := &Executor{
		logger:  logger,
		config:  config,
		runtime: runtime,
		newName: NewName,
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

// Execute runs req in a fresh sandbox. Failures match ErrInternal or
// ErrInvalidRequest; the underlying engine error is only logged.
func (e *Executor) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	if err := e.validate(&req); err != nil {
		metrics.ExecutionsTotal.WithLabelValues("invalid").Inc()
		return ExecuteResult{}, err
	}

	e.logger.Info("received request",
		zap.Int("archive_bytes", len(req.Archive)),
		zap.Duration("time_limit", req.TimeLimit),
		zap.Int64("memory_limit", req.MemoryLimit))

	started := time.Now()
	result, err := e.execute(ctx, req)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ExecutionsTotal.WithLabelValues(outcome).Inc()
	metrics.ExecutionDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())

	return result, err
}

func (e *Executor) validate(req *ExecuteRequest) error {
	if len(req.Archive) == 0 {
		return invalidRequest("archive is empty")
	}
	if req.TimeLimit <= 0 {
		return invalidRequest("time limit must be positive, got %s", req.TimeLimit)
	}
	if e.config.MaxTime > 0 && req.TimeLimit > e.config.MaxTime {
		return invalidRequest("time limit %s exceeds maximum %s", req.TimeLimit, e.config.MaxTime)
	}
	if req.MemoryLimit < 0 {
		return invalidRequest("memory limit must not be negative")
	}
	if req.MemoryLimit == 0 {
		req.MemoryLimit = e.config.MemoryBytes
	}
	return nil
}

func (e *Executor) execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	name, err := e.create(ctx)
	if err != nil {
		return ExecuteResult{}, err
	}
	metrics.ActiveSandboxes.Inc()
	defer metrics.ActiveSandboxes.Dec()

	log := e.logger.With(zap.String("sandbox", name))
	log.Info("created sandbox")

	limits := NewResourceLimits(req.MemoryLimit)
	if err := e.runtime.ApplyLimits(ctx, name, limits); err != nil {
		return ExecuteResult{}, e.rollback(ctx, log, name, KindLimit, err)
	}
	log.Info("limited sandbox", zap.Int64("memory", limits.Memory), zap.Int64("memory_swap", limits.MemorySwap))

	if err := e.runtime.Upload(ctx, name, e.config.WorkingDir, bytes.NewReader(req.Archive)); err != nil {
		return ExecuteResult{}, e.rollback(ctx, log, name, KindUpload, err)
	}
	log.Info("uploaded archive", zap.String("dir", e.config.WorkingDir))

	if err := e.runtime.Start(ctx, name); err != nil {
		return ExecuteResult{}, e.rollback(ctx, log, name, KindStart, err)
	}
	log.Info("started sandbox")

	watchdogCtx, stopWatchdog := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWatchdog()
	go e.enforceTimeout(watchdogCtx, log, name, req.TimeLimit)

	stream, err := e.runtime.Logs(ctx, name)
	if err != nil {
		stopWatchdog()
		return ExecuteResult{}, e.rollback(ctx, log, name, KindLogs, err)
	}
	stdout, stderr, collectErr := Collect(stream)
	if closeErr := stream.Close(); closeErr != nil {
		log.Debug("closing log stream", zap.Error(closeErr))
	}
	stopWatchdog()
	if collectErr != nil {
		log.Warn("log stream ended with error", zap.Error(collectErr))
	}
	metrics.OutputBytesTotal.WithLabelValues(StreamStdout.String()).Add(float64(len(stdout)))
	metrics.OutputBytesTotal.WithLabelValues(StreamStderr.String()).Add(float64(len(stderr)))
	log.Info("sandbox finished", zap.Int("stdout_bytes", len(stdout)), zap.Int("stderr_bytes", len(stderr)))

	state, err := e.runtime.Inspect(ctx, name)
	switch {
	case err == nil:
	case e.config.AutoRemove && errors.Is(err, ErrNotFound):
		log.Info("sandbox auto-removed before inspection, exit code unavailable")
	default:
		return ExecuteResult{}, e.rollback(ctx, log, name, KindInspect, err)
	}
	if state.OOMKilled {
		log.Info("sandbox hit its memory ceiling", zap.Int64("memory", limits.Memory))
	}

	result := assembleResult(stdout, stderr, state)
	e.remove(ctx, log, name)
	return result, nil
}

// create allocates a name and creates the sandbox, drawing a new name when
// the engine reports a collision with a live sandbox.
func (e *Executor) create(ctx context.Context) (string, error) {
	attempts := max(e.config.NameAttempts, 1)
	spec := e.config.spec()

	var (
		name string
		err  error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		name = e.newName()
		err = e.runtime.Create(ctx, name, spec)
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, ErrNameConflict) {
			break
		}
		e.logger.Warn("sandbox name collision", zap.String("sandbox", name), zap.Int("attempt", attempt))
	}

	metrics.LifecycleFailuresTotal.WithLabelValues(KindCreate.String()).Inc()
	e.logger.Error("couldn't create sandbox", zap.String("sandbox", name), zap.Error(err))
	return "", &Error{Kind: KindCreate, Name: name, Err: err}
}

func (e *Executor) rollback(ctx context.Context, log *zap.Logger, name string, kind Kind, cause error) error {
	metrics.LifecycleFailuresTotal.WithLabelValues(kind.String()).Inc()
	log.Error("sandbox step failed, removing sandbox", zap.Stringer("kind", kind), zap.Error(cause))
	e.remove(ctx, log, name)
	return &Error{Kind: kind, Name: name, Err: cause}
}

// remove deletes the sandbox. It never fails the request: by the time it
// runs the caller either has a result or a more important error.
func (e *Executor) remove(ctx context.Context, log *zap.Logger, name string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.cleanupTimeout())
	defer cancel()

	if e.config.AutoRemove {
		if _, err := e.runtime.Inspect(cleanupCtx, name); errors.Is(err, ErrNotFound) {
			log.Debug("sandbox auto-removed")
			return
		}
	}

	err := e.runtime.Remove(cleanupCtx, name)
	switch {
	case err == nil:
		log.Info("removed sandbox")
	case errors.Is(err, ErrNotFound):
		log.Info("sandbox already removed")
	default:
		metrics.LifecycleFailuresTotal.WithLabelValues(KindRemove.String()).Inc()
		log.Error("couldn't remove sandbox", zap.Error(&Error{Kind: KindRemove, Name: name, Err: err}))
	}
}
