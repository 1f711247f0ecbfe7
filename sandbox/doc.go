// Package sandbox runs untrusted project archives in short-lived containers.
//
// Each request gets its own sandbox, driven by Executor through a fixed
// lifecycle: create, apply memory limits (memory and swap pinned equal),
// upload the archive, start, collect the demultiplexed stdout and stderr
// stream, inspect the exit code and remove. A watchdog goroutine kills the
// sandbox once the request's time budget runs out. Any failure after the
// sandbox exists removes it before the error is returned, and callers only
// ever see ErrInternal; engine detail goes to the log.
//
// Engines are reached through the Runtime interface. DockerRuntime speaks
// the Docker engine API and also serves Podman through its compatible
// socket. LocalRuntime runs sandboxes as host process groups and is for
// development only.
//
// Usage:
//
//	runtime, err := sandbox.NewRuntime(logger, cfg)
//	executor, err := sandbox.NewExecutorFromConfig(logger, cfg, runtime)
//	result, err := executor.Execute(ctx, sandbox.ExecuteRequest{
//	    Archive:   tarGz,
//	    TimeLimit: 5 * time.Second,
//	})
package sandbox
