package sandbox

import (
	"context"
	"errors"
	"io"
	"time"
)

// ExecuteRequest represents one submission. It is owned by a single Execute
// call and never modified.
type ExecuteRequest struct {
	Archive     []byte        // tar.gz project, expanded into the working directory
	TimeLimit   time.Duration // wall-clock budget, enforced by kill
	MemoryLimit int64         // bytes; zero means the configured policy
}

// ExecuteResult represents the result of code execution. ExitCode is nil
// when the engine could not report one.
type ExecuteResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode *int
}

// SandboxExecutor defines the interface for sandbox execution
type SandboxExecutor interface {
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error)
}

// ContainerSpec is the fixed, policy-defined shape of every sandbox.
type ContainerSpec struct {
	Image      string
	Command    []string
	WorkingDir string
	AutoRemove bool
}

// ResourceLimits caps a sandbox. Memory and MemorySwap are always equal so
// that exceeding the ceiling kills the process instead of swapping.
type ResourceLimits struct {
	Memory     int64
	MemorySwap int64
}

// NewResourceLimits returns limits with the swap ceiling pinned to memory.
func NewResourceLimits(memory int64) ResourceLimits {
	return ResourceLimits{Memory: memory, MemorySwap: memory}
}

// StreamKind tags a LogChunk with the channel it was written to.
type StreamKind uint8

// Stream kinds, numbered like the engine's multiplexed log framing.
const (
	StreamStdin StreamKind = iota
	StreamStdout
	StreamStderr
	StreamSystem
)

func (k StreamKind) String() string {
	switch k {
	case StreamStdin:
		return "stdin"
	case StreamStdout:
		return "stdout"
	case StreamStderr:
		return "stderr"
	case StreamSystem:
		return "system"
	default:
		return "unknown"
	}
}

// LogChunk is one fragment of a sandbox's combined output.
type LogChunk struct {
	Stream StreamKind
	Data   []byte
}

// LogStream yields chunks in arrival order. Recv returns io.EOF once the
// sandbox has exited and its output is flushed.
type LogStream interface {
	Recv() (LogChunk, error)
	io.Closer
}

// State is the inspected state of a sandbox.
type State struct {
	Running   bool
	OOMKilled bool
	ExitCode  *int
}

// Runtime is the capability surface of a container engine, keyed by sandbox
// name. Implementations must be safe for concurrent use and carry no
// per-request state.
type Runtime interface {
	Create(ctx context.Context, name string, spec ContainerSpec) error
	ApplyLimits(ctx context.Context, name string, limits ResourceLimits) error
	Upload(ctx context.Context, name, dir string, archive io.Reader) error
	Start(ctx context.Context, name string) error
	Kill(ctx context.Context, name string) error
	Logs(ctx context.Context, name string) (LogStream, error)
	Inspect(ctx context.Context, name string) (State, error)
	Remove(ctx context.Context, name string) error
}

// Runtime errors. Implementations wrap engine errors with these so the
// executor can tell benign races from failures.
var (
	ErrNotFound     = errors.New("sandbox not found")
	ErrNotRunning   = errors.New("sandbox not running")
	ErrNameConflict = errors.New("sandbox name already in use")
)
