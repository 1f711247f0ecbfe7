//go:build linux

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/isdmx/runbox/archive"
)

// localPath is the PATH handed to sandboxed processes.
const localPath = "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

const localReadBuffer = 32 << 10

const localShell = "/bin/sh"

// LocalRuntime runs each sandbox as a process group on the host, with its
// filesystem rooted in a temporary directory. It is meant for development
// only: there is no network isolation and the memory ceiling is an address
// space limit, not a cgroup. Auto-removal is not supported; sandboxes stay
// until Remove.
type LocalRuntime struct {
	logger *zap.Logger
	root   string

	mu    sync.Mutex
	boxes map[string]*localBox
}

type localBox struct {
	dir     string
	spec    ContainerSpec
	limits  ResourceLimits
	cmd     *exec.Cmd
	started bool

	chunks chan LogChunk
	done   chan struct{}
	// state is written once before done is closed.
	state *os.ProcessState
}

// NewLocalRuntime creates sandbox directories under root, or under the
// system temporary directory when root is empty.
func NewLocalRuntime(logger *zap.Logger, root string) (*LocalRuntime, error) {
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, archive.DirPermission); err != nil {
		return nil, fmt.Errorf("failed to create sandbox root: %w", err)
	}

	logger.Warn("using local sandbox backend, code runs unisolated on this host", zap.String("root", root))
	return &LocalRuntime{
		logger: logger,
		root:   root,
		boxes:  make(map[string]*localBox),
	}, nil
}

// Create allocates the sandbox directory.
func (l *LocalRuntime) Create(_ context.Context, name string, spec ContainerSpec) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.boxes[name]; ok {
		return fmt.Errorf("%w: %s", ErrNameConflict, name)
	}
	if len(spec.Command) == 0 {
		return fmt.Errorf("sandbox %s has no command", name)
	}

	dir, err := os.MkdirTemp(l.root, "runbox-"+name+"-*")
	if err != nil {
		return fmt.Errorf("failed to create sandbox dir: %w", err)
	}

	l.boxes[name] = &localBox{
		dir:    dir,
		spec:   spec,
		chunks: make(chan LogChunk, 64),
		done:   make(chan struct{}),
	}
	return nil
}

// ApplyLimits records the limits; they are applied when the process starts.
func (l *LocalRuntime) ApplyLimits(_ context.Context, name string, limits ResourceLimits) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	box, err := l.lookup(name)
	if err != nil {
		return err
	}
	box.limits = limits
	return nil
}

// Upload expands a tar.gz archive into dir, resolved inside the sandbox root.
func (l *LocalRuntime) Upload(_ context.Context, name, dir string, r io.Reader) error {
	l.mu.Lock()
	box, err := l.lookup(name)
	l.mu.Unlock()
	if err != nil {
		return err
	}

	target := box.hostPath(dir)
	if err := os.MkdirAll(target, archive.DirPermission); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return archive.Extract(r, target)
}

// Start launches the command in its own process group. The process is not
// bound to ctx; it lives until it exits, is killed, or is removed.
func (l *LocalRuntime) Start(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	box, err := l.lookup(name)
	if err != nil {
		return err
	}
	if box.started {
		return fmt.Errorf("sandbox %s already started", name)
	}

	argv := append([]string{box.command()}, box.spec.Command[1:]...)
	workDir := box.hostPath(box.spec.WorkingDir)

	// The limit wrapper would turn a missing entry point into exit code 127.
	if _, err := exec.LookPath(argv[0]); err != nil {
		return fmt.Errorf("failed to start %s: %w", box.spec.Command[0], err)
	}
	argv = limitedArgv(argv, box.limits.Memory)

	//nolint:gosec // Running the submitted program is the point of the sandbox
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = workDir
	cmd.Env = []string{localPath, "HOME=" + workDir}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	if err := enforceMemoryLimit(cmd.Process.Pid, box.limits.Memory); err != nil {
		_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		_ = cmd.Wait()
		return fmt.Errorf("failed to apply memory limit: %w", err)
	}

	box.cmd = cmd
	box.started = true

	var pumps sync.WaitGroup
	pumps.Add(2)
	go box.pump(&pumps, StreamStdout, stdout)
	go box.pump(&pumps, StreamStderr, stderr)
	go func() {
		pumps.Wait()
		// Wait reports the exit status through ProcessState.
		_ = cmd.Wait()
		box.state = cmd.ProcessState
		// done first, so a reader that sees the stream end also sees the exit.
		close(box.done)
		close(box.chunks)
	}()

	return nil
}

// Kill sends SIGKILL to the sandbox's process group.
func (l *LocalRuntime) Kill(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	box, err := l.lookup(name)
	if err != nil {
		return err
	}
	if !box.running() {
		return fmt.Errorf("%w: %s", ErrNotRunning, name)
	}

	if err := unix.Kill(-box.cmd.Process.Pid, unix.SIGKILL); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("%w: %s", ErrNotRunning, name)
		}
		return fmt.Errorf("failed to kill sandbox %s: %w", name, err)
	}
	return nil
}

// Logs streams output as the process writes it. There is a single stream
// per sandbox; it ends once both pipes are closed and the process is reaped.
func (l *LocalRuntime) Logs(ctx context.Context, name string) (LogStream, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	box, err := l.lookup(name)
	if err != nil {
		return nil, err
	}
	if !box.started {
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, name)
	}
	return &chanStream{ctx: ctx, chunks: box.chunks}, nil
}

// Inspect reports whether the process is still running and, once it is
// not, its exit code. Death by signal is reported as 128+signal.
func (l *LocalRuntime) Inspect(_ context.Context, name string) (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	box, err := l.lookup(name)
	if err != nil {
		return State{}, err
	}
	if !box.started {
		return State{}, nil
	}
	if box.running() {
		return State{Running: true}, nil
	}

	exitCode := box.state.ExitCode()
	if ws, ok := box.state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		exitCode = 128 + int(ws.Signal())
	}
	return State{ExitCode: &exitCode}, nil
}

// Remove kills whatever is left of the sandbox and deletes its directory.
func (l *LocalRuntime) Remove(ctx context.Context, name string) error {
	l.mu.Lock()
	box, err := l.lookup(name)
	if err == nil {
		delete(l.boxes, name)
	}
	l.mu.Unlock()
	if err != nil {
		return err
	}

	if box.started {
		if box.running() {
			_ = unix.Kill(-box.cmd.Process.Pid, unix.SIGKILL)
		}
		// Unread output would keep the pumps blocked.
		go func() {
			for range box.chunks {
			}
		}()
		select {
		case <-box.done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for sandbox %s to exit: %w", name, ctx.Err())
		}
	}

	if err := os.RemoveAll(box.dir); err != nil {
		return fmt.Errorf("failed to remove sandbox dir: %w", err)
	}
	return nil
}

// Close removes every sandbox that is still around.
func (l *LocalRuntime) Close() error {
	l.mu.Lock()
	names := make([]string, 0, len(l.boxes))
	for name := range l.boxes {
		names = append(names, name)
	}
	l.mu.Unlock()

	var errs []error
	for _, name := range names {
		if err := l.Remove(context.Background(), name); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// limitedArgv wraps argv in a shell that sets the address space limit before
// exec, so the program never runs without it.
func limitedArgv(argv []string, memory int64) []string {
	if memory <= 0 {
		return argv
	}
	kib := (memory + 1023) / 1024
	script := fmt.Sprintf(`ulimit -v %d || exit 126; exec "$0" "$@"`, kib)
	return append([]string{localShell, "-c", script}, argv...)
}

// enforceMemoryLimit sets RLIMIT_AS on an already started process. It
// covers a shell whose ulimit builtin lacks -v. ESRCH means the process has
// already exited.
func enforceMemoryLimit(pid int, memory int64) error {
	if memory <= 0 {
		return nil
	}
	limit := &unix.Rlimit{Cur: uint64(memory), Max: uint64(memory)}
	err := unix.Prlimit(pid, unix.RLIMIT_AS, limit, nil)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// lookup must be called with l.mu held.
func (l *LocalRuntime) lookup(name string) (*localBox, error) {
	box, ok := l.boxes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return box, nil
}

// hostPath maps an absolute sandbox path onto the host directory.
func (b *localBox) hostPath(p string) string {
	return filepath.Join(b.dir, filepath.FromSlash(path.Clean("/"+p)))
}

func (b *localBox) command() string {
	if path.IsAbs(b.spec.Command[0]) {
		return b.hostPath(b.spec.Command[0])
	}
	return b.spec.Command[0]
}

func (b *localBox) running() bool {
	if !b.started {
		return false
	}
	select {
	case <-b.done:
		return false
	default:
		return true
	}
}

func (b *localBox) pump(wg *sync.WaitGroup, kind StreamKind, r io.Reader) {
	defer wg.Done()
	buf := make([]byte, localReadBuffer)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			b.chunks <- LogChunk{Stream: kind, Data: append([]byte(nil), buf[:n]...)}
		}
		if err != nil {
			return
		}
	}
}

type chanStream struct {
	ctx    context.Context
	chunks <-chan LogChunk
}

func (s *chanStream) Recv() (LogChunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if !ok {
			return LogChunk{}, io.EOF
		}
		return chunk, nil
	case <-s.ctx.Done():
		return LogChunk{}, s.ctx.Err()
	}
}

func (*chanStream) Close() error {
	return nil
}
