//go:build linux

package sandbox

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/runbox/archive"
)

func scriptArchive(t *testing.T, script string) []byte {
	t.Helper()

	data, err := archive.Pack([]archive.File{
		{Name: "run", Mode: archive.ExecPermission, Data: []byte(script)},
		{Name: "data/input.txt", Data: []byte("from archive\n")},
	})
	require.NoError(t, err)
	return data
}

func newLocalExecutor(t *testing.T) (*Executor, *LocalRuntime) {
	t.Helper()
	return newLocalExecutorWithMemory(t, 512*1024*1024)
}

func newLocalExecutorWithMemory(t *testing.T, memory int64) (*Executor, *LocalRuntime) {
	t.Helper()

	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}

	rt, err := NewLocalRuntime(zaptest.NewLogger(t), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	config := testConfig()
	config.MemoryBytes = memory
	return NewExecutor(zaptest.NewLogger(t), config, rt), rt
}

func TestLocalRuntimeExecute(t *testing.T) {
	executor, rt := newLocalExecutor(t)

	archiveData := scriptArchive(t, "#!/bin/sh\necho hello\necho oops >&2\ncat data/input.txt\nexit 3\n")
	result, err := executor.Execute(context.Background(), ExecuteRequest{
		Archive:   archiveData,
		TimeLimit: 10 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, "hello\nfrom archive\n", string(result.Stdout))
	assert.Equal(t, "oops\n", string(result.Stderr))
	require.NotNil(t, result.ExitCode)
	assert.Equal(t, 3, *result.ExitCode)

	rt.mu.Lock()
	assert.Empty(t, rt.boxes)
	rt.mu.Unlock()

	entries, err := os.ReadDir(rt.root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalRuntimeTimeout(t *testing.T) {
	executor, _ := newLocalExecutor(t)

	archiveData := scriptArchive(t, "#!/bin/sh\necho started\nsleep 30\necho unreachable\n")
	start := time.Now()
	result, err := executor.Execute(context.Background(), ExecuteRequest{
		Archive:   archiveData,
		TimeLimit: 500 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)

	assert.Equal(t, "started\n", string(result.Stdout))
	require.NotNil(t, result.ExitCode)
	assert.Equal(t, 137, *result.ExitCode)
}

func TestLocalRuntimeStartFailureRollsBack(t *testing.T) {
	executor, rt := newLocalExecutor(t)

	// No "run" entry point in the archive.
	archiveData, err := archive.Pack([]archive.File{{Name: "other", Data: []byte("x")}})
	require.NoError(t, err)

	_, err = executor.Execute(context.Background(), ExecuteRequest{
		Archive:   archiveData,
		TimeLimit: time.Second,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInternal)
	assert.Equal(t, KindStart, KindOf(err))

	rt.mu.Lock()
	assert.Empty(t, rt.boxes)
	rt.mu.Unlock()
}

func TestLocalRuntimeLifecycle(t *testing.T) {
	ctx := context.Background()
	rt, err := NewLocalRuntime(zaptest.NewLogger(t), t.TempDir())
	require.NoError(t, err)

	spec := ContainerSpec{Command: []string{"/opt/run"}, WorkingDir: "/opt"}
	require.NoError(t, rt.Create(ctx, "box", spec))
	require.ErrorIs(t, rt.Create(ctx, "box", spec), ErrNameConflict)

	state, err := rt.Inspect(ctx, "box")
	require.NoError(t, err)
	assert.False(t, state.Running)
	assert.Nil(t, state.ExitCode)
	assert.ErrorIs(t, rt.Kill(ctx, "box"), ErrNotRunning)

	require.NoError(t, rt.ApplyLimits(ctx, "box", NewResourceLimits(256<<20)))
	require.NoError(t, rt.Upload(ctx, "box", "/opt", bytes.NewReader(scriptArchive(t, "#!/bin/sh\nexec sleep 30\n"))))

	rt.mu.Lock()
	dir := rt.boxes["box"].dir
	rt.mu.Unlock()
	_, err = os.Stat(filepath.Join(dir, "opt", "run"))
	require.NoError(t, err)

	require.NoError(t, rt.Start(ctx, "box"))
	state, err = rt.Inspect(ctx, "box")
	require.NoError(t, err)
	assert.True(t, state.Running)

	require.NoError(t, rt.Kill(ctx, "box"))
	stream, err := rt.Logs(ctx, "box")
	require.NoError(t, err)
	_, _, err = Collect(stream)
	require.NoError(t, err)

	state, err = rt.Inspect(ctx, "box")
	require.NoError(t, err)
	require.NotNil(t, state.ExitCode)
	assert.Equal(t, 137, *state.ExitCode)
	assert.ErrorIs(t, rt.Kill(ctx, "box"), ErrNotRunning)

	require.NoError(t, rt.Remove(ctx, "box"))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	assert.ErrorIs(t, rt.Remove(ctx, "box"), ErrNotFound)
	assert.ErrorIs(t, rt.Kill(ctx, "box"), ErrNotFound)
	_, err = rt.Inspect(ctx, "box")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalRuntimeUploadRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	rt, err := NewLocalRuntime(zaptest.NewLogger(t), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	require.NoError(t, rt.Create(ctx, "box", ContainerSpec{Command: []string{"/opt/run"}, WorkingDir: "/opt"}))

	evil, err := archive.Pack([]archive.File{{Name: "../../escape", Data: []byte("x")}})
	require.NoError(t, err)
	require.Error(t, rt.Upload(ctx, "box", "/opt", bytes.NewReader(evil)))
}

func TestLocalRuntimeMemoryLimit(t *testing.T) {
	executor, rt := newLocalExecutorWithMemory(t, 64*1024*1024)

	archiveData := scriptArchive(t, "#!/bin/sh\necho before\nx=$(head -c 300000000 /dev/zero | tr '\\0' a)\n")
	result, err := executor.Execute(context.Background(), ExecuteRequest{
		Archive:   archiveData,
		TimeLimit: 20 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, "before\n", string(result.Stdout))
	require.NotNil(t, result.ExitCode)
	assert.NotZero(t, *result.ExitCode)

	rt.mu.Lock()
	assert.Empty(t, rt.boxes)
	rt.mu.Unlock()
}

func TestLocalRuntimeMemoryLimitBeforeExec(t *testing.T) {
	executor, _ := newLocalExecutorWithMemory(t, 64*1024*1024)

	archiveData := scriptArchive(t, "#!/bin/sh\nulimit -v\n")
	result, err := executor.Execute(context.Background(), ExecuteRequest{
		Archive:   archiveData,
		TimeLimit: 10 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, "65536\n", string(result.Stdout))
	require.NotNil(t, result.ExitCode)
	assert.Equal(t, 0, *result.ExitCode)
}

func TestLimitedArgv(t *testing.T) {
	argv := []string{"/box/opt/run", "arg"}

	assert.Equal(t, argv, limitedArgv(argv, 0))

	wrapped := limitedArgv(argv, 64*1024*1024+1)
	require.Len(t, wrapped, 5)
	assert.Equal(t, []string{localShell, "-c"}, wrapped[:2])
	assert.Contains(t, wrapped[2], "ulimit -v 65537")
	assert.Equal(t, argv, wrapped[3:])
}

func TestEnforceMemoryLimit(t *testing.T) {
	assert.NoError(t, enforceMemoryLimit(os.Getpid(), 0))

	// A pid that cannot exist: the process is already gone.
	assert.NoError(t, enforceMemoryLimit(1<<30, 64*1024*1024))
}

func TestLocalRuntimeMalformedArchiveRollsBack(t *testing.T) {
	executor, rt := newLocalExecutor(t)

	_, err := executor.Execute(context.Background(), ExecuteRequest{
		Archive:   []byte("not a tarball"),
		TimeLimit: time.Second,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInternal)
	assert.Equal(t, KindUpload, KindOf(err))

	rt.mu.Lock()
	assert.Empty(t, rt.boxes)
	rt.mu.Unlock()

	entries, err := os.ReadDir(rt.root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
