package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/runbox/archive"
)

const integrationImage = "alpine:3.20"

func newDockerExecutor(t *testing.T, opts ...ExecutorOption) (*Executor, *DockerRuntime) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping engine test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	logger := zaptest.NewLogger(t)
	rt, err := NewDockerRuntime(logger, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	require.NoError(t, rt.EnsureImage(ctx, integrationImage))

	config := testConfig()
	config.Image = integrationImage
	return NewExecutor(logger, config, rt, opts...), rt
}

func TestDockerExecutorIntegration(t *testing.T) {
	executor, _ := newDockerExecutor(t)

	t.Run("Output", func(t *testing.T) {
		data, err := archive.Pack([]archive.File{
			{Name: "run", Mode: archive.ExecPermission, Data: []byte("#!/bin/sh\necho hello\necho oops >&2\nexit 4\n")},
		})
		require.NoError(t, err)

		result, err := executor.Execute(context.Background(), ExecuteRequest{Archive: data, TimeLimit: 30 * time.Second})
		require.NoError(t, err)
		assert.Equal(t, "hello\n", string(result.Stdout))
		assert.Equal(t, "oops\n", string(result.Stderr))
		require.NotNil(t, result.ExitCode)
		assert.Equal(t, 4, *result.ExitCode)
	})

	t.Run("Timeout", func(t *testing.T) {
		data, err := archive.Pack([]archive.File{
			{Name: "run", Mode: archive.ExecPermission, Data: []byte("#!/bin/sh\necho started\nsleep 60\n")},
		})
		require.NoError(t, err)

		start := time.Now()
		result, err := executor.Execute(context.Background(), ExecuteRequest{Archive: data, TimeLimit: time.Second})
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 30*time.Second)
		assert.Equal(t, "started\n", string(result.Stdout))
		require.NotNil(t, result.ExitCode)
		assert.Equal(t, 137, *result.ExitCode)
	})

	t.Run("NoNetwork", func(t *testing.T) {
		data, err := archive.Pack([]archive.File{
			{Name: "run", Mode: archive.ExecPermission, Data: []byte("#!/bin/sh\nwget -q -T 2 -O- http://example.com\n")},
		})
		require.NoError(t, err)

		result, err := executor.Execute(context.Background(), ExecuteRequest{Archive: data, TimeLimit: 10 * time.Second})
		require.NoError(t, err)
		require.NotNil(t, result.ExitCode)
		assert.NotEqual(t, 0, *result.ExitCode)
	})

	t.Run("MemoryLimit", func(t *testing.T) {
		// The ceiling from testConfig is 100MB with no extra swap.
		data, err := archive.Pack([]archive.File{
			{Name: "run", Mode: archive.ExecPermission, Data: []byte("#!/bin/sh\necho before\nx=$(head -c 300000000 /dev/zero | tr '\\0' a)\n")},
		})
		require.NoError(t, err)

		result, err := executor.Execute(context.Background(), ExecuteRequest{Archive: data, TimeLimit: 30 * time.Second})
		require.NoError(t, err)
		assert.Equal(t, "before\n", string(result.Stdout))
		require.NotNil(t, result.ExitCode)
		assert.NotEqual(t, 0, *result.ExitCode)
	})
}

func TestDockerExecutorMalformedArchiveRollsBack(t *testing.T) {
	name := "runbox-malformed-" + NewName()
	executor, rt := newDockerExecutor(t, WithNameGenerator(func() string { return name }))

	_, err := executor.Execute(context.Background(), ExecuteRequest{
		Archive:   []byte("not a tarball"),
		TimeLimit: 10 * time.Second,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInternal)
	assert.Equal(t, KindUpload, KindOf(err))

	_, err = rt.Inspect(context.Background(), name)
	assert.ErrorIs(t, err, ErrNotFound)
}
