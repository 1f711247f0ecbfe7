package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/runbox/config"
	"github.com/isdmx/runbox/sandbox"
)

// MockSandboxExecutor implements sandbox.SandboxExecutor for testing
type MockSandboxExecutor struct {
	executeResult sandbox.ExecuteResult
	executeError  error
	requests      []sandbox.ExecuteRequest
}

func (m *MockSandboxExecutor) Execute(_ context.Context, req sandbox.ExecuteRequest) (sandbox.ExecuteResult, error) {
	m.requests = append(m.requests, req)
	return m.executeResult, m.executeError
}

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Transport: "stdio", HTTPPort: 8080, MaxBodyMB: 64},
		Sandbox: config.SandboxConfig{Backend: "docker", MemoryMB: 100, MaxTimeSec: 60},
		Logging: config.LoggingConfig{Mode: "production", Level: "info"},
	}
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = ToolName
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestNewMCPServer(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := testConfig()
	mockExecutor := &MockSandboxExecutor{}

	server, err := New(cfg, logger, mockExecutor)
	require.NoError(t, err)
	require.NotNil(t, server)
	assert.Equal(t, cfg, server.config)
	assert.Equal(t, logger, server.logger)
	assert.Equal(t, mockExecutor, server.sandboxExec)
	assert.NotNil(t, server.GetMCPServer())

	require.NoError(t, server.Shutdown(context.Background()))
}

func TestNewMCPServerRejectsMaxTime(t *testing.T) {
	for _, maxTime := range []float64{0, -1, math.Inf(1)} {
		cfg := testConfig()
		cfg.Sandbox.MaxTimeSec = maxTime

		server, err := New(cfg, zaptest.NewLogger(t), &MockSandboxExecutor{})
		require.Error(t, err, "max_time_sec %g", maxTime)
		assert.Nil(t, server)
		assert.Contains(t, err.Error(), "sandbox.max_time_sec")
	}
}

func TestHandleRunCode(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		exitCode := 3
		mockExecutor := &MockSandboxExecutor{executeResult: sandbox.ExecuteResult{
			Stdout:   []byte("out"),
			Stderr:   []byte("err"),
			ExitCode: &exitCode,
		}}
		server, err := New(testConfig(), zaptest.NewLogger(t), mockExecutor)
		require.NoError(t, err)

		result, err := server.handleRunCode(context.Background(), callRequest(map[string]any{
			"archive":    base64.StdEncoding.EncodeToString([]byte("tgz")),
			"max_time_s": 1.5,
		}))
		require.NoError(t, err)
		assert.False(t, result.IsError)

		var body runResult
		require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &body))
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("out")), body.Stdout)
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("err")), body.Stderr)
		require.NotNil(t, body.ExitCode)
		assert.Equal(t, 3, *body.ExitCode)

		require.Len(t, mockExecutor.requests, 1)
		assert.Equal(t, []byte("tgz"), mockExecutor.requests[0].Archive)
		assert.Equal(t, 1500*time.Millisecond, mockExecutor.requests[0].TimeLimit)
	})

	tests := []struct {
		name      string
		args      map[string]any
		execErr   error
		wantText  string
		wantCalls int
	}{
		{
			name: "MissingArchive",
			args: map[string]any{"max_time_s": 1.0},
		},
		{
			name: "MissingTime",
			args: map[string]any{"archive": "dGd6"},
		},
		{
			name:     "InvalidBase64",
			args:     map[string]any{"archive": "%%%", "max_time_s": 1.0},
			wantText: "INVALID_BASE64",
		},
		{
			name:     "NonPositiveTime",
			args:     map[string]any{"archive": "dGd6", "max_time_s": 0.0},
			wantText: "BAD_REQUEST",
		},
		{
			name:      "RejectedByExecutor",
			args:      map[string]any{"archive": "dGd6", "max_time_s": 120.0},
			execErr:   fmt.Errorf("%w: too long", sandbox.ErrInvalidRequest),
			wantText:  "BAD_REQUEST",
			wantCalls: 1,
		},
		{
			name:      "LifecycleFailure",
			args:      map[string]any{"archive": "dGd6", "max_time_s": 1.0},
			execErr:   &sandbox.Error{Kind: sandbox.KindStart, Name: "box", Err: errors.New("exec format error")},
			wantText:  "INTERNAL_SERVER_ERROR",
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockExecutor := &MockSandboxExecutor{executeError: tt.execErr}
			server, err := New(testConfig(), zaptest.NewLogger(t), mockExecutor)
			require.NoError(t, err)

			result, err := server.handleRunCode(context.Background(), callRequest(tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			if tt.wantText != "" {
				assert.Equal(t, tt.wantText, resultText(t, result))
			}
			assert.Len(t, mockExecutor.requests, tt.wantCalls)
		})
	}
}
