package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/runbox/config"
	"github.com/isdmx/runbox/sandbox"
)

// ToolName is the name of the code execution tool
const ToolName = "run_code"

// MCPServer represents the MCP server
type MCPServer struct {
	config      *config.Config
	logger      *zap.Logger
	sandboxExec sandbox.SandboxExecutor
	mcpServer   *server.MCPServer

	mu         sync.Mutex
	httpServer *server.StreamableHTTPServer
}

// runResult mirrors the REST response body
type runResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode *int   `json:"exit_code"`
}

// New creates a new MCPServer. The tool advertises sandbox.max_time_sec,
// so it must be positive.
func New(cfg *config.Config, logger *zap.Logger, sandboxExec sandbox.SandboxExecutor) (*MCPServer, error) {
	if cfg.Sandbox.MaxTimeSec <= 0 || math.IsInf(cfg.Sandbox.MaxTimeSec, 0) || math.IsNaN(cfg.Sandbox.MaxTimeSec) {
		return nil, fmt.Errorf("sandbox.max_time_sec must be a positive number, got: %g", cfg.Sandbox.MaxTimeSec)
	}

	s := &MCPServer{
		config:      cfg,
		logger:      logger,
		sandboxExec: sandboxExec,
	}

	s.mcpServer = server.NewMCPServer("runbox", "Runs project archives in isolated sandboxes",
		server.WithToolCapabilities(false),
	)
	s.registerRunCodeTool()

	return s, nil
}

func (s *MCPServer) registerRunCodeTool() {
	tool := mcp.NewTool(ToolName,
		mcp.WithDescription("Run a project in a network-less sandbox. The archive is expanded into the working "+
			"directory and its entry point is executed until it exits or the time budget runs out."),
		mcp.WithString("archive",
			mcp.Required(),
			mcp.Description("Base64-encoded tar.gz of the project; must contain the executable entry point"),
		),
		mcp.WithNumber("max_time_s",
			mcp.Required(),
			mcp.Description(fmt.Sprintf("Wall-clock budget in seconds, at most %g", s.config.Sandbox.MaxTimeSec)),
		),
	)

	s.mcpServer.AddTool(tool, s.handleRunCode)
}

func (s *MCPServer) handleRunCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	encoded, err := request.RequireString("archive")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	maxTime, err := request.RequireFloat("max_time_s")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	archive, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		s.logger.Info("invalid base64, refusing request", zap.Error(err))
		return mcp.NewToolResultError("INVALID_BASE64"), nil
	}
	if maxTime <= 0 {
		return mcp.NewToolResultError("BAD_REQUEST"), nil
	}

	result, err := s.sandboxExec.Execute(ctx, sandbox.ExecuteRequest{
		Archive:   archive,
		TimeLimit: time.Duration(maxTime * float64(time.Second)),
	})
	if err != nil {
		if errors.Is(err, sandbox.ErrInvalidRequest) {
			s.logger.Info("request rejected by executor", zap.Error(err))
			return mcp.NewToolResultError("BAD_REQUEST"), nil
		}
		s.logger.Error("sandbox execution failed", zap.Error(err))
		return mcp.NewToolResultError("INTERNAL_SERVER_ERROR"), nil
	}

	body, err := json.Marshal(runResult{
		Stdout:   base64.StdEncoding.EncodeToString(result.Stdout),
		Stderr:   base64.StdEncoding.EncodeToString(result.Stderr),
		ExitCode: result.ExitCode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	return mcp.NewToolResultText(string(body)), nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP and blocks until it stops
func (s *MCPServer) ServeHTTP() error {
	addr := s.config.ListenAddr()
	s.logger.Info("starting MCP server on HTTP", zap.String("addr", addr))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	s.mu.Lock()
	s.httpServer = httpServer
	s.mu.Unlock()
	return httpServer.Start(addr)
}

// Shutdown stops the HTTP transport, if it was started
func (s *MCPServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()

	if httpServer == nil {
		return nil
	}
	return httpServer.Shutdown(ctx)
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
