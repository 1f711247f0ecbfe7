// Package logger provides structured logging capabilities.
//
// The logger package sets up the zap logger shared by the sandbox executor,
// the HTTP and MCP boundaries and the fx application container.
//
// Usage:
//
//	logger, err := logger.New("production", "info")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	logger.Info("Application started")
//	logger.Error("An error occurred", zap.Error(err))
package logger
