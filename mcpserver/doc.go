// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package exposes the sandbox executor as the run_code tool,
// using the mark3labs/mcp-go library for the protocol details. The tool
// takes the same inputs as the REST endpoint (a base64 tar.gz archive and a
// time budget in seconds) and returns the same JSON document as its text
// content. Failures come back as tool errors carrying only a generic code.
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, executor)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
