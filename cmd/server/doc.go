// Package main is the entry point for the runbox server.
//
// The runbox server runs untrusted project archives in short-lived,
// network-less containers with a memory ceiling and a wall-clock budget,
// and returns their output and exit code. It is reachable over REST
// (POST /run_code) or as an MCP tool over stdio or HTTP, as selected by
// server.transport.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
