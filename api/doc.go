// Package api serves the sandbox executor over HTTP.
//
// POST /run_code accepts a base64 tar.gz project and a time budget and
// answers with base64 stdout and stderr plus the exit code. Errors are
// plain JSON strings (see AppError). The server also exposes /healthz and,
// when enabled, Prometheus metrics. Bearer JWT auth is optional.
package api
