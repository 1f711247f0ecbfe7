// Package client talks to a runbox server's REST API.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/isdmx/runbox/api"
)

// DefaultServer is where a locally started server listens
const DefaultServer = "http://127.0.0.1:8080"

// Result is a decoded /run_code response
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode *int
}

// APIError is a non-200 answer from the server
type APIError struct {
	Status int
	Code   api.AppError
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server answered %d %s", e.Status, e.Code)
}

// Client posts archives to a runbox server
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithToken sends token as a bearer credential
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// New creates a Client for the server at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run submits a tar.gz archive with a time budget and waits for the result.
// The HTTP timeout should exceed maxTime, since the server only answers
// once the sandbox is gone.
func (c *Client) Run(ctx context.Context, archive []byte, maxTime time.Duration) (*Result, error) {
	body, err := json.Marshal(api.RunCodeRequest{
		Base64TarGz: base64.StdEncoding.EncodeToString(archive),
		MaxTimeS:    maxTime.Seconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run_code", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var code api.AppError
		if err := json.Unmarshal(payload, &code); err != nil {
			code = api.AppError(strings.TrimSpace(string(payload)))
		}
		return nil, &APIError{Status: resp.StatusCode, Code: code}
	}

	var decoded api.RunCodeResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	stdout, err := base64.StdEncoding.DecodeString(decoded.Stdout)
	if err != nil {
		return nil, fmt.Errorf("decode stdout: %w", err)
	}
	stderr, err := base64.StdEncoding.DecodeString(decoded.Stderr)
	if err != nil {
		return nil, fmt.Errorf("decode stderr: %w", err)
	}

	return &Result{Stdout: stdout, Stderr: stderr, ExitCode: decoded.ExitCode}, nil
}
