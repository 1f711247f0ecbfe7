package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Logging LoggingConfig `mapstructure:"logging"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	Host      string `mapstructure:"host"`
	HTTPPort  int    `mapstructure:"http_port"`
	MaxBodyMB int    `mapstructure:"max_body_mb"`
}

// SandboxConfig holds the sandbox policy. None of these values can be
// overridden by a request.
type SandboxConfig struct {
	Backend            string  `mapstructure:"backend"`
	Host               string  `mapstructure:"host"`
	Image              string  `mapstructure:"image"`
	Command            string  `mapstructure:"command"`
	WorkingDir         string  `mapstructure:"working_dir"`
	MemoryMB           int     `mapstructure:"memory_mb"`
	MaxTimeSec         float64 `mapstructure:"max_time_sec"`
	AutoRemove         bool    `mapstructure:"auto_remove"`
	PullImage          bool    `mapstructure:"pull_image"`
	NameAttempts       int     `mapstructure:"name_attempts"`
	CleanupTimeoutSec  int     `mapstructure:"cleanup_timeout_sec"`
	EnableLocalBackend bool    `mapstructure:"enable_local_backend"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// AuthConfig holds bearer token settings. An empty secret disables auth.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// MetricsConfig holds Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// EnvPrefix is the prefix for environment variable overrides,
// e.g. RUNBOX_SANDBOX_MEMORY_MB.
const EnvPrefix = "RUNBOX"

// New loads and validates the application configuration
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "rest")
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.max_body_mb", 64)

	v.SetDefault("sandbox.backend", "docker")
	v.SetDefault("sandbox.host", "")
	v.SetDefault("sandbox.image", "frolvlad/alpine-python3")
	v.SetDefault("sandbox.command", "/opt/run")
	v.SetDefault("sandbox.working_dir", "/opt")
	v.SetDefault("sandbox.memory_mb", 100)
	v.SetDefault("sandbox.max_time_sec", 60)
	v.SetDefault("sandbox.auto_remove", false)
	v.SetDefault("sandbox.pull_image", false)
	v.SetDefault("sandbox.name_attempts", 3)
	v.SetDefault("sandbox.cleanup_timeout_sec", 30)
	v.SetDefault("sandbox.enable_local_backend", false)

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	switch c.Server.Transport {
	case "rest", "stdio", "http":
	default:
		return fmt.Errorf("invalid server.transport: %s, must be 'rest', 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Server.Transport != "stdio" && (c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535) {
		return fmt.Errorf("invalid server.http_port: %d", c.Server.HTTPPort)
	}

	if c.Server.MaxBodyMB <= 0 {
		return fmt.Errorf("server.max_body_mb must be positive, got: %d", c.Server.MaxBodyMB)
	}

	supportedBackends := map[string]bool{
		"docker": true,
		"podman": true,
		"local":  c.Sandbox.EnableLocalBackend, // local only enabled if specifically allowed
	}
	if !supportedBackends[c.Sandbox.Backend] {
		return fmt.Errorf("unsupported sandbox.backend: %s", c.Sandbox.Backend)
	}

	if c.Sandbox.Image == "" && c.Sandbox.Backend != "local" {
		return fmt.Errorf("sandbox.image is required for backend %s", c.Sandbox.Backend)
	}

	if _, err := c.SandboxCommand(); err != nil {
		return err
	}

	if !path.IsAbs(c.Sandbox.WorkingDir) {
		return fmt.Errorf("sandbox.working_dir must be absolute, got: %q", c.Sandbox.WorkingDir)
	}

	if c.Sandbox.MemoryMB <= 0 {
		return fmt.Errorf("sandbox.memory_mb must be positive, got: %d", c.Sandbox.MemoryMB)
	}

	if c.Sandbox.MaxTimeSec <= 0 {
		return fmt.Errorf("sandbox.max_time_sec must be positive, got: %g", c.Sandbox.MaxTimeSec)
	}

	if c.Sandbox.NameAttempts <= 0 {
		return fmt.Errorf("sandbox.name_attempts must be positive, got: %d", c.Sandbox.NameAttempts)
	}

	if c.Sandbox.CleanupTimeoutSec <= 0 {
		return fmt.Errorf("sandbox.cleanup_timeout_sec must be positive, got: %d", c.Sandbox.CleanupTimeoutSec)
	}

	switch c.Logging.Mode {
	case "production", "development":
	default:
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got: %q", c.Metrics.Path)
	}

	return nil
}

// SandboxCommand splits the configured entry-point command into argv form.
func (c *Config) SandboxCommand() ([]string, error) {
	args, err := shlex.Split(c.Sandbox.Command)
	if err != nil {
		return nil, fmt.Errorf("invalid sandbox.command %q: %w", c.Sandbox.Command, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("sandbox.command must not be empty")
	}
	return args, nil
}

// ListenAddr returns the host:port the HTTP transports bind. An empty
// server.host binds every interface.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.HTTPPort))
}

// MemoryBytes returns the per-sandbox memory ceiling in bytes
func (c *Config) MemoryBytes() int64 {
	return int64(c.Sandbox.MemoryMB) * 1024 * 1024
}

// MaxTime returns the largest time budget a request may ask for
func (c *Config) MaxTime() time.Duration {
	return time.Duration(c.Sandbox.MaxTimeSec * float64(time.Second))
}

// CleanupTimeout bounds rollback and removal calls, which run detached from
// the request context.
func (c *Config) CleanupTimeout() time.Duration {
	return time.Duration(c.Sandbox.CleanupTimeoutSec) * time.Second
}

// MaxBodyBytes returns the request body size limit for the HTTP boundary
func (c *Config) MaxBodyBytes() int64 {
	return int64(c.Server.MaxBodyMB) * 1024 * 1024
}
