// Package config loads and validates the server configuration from defaults,
// an optional YAML file, and environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	HTTP       HTTPConfig       `yaml:"http"`
	Stdio      StdioConfig      `yaml:"stdio"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Middleware MiddlewareConfig `yaml:"middleware"`
}

// ServerConfig represents server identity configuration
type ServerConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
}

// WebSocketConfig configures the socket channel
type WebSocketConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Address          string        `yaml:"address"`
	Path             string        `yaml:"path"`
	MaxMessageSize   int64         `yaml:"max_message_size"`
	ReadBufferSize   int           `yaml:"read_buffer_size"`
	WriteBufferSize  int           `yaml:"write_buffer_size"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PongTimeout      time.Duration `yaml:"pong_timeout"`
}

// HTTPConfig configures the request/response channel
type HTTPConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	Path            string        `yaml:"path"`
	MaxBodySize     int64         `yaml:"max_body_size"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ExchangeTimeout time.Duration `yaml:"exchange_timeout"`
}

// StdioConfig configures the stream channel
type StdioConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Delimiter string `yaml:"delimiter"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// MetricsConfig configures the Prometheus metrics endpoint
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`
}

// MiddlewareConfig configures cross-cutting HTTP middleware
type MiddlewareConfig struct {
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// CORSConfig configures CORS headers on the HTTP channel
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RateLimitConfig configures the token-bucket request limiter
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name:        "universal-mcp-server",
			Version:     "1.0.0",
			Description: "Multi-transport RPC server",
		},
		WebSocket: WebSocketConfig{
			Enabled:          true,
			Address:          ":8081",
			Path:             "/ws",
			MaxMessageSize:   10 * 1024 * 1024,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     10 * time.Second,
			PingInterval:     30 * time.Second,
			PongTimeout:      60 * time.Second,
		},
		HTTP: HTTPConfig{
			Enabled:         true,
			Address:         ":8080",
			Path:            "/rpc",
			MaxBodySize:     10 * 1024 * 1024,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ExchangeTimeout: 30 * time.Second,
		},
		Stdio: StdioConfig{
			Enabled:   false,
			Delimiter: "\n",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "umcp",
			Path:      "/metrics",
		},
		Middleware: MiddlewareConfig{
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
			},
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerSecond: 100,
				Burst:             200,
			},
		},
	}
}

// LoadConfig loads configuration from defaults, an optional YAML file named
// by path (skipped when empty), and environment variable overrides.
func LoadConfig(path string) (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	loadFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromEnv loads configuration from environment variables
func loadFromEnv(config *Config) {
	if name := os.Getenv("UMCP_SERVER_NAME"); name != "" {
		config.Server.Name = name
	}
	if addr := os.Getenv("UMCP_HTTP_ADDRESS"); addr != "" {
		config.HTTP.Address = addr
	}
	if path := os.Getenv("UMCP_HTTP_PATH"); path != "" {
		config.HTTP.Path = path
	}
	if addr := os.Getenv("UMCP_WS_ADDRESS"); addr != "" {
		config.WebSocket.Address = addr
	}
	if path := os.Getenv("UMCP_WS_PATH"); path != "" {
		config.WebSocket.Path = path
	}
	if delim := os.Getenv("UMCP_STDIO_DELIMITER"); delim != "" {
		config.Stdio.Delimiter = delim
	}
	if v := os.Getenv("UMCP_STDIO_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Stdio.Enabled = b
		}
	}
	if v := os.Getenv("UMCP_WS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.WebSocket.Enabled = b
		}
	}
	if v := os.Getenv("UMCP_HTTP_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.HTTP.Enabled = b
		}
	}
	if level := os.Getenv("UMCP_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("UMCP_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if v := os.Getenv("UMCP_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Metrics.Enabled = b
		}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return fmt.Errorf("server name is required")
	}
	if !c.WebSocket.Enabled && !c.HTTP.Enabled && !c.Stdio.Enabled {
		return fmt.Errorf("at least one transport must be enabled")
	}
	if c.HTTP.Enabled && c.HTTP.Address == "" {
		return fmt.Errorf("http address is required when http transport is enabled")
	}
	if c.WebSocket.Enabled && c.WebSocket.Address == "" {
		return fmt.Errorf("websocket address is required when websocket transport is enabled")
	}
	if c.Stdio.Enabled && c.Stdio.Delimiter == "" {
		return fmt.Errorf("stdio delimiter must not be empty")
	}
	if c.Middleware.RateLimit.Enabled && c.Middleware.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate limit requests_per_second must be positive")
	}
	return nil
}
