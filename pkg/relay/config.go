// Copyright 2024-2026 Aiku AI

package relay

import (
	_ "embed"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config holds the relay server configuration.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	SocketPath  string `yaml:"socket_path"`
	ServiceName string `yaml:"service_name"`
	// AllowedOrigins lists the origins accepted for CORS requests and
	// WebSocket upgrades. A single "*" entry accepts every origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	WebSocket WebSocketConfig `yaml:"websocket"`

	ShutdownTimeout int `yaml:"shutdown_timeout"`

	Logging zeroconfig.Config `yaml:"logging"`
}

// WebSocketConfig holds per-connection transport settings. Durations are in
// seconds.
type WebSocketConfig struct {
	SendQueueSize int   `yaml:"send_queue_size"`
	ReadLimit     int64 `yaml:"read_limit"`
	WriteTimeout  int   `yaml:"write_timeout"`
	PingInterval  int   `yaml:"ping_interval"`
	PongTimeout   int   `yaml:"pong_timeout"`
}

const (
	defaultListenAddr      = ":3000"
	defaultSocketPath      = "/socket"
	defaultServiceName     = "Phone Dialer WebSocket Relay"
	defaultSendQueueSize   = 64
	defaultReadLimit       = 64 * 1024
	defaultWriteTimeout    = 10
	defaultPingInterval    = 25
	defaultPongTimeout     = 20
	defaultShutdownTimeout = 10
)

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess fills unset values with defaults and validates the result.
func (c *Config) PostProcess() error {
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}
	if c.SocketPath == "" {
		c.SocketPath = defaultSocketPath
	}
	if !strings.HasPrefix(c.SocketPath, "/") {
		return fmt.Errorf("socket_path must start with '/', got %q", c.SocketPath)
	}
	if c.SocketPath == "/" || c.SocketPath == "/health" || c.SocketPath == "/metrics" {
		return fmt.Errorf("socket_path %q conflicts with a built-in endpoint", c.SocketPath)
	}
	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	ws := &c.WebSocket
	if ws.SendQueueSize <= 0 {
		ws.SendQueueSize = defaultSendQueueSize
	}
	if ws.ReadLimit <= 0 {
		ws.ReadLimit = defaultReadLimit
	}
	if ws.WriteTimeout <= 0 {
		ws.WriteTimeout = defaultWriteTimeout
	}
	if ws.PingInterval <= 0 {
		ws.PingInterval = defaultPingInterval
	}
	if ws.PongTimeout <= 0 {
		ws.PongTimeout = defaultPongTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	return nil
}

// ApplyEnv applies environment overrides. PORT replaces the port of
// ListenAddr while keeping its host.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	port := getenv("PORT")
	if port == "" {
		return nil
	}
	host := ""
	if c.ListenAddr != "" {
		h, _, err := net.SplitHostPort(c.ListenAddr)
		if err != nil {
			return fmt.Errorf("invalid listen_addr %q: %w", c.ListenAddr, err)
		}
		host = h
	}
	c.ListenAddr = net.JoinHostPort(host, port)
	return nil
}

// AllowsOrigin reports whether origin may use the relay. Requests without
// an Origin header are always allowed.
func (c *Config) AllowsOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (ws WebSocketConfig) writeTimeout() time.Duration {
	return time.Duration(ws.WriteTimeout) * time.Second
}

func (ws WebSocketConfig) pingInterval() time.Duration {
	return time.Duration(ws.PingInterval) * time.Second
}

func (ws WebSocketConfig) pongWait() time.Duration {
	return time.Duration(ws.PingInterval+ws.PongTimeout) * time.Second
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "listen_addr")
	helper.Copy(up.Str, "socket_path")
	helper.Copy(up.Str, "service_name")
	helper.Copy(up.List, "allowed_origins")
	helper.Copy(up.Int, "websocket", "send_queue_size")
	helper.Copy(up.Int, "websocket", "read_limit")
	helper.Copy(up.Int, "websocket", "write_timeout")
	helper.Copy(up.Int, "websocket", "ping_interval")
	helper.Copy(up.Int, "websocket", "pong_timeout")
	helper.Copy(up.Int, "shutdown_timeout")
	helper.Copy(up.Map, "logging")
}

// Upgrader returns the config upgrader that merges a user config onto the
// embedded example config.
func Upgrader() up.BaseUpgrader {
	return &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks: [][]string{
			{"websocket"},
			{"shutdown_timeout"},
			{"logging"},
		},
		Base: ExampleConfig,
	}
}

var ErrConfigPath = errors.New("config path is empty")

// LoadConfig reads the config at path, upgrading it against the example
// config, and applies environment overrides and defaults. When save is true
// an upgraded config is written back to path.
func LoadConfig(path string, save bool, getenv func(string) string) (*Config, error) {
	if path == "" {
		return nil, ErrConfigPath
	}
	data, _, err := up.Do(path, save, Upgrader())
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	return ParseConfig(data, getenv)
}

// ParseConfig decodes raw YAML and applies environment overrides and
// defaults.
func ParseConfig(data []byte, getenv func(string) string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return nil, err
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
