package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	env "github.com/Netflix/go-env"
)

// Config is the server's complete runtime configuration.
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Execution *ExecutionConfig `json:"execution"`
	Log       *LogConfig       `json:"log"`
}

// DatabaseConfig locates the activity journal. An empty Path disables it.
type DatabaseConfig struct {
	Path      string        `json:"path"`
	Timeout   time.Duration `json:"timeout"`
	QueueSize int           `json:"queue_size"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

// Addr returns host:port for net/http.
func (h *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

type WebSocketConfig struct {
	PingInterval    time.Duration `json:"ping_interval"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	BufferSize      int           `json:"buffer_size"`
	MaxMessageBytes int64         `json:"max_message_bytes"`
}

// ExecutionConfig points at a Piston-compatible execution API.
type ExecutionConfig struct {
	Endpoint string            `json:"endpoint"`
	Timeout  time.Duration     `json:"timeout"`
	Versions map[string]string `json:"versions"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:      "./data/codesync.db",
			Timeout:   30 * time.Second,
			QueueSize: 1024,
		},
		HTTP: &HTTPConfig{
			Port:         5000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval:    25 * time.Second,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			BufferSize:      256,
			MaxMessageBytes: 1 << 20,
		},
		Execution: &ExecutionConfig{
			Endpoint: "https://emkc.org/api/v2/piston/execute",
			Timeout:  15 * time.Second,
			Versions: map[string]string{},
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Database == nil {
		return errors.New("database configuration is required")
	}
	if c.Database.Path != "" && c.Database.Timeout <= 0 {
		return errors.New("database timeout must be positive")
	}
	if c.Database.Path != "" && c.Database.QueueSize <= 0 {
		return errors.New("database queue size must be positive")
	}

	if c.HTTP == nil {
		return errors.New("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return errors.New("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return errors.New("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return errors.New("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		return errors.New("WebSocket max message bytes must be positive")
	}

	if c.Execution == nil {
		return errors.New("execution configuration is required")
	}
	if c.Execution.Endpoint == "" {
		return errors.New("execution endpoint cannot be empty")
	}
	if c.Execution.Timeout <= 0 {
		return errors.New("execution timeout must be positive")
	}

	if c.Log == nil {
		return errors.New("log configuration is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}

	return nil
}

// envOverrides lists every variable LoadFromEnv understands. Unset
// variables leave their field nil.
type envOverrides struct {
	HTTPPort             *int           `env:"CODESYNC_HTTP_PORT"`
	HTTPHost             *string        `env:"CODESYNC_HTTP_HOST"`
	HTTPReadTimeout      *time.Duration `env:"CODESYNC_HTTP_READ_TIMEOUT"`
	HTTPWriteTimeout     *time.Duration `env:"CODESYNC_HTTP_WRITE_TIMEOUT"`
	DatabasePath         *string        `env:"CODESYNC_DATABASE_PATH"`
	DatabaseTimeout      *time.Duration `env:"CODESYNC_DATABASE_TIMEOUT"`
	WebSocketPing        *time.Duration `env:"CODESYNC_WEBSOCKET_PING_INTERVAL"`
	WebSocketReadTimeout *time.Duration `env:"CODESYNC_WEBSOCKET_READ_TIMEOUT"`
	WebSocketWrite       *time.Duration `env:"CODESYNC_WEBSOCKET_WRITE_TIMEOUT"`
	WebSocketBuffer      *int           `env:"CODESYNC_WEBSOCKET_BUFFER_SIZE"`
	WebSocketMaxMessage  *int64         `env:"CODESYNC_WEBSOCKET_MAX_MESSAGE_BYTES"`
	ExecutionEndpoint    *string        `env:"CODESYNC_EXECUTION_ENDPOINT"`
	ExecutionTimeout     *time.Duration `env:"CODESYNC_EXECUTION_TIMEOUT"`
	LogLevel             *string        `env:"CODESYNC_LOG_LEVEL"`
	LogFormat            *string        `env:"CODESYNC_LOG_FORMAT"`
}

// LoadFromEnv applies CODESYNC_* variables on top of the defaults.
func LoadFromEnv() (*Config, error) {
	config := DefaultConfig()
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnv(config *Config) error {
	var o envOverrides
	if _, err := env.UnmarshalFromEnviron(&o); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}

	setIfPresent(&config.HTTP.Port, o.HTTPPort)
	setIfPresent(&config.HTTP.Host, o.HTTPHost)
	setIfPresent(&config.HTTP.ReadTimeout, o.HTTPReadTimeout)
	setIfPresent(&config.HTTP.WriteTimeout, o.HTTPWriteTimeout)
	setIfPresent(&config.Database.Path, o.DatabasePath)
	setIfPresent(&config.Database.Timeout, o.DatabaseTimeout)
	setIfPresent(&config.WebSocket.PingInterval, o.WebSocketPing)
	setIfPresent(&config.WebSocket.ReadTimeout, o.WebSocketReadTimeout)
	setIfPresent(&config.WebSocket.WriteTimeout, o.WebSocketWrite)
	setIfPresent(&config.WebSocket.BufferSize, o.WebSocketBuffer)
	setIfPresent(&config.WebSocket.MaxMessageBytes, o.WebSocketMaxMessage)
	setIfPresent(&config.Execution.Endpoint, o.ExecutionEndpoint)
	setIfPresent(&config.Execution.Timeout, o.ExecutionTimeout)
	setIfPresent(&config.Log.Level, o.LogLevel)
	setIfPresent(&config.Log.Format, o.LogFormat)
	return nil
}

func setIfPresent[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// ConfigFile mirrors Config with durations as strings ("30s", "1m").
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Execution *ExecutionConfigFile `json:"execution"`
	Log       *LogConfig           `json:"log"`
}

type DatabaseConfigFile struct {
	Path      *string `json:"path"`
	Timeout   string  `json:"timeout"`
	QueueSize int     `json:"queue_size"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

type WebSocketConfigFile struct {
	PingInterval    string `json:"ping_interval"`
	ReadTimeout     string `json:"read_timeout"`
	WriteTimeout    string `json:"write_timeout"`
	BufferSize      int    `json:"buffer_size"`
	MaxMessageBytes int64  `json:"max_message_bytes"`
}

type ExecutionConfigFile struct {
	Endpoint string            `json:"endpoint"`
	Timeout  string            `json:"timeout"`
	Versions map[string]string `json:"versions"`
}

// LoadFromFile reads a JSON config file on top of the defaults.
func LoadFromFile(filepath string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, filepath); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return config, nil
}

func applyFile(config *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	p := durationParser{}

	if file.Database != nil {
		if file.Database.Path != nil {
			config.Database.Path = *file.Database.Path
		}
		p.parse(&config.Database.Timeout, "database.timeout", file.Database.Timeout)
		if file.Database.QueueSize > 0 {
			config.Database.QueueSize = file.Database.QueueSize
		}
	}

	if file.HTTP != nil {
		if file.HTTP.Port > 0 {
			config.HTTP.Port = file.HTTP.Port
		}
		if file.HTTP.Host != "" {
			config.HTTP.Host = file.HTTP.Host
		}
		p.parse(&config.HTTP.ReadTimeout, "http.read_timeout", file.HTTP.ReadTimeout)
		p.parse(&config.HTTP.WriteTimeout, "http.write_timeout", file.HTTP.WriteTimeout)
	}

	if file.WebSocket != nil {
		if file.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = file.WebSocket.BufferSize
		}
		if file.WebSocket.MaxMessageBytes > 0 {
			config.WebSocket.MaxMessageBytes = file.WebSocket.MaxMessageBytes
		}
		p.parse(&config.WebSocket.PingInterval, "websocket.ping_interval", file.WebSocket.PingInterval)
		p.parse(&config.WebSocket.ReadTimeout, "websocket.read_timeout", file.WebSocket.ReadTimeout)
		p.parse(&config.WebSocket.WriteTimeout, "websocket.write_timeout", file.WebSocket.WriteTimeout)
	}

	if file.Execution != nil {
		if file.Execution.Endpoint != "" {
			config.Execution.Endpoint = file.Execution.Endpoint
		}
		p.parse(&config.Execution.Timeout, "execution.timeout", file.Execution.Timeout)
		for lang, version := range file.Execution.Versions {
			config.Execution.Versions[lang] = version
		}
	}

	if file.Log != nil {
		if file.Log.Level != "" {
			config.Log.Level = file.Log.Level
		}
		if file.Log.Format != "" {
			config.Log.Format = file.Log.Format
		}
	}

	if p.err != nil {
		return fmt.Errorf("invalid duration in %s: %w", filepath, p.err)
	}
	return nil
}

// durationParser keeps the first parse error so a file is either applied
// in full or rejected.
type durationParser struct {
	err error
}

func (p *durationParser) parse(dst *time.Duration, field, raw string) {
	if raw == "" || p.err != nil {
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", field, err)
		return
	}
	*dst = d
}

// LoadConfigWithPrecedence resolves defaults, then environment, then the
// file at filepath (when non-empty). Later sources win field by field.
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	config := DefaultConfig()

	if err := applyEnv(config); err != nil {
		return nil, err
	}

	if filepath != "" {
		if err := applyFile(config, filepath); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
