package phx

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by ConfigFromEnv and LoadConfig.
const (
	EnvSocketURL = "PHX_WEBSOCKET_URL"
	EnvAuthToken = "PHX_AUTH_TOKEN"
)

// Config is the file/environment configuration of a Client.
type Config struct {
	SocketURL      string        `yaml:"socket_url"`
	AuthToken      string        `yaml:"auth_token"`
	MaxWorkers     int           `yaml:"max_workers"`
	HandleSignals  bool          `yaml:"handle_signals"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
	Log            LogConfig     `yaml:"log"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		HandleSignals:  true,
		ConnectTimeout: 30 * time.Second,
		DrainTimeout:   10 * time.Second,
		Log: LogConfig{
			Level:         "info",
			Format:        LogFormatConsole,
			BufferSize:    256 * 1024,
			FlushInterval: time.Second,
		},
	}
}

// ConfigFromEnv returns DefaultConfig with environment overrides applied.
func ConfigFromEnv() Config {
	config := DefaultConfig()
	config.applyEnv()
	return config
}

// LoadConfig reads a YAML file, applies environment overrides and validates the result.
func LoadConfig(path string) (Config, error) {
	file, err := os.Open(path) // #nosec G304 -- path is operator-provided
	if err != nil {
		return Config{}, NewError(ConfigurationError, err)
	}
	defer file.Close()

	config, err := DecodeConfig(file)
	if err != nil {
		return Config{}, err
	}
	config.applyEnv()
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// DecodeConfig decodes YAML over DefaultConfig and rejects unknown keys.
func DecodeConfig(reader io.Reader) (Config, error) {
	config := DefaultConfig()
	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil && err != io.EOF {
		return Config{}, NewError(ConfigurationError, fmt.Errorf("invalid config: %w", err))
	}
	return config, nil
}

func (config *Config) applyEnv() {
	if value, ok := os.LookupEnv(EnvSocketURL); ok && value != "" {
		config.SocketURL = value
	}
	if value, ok := os.LookupEnv(EnvAuthToken); ok && value != "" {
		config.AuthToken = value
	}
}

// Validate checks that the configuration can build a client.
func (config Config) Validate() error {
	if config.SocketURL == "" {
		return NewError(ConfigurationError, "socket_url is required (or set "+EnvSocketURL+")")
	}
	parsed, err := url.Parse(config.SocketURL)
	if err != nil {
		return NewError(ConfigurationError, err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return NewError(ConfigurationError, "socket_url scheme must be ws or wss, got "+parsed.Scheme)
	}
	if config.MaxWorkers < 0 {
		return NewError(ConfigurationError, "max_workers must not be negative")
	}
	if config.ConnectTimeout < 0 {
		return NewError(ConfigurationError, "connect_timeout must not be negative")
	}
	if config.DrainTimeout < 0 {
		return NewError(ConfigurationError, "drain_timeout must not be negative")
	}
	return nil
}

// ChannelSocketURL returns the socket URL with the auth token added as the "token" query
// parameter when one is configured.
func (config Config) ChannelSocketURL() (string, error) {
	parsed, err := url.Parse(config.SocketURL)
	if err != nil {
		return "", NewError(ConfigurationError, err)
	}
	if config.AuthToken == "" {
		return parsed.String(), nil
	}
	query := parsed.Query()
	query.Set("token", config.AuthToken)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
