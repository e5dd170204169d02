// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for multimail.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// Provider names accepted in PROVIDER.
const (
	ProviderSMTP   = "smtp"
	ProviderSES    = "ses"
	ProviderStdout = "stdout"
)

// Config holds the complete application configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Provider string         `yaml:"provider"`
	Relay    RelayConfig    `yaml:"relay"`
	SES      SESConfig      `yaml:"ses"`
	Sink     SinkConfig     `yaml:"sink"`
	TLS      TLSConfig      `yaml:"tls"`
	Endpoint EndpointConfig `yaml:"endpoint"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HTTPConfig holds the dispatch endpoint listener.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// RelayConfig describes the SMTP relay used by the smtp provider. The
// account is not configured here; it arrives with each request.
type RelayConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	LocalName          string `yaml:"local_name"`
}

// SESConfig holds AWS SES settings. Empty keys fall back to the default AWS
// credential chain.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// SinkConfig holds the local SMTP sink settings.
type SinkConfig struct {
	Listen         string `yaml:"listen"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	MaxMessageSize int64  `yaml:"max_message_size"`
}

// TLSConfig holds TLS certificate file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// EndpointConfig tells `multimail send` where the dispatch endpoint is.
type EndpointConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	switch c.ProviderName() {
	case ProviderSMTP, ProviderStdout:
	case ProviderSES:
		if c.SES.Region == "" {
			return fmt.Errorf("provider %q requires SES_REGION", ProviderSES)
		}
	default:
		return fmt.Errorf("unknown provider %q (want smtp, ses or stdout)", c.Provider)
	}

	if c.Relay.Port < 0 || c.Relay.Port > 65535 {
		return fmt.Errorf("invalid relay port %d", c.Relay.Port)
	}
	if c.Endpoint.Timeout < 0 {
		return fmt.Errorf("invalid endpoint timeout %s", c.Endpoint.Timeout)
	}
	return nil
}

// ProviderName returns the selected provider, smtp when unset.
func (c *Config) ProviderName() string {
	if c.Provider == "" {
		return ProviderSMTP
	}
	return strings.ToLower(c.Provider)
}

// SinkAuthEnabled returns true if both sink username and password are set.
func (c *Config) SinkAuthEnabled() bool {
	return c.Sink.Username != "" && c.Sink.Password != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.HTTP.Listen = ":3000"
	c.Relay.Host = "smtp.gmail.com"
	c.Relay.Port = 465
	c.Sink.Listen = ":2525"
	c.Sink.MaxMessageSize = defaultMaxMessageSize
	c.Endpoint.URL = "http://localhost:3000"
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values; values
// that do not parse are ignored.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("HTTP_LISTEN"); v != "" {
		c.HTTP.Listen = v
	}
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	if v := os.Getenv("RELAY_HOST"); v != "" {
		c.Relay.Host = v
	}
	if v := os.Getenv("RELAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Relay.Port = port
		}
	}
	if v := os.Getenv("RELAY_INSECURE_SKIP_VERIFY"); v != "" {
		if skip, err := strconv.ParseBool(v); err == nil {
			c.Relay.InsecureSkipVerify = skip
		}
	}
	if v := os.Getenv("RELAY_LOCAL_NAME"); v != "" {
		c.Relay.LocalName = v
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}

	if v := os.Getenv("SINK_LISTEN"); v != "" {
		c.Sink.Listen = v
	}
	if v := os.Getenv("SINK_USERNAME"); v != "" {
		c.Sink.Username = v
	}
	if v := os.Getenv("SINK_PASSWORD"); v != "" {
		c.Sink.Password = v
	}
	if v := os.Getenv("SINK_MAX_MESSAGE_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Sink.MaxMessageSize = size
		}
	}

	if v := os.Getenv("TLS_CERT_FILE"); v != "" {
		c.TLS.CertFile = v
	}
	if v := os.Getenv("TLS_KEY_FILE"); v != "" {
		c.TLS.KeyFile = v
	}

	if v := os.Getenv("ENDPOINT_URL"); v != "" {
		c.Endpoint.URL = v
	}
	if v := os.Getenv("ENDPOINT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Endpoint.Timeout = d
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}
