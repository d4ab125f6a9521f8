// Package config loads sitewatch settings from an optional YAML file and
// SITEWATCH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// SITEWATCH_API_BASE_URL for api.base_url.
const EnvPrefix = "SITEWATCH"

// Config is the full sitewatch configuration.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Presence PresenceConfig `mapstructure:"presence"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Token   string        `mapstructure:"token"`
}

type StreamConfig struct {
	URL          string        `mapstructure:"url"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

type PresenceConfig struct {
	Address  string        `mapstructure:"address"` // host:port to probe; derived from stream.url when empty
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the shared alarm store
}

type NATSConfig struct {
	URL string `mapstructure:"url"` // empty disables the relay
}

type RelayConfig struct {
	Rate  float64 `mapstructure:"rate"`
	Burst int     `mapstructure:"burst"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from configPath, or from sitewatch.yaml in the
// usual locations when configPath is empty. A missing default file is not
// an error. Environment variables override file values.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("sitewatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.sitewatch")
		v.AddConfigPath("/etc/sitewatch")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: parsing config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.token", "")

	v.SetDefault("stream.url", "")
	v.SetDefault("stream.ping_interval", 30*time.Second)

	v.SetDefault("presence.address", "")
	v.SetDefault("presence.interval", 5*time.Second)
	v.SetDefault("presence.timeout", 3*time.Second)

	v.SetDefault("redis.addr", "")
	v.SetDefault("nats.url", "")

	v.SetDefault("relay.rate", 10.0)
	v.SetDefault("relay.burst", 20)

	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("log.level", "info")
}

// Validate reports missing or malformed endpoint settings.
func (c *Config) Validate() error {
	var errs []error

	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	} else if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url %q must be an http(s) URL", c.API.BaseURL))
	}

	if c.Stream.URL != "" {
		if u, err := url.Parse(c.Stream.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			errs = append(errs, fmt.Errorf("stream.url %q must be a ws(s) URL", c.Stream.URL))
		}
	}

	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("api.timeout must be positive"))
	}
	if c.Presence.Interval <= 0 || c.Presence.Timeout <= 0 {
		errs = append(errs, errors.New("presence.interval and presence.timeout must be positive"))
	}
	if c.Relay.Burst < 0 {
		errs = append(errs, errors.New("relay.burst must not be negative"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: invalid configuration: %w", err)
	}
	return nil
}

// PresenceAddress returns the host:port to probe for connectivity: the
// configured address, or the stream endpoint's host with its default port.
func (c *Config) PresenceAddress() string {
	if c.Presence.Address != "" {
		return c.Presence.Address
	}
	u, err := url.Parse(c.Stream.URL)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Port() != "" {
		return u.Host
	}
	port := "80"
	if u.Scheme == "wss" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port)
}
