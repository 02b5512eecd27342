package config

import (
	"errors"
	"fmt"
	"time"
)

// Config represents the persistent chatrelay configuration stored as
// config.toml in the .chatrelay/ directory. The TOML layout uses sections for
// logical grouping.
type Config struct {
	Version int          `toml:"version"`
	Relay   RelayConfig  `toml:"relay"`
	API     APIConfig    `toml:"api"`
	Client  ClientConfig `toml:"client"`
}

// RelayConfig holds relay settings. Upstream is also the backend the API
// server passes conversation calls through to.
type RelayConfig struct {
	Listen          string `toml:"listen,omitempty"`
	Upstream        string `toml:"upstream,omitempty"`
	UpstreamTimeout string `toml:"upstream_timeout,omitempty"`
}

// Timeout parses UpstreamTimeout.
func (r RelayConfig) Timeout() (time.Duration, error) {
	if r.UpstreamTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(r.UpstreamTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid relay.upstream_timeout: %w", err)
	}
	return d, nil
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// ClientConfig holds settings for CLI commands that connect to the running
// relay and API servers (e.g. chatrelay chat, chatrelay conversations).
// Targets are full URLs (scheme + host + port).
type ClientConfig struct {
	RelayTarget string `toml:"relay_target,omitempty"`
	APITarget   string `toml:"api_target,omitempty"`
	UserID      string `toml:"user_id,omitempty"`
}

// configKey is a user-facing dotted key with its accessors on *Config.
type configKey struct {
	name string
	get  func(c *Config) string
	set  func(c *Config, v string) error
}

func setString(field func(c *Config) *string) func(c *Config, v string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func getString(field func(c *Config) *string) func(c *Config) string {
	return func(c *Config) string {
		return *field(c)
	}
}

func stringKey(name string, field func(c *Config) *string) configKey {
	return configKey{name: name, get: getString(field), set: setString(field)}
}

// configKeys lists every supported key in TOML section order.
var configKeys = []configKey{
	stringKey("relay.listen", func(c *Config) *string { return &c.Relay.Listen }),
	stringKey("relay.upstream", func(c *Config) *string { return &c.Relay.Upstream }),
	{
		name: "relay.upstream_timeout",
		get:  func(c *Config) string { return c.Relay.UpstreamTimeout },
		set: func(c *Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid value for relay.upstream_timeout: %w", err)
			}
			if d <= 0 {
				return errors.New("invalid value for relay.upstream_timeout: must be positive")
			}
			c.Relay.UpstreamTimeout = d.String()
			return nil
		},
	},
	stringKey("api.listen", func(c *Config) *string { return &c.API.Listen }),
	stringKey("client.relay_target", func(c *Config) *string { return &c.Client.RelayTarget }),
	stringKey("client.api_target", func(c *Config) *string { return &c.Client.APITarget }),
	stringKey("client.user_id", func(c *Config) *string { return &c.Client.UserID }),
}

func lookupKey(name string) (configKey, error) {
	for _, k := range configKeys {
		if k.name == name {
			return k, nil
		}
	}
	return configKey{}, fmt.Errorf("unknown config key: %q", name)
}
