package config

import (
	"fmt"
	"os"
	"strconv"
)

const (
	// DefaultHost binds the agent to loopback only; the API is meant for
	// local presentation layers, never the network.
	DefaultHost = "127.0.0.1"
	// DefaultPort is the agent's default listen port.
	DefaultPort = 32147
)

// Config holds the agent's runtime configuration.
type Config struct {
	Host string
	Port int
}

// Load reads configuration from environment variables, falling back to
// defaults for anything unset or invalid.
func Load() *Config {
	cfg := &Config{
		Host: DefaultHost,
		Port: DefaultPort,
	}

	if host := os.Getenv("PASSKEY_AGENT_HOST"); host != "" {
		cfg.Host = host
	}
	if portStr := os.Getenv("PASSKEY_AGENT_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 && port < 65536 {
			cfg.Port = port
		}
	}
	return cfg
}

// Address returns the host:port listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
