package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

const (
	DefaultUnixSocketPath = "/var/run/beacon.sock"
	DefaultConfigPath     = "/etc/beacon.json"
	DefaultDatabasePath   = "/var/lib/beacon/beacon.db"
	DefaultSource         = "push"
	DefaultLogLevel       = "info"
)

// Environment holds process-level settings. They are used as the defaults
// of the matching command line flags.
type Environment struct {
	UnixSocketPath string `env:"BEACON_SOCKET"    envDefault:"/var/run/beacon.sock"`
	ConfigPath     string `env:"BEACON_CONFIG"    envDefault:"/etc/beacon.json"`
	DatabasePath   string `env:"BEACON_DB"        envDefault:"/var/lib/beacon/beacon.db"`
	Source         string `env:"BEACON_SOURCE"    envDefault:"push"`
	LogLevel       string `env:"BEACON_LOG_LEVEL" envDefault:"info"`
}

// DefaultEnvironment is what ParseEnv returns with no variables set.
func DefaultEnvironment() Environment {
	return Environment{
		UnixSocketPath: DefaultUnixSocketPath,
		ConfigPath:     DefaultConfigPath,
		DatabasePath:   DefaultDatabasePath,
		Source:         DefaultSource,
		LogLevel:       DefaultLogLevel,
	}
}

// ParseEnv loads the environment overrides.
func ParseEnv() (Environment, error) {
	var e Environment
	if err := env.Parse(&e); err != nil {
		return DefaultEnvironment(), fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}
