// Package config loads server and client settings from an optional TOML
// file plus the SERVER_IP, SERVER_PORT, STORAGE_DIR and LOG_LEVEL
// environment variables.  Environment values override file values.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultPort is the relay's control-plane TCP port.
	DefaultPort = 8888

	// DefaultStorageDir holds users.dat and history.dat.
	DefaultStorageDir = ".ncr-data"
)

// Config carries everything the binaries need at startup.
type Config struct {
	// Addr is the IP the server binds (or the client dials).
	Addr string `toml:"addr"`

	// Port is the control-plane TCP port.
	Port int `toml:"port"`

	// StorageDir is the directory for the persistence files.
	StorageDir string `toml:"storage_dir"`

	// LogLevel is a go-logging level name.
	LogLevel string `toml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Addr:       "0.0.0.0",
		Port:       DefaultPort,
		StorageDir: DefaultStorageDir,
		LogLevel:   "INFO",
	}
}

// Load builds a Config from defaults, the TOML file at path (skipped when
// path is empty), and finally the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("config: port %d out of range", cfg.Port)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SERVER_IP"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid SERVER_PORT %q: %w", v, err)
		}
		c.Port = port
	}
	if v := os.Getenv("STORAGE_DIR"); v != "" {
		c.StorageDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

// ListenAddr renders Addr and Port as a host:port string.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Addr, strconv.Itoa(c.Port))
}
