// Package config loads the emulator's TOML configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Node    NodeConfig    `toml:"node"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
	Queue   QueueConfig   `toml:"queue"`
}

type NodeConfig struct {
	// DataDir holds the metadata store file and the blob directory.
	// Wiping it resets all emulated state.
	DataDir string `toml:"data_dir"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type MetricsConfig struct {
	Listen string `toml:"listen"`
	Path   string `toml:"path"`
}

type QueueConfig struct {
	// SweepInterval controls the eager visibility sweeper. Zero
	// disables it; expiry is then purely lazy on the receive path.
	SweepInterval duration `toml:"sweep_interval"`
}

// duration lets TOML carry values like "30s".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// Value returns the underlying time.Duration.
func (d duration) Value() time.Duration { return time.Duration(d) }

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		Node: NodeConfig{
			DataDir: "~/.cloudemu",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9090",
			Path:   "/metrics",
		},
		Queue: QueueConfig{
			SweepInterval: duration(30 * time.Second),
		},
	}
}

// Load reads a TOML config file and returns the parsed Config.
// If path is empty, only defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		// Try default location
		path = expandHome("~/.cloudemu/config.toml")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the process cannot start with.
func (c *Config) Validate() error {
	if c.Node.DataDir == "" {
		return fmt.Errorf("node.data_dir must not be empty")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format)
	}
	if c.Queue.SweepInterval.Value() < 0 {
		return fmt.Errorf("queue.sweep_interval must not be negative")
	}
	if c.Metrics.Listen != "" {
		if err := validateListen(c.Metrics.Listen); err != nil {
			return fmt.Errorf("metrics.listen: %w", err)
		}
	}
	if c.Metrics.Path != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}
	return nil
}

func validateListen(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	_ = host // empty host means all interfaces
	if port == "" {
		return fmt.Errorf("listen address %q is missing a port", addr)
	}
	if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("listen address %q has an invalid port", addr)
	}
	return nil
}

// ExpandHome resolves a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	return expandHome(path)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
