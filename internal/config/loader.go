package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and are replaced by defaults in main.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	// Path to the llama-server executable.
	LlamaBin string `json:"llama_bin" yaml:"llama_bin" toml:"llama_bin"`
	// SQLite file holding per-model launch configurations.
	StateDB string `json:"state_db" yaml:"state_db" toml:"state_db"`
	// Directory for rotated child process logs. Empty disables file logging.
	LogDir string `json:"log_dir" yaml:"log_dir" toml:"log_dir"`
	// Host backends bind to; defaults to 127.0.0.1.
	BackendHost string `json:"backend_host" yaml:"backend_host" toml:"backend_host"`
	// First port of the backend allocation range.
	BasePort int `json:"base_port" yaml:"base_port" toml:"base_port"`
	// Size of the port scan window above BasePort.
	PortWindow int `json:"port_window" yaml:"port_window" toml:"port_window"`
	// Ports never handed to a backend even when free.
	ReservedPorts []int `json:"reserved_ports" yaml:"reserved_ports" toml:"reserved_ports"`
	// Seconds to wait for a launched backend to become healthy.
	HealthTimeoutSec int `json:"health_timeout_sec" yaml:"health_timeout_sec" toml:"health_timeout_sec"`
	// Seconds between graceful stop signal and force kill.
	StopTimeoutSec int `json:"stop_timeout_sec" yaml:"stop_timeout_sec" toml:"stop_timeout_sec"`
	// Default context size passed to llama-server (-c). 0 keeps the server default.
	CtxSize int `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size"`
	// Model id used when a request omits one.
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model"`
	// Launch a catalog model on demand when a request names it and no
	// instance is running. Pointer so config files can set false explicitly.
	Autostart *bool `json:"autostart" yaml:"autostart" toml:"autostart"`
}

// AutostartEnabled reports the autostart setting with its default (on).
func (c Config) AutostartEnabled() bool {
	if c.Autostart == nil {
		return true
	}
	return *c.Autostart
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.BasePort < 0 || c.BasePort > 65535 {
		return fmt.Errorf("base_port out of range: %d", c.BasePort)
	}
	if c.PortWindow < 0 {
		return fmt.Errorf("port_window must be >= 0")
	}
	for _, p := range c.ReservedPorts {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("reserved port out of range: %d", p)
		}
	}
	return nil
}
