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

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr         string   `json:"addr" yaml:"addr" toml:"addr"`
	ModelPath    string   `json:"model_path" yaml:"model_path" toml:"model_path"`
	Device       string   `json:"device" yaml:"device" toml:"device"`
	WorkDir      string   `json:"work_dir" yaml:"work_dir" toml:"work_dir"`
	MaxArchiveMB int      `json:"max_archive_mb" yaml:"max_archive_mb" toml:"max_archive_mb"`
	MaxBodyMB    int      `json:"max_body_mb" yaml:"max_body_mb" toml:"max_body_mb"`
	LogLevel     string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	CORSOrigins  []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
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
	return cfg, nil
}
