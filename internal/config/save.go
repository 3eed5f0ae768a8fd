package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"sramprint/internal/fsutil"
)

// SaveConfig writes the configuration atomically, in the format implied by
// the file extension (TOML when unknown).
func SaveConfig(cfg *Config, path string) error {
	data, err := Encode(cfg, filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := fsutil.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Encode renders cfg as ".json", ".yaml"/".yml", or TOML for anything else.
func Encode(cfg *Config, ext string) ([]byte, error) {
	switch ext {
	case ".json":
		return json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		return yaml.Marshal(cfg)
	default:
		var buf bytes.Buffer
		buf.WriteString("# sramprint configuration\n")
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}
