// Package config loads an optional TOML file supplying defaults for the
// proxy binary's flags (spec.md §6), read with naoina/toml per
// SPEC_FULL.md's ambient stack.
package config

import (
	"fmt"
	"os"

	"github.com/naoina/toml"
)

// File is the shape of an optional config file. Explicit CLI flags
// always override whatever is set here.
type File struct {
	BindIP   string `toml:"bind_ip"`
	BindPort uint16 `toml:"bind_port"`
	DestIP   string `toml:"dest_ip"`
	DestPort uint16 `toml:"dest_port"`

	Stdout   bool   `toml:"stdout"`
	LogLevel string `toml:"log_level"`
	LogDir   string `toml:"log_dir"`
	LogFile  string `toml:"log_file"`

	AdminAddr   string `toml:"admin_addr"`
	MetricsAddr string `toml:"metrics_addr"`
}

// Load reads and decodes a TOML config file at path. A missing path is
// not an error — callers treat it as "no overrides."
func Load(path string) (*File, error) {
	if path == "" {
		return &File{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	var cfg File
	if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return &cfg, nil
}
