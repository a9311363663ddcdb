package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DefaultListen is the admin API address used when the pool file sets none
const DefaultListen = "127.0.0.1:9187"

// File is a daemon pool file
type File struct {
	// Listen is the admin API address
	Listen string     `yaml:"listen" toml:"listen"`
	Pools  []PoolSpec `yaml:"pools" toml:"pools"`
}

// PoolSpec declares one pool to warm at startup
type PoolSpec struct {
	Name       string            `yaml:"name" toml:"name"`
	URL        string            `yaml:"url" toml:"url"`
	Properties map[string]string `yaml:"properties" toml:"properties"`
}

// LoadFile reads a pool file. The format follows the extension: .yaml and
// .yml are YAML, .toml is TOML. POOLMAN_LISTEN overrides the listen address.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pool file: %w", err)
	}

	f := &File{Listen: DefaultListen}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, f)
	case ".toml":
		err = toml.Unmarshal(data, f)
	default:
		return nil, fmt.Errorf("unsupported pool file format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool file: %w", err)
	}

	if listen := os.Getenv("POOLMAN_LISTEN"); listen != "" {
		f.Listen = listen
	}

	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool file: %w", err)
	}
	return f, nil
}

// Validate checks that every pool has a unique name and a URL
func (f *File) Validate() error {
	if f.Listen == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	seen := make(map[string]bool, len(f.Pools))
	for i, p := range f.Pools {
		if p.Name == "" {
			return fmt.Errorf("pool %d: name cannot be empty", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("pool %s: duplicate name", p.Name)
		}
		seen[p.Name] = true
		if p.URL == "" {
			return fmt.Errorf("pool %s: url cannot be empty", p.Name)
		}
	}
	return nil
}
