package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kamusis/symsvg/internal/catalogue"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = "symsvg.yaml"

// Engine selects and configures the typesetting engine.
type Engine struct {
	Kind    string        `yaml:"kind"`
	Command string        `yaml:"command,omitempty"`
	Args    []string      `yaml:"args,omitempty"`
	URL     string        `yaml:"url,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Config is the in-memory representation of symsvg.yaml.
type Config struct {
	Catalogue     string        `yaml:"catalogue"`
	Key           string        `yaml:"key,omitempty"`
	Concurrency   int           `yaml:"concurrency,omitempty"`
	RenderTimeout time.Duration `yaml:"render_timeout,omitempty"`
	LockTimeout   time.Duration `yaml:"lock_timeout,omitempty"`
	Engine        Engine        `yaml:"engine"`

	// Dir is the directory relative paths are resolved against.
	Dir string `yaml:"-"`
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot expand ~: %w", err)
	}
	return filepath.Join(home, p[1:]), nil
}

// DefaultConfig returns the config used when no symsvg.yaml exists.
func DefaultConfig() *Config {
	return &Config{
		Catalogue:   filepath.Join("resources", "snippetpanel", "snippetpanel.json"),
		Key:         catalogue.DefaultKey,
		LockTimeout: 10 * time.Second,
		Engine: Engine{
			Kind:    "process",
			Command: "node",
			Args:    []string{filepath.Join("dev", "tex2svg-server.js")},
			Timeout: 30 * time.Second,
		},
	}
}

// Load reads and parses the config at path. A missing file yields the
// defaults. Environment variables, then the .env file next to path, override
// the file's values.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultFile
	}
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}

	cfg.Dir = filepath.Dir(path)
	if err := cfg.applyOverrides(); err != nil {
		return nil, err
	}
	if cfg.Key == "" {
		cfg.Key = catalogue.DefaultKey
	}
	if cfg.Concurrency < 0 {
		return nil, fmt.Errorf("concurrency must be >= 0, got %d", cfg.Concurrency)
	}
	return cfg, nil
}

func (c *Config) applyOverrides() error {
	for key, dst := range map[string]*string{
		"SYMSVG_CATALOGUE":      &c.Catalogue,
		"SYMSVG_ENGINE":         &c.Engine.Kind,
		"SYMSVG_ENGINE_URL":     &c.Engine.URL,
		"SYMSVG_ENGINE_COMMAND": &c.Engine.Command,
	} {
		v, err := GetConfigValue(c.Dir, key)
		if err != nil {
			return err
		}
		if v != "" {
			*dst = v
		}
	}
	return nil
}

// CataloguePath returns the absolute catalogue location.
func (c *Config) CataloguePath() (string, error) {
	p, err := ExpandPath(c.Catalogue)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(c.Dir, p)
	}
	return filepath.Abs(p)
}

// Save marshals cfg and writes it to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write config %s: %w", path, err)
	}
	return nil
}
