package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/schaermu/cmakesyncd/internal/manifest"
)

// AmbiguityPolicy defines what happens when several manifests match by name
type AmbiguityPolicy string

const (
	AmbiguousError AmbiguityPolicy = "error"
	AmbiguousFirst AmbiguityPolicy = "first"
)

// PromptMode defines how created files are confirmed
type PromptMode string

const (
	PromptAsk    PromptMode = "ask"
	PromptAlways PromptMode = "always"
	PromptNever  PromptMode = "never"
)

// DefaultDebounce is the watcher batching window used when none is configured
const DefaultDebounce = 200 * time.Millisecond

// Config represents the complete cmakesyncd configuration
type Config struct {
	Workspace WorkspaceConfig `yaml:"workspace"`
	Manifest  ManifestConfig  `yaml:"manifest"`
	Watch     WatchConfig     `yaml:"watch"`
	Prompt    PromptConfig    `yaml:"prompt"`
	Serve     ServeConfig     `yaml:"serve"`
}

// WorkspaceConfig configures the project tree
type WorkspaceConfig struct {
	Root string `yaml:"root"`
}

// ManifestConfig configures how the manifest is located and edited
type ManifestConfig struct {
	Name          string          `yaml:"name"`
	Path          string          `yaml:"path"`
	ListVariable  string          `yaml:"list_variable"`
	Marker        string          `yaml:"marker"`
	OnAmbiguous   AmbiguityPolicy `yaml:"on_ambiguous"`
	SkipNoopWrite bool            `yaml:"skip_noop_write"`
}

// WatchConfig configures the filesystem watcher
type WatchConfig struct {
	Ignore           []string `yaml:"ignore"`
	RespectGitignore bool     `yaml:"respect_gitignore"`
	// Debounce is nil until defaults apply; an explicit 0 disables batching
	Debounce *time.Duration `yaml:"debounce"`
}

// DebounceWindow returns the configured debounce, or the default when unset
func (w WatchConfig) DebounceWindow() time.Duration {
	if w.Debounce == nil {
		return DefaultDebounce
	}
	return *w.Debounce
}

// PromptConfig configures the confirmation asked for created files
type PromptConfig struct {
	Mode    PromptMode    `yaml:"mode"`
	Timeout time.Duration `yaml:"timeout"`
}

// ServeConfig configures the HTTP event endpoint
type ServeConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	SecretFile string `yaml:"secret_file"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file. When optional is true a
// missing file yields the defaults instead of an error.
func Load(path string, optional bool) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case optional && errors.Is(err, os.ErrNotExist):
		// defaults only
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in path-like string fields
func (c *Config) expandEnv() {
	c.Workspace.Root = os.ExpandEnv(c.Workspace.Root)
	c.Manifest.Path = os.ExpandEnv(c.Manifest.Path)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.SecretFile = os.ExpandEnv(c.Serve.SecretFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Manifest.Name == "" {
		c.Manifest.Name = manifest.DefaultName
	}
	if c.Manifest.ListVariable == "" {
		c.Manifest.ListVariable = manifest.DefaultListVariable
	}
	if c.Manifest.Marker == "" {
		c.Manifest.Marker = manifest.DefaultMarker
	}
	if c.Manifest.OnAmbiguous == "" {
		c.Manifest.OnAmbiguous = AmbiguousError
	}
	if c.Watch.Debounce == nil {
		d := DefaultDebounce
		c.Watch.Debounce = &d
	}
	if c.Prompt.Mode == "" {
		c.Prompt.Mode = PromptAsk
	}
	if c.Serve.ListenAddr == "" {
		c.Serve.ListenAddr = "127.0.0.1:8787"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Workspace.Root != "" && !filepath.IsAbs(c.Workspace.Root) {
		return fmt.Errorf("workspace.root must be an absolute path: %s", c.Workspace.Root)
	}

	if c.Manifest.Name != filepath.Base(c.Manifest.Name) {
		return fmt.Errorf("manifest.name must be a base name: %s", c.Manifest.Name)
	}
	if c.Manifest.Path != "" && !filepath.IsAbs(c.Manifest.Path) {
		return fmt.Errorf("manifest.path must be an absolute path: %s", c.Manifest.Path)
	}

	switch c.Manifest.OnAmbiguous {
	case AmbiguousError, AmbiguousFirst:
		// valid
	default:
		return fmt.Errorf("invalid manifest.on_ambiguous: %s (must be error or first)", c.Manifest.OnAmbiguous)
	}

	for _, pattern := range c.Watch.Ignore {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			return fmt.Errorf("invalid watch.ignore pattern %q: %w", pattern, err)
		}
	}
	if c.Watch.DebounceWindow() < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}

	switch c.Prompt.Mode {
	case PromptAsk, PromptAlways, PromptNever:
		// valid
	default:
		return fmt.Errorf("invalid prompt.mode: %s (must be ask, always, or never)", c.Prompt.Mode)
	}
	if c.Prompt.Timeout < 0 {
		return fmt.Errorf("prompt.timeout must not be negative")
	}

	return nil
}

// Template returns the manifest line template described by the config
func (c *Config) Template() manifest.Template {
	return manifest.Template{
		ListVariable: c.Manifest.ListVariable,
		Marker:       c.Manifest.Marker,
	}
}

// IgnoreMatchers compiles the watch.ignore patterns
func (c *Config) IgnoreMatchers() ([]glob.Glob, error) {
	matchers := make([]glob.Glob, 0, len(c.Watch.Ignore))
	for _, pattern := range c.Watch.Ignore {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", pattern, err)
		}
		matchers = append(matchers, g)
	}
	return matchers, nil
}

// SignatureRequired reports whether the HTTP endpoint authenticates requests
func (c *Config) SignatureRequired() bool {
	return c.Serve.SecretFile != ""
}
