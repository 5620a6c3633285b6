package lightning

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines catalog configuration.
type Config struct {
	// ScratchDir is the root under which repository clones are staged.
	// Default: os.TempDir()/lightning/repos.
	ScratchDir string `yaml:"scratchDir"`

	// StaticURL prefixes thumbnail URLs for thumbnails that were not uploaded.
	StaticURL string `yaml:"staticURL"`

	// MaxConcurrentImports bounds the fan-out of multi-folder repository imports.
	// Default: 4.
	MaxConcurrentImports int `yaml:"maxConcurrentImports"`

	// Registry configures the package manager used for module installs.
	Registry RegistryConfig `yaml:"registry"`

	// Store configures persistence.
	Store StoreConfig `yaml:"store"`

	// S3 configures thumbnail uploads. Uploads are disabled when Key is empty.
	S3 S3Config `yaml:"s3"`

	// Feed configures the live visualization feed.
	Feed FeedConfig `yaml:"feed"`
}

// RegistryConfig groups package manager settings.
type RegistryConfig struct {
	// Root is the directory holding node_modules.
	// Default: current directory.
	Root string `yaml:"root"`

	// Command is the package manager binary.
	// Default: npm.
	Command string `yaml:"command"`

	// LogLevel is the verbosity applied while registry commands run.
	// Default: silent.
	LogLevel string `yaml:"logLevel"`
}

// ModulesDir returns the directory packages are installed into.
func (r RegistryConfig) ModulesDir() string {
	return filepath.Join(r.Root, "node_modules")
}

// StoreConfig groups persistence settings.
type StoreConfig struct {
	// Driver selects the store: "sqlite" or "memory".
	// Default: sqlite.
	Driver string `yaml:"driver"`

	// Path to the SQLite database file.
	// Default: lightning.db.
	Path string `yaml:"path"`

	// BusyTimeout is the SQLite lock timeout.
	// Default: 5s.
	BusyTimeout time.Duration `yaml:"busyTimeout"`

	// CompressArtifacts stores javascript, markup and styles snappy-compressed.
	CompressArtifacts bool `yaml:"compressArtifacts"`
}

// S3Config configures the S3 thumbnail store.
type S3Config struct {
	// Key and Secret are static credentials. Prefer the standard AWS
	// environment variables over committing these to a config file.
	Key    string `yaml:"key"`
	Secret string `yaml:"secret"`

	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"` // For S3-compatible services (MinIO, etc.)
	Prefix       string `yaml:"prefix"`
	PublicURL    string `yaml:"publicURL"` // Base URL objects are served from
	UsePathStyle bool   `yaml:"usePathStyle"`
	MaxRetries   int    `yaml:"maxRetries"`
}

// Enabled reports whether uploads are configured.
func (c S3Config) Enabled() bool {
	return c.Key != ""
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ScratchDir:           filepath.Join(os.TempDir(), "lightning", "repos"),
		MaxConcurrentImports: 4,
		Registry: RegistryConfig{
			Root:     ".",
			Command:  "npm",
			LogLevel: "silent",
		},
		Store: StoreConfig{
			Driver:      "sqlite",
			Path:        "lightning.db",
			BusyTimeout: 5 * time.Second,
		},
		S3: S3Config{
			Region:     "us-east-1",
			MaxRetries: 3,
		},
		Feed: DefaultFeedConfig(),
	}
}

// LoadConfig reads a YAML configuration file on top of DefaultConfig.
// ${VAR} references are expanded from the environment before decoding.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.normalize()
	return cfg, cfg.Validate()
}

// normalize fills zero values left by a partial config file.
func (c *Config) normalize() {
	def := DefaultConfig()
	if c.ScratchDir == "" {
		c.ScratchDir = def.ScratchDir
	}
	if c.MaxConcurrentImports <= 0 {
		c.MaxConcurrentImports = def.MaxConcurrentImports
	}
	if c.Registry.Root == "" {
		c.Registry.Root = def.Registry.Root
	}
	if c.Registry.Command == "" {
		c.Registry.Command = def.Registry.Command
	}
	if c.Registry.LogLevel == "" {
		c.Registry.LogLevel = def.Registry.LogLevel
	}
	if c.Store.Driver == "" {
		c.Store.Driver = def.Store.Driver
	}
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	if c.Store.BusyTimeout <= 0 {
		c.Store.BusyTimeout = def.Store.BusyTimeout
	}
	if c.S3.Region == "" {
		c.S3.Region = def.S3.Region
	}
	if c.S3.MaxRetries <= 0 {
		c.S3.MaxRetries = def.S3.MaxRetries
	}
	if c.Feed.BufferSize <= 0 {
		c.Feed.BufferSize = def.Feed.BufferSize
	}
	if c.Feed.PingInterval <= 0 {
		c.Feed.PingInterval = def.Feed.PingInterval
	}
	if c.Feed.WriteTimeout <= 0 {
		c.Feed.WriteTimeout = def.Feed.WriteTimeout
	}
}

// Validate reports configuration values the catalog cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("store.driver must be sqlite or memory, got %q", c.Store.Driver))
	}
	if c.S3.Enabled() && c.S3.Bucket == "" {
		errs = append(errs, errors.New("s3.bucket is required when s3.key is set"))
	}
	if c.MaxConcurrentImports < 0 {
		errs = append(errs, errors.New("maxConcurrentImports must not be negative"))
	}
	return errors.Join(errs...)
}
