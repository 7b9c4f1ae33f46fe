// Package config holds the explicit configuration object passed into the
// orchestrator. Settings come from an optional YAML file with command-line
// flags layered on top by the CLI; nothing in the pipeline reads ambient
// process state.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the shared, read-only settings for a whole run.
type Config struct {
	// Server is the base URL of the artifact store.
	Server string `yaml:"server"`
	// ToolchainsDir is the directory the toolchain manager scans for
	// installed toolchains. Defaults to $RUSTUP_HOME/toolchains.
	ToolchainsDir string `yaml:"toolchains_dir"`
	// Proxy is an optional HTTP proxy URL applied to all download requests.
	Proxy string `yaml:"proxy"`
	// GithubToken optionally authenticates GitHub API requests to raise rate limits.
	GithubToken string `yaml:"github_token"`
	// Jobs bounds how many component archives are fetched and installed concurrently.
	Jobs int `yaml:"jobs"`
	// RetryAttempts bounds retries of transient download failures.
	RetryAttempts int `yaml:"retry_attempts"`
	// MetadataTimeout limits channel detection and latest-commit lookups.
	// Archive downloads are streamed and carry no overall deadline.
	MetadataTimeout time.Duration `yaml:"metadata_timeout"`
}

const (
	// DefaultConfigFilename is the default settings file looked up next to the binary.
	DefaultConfigFilename = "rustc-artifact-fetcher.yaml"

	// DefaultServer is the public Rust CI artifact store.
	DefaultServer = "https://ci-artifacts.rust-lang.org"

	// DefaultJobs is the default worker pool size for per-component work.
	DefaultJobs = 4

	// DefaultRetryAttempts is the default bound on transient download retries.
	DefaultRetryAttempts = 3

	// DefaultMetadataTimeout is the default deadline for metadata requests.
	DefaultMetadataTimeout = 30 * time.Second
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
)

// Default returns a configuration with all defaults applied, for runs
// without a settings file. Resolving the toolchains directory can fail when
// neither RUSTUP_HOME nor a home directory is available.
func Default() (*Config, error) {
	cfg := new(Config)
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the provided settings for required fields and formatting,
// filling in defaults for anything left unset.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}

	if _, err := url.ParseRequestURI(cfg.Server); err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	if cfg.Proxy != "" {
		if _, err := url.Parse(cfg.Proxy); err != nil {
			return fmt.Errorf("invalid proxy URL: %w", err)
		}
	}

	if cfg.ToolchainsDir == "" {
		dir, err := DefaultToolchainsDir()
		if err != nil {
			return err
		}

		cfg.ToolchainsDir = dir
	}

	if cfg.Jobs <= 0 {
		cfg.Jobs = DefaultJobs
	}

	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}

	if cfg.MetadataTimeout <= 0 {
		cfg.MetadataTimeout = DefaultMetadataTimeout
	}

	return nil
}

// DefaultToolchainsDir resolves the toolchain manager's directory:
// $RUSTUP_HOME/toolchains when set, otherwise ~/.rustup/toolchains.
func DefaultToolchainsDir() (string, error) {
	if home := os.Getenv("RUSTUP_HOME"); home != "" {
		return filepath.Join(home, "toolchains"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	return filepath.Join(home, ".rustup", "toolchains"), nil
}
