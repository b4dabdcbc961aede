// Package config loads the per-target configuration file. A target directory
// is identified by a modpak.yml at its root naming the repositories whose
// manifests feed resolution.
package config

import (
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/glorpus-work/modpak/pkg/errors"
)

// FileName is the configuration file expected at the target directory root.
const FileName = "modpak.yml"

// Repository names one repository manifest source.
type Repository struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Settings holds tunables that apply to the whole target.
type Settings struct {
	LogLevel string `yaml:"log_level"`
	// CacheDir overrides where manifests and archives are cached. Relative
	// paths are resolved against the target directory. Empty means the
	// default cache inside the store directory.
	CacheDir             string   `yaml:"cache_dir"`
	HTTPTimeout          Duration `yaml:"http_timeout"`
	MaxConcurrentFetches int      `yaml:"max_concurrent_fetches"`
}

// Duration decodes YAML scalars like "90s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return errors.Wrapf(errors.ErrParse, "invalid duration %q", text)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the decoded target configuration.
type Config struct {
	Repositories []Repository `yaml:"repositories"`
	Settings     Settings     `yaml:"settings"`
}

// DefaultConfig returns a configuration with defaults applied and no
// repositories.
func DefaultConfig() *Config {
	return &Config{
		Settings: Settings{
			LogLevel:             "info",
			HTTPTimeout:          Duration(5 * time.Minute),
			MaxConcurrentFetches: 4,
		},
	}
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(errors.ErrNoConfig, "%s", path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading configuration %s", path)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(errors.ErrParse, "decoding configuration %s: %v", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "configuration %s", path)
	}
	return cfg, nil
}

// Find walks upward from startDir looking for a configuration file and
// returns the target directory containing it.
func Find(startDir string) (targetDir string, cfg *Config, err error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", nil, errors.Wrapf(err, "resolving %s", startDir)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, statErr := os.Stat(candidate); statErr == nil {
			cfg, err := Load(candidate)
			if err != nil {
				return "", nil, err
			}
			return dir, cfg, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil, errors.Wrapf(errors.ErrNoConfig, "no %s found from %s upward", FileName, startDir)
		}
		dir = parent
	}
}

// Validate checks the configuration invariants.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Repositories))
	for _, repo := range c.Repositories {
		if repo.Name == "" {
			return errors.Wrap(errors.ErrConfigValidation, "repository without a name")
		}
		if seen[repo.Name] {
			return errors.Wrapf(errors.ErrConfigValidation, "repository %s listed twice", repo.Name)
		}
		seen[repo.Name] = true
		parsed, err := url.Parse(repo.URL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return errors.Wrapf(errors.ErrConfigValidation, "repository %s has invalid url %q", repo.Name, repo.URL)
		}
	}
	if c.Settings.MaxConcurrentFetches < 1 {
		return errors.Wrap(errors.ErrConfigValidation, "max_concurrent_fetches must be at least 1")
	}
	if c.Settings.HTTPTimeout <= 0 {
		return errors.Wrap(errors.ErrConfigValidation, "http_timeout must be positive")
	}
	return nil
}
