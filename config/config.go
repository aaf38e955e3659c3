// Package config loads murmur's settings file.
//
// The file lives at os.UserConfigDir()/murmur/config.yaml and is written
// with defaults the first time murmur runs:
//
//	api_url: http://localhost:8000
//	timeout: 60s
//	format: wav
//	data_dir: ~/.config/murmur/data
//	auto_stop_silence: false
//
// MURMUR_API_URL and MURMUR_DATA_DIR override the file; command-line flags
// override both.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

const (
	appDir   = "murmur"
	fileName = "config.yaml"

	EnvAPIURL  = "MURMUR_API_URL"
	EnvDataDir = "MURMUR_DATA_DIR"

	DefaultAPIURL  = "http://localhost:8000"
	DefaultTimeout = 60 * time.Second
	DefaultFormat  = "wav"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	APIURL          string `yaml:"api_url"`
	Timeout         string `yaml:"timeout"`
	Format          string `yaml:"format"`
	Device          string `yaml:"device,omitempty"`
	DataDir         string `yaml:"data_dir"`
	LogDir          string `yaml:"log_dir,omitempty"`
	AutoStopSilence bool   `yaml:"auto_stop_silence"`

	path string
}

func Default() Config {
	return Config{
		APIURL:  DefaultAPIURL,
		Timeout: DefaultTimeout.String(),
		Format:  DefaultFormat,
	}
}

// Dir returns murmur's directory under the user config directory.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}
	return filepath.Join(base, appDir), nil
}

// Load reads the config from the default location, creating it if needed.
func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(dir)
}

// LoadFrom reads dir/config.yaml, writing the defaults there first if the
// file does not exist, then applies environment overrides.
func LoadFrom(dir string) (*Config, error) {
	path := filepath.Join(dir, fileName)
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		cfg.DataDir = filepath.Join(dir, "data")
		if err := write(path, &cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	cfg.path = path

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(dir, "data")
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

func write(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Path is the file the config was loaded from, empty for Default.
func (c *Config) Path() string { return c.path }

func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvAPIURL)); v != "" {
		c.APIURL = v
	}
	if v := strings.TrimSpace(getenv(EnvDataDir)); v != "" {
		c.DataDir = v
	}
}

func (c *Config) Validate() error {
	c.APIURL = strings.TrimRight(strings.TrimSpace(c.APIURL), "/")
	if !strings.HasPrefix(c.APIURL, "http://") && !strings.HasPrefix(c.APIURL, "https://") {
		return fmt.Errorf("%w: api_url %q must be an http(s) URL", ErrInvalid, c.APIURL)
	}
	switch c.Format {
	case "wav", "flac":
	default:
		return fmt.Errorf("%w: format %q (want wav or flac)", ErrInvalid, c.Format)
	}
	if c.Timeout != "" {
		d, err := time.ParseDuration(c.Timeout)
		if err != nil || d <= 0 {
			return fmt.Errorf("%w: timeout %q", ErrInvalid, c.Timeout)
		}
	}
	return nil
}

// RequestTimeout bounds one exchange with the response service.
func (c *Config) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return DefaultTimeout
	}
	return d
}
