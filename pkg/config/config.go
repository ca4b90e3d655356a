// Package config loads stackpack settings from a YAML file and the
// environment.
//
// Sources, lowest precedence first:
//
//  1. built-in defaults
//  2. $XDG_CONFIG_HOME/stackpack/config.yaml (or the file given to [Open])
//  3. STACKPACK_* environment variables, with dots in keys replaced by
//     underscores (STACKPACK_CACHE_BACKEND sets cache.backend)
//
// Command-line flags override all three; the CLI binds them onto the
// [Store]'s viper instance.
package config

import (
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/matzehuels/stackpack/pkg/cache"
	"github.com/matzehuels/stackpack/pkg/errors"
)

const (
	appName   = "stackpack"
	fileName  = "config"
	fileType  = "yaml"
	envPrefix = "STACKPACK"
)

// Keys.
const (
	KeyBaseDir       = "base_dir"
	KeyCatalog       = "catalog"
	KeyConcurrency   = "concurrency"
	KeyTimeout       = "timeout"
	KeyRetries       = "retries"
	KeyBackoff       = "backoff"
	KeyMaxBytes      = "max_bytes"
	KeyStateFile     = "state_file"
	KeyCacheBackend  = "cache.backend"
	KeyCacheDir      = "cache.dir"
	KeyCacheRedis    = "cache.redis_addr"
	KeyHistoryPath   = "history.path"
	KeyDeadline      = "deadline"
	KeyRollback      = "rollback"
	KeyLogTimestamps = "log.timestamps"
)

// Config is the resolved configuration.
type Config struct {
	BaseDir     string        `mapstructure:"base_dir" yaml:"base_dir"`
	Catalog     string        `mapstructure:"catalog" yaml:"catalog"`
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Retries     int           `mapstructure:"retries" yaml:"retries"`
	Backoff     time.Duration `mapstructure:"backoff" yaml:"backoff"`
	MaxBytes    int64         `mapstructure:"max_bytes" yaml:"max_bytes"`
	Deadline    time.Duration `mapstructure:"deadline" yaml:"deadline"`
	Rollback    bool          `mapstructure:"rollback" yaml:"rollback"`
	StateFile   string        `mapstructure:"state_file" yaml:"state_file"`
	Cache       CacheConfig   `mapstructure:"cache" yaml:"cache"`
	History     HistoryConfig `mapstructure:"history" yaml:"history"`
	Log         LogConfig     `mapstructure:"log" yaml:"log"`
}

// CacheConfig selects the download cache backend.
type CacheConfig struct {
	Backend   string `mapstructure:"backend" yaml:"backend"`
	Dir       string `mapstructure:"dir" yaml:"dir"`
	RedisAddr string `mapstructure:"redis_addr" yaml:"redis_addr"`
}

// HistoryConfig locates the install history database.
type HistoryConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig tunes log output.
type LogConfig struct {
	Timestamps bool `mapstructure:"timestamps" yaml:"timestamps"`
}

// Dir returns the stackpack config directory.
func Dir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "."+appName)
	}
	return filepath.Join(dir, appName)
}

// FilePath returns the default config file location.
func FilePath() string {
	return filepath.Join(Dir(), fileName+"."+fileType)
}

func cacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(Dir(), "cache")
	}
	return filepath.Join(dir, appName)
}

// Store wraps a viper instance bound to one config file.
type Store struct {
	v    *viper.Viper
	path string
}

// Open reads the config file at path (FilePath if empty) and the
// environment. A missing file is not an error.
func Open(path string) (*Store, error) {
	if path == "" {
		path = FilePath()
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType(fileType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil && !notExist(err) {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "read config %s", path)
	}
	return &Store{v: v, path: path}, nil
}

func notExist(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return stderrors.As(err, &nf) || stderrors.Is(err, fs.ErrNotExist)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyBaseDir, ".claude")
	v.SetDefault(KeyCatalog, "catalog.yaml")
	v.SetDefault(KeyConcurrency, 5)
	v.SetDefault(KeyTimeout, 30*time.Second)
	v.SetDefault(KeyRetries, 3)
	v.SetDefault(KeyBackoff, time.Second)
	v.SetDefault(KeyMaxBytes, int64(10<<20))
	v.SetDefault(KeyDeadline, time.Duration(0))
	v.SetDefault(KeyRollback, false)
	v.SetDefault(KeyStateFile, "")
	v.SetDefault(KeyCacheBackend, cache.BackendFile)
	v.SetDefault(KeyCacheDir, cacheDir())
	v.SetDefault(KeyCacheRedis, "localhost:6379")
	v.SetDefault(KeyHistoryPath, filepath.Join(Dir(), "history.db"))
	v.SetDefault(KeyLogTimestamps, true)
}

// Viper exposes the underlying instance so callers can bind flags.
func (s *Store) Viper() *viper.Viper { return s.v }

// Path returns the config file location.
func (s *Store) Path() string { return s.path }

// Config decodes and validates the current settings.
func (s *Store) Config() (*Config, error) {
	var c Config
	if err := s.v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "decode config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Set stores key=value in the config file, creating it if needed.
func (s *Store) Set(key, value string) error {
	if !isKnownKey(key) {
		return errors.New(errors.ErrCodeInvalidInput, "unknown config key %q", key)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeIO, err, "create config directory")
	}
	s.v.Set(key, value)
	if _, err := s.Config(); err != nil {
		return err
	}

	// Write only what the file held plus the new key, not defaults or env.
	file := viper.New()
	file.SetConfigFile(s.path)
	file.SetConfigType(fileType)
	if err := file.ReadInConfig(); err != nil && !notExist(err) {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "read config %s", s.path)
	}
	file.Set(key, value)
	if err := file.WriteConfigAs(s.path); err != nil {
		return errors.Wrap(errors.ErrCodeIO, err, "write config %s", s.path)
	}
	return nil
}

func isKnownKey(key string) bool {
	switch key {
	case KeyBaseDir, KeyCatalog, KeyConcurrency, KeyTimeout, KeyRetries, KeyBackoff,
		KeyMaxBytes, KeyDeadline, KeyRollback, KeyStateFile, KeyCacheBackend,
		KeyCacheDir, KeyCacheRedis, KeyHistoryPath, KeyLogTimestamps:
		return true
	}
	return false
}

// Load is Open followed by Config.
func Load(path string) (*Config, error) {
	s, err := Open(path)
	if err != nil {
		return nil, err
	}
	return s.Config()
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.BaseDir == "":
		return errors.New(errors.ErrCodeInvalidInput, "base_dir cannot be empty")
	case c.Concurrency < 1:
		return errors.New(errors.ErrCodeInvalidInput, "concurrency must be at least 1, got %d", c.Concurrency)
	case c.Timeout <= 0:
		return errors.New(errors.ErrCodeInvalidInput, "timeout must be positive")
	case c.Retries < 0:
		return errors.New(errors.ErrCodeInvalidInput, "retries cannot be negative")
	case c.MaxBytes <= 0:
		return errors.New(errors.ErrCodeInvalidInput, "max_bytes must be positive")
	case c.Deadline < 0:
		return errors.New(errors.ErrCodeInvalidInput, "deadline cannot be negative")
	}
	switch c.Cache.Backend {
	case cache.BackendFile, cache.BackendRedis, cache.BackendNone:
	default:
		return errors.New(errors.ErrCodeInvalidInput, "unknown cache backend %q", c.Cache.Backend)
	}
	return nil
}

// CacheOptions converts the cache settings for cache.Open.
func (c *Config) CacheOptions() cache.Options {
	return cache.Options{
		Backend: c.Cache.Backend,
		Dir:     c.Cache.Dir,
		Redis:   cache.RedisConfig{Addr: c.Cache.RedisAddr},
	}
}

// YAML renders the resolved configuration with durations in
// human-readable form.
func (c *Config) YAML() ([]byte, error) {
	view := map[string]any{
		KeyBaseDir:     c.BaseDir,
		KeyCatalog:     c.Catalog,
		KeyConcurrency: c.Concurrency,
		KeyTimeout:     c.Timeout.String(),
		KeyRetries:     c.Retries,
		KeyBackoff:     c.Backoff.String(),
		KeyMaxBytes:    c.MaxBytes,
		KeyDeadline:    c.Deadline.String(),
		KeyRollback:    c.Rollback,
		KeyStateFile:   c.StateFile,
		"cache": map[string]any{
			"backend":    c.Cache.Backend,
			"dir":        c.Cache.Dir,
			"redis_addr": c.Cache.RedisAddr,
		},
		"history": map[string]any{"path": c.History.Path},
		"log":     map[string]any{"timestamps": c.Log.Timestamps},
	}
	out, err := yaml.Marshal(view)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "encode config")
	}
	return out, nil
}
