// Package config loads offline-cache settings from YAML with environment
// overrides.
//
// Example offline-cache.yaml:
//
//	server:
//	  port: 8080
//	  origin: https://blog.example.com
//	cache:
//	  version: 10
//	  backend: redis
//	  redis:
//	    url: redis://localhost:6379/0
//	  ttl:
//	    "/": 3600
//	    html: 3600
//	    css: 86400
//	  exclude: ["/admin/"]
//	logging:
//	  level: info
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/offline-cache/pkg/logging"
	"github.com/Sternrassler/offline-cache/pkg/network"
	"github.com/Sternrassler/offline-cache/pkg/ttl"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when OFFLINE_CACHE_CONFIG is unset.
const DefaultPath = "offline-cache.yaml"

// Storage backends.
const (
	BackendMemory  = "memory"
	BackendRedis   = "redis"
	BackendLevelDB = "leveldb"
)

// Config is the full host configuration.
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Cache   CacheConfig    `yaml:"cache"`
	Network NetworkConfig  `yaml:"network"`
	Search  SearchConfig   `yaml:"search"`
	Logging logging.Config `yaml:"logging"`

	origin          *url.URL
	timeout         time.Duration
	initialBackoff  time.Duration
	maxBackoff      time.Duration
	shutdownTimeout time.Duration
}

// ServerConfig configures the proxy listener.
type ServerConfig struct {
	Port            int    `yaml:"port"`
	Origin          string `yaml:"origin"`
	ShutdownTimeout string `yaml:"shutdownTimeout"`
}

// CacheConfig configures stores and the lifecycle.
type CacheConfig struct {
	Version     int            `yaml:"version"`
	Backend     string         `yaml:"backend"`
	Redis       RedisConfig    `yaml:"redis"`
	LevelDB     LevelDBConfig  `yaml:"leveldb"`
	TTL         map[string]int `yaml:"ttl"`
	Manifest    []string       `yaml:"manifest"`
	OfflinePage string         `yaml:"offlinePage"`
	Exclude     []string       `yaml:"exclude"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// LevelDBConfig configures the leveldb backend.
type LevelDBConfig struct {
	Path string `yaml:"path"`
}

// NetworkConfig configures origin requests.
type NetworkConfig struct {
	Timeout            string      `yaml:"timeout"`
	UserAgent          string      `yaml:"userAgent"`
	InstallConcurrency int         `yaml:"installConcurrency"`
	Retry              RetryConfig `yaml:"retry"`
}

// RetryConfig configures precache retries.
type RetryConfig struct {
	MaxAttempts    int    `yaml:"maxAttempts"`
	InitialBackoff string `yaml:"initialBackoff"`
	MaxBackoff     string `yaml:"maxBackoff"`
}

// SearchConfig configures the page index.
type SearchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	IndexPath string `yaml:"indexPath"`
}

// Default returns the configuration used when no file is present.
// Origin has no default and must be provided.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: "10s",
		},
		Cache: CacheConfig{
			Version:     1,
			Backend:     BackendMemory,
			Redis:       RedisConfig{URL: "redis://localhost:6379/0"},
			LevelDB:     LevelDBConfig{Path: "./data/offline-cache"},
			TTL:         maps.Clone(ttl.DefaultTable),
			Manifest:    []string{"/offline/index.html", "/404.html", "/apple-touch-icon.png", "/favicon.ico", "/manifest.json"},
			OfflinePage: "/offline/index.html",
		},
		Network: NetworkConfig{
			Timeout:            "30s",
			UserAgent:          "offline-cache/0.1.0",
			InstallConcurrency: 4,
			Retry: RetryConfig{
				MaxAttempts:    3,
				InitialBackoff: "1s",
				MaxBackoff:     "30s",
			},
		},
		Search: SearchConfig{
			Enabled:   true,
			IndexPath: "/index.json",
		},
		Logging: logging.Config{Level: logging.LevelInfo},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file at DefaultPath is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		// A ttl table in the file replaces the defaults instead of merging.
		cfg.Cache.TTL = nil
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
		if cfg.Cache.TTL == nil {
			cfg.Cache.TTL = maps.Clone(ttl.DefaultTable)
		}
	case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
		// defaults plus environment
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromEnv loads the file named by OFFLINE_CACHE_CONFIG, or DefaultPath.
func LoadFromEnv() (Config, error) {
	path := os.Getenv("OFFLINE_CACHE_CONFIG")
	if path == "" {
		path = DefaultPath
	}
	return Load(path)
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := getenv("ORIGIN"); v != "" {
		c.Server.Origin = v
	}
	if v := getenv("REDIS_URL"); v != "" {
		c.Cache.Redis.URL = v
	}
	if v := getenv("CACHE_VERSION"); v != "" {
		version, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CACHE_VERSION: %w", err)
		}
		c.Cache.Version = version
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = logging.LogLevel(v)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	if c.Server.Origin == "" {
		return fmt.Errorf("server.origin is required")
	}
	u, err := url.Parse(strings.TrimRight(c.Server.Origin, "/"))
	if err != nil {
		return fmt.Errorf("server.origin: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server.origin must be an absolute http(s) URL, got %q", c.Server.Origin)
	}
	if u.Path != "" || u.RawQuery != "" {
		return fmt.Errorf("server.origin must not have a path or query, got %q", c.Server.Origin)
	}
	c.origin = u
	c.Server.Origin = u.String()

	if c.Cache.Version < 0 {
		return fmt.Errorf("cache.version must be non-negative, got %d", c.Cache.Version)
	}
	switch c.Cache.Backend {
	case BackendMemory, BackendLevelDB, BackendRedis:
	case "":
		c.Cache.Backend = BackendMemory
	default:
		return fmt.Errorf("cache.backend %q is not one of memory, redis, leveldb", c.Cache.Backend)
	}
	if c.Cache.Backend == BackendRedis && c.Cache.Redis.URL == "" {
		return fmt.Errorf("cache.redis.url is required for the redis backend")
	}
	if c.Cache.Backend == BackendLevelDB && c.Cache.LevelDB.Path == "" {
		return fmt.Errorf("cache.leveldb.path is required for the leveldb backend")
	}
	for ext, secs := range c.Cache.TTL {
		if secs < 0 {
			return fmt.Errorf("cache.ttl[%q] must be non-negative, got %d", ext, secs)
		}
	}
	if len(c.Cache.Manifest) == 0 {
		return fmt.Errorf("cache.manifest must not be empty")
	}
	for _, p := range c.Cache.Manifest {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("cache.manifest entry %q must be an absolute path", p)
		}
	}
	if !slices.Contains(c.Cache.Manifest, c.Cache.OfflinePage) {
		return fmt.Errorf("cache.offlinePage %q must be listed in cache.manifest", c.Cache.OfflinePage)
	}

	if c.timeout, err = parseDuration("network.timeout", c.Network.Timeout); err != nil {
		return err
	}
	if c.initialBackoff, err = parseDuration("network.retry.initialBackoff", c.Network.Retry.InitialBackoff); err != nil {
		return err
	}
	if c.maxBackoff, err = parseDuration("network.retry.maxBackoff", c.Network.Retry.MaxBackoff); err != nil {
		return err
	}
	if c.shutdownTimeout, err = parseDuration("server.shutdownTimeout", c.Server.ShutdownTimeout); err != nil {
		return err
	}

	level, err := logging.ParseLevel(string(c.Logging.Level))
	if err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	c.Logging.Level = level

	return nil
}

// OriginURL returns the validated site origin.
func (c Config) OriginURL() *url.URL {
	u := *c.origin
	return &u
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}

// TTLPolicy builds the freshness policy from cache.ttl.
func (c Config) TTLPolicy() *ttl.Policy {
	return ttl.New(c.Cache.TTL)
}

// Timeout returns the origin request timeout (0 disables it).
func (c Config) Timeout() time.Duration { return c.timeout }

// ShutdownTimeout returns how long the server drains on shutdown.
func (c Config) ShutdownTimeout() time.Duration { return c.shutdownTimeout }

// Retry returns the precache retry configuration.
func (c Config) Retry() network.RetryConfig {
	return network.RetryConfig{
		MaxAttempts:       c.Network.Retry.MaxAttempts,
		InitialBackoff:    c.initialBackoff,
		MaxBackoff:        c.maxBackoff,
		BackoffMultiplier: 2.0,
	}
}

// IndexURL returns the absolute page index URL.
func (c Config) IndexURL() string {
	ref, err := url.Parse(c.Search.IndexPath)
	if err != nil {
		return c.Server.Origin + c.Search.IndexPath
	}
	return c.origin.ResolveReference(ref).String()
}

func parseDuration(field, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must be non-negative, got %s", field, v)
	}
	return d, nil
}
