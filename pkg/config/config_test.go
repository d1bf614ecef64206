package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/offline-cache/pkg/logging"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "offline-cache.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PORT", "ORIGIN", "REDIS_URL", "CACHE_VERSION", "LOG_LEVEL", "OFFLINE_CACHE_CONFIG"} {
		t.Setenv(k, "")
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: 9090
  origin: https://Blog.Example.com/
cache:
  version: 10
  backend: redis
  redis:
    url: redis://cache:6379/1
    prefix: "blog:"
  ttl:
    js: 86400
  exclude: ["/admin/"]
network:
  timeout: 5s
  retry:
    maxAttempts: 5
    initialBackoff: 250ms
    maxBackoff: 2s
logging:
  level: DEBUG
  pretty: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Addr() != ":9090" {
		t.Errorf("Addr() = %s, want :9090", cfg.Addr())
	}
	if cfg.OriginURL().Host != "Blog.Example.com" || cfg.OriginURL().Path != "" {
		t.Errorf("OriginURL() = %v", cfg.OriginURL())
	}
	if cfg.Cache.Version != 10 || cfg.Cache.Backend != BackendRedis {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.Cache.Redis.Prefix != "blog:" {
		t.Errorf("redis prefix = %q", cfg.Cache.Redis.Prefix)
	}
	if len(cfg.Cache.TTL) != 1 || cfg.Cache.TTL["js"] != 86400 {
		t.Errorf("ttl table should replace defaults, got %v", cfg.Cache.TTL)
	}
	if d, ok := cfg.TTLPolicy().For("https://blog.example.com/app.js"); !ok || d != 24*time.Hour {
		t.Errorf("TTLPolicy().For(app.js) = %v, %v", d, ok)
	}
	if _, ok := cfg.TTLPolicy().For("https://blog.example.com/"); ok {
		t.Error("root should have no TTL once the table is replaced")
	}
	if cfg.Timeout() != 5*time.Second {
		t.Errorf("Timeout() = %v", cfg.Timeout())
	}
	retry := cfg.Retry()
	if retry.MaxAttempts != 5 || retry.InitialBackoff != 250*time.Millisecond || retry.MaxBackoff != 2*time.Second {
		t.Errorf("Retry() = %+v", retry)
	}
	if cfg.Logging.Level != logging.LevelDebug || !cfg.Logging.Pretty {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	// Untouched sections keep their defaults
	if len(cfg.Cache.Manifest) != 5 || cfg.Cache.OfflinePage != "/offline/index.html" {
		t.Errorf("manifest defaults lost: %v %q", cfg.Cache.Manifest, cfg.Cache.OfflinePage)
	}
	if cfg.IndexURL() != "https://Blog.Example.com/index.json" {
		t.Errorf("IndexURL() = %s", cfg.IndexURL())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "server:\n  origin: https://blog.example.com\n")
	t.Setenv("PORT", "3000")
	t.Setenv("ORIGIN", "http://localhost:1313")
	t.Setenv("REDIS_URL", "redis://other:6379/0")
	t.Setenv("CACHE_VERSION", "11")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("port = %d, want 3000", cfg.Server.Port)
	}
	if cfg.Server.Origin != "http://localhost:1313" {
		t.Errorf("origin = %s", cfg.Server.Origin)
	}
	if cfg.Cache.Redis.URL != "redis://other:6379/0" {
		t.Errorf("redis url = %s", cfg.Cache.Redis.URL)
	}
	if cfg.Cache.Version != 11 {
		t.Errorf("version = %d, want 11", cfg.Cache.Version)
	}
	if cfg.Logging.Level != logging.LevelWarn {
		t.Errorf("level = %s, want warn", cfg.Logging.Level)
	}
}

func TestLoad_MissingDefaultFile(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("ORIGIN", "https://blog.example.com")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Cache.Backend != BackendMemory {
		t.Errorf("backend = %s, want memory", cfg.Cache.Backend)
	}
	if len(cfg.Cache.TTL) != 5 {
		t.Errorf("expected default ttl table, got %v", cfg.Cache.TTL)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
		wantErr string
	}{
		{"missing origin", "cache:\n  version: 1\n", nil, "server.origin is required"},
		{"relative origin", "server:\n  origin: blog.example.com\n", nil, "absolute http(s)"},
		{"origin with path", "server:\n  origin: https://blog.example.com/blog\n", nil, "path or query"},
		{"bad port", "server:\n  origin: https://b.example\n  port: 70000\n", nil, "out of range"},
		{"bad env port", "server:\n  origin: https://b.example\n", map[string]string{"PORT": "eighty"}, "PORT"},
		{"negative version", "server:\n  origin: https://b.example\ncache:\n  version: -2\n", nil, "non-negative"},
		{"unknown backend", "server:\n  origin: https://b.example\ncache:\n  backend: etcd\n", nil, "cache.backend"},
		{"negative ttl", "server:\n  origin: https://b.example\ncache:\n  ttl:\n    css: -1\n", nil, "cache.ttl"},
		{"relative manifest", "server:\n  origin: https://b.example\ncache:\n  manifest: [favicon.ico]\n  offlinePage: favicon.ico\n", nil, "absolute path"},
		{"offline page not in manifest", "server:\n  origin: https://b.example\ncache:\n  manifest: [/favicon.ico]\n", nil, "cache.offlinePage"},
		{"bad duration", "server:\n  origin: https://b.example\nnetwork:\n  timeout: soon\n", nil, "network.timeout"},
		{"bad log level", "server:\n  origin: https://b.example\nlogging:\n  level: chatty\n", nil, "logging.level"},
		{"malformed yaml", "server: [\n", nil, "parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Load() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}
