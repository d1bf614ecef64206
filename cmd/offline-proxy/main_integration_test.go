//go:build integration

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/Sternrassler/offline-cache/internal/testutil"
	"github.com/Sternrassler/offline-cache/pkg/cache"
	"github.com/Sternrassler/offline-cache/pkg/config"
	"github.com/Sternrassler/offline-cache/pkg/lifecycle"
	"github.com/Sternrassler/offline-cache/pkg/network"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	t.Cleanup(func() { redisC.Terminate(ctx) })

	endpoint, err := redisC.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}
	return "redis://" + endpoint + "/0"
}

// TestVersionBump_Redis runs two deployments against one Redis: the second
// version must replace the first and keep serving offline.
func TestVersionBump_Redis(t *testing.T) {
	redisURL := setupTestRedis(t)

	origin := testutil.NewMockOrigin()
	defer origin.Close()

	cfg := config.Default()
	cfg.Cache.Backend = config.BackendRedis
	cfg.Cache.Redis.URL = redisURL

	storage, closeStorage, err := openStorage(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openStorage() error = %v", err)
	}
	defer closeStorage()

	originURL := mustParse(t, origin.URL())
	start := func(version int) *lifecycle.Controller {
		ctrl, err := lifecycle.New(lifecycle.Config{
			Storage: storage,
			Network: network.NewHTTPFetcher(network.WithTimeout(5 * time.Second)),
			Version: version,
			Origin:  originURL,
		})
		if err != nil {
			t.Fatalf("lifecycle.New(%d) error = %v", version, err)
		}
		if err := ctrl.Start(context.Background()); err != nil {
			t.Fatalf("Start(%d) error = %v", version, err)
		}
		return ctrl
	}

	v9 := start(9)
	v9.Close()
	v10 := start(10)
	defer v10.Close()

	names, err := storage.Keys(context.Background())
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(names) != 1 || names[0] != cache.CacheName(10) {
		t.Errorf("Keys() = %v, want [content-v10]", names)
	}

	handler := newHandler(v10, originURL, nil, storage.(pinger))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/ready", nil))
	if w.Code != http.StatusOK {
		t.Errorf("/ready status = %d, want 200", w.Code)
	}

	origin.SetOffline(true)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/posts/never-seen/", nil))
	if got := w.Header().Get(OutcomeHeader); got != "offline" {
		t.Errorf("%s = %q, want offline", OutcomeHeader, got)
	}
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	return u
}
