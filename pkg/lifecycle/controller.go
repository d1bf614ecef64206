// Package lifecycle seeds and retires versioned cache stores.
//
// A Controller owns one cache version. Install precaches the manifest into
// content-v<version>, Activate removes every other content-v* store, and the
// controller then hands out an interceptor bound to the current store.
//
// Example:
//
//	ctrl, err := lifecycle.New(lifecycle.Config{
//		Storage: cache.NewMemoryStorage(),
//		Network: network.NewHTTPFetcher(),
//		Version: 10,
//		Origin:  origin,
//	})
//	if err != nil {
//		return err
//	}
//	if err := ctrl.Start(ctx); err != nil {
//		return err // previous version keeps serving
//	}
//	res, err := ctrl.Handle(ctx, req)
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/offline-cache/pkg/cache"
	"github.com/Sternrassler/offline-cache/pkg/interceptor"
	"github.com/Sternrassler/offline-cache/pkg/network"
	"github.com/Sternrassler/offline-cache/pkg/ttl"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultOfflinePage is served when the network fails and no stale copy exists.
	DefaultOfflinePage = "/offline/index.html"

	// DefaultConcurrency bounds parallel manifest fetches during install.
	DefaultConcurrency = 4

	// DefaultBackgroundLimit bounds concurrent message-triggered fetches.
	DefaultBackgroundLimit = 16

	// DefaultBackgroundTimeout bounds a single message-triggered fetch.
	DefaultBackgroundTimeout = 30 * time.Second
)

// DefaultManifest lists the paths precached by every install.
var DefaultManifest = []string{
	DefaultOfflinePage,
	"/404.html",
	"/apple-touch-icon.png",
	"/favicon.ico",
	"/manifest.json",
}

// Config holds Controller configuration.
type Config struct {
	// Storage holds all versioned stores
	Storage cache.Storage

	// Network performs real requests
	Network network.Fetcher

	// Version is the cache version; the store is named content-v<Version>
	Version int

	// Origin is the site origin (scheme and host)
	Origin *url.URL

	// Manifest lists paths precached on install (default: DefaultManifest)
	Manifest []string

	// OfflinePage is the fallback page; it must be part of Manifest
	// (default: DefaultOfflinePage)
	OfflinePage string

	// Policy decides freshness (default: ttl.Default())
	Policy *ttl.Policy

	// Exclude lists path prefixes never cached on request by message
	Exclude []string

	// Concurrency bounds parallel install fetches (default: DefaultConcurrency)
	Concurrency int

	// BackgroundLimit bounds concurrent message fetches (default: DefaultBackgroundLimit)
	BackgroundLimit int

	// Retry applies to install fetches (default: network.DefaultRetryConfig())
	Retry *network.RetryConfig

	// Now returns the current time (default: time.Now)
	Now func() time.Time

	// Logger (default: component logger "lifecycle")
	Logger *zerolog.Logger
}

// Controller drives one cache version through install and activation.
type Controller struct {
	storage     cache.Storage
	network     network.Fetcher
	precacher   network.Fetcher
	version     int
	name        string
	origin      *url.URL
	manifest    []string
	offlinePage string
	policy      *ttl.Policy
	exclude     []string
	concurrency int
	now         func() time.Time
	logger      zerolog.Logger

	// mu serializes Install and Activate.
	mu    sync.Mutex
	state atomic.Int32

	handles   atomic.Pointer[handles]
	ready     chan struct{}
	readyOnce sync.Once

	bgMu     sync.Mutex
	bgClosed bool
	bgSem    chan struct{}
	bgWG     sync.WaitGroup
}

// handles is published atomically once install succeeds.
type handles struct {
	store       cache.Store
	interceptor *interceptor.Interceptor
}

// New validates cfg and creates a Controller in StateParsed.
func New(cfg Config) (*Controller, error) {
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Network == nil {
		return nil, fmt.Errorf("network fetcher is required")
	}
	if cfg.Version < 0 {
		return nil, fmt.Errorf("version must be non-negative, got %d", cfg.Version)
	}
	if cfg.Origin == nil || !cfg.Origin.IsAbs() {
		return nil, fmt.Errorf("absolute origin is required")
	}

	manifest := cfg.Manifest
	if len(manifest) == 0 {
		manifest = DefaultManifest
	}
	offlinePage := cfg.OfflinePage
	if offlinePage == "" {
		offlinePage = DefaultOfflinePage
	}
	if !slices.Contains(manifest, offlinePage) {
		return nil, fmt.Errorf("offline page %s must be part of the precache manifest", offlinePage)
	}

	policy := cfg.Policy
	if policy == nil {
		policy = ttl.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	bgLimit := cfg.BackgroundLimit
	if bgLimit <= 0 {
		bgLimit = DefaultBackgroundLimit
	}
	retry := network.DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := log.With().Str("component", "lifecycle").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	name := cache.CacheName(cfg.Version)
	return &Controller{
		storage:     cfg.Storage,
		network:     cfg.Network,
		precacher:   network.WithRetry(cfg.Network, retry),
		version:     cfg.Version,
		name:        name,
		origin:      cfg.Origin,
		manifest:    append([]string(nil), manifest...),
		offlinePage: offlinePage,
		policy:      policy,
		exclude:     append([]string(nil), cfg.Exclude...),
		concurrency: concurrency,
		now:         now,
		logger:      logger.With().Str("store", name).Logger(),
		ready:       make(chan struct{}),
		bgSem:       make(chan struct{}, bgLimit),
	}, nil
}

// Version returns the cache version this controller owns.
func (c *Controller) Version() int { return c.version }

// StoreName returns the current-version store name.
func (c *Controller) StoreName() string { return c.name }

// State returns the current lifecycle state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Ready is closed once the controller becomes active.
func (c *Controller) Ready() <-chan struct{} { return c.ready }

// Interceptor returns the interceptor bound to the current store, or nil
// before the first successful install.
func (c *Controller) Interceptor() *interceptor.Interceptor {
	h := c.handles.Load()
	if h == nil {
		return nil
	}
	return h.interceptor
}

// Start installs and immediately activates. Cleanup failures during
// activation are logged and do not fail Start.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.Install(ctx); err != nil {
		return err
	}
	err := c.Activate(ctx)
	var cleanupErr *CleanupError
	if errors.As(err, &cleanupErr) {
		return nil
	}
	return err
}

// Install precaches every manifest path into the current store.
//
// All paths are fetched before the store is opened; if any fetch fails or
// returns a non-2xx status the install is rejected, no store is touched and
// the controller becomes redundant. If a write fails afterwards, a store this
// install created is deleted again; a store that already existed may keep
// some refreshed entries. Installing again after a successful install
// refreshes the manifest entries.
func (c *Controller) Install(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.State()
	if prev == StateRedundant {
		return ErrRedundant
	}
	if prev < StateInstalled {
		c.setState(StateInstalling)
	}

	start := time.Now()
	err := c.install(ctx)
	installDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		installTotal.WithLabelValues("failure").Inc()
		if prev < StateInstalled {
			c.setState(StateRedundant)
		}
		c.logger.Error().Err(err).Msg("Install failed")
		return err
	}

	installTotal.WithLabelValues("success").Inc()
	if prev < StateInstalled {
		c.setState(StateInstalled)
	}
	c.logger.Info().
		Int("entries", len(c.manifest)).
		Dur("duration", time.Since(start)).
		Msg("Install complete")
	return nil
}

func (c *Controller) install(ctx context.Context) error {
	keys, entries, err := c.precache(ctx)
	if err != nil {
		return err
	}

	existed := c.storeExists(ctx)
	store, err := c.storage.Open(ctx, c.name)
	if err != nil {
		return fmt.Errorf("open store %s: %w", c.name, err)
	}

	for i, entry := range entries {
		if err := store.Put(ctx, keys[i], entry); err != nil {
			if !existed {
				c.discardStore(ctx)
			}
			return &InstallError{Path: c.manifest[i], Err: fmt.Errorf("store entry: %w", err)}
		}
	}

	icpt, err := interceptor.New(interceptor.Config{
		Store:       store,
		Network:     c.network,
		Policy:      c.policy,
		Origin:      c.origin,
		OfflinePage: c.offlinePage,
		Now:         c.now,
	})
	if err != nil {
		return fmt.Errorf("create interceptor: %w", err)
	}
	c.handles.Store(&handles{store: store, interceptor: icpt})
	return nil
}

// storeExists reports whether the current store is already persisted.
// A listing failure counts as existing so the store is never discarded blindly.
func (c *Controller) storeExists(ctx context.Context) bool {
	names, err := c.storage.Keys(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Cannot list stores before install")
		return true
	}
	return slices.Contains(names, c.name)
}

func (c *Controller) discardStore(ctx context.Context) {
	if _, err := c.storage.Delete(context.WithoutCancel(ctx), c.name); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to remove partially installed store")
	}
}

// precache fetches the manifest in parallel. Results are positional.
func (c *Controller) precache(ctx context.Context) ([]cache.CacheKey, []*cache.CacheEntry, error) {
	keys := make([]cache.CacheKey, len(c.manifest))
	entries := make([]*cache.CacheEntry, len(c.manifest))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, path := range c.manifest {
		g.Go(func() error {
			key, entry, err := c.fetchEntry(gctx, c.precacher, path)
			if err != nil {
				return &InstallError{Path: path, Err: err}
			}
			keys[i], entries[i] = key, entry
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return keys, entries, nil
}

// fetchEntry fetches path from the origin and snapshots the response.
// Any status outside 2xx is an error.
func (c *Controller) fetchEntry(ctx context.Context, f network.Fetcher, path string) (cache.CacheKey, *cache.CacheEntry, error) {
	rawURL := interceptor.ResolveURL(c.origin, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return cache.CacheKey{}, nil, fmt.Errorf("build request: %w", err)
	}
	key, err := cache.NewKey(req)
	if err != nil {
		return cache.CacheKey{}, nil, err
	}

	resp, err := f.Fetch(ctx, req)
	if err != nil {
		return cache.CacheKey{}, nil, err
	}
	if resp == nil {
		return cache.CacheKey{}, nil, network.ErrNoResponse
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return cache.CacheKey{}, nil, &network.FetchError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			ErrorClass: network.ClassifyStatus(resp.StatusCode),
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	entry, err := cache.ResponseToEntry(resp, network.Classify(c.origin, req, resp))
	if err != nil {
		return cache.CacheKey{}, nil, err
	}
	entry.URL = key.URL
	return key, entry, nil
}

// Activate removes every legacy content-v* store and makes the controller
// active. Stores outside the content-v* namespace are left alone.
//
// Deletion is best-effort: failures are joined into a *CleanupError, but the
// controller is active when Activate returns either way.
func (c *Controller) Activate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case StateRedundant:
		return ErrRedundant
	case StateParsed, StateInstalling:
		return ErrNotInstalled
	}

	wasActive := c.State() == StateActive
	if !wasActive {
		c.setState(StateActivating)
	}

	cleanupErr := c.cleanupLegacy(ctx)

	c.setState(StateActive)
	c.readyOnce.Do(func() { close(c.ready) })
	Active.Set(1)
	activationsTotal.Inc()

	if cleanupErr != nil {
		c.logger.Warn().Err(cleanupErr).Msg("Activated with legacy stores left behind")
		return cleanupErr
	}
	c.logger.Info().Msg("Activated")
	return nil
}

func (c *Controller) cleanupLegacy(ctx context.Context) error {
	names, err := c.storage.Keys(ctx)
	if err != nil {
		legacyStoreErrorsTotal.Inc()
		return &CleanupError{Err: fmt.Errorf("list stores: %w", err)}
	}

	var (
		failed []string
		errs   []error
	)
	for _, name := range names {
		if name == c.name {
			continue
		}
		if _, ok := cache.ParseCacheName(name); !ok {
			continue
		}

		if _, err := c.storage.Delete(ctx, name); err != nil {
			legacyStoreErrorsTotal.Inc()
			failed = append(failed, name)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		legacyStoresDeletedTotal.Inc()
		c.logger.Info().Str("legacy_store", name).Msg("Deleted legacy store")
	}

	if len(errs) > 0 {
		return &CleanupError{Stores: failed, Err: errors.Join(errs...)}
	}
	return nil
}

// Handle waits until the controller is active and answers req through the
// interceptor.
func (c *Controller) Handle(ctx context.Context, req *http.Request) (*interceptor.Result, error) {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c.Interceptor().Handle(ctx, req)
}

func (c *Controller) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		c.logger.Debug().Stringer("from", old).Stringer("to", s).Msg("Lifecycle state changed")
	}
}
