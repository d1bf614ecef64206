// Package interceptor decides how each intercepted request is answered:
// from the current-version store, from the network, or from a fallback.
//
// Per request the decision runs
//
//	FILTER -> CACHE_LOOKUP -> HIT_FRESH
//	                       -> STALE_OR_MISS -> NETWORK_FETCH -> NETWORK_SUCCESS
//	                                                         -> NETWORK_FAILURE -> FALLBACK
//
// and always terminates with exactly one response, except on the bypass path
// where network errors are returned unchanged.
package interceptor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/offline-cache/pkg/cache"
	"github.com/Sternrassler/offline-cache/pkg/network"
	"github.com/Sternrassler/offline-cache/pkg/ttl"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds the collaborators of an Interceptor.
type Config struct {
	// Store is the current-version store handle
	Store cache.Store

	// Network performs real requests
	Network network.Fetcher

	// Policy decides freshness of cache hits (default: ttl.Default())
	Policy *ttl.Policy

	// Origin is the site origin; only same-origin responses are cached
	Origin *url.URL

	// OfflinePage is the precached fallback page, as a path on Origin or an
	// absolute URL
	OfflinePage string

	// Now returns the current time (default: time.Now)
	Now func() time.Time

	// Logger receives decision logs (default: component logger "interceptor")
	Logger *zerolog.Logger
}

// Result is the response chosen for a request and how it was reached.
type Result struct {
	Response *http.Response
	Outcome  Outcome
}

// Interceptor answers requests on behalf of the page.
// It is safe for concurrent use; each call to Handle is independent.
type Interceptor struct {
	store      cache.Store
	network    network.Fetcher
	policy     *ttl.Policy
	origin     *url.URL
	offlineKey cache.CacheKey
	now        func() time.Time
	logger     zerolog.Logger
}

// New validates cfg and creates an Interceptor.
func New(cfg Config) (*Interceptor, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Network == nil {
		return nil, fmt.Errorf("network fetcher is required")
	}
	if cfg.Origin == nil || !cfg.Origin.IsAbs() {
		return nil, fmt.Errorf("absolute origin is required")
	}
	if cfg.OfflinePage == "" {
		return nil, fmt.Errorf("offline page is required")
	}

	offlineKey, err := cache.KeyForURL(ResolveURL(cfg.Origin, cfg.OfflinePage))
	if err != nil {
		return nil, fmt.Errorf("offline page: %w", err)
	}

	policy := cfg.Policy
	if policy == nil {
		policy = ttl.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := log.With().Str("component", "interceptor").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Interceptor{
		store:      cfg.Store,
		network:    cfg.Network,
		policy:     policy,
		origin:     cfg.Origin,
		offlineKey: offlineKey,
		now:        now,
		logger:     logger.With().Str("store", cfg.Store.Name()).Logger(),
	}, nil
}

// StoreName returns the name of the store this interceptor reads and writes.
func (i *Interceptor) StoreName() string {
	return i.store.Name()
}

// Handle answers req.
//
// The returned error is non-nil only when req bypassed the cache layer and
// the network failed; every cacheable request gets a response.
func (i *Interceptor) Handle(ctx context.Context, req *http.Request) (*Result, error) {
	start := time.Now()
	res, err := i.handle(ctx, req)

	outcome := OutcomeBypass
	if res != nil {
		outcome = res.Outcome
	}
	fetchTotal.WithLabelValues(string(outcome)).Inc()
	fetchDuration.WithLabelValues(string(outcome)).Observe(time.Since(start).Seconds())

	return res, err
}

// Fetch makes the interceptor usable wherever a network.Fetcher is expected,
// so collaborators such as the page index read through the cache.
func (i *Interceptor) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	res, err := i.Handle(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.Response, nil
}

func (i *Interceptor) handle(ctx context.Context, req *http.Request) (*Result, error) {
	// FILTER
	if !Supported(req) {
		return i.bypass(ctx, req)
	}

	key, err := cache.NewKey(req)
	if err != nil {
		i.logger.Debug().Err(err).Msg("Request has no cache identity, bypassing")
		return i.bypass(ctx, req)
	}
	rawURL := key.URL

	// CACHE_LOOKUP
	stale, fresh := i.lookup(ctx, key)
	if fresh {
		i.logger.Debug().Str("url", rawURL).Msg("Cache hit")
		return &Result{Response: cache.EntryToResponse(stale, req), Outcome: OutcomeHit}, nil
	}

	// NETWORK_FETCH
	res, err := i.fromNetwork(ctx, req, key)
	if err == nil {
		return res, nil
	}

	// FALLBACK
	i.logger.Info().Err(err).Str("url", rawURL).Bool("stale", stale != nil).Msg("Network failed, falling back")
	return i.fallback(ctx, req, stale), nil
}

// Supported reports whether req may be answered from the cache:
// GET requests over http or https.
func Supported(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet {
		return false
	}
	switch strings.ToLower(req.URL.Scheme) {
	case "http", "https":
		return true
	default:
		return false
	}
}

// bypass passes req to the network and returns its response or error unmodified.
func (i *Interceptor) bypass(ctx context.Context, req *http.Request) (*Result, error) {
	resp, err := i.network.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, network.ErrNoResponse
	}
	return &Result{Response: resp, Outcome: OutcomeBypass}, nil
}

// lookup returns the stored entry for key and whether it is fresh.
// Store failures are logged and treated as a miss.
func (i *Interceptor) lookup(ctx context.Context, key cache.CacheKey) (*cache.CacheEntry, bool) {
	entry, err := i.store.Match(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			i.logger.Warn().Err(err).Str("url", key.URL).Msg("Cache lookup failed, treating as miss")
		}
		return nil, false
	}

	date, hasDate := entry.Date()
	if i.policy.Fresh(key.URL, date, hasDate, i.now()) {
		return entry, true
	}

	i.logger.Debug().Str("url", key.URL).Time("date", date).Msg("Cache entry stale, revalidating")
	return entry, false
}

// fromNetwork fetches req and stores cacheable responses. A non-nil error
// means the network failed and the caller must fall back.
func (i *Interceptor) fromNetwork(ctx context.Context, req *http.Request, key cache.CacheKey) (*Result, error) {
	resp, err := i.network.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, network.ErrNoResponse
	}

	typ := network.Classify(i.origin, req, resp)
	if !Cacheable(resp.StatusCode, typ) {
		i.logger.Debug().
			Str("url", key.URL).
			Int("status", resp.StatusCode).
			Str("type", string(typ)).
			Msg("Response not cacheable")
		return &Result{Response: resp, Outcome: OutcomeUncached}, nil
	}

	entry, err := cache.ResponseToEntry(resp, typ)
	if err != nil {
		// Body could not be read: the response is unusable, so this is a
		// network failure as far as the page is concerned.
		return nil, err
	}
	entry.URL = key.URL

	// The write completes even if the page goes away mid-request.
	if err := i.store.Put(context.WithoutCancel(ctx), key, entry); err != nil {
		cacheWriteErrorsTotal.Inc()
		i.logger.Warn().Err(err).Str("url", key.URL).Msg("Failed to cache response")
	} else {
		i.logger.Debug().Str("url", key.URL).Msg("Cached response")
	}

	return &Result{Response: resp, Outcome: OutcomeNetwork}, nil
}

// fallback serves the stale entry if one was retained, else the offline page.
func (i *Interceptor) fallback(ctx context.Context, req *http.Request, stale *cache.CacheEntry) *Result {
	if stale != nil {
		return &Result{Response: cache.EntryToResponse(stale, req), Outcome: OutcomeStale}
	}

	offline, err := i.store.Match(ctx, i.offlineKey)
	if err == nil {
		return &Result{Response: cache.EntryToResponse(offline, req), Outcome: OutcomeOffline}
	}

	i.logger.Error().Err(err).Str("offline_page", i.offlineKey.URL).Msg("Offline page missing from store")
	return &Result{Response: unavailableResponse(req), Outcome: OutcomeUnavailable}
}

// Cacheable reports whether a network response may be written to the store.
func Cacheable(status int, typ cache.ResponseType) bool {
	return status == http.StatusOK && typ == cache.TypeBasic
}

func unavailableResponse(req *http.Request) *http.Response {
	return cache.EntryToResponse(&cache.CacheEntry{
		StatusCode: http.StatusServiceUnavailable,
		Headers: http.Header{
			"Content-Type":  []string{"text/plain; charset=utf-8"},
			"Cache-Control": []string{"no-store"},
		},
		Data: []byte("offline and no cached copy is available\n"),
	}, req)
}

// ResolveURL resolves ref (a path or absolute URL) against origin.
func ResolveURL(origin *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return origin.ResolveReference(u).String()
}
