package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/Sternrassler/offline-cache/pkg/cache"
	"github.com/Sternrassler/offline-cache/pkg/interceptor"
	"github.com/Sternrassler/offline-cache/pkg/network"
)

// ActionCache asks the controller to fetch and store a URL.
const ActionCache = "cache"

// Message is an out-of-band command sent by a page.
type Message struct {
	Action string `json:"action"`
	URL    string `json:"url"`
}

// HandleMessage dispatches msg without blocking request handling.
//
// For ActionCache the URL is fetched and stored in the current store on the
// background pool, unless it is cross-origin, excluded, already stored, or
// the pool is full. Unknown actions are logged and ignored. The return value
// reports whether background work was scheduled.
func (c *Controller) HandleMessage(msg Message) bool {
	switch msg.Action {
	case ActionCache:
		return c.scheduleCache(msg.URL)
	default:
		messagesTotal.WithLabelValues("unknown", "ignored").Inc()
		c.logger.Warn().Str("action", msg.Action).Msg("Ignoring message with unknown action")
		return false
	}
}

func (c *Controller) scheduleCache(rawURL string) bool {
	h := c.handles.Load()
	if h == nil {
		c.ignoreMessage(rawURL, "not installed")
		return false
	}

	u, err := url.Parse(interceptor.ResolveURL(c.origin, rawURL))
	if err != nil || rawURL == "" {
		c.ignoreMessage(rawURL, "invalid url")
		return false
	}
	if !network.SameOrigin(c.origin, u) {
		c.ignoreMessage(rawURL, "cross-origin")
		return false
	}
	if c.Excluded(u.Path) {
		c.ignoreMessage(rawURL, "excluded")
		return false
	}

	c.bgMu.Lock()
	defer c.bgMu.Unlock()
	if c.bgClosed {
		c.ignoreMessage(rawURL, "closed")
		return false
	}

	select {
	case c.bgSem <- struct{}{}:
	default:
		c.ignoreMessage(rawURL, "background pool full")
		return false
	}

	messagesTotal.WithLabelValues(ActionCache, "scheduled").Inc()

	c.bgWG.Add(1)
	go func() {
		defer c.bgWG.Done()
		defer func() { <-c.bgSem }()

		ctx, cancel := context.WithTimeout(context.Background(), DefaultBackgroundTimeout)
		defer cancel()

		c.cacheURL(ctx, h.store, u.String())
	}()
	return true
}

// cacheURL stores rawURL unless it is already present. Only 200 same-origin
// responses are stored.
func (c *Controller) cacheURL(ctx context.Context, store cache.Store, rawURL string) {
	logger := c.logger.With().Str("url", rawURL).Logger()

	key, err := cache.KeyForURL(rawURL)
	if err != nil {
		messagesTotal.WithLabelValues(ActionCache, "failed").Inc()
		logger.Warn().Err(err).Msg("Cannot build cache key")
		return
	}

	_, err = store.Match(ctx, key)
	switch {
	case err == nil:
		messagesTotal.WithLabelValues(ActionCache, "skipped").Inc()
		logger.Debug().Msg("Already cached")
		return
	case !errors.Is(err, cache.ErrCacheMiss):
		logger.Warn().Err(err).Msg("Cache lookup failed, fetching anyway")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		messagesTotal.WithLabelValues(ActionCache, "failed").Inc()
		logger.Warn().Err(err).Msg("Cannot build request")
		return
	}
	resp, err := c.network.Fetch(ctx, req)
	if err != nil || resp == nil {
		messagesTotal.WithLabelValues(ActionCache, "failed").Inc()
		logger.Info().Err(err).Msg("Fetch for message failed")
		return
	}
	defer func() {
		if resp.Body != nil {
			resp.Body.Close()
		}
	}()

	typ := network.Classify(c.origin, req, resp)
	if !interceptor.Cacheable(resp.StatusCode, typ) {
		messagesTotal.WithLabelValues(ActionCache, "skipped").Inc()
		logger.Debug().Int("status", resp.StatusCode).Str("type", string(typ)).Msg("Response not cacheable")
		return
	}

	entry, err := cache.ResponseToEntry(resp, typ)
	if err != nil {
		messagesTotal.WithLabelValues(ActionCache, "failed").Inc()
		logger.Warn().Err(err).Msg("Cannot read response")
		return
	}
	entry.URL = key.URL

	if err := store.Put(ctx, key, entry); err != nil {
		messagesTotal.WithLabelValues(ActionCache, "failed").Inc()
		logger.Warn().Err(err).Msg("Failed to cache response")
		return
	}

	messagesTotal.WithLabelValues(ActionCache, "stored").Inc()
	logger.Debug().Msg("Cached on request")
}

// Excluded reports whether path matches a configured exclude prefix.
func (c *Controller) Excluded(path string) bool {
	for _, prefix := range c.exclude {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (c *Controller) ignoreMessage(rawURL, reason string) {
	messagesTotal.WithLabelValues(ActionCache, "ignored").Inc()
	c.logger.Debug().Str("url", rawURL).Str("reason", reason).Msg("Ignoring cache message")
}

// Close stops accepting messages and waits for background fetches.
func (c *Controller) Close() {
	c.bgMu.Lock()
	c.bgClosed = true
	c.bgMu.Unlock()

	c.bgWG.Wait()
	if c.State() == StateActive {
		Active.Set(0)
	}
}
