package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/offline-cache/pkg/interceptor"
	"github.com/Sternrassler/offline-cache/pkg/lifecycle"
	"github.com/Sternrassler/offline-cache/pkg/logging"
	"github.com/Sternrassler/offline-cache/pkg/metrics"
	"github.com/Sternrassler/offline-cache/pkg/network"
	"github.com/Sternrassler/offline-cache/pkg/search"
	"github.com/rs/zerolog"
)

// OutcomeHeader reports how the proxy answered a request.
const OutcomeHeader = "X-Offline-Cache"

// maxMessageBytes bounds the body of a control message.
const maxMessageBytes = 64 << 10

// pinger is implemented by storages that depend on an external server.
type pinger interface {
	Ping(ctx context.Context) error
}

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

type server struct {
	ctrl    *lifecycle.Controller
	origin  *url.URL
	search  *search.Loader
	storage pinger
	logger  zerolog.Logger
}

// newHandler builds the proxy's route table. searchLoader and storage may be nil.
func newHandler(ctrl *lifecycle.Controller, origin *url.URL, searchLoader *search.Loader, storage pinger) http.Handler {
	s := &server{
		ctrl:    ctrl,
		origin:  origin,
		search:  searchLoader,
		storage: storage,
		logger:  logging.NewLogger("proxy"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", s.readyHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /_offline/message", s.messageHandler)
	if searchLoader != nil {
		mux.HandleFunc("GET /_offline/search", s.searchHandler)
	}
	mux.HandleFunc("/", s.proxyHandler)
	return mux
}

// controllerFetcher reads through the controller, so collaborators such as
// the page index share the cache and its offline fallback.
func controllerFetcher(ctrl *lifecycle.Controller) network.Fetcher {
	return network.FetcherFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		res, err := ctrl.Handle(ctx, req)
		if err != nil {
			return nil, err
		}
		return res.Response, nil
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (s *server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if state := s.ctrl.State(); state != lifecycle.StateActive {
		http.Error(w, "Not ready: "+state.String(), http.StatusServiceUnavailable)
		return
	}
	if s.storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.storage.Ping(ctx); err != nil {
			http.Error(w, "Storage unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (s *server) messageHandler(w http.ResponseWriter, r *http.Request) {
	var msg lifecycle.Message
	if err := json.NewDecoder(io.LimitReader(r.Body, maxMessageBytes)).Decode(&msg); err != nil {
		http.Error(w, "Invalid message: "+err.Error(), http.StatusBadRequest)
		return
	}
	if s.ctrl.HandleMessage(msg) {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) searchHandler(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		http.Error(w, "Please enter a search term", http.StatusBadRequest)
		return
	}

	hits, err := s.search.Search(r.Context(), query)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Page index unavailable")
		http.Error(w, "Search index unavailable", http.StatusServiceUnavailable)
		return
	}
	if hits == nil {
		hits = []search.Hit{}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(hits); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write search results")
	}
}

func (s *server) proxyHandler(w http.ResponseWriter, r *http.Request) {
	logger := s.logger

	out := s.outboundRequest(r)
	res, err := s.ctrl.Handle(r.Context(), out)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Info().Err(err).Str("url", out.URL.String()).Msg("Bypassed request failed")
		w.Header().Set(OutcomeHeader, string(interceptor.OutcomeBypass))
		http.Error(w, "Origin unreachable", http.StatusBadGateway)
		return
	}
	defer res.Response.Body.Close()

	header := w.Header()
	for key, values := range res.Response.Header {
		for _, value := range values {
			header.Add(key, value)
		}
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}
	header.Set(OutcomeHeader, string(res.Outcome))

	w.WriteHeader(res.Response.StatusCode)
	if _, err := io.Copy(w, res.Response.Body); err != nil {
		logger.Debug().Err(err).Str("url", out.URL.String()).Msg("Client went away while copying body")
	}

	logger.Debug().
		Str("url", out.URL.String()).
		Str("outcome", string(res.Outcome)).
		Int("status", res.Response.StatusCode).
		Msg("Request served")
}

// outboundRequest rewrites an incoming request to target the origin.
func (s *server) outboundRequest(r *http.Request) *http.Request {
	out := r.Clone(r.Context())
	out.RequestURI = ""

	target := *s.origin
	target.Path = r.URL.Path
	target.RawPath = r.URL.RawPath
	target.RawQuery = r.URL.RawQuery
	out.URL = &target
	out.Host = s.origin.Host

	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	// The transport negotiates and decodes compression; stored bodies stay identity-encoded.
	out.Header.Del("Accept-Encoding")
	if r.ContentLength == 0 {
		out.Body = nil
	}
	return out
}
