// Package network issues the real network requests behind the offline cache:
// a plain HTTP fetcher, a retrying wrapper used for precaching, and response
// classification into basic, cors and opaque types.
package network

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/offline-cache/pkg/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds a single network fetch.
const DefaultTimeout = 30 * time.Second

// Prometheus metrics for network fetches.
var (
	networkRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_network_requests_total",
		Help: "Total network requests by method and status",
	}, []string{"method", "status"})

	networkRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "offline_network_request_duration_seconds",
		Help:    "Network request duration in seconds by method",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	networkErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_network_errors_total",
		Help: "Total network fetch errors by class",
	}, []string{"class"})
)

// Fetcher performs a network request.
//
// A nil response with a nil error is treated by callers as a failure, the
// same as a returned error.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// Ensure HTTPFetcher implements Fetcher at compile time.
var _ Fetcher = (*HTTPFetcher)(nil)

// HTTPFetcher fetches over an http.Client.
type HTTPFetcher struct {
	httpClient *http.Client
	userAgent  string
	logger     zerolog.Logger
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithTimeout sets the per-request timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(f *HTTPFetcher) {
		f.httpClient.Timeout = d
	}
}

// WithUserAgent sets the User-Agent header on outgoing requests that lack one.
func WithUserAgent(ua string) Option {
	return func(f *HTTPFetcher) {
		f.userAgent = ua
	}
}

// WithHTTPClient replaces the underlying client (for testing).
func WithHTTPClient(c *http.Client) Option {
	return func(f *HTTPFetcher) {
		f.httpClient = c
	}
}

// NewHTTPFetcher creates a fetcher with DefaultTimeout.
func NewHTTPFetcher(opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     log.With().Str("component", "network").Logger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch sends req and returns the response unmodified. HTTP error statuses
// are not errors here; only transport failures are.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	startTime := time.Now()
	defer func() {
		networkRequestDuration.WithLabelValues(method).Observe(time.Since(startTime).Seconds())
	}()

	out := req.WithContext(ctx)
	if f.userAgent != "" && out.Header.Get("User-Agent") == "" {
		out.Header = out.Header.Clone()
		if out.Header == nil {
			out.Header = http.Header{}
		}
		out.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.httpClient.Do(out)
	if err != nil {
		f.logger.Debug().Err(err).Str("url", req.URL.String()).Msg("Network request failed")
		networkErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		networkRequestsTotal.WithLabelValues(method, "network_error").Inc()
		return nil, &FetchError{URL: req.URL.String(), ErrorClass: ErrorClassNetwork, Err: err}
	}

	networkRequestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	if class := ClassifyStatus(resp.StatusCode); class != "" {
		networkErrorsTotal.WithLabelValues(string(class)).Inc()
	}
	return resp, nil
}

// Classify determines the response type of resp, fetched for req, relative
// to the site origin. A response is basic when the final URL has the same
// origin as origin and no redirect was followed. Other responses are cors
// when the origin shared them via Access-Control-Allow-Origin, else opaque.
func Classify(origin *url.URL, req *http.Request, resp *http.Response) cache.ResponseType {
	if resp == nil || req == nil || req.URL == nil {
		return cache.TypeOpaque
	}

	final := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}

	redirected := false
	if a, err := cache.NormalizeURL(req.URL); err == nil {
		if b, err := cache.NormalizeURL(final); err == nil && a != b {
			redirected = true
		}
	}

	if origin != nil && SameOrigin(origin, final) && SameOrigin(origin, req.URL) && !redirected {
		return cache.TypeBasic
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "" {
		return cache.TypeCORS
	}
	return cache.TypeOpaque
}

// SameOrigin reports whether a and b share scheme, host and port.
func SameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return originOf(a) == originOf(b)
}

func originOf(u *url.URL) string {
	scheme := u.Scheme
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		switch scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		}
	}
	return fmt.Sprintf("%s://%s:%s", strings.ToLower(scheme), strings.ToLower(host), port)
}
