package network

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	networkRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_network_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	networkRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "offline_network_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"error_class"})

	networkRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_network_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryingFetcher retries network failures and 5xx responses with
// exponential backoff. It is meant for background work such as precaching;
// intercepted page requests go straight to the network so that fallback is
// not delayed.
type RetryingFetcher struct {
	next   Fetcher
	config RetryConfig
}

// WithRetry wraps next with retry logic.
func WithRetry(next Fetcher, config RetryConfig) *RetryingFetcher {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.BackoffMultiplier < 1 {
		config.BackoffMultiplier = 1
	}
	return &RetryingFetcher{next: next, config: config}
}

// Fetch sends req, retrying retriable failures. The final 5xx response is
// returned as-is once attempts run out, so callers still see the status.
func (r *RetryingFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	// Requests with a body that cannot be replayed get a single attempt.
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return r.next.Fetch(ctx, req)
	}

	var resp *http.Response
	err := retryWithBackoff(ctx, r.config, func(attempt int) (ErrorClass, error) {
		attemptReq := req
		if attempt > 1 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return "", fmt.Errorf("replay request body: %w", err)
			}
			attemptReq = req.Clone(ctx)
			attemptReq.Body = body
		}

		res, err := r.next.Fetch(ctx, attemptReq)
		if err != nil {
			return ErrorClassNetwork, err
		}
		if res == nil {
			return ErrorClassNetwork, &FetchError{URL: req.URL.String(), ErrorClass: ErrorClassNetwork, Err: ErrNoResponse}
		}
		if ClassifyStatus(res.StatusCode) == ErrorClassServer && attempt < r.config.MaxAttempts {
			if res.Body != nil {
				res.Body.Close()
			}
			return ErrorClassServer, &FetchError{URL: req.URL.String(), StatusCode: res.StatusCode, ErrorClass: ErrorClassServer}
		}
		resp = res
		return "", nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// retryWithBackoff executes fn with exponential backoff retry logic.
// It respects context cancellation and adds jitter to prevent thundering herd.
func retryWithBackoff(ctx context.Context, config RetryConfig, fn func(attempt int) (ErrorClass, error)) error {
	var lastErr error
	var lastClass ErrorClass
	backoff := config.InitialBackoff

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		class, err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				log.Info().
					Str("error_class", string(lastClass)).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err
		lastClass = class

		if !shouldRetry(class) {
			return lastErr
		}

		// If this was the last attempt, don't wait
		if attempt >= config.MaxAttempts {
			break
		}

		networkRetriesTotal.WithLabelValues(string(class)).Inc()

		// Add jitter (±20% randomness)
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		networkRetryBackoffSeconds.WithLabelValues(string(class)).Observe(jitter.Seconds())

		log.Debug().
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying request after backoff")

		select {
		case <-ctx.Done():
			log.Warn().
				Str("error_class", string(class)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		case <-time.After(jitter):
		}

		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if config.MaxBackoff > 0 && backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	networkRetryExhaustedTotal.WithLabelValues(string(lastClass)).Inc()
	log.Warn().
		Str("error_class", string(lastClass)).
		Int("max_attempts", config.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, config.MaxAttempts, lastErr)
}
