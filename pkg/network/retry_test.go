package network

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func textResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
	}
	if config.InitialBackoff != 1*time.Second {
		t.Errorf("InitialBackoff = %v, want 1s", config.InitialBackoff)
	}
	if config.MaxBackoff != 30*time.Second {
		t.Errorf("MaxBackoff = %v, want 30s", config.MaxBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}
}

func TestRetryingFetcher_SucceedsAfterNetworkError(t *testing.T) {
	var calls atomic.Int32
	next := FetcherFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("connection reset")
		}
		return textResponse(200, "ok"), nil
	})

	req, _ := http.NewRequest("GET", "https://blog.example.com/favicon.ico", nil)
	resp, err := WithRetry(next, fastRetryConfig()).Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestRetryingFetcher_NilResponseIsRetried(t *testing.T) {
	var calls atomic.Int32
	next := FetcherFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, nil
	})

	req, _ := http.NewRequest("GET", "https://blog.example.com/manifest.json", nil)
	_, err := WithRetry(next, fastRetryConfig()).Fetch(context.Background(), req)
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Expected ErrRetryExhausted, got %v", err)
	}
	if !errors.Is(err, ErrNoResponse) {
		t.Errorf("Expected ErrNoResponse in chain, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestRetryingFetcher_ServerErrorReturnsLastResponse(t *testing.T) {
	var calls atomic.Int32
	next := FetcherFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		calls.Add(1)
		return textResponse(503, "busy"), nil
	})

	req, _ := http.NewRequest("GET", "https://blog.example.com/404.html", nil)
	resp, err := WithRetry(next, fastRetryConfig()).Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if resp.StatusCode != 503 {
		t.Errorf("StatusCode = %d, want 503", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "busy" {
		t.Errorf("body = %q", body)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestRetryingFetcher_ServerErrorWithoutBody(t *testing.T) {
	var calls atomic.Int32
	next := FetcherFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		if calls.Add(1) < 3 {
			return &http.Response{StatusCode: 502}, nil
		}
		return textResponse(200, "ok"), nil
	})

	req, _ := http.NewRequest("GET", "https://blog.example.com/", nil)
	resp, err := WithRetry(next, fastRetryConfig()).Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestRetryingFetcher_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	next := FetcherFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		calls.Add(1)
		return textResponse(404, "missing"), nil
	})

	req, _ := http.NewRequest("GET", "https://blog.example.com/missing.png", nil)
	resp, err := WithRetry(next, fastRetryConfig()).Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if resp.StatusCode != 404 {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestRetryingFetcher_ContextCancelled(t *testing.T) {
	next := FetcherFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		return nil, errors.New("unreachable")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	config := fastRetryConfig()
	config.InitialBackoff = time.Hour
	config.MaxBackoff = time.Hour

	req, _ := http.NewRequest("GET", "https://blog.example.com/", nil)
	_, err := WithRetry(next, config).Fetch(ctx, req)
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
}

func TestWithRetry_Defaults(t *testing.T) {
	r := WithRetry(nil, RetryConfig{})
	if r.config.MaxAttempts != 1 {
		t.Errorf("MaxAttempts = %d, want 1", r.config.MaxAttempts)
	}
	if r.config.BackoffMultiplier != 1 {
		t.Errorf("BackoffMultiplier = %v, want 1", r.config.BackoffMultiplier)
	}
}
