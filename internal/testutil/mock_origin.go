// Package testutil provides a fake blog origin for offline-cache tests.
package testutil

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"strings"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock origin path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockOrigin is a configurable static-site origin for testing.
type MockOrigin struct {
	server *httptest.Server

	mu        sync.RWMutex
	responses map[string]MockResponse
	hits      map[string]int
	offline   bool
	gzip      bool

	requestCount int
	lastMethod   string
}

// NewMockOrigin starts a mock origin serving DefaultPages.
func NewMockOrigin() *MockOrigin {
	mock := &MockOrigin{
		responses: DefaultPages(),
		hits:      make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.hits[r.URL.Path]++
		mock.lastMethod = r.Method
		offline := mock.offline
		compress := mock.gzip && strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
		resp, exists := mock.responses[r.URL.Path]
		mock.mu.Unlock()

		if offline {
			dropConnection(w)
			return
		}
		if !exists {
			resp = NewNotFoundResponse()
		}
		if compress {
			resp = gzipResponse(resp)
		}
		serve(w, resp)
	}))

	return mock
}

// URL returns the mock origin URL.
func (m *MockOrigin) URL() string {
	return m.server.URL
}

// Close shuts down the mock origin.
func (m *MockOrigin) Close() {
	m.server.Close()
}

// SetOffline makes every request fail at the connection level.
func (m *MockOrigin) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// SetGzip makes the origin gzip bodies for clients that accept it.
func (m *MockOrigin) SetGzip(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gzip = enabled
}

// SetResponse configures the response for a path.
func (m *MockOrigin) SetResponse(path string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[path] = resp
}

// Remove makes path answer 404.
func (m *MockOrigin) Remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.responses, path)
}

// Hits returns the number of requests for path.
func (m *MockOrigin) Hits(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hits[path]
}

// RequestCount returns the number of requests made to the server.
func (m *MockOrigin) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// LastMethod returns the method of the most recent request.
func (m *MockOrigin) LastMethod() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastMethod
}

// Reset clears all tracking counters.
func (m *MockOrigin) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.hits = make(map[string]int)
	m.lastMethod = ""
}

func serve(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	if w.Header().Get("Date") == "" {
		w.Header().Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

func gzipResponse(resp MockResponse) MockResponse {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(resp.Body))
	zw.Close()

	headers := make(map[string]string, len(resp.Headers)+1)
	for k, v := range resp.Headers {
		headers[k] = v
	}
	headers["Content-Encoding"] = "gzip"
	resp.Headers = headers
	resp.Body = buf.String()
	return resp
}

// dropConnection closes the TCP connection without a response, which the
// client sees as a network error.
func dropConnection(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("mock origin: response writer cannot hijack")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	conn.Close()
}

// DefaultPages returns the precache manifest, a post, and a page index.
func DefaultPages() map[string]MockResponse {
	return map[string]MockResponse{
		"/offline/index.html":   NewPage("<h1>You are offline</h1>", "text/html; charset=utf-8"),
		"/404.html":             NewPage("<h1>Page not found</h1>", "text/html; charset=utf-8"),
		"/apple-touch-icon.png": NewPage("\x89PNG", "image/png"),
		"/favicon.ico":          NewPage("ico", "image/x-icon"),
		"/manifest.json":        NewPage(`{"name":"Blog","start_url":"/"}`, "application/manifest+json"),
		"/":                     NewPage("<h1>Home</h1>", "text/html; charset=utf-8"),
		"/posts/hello/":         NewPage("<h1>Hello, offline world</h1>", "text/html; charset=utf-8"),
		"/css/main.css":         NewPage("body{margin:0}", "text/css"),
		"/index.json": NewPage(`[
  {"href":"/posts/hello/","title":"Hello Offline World","categories":["web"],"content":"Service workers keep the blog readable without a network."},
  {"href":"/posts/redis/","title":"Redis Notes","categories":["databases"],"content":"Hashes and sets."}
]`, "application/json"),
	}
}

// NewPage creates a 200 OK response with the given content type.
func NewPage(body, contentType string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": contentType},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       "404 page not found\n",
		Headers:    map[string]string{"Content-Type": "text/plain; charset=utf-8"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       "internal server error\n",
		Headers:    map[string]string{"Content-Type": "text/plain; charset=utf-8"},
	}
}

// NewRedirectResponse creates a 301 redirect to location.
func NewRedirectResponse(location string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusMovedPermanently,
		Headers:    map[string]string{"Location": location},
	}
}
