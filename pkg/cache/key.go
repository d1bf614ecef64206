package cache

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// CacheKey identifies a cached response within a store.
type CacheKey struct {
	// Method is the request method. Only GET keys can be stored.
	Method string

	// URL is the normalized absolute request URL
	URL string
}

// NewKey builds the cache key for req.
func NewKey(req *http.Request) (CacheKey, error) {
	if req == nil || req.URL == nil {
		return CacheKey{}, fmt.Errorf("request cannot be nil")
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	u, err := NormalizeURL(req.URL)
	if err != nil {
		return CacheKey{}, err
	}
	return CacheKey{Method: strings.ToUpper(method), URL: u}, nil
}

// KeyForURL builds a GET key for an absolute URL string.
func KeyForURL(rawURL string) (CacheKey, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return CacheKey{}, fmt.Errorf("parse url: %w", err)
	}
	n, err := NormalizeURL(u)
	if err != nil {
		return CacheKey{}, err
	}
	return CacheKey{Method: http.MethodGet, URL: n}, nil
}

// NormalizeURL renders u in the canonical form used for key comparison:
// lower-case scheme and host, default ports and fragments removed, and an
// empty path replaced by "/".
//
// Example:
//
//	HTTPS://Example.com:443/app.js?v=1#top -> https://example.com/app.js?v=1
func NormalizeURL(u *url.URL) (string, error) {
	if u == nil {
		return "", fmt.Errorf("url cannot be nil")
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", u.String())
	}
	n := *u
	n.Scheme = strings.ToLower(n.Scheme)
	host := strings.ToLower(n.Hostname())
	port := n.Port()
	if (n.Scheme == "http" && port == "80") || (n.Scheme == "https" && port == "443") {
		port = ""
	}
	switch {
	case port != "":
		host = net.JoinHostPort(host, port)
	case strings.Contains(host, ":"):
		host = "[" + host + "]"
	}
	n.Host = host
	n.Fragment = ""
	n.RawFragment = ""
	n.User = nil
	if n.Path == "" {
		n.Path = "/"
		n.RawPath = ""
	}
	return n.String(), nil
}

// String generates the deterministic key string.
// Format: METHOD URL
//
// Example:
//
//	GET https://blog.example.com/app.js
func (k CacheKey) String() string {
	return k.Method + " " + k.URL
}
