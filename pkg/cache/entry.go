package cache

import (
	"net/http"
	"time"
)

// ResponseType classifies a response by how much of it can be trusted.
type ResponseType string

const (
	// TypeBasic is a same-origin, non-redirected response. Only basic
	// responses are eligible for caching.
	TypeBasic ResponseType = "basic"

	// TypeCORS is a cross-origin response the origin explicitly shared.
	TypeCORS ResponseType = "cors"

	// TypeOpaque is a cross-origin or redirected response whose validity
	// cannot be assessed.
	TypeOpaque ResponseType = "opaque"
)

// CacheEntry is an immutable snapshot of a response.
type CacheEntry struct {
	// URL is the normalized absolute URL the response was stored under
	URL string `json:"url"`

	// StatusCode is the HTTP status code of the cached response
	StatusCode int `json:"status_code"`

	// Headers are the response headers, including Date
	Headers http.Header `json:"headers"`

	// Data is the response body
	Data []byte `json:"data"`

	// Type is the response classification at capture time
	Type ResponseType `json:"type"`

	// CachedAt is when we cached this response
	CachedAt time.Time `json:"cached_at"`
}

// Date returns the capture timestamp taken from the Date header.
// The second return is false when the header is missing or unparsable.
func (e *CacheEntry) Date() (time.Time, bool) {
	if e == nil || e.Headers == nil {
		return time.Time{}, false
	}
	v := e.Headers.Get("Date")
	if v == "" {
		return time.Time{}, false
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Age returns how old the entry is at now according to its Date header.
// Returns false if the entry carries no usable date.
func (e *CacheEntry) Age(now time.Time) (time.Duration, bool) {
	date, ok := e.Date()
	if !ok {
		return 0, false
	}
	age := now.Sub(date)
	if age < 0 {
		age = 0
	}
	return age, true
}

// Clone returns a deep copy so stored snapshots never alias caller buffers.
func (e *CacheEntry) Clone() *CacheEntry {
	if e == nil {
		return nil
	}
	out := *e
	out.Headers = e.Headers.Clone()
	if e.Data != nil {
		out.Data = append([]byte(nil), e.Data...)
	}
	return &out
}
