package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// ResponseToEntry snapshots an HTTP response into a CacheEntry.
// The response body is restored after reading so the caller can still
// serve it; the entry owns an independent copy of the bytes.
func ResponseToEntry(resp *http.Response, typ ResponseType) (*CacheEntry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	var body []byte
	if resp.Body != nil {
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		resp.Body.Close()
		body = b
	}

	// Restore body for caller
	resp.Body = io.NopCloser(bytes.NewReader(body))

	entry := &CacheEntry{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Data:       append([]byte(nil), body...),
		Type:       typ,
		CachedAt:   time.Now(),
	}
	if entry.Headers == nil {
		entry.Headers = http.Header{}
	}
	entry.Headers.Del("Content-Length")
	if resp.Request != nil && resp.Request.URL != nil {
		if u, err := NormalizeURL(resp.Request.URL); err == nil {
			entry.URL = u
		}
	}

	return entry, nil
}

// EntryToResponse replays a cache entry as an HTTP response.
// Every call returns a fresh body reader over the stored bytes.
func EntryToResponse(entry *CacheEntry, req *http.Request) *http.Response {
	if entry == nil {
		return nil
	}
	header := entry.Headers.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(entry.Data)))

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", entry.StatusCode, http.StatusText(entry.StatusCode)),
		StatusCode:    entry.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(entry.Data)),
		ContentLength: int64(len(entry.Data)),
		Request:       req,
	}
}
