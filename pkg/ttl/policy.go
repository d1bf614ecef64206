// Package ttl maps resource URLs to a maximum cache age by file extension.
package ttl

import (
	"net/url"
	"path"
	"strings"
	"time"
)

// RootExtension is the pseudo-extension of paths ending in "/".
const RootExtension = "/"

// DefaultTable holds the freshness windows, in seconds, used by the blog.
var DefaultTable = map[string]int{
	RootExtension: 3600,
	"html":        3600,
	"json":        86400,
	"js":          86400,
	"css":         86400,
}

// Policy answers freshness questions for cached responses.
// A Policy is immutable and safe for concurrent use.
type Policy struct {
	table map[string]time.Duration
}

// New builds a policy from an extension → seconds table.
// Extensions are matched case-insensitively and may be given with or
// without a leading dot.
func New(table map[string]int) *Policy {
	p := &Policy{table: make(map[string]time.Duration, len(table))}
	for ext, secs := range table {
		p.table[normalizeExtension(ext)] = time.Duration(secs) * time.Second
	}
	return p
}

// Default returns a policy over DefaultTable.
func Default() *Policy {
	return New(DefaultTable)
}

// For returns the freshness window for rawURL.
// The second return is false when no TTL applies, meaning the entry never
// expires by age.
func (p *Policy) For(rawURL string) (time.Duration, bool) {
	ext, ok := Extension(rawURL)
	if !ok {
		return 0, false
	}
	d, ok := p.table[ext]
	return d, ok
}

// Fresh reports whether an entry captured at date can be served for rawURL
// at now. Entries without a capture date, and URLs without a TTL, are
// always fresh.
func (p *Policy) Fresh(rawURL string, date time.Time, hasDate bool, now time.Time) bool {
	if !hasDate {
		return true
	}
	max, ok := p.For(rawURL)
	if !ok {
		return true
	}
	return now.Sub(date) <= max
}

// Extension extracts the lookup extension of rawURL: the text after the
// final "." of the last path segment, lower-cased, with query and fragment
// ignored. Paths ending in "/" yield RootExtension.
//
// Examples:
//
//	https://blog.example.com/            -> "/"
//	https://blog.example.com/posts/hi/   -> "/"
//	https://blog.example.com/app.js?v=3  -> "js"
//	https://blog.example.com/about       -> no extension
func Extension(rawURL string) (string, bool) {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
		if u.IsAbs() && p == "" {
			p = "/"
		}
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}

	if p == "" || strings.HasSuffix(p, "/") {
		return RootExtension, true
	}

	base := path.Base(p)
	i := strings.LastIndex(base, ".")
	if i < 0 || i == len(base)-1 {
		return "", false
	}
	return strings.ToLower(base[i+1:]), true
}

func normalizeExtension(ext string) string {
	if ext == RootExtension {
		return ext
	}
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
