// Package search answers site searches from the page index (/index.json).
//
// The index is fetched through the interceptor, so searching keeps working
// offline once the index has been cached.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/Sternrassler/offline-cache/pkg/network"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultIndexPath is where the site publishes its page index.
	DefaultIndexPath = "/index.json"

	// MaxResults caps the number of hits returned by Search.
	MaxResults = 10

	// MaxSummaryLength caps the preview text of a hit, in runes.
	MaxSummaryLength = 150
)

// Per-term scores. A page's score is the sum over all query terms.
const (
	scoreTitleWord   = 4
	scoreTitlePrefix = 3
	scoreCategory    = 2
	scoreContent     = 1
)

// Page is one entry of the page index.
type Page struct {
	Href       string   `json:"href"`
	Title      string   `json:"title"`
	Categories []string `json:"categories"`
	Content    string   `json:"content"`
}

// Hit is a page matching a query.
type Hit struct {
	Page
	Score   int    `json:"score"`
	Summary string `json:"summary"`
}

// Index is an immutable in-memory page index.
type Index struct {
	pages []indexedPage
}

type indexedPage struct {
	page       Page
	titleWords []string
	categories []string
	content    string
}

// NewIndex builds an index over pages.
func NewIndex(pages []Page) *Index {
	idx := &Index{pages: make([]indexedPage, 0, len(pages))}
	for _, p := range pages {
		cats := make([]string, len(p.Categories))
		for i, c := range p.Categories {
			cats[i] = strings.ToLower(c)
		}
		idx.pages = append(idx.pages, indexedPage{
			page:       p,
			titleWords: words(p.Title),
			categories: cats,
			content:    strings.ToLower(p.Content),
		})
	}
	return idx
}

// Len returns the number of indexed pages.
func (idx *Index) Len() int { return len(idx.pages) }

// Search returns up to MaxResults pages containing every term of query,
// best first. Matching is case-insensitive; an empty query matches nothing.
func (idx *Index) Search(query string) []Hit {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil
	}

	var hits []Hit
	for _, p := range idx.pages {
		total := 0
		for _, term := range terms {
			s := p.score(term)
			if s == 0 {
				total = 0
				break
			}
			total += s
		}
		if total == 0 {
			continue
		}
		hits = append(hits, Hit{
			Page:    p.page,
			Score:   total,
			Summary: summarize(p.page.Content, terms[0]),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Title < hits[j].Title
	})
	if len(hits) > MaxResults {
		hits = hits[:MaxResults]
	}
	return hits
}

func (p indexedPage) score(term string) int {
	best := 0
	for _, w := range p.titleWords {
		switch {
		case w == term:
			return scoreTitleWord
		case strings.HasPrefix(w, term):
			best = scoreTitlePrefix
		}
	}
	if best > 0 {
		return best
	}
	for _, c := range p.categories {
		if strings.Contains(c, term) {
			return scoreCategory
		}
	}
	if strings.Contains(p.content, term) {
		return scoreContent
	}
	return 0
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// summarize returns a preview of content starting near the first occurrence
// of term, cut at a word boundary.
func summarize(content, term string) string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) <= MaxSummaryLength {
		return string(runes)
	}

	lower := make([]rune, len(runes))
	for i, r := range runes {
		lower[i] = unicode.ToLower(r)
	}

	start := 0
	if i := strings.Index(string(lower), term); i > 0 {
		start = utf8.RuneCountInString(string(lower)[:i])
		// Back up to the start of the word
		for back := 0; start > 0 && back < 30 && runes[start-1] != ' '; back++ {
			start--
		}
	}
	if start+MaxSummaryLength > len(runes) {
		start = max(0, len(runes)-MaxSummaryLength)
	}

	end := start + MaxSummaryLength
	for end > start+MaxSummaryLength/2 && end < len(runes) && runes[end] != ' ' {
		end--
	}

	out := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		out = "…" + out
	}
	if end < len(runes) {
		out += "…"
	}
	return out
}

// Loader fetches the page index once and serves it from memory afterwards.
// A failed fetch is not remembered; the next call tries again.
type Loader struct {
	fetcher network.Fetcher
	url     string

	mu    sync.Mutex
	index *Index
}

// NewLoader creates a loader reading the index at indexURL through fetcher.
func NewLoader(fetcher network.Fetcher, indexURL string) *Loader {
	return &Loader{fetcher: fetcher, url: indexURL}
}

// Index returns the loaded index, fetching it on first use.
func (l *Loader) Index(ctx context.Context) (*Index, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.index != nil {
		return l.index, nil
	}

	pages, err := l.fetch(ctx)
	if err != nil {
		return nil, err
	}
	l.index = NewIndex(pages)
	log.Info().Str("component", "search").Int("pages", l.index.Len()).Msg("Page index loaded")
	return l.index, nil
}

// Search loads the index if needed and runs query against it.
func (l *Loader) Search(ctx context.Context, query string) ([]Hit, error) {
	idx, err := l.Index(ctx)
	if err != nil {
		return nil, err
	}
	return idx.Search(query), nil
}

func (l *Loader) fetch(ctx context.Context) ([]Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build index request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch page index: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("fetch page index: %w", network.ErrNoResponse)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &network.FetchError{
			URL:        l.url,
			StatusCode: resp.StatusCode,
			ErrorClass: network.ClassifyStatus(resp.StatusCode),
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read page index: %w", err)
	}

	var pages []Page
	if err := json.Unmarshal(body, &pages); err != nil {
		return nil, fmt.Errorf("decode page index: %w", err)
	}
	return pages, nil
}
