package urlqueue

import (
	"crypto/md5"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/purell"
)

// Kind tells the ingestion pipeline how an input must be fetched.
type Kind int

const (
	KindInvalid Kind = iota
	KindWeb
	KindPDF
	KindSitemap
	KindLocalPDF
	KindLocalHTML
)

func (k Kind) String() string {
	switch k {
	case KindWeb:
		return "web"
	case KindPDF:
		return "pdf"
	case KindSitemap:
		return "sitemap"
	case KindLocalPDF:
		return "local_pdf"
	case KindLocalHTML:
		return "local_html"
	default:
		return "invalid"
	}
}

type Item struct {
	Raw  string
	Kind Kind
}

// URLQueue keeps inputs in arrival order, dropping repeats of the same
// normalized source.
type URLQueue struct {
	URLs     map[string]bool
	Queue    []Item
	Source   string
	MaxPages int
	mu       sync.Mutex
}

func NewURLQueue(source string, maxPages int) *URLQueue {
	return &URLQueue{
		URLs:     make(map[string]bool),
		Queue:    make([]Item, 0),
		Source:   source,
		MaxPages: maxPages,
	}
}

func (q *URLQueue) Add(raw string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	if q.MaxPages > 0 && len(q.URLs) >= q.MaxPages {
		return false
	}

	normalized := NormalizeURL(raw)
	if q.URLs[normalized] {
		return false
	}
	q.URLs[normalized] = true
	q.Queue = append(q.Queue, Item{Raw: raw, Kind: Classify(raw)})
	return true
}

func (q *URLQueue) Get() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.Queue) == 0 {
		return Item{}, false
	}
	item := q.Queue[0]
	q.Queue = q.Queue[1:]
	return item, true
}

func (q *URLQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.Queue)
}

const normalizeFlags = purell.FlagLowercaseScheme |
	purell.FlagLowercaseHost |
	purell.FlagRemoveDefaultPort |
	purell.FlagRemoveFragment |
	purell.FlagRemoveTrailingSlash

// NormalizeURL folds the parts of a URL that do not identify a different
// source. Inputs without a scheme and host (local paths) are only trimmed.
func NormalizeURL(urlStr string) string {
	urlStr = strings.TrimSpace(urlStr)
	parsed, err := url.Parse(urlStr)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return urlStr
	}

	parsed.RawQuery = ""
	parsed.ForceQuery = false
	parsed.Fragment = ""
	parsed.RawFragment = ""

	return purell.NormalizeURL(parsed, normalizeFlags)
}

func ComputeContentHash(content string) string {
	hash := md5.Sum([]byte(content))
	return fmt.Sprintf("%x", hash)
}

// IdentityKey is the store key of a section: md5 over content followed
// directly by its origin link.
func IdentityKey(content, originLink string) string {
	return ComputeContentHash(content + originLink)
}

// Host returns the lower-cased host of a URL, or "" if it has none.
func Host(urlStr string) string {
	parsed, err := url.Parse(strings.TrimSpace(urlStr))
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Host)
}

func IsRemote(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(parsed.Scheme)
	return (scheme == "http" || scheme == "https") && parsed.Host != ""
}

func IsPDF(raw string) bool {
	path := raw
	if parsed, err := url.Parse(raw); err == nil && parsed.Path != "" {
		path = parsed.Path
	}
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

func IsSitemap(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	base := strings.ToLower(filepath.Base(parsed.Path))
	return strings.HasPrefix(base, "sitemap") && strings.HasSuffix(base, ".xml")
}

// Classify sorts an input into the fetch path it needs.
func Classify(raw string) Kind {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return KindInvalid
	}

	if IsRemote(raw) {
		switch {
		case IsSitemap(raw):
			return KindSitemap
		case IsPDF(raw):
			return KindPDF
		default:
			return KindWeb
		}
	}

	if strings.Contains(raw, "://") {
		return KindInvalid
	}
	switch strings.ToLower(filepath.Ext(raw)) {
	case ".pdf":
		return KindLocalPDF
	case ".html", ".htm":
		return KindLocalHTML
	}
	return KindInvalid
}

func URLShouldBeFollowed(urlStr string, followPatterns, excludePatterns []string) bool {
	for _, pattern := range excludePatterns {
		if URLMatchesPattern(urlStr, pattern) {
			return false
		}
	}

	if len(followPatterns) == 0 {
		return true
	}

	for _, pattern := range followPatterns {
		if URLMatchesPattern(urlStr, pattern) {
			return true
		}
	}

	return false
}

func URLMatchesPattern(urlStr string, pattern string) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(urlStr)
}
