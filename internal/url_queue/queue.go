package urlqueue

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// MaxSitemapDepth bounds how many sitemap indexes are followed below the
// first one.
const MaxSitemapDepth = 3

type SitemapIndex struct {
	Sitemaps []SitemapEntry `xml:"sitemap"`
	URLs     []SitemapEntry `xml:"url"`
}

type SitemapEntry struct {
	Loc string `xml:"loc"`
}

// ParseSitemap fetches a sitemap or sitemap index and returns every page
// location it lists, following nested indexes. Page URLs are returned in
// document order, without duplicates.
func ParseSitemap(ctx context.Context, client *http.Client, sitemapURL string) ([]string, error) {
	if client == nil {
		client = http.DefaultClient
	}

	seen := make(map[string]bool)
	var pages []string
	if err := walkSitemap(ctx, client, sitemapURL, 0, seen, &pages); err != nil {
		return pages, err
	}
	slog.Info("sitemap expanded", slog.String("url", sitemapURL), slog.Int("pages", len(pages)))
	return pages, nil
}

func walkSitemap(ctx context.Context, client *http.Client, sitemapURL string, depth int, seen map[string]bool, pages *[]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	si, err := fetchSitemap(ctx, client, sitemapURL)
	if err != nil {
		if depth == 0 {
			return err
		}
		slog.Warn("skipping nested sitemap", slog.String("url", sitemapURL), slog.Any("err", err))
		return nil
	}

	for _, u := range si.URLs {
		loc := strings.TrimSpace(u.Loc)
		if loc == "" || seen[loc] {
			continue
		}
		seen[loc] = true
		*pages = append(*pages, loc)
	}

	if depth >= MaxSitemapDepth {
		if len(si.Sitemaps) > 0 {
			slog.Warn("sitemap nesting too deep", slog.String("url", sitemapURL), slog.Int("skipped", len(si.Sitemaps)))
		}
		return nil
	}
	for _, s := range si.Sitemaps {
		loc := strings.TrimSpace(s.Loc)
		if loc == "" {
			continue
		}
		if err := walkSitemap(ctx, client, loc, depth+1, seen, pages); err != nil {
			return err
		}
	}
	return nil
}

func fetchSitemap(ctx context.Context, client *http.Client, sitemapURL string) (*SitemapIndex, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building sitemap request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching sitemap %s: %w", sitemapURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching sitemap %s: HTTP %d", sitemapURL, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading sitemap %s: %w", sitemapURL, err)
	}

	return DecodeSitemap(data)
}

// DecodeSitemap accepts both <urlset> and <sitemapindex> documents.
func DecodeSitemap(data []byte) (*SitemapIndex, error) {
	var si SitemapIndex
	if err := xml.Unmarshal(data, &si); err != nil {
		return nil, fmt.Errorf("parsing sitemap XML: %w", err)
	}
	return &si, nil
}
