package extract

import (
	"net/url"
	"regexp"
	"strings"

	urlqueue "drift_spider/internal/url_queue"

	"github.com/PuerkitoBio/goquery"
)

// ExternalLinks resolves every href inside sel against pageURL and keeps the
// ones whose host differs from currentDomain, in first-seen order.
func ExternalLinks(sel *goquery.Selection, pageURL, currentDomain string) []string {
	links := make([]string, 0)

	baseURL, err := url.Parse(pageURL)
	if err != nil {
		baseURL = &url.URL{}
	}
	currentDomain = strings.ToLower(currentDomain)

	seen := make(map[string]bool)
	sel.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
			return
		}

		parsedHref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := baseURL.ResolveReference(parsedHref)
		if resolved.Host == "" || strings.ToLower(resolved.Host) == currentDomain {
			return
		}

		link := resolved.String()
		if !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
	})

	return links
}

var (
	markdownLinkRe = regexp.MustCompile(`\[[^\]]*\]\((https?://[^)\s]+)\)`)
	bareURLRe      = regexp.MustCompile(`https?://[^\s<>\[\]()"']+`)
)

// LinksFromLines scans plain or markdown lines for links that leave the
// origin document's host.
func LinksFromLines(lines []string, originLink string) []string {
	links := make([]string, 0)

	var excluded []string
	if host := urlqueue.Host(originLink); host != "" {
		excluded = []string{"http://" + host, "https://" + host}
	}

	seen := make(map[string]bool)
	add := func(link string) {
		link = strings.TrimRight(link, ").,;:")
		parsed, err := url.Parse(link)
		if err != nil || parsed.Host == "" {
			return
		}
		lower := strings.ToLower(link)
		for _, prefix := range excluded {
			if strings.HasPrefix(lower, prefix) {
				return
			}
		}
		if !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
	}

	for _, line := range lines {
		for _, m := range markdownLinkRe.FindAllStringSubmatch(line, -1) {
			add(m[1])
		}
		for _, m := range bareURLRe.FindAllString(line, -1) {
			add(m)
		}
	}
	return links
}
