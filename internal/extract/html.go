package extract

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"drift_spider/internal/models"
	urlqueue "drift_spider/internal/url_queue"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// DefaultMinContentLength is the shortest block text, in characters, kept
// from an HTML page.
const DefaultMinContentLength = 100

var mainSelectors = []string{
	"main#main",
	"div#main-content",
	"main",
	"div.main-content",
	"div#content",
	"div.content-main",
	"div.page-content",
	"div.content",
}

var noiseSelectors = []string{
	".breadcrumb",
	".block-menu",
	".layout__region--sidebar",
	"footer",
	".block-page-title-block",
	".site-footer",
	".region-sidebar",
	".block-system-breadcrumb-block",
	"script",
	"style",
	"noscript",
}

const (
	accordionSelector = ".accordion__item, .accordion-item"
	headingSelector   = "h1, h2, h3, h4"
)

var containerSelectors = []string{
	".paragraph",
	".block",
	".content",
	".content-wrapper",
	".field--type-text-with-summary",
}

var metaDateSelectors = []string{
	`meta[property="article:published_time"]`,
	`meta[property="article:modified_time"]`,
	`meta[itemprop="datePublished"]`,
	`meta[itemprop="dateModified"]`,
	`meta[name="dcterms.modified"]`,
	`meta[name="date"]`,
}

type Options struct {
	MinContentLength int
}

type Extractor struct {
	opts Options
}

func NewExtractor(opts Options) *Extractor {
	if opts.MinContentLength <= 0 {
		opts.MinContentLength = DefaultMinContentLength
	}
	return &Extractor{opts: opts}
}

func (e *Extractor) ExtractHTML(rawHTML, originURL string) ([]models.Section, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("parsing HTML of %s: %w", originURL, err)
	}
	return e.ExtractDocument(doc, originURL), nil
}

// ExtractDocument segments a parsed page into sections. The document itself
// is not modified.
func (e *Extractor) ExtractDocument(doc *goquery.Document, originURL string) []models.Section {
	root := cleanRoot(doc)
	pageDate := PageDate(doc)
	currentDomain := urlqueue.Host(originURL)

	candidates := candidateBlocks(root)
	slog.Debug("candidate blocks found", slog.String("url", originURL), slog.Int("count", len(candidates)))

	seen := make(map[string]bool)
	sections := make([]models.Section, 0)
	for _, block := range candidates {
		content := nodeText(block)
		if content == "" || utf8.RuneCountInString(content) < e.opts.MinContentLength {
			continue
		}

		hash := urlqueue.ComputeContentHash(content)
		if seen[hash] {
			continue
		}
		seen[hash] = true

		sel := goquery.NewDocumentFromNode(block).Selection
		sections = append(sections, models.Section{
			Section:       len(sections) + 1,
			Heading:       blockHeading(block),
			Content:       content,
			OriginLink:    originURL,
			ExternalLinks: ExternalLinks(sel, originURL, currentDomain),
			LastUpdated:   pageDate,
		})
	}

	return sections
}

// LiveText returns the whitespace-normalized text of a page's content root
// after noise removal.
func (e *Extractor) LiveText(rawHTML string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("parsing HTML: %w", err)
	}
	return DocumentText(doc), nil
}

func DocumentText(doc *goquery.Document) string {
	root := cleanRoot(doc)
	parts := make([]string, 0, len(root.Nodes))
	for _, n := range root.Nodes {
		parts = append(parts, nodeText(n))
	}
	return normalizeText(strings.Join(parts, " "))
}

// Article runs readability over the page for its title, excerpt and
// published date.
func (e *Extractor) Article(rawHTML, pageURL string) (*models.ExtractedArticle, error) {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	article, err := readability.FromReader(strings.NewReader(rawHTML), parsedURL)
	if err != nil {
		return nil, err
	}

	published := models.DateNotFound
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML)); err == nil {
		published = PageDate(doc)
	}

	return &models.ExtractedArticle{
		Title:     normalizeText(article.Title),
		Excerpt:   normalizeText(article.Excerpt),
		Published: published,
	}, nil
}

// ExpandInteractive opens collapsed accordion panels so their text is part
// of the document.
func ExpandInteractive(doc *goquery.Document) int {
	expanded := 0
	doc.Find(".accordion__button, .js-accordion__button").Each(func(_ int, button *goquery.Selection) {
		button.SetAttr("aria-expanded", "true")

		content := button.Next()
		if !content.HasClass("js-accordion__content") {
			return
		}
		content.RemoveClass("is-hidden")
		content.SetAttr("style", showStyle(content.AttrOr("style", "")))
		content.RemoveAttr("hidden")
		expanded++
	})
	return expanded
}

func showStyle(style string) string {
	var kept []string
	for _, decl := range strings.Split(style, ";") {
		decl = strings.TrimSpace(decl)
		if decl == "" {
			continue
		}
		name, _, _ := strings.Cut(decl, ":")
		if strings.EqualFold(strings.TrimSpace(name), "display") {
			continue
		}
		kept = append(kept, decl)
	}
	kept = append(kept, "display: block")
	return strings.Join(kept, "; ")
}

// PageDate returns the date shared by every section of a page: the first
// <time> element, else publication metadata, else DateNotFound.
func PageDate(doc *goquery.Document) string {
	if t := doc.Find("time").First(); t.Length() > 0 {
		if text := normalizeText(t.Text()); text != "" {
			return text
		}
		if dt, ok := t.Attr("datetime"); ok && strings.TrimSpace(dt) != "" {
			return formatDate(strings.TrimSpace(dt))
		}
	}

	for _, sel := range metaDateSelectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return formatDate(strings.TrimSpace(v))
		}
	}
	return models.DateNotFound
}

func formatDate(value string) string {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return value
}

func contentRoot(doc *goquery.Document) *goquery.Selection {
	for _, sel := range mainSelectors {
		if found := doc.Find(sel).First(); found.Length() > 0 {
			return found
		}
	}
	if body := doc.Find("body").First(); body.Length() > 0 {
		return body
	}
	return doc.Selection
}

// cleanRoot returns a detached copy of the content root with noise removed.
func cleanRoot(doc *goquery.Document) *goquery.Selection {
	root := contentRoot(doc).Clone()
	for _, sel := range noiseSelectors {
		root.Find(sel).Remove()
	}
	return root
}

// candidateBlocks gathers blocks from accordion items, heading ancestors and
// generic containers, in that order, each node at most once. A root with
// none of these is treated as one block.
func candidateBlocks(root *goquery.Selection) []*html.Node {
	seen := make(map[*html.Node]bool)
	var blocks []*html.Node
	add := func(n *html.Node) {
		if n == nil || seen[n] {
			return
		}
		seen[n] = true
		blocks = append(blocks, n)
	}

	root.Find(accordionSelector).Each(func(_ int, s *goquery.Selection) {
		add(s.Get(0))
	})

	rootNodes := make(map[*html.Node]bool, len(root.Nodes))
	for _, n := range root.Nodes {
		rootNodes[n] = true
	}
	root.Find(headingSelector).Each(func(_ int, h *goquery.Selection) {
		add(headingParent(h.Get(0), rootNodes))
	})

	for _, sel := range containerSelectors {
		root.Find(sel).Each(func(_ int, s *goquery.Selection) {
			add(s.Get(0))
		})
	}

	if len(blocks) == 0 {
		for _, n := range root.Nodes {
			add(n)
		}
	}
	return blocks
}

// headingParent finds the nearest structural ancestor of a heading without
// leaving the content root.
func headingParent(n *html.Node, rootNodes map[*html.Node]bool) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode {
			switch p.Data {
			case "section", "div", "article", "details":
				return p
			}
		}
		if rootNodes[p] {
			return nil
		}
	}
	return nil
}

func blockHeading(block *html.Node) string {
	if h := findHeading(block); h != nil {
		return nodeText(h)
	}
	if h := precedingHeading(block); h != nil {
		return nodeText(h)
	}
	return ""
}

func findHeading(n *html.Node) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if isHeading(c) {
			return c
		}
		if h := findHeading(c); h != nil {
			return h
		}
	}
	return nil
}
