package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"drift_spider/internal/config"
	"drift_spider/internal/extract"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly"
	"github.com/gocolly/colly/extensions"
	"golang.org/x/net/html/charset"
)

var (
	ErrCaptcha   = errors.New("captcha detected")
	ErrEmptyPage = errors.New("empty page")
)

// Renderer fetches pages through a colly collector and returns their HTML
// with accordion panels already expanded.
type Renderer struct {
	collector *colly.Collector
	wait      time.Duration
}

func NewRenderer(cfg config.FetchConfig) *Renderer {
	c := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	// robots.txt is checked by RobotsGuard before anything is rendered
	c.IgnoreRobotsTxt = true
	c.SetRequestTimeout(cfg.Timeout())

	if cfg.RandomUserAgent {
		extensions.RandomUserAgent(c)
	}

	if cfg.DelayMS > 0 {
		c.Limit(&colly.LimitRule{
			DomainGlob: "*",
			Delay:      cfg.Delay(),
		})
	}

	return &Renderer{collector: c, wait: cfg.RenderWait()}
}

func (r *Renderer) Render(ctx context.Context, pageURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c := r.collector.Clone()

	var body []byte
	var contentType string
	var fetchErr error

	c.OnRequest(func(req *colly.Request) {
		if ctx.Err() != nil {
			req.Abort()
		}
	})

	c.OnResponse(func(resp *colly.Response) {
		body = resp.Body
		contentType = resp.Headers.Get("Content-Type")
	})

	c.OnError(func(resp *colly.Response, err error) {
		if resp != nil && resp.StatusCode != 0 {
			fetchErr = fmt.Errorf("HTTP %d: %w", resp.StatusCode, err)
			return
		}
		fetchErr = err
	})

	if err := c.Visit(pageURL); err != nil {
		return "", fmt.Errorf("rendering %s: %w", pageURL, err)
	}
	if fetchErr != nil {
		return "", fmt.Errorf("rendering %s: %w", pageURL, fetchErr)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if r.wait > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(r.wait):
		}
	}

	return finishPage(body, contentType, pageURL)
}

// finishPage decodes the body to UTF-8 and expands interactive content.
// Captcha walls are rejected.
func finishPage(body []byte, contentType, pageURL string) (string, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return "", fmt.Errorf("rendering %s: %w", pageURL, ErrEmptyPage)
	}

	utf8Reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		utf8Reader = bytes.NewReader(body)
	}

	doc, err := goquery.NewDocumentFromReader(utf8Reader)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", pageURL, err)
	}

	lowerText := strings.ToLower(doc.Find("body").Text())
	if strings.Contains(lowerText, "captcha") && strings.Contains(lowerText, "security check") {
		return "", fmt.Errorf("rendering %s: %w", pageURL, ErrCaptcha)
	}

	if n := extract.ExpandInteractive(doc); n > 0 {
		slog.Debug("expanded accordion panels", slog.String("url", pageURL), slog.Int("count", n))
	}

	out, err := goquery.OuterHtml(doc.Selection)
	if err != nil {
		return "", fmt.Errorf("serializing %s: %w", pageURL, err)
	}
	return out, nil
}
