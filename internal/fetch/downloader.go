package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"drift_spider/internal/config"
)

// NewHTTPClient builds the client shared by the downloader, robots guard and
// sitemap expansion.
func NewHTTPClient(cfg config.FetchConfig) *http.Client {
	jar, _ := cookiejar.New(nil)
	maxHops := cfg.MaxHops

	return &http.Client{
		Jar:     jar,
		Timeout: cfg.Timeout(),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxHops {
				return fmt.Errorf("stopped after %d redirects (MaxHops exceeded)", maxHops)
			}
			return nil
		},
	}
}

// Downloader saves remote documents to local files.
type Downloader struct {
	client    *http.Client
	userAgent string
}

func NewDownloader(client *http.Client, userAgent string) *Downloader {
	return &Downloader{client: client, userAgent: userAgent}
}

// Download writes the body of rawURL into dir and returns the file path.
func (d *Downloader) Download(ctx context.Context, rawURL, dir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading %s: HTTP %d", rawURL, resp.StatusCode)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, "*-"+fileName(rawURL))
	if err != nil {
		return "", err
	}
	defer f.Close()

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return "", fmt.Errorf("saving %s: %w", rawURL, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	slog.Debug("document downloaded", slog.String("url", rawURL), slog.Int64("bytes", n), slog.String("path", f.Name()))
	return f.Name(), nil
}

func fileName(rawURL string) string {
	name := "document.pdf"
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			name = base
		}
	}
	name = strings.NewReplacer("*", "_", string(filepath.Separator), "_").Replace(name)
	return name
}
