package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
)

// RobotsGuard answers robots.txt questions for one user agent, fetching each
// host's rules once. Hosts whose robots.txt cannot be loaded are allowed.
type RobotsGuard struct {
	client    *http.Client
	userAgent string

	mu     sync.Mutex
	groups map[string]*robotstxt.Group
}

func NewRobotsGuard(client *http.Client, userAgent string) *RobotsGuard {
	if client == nil {
		client = http.DefaultClient
	}
	return &RobotsGuard{
		client:    client,
		userAgent: userAgent,
		groups:    make(map[string]*robotstxt.Group),
	}
}

func (g *RobotsGuard) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}

	group := g.group(ctx, u)
	if group == nil {
		return true
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return group.Test(path)
}

func (g *RobotsGuard) group(ctx context.Context, u *url.URL) *robotstxt.Group {
	key := u.Scheme + "://" + u.Host

	g.mu.Lock()
	group, ok := g.groups[key]
	g.mu.Unlock()
	if ok {
		return group
	}

	group, err := g.load(ctx, key)
	if err != nil {
		slog.Warn("robots.txt unavailable, allowing", slog.String("host", u.Host), slog.Any("err", err))
	}

	g.mu.Lock()
	g.groups[key] = group
	g.mu.Unlock()
	return group
}

func (g *RobotsGuard) load(ctx context.Context, base string) (*robotstxt.Group, error) {
	robotsURL := base + "/robots.txt"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", robotsURL, err)
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", robotsURL, err)
	}

	slog.Debug("robots.txt loaded", slog.String("url", robotsURL), slog.Int("status_code", resp.StatusCode))
	return data.FindGroup(g.userAgent), nil
}
