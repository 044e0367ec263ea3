package app

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"drift_spider/internal/config"
	"drift_spider/internal/db"
	"drift_spider/internal/extract"
	"drift_spider/internal/fetch"
	"drift_spider/internal/models"
	"drift_spider/internal/similarity"
	"drift_spider/internal/translate"
)

// Renderer returns the HTML of a live page after it has settled.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// Converter turns a local PDF into markdown.
type Converter interface {
	Convert(ctx context.Context, path string) (string, error)
}

// TextExtractor is the plain-text path used when conversion fails.
type TextExtractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

type Downloader interface {
	Download(ctx context.Context, url, dir string) (string, error)
}

type RobotsChecker interface {
	Allowed(ctx context.Context, url string) bool
}

// Mirror receives a copy of stored sections and drift results.
type Mirror interface {
	SaveSection(ctx context.Context, database string, sec models.Section) error
	SaveDriftResult(ctx context.Context, database string, res models.SimilarityResult) error
	MirrorDatabase(ctx context.Context, store *db.Store, name string) (int, error)
	Close() error
}

// Translator rewrites text between languages.
type Translator interface {
	Translate(ctx context.Context, text, from, to string) (string, error)
}

type allowAll struct{}

func (allowAll) Allowed(context.Context, string) bool { return true }

type SpiderApp struct {
	config    *config.SpiderConfig
	store     *db.Store
	extractor *extract.Extractor
	client    *http.Client

	renderer   Renderer
	converter  Converter
	fallback   TextExtractor
	downloader Downloader
	robots     RobotsChecker
	engine     *similarity.Engine
	mirror     Mirror
	translator Translator

	lastFetch time.Time
}

type Option func(*SpiderApp)

func WithRenderer(r Renderer) Option { return func(a *SpiderApp) { a.renderer = r } }
func WithConverter(c Converter) Option { return func(a *SpiderApp) { a.converter = c } }
func WithFallback(f TextExtractor) Option { return func(a *SpiderApp) { a.fallback = f } }
func WithDownloader(d Downloader) Option { return func(a *SpiderApp) { a.downloader = d } }
func WithRobots(r RobotsChecker) Option { return func(a *SpiderApp) { a.robots = r } }
func WithEngine(e *similarity.Engine) Option { return func(a *SpiderApp) { a.engine = e } }
func WithMirror(m Mirror) Option { return func(a *SpiderApp) { a.mirror = m } }
func WithHTTPClient(c *http.Client) Option { return func(a *SpiderApp) { a.client = c } }
func WithTranslator(t Translator) Option { return func(a *SpiderApp) { a.translator = t } }

// NewSpiderApp wires the pipeline from cfg. Options replace individual
// collaborators; anything not replaced is built from the config. The
// similarity engine and the Mongo mirror are only set up when configured.
func NewSpiderApp(cfg *config.SpiderConfig, opts ...Option) (*SpiderApp, error) {
	a := &SpiderApp{
		config:    cfg,
		store:     db.NewStore(cfg.Storage.DatabaseDir),
		extractor: extract.NewExtractor(extract.Options{MinContentLength: cfg.Extract.MinContentLength}),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.client == nil {
		a.client = fetch.NewHTTPClient(cfg.Fetch)
	}
	if a.renderer == nil {
		a.renderer = fetch.NewRenderer(cfg.Fetch)
	}
	if a.converter == nil {
		a.converter = fetch.NewDoclingConverter(cfg.Docling.URL, nil)
	}
	if a.fallback == nil {
		a.fallback = fetch.PDFTextFallback{}
	}
	if a.downloader == nil {
		a.downloader = fetch.NewDownloader(a.client, cfg.Fetch.UserAgent)
	}
	if a.robots == nil {
		if cfg.Fetch.RespectRobots {
			a.robots = fetch.NewRobotsGuard(a.client, cfg.Fetch.UserAgent)
		} else {
			a.robots = allowAll{}
		}
	}

	if a.engine == nil && cfg.Embedding.Enabled() {
		engine, err := similarity.Shared(func() (similarity.Embedder, error) {
			embedder, err := similarity.NewOpenAIEmbedder(cfg.Embedding)
			if err != nil {
				return nil, err
			}
			return embedder, nil
		})
		if err != nil {
			return nil, err
		}
		a.engine = engine
	}

	if a.translator == nil && cfg.Translation.Enabled() {
		translator, err := translate.NewOpenAITranslator(cfg.Translation)
		if err != nil {
			return nil, err
		}
		a.translator = translator
	}

	if a.mirror == nil && cfg.DB.Connection != "" {
		mongoDB, err := db.NewMongoDB(cfg.DB)
		if err != nil {
			slog.Warn("mongo mirror disabled", slog.Any("err", err))
		} else {
			a.mirror = mongoDB
		}
	}

	return a, nil
}

func (a *SpiderApp) Store() *db.Store { return a.store }

func (a *SpiderApp) Extractor() *extract.Extractor { return a.extractor }

// Mirror returns the configured mirror, or nil.
func (a *SpiderApp) Mirror() Mirror { return a.mirror }

func (a *SpiderApp) Close() error {
	if a.mirror != nil {
		return a.mirror.Close()
	}
	return nil
}

// politeWait spaces out network fetches that do not go through the
// renderer's own rate limit.
func (a *SpiderApp) politeWait(ctx context.Context) error {
	defer func() { a.lastFetch = time.Now() }()

	if a.lastFetch.IsZero() {
		return nil
	}
	wait := a.config.Fetch.Delay() - time.Since(a.lastFetch)
	if wait <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// pdfMarkdown converts a local PDF, falling back to plain text extraction
// when the converter fails.
func (a *SpiderApp) pdfMarkdown(ctx context.Context, path string) (string, error) {
	md, err := a.converter.Convert(ctx, path)
	if err == nil {
		return md, nil
	}
	slog.Warn("pdf conversion failed, using text fallback", slog.String("path", path), slog.Any("err", err))

	text, fbErr := a.fallback.ExtractText(ctx, path)
	if fbErr != nil {
		return "", fbErr
	}
	return text, nil
}

func joinContent(sections []models.Section) string {
	parts := make([]string, 0, len(sections))
	for _, sec := range sections {
		parts = append(parts, sec.Content)
	}
	return strings.Join(parts, " ")
}

func (a *SpiderApp) mirrorSection(ctx context.Context, database string, sec models.Section) {
	if a.mirror == nil {
		return
	}
	if err := a.mirror.SaveSection(ctx, database, sec); err != nil {
		slog.Warn("mirroring section failed", slog.String("url", sec.OriginLink), slog.Any("err", err))
	}
}

func (a *SpiderApp) mirrorResult(ctx context.Context, database string, res models.SimilarityResult) {
	if a.mirror == nil {
		return
	}
	if err := a.mirror.SaveDriftResult(ctx, database, res); err != nil {
		slog.Warn("mirroring drift result failed", slog.String("url", res.URL), slog.Any("err", err))
	}
}
