package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"drift_spider/internal/db"
	"drift_spider/internal/fetch"
	"drift_spider/internal/models"
	"drift_spider/internal/similarity"
	urlqueue "drift_spider/internal/url_queue"
)

var ErrInvalidInput = errors.New("invalid input")

type IngestResult struct {
	Input    string         `json:"input"`
	Kind     string         `json:"kind"`
	Title    string         `json:"title,omitempty"`
	Outcome  models.Outcome `json:"outcome"`
	Sections int            `json:"sections"`
	Added    int            `json:"added"`
	Score    *float64       `json:"score,omitempty"`
	Status   models.Status  `json:"status,omitempty"`
	Error    string         `json:"error,omitempty"`
}

type IngestReport struct {
	Database string         `json:"database"`
	Path     string         `json:"path"`
	Results  []IngestResult `json:"results"`
	Added    int            `json:"added"`
	Took     time.Duration  `json:"took"`
}

// Count returns how many inputs ended with the given outcome.
func (r *IngestReport) Count(outcome models.Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// Ingest extracts sections from every input and appends the new ones to
// database. Inputs may be page URLs, PDF URLs, sitemaps, or local PDF and
// HTML files. Invalid inputs fail the call before anything is fetched.
// Failures of a single input are recorded in its result; only opening the
// database is fatal.
func (a *SpiderApp) Ingest(ctx context.Context, database string, inputs []string) (*IngestReport, error) {
	if err := db.ValidateName(database); err != nil {
		return nil, err
	}

	var invalid []string
	for _, in := range inputs {
		if urlqueue.Classify(in) == urlqueue.KindInvalid {
			invalid = append(invalid, in)
		}
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(invalid, ", "))
	}

	start := time.Now()
	report := &IngestReport{Database: database, Results: make([]IngestResult, 0, len(inputs))}

	queue := urlqueue.NewURLQueue(database, a.config.Fetch.MaxPages)
	for _, in := range inputs {
		if urlqueue.Classify(in) != urlqueue.KindSitemap {
			queue.Add(in)
			continue
		}
		if res, ok := a.expandSitemap(ctx, in, queue); !ok {
			report.Results = append(report.Results, res)
		}
	}

	session, err := a.store.OpenSession(database)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := session.Close(); err != nil {
			slog.Error("closing database", slog.String("path", session.Path()), slog.Any("err", err))
		}
	}()
	report.Path = session.Path()

	tmpDir, err := os.MkdirTemp("", "drift_spider-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	slog.Info("ingest started",
		slog.String("database", database),
		slog.Int("inputs", queue.Size()),
		slog.String("path", session.Path()))

	for {
		item, ok := queue.Get()
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			report.Took = time.Since(start)
			return report, err
		}

		res := a.ingestOne(ctx, database, session, item, tmpDir)
		report.Results = append(report.Results, res)
		report.Added += res.Added

		if res.Outcome == models.OutcomeError {
			slog.Warn("input failed", slog.String("input", item.Raw), slog.String("err", res.Error))
		} else {
			slog.Info("input processed",
				slog.String("input", item.Raw),
				slog.String("outcome", string(res.Outcome)),
				slog.Int("sections", res.Sections),
				slog.Int("added", res.Added))
		}
	}

	if err := session.Flush(); err != nil {
		return nil, err
	}

	report.Took = time.Since(start)
	slog.Info("ingest finished",
		slog.String("database", database),
		slog.Int("added", report.Added),
		slog.Int("errors", report.Count(models.OutcomeError)),
		slog.Duration("took", report.Took))
	return report, nil
}

// expandSitemap queues the pages of a sitemap that pass the follow and
// exclude patterns. A sitemap that cannot be read yields an error result.
func (a *SpiderApp) expandSitemap(ctx context.Context, sitemapURL string, queue *urlqueue.URLQueue) (IngestResult, bool) {
	pages, err := urlqueue.ParseSitemap(ctx, a.client, sitemapURL)
	if err != nil {
		return IngestResult{
			Input:   sitemapURL,
			Kind:    urlqueue.KindSitemap.String(),
			Outcome: models.OutcomeError,
			Error:   err.Error(),
		}, false
	}

	added := 0
	for _, page := range pages {
		if !urlqueue.URLShouldBeFollowed(page, a.config.Fetch.FollowPatterns, a.config.Fetch.ExcludePatterns) {
			continue
		}
		if queue.Add(page) {
			added++
		}
	}
	slog.Info("sitemap expanded", slog.String("sitemap", sitemapURL), slog.Int("pages", len(pages)), slog.Int("queued", added))
	return IngestResult{}, true
}

func (a *SpiderApp) ingestOne(ctx context.Context, database string, session *db.Session, item urlqueue.Item, tmpDir string) IngestResult {
	res := IngestResult{Input: item.Raw, Kind: item.Kind.String()}
	fail := func(err error) IngestResult {
		res.Outcome = models.OutcomeError
		res.Error = err.Error()
		return res
	}

	if session.SkipIfURLProcessed(item.Raw) {
		res.Outcome = models.OutcomeSkipped
		return res
	}

	if urlqueue.IsRemote(item.Raw) && !a.robots.Allowed(ctx, item.Raw) {
		return fail(errors.New("disallowed by robots.txt"))
	}

	var sections []models.Section
	// texts compared for the coverage score
	var left, right string
	outcome := models.OutcomeScraped
	switch item.Kind {
	case urlqueue.KindWeb, urlqueue.KindLocalHTML:
		var rawHTML string
		var err error
		if item.Kind == urlqueue.KindWeb {
			rawHTML, err = a.renderer.Render(ctx, item.Raw)
		} else {
			rawHTML, err = fetch.ReadLocalHTML(item.Raw)
		}
		if err != nil {
			return fail(err)
		}
		if sections, err = a.extractor.ExtractHTML(rawHTML, item.Raw); err != nil {
			return fail(err)
		}
		if article, err := a.extractor.Article(rawHTML, item.Raw); err == nil {
			res.Title = article.Title
		} else {
			slog.Debug("no readable article", slog.String("input", item.Raw), slog.Any("err", err))
		}
		if a.engine != nil {
			if left, err = a.extractor.LiveText(rawHTML); err != nil {
				return fail(err)
			}
			right = joinContent(sections)
		}

	case urlqueue.KindPDF, urlqueue.KindLocalPDF:
		path := item.Raw
		if item.Kind == urlqueue.KindPDF {
			if err := a.politeWait(ctx); err != nil {
				return fail(err)
			}
			var err error
			if path, err = a.downloader.Download(ctx, item.Raw, tmpDir); err != nil {
				return fail(err)
			}
		}
		md, err := a.pdfMarkdown(ctx, path)
		if err != nil {
			return fail(err)
		}
		sections = a.extractor.ExtractMarkdown(md, item.Raw)
		if a.engine != nil {
			stored, err := a.store.StoredText(item.Raw)
			if err != nil {
				return fail(err)
			}
			if stored == "" {
				outcome = models.OutcomeNoExistingContent
				res.Status = models.StatusNoData
			} else {
				left, right = joinContent(sections), stored
			}
		}

	default:
		return fail(fmt.Errorf("%w: %s", ErrInvalidInput, item.Raw))
	}

	res.Sections = len(sections)
	if len(sections) == 0 {
		res.Outcome = models.OutcomeNoContent
		return res
	}

	if a.engine != nil && left != "" && right != "" {
		score, err := a.engine.Score(ctx, left, right)
		if err != nil {
			slog.Warn("coverage score failed", slog.String("input", item.Raw), slog.Any("err", err))
		} else {
			res.Score = &score
		}
		res.Status = similarity.Classify(res.Score)
	}

	for _, sec := range sections {
		added, err := session.AppendIfNew(sec)
		if err != nil {
			return fail(err)
		}
		if !added {
			continue
		}
		res.Added++
		a.mirrorSection(ctx, database, sec)
		slog.Debug("section stored",
			slog.String("url", sec.OriginLink),
			slog.Int("section", sec.Section),
			slog.String("heading", sec.Heading))
	}

	res.Outcome = outcome
	return res
}
