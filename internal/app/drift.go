package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"drift_spider/internal/db"
	"drift_spider/internal/fetch"
	"drift_spider/internal/models"
	"drift_spider/internal/similarity"
	urlqueue "drift_spider/internal/url_queue"

	"github.com/go-playground/validator/v10"
)

// minLiveLength is the shortest live text, in characters, a batch run
// will score.
const minLiveLength = 100

var (
	ErrInvalidURL        = errors.New("invalid url")
	ErrAmbiguousDatabase = errors.New("url is stored in more than one database")
)

var validate = validator.New()

type CompareOptions struct {
	// Database restricts the stored side to one database. When empty, the
	// URL must be stored in at most one database.
	Database string
	// Diff adds a sentence level diff of stored and live text to the result.
	Diff bool
}

// liveSource is the freshly fetched side of a comparison.
type liveSource struct {
	text     string
	sections int
}

// validateSource accepts http(s) URLs and local PDF or HTML paths.
func validateSource(raw string) (urlqueue.Kind, error) {
	kind := urlqueue.Classify(raw)
	switch kind {
	case urlqueue.KindWeb, urlqueue.KindPDF:
		if err := validate.Var(raw, "required,url"); err != nil {
			return kind, fmt.Errorf("%w: %s", ErrInvalidURL, raw)
		}
		return kind, nil
	case urlqueue.KindLocalPDF, urlqueue.KindLocalHTML:
		if _, err := os.Stat(raw); err != nil {
			return kind, fmt.Errorf("%w: %s: %v", ErrInvalidURL, raw, err)
		}
		return kind, nil
	default:
		return kind, fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}
}

// CompareURL fetches the live version of rawURL and scores it against the
// stored content of the same URL. Input and database selection problems
// are returned as errors before anything is fetched; fetch and scoring
// failures become the result's outcome.
func (a *SpiderApp) CompareURL(ctx context.Context, rawURL string, opts CompareOptions) (*models.SimilarityResult, error) {
	rawURL = strings.TrimSpace(rawURL)
	kind, err := validateSource(rawURL)
	if err != nil {
		return nil, err
	}
	if a.engine == nil {
		return nil, similarity.ErrNotConfigured
	}

	var databases []string
	if opts.Database != "" {
		if err := a.store.Require(opts.Database); err != nil {
			return nil, err
		}
		databases = []string{strings.TrimSuffix(opts.Database, db.Ext)}
	} else {
		databases, err = a.store.FindMatching(rawURL)
		if err != nil {
			return nil, err
		}
		if len(databases) > 1 {
			return nil, fmt.Errorf("%w: %s (%s); choose one", ErrAmbiguousDatabase, rawURL, strings.Join(databases, ", "))
		}
	}

	res := &models.SimilarityResult{URL: rawURL, Status: models.StatusNoData}
	database := ""
	if len(databases) == 1 {
		database = databases[0]
	}
	finish := func() (*models.SimilarityResult, error) {
		a.mirrorResult(ctx, database, *res)
		return res, nil
	}

	live, err := a.fetchLive(ctx, urlqueue.Item{Raw: rawURL, Kind: kind})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		res.Outcome = models.OutcomeError
		res.Error = err.Error()
		return finish()
	}
	res.LiveLength = utf8.RuneCountInString(live.text)
	res.LiveSections = live.sections
	if strings.TrimSpace(live.text) == "" {
		res.Outcome = models.OutcomeNoContent
		return finish()
	}

	stored := ""
	if len(databases) > 0 {
		records, err := a.store.LoadSections(rawURL, databases...)
		if err != nil {
			return nil, err
		}
		parts := make([]string, 0, len(records))
		for _, rec := range records {
			parts = append(parts, rec.Text())
		}
		stored = strings.Join(parts, " ")
		res.Sections = len(records)
	}
	res.StoredLength = utf8.RuneCountInString(stored)
	if strings.TrimSpace(stored) == "" {
		res.Outcome = models.OutcomeNoExistingContent
		return finish()
	}

	if opts.Diff {
		if res.Diff, err = TextDiff(stored, live.text); err != nil {
			slog.Warn("diff failed", slog.String("url", rawURL), slog.Any("err", err))
		}
	}

	score, err := a.engine.Score(ctx, stored, live.text)
	if err != nil {
		res.Outcome = models.OutcomeError
		res.Error = err.Error()
		return finish()
	}
	res.Score = &score
	res.Status = similarity.Classify(res.Score)
	res.Outcome = models.OutcomeScraped

	slog.Info("url compared",
		slog.String("url", rawURL),
		slog.String("database", database),
		slog.Float64("similarity", score),
		slog.String("status", string(res.Status)))
	return finish()
}

// fetchLive renders or converts the current version of a source and
// reduces it to plain text.
func (a *SpiderApp) fetchLive(ctx context.Context, item urlqueue.Item) (*liveSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch item.Kind {
	case urlqueue.KindWeb, urlqueue.KindLocalHTML:
		rawHTML, err := a.readHTML(ctx, item)
		if err != nil {
			return nil, err
		}
		text, err := a.extractor.LiveText(rawHTML)
		if err != nil {
			return nil, err
		}
		sections, err := a.extractor.ExtractHTML(rawHTML, item.Raw)
		if err != nil {
			return nil, err
		}
		return &liveSource{text: text, sections: len(sections)}, nil

	case urlqueue.KindPDF, urlqueue.KindLocalPDF:
		path := item.Raw
		if item.Kind == urlqueue.KindPDF {
			tmpDir, err := os.MkdirTemp("", "drift_spider-*")
			if err != nil {
				return nil, err
			}
			defer os.RemoveAll(tmpDir)

			if err := a.politeWait(ctx); err != nil {
				return nil, err
			}
			if path, err = a.downloader.Download(ctx, item.Raw, tmpDir); err != nil {
				return nil, err
			}
		}
		md, err := a.pdfMarkdown(ctx, path)
		if err != nil {
			return nil, err
		}
		sections := a.extractor.ExtractMarkdown(md, item.Raw)
		return &liveSource{text: joinContent(sections), sections: len(sections)}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrInvalidURL, item.Raw)
}

func (a *SpiderApp) readHTML(ctx context.Context, item urlqueue.Item) (string, error) {
	if item.Kind == urlqueue.KindLocalHTML {
		return fetch.ReadLocalHTML(item.Raw)
	}
	if !a.robots.Allowed(ctx, item.Raw) {
		return "", errors.New("disallowed by robots.txt")
	}
	return a.renderer.Render(ctx, item.Raw)
}

type BatchOptions struct {
	// Database selects one database; empty or "all" means every database.
	Database string
	// Progress is called after every line with the 1-based line number and
	// the line count of the database being processed.
	Progress func(database string, done, total int)
}

type BatchReport struct {
	// Results holds one entry per distinct URL, keyed by database.
	Results   map[string]map[string]models.CacheEntry `json:"results"`
	Cached    []string                                `json:"cached"`
	Completed []string                                `json:"completed"`
	Cancelled bool                                    `json:"cancelled"`
	Took      time.Duration                           `json:"took"`
}

// BatchCompare scores every distinct URL of the selected databases against
// its live version. A database with a result cache is not recomputed. A
// database whose pass completes gets its results cached; when ctx is
// cancelled the partial results are returned with ctx's error and nothing
// is cached for the interrupted database.
func (a *SpiderApp) BatchCompare(ctx context.Context, opts BatchOptions) (*BatchReport, error) {
	var databases []string
	if opts.Database == "" || opts.Database == "all" {
		names, err := a.store.List()
		if err != nil {
			return nil, err
		}
		databases = names
	} else {
		if err := a.store.Require(opts.Database); err != nil {
			return nil, err
		}
		databases = []string{strings.TrimSuffix(opts.Database, db.Ext)}
	}
	if a.engine == nil {
		return nil, similarity.ErrNotConfigured
	}

	start := time.Now()
	report := &BatchReport{Results: make(map[string]map[string]models.CacheEntry)}

	for _, name := range databases {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}

		cached, ok, err := a.loadCache(name)
		if err != nil {
			slog.Warn("ignoring unreadable cache", slog.String("database", name), slog.Any("err", err))
		}
		if ok {
			slog.Info("using cached results", slog.String("database", name), slog.Int("urls", len(cached)))
			report.Results[name] = cached
			report.Cached = append(report.Cached, name)
			continue
		}

		entries, err := a.compareDatabase(ctx, name, opts.Progress)
		report.Results[name] = entries
		if ctx.Err() != nil {
			report.Cancelled = true
			slog.Warn("batch cancelled, results not cached", slog.String("database", name), slog.Int("urls", len(entries)))
			break
		}
		if err != nil {
			return report, err
		}

		if err := a.saveCache(name, entries); err != nil {
			slog.Error("writing cache failed", slog.String("database", name), slog.Any("err", err))
		}
		report.Completed = append(report.Completed, name)
	}

	report.Took = time.Since(start)
	if report.Cancelled {
		return report, ctx.Err()
	}
	return report, nil
}

// compareDatabase streams one database, fetching each distinct URL once
// and scoring it against the content of its first record.
func (a *SpiderApp) compareDatabase(ctx context.Context, name string, progress func(string, int, int)) (map[string]models.CacheEntry, error) {
	entries := make(map[string]models.CacheEntry)

	total, err := db.CountLines(a.store.Path(name))
	if err != nil {
		return entries, err
	}
	slog.Info("comparing database", slog.String("database", name), slog.Int("lines", total))

	seen := make(map[string]bool)
	_, err = a.store.Stream(name, func(lineNo int, rec models.Record, ok bool) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		defer func() {
			if progress != nil {
				progress(name, lineNo, total)
			}
		}()

		if !ok || rec.OriginLink == "" {
			return nil
		}
		key := urlqueue.NormalizeURL(rec.OriginLink)
		if seen[key] {
			return nil
		}

		entry, err := a.compareRecord(ctx, rec)
		if err != nil {
			return err
		}
		seen[key] = true
		entries[rec.OriginLink] = entry

		a.mirrorResult(ctx, name, models.SimilarityResult{
			URL:          rec.OriginLink,
			Score:        entry.Similarity,
			Status:       entry.Status,
			Outcome:      entry.Outcome,
			StoredLength: entry.ScrapedLength,
			LiveLength:   entry.LiveLength,
		})
		return nil
	})
	return entries, err
}

// compareRecord returns an error only when ctx is done.
func (a *SpiderApp) compareRecord(ctx context.Context, rec models.Record) (models.CacheEntry, error) {
	stored := rec.Text()
	entry := models.CacheEntry{
		ScrapedLength: utf8.RuneCountInString(stored),
		Status:        models.StatusNoData,
	}

	kind := urlqueue.Classify(rec.OriginLink)
	if kind == urlqueue.KindInvalid || kind == urlqueue.KindSitemap {
		entry.Outcome = models.OutcomeError
		return entry, nil
	}

	live, err := a.fetchLive(ctx, urlqueue.Item{Raw: rec.OriginLink, Kind: kind})
	if ctx.Err() != nil {
		return entry, ctx.Err()
	}
	if err != nil {
		slog.Warn("live fetch failed", slog.String("url", rec.OriginLink), slog.Any("err", err))
		entry.Outcome = models.OutcomeError
		return entry, nil
	}

	liveText := strings.TrimSpace(live.text)
	entry.LiveLength = utf8.RuneCountInString(liveText)
	if entry.LiveLength < minLiveLength {
		entry.Outcome = models.OutcomeNoContent
		return entry, nil
	}

	score, err := a.engine.Score(ctx, stored, liveText)
	if ctx.Err() != nil {
		return entry, ctx.Err()
	}
	if err != nil {
		slog.Warn("scoring failed", slog.String("url", rec.OriginLink), slog.Any("err", err))
		entry.Outcome = models.OutcomeError
		return entry, nil
	}

	entry.Similarity = &score
	entry.Status = similarity.Classify(&score)
	entry.Outcome = models.OutcomeScraped
	slog.Debug("url scored", slog.String("url", rec.OriginLink), slog.Float64("similarity", score))
	return entry, nil
}
