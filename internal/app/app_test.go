package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"drift_spider/internal/config"
	"drift_spider/internal/db"
	"drift_spider/internal/models"
	"drift_spider/internal/similarity"
	"drift_spider/internal/translate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var longText = strings.Repeat("The quick brown fox jumps over the lazy dog. ", 5)

func page(heading, body string) string {
	return fmt.Sprintf(`<html><head><title>%s</title></head><body><main>
<section><h2>%s</h2><p>%s</p><a href="https://other.org/x">ref</a></section>
</main><footer>Site footer</footer></body></html>`, heading, heading, body)
}

type fakeRenderer struct {
	pages map[string]string
	calls int
	after func()
}

func (f *fakeRenderer) Render(ctx context.Context, url string) (string, error) {
	f.calls++
	if f.after != nil {
		defer f.after()
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	html, ok := f.pages[url]
	if !ok {
		return "", errors.New("HTTP 404")
	}
	return html, nil
}

type fakeConverter struct {
	markdown string
	err      error
}

func (f fakeConverter) Convert(context.Context, string) (string, error) {
	return f.markdown, f.err
}

type fakeFallback struct{ text string }

func (f fakeFallback) ExtractText(context.Context, string) (string, error) {
	return f.text, nil
}

type fakeDownloader struct{ calls int }

func (f *fakeDownloader) Download(_ context.Context, url, dir string) (string, error) {
	f.calls++
	path := filepath.Join(dir, filepath.Base(url))
	return path, os.WriteFile(path, []byte("%PDF"), 0o644)
}

type fakeRobots struct{ deny map[string]bool }

func (f fakeRobots) Allowed(_ context.Context, url string) bool { return !f.deny[url] }

type fakeMirror struct {
	sections int
	results  []models.SimilarityResult
}

func (f *fakeMirror) SaveSection(context.Context, string, models.Section) error {
	f.sections++
	return nil
}

func (f *fakeMirror) SaveDriftResult(_ context.Context, _ string, res models.SimilarityResult) error {
	f.results = append(f.results, res)
	return nil
}

func (f *fakeMirror) MirrorDatabase(context.Context, *db.Store, string) (int, error) { return 0, nil }

func (f *fakeMirror) Close() error { return nil }

// letterEmbedder maps text to letter frequencies.
type letterEmbedder struct{}

func (letterEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	return v, nil
}

type testEnv struct {
	app      *SpiderApp
	cfg      *config.SpiderConfig
	renderer *fakeRenderer
	mirror   *fakeMirror
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.DatabaseDir = filepath.Join(dir, "database")
	cfg.Storage.CacheDir = filepath.Join(dir, "cache")
	cfg.Fetch.DelayMS = 0

	env := &testEnv{
		cfg:      cfg,
		renderer: &fakeRenderer{pages: map[string]string{}},
		mirror:   &fakeMirror{},
	}
	base := []Option{
		WithRenderer(env.renderer),
		WithConverter(fakeConverter{err: errors.New("converter down")}),
		WithFallback(fakeFallback{text: "Plain text of the quarterly report."}),
		WithDownloader(&fakeDownloader{}),
		WithRobots(fakeRobots{}),
		WithEngine(similarity.NewEngine(letterEmbedder{})),
		WithMirror(env.mirror),
	}

	a, err := NewSpiderApp(cfg, append(base, opts...)...)
	require.NoError(t, err)
	env.app = a
	return env
}

func (e *testEnv) store(t *testing.T, database string, secs ...models.Section) {
	t.Helper()
	s, err := e.app.Store().OpenSession(database)
	require.NoError(t, err)
	for _, sec := range secs {
		_, err := s.AppendIfNew(sec)
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())
}

func stored(n int, content, origin string) models.Section {
	return models.Section{
		Section:       n,
		Heading:       "Intro",
		Content:       content,
		OriginLink:    origin,
		ExternalLinks: []string{},
		LastUpdated:   models.DateNotFound,
	}
}

func TestIngestWebPageIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.renderer.pages["https://example.com/guide"] = page("Intro", longText)

	report, err := env.app.Ingest(context.Background(), "docs", []string{"https://example.com/guide"})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)

	res := report.Results[0]
	assert.Equal(t, models.OutcomeScraped, res.Outcome)
	assert.Equal(t, 1, res.Sections)
	assert.Equal(t, 1, res.Added)
	require.NotNil(t, res.Score)
	assert.Greater(t, *res.Score, 0.9)
	assert.Equal(t, 1, env.mirror.sections)

	read, err := env.app.Store().ReadAll("docs")
	require.NoError(t, err)
	require.Len(t, read.Records, 1)
	assert.Equal(t, "Intro", read.Records[0].Heading)
	assert.Equal(t, []string{"https://other.org/x"}, read.Records[0].ExternalLinks)

	report, err = env.app.Ingest(context.Background(), "docs", []string{"https://EXAMPLE.com/guide/"})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSkipped, report.Results[0].Outcome)
	assert.Equal(t, 0, report.Added)
	assert.Equal(t, 1, env.renderer.calls)

	lines, err := db.CountLines(env.app.Store().Path("docs"))
	require.NoError(t, err)
	assert.Equal(t, 1, lines)
}

func TestIngestRejectsInvalidInputsBeforeFetching(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.app.Ingest(context.Background(), "docs", []string{"https://example.com", "ftp://example.com/file", "notes.txt"})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "ftp://example.com/file")
	assert.Equal(t, 0, env.renderer.calls)
	assert.False(t, env.app.Store().Exists("docs"))

	_, err = env.app.Ingest(context.Background(), "../docs", []string{"https://example.com"})
	assert.ErrorIs(t, err, db.ErrInvalidName)
}

func TestIngestMixedInputs(t *testing.T) {
	env := newTestEnv(t, WithRobots(fakeRobots{deny: map[string]bool{"https://example.com/private": true}}))
	env.renderer.pages["https://example.com/short"] = "<html><body><p>short</p></body></html>"

	local := filepath.Join(t.TempDir(), "saved.html")
	require.NoError(t, os.WriteFile(local, []byte(page("Saved", longText)), 0o644))

	inputs := []string{
		"https://example.com/files/report.pdf",
		"https://example.com/private",
		"https://example.com/short",
		"https://example.com/missing",
		local,
	}
	report, err := env.app.Ingest(context.Background(), "docs", inputs)
	require.NoError(t, err)
	require.Len(t, report.Results, 5)

	pdf := report.Results[0]
	assert.Equal(t, "pdf", pdf.Kind)
	assert.Equal(t, models.OutcomeNoExistingContent, pdf.Outcome)
	assert.Nil(t, pdf.Score)
	assert.Equal(t, models.StatusNoData, pdf.Status)
	assert.Equal(t, 1, pdf.Added)

	assert.Equal(t, models.OutcomeError, report.Results[1].Outcome)
	assert.Contains(t, report.Results[1].Error, "robots")
	assert.Equal(t, models.OutcomeNoContent, report.Results[2].Outcome)
	assert.Equal(t, models.OutcomeError, report.Results[3].Outcome)
	assert.Equal(t, models.OutcomeScraped, report.Results[4].Outcome)
	assert.Equal(t, 2, report.Count(models.OutcomeError))
	assert.Equal(t, 2, report.Added)

	records, err := env.app.Store().LoadSections("https://example.com/files/report.pdf", "docs")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.NoHeading, records[0].Heading)
	assert.Equal(t, "Plain text of the quarterly report.", records[0].Content)
}

func TestCompareURL(t *testing.T) {
	env := newTestEnv(t)
	url := "https://example.com/guide"
	env.renderer.pages[url] = page("Intro", longText)
	env.store(t, "docs", stored(1, longText, url))

	res, err := env.app.CompareURL(context.Background(), url, CompareOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeScraped, res.Outcome)
	require.NotNil(t, res.Score)
	assert.Greater(t, *res.Score, 0.95)
	assert.Equal(t, models.StatusExcellent, res.Status)
	assert.Equal(t, 1, res.LiveSections)
	assert.Equal(t, 1, res.Sections)
	require.Len(t, env.mirror.results, 1)

	env.renderer.pages[url] = page("Changed", strings.Repeat("Zzz xyz qqq vvv www. ", 10))
	res, err = env.app.CompareURL(context.Background(), url, CompareOptions{Database: "docs"})
	require.NoError(t, err)
	require.NotNil(t, res.Score)
	assert.Less(t, *res.Score, 0.7)
	assert.Equal(t, models.StatusPoor, res.Status)
}

func TestCompareURLAmbiguousDatabase(t *testing.T) {
	env := newTestEnv(t)
	url := "https://example.com/guide"
	env.renderer.pages[url] = page("Intro", longText)
	env.store(t, "alpha", stored(1, longText, url))
	env.store(t, "beta", stored(1, "another snapshot", url+"/"))

	_, err := env.app.CompareURL(context.Background(), url, CompareOptions{})
	require.ErrorIs(t, err, ErrAmbiguousDatabase)
	assert.Equal(t, 0, env.renderer.calls)

	res, err := env.app.CompareURL(context.Background(), url, CompareOptions{Database: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeScraped, res.Outcome)

	_, err = env.app.CompareURL(context.Background(), url, CompareOptions{Database: "gamma"})
	assert.ErrorIs(t, err, db.ErrUnknownDatabase)
}

func TestCompareURLOutcomes(t *testing.T) {
	env := newTestEnv(t)
	env.renderer.pages["https://example.com/empty"] = "<html><body></body></html>"
	env.renderer.pages["https://example.com/new"] = page("New", longText)
	env.store(t, "docs", stored(1, longText, "https://example.com/empty"))

	ctx := context.Background()

	res, err := env.app.CompareURL(ctx, "https://example.com/empty", CompareOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeNoContent, res.Outcome)
	assert.Nil(t, res.Score)
	assert.Equal(t, models.StatusNoData, res.Status)

	res, err = env.app.CompareURL(ctx, "https://example.com/new", CompareOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeNoExistingContent, res.Outcome)
	assert.Nil(t, res.Score)

	res, err = env.app.CompareURL(ctx, "https://example.com/gone", CompareOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeError, res.Outcome)
	assert.NotEmpty(t, res.Error)

	_, err = env.app.CompareURL(ctx, "not a url", CompareOptions{})
	assert.ErrorIs(t, err, ErrInvalidURL)
	_, err = env.app.CompareURL(ctx, "missing/report.pdf", CompareOptions{})
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestCompareURLNeedsEngine(t *testing.T) {
	env := newTestEnv(t)
	env.app.engine = nil

	_, err := env.app.CompareURL(context.Background(), "https://example.com", CompareOptions{})
	assert.ErrorIs(t, err, similarity.ErrNotConfigured)
	assert.Equal(t, 0, env.renderer.calls)
}

func seedBatch(t *testing.T, env *testEnv) {
	t.Helper()
	env.renderer.pages["https://example.com/a"] = page("A", longText)
	env.renderer.pages["https://example.com/b"] = page("B", longText)
	env.renderer.pages["https://example.com/short"] = "<html><body><main><p>tiny</p></main></body></html>"
	env.store(t, "docs",
		stored(1, longText, "https://example.com/a"),
		stored(2, "second section of a", "https://example.com/a"),
		stored(1, longText, "https://example.com/b"),
		stored(1, longText, "https://example.com/short"),
	)
}

func TestBatchCompareCachesCompletedPass(t *testing.T) {
	env := newTestEnv(t)
	seedBatch(t, env)

	var progress []int
	report, err := env.app.BatchCompare(context.Background(), BatchOptions{
		Progress: func(database string, done, total int) {
			assert.Equal(t, "docs", database)
			assert.Equal(t, 4, total)
			progress = append(progress, done)
		},
	})
	require.NoError(t, err)
	assert.False(t, report.Cancelled)
	assert.Equal(t, []string{"docs"}, report.Completed)
	assert.Equal(t, []int{1, 2, 3, 4}, progress)
	assert.Equal(t, 3, env.renderer.calls)

	results := report.Results["docs"]
	require.Len(t, results, 3)
	a := results["https://example.com/a"]
	assert.Equal(t, models.OutcomeScraped, a.Outcome)
	require.NotNil(t, a.Similarity)
	assert.Equal(t, models.StatusExcellent, a.Status)

	short := results["https://example.com/short"]
	assert.Equal(t, models.OutcomeNoContent, short.Outcome)
	assert.Nil(t, short.Similarity)
	assert.Equal(t, models.StatusNoData, short.Status)

	_, err = os.Stat(filepath.Join(env.cfg.Storage.CacheDir, "docs_results.json"))
	require.NoError(t, err)

	report, err = env.app.BatchCompare(context.Background(), BatchOptions{Database: "docs"})
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, report.Cached)
	assert.Equal(t, 3, env.renderer.calls)
	assert.Equal(t, results, report.Results["docs"])

	require.NoError(t, env.app.ClearCache("docs"))
	_, err = env.app.BatchCompare(context.Background(), BatchOptions{Database: "docs"})
	require.NoError(t, err)
	assert.Equal(t, 6, env.renderer.calls)
}

func TestBatchCompareCancelledLeavesNoCache(t *testing.T) {
	env := newTestEnv(t)
	seedBatch(t, env)

	ctx, cancel := context.WithCancel(context.Background())
	env.renderer.after = cancel

	report, err := env.app.BatchCompare(ctx, BatchOptions{Database: "all"})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.True(t, report.Cancelled)
	assert.Empty(t, report.Completed)
	assert.Equal(t, 1, env.renderer.calls)

	_, err = os.Stat(filepath.Join(env.cfg.Storage.CacheDir, "docs_results.json"))
	assert.True(t, os.IsNotExist(err))

	env.renderer.after = nil
	report, err = env.app.BatchCompare(context.Background(), BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, report.Completed)
	assert.Len(t, report.Results["docs"], 3)
	assert.Equal(t, 4, env.renderer.calls)
}

func TestBatchCompareUnknownDatabase(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.app.BatchCompare(context.Background(), BatchOptions{Database: "nope"})
	assert.ErrorIs(t, err, db.ErrUnknownDatabase)
}

func TestIngestPDFScoresAgainstStoredCopy(t *testing.T) {
	env := newTestEnv(t)
	url := "https://example.com/files/report.pdf"
	env.store(t, "archive", stored(1, "Plain text of the quarterly report.", url))

	report, err := env.app.Ingest(context.Background(), "docs", []string{url})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)

	res := report.Results[0]
	assert.Equal(t, models.OutcomeScraped, res.Outcome)
	require.NotNil(t, res.Score)
	assert.Equal(t, models.StatusExcellent, res.Status)
	assert.Equal(t, 1, res.Added)
}

func TestCompareURLDiff(t *testing.T) {
	env := newTestEnv(t)
	url := "https://example.com/guide"
	env.store(t, "docs", stored(1, longText, url))
	env.renderer.pages[url] = page("Changed", "Entirely new wording here.")

	res, err := env.app.CompareURL(context.Background(), url, CompareOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Diff)

	res, err = env.app.CompareURL(context.Background(), url, CompareOptions{Diff: true})
	require.NoError(t, err)
	assert.Contains(t, res.Diff, "--- stored")
	assert.Contains(t, res.Diff, "+++ live")
	assert.Contains(t, res.Diff, "-The quick brown fox jumps over the lazy dog.\n")
	assert.Regexp(t, `(?m)^\+.*Entirely new wording here\.$`, res.Diff)
}

func TestTextDiff(t *testing.T) {
	diff, err := TextDiff("One. Two!\nThree?", "One.   Two!  Three?")
	require.NoError(t, err)
	assert.Empty(t, diff)

	diff, err = TextDiff("Keep this. Drop that.", "Keep this. Add more.")
	require.NoError(t, err)
	assert.Contains(t, diff, "-Drop that.\n")
	assert.Contains(t, diff, "+Add more.\n")
	assert.Contains(t, diff, " Keep this.\n")
}

func TestBatchCompareReportsProgressForEveryLine(t *testing.T) {
	env := newTestEnv(t)
	env.renderer.pages["https://example.com/a"] = page("A", longText)
	body := fmt.Sprintf(`{"section": 1, "heading": "A", "content": %q, "origin_link": "https://example.com/a"}

{"section": 2, "heading": broken
`, longText)
	require.NoError(t, os.MkdirAll(env.cfg.Storage.DatabaseDir, 0o755))
	require.NoError(t, os.WriteFile(env.app.Store().Path("docs"), []byte(body), 0o644))

	var progress []int
	report, err := env.app.BatchCompare(context.Background(), BatchOptions{
		Database: "docs",
		Progress: func(_ string, done, total int) {
			assert.Equal(t, 3, total)
			progress = append(progress, done)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, progress)
	assert.Len(t, report.Results["docs"], 1)
}

type fakeTranslator struct{ calls int }

func (f *fakeTranslator) Translate(_ context.Context, text, from, to string) (string, error) {
	f.calls++
	if strings.Contains(text, "untranslatable") {
		return "", errors.New("model refused")
	}
	if text == "" {
		return "", nil
	}
	return fmt.Sprintf("[%s>%s] %s", from, to, text), nil
}

func TestTranslateDatabase(t *testing.T) {
	tr := &fakeTranslator{}
	env := newTestEnv(t, WithTranslator(tr))
	env.cfg.Translation.DelayMS = 0

	env.store(t, "sv",
		stored(1, "Hej", "https://example.se/a"),
		stored(2, "untranslatable text", "https://example.se/a"),
	)
	f, err := os.OpenFile(env.app.Store().Path("sv"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{\"section\": 3, broken\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	report, err := env.app.TranslateDatabase(context.Background(), TranslateOptions{Source: "sv", Target: "en"})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Records)
	assert.Equal(t, 1, report.Translated)
	assert.Equal(t, 1, report.Failed)

	res, err := env.app.Store().ReadAll("en")
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Len(t, res.Errors, 1)
	assert.Equal(t, "[sv>en] Intro", res.Records[0].Heading)
	assert.Equal(t, "[sv>en] Hej", res.Records[0].Content)
	assert.Equal(t, "https://example.se/a", res.Records[0].OriginLink)
	assert.Equal(t, "Intro", res.Records[1].Heading)
	assert.Equal(t, "untranslatable text", res.Records[1].Content)

	_, err = env.app.TranslateDatabase(context.Background(), TranslateOptions{Source: "sv", Target: "de", To: "de"})
	require.NoError(t, err)
	res, err = env.app.Store().ReadAll("de")
	require.NoError(t, err)
	assert.Equal(t, "[sv>de] Hej", res.Records[0].Content)

	_, err = env.app.TranslateDatabase(context.Background(), TranslateOptions{Source: "sv", Target: "sv"})
	assert.ErrorIs(t, err, db.ErrSameDatabase)
}

func TestTranslateDatabaseCancelled(t *testing.T) {
	env := newTestEnv(t, WithTranslator(&fakeTranslator{}))
	env.store(t, "sv", stored(1, "Hej", "https://example.se/a"), stored(2, "Då", "https://example.se/b"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := env.app.TranslateDatabase(ctx, TranslateOptions{Source: "sv", Target: "en"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, env.app.Store().Exists("en"))

	env.app.translator = nil
	_, err = env.app.TranslateDatabase(context.Background(), TranslateOptions{Source: "sv", Target: "en"})
	assert.ErrorIs(t, err, translate.ErrNotConfigured)
}
