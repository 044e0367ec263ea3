package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"drift_spider/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFetchConfig() config.FetchConfig {
	cfg := config.Default().Fetch
	cfg.DelayMS = 0
	cfg.TimeoutSec = 5
	return cfg
}

func TestRendererExpandsAccordions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><body><main>
<button class="js-accordion__button" aria-expanded="false">More</button>
<div class="js-accordion__content is-hidden" style="display: none">Hidden details</div>
</main></body></html>`)
	}))
	defer srv.Close()

	out, err := NewRenderer(testFetchConfig()).Render(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, `aria-expanded="true"`)
	assert.Contains(t, out, "Hidden details")
	assert.NotContains(t, out, "is-hidden")
	assert.NotContains(t, out, "display: none")
}

func TestRendererRevisitsAndReportsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "<html><body><p>ok</p></body></html>")
	}))
	defer srv.Close()

	r := NewRenderer(testFetchConfig())
	for i := 0; i < 2; i++ {
		out, err := r.Render(context.Background(), srv.URL+"/page")
		require.NoError(t, err)
		assert.Contains(t, out, "<p>ok</p>")
	}

	_, err := r.Render(context.Background(), srv.URL+"/missing")
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Render(ctx, srv.URL+"/page")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFinishPageDecodesCharset(t *testing.T) {
	body := []byte("<html><body><p>caf\xe9</p></body></html>")
	out, err := finishPage(body, "text/html; charset=iso-8859-1", "https://a.com")
	require.NoError(t, err)
	assert.Contains(t, out, "café")

	_, err = finishPage([]byte("   "), "text/html", "https://a.com")
	assert.ErrorIs(t, err, ErrEmptyPage)
}

func TestRobotsGuard(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			hits++
			fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := NewRobotsGuard(srv.Client(), "drift_spider/1.0")
	ctx := context.Background()
	assert.True(t, g.Allowed(ctx, srv.URL+"/public/page"))
	assert.False(t, g.Allowed(ctx, srv.URL+"/private/page"))
	assert.Equal(t, 1, hits)
	assert.False(t, g.Allowed(ctx, "not a url"))
}

func TestRobotsGuardAllowsWhenUnavailable(t *testing.T) {
	g := NewRobotsGuard(http.DefaultClient, "drift_spider/1.0")
	assert.True(t, g.Allowed(context.Background(), "http://127.0.0.1:1/page"))
}

func TestDownloader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/docs/guide.pdf":
			w.Write([]byte("%PDF-1.4 fake"))
		case "/loop":
			http.Redirect(w, r, "/loop", http.StatusFound)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := testFetchConfig()
	cfg.MaxHops = 3
	d := NewDownloader(NewHTTPClient(cfg), cfg.UserAgent)
	dir := t.TempDir()

	path, err := d.Download(context.Background(), srv.URL+"/docs/guide.pdf", dir)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "guide.pdf"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 fake", string(data))

	_, err = d.Download(context.Background(), srv.URL+"/missing.pdf", dir)
	assert.Error(t, err)

	_, err = d.Download(context.Background(), srv.URL+"/loop", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MaxHops")
}

func TestDoclingConverter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/convert/file", r.URL.Path)
		file, header, err := r.FormFile("files")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "report.pdf", header.Filename)
		assert.Equal(t, "%PDF", string(data))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"document": {"md_content": "## Title\nBody"}, "status": "success"}`)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))

	md, err := NewDoclingConverter(srv.URL+"/", nil).Convert(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "## Title\nBody", md)
}

func TestDoclingConverterFailures(t *testing.T) {
	_, err := NewDoclingConverter("", nil).Convert(context.Background(), "x.pdf")
	assert.ErrorIs(t, err, ErrNoConverter)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"document": {"md_content": ""}, "status": "failure"}`)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "empty.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))
	_, err = NewDoclingConverter(srv.URL, nil).Convert(context.Background(), path)
	assert.Error(t, err)
}

// writePDF writes a one page PDF showing lines in Helvetica.
func writePDF(t *testing.T, lines ...string) string {
	t.Helper()

	var content strings.Builder
	content.WriteString("BT /F1 12 Tf 72 712 Td\n")
	for i, line := range lines {
		if i > 0 {
			content.WriteString("0 -14 Td\n")
		}
		fmt.Fprintf(&content, "(%s) Tj\n", line)
	}
	content.WriteString("ET")

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", content.Len(), content.String()),
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)

	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestPDFTextFallback(t *testing.T) {
	path := writePDF(t, "Annual report", "Draft version")

	text, err := PDFTextFallback{}.ExtractText(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, text, "Annual report")
	assert.Contains(t, text, "Draft version")

	bad := filepath.Join(t.TempDir(), "bad.pdf")
	require.NoError(t, os.WriteFile(bad, []byte("not a pdf file"), 0o644))
	_, err = PDFTextFallback{}.ExtractText(context.Background(), bad)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = PDFTextFallback{}.ExtractText(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadLocalHTML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	body := "<html><head><meta charset=\"windows-1252\"></head><body><p>na\xefve</p></body></html>"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	out, err := ReadLocalHTML(path)
	require.NoError(t, err)
	assert.Contains(t, out, "naïve")

	_, err = ReadLocalHTML(filepath.Join(t.TempDir(), "missing.html"))
	assert.Error(t, err)
}
