package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFTextFallback pulls plain text out of a PDF page by page, decoding
// through the page fonts. It is used when the markdown converter fails and
// knows nothing about layout or headings.
type PDFTextFallback struct{}

func (PDFTextFallback) ExtractText(ctx context.Context, path string) (text string, err error) {
	if vErr := api.ValidateFile(path, model.NewDefaultConfiguration()); vErr != nil {
		slog.Warn("pdf failed validation, reading text anyway", slog.String("path", path), slog.Any("err", vErr))
	}

	// the reader panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("reading %s: %v", path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			slog.Debug("skipping unreadable pdf page", slog.String("path", path), slog.Int("page", i), slog.Any("err", err))
			continue
		}
		if pageText = strings.TrimSpace(pageText); pageText != "" {
			pages = append(pages, pageText)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}
