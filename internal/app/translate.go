package app

import (
	"context"
	"log/slog"
	"time"

	"drift_spider/internal/models"
	"drift_spider/internal/translate"
)

type TranslateOptions struct {
	Source string
	Target string
	// From and To are language codes; empty means the configured ones.
	From string
	To   string
}

type TranslateReport struct {
	Source     string        `json:"source"`
	Target     string        `json:"target"`
	Path       string        `json:"path"`
	Records    int           `json:"records"`
	Translated int           `json:"translated"`
	Failed     int           `json:"failed"`
	Took       time.Duration `json:"took"`
}

// TranslateDatabase writes a translated copy of the Source database to
// Target. Heading and content are translated; every other field is kept. A
// record whose translation fails is written unchanged, and lines that do
// not decode are copied as they are. Cancelling ctx leaves Target untouched.
func (a *SpiderApp) TranslateDatabase(ctx context.Context, opts TranslateOptions) (*TranslateReport, error) {
	if a.translator == nil {
		return nil, translate.ErrNotConfigured
	}
	from, to := opts.From, opts.To
	if from == "" {
		from = a.config.Translation.From
	}
	if to == "" {
		to = a.config.Translation.To
	}

	start := time.Now()
	report := &TranslateReport{Source: opts.Source, Target: opts.Target, Path: a.store.Path(opts.Target)}
	delay := a.config.Translation.Delay()

	n, err := a.store.Rewrite(opts.Source, opts.Target, func(lineNo int, rec models.Record) (models.Section, error) {
		sec := rec.Section
		sec.Content = rec.Text()
		if sec.ExternalLinks == nil {
			sec.ExternalLinks = []string{}
		}
		if sec.LastUpdated == "" {
			sec.LastUpdated = models.DateNotFound
		}

		if lineNo > 1 && delay > 0 {
			select {
			case <-ctx.Done():
				return sec, ctx.Err()
			case <-time.After(delay):
			}
		}

		out, err := a.translateSection(ctx, sec, from, to)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return sec, ctxErr
		}
		if err != nil {
			slog.Warn("translation failed, keeping original",
				slog.String("url", sec.OriginLink),
				slog.Int("section", sec.Section),
				slog.Any("err", err))
			report.Failed++
			return sec, nil
		}
		report.Translated++
		slog.Debug("section translated", slog.Int("line", lineNo), slog.String("heading", out.Heading))
		return out, nil
	})
	report.Records = n
	report.Took = time.Since(start)
	if err != nil {
		return report, err
	}

	slog.Info("database translated",
		slog.String("source", opts.Source),
		slog.String("target", opts.Target),
		slog.Int("translated", report.Translated),
		slog.Int("failed", report.Failed),
		slog.Duration("took", report.Took))
	return report, nil
}

func (a *SpiderApp) translateSection(ctx context.Context, sec models.Section, from, to string) (models.Section, error) {
	heading, err := a.translator.Translate(ctx, sec.Heading, from, to)
	if err != nil {
		return sec, err
	}
	content, err := a.translator.Translate(ctx, sec.Content, from, to)
	if err != nil {
		return sec, err
	}
	sec.Heading = heading
	sec.Content = content
	return sec, nil
}
