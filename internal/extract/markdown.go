package extract

import (
	"strings"

	"drift_spider/internal/models"
)

// ExtractMarkdown splits converted PDF markdown on level 2 and 3 headers.
// Every block becomes a section, however short or repeated.
func (e *Extractor) ExtractMarkdown(markdown, originLink string) []models.Section {
	return ExtractMarkdown(markdown, originLink)
}

func ExtractMarkdown(markdown, originLink string) []models.Section {
	sections := make([]models.Section, 0)

	var heading string
	var lines []string
	flush := func() {
		if heading == "" && len(lines) == 0 {
			return
		}
		h := heading
		if h == "" {
			h = models.NoHeading
		}
		sections = append(sections, models.Section{
			Section:       len(sections) + 1,
			Heading:       h,
			Content:       strings.TrimSpace(strings.Join(lines, "\n")),
			OriginLink:    originLink,
			ExternalLinks: LinksFromLines(lines, originLink),
			LastUpdated:   models.DateNotFound,
		})
		lines = nil
	}

	for _, line := range strings.Split(markdown, "\n") {
		if title, ok := headerTitle(line); ok {
			flush()
			heading = title
			continue
		}
		lines = append(lines, line)
	}
	flush()

	return sections
}

func headerTitle(line string) (string, bool) {
	for _, marker := range []string{"### ", "## "} {
		if strings.HasPrefix(line, marker) {
			return strings.TrimSpace(strings.TrimPrefix(line, marker)), true
		}
	}
	return "", false
}
