package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
)

// DateNotFound is stored in last_updated when a document carries no usable date.
const DateNotFound = "Date not found"

// NoHeading is the heading given to markdown blocks that precede any header.
const NoHeading = "No Heading"

type Section struct {
	Section       int      `json:"section" bson:"section"`
	Heading       string   `json:"heading" bson:"heading"`
	Content       string   `json:"content" bson:"content"`
	OriginLink    string   `json:"origin_link" bson:"origin_link"`
	ExternalLinks []string `json:"external_links" bson:"external_links"`
	LastUpdated   string   `json:"last_updated" bson:"last_updated"`
}

// MarshalLine returns the canonical one-line encoding used by the store.
func (s Section) MarshalLine() ([]byte, error) {
	return NewRecord(s).MarshalJSON()
}

// Record is one stored line: the known section fields plus whatever else the
// line carried. Files written by older tools use keys such as "text", "tags"
// or "document"; those survive a read/repair cycle through Extra.
type Record struct {
	Section
	Extra map[string]json.RawMessage

	present map[string]bool
}

var knownKeys = []string{"section", "heading", "content", "origin_link", "external_links", "last_updated"}

var ErrNotObject = errors.New("line is not a JSON object")

func NewRecord(s Section) Record {
	r := Record{Section: s, present: make(map[string]bool, len(knownKeys))}
	for _, k := range knownKeys {
		r.present[k] = true
	}
	return r
}

// Has reports whether the line carried key.
func (r Record) Has(key string) bool {
	if r.present[key] {
		return true
	}
	_, ok := r.Extra[key]
	return ok
}

// Text returns the record body, falling back to the legacy "text" key.
func (r Record) Text() string {
	if r.present["content"] {
		return r.Content
	}
	if raw, ok := r.Extra["text"]; ok {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
	}
	return ""
}

func (r *Record) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ErrNotObject
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}

	*r = Record{present: make(map[string]bool)}
	for key, value := range raw {
		var target any
		switch key {
		case "section":
			target = &r.Section.Section
		case "heading":
			target = &r.Heading
		case "content":
			target = &r.Content
		case "origin_link":
			target = &r.OriginLink
		case "external_links":
			target = &r.ExternalLinks
		case "last_updated":
			target = &r.LastUpdated
		}

		// A known key holding an unexpected shape is kept verbatim rather
		// than failing the whole line.
		if target != nil && json.Unmarshal(value, target) == nil {
			r.present[key] = true
			continue
		}
		if r.Extra == nil {
			r.Extra = make(map[string]json.RawMessage)
		}
		r.Extra[key] = value
	}
	return nil
}

func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	first := true
	write := func(key string, value []byte) {
		if !first {
			buf.WriteString(", ")
		}
		first = false
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteString(": ")
		buf.Write(value)
	}

	values := map[string]any{
		"section":        r.Section.Section,
		"heading":        r.Heading,
		"content":        r.Content,
		"origin_link":    r.OriginLink,
		"external_links": r.ExternalLinks,
		"last_updated":   r.LastUpdated,
	}
	for _, key := range knownKeys {
		if !r.present[key] {
			continue
		}
		v := values[key]
		if key == "external_links" && r.ExternalLinks == nil {
			v = []string{}
		}
		encoded, err := marshalNoEscape(v)
		if err != nil {
			return nil, err
		}
		write(key, encoded)
	}

	extraKeys := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		extraKeys = append(extraKeys, k)
	}
	sort.Strings(extraKeys)
	for _, k := range extraKeys {
		write(k, r.Extra[k])
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// LineError describes one store line that could not be decoded.
type LineError struct {
	Line      int    `json:"line"`
	Offset    int64  `json:"char_pos"`
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
	Preview   string `json:"line_preview"`
}

type Outcome string

const (
	OutcomeScraped           Outcome = "scraped"
	OutcomeSkipped           Outcome = "skipped"
	OutcomeError             Outcome = "error"
	OutcomeNoContent         Outcome = "no_content"
	OutcomeNoExistingContent Outcome = "no_existing_content"
)

type Status string

const (
	StatusNoData    Status = "no data / error"
	StatusExcellent Status = "excellent match"
	StatusMinor     Status = "minor differences"
	StatusPartial   Status = "partial match"
	StatusPoor      Status = "poor match"
)

type SimilarityResult struct {
	URL          string   `json:"url"`
	Score        *float64 `json:"score"`
	Status       Status   `json:"status"`
	Outcome      Outcome  `json:"outcome"`
	Error        string   `json:"error,omitempty"`
	StoredLength int      `json:"stored_length"`
	LiveLength   int      `json:"live_length"`
	LiveSections int      `json:"live_sections"`
	Sections     int      `json:"sections,omitempty"`
	Diff         string   `json:"diff,omitempty"`
}

// CacheEntry is one URL's line in a batch result cache file.
type CacheEntry struct {
	Similarity    *float64 `json:"similarity"`
	ScrapedLength int      `json:"scraped_length"`
	LiveLength    int      `json:"live_length"`
	Status        Status   `json:"status"`
	Outcome       Outcome  `json:"outcome,omitempty"`
}

type ExtractedArticle struct {
	Title     string
	Excerpt   string
	Published string
}

type DriftHistory struct {
	ID         string   `bson:"_id"`
	Database   string   `bson:"database"`
	URL        string   `bson:"url"`
	Outcome    string   `bson:"outcome"` // scraped, skipped, error, no_content, no_existing_content
	Status     string   `bson:"status"`
	Similarity *float64 `bson:"similarity,omitempty"`
	LiveLength int      `bson:"live_length"`
	Timestamp  int64    `bson:"timestamp"`
	Error      string   `bson:"error_message,omitempty"`
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
