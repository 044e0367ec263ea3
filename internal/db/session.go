package db

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"drift_spider/internal/models"
	urlqueue "drift_spider/internal/url_queue"
)

var ErrEmptyOrigin = errors.New("section has no origin link")

// Session is the single writer of one store file. It remembers every
// identity key and origin link seen so far, loaded or written.
type Session struct {
	path     string
	file     *os.File
	w        *bufio.Writer
	keys     map[string]bool
	urls     map[string]bool
	appended int
}

// OpenSession loads the keys already in path and opens it for appending,
// creating the parent directory when needed. Callers must Close it.
func OpenSession(path string) (*Session, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	keys, urls, err := LoadExistingKeys(path)
	if err != nil {
		return nil, fmt.Errorf("loading existing keys from %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s for append: %w", path, err)
	}

	slog.Debug("store session opened", slog.String("path", path), slog.Int("keys", len(keys)), slog.Int("urls", len(urls)))

	return &Session{
		path: path,
		file: f,
		w:    bufio.NewWriter(f),
		keys: keys,
		urls: urls,
	}, nil
}

func (s *Session) Path() string { return s.path }

// Appended is the number of lines written by this session.
func (s *Session) Appended() int { return s.appended }

// AppendIfNew writes sec unless a section with the same identity key is
// already stored. It reports whether a line was written.
func (s *Session) AppendIfNew(sec models.Section) (bool, error) {
	if sec.OriginLink == "" {
		return false, ErrEmptyOrigin
	}

	key := urlqueue.IdentityKey(sec.Content, sec.OriginLink)
	if s.keys[key] {
		return false, nil
	}

	line, err := sec.MarshalLine()
	if err != nil {
		return false, fmt.Errorf("encoding section: %w", err)
	}
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		return false, fmt.Errorf("appending to %s: %w", s.path, err)
	}

	s.keys[key] = true
	s.urls[urlqueue.NormalizeURL(sec.OriginLink)] = true
	s.appended++
	return true, nil
}

// SkipIfURLProcessed reports whether the source already has stored sections,
// in which case the whole document should be skipped.
func (s *Session) SkipIfURLProcessed(rawURL string) bool {
	return s.urls[urlqueue.NormalizeURL(rawURL)]
}

// Flush pushes buffered lines to the file.
func (s *Session) Flush() error {
	return s.w.Flush()
}

func (s *Session) Close() error {
	flushErr := s.w.Flush()
	closeErr := s.file.Close()
	if flushErr != nil {
		return fmt.Errorf("flushing %s: %w", s.path, flushErr)
	}
	return closeErr
}
