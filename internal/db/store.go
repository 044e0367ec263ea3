package db

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"drift_spider/internal/models"
	urlqueue "drift_spider/internal/url_queue"
)

const Ext = ".jsonl"

var (
	ErrUnknownDatabase = errors.New("unknown database")
	ErrInvalidName     = errors.New("invalid database name")
	ErrSameDatabase    = errors.New("source and target database are the same")
)

// Store is a directory of JSONL databases, one file per database.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string { return s.dir }

// Path maps a database name (with or without the extension) to its file.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, strings.TrimSuffix(name, Ext)+Ext)
}

func ValidateName(name string) error {
	base := strings.TrimSuffix(name, Ext)
	if base == "" || base == "." || base == ".." || strings.ContainsAny(base, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// List returns database names, without extension, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), Ext))
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) Exists(name string) bool {
	info, err := os.Stat(s.Path(name))
	return err == nil && !info.IsDir()
}

// Require fails with ErrUnknownDatabase when name has no file.
func (s *Store) Require(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if !s.Exists(name) {
		return fmt.Errorf("%w: %s", ErrUnknownDatabase, name)
	}
	return nil
}

func (s *Store) OpenSession(name string) (*Session, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return OpenSession(s.Path(name))
}

func (s *Store) ReadAll(name string) (*ReadResult, error) {
	return ReadAll(s.Path(name))
}

// Stream calls fn once for every line of a database in file order. ok is
// false for blank lines and lines that do not decode. An error from fn
// stops the walk and is returned as is.
func (s *Store) Stream(name string, fn func(lineNo int, rec models.Record, ok bool) error) (int, error) {
	return forEachRawLine(s.Path(name), func(lineNo int, line []byte) error {
		if len(line) == 0 {
			return fn(lineNo, models.Record{}, false)
		}
		rec, lineErr := decodeLine(lineNo, line)
		return fn(lineNo, rec, lineErr == nil)
	})
}

// Rewrite writes a new database dst from src, passing every record through
// fn. Lines that do not decode are copied unchanged and blank lines are
// dropped. dst is replaced only once the whole file has been written; an
// error from fn aborts the rewrite and leaves dst as it was. It returns the
// number of records passed to fn.
func (s *Store) Rewrite(src, dst string, fn func(lineNo int, rec models.Record) (models.Section, error)) (int, error) {
	if err := s.Require(src); err != nil {
		return 0, err
	}
	if err := ValidateName(dst); err != nil {
		return 0, err
	}
	if s.Path(src) == s.Path(dst) {
		return 0, fmt.Errorf("%w: %s", ErrSameDatabase, src)
	}

	tmp, err := os.CreateTemp(s.dir, strings.TrimSuffix(dst, Ext)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("creating temp file for %s: %w", dst, err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	w := bufio.NewWriter(tmp)
	records := 0
	_, err = forEachLine(s.Path(src), func(lineNo int, line []byte) error {
		rec, lineErr := decodeLine(lineNo, line)
		if lineErr == nil {
			records++
			sec, err := fn(lineNo, rec)
			if err != nil {
				return err
			}
			if line, err = sec.MarshalLine(); err != nil {
				return fmt.Errorf("encoding line %d: %w", lineNo, err)
			}
		}
		w.Write(line)
		return w.WriteByte('\n')
	})
	if err != nil {
		return records, err
	}

	if err := w.Flush(); err != nil {
		return records, fmt.Errorf("writing %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return records, err
	}
	if err := os.Rename(tmp.Name(), s.Path(dst)); err != nil {
		return records, fmt.Errorf("replacing %s: %w", dst, err)
	}
	return records, nil
}

// Delete removes whole databases. Missing ones are reported.
func (s *Store) Delete(names ...string) error {
	var errs []error
	for _, name := range names {
		if err := s.Require(name); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(s.Path(name)); err != nil {
			errs = append(errs, fmt.Errorf("deleting %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// resolve returns the given names, or every database when none are given.
func (s *Store) resolve(names []string) ([]string, error) {
	if len(names) > 0 {
		return names, nil
	}
	return s.List()
}

// FindMatching returns the databases holding at least one record whose
// origin is the same source as rawURL.
func (s *Store) FindMatching(rawURL string) ([]string, error) {
	names, err := s.List()
	if err != nil {
		return nil, err
	}

	target := urlqueue.NormalizeURL(rawURL)
	matches := make([]string, 0)
	for _, name := range names {
		found := false
		_, err := forEachLine(s.Path(name), func(lineNo int, line []byte) error {
			rec, lineErr := decodeLine(lineNo, line)
			if lineErr == nil && urlqueue.NormalizeURL(rec.OriginLink) == target {
				found = true
				return errStop
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStop) {
			return nil, err
		}
		if found {
			matches = append(matches, name)
		}
	}
	return matches, nil
}

var errStop = errors.New("stop")

// LoadSections returns the records of rawURL from the named databases, or
// from all of them.
func (s *Store) LoadSections(rawURL string, names ...string) ([]models.Record, error) {
	names, err := s.resolve(names)
	if err != nil {
		return nil, err
	}

	target := urlqueue.NormalizeURL(rawURL)
	records := make([]models.Record, 0)
	for _, name := range names {
		_, err := forEachLine(s.Path(name), func(lineNo int, line []byte) error {
			rec, lineErr := decodeLine(lineNo, line)
			if lineErr == nil && urlqueue.NormalizeURL(rec.OriginLink) == target {
				records = append(records, rec)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return records, nil
}

// StoredText joins the stored content of rawURL with single spaces.
func (s *Store) StoredText(rawURL string, names ...string) (string, error) {
	records, err := s.LoadSections(rawURL, names...)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(records))
	for _, rec := range records {
		parts = append(parts, rec.Text())
	}
	return strings.Join(parts, " "), nil
}

// AllURLs lists every distinct origin link across the store, sorted.
func (s *Store) AllURLs() ([]string, error) {
	names, err := s.List()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, name := range names {
		_, err := forEachLine(s.Path(name), func(lineNo int, line []byte) error {
			rec, lineErr := decodeLine(lineNo, line)
			if lineErr == nil && rec.OriginLink != "" {
				seen[rec.OriginLink] = true
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	urls := make([]string, 0, len(seen))
	for u := range seen {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls, nil
}

type DBStats struct {
	Name      string
	Path      string
	SizeBytes int64
	Lines     int
	Records   int
	Errors    int
	URLs      int
	Preview   []string
}

// Stats summarizes one database, including its first few lines.
func (s *Store) Stats(name string, previewLines int) (*DBStats, error) {
	if err := s.Require(name); err != nil {
		return nil, err
	}
	path := s.Path(name)

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	st := &DBStats{Name: strings.TrimSuffix(name, Ext), Path: path, SizeBytes: info.Size()}
	urls := make(map[string]bool)
	lines, err := forEachLine(path, func(lineNo int, line []byte) error {
		if len(st.Preview) < previewLines {
			st.Preview = append(st.Preview, preview(line))
		}
		rec, lineErr := decodeLine(lineNo, line)
		if lineErr != nil {
			st.Errors++
			return nil
		}
		st.Records++
		if rec.OriginLink != "" {
			urls[urlqueue.NormalizeURL(rec.OriginLink)] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	st.Lines = lines
	st.URLs = len(urls)
	return st, nil
}
