package db

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"drift_spider/internal/models"
	urlqueue "drift_spider/internal/url_queue"
)

const previewLen = 100

type ReadResult struct {
	Records []models.Record
	Errors  []models.LineError
	Lines   int
}

// forEachLine calls fn with every non-blank line of path and its 1-based
// line number. A missing file is not an error.
func forEachLine(path string, fn func(lineNo int, line []byte) error) (int, error) {
	return forEachRawLine(path, func(lineNo int, line []byte) error {
		if len(line) == 0 {
			return nil
		}
		return fn(lineNo, line)
	})
}

// forEachRawLine is forEachLine without the blank line filter. Blank lines
// reach fn as an empty slice.
func forEachRawLine(path string, fn func(lineNo int, line []byte) error) (int, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	lineNo := 0
	for {
		line, readErr := r.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			if err := fn(lineNo, bytes.TrimSpace(line)); err != nil {
				return lineNo, err
			}
		}
		if readErr == io.EOF {
			return lineNo, nil
		}
		if readErr != nil {
			return lineNo, fmt.Errorf("reading %s: %w", path, readErr)
		}
	}
}

func decodeLine(lineNo int, line []byte) (models.Record, *models.LineError) {
	var rec models.Record
	err := json.Unmarshal(line, &rec)
	if err == nil {
		return rec, nil
	}

	lineErr := &models.LineError{
		Line:    lineNo,
		Offset:  -1,
		Message: err.Error(),
		Preview: preview(line),
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, models.ErrNotObject):
		lineErr.ErrorType = "not_object"
	case errors.As(err, &syntaxErr):
		lineErr.ErrorType = "syntax_error"
		lineErr.Offset = syntaxErr.Offset
	case errors.As(err, &typeErr):
		lineErr.ErrorType = "type_error"
		lineErr.Offset = typeErr.Offset
	default:
		lineErr.ErrorType = "decode_error"
	}
	return rec, lineErr
}

func preview(line []byte) string {
	if len(line) <= previewLen {
		return string(line)
	}
	return string(line[:previewLen]) + "..."
}

// ReadAll parses every line of a store file. Bad lines are reported in
// Errors and never stop the read.
func ReadAll(path string) (*ReadResult, error) {
	res := &ReadResult{
		Records: make([]models.Record, 0),
		Errors:  make([]models.LineError, 0),
	}

	lines, err := forEachLine(path, func(lineNo int, line []byte) error {
		rec, lineErr := decodeLine(lineNo, line)
		if lineErr != nil {
			res.Errors = append(res.Errors, *lineErr)
			return nil
		}
		res.Records = append(res.Records, rec)
		return nil
	})
	res.Lines = lines
	if err != nil {
		return res, err
	}
	return res, nil
}

// LoadExistingKeys returns the identity keys and normalized origin links
// already present in path. Unparsable lines are skipped.
func LoadExistingKeys(path string) (map[string]bool, map[string]bool, error) {
	keys := make(map[string]bool)
	urls := make(map[string]bool)

	_, err := forEachLine(path, func(lineNo int, line []byte) error {
		rec, lineErr := decodeLine(lineNo, line)
		if lineErr != nil {
			return nil
		}
		keys[urlqueue.IdentityKey(rec.Text(), rec.OriginLink)] = true
		if rec.OriginLink != "" {
			urls[urlqueue.NormalizeURL(rec.OriginLink)] = true
		}
		return nil
	})
	return keys, urls, err
}

// Repair writes records to <path>.repaired, one object per line, and returns
// the new path. The original file is left as is.
func Repair(path string, records []models.Record) (string, error) {
	out := path + ".repaired"
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", filepath.Dir(out), err)
	}

	f, err := os.Create(out)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", out, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, rec := range records {
		line, err := rec.MarshalJSON()
		if err != nil {
			return "", fmt.Errorf("encoding record: %w", err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("writing %s: %w", out, err)
	}
	return out, f.Close()
}

// CountLines returns the number of lines in path, 0 when it does not exist.
func CountLines(path string) (int, error) {
	return forEachLine(path, func(int, []byte) error { return nil })
}
