package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"drift_spider/internal/db"
	"drift_spider/internal/models"
)

const cacheSuffix = "_results.json"

func (a *SpiderApp) cachePath(database string) string {
	return filepath.Join(a.config.Storage.CacheDir, strings.TrimSuffix(database, db.Ext)+cacheSuffix)
}

// loadCache returns the stored batch results of a database. ok is false
// when the database has never completed a pass.
func (a *SpiderApp) loadCache(database string) (map[string]models.CacheEntry, bool, error) {
	data, err := os.ReadFile(a.cachePath(database))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	entries := make(map[string]models.CacheEntry)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, false, fmt.Errorf("decoding %s: %w", a.cachePath(database), err)
	}
	return entries, true, nil
}

func (a *SpiderApp) saveCache(database string, entries map[string]models.CacheEntry) error {
	if err := os.MkdirAll(a.config.Storage.CacheDir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	path := a.cachePath(database)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ClearCache drops the batch results of the given databases so the next
// batch run recomputes them.
func (a *SpiderApp) ClearCache(databases ...string) error {
	var errs []error
	for _, name := range databases {
		if err := os.Remove(a.cachePath(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
