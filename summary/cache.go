// Package summary maintains the natural-language summaries used to pick a
// graph database for a query: the persisted cache, the builder that asks the
// chat model for a summary, and a scheduler that refreshes them.
package summary

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/brunobiangulo/kgsearch/metrics"
)

// Entry is one cached summary.
type Entry struct {
	Database string `json:"database"`
	Summary  string `json:"summary"`
}

// Cache is an insertion-ordered map of database name to summary, persisted
// as a flat JSON object whose key order is the insertion order. Every update
// rewrites the whole file.
type Cache struct {
	path string

	mu      sync.RWMutex
	loaded  bool
	entries []Entry
	index   map[string]int
}

// NewCache returns a cache backed by path. Nothing is read until first use.
// An empty path keeps the cache in memory only.
func NewCache(path string) *Cache {
	return &Cache{path: path, index: make(map[string]int)}
}

// Load reads the file, replacing the in-memory contents. A missing file
// yields an empty cache.
func (c *Cache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked()
}

func (c *Cache) loadLocked() error {
	c.entries = nil
	c.index = make(map[string]int)
	c.loaded = true
	if c.path == "" {
		return nil
	}

	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading summary cache: %w", err)
	}
	entries, err := decodeOrdered(data)
	if err != nil {
		return fmt.Errorf("decoding summary cache %s: %w", c.path, err)
	}
	for _, e := range entries {
		c.setLocked(e.Database, e.Summary)
	}
	metrics.CachedSummaries.Set(float64(len(c.entries)))
	return nil
}

func (c *Cache) ensureLoaded() error {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return nil
	}
	return c.loadLocked()
}

// Entries returns a copy of the cache in insertion order, loading the file
// on first use.
func (c *Cache) Entries() ([]Entry, error) {
	if err := c.ensureLoaded(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out, nil
}

// Get returns the summary of database.
func (c *Cache) Get(database string) (string, bool, error) {
	if err := c.ensureLoaded(); err != nil {
		return "", false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[database]
	if !ok {
		return "", false, nil
	}
	return c.entries[i].Summary, true, nil
}

// Set stores the summary of database, keeping its original position when it
// was already cached, and persists the whole cache.
func (c *Cache) Set(database, summary string) error {
	if err := c.ensureLoaded(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	next := slices.Clone(c.entries)
	if i, ok := c.index[database]; ok {
		next[i].Summary = summary
	} else {
		next = append(next, Entry{Database: database, Summary: summary})
	}
	if err := c.persist(next); err != nil {
		return err
	}
	c.replaceLocked(next)
	return nil
}

// Delete drops database from the cache and persists the result.
func (c *Cache) Delete(database string) (bool, error) {
	if err := c.ensureLoaded(); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[database]
	if !ok {
		return false, nil
	}
	next := slices.Delete(slices.Clone(c.entries), i, i+1)
	if err := c.persist(next); err != nil {
		return false, err
	}
	c.replaceLocked(next)
	return true, nil
}

// replaceLocked swaps in entries once they are on disk.
func (c *Cache) replaceLocked(entries []Entry) {
	c.entries = entries
	c.index = make(map[string]int, len(entries))
	for i, e := range entries {
		c.index[e.Database] = i
	}
	metrics.CachedSummaries.Set(float64(len(entries)))
}

func (c *Cache) setLocked(database, summary string) {
	if i, ok := c.index[database]; ok {
		c.entries[i].Summary = summary
		return
	}
	c.index[database] = len(c.entries)
	c.entries = append(c.entries, Entry{Database: database, Summary: summary})
}

// persist writes entries to a temp file and renames it over the cache file
// so readers never observe a partial write.
func (c *Cache) persist(entries []Entry) error {
	if c.path == "" {
		return nil
	}
	data, err := encodeOrdered(entries)
	if err != nil {
		return err
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating summary cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".summaries-*.json")
	if err != nil {
		return fmt.Errorf("writing summary cache: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing summary cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing summary cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("replacing summary cache: %w", err)
	}
	return nil
}

func encodeOrdered(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("{")
	for i, e := range entries {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n  ")
		k, err := json.Marshal(e.Database)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Summary)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteString(": ")
		buf.Write(v)
	}
	if len(entries) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

// decodeOrdered reads a flat JSON object of strings, keeping key order.
func decodeOrdered(data []byte) ([]Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}
	var entries []Entry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected key, got %v", tok)
		}
		var summary string
		if err := dec.Decode(&summary); err != nil {
			return nil, fmt.Errorf("summary for %q: %w", key, err)
		}
		entries = append(entries, Entry{Database: key, Summary: summary})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return entries, nil
}
