// Package catalog implements the Dataset Catalog: an in-memory map of
// dataset-id to dataset metadata, mirrored durably on local disk.
package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"github.com/paulpriyanshu/elytra/pkg/persist"
)

// Format is the columnar format of every dataset this control plane serves.
// It is a constant, never negotiated: the worker runtime is the only party
// that interprets the file bytes.
const Format = "parquet"

const metaBasename = "meta"

const dirPerm = 0o750

// ErrNotFound is returned when a datasetId has no catalog entry.
var ErrNotFound = errors.New("dataset not found")

// RowGroup is one contiguous slice of rows in the columnar artifact.
type RowGroup struct {
	GroupID  int `json:"groupId"`
	RowCount int `json:"rowCount"`
}

// Metadata is a dataset's catalog entry. Created once at registration, never
// mutated, destroyed on explicit delete or age-based eviction.
type Metadata struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Timestamp     int64      `json:"timestamp"`
	StorageKey    string     `json:"storageKey"`
	StorageBucket string     `json:"storageBucket"`
	PublicURL     string     `json:"publicUrl"`
	RowGroups     []RowGroup `json:"rowGroups"`
}

// Summary is the projection of Metadata returned by List.
type Summary struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Timestamp     int64  `json:"timestamp"`
	RowGroupCount int    `json:"rowGroupCount"`
	Format        string `json:"format"`
}

// Catalog holds the in-memory dataset map and its on-disk mirror root. A
// single mutex guards the map; disk I/O always happens outside the lock.
type Catalog struct {
	mu       sync.RWMutex
	root     string
	datasets map[string]Metadata
	codec    persist.Codec
	log      *slog.Logger
	now      func() time.Time
}

// New creates a Catalog rooted at dir. The directory is created if absent.
func New(dir string, log *slog.Logger) (*Catalog, error) {
	err := os.MkdirAll(dir, dirPerm)
	if err != nil {
		return nil, fmt.Errorf("create catalog root: %w", err)
	}

	if log == nil {
		log = slog.Default()
	}

	return &Catalog{
		root:     dir,
		datasets: make(map[string]Metadata),
		codec:    persist.NewJSONCodec(),
		log:      log,
		now:      time.Now,
	}, nil
}

// Register assigns a fresh datasetId, persists the metadata atomically under
// {root}/{datasetId}/meta.json, and installs it in memory.
func (c *Catalog) Register(name, storageKey, bucket string, rowGroups []RowGroup) (string, error) {
	id, err := newDatasetID()
	if err != nil {
		return "", fmt.Errorf("generate dataset id: %w", err)
	}

	meta := Metadata{
		ID:            id,
		Name:          name,
		Timestamp:     c.now().UnixMilli(),
		StorageKey:    storageKey,
		StorageBucket: bucket,
		PublicURL:     "",
		RowGroups:     rowGroups,
	}

	dir := c.datasetDir(id)

	err = os.MkdirAll(dir, dirPerm)
	if err != nil {
		return "", fmt.Errorf("create dataset dir: %w", err)
	}

	err = persist.SaveState(dir, metaBasename, c.codec, &meta)
	if err != nil {
		return "", fmt.Errorf("write dataset metadata: %w", err)
	}

	c.mu.Lock()
	c.datasets[id] = meta
	c.mu.Unlock()

	return id, nil
}

// Get returns the metadata for id, or ErrNotFound.
func (c *Catalog) Get(id string) (Metadata, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	meta, ok := c.datasets[id]
	if !ok {
		return Metadata{}, ErrNotFound
	}

	return meta, nil
}

// List returns a summary of every dataset currently in the catalog.
func (c *Catalog) List() []Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summaries := make([]Summary, 0, len(c.datasets))
	for _, meta := range c.datasets {
		summaries = append(summaries, Summary{
			ID:            meta.ID,
			Name:          meta.Name,
			Timestamp:     meta.Timestamp,
			RowGroupCount: len(meta.RowGroups),
			Format:        Format,
		})
	}

	return summaries
}

// Delete removes the in-memory entry then best-effort removes its directory.
// Disk failures are logged, not propagated: a caller that wants the entry
// gone has already gotten that, in memory, by the time this returns.
func (c *Catalog) Delete(id string) error {
	c.mu.Lock()
	_, ok := c.datasets[id]
	delete(c.datasets, id)
	c.mu.Unlock()

	if !ok {
		return ErrNotFound
	}

	err := os.RemoveAll(c.datasetDir(id))
	if err != nil {
		c.log.Warn("catalog: failed to remove dataset directory", "datasetId", id, "error", err)
	}

	return nil
}

// RestoreFromDisk scans {root}/*/meta.json at startup and loads every
// parseable entry. Unparseable entries are skipped with a warning and never
// partially loaded.
func (c *Catalog) RestoreFromDisk() error {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return fmt.Errorf("read catalog root: %w", err)
	}

	restored := make(map[string]Metadata, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		id := entry.Name()
		dir := c.datasetDir(id)

		var meta Metadata

		loadErr := persist.LoadState(dir, metaBasename, c.codec, &meta)
		if loadErr != nil {
			c.log.Warn("catalog: skipping unparseable dataset entry", "datasetId", id, "error", loadErr)

			continue
		}

		restored[id] = meta
	}

	c.mu.Lock()
	c.datasets = restored
	c.mu.Unlock()

	return nil
}

// EvictOlderThan deletes every dataset whose Timestamp is older than
// maxAge relative to now, returning the ids removed. Used by the Reaper.
func (c *Catalog) EvictOlderThan(maxAge time.Duration) []string {
	cutoff := c.now().Add(-maxAge).UnixMilli()

	c.mu.RLock()

	var expired []string

	for id, meta := range c.datasets {
		if meta.Timestamp < cutoff {
			expired = append(expired, id)
		}
	}

	c.mu.RUnlock()

	for _, id := range expired {
		err := c.Delete(id)
		if err != nil {
			c.log.Warn("catalog: reaper failed to delete expired dataset", "datasetId", id, "error", err)
		}
	}

	return expired
}

func (c *Catalog) datasetDir(id string) string {
	return filepath.Join(c.root, id)
}

// DirSize returns the total size in bytes of the on-disk mirror for id, or
// 0 if it cannot be measured. Used by the Reaper to log reclaimed space
// before eviction.
func (c *Catalog) DirSize(id string) int64 {
	var total int64

	walkErr := filepath.WalkDir(c.datasetDir(id), func(_ string, entry os.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return nil //nolint:nilerr // best-effort size estimate, walk errors are not fatal
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			return nil
		}

		total += info.Size()

		return nil
	})
	if walkErr != nil {
		return 0
	}

	return total
}

func newDatasetID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}

	return id.String()[:12], nil
}
