// Package reaper runs the periodic sweep that evicts datasets whose age
// exceeds a configured maximum, reclaiming their on-disk mirror.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/paulpriyanshu/elytra/internal/catalog"
	"github.com/paulpriyanshu/elytra/internal/observability"
)

// DefaultSweepPeriod is the interval between sweeps (spec: 30 minutes).
const DefaultSweepPeriod = 30 * time.Minute

// DefaultMaxAge is the maximum dataset age before eviction (spec: 2 hours).
const DefaultMaxAge = 2 * time.Hour

// Catalog is the subset of the Dataset Catalog the Reaper sweeps.
type Catalog interface {
	List() []catalog.Summary
	DirSize(id string) int64
	EvictOlderThan(maxAge time.Duration) []string
}

// Reaper periodically evicts expired datasets.
type Reaper struct {
	catalog     Catalog
	sweepPeriod time.Duration
	maxAge      time.Duration
	metrics     *observability.DomainMetrics
	log         *slog.Logger
}

// New creates a Reaper. A zero sweepPeriod or maxAge falls back to the
// package defaults. A nil logger falls back to slog.Default.
func New(cat Catalog, sweepPeriod, maxAge time.Duration, metrics *observability.DomainMetrics, log *slog.Logger) *Reaper {
	if sweepPeriod <= 0 {
		sweepPeriod = DefaultSweepPeriod
	}

	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	if log == nil {
		log = slog.Default()
	}

	return &Reaper{
		catalog:     cat,
		sweepPeriod: sweepPeriod,
		maxAge:      maxAge,
		metrics:     metrics,
		log:         log,
	}
}

// Run blocks, sweeping on a ticker until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.sweepPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce(ctx)
		}
	}
}

// sweepOnce estimates reclaimed bytes for every dataset about to expire,
// then delegates the actual eviction decision and deletion to the Catalog.
func (r *Reaper) sweepOnce(ctx context.Context) {
	cutoff := time.Now().Add(-r.maxAge).UnixMilli()

	var reclaimable int64

	for _, summary := range r.catalog.List() {
		if summary.Timestamp < cutoff {
			reclaimable += r.catalog.DirSize(summary.ID)
		}
	}

	evicted := r.catalog.EvictOlderThan(r.maxAge)
	if len(evicted) == 0 {
		return
	}

	r.metrics.RecordDatasetsEvicted(ctx, len(evicted))

	r.log.Info("reaper: evicted expired datasets",
		"count", len(evicted),
		"datasetIds", evicted,
		"reclaimed", humanize.Bytes(uint64(reclaimable)), //nolint:gosec // reclaimable is a non-negative byte sum
	)
}
