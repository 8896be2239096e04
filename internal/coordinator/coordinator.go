// Package coordinator implements the Job Coordinator: it creates jobs,
// builds task lists from dataset metadata, assigns tasks to workers,
// collects partial results, merges, and resolves the submitter.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulpriyanshu/elytra/internal/catalog"
	"github.com/paulpriyanshu/elytra/internal/observability"
	"github.com/paulpriyanshu/elytra/internal/ops"
	"github.com/paulpriyanshu/elytra/internal/registry"
	"github.com/paulpriyanshu/elytra/internal/wire"
)

// ErrDatasetNotFound is returned by Submit when the datasetId has no
// catalog entry.
var ErrDatasetNotFound = errors.New("dataset not found")

// ErrNoWorkers is returned by Submit when the worker snapshot is empty.
var ErrNoWorkers = errors.New("no workers available")

// Result is delivered exactly once to a job's resolver channel: either the
// merged value, or the first downstream error.
type Result struct {
	Value any
	Err   error
}

// job is a single in-flight submission. Invariants: 0 <= Completed <=
// Expected; each Partials slot is written at most once; the job is removed
// from the registry's map before its resolver is signalled.
type job struct {
	ID           int64
	Ops          ops.Pipeline
	Partials     []json.RawMessage
	DispatchedAt []time.Time
	Expected     int
	Completed    int
	resolver     chan Result
}

// CatalogReader is the subset of the Dataset Catalog the coordinator needs.
type CatalogReader interface {
	Get(id string) (catalog.Metadata, error)
}

// WorkerSource is the subset of the Connection Registry the coordinator
// needs to fan tasks out to workers.
type WorkerSource interface {
	Workers() []*registry.Connection
}

// Coordinator creates jobs, dispatches tasks, and resolves results.
type Coordinator struct {
	mu        sync.Mutex
	jobs      map[int64]*job
	nextJobID atomic.Int64

	catalog CatalogReader
	workers WorkerSource
	metrics *observability.DomainMetrics
	log     *slog.Logger
}

// New creates a Coordinator wired to the given catalog and worker source. A
// nil metrics is safe; every DomainMetrics method no-ops on a nil receiver.
func New(cat CatalogReader, workers WorkerSource, metrics *observability.DomainMetrics, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}

	return &Coordinator{
		jobs:    make(map[int64]*job),
		catalog: cat,
		workers: workers,
		metrics: metrics,
		log:     log,
	}
}

// Submit resolves the dataset, snapshots workers, allocates a jobId, builds
// one task per row-group, registers the job, dispatches tasks round-robin
// by chunkId % len(workers), and returns a channel that receives exactly
// one Result.
func (c *Coordinator) Submit(datasetID string, pipeline ops.Pipeline) (<-chan Result, error) {
	meta, err := c.catalog.Get(datasetID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, ErrDatasetNotFound
		}

		return nil, fmt.Errorf("resolve dataset: %w", err)
	}

	workerSnapshot := c.workers.Workers()
	if len(workerSnapshot) == 0 {
		return nil, ErrNoWorkers
	}

	jobID := c.nextJobID.Add(1)

	j := &job{
		ID:           jobID,
		Ops:          pipeline,
		Partials:     make([]json.RawMessage, len(meta.RowGroups)),
		DispatchedAt: make([]time.Time, len(meta.RowGroups)),
		Expected:     len(meta.RowGroups),
		resolver:     make(chan Result, 1),
	}

	c.mu.Lock()
	c.jobs[jobID] = j
	c.mu.Unlock()

	c.metrics.RecordJobSubmitted(context.Background())

	c.dispatch(j, meta, workerSnapshot)

	return j.resolver, nil
}

// dispatch sends one task per row-group to the frozen worker snapshot,
// round-robin by chunkId % len(workers). Each send runs in its own
// goroutine so a single slow worker cannot delay dispatch to the rest.
func (c *Coordinator) dispatch(j *job, meta catalog.Metadata, workers []*registry.Connection) {
	for chunkID, rg := range meta.RowGroups {
		worker := workers[chunkID%len(workers)]
		task := wire.NewTask(j.ID, chunkID, rg.GroupID, meta.PublicURL, j.Ops)
		j.DispatchedAt[chunkID] = time.Now()

		go func(w *registry.Connection, t wire.Task) {
			err := w.Send(t)
			if err != nil {
				c.log.Warn("coordinator: task send failed", "jobId", j.ID, "chunkId", t.ChunkID, "workerId", w.ID, "error", err)
			}
		}(worker, task)
	}
}

// IngestResult implements router.Coordinator. A missing job means the
// result arrived after the job already resolved; it is dropped silently.
func (c *Coordinator) IngestResult(jobID int64, chunkID int, result json.RawMessage) {
	c.mu.Lock()

	j, ok := c.jobs[jobID]
	if !ok {
		c.mu.Unlock()

		return
	}

	if chunkID < 0 || chunkID >= len(j.Partials) {
		c.mu.Unlock()
		c.log.Warn("coordinator: dropping result with out-of-range chunkId", "jobId", jobID, "chunkId", chunkID)

		return
	}

	j.Partials[chunkID] = result
	j.Completed++

	done := j.Completed == j.Expected
	if done {
		delete(c.jobs, jobID)
	}

	c.mu.Unlock()

	if chunkID >= 0 && chunkID < len(j.DispatchedAt) && !j.DispatchedAt[chunkID].IsZero() {
		c.metrics.RecordChunkDuration(context.Background(), time.Since(j.DispatchedAt[chunkID]))
	}

	if !done {
		return
	}

	value, err := merge(j.Ops, j.Partials)
	j.resolver <- Result{Value: value, Err: err}
}

// IngestError implements router.Coordinator. The first downstream error on
// a job terminates it immediately; subsequent chunk_result messages for the
// same jobId are dropped by IngestResult's missing-job path.
func (c *Coordinator) IngestError(jobID int64, chunkID int, errMsg string) {
	c.mu.Lock()

	j, ok := c.jobs[jobID]
	if ok {
		delete(c.jobs, jobID)
	}

	c.mu.Unlock()

	if !ok {
		return
	}

	j.resolver <- Result{Err: fmt.Errorf("chunk %d: %s", chunkID, errMsg)}
}

// Inflight reports the number of jobs awaiting resolution. Used by metrics.
func (c *Coordinator) Inflight() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.jobs)
}
