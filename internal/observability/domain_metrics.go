package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

const (
	metricDatasetsRegistered = "elytra.datasets.registered.total"
	metricDatasetsEvicted    = "elytra.datasets.evicted.total"
	metricJobsSubmitted      = "elytra.jobs.submitted.total"
	metricJobsFailed         = "elytra.jobs.failed.total"
	metricChunkDuration      = "elytra.chunk.duration.seconds"
	metricWorkersConnected   = "elytra.workers.connected"
)

// DomainMetrics holds OTel instruments for Elytra-specific control-plane
// metrics: dataset lifecycle, job outcomes, and worker connection counts.
type DomainMetrics struct {
	datasetsRegistered metric.Int64Counter
	datasetsEvicted    metric.Int64Counter
	jobsSubmitted      metric.Int64Counter
	jobsFailed         metric.Int64Counter
	chunkDuration      metric.Float64Histogram
	workersConnected   metric.Int64UpDownCounter
}

// NewDomainMetrics creates domain metric instruments from the given meter.
func NewDomainMetrics(mt metric.Meter) (*DomainMetrics, error) {
	b := newMetricBuilder(mt)

	dm := &DomainMetrics{
		datasetsRegistered: b.counter(metricDatasetsRegistered, "Total datasets registered", "{dataset}"),
		datasetsEvicted:    b.counter(metricDatasetsEvicted, "Total datasets evicted by the reaper", "{dataset}"),
		jobsSubmitted:      b.counter(metricJobsSubmitted, "Total jobs submitted", "{job}"),
		jobsFailed:         b.counter(metricJobsFailed, "Total jobs that resolved with an error", "{job}"),
		chunkDuration:      b.histogram(metricChunkDuration, "Per-chunk processing duration in seconds", "s", durationBucketBoundaries...),
		workersConnected:   b.upDownCounter(metricWorkersConnected, "Number of connected worker sockets", "{worker}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return dm, nil
}

// RecordDatasetRegistered is a no-op-safe counter increment for Register.
func (dm *DomainMetrics) RecordDatasetRegistered(ctx context.Context) {
	if dm == nil {
		return
	}

	dm.datasetsRegistered.Add(ctx, 1)
}

// RecordDatasetsEvicted records a batch of reaper evictions.
func (dm *DomainMetrics) RecordDatasetsEvicted(ctx context.Context, n int) {
	if dm == nil || n == 0 {
		return
	}

	dm.datasetsEvicted.Add(ctx, int64(n))
}

// RecordJobSubmitted records a job entering the coordinator.
func (dm *DomainMetrics) RecordJobSubmitted(ctx context.Context) {
	if dm == nil {
		return
	}

	dm.jobsSubmitted.Add(ctx, 1)
}

// RecordJobFailed records a job resolving with an error.
func (dm *DomainMetrics) RecordJobFailed(ctx context.Context) {
	if dm == nil {
		return
	}

	dm.jobsFailed.Add(ctx, 1)
}

// RecordChunkDuration records how long a chunk took to report back.
func (dm *DomainMetrics) RecordChunkDuration(ctx context.Context, d time.Duration) {
	if dm == nil {
		return
	}

	dm.chunkDuration.Record(ctx, d.Seconds())
}

// SetWorkersConnected adjusts the connected-worker gauge by delta.
func (dm *DomainMetrics) SetWorkersConnected(ctx context.Context, delta int64) {
	if dm == nil {
		return
	}

	dm.workersConnected.Add(ctx, delta)
}
