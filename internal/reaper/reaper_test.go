package reaper_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	noopmetric "go.opentelemetry.io/otel/metric/noop"

	"github.com/paulpriyanshu/elytra/internal/catalog"
	"github.com/paulpriyanshu/elytra/internal/observability"
	"github.com/paulpriyanshu/elytra/internal/reaper"
)

type fakeCatalog struct {
	summaries   []catalog.Summary
	dirSizes    map[string]int64
	evictedIDs  []string
	evictCalled int
}

func (f *fakeCatalog) List() []catalog.Summary { return f.summaries }

func (f *fakeCatalog) DirSize(id string) int64 { return f.dirSizes[id] }

func (f *fakeCatalog) EvictOlderThan(time.Duration) []string {
	f.evictCalled++

	return f.evictedIDs
}

func newTestMetrics(t *testing.T) *observability.DomainMetrics {
	t.Helper()

	dm, err := observability.NewDomainMetrics(noopmetric.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	return dm
}

func TestReaper_SweepEvictsAndRecordsMetric(t *testing.T) {
	t.Parallel()

	cat := &fakeCatalog{
		summaries: []catalog.Summary{
			{ID: "old", Timestamp: time.Now().Add(-3 * time.Hour).UnixMilli()},
			{ID: "fresh", Timestamp: time.Now().UnixMilli()},
		},
		dirSizes:   map[string]int64{"old": 1024},
		evictedIDs: []string{"old"},
	}

	r := reaper.New(cat, 10*time.Millisecond, 2*time.Hour, newTestMetrics(t), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	r.Run(ctx)

	assert.Positive(t, cat.evictCalled)
}

func TestReaper_NoExpiredDatasets_StillSweepsWithoutPanicking(t *testing.T) {
	t.Parallel()

	cat := &fakeCatalog{
		summaries: []catalog.Summary{
			{ID: "fresh", Timestamp: time.Now().UnixMilli()},
		},
	}

	r := reaper.New(cat, 10*time.Millisecond, 2*time.Hour, newTestMetrics(t), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	r.Run(ctx)

	assert.Positive(t, cat.evictCalled)
}

func TestReaper_DefaultsAppliedWhenZero(t *testing.T) {
	t.Parallel()

	cat := &fakeCatalog{}
	r := reaper.New(cat, 0, 0, newTestMetrics(t), nil)

	require.NotNil(t, r)
}

func TestReaper_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	cat := &fakeCatalog{}
	r := reaper.New(cat, time.Hour, time.Hour, newTestMetrics(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})

	go func() {
		r.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
