package coordinator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulpriyanshu/elytra/internal/catalog"
	"github.com/paulpriyanshu/elytra/internal/ops"
	"github.com/paulpriyanshu/elytra/internal/registry"
)

type fakeCatalog struct {
	meta catalog.Metadata
	err  error
}

func (f *fakeCatalog) Get(string) (catalog.Metadata, error) {
	return f.meta, f.err
}

var upgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}

// workerHarness connects n worker clients into reg and returns the
// client-side connections so a test can read the tasks dispatched to them.
func workerHarness(t *testing.T, reg *registry.Registry, n int) []*websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		reg.Accept(conn, registry.RoleWorker, false)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	clients := make([]*websocket.Conn, n)

	for i := range n {
		client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)

		t.Cleanup(func() { client.Close() })

		clients[i] = client
	}

	waitUntil(t, func() bool { return len(reg.Workers()) == n })

	return clients
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)

	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	require.True(t, cond())
}

func threeRowGroupDataset() catalog.Metadata {
	return catalog.Metadata{
		ID:   "ds1",
		Name: "ds",
		RowGroups: []catalog.RowGroup{
			{GroupID: 0, RowCount: 10},
			{GroupID: 1, RowCount: 10},
			{GroupID: 2, RowCount: 10},
		},
	}
}

func TestCoordinator_CountFanOut(t *testing.T) {
	t.Parallel()

	reg := registry.New(registry.DefaultLivenessPeriod, nil)
	workerHarness(t, reg, 3)

	coord := New(&fakeCatalog{meta: threeRowGroupDataset()}, reg, nil, nil)

	resultCh, err := coord.Submit("ds1", ops.Pipeline{{Kind: ops.KindCount}})
	require.NoError(t, err)

	coord.IngestResult(1, 0, json.RawMessage(`3`))
	coord.IngestResult(1, 1, json.RawMessage(`7`))
	coord.IngestResult(1, 2, json.RawMessage(`5`))

	res := <-resultCh
	require.NoError(t, res.Err)
	assert.InDelta(t, float64(15), res.Value, 0.0001)
	assert.Equal(t, 0, coord.Inflight())
}

func TestCoordinator_ReduceOutOfOrder(t *testing.T) {
	t.Parallel()

	reg := registry.New(registry.DefaultLivenessPeriod, nil)
	workerHarness(t, reg, 3)

	coord := New(&fakeCatalog{meta: threeRowGroupDataset()}, reg, nil, nil)

	pipeline := ops.Pipeline{{Kind: ops.KindReduce, Fn: "(a,b)=>a-b", Initial: json.RawMessage(`100`)}}

	resultCh, err := coord.Submit("ds1", pipeline)
	require.NoError(t, err)

	coord.IngestResult(1, 2, json.RawMessage(`5`))
	coord.IngestResult(1, 0, json.RawMessage(`10`))
	coord.IngestResult(1, 1, json.RawMessage(`20`))

	res := <-resultCh
	require.NoError(t, res.Err)
	assert.InDelta(t, float64(65), res.Value, 0.0001)
}

func TestCoordinator_ConcatDefault(t *testing.T) {
	t.Parallel()

	reg := registry.New(registry.DefaultLivenessPeriod, nil)
	workerHarness(t, reg, 3)

	coord := New(&fakeCatalog{meta: threeRowGroupDataset()}, reg, nil, nil)

	pipeline := ops.Pipeline{{Kind: ops.KindMap, Fn: "x=>x"}}

	resultCh, err := coord.Submit("ds1", pipeline)
	require.NoError(t, err)

	coord.IngestResult(1, 0, json.RawMessage(`[1,2]`))
	coord.IngestResult(1, 1, json.RawMessage(`[3]`))
	coord.IngestResult(1, 2, json.RawMessage(`[4,5]`))

	res := <-resultCh
	require.NoError(t, res.Err)

	flat, ok := res.Value.([]json.RawMessage)
	require.True(t, ok)
	require.Len(t, flat, 5)

	for i, want := range []string{"1", "2", "3", "4", "5"} {
		assert.Equal(t, want, string(flat[i]))
	}
}

func TestCoordinator_NoWorkers(t *testing.T) {
	t.Parallel()

	reg := registry.New(registry.DefaultLivenessPeriod, nil)

	coord := New(&fakeCatalog{meta: threeRowGroupDataset()}, reg, nil, nil)

	_, err := coord.Submit("ds1", ops.Pipeline{{Kind: ops.KindCount}})
	require.ErrorIs(t, err, ErrNoWorkers)
}

func TestCoordinator_UnknownDataset(t *testing.T) {
	t.Parallel()

	reg := registry.New(registry.DefaultLivenessPeriod, nil)
	workerHarness(t, reg, 1)

	coord := New(&fakeCatalog{err: catalog.ErrNotFound}, reg, nil, nil)

	_, err := coord.Submit("missing", ops.Pipeline{{Kind: ops.KindCount}})
	require.ErrorIs(t, err, ErrDatasetNotFound)
}

func TestCoordinator_WorkerErrorAbortsJob(t *testing.T) {
	t.Parallel()

	reg := registry.New(registry.DefaultLivenessPeriod, nil)
	workerHarness(t, reg, 3)

	coord := New(&fakeCatalog{meta: threeRowGroupDataset()}, reg, nil, nil)

	resultCh, err := coord.Submit("ds1", ops.Pipeline{{Kind: ops.KindCount}})
	require.NoError(t, err)

	coord.IngestError(1, 1, "worker exploded")

	res := <-resultCh
	require.Error(t, res.Err)
	assert.Equal(t, 0, coord.Inflight())

	// A late chunk_result for the same job must be dropped silently, not panic.
	coord.IngestResult(1, 0, json.RawMessage(`3`))
	assert.Equal(t, 0, coord.Inflight())
}

func TestCoordinator_DispatchReachesWorkers(t *testing.T) {
	t.Parallel()

	reg := registry.New(registry.DefaultLivenessPeriod, nil)
	clients := workerHarness(t, reg, 3)

	coord := New(&fakeCatalog{meta: threeRowGroupDataset()}, reg, nil, nil)

	_, err := coord.Submit("ds1", ops.Pipeline{{Kind: ops.KindCount}})
	require.NoError(t, err)

	for _, client := range clients {
		client.SetReadDeadline(time.Now().Add(2 * time.Second))

		var task map[string]any

		readErr := client.ReadJSON(&task)
		require.NoError(t, readErr)
		assert.Equal(t, "execute_chunk", task["type"])
	}
}
