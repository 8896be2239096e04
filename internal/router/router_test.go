package router

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

	"github.com/paulpriyanshu/elytra/internal/registry"
)

type fakeCoordinator struct {
	results []chunkResultCall
	errors  []chunkErrorCall
}

type chunkResultCall struct {
	jobID   int64
	chunkID int
	result  json.RawMessage
}

type chunkErrorCall struct {
	jobID   int64
	chunkID int
	errMsg  string
}

func (f *fakeCoordinator) IngestResult(jobID int64, chunkID int, result json.RawMessage) {
	f.results = append(f.results, chunkResultCall{jobID, chunkID, result})
}

func (f *fakeCoordinator) IngestError(jobID int64, chunkID int, errMsg string) {
	f.errors = append(f.errors, chunkErrorCall{jobID, chunkID, errMsg})
}

var upgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}

func newHarness(t *testing.T) (*websocket.Conn, *registry.Connection, *Router, *fakeCoordinator) {
	t.Helper()

	reg := registry.New(registry.DefaultLivenessPeriod, nil)

	accepted := make(chan *registry.Connection, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		accepted <- reg.Accept(conn, registry.RoleWorker, false)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	var serverSide *registry.Connection

	select {
	case serverSide = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept")
	}

	coord := &fakeCoordinator{}
	rt := New(coord, reg, nil)

	return client, serverSide, rt, coord
}

func TestRouter_DispatchesChunkResult(t *testing.T) {
	t.Parallel()

	client, serverConn, rt, coord := newHarness(t)

	go rt.Pump(serverConn)

	err := client.WriteJSON(map[string]any{
		"type": "chunk_result", "jobId": 1, "chunkId": 2, "result": 42,
	})
	require.NoError(t, err)

	waitUntil(t, func() bool { return len(coord.results) == 1 })

	assert.Equal(t, int64(1), coord.results[0].jobID)
	assert.Equal(t, 2, coord.results[0].chunkID)
}

func TestRouter_DispatchesChunkError(t *testing.T) {
	t.Parallel()

	client, serverConn, rt, coord := newHarness(t)

	go rt.Pump(serverConn)

	err := client.WriteJSON(map[string]any{
		"type": "chunk_error", "jobId": 5, "chunkId": 1, "error": "boom",
	})
	require.NoError(t, err)

	waitUntil(t, func() bool { return len(coord.errors) == 1 })

	assert.Equal(t, int64(5), coord.errors[0].jobID)
	assert.Equal(t, "boom", coord.errors[0].errMsg)
}

func TestRouter_BroadcastsWorkerProgressToObservers(t *testing.T) {
	t.Parallel()

	reg := registry.New(registry.DefaultLivenessPeriod, nil)

	obsAccepted := make(chan struct{}, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		role := registry.RoleWorker
		if r.URL.Query().Get("role") == "observer" {
			role = registry.RoleObserver
		}

		reg.Accept(conn, role, false)

		if role == registry.RoleObserver {
			obsAccepted <- struct{}{}
		}
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	observer, _, err := websocket.DefaultDialer.Dial(wsURL+"?role=observer", nil)
	require.NoError(t, err)
	t.Cleanup(func() { observer.Close() })

	<-obsAccepted

	coord := &fakeCoordinator{}
	rt := New(coord, reg, nil)

	// Send worker_progress directly through dispatch rather than opening a
	// second connection; Pump and dispatch share the same code path.
	rt.dispatch(json.RawMessage(`{"type":"worker_progress","jobId":1,"chunkId":0,"status":"A"}`))

	_, data, err := observer.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "\"status\":\"A\"")
}

func TestRouter_DropsUnknownKind(t *testing.T) {
	t.Parallel()

	_, _, rt, coord := newHarness(t)

	rt.dispatch(json.RawMessage(`{"type":"mystery"}`))

	assert.Empty(t, coord.results)
	assert.Empty(t, coord.errors)
}

func TestRouter_DropsMalformedFrame(t *testing.T) {
	t.Parallel()

	_, _, rt, coord := newHarness(t)

	rt.dispatch(json.RawMessage(`not json at all`))

	assert.Empty(t, coord.results)
	assert.Empty(t, coord.errors)
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

	require.True(t, cond(), "condition did not become true in time")
}
