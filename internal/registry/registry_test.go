package registry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// dialPair spins up an httptest server that accepts exactly one websocket
// connection into reg under role, and returns the client-side dial plus a
// teardown func.
func dialPair(t *testing.T, reg *Registry, role Role) (*websocket.Conn, func()) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		reg.Accept(conn, role, false)
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	return client, func() {
		client.Close()
		srv.Close()
	}
}

func TestRegistry_AcceptClassifiesByRole(t *testing.T) {
	t.Parallel()

	reg := New(DefaultLivenessPeriod, nil)

	_, teardownWorker := dialPair(t, reg, RoleWorker)
	defer teardownWorker()

	_, teardownObserver := dialPair(t, reg, RoleObserver)
	defer teardownObserver()

	waitFor(t, func() bool { return len(reg.Workers()) == 1 && len(reg.Observers()) == 1 })

	assert.Len(t, reg.Workers(), 1)
	assert.Len(t, reg.Observers(), 1)
}

func TestRegistry_Drop(t *testing.T) {
	t.Parallel()

	reg := New(DefaultLivenessPeriod, nil)

	_, teardown := dialPair(t, reg, RoleWorker)
	defer teardown()

	waitFor(t, func() bool { return len(reg.Workers()) == 1 })

	handle := reg.Workers()[0]
	reg.Drop(handle)

	assert.Empty(t, reg.Workers())
}

func TestRegistry_Broadcast(t *testing.T) {
	t.Parallel()

	reg := New(DefaultLivenessPeriod, nil)

	client, teardown := dialPair(t, reg, RoleObserver)
	defer teardown()

	waitFor(t, func() bool { return len(reg.Observers()) == 1 })

	reg.Broadcast(map[string]string{"type": "worker_progress", "status": "A"})

	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "\"status\":\"A\"")
}

func TestRegistry_WorkersSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	reg := New(DefaultLivenessPeriod, nil)

	_, teardown := dialPair(t, reg, RoleWorker)
	defer teardown()

	waitFor(t, func() bool { return len(reg.Workers()) == 1 })

	snapshot := reg.Workers()

	_, teardown2 := dialPair(t, reg, RoleWorker)
	defer teardown2()

	waitFor(t, func() bool { return len(reg.Workers()) == 2 })

	assert.Len(t, snapshot, 1, "snapshot taken before the second accept must not grow")
}

// waitFor polls cond until it's true or a short timeout elapses, since
// Accept runs in the server handler goroutine asynchronously to the dial.
func waitFor(t *testing.T, cond func() bool) {
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
