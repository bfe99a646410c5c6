package server

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/rankpulse/pulse/execution"
)

func (f *fixture) dial(t *testing.T, origin string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return f.srv.Hub().ClientCount() >= 1 },
		time.Second, 5*time.Millisecond, "client registered")
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) RunEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev RunEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestWebSocketStreamsRunLifecycle(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "http://localhost:3000")

	code, raw := f.do(t, http.MethodPost, "/api/runs", TriggerRunRequest{TenantID: "acme", JobType: "rank-check"})
	require.Equal(t, http.StatusAccepted, code, string(raw))
	runID := decode[TriggerRunResponse](t, raw).RunID

	ev := readEvent(t, conn)
	assert.Equal(t, EventRunStarted, ev.Type)
	assert.Equal(t, runID, ev.RunID)
	require.NotNil(t, ev.Run)
	assert.Equal(t, execution.StatusRunning, ev.Run.Status)

	ev = readEvent(t, conn)
	assert.Equal(t, EventRunProgress, ev.Type)
	require.NotNil(t, ev.Progress)
	assert.Equal(t, execution.Progress{Processed: 1, Total: 2}, *ev.Progress)
	assert.Equal(t, 50, ev.Percentage)

	close(f.release)

	ev = readEvent(t, conn)
	assert.Equal(t, EventRunProgress, ev.Type)
	assert.Equal(t, 100, ev.Percentage)

	ev = readEvent(t, conn)
	assert.Equal(t, EventRunFinished, ev.Type)
	require.NotNil(t, ev.Run)
	assert.Equal(t, execution.StatusCompleted, ev.Run.Status)
}

func TestWebSocketStopIsBroadcast(t *testing.T) {
	f := newFixture(t)
	defer close(f.release)
	conn := f.dial(t, "")

	code, raw := f.do(t, http.MethodPost, "/api/runs", TriggerRunRequest{TenantID: "acme", JobType: "rank-check"})
	require.Equal(t, http.StatusAccepted, code, string(raw))
	runID := decode[TriggerRunResponse](t, raw).RunID

	assert.Equal(t, EventRunStarted, readEvent(t, conn).Type)
	assert.Equal(t, EventRunProgress, readEvent(t, conn).Type)

	code, _ = f.do(t, http.MethodPost, "/api/runs/"+runID+"/stop", nil)
	require.Equal(t, http.StatusOK, code)

	ev := readEvent(t, conn)
	assert.Equal(t, EventRunFinished, ev.Type)
	require.NotNil(t, ev.Run)
	assert.Equal(t, execution.StatusStopped, ev.Run.Status)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	f := newFixture(t)
	defer close(f.release)

	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, f.srv.Hub().ClientCount())
}

func TestWebSocketDisconnectUnregisters(t *testing.T) {
	f := newFixture(t)
	defer close(f.release)

	conn := f.dial(t, "")
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return f.srv.Hub().ClientCount() == 0 },
		time.Second, 5*time.Millisecond)
}

func TestBroadcastSkipsFullQueues(t *testing.T) {
	hub := NewHub(nil, zaptest.NewLogger(t).Sugar())
	client := &Client{hub: hub, send: make(chan interface{}, 1), id: "c1"}
	hub.clients[client] = true

	hub.BroadcastRunProgress("r1", "fetching_rankings", execution.Progress{Processed: 1, Total: 4})
	hub.BroadcastRunProgress("r1", "fetching_rankings", execution.Progress{Processed: 2, Total: 4})

	assert.Len(t, client.send, 1)
	assert.Equal(t, int64(1), hub.Drops())

	ev := (<-client.send).(RunEvent)
	assert.Equal(t, 25, ev.Percentage)
}

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"http://localhost", "https://dash.example.com"}

	assert.True(t, originAllowed("", allowed), "no origin header")
	assert.True(t, originAllowed("http://localhost:5173", allowed))
	assert.True(t, originAllowed("https://dash.example.com", allowed))
	assert.False(t, originAllowed("https://evil.example", allowed))

	// Without configuration only localhost is admitted
	assert.True(t, originAllowed("https://localhost:8443", nil))
	assert.False(t, originAllowed("http://127.0.0.1:8787", nil))
}
