package handlers

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/vulnscan/internal/notify"
)

const wsTimeout = 2 * time.Second

func newWebSocketServer(t *testing.T, hub *notify.Hub) *httptest.Server {
	t.Helper()
	h := NewWebSocketHandler(hub, WebSocketConfig{}, nil)

	router := mux.NewRouter()
	router.HandleFunc("/ws/dashboard", h.DashboardWebSocket)
	router.HandleFunc("/ws/{id}", h.ScanWebSocket)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) notify.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wsTimeout)))
	var ev notify.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestWebSocket_ScanTopic(t *testing.T) {
	hub := notify.NewHub()
	defer hub.Close()
	srv := newWebSocketServer(t, hub)
	topic := notify.JobTopic("abc")

	conn := dial(t, srv, "/ws/abc")

	first := readEvent(t, conn)
	assert.Equal(t, notify.EventConnected, first.Type)
	assert.Equal(t, "Connected to job:abc", first.Message)

	require.Eventually(t, func() bool { return hub.SubscriberCount(topic) == 1 }, wsTimeout, 5*time.Millisecond)

	hub.Publish(topic, notify.ProgressEvent("abc", 40, notify.PhasePortScan, "Scanning ports"))
	ev := readEvent(t, conn)
	assert.Equal(t, notify.EventScanUpdate, ev.Type)
	assert.Equal(t, "abc", ev.ScanID)

	// Events for other jobs are not delivered.
	hub.Publish(notify.JobTopic("other"), notify.AbortedEvent("other"))
	hub.Publish(topic, notify.AbortedEvent("abc"))
	ev = readEvent(t, conn)
	assert.Equal(t, notify.EventScanAborted, ev.Type)
	assert.Equal(t, "abc", ev.ScanID)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.SubscriberCount(topic) == 0 }, wsTimeout, 5*time.Millisecond)
}

func TestWebSocket_PingPong(t *testing.T) {
	hub := notify.NewHub()
	defer hub.Close()
	srv := newWebSocketServer(t, hub)

	conn := dial(t, srv, "/ws/dashboard")
	defer conn.Close()
	readEvent(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe"}))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))

	ev := readEvent(t, conn)
	assert.Equal(t, notify.EventPong, ev.Type)
}

func TestWebSocket_DashboardReceivesCompletions(t *testing.T) {
	hub := notify.NewHub()
	defer hub.Close()
	srv := newWebSocketServer(t, hub)

	conn := dial(t, srv, "/ws/dashboard")
	defer conn.Close()
	readEvent(t, conn)
	require.Eventually(t, func() bool { return hub.SubscriberCount(notify.DashboardTopic) == 1 }, wsTimeout, 5*time.Millisecond)

	hub.BroadcastCompletion("j1", notify.Summary{TargetIP: "10.0.0.1", Status: "completed"})

	ev := readEvent(t, conn)
	assert.Equal(t, notify.EventDashboardUpdate, ev.Type)
	assert.Equal(t, "j1", ev.ScanID)
	assert.Equal(t, string(notify.EventScanCompleted), ev.Event)
}

func TestWebSocket_HubCloseEndsConnection(t *testing.T) {
	hub := notify.NewHub()
	srv := newWebSocketServer(t, hub)

	conn := dial(t, srv, "/ws/abc")
	defer conn.Close()
	readEvent(t, conn)
	require.Eventually(t, func() bool { return hub.SubscriberCount(notify.JobTopic("abc")) == 1 }, wsTimeout, 5*time.Millisecond)

	hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wsTimeout)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestWebSocket_RejectedAfterHubClose(t *testing.T) {
	hub := notify.NewHub()
	hub.Close()
	srv := newWebSocketServer(t, hub)

	conn := dial(t, srv, "/ws/dashboard")
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wsTimeout)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)
}
