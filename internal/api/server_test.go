package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-node/internal/supervisor"
)

type fakeStatus struct {
	mu        sync.Mutex
	connected bool
	broker    supervisor.BrokerConfig
	delay     time.Duration
	attempts  int
	last      time.Time
}

func (f *fakeStatus) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeStatus) State() supervisor.State {
	if f.IsConnected() {
		return supervisor.StateConnected
	}
	return supervisor.StateDisconnected
}

func (f *fakeStatus) Broker() supervisor.BrokerConfig { return f.broker }
func (f *fakeStatus) Delay() time.Duration            { return f.delay }
func (f *fakeStatus) Attempts() int                   { return f.attempts }
func (f *fakeStatus) LastAttempt() time.Time          { return f.last }

func (f *fakeStatus) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func testServer(t *testing.T, status StatusSource, metrics http.Handler) (*Server, *httptest.Server) {
	t.Helper()
	return testServerWithChecks(t, status, metrics, nil)
}

func testServerWithChecks(t *testing.T, status StatusSource, metrics http.Handler, checks map[string]HealthChecker) (*Server, *httptest.Server) {
	t.Helper()

	log := logging.Nop()
	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:  log,
		Status:  status,
		Metrics: metrics,
		Checks:  checks,
		Version: "test",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(ctx)

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{Status: &fakeStatus{}})
	assert.Error(t, err)

	_, err = New(Deps{Logger: logging.Nop()})
	assert.Error(t, err)
}

func TestHealthz(t *testing.T) {
	status := &fakeStatus{}
	_, ts := testServer(t, status, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	status.setConnected(true)

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatus(t *testing.T) {
	last := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	status := &fakeStatus{
		connected: false,
		broker: supervisor.BrokerConfig{
			Server:   "10.0.0.5",
			Port:     1883,
			LWTTopic: "dev/status",
		},
		delay:    4 * time.Second,
		attempts: 2,
		last:     last,
	}
	_, ts := testServer(t, status, nil)

	resp, err := http.Get(ts.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var body StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.Connected)
	assert.Equal(t, "disconnected", body.State)
	assert.Equal(t, "10.0.0.5:1883", body.Broker)
	assert.Equal(t, "dev/status", body.LWTTopic)
	assert.Equal(t, int64(4000), body.DelayMS)
	assert.Equal(t, 2, body.Attempts)
	assert.Equal(t, "2024-05-01T12:00:00Z", body.LastAttempt)
	assert.Equal(t, "test", body.Version)
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("graylogic_node_mqtt_connected 1\n"))
	})

	_, ts := testServer(t, &fakeStatus{}, metrics)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsRoute_Absent(t *testing.T) {
	_, ts := testServer(t, &fakeStatus{}, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_StartClose(t *testing.T) {
	srv, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS:     config.WebSocketConfig{PingInterval: 30, PongTimeout: 10},
		Logger: logging.Nop(),
		Status: &fakeStatus{},
	})
	require.NoError(t, err)

	assert.NoError(t, srv.Close(), "close before start")
	require.NoError(t, srv.Start(context.Background()))
	assert.NoError(t, srv.Close())
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg Frame
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocket_ConnectionEvents(t *testing.T) {
	srv, ts := testServer(t, &fakeStatus{}, nil)
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(Frame{
		Type:    FrameSubscribe,
		ID:      "1",
		Payload: ChannelsPayload{Channels: []string{ChannelConnection}},
	}))
	ack := readMessage(t, conn)
	assert.Equal(t, FrameResponse, ack.Type)
	assert.Equal(t, "1", ack.ID)

	snap := readMessage(t, conn)
	assert.Equal(t, FrameEvent, snap.Type)
	assert.Equal(t, ChannelConnection, snap.EventType)
	assert.Equal(t, map[string]any{"state": "disconnected"}, snap.Payload)

	// Not subscribed: must not be delivered.
	srv.Hub().Published("dev/temp")
	srv.Hub().Disconnected(errors.New("connection refused"))

	msg := readMessage(t, conn)
	assert.Equal(t, FrameEvent, msg.Type)
	assert.Equal(t, ChannelConnection, msg.EventType)

	payload, ok := msg.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "disconnected", payload["state"])
	assert.Equal(t, "connection refused", payload["error"])
}

func TestWebSocket_Ping(t *testing.T) {
	_, ts := testServer(t, &fakeStatus{}, nil)
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(Frame{Type: FramePing, ID: "p1"}))

	msg := readMessage(t, conn)
	assert.Equal(t, FramePong, msg.Type)
	assert.Equal(t, "p1", msg.ID)
}

func TestWebSocket_UnknownType(t *testing.T) {
	_, ts := testServer(t, &fakeStatus{}, nil)
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(Frame{Type: "bogus", ID: "x"}))

	msg := readMessage(t, conn)
	assert.Equal(t, FrameError, msg.Type)
}

func TestHub_ClientCount(t *testing.T) {
	srv, ts := testServer(t, &fakeStatus{}, nil)
	_ = dialWS(t, ts)

	assert.Eventually(t, func() bool {
		return srv.Hub().ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_SnapshotFollowsLastState(t *testing.T) {
	srv, ts := testServer(t, &fakeStatus{}, nil)
	srv.Hub().Disconnected(errors.New("broker gone"))
	srv.Hub().Connected()

	conn := dialWS(t, ts)
	require.NoError(t, conn.WriteJSON(Frame{
		Type:    FrameSubscribe,
		ID:      "s",
		Payload: ChannelsPayload{Channels: []string{ChannelAttempt, ChannelConnection}},
	}))

	assert.Equal(t, FrameResponse, readMessage(t, conn).Type)

	snap := readMessage(t, conn)
	assert.Equal(t, ChannelConnection, snap.EventType)
	assert.Equal(t, map[string]any{"state": "connected"}, snap.Payload)
}

func TestWebSocket_NoSnapshotForOtherChannels(t *testing.T) {
	srv, ts := testServer(t, &fakeStatus{}, nil)
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(Frame{
		Type:    FrameSubscribe,
		Payload: ChannelsPayload{Channels: []string{ChannelPublish}},
	}))
	assert.Equal(t, FrameResponse, readMessage(t, conn).Type)

	srv.Hub().Published("dev/status")

	msg := readMessage(t, conn)
	assert.Equal(t, ChannelPublish, msg.EventType)
}

func TestWebSocket_UnknownChannelRejected(t *testing.T) {
	srv, ts := testServer(t, &fakeStatus{}, nil)
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(Frame{
		Type:    FrameSubscribe,
		ID:      "u",
		Payload: ChannelsPayload{Channels: []string{ChannelPublish, "devices.*"}},
	}))

	msg := readMessage(t, conn)
	assert.Equal(t, FrameError, msg.Type)
	assert.Equal(t, "u", msg.ID)
	payload, ok := msg.Payload.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, payload["message"], "devices.*")

	// The known channel in the rejected request was not subscribed either.
	srv.Hub().Published("dev/status")
	require.NoError(t, conn.WriteJSON(Frame{Type: FramePing, ID: "after"}))
	assert.Equal(t, FramePong, readMessage(t, conn).Type)
}

func TestWebSocket_EmptySubscribe(t *testing.T) {
	_, ts := testServer(t, &fakeStatus{}, nil)
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(Frame{Type: FrameSubscribe, ID: "e", Payload: ChannelsPayload{}}))

	msg := readMessage(t, conn)
	assert.Equal(t, FrameError, msg.Type)
	assert.Equal(t, "e", msg.ID)
}

type fakeCheck struct{ err error }

func (f fakeCheck) HealthCheck(context.Context) error { return f.err }

func TestHealth_Checks(t *testing.T) {
	_, ts := testServerWithChecks(t, &fakeStatus{}, nil, map[string]HealthChecker{
		"influxdb": fakeCheck{},
	})

	resp, err := http.Get(ts.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, map[string]string{"influxdb": "ok"}, body.Checks)
}

func TestHealth_FailingCheck(t *testing.T) {
	_, ts := testServerWithChecks(t, &fakeStatus{}, nil, map[string]HealthChecker{
		"influxdb": fakeCheck{err: errors.New("ping: server not ready")},
	})

	resp, err := http.Get(ts.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ping: server not ready", body.Checks["influxdb"])
}
