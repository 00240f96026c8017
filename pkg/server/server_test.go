package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/agent"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/config"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/gateway"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/observability"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/realtime"
)

func newUpstreamConn(t *testing.T) *realtime.Conn {
	t.Helper()
	upgrader := realtime.NewUpgrader([]string{"*"})
	server := make(chan *realtime.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := realtime.Accept(upgrader, w, r)
		require.NoError(t, err)
		server <- conn
	}))
	t.Cleanup(srv.Close)

	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })
	return <-server
}

func newTestServer(t *testing.T, origins []string) (*gateway.Manager, string) {
	t.Helper()
	registry := agent.NewRegistry("English")
	require.NoError(t, registry.RegisterRoot(agent.Definition{
		ID:            "Assistant_Concierge",
		Description:   "Routes callers",
		SystemMessage: "You route calls.",
	}))

	upstream := newUpstreamConn(t)
	manager := gateway.NewManager(registry, agent.NewDispatcher(registry, 0),
		gateway.WithDialer(func(context.Context) (*realtime.Conn, error) {
			return upstream, nil
		}))

	s := New(config.ServerConfig{FrontendOrigins: origins}, manager, observability.NoopManager())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return manager, srv.URL
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestServer_Health(t *testing.T) {
	_, url := newTestServer(t, []string{"*"})

	var body map[string]string
	resp := getJSON(t, url+"/health", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, map[string]string{"status": "ok"}, body)
}

func TestServer_Stats_EmptyIndex(t *testing.T) {
	_, url := newTestServer(t, []string{"*"})

	var stats gateway.Stats
	resp := getJSON(t, url+"/sessions/stats", &stats)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, stats.ActiveSessions)
	assert.Equal(t, 0, stats.UniqueSubjects)
}

func TestServer_Broadcast_NoSessions(t *testing.T) {
	_, url := newTestServer(t, []string{"*"})

	resp, err := http.Post(url+"/sessions/c42/broadcast", "application/json",
		strings.NewReader(`{"type":"notice","text":"hello"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "c42", body["subject_id"])
	assert.EqualValues(t, 0, body["delivered"])
}

func TestServer_Broadcast_InvalidBody(t *testing.T) {
	_, url := newTestServer(t, []string{"*"})

	resp, err := http.Post(url+"/sessions/c42/broadcast", "application/json",
		strings.NewReader("not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Metrics_UnavailableWhenDisabled(t *testing.T) {
	_, url := newTestServer(t, []string{"*"})

	resp, err := http.Get(url + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_Realtime_EstablishesSession(t *testing.T) {
	manager, url := newTestServer(t, []string{"*"})

	wsURL := "ws" + strings.TrimPrefix(url, "http") + "/realtime?customer_id=c42"
	browser, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer browser.Close()

	require.NoError(t, browser.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]any
	require.NoError(t, browser.ReadJSON(&frame))
	assert.Equal(t, "connection.established", frame["type"])

	stats := manager.Stats()
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.Equal(t, 1, stats.UniqueSubjects)
}

func TestServer_Realtime_RejectsForbiddenOrigin(t *testing.T) {
	_, url := newTestServer(t, []string{"https://app.example.com"})

	wsURL := "ws" + strings.TrimPrefix(url, "http") + "/realtime"
	header := http.Header{"Origin": []string{"https://evil.example.com"}}

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServer_Realtime_AllowsListedOrigin(t *testing.T) {
	_, url := newTestServer(t, []string{"https://app.example.com"})

	wsURL := "ws" + strings.TrimPrefix(url, "http") + "/realtime"
	header := http.Header{"Origin": []string{"https://app.example.com"}}

	browser, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer browser.Close()

	require.NoError(t, browser.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]any
	require.NoError(t, browser.ReadJSON(&frame))
	assert.Equal(t, "connection.established", frame["type"])
}

func TestServer_ManagerShutdownDrainsSessions(t *testing.T) {
	manager, url := newTestServer(t, []string{"*"})

	wsURL := "ws" + strings.TrimPrefix(url, "http") + "/realtime"
	browser, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer browser.Close()

	require.NoError(t, browser.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]any
	require.NoError(t, browser.ReadJSON(&frame))
	require.Equal(t, 1, manager.Stats().ActiveSessions)

	manager.Shutdown()
	assert.Equal(t, 0, manager.Stats().ActiveSessions)
}

func TestServer_Stop_BeforeStart(t *testing.T) {
	registry := agent.NewRegistry("English")
	manager := gateway.NewManager(registry, agent.NewDispatcher(registry, 0))
	s := New(config.ServerConfig{FrontendOrigins: []string{"*"}}, manager, observability.NoopManager())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
