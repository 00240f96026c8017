package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/config"
)

func TestUpstreamURL_ComposesQuery(t *testing.T) {
	cfg := config.UpstreamConfig{
		Endpoint:   "https://example.openai.azure.com",
		APIVersion: "2024-10-01-preview",
		Deployment: "gpt-4o-realtime-preview",
	}

	target, err := UpstreamURL(cfg)
	require.NoError(t, err)
	assert.Equal(t, "wss://example.openai.azure.com/openai/realtime?api-version=2024-10-01-preview&deployment=gpt-4o-realtime-preview", target)
}

func TestUpstreamURL_PlainHTTPBecomesWS(t *testing.T) {
	cfg := config.UpstreamConfig{
		Endpoint:   "http://localhost:9000/some/base",
		APIVersion: "v1",
		Deployment: "d1",
	}

	target, err := UpstreamURL(cfg)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:9000/openai/realtime?api-version=v1&deployment=d1", target)
}

func TestUpstreamURL_RejectsUnknownScheme(t *testing.T) {
	_, err := UpstreamURL(config.UpstreamConfig{Endpoint: "ftp://example.com"})
	assert.Error(t, err)
}

func TestDial_SendsAuthHeaders(t *testing.T) {
	upgrader := NewUpgrader([]string{"*"})
	var gotAuth, gotRequestID, gotUserAgent string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("x-client-request-id")
		gotUserAgent = r.Header.Get("x-useragent")
		assert.Equal(t, "/openai/realtime", r.URL.Path)
		assert.Equal(t, "2024-10-01-preview", r.URL.Query().Get("api-version"))
		assert.Equal(t, "gpt-4o-mini-realtime", r.URL.Query().Get("deployment"))

		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created"}`)))
	}))
	defer server.Close()

	cfg := config.UpstreamConfig{
		Endpoint:   server.URL,
		APIVersion: "2024-10-01-preview",
		Deployment: "gpt-4o-mini-realtime",
	}

	conn, err := Dial(context.Background(), cfg, "tok-123")
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.NotEmpty(t, gotRequestID)
	assert.Equal(t, userAgent, gotUserAgent)

	data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"session.created"}`, string(data))
}

func TestDial_AuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := Dial(context.Background(), config.UpstreamConfig{Endpoint: server.URL}, "bad")
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestDial_ForbiddenIsAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := Dial(context.Background(), config.UpstreamConfig{Endpoint: server.URL}, "bad")
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestDial_HandshakeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := Dial(context.Background(), config.UpstreamConfig{Endpoint: server.URL}, "tok")
	assert.ErrorIs(t, err, ErrHandshakeFailed)
	assert.NotErrorIs(t, err, ErrAuthFailed)
}

func TestConn_ReadMessageSkipsBinary(t *testing.T) {
	upgrader := NewUpgrader([]string{"*"})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()
		require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}))
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"noted"}`)))
	}))
	defer server.Close()

	conn, err := Dial(context.Background(), config.UpstreamConfig{Endpoint: server.URL}, "tok")
	require.NoError(t, err)
	defer conn.Close()

	data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"noted"}`, string(data))
}

func TestConn_ConcurrentWritersDoNotInterleave(t *testing.T) {
	upgrader := NewUpgrader([]string{"*"})
	received := make(chan []byte, 20)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()
		for i := 0; i < 20; i++ {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			received <- data
		}
	}))
	defer server.Close()

	conn, err := Dial(context.Background(), config.UpstreamConfig{Endpoint: server.URL}, "tok")
	require.NoError(t, err)
	defer conn.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, conn.WriteJSON(map[string]any{"n": n}))
		}(i)
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		data := <-received
		assert.Contains(t, string(data), `"n":`)
	}
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	upgrader := NewUpgrader([]string{"*"})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		ws.ReadMessage()
	}))
	defer server.Close()

	conn, err := Dial(context.Background(), config.UpstreamConfig{Endpoint: server.URL}, "tok")
	require.NoError(t, err)

	require.NoError(t, conn.CloseWithStatus(websocket.ClosePolicyViolation, "protocol violations"))
	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
}

func TestNewUpgrader_OriginCheck(t *testing.T) {
	upgrader := NewUpgrader([]string{"https://app.example.com"})

	allowed := httptest.NewRequest(http.MethodGet, "/realtime", nil)
	allowed.Header.Set("Origin", "https://app.example.com")
	assert.True(t, upgrader.CheckOrigin(allowed))

	denied := httptest.NewRequest(http.MethodGet, "/realtime", nil)
	denied.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, upgrader.CheckOrigin(denied))

	headless := httptest.NewRequest(http.MethodGet, "/realtime", nil)
	assert.True(t, upgrader.CheckOrigin(headless))

	wildcard := NewUpgrader([]string{"*"})
	assert.True(t, wildcard.CheckOrigin(denied))
}
