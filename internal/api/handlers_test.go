package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/relaychat/relay/internal/config"
	"github.com/relaychat/relay/internal/server"
	"github.com/relaychat/relay/internal/stats"
	"github.com/relaychat/relay/internal/testutil"
)

func newTestApp(t *testing.T, staticDir string) (*RelayApp, *server.RelayServer) {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Times(3)
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	logger := testutil.TestLogger(t)
	rs, err := server.NewRelayServer(logger, su, time.Minute)
	require.NoError(t, err)

	mux := http.NewServeMux()
	cfg := &config.Config{
		ServerAddr:      ":0",
		StaticDir:       staticDir,
		RoomGracePeriod: time.Minute,
	}

	return NewRelayApp(mux, logger, rs, cfg), rs
}

func TestHealth(t *testing.T) {
	app, _ := newTestApp(t, t.TempDir())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	app.srv.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 0, resp.Rooms)
	assert.Equal(t, 0, resp.Users)
	assert.WithinDuration(t, time.Now().UTC(), resp.Timestamp, time.Minute)
}

func TestSpaHandler(t *testing.T) {
	staticDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<html>app</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "app.js"), []byte("console.log(1)"), 0o644))

	app, _ := newTestApp(t, staticDir)

	tests := []struct {
		name     string
		path     string
		wantBody string
	}{
		{name: "existing asset is served", path: "/app.js", wantBody: "console.log(1)"},
		{name: "root serves index", path: "/", wantBody: "<html>app</html>"},
		{name: "client-side route falls back to index", path: "/rooms/42", wantBody: "<html>app</html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			app.srv.Handler.ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.wantBody, rec.Body.String())
		})
	}
}

type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ev wireEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestServeWs(t *testing.T) {
	app, rs := newTestApp(t, t.TempDir())
	go rs.Run()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, rs.Shutdown(ctx))
	}()

	ts := httptest.NewServer(app.srv.Handler)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	connA, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer connA.Close()

	require.NoError(t, connA.WriteJSON(map[string]any{
		"event": "joinRoom",
		"data":  map[string]any{"roomId": "r1", "user": map[string]string{"name": "Alice", "role": "host"}},
	}))

	ev := readEvent(t, connA)
	require.Equal(t, "roomData", ev.Event)
	var roomData struct {
		Room struct {
			ID       string `json:"id"`
			Users    []struct{ Name string }
			Messages []any
		} `json:"room"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &roomData))
	assert.Equal(t, "r1", roomData.Room.ID)
	require.Len(t, roomData.Room.Users, 1)
	assert.Empty(t, roomData.Room.Messages)

	connB, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer connB.Close()

	require.NoError(t, connB.WriteJSON(map[string]any{
		"event": "joinRoom",
		"data":  map[string]any{"roomId": "r1", "user": map[string]string{"name": "Bob"}},
	}))

	ev = readEvent(t, connA)
	require.Equal(t, "userJoined", ev.Event)
	var joined struct {
		User  struct{ Name string } `json:"user"`
		Users []any                 `json:"users"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &joined))
	assert.Equal(t, "Bob", joined.User.Name)
	assert.Len(t, joined.Users, 2)

	ev = readEvent(t, connB)
	require.Equal(t, "roomData", ev.Event)

	require.NoError(t, connA.WriteJSON(map[string]any{
		"event": "sendMessage",
		"data": map[string]any{
			"roomId":  "r1",
			"message": map[string]string{"text": "hi"},
			"user":    map[string]string{"id": "a", "name": "Alice", "role": "host"},
		},
	}))

	for _, conn := range []*websocket.Conn{connA, connB} {
		ev = readEvent(t, conn)
		require.Equal(t, "newMessage", ev.Event)
		var msg struct {
			Text string `json:"text"`
			User struct{ Name string } `json:"user"`
		}
		require.NoError(t, json.Unmarshal(ev.Data, &msg))
		assert.Equal(t, "hi", msg.Text)
		assert.Equal(t, "Alice", msg.User.Name)
	}

	// Bob disconnects; Alice is told who left
	require.NoError(t, connB.Close())

	ev = readEvent(t, connA)
	require.Equal(t, "userLeft", ev.Event)
	var leftData struct {
		UserID string `json:"userId"`
		Users  []any  `json:"users"`
	}
	require.NoError(t, json.Unmarshal(ev.Data, &leftData))
	assert.NotEmpty(t, leftData.UserID)
	assert.Len(t, leftData.Users, 1)
}

func TestServeWs_MalformedFrame(t *testing.T) {
	app, rs := newTestApp(t, t.TempDir())
	go rs.Run()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, rs.Shutdown(ctx))
	}()

	ts := httptest.NewServer(app.srv.Handler)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	ev := readEvent(t, conn)
	assert.Equal(t, "error", ev.Event)
}

func TestServeWs_OriginRejected(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Times(3)

	logger := testutil.TestLogger(t)
	rs, err := server.NewRelayServer(logger, su, time.Minute)
	require.NoError(t, err)

	mux := http.NewServeMux()
	cfg := &config.Config{
		ServerAddr:      ":0",
		StaticDir:       t.TempDir(),
		AllowedOrigins:  []string{"http://allowed.example"},
		RoomGracePeriod: time.Minute,
	}
	app := NewRelayApp(mux, logger, rs, cfg)

	ts := httptest.NewServer(app.srv.Handler)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	assert.Error(t, err, "expected handshake to fail for a disallowed origin")
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
}
