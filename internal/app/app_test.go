package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"codesync/internal/config"
	"codesync/pkg/types"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func startApp(t *testing.T) (*Application, string) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "journal.db")

	app, err := NewApplication(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, app.StartHub(ctx))

	srv := httptest.NewServer(app.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = app.Stop(stopCtx)
	})
	return app, srv.URL
}

func dial(t *testing.T, baseURL string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(types.OutboundMessage{Event: event, Data: data}))
}

func next(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestApplication_CollaborationRoundTrip(t *testing.T) {
	req := require.New(t)
	_, baseURL := startApp(t)

	alice := dial(t, baseURL)
	bob := dial(t, baseURL)

	send(t, alice, types.EventJoin, types.JoinRequest{RoomID: "r1", Username: "alice"})
	f := next(t, alice)
	req.Equal(types.EventJoined, f.Event)

	send(t, bob, types.EventJoin, types.JoinRequest{RoomID: "r1", Username: "bob"})
	for _, conn := range []*websocket.Conn{alice, bob} {
		f = next(t, conn)
		req.Equal(types.EventJoined, f.Event)
		var joined types.JoinedEvent
		req.NoError(json.Unmarshal(f.Data, &joined))
		req.Equal("bob", joined.Username)
		req.Len(joined.Clients, 2)
	}

	send(t, alice, types.EventCodeChange, types.CodeChangeRequest{RoomID: "r1", Code: "print(1)"})
	f = next(t, bob)
	req.Equal(types.EventCodeChange, f.Event)
	var change types.CodeChangeEvent
	req.NoError(json.Unmarshal(f.Data, &change))
	req.Equal("print(1)", change.Code)

	resp, err := http.Get(baseURL + "/api/rooms")
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)
	var listing struct {
		Rooms []types.RoomSummary `json:"rooms"`
	}
	req.NoError(json.NewDecoder(resp.Body).Decode(&listing))
	req.Equal([]types.RoomSummary{{RoomID: "r1", Members: 2}}, listing.Rooms)

	req.NoError(bob.Close())

	// The sender never sees its own code-change, so the next frame for
	// alice is bob's departure.
	f = next(t, alice)
	req.Equal(types.EventDisconnected, f.Event)
	var gone types.DisconnectedEvent
	req.NoError(json.Unmarshal(f.Data, &gone))
	req.Equal("bob", gone.Username)
}

func TestApplication_ServeFailureReported(t *testing.T) {
	req := require.New(t)
	cfg := config.DefaultConfig()
	cfg.Database.Path = ""

	app, err := NewApplication(cfg, nil)
	req.NoError(err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	req.NoError(err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req.NoError(app.Serve(ctx, ln))

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	req.NoError(err)
	resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)

	// Losing the listener after startup must surface instead of leaving a
	// process that serves nothing.
	req.NoError(ln.Close())
	select {
	case err := <-app.Err():
		req.ErrorContains(err, "HTTP server error")
	case <-time.After(5 * time.Second):
		t.Fatal("serve failure was not reported")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	req.NoError(app.Stop(stopCtx))
}

func TestApplication_StartReportsBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := config.DefaultConfig()
	cfg.Database.Path = ""
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = ln.Addr().(*net.TCPAddr).Port

	app, err := NewApplication(cfg, nil)
	require.NoError(t, err)
	require.ErrorContains(t, app.Start(context.Background()), "HTTP listen")
}

func TestApplication_RejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HTTP.Port = 0

	_, err := NewApplication(cfg, nil)
	require.Error(t, err)
}

func TestApplication_JournalDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Database.Path = ""

	app, err := NewApplication(cfg, nil)
	require.NoError(t, err)
	require.Nil(t, app.journal)

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/rooms/r1/activity")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestNewLogger_Levels(t *testing.T) {
	var sb strings.Builder
	log := NewLogger(&config.LogConfig{Level: "warn", Format: "json"}, &sb)

	log.Info("hidden")
	log.Warn("shown")

	out := sb.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, `"msg":"shown"`)
}
