package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"codesync/pkg/types"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	require.Contains(t, out.String(), "codesync dev")
}

func TestFetchRooms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/rooms", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"rooms": []types.RoomSummary{{RoomID: "r1", Members: 3}},
		})
	}))
	defer srv.Close()

	rooms, err := fetchRooms(context.Background(), srv.Client(), srv.URL+"/")
	require.NoError(t, err)
	require.Equal(t, []types.RoomSummary{{RoomID: "r1", Members: 3}}, rooms)
}

func TestFetchRooms_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := fetchRooms(context.Background(), srv.Client(), srv.URL)
	require.ErrorContains(t, err, "503")
}

func TestPrintRooms(t *testing.T) {
	var out bytes.Buffer
	printRooms(&out, []types.RoomSummary{{RoomID: "alpha", Members: 2}})
	require.Contains(t, out.String(), "alpha")

	out.Reset()
	printRooms(&out, nil)
	require.Contains(t, out.String(), "No active rooms")
}

func TestLoadConfig_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("CODESYNC_HTTP_PORT=6123\n"), 0o600))
	t.Setenv("CODESYNC_HTTP_PORT", "")
	require.NoError(t, os.Unsetenv("CODESYNC_HTTP_PORT"))

	cfg, err := loadConfig(envFile, "")
	require.NoError(t, err)
	require.Equal(t, 6123, cfg.HTTP.Port)
}

func TestLoadConfig_MissingEnvFileIsIgnored(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.env"), "")
	require.NoError(t, err)
}

type fakeServer struct {
	errCh   chan error
	stopped bool
	stopErr error
}

func (f *fakeServer) Err() <-chan error { return f.errCh }

func (f *fakeServer) Stop(context.Context) error {
	f.stopped = true
	return f.stopErr
}

func TestSupervise_ServeFailureStopsAndReturns(t *testing.T) {
	srv := &fakeServer{errCh: make(chan error, 1)}
	boom := errors.New("listener lost")
	srv.errCh <- boom

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := supervise(ctx, srv)
	require.ErrorIs(t, err, boom)
	require.True(t, srv.stopped)
}

func TestSupervise_ContextCancelShutsDownCleanly(t *testing.T) {
	srv := &fakeServer{errCh: make(chan error, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, supervise(ctx, srv))
	require.True(t, srv.stopped)

	srv = &fakeServer{errCh: make(chan error, 1), stopErr: errors.New("drain timeout")}
	require.ErrorContains(t, supervise(ctx, srv), "shutdown error")
}
