package router

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"codesync/internal/metrics"
	"codesync/pkg/types"
)

type fakeSender struct {
	mu     sync.Mutex
	frames map[string][][]byte
	fail   map[string]error
}

func newFakeSender() *fakeSender {
	return &fakeSender{frames: make(map[string][][]byte), fail: make(map[string]error)}
}

func (f *fakeSender) Send(socketID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fail[socketID]; ok {
		return err
	}
	f.frames[socketID] = append(f.frames[socketID], data)
	return nil
}

func (f *fakeSender) received(socketID string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames[socketID]
}

func TestNewRouter_RequiresSender(t *testing.T) {
	_, err := NewRouter(nil, nil, nil)
	require.ErrorIs(t, err, ErrNilSender)
}

func TestRouter_BroadcastExcludesSender(t *testing.T) {
	req := require.New(t)

	// Given three room members
	sender := newFakeSender()
	r, err := NewRouter(sender, nil, nil)
	req.NoError(err)

	// When s1 broadcasts a code change
	n := r.Broadcast([]string{"s1", "s2", "s3"}, "s1", types.EventCodeChange, types.CodeChangeEvent{Code: "x=1"})

	// Then everyone but s1 receives the same frame
	req.Equal(2, n)
	req.Empty(sender.received("s1"))
	req.Len(sender.received("s2"), 1)
	req.Len(sender.received("s3"), 1)
	req.Equal(sender.received("s2")[0], sender.received("s3")[0])

	var msg struct {
		Event string                `json:"event"`
		Data  types.CodeChangeEvent `json:"data"`
	}
	req.NoError(json.Unmarshal(sender.received("s2")[0], &msg))
	req.Equal(types.EventCodeChange, msg.Event)
	req.Equal("x=1", msg.Data.Code)
}

func TestRouter_BroadcastWithoutExclusionReachesEveryone(t *testing.T) {
	sender := newFakeSender()
	r, err := NewRouter(sender, nil, nil)
	require.NoError(t, err)

	n := r.Broadcast([]string{"s1", "s2"}, "", types.EventJoined, types.JoinedEvent{SocketID: "s1", Username: "alice"})

	require.Equal(t, 2, n)
	require.Len(t, sender.received("s1"), 1)
	require.Len(t, sender.received("s2"), 1)
}

func TestRouter_BroadcastContinuesPastFailures(t *testing.T) {
	req := require.New(t)

	// Given one recipient whose queue is full
	sender := newFakeSender()
	sender.fail["s2"] = errors.New("buffer full")
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r, err := NewRouter(sender, m, nil)
	req.NoError(err)

	// When broadcasting to the room
	n := r.Broadcast([]string{"s1", "s2", "s3"}, "", types.EventCodeChange, types.CodeChangeEvent{Code: "y"})

	// Then the other recipients still receive it
	req.Equal(2, n)
	req.Len(sender.received("s1"), 1)
	req.Len(sender.received("s3"), 1)
	count, err := testutil.GatherAndCount(reg, "codesync_delivery_failures_total")
	req.NoError(err)
	req.Equal(1, count)
}

func TestRouter_BroadcastToNobody(t *testing.T) {
	sender := newFakeSender()
	r, err := NewRouter(sender, nil, nil)
	require.NoError(t, err)

	require.Zero(t, r.Broadcast(nil, "", types.EventJoined, nil))
	require.Zero(t, r.Broadcast([]string{"s1"}, "s1", types.EventCodeChange, types.CodeChangeEvent{}))
	require.Empty(t, sender.received("s1"))
}

func TestRouter_BroadcastUnencodablePayload(t *testing.T) {
	sender := newFakeSender()
	r, err := NewRouter(sender, nil, nil)
	require.NoError(t, err)

	n := r.Broadcast([]string{"s1"}, "", types.EventCodeChange, make(chan int))
	require.Zero(t, n)
	require.Empty(t, sender.received("s1"))
}

func TestRouter_Direct(t *testing.T) {
	req := require.New(t)
	sender := newFakeSender()
	r, err := NewRouter(sender, nil, nil)
	req.NoError(err)

	req.NoError(r.Direct("s2", types.EventCodeChange, types.CodeChangeEvent{Code: "synced"}))
	req.Len(sender.received("s2"), 1)
	req.JSONEq(`{"event":"code-change","data":{"code":"synced"}}`, string(sender.received("s2")[0]))

	req.ErrorIs(r.Direct("", types.EventCodeChange, nil), ErrEmptyRecipient)

	boom := errors.New("gone")
	sender.fail["s9"] = boom
	req.ErrorIs(r.Direct("s9", types.EventCodeChange, types.CodeChangeEvent{}), boom)

	_, err = encode(types.EventCodeChange, make(chan int))
	req.ErrorIs(err, ErrEncodeFailed)
}
