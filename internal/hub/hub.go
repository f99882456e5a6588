package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"codesync/internal/metrics"
	"codesync/internal/router"
	"codesync/internal/session"
	"codesync/pkg/interfaces"
	"codesync/pkg/types"
)

const messageBufferSize = 1000

// Hub is the session coordinator. A single goroutine owns the directory
// and processes one event at a time; all mutations and fan-out for an event
// finish before the next event is read. Rooms therefore observe a single
// total order of events.
type Hub struct {
	messageChannel  chan *MessageContext
	shutdownChannel chan struct{}
	stopped         chan struct{}

	directory *session.Directory
	router    *router.Router
	journal   interfaces.Journal
	metrics   *metrics.Metrics
	log       *slog.Logger
	tracer    trace.Tracer

	running bool
	// started stays set after the first Start; a Hub runs at most once.
	started bool
	mu      sync.RWMutex
}

// MessageContext is one unit of work for the hub loop: an inbound
// envelope, a disconnect teardown, or a read-only query.
type MessageContext struct {
	Message   *types.Envelope
	SenderID  string
	Timestamp time.Time

	teardown bool
	query    func(*session.Directory)
	done     chan struct{}
}

// Options carries the hub's optional collaborators.
type Options struct {
	Journal interfaces.Journal
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

func NewHub(r *router.Router, opts Options) (*Hub, error) {
	if r == nil {
		return nil, ErrNilRouter
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Hub{
		messageChannel:  make(chan *MessageContext, messageBufferSize),
		shutdownChannel: make(chan struct{}),
		stopped:         make(chan struct{}),
		directory:       session.NewDirectory(),
		router:          r,
		journal:         opts.Journal,
		metrics:         opts.Metrics,
		log:             log,
		tracer:          otel.Tracer("codesync/hub"),
	}, nil
}

// Start launches the hub loop. It runs until Stop or until ctx is done.
// A stopped Hub cannot be started again.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	if h.started {
		h.mu.Unlock()
		return ErrHubStopped
	}
	h.running = true
	h.started = true
	h.mu.Unlock()

	h.log.Info("Starting session hub")

	go h.run(ctx)

	return nil
}

// Stop signals the loop to exit. Events still queued are discarded.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false

	h.log.Info("Stopping session hub")

	select {
	case <-h.shutdownChannel:
	default:
		close(h.shutdownChannel)
	}

	return nil
}

// Submit queues one inbound envelope from senderID. Events from one
// connection are processed in the order they are submitted.
func (h *Hub) Submit(ctx context.Context, senderID string, env *types.Envelope) error {
	if env == nil {
		return ErrMissingMessage
	}
	return h.enqueue(ctx, &MessageContext{
		Message:   env,
		SenderID:  senderID,
		Timestamp: time.Now(),
	})
}

// Disconnect removes socketID from every room it joined, notifying the
// remaining members of each, and forgets its display name. It returns once
// the teardown has run on the hub loop.
func (h *Hub) Disconnect(ctx context.Context, socketID string) error {
	mc := &MessageContext{
		SenderID:  socketID,
		Timestamp: time.Now(),
		teardown:  true,
		done:      make(chan struct{}),
	}
	if err := h.enqueue(ctx, mc); err != nil {
		return err
	}
	return h.wait(ctx, mc.done)
}

// Roster returns every participant of roomID in join order.
func (h *Hub) Roster(ctx context.Context, roomID string) ([]types.Participant, error) {
	var roster session.Roster
	err := h.query(ctx, func(d *session.Directory) {
		roster = d.Roster(roomID)
	})
	return roster, err
}

// Rooms summarises every non-empty room.
func (h *Hub) Rooms(ctx context.Context) ([]types.RoomSummary, error) {
	var summaries []types.RoomSummary
	err := h.query(ctx, func(d *session.Directory) {
		summaries = d.Rooms.Summaries()
	})
	return summaries, err
}

func (h *Hub) query(ctx context.Context, fn func(*session.Directory)) error {
	mc := &MessageContext{
		Timestamp: time.Now(),
		query:     fn,
		done:      make(chan struct{}),
	}
	if err := h.enqueue(ctx, mc); err != nil {
		return err
	}
	return h.wait(ctx, mc.done)
}

func (h *Hub) enqueue(ctx context.Context, mc *MessageContext) error {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return ErrHubNotRunning
	}

	select {
	case h.messageChannel <- mc:
		return nil
	case <-h.stopped:
		return ErrHubNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-h.stopped:
		return ErrHubNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.stopped)
	defer h.log.Info("Hub processing stopped")

	for {
		select {
		case mc := <-h.messageChannel:
			h.handleMessage(ctx, mc)

		case <-h.shutdownChannel:
			h.log.Info("Hub shutdown requested")
			return

		case <-ctx.Done():
			h.log.Info("Hub context cancelled")
			return
		}
	}
}

func (h *Hub) handleMessage(ctx context.Context, mc *MessageContext) {
	switch {
	case mc.query != nil:
		mc.query(h.directory)
		close(mc.done)
		return

	case mc.teardown:
		h.handleDisconnect(ctx, mc.SenderID)
		h.publishPresence()
		close(mc.done)
		return
	}

	event := mc.Message.Event
	ctx, span := h.tracer.Start(ctx, "hub."+event, trace.WithAttributes(
		attribute.String("codesync.event", event),
		attribute.String("codesync.socket_id", mc.SenderID),
	))
	defer span.End()

	var err error
	switch event {
	case types.EventJoin:
		err = h.handleJoin(ctx, mc)
	case types.EventCodeChange:
		err = h.handleCodeChange(mc)
	case types.EventCursorChange:
		err = h.handleCursorChange(mc)
	case types.EventSyncCode:
		err = h.handleSyncCode(mc)
	case types.EventLeave:
		err = h.handleLeave(ctx, mc)
	default:
		err = ErrUnknownEvent
	}

	if err != nil {
		span.RecordError(err)
		h.log.Debug("Dropped event", "event", event, "socket_id", mc.SenderID, "err", err)
		h.metrics.Event(event, metrics.OutcomeDropped)
		return
	}

	h.metrics.Event(event, metrics.OutcomeHandled)
	h.publishPresence()
}

// handleJoin registers the sender's name, adds it to the room and sends the
// full roster to every member. A repeated join re-announces without adding
// a second entry.
func (h *Hub) handleJoin(ctx context.Context, mc *MessageContext) error {
	var req types.JoinRequest
	if err := types.DecodePayload(mc.Message.Data, &req); err != nil {
		return err
	}

	h.directory.Names.Register(mc.SenderID, req.Username)
	if h.directory.Rooms.Join(req.RoomID, mc.SenderID) {
		h.record(ctx, req.RoomID, mc.SenderID, req.Username, types.RoomEventJoin)
	}

	roster := h.directory.Roster(req.RoomID)
	h.router.Broadcast(roster.SocketIDs(), "", types.EventJoined, types.JoinedEvent{
		Clients:  roster,
		Username: req.Username,
		SocketID: mc.SenderID,
	})

	h.log.Debug("Participant joined", "room_id", req.RoomID, "socket_id", mc.SenderID, "username", req.Username)
	return nil
}

func (h *Hub) handleCodeChange(mc *MessageContext) error {
	var req types.CodeChangeRequest
	if err := types.DecodePayload(mc.Message.Data, &req); err != nil {
		return err
	}
	if !h.directory.Rooms.Contains(req.RoomID, mc.SenderID) {
		return ErrNotRoomMember
	}

	h.router.Broadcast(h.directory.Rooms.MembersOf(req.RoomID), mc.SenderID,
		types.EventCodeChange, types.CodeChangeEvent{Code: req.Code})
	return nil
}

func (h *Hub) handleCursorChange(mc *MessageContext) error {
	var req types.CursorChangeRequest
	if err := types.DecodePayload(mc.Message.Data, &req); err != nil {
		return err
	}
	if !h.directory.Rooms.Contains(req.RoomID, mc.SenderID) {
		return ErrNotRoomMember
	}

	username, _ := h.directory.Names.Lookup(mc.SenderID)
	h.router.Broadcast(h.directory.Rooms.MembersOf(req.RoomID), mc.SenderID,
		types.EventCursorUpdate, types.CursorUpdateEvent{
			SocketID: mc.SenderID,
			Cursor:   req.Cursor,
			Username: username,
		})
	return nil
}

// handleSyncCode relays the sender's buffer to one newly joined peer.
// The target must be a registered participant sharing a room with the sender.
func (h *Hub) handleSyncCode(mc *MessageContext) error {
	var req types.SyncCodeRequest
	if err := types.DecodePayload(mc.Message.Data, &req); err != nil {
		return err
	}

	switch {
	case req.SocketID == mc.SenderID:
		return ErrSelfTarget
	case !h.registered(req.SocketID):
		return ErrUnknownTarget
	case !h.directory.Rooms.ShareRoom(mc.SenderID, req.SocketID):
		return ErrNoSharedRoom
	}

	if err := h.router.Direct(req.SocketID, types.EventCodeChange, types.CodeChangeEvent{Code: *req.Code}); err != nil {
		h.log.Debug("Sync delivery failed", "target", req.SocketID, "err", err)
	}
	return nil
}

func (h *Hub) handleLeave(ctx context.Context, mc *MessageContext) error {
	var req types.LeaveRequest
	if err := types.DecodePayload(mc.Message.Data, &req); err != nil {
		return err
	}
	if !h.directory.Rooms.Contains(req.RoomID, mc.SenderID) {
		return ErrNotRoomMember
	}

	h.removeMember(ctx, req.RoomID, mc.SenderID, types.RoomEventLeave)
	return nil
}

// handleDisconnect notifies each room the socket belonged to, removes it
// from all of them, then forgets its display name.
func (h *Hub) handleDisconnect(ctx context.Context, socketID string) {
	ctx, span := h.tracer.Start(ctx, "hub.disconnect", trace.WithAttributes(
		attribute.String("codesync.socket_id", socketID),
	))
	defer span.End()

	rooms := h.directory.Rooms.RoomsOf(socketID)
	span.SetAttributes(attribute.Int("codesync.rooms", len(rooms)))

	for _, roomID := range rooms {
		h.removeMember(ctx, roomID, socketID, types.RoomEventDisconnect)
	}
	h.directory.Names.Unregister(socketID)

	h.metrics.Event("disconnect", metrics.OutcomeHandled)
	if len(rooms) > 0 {
		h.log.Debug("Participant disconnected", "socket_id", socketID, "rooms", len(rooms))
	}
}

func (h *Hub) removeMember(ctx context.Context, roomID, socketID, kind string) {
	username, _ := h.directory.Names.Lookup(socketID)
	if !h.directory.Rooms.Leave(roomID, socketID) {
		return
	}

	h.router.Broadcast(h.directory.Rooms.MembersOf(roomID), socketID,
		types.EventDisconnected, types.DisconnectedEvent{
			SocketID: socketID,
			Username: username,
		})
	h.record(ctx, roomID, socketID, username, kind)
}

func (h *Hub) registered(socketID string) bool {
	_, ok := h.directory.Names.Lookup(socketID)
	return ok
}

func (h *Hub) record(ctx context.Context, roomID, socketID, username, kind string) {
	if h.journal == nil {
		return
	}
	trace.SpanFromContext(ctx).AddEvent("journal."+kind)
	h.journal.RecordRoomEvent(&types.RoomEvent{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		SocketID:  socketID,
		Username:  username,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	})
}

func (h *Hub) publishPresence() {
	h.metrics.SetPresence(h.directory.Names.Len(), h.directory.Rooms.Len())
}
