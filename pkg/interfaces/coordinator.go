package interfaces

import (
	"context"

	"codesync/pkg/types"
)

// Coordinator serializes every room-affecting event.
// The transport layer submits decoded envelopes and disconnect notices;
// the coordinator owns all room and name state.
type Coordinator interface {
	// Submit enqueues one inbound envelope from senderID. It blocks until
	// the event is queued, ctx is done, or the coordinator stops.
	Submit(ctx context.Context, senderID string, env *types.Envelope) error

	// Disconnect tears down every membership of socketID and returns once
	// the disconnected broadcasts have been queued.
	Disconnect(ctx context.Context, socketID string) error
}

// RoomReader answers read-only room queries for the HTTP API.
type RoomReader interface {
	// Roster returns the full participant list of roomID in join order.
	Roster(ctx context.Context, roomID string) ([]types.Participant, error)

	// Rooms returns a summary of every non-empty room.
	Rooms(ctx context.Context) ([]types.RoomSummary, error)
}
