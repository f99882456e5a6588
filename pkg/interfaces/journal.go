package interfaces

import (
	"context"

	"codesync/pkg/types"
)

// Journal is the append-only activity log. Record calls never block the
// caller; entries may be dropped under backpressure.
type Journal interface {
	RecordRoomEvent(event *types.RoomEvent)
	RecordExecution(record *types.ExecutionRecord)

	// RoomActivity returns up to limit events for roomID, newest first.
	RoomActivity(ctx context.Context, roomID string, limit int) ([]*types.RoomEvent, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
