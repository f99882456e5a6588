package hub

import (
	"errors"
	"fmt"

	"codesync/pkg/interfaces"
)

var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = fmt.Errorf("hub is not running: %w", interfaces.ErrCoordinatorStopped)
	ErrHubStopped        = fmt.Errorf("hub cannot be restarted: %w", interfaces.ErrCoordinatorStopped)
	ErrNilRouter         = errors.New("hub requires a router")
)

// Reasons an inbound event is dropped. None of them reach the client.
var (
	ErrUnknownEvent   = errors.New("unknown event")
	ErrNotRoomMember  = errors.New("sender is not a member of the room")
	ErrSelfTarget     = errors.New("sync target is the sender")
	ErrUnknownTarget  = errors.New("sync target is not registered")
	ErrNoSharedRoom   = errors.New("sync target shares no room with the sender")
	ErrMissingMessage = errors.New("message context has no envelope")
)
