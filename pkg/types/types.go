package types

import (
	"encoding/json"
	"time"
)

// Wire event names. Inbound and outbound names share one namespace;
// code-change travels in both directions.
const (
	EventJoin         = "join"
	EventJoined       = "joined"
	EventCodeChange   = "code-change"
	EventCursorChange = "cursor-change"
	EventCursorUpdate = "cursor-update"
	EventSyncCode     = "sync-code"
	EventLeave        = "leave"
	EventDisconnected = "disconnected"
)

// Envelope is one WebSocket text frame: an event name plus its payload.
// Data stays raw until the coordinator knows which payload type to decode.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundMessage is the frame shape written to clients.
type OutboundMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Participant pairs a connection with the display name it joined under.
type Participant struct {
	SocketID string `json:"socketId"`
	Username string `json:"username"`
}

// Inbound payloads. Fields tagged with an alias name accept the
// alternative wire spelling; normalize folds them into the primary field
// before validation.

type JoinRequest struct {
	RoomID      string `json:"roomId" validate:"required"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

func (r *JoinRequest) normalize() error {
	if r.Username == "" {
		r.Username = r.DisplayName
	}
	r.DisplayName = ""
	return nil
}

type CodeChangeRequest struct {
	RoomID string `json:"roomId" validate:"required"`
	Code   string `json:"code"`
}

// CursorChangeRequest carries an editor-defined cursor object. The server
// never interprets it; it is relayed to peers as received.
type CursorChangeRequest struct {
	RoomID         string          `json:"roomId" validate:"required"`
	Cursor         json.RawMessage `json:"cursor,omitempty"`
	CursorPosition json.RawMessage `json:"cursorPosition,omitempty"`
}

func (r *CursorChangeRequest) normalize() error {
	if isNull(r.Cursor) {
		r.Cursor = r.CursorPosition
	}
	r.CursorPosition = nil
	if !isObject(r.Cursor) {
		return ErrInvalidCursor
	}
	return nil
}

// SyncCodeRequest asks the server to relay the sender's buffer to a single
// target connection. A nil Code means the sender has nothing to seed with.
type SyncCodeRequest struct {
	SocketID     string  `json:"socketId,omitempty" validate:"required"`
	ConnectionID string  `json:"connectionId,omitempty"`
	Code         *string `json:"code" validate:"required"`
}

func (r *SyncCodeRequest) normalize() error {
	if r.SocketID == "" {
		r.SocketID = r.ConnectionID
	}
	r.ConnectionID = ""
	return nil
}

type LeaveRequest struct {
	RoomID string `json:"roomId" validate:"required"`
}

// Outbound payloads

// JoinedEvent is sent to every member of a room, the joiner included.
// Clients carries the full roster; the UI may coalesce duplicate names.
type JoinedEvent struct {
	Clients  []Participant `json:"clients"`
	Username string        `json:"username"`
	SocketID string        `json:"socketId"`
}

type CodeChangeEvent struct {
	Code string `json:"code"`
}

type CursorUpdateEvent struct {
	SocketID string          `json:"socketId"`
	Cursor   json.RawMessage `json:"cursor"`
	Username string          `json:"username"`
}

type DisconnectedEvent struct {
	SocketID string `json:"socketId"`
	Username string `json:"username"`
}

// CompileRequest is the body of POST /compile.
type CompileRequest struct {
	Code     string `json:"code"`
	Language string `json:"language" validate:"required"`
}

// Journal records

const (
	RoomEventJoin       = "join"
	RoomEventLeave      = "leave"
	RoomEventDisconnect = "disconnect"
)

// RoomSummary is a read-only view of one non-empty room.
type RoomSummary struct {
	RoomID  string `json:"roomId"`
	Members int    `json:"members"`
}

// RoomEvent is one membership change written to the activity journal.
type RoomEvent struct {
	ID        string    `json:"id" db:"id"`
	RoomID    string    `json:"roomId" db:"room_id"`
	SocketID  string    `json:"socketId" db:"socket_id"`
	Username  string    `json:"username" db:"username"`
	Kind      string    `json:"kind" db:"kind"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

const (
	ExecutionStatusOK    = "ok"
	ExecutionStatusError = "error"
)

// ExecutionRecord summarises one proxied execution. Source code is never stored.
type ExecutionRecord struct {
	ID         string    `json:"id" db:"id"`
	Language   string    `json:"language" db:"language"`
	Status     string    `json:"status" db:"status"`
	DurationMS int64     `json:"durationMs" db:"duration_ms"`
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
}
