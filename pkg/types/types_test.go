package types

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantErr error
		event   string
	}{
		{name: "join frame", frame: `{"event":"join","data":{"roomId":"r1","username":"alice"}}`, event: EventJoin},
		{name: "no data", frame: `{"event":"leave"}`, event: EventLeave},
		{name: "missing event", frame: `{"data":{}}`, wantErr: ErrMalformedEnvelope},
		{name: "not json", frame: `join r1`, wantErr: ErrMalformedEnvelope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeEnvelope([]byte(tt.frame))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("DecodeEnvelope() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeEnvelope() unexpected error: %v", err)
			}
			if env.Event != tt.event {
				t.Errorf("Event = %q, want %q", env.Event, tt.event)
			}
		})
	}
}

func TestDecodePayload_Join(t *testing.T) {
	var req JoinRequest
	if err := DecodePayload(json.RawMessage(`{"roomId":"r1","username":"alice"}`), &req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.RoomID != "r1" || req.Username != "alice" {
		t.Errorf("decoded %+v", req)
	}

	// Display names are not validated; an empty one is accepted.
	req = JoinRequest{}
	if err := DecodePayload(json.RawMessage(`{"roomId":"r1"}`), &req); err != nil {
		t.Errorf("empty username should be accepted: %v", err)
	}

	req = JoinRequest{}
	err := DecodePayload(json.RawMessage(`{"username":"alice"}`), &req)
	if !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("missing roomId: error = %v, want ErrMalformedPayload", err)
	}
}

func TestDecodePayload_CodeChangeAllowsEmptyBuffer(t *testing.T) {
	var req CodeChangeRequest
	if err := DecodePayload(json.RawMessage(`{"roomId":"r1","code":""}`), &req); err != nil {
		t.Fatalf("cleared buffer should be accepted: %v", err)
	}
	if req.Code != "" {
		t.Errorf("Code = %q, want empty", req.Code)
	}
}

func TestDecodePayload_Cursor(t *testing.T) {
	var req CursorChangeRequest
	if err := DecodePayload(json.RawMessage(`{"roomId":"r1","cursor":{"line":3,"column":5}}`), &req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(req.Cursor) != `{"line":3,"column":5}` {
		t.Errorf("cursor decoded as %s", req.Cursor)
	}

	req = CursorChangeRequest{}
	if err := DecodePayload(json.RawMessage(`{"roomId":"r1","cursorPosition":{"line":1,"ch":2}}`), &req); err != nil {
		t.Fatalf("cursorPosition alias: unexpected error: %v", err)
	}
	if string(req.Cursor) != `{"line":1,"ch":2}` || req.CursorPosition != nil {
		t.Errorf("alias not folded: cursor=%s cursorPosition=%s", req.Cursor, req.CursorPosition)
	}

	for _, raw := range []string{
		`{"roomId":"r1"}`,
		`{"roomId":"r1","cursor":null}`,
		`{"roomId":"r1","cursor":[3,5]}`,
		`{"roomId":"r1","cursor":"3:5"}`,
	} {
		req = CursorChangeRequest{}
		err := DecodePayload(json.RawMessage(raw), &req)
		if !errors.Is(err, ErrMalformedPayload) {
			t.Errorf("%s: error = %v, want ErrMalformedPayload", raw, err)
		}
	}
}

func TestDecodePayload_Aliases(t *testing.T) {
	var join JoinRequest
	if err := DecodePayload(json.RawMessage(`{"roomId":"r1","displayName":"alice"}`), &join); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if join.Username != "alice" {
		t.Errorf("Username = %q, want alice", join.Username)
	}

	join = JoinRequest{}
	if err := DecodePayload(json.RawMessage(`{"roomId":"r1","username":"bob","displayName":"alice"}`), &join); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if join.Username != "bob" {
		t.Errorf("username should win over displayName, got %q", join.Username)
	}

	var sync SyncCodeRequest
	if err := DecodePayload(json.RawMessage(`{"connectionId":"abc","code":"x"}`), &sync); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sync.SocketID != "abc" {
		t.Errorf("SocketID = %q, want abc", sync.SocketID)
	}
}

func TestDecodePayload_SyncCode(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{name: "with code", data: `{"socketId":"abc","code":"x=1"}`},
		{name: "empty code", data: `{"socketId":"abc","code":""}`},
		{name: "null code", data: `{"socketId":"abc","code":null}`, wantErr: true},
		{name: "missing target", data: `{"code":"x=1"}`, wantErr: true},
		{name: "empty data", data: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req SyncCodeRequest
			err := DecodePayload(json.RawMessage(tt.data), &req)
			if tt.wantErr && !errors.Is(err, ErrMalformedPayload) {
				t.Errorf("error = %v, want ErrMalformedPayload", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestOutboundMessage_WireShape(t *testing.T) {
	msg := OutboundMessage{
		Event: EventCursorUpdate,
		Data: CursorUpdateEvent{
			SocketID: "a",
			Cursor:   json.RawMessage(`{"line":3,"column":5}`),
			Username: "alice",
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	want := `{"event":"cursor-update","data":{"socketId":"a","cursor":{"line":3,"column":5},"username":"alice"}}`
	if string(data) != want {
		t.Errorf("wire shape\n got: %s\nwant: %s", data, want)
	}
}

func TestRoomEvent_Validate(t *testing.T) {
	valid := RoomEvent{RoomID: "r1", SocketID: "s1", Kind: RoomEventJoin}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid event rejected: %v", err)
	}

	for _, ev := range []RoomEvent{
		{SocketID: "s1", Kind: RoomEventJoin},
		{RoomID: "r1", Kind: RoomEventJoin},
		{RoomID: "r1", SocketID: "s1", Kind: "renamed"},
	} {
		if err := ev.Validate(); err != ErrInvalidRoomEvent {
			t.Errorf("Validate(%+v) = %v, want ErrInvalidRoomEvent", ev, err)
		}
	}
}

func TestExecutionRecord_Validate(t *testing.T) {
	rec := ExecutionRecord{Language: "python", Status: ExecutionStatusOK}
	if err := rec.Validate(); err != nil {
		t.Errorf("valid record rejected: %v", err)
	}
	rec.Status = "pending"
	if err := rec.Validate(); err != ErrInvalidExecution {
		t.Errorf("Validate() = %v, want ErrInvalidExecution", err)
	}
}
