package types

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// normalizer is implemented by payloads that accept alias field names.
type normalizer interface {
	normalize() error
}

// DecodePayload unmarshals an envelope's data into dst, folds alias fields
// and checks its validate tags. Any failure wraps ErrMalformedPayload.
func DecodePayload(data json.RawMessage, dst interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty data", ErrMalformedPayload)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if n, ok := dst.(normalizer); ok {
		if err := n.normalize(); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// isObject reports whether raw, already known to be valid JSON, is an object.
func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// DecodeEnvelope parses a raw text frame. Frames without an event name are rejected.
func DecodeEnvelope(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: missing event", ErrMalformedEnvelope)
	}
	return &env, nil
}

// Validate checks a journal room event before it is queued for writing.
func (e *RoomEvent) Validate() error {
	if e.RoomID == "" || e.SocketID == "" {
		return ErrInvalidRoomEvent
	}
	switch e.Kind {
	case RoomEventJoin, RoomEventLeave, RoomEventDisconnect:
		return nil
	default:
		return ErrInvalidRoomEvent
	}
}

func (e *ExecutionRecord) Validate() error {
	if e.Language == "" {
		return ErrInvalidExecution
	}
	if e.Status != ExecutionStatusOK && e.Status != ExecutionStatusError {
		return ErrInvalidExecution
	}
	return nil
}

// ValidateStruct checks v's validate tags. Failures wrap ErrMalformedPayload.
func ValidateStruct(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}
