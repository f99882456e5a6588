package types

import "errors"

var (
	ErrMalformedEnvelope = errors.New("malformed event envelope")
	ErrMalformedPayload  = errors.New("malformed event payload")
	ErrInvalidCursor     = errors.New("cursor must be a JSON object")
	ErrInvalidRoomEvent  = errors.New("room event requires room, socket and kind")
	ErrInvalidExecution  = errors.New("execution record requires language and status")
)
