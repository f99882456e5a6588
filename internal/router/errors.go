package router

import "errors"

var (
	ErrNilSender      = errors.New("router requires a sender")
	ErrEncodeFailed   = errors.New("failed to encode outbound frame")
	ErrEmptyRecipient = errors.New("direct delivery missing recipient")
)
