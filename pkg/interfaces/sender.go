package interfaces

// Sender delivers a pre-encoded frame to one connection id.
// Implementations must not block; a slow recipient fails its own delivery only.
type Sender interface {
	Send(socketID string, data []byte) error
}
