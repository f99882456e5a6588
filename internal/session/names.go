package session

// Names is the connection registry: connection id -> display name.
// Not safe for concurrent use; the hub goroutine owns it.
type Names struct {
	names map[string]string
}

func NewNames() *Names {
	return &Names{names: make(map[string]string)}
}

// Register upserts the display name for a connection. Re-registering
// overwrites the previous name.
func (n *Names) Register(socketID, username string) {
	n.names[socketID] = username
}

// Unregister removes the mapping. No-op when absent.
func (n *Names) Unregister(socketID string) {
	delete(n.names, socketID)
}

func (n *Names) Lookup(socketID string) (string, bool) {
	name, ok := n.names[socketID]
	return name, ok
}

func (n *Names) Len() int {
	return len(n.names)
}
