package websocket

import (
	"sync"
)

// Registry tracks live connections by id so the router can address them.
// It holds transport handles only; display names and room membership live
// in the hub.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
	}
}

// RegisterConnection adds conn under its id. Ids are server-generated, so a
// collision means a programming error and is rejected.
func (r *Registry) RegisterConnection(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; exists {
		return ErrDuplicateConnection
	}
	r.connections[conn.ID()] = conn
	return nil
}

// UnregisterConnection removes conn if it is the instance currently
// registered under its id. Idempotent.
func (r *Registry) UnregisterConnection(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if registered, exists := r.connections[conn.ID()]; exists && registered == conn {
		delete(r.connections, conn.ID())
	}
}

func (r *Registry) GetConnection(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.connections[id]
	return conn, exists
}

// Send queues data on the connection registered under id.
func (r *Registry) Send(id string, data []byte) error {
	conn, exists := r.GetConnection(id)
	if !exists {
		return ErrConnectionNotFound
	}
	return conn.Send(data)
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}
