package server

import (
	"fmt"
	"sync"

	"github.com/buildmesh/buildmesh/internal/remote"
)

// ConnRegistry tracks the live connection for each attached worker.
type ConnRegistry struct {
	mu    sync.RWMutex
	conns map[string]*remote.Connection
}

// NewConnRegistry creates an empty registry.
func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{
		conns: make(map[string]*remote.Connection),
	}
}

// Register adds a worker's connection. A second connection for the
// same worker name is rejected.
func (r *ConnRegistry) Register(workerName string, conn *remote.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[workerName]; exists {
		return fmt.Errorf("rejecting duplicate worker: %s", workerName)
	}
	r.conns[workerName] = conn
	return nil
}

// Get retrieves a worker's connection, or nil.
func (r *ConnRegistry) Get(workerName string) *remote.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[workerName]
}

// Deregister removes a worker's connection.
func (r *ConnRegistry) Deregister(workerName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, workerName)
}

// List returns all registered connections.
func (r *ConnRegistry) List() []*remote.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*remote.Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	return conns
}

// Count returns the number of registered connections.
func (r *ConnRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
