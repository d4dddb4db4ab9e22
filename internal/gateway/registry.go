// Package gateway terminates worker connections. It holds the
// process-local connection registry, the event-bus bridge that feeds
// it, and the websocket lifecycle handler. Nothing in here is visible
// to other processes; a multi-gateway deployment needs sticky routing
// so a machine's connection always lands on the same instance.
package gateway

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Conn is the send side of a live worker connection.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Registry maps machine ids to their live connections. At most one
// connection per machine: registering over an existing entry supersedes
// it and closes the old connection.
type Registry struct {
	mu    sync.Mutex
	conns map[string]Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

func (r *Registry) Register(machineID string, c Conn) {
	r.mu.Lock()
	old, ok := r.conns[machineID]
	r.conns[machineID] = c
	r.mu.Unlock()

	if ok && old != c {
		log.Printf("registry: superseding connection for machine %s", machineID)
		_ = old.Close()
	}
}

// Unregister removes the entry for machineID only if it still maps to
// c. A handler tearing down a superseded connection must not evict the
// replacement.
func (r *Registry) Unregister(machineID string, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[machineID] == c {
		delete(r.conns, machineID)
	}
}

// Send writes msg to machineID's connection as a text frame. Returns
// false when no live connection exists. Write failures are logged, not
// propagated; the disconnect path will tear the connection down.
func (r *Registry) Send(machineID string, msg []byte) bool {
	r.mu.Lock()
	c, ok := r.conns[machineID]
	r.mu.Unlock()

	if !ok {
		return false
	}
	if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
		log.Printf("registry: send to machine %s: %v", machineID, err)
	}
	return true
}

// Len reports the number of live connections. Used by the gateway's
// health endpoint.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
