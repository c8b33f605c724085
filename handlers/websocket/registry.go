package websocket

import (
	"fmt"
	"sync"
)

// Registry tracks the set of currently connected clients and provides the
// broadcast primitives the session is built on. Membership order is
// connection order, which is the order user_list payloads are built in.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*client
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*client),
	}
}

// Add registers a connected client under its id.
func (r *Registry) Add(c *client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c.id]; ok {
		return fmt.Errorf("client id %s already registered", c.id)
	}
	r.clients[c.id] = c
	r.order = append(r.order, c.id)
	return nil
}

// Remove deregisters a client. It is idempotent: removing an unknown or
// already-removed id reports false and has no other effect.
func (r *Registry) Remove(id string) (*client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[id]
	if !ok {
		return nil, false
	}
	delete(r.clients, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return c, true
}

// ClientIDs returns the current membership in connection order.
func (r *Registry) ClientIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Send enqueues a frame for one client. It reports false if the client is
// unknown or its outbound channel is no longer writable.
func (r *Registry) Send(id string, data []byte) bool {
	if data == nil {
		return true
	}

	r.mu.RLock()
	c, ok := r.clients[id]
	r.mu.RUnlock()

	if !ok {
		return false
	}
	return c.enqueue(data)
}

// BroadcastAll enqueues a frame for every registered client. A client whose
// channel cannot accept the frame does not block or fail delivery to the
// others; its id is returned so the caller can run disconnect cleanup.
func (r *Registry) BroadcastAll(data []byte) (failed []string) {
	return r.BroadcastOthers(data, "")
}

// BroadcastOthers is BroadcastAll minus one excluded client.
func (r *Registry) BroadcastOthers(data []byte, excludeID string) (failed []string) {
	if data == nil {
		return nil
	}

	r.mu.RLock()
	targets := make([]*client, 0, len(r.order))
	for _, id := range r.order {
		if id == excludeID {
			continue
		}
		targets = append(targets, r.clients[id])
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(data) {
			failed = append(failed, c.id)
		}
	}
	return failed
}
