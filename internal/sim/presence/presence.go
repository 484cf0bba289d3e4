// Package presence tracks the last reported position of each connected
// actor. The transport layer writes it on MOVE; the engine reads it for the
// build-site proximity check.
package presence

import (
	"sync"

	"monworld.ai/internal/sim/shapes"
)

type Registry struct {
	mu  sync.RWMutex
	pos map[string]shapes.Vec3
}

func NewRegistry() *Registry {
	return &Registry{pos: map[string]shapes.Vec3{}}
}

func (r *Registry) Set(actorID string, p shapes.Vec3) {
	r.mu.Lock()
	r.pos[actorID] = p
	r.mu.Unlock()
}

func (r *Registry) CurrentPosition(actorID string) (shapes.Vec3, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pos[actorID]
	return p, ok
}

func (r *Registry) Remove(actorID string) {
	r.mu.Lock()
	delete(r.pos, actorID)
	r.mu.Unlock()
}
