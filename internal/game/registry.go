package game

import "sync"

// registry is the in-memory table of live sessions. Callers outside this package
// only ever see game ids.
type registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newRegistry() *registry {
	return &registry{sessions: map[string]*session{}}
}

// getOrCreate returns the existing session for id, or stores the one built by build.
func (r *registry) getOrCreate(id string, build func() *session) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.sessions[id]; ok {
		return g, false
	}
	g := build()
	r.sessions[id] = g
	return g, true
}

func (r *registry) get(id string) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.sessions[id]
	return g, ok
}

// remove deletes id only while it still maps to g.
func (r *registry) remove(id string, g *session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[id]; ok && cur == g {
		delete(r.sessions, id)
		return true
	}
	return false
}

func (r *registry) snapshot() []*session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*session, 0, len(r.sessions))
	for _, g := range r.sessions {
		out = append(out, g)
	}
	return out
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
