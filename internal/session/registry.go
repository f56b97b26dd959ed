package session

import "sync"

// Registry tracks one Manager per signed-in portal session, keyed by the
// session cookie value.
type Registry struct {
	mu       sync.Mutex
	factory  func() (*Manager, error)
	sessions map[string]*Manager
}

// NewRegistry constructs a Registry. factory builds a fresh Manager (with
// its own provider client) for each new session.
func NewRegistry(factory func() (*Manager, error)) *Registry {
	return &Registry{
		factory:  factory,
		sessions: make(map[string]*Manager),
	}
}

// Create builds, stores and returns the Manager for sid, replacing (and
// closing) any previous one under the same key.
func (r *Registry) Create(sid string) (*Manager, error) {
	mgr, err := r.factory()
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	prev := r.sessions[sid]
	r.sessions[sid] = mgr
	r.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	return mgr, nil
}

// Get returns the Manager for sid, if any.
func (r *Registry) Get(sid string) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mgr, ok := r.sessions[sid]
	return mgr, ok
}

// Remove closes and forgets the Manager for sid. Removing an unknown sid
// is a no-op, so repeated sign-outs stay idempotent.
func (r *Registry) Remove(sid string) {
	r.mu.Lock()
	mgr := r.sessions[sid]
	delete(r.sessions, sid)
	r.mu.Unlock()
	if mgr != nil {
		mgr.Close()
	}
}

// Close tears down every tracked session.
func (r *Registry) Close() {
	r.mu.Lock()
	managers := make([]*Manager, 0, len(r.sessions))
	for _, mgr := range r.sessions {
		managers = append(managers, mgr)
	}
	r.sessions = make(map[string]*Manager)
	r.mu.Unlock()
	for _, mgr := range managers {
		mgr.Close()
	}
}
