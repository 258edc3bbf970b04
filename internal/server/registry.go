package server

import (
	"fmt"
	"sync"
)

// VisitFailure records a session whose visit returned an error or panicked.
type VisitFailure struct {
	Session *Session
	Err     error
}

// Registry tracks live sessions in registration order.
type Registry struct {
	mu       sync.RWMutex
	sessions []*Session
	index    map[*Session]struct{}
}

// NewRegistry initializes an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[*Session]struct{})}
}

// Register adds the session; registering twice is a no-op.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[s]; ok {
		return
	}
	r.index[s] = struct{}{}
	r.sessions = append(r.sessions, s)
}

// Unregister removes the session if present and reports whether it did.
func (r *Registry) Unregister(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[s]; !ok {
		return false
	}
	delete(r.index, s)
	for i, candidate := range r.sessions {
		if candidate == s {
			copy(r.sessions[i:], r.sessions[i+1:])
			r.sessions[len(r.sessions)-1] = nil
			r.sessions = r.sessions[:len(r.sessions)-1]
			break
		}
	}
	return true
}

// Count reports how many sessions are registered.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot copies the current sessions in registration order.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make([]*Session, len(r.sessions))
	copy(snapshot, r.sessions)
	return snapshot
}

// ForEach visits every session registered at call time, without holding the
// lock during visits. A failing visit does not stop the iteration.
func (r *Registry) ForEach(visit func(*Session) error) []VisitFailure {
	var failures []VisitFailure
	for _, s := range r.Snapshot() {
		if err := safeVisit(visit, s); err != nil {
			failures = append(failures, VisitFailure{Session: s, Err: err})
		}
	}
	return failures
}

func safeVisit(visit func(*Session) error, s *Session) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("visit panicked: %v", rec)
		}
	}()
	return visit(s)
}
