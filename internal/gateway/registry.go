package gateway

import (
	"sync"
)

// Registry maps each connected user to their current session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	nextID   uint64
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) newID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return r.nextID
}

// Register makes s the user's session and returns the one it replaced, if any.
func (r *Registry) Register(s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.sessions[s.userID]
	r.sessions[s.userID] = s
	return prev
}

// Unregister removes s if it is still the user's current session. A session
// that was already replaced leaves the registry untouched.
func (r *Registry) Unregister(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.sessions[s.userID]
	if !ok || cur.id != s.id {
		return false
	}
	delete(r.sessions, s.userID)
	return true
}

// Get returns the user's session or nil.
func (r *Registry) Get(userID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[userID]
}

// Sessions returns the sessions of the connected users among userIDs.
func (r *Registry) Sessions(userIDs []string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(userIDs))
	for _, id := range userIDs {
		if s, ok := r.sessions[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Connected filters userIDs down to the connected ones.
func (r *Registry) Connected(userIDs []string) []string {
	sessions := r.Sessions(userIDs)
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = s.userID
	}
	return out
}

// All returns a snapshot of every session.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
