// Package chat implements the conversation core: conversation identity and
// membership, the append-only message log with reactions, and read tracking.
//
// Every mutation of a conversation runs inside that conversation's
// sequencing unit (a keyed mutex). Commit hooks fire while the unit is held,
// which is what gives subscribers a per-conversation total order of events.
package chat

import "sync"

// Sequencer hands out one exclusive unit per key. Units are created on demand
// and released once nobody holds or waits for them, so memory tracks the set
// of conversations currently being mutated rather than every conversation.
type Sequencer struct {
	mu    sync.Mutex
	units map[string]*unit
}

type unit struct {
	mu   sync.Mutex
	refs int
}

// NewSequencer returns an empty Sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{units: make(map[string]*unit)}
}

// Lock blocks until the unit for key is free and returns its release func.
// Different keys never contend with each other.
func (s *Sequencer) Lock(key string) func() {
	s.mu.Lock()
	u, ok := s.units[key]
	if !ok {
		u = &unit{}
		s.units[key] = u
	}
	u.refs++
	s.mu.Unlock()

	u.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			u.mu.Unlock()
			s.mu.Lock()
			u.refs--
			if u.refs == 0 {
				delete(s.units, key)
			}
			s.mu.Unlock()
		})
	}
}

// Len reports how many units are live. Used by tests and metrics.
func (s *Sequencer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.units)
}
