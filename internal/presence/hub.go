// Package presence tracks who is online and who is typing where.
//
// State is transient. Typing entries carry an explicit expiry that is checked
// on every read, so correctness never depends on the sweep running.
package presence

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/PaulBabatuyi/realtime-convo/internal/data"
	"github.com/PaulBabatuyi/realtime-convo/internal/normalize"
)

const (
	DefaultTypingTTL = 5 * time.Second
	MaxTypingTTL     = 30 * time.Second
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// State is a user's presence. LastSeenAt is stamped on disconnect.
type State struct {
	UserID     string    `json:"userId"`
	Status     Status    `json:"status"`
	LastSeenAt time.Time `json:"lastSeenAt,omitzero"`
}

// TypingKey identifies one typing entry.
type TypingKey struct {
	UserID         string
	ConversationID string
}

// ParticipantChecker is the slice of the conversation store the hub needs.
type ParticipantChecker interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// Option configures a Hub.
type Option func(*Hub)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// Hub holds presence and typing state behind a single mutex.
type Hub struct {
	log          *slog.Logger
	participants ParticipantChecker
	now          func() time.Time

	mu     sync.Mutex
	users  map[string]*State
	typing map[string]map[string]time.Time // conversation -> user -> expiresAt
}

func New(log *slog.Logger, participants ParticipantChecker, opts ...Option) *Hub {
	h := &Hub{
		log:          log,
		participants: participants,
		now:          time.Now,
		users:        make(map[string]*State),
		typing:       make(map[string]map[string]time.Time),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Connect marks userID online. It reports whether the status changed.
func (h *Hub) Connect(userID string) bool {
	user := normalize.UserID(userID)

	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.users[user]
	if !ok {
		h.users[user] = &State{UserID: user, Status: StatusOnline}
		return true
	}
	changed := st.Status != StatusOnline
	st.Status = StatusOnline
	return changed
}

// Disconnect marks userID offline, stamps LastSeenAt and drops every typing
// entry the user held. It returns the conversations where typing stopped.
func (h *Hub) Disconnect(userID string) (bool, []string) {
	user := normalize.UserID(userID)

	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	st, ok := h.users[user]
	if !ok {
		st = &State{UserID: user}
		h.users[user] = st
	}
	changed := st.Status == StatusOnline
	st.Status = StatusOffline
	st.LastSeenAt = now

	var stopped []string
	for conv, typists := range h.typing {
		exp, ok := typists[user]
		if !ok {
			continue
		}
		delete(typists, user)
		if len(typists) == 0 {
			delete(h.typing, conv)
		}
		if now.Before(exp) {
			stopped = append(stopped, conv)
		}
	}
	slices.Sort(stopped)
	return changed, stopped
}

// Status returns the user's presence. Unknown users are offline.
func (h *Hub) Status(userID string) State {
	user := normalize.UserID(userID)

	h.mu.Lock()
	defer h.mu.Unlock()

	if st, ok := h.users[user]; ok {
		return *st
	}
	return State{UserID: user, Status: StatusOffline}
}

// Statuses returns the presence of several users at once, in input order.
func (h *Hub) Statuses(userIDs []string) []State {
	out := make([]State, 0, len(userIDs))
	for _, id := range userIDs {
		out = append(out, h.Status(id))
	}
	return out
}

// StartTyping sets or refreshes the user's typing entry for ttl. A ttl <= 0
// means DefaultTypingTTL and anything above MaxTypingTTL is capped. It
// reports whether the user was not already an active typist.
func (h *Hub) StartTyping(ctx context.Context, userID, conversationID string, ttl time.Duration) (bool, error) {
	user := normalize.UserID(userID)

	ok, err := h.participants.IsParticipant(ctx, conversationID, user)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, data.ErrNotParticipant
	}

	switch {
	case ttl <= 0:
		ttl = DefaultTypingTTL
	case ttl > MaxTypingTTL:
		ttl = MaxTypingTTL
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	typists, ok := h.typing[conversationID]
	if !ok {
		typists = make(map[string]time.Time)
		h.typing[conversationID] = typists
	}
	prev, had := typists[user]
	typists[user] = now.Add(ttl)
	return !had || !now.Before(prev), nil
}

// StopTyping removes the entry regardless of expiry. It reports whether an
// unexpired entry was removed.
func (h *Hub) StopTyping(userID, conversationID string) bool {
	user := normalize.UserID(userID)

	h.mu.Lock()
	defer h.mu.Unlock()

	typists, ok := h.typing[conversationID]
	if !ok {
		return false
	}
	exp, ok := typists[user]
	if !ok {
		return false
	}
	delete(typists, user)
	if len(typists) == 0 {
		delete(h.typing, conversationID)
	}
	return h.now().Before(exp)
}

// ActiveTypers returns the users typing in conversationID, sorted. Expired
// entries are skipped without being removed.
func (h *Hub) ActiveTypers(conversationID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	var out []string
	for user, exp := range h.typing[conversationID] {
		if now.Before(exp) {
			out = append(out, user)
		}
	}
	slices.Sort(out)
	return out
}

// Sweep removes expired typing entries and returns them.
func (h *Hub) Sweep() []TypingKey {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	var expired []TypingKey
	for conv, typists := range h.typing {
		for user, exp := range typists {
			if !now.Before(exp) {
				delete(typists, user)
				expired = append(expired, TypingKey{UserID: user, ConversationID: conv})
			}
		}
		if len(typists) == 0 {
			delete(h.typing, conv)
		}
	}
	return expired
}

// Run sweeps every interval until ctx is done, handing expired entries to
// onExpired when there are any.
func (h *Hub) Run(ctx context.Context, interval time.Duration, onExpired func([]TypingKey)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			expired := h.Sweep()
			if len(expired) == 0 {
				continue
			}
			h.log.Debug("typing entries expired", "count", len(expired))
			if onExpired != nil {
				onExpired(expired)
			}
		case <-ctx.Done():
			return
		}
	}
}
