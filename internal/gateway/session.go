package gateway

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// ErrSessionClosed is returned by Next once the session is closed and drained
// of pending control events.
var ErrSessionClosed = errors.New("session closed")

// Session is one user's logical channel. Producers enqueue without blocking;
// a single writer drains frames with Next.
type Session struct {
	id       uint64
	userID   string
	capacity int
	lastSeen atomic.Int64 // unix nanos

	mu     sync.Mutex
	queue  []Frame
	resync []string        // conversations owed a resync_required event, in order
	stale  map[string]bool // conversations whose event stream has a gap
	closed bool

	wake chan struct{}
	done chan struct{}
}

func newSession(id uint64, userID string, capacity int, now time.Time) *Session {
	if capacity <= 0 {
		capacity = 1
	}
	s := &Session{
		id:       id,
		userID:   userID,
		capacity: capacity,
		stale:    make(map[string]bool),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	s.lastSeen.Store(now.UnixNano())
	return s
}

func (s *Session) ID() uint64     { return s.id }
func (s *Session) UserID() string { return s.userID }

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Touch records inbound activity for the heartbeat.
func (s *Session) Touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

// LastSeen returns the time of the last inbound activity.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// NeedsResync reports whether events for conversationID were dropped since
// the client last paged its history.
func (s *Session) NeedsResync(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale[conversationID]
}

func (s *Session) clearResync(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stale, conversationID)
}

// enqueue appends f. When the queue is full the oldest event is dropped and
// its conversation is marked stale. Acks are only dropped when nothing but
// acks is queued. It reports whether something was dropped.
func (s *Session) enqueue(f Frame) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}

	dropped := false
	if len(s.queue) >= s.capacity {
		victim := slices.IndexFunc(s.queue, func(q Frame) bool { return q.Event != nil })
		if victim < 0 {
			victim = 0
		}
		if ev := s.queue[victim].Event; ev != nil && ev.ConversationID != "" {
			s.markStaleLocked(ev.ConversationID)
		}
		s.queue = slices.Delete(s.queue, victim, victim+1)
		dropped = true
	}
	s.queue = append(s.queue, f)
	s.mu.Unlock()

	s.signal()
	return dropped
}

// Reply queues an ack for the session's writer, behind any events already
// queued.
func (s *Session) Reply(a Ack) {
	s.enqueue(Frame{Ack: &a})
}

func (s *Session) markStaleLocked(conversationID string) {
	if s.stale[conversationID] {
		return
	}
	s.stale[conversationID] = true
	s.resync = append(s.resync, conversationID)
}

func (s *Session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Next blocks until a frame is available. Pending resync_required events go
// out ahead of queued frames.
func (s *Session) Next(ctx context.Context) (Frame, error) {
	for {
		s.mu.Lock()
		if len(s.resync) > 0 {
			conv := s.resync[0]
			s.resync = s.resync[1:]
			s.mu.Unlock()
			return Frame{Event: &Event{
				Type:           EventResyncRequired,
				ConversationID: conv,
				Payload:        ResyncPayload{Reason: "events dropped"},
			}}, nil
		}
		if len(s.queue) > 0 {
			f := s.queue[0]
			s.queue[0] = Frame{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return f, nil
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return Frame{}, ErrSessionClosed
		}

		select {
		case <-s.wake:
		case <-s.done:
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}
}

// Pending returns the number of queued frames.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close stops the session. Frames still queued are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.queue = nil
	s.resync = nil
	close(s.done)
}
