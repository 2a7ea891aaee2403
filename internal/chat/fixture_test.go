package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PaulBabatuyi/realtime-convo/internal/data"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recorder struct {
	mu      sync.Mutex
	commits []Commit
}

func (r *recorder) hook(c Commit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits = append(r.commits, c)
}

func (r *recorder) all() []Commit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Commit(nil), r.commits...)
}

type fixture struct {
	store *data.MemoryStore
	clock *fakeClock
	rec   *recorder
	convs *ConversationStore
	msgs  *MessageLog
	reads *ReadTracker
}

// flakyStore fails the next InsertMessage or SaveCursor once when armed.
type flakyStore struct {
	*data.MemoryStore
	failInsert atomic.Bool
	failSave   atomic.Bool
}

var errStoreDown = errors.New("store unavailable")

func (s *flakyStore) InsertMessage(ctx context.Context, m *data.Message) error {
	if s.failInsert.CompareAndSwap(true, false) {
		return errStoreDown
	}
	return s.MemoryStore.InsertMessage(ctx, m)
}

func (s *flakyStore) SaveCursor(ctx context.Context, c *data.ReadCursor) error {
	if s.failSave.CompareAndSwap(true, false) {
		return errStoreDown
	}
	return s.MemoryStore.SaveCursor(ctx, c)
}

func newFixture(t *testing.T, membership Membership) *fixture {
	t.Helper()
	f, _ := newFlakyFixture(t, membership)
	return f
}

func newFlakyFixture(t *testing.T, membership Membership) (*fixture, *flakyStore) {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	flaky := &flakyStore{MemoryStore: data.NewMemoryStore()}
	store := flaky.MemoryStore
	clock := newFakeClock()
	seq := NewSequencer()
	bus := NewCommitBus()
	rec := &recorder{}
	bus.Subscribe(rec.hook)

	convs := NewConversationStore(log, store, seq, membership, WithClock(clock.Now))
	return &fixture{
		store: store,
		clock: clock,
		rec:   rec,
		convs: convs,
		msgs:  NewMessageLog(log, convs, flaky, seq, bus, WithClock(clock.Now)),
		reads: NewReadTracker(log, convs, flaky, flaky, seq, bus, WithClock(clock.Now)),
	}, flaky
}
