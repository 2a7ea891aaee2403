package chat

import (
	"slices"
	"sync"

	"github.com/PaulBabatuyi/realtime-convo/internal/data"
)

// CommitKind identifies what a committed mutation did.
type CommitKind string

const (
	CommitMessageAppended CommitKind = "message_appended"
	CommitReactionChanged CommitKind = "reaction_changed"
	CommitReadAdvanced    CommitKind = "read_advanced"
)

// ReactionChange describes one user's reaction toggle on one message.
type ReactionChange struct {
	MessageID string
	UserID    string
	Emoji     string
	Added     bool
	Count     int // derived from the reacting set after the change
}

// ReadAdvance describes a cursor moving forward.
type ReadAdvance struct {
	UserID     string
	MessageID  string
	MessageSeq int64
}

// Commit is handed to subscribers after a mutation is stored. Seq is the
// conversation sequence allocated for this commit; it increases by one per
// commit, so a subscriber missing a value knows it missed an event.
type Commit struct {
	Kind           CommitKind
	ConversationID string
	Seq            int64
	Participants   []string

	Message  *data.Message   // set for CommitMessageAppended
	Reaction *ReactionChange // set for CommitReactionChanged
	Read     *ReadAdvance    // set for CommitReadAdvanced
}

// CommitHook observes commits. It runs while the conversation's sequencing
// unit is held and must not block or call back into the same conversation.
type CommitHook func(Commit)

// CommitBus fans commits out to the registered hooks in registration order.
type CommitBus struct {
	mu    sync.RWMutex
	hooks []CommitHook
}

// NewCommitBus returns a bus with no subscribers.
func NewCommitBus() *CommitBus {
	return &CommitBus{}
}

// Subscribe registers a hook for every future commit.
func (b *CommitBus) Subscribe(h CommitHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks = append(b.hooks, h)
}

func (b *CommitBus) publish(c Commit) {
	if b == nil {
		return
	}
	b.mu.RLock()
	hooks := slices.Clone(b.hooks)
	b.mu.RUnlock()

	for _, h := range hooks {
		h(c)
	}
}
