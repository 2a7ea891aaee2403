package data

import (
	"slices"
	"strings"
	"time"
)

// ConversationKind distinguishes 1:1 threads from community-bound threads.
type ConversationKind string

const (
	KindDirect    ConversationKind = "direct"
	KindCommunity ConversationKind = "community"
)

// Conversation maps to the conversations collection.
type Conversation struct {
	ID             string           `bson:"_id" json:"id"`
	Kind           ConversationKind `bson:"kind" json:"kind"`
	ParticipantIDs []string         `bson:"participant_ids" json:"participantIds"`
	CommunityRef   string           `bson:"community_ref,omitempty" json:"communityRef,omitempty"` // set iff Kind == KindCommunity
	DirectKey      string           `bson:"direct_key,omitempty" json:"-"`                         // set iff Kind == KindDirect
	LastSeq        int64            `bson:"last_seq" json:"lastSeq"`                               // last commit sequence handed out
	Archived       bool             `bson:"archived" json:"archived"`
	CreatedAt      time.Time        `bson:"created_at" json:"createdAt"`
}

// HasParticipant reports whether userID belongs to the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	return slices.Contains(c.ParticipantIDs, userID)
}

// Clone returns a deep copy so callers can't mutate repository state.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.ParticipantIDs = slices.Clone(c.ParticipantIDs)
	return &cp
}

// DirectKey returns the order-independent key for a pair of users.
func DirectKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// Message maps to the messages collection. Messages are immutable once
// stored apart from Reactions.
type Message struct {
	ID             string              `bson:"_id" json:"id"`
	ConversationID string              `bson:"conversation_id" json:"conversationId"`
	SenderID       string              `bson:"sender_id" json:"senderId"`
	Content        string              `bson:"content" json:"content"`
	ReplyToID      string              `bson:"reply_to_id,omitempty" json:"replyToId,omitempty"`
	Seq            int64               `bson:"seq" json:"seq"`
	CreatedAt      time.Time           `bson:"created_at" json:"createdAt"`
	Reactions      map[string][]string `bson:"reactions,omitempty" json:"reactions,omitempty"` // emoji -> user ids
}

// OrderKey is the total order of messages inside a conversation.
type OrderKey struct {
	At  time.Time
	Seq int64
}

// Before reports whether k sorts ahead of other.
func (k OrderKey) Before(other OrderKey) bool {
	if !k.At.Equal(other.At) {
		return k.At.Before(other.At)
	}
	return k.Seq < other.Seq
}

// OrderKey returns the message's position in its conversation.
func (m *Message) OrderKey() OrderKey {
	return OrderKey{At: m.CreatedAt, Seq: m.Seq}
}

// ReactionCount is derived from the reacting user set.
func (m *Message) ReactionCount(emoji string) int {
	return len(m.Reactions[emoji])
}

// HasReaction reports whether userID currently holds emoji on the message.
func (m *Message) HasReaction(emoji, userID string) bool {
	return slices.Contains(m.Reactions[emoji], userID)
}

// Clone returns a deep copy of the message including its reaction sets.
func (m *Message) Clone() *Message {
	cp := *m
	if m.Reactions != nil {
		cp.Reactions = make(map[string][]string, len(m.Reactions))
		for emoji, users := range m.Reactions {
			if len(users) == 0 {
				continue
			}
			cp.Reactions[emoji] = slices.Clone(users)
		}
	}
	return &cp
}

// ReadCursor maps to the read_cursors collection.
type ReadCursor struct {
	UserID            string    `bson:"user_id" json:"userId"`
	ConversationID    string    `bson:"conversation_id" json:"conversationId"`
	LastReadMessageID string    `bson:"last_read_message_id" json:"lastReadMessageId"`
	LastReadSeq       int64     `bson:"last_read_seq" json:"lastReadSeq"`
	UpdatedAt         time.Time `bson:"updated_at" json:"updatedAt"`
}

// ConversationSummary is a minimal struct used by ListConversations responses.
type ConversationSummary struct {
	Conversation *Conversation `json:"conversation"`
	LastMessage  *Message      `json:"lastMessage,omitempty"`
	UnreadCount  int64         `json:"unreadCount"`
}

// cursorID is the composite identity of a read cursor.
func cursorID(userID, conversationID string) string {
	return strings.Join([]string{userID, conversationID}, "/")
}
