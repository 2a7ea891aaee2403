// Package data provides DB models and stores.
package data

import "context"

// ConversationRepository persists conversations. Implementations return
// ErrConversationNotFound for unknown ids and ErrDuplicate when a direct key
// or community ref is already taken.
type ConversationRepository interface {
	InsertConversation(ctx context.Context, c *Conversation) error
	ConversationByID(ctx context.Context, id string) (*Conversation, error)
	ConversationByDirectKey(ctx context.Context, key string) (*Conversation, error)
	ConversationByCommunity(ctx context.Context, communityRef string) (*Conversation, error)
	ConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error)
	AddParticipant(ctx context.Context, id, userID string) (*Conversation, error)
	SetArchived(ctx context.Context, id string, archived bool) error
	// NextSeq atomically increments and returns the conversation's commit sequence.
	NextSeq(ctx context.Context, id string) (int64, error)
	// ReleaseSeq hands seq back when it is still the latest allocation, so a
	// write that failed after NextSeq leaves no gap.
	ReleaseSeq(ctx context.Context, id string, seq int64) error
}

// MessageRepository persists messages and their reaction sets.
type MessageRepository interface {
	InsertMessage(ctx context.Context, m *Message) error
	MessageByID(ctx context.Context, id string) (*Message, error)
	// LastMessage returns ErrMessageNotFound for an empty conversation.
	LastMessage(ctx context.Context, conversationID string) (*Message, error)
	// MessagesAfter returns at most limit messages with seq > afterSeq, ascending.
	MessagesAfter(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]*Message, error)
	// CountMessagesAfter counts messages with seq > afterSeq not sent by excludeSender.
	CountMessagesAfter(ctx context.Context, conversationID string, afterSeq int64, excludeSender string) (int64, error)
	// SetReaction adds (present) or removes userID from the emoji's set. The
	// returned bool reports whether the stored state changed.
	SetReaction(ctx context.Context, messageID, emoji, userID string, present bool) (*Message, bool, error)
}

// CursorRepository persists read cursors.
type CursorRepository interface {
	// Cursor returns nil, nil when the user has not read anything yet.
	Cursor(ctx context.Context, userID, conversationID string) (*ReadCursor, error)
	SaveCursor(ctx context.Context, c *ReadCursor) error
}
