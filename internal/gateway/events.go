package gateway

import (
	"encoding/json"
	"errors"

	"github.com/PaulBabatuyi/realtime-convo/internal/data"
	"github.com/PaulBabatuyi/realtime-convo/internal/presence"
)

type ActionType string

const (
	ActionSendMessage    ActionType = "send_message"
	ActionAddReaction    ActionType = "add_reaction"
	ActionRemoveReaction ActionType = "remove_reaction"
	ActionMarkRead       ActionType = "mark_read"
	ActionTypingStart    ActionType = "typing_start"
	ActionTypingStop     ActionType = "typing_stop"
	ActionHistory        ActionType = "history"
	ActionPing           ActionType = "ping"
)

// Action is the inbound envelope.
type Action struct {
	RequestID      string          `json:"requestId,omitempty" validate:"max=128"`
	Type           ActionType      `json:"type" validate:"required"`
	ConversationID string          `json:"conversationId" validate:"required_unless=Type ping,max=128"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

type SendMessagePayload struct {
	Content   string `json:"content" validate:"required"`
	ReplyToID string `json:"replyToId,omitempty" validate:"max=128"`
}

type ReactionPayload struct {
	MessageID string `json:"messageId" validate:"required,max=128"`
	Emoji     string `json:"emoji" validate:"required"`
}

type MarkReadPayload struct {
	MessageID string `json:"messageId" validate:"required,max=128"`
}

type TypingPayload struct {
	TTLMillis int `json:"ttlMs,omitempty" validate:"gte=0,lte=30000"`
}

type HistoryPayload struct {
	AfterMessageID string `json:"afterMessageId,omitempty" validate:"max=128"`
	Limit          int    `json:"limit,omitempty" validate:"gte=0,lte=500"`
}

type EventType string

const (
	EventMessageAppended EventType = "message_appended"
	EventReactionChanged EventType = "reaction_changed"
	EventReadAdvanced    EventType = "read_advanced"
	EventTypingChanged   EventType = "typing_changed"
	EventPresenceChanged EventType = "presence_changed"
	// EventResyncRequired tells the client that events for the conversation
	// were dropped and it must page history from its last known message.
	EventResyncRequired EventType = "resync_required"
)

// Event is the outbound envelope. ServerOrder is the conversation's commit
// sequence for committed events and 0 for typing, presence and control events.
type Event struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationId,omitempty"`
	Payload        any       `json:"payload"`
	ServerOrder    int64     `json:"serverOrder"`
}

type ReactionChangedPayload struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
	Added     bool   `json:"added"`
	Count     int    `json:"count"`
}

type ReadAdvancedPayload struct {
	UserID    string `json:"userId"`
	MessageID string `json:"messageId"`
}

type TypingChangedPayload struct {
	UserID string `json:"userId"`
	Typing bool   `json:"typing"`
}

type PresenceChangedPayload = presence.State

type ResyncPayload struct {
	Reason string `json:"reason"`
}

// Ack codes.
const (
	CodeOK             = "ok"
	CodeValidation     = "validation"
	CodeNotParticipant = "not_participant"
	CodeNotFound       = "not_found"
	CodeInvalidReply   = "invalid_reply"
	CodeInvalidMessage = "invalid_message"
	CodeArchived       = "archived"
	CodeRateLimited    = "rate_limited"
	CodeUnknownAction  = "unknown_action"
	CodeInternal       = "internal"
)

// Ack answers one action, to its originator only.
type Ack struct {
	RequestID string          `json:"requestId,omitempty"`
	Type      ActionType      `json:"type"`
	Code      string          `json:"code"`
	Error     string          `json:"error,omitempty"`
	Changed   bool            `json:"changed,omitempty"`
	Message   *data.Message   `json:"message,omitempty"`
	Messages  []*data.Message `json:"messages,omitempty"`
}

func (a Ack) OK() bool { return a.Code == CodeOK }

// Frame is what a transport writes: exactly one of Event or Ack is set.
type Frame struct {
	Event *Event `json:"event,omitempty"`
	Ack   *Ack   `json:"ack,omitempty"`
}

// ErrorCode maps a component error onto an Ack code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, data.ErrValidation):
		return CodeValidation
	case errors.Is(err, data.ErrNotParticipant):
		return CodeNotParticipant
	case errors.Is(err, data.ErrConversationNotFound), errors.Is(err, data.ErrMessageNotFound):
		return CodeNotFound
	case errors.Is(err, data.ErrInvalidReply):
		return CodeInvalidReply
	case errors.Is(err, data.ErrInvalidMessage):
		return CodeInvalidMessage
	case errors.Is(err, data.ErrConversationArchived):
		return CodeArchived
	default:
		return CodeInternal
	}
}
