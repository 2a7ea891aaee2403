package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/PaulBabatuyi/realtime-convo/internal/data"
	"github.com/PaulBabatuyi/realtime-convo/internal/normalize"
)

// listPageSize is how many messages ListSince pulls from the repository per round trip.
const listPageSize = 200

// AppendRequest carries the inputs of MessageLog.Append.
type AppendRequest struct {
	ConversationID string
	SenderID       string
	Content        string
	ReplyToID      string // optional
}

// MessageLog is the append-only, per-conversation ordered message sequence.
type MessageLog struct {
	log   *slog.Logger
	convs *ConversationStore
	repo  data.MessageRepository
	seq   *Sequencer
	bus   *CommitBus
	opts  options
}

// NewMessageLog returns a MessageLog publishing commits on bus.
func NewMessageLog(log *slog.Logger, convs *ConversationStore, repo data.MessageRepository, seq *Sequencer, bus *CommitBus, opts ...Option) *MessageLog {
	return &MessageLog{
		log:   log,
		convs: convs,
		repo:  repo,
		seq:   seq,
		bus:   bus,
		opts:  buildOptions(opts),
	}
}

// Append validates and stores a message. It is the only way messages enter
// the system. Within a conversation, appends are serialized and each one gets
// a strictly larger seq and a created_at no earlier than its predecessor's.
func (l *MessageLog) Append(ctx context.Context, req AppendRequest) (*data.Message, error) {
	sender := normalize.UserID(req.SenderID)

	unlock := l.seq.Lock(req.ConversationID)
	defer unlock()

	conv, err := l.convs.requireParticipant(ctx, req.ConversationID, sender)
	if err != nil {
		return nil, err
	}
	if conv.Archived {
		return nil, data.ErrConversationArchived
	}

	content := normalize.Content(req.Content)
	if content == "" {
		return nil, data.ErrEmptyContent
	}
	if n := l.opts.maxContentLength; n > 0 && utf8.RuneCountInString(content) > n {
		return nil, data.ErrContentTooLong
	}

	if req.ReplyToID != "" {
		parent, err := l.repo.MessageByID(ctx, req.ReplyToID)
		if err != nil {
			if errors.Is(err, data.ErrMessageNotFound) {
				return nil, data.ErrInvalidReply
			}
			return nil, fmt.Errorf("lookup reply target: %w", err)
		}
		if parent.ConversationID != req.ConversationID {
			return nil, data.ErrInvalidReply
		}
	}

	at := l.opts.now()
	prev, err := l.repo.LastMessage(ctx, req.ConversationID)
	switch {
	case err == nil:
		// the wall clock may step backwards; storage order must not
		if at.Before(prev.CreatedAt) {
			at = prev.CreatedAt
		}
	case !errors.Is(err, data.ErrMessageNotFound):
		return nil, fmt.Errorf("lookup last message: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}
	seq, err := l.convs.nextSeq(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}

	msg := &data.Message{
		ID:             id.String(),
		ConversationID: req.ConversationID,
		SenderID:       sender,
		Content:        content,
		ReplyToID:      req.ReplyToID,
		Seq:            seq,
		CreatedAt:      at,
	}
	if err := l.repo.InsertMessage(ctx, msg); err != nil {
		l.convs.releaseSeq(ctx, req.ConversationID, seq)
		return nil, fmt.Errorf("insert message: %w", err)
	}

	l.bus.publish(Commit{
		Kind:           CommitMessageAppended,
		ConversationID: msg.ConversationID,
		Seq:            seq,
		Participants:   conv.ParticipantIDs,
		Message:        msg.Clone(),
	})
	return msg, nil
}

// AddReaction records userID's emoji on a message. Adding twice is a no-op.
// The bool reports whether the stored state changed.
func (l *MessageLog) AddReaction(ctx context.Context, messageID, userID, emoji string) (*data.Message, bool, error) {
	return l.setReaction(ctx, messageID, userID, emoji, true)
}

// RemoveReaction drops userID's emoji from a message. Removing a reaction
// that isn't there is a no-op.
func (l *MessageLog) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (*data.Message, bool, error) {
	return l.setReaction(ctx, messageID, userID, emoji, false)
}

func (l *MessageLog) setReaction(ctx context.Context, messageID, userID, emoji string, present bool) (*data.Message, bool, error) {
	user := normalize.UserID(userID)
	e, ok := normalize.Emoji(emoji)
	if !ok {
		return nil, false, data.ErrInvalidEmoji
	}

	target, err := l.repo.MessageByID(ctx, messageID)
	if err != nil {
		return nil, false, err
	}

	unlock := l.seq.Lock(target.ConversationID)
	defer unlock()

	conv, err := l.convs.requireParticipant(ctx, target.ConversationID, user)
	if err != nil {
		return nil, false, err
	}

	seq, err := l.convs.nextSeq(ctx, target.ConversationID)
	if err != nil {
		return nil, false, err
	}
	updated, changed, err := l.repo.SetReaction(ctx, messageID, e, user, present)
	if err != nil {
		l.convs.releaseSeq(ctx, target.ConversationID, seq)
		return nil, false, fmt.Errorf("set reaction: %w", err)
	}
	if !changed {
		l.convs.releaseSeq(ctx, target.ConversationID, seq)
		return updated, false, nil
	}

	l.bus.publish(Commit{
		Kind:           CommitReactionChanged,
		ConversationID: target.ConversationID,
		Seq:            seq,
		Participants:   conv.ParticipantIDs,
		Reaction: &ReactionChange{
			MessageID: messageID,
			UserID:    user,
			Emoji:     e,
			Added:     present,
			Count:     updated.ReactionCount(e),
		},
	})
	return updated, true, nil
}

// Get returns a single message.
func (l *MessageLog) Get(ctx context.Context, messageID string) (*data.Message, error) {
	return l.repo.MessageByID(ctx, messageID)
}

// ListSince yields the conversation's messages in ascending order, starting
// after afterMessageID (or from the first message when it is empty), at most
// limit of them (no bound when limit <= 0).
//
// The sequence is lazy: pages are fetched as the caller ranges over it. It is
// also restartable: ranging again re-reads from the same starting point, and
// because storage order never changes the same cursor yields the same prefix.
func (l *MessageLog) ListSince(ctx context.Context, conversationID, afterMessageID string, limit int) iter.Seq2[*data.Message, error] {
	return func(yield func(*data.Message, error) bool) {
		var after int64
		if afterMessageID != "" {
			m, err := l.repo.MessageByID(ctx, afterMessageID)
			if err != nil && !errors.Is(err, data.ErrMessageNotFound) {
				yield(nil, err)
				return
			}
			if err != nil || m.ConversationID != conversationID {
				yield(nil, data.ErrInvalidMessage)
				return
			}
			after = m.Seq
		}

		remaining := limit
		for {
			size := listPageSize
			if limit > 0 && remaining < size {
				size = remaining
			}
			page, err := l.repo.MessagesAfter(ctx, conversationID, after, size)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, m := range page {
				if !yield(m, nil) {
					return
				}
				after = m.Seq
			}
			remaining -= len(page)
			if len(page) < size || (limit > 0 && remaining <= 0) {
				return
			}
		}
	}
}

// History is the pagination entry point: it checks that viewerID may read
// the conversation and collects one page from ListSince.
func (l *MessageLog) History(ctx context.Context, viewerID, conversationID, afterMessageID string, limit int) ([]*data.Message, error) {
	if _, err := l.convs.requireParticipant(ctx, conversationID, normalize.UserID(viewerID)); err != nil {
		return nil, err
	}
	return Collect(l.ListSince(ctx, conversationID, afterMessageID, limit))
}

// Collect drains a message sequence, stopping at the first error.
func Collect(seq iter.Seq2[*data.Message, error]) ([]*data.Message, error) {
	var out []*data.Message
	for m, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
