package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/PaulBabatuyi/realtime-convo/internal/data"
	"github.com/PaulBabatuyi/realtime-convo/internal/normalize"
)

// ReadTracker keeps one monotonic read cursor per (user, conversation) and
// derives unread counts from it.
//
// Messages a user sent themselves never count as unread for that user.
type ReadTracker struct {
	log     *slog.Logger
	convs   *ConversationStore
	msgs    data.MessageRepository
	cursors data.CursorRepository
	seq     *Sequencer
	bus     *CommitBus
	opts    options
}

// NewReadTracker returns a ReadTracker publishing commits on bus.
func NewReadTracker(log *slog.Logger, convs *ConversationStore, msgs data.MessageRepository, cursors data.CursorRepository, seq *Sequencer, bus *CommitBus, opts ...Option) *ReadTracker {
	return &ReadTracker{
		log:     log,
		convs:   convs,
		msgs:    msgs,
		cursors: cursors,
		seq:     seq,
		bus:     bus,
		opts:    buildOptions(opts),
	}
}

// MarkRead moves userID's cursor to messageID. It reports false without
// error when messageID is not strictly ahead of the current cursor.
func (r *ReadTracker) MarkRead(ctx context.Context, userID, conversationID, messageID string) (bool, error) {
	user := normalize.UserID(userID)

	unlock := r.seq.Lock(conversationID)
	defer unlock()

	conv, err := r.convs.requireParticipant(ctx, conversationID, user)
	if err != nil {
		return false, err
	}

	msg, err := r.msgs.MessageByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, data.ErrMessageNotFound) {
			return false, data.ErrInvalidMessage
		}
		return false, fmt.Errorf("lookup message: %w", err)
	}
	if msg.ConversationID != conversationID {
		return false, data.ErrInvalidMessage
	}

	cur, err := r.cursors.Cursor(ctx, user, conversationID)
	if err != nil {
		return false, fmt.Errorf("load cursor: %w", err)
	}
	if cur != nil && msg.Seq <= cur.LastReadSeq {
		return false, nil
	}

	seq, err := r.convs.nextSeq(ctx, conversationID)
	if err != nil {
		return false, err
	}
	next := &data.ReadCursor{
		UserID:            user,
		ConversationID:    conversationID,
		LastReadMessageID: msg.ID,
		LastReadSeq:       msg.Seq,
		UpdatedAt:         r.opts.now(),
	}
	if err := r.cursors.SaveCursor(ctx, next); err != nil {
		r.convs.releaseSeq(ctx, conversationID, seq)
		return false, fmt.Errorf("save cursor: %w", err)
	}

	r.bus.publish(Commit{
		Kind:           CommitReadAdvanced,
		ConversationID: conversationID,
		Seq:            seq,
		Participants:   conv.ParticipantIDs,
		Read: &ReadAdvance{
			UserID:     user,
			MessageID:  msg.ID,
			MessageSeq: msg.Seq,
		},
	})
	return true, nil
}

// Cursor returns userID's cursor or nil when nothing has been read.
func (r *ReadTracker) Cursor(ctx context.Context, userID, conversationID string) (*data.ReadCursor, error) {
	user := normalize.UserID(userID)
	if _, err := r.convs.requireParticipant(ctx, conversationID, user); err != nil {
		return nil, err
	}
	return r.cursors.Cursor(ctx, user, conversationID)
}

// UnreadCount counts messages after userID's cursor that someone else sent.
// Without a cursor every such message is unread.
func (r *ReadTracker) UnreadCount(ctx context.Context, userID, conversationID string) (int64, error) {
	user := normalize.UserID(userID)
	if _, err := r.convs.requireParticipant(ctx, conversationID, user); err != nil {
		return 0, err
	}
	return r.unread(ctx, user, conversationID)
}

func (r *ReadTracker) unread(ctx context.Context, user, conversationID string) (int64, error) {
	cur, err := r.cursors.Cursor(ctx, user, conversationID)
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	var after int64
	if cur != nil {
		after = cur.LastReadSeq
	}
	return r.msgs.CountMessagesAfter(ctx, conversationID, after, user)
}

// Inbox lists the user's conversations with their last message and unread
// count, most recent activity first. Activity is the last message's
// created_at, or the conversation's when it has no messages.
func (r *ReadTracker) Inbox(ctx context.Context, userID string) ([]data.ConversationSummary, error) {
	user := normalize.UserID(userID)
	convs, err := r.convs.ListForUser(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	out := make([]data.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		summary := data.ConversationSummary{Conversation: c}

		last, err := r.msgs.LastMessage(ctx, c.ID)
		switch {
		case err == nil:
			summary.LastMessage = last
		case !errors.Is(err, data.ErrMessageNotFound):
			return nil, fmt.Errorf("last message of %s: %w", c.ID, err)
		}

		if summary.UnreadCount, err = r.unread(ctx, user, c.ID); err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	slices.SortStableFunc(out, func(a, b data.ConversationSummary) int {
		if c := lastActivity(b).Compare(lastActivity(a)); c != 0 {
			return c
		}
		return strings.Compare(a.Conversation.ID, b.Conversation.ID)
	})
	return out, nil
}

func lastActivity(s data.ConversationSummary) time.Time {
	if s.LastMessage != nil {
		return s.LastMessage.CreatedAt
	}
	return s.Conversation.CreatedAt
}
