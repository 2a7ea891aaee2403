//go:generate go run go.uber.org/mock/mockgen -source=dispatcher.go -destination=../mocks/mock_notify.go -package=mocks

// Package notify decides which participants of a conversation need an
// out-of-band notification for a new message and hands those intents to a
// transport.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/PaulBabatuyi/realtime-convo/internal/data"
	"github.com/PaulBabatuyi/realtime-convo/internal/metrics"
)

const previewRunes = 80

// Intent asks the transport to notify one user about one message.
type Intent struct {
	UserID         string    `json:"userId"`
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	SenderID       string    `json:"senderId"`
	Preview        string    `json:"preview"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Key identifies the (participant, message) pair.
func (i Intent) Key() string {
	return i.MessageID + ":" + i.UserID
}

// Publisher delivers intents to whatever sends push or email.
type Publisher interface {
	Publish(ctx context.Context, intent Intent) error
}

// Ledger remembers which (participant, message) pairs were already handed
// to the publisher.
type Ledger interface {
	// Claim reports true the first time it sees key.
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets key so a later retry can claim it again.
	Release(ctx context.Context, key string) error
}

// Job is a message commit waiting for a notification decision.
type Job struct {
	Message      *data.Message
	Participants []string
	Connected    []string
}

type Dispatcher struct {
	log    *slog.Logger
	ledger Ledger
	pub    Publisher
	queue  chan Job
}

func NewDispatcher(log *slog.Logger, ledger Ledger, pub Publisher, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Dispatcher{
		log:    log,
		ledger: ledger,
		pub:    pub,
		queue:  make(chan Job, queueSize),
	}
}

// Decide is the pure part: one intent per participant that is neither the
// sender nor in connected.
func Decide(msg *data.Message, participants, connected []string) []Intent {
	absent := lo.Without(lo.Without(lo.Uniq(participants), connected...), msg.SenderID)
	preview := []rune(msg.Content)
	if len(preview) > previewRunes {
		preview = preview[:previewRunes]
	}
	return lo.Map(absent, func(user string, _ int) Intent {
		return Intent{
			UserID:         user,
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			SenderID:       msg.SenderID,
			Preview:        string(preview),
			CreatedAt:      msg.CreatedAt,
		}
	})
}

// OnMessageAppended decides and publishes. Pairs already claimed in the
// ledger are skipped, so retrying a message never notifies anyone twice. It
// returns the intents that were published.
func (d *Dispatcher) OnMessageAppended(ctx context.Context, msg *data.Message, participants, connected []string) ([]Intent, error) {
	var sent []Intent
	for _, intent := range Decide(msg, participants, connected) {
		first, err := d.ledger.Claim(ctx, intent.Key())
		if err != nil {
			return sent, fmt.Errorf("claim %s: %w", intent.Key(), err)
		}
		if !first {
			metrics.NotificationsTotal.WithLabelValues("duplicate").Inc()
			continue
		}

		if err := d.pub.Publish(ctx, intent); err != nil {
			if rerr := d.ledger.Release(ctx, intent.Key()); rerr != nil {
				d.log.Error("failed to release notification claim", "key", intent.Key(), "error", rerr)
			}
			metrics.NotificationsTotal.WithLabelValues("failed").Inc()
			return sent, fmt.Errorf("publish to %s: %w", intent.UserID, err)
		}
		metrics.NotificationsTotal.WithLabelValues("published").Inc()
		sent = append(sent, intent)
	}
	return sent, nil
}

// Submit queues a job for Run without blocking. It reports false when the
// queue is full and the job was dropped.
func (d *Dispatcher) Submit(job Job) bool {
	select {
	case d.queue <- job:
		return true
	default:
		metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
		d.log.Warn("notification queue full, dropping job",
			"conversation_id", job.Message.ConversationID, "message_id", job.Message.ID)
		return false
	}
}

// Run drains submitted jobs until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case job := <-d.queue:
			if _, err := d.OnMessageAppended(ctx, job.Message, job.Participants, job.Connected); err != nil {
				d.log.Error("notification dispatch failed", "message_id", job.Message.ID, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
