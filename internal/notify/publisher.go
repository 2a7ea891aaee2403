package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// subjectToken keeps a user id inside a single NATS subject token.
var subjectToken = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

// LogPublisher writes intents to the log. Used when no broker is configured.
type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(log *slog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, intent Intent) error {
	p.log.Info("notification intent",
		"user_id", intent.UserID,
		"conversation_id", intent.ConversationID,
		"message_id", intent.MessageID)
	return nil
}

// JetStreamPublisher publishes intents to <prefix>.<userID> on a JetStream
// stream. The intent key doubles as the JetStream message id, so the broker
// drops duplicates inside its dedupe window as well.
type JetStreamPublisher struct {
	js     jetstream.JetStream
	nc     *nats.Conn
	prefix string
	log    *slog.Logger
}

// NewJetStreamPublisher connects to url and makes sure stream exists.
func NewJetStreamPublisher(ctx context.Context, log *slog.Logger, url, stream, prefix string) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("convo-notify"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := js.Stream(ctx, stream); err != nil {
		log.Info("notification stream not found, creating", "stream", stream)
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        stream,
			Description: "Notification intents for offline participants",
			Subjects:    []string{prefix + ".>"},
			MaxAge:      24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Duplicates:  10 * time.Minute,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create stream %q: %w", stream, err)
		}
	}

	return &JetStreamPublisher{js: js, nc: nc, prefix: prefix, log: log}, nil
}

func (p *JetStreamPublisher) Publish(ctx context.Context, intent Intent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("failed to marshal intent: %w", err)
	}

	subject := p.prefix + "." + subjectToken.Replace(intent.UserID)
	ack, err := p.js.Publish(ctx, subject, payload, jetstream.WithMsgID(intent.Key()))
	if err != nil {
		return fmt.Errorf("failed to publish to %q: %w", subject, err)
	}
	if ack.Duplicate {
		p.log.Debug("broker dropped duplicate intent", "key", intent.Key())
	}
	return nil
}

func (p *JetStreamPublisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
