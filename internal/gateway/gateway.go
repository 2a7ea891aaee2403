// Package gateway is the realtime edge: one session per connected user,
// inbound action routing and per-conversation ordered fan-out of events.
//
// Committed events are enqueued from chat commit hooks, which run while the
// conversation's sequencing unit is held. Every recipient therefore sees the
// events of one conversation in commit order, whatever transport it uses.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/PaulBabatuyi/realtime-convo/internal/chat"
	"github.com/PaulBabatuyi/realtime-convo/internal/data"
	"github.com/PaulBabatuyi/realtime-convo/internal/metrics"
	"github.com/PaulBabatuyi/realtime-convo/internal/notify"
	"github.com/PaulBabatuyi/realtime-convo/internal/presence"
)

type Config struct {
	QueueSize        int
	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration
	HistoryLimit     int
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 60 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Second
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 50
	}
	return c
}

// Limiter throttles inbound actions per user.
type Limiter interface {
	Allow(key string) bool
}

// Notifier receives message commits for participants without a session.
type Notifier interface {
	Submit(job notify.Job) bool
}

type Deps struct {
	Conversations *chat.ConversationStore
	Messages      *chat.MessageLog
	Reads         *chat.ReadTracker
	Presence      *presence.Hub
	Notifier      Notifier // optional
	Limiter       Limiter  // optional
}

type Gateway struct {
	log      *slog.Logger
	deps     Deps
	cfg      Config
	registry *Registry
	validate *validator.Validate
	now      func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock overrides the time source used for heartbeats.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// New builds a gateway and subscribes it to bus.
func New(log *slog.Logger, bus *chat.CommitBus, deps Deps, cfg Config, opts ...Option) *Gateway {
	g := &Gateway{
		log:      log,
		deps:     deps,
		cfg:      cfg.withDefaults(),
		registry: NewRegistry(),
		validate: validator.New(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	bus.Subscribe(g.onCommit)
	return g
}

// Connect opens a session for userID. An existing session of the same user
// is closed and replaced.
func (g *Gateway) Connect(ctx context.Context, userID string) *Session {
	s := newSession(g.registry.newID(), userID, g.cfg.QueueSize, g.now())
	if prev := g.registry.Register(s); prev != nil {
		g.log.Info("session replaced", "user_id", userID, "previous_session", prev.ID())
		prev.Close()
	}
	metrics.ActiveSessions.Set(float64(g.registry.Len()))

	if g.deps.Presence.Connect(userID) {
		g.broadcastPresence(ctx, userID)
	}
	g.log.Info("session opened", "user_id", userID, "session_id", s.ID())
	return s
}

// Disconnect closes s. Presence is released only if s is still the user's
// current session.
func (g *Gateway) Disconnect(ctx context.Context, s *Session) {
	s.Close()
	if !g.registry.Unregister(s) {
		return
	}
	metrics.ActiveSessions.Set(float64(g.registry.Len()))

	changed, stopped := g.deps.Presence.Disconnect(s.UserID())
	for _, conv := range stopped {
		g.broadcastTyping(ctx, conv, s.UserID(), false)
	}
	if changed {
		g.broadcastPresence(ctx, s.UserID())
	}
	g.log.Info("session closed", "user_id", s.UserID(), "session_id", s.ID())
}

// Session returns the current session of userID, or nil.
func (g *Gateway) Session(userID string) *Session {
	return g.registry.Get(userID)
}

// SessionCount returns the number of open sessions.
func (g *Gateway) SessionCount() int {
	return g.registry.Len()
}

// Connected filters userIDs down to those with an open session.
func (g *Gateway) Connected(userIDs []string) []string {
	return g.registry.Connected(userIDs)
}

// Handle runs one inbound action for the session's user. Failures are
// reported in the returned Ack only.
func (g *Gateway) Handle(ctx context.Context, s *Session, a Action) Ack {
	s.Touch(g.now())
	ack := g.handle(ctx, s, a)
	ack.RequestID = a.RequestID
	ack.Type = a.Type
	metrics.ActionsTotal.WithLabelValues(string(a.Type), ack.Code).Inc()
	if ack.Code == CodeInternal {
		g.log.Error("action failed", "user_id", s.UserID(), "type", a.Type,
			"conversation_id", a.ConversationID, "error", ack.Error)
		ack.Error = "internal error"
	}
	return ack
}

func (g *Gateway) handle(ctx context.Context, s *Session, a Action) Ack {
	if a.Type == ActionPing {
		return Ack{Code: CodeOK}
	}
	if g.deps.Limiter != nil && !g.deps.Limiter.Allow(s.UserID()) {
		return Ack{Code: CodeRateLimited, Error: "rate limit exceeded"}
	}
	if err := g.validate.Struct(a); err != nil {
		return Ack{Code: CodeValidation, Error: err.Error()}
	}

	user := s.UserID()
	switch a.Type {
	case ActionSendMessage:
		var p SendMessagePayload
		if ack, ok := g.decode(a, &p); !ok {
			return ack
		}
		msg, err := g.deps.Messages.Append(ctx, chat.AppendRequest{
			ConversationID: a.ConversationID,
			SenderID:       user,
			Content:        p.Content,
			ReplyToID:      p.ReplyToID,
		})
		if err != nil {
			return failure(err)
		}
		if g.deps.Presence.StopTyping(user, a.ConversationID) {
			g.broadcastTyping(ctx, a.ConversationID, user, false)
		}
		return Ack{Code: CodeOK, Changed: true, Message: msg}

	case ActionAddReaction, ActionRemoveReaction:
		var p ReactionPayload
		if ack, ok := g.decode(a, &p); !ok {
			return ack
		}
		target, err := g.deps.Messages.Get(ctx, p.MessageID)
		if err != nil {
			return failure(err)
		}
		if target.ConversationID != a.ConversationID {
			return failure(data.ErrInvalidMessage)
		}
		var (
			msg     *data.Message
			changed bool
		)
		if a.Type == ActionAddReaction {
			msg, changed, err = g.deps.Messages.AddReaction(ctx, p.MessageID, user, p.Emoji)
		} else {
			msg, changed, err = g.deps.Messages.RemoveReaction(ctx, p.MessageID, user, p.Emoji)
		}
		if err != nil {
			return failure(err)
		}
		return Ack{Code: CodeOK, Changed: changed, Message: msg}

	case ActionMarkRead:
		var p MarkReadPayload
		if ack, ok := g.decode(a, &p); !ok {
			return ack
		}
		advanced, err := g.deps.Reads.MarkRead(ctx, user, a.ConversationID, p.MessageID)
		if err != nil {
			return failure(err)
		}
		return Ack{Code: CodeOK, Changed: advanced}

	case ActionTypingStart:
		var p TypingPayload
		if ack, ok := g.decode(a, &p); !ok {
			return ack
		}
		started, err := g.deps.Presence.StartTyping(ctx, user, a.ConversationID, time.Duration(p.TTLMillis)*time.Millisecond)
		if err != nil {
			return failure(err)
		}
		if started {
			g.broadcastTyping(ctx, a.ConversationID, user, true)
		}
		return Ack{Code: CodeOK, Changed: started}

	case ActionTypingStop:
		stopped := g.deps.Presence.StopTyping(user, a.ConversationID)
		if stopped {
			g.broadcastTyping(ctx, a.ConversationID, user, false)
		}
		return Ack{Code: CodeOK, Changed: stopped}

	case ActionHistory:
		var p HistoryPayload
		if ack, ok := g.decode(a, &p); !ok {
			return ack
		}
		msgs, err := g.History(ctx, user, a.ConversationID, p.AfterMessageID, p.Limit)
		if err != nil {
			return failure(err)
		}
		return Ack{Code: CodeOK, Messages: msgs}

	default:
		return Ack{Code: CodeUnknownAction, Error: fmt.Sprintf("unknown action %q", a.Type)}
	}
}

// History pages a conversation for userID. A successful page clears the
// resync flag of the user's session for that conversation.
func (g *Gateway) History(ctx context.Context, userID, conversationID, afterMessageID string, limit int) ([]*data.Message, error) {
	if limit <= 0 || limit > g.cfg.HistoryLimit*10 {
		limit = g.cfg.HistoryLimit
	}
	msgs, err := g.deps.Messages.History(ctx, userID, conversationID, afterMessageID, limit)
	if err != nil {
		return nil, err
	}
	if s := g.registry.Get(userID); s != nil {
		s.clearResync(conversationID)
	}
	return msgs, nil
}

func (g *Gateway) decode(a Action, v any) (Ack, bool) {
	if len(a.Payload) > 0 {
		if err := json.Unmarshal(a.Payload, v); err != nil {
			return Ack{Code: CodeValidation, Error: "malformed payload"}, false
		}
	}
	if err := g.validate.Struct(v); err != nil {
		return Ack{Code: CodeValidation, Error: err.Error()}, false
	}
	return Ack{}, true
}

func failure(err error) Ack {
	return Ack{Code: ErrorCode(err), Error: err.Error()}
}

// onCommit runs under the conversation's sequencing unit.
func (g *Gateway) onCommit(c chat.Commit) {
	ev := &Event{ConversationID: c.ConversationID, ServerOrder: c.Seq}
	switch c.Kind {
	case chat.CommitMessageAppended:
		ev.Type = EventMessageAppended
		ev.Payload = c.Message
	case chat.CommitReactionChanged:
		ev.Type = EventReactionChanged
		ev.Payload = ReactionChangedPayload{
			MessageID: c.Reaction.MessageID,
			UserID:    c.Reaction.UserID,
			Emoji:     c.Reaction.Emoji,
			Added:     c.Reaction.Added,
			Count:     c.Reaction.Count,
		}
	case chat.CommitReadAdvanced:
		ev.Type = EventReadAdvanced
		ev.Payload = ReadAdvancedPayload{UserID: c.Read.UserID, MessageID: c.Read.MessageID}
	default:
		return
	}

	sessions := g.registry.Sessions(c.Participants)
	g.deliver(sessions, ev)

	if c.Kind == chat.CommitMessageAppended && g.deps.Notifier != nil {
		g.deps.Notifier.Submit(notify.Job{
			Message:      c.Message,
			Participants: c.Participants,
			Connected:    lo.Map(sessions, func(s *Session, _ int) string { return s.UserID() }),
		})
	}
}

func (g *Gateway) deliver(sessions []*Session, ev *Event) {
	for _, s := range sessions {
		if s.enqueue(Frame{Event: ev}) {
			metrics.EventsDropped.Inc()
			g.log.Warn("session queue full, dropped oldest event",
				"user_id", s.UserID(), "session_id", s.ID())
		}
		metrics.EventsDelivered.WithLabelValues(string(ev.Type)).Inc()
	}
}

func (g *Gateway) broadcastTyping(ctx context.Context, conversationID, userID string, typing bool) {
	participants, err := g.deps.Conversations.Participants(ctx, conversationID)
	if err != nil {
		g.log.Warn("typing broadcast skipped", "conversation_id", conversationID, "error", err)
		return
	}
	g.deliver(g.registry.Sessions(participants), &Event{
		Type:           EventTypingChanged,
		ConversationID: conversationID,
		Payload:        TypingChangedPayload{UserID: userID, Typing: typing},
	})
}

// broadcastPresence tells everyone sharing a conversation with userID.
func (g *Gateway) broadcastPresence(ctx context.Context, userID string) {
	convs, err := g.deps.Conversations.ListForUser(ctx, userID)
	if err != nil {
		g.log.Warn("presence broadcast skipped", "user_id", userID, "error", err)
		return
	}
	var contacts []string
	for _, c := range convs {
		contacts = append(contacts, c.ParticipantIDs...)
	}
	contacts = lo.Without(lo.Uniq(contacts), userID)

	g.deliver(g.registry.Sessions(contacts), &Event{
		Type:    EventPresenceChanged,
		Payload: g.deps.Presence.Status(userID),
	})
}

func (g *Gateway) onTypingExpired(keys []presence.TypingKey) {
	ctx := context.Background()
	for _, k := range keys {
		g.broadcastTyping(ctx, k.ConversationID, k.UserID, false)
	}
}

// Reap disconnects sessions silent for longer than the heartbeat timeout and
// returns how many it closed.
func (g *Gateway) Reap(ctx context.Context) int {
	cutoff := g.now().Add(-g.cfg.HeartbeatTimeout)
	n := 0
	for _, s := range g.registry.All() {
		if s.LastSeen().Before(cutoff) {
			g.log.Info("reaping silent session", "user_id", s.UserID(), "last_seen", s.LastSeen())
			g.Disconnect(ctx, s)
			metrics.SessionsReaped.Inc()
			n++
		}
	}
	return n
}

// Run drives the heartbeat reaper and the typing sweep until ctx is done.
func (g *Gateway) Run(ctx context.Context) {
	go g.deps.Presence.Run(ctx, g.cfg.SweepInterval, g.onTypingExpired)

	ticker := time.NewTicker(g.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.Reap(ctx)
		case <-ctx.Done():
			return
		}
	}
}
