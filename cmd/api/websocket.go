package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/PaulBabatuyi/realtime-convo/internal/auth"
	"github.com/PaulBabatuyi/realtime-convo/internal/gateway"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 64 << 10

	userIDLocal = "user_id"
)

// wsAuth verifies the bearer token of a websocket upgrade. Browsers cannot
// set headers on upgrade requests, so a token query parameter is accepted.
func wsAuth(j *auth.JWTManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		token := c.Query("token")
		if token == "" {
			token = bearerToken(c.Get(fiber.HeaderAuthorization))
		}
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing token")
		}
		claims, err := j.VerifyToken(token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}
		c.Locals(userIDLocal, claims.UserID)
		return c.Next()
	}
}

// wsHandler serves the same action and frame envelopes as the gRPC stream.
// Sessions end when ctx is done.
func (s *Server) wsHandler(ctx context.Context) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		userID, _ := c.Locals(userIDLocal).(string)
		if userID == "" {
			_ = c.Close()
			return
		}

		t := newWSTransport(c, s.log.With("user_id", userID))
		defer t.stopPings()
		if err := s.serve(ctx, userID, t, t.Close); err != nil {
			s.log.Warn("websocket session ended", "user_id", userID, "error", err)
		}
	})
}

// wsTransport adapts a websocket connection to transport. Frames are written
// by a single goroutine; pings use WriteControl, which may run concurrently.
type wsTransport struct {
	conn   *websocket.Conn
	log    *slog.Logger
	closed atomic.Bool
	sess   atomic.Pointer[gateway.Session]
	done   chan struct{}
	once   sync.Once
}

func newWSTransport(conn *websocket.Conn, log *slog.Logger) *wsTransport {
	t := &wsTransport{conn: conn, log: log, done: make(chan struct{})}

	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		if s := t.sess.Load(); s != nil {
			s.Touch(time.Now())
		}
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	go t.pingLoop()
	return t
}

func (t *wsTransport) bind(s *gateway.Session) { t.sess.Store(s) }

func (t *wsTransport) Recv() (*gateway.Action, error) {
	_, raw, err := t.conn.ReadMessage()
	if err != nil {
		if t.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	_ = t.conn.SetReadDeadline(time.Now().Add(wsPongWait))

	var a gateway.Action
	if err := json.Unmarshal(raw, &a); err != nil {
		// an action without a type is answered with a validation ack
		t.log.Debug("malformed websocket frame", "error", err)
		return &gateway.Action{}, nil
	}
	return &a, nil
}

func (t *wsTransport) Send(f *gateway.Frame) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return t.conn.WriteJSON(f)
}

func (t *wsTransport) Close() error {
	t.closed.Store(true)
	t.stopPings()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
	return t.conn.Close()
}

func (t *wsTransport) stopPings() {
	t.once.Do(func() { close(t.done) })
}

func (t *wsTransport) pingLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				t.log.Debug("websocket ping failed", "error", err)
				return
			}
		case <-t.done:
			return
		}
	}
}
