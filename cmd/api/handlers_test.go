package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/realtime-convo/internal/auth"
	"github.com/PaulBabatuyi/realtime-convo/internal/chat"
	"github.com/PaulBabatuyi/realtime-convo/internal/data"
	"github.com/PaulBabatuyi/realtime-convo/internal/gateway"
	"github.com/PaulBabatuyi/realtime-convo/internal/presence"
	"github.com/PaulBabatuyi/realtime-convo/internal/rpc"
)

// fakeStream is an in-process rpc.ChatService_StreamServer. Closing in ends
// the client side with io.EOF.
type fakeStream struct {
	ctx context.Context
	in  chan *gateway.Action
	out chan *gateway.Frame
}

func newFakeStream(userID string) *fakeStream {
	ctx := context.Background()
	if userID != "" {
		ctx = context.WithValue(ctx, authContextKey{}, &auth.Claims{UserID: userID})
	}
	return &fakeStream{ctx: ctx, in: make(chan *gateway.Action, 16), out: make(chan *gateway.Frame, 64)}
}

func (f *fakeStream) Recv() (*gateway.Action, error) {
	a, ok := <-f.in
	if !ok {
		return nil, io.EOF
	}
	return a, nil
}

func (f *fakeStream) Send(fr *gateway.Frame) error { f.out <- fr; return nil }
func (f *fakeStream) Context() context.Context     { return f.ctx }

// The following methods are part of grpc.ServerStream.
func (f *fakeStream) SetHeader(metadata.MD) error  { return nil }
func (f *fakeStream) SendHeader(metadata.MD) error { return nil }
func (f *fakeStream) SetTrailer(metadata.MD)       {}

func (f *fakeStream) RecvMsg(m any) error {
	a, ok := m.(*gateway.Action)
	if !ok {
		return errors.New("RecvMsg: unexpected type")
	}
	r, err := f.Recv()
	if err != nil {
		return err
	}
	*a = *r
	return nil
}

func (f *fakeStream) SendMsg(m any) error {
	fr, ok := m.(*gateway.Frame)
	if !ok {
		return fmt.Errorf("SendMsg: unexpected type: %T", m)
	}
	return f.Send(fr)
}

// next waits for the next frame matching keep.
func (f *fakeStream) next(t *testing.T, keep func(*gateway.Frame) bool) *gateway.Frame {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case fr := <-f.out:
			if keep(fr) {
				return fr
			}
		case <-timeout:
			t.Fatal("timed out waiting for frame")
			return nil
		}
	}
}

func isAck(fr *gateway.Frame) bool { return fr.Ack != nil }

func isEvent(typ gateway.EventType) func(*gateway.Frame) bool {
	return func(fr *gateway.Frame) bool { return fr.Event != nil && fr.Event.Type == typ }
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	store := data.NewMemoryStore()
	seq := chat.NewSequencer()
	bus := chat.NewCommitBus()

	convs := chat.NewConversationStore(log, store, seq, chat.AllowAll)
	msgs := chat.NewMessageLog(log, convs, store, seq, bus)
	reads := chat.NewReadTracker(log, convs, store, store, seq, bus)
	gw := gateway.New(log, bus, gateway.Deps{
		Conversations: convs,
		Messages:      msgs,
		Reads:         reads,
		Presence:      presence.New(log, convs),
	}, gateway.Config{})
	return newServer(log, gw, convs, reads)
}

// openStream runs Stream in the background and waits for the session.
func openStream(t *testing.T, s *Server, userID string) (*fakeStream, <-chan error) {
	t.Helper()
	st := newFakeStream(userID)
	prev := s.gw.Session(userID)
	done := make(chan error, 1)
	go func() { done <- s.Stream(st) }()
	require.Eventually(t, func() bool {
		cur := s.gw.Session(userID)
		return cur != nil && cur != prev
	}, 2*time.Second, 5*time.Millisecond)
	return st, done
}

func sendAction(conv, content string) *gateway.Action {
	payload, _ := json.Marshal(gateway.SendMessagePayload{Content: content})
	return &gateway.Action{RequestID: "r-" + content, Type: gateway.ActionSendMessage, ConversationID: conv, Payload: payload}
}

func TestStream_DeliversToRecipient(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)
	conv, err := s.convs.CreateDirect(context.Background(), "alice", "bob")
	req.NoError(err)

	bob, bobDone := openStream(t, s, "bob")
	alice, aliceDone := openStream(t, s, "alice")

	alice.in <- sendAction(conv.ID, "hey bob")

	ack := alice.next(t, isAck).Ack
	req.True(ack.OK(), "ack: %+v", ack)
	req.Equal("r-hey bob", ack.RequestID)
	req.Equal("hey bob", ack.Message.Content)

	ev := bob.next(t, isEvent(gateway.EventMessageAppended)).Event
	req.Equal(conv.ID, ev.ConversationID)
	req.Equal(ack.Message.Seq, ev.ServerOrder)

	close(alice.in)
	close(bob.in)
	req.NoError(<-aliceDone)
	req.NoError(<-bobDone)
	req.Nil(s.gw.Session("alice"))
	req.Nil(s.gw.Session("bob"))
}

func TestStream_FailuresOnlyReachTheSender(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)
	conv, err := s.convs.CreateDirect(context.Background(), "alice", "bob")
	req.NoError(err)

	bob, bobDone := openStream(t, s, "bob")
	alice, aliceDone := openStream(t, s, "alice")

	alice.in <- sendAction(conv.ID, "   ")
	ack := alice.next(t, isAck).Ack
	req.Equal(gateway.CodeValidation, ack.Code)

	// a ping proves bob's queue holds nothing from the failed send
	bob.in <- &gateway.Action{RequestID: "p", Type: gateway.ActionPing}
	fr := bob.next(t, func(fr *gateway.Frame) bool { return fr.Event == nil || fr.Event.Type != gateway.EventPresenceChanged })
	req.NotNil(fr.Ack)
	req.Equal("p", fr.Ack.RequestID)

	close(alice.in)
	close(bob.in)
	<-aliceDone
	<-bobDone
}

func TestStream_ReplacedSessionEnds(t *testing.T) {
	s := newTestServer(t)

	first, firstDone := openStream(t, s, "alice")
	_, secondDone := openStream(t, s, "alice")

	select {
	case err := <-firstDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("replaced stream did not end")
	}
	close(first.in)
	require.NotNil(t, s.gw.Session("alice"))

	select {
	case <-secondDone:
		t.Fatal("current stream ended")
	default:
	}
}

func TestStream_RequiresClaims(t *testing.T) {
	s := newTestServer(t)
	err := s.Stream(newFakeStream(""))
	require.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestUnaryHandlers(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)
	alice := context.WithValue(context.Background(), authContextKey{}, &auth.Claims{UserID: "alice"})
	bob := context.WithValue(context.Background(), authContextKey{}, &auth.Claims{UserID: "bob"})
	mallory := context.WithValue(context.Background(), authContextKey{}, &auth.Claims{UserID: "mallory"})

	created, err := s.CreateDirect(alice, &rpc.CreateDirectRequest{PeerID: "bob"})
	req.NoError(err)
	again, err := s.CreateDirect(bob, &rpc.CreateDirectRequest{PeerID: "alice"})
	req.NoError(err)
	req.Equal(created.Conversation.ID, again.Conversation.ID)

	_, err = s.CreateDirect(alice, &rpc.CreateDirectRequest{PeerID: "alice"})
	req.Equal(codes.InvalidArgument, status.Code(err))

	convID := created.Conversation.ID
	sess := s.gw.Connect(context.Background(), "alice")
	ack := s.gw.Handle(alice, sess, *sendAction(convID, "one"))
	req.True(ack.OK())

	unread, err := s.UnreadCount(bob, &rpc.UnreadCountRequest{ConversationID: convID})
	req.NoError(err)
	req.EqualValues(1, unread.Count)

	hist, err := s.GetHistory(bob, &rpc.HistoryRequest{ConversationID: convID})
	req.NoError(err)
	req.Len(hist.Messages, 1)

	_, err = s.GetHistory(mallory, &rpc.HistoryRequest{ConversationID: convID})
	req.Equal(codes.PermissionDenied, status.Code(err))

	_, err = s.UnreadCount(bob, &rpc.UnreadCountRequest{ConversationID: "missing"})
	req.Equal(codes.NotFound, status.Code(err))

	list, err := s.ListConversations(bob, nil)
	req.NoError(err)
	req.Len(list.Conversations, 1)
	req.EqualValues(1, list.Conversations[0].UnreadCount)

	joined, err := s.JoinCommunity(mallory, &rpc.JoinCommunityRequest{CommunityRef: "gophers"})
	req.NoError(err)
	req.True(joined.Conversation.HasParticipant("mallory"))

	_, err = s.ListConversations(context.Background(), nil)
	req.Equal(codes.Unauthenticated, status.Code(err))
}

func TestToStatus(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		err  error
		code codes.Code
	}{
		{fmt.Errorf("wrap: %w", data.ErrValidation), codes.InvalidArgument},
		{data.ErrInvalidReply, codes.InvalidArgument},
		{data.ErrNotParticipant, codes.PermissionDenied},
		{data.ErrMessageNotFound, codes.NotFound},
		{data.ErrConversationArchived, codes.FailedPrecondition},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("disk on fire"), codes.Internal},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			require.Equal(t, tc.code, status.Code(s.toStatus(tc.err, "test")))
		})
	}
	// internal details stay in the log
	require.NotContains(t, status.Convert(s.toStatus(errors.New("disk on fire"), "test")).Message(), "disk")
}
