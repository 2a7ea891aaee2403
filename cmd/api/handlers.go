package main

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/realtime-convo/internal/data"
	"github.com/PaulBabatuyi/realtime-convo/internal/gateway"
	"github.com/PaulBabatuyi/realtime-convo/internal/rpc"
)

// toStatus maps component errors onto gRPC status codes.
func (s *Server) toStatus(err error, op string) error {
	switch {
	case errors.Is(err, data.ErrValidation), errors.Is(err, data.ErrInvalidReply), errors.Is(err, data.ErrInvalidMessage):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, data.ErrNotParticipant):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, data.ErrConversationNotFound), errors.Is(err, data.ErrMessageNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, data.ErrConversationArchived):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		s.log.Error("rpc failed", "op", op, "error", err)
		return status.Errorf(codes.Internal, "failed to %s", op)
	}
}

func callerID(ctx context.Context) (string, error) {
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return "", status.Errorf(codes.Unauthenticated, "missing auth claims")
	}
	return claims.UserID, nil
}

// GetHistory pages a conversation in ascending order after an optional
// message id.
func (s *Server) GetHistory(ctx context.Context, req *rpc.HistoryRequest) (*rpc.HistoryResponse, error) {
	uid, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	msgs, err := s.gw.History(ctx, uid, req.ConversationID, req.AfterMessageID, req.Limit)
	if err != nil {
		return nil, s.toStatus(err, "get history")
	}
	return &rpc.HistoryResponse{Messages: msgs}, nil
}

// CreateDirect returns the caller's direct conversation with the peer.
func (s *Server) CreateDirect(ctx context.Context, req *rpc.CreateDirectRequest) (*rpc.ConversationResponse, error) {
	uid, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	conv, err := s.convs.CreateDirect(ctx, uid, req.PeerID)
	if err != nil {
		return nil, s.toStatus(err, "create direct conversation")
	}
	return &rpc.ConversationResponse{Conversation: conv}, nil
}

func (s *Server) JoinCommunity(ctx context.Context, req *rpc.JoinCommunityRequest) (*rpc.ConversationResponse, error) {
	uid, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	conv, err := s.convs.JoinCommunity(ctx, req.CommunityRef, uid)
	if err != nil {
		return nil, s.toStatus(err, "join community")
	}
	return &rpc.ConversationResponse{Conversation: conv}, nil
}

// ListConversations returns the caller's inbox, most recent activity first.
func (s *Server) ListConversations(ctx context.Context, _ *rpc.ListConversationsRequest) (*rpc.ListConversationsResponse, error) {
	uid, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	inbox, err := s.reads.Inbox(ctx, uid)
	if err != nil {
		return nil, s.toStatus(err, "list conversations")
	}
	return &rpc.ListConversationsResponse{Conversations: inbox}, nil
}

func (s *Server) UnreadCount(ctx context.Context, req *rpc.UnreadCountRequest) (*rpc.UnreadCountResponse, error) {
	uid, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	n, err := s.reads.UnreadCount(ctx, uid, req.ConversationID)
	if err != nil {
		return nil, s.toStatus(err, "count unread")
	}
	return &rpc.UnreadCountResponse{ConversationID: req.ConversationID, Count: n}, nil
}

// Stream is the realtime channel: actions in, events and acks out.
func (s *Server) Stream(stream rpc.ChatService_StreamServer) error {
	uid, err := callerID(stream.Context())
	if err != nil {
		return err
	}
	// returning from the handler cancels the stream, which unblocks Recv
	return s.serve(stream.Context(), uid, stream, nil)
}

// transport is one client connection carrying action and frame envelopes.
type transport interface {
	Recv() (*gateway.Action, error)
	Send(*gateway.Frame) error
}

// sessionBinder is implemented by transports that report liveness of their
// own, such as websocket pongs.
type sessionBinder interface {
	bind(*gateway.Session)
}

// serve runs one session over t. The calling goroutine writes frames while
// a second goroutine reads actions; acks go through the session queue so a
// single writer touches t. When closeFn is set it is used to unblock the
// reader, and serve waits for it before returning.
func (s *Server) serve(ctx context.Context, userID string, t transport, closeFn func() error) error {
	sess := s.gw.Connect(ctx, userID)
	detached := context.WithoutCancel(ctx)
	defer s.gw.Disconnect(detached, sess)

	if b, ok := t.(sessionBinder); ok {
		b.bind(sess)
	}

	readDone := make(chan error, 1)
	go func() {
		err := s.readLoop(ctx, sess, t)
		// the client is gone: closing the session stops the writer
		s.gw.Disconnect(detached, sess)
		readDone <- err
	}()

	s.writeLoop(ctx, sess, t)

	if closeFn != nil {
		_ = closeFn()
		return <-readDone
	}
	select {
	case err := <-readDone:
		return err
	default:
		return nil
	}
}

func (s *Server) readLoop(ctx context.Context, sess *gateway.Session, t transport) error {
	for {
		a, err := t.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if status.Code(err) == codes.Canceled || ctx.Err() != nil {
				return nil
			}
			s.log.Debug("stream receive failed", "user_id", sess.UserID(), "error", err)
			return status.Errorf(codes.Internal, "receive error: %v", err)
		}
		sess.Reply(s.gw.Handle(ctx, sess, *a))
	}
}

// writeLoop returns once the session is closed or ctx is done.
func (s *Server) writeLoop(ctx context.Context, sess *gateway.Session, t transport) {
	for {
		f, err := sess.Next(ctx)
		if err != nil {
			return
		}
		if err := t.Send(&f); err != nil {
			s.log.Debug("stream send failed", "user_id", sess.UserID(), "error", err)
			sess.Close()
			return
		}
	}
}
