package main

import (
	"log/slog"

	"google.golang.org/grpc"

	"github.com/PaulBabatuyi/realtime-convo/internal/chat"
	"github.com/PaulBabatuyi/realtime-convo/internal/gateway"
	"github.com/PaulBabatuyi/realtime-convo/internal/rpc"
)

// Server implements the chat service on top of the realtime gateway and the
// conversation components.
type Server struct {
	rpc.UnimplementedChatServiceServer

	log   *slog.Logger
	gw    *gateway.Gateway
	convs *chat.ConversationStore
	reads *chat.ReadTracker
}

// newServer returns a ready-to-use Server.
func newServer(log *slog.Logger, gw *gateway.Gateway, convs *chat.ConversationStore, reads *chat.ReadTracker) *Server {
	return &Server{log: log, gw: gw, convs: convs, reads: reads}
}

// registerService registers the ChatService on the given gRPC server.
func registerService(s *grpc.Server, srv *Server) {
	rpc.RegisterChatServiceServer(s, srv)
}
