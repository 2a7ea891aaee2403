package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/PaulBabatuyi/realtime-convo/internal/auth"
	"github.com/PaulBabatuyi/realtime-convo/internal/chat"
	"github.com/PaulBabatuyi/realtime-convo/internal/data"
	"github.com/PaulBabatuyi/realtime-convo/internal/db"
	"github.com/PaulBabatuyi/realtime-convo/internal/gateway"
	"github.com/PaulBabatuyi/realtime-convo/internal/middleware"
	"github.com/PaulBabatuyi/realtime-convo/internal/notify"
	"github.com/PaulBabatuyi/realtime-convo/internal/presence"
	"github.com/PaulBabatuyi/realtime-convo/internal/rpc"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type repositories struct {
	convs   data.ConversationRepository
	msgs    data.MessageRepository
	cursors data.CursorRepository
	close   func(context.Context) error
}

// openStorage connects to MongoDB, or falls back to in-memory repositories
// when no URI is configured.
func openStorage(ctx context.Context, log *slog.Logger, cfg Config) (repositories, error) {
	if cfg.MongoURI == "" {
		log.Warn("MONGODB_URI not set, using in-memory storage")
		mem := data.NewMemoryStore()
		return repositories{convs: mem, msgs: mem, cursors: mem, close: func(context.Context) error { return nil }}, nil
	}

	dbClient, err := db.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return repositories{}, err
	}
	if err := dbClient.CreateIndexes(ctx); err != nil {
		_ = dbClient.Close(ctx)
		return repositories{}, fmt.Errorf("failed to create indexes: %w", err)
	}
	return repositories{
		convs:   data.NewConversationsStore(dbClient.ConversationsCollection()),
		msgs:    data.NewMessagesStore(dbClient.MessagesCollection()),
		cursors: data.NewCursorsStore(dbClient.ReadCursorsCollection()),
		close:   dbClient.Close,
	}, nil
}

// openNotifier builds the dispatcher with a durable ledger and JetStream when
// configured, in-memory and log-only otherwise. The returned func releases
// what was opened.
func openNotifier(ctx context.Context, log *slog.Logger, cfg Config) (*notify.Dispatcher, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var ledger notify.Ledger = notify.NewMemoryLedger()
	if cfg.BadgerPath != "" {
		bdb, err := badger.Open(badger.DefaultOptions(cfg.BadgerPath).WithLoggingLevel(badger.WARNING))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open notification ledger: %w", err)
		}
		closers = append(closers, func() { _ = bdb.Close() })
		ledger = notify.NewBadgerLedger(bdb, log, cfg.LedgerTTL)
	}

	var pub notify.Publisher = notify.NewLogPublisher(log)
	if cfg.NATSURL != "" {
		js, err := notify.NewJetStreamPublisher(ctx, log, cfg.NATSURL, cfg.NATSStream, cfg.NATSSubject)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, js.Close)
		pub = js
	}

	return notify.NewDispatcher(log, ledger, pub, cfg.NotifyBacklog), cleanup, nil
}

func run(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jwtMgr, err := cfg.jwtManager()
	if err != nil {
		return err
	}

	repos, err := openStorage(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = repos.close(context.Background()) }()

	dispatcher, closeNotifier, err := openNotifier(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer closeNotifier()
	go dispatcher.Run(ctx)

	seq := chat.NewSequencer()
	bus := chat.NewCommitBus()
	opts := []chat.Option{chat.WithMaxContentLength(cfg.MaxContentLength)}
	convs := chat.NewConversationStore(log, repos.convs, seq, chat.AllowAll, opts...)
	msgs := chat.NewMessageLog(log, convs, repos.msgs, seq, bus, opts...)
	reads := chat.NewReadTracker(log, convs, repos.msgs, repos.cursors, seq, bus, opts...)

	limiterStore := middleware.NewLimiterStore(cfg.RateLimitRPM, cfg.RateLimitBurst, time.Minute)
	defer limiterStore.Stop()

	gw := gateway.New(log, bus, gateway.Deps{
		Conversations: convs,
		Messages:      msgs,
		Reads:         reads,
		Presence:      presence.New(log, convs),
		Notifier:      dispatcher,
		Limiter:       limiterStore,
	}, gateway.Config{
		QueueSize:        cfg.SessionQueueSize,
		HeartbeatTimeout: cfg.HeartbeatTimeout,
	})
	go gw.Run(ctx)

	srv := newServer(log, gw, convs, reads)

	grpcServer, err := newGRPCServer(cfg, jwtMgr, limiterStore)
	if err != nil {
		return err
	}
	registerService(grpcServer, srv)

	listenAddr := fmt.Sprintf(":%s", cfg.GRPCPort)
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	app := newHTTPApp(ctx, srv, jwtMgr)

	errCh := make(chan error, 2)
	go func() {
		log.Info("gRPC server listening", "addr", listenAddr)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("gRPC server exit: %w", err)
		}
	}()
	go func() {
		log.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			errCh <- fmt.Errorf("HTTP server exit: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error("server failed", "error", err)
		stop()
	}

	log.Info("shutting down")
	_ = app.ShutdownWithTimeout(shutdownTimeout)

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		grpcServer.Stop()
	}
	return nil
}

func newGRPCServer(cfg Config, jwtMgr *auth.JWTManager, limiter *middleware.LimiterStore) (*grpc.Server, error) {
	var serverOpts []grpc.ServerOption

	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certs: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}

	// creating conversations and opening streams are throttled per caller;
	// actions inside a stream go through the gateway limiter
	limited := map[string]bool{
		rpc.ChatService_CreateDirect_FullMethodName:  true,
		rpc.ChatService_JoinCommunity_FullMethodName: true,
		rpc.ChatService_Stream_FullMethodName:        true,
	}
	serverOpts = append(serverOpts,
		grpc.ChainUnaryInterceptor(
			authUnaryInterceptor(jwtMgr),
			middleware.RateLimitUnaryInterceptor(limiter, limited, userFromContext),
		),
		grpc.ChainStreamInterceptor(
			authStreamInterceptor(jwtMgr),
			middleware.RateLimitStreamInterceptor(limiter, limited, userFromContext),
		),
	)
	return grpc.NewServer(serverOpts...), nil
}

func newHTTPApp(ctx context.Context, srv *Server, jwtMgr *auth.JWTManager) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "sessions": srv.gw.SessionCount()})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Use("/ws", wsAuth(jwtMgr))
	app.Get("/ws", srv.wsHandler(ctx))
	return app
}
