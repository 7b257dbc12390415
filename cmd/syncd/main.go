package main

import (
	"campus-sync/api"
	"campus-sync/auth"
	"campus-sync/contract"
	"campus-sync/domain/ledger"
	"campus-sync/infrastructure/kafka"
	"campus-sync/infrastructure/postgres"
	"campus-sync/internal"
	"campus-sync/moderation"
	"campus-sync/observability"
	"campus-sync/presence"
	"campus-sync/projection"
	"campus-sync/repositories"
	"campus-sync/runtime"
	"campus-sync/runtime/workers"
	"campus-sync/services"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// backend is what the selected feed driver provides.
type backend struct {
	ledgerReader contract.LedgerReader
	postReader   contract.PostReader
	feed         contract.ChangeFeed
	publisher    contract.Publisher // nil when the backend owns its writes
	workers      []contract.Worker
	close        func()
}

// run initializes all components, manages the servers lifecycle, and
// centralizes error reporting so every defer runs before the exit.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	monitoring := observability.NewMonitoringManager(log)
	go monitoring.Listen(ctx, config.MetricInterval)

	// 4. Storage & change feed
	ledgerRepository := repositories.NewLedgerRepository(db, log, config.LimitTransactions)
	postRepository := repositories.NewPostRepository(db, log)
	b, err := newBackend(ctx, log, config, ledgerRepository, postRepository)
	if err != nil {
		return err
	}
	defer b.close()

	// 5. Services
	quiz := services.NewQuizService(log, repositories.NewSubmissionRepository(db, log), monitoring)
	defer quiz.Close()
	filter, err := moderation.NewFilter(config.Words(), config.Mask())
	if err != nil {
		return fmt.Errorf("blocked words: %w", err)
	}
	registry := presence.NewRegistry(log, runtime.NewRegistry(log), monitoring, presence.WithTTL(config.TypingTTL))
	var ledgerWriter *services.LedgerWriter
	var forumWriter *services.ForumWriter
	if b.publisher != nil {
		ledgerWriter = services.NewLedgerWriter(log, ledgerRepository, b.publisher)
		forumWriter = services.NewForumWriter(log, postRepository, b.publisher).WithTitleFilter(filter)
	} else {
		log.Info("Writes are disabled, the feed driver owns its rows", "feed", config.FeedDriver)
	}
	server := api.NewServer(log, []byte(config.AuthSecret),
		services.NewWalletService(log, b.ledgerReader, b.feed, monitoring),
		services.NewForumService(log, b.postReader, b.feed, monitoring),
		quiz,
		ledgerWriter,
		forumWriter,
		registry,
		config.TypingIdle,
	)

	// 6. Supervision
	healthServer := health.NewServer()
	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(workers.NewHeartbeatWorker(log, monitoring, config.HeartbeatInterval))
	sup.Add(b.workers...)
	if config.AccountID != "" {
		store, err := followAccount(ctx, log, config.AccountID, b, monitoring)
		if err != nil {
			return err
		}
		defer store.Close()
		sup.Add(workers.NewHealthWorker(log, healthServer, "ledger", store, config.HealthInterval))
	}
	if config.DebugPort > 0 {
		sup.Add(internal.NewDebugServer(log, db, config.DebugPort, func() map[string]any {
			return statsMap(monitoring.GetLatest())
		}))
	}
	supervised := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supervised)
	}()

	// 7. HTTP API & gRPC health
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	httpServer := &http.Server{Addr: address, Handler: server.Routes(), ReadHeaderTimeout: 5 * time.Second}
	grpcAddress := fmt.Sprintf("%s:%d", config.Host, config.Port+1)
	listener, err := net.Listen("tcp", grpcAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", grpcAddress, err)
	}
	s := grpc.NewServer(
		grpc.UnaryInterceptor(auth.NewAuthInterceptor([]byte(config.AuthSecret))),
		grpc.StreamInterceptor(auth.NewStreamAuthInterceptor([]byte(config.AuthSecret))),
	)
	healthpb.RegisterHealthServer(s, healthServer)

	errChan := make(chan error, 2)
	go func() {
		log.Info("Starting gRPC health server", "address", grpcAddress, "at", time.Now().UTC())
		if err := s.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	go func() {
		log.Info("Starting HTTP API", "address", address, "feed", config.FeedDriver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// 8. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err = <-errChan:
		log.Error("Server failed", "error", err)
	}

	// 9. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	healthServer.Shutdown()
	s.GracefulStop()
	sup.Stop()
	<-supervised
	log.Info("Program stopped cleanly")
	return err
}

// newBackend wires the reader, feed and publisher of the configured driver.
// The memory driver serves everything from badger and an in-process broker.
func newBackend(
	ctx context.Context,
	log *slog.Logger,
	config internal.Config,
	ledgerRepository repositories.LedgerRepository,
	postRepository repositories.PostRepository,
) (backend, error) {
	switch config.FeedDriver {
	case internal.FeedPostgres:
		db, err := postgres.Open(ctx, config.PostgresDSN)
		if err != nil {
			return backend{}, err
		}
		reader := postgres.NewReader(db, log)
		feed := postgres.NewNotifyFeed(log, config.PostgresDSN, config.FeedBufferSize, config.DeliveryTimeout)
		return backend{
			ledgerReader: reader,
			postReader:   reader,
			feed:         feed,
			workers:      []contract.Worker{feed},
			close:        func() { _ = db.Close() },
		}, nil
	case internal.FeedKafka:
		feed := kafka.NewFeed(log, config.Brokers(), config.KafkaGroupID, config.FeedBufferSize, config.DeliveryTimeout)
		publisher := kafka.NewPublisher(config.Brokers())
		return backend{
			ledgerReader: ledgerRepository,
			postReader:   postRepository,
			feed:         feed,
			publisher:    publisher,
			workers:      []contract.Worker{feed},
			close: func() {
				_ = publisher.Close()
				_ = feed.Close()
			},
		}, nil
	default:
		broker := runtime.NewBroker(log, config.FeedBufferSize, config.DeliveryTimeout)
		return backend{
			ledgerReader: ledgerRepository,
			postReader:   postRepository,
			feed:         broker,
			publisher:    broker,
			close:        func() {},
		}, nil
	}
}

// followAccount keeps a store on accountID for the life of the process and
// logs every view it converges to.
func followAccount(
	ctx context.Context,
	log *slog.Logger,
	accountID string,
	b backend,
	monitoring *observability.MonitoringManager,
) (*projection.LedgerStore, error) {
	store := projection.NewLedgerStore(log, b.ledgerReader, b.feed, monitoring)
	if _, err := store.Initialize(ctx, accountID); err != nil {
		log.Warn("Followed account not available yet", "account_id", accountID, "error", err)
		return store, nil
	}
	if _, err := store.Subscribe(func(v ledger.View) {
		log.Info("Ledger view updated",
			"account_id", v.Account.ID,
			"balance", v.Account.Balance.String(),
			"transactions", len(v.Transactions))
	}); err != nil {
		return nil, fmt.Errorf("following account %s: %w", accountID, err)
	}
	return store, nil
}

func statsMap(stats observability.MonitoringStats) map[string]any {
	data, err := json.Marshal(stats)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	return m
}
