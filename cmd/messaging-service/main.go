package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	domainchat "marketchat/internal/domain/chat"
	"marketchat/internal/infra/broker/kafka"
	"marketchat/internal/infra/config"
	"marketchat/internal/infra/feed"
	"marketchat/internal/infra/obs"
	"marketchat/internal/infra/rpc"
	"marketchat/internal/infra/storage/memory"
	"marketchat/internal/infra/storage/postgres"
	"marketchat/internal/infra/storage/scylla"
	"marketchat/internal/infra/storage/sqlite"
)

const healthInterval = 5 * time.Second

// backend is the selected store plus what has to run beside it.
type backend struct {
	store   domainchat.Store
	ping    func(ctx context.Context) error
	loops   []func(ctx context.Context) error
	closers []func() error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(".env"); err != nil {
		obs.NewLogger("dev").Error("dotenv load failed", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		logger := obs.NewLogger("dev")
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("store init failed", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer func() {
		for i := len(b.closers) - 1; i >= 0; i-- {
			if err := b.closers[i](); err != nil {
				logger.Warn("store close failed", "error", err)
			}
		}
	}()

	grpcServer := grpc.NewServer()
	rpc.Register(grpcServer, &rpc.Server{Store: b.store, Logger: logger})
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen", "error", err, "addr", cfg.GRPCAddr)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, loop := range b.loops {
		g.Go(func() error { return loop(gctx) })
	}
	g.Go(func() error {
		watchHealth(gctx, healthServer, b.ping, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down grpc server")
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		return nil
	})
	g.Go(func() error {
		logger.Info("messaging-service starting", "addr", cfg.GRPCAddr, "env", cfg.Env, "driver", cfg.StoreDriver)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("messaging-service failed", "error", err)
		os.Exit(1)
	}
	logger.Info("messaging-service stopped")
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath, feed.NewHub(logger))
		if err != nil {
			return nil, err
		}
		return &backend{store: store, ping: store.Ping, closers: []func() error{store.Close}}, nil

	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		store := postgres.NewStore(pool, logger)
		return &backend{
			store: store,
			ping:  store.Ping,
			loops: []func(context.Context) error{store.Listener().Run},
			closers: []func() error{func() error {
				pool.Close()
				return nil
			}},
		}, nil

	case config.DriverScylla:
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, logger)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		inserts := kafka.NewFeed(producer, cfg.KafkaTopic, logger)
		consumer, err := kafka.NewConsumer(cfg.KafkaBrokers, kafka.GroupID(cfg.KafkaGroupPrefix), nil, inserts, logger)
		if err != nil {
			_ = producer.Close()
			return nil, fmt.Errorf("kafka consumer: %w", err)
		}
		session, err := scylla.NewSession(cfg.Scylla, logger)
		if err != nil {
			_ = consumer.Close()
			_ = producer.Close()
			return nil, err
		}
		store := scylla.NewStore(session, inserts, logger)
		return &backend{
			store: store,
			ping:  store.Ping,
			loops: []func(context.Context) error{func(ctx context.Context) error {
				return consumer.Run(ctx, []string{inserts.Topic()})
			}},
			closers: []func() error{
				producer.Close,
				consumer.Close,
				func() error {
					session.Close()
					return nil
				},
			},
		}, nil

	default:
		logger.Warn("using in-memory conversation store, data is lost on restart")
		return &backend{store: memory.NewChatStore(feed.NewHub(logger))}, nil
	}
}

// watchHealth reports the store's reachability through the gRPC health service.
func watchHealth(ctx context.Context, hs *health.Server, ping func(context.Context) error, logger *slog.Logger) {
	check := func() {
		status := healthpb.HealthCheckResponse_SERVING
		if ping != nil {
			pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := ping(pctx)
			cancel()
			if err != nil {
				status = healthpb.HealthCheckResponse_NOT_SERVING
				logger.Warn("conversation store ping failed", "error", err)
			}
		}
		hs.SetServingStatus(rpc.ServiceName, status)
		hs.SetServingStatus("", status)
	}
	check()
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}
