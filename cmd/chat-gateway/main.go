package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketchat/internal/app/chat"
	"marketchat/internal/app/identity"
	domainchat "marketchat/internal/domain/chat"
	"marketchat/internal/infra/config"
	"marketchat/internal/infra/db/mongo"
	ginserver "marketchat/internal/infra/http/gin"
	"marketchat/internal/infra/obs"
	"marketchat/internal/infra/rpc"
	"marketchat/internal/infra/storage/memory"
	"marketchat/internal/infra/storage/s3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(".env"); err != nil {
		obs.NewLogger("dev").Error("dotenv load failed", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateGateway()
	}
	if err != nil {
		logger := obs.NewLogger("dev")
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)

	var (
		store  domainchat.Store
		checks []obs.Check
	)
	if cfg.StoreDriver == config.DriverMemory {
		logger.Warn("using in-process memory conversation store")
		store = memory.NewChatStore(nil)
	} else {
		client, err := rpc.NewClient(cfg.MessagingGRPCAddr, cfg.MessagingGRPCTime, logger)
		if err != nil {
			logger.Error("messaging client init failed", "error", err, "addr", cfg.MessagingGRPCAddr)
			os.Exit(1)
		}
		defer client.Close()
		store = client
		checks = append(checks, obs.Check{Name: "messaging", Ping: client.Ready})
	}

	profiles, closeProfiles, err := openProfiles(cfg, logger)
	if err != nil {
		logger.Error("profile directory init failed", "error", err)
		os.Exit(1)
	}
	if closeProfiles != nil {
		defer closeProfiles()
	}
	if profiles != nil {
		if pinger, ok := profiles.(interface{ Ping(context.Context) error }); ok {
			checks = append(checks, obs.Check{Name: "profiles", Ping: pinger.Ping})
		}
	}
	var directory domainchat.ProfileDirectory
	if profiles != nil {
		directory = profiles
		if cfg.AvatarsEnabled() {
			signer, err := s3.NewAvatarSigner(cfg.S3, logger)
			if err != nil {
				logger.Error("avatar signer init failed", "error", err)
				os.Exit(1)
			}
			directory = signer.Directory(directory)
		}
	}

	registry := identity.NewRegistry(func(userID string) (*chat.Coordinator, error) {
		return chat.NewCoordinator(userID, store, chat.Options{
			Logger:       logger,
			HistoryLimit: cfg.ChatHistoryLimit,
			Profiles:     directory,
		})
	}, logger)
	defer registry.Close()

	chatHandler := ginserver.NewChatHandler(registry, logger)
	chatHandler.IdleTTL = cfg.SessionIdleTTL
	go chatHandler.RunIdleSweep(ctx, time.Minute)

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{Checks: checks}, ginserver.Handlers{
		Chat:           chatHandler,
		AuthMiddleware: ginserver.AuthMiddleware{Secret: []byte(cfg.JWTSecret), Logger: logger}.Handle,
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down chat gateway")
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("chat gateway starting", "addr", cfg.HTTPAddr, "env", cfg.Env, "messaging_addr", cfg.MessagingGRPCAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("chat gateway stopped")
}

// mongoProfiles adds a health check to the mongo profile directory.
type mongoProfiles struct {
	*mongo.ProfileDirectory
	client *mongo.Client
}

func (p mongoProfiles) Ping(ctx context.Context) error { return p.client.Ping(ctx) }

func openProfiles(cfg config.Config, logger *slog.Logger) (domainchat.ProfileDirectory, func(), error) {
	if !cfg.ProfilesEnabled() {
		logger.Info("profile directory disabled, participants are shown by id")
		return nil, nil, nil
	}
	client, err := mongo.Connect(context.Background(), cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Close(ctx); err != nil {
			logger.Warn("mongo disconnect failed", "error", err)
		}
	}
	return mongoProfiles{ProfileDirectory: client.Profiles(), client: client}, closeFn, nil
}
