package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"devsquad-chat/internal/chat"
	"devsquad-chat/internal/config"
	"devsquad-chat/internal/database"
	"devsquad-chat/internal/engine"
	"devsquad-chat/internal/handlers"
	"devsquad-chat/internal/integrations/paramstore"
	"devsquad-chat/internal/middleware"
	"devsquad-chat/internal/utils"
	"devsquad-chat/internal/websocket"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := utils.NewLogger(os.Stdout, cfg.Debug, cfg.LogNoColor)
	slog.SetDefault(logger)
	metrics := utils.NewMetricsCollector()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	verifier, err := buildVerifier(ctx, cfg.Auth, logger)
	if err != nil {
		logger.Error("Failed to set up authentication", "error", err)
		os.Exit(1)
	}

	store, err := database.NewChatStore(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("Failed to initialize chat store", "error", err)
		os.Exit(1)
	}

	hub := websocket.NewHub(logger, metrics)
	go hub.Run()

	service := chat.NewService(store, hub, logger, metrics)
	chatEngine := engine.NewEngine(service, hub, cfg.Server.RequestTimeout, metrics, logger)

	server := handlers.NewServer(service, chatEngine, hub, store, verifier, metrics, logger, cfg)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           server.Routes(),
		ReadHeaderTimeout: cfg.Server.RequestTimeout,
	}

	go func() {
		logger.Info("Starting server", "addr", httpServer.Addr, "db", cfg.Database.Type, "auth", cfg.Auth.Mode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	// Hijacked websocket connections are not covered by Shutdown.
	hub.Stop()
	chatEngine.Close()
	if err := store.Close(shutdownCtx); err != nil {
		logger.Warn("Store close failed", "error", err)
	}
	logger.Info("Server stopped")
}

func buildVerifier(ctx context.Context, auth *config.AuthConfig, logger *slog.Logger) (middleware.Verifier, error) {
	if auth.Mode == config.AuthModeProvider {
		return middleware.NewProviderVerifier(auth.ProviderURL, auth.ProviderAPIKey, nil, logger), nil
	}

	if auth.JWTSecretParam != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		secrets, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, err
		}
		if err := paramstore.ResolveJWTSecret(ctx, secrets, auth); err != nil {
			return nil, err
		}
		logger.Info("JWT secret loaded from parameter store", "param", auth.JWTSecretParam)
	}
	return middleware.NewJWTVerifier(auth.JWTSecret), nil
}
