package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"boardauth/internal/api"
	"boardauth/internal/auth"
	"boardauth/internal/config"
	"boardauth/internal/database"
	"boardauth/internal/logging"
	"boardauth/internal/mailer"
	"boardauth/internal/password"
	"boardauth/internal/session"
	"boardauth/internal/store"
	"boardauth/internal/token"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func init() {
	// Load environment variables from .env file.
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var accounts store.AccountStore
	var conn *database.Connector
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory account store, data is lost on restart")
		accounts = store.NewMemory()
	default:
		conn = database.NewConnector(cfg.MongoURI, cfg.MongoDB, logger)
		mongoStore := store.NewMongo(conn, logger)
		// The connector retries on the next request if the database is not up yet.
		if err := mongoStore.EnsureIndexes(ctx); err != nil {
			logger.Error("could not ensure indexes at startup", zap.Error(err))
		}
		accounts = mongoStore
	}

	tokens := token.NewService([]byte(cfg.JWTSecret))
	svc := auth.NewService(
		accounts,
		password.NewBcrypt(cfg.BcryptCost),
		tokens,
		mailer.New(cfg, logger),
		logger,
		auth.WithBootstrap(cfg.Bootstrap()),
	)
	issuer := session.NewIssuer(svc, tokens, cfg.SessionTTL)
	handler := api.NewHandler(svc, issuer, logger, cfg.Env == config.EnvProduction)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Handler:      handler.Router(os.Stdout, []string{cfg.AppURL}),
		Addr:         addr,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server running", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for interrupt signals for graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if conn != nil {
		if err := conn.Disconnect(ctxShutdown); err != nil {
			logger.Error("error disconnecting from MongoDB", zap.Error(err))
		}
	}
	logger.Info("server exited gracefully")
}
