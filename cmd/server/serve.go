package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inkscribe-server/internal/blobstore"
	"inkscribe-server/internal/config"
	"inkscribe-server/internal/handler"
	"inkscribe-server/internal/middleware"
	"inkscribe-server/internal/repository"
	"inkscribe-server/internal/service"
	"inkscribe-server/internal/session"
	"inkscribe-server/internal/websocket"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func serve(ctx context.Context, _ *cli.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	if err := cfg.RequireGateway(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := openDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	blobs, err := blobstore.NewFS(cfg.Storage.Root, cfg.Storage.PublicBaseURL)
	if err != nil {
		return err
	}

	userRepo := repository.NewUserRepository(client, cfg.Database.Name)
	noteRepo := repository.NewNoteRepository(client, cfg.Database.Name)
	noteFeed := repository.NewNoteFeed(client, cfg.Database.Name, noteRepo, logger)

	wsManager := websocket.NewManager(
		cfg.WebSocket.MaxConnPerSession,
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
		cfg.WebSocket.MaxMessageSize,
		logger,
	)

	sessions := session.NewManager(&session.Backend{
		Feed:          noteFeed,
		Notifier:      wsManager,
		Logger:        logger,
		PreviewPrefix: "/api/v1/sessions",
	}, cfg.Session.MaxPerUser)

	authService := service.NewAuthService(userRepo, cfg.JWT.Secret, cfg.JWT.Expiration, cfg.JWT.RefreshTokenExpiration)
	userService := service.NewUserService(userRepo)
	uploadService := service.NewUploadService(blobs, noteRepo, newGateway(cfg.Gateway), logger)
	noteService := service.NewNoteService(noteRepo, blobs, logger)

	wsManager.SetMessageHandler(handler.NewWebSocketMessageHandler(wsManager, sessions, logger))

	// Flows run under their own context so a shutdown lets them finish.
	flowCtx, cancelFlows := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelFlows()
	uploadHandler := handler.NewUploadHandler(flowCtx, sessions, uploadService, cfg.Upload.MaxBytes, cfg.Upload.FlowTimeout, logger)

	router := handler.NewRouter(handler.Handlers{
		Auth:    handler.NewAuthHandler(authService, logger),
		User:    handler.NewUserHandler(userService),
		Session: handler.NewSessionHandler(sessions, logger),
		Upload:  uploadHandler,
		Note:    handler.NewNoteHandler(noteService, sessions),
		File:    handler.NewFileHandler(blobs),
		Health: handler.NewHealthHandler(func(ctx context.Context) (bool, error) {
			return client.Ping(ctx)
		}),
		WebSocket: handler.NewWebSocketHandler(wsManager, sessions, cfg.JWT.Secret,
			cfg.WebSocket.ReadBufferSize, cfg.WebSocket.WriteBufferSize, nil, logger),
	}, cfg.JWT.Secret,
		middleware.LoggerMiddleware(logger),
		middleware.CORSMiddleware(cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders),
	)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return wsManager.Run(gCtx)
	})

	g.Go(func() error {
		logger.Info("starting inkscribe server", "address", addr, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}

		waited := make(chan struct{})
		go func() {
			uploadHandler.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-shutdownCtx.Done():
			logger.Warn("abandoning unfinished uploads")
			cancelFlows()
		}

		sessions.CloseAll()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped gracefully")
	return nil
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*kivik.Client, error) {
	client, err := kivik.New("couch", cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to CouchDB: %w", err)
	}

	exists, err := client.DBExists(ctx, cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to check database existence: %w", err)
	}
	if !exists {
		if err := client.CreateDB(ctx, cfg.Name); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		logger.Info("created database", "name", cfg.Name)
	}

	// Backs the owner and user lookups done through _find.
	db := client.DB(cfg.Name)
	indexes := map[string][]string{
		"notes-by-owner": {"type", "owner"},
		"users-by-email": {"type", "email"},
		"users-by-name":  {"type", "username"},
	}
	for name, fields := range indexes {
		if err := db.CreateIndex(ctx, "", name, map[string]interface{}{"fields": fields}); err != nil {
			logger.Warn("failed to create index", "name", name, "error", err)
		}
	}

	logger.Info("connected to CouchDB", "host", cfg.Host, "port", cfg.Port, "database", cfg.Name)
	return client, nil
}
