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

	"github.com/atlasgate/portal/internal/cache"
	"github.com/atlasgate/portal/internal/config"
	"github.com/atlasgate/portal/internal/database"
	"github.com/atlasgate/portal/internal/logging"
	"github.com/atlasgate/portal/internal/repository"
	"github.com/atlasgate/portal/internal/repository/memory"
	postgresrepo "github.com/atlasgate/portal/internal/repository/postgres"
	"github.com/atlasgate/portal/internal/service"
	"github.com/atlasgate/portal/internal/transport/http/handlers"
	"github.com/atlasgate/portal/internal/transport/http/middleware"
	"github.com/atlasgate/portal/internal/transport/ws"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type stores struct {
	users        repository.UserRepository
	messages     repository.MessageRepository
	applications repository.ApplicationRepository
	close        func()
}

func main() {
	cfg := config.Load()
	logger := logging.New(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	// Services
	authService := service.NewAuthService(st.users, cfg.JWTSecret)
	conversationService := service.NewConversationService(st.messages, st.users, st.applications, logger)

	if cfg.RedisURL != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, unread counts served from the store", "error", err)
		} else {
			defer rdb.Close()
			conversationService.SetUnreadCache(cache.NewUnreadCounts(rdb, cfg.UnreadCacheTTL))
			logger.Info("unread count cache enabled", "ttl", cfg.UnreadCacheTTL)
		}
	}

	// WebSocket
	hub := ws.NewHub(logger)
	conversationService.SetNotifier(ws.NewHubNotifier(hub))

	// Handlers
	authHandler := handlers.NewAuthHandler(authService, logger)
	messageHandler := handlers.NewMessageHandler(conversationService, logger, cfg.ConversationMaxLimit)

	// Auth middleware
	auth := middleware.Auth(cfg.JWTSecret)

	// Routes
	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok"}`))
	})
	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)
	mux.HandleFunc("GET /ws", ws.ServeWS(hub, cfg.JWTSecret, cfg.AllowedOrigins, logger))

	// Protected - Messages
	mux.Handle("GET /api/v1/messages/unread/count", auth(http.HandlerFunc(messageHandler.UnreadCount)))
	mux.Handle("GET /api/v1/messages/{otherUserId}", auth(http.HandlerFunc(messageHandler.GetConversation)))
	mux.Handle("POST /api/v1/messages/{otherUserId}", auth(http.HandlerFunc(messageHandler.Send)))
	mux.Handle("PATCH /api/v1/messages/{id}/read", auth(http.HandlerFunc(messageHandler.MarkRead)))

	// Protected - Conversations
	mux.Handle("GET /api/v1/conversations", auth(http.HandlerFunc(messageHandler.ListConversations)))
	mux.Handle("POST /api/v1/conversations/{otherUserId}/read", auth(http.HandlerFunc(messageHandler.MarkConversationRead)))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           middleware.CORS(cfg.AllowedOrigins)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("starting server", "addr", srv.Addr, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory store, data is lost on restart")
		users := memory.NewUserRepo()
		apps := memory.NewApplicationRepo()
		if err := apps.Seed(cfg.MemoryApplications); err != nil {
			return nil, fmt.Errorf("seeding applications: %w", err)
		}
		return &stores{
			users:        users,
			messages:     memory.NewMessageRepo(users),
			applications: apps,
			close:        func() {},
		}, nil

	case "postgres":
		pool, err := database.Connect(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrating database: %w", err)
		}
		logger.Info("connected to database")
		return &stores{
			users:        postgresrepo.NewUserRepo(pool),
			messages:     postgresrepo.NewMessageRepo(pool),
			applications: postgresrepo.NewApplicationRepo(pool),
			close:        pool.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}
