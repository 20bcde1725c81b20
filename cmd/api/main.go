package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/locolive/ephemeral/internal/api"
	"github.com/locolive/ephemeral/internal/auth"
	"github.com/locolive/ephemeral/internal/cache"
	"github.com/locolive/ephemeral/internal/config"
	"github.com/locolive/ephemeral/internal/domain"
	"github.com/locolive/ephemeral/internal/fcm"
	"github.com/locolive/ephemeral/internal/realtime"
	"github.com/locolive/ephemeral/internal/repository"
	"github.com/locolive/ephemeral/internal/storage"
)

// store is what both repository implementations provide
type store interface {
	domain.ContentRepository
	domain.ViewRepository
	domain.NotificationRepository
}

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting content API",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("store", cfg.Database.Driver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := make(map[string]api.Pinger)

	// Content Store
	var repo store
	switch cfg.Database.Driver {
	case "memory":
		repo = repository.NewMemoryRepository()
		logger.Warn("Using in-memory store - content is lost on restart")
	case "postgres":
		db, err := initDatabase(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		pg := repository.NewPostgresRepository(db)
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("Failed to apply schema", zap.Error(err))
		}
		deps["postgres"] = pg
		repo = pg
		logger.Info("Connected to database")
	default:
		logger.Fatal("Unknown STORE_DRIVER", zap.String("driver", cfg.Database.Driver))
	}

	// View debouncer
	var debouncer domain.Debouncer = cache.NewMemoryDebouncer()
	if cfg.Redis.URL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		redisDebouncer := cache.NewRedisDebouncer(client, cfg.Redis.Prefix)
		defer redisDebouncer.Close()
		deps["redis"] = redisDebouncer
		debouncer = redisDebouncer
		logger.Info("Connected to redis")
	}

	// Push notifications are optional
	var push domain.PushSender
	fcmClient, err := fcm.NewClient(ctx, logger, cfg.Firebase.CredentialsFile)
	if err != nil {
		logger.Warn("Failed to initialize Firebase client - push notifications will be disabled", zap.Error(err))
	} else {
		push = fcmClient
		logger.Info("Firebase client initialized")
	}

	fileStorage, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize file storage", zap.Error(err))
	}
	uploadsDir := ""
	if local, ok := fileStorage.(*storage.LocalFileStorage); ok {
		uploadsDir = local.BasePath()
	}

	hub := realtime.NewHub(logger)

	// Services
	notificationService := domain.NewNotificationService(repo, push, hub, logger)
	contentService := domain.NewContentService(repo, repo, fileStorage, logger)
	viewService := domain.NewViewService(repo, repo, debouncer, notificationService, cfg.Content.DebounceWindow, logger)

	// Handlers
	contentHandler := api.NewContentHandler(contentService, viewService, logger)
	notificationHandler := api.NewNotificationHandler(notificationService, logger)
	liveHandler := api.NewLiveHandler(hub)
	healthHandler := api.NewHealthHandler(deps, logger)
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessExpiry)

	router := api.NewRouter(contentHandler, notificationHandler, liveHandler, healthHandler, jwtManager, cfg.Server.CORSOrigins, uploadsDir, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.Setup(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return hub.Run(gctx)
	})

	g.Go(func() error {
		contentService.StartSweeper(gctx, cfg.Content.SweepInterval)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server stopped with error", zap.Error(err))
		return
	}
	logger.Info("Server stopped")
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zc = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	return zc.Build()
}

func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Connection pool settings
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
