// Command viewer plays the current story and snap queue of one user against
// a running content API. Owners to follow are given as arguments; SIGUSR1
// stands in for a platform screenshot event.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/locolive/ephemeral/internal/auth"
	"github.com/locolive/ephemeral/internal/client"
	"github.com/locolive/ephemeral/internal/config"
	"github.com/locolive/ephemeral/internal/domain"
	"github.com/locolive/ephemeral/internal/playback"
	"github.com/locolive/ephemeral/pkg/validator"
)

type logObserver struct {
	logger *zap.Logger
}

func (o logObserver) ItemStateChanged(index int, item *domain.ContentItem, state playback.ItemState) {
	o.logger.Info("item",
		zap.Int("index", index),
		zap.String("content_id", item.ID.String()),
		zap.String("kind", string(item.Kind)),
		zap.Stringer("state", state),
	)
}

func (o logObserver) SessionClosed(reason playback.CloseReason) {
	o.logger.Info("session closed", zap.String("reason", string(reason)))
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	viewerID, err := auth.UserIDFromToken(cfg.Playback.AccessToken)
	if err != nil {
		logger.Fatal("CONTENT_API_TOKEN must hold a valid access token", zap.Error(err))
	}

	owners, errs := validator.ParseUUIDs("owners", os.Args[1:])
	if errs.HasErrors() {
		logger.Fatal("Invalid owner ids", zap.Error(errs))
	}
	owners = append([]uuid.UUID{viewerID}, owners...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := client.New(cfg.Playback.APIBaseURL, cfg.Playback.AccessToken, cfg.Playback.RequestTimeout, logger)

	queue, err := playback.LoadQueue(ctx, api, viewerID, owners)
	if err != nil {
		logger.Fatal("Failed to load queue", zap.Error(err))
	}
	logger.Info("Queue loaded", zap.Int("items", len(queue)))

	screenshots := make(chan struct{}, 1)
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	go func() {
		for range usr1 {
			select {
			case screenshots <- struct{}{}:
			default:
			}
		}
	}()

	session := playback.NewSession(viewerID, queue, playback.Options{
		Views:               api,
		Media:               api,
		Guard:               playback.NewGuard(api, logger),
		Detector:            playback.NewNativeDetector(screenshots),
		Observer:            logObserver{logger: logger},
		TickInterval:        cfg.Playback.TickInterval,
		AckTimeout:          cfg.Playback.AckTimeout,
		BackgroundThreshold: cfg.Playback.BackgroundThreshold,
		Logger:              logger,
	})

	if err := session.Open(ctx); err != nil {
		logger.Fatal("Failed to open session", zap.Error(err))
	}

	go func() {
		<-ctx.Done()
		session.Close()
	}()

	session.Wait()
	signal.Stop(usr1)
}
