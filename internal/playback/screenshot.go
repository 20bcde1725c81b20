package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/locolive/ephemeral/internal/domain"
)

const (
	defaultScreenshotRetryDelay = 250 * time.Millisecond
	screenshotNotifyTimeout     = 10 * time.Second
)

// Detector reports platform screenshot events. Start begins delivering
// events to handler and returns a function that stops delivery.
type Detector interface {
	Start(handler func()) (stop func())
}

// NativeDetector forwards events from a platform hook channel
type NativeDetector struct {
	events <-chan struct{}
}

func NewNativeDetector(events <-chan struct{}) *NativeDetector {
	return &NativeDetector{events: events}
}

func (d *NativeDetector) Start(handler func()) func() {
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case _, ok := <-d.events:
				if !ok {
					return
				}
				handler()
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// UnsupportedDetector is used where the platform offers no screenshot hook
type UnsupportedDetector struct{}

func (UnsupportedDetector) Start(func()) func() { return func() {} }

// Guard turns detected screenshots into best-effort owner notifications.
// It never blocks the caller and never touches playback state.
type Guard struct {
	notifier   ScreenshotNotifier
	retryDelay time.Duration
	logger     *zap.Logger
}

func NewGuard(notifier ScreenshotNotifier, logger *zap.Logger) *Guard {
	return &Guard{
		notifier:   notifier,
		retryDelay: defaultScreenshotRetryDelay,
		logger:     logger,
	}
}

// OnScreenshotDetected reports the event in the background. A transient
// failure is retried once; anything else is dropped.
func (g *Guard) OnScreenshotDetected(s *Session, contentID, viewerID uuid.UUID, now time.Time) {
	report := func() { g.report(contentID, viewerID, now) }
	if s != nil {
		s.goAsync(report)
		return
	}
	go report()
}

func (g *Guard) report(contentID, viewerID uuid.UUID, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), screenshotNotifyTimeout)
	defer cancel()

	op := func() error {
		err := g.notifier.ReportScreenshot(ctx, contentID)
		if err != nil && !domain.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(g.retryDelay), 1), ctx)

	if err := backoff.Retry(op, b); err != nil {
		level := g.logger.Debug
		if !errors.Is(err, domain.ErrNetwork) {
			level = g.logger.Warn
		}
		level("screenshot notification dropped",
			zap.String("content_id", contentID.String()),
			zap.String("viewer_id", viewerID.String()),
			zap.Time("at", at),
			zap.Error(err),
		)
	}
}
