package playback

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/locolive/ephemeral/internal/domain"
)

func newTestGuard(n ScreenshotNotifier) *Guard {
	g := NewGuard(n, zap.NewNop())
	g.retryDelay = time.Millisecond
	return g
}

func TestGuard_RetriesNetworkFailureOnce(t *testing.T) {
	id := uuid.New()
	n := &mockNotifier{}
	n.On("ReportScreenshot", mock.Anything, id).Return(domain.ErrNetwork).Twice()

	newTestGuard(n).report(id, uuid.New(), epoch)

	n.AssertExpectations(t)
	n.AssertNumberOfCalls(t, "ReportScreenshot", 2)
}

func TestGuard_SecondAttemptSucceeds(t *testing.T) {
	id := uuid.New()
	n := &mockNotifier{}
	n.On("ReportScreenshot", mock.Anything, id).Return(domain.ErrNetwork).Once()
	n.On("ReportScreenshot", mock.Anything, id).Return(nil).Once()

	newTestGuard(n).report(id, uuid.New(), epoch)

	n.AssertExpectations(t)
}

func TestGuard_DoesNotRetryPermanentErrors(t *testing.T) {
	id := uuid.New()
	n := &mockNotifier{}
	n.On("ReportScreenshot", mock.Anything, id).Return(domain.ErrPermission).Once()

	newTestGuard(n).report(id, uuid.New(), epoch)

	n.AssertNumberOfCalls(t, "ReportScreenshot", 1)
}

func TestGuard_WithoutSessionRunsInBackground(t *testing.T) {
	id := uuid.New()
	called := make(chan struct{})
	n := &mockNotifier{}
	n.On("ReportScreenshot", mock.Anything, id).Return(nil).Run(func(mock.Arguments) { close(called) })

	newTestGuard(n).OnScreenshotDetected(nil, id, uuid.New(), epoch)

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("screenshot was not reported")
	}
}

func TestNativeDetector(t *testing.T) {
	events := make(chan struct{})
	d := NewNativeDetector(events)

	fired := make(chan struct{}, 4)
	stop := d.Start(func() { fired <- struct{}{} })

	events <- struct{}{}
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("event not forwarded")
	}

	stop()
	stop()

	select {
	case events <- struct{}{}:
		t.Fatal("detector still consuming after stop")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Empty(t, fired)
}

func TestUnsupportedDetector(t *testing.T) {
	stop := UnsupportedDetector{}.Start(func() { t.Fatal("unexpected event") })
	stop()
}

func TestGuard_ReportUsesBoundedContext(t *testing.T) {
	id := uuid.New()
	n := &mockNotifier{}
	n.On("ReportScreenshot", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	}), id).Return(nil).Once()

	newTestGuard(n).report(id, uuid.New(), epoch)
	n.AssertExpectations(t)
}
