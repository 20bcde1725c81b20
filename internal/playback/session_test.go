package playback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/locolive/ephemeral/internal/domain"
	"github.com/locolive/ephemeral/internal/repository"
)

type harness struct {
	session  *Session
	tickers  *tickerFactory
	recorder *fakeRecorder
	observer *recordingObserver
	clock    *manualClock
}

func newHarness(t *testing.T, viewer uuid.UUID, queue []*domain.ContentItem, tweak func(*Options)) *harness {
	t.Helper()
	h := &harness{
		tickers:  &tickerFactory{},
		recorder: &fakeRecorder{},
		observer: &recordingObserver{},
		clock:    &manualClock{now: epoch},
	}
	opts := Options{
		Views:        h.recorder,
		Observer:     h.observer,
		NewTicker:    h.tickers.New,
		Now:          h.clock.Now,
		TickInterval: 50 * time.Millisecond,
		AckTimeout:   time.Second,
		RetryBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
		Logger:       zap.NewNop(),
	}
	if tweak != nil {
		tweak(&opts)
	}
	h.session = NewSession(viewer, queue, opts)
	t.Cleanup(func() {
		h.session.Close()
		h.session.Wait()
	})
	return h
}

func ticks(s *Session, n int) {
	for i := 0; i < n; i++ {
		s.Tick()
	}
}

func TestSession_ForwardTapsWalkQueueThenClose(t *testing.T) {
	viewer, owner := uuid.New(), uuid.New()
	a, b, c := story(owner, 5, epoch), story(owner, 5, epoch.Add(time.Minute)), story(owner, 5, epoch.Add(2*time.Minute))
	h := newHarness(t, viewer, []*domain.ContentItem{a, b, c}, nil)
	s := h.session

	require.NoError(t, s.Open(context.Background()))
	assert.Equal(t, StatePlaying, s.State())
	assert.Equal(t, a.ID, s.Current().ID)

	s.Next()
	assert.Equal(t, 1, s.Index())
	assert.Equal(t, StatePlaying, s.State())

	s.Next()
	assert.Equal(t, 2, s.Index())

	s.Next()
	assert.Equal(t, SessionClosed, s.SessionState())
	assert.Equal(t, CloseExhausted, s.CloseReason())

	s.Wait()
	assert.Equal(t, []int{0, 1, 2}, h.observer.indicesIn(StateLoading), "A is never revisited")
	assert.Equal(t, []uuid.UUID{a.ID, b.ID, c.ID}, h.recorder.Calls(), "views go out in queue order")
	assert.True(t, h.tickers.AllStopped())
}

func TestSession_PauseKeepsProgressAndTotalPlayTime(t *testing.T) {
	viewer, owner := uuid.New(), uuid.New()
	a, b := story(owner, 5, epoch), story(owner, 5, epoch.Add(time.Minute))
	h := newHarness(t, viewer, []*domain.ContentItem{a, b}, nil)
	s := h.session
	require.NoError(t, s.Open(context.Background()))

	ticks(s, 40)
	assert.InDelta(t, 0.4, s.Progress(), 1e-9)

	s.Pause()
	assert.Equal(t, StatePaused, s.State())
	ticks(s, 25)
	assert.InDelta(t, 0.4, s.Progress(), 1e-9, "paused clock does not advance")

	s.Resume()
	assert.InDelta(t, 0.4, s.Progress(), 1e-9, "resume does not reset")

	s.Pause()
	s.Resume()
	ticks(s, 59)
	assert.Equal(t, 0, s.Index())
	assert.Equal(t, StatePlaying, s.State())

	// 100 playing ticks of 50ms is exactly the 5s viewing duration
	s.Tick()
	assert.Equal(t, 1, s.Index())
	assert.Equal(t, 0.0, s.Progress())
	assert.Equal(t, 1, h.tickers.Starts(), "one clock serves the whole session")
}

func TestSession_RecordsViewOncePerItem(t *testing.T) {
	viewer, owner := uuid.New(), uuid.New()
	a, b := story(owner, 5, epoch), story(owner, 5, epoch.Add(time.Minute))
	h := newHarness(t, viewer, []*domain.ContentItem{a, b}, nil)
	s := h.session
	require.NoError(t, s.Open(context.Background()))

	s.Pause()
	s.Resume()
	s.Next()
	ticks(s, 30)
	s.Previous()
	assert.Equal(t, 0, s.Index())
	assert.Equal(t, 0.0, s.Progress(), "re-entry restarts from zero")
	s.Next()

	s.Close()
	s.Wait()
	assert.Equal(t, []uuid.UUID{a.ID, b.ID}, h.recorder.Calls())
}

func TestSession_PreviousOnFirstItemRestartsIt(t *testing.T) {
	viewer, owner := uuid.New(), uuid.New()
	a, b := story(owner, 5, epoch), story(owner, 5, epoch.Add(time.Minute))
	h := newHarness(t, viewer, []*domain.ContentItem{a, b}, nil)
	s := h.session
	require.NoError(t, s.Open(context.Background()))

	ticks(s, 20)
	s.Pause()
	s.Previous()

	assert.Equal(t, SessionActive, s.SessionState())
	assert.Equal(t, 0, s.Index())
	assert.Equal(t, StatePlaying, s.State())
	assert.Equal(t, 0.0, s.Progress())
}

func TestSession_ExhaustedSnapNeverStartsClock(t *testing.T) {
	owner, viewer := uuid.New(), uuid.New()
	logger := zap.NewNop()
	repo := repository.NewMemoryRepository()
	contents := domain.NewContentService(repo, repo, nil, logger)
	views := domain.NewViewService(repo, repo, nil, nil, time.Second, logger)

	clock := &manualClock{now: epoch}
	contents.SetClock(clock.Now)
	duration, replays := 3, 1
	item, err := contents.CreateContent(context.Background(), domain.CreateContentParams{
		OwnerID:                owner,
		MediaRef:               "media://snap",
		ContentType:            domain.ContentTypePhoto,
		Kind:                   domain.KindSnap,
		ViewingDurationSeconds: &duration,
		MaxReplays:             &replays,
		Recipients:             []uuid.UUID{viewer},
	}, nil, "", "")
	require.NoError(t, err)

	recorder := recorderFunc(func(ctx context.Context, id uuid.UUID) (*domain.ViewRecord, error) {
		return views.RecordView(ctx, id, viewer, clock.Now())
	})

	// first open plays and counts the single allowed view
	first := newHarness(t, viewer, []*domain.ContentItem{item}, func(o *Options) { o.Views = recorder })
	require.NoError(t, first.session.Open(context.Background()))
	assert.Equal(t, StatePlaying, first.session.State())
	assert.Equal(t, 1, first.tickers.Starts())
	ticks(first.session, 60)
	assert.Equal(t, CloseExhausted, first.session.CloseReason())
	first.session.Wait()

	record, err := repo.GetViewRecord(context.Background(), item.ID, viewer)
	require.NoError(t, err)
	assert.Equal(t, 1, record.ViewCount)

	// second open is refused by the server and shows the terminal state
	clock.Advance(10 * time.Second)
	second := newHarness(t, viewer, []*domain.ContentItem{item}, func(o *Options) { o.Views = recorder })
	require.NoError(t, second.session.Open(context.Background()))

	assert.Equal(t, SessionClosed, second.session.SessionState())
	assert.Equal(t, []int{0}, second.observer.indicesIn(StateUnavailable))
	assert.Empty(t, second.observer.indicesIn(StatePlaying))
	assert.Equal(t, 0, second.tickers.Starts(), "no playback clock for an exhausted snap")

	record, err = repo.GetViewRecord(context.Background(), item.ID, viewer)
	require.NoError(t, err)
	assert.Equal(t, 1, record.ViewCount)
}

type recorderFunc func(ctx context.Context, id uuid.UUID) (*domain.ViewRecord, error)

func (f recorderFunc) RecordView(ctx context.Context, id uuid.UUID) (*domain.ViewRecord, error) {
	return f(ctx, id)
}

func TestSession_UnavailableSnapAdvancesToNext(t *testing.T) {
	owner, viewer := uuid.New(), uuid.New()
	used := snap(owner, viewer, 3, 1, epoch)
	next := story(owner, 5, epoch.Add(time.Minute))
	h := newHarness(t, viewer, []*domain.ContentItem{used, next}, nil)
	h.recorder.fn = func(id uuid.UUID, attempt int) error {
		if id == used.ID {
			return domain.ErrReplayLimitExceeded
		}
		return nil
	}

	require.NoError(t, h.session.Open(context.Background()))
	assert.Equal(t, 1, h.session.Index())
	assert.Equal(t, StatePlaying, h.session.State())
	assert.Equal(t, []int{0}, h.observer.indicesIn(StateUnavailable))

	// going back skips the unavailable snap and restarts the current item
	ticks(h.session, 10)
	h.session.Previous()
	assert.Equal(t, 1, h.session.Index())
	assert.Equal(t, 0.0, h.session.Progress())
}

func TestSession_SkipsDeletedContent(t *testing.T) {
	viewer, owner := uuid.New(), uuid.New()
	a, b, c := story(owner, 5, epoch), story(owner, 5, epoch.Add(time.Minute)), story(owner, 5, epoch.Add(2*time.Minute))
	media := &fakeMedia{errs: map[uuid.UUID]error{b.ID: domain.ErrNotFound}}
	h := newHarness(t, viewer, []*domain.ContentItem{a, b, c}, func(o *Options) { o.Media = media })
	s := h.session

	require.NoError(t, s.Open(context.Background()))
	s.Next()

	assert.Equal(t, 2, s.Index())
	assert.Equal(t, StatePlaying, s.State())
	assert.Contains(t, h.observer.indicesIn(StateFinished), 1)

	s.Close()
	s.Wait()
	assert.Equal(t, []uuid.UUID{a.ID, c.ID}, h.recorder.Calls())
}

func TestSession_MediaNetworkErrorPlaysSnapshot(t *testing.T) {
	viewer, owner := uuid.New(), uuid.New()
	a := story(owner, 5, epoch)
	media := &fakeMedia{errs: map[uuid.UUID]error{a.ID: domain.ErrNetwork}}
	h := newHarness(t, viewer, []*domain.ContentItem{a}, func(o *Options) { o.Media = media })

	require.NoError(t, h.session.Open(context.Background()))
	assert.Equal(t, StatePlaying, h.session.State())
}

func TestSession_SnapAckTimeoutPlaysOptimistically(t *testing.T) {
	owner, viewer := uuid.New(), uuid.New()
	item := snap(owner, viewer, 3, 2, epoch)
	release := make(chan struct{})
	h := newHarness(t, viewer, []*domain.ContentItem{item}, func(o *Options) {
		o.AckTimeout = 20 * time.Millisecond
	})
	h.recorder.fn = func(uuid.UUID, int) error {
		<-release
		return nil
	}

	start := time.Now()
	require.NoError(t, h.session.Open(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond, "open waits for the ack timeout")
	assert.Equal(t, StatePlaying, h.session.State())

	h.session.Close()
	close(release)
	h.session.Wait()
	assert.Equal(t, []uuid.UUID{item.ID}, h.recorder.Calls(), "in-flight view still completes")
}

func TestSession_SnapTransientFailureIsRetried(t *testing.T) {
	owner, viewer := uuid.New(), uuid.New()
	item := snap(owner, viewer, 3, 2, epoch)
	h := newHarness(t, viewer, []*domain.ContentItem{item}, nil)
	h.recorder.fn = func(id uuid.UUID, attempt int) error {
		if attempt == 1 {
			return domain.ErrNetwork
		}
		return nil
	}

	require.NoError(t, h.session.Open(context.Background()))
	assert.Equal(t, StatePlaying, h.session.State())
	assert.Len(t, h.recorder.Calls(), 2)
}

func TestSession_SnapPermissionErrorSkips(t *testing.T) {
	owner, viewer := uuid.New(), uuid.New()
	item := snap(owner, viewer, 3, 2, epoch)
	h := newHarness(t, viewer, []*domain.ContentItem{item}, nil)
	h.recorder.fn = func(uuid.UUID, int) error { return domain.ErrPermission }

	require.NoError(t, h.session.Open(context.Background()))
	assert.Equal(t, SessionClosed, h.session.SessionState())
	assert.Len(t, h.recorder.Calls(), 1, "permission errors are not retried")
}

func TestSession_ScreenshotWhilePausedFiresOnce(t *testing.T) {
	owner, viewer := uuid.New(), uuid.New()
	item := snap(owner, viewer, 5, 1, epoch)
	notifier := &mockNotifier{}
	notifier.On("ReportScreenshot", mock.Anything, item.ID).Return(nil).Once()
	detector := &fakeDetector{}

	h := newHarness(t, viewer, []*domain.ContentItem{item}, func(o *Options) {
		o.Guard = NewGuard(notifier, zap.NewNop())
		o.Detector = detector
	})
	s := h.session
	require.NoError(t, s.Open(context.Background()))

	ticks(s, 30)
	s.Pause()
	detector.Fire()

	assert.Equal(t, StatePaused, s.State())
	assert.InDelta(t, 0.3, s.Progress(), 1e-9)

	s.Close()
	s.Wait()
	notifier.AssertExpectations(t)
	notifier.AssertNumberOfCalls(t, "ReportScreenshot", 1)
}

func TestSession_ScreenshotIgnoredAfterClose(t *testing.T) {
	owner, viewer := uuid.New(), uuid.New()
	item := story(owner, 5, epoch)
	notifier := &mockNotifier{}
	h := newHarness(t, viewer, []*domain.ContentItem{item}, func(o *Options) {
		o.Guard = NewGuard(notifier, zap.NewNop())
	})
	require.NoError(t, h.session.Open(context.Background()))
	h.session.Close()

	h.session.ScreenshotDetected()
	h.session.Wait()
	notifier.AssertNotCalled(t, "ReportScreenshot", mock.Anything, mock.Anything)
}

func TestSession_BackgroundHoldsClock(t *testing.T) {
	viewer, owner := uuid.New(), uuid.New()
	a := story(owner, 5, epoch)
	h := newHarness(t, viewer, []*domain.ContentItem{a}, func(o *Options) {
		o.BackgroundThreshold = 30 * time.Second
	})
	s := h.session
	require.NoError(t, s.Open(context.Background()))
	ticks(s, 10)

	s.Background()
	assert.True(t, h.tickers.Last().stopped.Load())
	ticks(s, 50)
	assert.InDelta(t, 0.1, s.Progress(), 1e-9, "no catch-up while backgrounded")

	h.clock.Advance(5 * time.Second)
	s.Foreground()
	assert.Equal(t, SessionActive, s.SessionState())
	assert.Equal(t, 2, h.tickers.Starts())
	ticks(s, 10)
	assert.InDelta(t, 0.2, s.Progress(), 1e-9)

	s.Background()
	h.clock.Advance(31 * time.Second)
	s.Foreground()
	assert.Equal(t, SessionClosed, s.SessionState())
	assert.Equal(t, CloseBackgrounded, s.CloseReason())
	assert.True(t, h.tickers.AllStopped())
}

func TestSession_ClockGoroutineDrivesProgress(t *testing.T) {
	viewer, owner := uuid.New(), uuid.New()
	a, b := story(owner, 3, epoch), story(owner, 3, epoch.Add(time.Minute))
	h := newHarness(t, viewer, []*domain.ContentItem{a, b}, nil)
	require.NoError(t, h.session.Open(context.Background()))

	ticker := h.tickers.Last()
	for i := 0; i < 60; i++ {
		ticker.ch <- epoch
	}
	assert.Eventually(t, func() bool { return h.session.Index() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSession_EmptyQueueClosesImmediately(t *testing.T) {
	h := newHarness(t, uuid.New(), nil, nil)
	require.NoError(t, h.session.Open(context.Background()))
	assert.Equal(t, SessionClosed, h.session.SessionState())
	assert.Equal(t, CloseExhausted, h.session.CloseReason())
	assert.Nil(t, h.session.Current())
	assert.Equal(t, 0, h.tickers.Starts())
}

func TestSession_OpenTwice(t *testing.T) {
	h := newHarness(t, uuid.New(), []*domain.ContentItem{story(uuid.New(), 5, epoch)}, nil)
	require.NoError(t, h.session.Open(context.Background()))
	assert.True(t, errors.Is(h.session.Open(context.Background()), ErrAlreadyOpen))

	h.session.Close()
	assert.Equal(t, []CloseReason{CloseExplicit}, h.observer.closed)
}

func TestSession_QueueIsSnapshot(t *testing.T) {
	owner := uuid.New()
	a := story(owner, 5, epoch)
	queue := []*domain.ContentItem{a}
	h := newHarness(t, uuid.New(), queue, nil)

	a.ViewingDurationSeconds = 10
	queue[0] = story(owner, 3, epoch)

	require.NoError(t, h.session.Open(context.Background()))
	assert.Equal(t, 5, h.session.Current().ViewingDurationSeconds)
}
