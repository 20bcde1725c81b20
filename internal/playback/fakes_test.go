package playback

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/locolive/ephemeral/internal/domain"
)

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()               { f.stopped.Store(true) }

// tickerFactory hands out manual tickers and remembers every start
type tickerFactory struct {
	mu      sync.Mutex
	tickers []*fakeTicker
}

func (f *tickerFactory) New(time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time, 256)}
	f.tickers = append(f.tickers, t)
	return t
}

func (f *tickerFactory) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tickers)
}

func (f *tickerFactory) Last() *fakeTicker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tickers[len(f.tickers)-1]
}

func (f *tickerFactory) AllStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tickers {
		if !t.stopped.Load() {
			return false
		}
	}
	return true
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []uuid.UUID
	fn    func(id uuid.UUID, attempt int) error
}

func (f *fakeRecorder) RecordView(ctx context.Context, id uuid.UUID) (*domain.ViewRecord, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	attempt := 0
	for _, c := range f.calls {
		if c == id {
			attempt++
		}
	}
	fn := f.fn
	f.mu.Unlock()

	if fn != nil {
		if err := fn(id, attempt); err != nil {
			return nil, err
		}
	}
	return &domain.ViewRecord{ContentID: id, ViewCount: attempt}, nil
}

func (f *fakeRecorder) Calls() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.calls...)
}

type fakeMedia struct {
	errs map[uuid.UUID]error
}

func (f *fakeMedia) GetContent(ctx context.Context, id uuid.UUID) (*domain.ContentItem, error) {
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	return &domain.ContentItem{ID: id}, nil
}

type event struct {
	index int
	state ItemState
}

type recordingObserver struct {
	mu     sync.Mutex
	events []event
	closed []CloseReason
}

func (o *recordingObserver) ItemStateChanged(index int, item *domain.ContentItem, state ItemState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event{index, state})
}

func (o *recordingObserver) SessionClosed(reason CloseReason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = append(o.closed, reason)
}

// indicesIn lists the item index of every transition into state
func (o *recordingObserver) indicesIn(state ItemState) []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []int
	for _, e := range o.events {
		if e.state == state {
			out = append(out, e.index)
		}
	}
	return out
}

type fakeDetector struct {
	mu      sync.Mutex
	handler func()
	stopped bool
}

func (d *fakeDetector) Start(handler func()) func() {
	d.mu.Lock()
	d.handler = handler
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()
	}
}

func (d *fakeDetector) Fire() {
	d.mu.Lock()
	h, stopped := d.handler, d.stopped
	d.mu.Unlock()
	if h != nil && !stopped {
		h()
	}
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) ReportScreenshot(ctx context.Context, contentID uuid.UUID) error {
	args := m.Called(ctx, contentID)
	return args.Error(0)
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func story(owner uuid.UUID, seconds int, created time.Time) *domain.ContentItem {
	expires := created.Add(domain.StoryTTL)
	return &domain.ContentItem{
		ID:                     uuid.New(),
		OwnerID:                owner,
		MediaRef:               "media://" + uuid.NewString(),
		ContentType:            domain.ContentTypePhoto,
		Kind:                   domain.KindStory,
		ViewingDurationSeconds: seconds,
		ExpiresAt:              &expires,
		CreatedAt:              created,
	}
}

func snap(owner, recipient uuid.UUID, seconds, replays int, created time.Time) *domain.ContentItem {
	return &domain.ContentItem{
		ID:                     uuid.New(),
		OwnerID:                owner,
		MediaRef:               "media://" + uuid.NewString(),
		ContentType:            domain.ContentTypePhoto,
		Kind:                   domain.KindSnap,
		ViewingDurationSeconds: seconds,
		MaxReplays:             &replays,
		Recipients:             []uuid.UUID{recipient},
		CreatedAt:              created,
	}
}
