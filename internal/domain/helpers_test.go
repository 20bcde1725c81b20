package domain_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/locolive/ephemeral/internal/domain"
	"github.com/locolive/ephemeral/internal/repository"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, ownerID uuid.UUID, eventType domain.EventType, payload domain.Map) error {
	args := m.Called(ctx, ownerID, eventType, payload)
	return args.Error(0)
}

type fixture struct {
	repo     *repository.MemoryRepository
	content  *domain.ContentService
	views    *domain.ViewService
	notifier *mockNotifier
	clock    *testClock
}

func newFixture(t *testing.T, debouncer domain.Debouncer) *fixture {
	t.Helper()
	f := &fixture{
		repo:     repository.NewMemoryRepository(),
		notifier: &mockNotifier{},
		clock:    &testClock{now: t0},
	}
	logger := zap.NewNop()
	f.content = domain.NewContentService(f.repo, f.repo, nil, logger)
	f.content.SetClock(f.clock.Now)
	f.views = domain.NewViewService(f.repo, f.repo, debouncer, f.notifier, time.Second, logger)
	return f
}

func (f *fixture) story(t *testing.T, owner uuid.UUID) *domain.ContentItem {
	t.Helper()
	item, err := f.content.CreateContent(context.Background(), domain.CreateContentParams{
		OwnerID:     owner,
		MediaRef:    "https://cdn.example/story.jpg",
		ContentType: domain.ContentTypePhoto,
		Kind:        domain.KindStory,
	}, nil, "", "")
	require.NoError(t, err)
	return item
}

func (f *fixture) snap(t *testing.T, owner uuid.UUID, replays int, recipients ...uuid.UUID) *domain.ContentItem {
	t.Helper()
	item, err := f.content.CreateContent(context.Background(), domain.CreateContentParams{
		OwnerID:     owner,
		MediaRef:    "https://cdn.example/snap.jpg",
		ContentType: domain.ContentTypePhoto,
		Kind:        domain.KindSnap,
		MaxReplays:  intPtr(replays),
		Recipients:  recipients,
	}, nil, "", "")
	require.NoError(t, err)
	return item
}
