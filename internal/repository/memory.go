package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/locolive/ephemeral/internal/domain"
)

type viewKey struct {
	contentID uuid.UUID
	viewerID  uuid.UUID
}

// MemoryRepository is an in-process Content Store used for tests and local runs
type MemoryRepository struct {
	mu            sync.RWMutex
	content       map[uuid.UUID]*domain.ContentItem
	views         map[viewKey]*domain.ViewRecord
	notifications []*domain.Notification
	tokens        map[uuid.UUID][]string
}

// NewMemoryRepository creates an empty in-memory store
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		content: make(map[uuid.UUID]*domain.ContentItem),
		views:   make(map[viewKey]*domain.ViewRecord),
		tokens:  make(map[uuid.UUID][]string),
	}
}

func (r *MemoryRepository) CreateContent(ctx context.Context, item *domain.ContentItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.content[item.ID] = cloneItem(item)
	return nil
}

func (r *MemoryRepository) GetContent(ctx context.Context, id uuid.UUID) (*domain.ContentItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.content[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneItem(item), nil
}

func (r *MemoryRepository) ListStoriesByOwners(ctx context.Context, ownerIDs []uuid.UUID, now time.Time) ([]*domain.ContentItem, error) {
	owners := toSet(ownerIDs)
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.ContentItem
	for _, item := range r.content {
		if item.Kind != domain.KindStory {
			continue
		}
		if _, ok := owners[item.OwnerID]; !ok {
			continue
		}
		if item.ExpiresAt != nil && !now.Before(*item.ExpiresAt) {
			continue
		}
		out = append(out, cloneItem(item))
	}
	sortByCreated(out)
	return out, nil
}

func (r *MemoryRepository) ListSnapsForRecipient(ctx context.Context, recipientID uuid.UUID, ownerIDs []uuid.UUID) ([]*domain.ContentItem, error) {
	owners := toSet(ownerIDs)
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.ContentItem
	for _, item := range r.content {
		if item.Kind != domain.KindSnap || !item.IsRecipient(recipientID) {
			continue
		}
		if len(owners) > 0 {
			if _, ok := owners[item.OwnerID]; !ok {
				continue
			}
		}
		out = append(out, cloneItem(item))
	}
	sortByCreated(out)
	return out, nil
}

func (r *MemoryRepository) DeleteContent(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.content[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.content, id)
	for k := range r.views {
		if k.contentID == id {
			delete(r.views, k)
		}
	}
	return nil
}

func (r *MemoryRepository) ListExpiredStories(ctx context.Context, now time.Time) ([]*domain.ContentItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.ContentItem
	for _, item := range r.content {
		if domain.IsExpired(item, now) {
			out = append(out, cloneItem(item))
		}
	}
	sortByCreated(out)
	return out, nil
}

func (r *MemoryRepository) ListExhaustedSnaps(ctx context.Context) ([]*domain.ContentItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.ContentItem
	for _, item := range r.content {
		if item.Kind != domain.KindSnap || len(item.Recipients) == 0 {
			continue
		}
		exhausted := true
		for _, rcpt := range item.Recipients {
			rec, ok := r.views[viewKey{item.ID, rcpt}]
			if !ok || rec.ViewCount < item.ReplayBudget() {
				exhausted = false
				break
			}
		}
		if exhausted {
			out = append(out, cloneItem(item))
		}
	}
	sortByCreated(out)
	return out, nil
}

func (r *MemoryRepository) RecordView(ctx context.Context, params domain.RecordViewParams) (*domain.ViewRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.content[params.ContentID]; !ok {
		return nil, false, domain.ErrNotFound
	}

	key := viewKey{params.ContentID, params.ViewerID}
	rec, ok := r.views[key]
	if !ok {
		rec = &domain.ViewRecord{
			ContentID:     params.ContentID,
			ViewerID:      params.ViewerID,
			FirstViewedAt: params.At,
			LastViewedAt:  params.At,
			ViewCount:     1,
		}
		r.views[key] = rec
		copied := *rec
		return &copied, true, nil
	}

	if params.DebounceWindow > 0 && rec.ViewCount > 0 && params.At.Sub(rec.LastViewedAt) < params.DebounceWindow {
		copied := *rec
		return &copied, false, nil
	}
	if params.MaxReplays > 0 && rec.ViewCount >= params.MaxReplays {
		return nil, false, domain.ErrReplayLimitExceeded
	}

	created := rec.ViewCount == 0
	if created {
		rec.FirstViewedAt = params.At
	}
	rec.ViewCount++
	rec.LastViewedAt = params.At
	copied := *rec
	return &copied, created, nil
}

func (r *MemoryRepository) GetViewRecord(ctx context.Context, contentID, viewerID uuid.UUID) (*domain.ViewRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.views[viewKey{contentID, viewerID}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

func (r *MemoryRepository) GetViewRecords(ctx context.Context, contentIDs []uuid.UUID, viewerID uuid.UUID) (map[uuid.UUID]*domain.ViewRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[uuid.UUID]*domain.ViewRecord, len(contentIDs))
	for _, id := range contentIDs {
		if rec, ok := r.views[viewKey{id, viewerID}]; ok {
			copied := *rec
			out[id] = &copied
		}
	}
	return out, nil
}

func (r *MemoryRepository) CountViewers(ctx context.Context, contentID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for k, rec := range r.views {
		if k.contentID == contentID && rec.ViewCount > 0 {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) MarkScreenshot(ctx context.Context, contentID, viewerID uuid.UUID, at time.Time) (*domain.ViewRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.content[contentID]; !ok {
		return nil, domain.ErrNotFound
	}
	key := viewKey{contentID, viewerID}
	rec, ok := r.views[key]
	if !ok {
		// zero-count placeholder; the pending view write will count it
		rec = &domain.ViewRecord{
			ContentID:     contentID,
			ViewerID:      viewerID,
			FirstViewedAt: at,
		}
		r.views[key] = rec
	}
	rec.ScreenshotTaken = true
	copied := *rec
	return &copied, nil
}

func (r *MemoryRepository) CreateNotification(ctx context.Context, userID uuid.UUID, eventType domain.EventType, title, body string, data domain.Map) (*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := &domain.Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      eventType,
		Title:     title,
		Body:      body,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	r.notifications = append(r.notifications, n)
	copied := *n
	return &copied, nil
}

func (r *MemoryRepository) GetNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var mine []*domain.Notification
	for i := len(r.notifications) - 1; i >= 0; i-- {
		if n := r.notifications[i]; n.UserID == userID {
			copied := *n
			mine = append(mine, &copied)
		}
	}
	if offset >= len(mine) {
		return []*domain.Notification{}, nil
	}
	mine = mine[offset:]
	if limit > 0 && len(mine) > limit {
		mine = mine[:limit]
	}
	return mine, nil
}

func (r *MemoryRepository) MarkNotificationRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.notifications {
		if n.ID == notificationID && n.UserID == userID {
			n.IsRead = true
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *MemoryRepository) UpsertDeviceToken(ctx context.Context, userID uuid.UUID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens[userID] {
		if t == token {
			return nil
		}
	}
	r.tokens[userID] = append(r.tokens[userID], token)
	return nil
}

func (r *MemoryRepository) DeleteDeviceToken(ctx context.Context, userID uuid.UUID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.tokens[userID][:0]
	for _, t := range r.tokens[userID] {
		if t != token {
			kept = append(kept, t)
		}
	}
	r.tokens[userID] = kept
	return nil
}

func (r *MemoryRepository) GetDeviceTokens(ctx context.Context, userID uuid.UUID) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.tokens[userID]...), nil
}

func cloneItem(item *domain.ContentItem) *domain.ContentItem {
	c := *item
	if item.Recipients != nil {
		c.Recipients = append([]uuid.UUID(nil), item.Recipients...)
	}
	return &c
}

func toSet(ids []uuid.UUID) map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func sortByCreated(items []*domain.ContentItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}
