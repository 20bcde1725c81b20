package domain

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/locolive/ephemeral/internal/metrics"
	"github.com/locolive/ephemeral/internal/storage"
	"github.com/locolive/ephemeral/pkg/validator"
)

type ContentService struct {
	repo    ContentRepository
	views   ViewRepository
	storage storage.FileStorage
	logger  *zap.Logger
	now     func() time.Time
}

func NewContentService(repo ContentRepository, views ViewRepository, storage storage.FileStorage, logger *zap.Logger) *ContentService {
	return &ContentService{
		repo:    repo,
		views:   views,
		storage: storage,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock overrides the time source used for creation timestamps
func (s *ContentService) SetClock(now func() time.Time) {
	s.now = now
}

// Now returns the service clock's current time
func (s *ContentService) Now() time.Time {
	return s.now()
}

// CreateContent validates and stores a new story or snap. When file is non-nil
// it is uploaded first and its URL becomes the media reference.
func (s *ContentService) CreateContent(ctx context.Context, params CreateContentParams, file io.Reader, filename, contentType string) (*ContentItem, error) {
	if err := validateCreate(params, file != nil); err != nil {
		return nil, err
	}

	if file != nil {
		url, err := s.storage.SaveFile(ctx, file, filename, contentType)
		if err != nil {
			return nil, err
		}
		params.MediaRef = url
	}

	// microsecond precision matches what Postgres stores, so expires_at stays exact
	createdAt := s.now().UTC().Truncate(time.Microsecond)
	item := &ContentItem{
		ID:                     uuid.New(),
		OwnerID:                params.OwnerID,
		MediaRef:               params.MediaRef,
		ContentType:            params.ContentType,
		Kind:                   params.Kind,
		Caption:                params.Caption,
		ViewingDurationSeconds: ResolveViewingDuration(params.ContentType, params.ViewingDurationSeconds, params.MediaDurationSeconds),
		CreatedAt:              createdAt,
	}

	switch params.Kind {
	case KindStory:
		expiresAt := createdAt.Add(StoryTTL)
		item.ExpiresAt = &expiresAt
	case KindSnap:
		replays := *params.MaxReplays
		item.MaxReplays = &replays
		item.Recipients = dedupeRecipients(params.Recipients)
	}

	if err := s.repo.CreateContent(ctx, item); err != nil {
		if file != nil {
			if delErr := s.storage.DeleteFile(ctx, item.MediaRef); delErr != nil {
				s.logger.Warn("failed to remove orphaned media", zap.String("media_ref", item.MediaRef), zap.Error(delErr))
			}
		}
		return nil, err
	}

	metrics.ContentCreated.WithLabelValues(string(item.Kind)).Inc()
	return item, nil
}

// GetContent returns a single item, or ErrNotFound once it has been deleted
func (s *ContentService) GetContent(ctx context.Context, id uuid.UUID) (*ContentItem, error) {
	return s.repo.GetContent(ctx, id)
}

// GetForViewer returns an item as seen by viewerID. Owners always see their
// own content. Expired stories read as not found; snaps are limited to their
// recipients. Replay budgets are enforced by RecordView, not here.
func (s *ContentService) GetForViewer(ctx context.Context, id, viewerID uuid.UUID, now time.Time) (*ContentItem, error) {
	item, err := s.repo.GetContent(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.OwnerID == viewerID {
		return item, nil
	}
	switch item.Kind {
	case KindStory:
		if IsExpired(item, now) {
			return nil, fmt.Errorf("%w: story expired", ErrNotFound)
		}
	case KindSnap:
		if !item.IsRecipient(viewerID) {
			return nil, fmt.Errorf("%w: not a recipient of this snap", ErrPermission)
		}
	}
	return item, nil
}

// ListActive returns the items of the given owners that the expiration
// policy currently lets viewerID see, oldest first. An empty kind lists both.
func (s *ContentService) ListActive(ctx context.Context, viewerID uuid.UUID, ownerIDs []uuid.UUID, kind Kind, now time.Time) ([]*ContentItem, error) {
	var candidates []*ContentItem

	if kind == "" || kind == KindStory {
		if len(ownerIDs) > 0 {
			stories, err := s.repo.ListStoriesByOwners(ctx, ownerIDs, now)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, stories...)
		}
	}

	if kind == "" || kind == KindSnap {
		snaps, err := s.repo.ListSnapsForRecipient(ctx, viewerID, ownerIDs)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, snaps...)
	}

	if len(candidates) == 0 {
		return []*ContentItem{}, nil
	}

	ids := make([]uuid.UUID, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}
	records, err := s.views.GetViewRecords(ctx, ids, viewerID)
	if err != nil {
		return nil, err
	}

	active := make([]*ContentItem, 0, len(candidates))
	for _, c := range candidates {
		if IsVisible(c, viewerID, now, records[c.ID]) {
			active = append(active, c)
		}
	}

	sort.SliceStable(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active, nil
}

// DeleteContent removes an item and its view records. Only the owner may delete.
func (s *ContentService) DeleteContent(ctx context.Context, id, requester uuid.UUID) error {
	item, err := s.repo.GetContent(ctx, id)
	if err != nil {
		return err
	}
	if item.OwnerID != requester {
		return fmt.Errorf("%w: only the owner can delete content", ErrPermission)
	}
	return s.remove(ctx, item)
}

func (s *ContentService) remove(ctx context.Context, item *ContentItem) error {
	if err := s.repo.DeleteContent(ctx, item.ID); err != nil {
		return err
	}
	if item.MediaRef != "" && s.storage != nil {
		if err := s.storage.DeleteFile(ctx, item.MediaRef); err != nil {
			s.logger.Warn("failed to delete media", zap.String("content_id", item.ID.String()), zap.Error(err))
		}
	}
	return nil
}

// PurgeExpired deletes stories past their window and snaps every recipient has used up
func (s *ContentService) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	stories, err := s.repo.ListExpiredStories(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired stories: %w", err)
	}
	snaps, err := s.repo.ListExhaustedSnaps(ctx)
	if err != nil {
		return 0, fmt.Errorf("list exhausted snaps: %w", err)
	}

	purged := 0
	for _, item := range append(stories, snaps...) {
		if err := s.remove(ctx, item); err != nil {
			s.logger.Error("failed to purge content", zap.String("content_id", item.ID.String()), zap.Error(err))
			continue
		}
		metrics.ContentPurged.WithLabelValues(string(item.Kind)).Inc()
		purged++
	}
	return purged, nil
}

// StartSweeper runs PurgeExpired every interval until ctx is cancelled
func (s *ContentService) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeExpired(ctx, s.now())
			if err != nil {
				s.logger.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("expiry sweep", zap.Int("purged", n))
			}
		}
	}
}

func validateCreate(params CreateContentParams, hasUpload bool) error {
	var errs validator.ValidationErrors

	if params.OwnerID == uuid.Nil {
		errs.Add("owner_id", "is required")
	}
	if strings.TrimSpace(params.MediaRef) == "" && !hasUpload {
		errs.Add("media_ref", "is required")
	}
	switch params.ContentType {
	case ContentTypePhoto, ContentTypeVideo:
	default:
		errs.Add("content_type", "must be photo or video")
	}
	if d := params.ViewingDurationSeconds; d != nil && (*d < MinViewingDuration || *d > MaxViewingDuration) {
		errs.Add("viewing_duration_seconds", fmt.Sprintf("must be between %d and %d", MinViewingDuration, MaxViewingDuration))
	}
	if params.Caption != nil && len(*params.Caption) > MaxCaptionLength {
		errs.Add("caption", fmt.Sprintf("must be at most %d characters", MaxCaptionLength))
	}

	switch params.Kind {
	case KindStory:
		if params.MaxReplays != nil {
			errs.Add("max_replays", "only applies to snaps")
		}
		if len(params.Recipients) > 0 {
			errs.Add("recipients", "only applies to snaps")
		}
	case KindSnap:
		if params.MaxReplays == nil {
			errs.Add("max_replays", "is required for snaps")
		} else if *params.MaxReplays < 1 {
			errs.Add("max_replays", "must be at least 1")
		}
		if len(dedupeRecipients(params.Recipients)) == 0 {
			errs.Add("recipients", "at least one recipient is required for snaps")
		}
		for _, r := range params.Recipients {
			if r == params.OwnerID {
				errs.Add("recipients", "cannot send a snap to yourself")
				break
			}
		}
	default:
		errs.Add("kind", "must be story or snap")
	}

	if errs.HasErrors() {
		return validationError(errs)
	}
	return nil
}

func dedupeRecipients(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
