package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/locolive/ephemeral/internal/metrics"
)

// ViewService is the server-side view tracker. All replay and expiry checks
// happen here, independent of what the client believes.
type ViewService struct {
	content   ContentRepository
	views     ViewRepository
	debouncer Debouncer
	notifier  EventNotifier
	window    time.Duration
	logger    *zap.Logger
}

func NewViewService(content ContentRepository, views ViewRepository, debouncer Debouncer, notifier EventNotifier, window time.Duration, logger *zap.Logger) *ViewService {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &ViewService{
		content:   content,
		views:     views,
		debouncer: debouncer,
		notifier:  notifier,
		window:    window,
		logger:    logger,
	}
}

// RecordView counts one view of contentID by viewerID at now.
func (s *ViewService) RecordView(ctx context.Context, contentID, viewerID uuid.UUID, now time.Time) (*ViewRecord, error) {
	item, err := s.viewable(ctx, contentID, viewerID, now)
	if err != nil {
		return nil, err
	}

	if s.debouncer != nil {
		allowed, err := s.debouncer.Allow(ctx, debounceKey(contentID, viewerID), s.window)
		if err != nil {
			// the store applies the window too, so an outage only costs an extra write
			s.logger.Warn("view debouncer unavailable", zap.Error(err))
		} else if !allowed {
			// only collapse onto a write that actually landed inside the window;
			// anything else goes to the store, which applies the same rule atomically
			existing, err := s.views.GetViewRecord(ctx, contentID, viewerID)
			if err == nil && now.Sub(existing.LastViewedAt) < s.window {
				metrics.ViewsDebounced.Inc()
				return existing, nil
			}
			if err != nil && !errors.Is(err, ErrNotFound) {
				return nil, err
			}
		}
	}

	maxReplays := 0
	if item.IsSnap() {
		maxReplays = item.ReplayBudget()
	}

	record, created, err := s.views.RecordView(ctx, RecordViewParams{
		ContentID:      contentID,
		ViewerID:       viewerID,
		MaxReplays:     maxReplays,
		DebounceWindow: s.window,
		At:             now,
	})
	if err != nil {
		if errors.Is(err, ErrReplayLimitExceeded) {
			metrics.ReplayRejections.Inc()
		}
		return nil, err
	}
	metrics.ViewsRecorded.WithLabelValues(string(item.Kind)).Inc()

	if created && item.Kind == KindStory && viewerID != item.OwnerID {
		s.notify(ctx, item, EventStoryViewed, viewerID, now)
	}
	return record, nil
}

// HasViewed reports whether viewerID has at least one counted view
func (s *ViewService) HasViewed(ctx context.Context, contentID, viewerID uuid.UUID) (bool, error) {
	record, err := s.views.GetViewRecord(ctx, contentID, viewerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return record.ViewCount > 0, nil
}

// ViewerCount returns the number of distinct viewers; only the owner may ask
func (s *ViewService) ViewerCount(ctx context.Context, contentID, requester uuid.UUID) (int, error) {
	item, err := s.content.GetContent(ctx, contentID)
	if err != nil {
		return 0, err
	}
	if item.OwnerID != requester {
		return 0, fmt.Errorf("%w: viewer counts are visible to the owner only", ErrPermission)
	}
	return s.views.CountViewers(ctx, contentID)
}

// ReportScreenshot marks the viewer's record and tells the owner
func (s *ViewService) ReportScreenshot(ctx context.Context, contentID, viewerID uuid.UUID, at time.Time) (*ViewRecord, error) {
	item, err := s.content.GetContent(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if item.IsSnap() && !item.IsRecipient(viewerID) {
		return nil, fmt.Errorf("%w: not a recipient of this snap", ErrPermission)
	}

	record, err := s.views.MarkScreenshot(ctx, contentID, viewerID, at)
	if err != nil {
		return nil, err
	}
	if viewerID != item.OwnerID {
		s.notify(ctx, item, EventScreenshot, viewerID, at)
	}
	return record, nil
}

// viewable loads the item and rejects views the expiration policy forbids
// for reasons other than an exhausted replay budget.
func (s *ViewService) viewable(ctx context.Context, contentID, viewerID uuid.UUID, now time.Time) (*ContentItem, error) {
	item, err := s.content.GetContent(ctx, contentID)
	if err != nil {
		return nil, err
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

func (s *ViewService) notify(ctx context.Context, item *ContentItem, eventType EventType, viewerID uuid.UUID, at time.Time) {
	if s.notifier == nil {
		return
	}
	payload := Map{
		"content_id": item.ID.String(),
		"viewer_id":  viewerID.String(),
		"kind":       string(item.Kind),
		"at":         at.UTC().Format(time.RFC3339),
	}
	if err := s.notifier.Notify(ctx, item.OwnerID, eventType, payload); err != nil {
		s.logger.Warn("owner notification failed",
			zap.String("event", string(eventType)),
			zap.String("content_id", item.ID.String()),
			zap.Error(err),
		)
	}
}

func debounceKey(contentID, viewerID uuid.UUID) string {
	return "view:" + contentID.String() + ":" + viewerID.String()
}
