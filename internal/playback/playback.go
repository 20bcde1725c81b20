// Package playback drives a viewer's timed progression through a snapshot of
// stories and snaps. It talks to the Content Store only through the small
// interfaces below, which the API client implements.
package playback

import (
	"context"

	"github.com/google/uuid"

	"github.com/locolive/ephemeral/internal/domain"
)

// ViewRecorder counts a view for the authenticated viewer
type ViewRecorder interface {
	RecordView(ctx context.Context, contentID uuid.UUID) (*domain.ViewRecord, error)
}

// MediaResolver confirms an item still exists and returns its current record
type MediaResolver interface {
	GetContent(ctx context.Context, id uuid.UUID) (*domain.ContentItem, error)
}

// ScreenshotNotifier reports a screenshot to the content owner
type ScreenshotNotifier interface {
	ReportScreenshot(ctx context.Context, contentID uuid.UUID) error
}

// ContentSource lists content for queue building
type ContentSource interface {
	ListActive(ctx context.Context, ownerIDs []uuid.UUID, kind domain.Kind) ([]*domain.ContentItem, error)
	HasViewed(ctx context.Context, id uuid.UUID) (bool, error)
}
