package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes broadcast stories from direct snaps
type Kind string

const (
	KindStory Kind = "story"
	KindSnap  Kind = "snap"
)

// ContentType is the media flavour of a content item
type ContentType string

const (
	ContentTypePhoto ContentType = "photo"
	ContentTypeVideo ContentType = "video"
)

const (
	MinViewingDuration    = 3
	MaxViewingDuration    = 10
	DefaultPhotoDuration  = 5
	StoryTTL              = 24 * time.Hour
	DefaultDebounceWindow = time.Second
	MaxCaptionLength      = 250
)

// ContentItem is one published piece of ephemeral content
type ContentItem struct {
	ID                     uuid.UUID   `json:"id"`
	OwnerID                uuid.UUID   `json:"owner_id"`
	MediaRef               string      `json:"media_ref"`
	ContentType            ContentType `json:"content_type"`
	Kind                   Kind        `json:"kind"`
	Caption                *string     `json:"caption,omitempty"`
	ViewingDurationSeconds int         `json:"viewing_duration_seconds"`
	MaxReplays             *int        `json:"max_replays,omitempty"`
	Recipients             []uuid.UUID `json:"recipients,omitempty"`
	ExpiresAt              *time.Time  `json:"expires_at,omitempty"`
	CreatedAt              time.Time   `json:"created_at"`
}

// IsSnap reports whether the item is a direct snap
func (c *ContentItem) IsSnap() bool {
	return c.Kind == KindSnap
}

// IsRecipient reports whether viewerID is one of the intended viewers of a snap
func (c *ContentItem) IsRecipient(viewerID uuid.UUID) bool {
	for _, r := range c.Recipients {
		if r == viewerID {
			return true
		}
	}
	return false
}

// ReplayBudget returns max_replays for snaps and 0 for stories
func (c *ContentItem) ReplayBudget() int {
	if c.MaxReplays == nil {
		return 0
	}
	return *c.MaxReplays
}

// ViewingDuration returns the timed-view length as a duration
func (c *ContentItem) ViewingDuration() time.Duration {
	return time.Duration(c.ViewingDurationSeconds) * time.Second
}

// ViewRecord tracks views of one content item by one viewer
type ViewRecord struct {
	ContentID       uuid.UUID `json:"content_id"`
	ViewerID        uuid.UUID `json:"viewer_id"`
	FirstViewedAt   time.Time `json:"first_viewed_at"`
	LastViewedAt    time.Time `json:"last_viewed_at"`
	ViewCount       int       `json:"view_count"`
	ScreenshotTaken bool      `json:"screenshot_taken"`
}

// CreateContentParams holds parameters for content creation
type CreateContentParams struct {
	OwnerID                uuid.UUID
	MediaRef               string
	ContentType            ContentType
	Kind                   Kind
	Caption                *string
	ViewingDurationSeconds *int
	MediaDurationSeconds   *float64
	MaxReplays             *int
	Recipients             []uuid.UUID
}

// RecordViewParams carries the replay and debounce rules into the store so
// they are applied atomically. MaxReplays of 0 means unlimited.
type RecordViewParams struct {
	ContentID      uuid.UUID
	ViewerID       uuid.UUID
	MaxReplays     int
	DebounceWindow time.Duration
	At             time.Time
}

// ContentRepository is the durable Content Store contract
type ContentRepository interface {
	CreateContent(ctx context.Context, item *ContentItem) error
	GetContent(ctx context.Context, id uuid.UUID) (*ContentItem, error)
	ListStoriesByOwners(ctx context.Context, ownerIDs []uuid.UUID, now time.Time) ([]*ContentItem, error)
	ListSnapsForRecipient(ctx context.Context, recipientID uuid.UUID, ownerIDs []uuid.UUID) ([]*ContentItem, error)
	DeleteContent(ctx context.Context, id uuid.UUID) error
	ListExpiredStories(ctx context.Context, now time.Time) ([]*ContentItem, error)
	ListExhaustedSnaps(ctx context.Context) ([]*ContentItem, error)
}

// ViewRepository persists view records. RecordView must enforce the snap
// replay budget atomically and return ErrReplayLimitExceeded when exhausted.
// A call landing inside the debounce window of the previous write returns the
// stored record unchanged. The bool result is true when the record was created.
type ViewRepository interface {
	RecordView(ctx context.Context, params RecordViewParams) (*ViewRecord, bool, error)
	GetViewRecord(ctx context.Context, contentID, viewerID uuid.UUID) (*ViewRecord, error)
	GetViewRecords(ctx context.Context, contentIDs []uuid.UUID, viewerID uuid.UUID) (map[uuid.UUID]*ViewRecord, error)
	CountViewers(ctx context.Context, contentID uuid.UUID) (int, error)
	MarkScreenshot(ctx context.Context, contentID, viewerID uuid.UUID, at time.Time) (*ViewRecord, error)
}

// Debouncer collapses repeated events for the same key inside a window.
// Allow returns true when the caller is the first within the window.
type Debouncer interface {
	Allow(ctx context.Context, key string, window time.Duration) (bool, error)
}
