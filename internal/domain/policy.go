package domain

import (
	"time"

	"github.com/google/uuid"
)

// IsVisible decides whether item may be shown to viewerID at now.
// record is the viewer's existing view record, or nil if none exists.
// It has no side effects and returns the same answer for the same inputs.
func IsVisible(item *ContentItem, viewerID uuid.UUID, now time.Time, record *ViewRecord) bool {
	if item == nil {
		return false
	}
	switch item.Kind {
	case KindStory:
		return !IsExpired(item, now)
	case KindSnap:
		if !item.IsRecipient(viewerID) {
			return false
		}
		if record == nil {
			return true
		}
		return record.ViewCount < item.ReplayBudget()
	default:
		return false
	}
}

// IsExpired reports whether a story has passed its validity window.
// The boundary is exclusive: at exactly expires_at the story is expired.
func IsExpired(item *ContentItem, now time.Time) bool {
	if item.Kind != KindStory || item.ExpiresAt == nil {
		return false
	}
	return !now.Before(*item.ExpiresAt)
}

// ClampDuration bounds a viewing duration to the allowed range
func ClampDuration(seconds int) int {
	if seconds < MinViewingDuration {
		return MinViewingDuration
	}
	if seconds > MaxViewingDuration {
		return MaxViewingDuration
	}
	return seconds
}

// ResolveViewingDuration picks the timed-view length for new content.
// An explicit value wins; videos fall back to their media length; photos default to 5s.
func ResolveViewingDuration(contentType ContentType, explicit *int, mediaSeconds *float64) int {
	if explicit != nil {
		return ClampDuration(*explicit)
	}
	if contentType == ContentTypeVideo && mediaSeconds != nil {
		// round up so a 3.2s clip is not cut short
		secs := int(*mediaSeconds)
		if float64(secs) < *mediaSeconds {
			secs++
		}
		return ClampDuration(secs)
	}
	return DefaultPhotoDuration
}
