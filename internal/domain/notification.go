package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// EventType names an owner-facing content event
type EventType string

const (
	EventScreenshot  EventType = "screenshot"
	EventStoryViewed EventType = "story_viewed"
)

type Notification struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Type      EventType `json:"type"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Data      Map       `json:"data"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// Map alias for JSONB data
type Map map[string]interface{}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, userID uuid.UUID, eventType EventType, title, body string, data Map) (*Notification, error)
	GetNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Notification, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID uuid.UUID) error
	UpsertDeviceToken(ctx context.Context, userID uuid.UUID, token string) error
	GetDeviceTokens(ctx context.Context, userID uuid.UUID) ([]string, error)
	DeleteDeviceToken(ctx context.Context, userID uuid.UUID, token string) error
}

// EventNotifier is the produced notify(owner, event, payload) surface
type EventNotifier interface {
	Notify(ctx context.Context, ownerID uuid.UUID, eventType EventType, payload Map) error
}

// ErrStaleToken is returned by a PushSender when the device token is no
// longer registered with the provider
var ErrStaleToken = errors.New("device token is no longer registered")

// PushSender delivers a push message to one device token
type PushSender interface {
	Send(ctx context.Context, token string, title, body string, data map[string]string) error
}

// Publisher fans an event out to a user's live connections
type Publisher interface {
	SendToUser(userID uuid.UUID, message interface{})
}
