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

const pushTimeout = 10 * time.Second

// LiveEvent is the payload pushed over the realtime channel
type LiveEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type NotificationService struct {
	repo      NotificationRepository
	push      PushSender
	publisher Publisher
	logger    *zap.Logger
}

// NewNotificationService wires persistence with optional push and realtime sinks; either may be nil.
func NewNotificationService(repo NotificationRepository, push PushSender, publisher Publisher, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		repo:      repo,
		push:      push,
		publisher: publisher,
		logger:    logger,
	}
}

func (s *NotificationService) GetNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.GetNotifications(ctx, userID, limit, offset)
}

func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	return s.repo.MarkNotificationRead(ctx, userID, notificationID)
}

func (s *NotificationService) UpdateDeviceToken(ctx context.Context, userID uuid.UUID, token string) error {
	return s.repo.UpsertDeviceToken(ctx, userID, token)
}

// Notify records an owner event and fans it out to push and live sinks.
// Delivery is fire-and-forget: sink failures are logged, never returned.
func (s *NotificationService) Notify(ctx context.Context, ownerID uuid.UUID, eventType EventType, payload Map) error {
	title, body := describe(eventType, payload)

	n, err := s.repo.CreateNotification(ctx, ownerID, eventType, title, body, payload)
	if err != nil {
		metrics.NotificationsDropped.WithLabelValues(string(eventType)).Inc()
		return err
	}
	metrics.NotificationsSent.WithLabelValues(string(eventType)).Inc()

	if s.publisher != nil {
		s.publisher.SendToUser(ownerID, LiveEvent{Type: string(eventType), Payload: n})
	}

	if s.push == nil {
		return nil
	}

	strData := make(map[string]string, len(payload)+1)
	for k, v := range payload {
		strData[k] = fmt.Sprintf("%v", v)
	}
	strData["type"] = string(eventType)

	tokens, err := s.repo.GetDeviceTokens(ctx, ownerID)
	if err != nil {
		s.logger.Warn("failed to get device tokens", zap.String("user_id", ownerID.String()), zap.Error(err))
		return nil
	}

	for _, token := range tokens {
		if token == "" {
			continue
		}
		go func(t string) {
			pushCtx, cancel := context.WithTimeout(context.Background(), pushTimeout)
			defer cancel()
			err := s.push.Send(pushCtx, t, title, body, strData)
			if err == nil {
				return
			}
			metrics.NotificationsDropped.WithLabelValues(string(eventType)).Inc()
			if errors.Is(err, ErrStaleToken) {
				if err := s.repo.DeleteDeviceToken(pushCtx, ownerID, t); err != nil {
					s.logger.Warn("failed to remove stale device token", zap.String("user_id", ownerID.String()), zap.Error(err))
				}
			}
		}(token)
	}
	return nil
}

func describe(eventType EventType, payload Map) (string, string) {
	switch eventType {
	case EventScreenshot:
		kind, _ := payload["kind"].(string)
		if kind == "" {
			kind = string(KindSnap)
		}
		return "Screenshot taken", "Someone took a screenshot of your " + kind
	case EventStoryViewed:
		return "New story view", "Someone viewed your story"
	default:
		return "Activity", string(eventType)
	}
}
