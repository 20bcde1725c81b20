package fcm

import (
	"context"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/locolive/ephemeral/internal/domain"
)

// messageTTL bounds how long FCM holds an undelivered content event.
// Events about ephemeral content are worthless once the content is gone.
const messageTTL = 24 * time.Hour

// Client delivers owner events to devices through Firebase Cloud Messaging
type Client struct {
	msgClient *messaging.Client
	logger    *zap.Logger
}

func NewClient(ctx context.Context, logger *zap.Logger, credentialsFile string) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	} else {
		logger.Warn("no firebase credentials file provided, falling back to default credentials")
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	msgClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	return &Client{
		msgClient: msgClient,
		logger:    logger,
	}, nil
}

// Send pushes a single event. An empty token is a no-op.
func (c *Client) Send(ctx context.Context, token string, title, body string, data map[string]string) error {
	if token == "" {
		return nil
	}

	ttl := messageTTL
	message := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			TTL:      &ttl,
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
		},
	}

	id, err := c.msgClient.Send(ctx, message)
	if err != nil {
		if messaging.IsUnregistered(err) {
			c.logger.Info("dropping stale device token", zap.String("event", data["type"]))
			return domain.ErrStaleToken
		}
		c.logger.Error("failed to send FCM message", zap.String("event", data["type"]), zap.Error(err))
		return err
	}

	c.logger.Debug("push delivered", zap.String("message_id", id), zap.String("event", data["type"]))
	return nil
}
