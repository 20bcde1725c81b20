package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/locolive/ephemeral/internal/api"
	"github.com/locolive/ephemeral/internal/auth"
	"github.com/locolive/ephemeral/internal/cache"
	"github.com/locolive/ephemeral/internal/domain"
	"github.com/locolive/ephemeral/internal/repository"
	"github.com/locolive/ephemeral/pkg/response"
)

func newAPI(t *testing.T) (*httptest.Server, *auth.JWTManager) {
	t.Helper()
	logger := zap.NewNop()
	repo := repository.NewMemoryRepository()

	contentService := domain.NewContentService(repo, repo, nil, logger)
	notificationService := domain.NewNotificationService(repo, nil, nil, logger)
	viewService := domain.NewViewService(repo, repo, cache.NewMemoryDebouncer(), notificationService, time.Second, logger)
	jwtManager := auth.NewJWTManager("client-test", time.Hour)

	router := api.NewRouter(
		api.NewContentHandler(contentService, viewService, logger),
		api.NewNotificationHandler(notificationService, logger),
		nil,
		api.NewHealthHandler(nil, logger),
		jwtManager,
		nil,
		"",
		logger,
	)
	srv := httptest.NewServer(router.Setup())
	t.Cleanup(srv.Close)
	return srv, jwtManager
}

func clientFor(t *testing.T, srv *httptest.Server, jwtManager *auth.JWTManager, user uuid.UUID) *Client {
	t.Helper()
	token, err := jwtManager.GenerateAccessToken(user)
	require.NoError(t, err)
	return New(srv.URL, token, 5*time.Second, zap.NewNop())
}

func intPtr(v int) *int { return &v }

func TestClient_AgainstAPI(t *testing.T) {
	srv, jwtManager := newAPI(t)
	owner, recipient := uuid.New(), uuid.New()
	ownerClient := clientFor(t, srv, jwtManager, owner)
	recipientClient := clientFor(t, srv, jwtManager, recipient)
	ctx := context.Background()

	snap, err := ownerClient.CreateContent(ctx, CreateContentRequest{
		MediaRef:    "media://snap",
		ContentType: "photo",
		Kind:        "snap",
		MaxReplays:  intPtr(1),
		Recipients:  []uuid.UUID{recipient},
	})
	require.NoError(t, err)

	items, err := recipientClient.ListActive(ctx, []uuid.UUID{owner}, "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, snap.ID, items[0].ID)

	got, err := recipientClient.GetContent(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, "media://snap", got.MediaRef)

	record, err := recipientClient.RecordView(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, record.ViewCount)

	viewed, err := recipientClient.HasViewed(ctx, snap.ID)
	require.NoError(t, err)
	assert.True(t, viewed)

	_, err = recipientClient.ViewerCount(ctx, snap.ID)
	assert.ErrorIs(t, err, domain.ErrPermission)

	count, err := ownerClient.ViewerCount(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, recipientClient.ReportScreenshot(ctx, snap.ID))

	assert.ErrorIs(t, recipientClient.DeleteContent(ctx, snap.ID), domain.ErrPermission)
	require.NoError(t, ownerClient.DeleteContent(ctx, snap.ID))

	_, err = recipientClient.GetContent(ctx, snap.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClient_ValidationError(t *testing.T) {
	srv, jwtManager := newAPI(t)
	c := clientFor(t, srv, jwtManager, uuid.New())

	_, err := c.CreateContent(context.Background(), CreateContentRequest{
		MediaRef: "m", ContentType: "photo", Kind: "story", ViewingDurationSeconds: intPtr(30),
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	var fields *domain.FieldErrors
	require.ErrorAs(t, err, &fields)
	assert.Equal(t, "viewing_duration_seconds", fields.Fields[0].Field)
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		code   string
		want   error
	}{
		{http.StatusConflict, response.CodeReplayLimitExceeded, domain.ErrReplayLimitExceeded},
		{http.StatusNotFound, response.CodeNotFound, domain.ErrNotFound},
		{http.StatusUnauthorized, response.CodeUnauthorized, domain.ErrPermission},
		{http.StatusBadGateway, "", domain.ErrNetwork},
		{http.StatusInternalServerError, response.CodeInternal, domain.ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.want.Error(), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.code == "" {
					w.WriteHeader(tt.status)
					return
				}
				response.Fail(w, tt.code, "nope")
			}))
			defer srv.Close()

			c := New(srv.URL, "", time.Second, zap.NewNop())
			_, err := c.RecordView(context.Background(), uuid.New())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClient_RetriesReadsOnNetworkError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			response.InternalError(w, "flaky")
			return
		}
		response.OK(w, map[string]bool{"viewed": true})
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second, zap.NewNop())
	c.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	viewed, err := c.HasViewed(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, viewed)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryWrites(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		response.InternalError(w, "down")
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second, zap.NewNop())
	c.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	_, err := c.RecordView(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNetwork)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_TransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := New(srv.URL, "", 200*time.Millisecond, zap.NewNop())
	err := c.ReportScreenshot(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNetwork)
}
