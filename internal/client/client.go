package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/locolive/ephemeral/internal/domain"
	"github.com/locolive/ephemeral/pkg/response"
	"github.com/locolive/ephemeral/pkg/validator"
)

const defaultReadRetries = 2

// Client talks to the Content Store API as a single authenticated user.
// Every ownership, expiry and replay decision is made by the server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
	retries    uint64
	newBackOff func() backoff.BackOff
}

// CreateContentRequest mirrors the API's JSON create body
type CreateContentRequest struct {
	MediaRef               string      `json:"media_ref"`
	ContentType            string      `json:"content_type"`
	Kind                   string      `json:"kind"`
	Caption                *string     `json:"caption,omitempty"`
	ViewingDurationSeconds *int        `json:"viewing_duration_seconds,omitempty"`
	MediaDurationSeconds   *float64    `json:"media_duration_seconds,omitempty"`
	MaxReplays             *int        `json:"max_replays,omitempty"`
	Recipients             []uuid.UUID `json:"recipients,omitempty"`
}

func New(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		retries:    defaultReadRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 0
			return b
		},
	}
}

func (c *Client) CreateContent(ctx context.Context, req CreateContentRequest) (*domain.ContentItem, error) {
	var item domain.ContentItem
	if err := c.do(ctx, http.MethodPost, "/api/v1/content", req, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// ListActive lists the visible content of ownerIDs. An empty kind lists both kinds.
func (c *Client) ListActive(ctx context.Context, ownerIDs []uuid.UUID, kind domain.Kind) ([]*domain.ContentItem, error) {
	q := url.Values{}
	for _, id := range ownerIDs {
		q.Add("owners", id.String())
	}
	if kind != "" {
		q.Set("kind", string(kind))
	}

	path := "/api/v1/content"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var items []*domain.ContentItem
	if err := c.get(ctx, path, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) GetContent(ctx context.Context, id uuid.UUID) (*domain.ContentItem, error) {
	var item domain.ContentItem
	if err := c.get(ctx, contentPath(id, ""), &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *Client) DeleteContent(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, contentPath(id, ""), nil, nil)
}

// RecordView is not retried here; the caller decides how to reconcile
func (c *Client) RecordView(ctx context.Context, id uuid.UUID) (*domain.ViewRecord, error) {
	var record domain.ViewRecord
	if err := c.do(ctx, http.MethodPost, contentPath(id, "/views"), nil, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (c *Client) HasViewed(ctx context.Context, id uuid.UUID) (bool, error) {
	var out struct {
		Viewed bool `json:"viewed"`
	}
	if err := c.get(ctx, contentPath(id, "/views/me"), &out); err != nil {
		return false, err
	}
	return out.Viewed, nil
}

func (c *Client) ViewerCount(ctx context.Context, id uuid.UUID) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.get(ctx, contentPath(id, "/viewers"), &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *Client) ReportScreenshot(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodPost, contentPath(id, "/screenshots"), nil, nil)
}

func contentPath(id uuid.UUID, suffix string) string {
	return "/api/v1/content/" + id.String() + suffix
}

// get retries idempotent reads on network errors only
func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	op := func() error {
		err := c.do(ctx, http.MethodGet, path, nil, out)
		if err != nil && !domain.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.retries), ctx)
	err := backoff.Retry(op, b)

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var env struct {
		Success bool                `json:"success"`
		Data    json.RawMessage     `json:"data"`
		Error   *response.ErrorInfo `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: %s %s: status %d", domain.ErrNetwork, method, path, resp.StatusCode)
		}
		return fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode >= 300 || !env.Success {
		return c.mapError(resp.StatusCode, env.Error)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

func (c *Client) mapError(status int, info *response.ErrorInfo) error {
	code, msg := "", http.StatusText(status)
	if info != nil {
		code, msg = info.Code, info.Message
	}

	switch code {
	case response.CodeBadRequest:
		return fmt.Errorf("%w: %s", domain.ErrValidation, msg)
	case response.CodeValidation:
		if fields, ok := decodeFields(info); ok {
			return &domain.FieldErrors{Fields: fields}
		}
		return fmt.Errorf("%w: %s", domain.ErrValidation, msg)
	case response.CodeForbidden, response.CodeUnauthorized:
		return fmt.Errorf("%w: %s", domain.ErrPermission, msg)
	case response.CodeNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case response.CodeReplayLimitExceeded:
		return fmt.Errorf("%w: %s", domain.ErrReplayLimitExceeded, msg)
	}

	if status >= 500 || status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: status %d: %s", domain.ErrNetwork, status, msg)
	}
	c.logger.Warn("unexpected api error", zap.Int("status", status), zap.String("code", code))
	return fmt.Errorf("api error %d: %s", status, msg)
}

// decodeFields recovers the field list the server attached to a validation failure
func decodeFields(info *response.ErrorInfo) (validator.ValidationErrors, bool) {
	if info == nil || info.Fields == nil {
		return nil, false
	}
	raw, err := json.Marshal(info.Fields)
	if err != nil {
		return nil, false
	}
	var fields validator.ValidationErrors
	if err := json.Unmarshal(raw, &fields); err != nil || len(fields) == 0 {
		return nil, false
	}
	return fields, true
}
