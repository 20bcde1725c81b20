package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/locolive/ephemeral/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

const contentColumns = `id, owner_id, media_ref, content_type, kind, caption, viewing_duration_seconds,
	max_replays, recipients::text[], expires_at, created_at`

const viewColumns = `content_id, viewer_id, first_viewed_at, last_viewed_at, view_count, screenshot_taken`

// PostgresRepository implements the Content Store on PostgreSQL
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate creates the tables if they do not exist yet
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// CreateContent inserts a new content item
func (r *PostgresRepository) CreateContent(ctx context.Context, item *domain.ContentItem) error {
	query := `
		INSERT INTO content_items (id, owner_id, media_ref, content_type, kind, caption,
			viewing_duration_seconds, max_replays, recipients, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::uuid[], $10, $11)
	`
	_, err := r.db.Exec(ctx, query,
		item.ID,
		item.OwnerID,
		item.MediaRef,
		string(item.ContentType),
		string(item.Kind),
		item.Caption,
		item.ViewingDurationSeconds,
		item.MaxReplays,
		uuidStrings(item.Recipients),
		item.ExpiresAt,
		item.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" {
			return fmt.Errorf("%w: %s", domain.ErrValidation, pgErr.ConstraintName)
		}
		return err
	}
	return nil
}

// GetContent retrieves a content item by ID
func (r *PostgresRepository) GetContent(ctx context.Context, id uuid.UUID) (*domain.ContentItem, error) {
	query := `SELECT ` + contentColumns + ` FROM content_items WHERE id = $1`
	return scanContent(r.db.QueryRow(ctx, query, id))
}

// ListStoriesByOwners returns unexpired stories of the given owners, oldest first
func (r *PostgresRepository) ListStoriesByOwners(ctx context.Context, ownerIDs []uuid.UUID, now time.Time) ([]*domain.ContentItem, error) {
	query := `
		SELECT ` + contentColumns + `
		FROM content_items
		WHERE kind = 'story' AND owner_id = ANY($1::uuid[]) AND expires_at > $2
		ORDER BY created_at ASC
	`
	return r.queryContent(ctx, query, uuidStrings(ownerIDs), now)
}

// ListSnapsForRecipient returns snaps addressed to recipientID, optionally limited to some owners
func (r *PostgresRepository) ListSnapsForRecipient(ctx context.Context, recipientID uuid.UUID, ownerIDs []uuid.UUID) ([]*domain.ContentItem, error) {
	query := `
		SELECT ` + contentColumns + `
		FROM content_items
		WHERE kind = 'snap' AND $1::uuid = ANY(recipients)
			AND (cardinality($2::uuid[]) = 0 OR owner_id = ANY($2::uuid[]))
		ORDER BY created_at ASC
	`
	return r.queryContent(ctx, query, recipientID, uuidStrings(ownerIDs))
}

// DeleteContent removes a content item; view records cascade
func (r *PostgresRepository) DeleteContent(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM content_items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListExpiredStories returns stories whose window closed at or before now
func (r *PostgresRepository) ListExpiredStories(ctx context.Context, now time.Time) ([]*domain.ContentItem, error) {
	query := `
		SELECT ` + contentColumns + `
		FROM content_items
		WHERE kind = 'story' AND expires_at <= $1
		ORDER BY created_at ASC
	`
	return r.queryContent(ctx, query, now)
}

// ListExhaustedSnaps returns snaps every recipient has used the full replay budget of
func (r *PostgresRepository) ListExhaustedSnaps(ctx context.Context) ([]*domain.ContentItem, error) {
	query := `
		SELECT ` + contentColumns + `
		FROM content_items c
		WHERE c.kind = 'snap' AND NOT EXISTS (
			SELECT 1 FROM unnest(c.recipients) AS rcpt(viewer_id)
			LEFT JOIN view_records v ON v.content_id = c.id AND v.viewer_id = rcpt.viewer_id
			WHERE COALESCE(v.view_count, 0) < c.max_replays
		)
		ORDER BY c.created_at ASC
	`
	return r.queryContent(ctx, query)
}

// RecordView counts a view with the replay budget and debounce window
// applied in a single conditional upsert.
func (r *PostgresRepository) RecordView(ctx context.Context, params domain.RecordViewParams) (*domain.ViewRecord, bool, error) {
	query := `
		INSERT INTO view_records (content_id, viewer_id, first_viewed_at, last_viewed_at, view_count)
		VALUES ($1, $2, $3, $3, 1)
		ON CONFLICT (content_id, viewer_id) DO UPDATE
		SET view_count = view_records.view_count + 1,
			last_viewed_at = EXCLUDED.last_viewed_at,
			first_viewed_at = CASE WHEN view_records.view_count = 0
				THEN EXCLUDED.first_viewed_at ELSE view_records.first_viewed_at END
		WHERE (view_records.view_count = 0
				OR view_records.last_viewed_at <= EXCLUDED.last_viewed_at - $5::double precision * INTERVAL '1 second')
			AND ($4::int = 0 OR view_records.view_count < $4::int)
		RETURNING ` + viewColumns

	row := r.db.QueryRow(ctx, query,
		params.ContentID,
		params.ViewerID,
		params.At,
		params.MaxReplays,
		params.DebounceWindow.Seconds(),
	)
	rec, err := scanView(row)
	if err == nil {
		return rec, rec.ViewCount == 1, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return nil, false, domain.ErrNotFound
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	// the upsert matched nothing: the row exists and was either debounced or is exhausted
	existing, err := r.GetViewRecord(ctx, params.ContentID, params.ViewerID)
	if err != nil {
		return nil, false, err
	}
	if params.At.Sub(existing.LastViewedAt) < params.DebounceWindow {
		return existing, false, nil
	}
	if params.MaxReplays > 0 && existing.ViewCount >= params.MaxReplays {
		return nil, false, domain.ErrReplayLimitExceeded
	}
	// lost a race with a concurrent write for the same pair
	return existing, false, nil
}

// GetViewRecord retrieves a single view record
func (r *PostgresRepository) GetViewRecord(ctx context.Context, contentID, viewerID uuid.UUID) (*domain.ViewRecord, error) {
	query := `SELECT ` + viewColumns + ` FROM view_records WHERE content_id = $1 AND viewer_id = $2`
	return scanView(r.db.QueryRow(ctx, query, contentID, viewerID))
}

// GetViewRecords retrieves the viewer's records for a batch of items
func (r *PostgresRepository) GetViewRecords(ctx context.Context, contentIDs []uuid.UUID, viewerID uuid.UUID) (map[uuid.UUID]*domain.ViewRecord, error) {
	out := make(map[uuid.UUID]*domain.ViewRecord, len(contentIDs))
	if len(contentIDs) == 0 {
		return out, nil
	}

	query := `SELECT ` + viewColumns + ` FROM view_records WHERE content_id = ANY($1::uuid[]) AND viewer_id = $2`
	rows, err := r.db.Query(ctx, query, uuidStrings(contentIDs), viewerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanView(rows)
		if err != nil {
			return nil, err
		}
		out[rec.ContentID] = rec
	}
	return out, rows.Err()
}

// CountViewers returns the number of distinct viewers with a counted view
func (r *PostgresRepository) CountViewers(ctx context.Context, contentID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM view_records WHERE content_id = $1 AND view_count > 0`, contentID).Scan(&n)
	return n, err
}

// MarkScreenshot sets the sticky screenshot flag, creating a zero-count record if needed
func (r *PostgresRepository) MarkScreenshot(ctx context.Context, contentID, viewerID uuid.UUID, at time.Time) (*domain.ViewRecord, error) {
	query := `
		INSERT INTO view_records (content_id, viewer_id, first_viewed_at, last_viewed_at, view_count, screenshot_taken)
		VALUES ($1, $2, $3, $3, 0, TRUE)
		ON CONFLICT (content_id, viewer_id) DO UPDATE SET screenshot_taken = TRUE
		RETURNING ` + viewColumns
	rec, err := scanView(r.db.QueryRow(ctx, query, contentID, viewerID, at))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// CreateNotification stores an owner notification
func (r *PostgresRepository) CreateNotification(ctx context.Context, userID uuid.UUID, eventType domain.EventType, title, body string, data domain.Map) (*domain.Notification, error) {
	query := `
		INSERT INTO notifications (user_id, type, title, body, data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, type, title, body, data, is_read, created_at
	`
	if data == nil {
		data = domain.Map{}
	}
	return scanNotification(r.db.QueryRow(ctx, query, userID, string(eventType), title, body, data))
}

// GetNotifications lists a user's notifications, newest first
func (r *PostgresRepository) GetNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Notification, error) {
	query := `
		SELECT id, user_id, type, title, body, data, is_read, created_at
		FROM notifications WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifs := []*domain.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifs = append(notifs, n)
	}
	return notifs, rows.Err()
}

// MarkNotificationRead flags one of the user's notifications as read
func (r *PostgresRepository) MarkNotificationRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`, notificationID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpsertDeviceToken registers a push token for a user
func (r *PostgresRepository) UpsertDeviceToken(ctx context.Context, userID uuid.UUID, token string) error {
	query := `
		INSERT INTO device_tokens (user_id, token) VALUES ($1, $2)
		ON CONFLICT (user_id, token) DO UPDATE SET updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, userID, token)
	return err
}

// DeleteDeviceToken forgets a token the push provider no longer accepts
func (r *PostgresRepository) DeleteDeviceToken(ctx context.Context, userID uuid.UUID, token string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM device_tokens WHERE user_id = $1 AND token = $2`, userID, token)
	return err
}

// GetDeviceTokens returns all push tokens of a user
func (r *PostgresRepository) GetDeviceTokens(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT token FROM device_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *PostgresRepository) queryContent(ctx context.Context, query string, args ...interface{}) ([]*domain.ContentItem, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*domain.ContentItem{}
	for rows.Next() {
		item, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Helper functions for scanning rows

func scanContent(row pgx.Row) (*domain.ContentItem, error) {
	var item domain.ContentItem
	var contentType, kind string
	var recipients []string
	err := row.Scan(
		&item.ID,
		&item.OwnerID,
		&item.MediaRef,
		&contentType,
		&kind,
		&item.Caption,
		&item.ViewingDurationSeconds,
		&item.MaxReplays,
		&recipients,
		&item.ExpiresAt,
		&item.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	item.ContentType = domain.ContentType(contentType)
	item.Kind = domain.Kind(kind)
	for _, s := range recipients {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid recipient id %q: %w", s, err)
		}
		item.Recipients = append(item.Recipients, id)
	}
	return &item, nil
}

func scanView(row pgx.Row) (*domain.ViewRecord, error) {
	var rec domain.ViewRecord
	err := row.Scan(
		&rec.ContentID,
		&rec.ViewerID,
		&rec.FirstViewedAt,
		&rec.LastViewedAt,
		&rec.ViewCount,
		&rec.ScreenshotTaken,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var n domain.Notification
	var eventType string
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&eventType,
		&n.Title,
		&n.Body,
		&n.Data,
		&n.IsRead,
		&n.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	n.Type = domain.EventType(eventType)
	return &n, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
