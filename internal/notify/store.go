// Package notify owns the scoped notification fan-out: durable records
// with per-reader read tracking, and broker-backed delivery to connected
// clients.
package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "permit-workflow/internal/common/errors"
	"permit-workflow/internal/common/logger"
	"permit-workflow/internal/common/metrics"
	"permit-workflow/internal/models"

	"github.com/google/uuid"
)

// Store persists notification records and per-reader read receipts.
// Read tracking is append-only and idempotent, so no coordination beyond
// row-level transaction isolation is needed here.
type Store struct {
	db     *sql.DB
	logger logger.Logger

	now func() time.Time
}

func NewStore(db *sql.DB, log logger.Logger) *Store {
	return &Store{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "notification-store"}),
		now:    time.Now,
	}
}

// CreateInput describes a notification to append.
type CreateInput struct {
	Scope    models.Scope
	TargetID string
	Type     string
	Title    string
	Message  string
	Payload  map[string]interface{}
}

// Create appends an immutable notification row.
func (s *Store) Create(ctx context.Context, in CreateInput) (*models.Notification, error) {
	if !in.Scope.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown scope %q", in.Scope))
	}
	if in.Scope == models.ScopeVendor && in.TargetID == "" {
		return nil, apperrors.NewValidationError("vendor-scoped notification requires a targetId")
	}
	if in.Type == "" {
		return nil, apperrors.NewValidationError("notification type is required")
	}

	payloadJSON := []byte("{}")
	if in.Payload != nil {
		var err error
		payloadJSON, err = json.Marshal(in.Payload)
		if err != nil {
			return nil, apperrors.NewValidationError(fmt.Sprintf("payload not serializable: %v", err))
		}
	}

	n := &models.Notification{
		ID:        uuid.New().String(),
		Scope:     in.Scope,
		Type:      in.Type,
		Title:     in.Title,
		Message:   in.Message,
		Payload:   in.Payload,
		CreatedAt: s.now().UTC(),
	}
	var target sql.NullString
	if in.TargetID != "" {
		target = sql.NullString{String: in.TargetID, Valid: true}
		n.TargetID = &in.TargetID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, scope, target_id, type, title, message, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.Scope, target, n.Type, n.Title, n.Message, payloadJSON, n.CreatedAt,
	)
	if err != nil {
		return nil, apperrors.FromDBError(err)
	}

	metrics.NotificationsCreated.WithLabelValues(string(in.Scope)).Inc()
	return n, nil
}

// Page is one result window of ListForReader.
type Page struct {
	Items      []*models.Notification
	NextCursor string
}

// ListForReader returns the reader's notifications newest first, with
// IsRead computed from this reader's receipts. The cursor is keyset-based
// so new notifications arriving mid-pagination do not shift pages.
func (s *Store) ListForReader(ctx context.Context, scope models.Scope, targetID, readerID, cursor string, limit int) (*Page, error) {
	if !scope.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown scope %q", scope))
	}
	if scope == models.ScopeVendor && targetID == "" {
		return nil, apperrors.NewValidationError("vendor-scoped listing requires a targetId")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var (
		rows *sql.Rows
		err  error
	)
	if cursor == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT n.id, n.scope, n.target_id, n.type, n.title, n.message, n.payload, n.created_at,
			       (rr.reader_id IS NOT NULL) AS is_read
			FROM notifications n
			LEFT JOIN read_receipts rr ON rr.notification_id = n.id AND rr.reader_id = $3
			WHERE n.scope = $1 AND ($2 = '' OR n.target_id = $2)
			ORDER BY n.created_at DESC, n.id DESC
			LIMIT $4`,
			scope, targetID, readerID, limit+1)
	} else {
		cursorAt, cursorID, derr := decodeCursor(cursor)
		if derr != nil {
			return nil, apperrors.NewValidationError(derr.Error())
		}
		rows, err = s.db.QueryContext(ctx, `
			SELECT n.id, n.scope, n.target_id, n.type, n.title, n.message, n.payload, n.created_at,
			       (rr.reader_id IS NOT NULL) AS is_read
			FROM notifications n
			LEFT JOIN read_receipts rr ON rr.notification_id = n.id AND rr.reader_id = $3
			WHERE n.scope = $1 AND ($2 = '' OR n.target_id = $2)
			  AND (n.created_at, n.id) < ($4, $5)
			ORDER BY n.created_at DESC, n.id DESC
			LIMIT $6`,
			scope, targetID, readerID, cursorAt, cursorID, limit+1)
	}
	if err != nil {
		return nil, apperrors.FromDBError(err)
	}
	defer rows.Close()

	var items []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, apperrors.FromDBError(err)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.FromDBError(err)
	}

	page := &Page{}
	if len(items) > limit {
		items = items[:limit]
		last := items[len(items)-1]
		page.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	page.Items = items
	return page, nil
}

// MarkRead upserts a read receipt for the reader. Idempotent: repeated
// calls return the same unread count as one.
func (s *Store) MarkRead(ctx context.Context, notificationID, readerID string) (int64, error) {
	if readerID == "" {
		return 0, apperrors.NewValidationError("readerId is required")
	}

	var (
		scope  models.Scope
		target sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT scope, target_id FROM notifications WHERE id = $1`, notificationID,
	).Scan(&scope, &target)
	if apperrors.IsNoRows(err) {
		return 0, apperrors.NewNotFoundError("notification", notificationID)
	}
	if err != nil {
		return 0, apperrors.FromDBError(err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO read_receipts (notification_id, reader_id, read_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (notification_id, reader_id) DO NOTHING`,
		notificationID, readerID, s.now().UTC(),
	)
	if err != nil {
		return 0, apperrors.FromDBError(err)
	}

	return s.UnreadCount(ctx, scope, target.String, readerID)
}

// MarkAllRead bulk-inserts receipts for every currently-unread
// notification visible to the reader. Notifications arriving mid-operation
// stay unread; the returned residual count reflects that.
func (s *Store) MarkAllRead(ctx context.Context, scope models.Scope, targetID, readerID string) (int64, error) {
	if !scope.Valid() {
		return 0, apperrors.NewValidationError(fmt.Sprintf("unknown scope %q", scope))
	}
	if scope == models.ScopeVendor && targetID == "" {
		return 0, apperrors.NewValidationError("vendor-scoped mark-all requires a targetId")
	}
	if readerID == "" {
		return 0, apperrors.NewValidationError("readerId is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO read_receipts (notification_id, reader_id, read_at)
		SELECT n.id, $3, $4
		FROM notifications n
		WHERE n.scope = $1 AND ($2 = '' OR n.target_id = $2)
		  AND NOT EXISTS (
			SELECT 1 FROM read_receipts rr
			WHERE rr.notification_id = n.id AND rr.reader_id = $3
		  )
		ON CONFLICT (notification_id, reader_id) DO NOTHING`,
		scope, targetID, readerID, s.now().UTC(),
	)
	if err != nil {
		return 0, apperrors.FromDBError(err)
	}

	return s.UnreadCount(ctx, scope, targetID, readerID)
}

// UnreadCount is visible-minus-receipted for the reader; by construction
// it never goes negative.
func (s *Store) UnreadCount(ctx context.Context, scope models.Scope, targetID, readerID string) (int64, error) {
	if !scope.Valid() {
		return 0, apperrors.NewValidationError(fmt.Sprintf("unknown scope %q", scope))
	}
	if scope == models.ScopeVendor && targetID == "" {
		return 0, apperrors.NewValidationError("vendor-scoped unread count requires a targetId")
	}

	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM notifications n
		WHERE n.scope = $1 AND ($2 = '' OR n.target_id = $2)
		  AND NOT EXISTS (
			SELECT 1 FROM read_receipts rr
			WHERE rr.notification_id = n.id AND rr.reader_id = $3
		  )`,
		scope, targetID, readerID,
	).Scan(&count)
	if err != nil {
		return 0, apperrors.FromDBError(err)
	}
	return count, nil
}

func scanNotification(rows *sql.Rows) (*models.Notification, error) {
	var (
		n       models.Notification
		target  sql.NullString
		payload []byte
	)
	err := rows.Scan(&n.ID, &n.Scope, &target, &n.Type, &n.Title, &n.Message, &payload, &n.CreatedAt, &n.IsRead)
	if err != nil {
		return nil, err
	}
	if target.Valid {
		n.TargetID = &target.String
	}
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &n.Payload)
	}
	return &n, nil
}

func encodeCursor(createdAt time.Time, id string) string {
	return fmt.Sprintf("%d_%s", createdAt.UTC().UnixNano(), id)
}

func decodeCursor(cursor string) (time.Time, string, error) {
	parts := strings.SplitN(cursor, "_", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("malformed cursor %q", cursor)
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("malformed cursor %q", cursor)
	}
	return time.Unix(0, nanos).UTC(), parts[1], nil
}
