package notify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "permit-workflow/internal/common/errors"
	"permit-workflow/internal/common/logger"
	"permit-workflow/internal/models"
)

func notificationCols() []string {
	return []string{"id", "scope", "target_id", "type", "title", "message", "payload", "created_at", "is_read"}
}

func TestStoreCreate_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO notifications`).
		WithArgs(
			sqlmock.AnyArg(), models.ScopeVendor, sqlmock.AnyArg(), "submission.reviewed",
			"Submission reviewed", "Your submission has been screened", sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewStore(db, logger.NewTestLogger(t))

	n, err := store.Create(context.Background(), CreateInput{
		Scope:    models.ScopeVendor,
		TargetID: "vendor-1",
		Type:     "submission.reviewed",
		Title:    "Submission reviewed",
		Message:  "Your submission has been screened",
	})

	require.NoError(t, err)
	assert.NotEmpty(t, n.ID)
	require.NotNil(t, n.TargetID)
	assert.Equal(t, "vendor-1", *n.TargetID)
	assert.False(t, n.IsRead)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreCreate_VendorRequiresTarget(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db, logger.NewTestLogger(t))

	_, err = store.Create(context.Background(), CreateInput{
		Scope: models.ScopeVendor,
		Type:  "submission.reviewed",
	})

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidationFailed, apperrors.Code(err))
}

func TestStoreCreate_UnknownScope(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db, logger.NewTestLogger(t))

	_, err = store.Create(context.Background(), CreateInput{
		Scope: models.Scope("auditor"),
		Type:  "submission.reviewed",
	})

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidationFailed, apperrors.Code(err))
}

func TestMarkRead_Idempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < 2; i++ {
		mock.ExpectQuery(`SELECT scope, target_id FROM notifications`).
			WithArgs("n-1").
			WillReturnRows(sqlmock.NewRows([]string{"scope", "target_id"}).AddRow("reviewer", nil))
		mock.ExpectExec(`INSERT INTO read_receipts`).
			WithArgs("n-1", "reviewer-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, int64(1-i)))
		mock.ExpectQuery(`SELECT COUNT\(\*\)`).
			WithArgs(models.ScopeReviewer, "", "reviewer-1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	}

	store := NewStore(db, logger.NewTestLogger(t))

	first, err := store.MarkRead(context.Background(), "n-1", "reviewer-1")
	require.NoError(t, err)
	second, err := store.MarkRead(context.Background(), "n-1", "reviewer-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(3), second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRead_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT scope, target_id FROM notifications`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"scope", "target_id"}))

	store := NewStore(db, logger.NewTestLogger(t))

	_, err = store.MarkRead(context.Background(), "missing", "reviewer-1")

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.Code(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Receipts are per reader: one reviewer's reads never change what another
// reviewer in the same scope still sees as unread.
func TestUnreadCount_PerReader(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WithArgs(models.ScopeReviewer, "", "reviewer-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WithArgs(models.ScopeReviewer, "", "reviewer-2").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	store := NewStore(db, logger.NewTestLogger(t))

	r1, err := store.UnreadCount(context.Background(), models.ScopeReviewer, "", "reviewer-1")
	require.NoError(t, err)
	r2, err := store.UnreadCount(context.Background(), models.ScopeReviewer, "", "reviewer-2")
	require.NoError(t, err)

	assert.Equal(t, int64(3), r1)
	assert.Equal(t, int64(5), r2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkAllRead(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO read_receipts`).
		WithArgs(models.ScopeApprover, "", "approver-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WithArgs(models.ScopeApprover, "", "approver-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	store := NewStore(db, logger.NewTestLogger(t))

	remaining, err := store.MarkAllRead(context.Background(), models.ScopeApprover, "", "approver-1")

	require.NoError(t, err)
	assert.Equal(t, int64(0), remaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Vendor scope without a target would otherwise match every vendor's
// rows; mark-all must never receipt another vendor's notifications.
func TestMarkAllRead_VendorRequiresTarget(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db, logger.NewTestLogger(t))

	_, err = store.MarkAllRead(context.Background(), models.ScopeVendor, "", "vendor-1")

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidationFailed, apperrors.Code(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnreadCount_VendorRequiresTarget(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db, logger.NewTestLogger(t))

	_, err = store.UnreadCount(context.Background(), models.ScopeVendor, "", "vendor-1")

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidationFailed, apperrors.Code(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListForReader_FirstPage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(notificationCols())
	// limit+1 rows back means another page exists.
	for i := 0; i < 3; i++ {
		rows.AddRow(
			fmt.Sprintf("n-%d", i), "reviewer", nil, "submission.submitted",
			"New work permit request", "A submission is waiting for review",
			[]byte(`{}`), base.Add(-time.Duration(i)*time.Minute), i == 0,
		)
	}
	mock.ExpectQuery(`LEFT JOIN read_receipts`).
		WithArgs(models.ScopeReviewer, "", "reviewer-1", 3).
		WillReturnRows(rows)

	store := NewStore(db, logger.NewTestLogger(t))

	page, err := store.ListForReader(context.Background(), models.ScopeReviewer, "", "reviewer-1", "", 2)

	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.True(t, page.Items[0].IsRead)
	assert.False(t, page.Items[1].IsRead)
	assert.Equal(t, encodeCursor(base.Add(-time.Minute), "n-1"), page.NextCursor)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListForReader_CursorPage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	cursor := encodeCursor(base, "n-1")

	rows := sqlmock.NewRows(notificationCols()).AddRow(
		"n-2", "vendor", "vendor-1", "submission.finalized",
		"Permit issued", "Your work permit has been approved",
		[]byte(`{"permitNumber":8}`), base.Add(-time.Minute), false,
	)
	mock.ExpectQuery(`LEFT JOIN read_receipts`).
		WithArgs(models.ScopeVendor, "vendor-1", "vendor-1", base, "n-1", 3).
		WillReturnRows(rows)

	store := NewStore(db, logger.NewTestLogger(t))

	page, err := store.ListForReader(context.Background(), models.ScopeVendor, "vendor-1", "vendor-1", cursor, 2)

	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Empty(t, page.NextCursor, "short page must not advertise a next cursor")
	assert.Equal(t, map[string]interface{}{"permitNumber": float64(8)}, page.Items[0].Payload)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListForReader_MalformedCursor(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db, logger.NewTestLogger(t))

	_, err = store.ListForReader(context.Background(), models.ScopeAdmin, "", "admin-1", "garbage", 10)

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidationFailed, apperrors.Code(err))
}

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 8, 30, 9, 30, 0, 123456789, time.UTC)

	gotAt, gotID, err := decodeCursor(encodeCursor(at, "n-9"))

	require.NoError(t, err)
	assert.True(t, at.Equal(gotAt))
	assert.Equal(t, "n-9", gotID)
}
