package workflow

import (
	"context"
	"database/sql"
	"encoding/json"

	apperrors "permit-workflow/internal/common/errors"
	"permit-workflow/internal/models"
)

const submissionColumns = `id, submitter_id, payload, review_status, reviewed_by, reviewed_at, review_note,
	approval_status, approved_by, approved_at, final_note, permit_number, permit_period, permit_date,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row rowScanner) (*models.Submission, error) {
	var (
		sub          models.Submission
		payload      []byte
		reviewedBy   sql.NullString
		reviewedAt   sql.NullTime
		reviewNote   sql.NullString
		approvedBy   sql.NullString
		approvedAt   sql.NullTime
		finalNote    sql.NullString
		permitNumber sql.NullInt64
		permitPeriod sql.NullInt64
		permitDate   sql.NullTime
	)

	err := row.Scan(
		&sub.ID, &sub.SubmitterID, &payload, &sub.ReviewStatus, &reviewedBy, &reviewedAt, &reviewNote,
		&sub.ApprovalStatus, &approvedBy, &approvedAt, &finalNote, &permitNumber, &permitPeriod, &permitDate,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &sub.Payload)
	}
	if reviewedBy.Valid {
		sub.ReviewedBy = &reviewedBy.String
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		sub.ReviewedAt = &t
	}
	if reviewNote.Valid {
		sub.ReviewNote = &reviewNote.String
	}
	if approvedBy.Valid {
		sub.ApprovedBy = &approvedBy.String
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		sub.ApprovedAt = &t
	}
	if finalNote.Valid {
		sub.FinalNote = &finalNote.String
	}
	if permitNumber.Valid {
		n := permitNumber.Int64
		sub.PermitNumber = &n
	}
	if permitPeriod.Valid {
		p := int(permitPeriod.Int64)
		sub.PermitPeriod = &p
	}
	if permitDate.Valid {
		t := permitDate.Time
		sub.PermitDate = &t
	}
	return &sub, nil
}

// lockSubmission reads the submission row with a row-level exclusive lock
// inside tx.
func lockSubmission(ctx context.Context, tx *sql.Tx, id string) (*models.Submission, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1 FOR UPDATE`, id)
	sub, err := scanSubmission(row)
	if apperrors.IsNoRows(err) {
		return nil, apperrors.NewNotFoundError("submission", id)
	}
	if err != nil {
		return nil, apperrors.FromDBError(err)
	}
	return sub, nil
}

// GetSubmission fetches the current state without locking. Callers use it
// to re-fetch after an InvalidState or ConcurrentModification error.
func (e *Engine) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	row := e.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id)
	sub, err := scanSubmission(row)
	if apperrors.IsNoRows(err) {
		return nil, apperrors.NewNotFoundError("submission", id)
	}
	if err != nil {
		return nil, apperrors.FromDBError(err)
	}
	return sub, nil
}

// ListForSubmitter returns a vendor's own submissions, newest first.
func (e *Engine) ListForSubmitter(ctx context.Context, submitterID string, limit int) ([]*models.Submission, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := e.db.QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE submitter_id = $1
		 ORDER BY created_at DESC LIMIT $2`, submitterID, limit)
	if err != nil {
		return nil, apperrors.FromDBError(err)
	}
	defer rows.Close()

	var out []*models.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, apperrors.FromDBError(err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.FromDBError(err)
	}
	return out, nil
}
