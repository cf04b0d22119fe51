// Package workflow owns the submission state machine: reviewer screening,
// final decision and concurrency-safe permit number issuance.
package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"permit-workflow/internal/common/config"
	apperrors "permit-workflow/internal/common/errors"
	"permit-workflow/internal/common/logger"
	"permit-workflow/internal/common/metrics"
	"permit-workflow/internal/common/observability"
	"permit-workflow/internal/common/validation"
	"permit-workflow/internal/events"
	"permit-workflow/internal/models"

	"github.com/google/uuid"
)

// Announcer delivers a post-commit notification for a domain event:
// a durable notification record plus a broker publish. Failures are
// logged by the engine and never affect the committed transaction.
type Announcer interface {
	Announce(ctx context.Context, scope models.Scope, targetID string, event events.Event, title, message string) error
}

// Engine validates workflow transitions, issues permit numbers on final
// approval and emits domain events after commit.
type Engine struct {
	db        *sql.DB
	issuer    SequenceIssuer
	announcer Announcer
	logger    logger.Logger
	obs       *observability.Observability
	cfg       config.WorkflowConfig

	now func() time.Time
}

func NewEngine(db *sql.DB, announcer Announcer, cfg config.WorkflowConfig, log logger.Logger) *Engine {
	return &Engine{
		db:        db,
		announcer: announcer,
		logger:    log.WithFields(map[string]interface{}{"component": "workflow-engine"}),
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetObservability attaches the OTel instruments. Optional.
func (e *Engine) SetObservability(obs *observability.Observability) {
	e.obs = obs
}

// SubmitInput carries a new work-permit request.
type SubmitInput struct {
	SubmitterID string
	Payload     map[string]interface{}
}

// Submit creates a Submission in (PENDING_REVIEW, PENDING_APPROVAL).
func (e *Engine) Submit(ctx context.Context, in SubmitInput) (*models.Submission, error) {
	if in.SubmitterID == "" {
		return nil, apperrors.NewValidationError("submitterId is required")
	}
	if err := validation.ValidateSubmissionPayload(in.Payload); err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}

	var (
		role     string
		verified bool
	)
	err := e.db.QueryRowContext(ctx,
		`SELECT role, verified FROM users WHERE id = $1`, in.SubmitterID,
	).Scan(&role, &verified)
	if apperrors.IsNoRows(err) {
		return nil, apperrors.NewValidationError("submitter is not a registered user")
	}
	if err != nil {
		return nil, apperrors.FromDBError(err)
	}
	if role != string(models.RoleVendor) {
		return nil, apperrors.NewValidationError("submitter is not a vendor")
	}
	if !verified {
		return nil, apperrors.NewValidationError("submitter account is not verified")
	}

	now := e.now().UTC()
	payloadJSON, err := json.Marshal(in.Payload)
	if err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("payload not serializable: %v", err))
	}

	sub := &models.Submission{
		ID:             uuid.New().String(),
		SubmitterID:    in.SubmitterID,
		Payload:        in.Payload,
		ReviewStatus:   models.ReviewPending,
		ApprovalStatus: models.ApprovalPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err = e.db.ExecContext(ctx, `
		INSERT INTO submissions (id, submitter_id, payload, review_status, approval_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		sub.ID, sub.SubmitterID, payloadJSON, sub.ReviewStatus, sub.ApprovalStatus, now,
	)
	if err != nil {
		return nil, apperrors.FromDBError(err)
	}

	metrics.WorkflowTransitions.WithLabelValues("submit", "created").Inc()
	e.logger.Info("submission created", map[string]interface{}{
		"submissionId": sub.ID,
		"submitterId":  sub.SubmitterID,
	})

	ev := events.SubmissionSubmitted{
		SubmissionID: sub.ID,
		SubmitterID:  sub.SubmitterID,
		WorkTitle:    stringField(in.Payload, "workTitle"),
	}
	e.announce(models.ScopeReviewer, "", ev, "New work permit request", "A submission is waiting for review")
	e.announce(models.ScopeAdmin, "", ev, "New work permit request", "A vendor filed a new submission")

	return sub, nil
}

// Review records the reviewer screening. NOT_MEETS_REQUIREMENTS forces a
// terminal rejection in the same transaction, with no approver action.
func (e *Engine) Review(ctx context.Context, submissionID string, outcome models.ReviewStatus, note, reviewerID string) (*models.Submission, error) {
	if outcome != models.ReviewMeets && outcome != models.ReviewNotMeets {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid review outcome %q", outcome))
	}
	if reviewerID == "" {
		return nil, apperrors.NewValidationError("reviewerId is required")
	}

	txCtx, cancel := context.WithTimeout(ctx, e.cfg.TransactionTimeout)
	defer cancel()

	sub, err := e.reviewTx(txCtx, submissionID, outcome, note, reviewerID)
	if err != nil {
		metrics.WorkflowTransitionFailures.WithLabelValues("review", string(apperrors.Code(err))).Inc()
		return nil, err
	}

	metrics.WorkflowTransitions.WithLabelValues("review", string(outcome)).Inc()
	e.logger.Info("submission reviewed", map[string]interface{}{
		"submissionId": sub.ID,
		"outcome":      string(outcome),
		"reviewerId":   reviewerID,
	})

	reviewed := events.SubmissionReviewed{
		SubmissionID: sub.ID,
		SubmitterID:  sub.SubmitterID,
		Outcome:      string(outcome),
		ReviewerID:   reviewerID,
		Note:         note,
	}
	e.announce(models.ScopeVendor, sub.SubmitterID, reviewed, "Submission reviewed", "Your submission has been screened")

	if outcome == models.ReviewMeets {
		e.announce(models.ScopeApprover, "", reviewed, "Submission ready for decision", "A screened submission awaits final approval")
	} else {
		finalized := events.SubmissionFinalized{
			SubmissionID: sub.ID,
			SubmitterID:  sub.SubmitterID,
			Outcome:      string(models.ApprovalRejected),
			Note:         note,
		}
		e.announce(models.ScopeVendor, sub.SubmitterID, finalized, "Submission rejected", "Your submission did not meet the requirements")
		e.announce(models.ScopeAdmin, "", finalized, "Submission rejected", "A submission was rejected at review")
	}

	return sub, nil
}

func (e *Engine) reviewTx(ctx context.Context, submissionID string, outcome models.ReviewStatus, note, reviewerID string) (*models.Submission, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.FromDBError(err)
	}
	defer tx.Rollback()

	sub, err := lockSubmission(ctx, tx, submissionID)
	if err != nil {
		return nil, err
	}
	if !sub.CanReview() {
		return nil, apperrors.NewInvalidStateError(fmt.Sprintf(
			"review not allowed: review_status=%s approval_status=%s", sub.ReviewStatus, sub.ApprovalStatus))
	}

	now := e.now().UTC()
	sub.ReviewStatus = outcome
	sub.ReviewedBy = &reviewerID
	sub.ReviewedAt = &now
	if note != "" {
		sub.ReviewNote = &note
	}
	if outcome == models.ReviewNotMeets {
		sub.ApprovalStatus = models.ApprovalRejected
	}
	sub.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		UPDATE submissions
		SET review_status = $1, reviewed_by = $2, reviewed_at = $3, review_note = $4,
		    approval_status = $5, updated_at = $6
		WHERE id = $7`,
		sub.ReviewStatus, reviewerID, now, sub.ReviewNote, sub.ApprovalStatus, now, submissionID,
	)
	if err != nil {
		return nil, apperrors.FromDBError(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperrors.FromDBError(err)
	}
	return sub, nil
}

// Decide records the final decision. The APPROVED path issues a permit
// number inside the same transaction as the status update; serialization
// conflicts retry the whole operation a bounded number of times.
func (e *Engine) Decide(ctx context.Context, submissionID string, outcome models.ApprovalStatus, note, approverID string) (*models.Submission, error) {
	if outcome != models.ApprovalApproved && outcome != models.ApprovalRejected {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid decision outcome %q", outcome))
	}
	if approverID == "" {
		return nil, apperrors.NewValidationError("approverId is required")
	}

	started := e.now()
	backoff := e.cfg.RetryBackoff
	hadConflict := false

	var (
		sub     *models.Submission
		lastErr error
	)
	for attempt := 0; attempt < e.cfg.MaxIssuanceRetries; attempt++ {
		if attempt > 0 {
			metrics.IssuanceRetries.Inc()
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, apperrors.NewLockTimeoutError(ctx.Err().Error())
			}
			backoff *= 2
		}

		sub, lastErr = e.decideTx(ctx, submissionID, outcome, note, approverID)
		if lastErr == nil {
			break
		}
		// A state mismatch right after losing a race means another
		// actor decided first. The state is settled, so retrying again
		// cannot help.
		if hadConflict && apperrors.IsCode(lastErr, apperrors.ErrCodeInvalidState) {
			lastErr = apperrors.NewConcurrentModificationError(lastErr.Error())
			metrics.WorkflowTransitionFailures.WithLabelValues("decide", string(apperrors.Code(lastErr))).Inc()
			return nil, lastErr
		}
		if !apperrors.IsRetryable(lastErr) {
			metrics.WorkflowTransitionFailures.WithLabelValues("decide", string(apperrors.Code(lastErr))).Inc()
			return nil, lastErr
		}
		hadConflict = true
		e.logger.Warn("decide transaction conflicted, retrying", map[string]interface{}{
			"submissionId": submissionID,
			"attempt":      attempt + 1,
			"error":        lastErr.Error(),
		})
	}
	if lastErr != nil {
		metrics.WorkflowTransitionFailures.WithLabelValues("decide", string(apperrors.ErrCodeIssuanceFailed)).Inc()
		if outcome == models.ApprovalApproved {
			return nil, apperrors.NewIssuanceFailedError(e.cfg.MaxIssuanceRetries, lastErr)
		}
		return nil, lastErr
	}

	metrics.WorkflowTransitions.WithLabelValues("decide", string(outcome)).Inc()
	if outcome == models.ApprovalApproved {
		metrics.PermitNumbersIssued.Inc()
	}
	if e.obs != nil {
		e.obs.RecordDecision(ctx, string(outcome))
		e.obs.RecordDecisionDuration(ctx, e.now().Sub(started), string(outcome))
	}
	e.logger.Info("submission finalized", map[string]interface{}{
		"submissionId": sub.ID,
		"outcome":      string(outcome),
		"approverId":   approverID,
		"permitNumber": sub.PermitNumber,
	})

	finalized := events.SubmissionFinalized{
		SubmissionID: sub.ID,
		SubmitterID:  sub.SubmitterID,
		Outcome:      string(outcome),
		ApproverID:   approverID,
		Note:         note,
		PermitNumber: sub.PermitNumber,
		PermitPeriod: sub.PermitPeriod,
	}
	title, message := "Submission rejected", "Your submission was rejected by the approver"
	if outcome == models.ApprovalApproved {
		title, message = "Permit issued", "Your work permit has been approved"
	}
	e.announce(models.ScopeVendor, sub.SubmitterID, finalized, title, message)
	e.announce(models.ScopeAdmin, "", finalized, title, "A submission received a final decision")

	return sub, nil
}

func (e *Engine) decideTx(ctx context.Context, submissionID string, outcome models.ApprovalStatus, note, approverID string) (*models.Submission, error) {
	txCtx, cancel := context.WithTimeout(ctx, e.cfg.TransactionTimeout)
	defer cancel()

	tx, err := e.db.BeginTx(txCtx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, apperrors.FromDBError(err)
	}
	defer tx.Rollback()

	sub, err := lockSubmission(txCtx, tx, submissionID)
	if err != nil {
		return nil, err
	}
	if !sub.CanDecide() {
		return nil, apperrors.NewInvalidStateError(fmt.Sprintf(
			"decision not allowed: review_status=%s approval_status=%s", sub.ReviewStatus, sub.ApprovalStatus))
	}

	now := e.now().UTC()
	sub.ApprovalStatus = outcome
	sub.ApprovedBy = &approverID
	sub.ApprovedAt = &now
	if note != "" {
		sub.FinalNote = &note
	}
	sub.UpdatedAt = now

	if outcome == models.ApprovalApproved {
		period := now.Year()
		number, err := e.issuer.Next(txCtx, tx, period)
		if err != nil {
			return nil, err
		}
		sub.PermitNumber = &number
		sub.PermitPeriod = &period
		sub.PermitDate = &now

		_, err = tx.ExecContext(txCtx, `
			UPDATE submissions
			SET approval_status = $1, approved_by = $2, approved_at = $3, final_note = $4,
			    permit_number = $5, permit_period = $6, permit_date = $7, updated_at = $3
			WHERE id = $8`,
			outcome, approverID, now, sub.FinalNote, number, period, now, submissionID,
		)
		if err != nil {
			return nil, apperrors.FromDBError(err)
		}
	} else {
		_, err = tx.ExecContext(txCtx, `
			UPDATE submissions
			SET approval_status = $1, approved_by = $2, approved_at = $3, final_note = $4, updated_at = $3
			WHERE id = $5`,
			outcome, approverID, now, sub.FinalNote, submissionID,
		)
		if err != nil {
			return nil, apperrors.FromDBError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.FromDBError(err)
	}
	return sub, nil
}

// announce runs a post-commit notification with its own deadline so a
// slow broker cannot stall the caller. A missed notification is degraded
// UX, recoverable through the notification store.
func (e *Engine) announce(scope models.Scope, targetID string, event events.Event, title, message string) {
	if e.announcer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.announcer.Announce(ctx, scope, targetID, event, title, message); err != nil {
		e.logger.Error("notification fan-out failed", map[string]interface{}{
			"scope":    string(scope),
			"targetId": targetID,
			"type":     string(event.EventType()),
			"error":    err.Error(),
		})
	}
}

func stringField(payload map[string]interface{}, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
