package models

import "time"

// ReviewStatus is the screening stage of a submission.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "PENDING_REVIEW"
	ReviewMeets    ReviewStatus = "MEETS_REQUIREMENTS"
	ReviewNotMeets ReviewStatus = "NOT_MEETS_REQUIREMENTS"
)

// ApprovalStatus is the final-decision stage of a submission.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING_APPROVAL"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// Submission is a work-permit request moving through review and approval.
// A submission with a terminal approval status is never mutated again;
// resubmission creates a new identity.
type Submission struct {
	ID          string                 `json:"id"`
	SubmitterID string                 `json:"submitterId"`
	Payload     map[string]interface{} `json:"payload"`

	ReviewStatus ReviewStatus `json:"reviewStatus"`
	ReviewedBy   *string      `json:"reviewedBy,omitempty"`
	ReviewedAt   *time.Time   `json:"reviewedAt,omitempty"`
	ReviewNote   *string      `json:"reviewNote,omitempty"`

	ApprovalStatus ApprovalStatus `json:"approvalStatus"`
	ApprovedBy     *string        `json:"approvedBy,omitempty"`
	ApprovedAt     *time.Time     `json:"approvedAt,omitempty"`
	FinalNote      *string        `json:"finalNote,omitempty"`

	// PermitNumber is set if and only if ApprovalStatus is APPROVED.
	PermitNumber *int64     `json:"permitNumber,omitempty"`
	PermitPeriod *int       `json:"permitPeriod,omitempty"`
	PermitDate   *time.Time `json:"permitDate,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CanReview reports whether a reviewer screening is still legal.
func (s *Submission) CanReview() bool {
	return s.ReviewStatus == ReviewPending
}

// CanDecide reports whether a final decision is legal.
func (s *Submission) CanDecide() bool {
	return s.ReviewStatus == ReviewMeets && s.ApprovalStatus == ApprovalPending
}

// Terminal reports whether the approval pipeline has finished.
func (s *Submission) Terminal() bool {
	return s.ApprovalStatus == ApprovalApproved || s.ApprovalStatus == ApprovalRejected
}
