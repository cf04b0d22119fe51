// Package events defines the domain events emitted by the workflow and
// their wire envelope. Payloads are tagged variants: one struct per known
// type, with an opaque variant for unknown payloads.
package events

import (
	"encoding/json"
	"time"

	"permit-workflow/internal/models"

	"github.com/google/uuid"
)

// Type tags an event payload.
type Type string

const (
	TypeSubmissionSubmitted Type = "submission.submitted"
	TypeSubmissionReviewed  Type = "submission.reviewed"
	TypeSubmissionFinalized Type = "submission.finalized"
)

// Event is implemented by every typed payload.
type Event interface {
	EventType() Type
}

// SubmissionSubmitted is emitted when a vendor files a new request.
type SubmissionSubmitted struct {
	SubmissionID string `json:"submissionId"`
	SubmitterID  string `json:"submitterId"`
	WorkTitle    string `json:"workTitle,omitempty"`
}

func (SubmissionSubmitted) EventType() Type { return TypeSubmissionSubmitted }

// SubmissionReviewed is emitted after the reviewer screening.
type SubmissionReviewed struct {
	SubmissionID string `json:"submissionId"`
	SubmitterID  string `json:"submitterId"`
	Outcome      string `json:"outcome"`
	ReviewerID   string `json:"reviewerId"`
	Note         string `json:"note,omitempty"`
}

func (SubmissionReviewed) EventType() Type { return TypeSubmissionReviewed }

// SubmissionFinalized is emitted when the pipeline reaches a terminal
// approval status. ApproverID is empty when a failed review auto-rejected
// the submission. PermitNumber is present only on approval.
type SubmissionFinalized struct {
	SubmissionID string `json:"submissionId"`
	SubmitterID  string `json:"submitterId"`
	Outcome      string `json:"outcome"`
	ApproverID   string `json:"approverId,omitempty"`
	Note         string `json:"note,omitempty"`
	PermitNumber *int64 `json:"permitNumber,omitempty"`
	PermitPeriod *int   `json:"permitPeriod,omitempty"`
}

func (SubmissionFinalized) EventType() Type { return TypeSubmissionFinalized }

// Opaque carries a payload whose type this build does not know.
type Opaque struct {
	Type Type
	Raw  json.RawMessage
}

func (o Opaque) EventType() Type { return o.Type }

// Envelope is the serialized form published to a scope channel.
type Envelope struct {
	ID         string          `json:"id"`
	Scope      models.Scope    `json:"scope"`
	TargetID   string          `json:"targetId,omitempty"`
	Type       Type            `json:"type"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEnvelope wraps an event for the given audience.
func NewEnvelope(scope models.Scope, targetID string, event Event) (*Envelope, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:         uuid.New().String(),
		Scope:      scope,
		TargetID:   targetID,
		Type:       event.EventType(),
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}, nil
}

// Marshal serializes the envelope for the broker.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal parses an envelope received from the broker.
func Unmarshal(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Decode returns the typed payload, or an Opaque variant for unknown
// types so that newer publishers do not break older consumers.
func (e *Envelope) Decode() (Event, error) {
	switch e.Type {
	case TypeSubmissionSubmitted:
		var ev SubmissionSubmitted
		if err := json.Unmarshal(e.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeSubmissionReviewed:
		var ev SubmissionReviewed
		if err := json.Unmarshal(e.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeSubmissionFinalized:
		var ev SubmissionFinalized
		if err := json.Unmarshal(e.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return Opaque{Type: e.Type, Raw: e.Payload}, nil
	}
}
