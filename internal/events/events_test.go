package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"permit-workflow/internal/models"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	number := int64(14)
	period := 2026
	env, err := NewEnvelope(models.ScopeVendor, "vendor-1", SubmissionFinalized{
		SubmissionID: "sub-1",
		SubmitterID:  "vendor-1",
		Outcome:      "APPROVED",
		ApproverID:   "approver-1",
		PermitNumber: &number,
		PermitPeriod: &period,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, env.ID)
	assert.Equal(t, TypeSubmissionFinalized, env.Type)

	data, err := env.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, models.ScopeVendor, got.Scope)
	assert.Equal(t, "vendor-1", got.TargetID)

	decoded, err := got.Decode()
	require.NoError(t, err)
	finalized, ok := decoded.(SubmissionFinalized)
	require.True(t, ok)
	assert.Equal(t, "APPROVED", finalized.Outcome)
	require.NotNil(t, finalized.PermitNumber)
	assert.Equal(t, int64(14), *finalized.PermitNumber)
	require.NotNil(t, finalized.PermitPeriod)
	assert.Equal(t, 2026, *finalized.PermitPeriod)
}

func TestDecode_TypedVariants(t *testing.T) {
	tests := []struct {
		name  string
		event Event
	}{
		{"submitted", SubmissionSubmitted{SubmissionID: "sub-1", SubmitterID: "vendor-1"}},
		{"reviewed", SubmissionReviewed{SubmissionID: "sub-1", Outcome: "MEETS_REQUIREMENTS", ReviewerID: "reviewer-1"}},
		{"finalized", SubmissionFinalized{SubmissionID: "sub-1", Outcome: "REJECTED"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := NewEnvelope(models.ScopeAdmin, "", tt.event)
			require.NoError(t, err)

			decoded, err := env.Decode()
			require.NoError(t, err)
			assert.Equal(t, tt.event, decoded)
		})
	}
}

// Unknown types survive as opaque payloads so older consumers keep working
// when publishers grow new event kinds.
func TestDecode_UnknownTypeIsOpaque(t *testing.T) {
	env, err := Unmarshal([]byte(`{
		"id": "env-1",
		"scope": "admin",
		"type": "submission.archived",
		"occurredAt": "2026-08-30T12:00:00Z",
		"payload": {"submissionId": "sub-1"}
	}`))
	require.NoError(t, err)

	decoded, err := env.Decode()
	require.NoError(t, err)

	opaque, ok := decoded.(Opaque)
	require.True(t, ok)
	assert.Equal(t, Type("submission.archived"), opaque.Type)
	assert.JSONEq(t, `{"submissionId":"sub-1"}`, string(opaque.Raw))
}

func TestDecode_MalformedPayload(t *testing.T) {
	env := &Envelope{
		Type:    TypeSubmissionReviewed,
		Payload: []byte(`"not an object"`),
	}

	_, err := env.Decode()
	assert.Error(t, err)
}
