package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExternalContact_HasTag(t *testing.T) {
	c := ExternalContact{Tags: []string{" Retired ", "mentors-2025"}}
	assert.True(t, c.HasTag("retired"))
	assert.True(t, c.HasTag("MENTORS-2025"))
	assert.False(t, c.HasTag("cohort"))
	assert.False(t, c.HasTag(""))
}

func TestExternalContact_Emails(t *testing.T) {
	assert.Nil(t, ExternalContact{}.Emails())
	assert.Equal(t, []string{"a@x.org"}, ExternalContact{PrimaryEmail: "a@x.org", SecondaryEmail: "a@x.org"}.Emails())
	assert.Equal(t, []string{"b@x.org"}, ExternalContact{SecondaryEmail: "b@x.org"}.Emails())
}

func TestIdentity_FieldsRenderEmptyForZeroValues(t *testing.T) {
	f := Identity{ID: "m1"}.Fields()
	assert.Equal(t, "", f[FieldTrainingComplete])
	assert.Equal(t, "", f[FieldAmountRaised])
	assert.Equal(t, "", f[FieldUpdatedAt])

	f = Identity{TrainingComplete: true, AmountRaised: 75}.Fields()
	assert.Equal(t, "true", f[FieldTrainingComplete])
	assert.Equal(t, "75.00", f[FieldAmountRaised])
}

func TestIdentity_SetRoundTripsFields(t *testing.T) {
	src := Identity{
		FirstName:        "Ada",
		Phone:            "+15555550100",
		TrainingComplete: true,
		AmountRaised:     12.5,
		StatusCategory:   StatusNeedsTraining,
	}
	var dst Identity
	for k, v := range src.Fields() {
		if k == FieldUpdatedAt || k == FieldLastSyncedAt {
			continue
		}
		require.True(t, dst.Set(k, v), k)
	}
	assert.Equal(t, src, dst)
	assert.False(t, dst.Set("nope", "x"))
}

func TestConflict_DedupeKey(t *testing.T) {
	c := Conflict{
		Type:      ConflictPhoneMismatch,
		SubjectID: "m1",
		OptionA:   Option{Value: "+15555550100"},
		OptionB:   Option{Value: "+15555550199"},
	}
	assert.Equal(t, "phone_mismatch|m1|+15555550100|+15555550199", c.DedupeKey())
}

func TestConflict_Chosen(t *testing.T) {
	c := Conflict{OptionA: Option{Value: "10"}, OptionB: Option{Value: "11"}}

	v, err := c.Chosen(Decision{Kind: DecideOptionA})
	require.NoError(t, err)
	assert.Equal(t, "10", v)

	v, err = c.Chosen(Decision{Kind: DecideOptionB})
	require.NoError(t, err)
	assert.Equal(t, "11", v)

	v, err = c.Chosen(Decision{Kind: DecideCustom, Value: " 12 "})
	require.NoError(t, err)
	assert.Equal(t, "12", v)

	_, err = c.Chosen(Decision{Kind: DecideCustom})
	assert.Error(t, err)

	_, err = c.Chosen(Decision{Kind: "maybe"})
	assert.Error(t, err)
}

func TestPayload_RoundTripKeepsVariant(t *testing.T) {
	in := PhoneMismatchPayload{FieldMismatch{
		ContactID:     "42",
		IntakeValue:   "+15555550100",
		RecordValue:   "+15555550199",
		IntakeAgeDays: 3,
		RecordAgeDays: 20,
	}}
	data, err := MarshalPayload(in)
	require.NoError(t, err)

	out, err := UnmarshalPayload(ConflictPhoneMismatch, data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, ConflictPhoneMismatch, out.ConflictType())

	sel := ContactSelectionPayload{
		Candidates: []Candidate{{ContactID: "1", Score: 600, LastModified: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)}},
	}
	data, err = MarshalPayload(sel)
	require.NoError(t, err)
	got, err := UnmarshalPayload(ConflictContactSelection, data)
	require.NoError(t, err)
	assert.Equal(t, sel, got)
}

func TestUnmarshalPayload_UnknownType(t *testing.T) {
	_, err := UnmarshalPayload("bogus", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")

	p, err := UnmarshalPayload(ConflictEmailMismatch, nil)
	require.NoError(t, err)
	assert.Nil(t, p)
}
