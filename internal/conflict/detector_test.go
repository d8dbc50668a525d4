package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
	"github.com/SWAB-ITO/swab-app-sub000/internal/scorer"
)

var testNow = time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time { return testNow.Add(-time.Duration(n) * 24 * time.Hour) }

func testDetector() *Detector {
	return NewDetector(Config{
		AutoResolveGap: 100,
		StaleAfter:     30 * 24 * time.Hour,
		Now:            func() time.Time { return testNow },
	})
}

func scored(id string, score int, c model.ExternalContact) scorer.Scored {
	c.ID = id
	return scorer.Scored{Contact: &c, Score: score}
}

func TestContactSelection_Trivial(t *testing.T) {
	d := testDetector()
	assert.Equal(t, Selection{}, d.ContactSelection("m1", nil))

	only := []scorer.Scored{scored("100", 50, model.ExternalContact{})}
	sel := d.ContactSelection("m1", only)
	require.NotNil(t, sel.Winner)
	assert.Equal(t, "100", sel.Winner.Contact.ID)
	assert.Nil(t, sel.Conflict)
	assert.Empty(t, sel.Losers)
}

func TestContactSelection_AutoResolvesAboveGap(t *testing.T) {
	d := testDetector()
	ranked := []scorer.Scored{
		scored("100", 1150, model.ExternalContact{}),
		scored("101", 648, model.ExternalContact{}),
		scored("102", 100, model.ExternalContact{}),
	}
	sel := d.ContactSelection("m1", ranked)
	require.NotNil(t, sel.Winner)
	assert.Equal(t, "100", sel.Winner.Contact.ID)
	assert.Equal(t, []string{"101", "102"}, sel.Losers)
	assert.Equal(t, 502, sel.Gap)
	assert.Nil(t, sel.Conflict)
}

func TestContactSelection_GapAtThresholdNeedsReview(t *testing.T) {
	d := testDetector()
	ranked := []scorer.Scored{
		scored("100", 600, model.ExternalContact{Tags: []string{"Mentors 2025", "retired"}, LastModified: daysAgo(2)}),
		scored("101", 500, model.ExternalContact{Tags: []string{"mentors 2025"}, MembershipID: "mb-1", LastModified: daysAgo(40)}),
	}
	sel := d.ContactSelection("m1", ranked)
	assert.Nil(t, sel.Winner)
	require.NotNil(t, sel.Conflict)

	c := sel.Conflict
	assert.Equal(t, model.ConflictContactSelection, c.Type)
	assert.Equal(t, model.SeverityHigh, c.Severity)
	assert.Equal(t, model.ConflictPending, c.Status)
	assert.Equal(t, "m1", c.SubjectID)
	assert.Equal(t, "100", c.OptionA.Value)
	assert.Equal(t, "101", c.OptionB.Value)
	assert.Equal(t, model.OptionA, c.Recommended)
	assert.Equal(t, "mb-1", c.OptionB.Metadata["membership_id"])
	assert.NotEmpty(t, c.ID)

	p, ok := c.Payload.(model.ContactSelectionPayload)
	require.True(t, ok)
	assert.Equal(t, 100, p.ScoreGap)
	assert.Len(t, p.Candidates, 2)
	assert.Contains(t, p.Justification, "Both are tagged Mentors 2025")
	assert.Contains(t, p.Justification, "Only 100 is tagged retired")
	assert.Contains(t, p.Justification, "Only 101 is linked to a campaign membership")
	assert.Contains(t, p.Justification, "Last modified 2 and 40 days ago")
}

func TestContactSelection_ExactTieRecommendsNothing(t *testing.T) {
	d := testDetector()
	ranked := []scorer.Scored{
		scored("101", 550, model.ExternalContact{}),
		scored("100", 550, model.ExternalContact{}),
	}
	sel := d.ContactSelection("m1", ranked)
	require.NotNil(t, sel.Conflict)
	assert.Equal(t, model.OptionNone, sel.Conflict.Recommended)
	assert.Equal(t, 0, sel.Gap)
}

func TestFieldMismatch_Phone(t *testing.T) {
	d := testDetector()
	subject := model.Identity{ID: "m1", Phone: "+15555550100", SubmittedAt: daysAgo(5)}

	tests := []struct {
		name         string
		contact      model.ExternalContact
		differs      bool
		autoResolved bool
		recommended  model.OptionKey
	}{
		{"same after normalization", model.ExternalContact{ID: "1", Phone: "(555) 555-0100", LastModified: daysAgo(90)}, false, false, ""},
		{"record has no phone", model.ExternalContact{ID: "1", LastModified: daysAgo(90)}, false, false, ""},
		{"intake much newer", model.ExternalContact{ID: "1", Phone: "5555550199", LastModified: daysAgo(60)}, true, true, ""},
		{"intake slightly newer", model.ExternalContact{ID: "1", Phone: "5555550199", LastModified: daysAgo(20)}, true, false, model.OptionA},
		{"record newer", model.ExternalContact{ID: "1", Phone: "5555550199", LastModified: daysAgo(1)}, true, false, model.OptionB},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.contact
			m := d.FieldMismatch(MismatchPhone, subject, &c)
			assert.Equal(t, tt.differs, m.Differs)
			assert.Equal(t, tt.autoResolved, m.AutoResolved)
			if !tt.differs || tt.autoResolved {
				assert.Nil(t, m.Conflict)
				return
			}
			require.NotNil(t, m.Conflict)
			assert.Equal(t, model.ConflictPhoneMismatch, m.Conflict.Type)
			assert.Equal(t, model.SeverityMedium, m.Conflict.Severity)
			assert.Equal(t, tt.recommended, m.Conflict.Recommended)
			assert.Equal(t, "+15555550100", m.Conflict.OptionA.Value)
			assert.Equal(t, "+15555550199", m.Conflict.OptionB.Value)
			p, ok := m.Conflict.Payload.(model.PhoneMismatchPayload)
			require.True(t, ok)
			assert.Equal(t, 5, p.IntakeAgeDays)
		})
	}
}

func TestFieldMismatch_EmailOverlapIsAgreement(t *testing.T) {
	d := testDetector()
	subject := model.Identity{ID: "m1", PersonalEmail: "ada@gmail.com", UGAEmail: "ada@uga.edu", SubmittedAt: daysAgo(5)}

	agree := model.ExternalContact{ID: "1", PrimaryEmail: "other@x.org", SecondaryEmail: "ADA@uga.edu", LastModified: daysAgo(10)}
	assert.False(t, d.FieldMismatch(MismatchEmail, subject, &agree).Differs)

	disagree := model.ExternalContact{ID: "1", PrimaryEmail: "other@x.org", LastModified: daysAgo(10)}
	m := d.FieldMismatch(MismatchEmail, subject, &disagree)
	assert.True(t, m.Differs)
	require.NotNil(t, m.Conflict)
	assert.Equal(t, model.ConflictEmailMismatch, m.Conflict.Type)
	assert.Equal(t, "ada@gmail.com", m.Conflict.OptionA.Value)
	assert.Equal(t, "other@x.org", m.Conflict.OptionB.Value)
}

func TestFieldMismatch_NoIntakeSubmission(t *testing.T) {
	d := testDetector()
	subject := model.Identity{ID: "m1", Phone: "+15555550100"}
	c := model.ExternalContact{ID: "1", Phone: "5555550199"}
	assert.Equal(t, Mismatch{}, d.FieldMismatch(MismatchPhone, subject, &c))
	assert.Equal(t, Mismatch{}, d.FieldMismatch("gender", subject, &c))
}

func TestCollision(t *testing.T) {
	d := testDetector()
	c := d.Collision("100", "m1", "m2")
	assert.Equal(t, model.ConflictExternalIDCollision, c.Type)
	assert.Equal(t, model.SeverityHigh, c.Severity)
	assert.Equal(t, model.OptionNone, c.Recommended)
	assert.Equal(t, "m2", c.SubjectID)
	p, ok := c.Payload.(model.CollisionPayload)
	require.True(t, ok)
	assert.Equal(t, []string{"m1", "m2"}, p.IdentityIDs)
	assert.Equal(t, "100", p.ContactID)
}

func TestDedupeKeyStableAcrossRuns(t *testing.T) {
	d := testDetector()
	a := d.Collision("100", "m1", "m2")
	b := d.Collision("100", "m1", "m2")
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, a.DedupeKey(), b.DedupeKey())
}
