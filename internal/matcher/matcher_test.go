package matcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SWAB-ITO/swab-app-sub000/internal/conflict"
	"github.com/SWAB-ITO/swab-app-sub000/internal/index"
	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
	"github.com/SWAB-ITO/swab-app-sub000/internal/scorer"
)

var testNow = time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time { return testNow.Add(-time.Duration(n) * 24 * time.Hour) }

func newTestMatcher(contacts []model.ExternalContact, members []model.Membership, identities []model.Identity) *Matcher {
	idx := index.Build(contacts, members)
	idx.LinkMemberships(identities)
	now := func() time.Time { return testNow }
	s := scorer.New(scorer.Config{RetiredTag: "retired", CohortTag: "Mentors 2025", Now: now})
	d := conflict.NewDetector(conflict.Config{AutoResolveGap: 100, StaleAfter: 30 * 24 * time.Hour, Now: now})
	return New(idx, s, d, Options{Concurrency: 4})
}

func run(t *testing.T, m *Matcher, subjects []model.Identity, pins conflict.Pins) *Result {
	t.Helper()
	res, err := m.Match(context.Background(), subjects, pins)
	require.NoError(t, err)
	return res
}

func outcome(t *testing.T, res *Result, id string) Outcome {
	t.Helper()
	o, ok := res.Link(id)
	require.True(t, ok, "no outcome for %s", id)
	return o
}

func TestMatch_ExternalIDIsAuthoritative(t *testing.T) {
	contacts := []model.ExternalContact{
		{ID: "100", ExternalID: "m1", Phone: "+15555550199", LastModified: daysAgo(2)},
		{ID: "101", Phone: "+15555550100", LastModified: daysAgo(1)},
	}
	subjects := []model.Identity{{ID: "m1", Phone: "+15555550100", SubmittedAt: daysAgo(5)}}
	res := run(t, newTestMatcher(contacts, nil, subjects), subjects, conflict.NewPins())

	o := outcome(t, res, "m1")
	assert.Equal(t, "100", o.ContactID)
	assert.Equal(t, MethodExternalID, o.Method)

	// The phone disagreement is raised but the identifier match stands.
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, model.ConflictPhoneMismatch, res.Conflicts[0].Type)
}

func TestMatch_StaleRecordMismatchAutoResolves(t *testing.T) {
	contacts := []model.ExternalContact{
		{ID: "100", ExternalID: "m1", Phone: "+15555550199", LastModified: daysAgo(200)},
	}
	subjects := []model.Identity{{ID: "m1", Phone: "+15555550100", SubmittedAt: daysAgo(5)}}
	res := run(t, newTestMatcher(contacts, nil, subjects), subjects, conflict.NewPins())

	assert.Empty(t, res.Conflicts)
	assert.Equal(t, 1, outcome(t, res, "m1").AutoResolved)
}

func TestMatch_RetiredBeatsCohortWithoutConflict(t *testing.T) {
	contacts := []model.ExternalContact{
		{ID: "10", Phone: "+15555550100", Tags: []string{"retired"}, LastModified: daysAgo(10)},
		{ID: "11", Phone: "+15555550100", Tags: []string{"Mentors 2025"}, LastModified: daysAgo(2)},
	}
	subjects := []model.Identity{{ID: "m1", Phone: "+15555550100"}}
	res := run(t, newTestMatcher(contacts, nil, subjects), subjects, conflict.NewPins())

	o := outcome(t, res, "m1")
	assert.Equal(t, "10", o.ContactID)
	assert.Equal(t, MethodPhone, o.Method)
	assert.Equal(t, []string{"11"}, o.Losers)
	assert.Empty(t, res.Conflicts)
}

func TestMatch_TieRaisesConflictAndKeepsPreviousLink(t *testing.T) {
	contacts := []model.ExternalContact{
		{ID: "20", Phone: "+15555550100", Tags: []string{"Mentors 2025"}, LastModified: daysAgo(3)},
		{ID: "21", Phone: "+15555550100", Tags: []string{"Mentors 2025"}, LastModified: daysAgo(3)},
	}
	subjects := []model.Identity{{ID: "m1", Phone: "+15555550100", ExternalContactID: "20"}}
	res := run(t, newTestMatcher(contacts, nil, subjects), subjects, conflict.NewPins())

	o := outcome(t, res, "m1")
	assert.True(t, o.Pending)
	assert.Equal(t, "20", o.ContactID)
	assert.Empty(t, o.Losers)
	require.Len(t, res.Conflicts, 1)
	c := res.Conflicts[0]
	assert.Equal(t, model.ConflictContactSelection, c.Type)
	assert.Equal(t, model.OptionNone, c.Recommended)
	assert.Equal(t, "21", c.OptionA.Value)
}

func TestMatch_EmailThenMembershipFallback(t *testing.T) {
	contacts := []model.ExternalContact{
		{ID: "30", PrimaryEmail: "ada@gmail.com"},
		{ID: "31", Phone: "+15555550177"},
	}
	members := []model.Membership{{ID: "mb-2", Email: "bo@uga.edu", Phone: "(555) 555-0177"}}
	subjects := []model.Identity{
		{ID: "m1", Phone: "+15555550100", UGAEmail: "ADA@gmail.com"},
		{ID: "m2", Phone: "+15555550101", UGAEmail: "bo@uga.edu"},
		{ID: "m3", Phone: "+15555550102"},
	}
	res := run(t, newTestMatcher(contacts, members, subjects), subjects, conflict.NewPins())

	assert.Equal(t, MethodEmail, outcome(t, res, "m1").Method)
	assert.Equal(t, "30", outcome(t, res, "m1").ContactID)

	o2 := outcome(t, res, "m2")
	assert.Equal(t, MethodMembership, o2.Method)
	assert.Equal(t, "31", o2.ContactID)

	o3 := outcome(t, res, "m3")
	assert.Empty(t, o3.ContactID)
	assert.Equal(t, map[Method]int{MethodEmail: 1, MethodMembership: 1, MethodNone: 1}, res.Counts())
}

func TestMatch_CollisionWithPreviousHolder(t *testing.T) {
	contacts := []model.ExternalContact{
		{ID: "40", Phone: "+15555550100", PrimaryEmail: "shared@x.org"},
	}
	subjects := []model.Identity{
		{ID: "m1", Phone: "+15555550100", ExternalContactID: "40"},
		{ID: "m2", Phone: "+15555550101", PersonalEmail: "shared@x.org"},
	}
	res := run(t, newTestMatcher(contacts, nil, subjects), subjects, conflict.NewPins())

	assert.Equal(t, "40", outcome(t, res, "m1").ContactID)
	o2 := outcome(t, res, "m2")
	assert.Empty(t, o2.ContactID)
	assert.True(t, o2.Collided)

	require.Len(t, res.Conflicts, 1)
	c := res.Conflicts[0]
	assert.Equal(t, model.ConflictExternalIDCollision, c.Type)
	assert.Equal(t, "m1", c.OptionA.Value)
	assert.Equal(t, "m2", c.OptionB.Value)

	require.Len(t, res.Issues, 1)
	assert.Equal(t, model.IssueExternalIDCollision, res.Issues[0].Kind)
	assert.Equal(t, model.SeverityCritical, res.Issues[0].Severity)
}

func TestMatch_CollisionWithoutHolderUnlinksAll(t *testing.T) {
	contacts := []model.ExternalContact{{ID: "40", Phone: "+15555550100", PrimaryEmail: "shared@x.org"}}
	subjects := []model.Identity{
		{ID: "m1", Phone: "+15555550100"},
		{ID: "m2", Phone: "+15555550101", PersonalEmail: "shared@x.org"},
		{ID: "m3", Phone: "+15555550102", UGAEmail: "shared@x.org"},
	}
	res := run(t, newTestMatcher(contacts, nil, subjects), subjects, conflict.NewPins())

	for _, id := range []string{"m1", "m2", "m3"} {
		assert.Empty(t, outcome(t, res, id).ContactID, id)
	}
	require.Len(t, res.Conflicts, 2)
	for _, c := range res.Conflicts {
		assert.Equal(t, "m1", c.OptionA.Value)
	}
}

func TestMatch_NoContactHeldTwice(t *testing.T) {
	var contacts []model.ExternalContact
	var subjects []model.Identity
	for i := range 20 {
		phone := "+1555555" + []string{"0100", "0101", "0102", "0103"}[i%4]
		contacts = append(contacts, model.ExternalContact{ID: string(rune('a' + i)), Phone: phone, LastModified: daysAgo(i)})
		subjects = append(subjects, model.Identity{ID: "m" + string(rune('a'+i)), Phone: phone})
	}
	res := run(t, newTestMatcher(contacts, nil, subjects), subjects, conflict.NewPins())

	holders := map[string][]string{}
	for _, o := range res.Outcomes {
		if o.ContactID != "" {
			holders[o.ContactID] = append(holders[o.ContactID], o.IdentityID)
		}
	}
	for contact, ids := range holders {
		assert.Len(t, ids, 1, "contact %s", contact)
	}
}

func TestMatch_LoserLinkedElsewhereIsNotArchived(t *testing.T) {
	contacts := []model.ExternalContact{
		{ID: "50", Phone: "+15555550100", Tags: []string{"retired"}},
		{ID: "51", Phone: "+15555550100", PrimaryEmail: "bo@x.org"},
	}
	subjects := []model.Identity{
		{ID: "m1", Phone: "+15555550100"},
		{ID: "m2", Phone: "+15555550101", PersonalEmail: "bo@x.org"},
	}
	res := run(t, newTestMatcher(contacts, nil, subjects), subjects, conflict.NewPins())

	assert.Equal(t, "50", outcome(t, res, "m1").ContactID)
	assert.Empty(t, outcome(t, res, "m1").Losers)
	assert.Equal(t, "51", outcome(t, res, "m2").ContactID)
}

func TestMatch_PinsOverrideCascade(t *testing.T) {
	contacts := []model.ExternalContact{
		{ID: "60", Phone: "+15555550100", Tags: []string{"retired"}},
		{ID: "61", Phone: "+15555550100"},
	}
	subjects := []model.Identity{{ID: "m1", Phone: "+15555550100"}}
	pins := conflict.NewPins()
	pins.Contact["m1"] = "61"
	res := run(t, newTestMatcher(contacts, nil, subjects), subjects, pins)

	o := outcome(t, res, "m1")
	assert.Equal(t, "61", o.ContactID)
	assert.Equal(t, MethodPin, o.Method)

	// A pin to an archived or missing contact falls back to the cascade.
	pins.Contact["m1"] = "gone"
	res = run(t, newTestMatcher(contacts, nil, subjects), subjects, pins)
	assert.Equal(t, "60", outcome(t, res, "m1").ContactID)
}

func TestMatch_BlockedContactIsSkipped(t *testing.T) {
	contacts := []model.ExternalContact{
		{ID: "70", ExternalID: "m1", Phone: "+15555550100"},
	}
	subjects := []model.Identity{{ID: "m1", Phone: "+15555550100"}}
	pins := conflict.NewPins()
	pins.Blocked["m1"] = map[string]bool{"70": true}
	res := run(t, newTestMatcher(contacts, nil, subjects), subjects, pins)

	assert.Empty(t, outcome(t, res, "m1").ContactID)
}

func TestMatch_AmbiguousIdentifiersBecomeIssues(t *testing.T) {
	contacts := []model.ExternalContact{
		{ID: "80", ExternalID: "m1"},
		{ID: "81", ExternalID: "m1"},
	}
	subjects := []model.Identity{{ID: "m1", Phone: "+15555550100"}}
	res := run(t, newTestMatcher(contacts, nil, subjects), subjects, conflict.NewPins())

	assert.Empty(t, outcome(t, res, "m1").ContactID)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, model.IssueAmbiguousIdentifier, res.Issues[0].Kind)
}

func TestMatch_Cancelled(t *testing.T) {
	m := newTestMatcher(nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Match(ctx, []model.Identity{{ID: "m1"}}, conflict.NewPins())
	assert.Error(t, err)
}
