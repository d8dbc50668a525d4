package scorer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
)

var testNow = time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

func testScorer() *Scorer {
	return New(Config{
		RetiredTag: "retired",
		CohortTag:  "Mentors 2025",
		Now:        func() time.Time { return testNow },
	})
}

func daysAgo(n int) time.Time { return testNow.Add(-time.Duration(n) * 24 * time.Hour) }

func TestRecency(t *testing.T) {
	tests := []struct {
		name     string
		modified time.Time
		want     int
	}{
		{"today", testNow, 100},
		{"ten days", daysAgo(10), 90},
		{"partial day rounds down", testNow.Add(-36 * time.Hour), 99},
		{"hundred days", daysAgo(100), 0},
		{"older", daysAgo(400), 0},
		{"future", testNow.Add(48 * time.Hour), 100},
		{"unknown", time.Time{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, recency(testNow, tt.modified))
		})
	}
}

func TestScore_AllComponents(t *testing.T) {
	s := testScorer()
	c := &model.ExternalContact{
		ID:             "1",
		Tags:           []string{"Retired", "mentors 2025"},
		LastModified:   daysAgo(0),
		Phone:          "+15555550100",
		PrimaryEmail:   "a@x.org",
		SecondaryEmail: "b@x.org",
		HasAddress:     true,
		MembershipID:   "mb-1",
	}
	b := s.Breakdown(c)
	assert.Equal(t, 1000+500+100+50+30+20+20+30, b.Total())
	assert.Equal(t, b.Total(), s.Score(c))
	assert.Equal(t, []string{"phone", "primary_email", "secondary_email", "address"}, b.Completeness())

	assert.Equal(t, 0, s.Score(&model.ExternalContact{ID: "2"}))
}

func TestRank_RetiredBeatsRecentCohort(t *testing.T) {
	s := testScorer()
	a := &model.ExternalContact{ID: "10", Phone: "+15555550100", Tags: []string{"retired"}, LastModified: daysAgo(10)}
	b := &model.ExternalContact{ID: "11", Phone: "+15555550100", Tags: []string{"Mentors 2025"}, LastModified: daysAgo(2)}

	ranked := s.Rank([]*model.ExternalContact{b, a})
	require.Len(t, ranked, 2)
	assert.Equal(t, "10", ranked[0].Contact.ID)
	assert.Equal(t, 1000+90+50, ranked[0].Score)
	assert.Equal(t, 500+98+50, ranked[1].Score)
}

func TestRank_TieBreaksOnHigherNumericID(t *testing.T) {
	s := testScorer()
	mk := func(id string) *model.ExternalContact {
		return &model.ExternalContact{ID: id, Tags: []string{"Mentors 2025"}, LastModified: daysAgo(5)}
	}
	ranked := s.Rank([]*model.ExternalContact{mk("9"), mk("100"), mk("20")})
	assert.Equal(t, "100", ranked[0].Contact.ID)
	assert.Equal(t, "20", ranked[1].Contact.ID)
	assert.Equal(t, "9", ranked[2].Contact.ID)
	assert.Equal(t, ranked[0].Score, ranked[2].Score)
}

func TestRank_WinnerNeverScoresBelowLosers(t *testing.T) {
	s := testScorer()
	cands := []*model.ExternalContact{
		{ID: "1", Phone: "p", LastModified: daysAgo(3)},
		{ID: "2", HasAddress: true, LastModified: daysAgo(90)},
		{ID: "3", Tags: []string{"retired"}},
		{ID: "4", PrimaryEmail: "e", MembershipID: "m"},
	}
	ranked := s.Rank(cands)
	for _, loser := range ranked[1:] {
		assert.GreaterOrEqual(t, ranked[0].Score, loser.Score)
	}
}

func TestNew_EmptyTagsNeverMatch(t *testing.T) {
	s := New(Config{Now: func() time.Time { return testNow }})
	c := &model.ExternalContact{Tags: []string{""}}
	assert.Equal(t, 0, s.Score(c))
}
