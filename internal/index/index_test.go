package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
)

func ids(cs []*model.ExternalContact) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func TestBuild_PhoneDuplicatesKeptInIDOrder(t *testing.T) {
	idx := Build([]model.ExternalContact{
		{ID: "100", Phone: "(555) 555-0100"},
		{ID: "9", Phone: "+15555550100"},
		{ID: "20", Phone: "555.555.0100"},
		{ID: "21", Phone: "555-0100"}, // too short, not indexed
	}, nil)

	assert.Equal(t, []string{"9", "20", "100"}, ids(idx.ByPhone("5555550100")))
	assert.Empty(t, idx.ByPhone("555-0100"))
	assert.Equal(t, 4, idx.Len())
}

func TestBuild_EmailKeysPointAtSameRecord(t *testing.T) {
	idx := Build([]model.ExternalContact{
		{ID: "1", PrimaryEmail: "Ada@UGA.edu", SecondaryEmail: "ada@gmail.com"},
		{ID: "2", PrimaryEmail: "ada@gmail.com"},
		{ID: "3", PrimaryEmail: "same@x.org", SecondaryEmail: "SAME@x.org"},
	}, nil)

	assert.Equal(t, []string{"1"}, ids(idx.ByEmail("ada@uga.edu")))
	assert.Equal(t, []string{"1", "2"}, ids(idx.ByEmail(" ADA@gmail.com ")))
	// A record never appears twice under one key.
	assert.Equal(t, []string{"3"}, ids(idx.ByEmail("same@x.org")))
	assert.Empty(t, idx.ByEmail(""))
}

func TestBuild_AmbiguousExternalIDDropped(t *testing.T) {
	idx := Build([]model.ExternalContact{
		{ID: "1", ExternalID: "m-1"},
		{ID: "2", ExternalID: "m-1"},
		{ID: "3", ExternalID: "m-2"},
	}, nil)

	_, ok := idx.ByExternalID("m-1")
	assert.False(t, ok)
	c, ok := idx.ByExternalID("m-2")
	require.True(t, ok)
	assert.Equal(t, "3", c.ID)

	require.Len(t, idx.Ambiguities, 1)
	assert.Equal(t, Ambiguity{ExternalID: "m-1", ContactIDs: []string{"1", "2"}}, idx.Ambiguities[0])

	_, ok = idx.ByExternalID("")
	assert.False(t, ok)
}

func TestBuild_ArchivedContactsExcluded(t *testing.T) {
	idx := Build([]model.ExternalContact{
		{ID: "1", Phone: "5555550100", ExternalID: "m-1", Archived: true},
		{ID: "2", Phone: "5555550100"},
	}, nil)

	assert.Equal(t, []string{"2"}, ids(idx.ByPhone("5555550100")))
	_, ok := idx.ByExternalID("m-1")
	assert.False(t, ok)
	_, ok = idx.Contact("1")
	assert.False(t, ok)
}

func TestLinkMemberships(t *testing.T) {
	idx := Build(nil, []model.Membership{
		{ID: "mb-1", Email: "ADA@uga.edu"},
		{ID: "mb-2", Phone: "555 555 0101"},
		{ID: "mb-3", Email: "shared@x.org"},
		{ID: "mb-4"},
	})
	idx.LinkMemberships([]model.Identity{
		{ID: "m1", Phone: "+15555550100", UGAEmail: "ada@uga.edu"},
		{ID: "m2", Phone: "+15555550101"},
		{ID: "m3", Phone: "+15555550102", PersonalEmail: "shared@x.org"},
		{ID: "m4", Phone: "+15555550103", PersonalEmail: "shared@x.org"},
		{ID: "m5", Phone: "+15555550104", MembershipID: "mb-4"},
	})

	got, ok := idx.IdentityForMembership("mb-1")
	require.True(t, ok)
	assert.Equal(t, "m1", got)

	got, ok = idx.IdentityForMembership("mb-2")
	require.True(t, ok)
	assert.Equal(t, "m2", got)

	_, ok = idx.IdentityForMembership("mb-3")
	assert.False(t, ok, "membership matching two identities links to neither")

	m, ok := idx.MembershipFor("m5")
	require.True(t, ok)
	assert.Equal(t, "mb-4", m.ID)

	_, ok = idx.MembershipFor("m3")
	assert.False(t, ok)
}
