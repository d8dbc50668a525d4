package crm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/SWAB-ITO/swab-app-sub000/pkg/givebutter"
	"github.com/SWAB-ITO/swab-app-sub000/pkg/salesforce"
)

type mockGivebutter struct{ mock.Mock }

func (m *mockGivebutter) Contacts(ctx context.Context) ([]givebutter.Contact, error) {
	args := m.Called(ctx)
	return args.Get(0).([]givebutter.Contact), args.Error(1)
}

func (m *mockGivebutter) Members(ctx context.Context, campaignID string) ([]givebutter.Member, error) {
	args := m.Called(ctx, campaignID)
	return args.Get(0).([]givebutter.Member), args.Error(1)
}

func (m *mockGivebutter) ArchiveContact(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockGivebutter) RestoreContact(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockGivebutter) Ping(ctx context.Context) error { return m.Called(ctx).Error(0) }

func TestGivebutter_Contacts(t *testing.T) {
	archived := "2025-01-01T00:00:00Z"
	updated := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	gb := &mockGivebutter{}
	gb.On("Contacts", mock.Anything).Return([]givebutter.Contact{
		{
			ID: 555, ExternalID: "1001", PrimaryPhone: "7065550100", PrimaryEmail: "ada@example.com",
			Emails:    []givebutter.Value{{Value: "ada@example.com"}, {Value: "ada@uga.edu"}},
			Addresses: []givebutter.Address{{Address1: "1 Main St"}},
			Tags:      []string{"Mentors 2025"},
			UpdatedAt: updated,
		},
		{ID: 556, ArchivedAt: &archived},
	}, nil)

	got, err := NewGivebutter(gb).Contacts(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "555", got[0].ID)
	assert.Equal(t, "1001", got[0].ExternalID)
	assert.Equal(t, "ada@uga.edu", got[0].SecondaryEmail)
	assert.True(t, got[0].HasAddress)
	assert.Equal(t, updated, got[0].LastModified)
	assert.True(t, got[1].Archived)
	gb.AssertExpectations(t)
}

func TestGivebutter_MembersAndMutations(t *testing.T) {
	gb := &mockGivebutter{}
	gb.On("Members", mock.Anything, "CQVG3W").Return([]givebutter.Member{
		{ID: 7, ContactID: 555, Raised: 80, Goal: 75, Donors: 3},
		{ID: 8},
	}, nil)
	gb.On("ArchiveContact", mock.Anything, "556").Return(nil)
	gb.On("RestoreContact", mock.Anything, "556").Return(nil)

	p := NewGivebutter(gb)
	members, err := p.Members(context.Background(), "CQVG3W")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "7", members[0].ID)
	assert.Equal(t, "555", members[0].ContactID)
	assert.Empty(t, members[1].ContactID)

	require.NoError(t, p.ArchiveContact(context.Background(), "556"))
	require.NoError(t, p.RestoreContact(context.Background(), "556"))
	assert.Equal(t, "givebutter", p.Name())
	gb.AssertExpectations(t)
}

type fakeSF struct {
	contacts []salesforce.Contact
	members  []salesforce.CampaignMember
	updates  []map[string]any
}

func (f *fakeSF) Query(_ context.Context, _ string, out any) error {
	switch v := out.(type) {
	case *[]salesforce.Contact:
		*v = f.contacts
	case *[]salesforce.CampaignMember:
		*v = f.members
	}
	return nil
}

func (f *fakeSF) UpdateOne(_ context.Context, _ string, _ string, fields map[string]any) error {
	f.updates = append(f.updates, fields)
	return nil
}

func (f *fakeSF) DescribeSObject(_ context.Context, name string) (*salesforce.SObjectDescription, error) {
	return &salesforce.SObjectDescription{Name: name}, nil
}

func TestSalesforce_Adapter(t *testing.T) {
	sf := &fakeSF{
		contacts: []salesforce.Contact{{
			ID: "003a", MentorID: "1001", Tags: "Mentors 2025;retired",
			LastModifiedDate: "2025-06-02T03:04:05.000+0000",
		}},
		members: []salesforce.CampaignMember{{ID: "00v1", ContactID: "003a", Raised: 80, Donors: 2}},
	}
	p := NewSalesforce(sf)

	contacts, err := p.Contacts(context.Background())
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "1001", contacts[0].ExternalID)
	assert.True(t, contacts[0].HasTag("RETIRED"))
	assert.Equal(t, 2025, contacts[0].LastModified.Year())

	members, err := p.Members(context.Background(), "701x")
	require.NoError(t, err)
	assert.Equal(t, 2, members[0].Donors)

	require.NoError(t, p.ArchiveContact(context.Background(), "003a"))
	require.NoError(t, p.RestoreContact(context.Background(), "003a"))
	assert.Equal(t, []map[string]any{{salesforce.FieldArchived: true}, {salesforce.FieldArchived: false}}, sf.updates)

	assert.Error(t, p.Ping(context.Background()), "schema without custom fields fails the check")
}

func TestSalesforce_BadTimestamp(t *testing.T) {
	sf := &fakeSF{contacts: []salesforce.Contact{{ID: "003a", CreatedDate: "not a time"}}}
	_, err := NewSalesforce(sf).Contacts(context.Background())
	assert.ErrorContains(t, err, "003a")
}
