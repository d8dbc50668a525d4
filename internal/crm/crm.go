// Package crm adapts the supported donor CRMs to the contact and membership
// shapes the reconciliation pipeline works with.
package crm

import (
	"context"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
	"github.com/SWAB-ITO/swab-app-sub000/pkg/givebutter"
	"github.com/SWAB-ITO/swab-app-sub000/pkg/salesforce"
)

// Provider is one CRM backend.
type Provider interface {
	Name() string
	Contacts(ctx context.Context) ([]model.ExternalContact, error)
	Members(ctx context.Context, campaignID string) ([]model.Membership, error)
	ArchiveContact(ctx context.Context, contactID string) error
	RestoreContact(ctx context.Context, contactID string) error
	Ping(ctx context.Context) error
}

// Givebutter adapts the Givebutter client.
type Givebutter struct {
	client givebutter.Client
}

// NewGivebutter wraps a Givebutter client.
func NewGivebutter(c givebutter.Client) *Givebutter {
	return &Givebutter{client: c}
}

// Name implements Provider.
func (g *Givebutter) Name() string { return "givebutter" }

// Contacts implements Provider.
func (g *Givebutter) Contacts(ctx context.Context) ([]model.ExternalContact, error) {
	raw, err := g.client.Contacts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.ExternalContact, 0, len(raw))
	for _, c := range raw {
		out = append(out, model.ExternalContact{
			ID:             strconv.FormatInt(c.ID, 10),
			ExternalID:     c.ExternalID,
			FirstName:      c.FirstName,
			LastName:       c.LastName,
			Phone:          c.PrimaryPhone,
			PrimaryEmail:   c.PrimaryEmail,
			SecondaryEmail: c.SecondaryEmail(),
			Tags:           c.Tags,
			HasAddress:     len(c.Addresses) > 0 && c.Addresses[0].Address1 != "",
			Archived:       c.ArchivedAt != nil,
			CreatedAt:      c.CreatedAt,
			LastModified:   c.UpdatedAt,
		})
	}
	return out, nil
}

// Members implements Provider.
func (g *Givebutter) Members(ctx context.Context, campaignID string) ([]model.Membership, error) {
	raw, err := g.client.Members(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Membership, 0, len(raw))
	for _, m := range raw {
		mb := model.Membership{
			ID:        strconv.FormatInt(m.ID, 10),
			FirstName: m.FirstName,
			LastName:  m.LastName,
			Email:     m.Email,
			Phone:     m.Phone,
			Raised:    m.Raised,
			Goal:      m.Goal,
			Donors:    m.Donors,
			URL:       m.URL,
		}
		if m.ContactID != 0 {
			mb.ContactID = strconv.FormatInt(m.ContactID, 10)
		}
		out = append(out, mb)
	}
	return out, nil
}

// ArchiveContact implements Provider.
func (g *Givebutter) ArchiveContact(ctx context.Context, id string) error {
	return g.client.ArchiveContact(ctx, id)
}

// RestoreContact implements Provider.
func (g *Givebutter) RestoreContact(ctx context.Context, id string) error {
	return g.client.RestoreContact(ctx, id)
}

// Ping implements Provider.
func (g *Givebutter) Ping(ctx context.Context) error { return g.client.Ping(ctx) }

// Salesforce adapts the Salesforce client.
type Salesforce struct {
	client salesforce.Client
}

// NewSalesforce wraps a Salesforce client.
func NewSalesforce(c salesforce.Client) *Salesforce {
	return &Salesforce{client: c}
}

// Name implements Provider.
func (s *Salesforce) Name() string { return "salesforce" }

// Contacts implements Provider.
func (s *Salesforce) Contacts(ctx context.Context) ([]model.ExternalContact, error) {
	raw, err := salesforce.ListContacts(ctx, s.client)
	if err != nil {
		return nil, err
	}
	out := make([]model.ExternalContact, 0, len(raw))
	for _, c := range raw {
		created, err := salesforce.ParseTime(c.CreatedDate)
		if err != nil {
			return nil, eris.Wrapf(err, "crm: contact %s", c.ID)
		}
		modified, err := salesforce.ParseTime(c.LastModifiedDate)
		if err != nil {
			return nil, eris.Wrapf(err, "crm: contact %s", c.ID)
		}
		out = append(out, model.ExternalContact{
			ID:             c.ID,
			ExternalID:     c.MentorID,
			FirstName:      c.FirstName,
			LastName:       c.LastName,
			Phone:          c.Phone,
			PrimaryEmail:   c.Email,
			SecondaryEmail: c.AlternateEmail,
			Tags:           c.TagList(),
			HasAddress:     c.MailingStreet != "",
			Archived:       c.Archived,
			CreatedAt:      created,
			LastModified:   modified,
		})
	}
	return out, nil
}

// Members implements Provider.
func (s *Salesforce) Members(ctx context.Context, campaignID string) ([]model.Membership, error) {
	raw, err := salesforce.ListCampaignMembers(ctx, s.client, campaignID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Membership, 0, len(raw))
	for _, m := range raw {
		out = append(out, model.Membership{
			ID:        m.ID,
			ContactID: m.ContactID,
			FirstName: m.FirstName,
			LastName:  m.LastName,
			Email:     m.Email,
			Phone:     m.Phone,
			Raised:    m.Raised,
			Goal:      m.Goal,
			Donors:    int(m.Donors),
		})
	}
	return out, nil
}

// ArchiveContact implements Provider.
func (s *Salesforce) ArchiveContact(ctx context.Context, id string) error {
	return salesforce.SetArchived(ctx, s.client, id, true)
}

// RestoreContact implements Provider.
func (s *Salesforce) RestoreContact(ctx context.Context, id string) error {
	return salesforce.SetArchived(ctx, s.client, id, false)
}

// Ping implements Provider by checking the custom fields the sync needs.
func (s *Salesforce) Ping(ctx context.Context) error {
	return salesforce.CheckSchema(ctx, s.client)
}
