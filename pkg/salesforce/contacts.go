package salesforce

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Custom fields the sync relies on. They must exist on the org's Contact and
// CampaignMember objects.
const (
	FieldMentorID = "SWAB_Mentor_ID__c"
	FieldArchived = "SWAB_Archived__c"
	FieldTags     = "SWAB_Tags__c"
	FieldRaised   = "SWAB_Amount_Raised__c"
	FieldGoal     = "SWAB_Goal__c"
	FieldDonors   = "SWAB_Donors__c"
)

// timeLayout is the REST API's datetime format.
const timeLayout = "2006-01-02T15:04:05.000-0700"

// Contact represents a Salesforce Contact record.
type Contact struct {
	ID               string `json:"Id" salesforce:"Id"`
	MentorID         string `json:"SWAB_Mentor_ID__c" salesforce:"SWAB_Mentor_ID__c"`
	FirstName        string `json:"FirstName" salesforce:"FirstName"`
	LastName         string `json:"LastName" salesforce:"LastName"`
	Phone            string `json:"MobilePhone" salesforce:"MobilePhone"`
	Email            string `json:"Email" salesforce:"Email"`
	AlternateEmail   string `json:"npe01__AlternateEmail__c" salesforce:"npe01__AlternateEmail__c"`
	MailingStreet    string `json:"MailingStreet" salesforce:"MailingStreet"`
	Tags             string `json:"SWAB_Tags__c" salesforce:"SWAB_Tags__c"`
	Archived         bool   `json:"SWAB_Archived__c" salesforce:"SWAB_Archived__c"`
	CreatedDate      string `json:"CreatedDate" salesforce:"CreatedDate"`
	LastModifiedDate string `json:"LastModifiedDate" salesforce:"LastModifiedDate"`
}

// TagList splits the semicolon-separated tag picklist.
func (c Contact) TagList() []string {
	var out []string
	for _, t := range strings.Split(c.Tags, ";") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// CampaignMember represents a Salesforce CampaignMember record.
type CampaignMember struct {
	ID        string  `json:"Id" salesforce:"Id"`
	ContactID string  `json:"ContactId" salesforce:"ContactId"`
	FirstName string  `json:"FirstName" salesforce:"FirstName"`
	LastName  string  `json:"LastName" salesforce:"LastName"`
	Email     string  `json:"Email" salesforce:"Email"`
	Phone     string  `json:"MobilePhone" salesforce:"MobilePhone"`
	Raised    float64 `json:"SWAB_Amount_Raised__c" salesforce:"SWAB_Amount_Raised__c"`
	Goal      float64 `json:"SWAB_Goal__c" salesforce:"SWAB_Goal__c"`
	Donors    float64 `json:"SWAB_Donors__c" salesforce:"SWAB_Donors__c"`
}

var contactFields = []string{
	"Id", FieldMentorID, "FirstName", "LastName", "MobilePhone", "Email",
	"npe01__AlternateEmail__c", "MailingStreet", FieldTags, FieldArchived,
	"CreatedDate", "LastModifiedDate",
}

var memberFields = []string{
	"Id", "ContactId", "FirstName", "LastName", "Email", "MobilePhone",
	FieldRaised, FieldGoal, FieldDonors,
}

// ListContacts returns every contact not archived by the sync.
func ListContacts(ctx context.Context, c Client) ([]Contact, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Contact WHERE %s = false ORDER BY Id",
		strings.Join(contactFields, ", "),
		FieldArchived,
	)
	var contacts []Contact
	if err := c.Query(ctx, soql, &contacts); err != nil {
		return nil, eris.Wrap(err, "sf: list contacts")
	}
	return contacts, nil
}

// ListCampaignMembers returns the members of a campaign.
func ListCampaignMembers(ctx context.Context, c Client, campaignID string) ([]CampaignMember, error) {
	if campaignID == "" {
		return nil, eris.New("sf: campaign id is required")
	}
	soql := fmt.Sprintf(
		"SELECT %s FROM CampaignMember WHERE CampaignId = '%s' ORDER BY Id",
		strings.Join(memberFields, ", "),
		escapeSoql(campaignID),
	)
	var members []CampaignMember
	if err := c.Query(ctx, soql, &members); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: list members of campaign %s", campaignID))
	}
	return members, nil
}

// SetArchived flags or unflags a contact as an archived duplicate.
// Salesforce has no native contact archival, so the sync owns a checkbox.
func SetArchived(ctx context.Context, c Client, contactID string, archived bool) error {
	if contactID == "" {
		return eris.New("sf: contact id is required")
	}
	if err := c.UpdateOne(ctx, "Contact", contactID, map[string]any{FieldArchived: archived}); err != nil {
		return eris.Wrap(err, fmt.Sprintf("sf: set archived=%t on contact %s", archived, contactID))
	}
	return nil
}

// CheckSchema verifies the custom fields the sync writes and reads exist.
func CheckSchema(ctx context.Context, c Client) error {
	want := map[string][]string{
		"Contact":        {FieldMentorID, FieldArchived, FieldTags},
		"CampaignMember": {FieldRaised, FieldGoal, FieldDonors},
	}
	for _, obj := range []string{"Contact", "CampaignMember"} {
		desc, err := c.DescribeSObject(ctx, obj)
		if err != nil {
			return err
		}
		var missing []string
		for _, f := range want[obj] {
			if !desc.HasField(f) {
				missing = append(missing, f)
			}
		}
		if len(missing) > 0 {
			return eris.Errorf("sf: %s is missing fields %s", obj, strings.Join(missing, ", "))
		}
	}
	return nil
}

// ParseTime parses an API datetime. Empty input yields the zero time.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sf: parse time %q", s)
	}
	return t.UTC(), nil
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
