package model

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Source names a system of record a value can come from.
type Source string

// Known sources, in no particular order. Authority order lives in the
// authority table, not here.
const (
	SourceIntakeSignup Source = "intake_signup"
	SourceIntakeSetup  Source = "intake_setup"
	SourceCRM          Source = "crm"
	SourceMembership   Source = "membership"
	SourceRegistry     Source = "registry"
	SourceOperator     Source = "operator"
)

// ExternalContact is one contact in the donor/CRM platform. Duplicates of the
// same person are expected.
type ExternalContact struct {
	ID             string    `json:"id"`
	ExternalID     string    `json:"external_id,omitempty"`
	FirstName      string    `json:"first_name,omitempty"`
	LastName       string    `json:"last_name,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	PrimaryEmail   string    `json:"primary_email,omitempty"`
	SecondaryEmail string    `json:"secondary_email,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	HasAddress     bool      `json:"has_address"`
	MembershipID   string    `json:"membership_id,omitempty"`
	Archived       bool      `json:"archived"`
	CreatedAt      time.Time `json:"created_at"`
	LastModified   time.Time `json:"last_modified"`
}

// HasTag reports whether the contact carries tag, ignoring case.
func (c ExternalContact) HasTag(tag string) bool {
	if tag == "" {
		return false
	}
	return slices.ContainsFunc(c.Tags, func(t string) bool {
		return strings.EqualFold(strings.TrimSpace(t), tag)
	})
}

// Emails returns the non-empty primary and secondary emails in that order.
func (c ExternalContact) Emails() []string {
	var out []string
	if c.PrimaryEmail != "" {
		out = append(out, c.PrimaryEmail)
	}
	if c.SecondaryEmail != "" && c.SecondaryEmail != c.PrimaryEmail {
		out = append(out, c.SecondaryEmail)
	}
	return out
}

// Membership is a fundraising campaign member page. It links a participant to
// the campaign independently of any CRM contact.
type Membership struct {
	ID        string    `json:"id"`
	ContactID string    `json:"contact_id,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Raised    float64   `json:"raised"`
	Goal      float64   `json:"goal"`
	Donors    int       `json:"donors"`
	URL       string    `json:"url,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IntakeSubmission is one normalized forms-intake submission.
type IntakeSubmission struct {
	SubmissionID  string    `json:"submission_id"`
	FormID        string    `json:"form_id"`
	Source        Source    `json:"source"`
	MentorID      string    `json:"mentor_id,omitempty"`
	FirstName     string    `json:"first_name,omitempty"`
	LastName      string    `json:"last_name,omitempty"`
	PreferredName string    `json:"preferred_name,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	PersonalEmail string    `json:"personal_email,omitempty"`
	UGAEmail      string    `json:"uga_email,omitempty"`
	Gender        string    `json:"gender,omitempty"`
	ShirtSize     string    `json:"shirt_size,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at"`

	// Placeholder is set when MentorID was assigned during validation.
	Placeholder bool `json:"placeholder,omitempty"`
}

// CompareIDs orders external ids numerically when both parse as integers and
// lexically otherwise. It returns -1, 0 or +1.
func CompareIDs(a, b string) int {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		return cmp.Compare(ai, bi)
	}
	return strings.Compare(a, b)
}
