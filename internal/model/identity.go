package model

import (
	"strconv"
	"time"
)

// Canonical identity field names. These are the keys used by the authority
// table, the change detector and change records.
const (
	FieldFirstName         = "first_name"
	FieldLastName          = "last_name"
	FieldPreferredName     = "preferred_name"
	FieldPhone             = "phone"
	FieldPersonalEmail     = "personal_email"
	FieldUGAEmail          = "uga_email"
	FieldGender            = "gender"
	FieldShirtSize         = "shirt_size"
	FieldExternalContactID = "external_contact_id"
	FieldMembershipID      = "membership_id"
	FieldSignedUp          = "signed_up"
	FieldSetupComplete     = "setup_complete"
	FieldTrainingComplete  = "training_complete"
	FieldFundraisingDone   = "fundraising_done"
	FieldAmountRaised      = "amount_raised"
	FieldStatusCategory    = "status_category"
	FieldUpdatedAt         = "updated_at"
	FieldLastSyncedAt      = "last_synced_at"
)

// Status categories drive the per-participant instructions in the export.
const (
	StatusNeedsSetup       = "needs_setup"
	StatusNeedsFundraising = "needs_fundraising"
	StatusNeedsTraining    = "needs_training"
	StatusComplete         = "complete"
	StatusDropped          = "dropped"
)

// Identity is the canonical record for one program participant. ID is the
// stable key across cycles; Phone is unique across identities.
type Identity struct {
	ID                string    `json:"id"`
	Phone             string    `json:"phone"`
	FirstName         string    `json:"first_name,omitempty"`
	LastName          string    `json:"last_name,omitempty"`
	PreferredName     string    `json:"preferred_name,omitempty"`
	PersonalEmail     string    `json:"personal_email,omitempty"`
	UGAEmail          string    `json:"uga_email,omitempty"`
	Gender            string    `json:"gender,omitempty"`
	ShirtSize         string    `json:"shirt_size,omitempty"`
	ExternalContactID string    `json:"external_contact_id,omitempty"`
	MembershipID      string    `json:"membership_id,omitempty"`
	SignedUp          bool      `json:"signed_up"`
	SetupComplete     bool      `json:"setup_complete"`
	TrainingComplete  bool      `json:"training_complete"`
	FundraisingDone   bool      `json:"fundraising_done"`
	AmountRaised      float64   `json:"amount_raised"`
	StatusCategory    string    `json:"status_category,omitempty"`
	Dropped           bool      `json:"dropped"`
	SubmittedAt       time.Time `json:"submitted_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	LastSyncedAt      time.Time `json:"last_synced_at"`
}

// Fields renders every field of the identity as a string keyed by field
// name. False booleans and zero amounts render empty so "both empty" means
// the same thing for every field type.
func (i Identity) Fields() map[string]string {
	return map[string]string{
		FieldFirstName:         i.FirstName,
		FieldLastName:          i.LastName,
		FieldPreferredName:     i.PreferredName,
		FieldPhone:             i.Phone,
		FieldPersonalEmail:     i.PersonalEmail,
		FieldUGAEmail:          i.UGAEmail,
		FieldGender:            i.Gender,
		FieldShirtSize:         i.ShirtSize,
		FieldExternalContactID: i.ExternalContactID,
		FieldMembershipID:      i.MembershipID,
		FieldSignedUp:          FormatBool(i.SignedUp),
		FieldSetupComplete:     FormatBool(i.SetupComplete),
		FieldTrainingComplete:  FormatBool(i.TrainingComplete),
		FieldFundraisingDone:   FormatBool(i.FundraisingDone),
		FieldAmountRaised:      FormatAmount(i.AmountRaised),
		FieldStatusCategory:    i.StatusCategory,
		FieldUpdatedAt:         formatTime(i.UpdatedAt),
		FieldLastSyncedAt:      formatTime(i.LastSyncedAt),
	}
}

// Set assigns a field from its string form. Unknown fields are ignored and
// reported as false.
func (i *Identity) Set(field, value string) bool {
	switch field {
	case FieldFirstName:
		i.FirstName = value
	case FieldLastName:
		i.LastName = value
	case FieldPreferredName:
		i.PreferredName = value
	case FieldPhone:
		i.Phone = value
	case FieldPersonalEmail:
		i.PersonalEmail = value
	case FieldUGAEmail:
		i.UGAEmail = value
	case FieldGender:
		i.Gender = value
	case FieldShirtSize:
		i.ShirtSize = value
	case FieldExternalContactID:
		i.ExternalContactID = value
	case FieldMembershipID:
		i.MembershipID = value
	case FieldSignedUp:
		i.SignedUp = value == "true"
	case FieldSetupComplete:
		i.SetupComplete = value == "true"
	case FieldTrainingComplete:
		i.TrainingComplete = value == "true"
	case FieldFundraisingDone:
		i.FundraisingDone = value == "true"
	case FieldAmountRaised:
		f, _ := strconv.ParseFloat(value, 64)
		i.AmountRaised = f
	case FieldStatusCategory:
		i.StatusCategory = value
	default:
		return false
	}
	return true
}

// FormatBool renders true as "true" and false as "".
func FormatBool(b bool) string {
	if b {
		return "true"
	}
	return ""
}

// FormatAmount renders a currency amount with two decimals, zero as "".
func FormatAmount(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
