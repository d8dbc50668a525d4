package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ConflictType identifies the payload variant of a conflict.
type ConflictType string

// Conflict types.
const (
	ConflictContactSelection    ConflictType = "contact_selection"
	ConflictPhoneMismatch       ConflictType = "phone_mismatch"
	ConflictEmailMismatch       ConflictType = "email_mismatch"
	ConflictExternalIDCollision ConflictType = "external_id_collision"
)

// Severity grades conflicts and issues.
type Severity string

// Severities.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityWarning  Severity = "warning"
)

// ConflictStatus is the review state of a conflict. The only transitions are
// pending → resolved and pending → skipped.
type ConflictStatus string

// Conflict statuses.
const (
	ConflictPending  ConflictStatus = "pending"
	ConflictResolved ConflictStatus = "resolved"
	ConflictSkipped  ConflictStatus = "skipped"
)

// OptionKey names one side of a conflict.
type OptionKey string

// Option keys. OptionNone is used for recommendations on an exact tie.
const (
	OptionA    OptionKey = "a"
	OptionB    OptionKey = "b"
	OptionNone OptionKey = ""
)

// Option is one side of a conflict.
type Option struct {
	Value    string            `json:"value"`
	Source   Source            `json:"source"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// DecisionKind is how an operator resolved a conflict.
type DecisionKind string

// Decision kinds.
const (
	DecideOptionA DecisionKind = "option_a"
	DecideOptionB DecisionKind = "option_b"
	DecideCustom  DecisionKind = "custom"
)

// Decision is the operator's resolution of a conflict.
type Decision struct {
	Kind  DecisionKind `json:"kind"`
	Value string       `json:"value,omitempty"`
	By    string       `json:"by,omitempty"`
}

// ConflictPayload is the closed set of conflict-specific payloads. Only the
// four types in this package implement it.
type ConflictPayload interface {
	ConflictType() ConflictType
	sealed()
}

// Candidate summarizes one external contact offered in a selection conflict.
type Candidate struct {
	ContactID    string    `json:"contact_id"`
	Score        int       `json:"score"`
	Tags         []string  `json:"tags,omitempty"`
	LastModified time.Time `json:"last_modified"`
	Completeness []string  `json:"completeness,omitempty"`
	MembershipID string    `json:"membership_id,omitempty"`
}

// ContactSelectionPayload records duplicate candidates whose scores were too
// close to pick automatically.
type ContactSelectionPayload struct {
	Candidates    []Candidate `json:"candidates"`
	ScoreGap      int         `json:"score_gap"`
	Justification string      `json:"justification"`
}

// FieldMismatch is the shared shape of the contact-field mismatch payloads.
type FieldMismatch struct {
	ContactID     string `json:"contact_id"`
	IntakeValue   string `json:"intake_value"`
	RecordValue   string `json:"record_value"`
	IntakeAgeDays int    `json:"intake_age_days"`
	RecordAgeDays int    `json:"record_age_days"`
}

// PhoneMismatchPayload records an identifier-matched contact whose phone
// disagrees with intake.
type PhoneMismatchPayload struct {
	FieldMismatch
}

// EmailMismatchPayload records an identifier-matched contact whose email
// disagrees with intake.
type EmailMismatchPayload struct {
	FieldMismatch
}

// CollisionPayload records two canonical identities resolving to the same
// external contact.
type CollisionPayload struct {
	ContactID   string   `json:"contact_id"`
	IdentityIDs []string `json:"identity_ids"`
}

func (ContactSelectionPayload) ConflictType() ConflictType { return ConflictContactSelection }
func (PhoneMismatchPayload) ConflictType() ConflictType    { return ConflictPhoneMismatch }
func (EmailMismatchPayload) ConflictType() ConflictType    { return ConflictEmailMismatch }
func (CollisionPayload) ConflictType() ConflictType        { return ConflictExternalIDCollision }

func (ContactSelectionPayload) sealed() {}
func (PhoneMismatchPayload) sealed()    {}
func (EmailMismatchPayload) sealed()    {}
func (CollisionPayload) sealed()        {}

// Conflict is a persisted, human-reviewable decision.
type Conflict struct {
	ID          string          `json:"id"`
	RunID       string          `json:"run_id"`
	SubjectID   string          `json:"subject_id"`
	Type        ConflictType    `json:"type"`
	OptionA     Option          `json:"option_a"`
	OptionB     Option          `json:"option_b"`
	Recommended OptionKey       `json:"recommended"`
	Severity    Severity        `json:"severity"`
	Status      ConflictStatus  `json:"status"`
	Decision    *Decision       `json:"decision,omitempty"`
	Payload     ConflictPayload `json:"-"`
	CreatedAt   time.Time       `json:"created_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}

// DedupeKey identifies a conflict across runs so an unchanged disagreement is
// raised only once.
func (c Conflict) DedupeKey() string {
	return strings.Join([]string{string(c.Type), c.SubjectID, c.OptionA.Value, c.OptionB.Value}, "|")
}

// Chosen returns the value selected by d.
func (c Conflict) Chosen(d Decision) (string, error) {
	switch d.Kind {
	case DecideOptionA:
		return c.OptionA.Value, nil
	case DecideOptionB:
		return c.OptionB.Value, nil
	case DecideCustom:
		v := strings.TrimSpace(d.Value)
		if v == "" {
			return "", eris.New("conflict: custom decision requires a value")
		}
		return v, nil
	default:
		return "", eris.Errorf("conflict: unknown decision kind %q", d.Kind)
	}
}

// MarshalPayload encodes a conflict payload for storage.
func MarshalPayload(p ConflictPayload) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, eris.Wrapf(err, "conflict: marshal %s payload", p.ConflictType())
	}
	return data, nil
}

// UnmarshalPayload decodes a stored payload for the given conflict type.
func UnmarshalPayload(t ConflictType, data []byte) (ConflictPayload, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var (
		p   ConflictPayload
		err error
	)
	switch t {
	case ConflictContactSelection:
		var v ContactSelectionPayload
		err = json.Unmarshal(data, &v)
		p = v
	case ConflictPhoneMismatch:
		var v PhoneMismatchPayload
		err = json.Unmarshal(data, &v)
		p = v
	case ConflictEmailMismatch:
		var v EmailMismatchPayload
		err = json.Unmarshal(data, &v)
		p = v
	case ConflictExternalIDCollision:
		var v CollisionPayload
		err = json.Unmarshal(data, &v)
		p = v
	default:
		return nil, eris.Errorf("conflict: unknown type %q", t)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "conflict: unmarshal %s payload", t)
	}
	return p, nil
}
