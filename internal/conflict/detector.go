// Package conflict decides when an ambiguous match or field disagreement can
// be settled automatically and records the rest for operator review.
package conflict

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
	"github.com/SWAB-ITO/swab-app-sub000/internal/normalize"
	"github.com/SWAB-ITO/swab-app-sub000/internal/scorer"
)

// Config tunes the auto-resolve thresholds.
type Config struct {
	// AutoResolveGap is the score lead above which the top candidate wins
	// without review.
	AutoResolveGap int
	// StaleAfter is how much newer an intake submission must be than a CRM
	// record before intake wins a field disagreement without review.
	StaleAfter time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// Detector builds conflict records. It is safe for concurrent use.
type Detector struct {
	cfg Config
}

// NewDetector creates a Detector.
func NewDetector(cfg Config) *Detector {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Detector{cfg: cfg}
}

// Selection is the outcome of choosing among duplicate candidates. Exactly
// one of Winner and Conflict is set for two or more candidates.
type Selection struct {
	Winner   *scorer.Scored
	Losers   []string
	Gap      int
	Conflict *model.Conflict
}

// ContactSelection settles duplicate candidates ranked best first. A lead
// above the auto-resolve gap picks the top candidate; anything closer becomes
// a high-severity conflict between the top two.
func (d *Detector) ContactSelection(subjectID string, ranked []scorer.Scored) Selection {
	switch len(ranked) {
	case 0:
		return Selection{}
	case 1:
		return Selection{Winner: &ranked[0]}
	}

	top, second := ranked[0], ranked[1]
	gap := top.Score - second.Score
	if gap > d.cfg.AutoResolveGap {
		losers := make([]string, 0, len(ranked)-1)
		for _, r := range ranked[1:] {
			losers = append(losers, r.Contact.ID)
		}
		return Selection{Winner: &ranked[0], Losers: losers, Gap: gap}
	}

	recommended := model.OptionA
	if gap == 0 {
		recommended = model.OptionNone
	}

	candidates := make([]model.Candidate, len(ranked))
	for i, r := range ranked {
		candidates[i] = candidateOf(r)
	}

	c := d.newConflict(subjectID, model.ConflictContactSelection, model.SeverityHigh)
	c.OptionA = contactOption(top)
	c.OptionB = contactOption(second)
	c.Recommended = recommended
	c.Payload = model.ContactSelectionPayload{
		Candidates:    candidates,
		ScoreGap:      gap,
		Justification: d.justify(top, second, gap),
	}
	return Selection{Gap: gap, Conflict: c}
}

// Field names accepted by FieldMismatch.
const (
	MismatchPhone = model.FieldPhone
	MismatchEmail = "email"
)

// Mismatch is the outcome of comparing an identifier-matched contact with
// intake.
type Mismatch struct {
	Differs      bool
	AutoResolved bool
	Conflict     *model.Conflict
}

// FieldMismatch compares the phone or email of an identifier-matched contact
// against the participant's intake values. Missing values on either side
// never disagree. Intake wins automatically when it is more than StaleAfter
// newer than the contact's last modification. Subjects without an intake
// submission are never compared.
func (d *Detector) FieldMismatch(field string, subject model.Identity, c *model.ExternalContact) Mismatch {
	var (
		intakeValue, recordValue string
		differs                  bool
		conflictType             model.ConflictType
	)
	switch field {
	case MismatchPhone:
		intakeValue = normalize.Phone(subject.Phone)
		recordValue = normalize.Phone(c.Phone)
		differs = intakeValue != "" && recordValue != "" && intakeValue != recordValue
		conflictType = model.ConflictPhoneMismatch
	case MismatchEmail:
		intake := nonEmpty(normalize.Email(subject.PersonalEmail), normalize.Email(subject.UGAEmail))
		record := nonEmpty(normalize.Email(c.PrimaryEmail), normalize.Email(c.SecondaryEmail))
		if len(intake) > 0 && len(record) > 0 {
			intakeValue, recordValue = intake[0], record[0]
			differs = !slices.ContainsFunc(intake, func(e string) bool { return slices.Contains(record, e) })
		}
		conflictType = model.ConflictEmailMismatch
	default:
		return Mismatch{}
	}
	// Without an intake submission there is nothing to compare against.
	if !differs || subject.SubmittedAt.IsZero() {
		return Mismatch{}
	}

	if subject.SubmittedAt.Sub(c.LastModified) > d.cfg.StaleAfter {
		return Mismatch{Differs: true, AutoResolved: true}
	}

	now := d.cfg.Now()
	fm := model.FieldMismatch{
		ContactID:     c.ID,
		IntakeValue:   intakeValue,
		RecordValue:   recordValue,
		IntakeAgeDays: ageDays(now, subject.SubmittedAt),
		RecordAgeDays: ageDays(now, c.LastModified),
	}

	cf := d.newConflict(subject.ID, conflictType, model.SeverityMedium)
	cf.OptionA = model.Option{
		Value:    intakeValue,
		Source:   model.SourceIntakeSignup,
		Metadata: map[string]string{"age_days": fmt.Sprint(fm.IntakeAgeDays)},
	}
	cf.OptionB = model.Option{
		Value:    recordValue,
		Source:   model.SourceCRM,
		Metadata: map[string]string{"age_days": fmt.Sprint(fm.RecordAgeDays), "contact_id": c.ID},
	}
	cf.Recommended = model.OptionA
	if c.LastModified.After(subject.SubmittedAt) {
		cf.Recommended = model.OptionB
	}
	if conflictType == model.ConflictPhoneMismatch {
		cf.Payload = model.PhoneMismatchPayload{FieldMismatch: fm}
	} else {
		cf.Payload = model.EmailMismatchPayload{FieldMismatch: fm}
	}
	return Mismatch{Differs: true, Conflict: cf}
}

// Collision records two identities resolving to the same contact. It is
// never settled automatically. holder is the identity already linked to the
// contact, if any.
func (d *Detector) Collision(contactID, holder, other string) *model.Conflict {
	c := d.newConflict(other, model.ConflictExternalIDCollision, model.SeverityHigh)
	c.OptionA = model.Option{Value: holder, Source: model.SourceRegistry, Metadata: map[string]string{"contact_id": contactID}}
	c.OptionB = model.Option{Value: other, Source: model.SourceRegistry, Metadata: map[string]string{"contact_id": contactID}}
	c.Recommended = model.OptionNone
	c.Payload = model.CollisionPayload{ContactID: contactID, IdentityIDs: []string{holder, other}}
	return c
}

func (d *Detector) newConflict(subjectID string, t model.ConflictType, sev model.Severity) *model.Conflict {
	return &model.Conflict{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		Type:      t,
		Severity:  sev,
		Status:    model.ConflictPending,
		CreatedAt: d.cfg.Now().UTC(),
	}
}

func (d *Detector) justify(a, b scorer.Scored, gap int) string {
	now := d.cfg.Now()
	var sb strings.Builder
	fmt.Fprintf(&sb, "Contact %s scores %d and contact %s scores %d; a gap of %d is within the %d-point review threshold.",
		a.Contact.ID, a.Score, b.Contact.ID, b.Score, gap, d.cfg.AutoResolveGap)

	shared, onlyA, onlyB := tagOverlap(a.Contact.Tags, b.Contact.Tags)
	if len(shared) > 0 {
		fmt.Fprintf(&sb, " Both are tagged %s.", strings.Join(shared, ", "))
	}
	if len(onlyA) > 0 {
		fmt.Fprintf(&sb, " Only %s is tagged %s.", a.Contact.ID, strings.Join(onlyA, ", "))
	}
	if len(onlyB) > 0 {
		fmt.Fprintf(&sb, " Only %s is tagged %s.", b.Contact.ID, strings.Join(onlyB, ", "))
	}

	ca, cb := a.Breakdown.Completeness(), b.Breakdown.Completeness()
	if len(ca) != len(cb) {
		more, fewer := a, b
		if len(cb) > len(ca) {
			more, fewer = b, a
		}
		fmt.Fprintf(&sb, " %s has %d contact fields filled to %s's %d.",
			more.Contact.ID, len(more.Breakdown.Completeness()), fewer.Contact.ID, len(fewer.Breakdown.Completeness()))
	}

	switch {
	case a.Contact.MembershipID != "" && b.Contact.MembershipID == "":
		fmt.Fprintf(&sb, " Only %s is linked to a campaign membership.", a.Contact.ID)
	case b.Contact.MembershipID != "" && a.Contact.MembershipID == "":
		fmt.Fprintf(&sb, " Only %s is linked to a campaign membership.", b.Contact.ID)
	}

	fmt.Fprintf(&sb, " Last modified %d and %d days ago.", ageDays(now, a.Contact.LastModified), ageDays(now, b.Contact.LastModified))
	return sb.String()
}

func candidateOf(s scorer.Scored) model.Candidate {
	return model.Candidate{
		ContactID:    s.Contact.ID,
		Score:        s.Score,
		Tags:         slices.Clone(s.Contact.Tags),
		LastModified: s.Contact.LastModified,
		Completeness: s.Breakdown.Completeness(),
		MembershipID: s.Contact.MembershipID,
	}
}

func contactOption(s scorer.Scored) model.Option {
	md := map[string]string{
		"score":         fmt.Sprint(s.Score),
		"tags":          strings.Join(s.Contact.Tags, ","),
		"completeness":  strings.Join(s.Breakdown.Completeness(), ","),
		"last_modified": s.Contact.LastModified.UTC().Format(time.RFC3339),
	}
	if s.Contact.MembershipID != "" {
		md["membership_id"] = s.Contact.MembershipID
	}
	return model.Option{Value: s.Contact.ID, Source: model.SourceCRM, Metadata: md}
}

func tagOverlap(a, b []string) (shared, onlyA, onlyB []string) {
	norm := func(tags []string) map[string]string {
		m := make(map[string]string, len(tags))
		for _, t := range tags {
			if t = strings.TrimSpace(t); t != "" {
				m[strings.ToLower(t)] = t
			}
		}
		return m
	}
	ma, mb := norm(a), norm(b)
	for k, v := range ma {
		if _, ok := mb[k]; ok {
			shared = append(shared, v)
		} else {
			onlyA = append(onlyA, v)
		}
	}
	for k, v := range mb {
		if _, ok := ma[k]; !ok {
			onlyB = append(onlyB, v)
		}
	}
	slices.Sort(shared)
	slices.Sort(onlyA)
	slices.Sort(onlyB)
	return shared, onlyA, onlyB
}

func ageDays(now, t time.Time) int {
	if t.IsZero() {
		return -1
	}
	d := int(now.Sub(t).Hours() / 24)
	return max(0, d)
}

func nonEmpty(vals ...string) []string {
	out := vals[:0:0]
	for _, v := range vals {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
