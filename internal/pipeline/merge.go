package pipeline

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/SWAB-ITO/swab-app-sub000/internal/authority"
	"github.com/SWAB-ITO/swab-app-sub000/internal/matcher"
	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
	"github.com/SWAB-ITO/swab-app-sub000/internal/store"
)

// mergeFields are resolved in this order. status_category comes last since
// its derived value depends on the others.
var mergeFields = []string{
	model.FieldFirstName, model.FieldLastName, model.FieldPreferredName,
	model.FieldPhone, model.FieldPersonalEmail, model.FieldUGAEmail,
	model.FieldGender, model.FieldShirtSize,
	model.FieldExternalContactID, model.FieldMembershipID,
	model.FieldSignedUp, model.FieldSetupComplete, model.FieldTrainingComplete,
	model.FieldFundraisingDone, model.FieldAmountRaised,
}

// candidates holds each source's value per field.
type candidates map[string]map[model.Source]string

func (c candidates) add(src model.Source, values map[string]string) {
	for field, v := range values {
		if v == "" {
			continue
		}
		m := c[field]
		if m == nil {
			m = make(map[model.Source]string)
			c[field] = m
		}
		m[src] = v
	}
}

func intakeValues(r model.IntakeSubmission) map[string]string {
	return map[string]string{
		model.FieldFirstName:     r.FirstName,
		model.FieldLastName:      r.LastName,
		model.FieldPreferredName: r.PreferredName,
		model.FieldPhone:         r.Phone,
		model.FieldPersonalEmail: r.PersonalEmail,
		model.FieldUGAEmail:      r.UGAEmail,
		model.FieldGender:        r.Gender,
		model.FieldShirtSize:     r.ShirtSize,
	}
}

// membershipValues derives fundraising state from a campaign member page.
// The member's own goal applies when set, else the year's goal.
func membershipValues(m *model.Membership, yearGoal float64) map[string]string {
	goal := m.Goal
	if goal <= 0 {
		goal = yearGoal
	}
	return map[string]string{
		model.FieldMembershipID:    m.ID,
		model.FieldPersonalEmail:   m.Email,
		model.FieldSetupComplete:   model.FormatBool(true),
		model.FieldAmountRaised:    model.FormatAmount(m.Raised),
		model.FieldFundraisingDone: model.FormatBool(goal > 0 && m.Raised >= goal),
	}
}

// DeriveStatus computes the status category that drives export
// instructions. Steps are checked in program order.
func DeriveStatus(id model.Identity) string {
	switch {
	case id.Dropped:
		return model.StatusDropped
	case !id.SetupComplete:
		return model.StatusNeedsSetup
	case !id.FundraisingDone:
		return model.StatusNeedsFundraising
	case !id.TrainingComplete:
		return model.StatusNeedsTraining
	default:
		return model.StatusComplete
	}
}

// resolve applies the authority table to prev's fields and the candidates.
func resolve(auth *authority.Table, base model.Identity, cands candidates, operatorStatus string) model.Identity {
	next := base
	existing := base.Fields()
	for _, f := range mergeFields {
		v, _ := auth.Resolve(f, existing[f], cands[f])
		next.Set(f, v)
	}
	status, _ := auth.Resolve(model.FieldStatusCategory, existing[model.FieldStatusCategory], map[model.Source]string{
		model.SourceOperator:    operatorStatus,
		authority.SourceDerived: DeriveStatus(next),
	})
	next.StatusCategory = status
	return next
}

// mergeData resolves every field of every identity. Signups become or
// update identities; identities with no signup this year are dropped.
func (p *Pipeline) mergeData(ctx context.Context, st *runState) (map[string]any, error) {
	setupByID := make(map[string]model.IntakeSubmission, len(st.setups))
	setupByPhone := make(map[string]model.IntakeSubmission, len(st.setups))
	for _, r := range st.setups {
		if r.MentorID != "" {
			setupByID[r.MentorID] = r
		}
		if r.Phone != "" {
			setupByPhone[r.Phone] = r
		}
	}
	signupByID := make(map[string]model.IntakeSubmission, len(st.signups))
	for _, r := range st.signups {
		signupByID[r.MentorID] = r
	}

	phoneOwner := make(map[string]string, len(st.existing))
	for _, ident := range st.existing {
		if ident.Phone != "" {
			phoneOwner[ident.Phone] = ident.ID
		}
	}

	var issues []model.Issue
	usedSetups := make(map[string]bool)
	present := make(map[string]bool, len(st.subjects))
	claimed := make(map[string]bool)
	st.merged = st.merged[:0]

	for _, subject := range st.subjects {
		id := subject.ID
		signup := signupByID[id]
		prev, hasPrev := st.existing[id]

		cands := make(candidates)
		cands.add(model.SourceIntakeSignup, intakeValues(signup))
		cands.add(model.SourceIntakeSignup, map[string]string{model.FieldSignedUp: model.FormatBool(true)})

		setup, ok := setupByID[id]
		if !ok {
			setup, ok = setupByPhone[signup.Phone]
		}
		if ok {
			usedSetups[setup.SubmissionID] = true
			cands.add(model.SourceIntakeSetup, intakeValues(setup))
			cands.add(model.SourceIntakeSetup, map[string]string{model.FieldSetupComplete: model.FormatBool(true)})
		}

		outcome, _ := st.matched.Link(id)
		if c, ok := st.idx.Contact(outcome.ContactID); ok {
			cands.add(model.SourceCRM, map[string]string{
				model.FieldExternalContactID: c.ID,
				model.FieldPersonalEmail:     c.PrimaryEmail,
			})
		}
		if outcome.Method == matcher.MethodPin {
			cands.add(model.SourceOperator, map[string]string{model.FieldExternalContactID: outcome.ContactID})
		}
		if mb, ok := st.idx.MembershipFor(id); ok {
			cands.add(model.SourceMembership, membershipValues(mb, st.year.FundraisingGoal))
		}
		cands.add(model.SourceOperator, st.pins.Fields[id])

		base := model.Identity{ID: id}
		if hasPrev {
			base = prev
		}
		base.Dropped = false
		base.SubmittedAt = signup.SubmittedAt
		next := resolve(p.authority, base, cands, st.statuses[id])

		if owner, taken := phoneOwner[next.Phone]; taken && owner != id {
			issues = append(issues, p.issue(st, StageMergeData, id, model.IssueTransformation, model.SeverityWarning,
				fmt.Sprintf("phone %s already belongs to identity %s; signup %s skipped", next.Phone, owner, signup.SubmissionID)))
			present[id] = true
			continue
		}
		if hasPrev && prev.Phone != next.Phone && phoneOwner[prev.Phone] == id {
			delete(phoneOwner, prev.Phone)
		}
		phoneOwner[next.Phone] = id

		present[id] = true
		if next.ExternalContactID != "" {
			claimed[next.ExternalContactID] = true
		}
		st.merged = append(st.merged, next)
	}

	for _, r := range st.setups {
		if usedSetups[r.SubmissionID] {
			continue
		}
		issues = append(issues, p.issue(st, StageMergeData, r.MentorID, model.IssueTransformation, model.SeverityWarning,
			fmt.Sprintf("setup submission %s matches no signup", r.SubmissionID)))
	}

	dropped := 0
	absent := make([]string, 0, len(st.existing))
	for id := range st.existing {
		if !present[id] {
			absent = append(absent, id)
		}
	}
	slices.Sort(absent)
	for _, id := range absent {
		next := st.existing[id]
		if !next.Dropped {
			dropped++
		}
		next.Dropped = true
		if claimed[next.ExternalContactID] {
			next.ExternalContactID = ""
		}
		next.StatusCategory, _ = p.authority.Resolve(model.FieldStatusCategory, next.StatusCategory, map[model.Source]string{
			model.SourceOperator:    st.statuses[id],
			authority.SourceDerived: DeriveStatus(next),
		})
		st.merged = append(st.merged, next)
	}
	slices.SortFunc(st.merged, func(a, b model.Identity) int { return strings.Compare(a.ID, b.ID) })

	if err := p.commit(ctx, st, store.Batch{Issues: issues}); err != nil {
		return nil, err
	}
	return map[string]any{
		"identities": len(st.merged),
		"dropped":    dropped,
		"issues":     len(issues),
	}, nil
}
