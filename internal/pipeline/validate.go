package pipeline

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
	"github.com/SWAB-ITO/swab-app-sub000/internal/store"
)

// bySubmission orders intake by submission time, then submission id.
func bySubmission(a, b model.IntakeSubmission) int {
	if c := a.SubmittedAt.Compare(b.SubmittedAt); c != 0 {
		return c
	}
	return model.CompareIDs(a.SubmissionID, b.SubmissionID)
}

// validate drops intake records without a usable phone and gives signups
// without a mentor id a placeholder. A signup whose phone belongs to an
// existing identity reuses that identity's id so placeholders hold across
// runs.
func (p *Pipeline) validate(ctx context.Context, st *runState) (map[string]any, error) {
	phoneOwner := make(map[string]string, len(st.existing))
	for _, ident := range st.existing {
		if ident.Phone != "" {
			phoneOwner[ident.Phone] = ident.ID
		}
	}

	var issues []model.Issue
	check := func(recs []model.IntakeSubmission, assignIDs bool) []model.IntakeSubmission {
		recs = slices.Clone(recs)
		slices.SortFunc(recs, bySubmission)

		out := recs[:0]
		for _, r := range recs {
			if r.Phone == "" {
				if !assignIDs && r.MentorID != "" {
					out = append(out, r)
					continue
				}
				issues = append(issues, p.issue(st, StageValidate, r.SubmissionID, model.IssueTransformation, model.SeverityWarning,
					fmt.Sprintf("%s submission %s has no usable phone number", r.Source, r.SubmissionID)))
				continue
			}
			if assignIDs && r.MentorID == "" {
				if owner, ok := phoneOwner[r.Phone]; ok {
					r.MentorID = owner
				} else {
					r.MentorID = st.seq.Next()
				}
				r.Placeholder = true
				issues = append(issues, p.issue(st, StageValidate, r.MentorID, model.IssueMissingIdentifier, model.SeverityCritical,
					fmt.Sprintf("signup submission %s has no mentor id; assigned %s", r.SubmissionID, r.MentorID)))
			}
			out = append(out, r)
		}
		return out
	}

	st.signups = check(st.signups, true)
	st.setups = check(st.setups, false)

	if err := p.commit(ctx, st, store.Batch{Issues: issues}); err != nil {
		return nil, err
	}
	return map[string]any{
		"signups":      len(st.signups),
		"setups":       len(st.setups),
		"placeholders": countPlaceholders(st.signups),
		"issues":       len(issues),
	}, nil
}

func countPlaceholders(recs []model.IntakeSubmission) int {
	n := 0
	for _, r := range recs {
		if r.Placeholder {
			n++
		}
	}
	return n
}

// deduplicate collapses intake records that share a phone, then those that
// share a mentor id, keeping the most recent submission of each group.
func (p *Pipeline) deduplicate(ctx context.Context, st *runState) (map[string]any, error) {
	var issues []model.Issue
	collapse := func(recs []model.IntakeSubmission, key func(model.IntakeSubmission) string) []model.IntakeSubmission {
		latest := make(map[string]int)
		for i, r := range recs {
			k := key(r)
			if k == "" {
				continue
			}
			if j, ok := latest[k]; !ok || bySubmission(recs[j], r) < 0 {
				latest[k] = i
			}
		}
		out := make([]model.IntakeSubmission, 0, len(recs))
		for i, r := range recs {
			k := key(r)
			if k == "" || latest[k] == i {
				out = append(out, r)
				continue
			}
			kept := recs[latest[k]]
			issues = append(issues, p.issue(st, StageDeduplicate, kept.MentorID, model.IssueDuplicateIntake, model.SeverityWarning,
				fmt.Sprintf("%s submission %s duplicates %s; kept the later submission %s", r.Source, r.SubmissionID, k, kept.SubmissionID)))
		}
		return out
	}
	byPhone := func(r model.IntakeSubmission) string { return r.Phone }
	byMentor := func(r model.IntakeSubmission) string { return strings.TrimSpace(r.MentorID) }

	signupsIn, setupsIn := len(st.signups), len(st.setups)
	st.signups = collapse(collapse(st.signups, byPhone), byMentor)
	st.setups = collapse(collapse(st.setups, byPhone), byMentor)

	if err := p.commit(ctx, st, store.Batch{Issues: issues}); err != nil {
		return nil, err
	}
	return map[string]any{
		"signups":   len(st.signups),
		"setups":    len(st.setups),
		"discarded": (signupsIn - len(st.signups)) + (setupsIn - len(st.setups)),
	}, nil
}
