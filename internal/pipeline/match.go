package pipeline

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/SWAB-ITO/swab-app-sub000/internal/conflict"
	"github.com/SWAB-ITO/swab-app-sub000/internal/index"
	"github.com/SWAB-ITO/swab-app-sub000/internal/matcher"
	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
	"github.com/SWAB-ITO/swab-app-sub000/internal/scorer"
	"github.com/SWAB-ITO/swab-app-sub000/internal/store"
)

// subjectFrom builds the matching subject for a signup: the previous
// identity, if any, overlaid with the submission's identifiers. The previous
// contact and membership links carry over.
func subjectFrom(r model.IntakeSubmission, prev *model.Identity) model.Identity {
	s := model.Identity{ID: r.MentorID}
	if prev != nil {
		s = *prev
	}
	s.Phone = r.Phone
	if r.FirstName != "" {
		s.FirstName = r.FirstName
	}
	if r.LastName != "" {
		s.LastName = r.LastName
	}
	if r.PersonalEmail != "" {
		s.PersonalEmail = r.PersonalEmail
	}
	if r.UGAEmail != "" {
		s.UGAEmail = r.UGAEmail
	}
	s.SubmittedAt = r.SubmittedAt
	return s
}

// matchContacts links every signup to a CRM contact and records the
// conflicts and structural issues matching produced.
func (p *Pipeline) matchContacts(ctx context.Context, st *runState) (map[string]any, error) {
	st.subjects = make([]model.Identity, 0, len(st.signups))
	for _, r := range st.signups {
		var prev *model.Identity
		if ident, ok := st.existing[r.MentorID]; ok {
			prev = &ident
		}
		st.subjects = append(st.subjects, subjectFrom(r, prev))
	}
	slices.SortFunc(st.subjects, func(a, b model.Identity) int { return strings.Compare(a.ID, b.ID) })

	st.idx = index.Build(st.contacts, st.members)
	st.idx.LinkMemberships(st.subjects)

	now := func() time.Time { return st.now }
	sc := scorer.New(scorer.Config{
		RetiredTag: p.cfg.Matching.RetiredTag,
		CohortTag:  st.year.CohortTag,
		Now:        now,
	})
	det := conflict.NewDetector(conflict.Config{
		AutoResolveGap: p.cfg.Matching.AutoResolveGap,
		StaleAfter:     time.Duration(p.cfg.Matching.StaleAfterDays) * 24 * time.Hour,
		Now:            now,
	})
	m := matcher.New(st.idx, sc, det, matcher.Options{Concurrency: p.cfg.Matching.Concurrency})

	res, err := m.Match(ctx, st.subjects, st.pins)
	if err != nil {
		return nil, err
	}
	st.matched = res

	for i := range res.Conflicts {
		res.Conflicts[i].RunID = st.run.ID
		p.metrics.AddConflict(string(res.Conflicts[i].Type))
	}
	for i := range res.Issues {
		res.Issues[i].RunID = st.run.ID
		res.Issues[i].Stage = StageMatchContacts
	}
	counts := res.Counts()
	for method, n := range counts {
		name := string(method)
		if method == matcher.MethodNone {
			name = "none"
		}
		p.metrics.AddMatches(name, n)
	}

	if err := p.commit(ctx, st, store.Batch{Conflicts: res.Conflicts, Issues: res.Issues}); err != nil {
		return nil, err
	}
	st.result.Matches = counts
	st.result.Conflicts = len(res.Conflicts)

	meta := map[string]any{
		"subjects":  len(st.subjects),
		"contacts":  st.idx.Len(),
		"conflicts": len(res.Conflicts),
		"issues":    len(res.Issues),
	}
	for method, n := range counts {
		if method == matcher.MethodNone {
			meta["unmatched"] = n
			continue
		}
		meta["matched_"+string(method)] = n
	}
	return meta, nil
}
