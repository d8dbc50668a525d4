// Package matcher links canonical identities to CRM contacts with a
// priority cascade over the lookup index.
package matcher

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SWAB-ITO/swab-app-sub000/internal/conflict"
	"github.com/SWAB-ITO/swab-app-sub000/internal/index"
	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
	"github.com/SWAB-ITO/swab-app-sub000/internal/scorer"
)

// Method records which cascade step linked an identity.
type Method string

// Cascade steps, in priority order after operator pins.
const (
	MethodNone       Method = ""
	MethodPin        Method = "pin"
	MethodExternalID Method = "external_id"
	MethodPhone      Method = "phone"
	MethodEmail      Method = "email"
	MethodMembership Method = "membership"
)

// Outcome is the matching result for one identity.
type Outcome struct {
	IdentityID string
	ContactID  string
	Method     Method
	// Losers are auto-resolved duplicates of ContactID to archive.
	Losers []string
	// Pending is set when a selection conflict awaits an operator. ContactID
	// then holds the previous link if it is still a candidate.
	Pending bool
	// Collided is set when the chosen contact was claimed by another
	// identity and this identity was left unlinked.
	Collided bool
	// AutoResolved counts field mismatches settled in favor of intake.
	AutoResolved int
}

// Result is the outcome of one matching pass.
type Result struct {
	Outcomes  []Outcome // ordered by identity id
	Conflicts []model.Conflict
	Issues    []model.Issue
}

// Link returns the contact linked to identityID, if any.
func (r *Result) Link(identityID string) (Outcome, bool) {
	i, ok := slices.BinarySearchFunc(r.Outcomes, identityID, func(o Outcome, id string) int {
		return strings.Compare(o.IdentityID, id)
	})
	if !ok {
		return Outcome{}, false
	}
	return r.Outcomes[i], true
}

// Counts tallies outcomes by method. Unlinked identities count under
// MethodNone.
func (r *Result) Counts() map[Method]int {
	out := make(map[Method]int)
	for _, o := range r.Outcomes {
		if o.ContactID == "" {
			out[MethodNone]++
			continue
		}
		out[o.Method]++
	}
	return out
}

// Options tunes a Matcher.
type Options struct {
	// Concurrency bounds how many identities are matched at once.
	Concurrency int
}

// Matcher resolves identities against one cycle's index.
type Matcher struct {
	idx      *index.Index
	scorer   *scorer.Scorer
	detector *conflict.Detector
	opts     Options
	log      *zap.Logger
}

// New creates a Matcher.
func New(idx *index.Index, s *scorer.Scorer, d *conflict.Detector, opts Options) *Matcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Matcher{
		idx:      idx,
		scorer:   s,
		detector: d,
		opts:     opts,
		log:      zap.L().With(zap.String("component", "matcher")),
	}
}

// match is the per-identity result before collision handling.
type match struct {
	outcome   Outcome
	conflicts []model.Conflict
}

// Match links every subject. A subject's ExternalContactID is its link from
// the previous run. Identities are matched in parallel and merged in id order.
func (m *Matcher) Match(ctx context.Context, subjects []model.Identity, pins conflict.Pins) (*Result, error) {
	start := time.Now()
	sorted := slices.Clone(subjects)
	slices.SortFunc(sorted, func(a, b model.Identity) int { return strings.Compare(a.ID, b.ID) })

	matches := make([]match, len(sorted))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Concurrency)
	for i := range sorted {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			matches[i] = m.matchOne(sorted[i], pins)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "matcher: match identities")
	}

	res := &Result{Outcomes: make([]Outcome, len(matches))}
	for i, mt := range matches {
		res.Outcomes[i] = mt.outcome
		res.Conflicts = append(res.Conflicts, mt.conflicts...)
	}
	m.resolveCollisions(res, sorted, pins)
	m.protectLinkedLosers(res)
	res.Issues = append(res.Issues, m.ambiguityIssues()...)

	m.log.Info("matching complete",
		zap.Int("identities", len(sorted)),
		zap.Int("conflicts", len(res.Conflicts)),
		zap.Any("methods", res.Counts()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func (m *Matcher) matchOne(subject model.Identity, pins conflict.Pins) match {
	out := match{outcome: Outcome{IdentityID: subject.ID}}

	// Operator pins override the cascade while the pinned contact is live.
	if id, ok := pins.Contact[subject.ID]; ok {
		if _, live := m.idx.Contact(id); live {
			out.outcome.ContactID = id
			out.outcome.Method = MethodPin
			return out
		}
	}

	// 1. External identifier equal to the identity id is authoritative.
	if c, ok := m.idx.ByExternalID(subject.ID); ok && !pins.IsBlocked(subject.ID, c.ID) {
		out.outcome.ContactID = c.ID
		out.outcome.Method = MethodExternalID
		for _, field := range []string{conflict.MismatchPhone, conflict.MismatchEmail} {
			mm := m.detector.FieldMismatch(field, subject, c)
			if mm.AutoResolved {
				out.outcome.AutoResolved++
			}
			if mm.Conflict != nil {
				out.conflicts = append(out.conflicts, *mm.Conflict)
			}
		}
		return out
	}

	// 2. Phone.
	if m.selectFrom(&out, subject, m.idx.ByPhone(subject.Phone), MethodPhone, pins) {
		return out
	}

	// 3. Email, personal then school address.
	for _, e := range []string{subject.PersonalEmail, subject.UGAEmail} {
		if e != "" && m.selectFrom(&out, subject, m.idx.ByEmail(e), MethodEmail, pins) {
			return out
		}
	}

	// 4. Membership linkage: retry phone and email with the member's values.
	if mb, ok := m.idx.MembershipFor(subject.ID); ok {
		if mb.Phone != "" && m.selectFrom(&out, subject, m.idx.ByPhone(mb.Phone), MethodMembership, pins) {
			return out
		}
		if mb.Email != "" && m.selectFrom(&out, subject, m.idx.ByEmail(mb.Email), MethodMembership, pins) {
			return out
		}
	}
	return out
}

// selectFrom settles a candidate set. It reports false when no usable
// candidate remains so the cascade moves on.
func (m *Matcher) selectFrom(out *match, subject model.Identity, found []*model.ExternalContact, method Method, pins conflict.Pins) bool {
	cands := make([]*model.ExternalContact, 0, len(found))
	for _, c := range found {
		if !pins.IsBlocked(subject.ID, c.ID) {
			cands = append(cands, c)
		}
	}
	if len(cands) == 0 {
		return false
	}

	out.outcome.Method = method
	if len(cands) == 1 {
		out.outcome.ContactID = cands[0].ID
		return true
	}

	sel := m.detector.ContactSelection(subject.ID, m.scorer.Rank(cands))
	if sel.Winner != nil {
		out.outcome.ContactID = sel.Winner.Contact.ID
		out.outcome.Losers = sel.Losers
		return true
	}

	out.outcome.Pending = true
	out.conflicts = append(out.conflicts, *sel.Conflict)
	if prev := subject.ExternalContactID; prev != "" && slices.ContainsFunc(cands, func(c *model.ExternalContact) bool {
		return c.ID == prev
	}) {
		out.outcome.ContactID = prev
	}
	return true
}

// resolveCollisions enforces one identity per contact. The identity that
// held the contact before (by operator pin, then previous link) keeps it;
// every other claimant is unlinked and a collision conflict is raised. With
// no previous holder all claimants are unlinked.
func (m *Matcher) resolveCollisions(res *Result, subjects []model.Identity, pins conflict.Pins) {
	prev := make(map[string]string, len(subjects))
	for _, s := range subjects {
		prev[s.ID] = s.ExternalContactID
	}

	claims := make(map[string][]int)
	var contacts []string
	for i, o := range res.Outcomes {
		if o.ContactID == "" {
			continue
		}
		if _, seen := claims[o.ContactID]; !seen {
			contacts = append(contacts, o.ContactID)
		}
		claims[o.ContactID] = append(claims[o.ContactID], i)
	}
	slices.SortFunc(contacts, model.CompareIDs)

	for _, contactID := range contacts {
		idxs := claims[contactID]
		if len(idxs) < 2 {
			continue
		}

		holder := -1
		for _, i := range idxs {
			if pins.Contact[res.Outcomes[i].IdentityID] == contactID {
				holder = i
				break
			}
		}
		if holder < 0 {
			var prevHolders []int
			for _, i := range idxs {
				if prev[res.Outcomes[i].IdentityID] == contactID {
					prevHolders = append(prevHolders, i)
				}
			}
			if len(prevHolders) == 1 {
				holder = prevHolders[0]
			}
		}

		anchor := holder
		if anchor < 0 {
			anchor = idxs[0]
		}
		anchorID := res.Outcomes[anchor].IdentityID
		claimants := make([]string, 0, len(idxs))
		for _, i := range idxs {
			claimants = append(claimants, res.Outcomes[i].IdentityID)
			if i == anchor {
				continue
			}
			res.Conflicts = append(res.Conflicts, *m.detector.Collision(contactID, anchorID, res.Outcomes[i].IdentityID))
		}
		for _, i := range idxs {
			if i == holder {
				continue
			}
			unlink(&res.Outcomes[i])
		}

		m.log.Warn("external contact claimed by several identities",
			zap.String("contact_id", contactID),
			zap.Strings("identities", claimants),
			zap.String("holder", holderID(res, holder)),
		)
		res.Issues = append(res.Issues, model.Issue{
			SubjectID: contactID,
			Kind:      model.IssueExternalIDCollision,
			Severity:  model.SeverityCritical,
			Message:   fmt.Sprintf("contact %s matched by identities %s", contactID, strings.Join(claimants, ", ")),
			CreatedAt: time.Now().UTC(),
		})
	}
}

func holderID(res *Result, i int) string {
	if i < 0 {
		return ""
	}
	return res.Outcomes[i].IdentityID
}

func unlink(o *Outcome) {
	o.ContactID = ""
	o.Losers = nil
	o.Collided = true
}

// protectLinkedLosers drops any loser that another identity is linked to, so
// archival never retires a contact that is still in use.
func (m *Matcher) protectLinkedLosers(res *Result) {
	linked := make(map[string]bool, len(res.Outcomes))
	for _, o := range res.Outcomes {
		if o.ContactID != "" {
			linked[o.ContactID] = true
		}
	}
	for i := range res.Outcomes {
		o := &res.Outcomes[i]
		if len(o.Losers) == 0 {
			continue
		}
		o.Losers = slices.DeleteFunc(slices.Clone(o.Losers), func(id string) bool { return linked[id] })
	}
}

func (m *Matcher) ambiguityIssues() []model.Issue {
	out := make([]model.Issue, 0, len(m.idx.Ambiguities))
	for _, a := range m.idx.Ambiguities {
		out = append(out, model.Issue{
			SubjectID: a.ExternalID,
			Kind:      model.IssueAmbiguousIdentifier,
			Severity:  model.SeverityWarning,
			Message:   fmt.Sprintf("external id %s is carried by contacts %s", a.ExternalID, strings.Join(a.ContactIDs, ", ")),
			CreatedAt: time.Now().UTC(),
		})
	}
	return out
}
