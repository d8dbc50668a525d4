package pipeline

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SWAB-ITO/swab-app-sub000/internal/conflict"
	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
	"github.com/SWAB-ITO/swab-app-sub000/internal/store"
)

// StatusOverridePrefix prefixes app_config keys that pin an identity's
// status category, as in "status_category:1001".
const StatusOverridePrefix = "status_category:"

// rawSet is one year's raw records, one slice per source.
type rawSet struct {
	signups  []store.RawRecord
	setups   []store.RawRecord
	contacts []store.RawRecord
	members  []store.RawRecord
}

// loadRaw fetches every source, replaces the stored raw records and reads
// back the registry state the later stages compare against.
func (p *Pipeline) loadRaw(ctx context.Context, st *runState) (map[string]any, error) {
	var (
		raw rawSet
		err error
	)
	if st.opts.Replay {
		raw, err = p.readRaw(ctx, st.run.Year)
	} else {
		raw, err = p.fetchRaw(ctx, st)
		if err == nil && !st.opts.DryRun {
			err = p.replaceRaw(ctx, st.run.Year, raw)
		}
	}
	if err != nil {
		return nil, err
	}
	st.raw = raw

	if st.signups, err = decodeRaw[model.IntakeSubmission](raw.signups); err != nil {
		return nil, err
	}
	if st.setups, err = decodeRaw[model.IntakeSubmission](raw.setups); err != nil {
		return nil, err
	}
	if st.contacts, err = decodeRaw[model.ExternalContact](raw.contacts); err != nil {
		return nil, err
	}
	if st.members, err = decodeRaw[model.Membership](raw.members); err != nil {
		return nil, err
	}
	linkContactMemberships(st.contacts, st.members)

	identities, err := p.store.ListIdentities(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list identities")
	}
	st.existing = make(map[string]model.Identity, len(identities))
	for _, ident := range identities {
		st.existing[ident.ID] = ident
		st.seq.Reserve(ident.ID)
	}

	resolved, err := p.store.ListConflicts(ctx, store.ConflictFilter{Status: model.ConflictResolved})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list resolved conflicts")
	}
	st.pins = conflict.BuildPins(resolved)

	if st.tasks, err = p.store.PendingArchiveTasks(ctx); err != nil {
		return nil, eris.Wrap(err, "pipeline: list archive tasks")
	}

	overrides, err := p.store.AppConfig(ctx, st.run.Year)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load app config")
	}
	st.statuses = make(map[string]string)
	for k, v := range overrides {
		if id, ok := strings.CutPrefix(k, StatusOverridePrefix); ok && v != "" {
			st.statuses[id] = v
		}
	}

	return map[string]any{
		"signups":        len(st.signups),
		"setups":         len(st.setups),
		"contacts":       len(st.contacts),
		"members":        len(st.members),
		"identities":     len(st.existing),
		"pinned":         len(st.pins.Contact),
		"archive_tasks":  len(st.tasks),
		"replayed":       st.opts.Replay,
		"status_pinned":  len(st.statuses),
		"signup_form_id": st.year.SignupFormID,
	}, nil
}

// fetchRaw pulls the four sources in parallel.
func (p *Pipeline) fetchRaw(ctx context.Context, st *runState) (rawSet, error) {
	var raw rawSet
	year := st.run.Year
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		subs, err := p.intake.Submissions(gctx, st.year.SignupFormID)
		if err != nil {
			return eris.Wrap(err, "pipeline: fetch signup submissions")
		}
		recs := make([]model.IntakeSubmission, 0, len(subs))
		for _, s := range subs {
			recs = append(recs, intakeFromSubmission(s, model.SourceIntakeSignup))
		}
		raw.signups, err = encodeRaw(model.SourceIntakeSignup, year, recs, submissionID)
		return err
	})

	g.Go(func() error {
		if st.year.SetupFormID == "" {
			return nil
		}
		subs, err := p.intake.Submissions(gctx, st.year.SetupFormID)
		if err != nil {
			return eris.Wrap(err, "pipeline: fetch setup submissions")
		}
		recs := make([]model.IntakeSubmission, 0, len(subs))
		for _, s := range subs {
			recs = append(recs, intakeFromSubmission(s, model.SourceIntakeSetup))
		}
		raw.setups, err = encodeRaw(model.SourceIntakeSetup, year, recs, submissionID)
		return err
	})

	g.Go(func() error {
		contacts, err := p.crm.Contacts(gctx)
		if err != nil {
			return eris.Wrapf(err, "pipeline: fetch %s contacts", p.crm.Name())
		}
		raw.contacts, err = encodeRaw(model.SourceCRM, year, contacts, func(c model.ExternalContact) string { return c.ID })
		return err
	})

	g.Go(func() error {
		if st.year.CampaignID == "" {
			st.log.Warn("pipeline: no campaign configured, skipping members")
			return nil
		}
		members, err := p.crm.Members(gctx, st.year.CampaignID)
		if err != nil {
			return eris.Wrapf(err, "pipeline: fetch %s members", p.crm.Name())
		}
		raw.members, err = encodeRaw(model.SourceMembership, year, members, func(m model.Membership) string { return m.ID })
		return err
	})

	if err := g.Wait(); err != nil {
		return rawSet{}, err
	}
	st.log.Info("pipeline: sources fetched",
		zap.Int("signups", len(raw.signups)),
		zap.Int("setups", len(raw.setups)),
		zap.Int("contacts", len(raw.contacts)),
		zap.Int("members", len(raw.members)),
	)
	return raw, nil
}

// replaceRaw swaps the stored records of every source in one commit, so a
// failed load leaves the previous snapshot whole.
func (p *Pipeline) replaceRaw(ctx context.Context, year int, raw rawSet) error {
	err := p.store.Commit(ctx, store.Batch{Raw: []store.RawSet{
		{Source: model.SourceIntakeSignup, Year: year, Records: raw.signups},
		{Source: model.SourceIntakeSetup, Year: year, Records: raw.setups},
		{Source: model.SourceCRM, Year: year, Records: raw.contacts},
		{Source: model.SourceMembership, Year: year, Records: raw.members},
	}})
	return eris.Wrap(err, "pipeline: replace raw records")
}

func (p *Pipeline) readRaw(ctx context.Context, year int) (rawSet, error) {
	var raw rawSet
	for _, s := range []struct {
		src model.Source
		dst *[]store.RawRecord
	}{
		{model.SourceIntakeSignup, &raw.signups},
		{model.SourceIntakeSetup, &raw.setups},
		{model.SourceCRM, &raw.contacts},
		{model.SourceMembership, &raw.members},
	} {
		recs, err := p.store.LoadRaw(ctx, s.src, year)
		if err != nil {
			return rawSet{}, eris.Wrapf(err, "pipeline: load raw %s", s.src)
		}
		*s.dst = recs
	}
	return raw, nil
}

// linkContactMemberships copies each member's id onto the contact it
// belongs to. The lowest member id wins when a contact has several.
func linkContactMemberships(contacts []model.ExternalContact, members []model.Membership) {
	byContact := make(map[string]string, len(members))
	for _, m := range members {
		if m.ContactID == "" {
			continue
		}
		if cur, ok := byContact[m.ContactID]; !ok || model.CompareIDs(m.ID, cur) < 0 {
			byContact[m.ContactID] = m.ID
		}
	}
	for i := range contacts {
		if mid, ok := byContact[contacts[i].ID]; ok {
			contacts[i].MembershipID = mid
		}
	}
}

func submissionID(s model.IntakeSubmission) string { return s.SubmissionID }
