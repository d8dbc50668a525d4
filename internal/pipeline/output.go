package pipeline

import (
	"context"
	"slices"
	"strings"

	"github.com/SWAB-ITO/swab-app-sub000/internal/changes"
	"github.com/SWAB-ITO/swab-app-sub000/internal/export"
	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
	"github.com/SWAB-ITO/swab-app-sub000/internal/store"
)

// detectChanges writes the identities that differ from the registry together
// with their change records. Unchanged identities are not rewritten.
func (p *Pipeline) detectChanges(ctx context.Context, st *runState) (map[string]any, error) {
	det := changes.NewDetector(changes.Config{
		Tracked:     p.cfg.Changes.Tracked,
		Significant: p.cfg.Changes.Significant,
		Ignored:     p.cfg.Changes.Ignored,
	})

	var (
		out         []model.Change
		significant int
	)
	st.written = st.written[:0]
	for _, next := range st.merged {
		var prev *model.Identity
		if ident, ok := st.existing[next.ID]; ok {
			prev = &ident
		}
		if !det.Changed(prev, next) {
			continue
		}
		next.UpdatedAt = st.now
		next.LastSyncedAt = st.now
		diff := det.Diff(st.run.ID, prev, next, st.now)
		for _, c := range diff {
			if c.Significant {
				significant++
			}
		}
		out = append(out, diff...)
		st.written = append(st.written, next)
	}

	if err := p.commit(ctx, st, store.Batch{Identities: st.written, Changes: out}); err != nil {
		return nil, err
	}
	st.result.Changes += len(out)
	return map[string]any{
		"written":     len(st.written),
		"unchanged":   len(st.merged) - len(st.written),
		"changes":     len(out),
		"significant": significant,
	}, nil
}

// current returns the registry as it stands after this run's writes, in id
// order.
func (st *runState) current() []model.Identity {
	byID := make(map[string]model.Identity, len(st.existing)+len(st.written))
	for id, ident := range st.existing {
		byID[id] = ident
	}
	for _, ident := range st.written {
		byID[ident.ID] = ident
	}
	out := make([]model.Identity, 0, len(byID))
	for _, ident := range byID {
		out = append(out, ident)
	}
	slices.SortFunc(out, func(a, b model.Identity) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// populateExport rebuilds the export table from the registry.
func (p *Pipeline) populateExport(ctx context.Context, st *runState) (map[string]any, error) {
	rows := export.Build(st.run.ID, st.current(), export.Params{
		Year:            st.run.Year,
		CohortTag:       st.year.CohortTag,
		CampaignCode:    st.year.CampaignCode,
		FundraisingGoal: st.year.FundraisingGoal,
	}, st.now)

	if err := p.commit(ctx, st, store.Batch{Export: rows, ReplaceExport: true}); err != nil {
		return nil, err
	}
	st.result.Exported = len(rows)
	return map[string]any{"rows": len(rows)}, nil
}
