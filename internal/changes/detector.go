// Package changes diffs canonical identity snapshots into append-only change
// records.
package changes

import (
	"slices"
	"time"

	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
)

// SourceTable is recorded on every change emitted for identity diffs.
const SourceTable = "identities"

// Config selects which fields are audited.
type Config struct {
	Tracked     []string
	Significant []string
	Ignored     []string
}

// Detector compares identity snapshots. It is safe for concurrent use.
type Detector struct {
	tracked     []string
	significant map[string]bool
	ignored     map[string]bool
}

// NewDetector creates a Detector. Ignored fields are removed from the
// tracked set even when listed in both.
func NewDetector(cfg Config) *Detector {
	ignored := make(map[string]bool, len(cfg.Ignored))
	for _, f := range cfg.Ignored {
		ignored[f] = true
	}
	d := &Detector{significant: make(map[string]bool, len(cfg.Significant)), ignored: ignored}
	for _, f := range cfg.Tracked {
		if !ignored[f] && !slices.Contains(d.tracked, f) {
			d.tracked = append(d.tracked, f)
		}
	}
	for _, f := range cfg.Significant {
		d.significant[f] = true
	}
	return d
}

// Tracked returns the audited fields in emission order.
func (d *Detector) Tracked() []string { return slices.Clone(d.tracked) }

// Diff returns the changes between prev and next. A nil prev is a new
// identity. Field changes are emitted in tracked-field order.
func (d *Detector) Diff(runID string, prev *model.Identity, next model.Identity, at time.Time) []model.Change {
	mk := func(t model.ChangeType, field, oldV, newV string, significant bool) model.Change {
		return model.Change{
			RunID:       runID,
			SubjectID:   next.ID,
			Type:        t,
			Field:       field,
			OldValue:    oldV,
			NewValue:    newV,
			Significant: significant,
			SourceTable: SourceTable,
			At:          at,
		}
	}

	if prev == nil {
		return []model.Change{mk(model.ChangeNewIdentity, "", "", next.Phone, true)}
	}

	var out []model.Change
	switch {
	case !prev.Dropped && next.Dropped:
		out = append(out, mk(model.ChangeDropped, "", "", "", true))
	case prev.Dropped && !next.Dropped:
		out = append(out, mk(model.ChangeReactivated, "", "", "", true))
	}

	before, after := prev.Fields(), next.Fields()
	for _, f := range d.tracked {
		o, n := before[f], after[f]
		if o == n {
			continue
		}
		out = append(out, mk(model.ChangeField, f, o, n, d.significant[f]))
	}
	return out
}

// Changed reports whether next differs from prev in the dropped flag or any
// field outside the ignored set, tracked or not. Unchanged identities are not
// rewritten, so bookkeeping timestamps stay put on an idle run.
func (d *Detector) Changed(prev *model.Identity, next model.Identity) bool {
	if prev == nil || prev.Dropped != next.Dropped || !prev.SubmittedAt.Equal(next.SubmittedAt) {
		return true
	}
	before, after := prev.Fields(), next.Fields()
	for f, v := range after {
		if !d.ignored[f] && before[f] != v {
			return true
		}
	}
	return false
}
