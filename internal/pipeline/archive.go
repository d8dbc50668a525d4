package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/SWAB-ITO/swab-app-sub000/internal/archive"
	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
	"github.com/SWAB-ITO/swab-app-sub000/internal/store"
)

// plan is the archival work for one run plus the scheduled tasks settled
// without a CRM call.
type plan struct {
	batches []archive.Batch
	settled []model.ArchiveTask
	tasks   map[int64]model.ArchiveTask
}

func (pl plan) size() int {
	n := 0
	for _, b := range pl.batches {
		n += len(b.Tasks)
	}
	return n
}

// planArchival collects matcher losers first, then operator-scheduled tasks.
// A contact is archived at most once per run. Scheduled losers that are
// gone from the CRM are settled as done; those now linked to an identity are
// settled as failed.
func (st *runState) planArchival() plan {
	pl := plan{tasks: make(map[int64]model.ArchiveTask)}
	linked := make(map[string]string)
	for _, ident := range st.current() {
		if ident.ExternalContactID != "" && !ident.Dropped {
			linked[ident.ExternalContactID] = ident.ID
		}
	}
	seen := make(map[string]bool)

	for _, o := range st.matched.Outcomes {
		if o.ContactID == "" || len(o.Losers) == 0 {
			continue
		}
		b := archive.Batch{SubjectID: o.IdentityID, WinnerID: o.ContactID}
		for _, loser := range o.Losers {
			if seen[loser] {
				continue
			}
			seen[loser] = true
			b.Tasks = append(b.Tasks, archive.Task{LoserID: loser})
		}
		if len(b.Tasks) > 0 {
			pl.batches = append(pl.batches, b)
		}
	}

	byWinner := make(map[string]int)
	for _, t := range st.tasks {
		settle := func(status model.ArchiveTaskStatus, msg string) {
			t.Status = status
			t.LastError = msg
			t.UpdatedAt = st.now
			pl.settled = append(pl.settled, t)
		}
		switch {
		case seen[t.LoserID]:
			settle(model.ArchiveDone, "")
			continue
		case linked[t.LoserID] != "":
			settle(model.ArchiveFailed, fmt.Sprintf("contact is linked to identity %s", linked[t.LoserID]))
			continue
		}
		if _, live := st.idx.Contact(t.LoserID); !live {
			settle(model.ArchiveDone, "")
			continue
		}
		seen[t.LoserID] = true
		pl.tasks[t.ID] = t

		key := t.SubjectID + "|" + t.WinnerID
		i, ok := byWinner[key]
		if !ok {
			i = len(pl.batches)
			byWinner[key] = i
			pl.batches = append(pl.batches, archive.Batch{SubjectID: t.SubjectID, WinnerID: t.WinnerID})
		}
		pl.batches[i].Tasks = append(pl.batches[i].Tasks, archive.Task{LoserID: t.LoserID, TaskID: t.ID})
	}
	return pl
}

// archiveDuplicates retires losing contacts in the CRM. Failed calls become
// warnings and leave scheduled tasks pending for the next run until they run
// out of attempts.
func (p *Pipeline) archiveDuplicates(ctx context.Context, st *runState) (map[string]any, error) {
	pl := st.planArchival()
	meta := map[string]any{"planned": pl.size(), "settled": len(pl.settled)}

	if !p.cfg.Archive.Enabled || st.opts.DryRun {
		meta["skipped"] = true
		if !st.opts.DryRun {
			if err := p.commit(ctx, st, store.Batch{ArchiveTasks: pl.settled}); err != nil {
				return nil, err
			}
		}
		return meta, nil
	}

	arch := archive.New(p.crm, archive.Options{
		MinInterval: time.Duration(p.cfg.Archive.MinIntervalMS) * time.Millisecond,
		Now:         p.now,
	})
	rep := arch.Run(ctx, st.run.ID, pl.batches)

	updates := pl.settled
	done := make(map[string]bool)
	for _, r := range rep.Results {
		if r.Err == nil {
			done[r.LoserID] = true
		}
		if r.TaskID == 0 {
			continue
		}
		t := pl.tasks[r.TaskID]
		t.Attempts++
		t.UpdatedAt = st.now
		switch {
		case r.Err == nil:
			t.Status = model.ArchiveDone
			t.LastError = ""
		case t.Attempts >= store.MaxArchiveAttempts:
			t.Status = model.ArchiveFailed
			t.LastError = r.Err.Error()
		default:
			t.Status = model.ArchivePending
			t.LastError = r.Err.Error()
		}
		updates = append(updates, t)
	}

	p.metrics.AddArchivals(rep.Archived, rep.Failed)
	st.result.Archived = rep.Archived
	st.result.Failed = rep.Failed
	st.result.Changes += len(rep.Changes)

	b := store.Batch{
		Changes:      rep.Changes,
		Issues:       rep.Issues,
		ArchiveTasks: updates,
	}
	if len(done) > 0 {
		contacts, err := markArchived(st.raw.contacts, done)
		if err != nil {
			return nil, err
		}
		b.Raw = []store.RawSet{{Source: model.SourceCRM, Year: st.run.Year, Records: contacts}}
	}

	// Completed archivals are recorded even when the run was cancelled.
	if err := p.commit(context.WithoutCancel(ctx), st, b); err != nil {
		return nil, err
	}

	meta["archived"] = rep.Archived
	meta["failed"] = rep.Failed
	if rep.Cancelled {
		st.log.Warn("pipeline: archival cancelled", zap.Int("completed", len(rep.Results)))
		if err := ctx.Err(); err != nil {
			return meta, err
		}
		return meta, eris.New("pipeline: archival interrupted before its deadline")
	}
	return meta, nil
}

// markArchived returns the CRM snapshot with the given contacts flagged as
// archived. The stored snapshot has to match the CRM after archival since
// replays index it.
func markArchived(records []store.RawRecord, ids map[string]bool) ([]store.RawRecord, error) {
	out := make([]store.RawRecord, len(records))
	for i, r := range records {
		out[i] = r
		if !ids[r.RecordID] {
			continue
		}
		var c model.ExternalContact
		if err := json.Unmarshal(r.Data, &c); err != nil {
			return nil, eris.Wrapf(err, "pipeline: decode crm record %s", r.RecordID)
		}
		c.Archived = true
		data, err := json.Marshal(c)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: encode crm record %s", r.RecordID)
		}
		out[i].Data = data
	}
	return out, nil
}
