package conflict

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
	"github.com/SWAB-ITO/swab-app-sub000/internal/scorer"
	"github.com/SWAB-ITO/swab-app-sub000/internal/store"
)

func newTestService(t *testing.T, seed ...model.Conflict) (*Service, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.Commit(ctx, store.Batch{Conflicts: seed}))

	svc := NewService(st)
	svc.now = func() time.Time { return testNow }
	return svc, st
}

func selectionConflict() model.Conflict {
	d := testDetector()
	sel := d.ContactSelection("m1", []scorer.Scored{
		scored("100", 600, model.ExternalContact{}),
		scored("101", 560, model.ExternalContact{}),
		scored("102", 540, model.ExternalContact{}),
	})
	c := *sel.Conflict
	c.ID = "sel-1"
	c.RunID = "run-1"
	return c
}

func TestService_ResolveSelectionSchedulesArchival(t *testing.T) {
	svc, st := newTestService(t, selectionConflict())
	ctx := context.Background()

	c, err := svc.Resolve(ctx, "sel-1", model.Decision{Kind: model.DecideOptionB, By: "ops@swab"})
	require.NoError(t, err)
	assert.Equal(t, model.ConflictResolved, c.Status)
	assert.Equal(t, "101", c.Decision.Value)

	tasks, err := st.PendingArchiveTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	losers := []string{tasks[0].LoserID, tasks[1].LoserID}
	assert.ElementsMatch(t, []string{"100", "102"}, losers)
	for _, task := range tasks {
		assert.Equal(t, "101", task.WinnerID)
		assert.Equal(t, "m1", task.SubjectID)
	}
}

func TestService_ResolveCustomCandidate(t *testing.T) {
	svc, _ := newTestService(t, selectionConflict())

	c, err := svc.Resolve(context.Background(), "sel-1", model.Decision{Kind: model.DecideCustom, Value: "102"})
	require.NoError(t, err)
	assert.Equal(t, "102", c.Decision.Value)
}

func TestService_ResolveRejectsNonCandidate(t *testing.T) {
	svc, st := newTestService(t, selectionConflict())
	ctx := context.Background()

	_, err := svc.Resolve(ctx, "sel-1", model.Decision{Kind: model.DecideCustom, Value: "999"})
	assert.ErrorIs(t, err, ErrInvalidDecision)

	got, err := st.GetConflict(ctx, "sel-1")
	require.NoError(t, err)
	assert.Equal(t, model.ConflictPending, got.Status)
}

func TestService_DecidedConflictIsFinal(t *testing.T) {
	svc, _ := newTestService(t, selectionConflict())
	ctx := context.Background()

	_, err := svc.Skip(ctx, "sel-1", "ops")
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, "sel-1", model.Decision{Kind: model.DecideOptionA})
	assert.ErrorIs(t, err, ErrAlreadyDecided)
	_, err = svc.Skip(ctx, "sel-1", "ops")
	assert.ErrorIs(t, err, ErrAlreadyDecided)
}

func TestService_ResolvePhoneMismatchNormalizesCustom(t *testing.T) {
	d := testDetector()
	contact := model.ExternalContact{ID: "100", Phone: "5555550199", LastModified: daysAgo(1)}
	m := d.FieldMismatch(MismatchPhone, model.Identity{ID: "m1", Phone: "+15555550100", SubmittedAt: daysAgo(3)}, &contact)
	require.NotNil(t, m.Conflict)
	m.Conflict.ID = "ph-1"

	svc, _ := newTestService(t, *m.Conflict)
	ctx := context.Background()

	_, err := svc.Resolve(ctx, "ph-1", model.Decision{Kind: model.DecideCustom, Value: "12"})
	assert.ErrorIs(t, err, ErrInvalidDecision)

	c, err := svc.Resolve(ctx, "ph-1", model.Decision{Kind: model.DecideCustom, Value: "(555) 555-0142"})
	require.NoError(t, err)
	assert.Equal(t, "+15555550142", c.Decision.Value)
}

func TestService_ResolveCollisionRequiresCollidingIdentity(t *testing.T) {
	c := *testDetector().Collision("100", "m1", "m2")
	c.ID = "col-1"
	svc, _ := newTestService(t, c)
	ctx := context.Background()

	_, err := svc.Resolve(ctx, "col-1", model.Decision{Kind: model.DecideCustom, Value: "m9"})
	assert.ErrorIs(t, err, ErrInvalidDecision)

	got, err := svc.Resolve(ctx, "col-1", model.Decision{Kind: model.DecideOptionA})
	require.NoError(t, err)
	assert.Equal(t, "m1", got.Decision.Value)
}

func TestService_List(t *testing.T) {
	col := *testDetector().Collision("100", "m1", "m2")
	col.ID = "col-1"
	svc, _ := newTestService(t, selectionConflict(), col)

	got, err := svc.List(context.Background(), store.ConflictFilter{Type: model.ConflictExternalIDCollision})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "col-1", got[0].ID)
}

func TestService_UnknownConflict(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Resolve(context.Background(), "nope", model.Decision{Kind: model.DecideOptionA})
	assert.ErrorIs(t, err, store.ErrNotFound)
}
