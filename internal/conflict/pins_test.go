package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
)

func resolved(c model.Conflict, kind model.DecisionKind, value string, at time.Time) model.Conflict {
	c.Status = model.ConflictResolved
	c.Decision = &model.Decision{Kind: kind, Value: value}
	c.CreatedAt = at
	return c
}

func TestBuildPins(t *testing.T) {
	d := testDetector()
	sel := selectionConflict()
	col := *d.Collision("200", "m2", "m3")

	contact := model.ExternalContact{ID: "300", Phone: "5555550199", LastModified: daysAgo(1)}
	ph := *d.FieldMismatch(MismatchPhone, model.Identity{ID: "m4", Phone: "+15555550100", SubmittedAt: daysAgo(3)}, &contact).Conflict

	pending := *d.Collision("400", "m5", "m6")
	skipped := *d.Collision("500", "m7", "m8")
	skipped.Status = model.ConflictSkipped

	pins := BuildPins([]model.Conflict{
		resolved(sel, model.DecideOptionB, "101", daysAgo(3)),
		resolved(col, model.DecideOptionB, "m3", daysAgo(2)),
		resolved(ph, model.DecideOptionB, "+15555550199", daysAgo(1)),
		pending,
		skipped,
	})

	assert.Equal(t, "101", pins.Contact["m1"])
	assert.Equal(t, "200", pins.Contact["m3"])
	assert.True(t, pins.IsBlocked("m2", "200"))
	assert.False(t, pins.IsBlocked("m3", "200"))
	assert.Equal(t, "+15555550199", pins.Fields["m4"][model.FieldPhone])

	_, ok := pins.Contact["m5"]
	assert.False(t, ok)
	assert.False(t, pins.IsBlocked("m7", "500"))
}

func TestBuildPins_LaterDecisionWins(t *testing.T) {
	d := testDetector()
	first := *d.Collision("200", "m2", "m3")
	second := *d.Collision("200", "m3", "m2")

	// Passed newest first; replay must still apply oldest first.
	pins := BuildPins([]model.Conflict{
		resolved(second, model.DecideOptionA, "m3", daysAgo(1)),
		resolved(first, model.DecideOptionA, "m2", daysAgo(5)),
	})
	assert.Equal(t, "200", pins.Contact["m3"])
	assert.True(t, pins.IsBlocked("m2", "200"))
	_, ok := pins.Contact["m2"]
	assert.False(t, ok)
}
