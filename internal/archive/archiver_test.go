package archive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
)

type fakeCRM struct {
	mu     sync.Mutex
	calls  []string
	at     []time.Time
	fail   map[string]error
	onCall func(id string)
}

func (f *fakeCRM) ArchiveContact(_ context.Context, id string) error {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.at = append(f.at, time.Now())
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall(id)
	}
	return f.fail[id]
}

func TestRun_ArchivesInOrder(t *testing.T) {
	crm := &fakeCRM{}
	a := New(crm, Options{})
	rep := a.Run(context.Background(), "run-1", []Batch{
		{SubjectID: "m1", WinnerID: "10", Tasks: []Task{{LoserID: "11"}, {LoserID: "12"}}},
		{SubjectID: "m2", WinnerID: "20", Tasks: []Task{{LoserID: "21", TaskID: 7}}},
	})

	assert.Equal(t, []string{"11", "12", "21"}, crm.calls)
	assert.Equal(t, 3, rep.Archived)
	assert.Zero(t, rep.Failed)
	assert.False(t, rep.Cancelled)
	require.Len(t, rep.Results, 3)
	assert.Equal(t, int64(7), rep.Results[2].TaskID)

	require.Len(t, rep.Changes, 2)
	assert.Equal(t, model.ChangeDuplicatesArchived, rep.Changes[0].Type)
	assert.Equal(t, "m1", rep.Changes[0].SubjectID)
	assert.Equal(t, "10", rep.Changes[0].OldValue)
	assert.Equal(t, "11,12", rep.Changes[0].NewValue)
	assert.Equal(t, "run-1", rep.Changes[0].RunID)
}

func TestRun_SpacesCalls(t *testing.T) {
	crm := &fakeCRM{}
	a := New(crm, Options{MinInterval: DefaultMinInterval})
	a.Run(context.Background(), "r", []Batch{
		{SubjectID: "m1", WinnerID: "1", Tasks: []Task{{LoserID: "2"}, {LoserID: "3"}, {LoserID: "4"}}},
	})

	require.Len(t, crm.at, 3)
	for i := 1; i < len(crm.at); i++ {
		// Small slack for timer granularity.
		assert.GreaterOrEqual(t, crm.at[i].Sub(crm.at[i-1]), DefaultMinInterval-5*time.Millisecond)
	}
}

func TestRun_FailureContinues(t *testing.T) {
	crm := &fakeCRM{fail: map[string]error{"11": errors.New("boom")}}
	a := New(crm, Options{})
	rep := a.Run(context.Background(), "r", []Batch{
		{SubjectID: "m1", WinnerID: "10", Tasks: []Task{{LoserID: "11"}, {LoserID: "12"}}},
		{SubjectID: "m2", WinnerID: "20", Tasks: []Task{{LoserID: "11"}}},
	})

	assert.Equal(t, []string{"11", "12", "11"}, crm.calls)
	assert.Equal(t, 1, rep.Archived)
	assert.Equal(t, 2, rep.Failed)
	require.Len(t, rep.Issues, 2)
	assert.Equal(t, model.IssueArchivalFailure, rep.Issues[0].Kind)
	assert.Equal(t, model.SeverityWarning, rep.Issues[0].Severity)
	assert.Equal(t, "11", rep.Issues[0].SubjectID)
	assert.Contains(t, rep.Issues[0].Message, "boom")

	// Only the batch with a success gets a change.
	require.Len(t, rep.Changes, 1)
	assert.Equal(t, "12", rep.Changes[0].NewValue)
}

func TestRun_CancellationKeepsCompleted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	crm := &fakeCRM{}
	crm.onCall = func(id string) {
		if id == "11" {
			cancel()
		}
	}
	a := New(crm, Options{})
	rep := a.Run(ctx, "r", []Batch{
		{SubjectID: "m1", WinnerID: "10", Tasks: []Task{{LoserID: "11"}, {LoserID: "12"}}},
		{SubjectID: "m2", WinnerID: "20", Tasks: []Task{{LoserID: "21"}}},
	})

	assert.True(t, rep.Cancelled)
	assert.Equal(t, []string{"11"}, crm.calls)
	require.Len(t, rep.Results, 1)
	assert.NoError(t, rep.Results[0].Err)
	require.Len(t, rep.Changes, 1)
	assert.Equal(t, "11", rep.Changes[0].NewValue)
}

func TestRun_Empty(t *testing.T) {
	rep := New(&fakeCRM{}, Options{}).Run(context.Background(), "r", nil)
	assert.Empty(t, rep.Results)
	assert.Empty(t, rep.Changes)
}
