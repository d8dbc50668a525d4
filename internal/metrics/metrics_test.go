package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveStage("load_raw", time.Second)
	m.RunFinished("complete", time.Now())
	m.AddMatches("phone", 3)
	m.AddConflict("contact_selection")
	m.AddArchivals(1, 1)
	m.AddIssue("archival_failure")
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.WriteTextfile("/nonexistent/x.prom"))
}

func TestCounters(t *testing.T) {
	m := New()
	m.AddMatches("phone", 3)
	m.AddMatches("phone", 0)
	m.AddConflict("contact_selection")
	m.AddArchivals(2, 1)
	m.RunFinished("complete", time.Unix(1_700_000_000, 0))

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Matches.WithLabelValues("phone")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConflictsCreated.WithLabelValues("contact_selection")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Archivals.WithLabelValues("archived")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Archivals.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("complete")))
	assert.Equal(t, 1_700_000_000.0, testutil.ToFloat64(m.LastSuccess))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.RunFinished("failed", time.Now())
	path := filepath.Join(t.TempDir(), "swab.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `swab_sync_runs_total{status="failed"} 1`)
}
