package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

// conflictArgs matches the fourteen values of a conflict insert, pinning only the id.
func conflictArgs(id string) []any {
	args := []any{id}
	for range 13 {
		args = append(args, pgxmock.AnyArg())
	}
	return args
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, year, status, dry_run, error, started_at, completed_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetConflict_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM conflicts WHERE id = \$1`).
		WithArgs("c-missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetConflict(context.Background(), "c-missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListConflicts_BuildsFilter(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	created := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	rows := mock.NewRows([]string{"id", "run_id", "subject_id", "type", "option_a", "option_b", "recommended",
		"severity", "status", "decision", "payload", "created_at", "resolved_at"}).
		AddRow("c1", "r1", "m1", model.ConflictExternalIDCollision,
			[]byte(`{"value":"m0","source":"registry"}`), []byte(`{"value":"m1","source":"registry"}`),
			model.OptionNone, model.SeverityHigh, model.ConflictPending, []byte(nil),
			[]byte(`{"contact_id":"100","identity_ids":["m0","m1"]}`), created, (*time.Time)(nil))

	mock.ExpectQuery(`FROM conflicts WHERE status = \$1 AND type = \$2 ORDER BY created_at, id LIMIT \$3`).
		WithArgs("pending", "external_id_collision", 10000).
		WillReturnRows(rows)

	got, err := s.ListConflicts(context.Background(), ConflictFilter{
		Status: model.ConflictPending,
		Type:   model.ConflictExternalIDCollision,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m0", got[0].OptionA.Value)
	p, ok := got[0].Payload.(model.CollisionPayload)
	require.True(t, ok)
	assert.Equal(t, []string{"m0", "m1"}, p.IdentityIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DecideConflict_NotPending(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE conflicts SET status = \$1, decision = \$2, resolved_at = \$3 WHERE id = \$4 AND status = 'pending'`).
		WithArgs("resolved", pgxmock.AnyArg(), pgxmock.AnyArg(), "c1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	now := time.Now()
	c := testConflict("c1", "m1")
	c.Status = model.ConflictResolved
	c.Decision = &model.Decision{Kind: model.DecideOptionA}
	c.ResolvedAt = &now

	err := s.DecideConflict(context.Background(), &c, nil)
	assert.ErrorIs(t, err, ErrNotPending)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DecideConflict_SchedulesTasks(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE conflicts SET status`).
		WithArgs("resolved", pgxmock.AnyArg(), pgxmock.AnyArg(), "c1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO archive_tasks .* ON CONFLICT \(conflict_id, loser_id\) DO NOTHING`).
		WithArgs("c1", "m1", "100", "101", "pending", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	c := testConflict("c1", "m1")
	c.Status = model.ConflictResolved
	c.Decision = &model.Decision{Kind: model.DecideOptionA}
	err := s.DecideConflict(context.Background(), &c, []model.ArchiveTask{
		{ConflictID: "c1", SubjectID: "m1", WinnerID: "100", LoserID: "101", Status: model.ArchivePending, CreatedAt: time.Now()},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AcquireRunLock(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT pg_try_advisory_xact_lock\(\$1\)`).
		WithArgs(runLockKey).
		WillReturnRows(mock.NewRows([]string{"ok"}).AddRow(true))
	mock.ExpectRollback()

	release, err := s.AcquireRunLock(context.Background())
	require.NoError(t, err)
	release()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AcquireRunLock_Held(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT pg_try_advisory_xact_lock`).
		WithArgs(runLockKey).
		WillReturnRows(mock.NewRows([]string{"ok"}).AddRow(false))
	mock.ExpectRollback()

	_, err := s.AcquireRunLock(context.Background())
	assert.ErrorIs(t, err, ErrRunLocked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Commit_ReplacesRaw(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM raw_records WHERE source = \$1 AND year = \$2`).
		WithArgs("intake_signup", 2025).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCopyFrom(pgx.Identifier{"raw_records"}, []string{"source", "year", "record_id", "data", "loaded_at"}).
		WillReturnResult(1)
	mock.ExpectExec(`DELETE FROM raw_records WHERE source = \$1 AND year = \$2`).
		WithArgs("crm", 2025).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := s.Commit(context.Background(), Batch{Raw: []RawSet{
		{Source: model.SourceIntakeSignup, Year: 2025, Records: []RawRecord{{RecordID: "s1", Data: []byte(`{}`)}}},
		{Source: model.SourceCRM, Year: 2025, Records: []RawRecord{{RecordID: "100", Data: []byte(`{}`)}}},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clear raw crm")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Commit_OneTransaction(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_stage_identities"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_identities"},
		[]string{"id", "phone", "external_contact_id", "dropped", "data", "updated_at"}).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "identities"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO conflicts .* ON CONFLICT \(dedupe_key\) DO NOTHING`).
		WithArgs(conflictArgs("c1")...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"changes"},
		[]string{"run_id", "subject_id", "type", "field", "old_value", "new_value", "significant", "source_table", "at"}).
		WillReturnResult(1)
	mock.ExpectExec(`DELETE FROM export_rows`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"export_rows"}, []string{"identity_id", "run_id", "values", "built_at"}).
		WillReturnResult(1)
	mock.ExpectCommit()

	now := time.Now().UTC()
	err := s.Commit(context.Background(), Batch{
		Identities: []model.Identity{{ID: "m1", Phone: "+15555550100", UpdatedAt: now}},
		Conflicts:  []model.Conflict{testConflict("c1", "m1")},
		Changes: []model.Change{
			{RunID: "r", SubjectID: "m1", Type: model.ChangeNewIdentity, SourceTable: "identities", At: now},
		},
		Export:        []model.ExportRow{{IdentityID: "m1", RunID: "r", BuiltAt: now, Values: map[string]string{"Phone": "+15555550100"}}},
		ReplaceExport: true,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Commit_RollsBackOnError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO conflicts`).WithArgs(conflictArgs("c1")...).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := s.Commit(context.Background(), Batch{Conflicts: []model.Conflict{testConflict("c1", "m1")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert conflict c1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate_SkipsApplied(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT pg_advisory_lock\(\$1\)`).WithArgs(migrationLockKey).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT filename FROM schema_migrations`).
		WillReturnRows(mock.NewRows([]string{"filename"}).AddRow("001_init.sql"))
	mock.ExpectExec(`SELECT pg_advisory_unlock\(\$1\)`).WithArgs(migrationLockKey).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate_AppliesPending(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT pg_advisory_lock`).WithArgs(migrationLockKey).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT filename FROM schema_migrations`).
		WillReturnRows(mock.NewRows([]string{"filename"}))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS raw_records`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs("001_init.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`SELECT pg_advisory_unlock`).WithArgs(migrationLockKey).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1, error = \$2, completed_at = \$3 WHERE id = \$4`).
		WithArgs("complete", "", pgxmock.AnyArg(), "gone").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinishRun(context.Background(), &model.Run{ID: "gone", Status: model.RunStatusComplete})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppConfig(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT key, value FROM app_config WHERE year = \$1`).WithArgs(2025).
		WillReturnRows(mock.NewRows([]string{"key", "value"}).AddRow("campaign_code", "SWAB25"))

	got, err := s.AppConfig(context.Background(), 2025)
	require.NoError(t, err)
	assert.Equal(t, "SWAB25", got["campaign_code"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
