package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/SWAB-ITO/swab-app-sub000/internal/db"
	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Advisory lock keys. The migration lock is session-scoped; the run lock is
// transaction-scoped and held by an open transaction for the run's lifetime.
const (
	migrationLockKey = 7_310_2025
	runLockKey       = 7_310_2026
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate applies pending SQL migrations in lexicographic order under an
// advisory lock so overlapping deploys cannot race.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return eris.Wrap(err, "postgres: acquire migration lock")
	}
	defer func() {
		if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockKey); err != nil {
			log.Warn("postgres: release migration lock", zap.Error(err))
		}
	}()

	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return eris.Wrap(err, "postgres: ensure migration table")
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return eris.Wrap(err, "postgres: read migration dir")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "postgres: read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))
		if _, err := s.pool.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "postgres: apply migration %s", name)
		}
		if _, err := s.pool.Exec(ctx, "INSERT INTO schema_migrations (filename) VALUES ($1)", name); err != nil {
			return eris.Wrapf(err, "postgres: record migration %s", name)
		}
	}
	return nil
}

func (s *PostgresStore) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan migration row")
		}
		applied[name] = true
	}
	return applied, eris.Wrap(rows.Err(), "postgres: iterate migrations")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// AcquireRunLock holds a transaction-scoped advisory lock until release is
// called. The open transaction pins one pooled connection for the run.
func (s *PostgresStore) AcquireRunLock(ctx context.Context) (func(), error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin run lock")
	}
	var ok bool
	if err := tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1)", runLockKey).Scan(&ok); err != nil {
		_ = tx.Rollback(ctx)
		return nil, eris.Wrap(err, "postgres: try run lock")
	}
	if !ok {
		_ = tx.Rollback(ctx)
		return nil, ErrRunLocked
	}
	return func() {
		if err := tx.Rollback(context.Background()); err != nil {
			zap.L().Warn("postgres: release run lock", zap.Error(err))
		}
	}, nil
}

// replaceRaw swaps every record for one source and year inside tx.
func (s *PostgresStore) replaceRaw(ctx context.Context, tx pgx.Tx, set RawSet, loadedAt time.Time) error {
	if _, err := tx.Exec(ctx, `DELETE FROM raw_records WHERE source = $1 AND year = $2`, string(set.Source), set.Year); err != nil {
		return eris.Wrapf(err, "postgres: clear raw %s", set.Source)
	}

	rows := make([][]any, len(set.Records))
	for i, r := range set.Records {
		rows[i] = []any{string(set.Source), set.Year, r.RecordID, []byte(r.Data), loadedAt}
	}
	_, err := db.CopyFrom(ctx, tx, "raw_records", []string{"source", "year", "record_id", "data", "loaded_at"}, rows)
	return err
}

// LoadRaw reads every record for source and year in record id order.
func (s *PostgresStore) LoadRaw(ctx context.Context, source model.Source, year int) ([]RawRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record_id, data, loaded_at FROM raw_records WHERE source = $1 AND year = $2 ORDER BY record_id`,
		string(source), year,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load raw %s", source)
	}
	defer rows.Close()

	var out []RawRecord
	for rows.Next() {
		r := RawRecord{Source: source, Year: year}
		var data []byte
		if err := rows.Scan(&r.RecordID, &data, &r.LoadedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan raw record")
		}
		r.Data = data
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: load raw iterate")
}

// ListIdentities returns every canonical identity ordered by id.
func (s *PostgresStore) ListIdentities(ctx context.Context) ([]model.Identity, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM identities ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list identities")
	}
	defer rows.Close()

	var out []model.Identity
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan identity")
		}
		var ident model.Identity
		if err := json.Unmarshal(data, &ident); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal identity")
		}
		out = append(out, ident)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list identities iterate")
}

// GetIdentity returns one identity or ErrNotFound.
func (s *PostgresStore) GetIdentity(ctx context.Context, id string) (*model.Identity, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM identities WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get identity %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get identity %s", id)
	}
	var ident model.Identity
	if err := json.Unmarshal(data, &ident); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal identity")
	}
	return &ident, nil
}

const conflictColumns = `id, run_id, subject_id, type, option_a, option_b, recommended, severity, status, decision, payload, created_at, resolved_at`

func scanConflict(row pgx.Row) (*model.Conflict, error) {
	var c model.Conflict
	var js conflictJSON
	if err := row.Scan(&c.ID, &c.RunID, &c.SubjectID, &c.Type, &js.optionA, &js.optionB,
		&c.Recommended, &c.Severity, &c.Status, &js.decision, &js.payload, &c.CreatedAt, &c.ResolvedAt); err != nil {
		return nil, err
	}
	if err := decodeConflict(&c, js); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConflict returns one conflict or ErrNotFound.
func (s *PostgresStore) GetConflict(ctx context.Context, id string) (*model.Conflict, error) {
	c, err := scanConflict(s.pool.QueryRow(ctx, `SELECT `+conflictColumns+` FROM conflicts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get conflict %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get conflict %s", id)
	}
	return c, nil
}

// ListConflicts returns conflicts matching filter, oldest first.
func (s *PostgresStore) ListConflicts(ctx context.Context, filter ConflictFilter) ([]model.Conflict, error) {
	f := &filterBuilder{numbered: true}
	conflictWhere(f, filter)
	query := `SELECT ` + conflictColumns + ` FROM conflicts` + f.where() + ` ORDER BY created_at, id`
	query += f.limit(filter.Limit, 10000)

	rows, err := s.pool.Query(ctx, query, f.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list conflicts")
	}
	defer rows.Close()

	var out []model.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan conflict")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list conflicts iterate")
}

// DecideConflict records an operator decision and any archive tasks.
func (s *PostgresStore) DecideConflict(ctx context.Context, c *model.Conflict, tasks []model.ArchiveTask) error {
	js, err := encodeConflict(*c)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin decide conflict")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE conflicts SET status = $1, decision = $2, resolved_at = $3 WHERE id = $4 AND status = 'pending'`,
		string(c.Status), js.decision, c.ResolvedAt, c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: decide conflict %s", c.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotPending, "postgres: decide conflict %s", c.ID)
	}

	for _, t := range tasks {
		if _, err := tx.Exec(ctx,
			`INSERT INTO archive_tasks (conflict_id, subject_id, winner_id, loser_id, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $6) ON CONFLICT (conflict_id, loser_id) DO NOTHING`,
			t.ConflictID, t.SubjectID, t.WinnerID, t.LoserID, string(t.Status), t.CreatedAt,
		); err != nil {
			return eris.Wrapf(err, "postgres: schedule archival of %s", t.LoserID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit decide conflict")
}

// ListChanges returns change records matching filter in time order.
func (s *PostgresStore) ListChanges(ctx context.Context, filter ChangeFilter) ([]model.Change, error) {
	f := &filterBuilder{numbered: true}
	if filter.SubjectID != "" {
		f.add("subject_id = %s", filter.SubjectID)
	}
	if filter.Type != "" {
		f.add("type = %s", string(filter.Type))
	}
	if !filter.Since.IsZero() {
		f.add("at >= %s", filter.Since)
	}
	if !filter.Until.IsZero() {
		f.add("at < %s", filter.Until)
	}
	if filter.SignificantOnly {
		f.conds = append(f.conds, "significant")
	}
	query := `SELECT id, run_id, subject_id, type, field, old_value, new_value, significant, source_table, at FROM changes` +
		f.where() + ` ORDER BY at, id`
	query += f.limit(filter.Limit, 10000)

	rows, err := s.pool.Query(ctx, query, f.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list changes")
	}
	defer rows.Close()

	var out []model.Change
	for rows.Next() {
		var c model.Change
		if err := rows.Scan(&c.ID, &c.RunID, &c.SubjectID, &c.Type, &c.Field, &c.OldValue, &c.NewValue,
			&c.Significant, &c.SourceTable, &c.At); err != nil {
			return nil, eris.Wrap(err, "postgres: scan change")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list changes iterate")
}

// ListIssues returns issues matching filter, newest first.
func (s *PostgresStore) ListIssues(ctx context.Context, filter IssueFilter) ([]model.Issue, error) {
	f := &filterBuilder{numbered: true}
	issueWhere(f, filter)
	query := `SELECT id, run_id, stage, subject_id, kind, severity, message, created_at FROM issues` +
		f.where() + ` ORDER BY created_at DESC, id DESC`
	query += f.limit(filter.Limit, 1000)

	rows, err := s.pool.Query(ctx, query, f.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list issues")
	}
	defer rows.Close()

	var out []model.Issue
	for rows.Next() {
		var i model.Issue
		if err := rows.Scan(&i.ID, &i.RunID, &i.Stage, &i.SubjectID, &i.Kind, &i.Severity, &i.Message, &i.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan issue")
		}
		out = append(out, i)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list issues iterate")
}

// PendingArchiveTasks returns scheduled archivals still to attempt.
func (s *PostgresStore) PendingArchiveTasks(ctx context.Context) ([]model.ArchiveTask, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conflict_id, subject_id, winner_id, loser_id, status, attempts, last_error, created_at, updated_at
		 FROM archive_tasks WHERE status IN ('pending', 'failed') AND attempts < $1 ORDER BY id`,
		MaxArchiveAttempts,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list archive tasks")
	}
	defer rows.Close()

	var out []model.ArchiveTask
	for rows.Next() {
		var t model.ArchiveTask
		if err := rows.Scan(&t.ID, &t.ConflictID, &t.SubjectID, &t.WinnerID, &t.LoserID, &t.Status,
			&t.Attempts, &t.LastError, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan archive task")
		}
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list archive tasks iterate")
}

// ListExport returns the current export rows ordered by identity id.
func (s *PostgresStore) ListExport(ctx context.Context) ([]model.ExportRow, error) {
	rows, err := s.pool.Query(ctx, `SELECT identity_id, run_id, "values", built_at FROM export_rows ORDER BY identity_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list export")
	}
	defer rows.Close()

	var out []model.ExportRow
	for rows.Next() {
		var r model.ExportRow
		var values []byte
		if err := rows.Scan(&r.IdentityID, &r.RunID, &values, &r.BuiltAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan export row")
		}
		if err := json.Unmarshal(values, &r.Values); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal export row")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list export iterate")
}

// Commit applies a stage's writes in one transaction.
func (s *PostgresStore) Commit(ctx context.Context, b Batch) error {
	if b.Empty() {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin commit")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	loadedAt := time.Now().UTC()
	for _, set := range b.Raw {
		if err := s.replaceRaw(ctx, tx, set, loadedAt); err != nil {
			return err
		}
	}

	if len(b.Identities) > 0 {
		rows := make([][]any, len(b.Identities))
		for i, ident := range b.Identities {
			data, err := json.Marshal(ident)
			if err != nil {
				return eris.Wrapf(err, "postgres: marshal identity %s", ident.ID)
			}
			rows[i] = []any{ident.ID, ident.Phone, ident.ExternalContactID, ident.Dropped, data, ident.UpdatedAt}
		}
		if _, err := db.BulkUpsert(ctx, tx, db.UpsertConfig{
			Table:        "identities",
			Columns:      []string{"id", "phone", "external_contact_id", "dropped", "data", "updated_at"},
			ConflictKeys: []string{"id"},
			OnlyChanged:  true,
		}, rows); err != nil {
			return err
		}
	}

	for _, c := range b.Conflicts {
		js, err := encodeConflict(c)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO conflicts (`+conflictColumns+`, dedupe_key)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			 ON CONFLICT (dedupe_key) DO NOTHING`,
			c.ID, c.RunID, c.SubjectID, string(c.Type), js.optionA, js.optionB, string(c.Recommended),
			string(c.Severity), string(c.Status), js.decision, js.payload, c.CreatedAt, c.ResolvedAt, c.DedupeKey(),
		); err != nil {
			return eris.Wrapf(err, "postgres: insert conflict %s", c.ID)
		}
	}

	if len(b.Changes) > 0 {
		rows := make([][]any, len(b.Changes))
		for i, c := range b.Changes {
			rows[i] = []any{c.RunID, c.SubjectID, string(c.Type), c.Field, c.OldValue, c.NewValue, c.Significant, c.SourceTable, c.At}
		}
		if _, err := db.CopyFrom(ctx, tx, "changes",
			[]string{"run_id", "subject_id", "type", "field", "old_value", "new_value", "significant", "source_table", "at"}, rows); err != nil {
			return err
		}
	}

	if len(b.Issues) > 0 {
		rows := make([][]any, len(b.Issues))
		for i, is := range b.Issues {
			rows[i] = []any{is.RunID, is.Stage, is.SubjectID, string(is.Kind), string(is.Severity), is.Message, is.CreatedAt}
		}
		if _, err := db.CopyFrom(ctx, tx, "issues",
			[]string{"run_id", "stage", "subject_id", "kind", "severity", "message", "created_at"}, rows); err != nil {
			return err
		}
	}

	for _, t := range b.ArchiveTasks {
		if _, err := tx.Exec(ctx,
			`UPDATE archive_tasks SET status = $1, attempts = $2, last_error = $3, updated_at = $4 WHERE id = $5`,
			string(t.Status), t.Attempts, t.LastError, t.UpdatedAt, t.ID,
		); err != nil {
			return eris.Wrapf(err, "postgres: update archive task %d", t.ID)
		}
	}

	if b.ReplaceExport {
		if _, err := tx.Exec(ctx, `DELETE FROM export_rows`); err != nil {
			return eris.Wrap(err, "postgres: clear export")
		}
		rows := make([][]any, len(b.Export))
		for i, r := range b.Export {
			values, err := json.Marshal(r.Values)
			if err != nil {
				return eris.Wrapf(err, "postgres: marshal export row %s", r.IdentityID)
			}
			rows[i] = []any{r.IdentityID, r.RunID, values, r.BuiltAt}
		}
		if _, err := db.CopyFrom(ctx, tx, "export_rows", []string{"identity_id", "run_id", "values", "built_at"}, rows); err != nil {
			return err
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit")
}

// CreateRun inserts a run row.
func (s *PostgresStore) CreateRun(ctx context.Context, run *model.Run) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, year, status, dry_run, started_at) VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.Year, string(run.Status), run.DryRun, run.StartedAt,
	)
	return eris.Wrapf(err, "postgres: create run %s", run.ID)
}

// SaveStage records one stage outcome.
func (s *PostgresStore) SaveStage(ctx context.Context, runID string, stage model.StageResult) error {
	var metadata []byte
	if len(stage.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(stage.Metadata); err != nil {
			return eris.Wrap(err, "postgres: marshal stage metadata")
		}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_stages (run_id, name, status, duration_ms, error, metadata) VALUES ($1, $2, $3, $4, $5, $6)`,
		runID, stage.Name, string(stage.Status), stage.Duration, stage.Error, metadata,
	)
	return eris.Wrapf(err, "postgres: save stage %s", stage.Name)
}

// FinishRun records the final status of a run.
func (s *PostgresStore) FinishRun(ctx context.Context, run *model.Run) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, completed_at = $3 WHERE id = $4`,
		string(run.Status), run.Error, run.CompletedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: finish run %s", run.ID)
	}
	return nil
}

// GetRun returns a run with its stages.
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	err := s.pool.QueryRow(ctx,
		`SELECT id, year, status, dry_run, error, started_at, completed_at FROM runs WHERE id = $1`, runID,
	).Scan(&r.ID, &r.Year, &r.Status, &r.DryRun, &r.Error, &r.StartedAt, &r.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT name, status, duration_ms, error, metadata FROM run_stages WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get stages for %s", runID)
	}
	defer rows.Close()
	for rows.Next() {
		var st model.StageResult
		var metadata []byte
		if err := rows.Scan(&st.Name, &st.Status, &st.Duration, &st.Error, &metadata); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stage")
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &st.Metadata); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal stage metadata")
			}
		}
		r.Stages = append(r.Stages, st)
	}
	return &r, eris.Wrap(rows.Err(), "postgres: get stages iterate")
}

// ListRuns returns runs newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, year, status, dry_run, error, started_at, completed_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		if err := rows.Scan(&r.ID, &r.Year, &r.Status, &r.DryRun, &r.Error, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// AppConfig returns the overrides saved for a program year.
func (s *PostgresStore) AppConfig(ctx context.Context, year int) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM app_config WHERE year = $1`, year)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: app config")
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, eris.Wrap(err, "postgres: scan app config")
		}
		out[k] = v
	}
	return out, eris.Wrap(rows.Err(), "postgres: app config iterate")
}

// SetAppConfig saves one override.
func (s *PostgresStore) SetAppConfig(ctx context.Context, year int, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO app_config (year, key, value, updated_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (year, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		year, key, value,
	)
	return eris.Wrapf(err, "postgres: set app config %s", key)
}
