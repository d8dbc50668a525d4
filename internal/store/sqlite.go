package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
)

// RunLockTTL is how long a SQLite run lock row is honored before a new run
// may take it over from a crashed process.
const RunLockTTL = 2 * time.Hour

// SQLiteStore implements Store using modernc.org/sqlite. It backs local
// development and tests; production uses PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS raw_records (
	source    TEXT NOT NULL,
	year      INTEGER NOT NULL,
	record_id TEXT NOT NULL,
	data      TEXT NOT NULL,
	loaded_at TEXT NOT NULL,
	PRIMARY KEY (source, year, record_id)
);

CREATE TABLE IF NOT EXISTS identities (
	id                  TEXT PRIMARY KEY,
	phone               TEXT NOT NULL,
	external_contact_id TEXT NOT NULL DEFAULT '',
	dropped             INTEGER NOT NULL DEFAULT 0,
	data                TEXT NOT NULL,
	updated_at          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS conflicts (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	subject_id  TEXT NOT NULL,
	type        TEXT NOT NULL,
	option_a    TEXT NOT NULL,
	option_b    TEXT NOT NULL,
	recommended TEXT NOT NULL DEFAULT '',
	severity    TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'resolved', 'skipped')),
	decision    TEXT,
	payload     TEXT,
	dedupe_key  TEXT NOT NULL UNIQUE,
	created_at  TEXT NOT NULL,
	resolved_at TEXT
);

CREATE TABLE IF NOT EXISTS changes (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	subject_id   TEXT NOT NULL,
	type         TEXT NOT NULL,
	field        TEXT NOT NULL DEFAULT '',
	old_value    TEXT NOT NULL DEFAULT '',
	new_value    TEXT NOT NULL DEFAULT '',
	significant  INTEGER NOT NULL DEFAULT 0,
	source_table TEXT NOT NULL,
	at           TEXT NOT NULL
);

CREATE TRIGGER IF NOT EXISTS changes_no_update BEFORE UPDATE ON changes
BEGIN
	SELECT RAISE(ABORT, 'changes is append-only');
END;

CREATE TRIGGER IF NOT EXISTS changes_no_delete BEFORE DELETE ON changes
BEGIN
	SELECT RAISE(ABORT, 'changes is append-only');
END;

CREATE TABLE IF NOT EXISTS issues (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	stage      TEXT NOT NULL,
	subject_id TEXT NOT NULL DEFAULT '',
	kind       TEXT NOT NULL,
	severity   TEXT NOT NULL,
	message    TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS archive_tasks (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	conflict_id TEXT NOT NULL,
	subject_id  TEXT NOT NULL,
	winner_id   TEXT NOT NULL,
	loser_id    TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	attempts    INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	UNIQUE (conflict_id, loser_id)
);

CREATE TABLE IF NOT EXISTS export_rows (
	identity_id TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	"values"    TEXT NOT NULL,
	built_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	year         INTEGER NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	dry_run      INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	started_at   TEXT NOT NULL,
	completed_at TEXT
);

CREATE TABLE IF NOT EXISTS run_stages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	name        TEXT NOT NULL,
	status      TEXT NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	metadata    TEXT
);

CREATE TABLE IF NOT EXISTS app_config (
	year       INTEGER NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (year, key)
);

CREATE TABLE IF NOT EXISTS run_lock (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	owner       TEXT NOT NULL,
	acquired_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_identities_phone ON identities(phone);
CREATE INDEX IF NOT EXISTS idx_identities_external_contact_id ON identities(external_contact_id);
CREATE INDEX IF NOT EXISTS idx_conflicts_status ON conflicts(status);
CREATE INDEX IF NOT EXISTS idx_changes_subject_at ON changes(subject_id, at);
CREATE INDEX IF NOT EXISTS idx_issues_run_id ON issues(run_id);
CREATE INDEX IF NOT EXISTS idx_archive_tasks_status ON archive_tasks(status);
CREATE INDEX IF NOT EXISTS idx_run_stages_run_id ON run_stages(run_id);
`

// Migrate creates the schema if missing.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AcquireRunLock claims the single run_lock row. Rows older than RunLockTTL
// are treated as abandoned.
func (s *SQLiteStore) AcquireRunLock(ctx context.Context) (func(), error) {
	now := time.Now().UTC()
	owner := uuid.NewString()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM run_lock WHERE acquired_at < ?`, fmtTime(now.Add(-RunLockTTL))); err != nil {
		return nil, eris.Wrap(err, "sqlite: clear stale run lock")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO run_lock (id, owner, acquired_at) VALUES (1, ?, ?)`, owner, fmtTime(now))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: acquire run lock")
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, eris.Wrap(err, "sqlite: acquire run lock")
	} else if n == 0 {
		return nil, ErrRunLocked
	}
	return func() {
		_, _ = s.db.ExecContext(context.Background(), `DELETE FROM run_lock WHERE owner = ?`, owner)
	}, nil
}

// replaceRaw swaps every record for one source and year inside tx.
func (s *SQLiteStore) replaceRaw(ctx context.Context, tx *sql.Tx, set RawSet, loadedAt string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM raw_records WHERE source = ? AND year = ?`, string(set.Source), set.Year); err != nil {
		return eris.Wrapf(err, "sqlite: clear raw %s", set.Source)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO raw_records (source, year, record_id, data, loaded_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare raw insert")
	}
	defer stmt.Close()

	for _, r := range set.Records {
		if _, err := stmt.ExecContext(ctx, string(set.Source), set.Year, r.RecordID, string(r.Data), loadedAt); err != nil {
			return eris.Wrapf(err, "sqlite: insert raw %s %s", set.Source, r.RecordID)
		}
	}
	return nil
}

// LoadRaw reads every record for source and year in record id order.
func (s *SQLiteStore) LoadRaw(ctx context.Context, source model.Source, year int) ([]RawRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id, data, loaded_at FROM raw_records WHERE source = ? AND year = ? ORDER BY record_id`,
		string(source), year)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load raw %s", source)
	}
	defer rows.Close()

	var out []RawRecord
	for rows.Next() {
		r := RawRecord{Source: source, Year: year}
		var data, loaded string
		if err := rows.Scan(&r.RecordID, &data, &loaded); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan raw record")
		}
		r.Data = json.RawMessage(data)
		r.LoadedAt = parseTime(loaded)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: load raw iterate")
}

// ListIdentities returns every canonical identity ordered by id.
func (s *SQLiteStore) ListIdentities(ctx context.Context) ([]model.Identity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM identities ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list identities")
	}
	defer rows.Close()

	var out []model.Identity
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan identity")
		}
		var ident model.Identity
		if err := json.Unmarshal([]byte(data), &ident); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal identity")
		}
		out = append(out, ident)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list identities iterate")
}

// GetIdentity returns one identity or ErrNotFound.
func (s *SQLiteStore) GetIdentity(ctx context.Context, id string) (*model.Identity, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM identities WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get identity %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get identity %s", id)
	}
	var ident model.Identity
	if err := json.Unmarshal([]byte(data), &ident); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal identity")
	}
	return &ident, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteConflict(row scannable) (*model.Conflict, error) {
	var (
		c                 model.Conflict
		optA, optB        string
		decision, payload sql.NullString
		created           string
		resolved          sql.NullString
	)
	if err := row.Scan(&c.ID, &c.RunID, &c.SubjectID, &c.Type, &optA, &optB, &c.Recommended,
		&c.Severity, &c.Status, &decision, &payload, &created, &resolved); err != nil {
		return nil, err
	}
	js := conflictJSON{optionA: []byte(optA), optionB: []byte(optB)}
	if decision.Valid {
		js.decision = []byte(decision.String)
	}
	if payload.Valid {
		js.payload = []byte(payload.String)
	}
	if err := decodeConflict(&c, js); err != nil {
		return nil, err
	}
	c.CreatedAt = parseTime(created)
	c.ResolvedAt = parseNullTime(resolved)
	return &c, nil
}

// GetConflict returns one conflict or ErrNotFound.
func (s *SQLiteStore) GetConflict(ctx context.Context, id string) (*model.Conflict, error) {
	c, err := scanSQLiteConflict(s.db.QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM conflicts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get conflict %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get conflict %s", id)
	}
	return c, nil
}

// ListConflicts returns conflicts matching filter, oldest first.
func (s *SQLiteStore) ListConflicts(ctx context.Context, filter ConflictFilter) ([]model.Conflict, error) {
	f := &filterBuilder{}
	conflictWhere(f, filter)
	query := `SELECT ` + conflictColumns + ` FROM conflicts` + f.where() + ` ORDER BY created_at, id`
	query += f.limit(filter.Limit, 10000)

	rows, err := s.db.QueryContext(ctx, query, f.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list conflicts")
	}
	defer rows.Close()

	var out []model.Conflict
	for rows.Next() {
		c, err := scanSQLiteConflict(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan conflict")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list conflicts iterate")
}

// DecideConflict records an operator decision and any archive tasks.
func (s *SQLiteStore) DecideConflict(ctx context.Context, c *model.Conflict, tasks []model.ArchiveTask) error {
	js, err := encodeConflict(*c)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin decide conflict")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE conflicts SET status = ?, decision = ?, resolved_at = ? WHERE id = ? AND status = 'pending'`,
		string(c.Status), nullString(js.decision), fmtNullTime(c.ResolvedAt), c.ID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: decide conflict %s", c.ID)
	}
	if n, err := res.RowsAffected(); err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	} else if n == 0 {
		return eris.Wrapf(ErrNotPending, "sqlite: decide conflict %s", c.ID)
	}

	for _, t := range tasks {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO archive_tasks (conflict_id, subject_id, winner_id, loser_id, status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.ConflictID, t.SubjectID, t.WinnerID, t.LoserID, string(t.Status), fmtTime(t.CreatedAt), fmtTime(t.CreatedAt),
		); err != nil {
			return eris.Wrapf(err, "sqlite: schedule archival of %s", t.LoserID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit decide conflict")
}

// ListChanges returns change records matching filter in time order.
func (s *SQLiteStore) ListChanges(ctx context.Context, filter ChangeFilter) ([]model.Change, error) {
	f := &filterBuilder{}
	if filter.SubjectID != "" {
		f.add("subject_id = %s", filter.SubjectID)
	}
	if filter.Type != "" {
		f.add("type = %s", string(filter.Type))
	}
	if !filter.Since.IsZero() {
		f.add("at >= %s", fmtTime(filter.Since))
	}
	if !filter.Until.IsZero() {
		f.add("at < %s", fmtTime(filter.Until))
	}
	if filter.SignificantOnly {
		f.conds = append(f.conds, "significant = 1")
	}
	query := `SELECT id, run_id, subject_id, type, field, old_value, new_value, significant, source_table, at FROM changes` +
		f.where() + ` ORDER BY at, id`
	query += f.limit(filter.Limit, 10000)

	rows, err := s.db.QueryContext(ctx, query, f.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list changes")
	}
	defer rows.Close()

	var out []model.Change
	for rows.Next() {
		var c model.Change
		var at string
		if err := rows.Scan(&c.ID, &c.RunID, &c.SubjectID, &c.Type, &c.Field, &c.OldValue, &c.NewValue,
			&c.Significant, &c.SourceTable, &at); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan change")
		}
		c.At = parseTime(at)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list changes iterate")
}

// ListIssues returns issues matching filter, newest first.
func (s *SQLiteStore) ListIssues(ctx context.Context, filter IssueFilter) ([]model.Issue, error) {
	f := &filterBuilder{}
	issueWhere(f, filter)
	query := `SELECT id, run_id, stage, subject_id, kind, severity, message, created_at FROM issues` +
		f.where() + ` ORDER BY created_at DESC, id DESC`
	query += f.limit(filter.Limit, 1000)

	rows, err := s.db.QueryContext(ctx, query, f.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list issues")
	}
	defer rows.Close()

	var out []model.Issue
	for rows.Next() {
		var i model.Issue
		var created string
		if err := rows.Scan(&i.ID, &i.RunID, &i.Stage, &i.SubjectID, &i.Kind, &i.Severity, &i.Message, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan issue")
		}
		i.CreatedAt = parseTime(created)
		out = append(out, i)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list issues iterate")
}

// PendingArchiveTasks returns scheduled archivals still to attempt.
func (s *SQLiteStore) PendingArchiveTasks(ctx context.Context) ([]model.ArchiveTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conflict_id, subject_id, winner_id, loser_id, status, attempts, last_error, created_at, updated_at
		 FROM archive_tasks WHERE status IN ('pending', 'failed') AND attempts < ? ORDER BY id`,
		MaxArchiveAttempts)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list archive tasks")
	}
	defer rows.Close()

	var out []model.ArchiveTask
	for rows.Next() {
		var t model.ArchiveTask
		var created, updated string
		if err := rows.Scan(&t.ID, &t.ConflictID, &t.SubjectID, &t.WinnerID, &t.LoserID, &t.Status,
			&t.Attempts, &t.LastError, &created, &updated); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan archive task")
		}
		t.CreatedAt, t.UpdatedAt = parseTime(created), parseTime(updated)
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list archive tasks iterate")
}

// ListExport returns the current export rows ordered by identity id.
func (s *SQLiteStore) ListExport(ctx context.Context) ([]model.ExportRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT identity_id, run_id, "values", built_at FROM export_rows ORDER BY identity_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list export")
	}
	defer rows.Close()

	var out []model.ExportRow
	for rows.Next() {
		var r model.ExportRow
		var values, built string
		if err := rows.Scan(&r.IdentityID, &r.RunID, &values, &built); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan export row")
		}
		if err := json.Unmarshal([]byte(values), &r.Values); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal export row")
		}
		r.BuiltAt = parseTime(built)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list export iterate")
}

// Commit applies a stage's writes in one transaction.
func (s *SQLiteStore) Commit(ctx context.Context, b Batch) error {
	if b.Empty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin commit")
	}
	defer tx.Rollback() //nolint:errcheck

	loadedAt := fmtTime(time.Now())
	for _, set := range b.Raw {
		if err := s.replaceRaw(ctx, tx, set, loadedAt); err != nil {
			return err
		}
	}

	for _, ident := range b.Identities {
		data, err := json.Marshal(ident)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal identity %s", ident.ID)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO identities (id, phone, external_contact_id, dropped, data, updated_at) VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET phone = excluded.phone, external_contact_id = excluded.external_contact_id,
			 dropped = excluded.dropped, data = excluded.data, updated_at = excluded.updated_at`,
			ident.ID, ident.Phone, ident.ExternalContactID, ident.Dropped, string(data), fmtTime(ident.UpdatedAt),
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert identity %s", ident.ID)
		}
	}

	for _, c := range b.Conflicts {
		js, err := encodeConflict(c)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conflicts (`+conflictColumns+`, dedupe_key) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (dedupe_key) DO NOTHING`,
			c.ID, c.RunID, c.SubjectID, string(c.Type), string(js.optionA), string(js.optionB), string(c.Recommended),
			string(c.Severity), string(c.Status), nullString(js.decision), nullString(js.payload),
			fmtTime(c.CreatedAt), fmtNullTime(c.ResolvedAt), c.DedupeKey(),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert conflict %s", c.ID)
		}
	}

	for _, c := range b.Changes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO changes (run_id, subject_id, type, field, old_value, new_value, significant, source_table, at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.RunID, c.SubjectID, string(c.Type), c.Field, c.OldValue, c.NewValue, c.Significant, c.SourceTable, fmtTime(c.At),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert change for %s", c.SubjectID)
		}
	}

	for _, is := range b.Issues {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO issues (run_id, stage, subject_id, kind, severity, message, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			is.RunID, is.Stage, is.SubjectID, string(is.Kind), string(is.Severity), is.Message, fmtTime(is.CreatedAt),
		); err != nil {
			return eris.Wrap(err, "sqlite: insert issue")
		}
	}

	for _, t := range b.ArchiveTasks {
		if _, err := tx.ExecContext(ctx,
			`UPDATE archive_tasks SET status = ?, attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			string(t.Status), t.Attempts, t.LastError, fmtTime(t.UpdatedAt), t.ID,
		); err != nil {
			return eris.Wrapf(err, "sqlite: update archive task %d", t.ID)
		}
	}

	if b.ReplaceExport {
		if _, err := tx.ExecContext(ctx, `DELETE FROM export_rows`); err != nil {
			return eris.Wrap(err, "sqlite: clear export")
		}
		for _, r := range b.Export {
			values, err := json.Marshal(r.Values)
			if err != nil {
				return eris.Wrapf(err, "sqlite: marshal export row %s", r.IdentityID)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO export_rows (identity_id, run_id, "values", built_at) VALUES (?, ?, ?, ?)`,
				r.IdentityID, r.RunID, string(values), fmtTime(r.BuiltAt),
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert export row %s", r.IdentityID)
			}
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

// CreateRun inserts a run row.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, year, status, dry_run, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Year, string(run.Status), run.DryRun, fmtTime(run.StartedAt))
	return eris.Wrapf(err, "sqlite: create run %s", run.ID)
}

// SaveStage records one stage outcome.
func (s *SQLiteStore) SaveStage(ctx context.Context, runID string, stage model.StageResult) error {
	var metadata sql.NullString
	if len(stage.Metadata) > 0 {
		data, err := json.Marshal(stage.Metadata)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal stage metadata")
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_stages (run_id, name, status, duration_ms, error, metadata) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, stage.Name, string(stage.Status), stage.Duration, stage.Error, metadata)
	return eris.Wrapf(err, "sqlite: save stage %s", stage.Name)
}

// FinishRun records the final status of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, run *model.Run) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(run.Status), run.Error, fmtNullTime(run.CompletedAt), run.ID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", run.ID)
	}
	return checkRowsAffected(res, "run", run.ID)
}

const runColumns = `id, year, status, dry_run, error, started_at, completed_at`

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var started string
	var completed sql.NullString
	if err := row.Scan(&r.ID, &r.Year, &r.Status, &r.DryRun, &r.Error, &started, &completed); err != nil {
		return nil, err
	}
	r.StartedAt = parseTime(started)
	r.CompletedAt = parseNullTime(completed)
	return &r, nil
}

// GetRun returns a run with its stages.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, status, duration_ms, error, metadata FROM run_stages WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get stages for %s", runID)
	}
	defer rows.Close()
	for rows.Next() {
		var st model.StageResult
		var metadata sql.NullString
		if err := rows.Scan(&st.Name, &st.Status, &st.Duration, &st.Error, &metadata); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stage")
		}
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &st.Metadata); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal stage metadata")
			}
		}
		r.Stages = append(r.Stages, st)
	}
	return r, eris.Wrap(rows.Err(), "sqlite: get stages iterate")
}

// ListRuns returns runs newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// AppConfig returns the overrides saved for a program year.
func (s *SQLiteStore) AppConfig(ctx context.Context, year int) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM app_config WHERE year = ?`, year)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: app config")
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan app config")
		}
		out[k] = v
	}
	return out, eris.Wrap(rows.Err(), "sqlite: app config iterate")
}

// SetAppConfig saves one override.
func (s *SQLiteStore) SetAppConfig(ctx context.Context, year int, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO app_config (year, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (year, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		year, key, value, fmtTime(time.Now()))
	return eris.Wrapf(err, "sqlite: set app config %s", key)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

// sqliteTimeLayout is fixed width so TEXT ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func fmtNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
