package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom bulk-inserts rows with the COPY protocol. Pass a pgx.Tx to make
// the copy part of a stage's transaction.
func CopyFrom(ctx context.Context, q Querier, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := checkWidth(table, columns, rows); err != nil {
		return 0, err
	}

	n, err := q.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: copy into %s", table)
	}
	return n, nil
}

// UpsertConfig describes a bulk upsert.
type UpsertConfig struct {
	Table        string
	Columns      []string
	ConflictKeys []string
	// UpdateCols are overwritten on conflict; nil means every non-key column.
	UpdateCols []string
	// OnlyChanged leaves rows alone when no update column differs, so
	// RowsAffected counts real writes.
	OnlyChanged bool
}

// BulkUpsert stages rows in a temp table dropped on commit and merges them
// with INSERT ... ON CONFLICT. It must run inside a transaction.
func BulkUpsert(ctx context.Context, tx Querier, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	stmt, err := upsertStatements(cfg)
	if err != nil {
		return 0, err
	}
	if err := checkWidth(cfg.Table, cfg.Columns, rows); err != nil {
		return 0, err
	}

	if _, err := tx.Exec(ctx, stmt.create); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: create staging table", cfg.Table)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{stmt.staging}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: copy into staging table", cfg.Table)
	}
	tag, err := tx.Exec(ctx, stmt.merge)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: merge", cfg.Table)
	}
	return tag.RowsAffected(), nil
}

type upsertSQL struct {
	staging string
	create  string
	merge   string
}

func upsertStatements(cfg UpsertConfig) (upsertSQL, error) {
	if len(cfg.Columns) == 0 {
		return upsertSQL{}, eris.Errorf("db: upsert %s: no columns", cfg.Table)
	}
	if len(cfg.ConflictKeys) == 0 {
		return upsertSQL{}, eris.Errorf("db: upsert %s: no conflict keys", cfg.Table)
	}

	update := cfg.UpdateCols
	if update == nil {
		keys := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			keys[k] = true
		}
		for _, c := range cfg.Columns {
			if !keys[c] {
				update = append(update, c)
			}
		}
	}

	staging := "_stage_" + strings.ReplaceAll(cfg.Table, ".", "_")
	target := sanitizeTable(cfg.Table)
	cols := quoteAndJoin(cfg.Columns)

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s AS t (%s) SELECT %s FROM %s ON CONFLICT (%s) ",
		target, cols, cols, pgx.Identifier{staging}.Sanitize(), quoteAndJoin(cfg.ConflictKeys))

	if len(update) == 0 {
		b.WriteString("DO NOTHING")
	} else {
		sets := make([]string, len(update))
		for i, c := range update {
			q := pgx.Identifier{c}.Sanitize()
			sets[i] = q + " = EXCLUDED." + q
		}
		b.WriteString("DO UPDATE SET " + strings.Join(sets, ", "))
		if cfg.OnlyChanged {
			fmt.Fprintf(&b, " WHERE (%s) IS DISTINCT FROM (%s)",
				prefixed("t.", update), prefixed("EXCLUDED.", update))
		}
	}

	return upsertSQL{
		staging: staging,
		create: fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
			pgx.Identifier{staging}.Sanitize(), target),
		merge: b.String(),
	}, nil
}

func checkWidth(table string, columns []string, rows [][]any) error {
	for i, r := range rows {
		if len(r) != len(columns) {
			return eris.Errorf("db: %s row %d has %d values for %d columns", table, i, len(r), len(columns))
		}
	}
	return nil
}

// sanitizeTable quotes a table name, keeping a schema qualifier.
func sanitizeTable(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func quoteAndJoin(cols []string) string {
	return prefixed("", cols)
}

func prefixed(prefix string, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = prefix + pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
