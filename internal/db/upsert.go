package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// DefaultBatchSize is the chunk size used when UpsertConfig.BatchSize is unset.
const DefaultBatchSize = 500

// UpsertConfig defines the parameters for a chunked merge upsert.
type UpsertConfig struct {
	Table        string   // target table (e.g., "public.consolidated_measurements")
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns overwritten on conflict; nil = every non-key column not in CoalesceCols
	CoalesceCols []string // columns set to COALESCE(incoming, stored) on conflict
	TouchCol     string   // optional timestamp column set to now() on conflict
	BatchSize    int      // rows per COPY + INSERT round; <= 0 means DefaultBatchSize
}

// MergeUpsert writes rows through a temp table in fixed-size chunks, all in
// one transaction:
//  1. CREATE TEMP TABLE ... (LIKE target) ON COMMIT DROP
//  2. per chunk: COPY into the temp table, INSERT ... SELECT ... ON CONFLICT
//     DO UPDATE, then TRUNCATE the temp table
//  3. COMMIT
//
// Any chunk failure rolls back the whole write. Rows sharing a conflict key
// must be deduplicated by the caller. Returns the rows inserted or updated.
func MergeUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return 0, eris.New("db: upsert: no conflict keys specified")
	}

	setClauses := buildSetClauses(cfg)
	if len(setClauses) == 0 {
		return 0, eris.New("db: upsert: no columns to update")
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tempTable := TempTableName(cfg.Table)

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tempTable}.Sanitize(),
		sanitizeTable(cfg.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}

	colList := quoteAndJoin(cfg.Columns)
	upsertSQL := fmt.Sprintf(
		"INSERT INTO %s AS t (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		sanitizeTable(cfg.Table),
		colList,
		colList,
		pgx.Identifier{tempTable}.Sanitize(),
		quoteAndJoin(cfg.ConflictKeys),
		strings.Join(setClauses, ", "),
	)
	truncateSQL := "TRUNCATE " + pgx.Identifier{tempTable}.Sanitize()

	var total int64
	for start := 0; start < len(rows); start += batch {
		end := min(start+batch, len(rows))
		chunk := rows[start:end]

		if _, err := CopyFrom(ctx, tx, tempTable, cfg.Columns, chunk); err != nil {
			return 0, eris.Wrapf(err, "db: upsert: chunk %d-%d for %s", start, end, cfg.Table)
		}

		tag, err := tx.Exec(ctx, upsertSQL)
		if err != nil {
			return 0, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s (chunk %d-%d)", cfg.Table, start, end)
		}
		total += tag.RowsAffected()

		if end < len(rows) {
			if _, err := tx.Exec(ctx, truncateSQL); err != nil {
				return 0, eris.Wrapf(err, "db: upsert: truncate temp table for %s", cfg.Table)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}

	return total, nil
}

// TempTableName is the staging table MergeUpsert uses for table.
func TempTableName(table string) string {
	return fmt.Sprintf("_tmp_upsert_%s", strings.ReplaceAll(table, ".", "_"))
}

func buildSetClauses(cfg UpsertConfig) []string {
	skip := make(map[string]bool, len(cfg.ConflictKeys)+len(cfg.CoalesceCols))
	for _, k := range cfg.ConflictKeys {
		skip[k] = true
	}
	for _, c := range cfg.CoalesceCols {
		skip[c] = true
	}

	updateCols := cfg.UpdateCols
	if updateCols == nil {
		for _, c := range cfg.Columns {
			if !skip[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	var clauses []string
	for _, col := range cfg.CoalesceCols {
		q := pgx.Identifier{col}.Sanitize()
		clauses = append(clauses, fmt.Sprintf("%s = COALESCE(EXCLUDED.%s, t.%s)", q, q, q))
	}
	for _, col := range updateCols {
		q := pgx.Identifier{col}.Sanitize()
		clauses = append(clauses, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
	}
	if cfg.TouchCol != "" {
		clauses = append(clauses, fmt.Sprintf("%s = now()", pgx.Identifier{cfg.TouchCol}.Sanitize()))
	}
	return clauses
}

func identifier(table string) pgx.Identifier {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}
	}
	return pgx.Identifier{table}
}

// sanitizeTable handles schema-qualified table names like "public.consolidated_measurements".
func sanitizeTable(table string) string {
	return identifier(table).Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
