package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/energitech/consolidator/internal/model"
)

// sqliteTime is the fixed-width UTC layout used for stored timestamps, so
// text ordering matches time ordering.
const sqliteTime = "2006-01-02T15:04:05Z"

// sqliteRunTime is the fixed-width layout for run log timestamps.
const sqliteRunTime = "2006-01-02T15:04:05.000000000Z"

// sqliteMaxRows caps rows per INSERT to stay under the bound-parameter limit.
const sqliteMaxRows = 3000

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db    *sql.DB
	table string
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn, table string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	if table == "" {
		table = DefaultTable
	}
	if strings.ContainsAny(table, `."' `) {
		db.Close()
		return nil, eris.Errorf("sqlite: invalid table name %q", table)
	}
	return &SQLiteStore{db: db, table: table}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS %[1]s (
	asset_id         TEXT NOT NULL,
	timestamp        TEXT NOT NULL,
	temperature_k    REAL,
	wind_speed_ms    REAL,
	vibration_mm_s   REAL,
	consumption_kwh  REAL,
	energy_kwh       REAL,
	planned_outage   INTEGER,
	unplanned_outage INTEGER,
	source           TEXT NOT NULL,
	created_at       TEXT NOT NULL DEFAULT (strftime('%%Y-%%m-%%dT%%H:%%M:%%SZ', 'now')),
	updated_at       TEXT NOT NULL DEFAULT (strftime('%%Y-%%m-%%dT%%H:%%M:%%SZ', 'now')),
	PRIMARY KEY (asset_id, timestamp)
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_timestamp ON %[1]s(timestamp);

CREATE TABLE IF NOT EXISTS run_log (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	summary     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_log_started_at ON run_log(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(sqliteMigration, s.table))
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertMeasurements relies on SQLite's native ON CONFLICT clause. Each
// chunk is one multi-row INSERT; all chunks share one transaction.
func (s *SQLiteStore) UpsertMeasurements(ctx context.Context, batch []model.Measurement, size int) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	if err := checkDistinctKeys(batch); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert measurements")
	}
	size = min(batchSize(size), sqliteMaxRows)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var total int64
	for start := 0; start < len(batch); start += size {
		end := min(start+size, len(batch))
		chunk := batch[start:end]

		args := make([]any, 0, len(chunk)*len(model.Columns))
		for _, m := range chunk {
			args = append(args, sqliteValues(m)...)
		}
		res, err := tx.ExecContext(ctx, s.upsertSQL(len(chunk)), args...)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert chunk %d-%d", start, end)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit tx")
	}
	return total, nil
}

func (s *SQLiteStore) upsertSQL(rows int) string {
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(model.Columns)), ", ") + ")"
	values := make([]string, rows)
	for i := range values {
		values[i] = placeholder
	}

	sets := make([]string, 0, len(model.MeasuredColumns)+2)
	for _, c := range model.MeasuredColumns {
		sets = append(sets, fmt.Sprintf("%s = COALESCE(excluded.%s, %s)", c, c, c))
	}
	sets = append(sets,
		"source = excluded.source",
		"updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')",
	)

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON CONFLICT(asset_id, timestamp) DO UPDATE SET %s",
		s.table,
		strings.Join(model.Columns, ", "),
		strings.Join(values, ", "),
		strings.Join(sets, ", "),
	)
}

func (s *SQLiteStore) GetMeasurement(ctx context.Context, key model.Key) (*model.Measurement, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE asset_id = ? AND timestamp = ?", strings.Join(model.Columns, ", "), s.table),
		key.AssetID, key.Timestamp.UTC().Format(sqliteTime),
	)
	m, err := scanSQLiteMeasurement(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: measurement %s", key)
		}
		return nil, eris.Wrapf(err, "sqlite: get measurement %s", key)
	}
	return m, nil
}

func (s *SQLiteStore) ListMeasurements(ctx context.Context, filter MeasurementFilter) ([]model.Measurement, error) {
	var (
		where []string
		args  []any
	)
	if filter.AssetID != "" {
		where = append(where, "asset_id = ?")
		args = append(args, filter.AssetID)
	}
	if !filter.From.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, filter.From.UTC().Format(sqliteTime))
	}
	if !filter.To.IsZero() {
		where = append(where, "timestamp < ?")
		args = append(args, filter.To.UTC().Format(sqliteTime))
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(model.Columns, ", "), s.table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp, asset_id LIMIT ?"
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list measurements")
	}
	defer rows.Close()

	var out []model.Measurement
	for rows.Next() {
		m, err := scanSQLiteMeasurement(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan measurement")
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate measurements")
}

func (s *SQLiteStore) LatestMeasurement(ctx context.Context, assetID string) (*model.Measurement, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE asset_id = ? ORDER BY timestamp DESC LIMIT 1", strings.Join(model.Columns, ", "), s.table),
		assetID,
	)
	m, err := scanSQLiteMeasurement(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: latest measurement for %s", assetID)
		}
		return nil, eris.Wrapf(err, "sqlite: latest measurement for %s", assetID)
	}
	return m, nil
}

func (s *SQLiteStore) StartRun(ctx context.Context, summary *model.RunSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run summary")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_log (id, status, started_at, summary) VALUES (?, ?, ?, ?)`,
		summary.RunID, string(summary.Status), summary.StartedAt.UTC().Format(sqliteRunTime), string(data),
	)
	return eris.Wrapf(err, "sqlite: start run %s", summary.RunID)
}

func (s *SQLiteStore) FinishRun(ctx context.Context, summary *model.RunSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run summary")
	}
	var finished any
	if summary.FinishedAt != nil {
		finished = summary.FinishedAt.UTC().Format(sqliteRunTime)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_log SET status = ?, finished_at = ?, summary = ? WHERE id = ?`,
		string(summary.Status), finished, string(data), summary.RunID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", summary.RunID)
	}
	return checkRowsAffected(res, "run", summary.RunID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.RunSummary, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT summary FROM run_log WHERE id = ?`, runID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: run %s", runID)
		}
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return decodeSummary([]byte(data))
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunSummary, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		where = append(where, "started_at >= ?")
		args = append(args, filter.Since.UTC().Format(sqliteRunTime))
	}
	query := "SELECT summary FROM run_log"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var out []model.RunSummary
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		sum, err := decodeSummary([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, *sum)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

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

type scannable interface {
	Scan(dest ...any) error
}

func sqliteValues(m model.Measurement) []any {
	return []any{
		m.AssetID,
		m.Timestamp.UTC().Format(sqliteTime),
		nullFloat(m.TemperatureK),
		nullFloat(m.WindSpeedMS),
		nullFloat(m.VibrationMMS),
		nullFloat(m.ConsumptionKWh),
		nullFloat(m.EnergyKWh),
		nullBool(m.PlannedOutage),
		nullBool(m.UnplannedOutage),
		string(m.Source),
	}
}

func scanSQLiteMeasurement(row scannable) (*model.Measurement, error) {
	var (
		m                             model.Measurement
		ts, source                    string
		temp, wind, vib, cons, energy sql.NullFloat64
		planned, unplanned            sql.NullBool
	)
	if err := row.Scan(&m.AssetID, &ts, &temp, &wind, &vib, &cons, &energy, &planned, &unplanned, &source); err != nil {
		return nil, err
	}
	t, err := time.Parse(sqliteTime, ts)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse timestamp %q", ts)
	}
	m.Timestamp = t
	m.TemperatureK = fromNullFloat(temp)
	m.WindSpeedMS = fromNullFloat(wind)
	m.VibrationMMS = fromNullFloat(vib)
	m.ConsumptionKWh = fromNullFloat(cons)
	m.EnergyKWh = fromNullFloat(energy)
	m.PlannedOutage = fromNullBool(planned)
	m.UnplannedOutage = fromNullBool(unplanned)
	m.Source = model.Source(source)
	return &m, nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullBool(v *bool) any {
	if v == nil {
		return nil
	}
	if *v {
		return int64(1)
	}
	return int64(0)
}

func fromNullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func fromNullBool(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	return &v.Bool
}
