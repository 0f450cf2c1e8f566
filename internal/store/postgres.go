package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/energitech/consolidator/internal/db"
	"github.com/energitech/consolidator/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	table   string
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPool opens and pings a pgx connection pool.
func NewPool(ctx context.Context, connString string, poolCfg *PoolConfig) (*pgxpool.Pool, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

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
	return pool, nil
}

// NewPostgres creates a PostgresStore with its own connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig, table string) (*PostgresStore, error) {
	pool, err := NewPool(ctx, connString, poolCfg)
	if err != nil {
		return nil, err
	}
	s := NewPostgresFromPool(pool, table)
	s.closeFn = pool.Close
	return s, nil
}

// NewPostgresFromPool wraps an existing pool. Close does not close the pool.
func NewPostgresFromPool(pool db.Pool, table string) *PostgresStore {
	if table == "" {
		table = DefaultTable
	}
	return &PostgresStore{pool: pool, table: table}
}

// Pool returns the underlying database pool for subsystems that query
// Postgres directly (the sensor source and simulator).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// Migrate applies the embedded migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return MigratePostgres(ctx, s.pool)
}

// Close releases the pool when the store owns it.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// UpsertMeasurements merge-upserts batch via COPY into a temp table.
func (s *PostgresStore) UpsertMeasurements(ctx context.Context, batch []model.Measurement, size int) (int64, error) {
	if err := checkDistinctKeys(batch); err != nil {
		return 0, eris.Wrap(err, "postgres: upsert measurements")
	}
	rows := make([][]any, len(batch))
	for i, m := range batch {
		rows[i] = m.Values()
	}
	n, err := db.MergeUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        s.table,
		Columns:      model.Columns,
		ConflictKeys: model.KeyColumns,
		CoalesceCols: model.MeasuredColumns,
		TouchCol:     "updated_at",
		BatchSize:    batchSize(size),
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert measurements")
	}
	return n, nil
}

func (s *PostgresStore) selectColumns() string {
	quoted := make([]string, len(model.Columns))
	for i, c := range model.Columns {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

func (s *PostgresStore) tableIdent() string {
	parts := strings.SplitN(s.table, ".", 2)
	return pgx.Identifier(parts).Sanitize()
}

// GetMeasurement returns the stored record for key.
func (s *PostgresStore) GetMeasurement(ctx context.Context, key model.Key) (*model.Measurement, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE asset_id = $1 AND "timestamp" = $2`,
		s.selectColumns(), s.tableIdent())
	m, err := scanPgMeasurement(s.pool.QueryRow(ctx, query, key.AssetID, key.Timestamp.UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: measurement %s", key)
		}
		return nil, eris.Wrapf(err, "postgres: get measurement %s", key)
	}
	return m, nil
}

// ListMeasurements returns records matching filter ordered by time then asset.
func (s *PostgresStore) ListMeasurements(ctx context.Context, filter MeasurementFilter) ([]model.Measurement, error) {
	var (
		where []string
		args  []any
	)
	if filter.AssetID != "" {
		args = append(args, filter.AssetID)
		where = append(where, fmt.Sprintf("asset_id = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From.UTC())
		where = append(where, fmt.Sprintf(`"timestamp" >= $%d`, len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To.UTC())
		where = append(where, fmt.Sprintf(`"timestamp" < $%d`, len(args)))
	}

	query := fmt.Sprintf("SELECT %s FROM %s", s.selectColumns(), s.tableIdent())
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, listLimit(filter.Limit))
	query += fmt.Sprintf(` ORDER BY "timestamp", asset_id LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list measurements")
	}
	defer rows.Close()

	var out []model.Measurement
	for rows.Next() {
		m, err := scanPgMeasurement(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan measurement")
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate measurements")
}

// LatestMeasurement returns the most recent record for an asset.
func (s *PostgresStore) LatestMeasurement(ctx context.Context, assetID string) (*model.Measurement, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE asset_id = $1 ORDER BY "timestamp" DESC LIMIT 1`,
		s.selectColumns(), s.tableIdent())
	m, err := scanPgMeasurement(s.pool.QueryRow(ctx, query, assetID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: latest measurement for %s", assetID)
		}
		return nil, eris.Wrapf(err, "postgres: latest measurement for %s", assetID)
	}
	return m, nil
}

// StartRun records a run in the running state.
func (s *PostgresStore) StartRun(ctx context.Context, summary *model.RunSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run summary")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO run_log (id, status, started_at, summary) VALUES ($1, $2, $3, $4)`,
		summary.RunID, string(summary.Status), summary.StartedAt, data,
	)
	return eris.Wrapf(err, "postgres: start run %s", summary.RunID)
}

// FinishRun stores the terminal summary of a run.
func (s *PostgresStore) FinishRun(ctx context.Context, summary *model.RunSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run summary")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE run_log SET status = $1, finished_at = $2, summary = $3 WHERE id = $4`,
		string(summary.Status), summary.FinishedAt, data, summary.RunID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", summary.RunID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: run %s", summary.RunID)
	}
	return nil
}

// GetRun returns a run summary by ID.
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.RunSummary, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT summary FROM run_log WHERE id = $1`, runID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return decodeSummary(data)
}

// ListRuns returns runs newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunSummary, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since.UTC())
		where = append(where, fmt.Sprintf("started_at >= $%d", len(args)))
	}
	query := "SELECT summary FROM run_log"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, listLimit(filter.Limit))
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.RunSummary
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		sum, err := decodeSummary(data)
		if err != nil {
			return nil, err
		}
		out = append(out, *sum)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

func scanPgMeasurement(row pgx.Row) (*model.Measurement, error) {
	var (
		m      model.Measurement
		source string
	)
	err := row.Scan(
		&m.AssetID, &m.Timestamp,
		&m.TemperatureK, &m.WindSpeedMS, &m.VibrationMMS, &m.ConsumptionKWh, &m.EnergyKWh,
		&m.PlannedOutage, &m.UnplannedOutage,
		&source,
	)
	if err != nil {
		return nil, err
	}
	m.Timestamp = m.Timestamp.UTC()
	m.Source = model.Source(source)
	return &m, nil
}

func decodeSummary(data []byte) (*model.RunSummary, error) {
	var sum model.RunSummary
	if err := json.Unmarshal(data, &sum); err != nil {
		return nil, eris.Wrap(err, "store: decode run summary")
	}
	return &sum, nil
}
