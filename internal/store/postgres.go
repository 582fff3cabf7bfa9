package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/leasedata/goldenrec/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses; pgxmock implements it
// for tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for the
// hot merge path.
var preparedStatements = map[string]string{
	"get_record":    `SELECT record, version FROM golden_records WHERE title_number = $1`,
	"insert_record": `INSERT INTO golden_records (title_number, record, version, last_batch_id, deleted, updated_at) VALUES ($1, $2, 1, $3, FALSE, $4) ON CONFLICT (title_number) DO NOTHING`,
	"update_record": `UPDATE golden_records SET record = $1, version = version + 1, last_batch_id = $2, deleted = $3, updated_at = $4 WHERE title_number = $5 AND version = $6`,
	"get_batch_run": `SELECT report FROM batch_runs WHERE batch_id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(ErrStoreUnavailable, err.Error())
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS golden_records (
	title_number  TEXT PRIMARY KEY,
	record        JSONB NOT NULL,
	version       BIGINT NOT NULL,
	last_batch_id TEXT NOT NULL,
	deleted       BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_golden_records_deleted ON golden_records(deleted);
CREATE INDEX IF NOT EXISTS idx_golden_records_batch ON golden_records(last_batch_id);

CREATE TABLE IF NOT EXISTS batch_runs (
	batch_id   TEXT PRIMARY KEY,
	batch_type TEXT NOT NULL,
	report     JSONB NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return eris.Wrap(ErrStoreUnavailable, err.Error())
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetByKey(ctx context.Context, titleNumber string) (*model.GoldenRecord, error) {
	var recordJSON []byte
	var version int64

	err := s.pool.QueryRow(ctx,
		`SELECT record, version FROM golden_records WHERE title_number = $1`,
		titleNumber,
	).Scan(&recordJSON, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", titleNumber)
	}

	return decodeRecord(recordJSON, version)
}

func (s *PostgresStore) ListCurrentKeys(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT title_number FROM golden_records WHERE deleted = FALSE ORDER BY title_number`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list current keys")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, eris.Wrap(err, "postgres: scan key")
		}
		keys = append(keys, k)
	}
	return keys, eris.Wrap(rows.Err(), "postgres: list current keys")
}

func (s *PostgresStore) ApplyChangeSet(ctx context.Context, cs *model.ChangeSet) error {
	mutations := cs.Mutations()
	if len(mutations) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(ErrStoreUnavailable, err.Error())
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for _, entry := range mutations {
		if err := s.applyEntry(ctx, tx, cs.BatchID, entry, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit changeset")
	}
	return nil
}

func (s *PostgresStore) applyEntry(ctx context.Context, tx pgx.Tx, batchID string, entry model.ChangeEntry, now time.Time) error {
	after := entry.After
	if entry.Op == model.OpDelete {
		// Tombstone keeps the last content for audit.
		after = tombstone(entry)
	}

	recordJSON, err := encodeRecord(after, batchID, now)
	if err != nil {
		return err
	}

	switch entry.Op {
	case model.OpInsert:
		tag, err := tx.Exec(ctx,
			`INSERT INTO golden_records (title_number, record, version, last_batch_id, deleted, updated_at) VALUES ($1, $2, 1, $3, FALSE, $4) ON CONFLICT (title_number) DO NOTHING`,
			entry.Key, recordJSON, batchID, now)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert %s", entry.Key)
		}
		if tag.RowsAffected() == 0 {
			return &VersionConflictError{TitleNumber: entry.Key}
		}

	case model.OpUpdate, model.OpDelete:
		expected := int64(0)
		if entry.Before != nil {
			expected = entry.Before.Version
		}
		tag, err := tx.Exec(ctx,
			`UPDATE golden_records SET record = $1, version = version + 1, last_batch_id = $2, deleted = $3, updated_at = $4 WHERE title_number = $5 AND version = $6`,
			recordJSON, batchID, entry.Op == model.OpDelete, now, entry.Key, expected)
		if err != nil {
			return eris.Wrapf(err, "postgres: %s %s", entry.Op, entry.Key)
		}
		if tag.RowsAffected() == 0 {
			return &VersionConflictError{TitleNumber: entry.Key, Expected: expected}
		}
	}
	return nil
}

func (s *PostgresStore) GetBatchRun(ctx context.Context, batchID string) (*model.BatchReport, error) {
	var reportJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT report FROM batch_runs WHERE batch_id = $1`, batchID,
	).Scan(&reportJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get batch run %s", batchID)
	}

	var report model.BatchReport
	if err := json.Unmarshal(reportJSON, &report); err != nil {
		return nil, eris.Wrapf(err, "postgres: decode batch run %s", batchID)
	}
	return &report, nil
}

func (s *PostgresStore) RecordBatchRun(ctx context.Context, report *model.BatchReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal batch run")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO batch_runs (batch_id, batch_type, report, applied_at) VALUES ($1, $2, $3, $4) ON CONFLICT (batch_id) DO UPDATE SET batch_type = EXCLUDED.batch_type, report = EXCLUDED.report, applied_at = EXCLUDED.applied_at`,
		report.BatchID, string(report.Type), reportJSON, time.Now().UTC())
	return eris.Wrapf(err, "postgres: record batch run %s", report.BatchID)
}

// encodeRecord stamps bookkeeping fields and marshals the record. Version is
// stored in its own column; the JSON copy is cleared so content comparison
// stays bookkeeping-free.
func encodeRecord(g *model.GoldenRecord, batchID string, now time.Time) ([]byte, error) {
	rec := *g
	rec.Version = 0
	rec.LastBatchID = batchID
	rec.UpdatedAt = now

	data, err := json.Marshal(&rec)
	if err != nil {
		return nil, eris.Wrapf(err, "store: marshal record %s", g.TitleNumber)
	}
	return data, nil
}

func decodeRecord(data []byte, version int64) (*model.GoldenRecord, error) {
	var rec model.GoldenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, eris.Wrap(err, "store: decode record")
	}
	rec.Version = version
	return &rec, nil
}

// tombstone builds the delete-marker record from the entry's prior content.
func tombstone(entry model.ChangeEntry) *model.GoldenRecord {
	var rec model.GoldenRecord
	if entry.Before != nil {
		rec = *entry.Before
	}
	rec.TitleNumber = entry.Key
	rec.Deleted = true
	return &rec
}
