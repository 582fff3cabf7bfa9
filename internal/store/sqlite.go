package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/leasedata/goldenrec/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite, for local runs and
// tests without a Postgres instance.
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
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS golden_records (
	title_number  TEXT PRIMARY KEY,
	record        TEXT NOT NULL,
	version       INTEGER NOT NULL,
	last_batch_id TEXT NOT NULL,
	deleted       INTEGER NOT NULL DEFAULT 0,
	updated_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_golden_records_deleted ON golden_records(deleted);

CREATE TABLE IF NOT EXISTS batch_runs (
	batch_id   TEXT PRIMARY KEY,
	batch_type TEXT NOT NULL,
	report     TEXT NOT NULL,
	applied_at TEXT NOT NULL
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return eris.Wrap(ErrStoreUnavailable, err.Error())
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetByKey(ctx context.Context, titleNumber string) (*model.GoldenRecord, error) {
	var recordJSON []byte
	var version int64

	err := s.db.QueryRowContext(ctx,
		`SELECT record, version FROM golden_records WHERE title_number = ?`,
		titleNumber,
	).Scan(&recordJSON, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record %s", titleNumber)
	}

	return decodeRecord(recordJSON, version)
}

func (s *SQLiteStore) ListCurrentKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT title_number FROM golden_records WHERE deleted = 0 ORDER BY title_number`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list current keys")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan key")
		}
		keys = append(keys, k)
	}
	return keys, eris.Wrap(rows.Err(), "sqlite: list current keys")
}

func (s *SQLiteStore) ApplyChangeSet(ctx context.Context, cs *model.ChangeSet) error {
	mutations := cs.Mutations()
	if len(mutations) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(ErrStoreUnavailable, err.Error())
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, entry := range mutations {
		if err := s.applyEntry(ctx, tx, cs.BatchID, entry, now); err != nil {
			return err
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit changeset")
}

func (s *SQLiteStore) applyEntry(ctx context.Context, tx *sql.Tx, batchID string, entry model.ChangeEntry, now time.Time) error {
	after := entry.After
	if entry.Op == model.OpDelete {
		after = tombstone(entry)
	}

	recordJSON, err := encodeRecord(after, batchID, now)
	if err != nil {
		return err
	}
	ts := now.Format(time.RFC3339Nano)

	switch entry.Op {
	case model.OpInsert:
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO golden_records (title_number, record, version, last_batch_id, deleted, updated_at) VALUES (?, ?, 1, ?, 0, ?)`,
			entry.Key, recordJSON, batchID, ts)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert %s", entry.Key)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &VersionConflictError{TitleNumber: entry.Key}
		}

	case model.OpUpdate, model.OpDelete:
		expected := int64(0)
		if entry.Before != nil {
			expected = entry.Before.Version
		}
		deleted := 0
		if entry.Op == model.OpDelete {
			deleted = 1
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE golden_records SET record = ?, version = version + 1, last_batch_id = ?, deleted = ?, updated_at = ? WHERE title_number = ? AND version = ?`,
			recordJSON, batchID, deleted, ts, entry.Key, expected)
		if err != nil {
			return eris.Wrapf(err, "sqlite: %s %s", entry.Op, entry.Key)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &VersionConflictError{TitleNumber: entry.Key, Expected: expected}
		}
	}
	return nil
}

func (s *SQLiteStore) GetBatchRun(ctx context.Context, batchID string) (*model.BatchReport, error) {
	var reportJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT report FROM batch_runs WHERE batch_id = ?`, batchID,
	).Scan(&reportJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get batch run %s", batchID)
	}

	var report model.BatchReport
	if err := json.Unmarshal(reportJSON, &report); err != nil {
		return nil, eris.Wrapf(err, "sqlite: decode batch run %s", batchID)
	}
	return &report, nil
}

func (s *SQLiteStore) RecordBatchRun(ctx context.Context, report *model.BatchReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal batch run")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO batch_runs (batch_id, batch_type, report, applied_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (batch_id) DO UPDATE SET batch_type = excluded.batch_type, report = excluded.report, applied_at = excluded.applied_at`,
		report.BatchID, string(report.Type), reportJSON, time.Now().UTC().Format(time.RFC3339Nano))
	return eris.Wrapf(err, "sqlite: record batch run %s", report.BatchID)
}
