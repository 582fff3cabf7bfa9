package store

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasedata/goldenrec/internal/model"
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

func TestPostgresStore_GetByKey_Absent(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT record, version FROM golden_records WHERE title_number = \$1`).
		WithArgs("TGL404").
		WillReturnRows(pgxmock.NewRows([]string{"record", "version"}))

	rec, err := s.GetByKey(context.Background(), "TGL404")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetByKey_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	recordJSON := []byte(`{"title_number":"TGL1","property_id":"p1","raw_term":"99 years from 1 January 1990","aggregate":1,"fields":{},"flags":[]}`)
	mock.ExpectQuery(`SELECT record, version FROM golden_records WHERE title_number = \$1`).
		WithArgs("TGL1").
		WillReturnRows(pgxmock.NewRows([]string{"record", "version"}).AddRow(recordJSON, int64(3)))

	rec, err := s.GetByKey(context.Background(), "TGL1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "TGL1", rec.TitleNumber)
	assert.Equal(t, int64(3), rec.Version, "version column overrides the JSON copy")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyChangeSet_InsertAndCommit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO golden_records`).
		WithArgs("TGL1", pgxmock.AnyArg(), "b1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	cs := &model.ChangeSet{
		BatchID: "b1",
		Type:    model.BatchChangeOnly,
		Entries: []model.ChangeEntry{
			{Key: "TGL1", Op: model.OpInsert, After: &model.GoldenRecord{TitleNumber: "TGL1"}},
			{Key: "TGL2", Op: model.OpNoop},
		},
	}
	require.NoError(t, s.ApplyChangeSet(context.Background(), cs))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyChangeSet_NoopsSkipTransaction(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	cs := &model.ChangeSet{
		BatchID: "b1",
		Entries: []model.ChangeEntry{{Key: "TGL1", Op: model.OpNoop}},
	}
	require.NoError(t, s.ApplyChangeSet(context.Background(), cs))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyChangeSet_VersionConflictRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE golden_records SET record`).
		WithArgs(pgxmock.AnyArg(), "b2", false, pgxmock.AnyArg(), "TGL1", int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	cs := &model.ChangeSet{
		BatchID: "b2",
		Entries: []model.ChangeEntry{{
			Key:    "TGL1",
			Op:     model.OpUpdate,
			Before: &model.GoldenRecord{TitleNumber: "TGL1", Version: 3},
			After:  &model.GoldenRecord{TitleNumber: "TGL1"},
		}},
	}

	err := s.ApplyChangeSet(context.Background(), cs)
	require.Error(t, err)
	assert.True(t, IsVersionConflict(err))

	var vc *VersionConflictError
	require.ErrorAs(t, err, &vc)
	assert.Equal(t, "TGL1", vc.TitleNumber)
	assert.Equal(t, int64(3), vc.Expected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplyChangeSet_DeleteWritesTombstone(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE golden_records SET record`).
		WithArgs(pgxmock.AnyArg(), "b3", true, pgxmock.AnyArg(), "TGL1", int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	cs := &model.ChangeSet{
		BatchID: "b3",
		Type:    model.BatchFullRefresh,
		Entries: []model.ChangeEntry{{
			Key:    "TGL1",
			Op:     model.OpDelete,
			Before: &model.GoldenRecord{TitleNumber: "TGL1", Version: 1},
		}},
	}
	require.NoError(t, s.ApplyChangeSet(context.Background(), cs))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetBatchRun_Absent(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT report FROM batch_runs WHERE batch_id = \$1`).
		WithArgs("never-ran").
		WillReturnRows(pgxmock.NewRows([]string{"report"}))

	report, err := s.GetBatchRun(context.Background(), "never-ran")
	require.NoError(t, err)
	assert.Nil(t, report)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordBatchRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO batch_runs`).
		WithArgs("b1", "change-only", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.RecordBatchRun(context.Background(), &model.BatchReport{
		BatchID: "b1",
		Type:    model.BatchChangeOnly,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
