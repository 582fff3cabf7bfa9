// Package store persists golden records and batch run reports. Two backends:
// Postgres for shared deployments, SQLite for local runs. Both apply change
// sets atomically with per-key optimistic versioning.
package store

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/leasedata/goldenrec/internal/model"
)

// ErrStoreUnavailable marks connectivity failures, distinguished from data
// errors so a batch can abort without recording partial effects.
var ErrStoreUnavailable = eris.New("store: unavailable")

// VersionConflictError reports that a key's stored version moved between the
// merge engine's read and its write. The merge engine re-reads and retries.
type VersionConflictError struct {
	TitleNumber string
	Expected    int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("store: version conflict on %s (expected %d)", e.TitleNumber, e.Expected)
}

// IsVersionConflict reports whether err is (or wraps) a version conflict.
func IsVersionConflict(err error) bool {
	var vc *VersionConflictError
	return eris.As(err, &vc)
}

// Store is the golden record persistence interface.
type Store interface {
	// GetByKey returns the record for a title number, tombstones included,
	// or nil when the key has never been written.
	GetByKey(ctx context.Context, titleNumber string) (*model.GoldenRecord, error)

	// ListCurrentKeys returns the title numbers of all live (non-tombstone)
	// records, sorted.
	ListCurrentKeys(ctx context.Context) ([]string, error)

	// ApplyChangeSet applies all mutating entries in one transaction. Any
	// version conflict rolls back the whole set and surfaces as
	// *VersionConflictError.
	ApplyChangeSet(ctx context.Context, cs *model.ChangeSet) error

	// GetBatchRun returns the recorded report for a batch id, or nil when
	// the batch has never been applied.
	GetBatchRun(ctx context.Context, batchID string) (*model.BatchReport, error)

	// RecordBatchRun stores (or replaces) the report for a batch id.
	RecordBatchRun(ctx context.Context, report *model.BatchReport) error

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
