package model

import "time"

// ChangeOp is the operation a merge entry applies to the store.
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
	OpNoop   ChangeOp = "no-op"
)

// ChangeEntry is one key's transition in a merge. Before/After snapshots are
// nil for inserts and no-ops respectively absent sides.
type ChangeEntry struct {
	Key    string        `json:"key"`
	Op     ChangeOp      `json:"op"`
	Before *GoldenRecord `json:"before,omitempty"`
	After  *GoldenRecord `json:"after,omitempty"`
}

// ChangeSet is the ordered unit of atomic application to the store.
type ChangeSet struct {
	BatchID string        `json:"batch_id"`
	Type    BatchType     `json:"type"`
	Entries []ChangeEntry `json:"entries"`
}

// Counts tallies entries by operation.
func (cs *ChangeSet) Counts() map[ChangeOp]int {
	counts := make(map[ChangeOp]int, 4)
	for _, e := range cs.Entries {
		counts[e.Op]++
	}
	return counts
}

// Mutations returns only the entries that write to the store.
func (cs *ChangeSet) Mutations() []ChangeEntry {
	var out []ChangeEntry
	for _, e := range cs.Entries {
		if e.Op != OpNoop {
			out = append(out, e)
		}
	}
	return out
}

// BatchReport is the user-visible outcome of a batch run.
type BatchReport struct {
	BatchID string    `json:"batch_id"`
	Type    BatchType `json:"type"`

	RowsTotal    int `json:"rows_total"`
	RowsRejected int `json:"rows_rejected"`

	UnresolvedFields     int  `json:"unresolved_fields"`
	AssistantInvocations int  `json:"assistant_invocations"`
	AssistantBoundHit    bool `json:"assistant_bound_hit"`

	Inserts int `json:"inserts"`
	Updates int `json:"updates"`
	Deletes int `json:"deletes"`
	Noops   int `json:"noops"`

	// ConflictKeys lists keys whose merge exhausted version-conflict retries.
	ConflictKeys []string `json:"conflict_keys,omitempty"`

	FatalError string        `json:"fatal_error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}
