// Package semaphore wraps store.Provider's SetStatusAndCollateGuid compound
// primitive into the job-semaphore and edge-capture-snapshot operations
// described in §4.5: every activity completion applies a signed delta to
// the job's obligation counter, and the counter crossing its threshold is
// what marks the job's GUID ledger with the "closed" snapshot bit.
package semaphore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/meshrun/engine/internal/store"
)

// snapshotWeight is the guid-ledger increment applied exactly once, at the
// instant the job's semaphore reaches its completion threshold (§4.2 pos 4,
// the "job-closed snapshot bit" — encoded here as a ledger delta rather
// than a boolean so it composes with the same ledger arithmetic as every
// other collator operation).
const snapshotWeight = 100_000_000_000

// Enqueue applies delta = N-1 to the job semaphore for an activity that
// spawns N children (§4.5): N obligations added, one relieved for the
// parent's own completion.
func Enqueue(n int) int64 {
	return int64(n) - 1
}

// Result is the outcome of applying a completion delta to a job's
// semaphore.
type Result struct {
	// NewSemaphore is not populated by Apply and is always zero; the
	// compound primitive reports only whether the threshold was hit.
	// ThresholdHit is the only completion signal (§4.5).
	NewSemaphore int64
	ThresholdHit bool
}

// Apply applies delta to jobID's semaphore and, if this call is the one
// that brings the semaphore to threshold, stamps guid's ledger with the
// snapshot bit. txn must be shared with any other store writes this
// activity completion performs, so the semaphore update and the ledger
// write commit atomically together.
func Apply(ctx context.Context, provider store.Provider, jobID uuid.UUID, delta, threshold int64, guid uuid.UUID, txn store.Txn) (Result, error) {
	hit, err := provider.SetStatusAndCollateGuid(ctx, jobID, delta, threshold, guid, snapshotWeight, txn)
	if err != nil {
		return Result{}, fmt.Errorf("semaphore: apply delta %d to job %s: %w", delta, jobID, err)
	}
	return Result{ThresholdHit: hit}, nil
}

// IsClosed reports whether a job's GUID ledger carries the snapshot bit,
// i.e. whether the edge-capture completion has already fired for this
// guid. The Leg 2 driver does not call it; it checks the GUID ledger with
// collator.SnapshotBitSet instead.
func IsClosed(ctx context.Context, provider store.Provider, jobID uuid.UUID, guid uuid.UUID) (bool, error) {
	v, err := provider.ReadGuidLedger(ctx, jobID, guid)
	if err != nil {
		return false, fmt.Errorf("semaphore: read guid ledger for job %s guid %s: %w", jobID, guid, err)
	}
	return v >= snapshotWeight, nil
}
