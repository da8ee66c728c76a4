// Package store defines the §4.1 store-provider contract: the atomic
// operations the backing database must expose. The engine composes these
// primitives; it never drops down to raw SQL/commands of its own.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by reads that find no matching row.
var ErrNotFound = errors.New("store: not found")

// ErrGenerationMismatch signals the job's generation id in a message
// disagrees with the store — the job was replaced (§7 generational fault).
var ErrGenerationMismatch = errors.New("store: generation mismatch")

// Txn is an opaque transaction handle. A nil Txn means "run standalone,
// auto-committing"; passing the same non-nil Txn to multiple primitive
// calls guarantees single-commit atomicity across all of them (§4.1).
type Txn interface{}

// Provider is the entire backing-store contract §4.1 requires.
type Provider interface {
	// WithTxn runs fn with a fresh transaction handle, committing on
	// success and rolling back if fn returns an error.
	WithTxn(ctx context.Context, fn func(txn Txn) error) error

	CreateJobIfAbsent(ctx context.Context, jobID uuid.UUID, appID string, initialSemaphore int64, entity any, txn Txn) (created bool, currentSemaphore int64, err error)

	// IncrementLedger applies delta to the activity ledger at every address
	// in dimensionalAddrs (the invocation's own address plus any enclosing
	// cycle prefixes, §4.1 "ancestors + self"). dimensionalAddrs[0] MUST be
	// the invocation's own address; newValue is always that address's
	// post-increment ledger, regardless of how many other addresses were
	// also touched.
	IncrementLedger(ctx context.Context, jobID uuid.UUID, activityID string, dimensionalAddrs []string, delta int64, txn Txn) (newValue int64, err error)

	IncrementGuidLedger(ctx context.Context, jobID uuid.UUID, guid uuid.UUID, delta int64, txn Txn) (newValue int64, err error)

	// SetStatusAndCollateGuid is the compound primitive mandated by §4.4:
	// applies the semaphore delta, computes thresholdHit, and adds
	// thresholdHit*snapshotWeight to the GUID ledger, all in one statement.
	SetStatusAndCollateGuid(ctx context.Context, jobID uuid.UUID, statusDelta int64, threshold int64, guid uuid.UUID, snapshotWeight int64, txn Txn) (thresholdHit bool, err error)

	ReadFlatState(ctx context.Context, jobID uuid.UUID, paths []string) (flat map[string]any, semaphore int64, err error)

	WriteFlatState(ctx context.Context, jobID uuid.UUID, values map[string]any, txn Txn) error

	// ReadLedger and ReadGuidLedger support replay/crash-recovery checks
	// without mutating state.
	ReadLedger(ctx context.Context, jobID uuid.UUID, activityID, dimensionalAddr string) (int64, error)
	ReadGuidLedger(ctx context.Context, jobID uuid.UUID, guid uuid.UUID) (int64, error)

	ReadJobGeneration(ctx context.Context, jobID uuid.UUID) (uuid.UUID, error)

	// CascadeExpire schedules expiration for jobId and every job with
	// jobId as its ParentJobID (§3.2 SUPPLEMENT).
	CascadeExpire(ctx context.Context, jobID uuid.UUID, at time.Time, txn Txn) error

	// Interrupt writes the §5 negative semaphore sentinel for jobID: every
	// pending Leg 2 message discovers this via ReadFlatState's returned
	// semaphore (<= 0) and acks silently as InactiveJob. Additive to §4.1
	// (§4.8 SUPPLEMENT "Interrupt propagation to hooks").
	Interrupt(ctx context.Context, jobID uuid.UUID, txn Txn) error
}

// InterruptSentinel is the negative semaphore value written by Interrupt.
// Any value < 0 satisfies "never observable as >= 0 by a committed
// transaction" (§3 invariant); -1 is chosen for a readable, unambiguous
// sentinel rather than carrying semantic weight itself.
const InterruptSentinel int64 = -1

// NewJobAttrs is the concrete shape CreateJobIfAbsent's generic `entity`
// parameter takes in this engine (§3.2 SUPPLEMENT "job generation
// cascades"): optional attributes set only at creation, never mutated
// afterward. A binding that doesn't recognize NewJobAttrs (or receives nil)
// simply skips them; no primitive semantics change.
type NewJobAttrs struct {
	ParentJobID *uuid.UUID
}
