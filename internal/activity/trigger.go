package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meshrun/engine/internal/dimension"
	"github.com/meshrun/engine/internal/domain/workflow"
	"github.com/meshrun/engine/internal/ledger"
	"github.com/meshrun/engine/internal/semaphore"
	"github.com/meshrun/engine/internal/store"
)

// ExpireAfterKey is the reserved flat-state path a job's configured §6
// `expire` TTL is seeded under at trigger time, so Leg 2 Step 3's
// completion tasks (run long after StartOptions is gone) can still find it
// (§3.2 SUPPLEMENT).
const ExpireAfterKey = "_expire_after_ns"

// ErrDuplicateJob is surfaced to the client when a trigger's conditional
// job creation fails and the GUID ledger shows no crash-recovery signature
// (§4.4, §7 DuplicateJob, §8 scenario 4).
var ErrDuplicateJob = errors.New("activity: duplicate job")

// StartOptions carries the client-facing §6 start(...) options relevant to
// trigger Leg 1.
type StartOptions struct {
	Pending bool
	Search  map[string]any
	Parent  *uuid.UUID
	// Expire, if set, is the job TTL after completion (§6 `expire`
	// option); it is seeded into flat state under ExpireAfterKey and
	// consumed by the job's completion tasks (§3.2 SUPPLEMENT).
	Expire *time.Duration
}

// HandleTrigger runs a trigger's specialized one-shot Leg 1 + Leg 2 (§4.4
// "Trigger activities"): createJobIfAbsent, a GUID-ledger seed, the
// activity ledger's TriggerSeed stamp, and the first fan-out all commit
// together. A trigger never claims a separate Leg 2 message for itself —
// its ledger is seeded directly to the documented "pre-completed" value
// rather than earned through the generic notarizeReentry/step sequence,
// since there is no prior Leg 1 durable work to resume independently of
// job creation.
func (m *Machine) HandleTrigger(ctx context.Context, jobID uuid.UUID, appID string, topic string, guid uuid.UUID, opts StartOptions) error {
	g, err := m.graphFor(topic)
	if err != nil {
		return err
	}
	cfg, err := g.Trigger()
	if err != nil {
		return err
	}

	initialSemaphore := int64(1)
	if opts.Pending {
		initialSemaphore = 0
	}

	msg := &workflow.Message{
		Metadata: workflow.Metadata{
			Guid:  guid,
			JobID: jobID,
			Aid:   cfg.ID,
			Topic: topic,
			Leg:   workflow.Leg1,
		},
		Type: workflow.MessageTransition,
	}
	addr := dimension.Address{}

	var duplicate bool
	err = m.Store.WithTxn(ctx, func(txn store.Txn) error {
		attrs := &store.NewJobAttrs{ParentJobID: opts.Parent}
		created, _, err := m.Store.CreateJobIfAbsent(ctx, jobID, appID, initialSemaphore, attrs, txn)
		if err != nil {
			return fmt.Errorf("activity: createJobIfAbsent: %w", err)
		}

		guidVal, err := m.Store.ReadGuidLedger(ctx, jobID, guid)
		if err != nil {
			return fmt.Errorf("activity: read guid ledger: %w", err)
		}

		if !created {
			if guidVal < ledger.Seed {
				duplicate = true
				return nil
			}
			// Crash recovery: the job already exists and this guid's
			// ledger is at or past seed, meaning a prior attempt already
			// committed the full trigger transaction. Nothing left to do.
			return nil
		}

		if opts.Search != nil {
			if err := m.Store.WriteFlatState(ctx, jobID, opts.Search, txn); err != nil {
				return fmt.Errorf("activity: seed search data: %w", err)
			}
		}
		if opts.Expire != nil {
			if err := m.Store.WriteFlatState(ctx, jobID, map[string]any{ExpireAfterKey: int64(*opts.Expire)}, txn); err != nil {
				return fmt.Errorf("activity: seed expire TTL: %w", err)
			}
		}
		if _, err := m.Store.IncrementGuidLedger(ctx, jobID, guid, ledger.Seed, txn); err != nil {
			return fmt.Errorf("activity: seed guid ledger: %w", err)
		}
		// Activity ledgers start their life at an unwritten conceptual
		// baseline (ledger.UnwrittenBaseline); a trigger skips the
		// generic Leg 1 entry/authorize dance and is stamped straight to
		// TriggerSeed, so its one-shot delta is expressed relative to
		// that same baseline.
		if _, err := m.Store.IncrementLedger(ctx, jobID, cfg.ID, []string{""}, ledger.TriggerSeed-ledger.UnwrittenBaseline, txn); err != nil {
			return fmt.Errorf("activity: seed trigger ledger: %w", err)
		}

		children, err := m.fanout(cfg, g, msg, addr, nil)
		if err != nil {
			return fmt.Errorf("activity: trigger fan-out: %w", err)
		}
		for _, child := range children {
			if err := m.Publisher.Publish(ctx, child, txn); err != nil {
				return fmt.Errorf("activity: publish child %s: %w", child.Metadata.Aid, err)
			}
		}
		delta := semaphore.Enqueue(len(children))
		if _, err := semaphore.Apply(ctx, m.Store, jobID, delta, 0, guid, txn); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	if duplicate {
		return ErrDuplicateJob
	}
	return nil
}
