package activity

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/meshrun/engine/internal/collator"
	"github.com/meshrun/engine/internal/dimension"
	"github.com/meshrun/engine/internal/domain/workflow"
	"github.com/meshrun/engine/internal/graph"
	"github.com/meshrun/engine/internal/semaphore"
	"github.com/meshrun/engine/internal/store"
)

// HandleLeg2 runs the Leg 2 completion protocol for a TRANSITION message
// carrying a fresh message guid (§4.4 steps 1-6).
func (m *Machine) HandleLeg2(ctx context.Context, msg *workflow.Message) error {
	g, err := m.graphFor(msg.Metadata.Topic)
	if err != nil {
		return err
	}
	cfg, ok := g.Activity(msg.Metadata.Aid)
	if !ok {
		return fmt.Errorf("activity: graph %s has no activity %q", g.ID, msg.Metadata.Aid)
	}
	addr := msg.Address()
	dims := dimensionalAddresses(addr)
	jobID, guid := msg.Metadata.JobID, msg.Metadata.Guid

	actBefore, err := m.Store.ReadLedger(ctx, jobID, cfg.ID, addr.String())
	if err != nil {
		return fmt.Errorf("activity: leg2 read activity ledger: %w", err)
	}
	guidBefore, err := m.Store.ReadGuidLedger(ctx, jobID, guid)
	if err != nil {
		return fmt.Errorf("activity: leg2 read guid ledger: %w", err)
	}
	if fault := collator.VerifyReentry(actBefore, guidBefore); fault != nil {
		if staleReplay(fault) {
			return nil // ack and exit: stale/replayed Leg 2 message
		}
		return fault
	}

	if _, err := m.Store.IncrementLedger(ctx, jobID, cfg.ID, dims, collator.Delta(collator.OpNotarizeReentry, cfg.Cyclic), nil); err != nil {
		return fmt.Errorf("activity: notarizeReentry (activity ledger): %w", err)
	}
	guidLedger, err := m.Store.IncrementGuidLedger(ctx, jobID, guid, collator.Delta(collator.OpNotarizeReentry, cfg.Cyclic), nil)
	if err != nil {
		return fmt.Errorf("activity: notarizeReentry (guid ledger): %w", err)
	}

	flat, semVal, err := m.Store.ReadFlatState(ctx, jobID, consumedPaths(cfg))
	if err != nil {
		return fmt.Errorf("activity: leg2 read flat state: %w", err)
	}
	if semVal <= 0 {
		return nil // §5: InactiveJob — interrupted job, ack silently
	}

	steps := collator.Steps(guidLedger)

	if !steps.Step1Done {
		if err := m.step1(ctx, jobID, cfg, msg, flat, dims, guid); err != nil {
			return err
		}
		guidLedger, err = m.Store.ReadGuidLedger(ctx, jobID, guid)
		if err != nil {
			return fmt.Errorf("activity: leg2 reread guid ledger after step1: %w", err)
		}
		steps = collator.Steps(guidLedger)
	}

	if !steps.Step2Done {
		if err := m.step2(ctx, jobID, cfg, g, msg, addr, dims, guid, flat); err != nil {
			return err
		}
		guidLedger, err = m.Store.ReadGuidLedger(ctx, jobID, guid)
		if err != nil {
			return fmt.Errorf("activity: leg2 reread guid ledger after step2: %w", err)
		}
		steps = collator.Steps(guidLedger)
	}

	if !steps.Step3Done && collator.SnapshotBitSet(guidLedger) {
		if err := m.step3(ctx, jobID, cfg, msg.Metadata.Topic, dims, guid); err != nil {
			return err
		}
	}

	return nil
}

// step1 executes the activity's "do work" hook and commits its produced
// flat-state symbols alongside the step-1 marker (§4.4 step 3).
func (m *Machine) step1(ctx context.Context, jobID uuid.UUID, cfg *graph.ActivityConfig, msg *workflow.Message, consumed map[string]any, dims []string, guid uuid.UUID) error {
	return m.Store.WithTxn(ctx, func(txn store.Txn) error {
		ac := newContext(ctx, nil, nil, cfg, msg, consumed)
		if err := m.Doers.lookup(cfg.Kind).Do(ac); err != nil {
			ac.Fail(err)
		}
		if len(ac.produced) > 0 {
			if err := m.Store.WriteFlatState(ctx, jobID, ac.produced, txn); err != nil {
				return fmt.Errorf("activity: step1 write flat state: %w", err)
			}
		}
		if _, err := m.Store.IncrementGuidLedger(ctx, jobID, guid, collator.Delta(collator.OpNotarizeStep1, cfg.Cyclic), txn); err != nil {
			return fmt.Errorf("activity: notarizeStep1 (guid ledger): %w", err)
		}
		if _, err := m.Store.IncrementLedger(ctx, jobID, cfg.ID, dims, collator.Delta(collator.OpNotarizeStep1, cfg.Cyclic), txn); err != nil {
			return fmt.Errorf("activity: notarizeStep1 (activity ledger): %w", err)
		}
		return nil
	})
}

// step2 evaluates outgoing transitions, appends qualifying child messages,
// and runs the compound semaphore primitive in one transaction (§4.4
// step 4, §4.5).
func (m *Machine) step2(ctx context.Context, jobID uuid.UUID, cfg *graph.ActivityConfig, g *graph.Graph, msg *workflow.Message, addr dimension.Address, dims []string, guid uuid.UUID, flat map[string]any) error {
	children, err := m.fanout(cfg, g, msg, addr, flat)
	if err != nil {
		return fmt.Errorf("activity: evaluate transitions: %w", err)
	}
	delta := semaphore.Enqueue(len(children))
	// Threshold is fixed at zero (§3: "semaphore = 0 means complete"). The
	// Threshold field on workflow.Job is not read here, so a job with a
	// non-zero completion threshold still completes at semaphore 0.
	threshold := int64(0)

	return m.Store.WithTxn(ctx, func(txn store.Txn) error {
		for _, child := range children {
			if err := m.Publisher.Publish(ctx, child, txn); err != nil {
				return fmt.Errorf("activity: publish child %s: %w", child.Metadata.Aid, err)
			}
		}
		if _, err := semaphore.Apply(ctx, m.Store, jobID, delta, threshold, guid, txn); err != nil {
			return err
		}
		if _, err := m.Store.IncrementGuidLedger(ctx, jobID, guid, collator.Delta(collator.OpNotarizeStep2, cfg.Cyclic), txn); err != nil {
			return fmt.Errorf("activity: notarizeStep2 (guid ledger): %w", err)
		}
		if _, err := m.Store.IncrementLedger(ctx, jobID, cfg.ID, dims, collator.Delta(collator.OpNotarizeStep2, cfg.Cyclic), txn); err != nil {
			return fmt.Errorf("activity: notarizeStep2 (activity ledger): %w", err)
		}

		// Leg 2's terminal decision: a cyclic activity (one a cycle keeps
		// re-entering) stays open for its next iteration, everything else
		// closes here. This must land in the same transaction as step2 —
		// not step3, which is gated on this message's snapshot bit and may
		// never run for most activities — so that IsInactive becomes true
		// for every ordinary activity's ledger once its Leg 2 work is done,
		// regardless of whether this message also happened to close the job.
		//
		// Unlike notarizeReentry/notarizeStep1-3, §4.3 defines this as a
		// single activity-ledger delta, not a bundled activity+GUID update.
		// notarizeCompletion's delta is "1 - 10^12", which decrements the
		// activity ledger's position 3. The GUID ledger's digits mean
		// something else: semaphore.Apply above may have just written the
		// job-closed snapshot bit to this guid's ledger as "+= 10^11"
		// (position 4), next to the step markers. Adding "1 - 10^12" there
		// would drive the GUID ledger negative and garble those digits, so
		// the SnapshotBitSet check below could no longer be trusted and
		// step3 might never run for that job.
		terminalOp := collator.OpNotarizeCompletion
		if cfg.Cyclic {
			terminalOp = collator.OpNotarizeContinuation
		}
		if _, err := m.Store.IncrementLedger(ctx, jobID, cfg.ID, dims, collator.Delta(terminalOp, cfg.Cyclic), txn); err != nil {
			return fmt.Errorf("activity: %s (activity ledger): %w", terminalOp, err)
		}
		return nil
	})
}

// step3 runs the job's one-time completion tasks, gated solely on the
// GUID ledger's snapshot bit (§4.4 step 5).
func (m *Machine) step3(ctx context.Context, jobID uuid.UUID, cfg *graph.ActivityConfig, topic string, dims []string, guid uuid.UUID) error {
	return m.Store.WithTxn(ctx, func(txn store.Txn) error {
		if m.Completion != nil {
			if err := m.Completion.Run(ctx, jobID, topic, txn); err != nil {
				return fmt.Errorf("activity: completion tasks: %w", err)
			}
		}
		if _, err := m.Store.IncrementGuidLedger(ctx, jobID, guid, collator.Delta(collator.OpNotarizeStep3, cfg.Cyclic), txn); err != nil {
			return fmt.Errorf("activity: notarizeStep3 (guid ledger): %w", err)
		}
		if _, err := m.Store.IncrementLedger(ctx, jobID, cfg.ID, dims, collator.Delta(collator.OpNotarizeStep3, cfg.Cyclic), txn); err != nil {
			return fmt.Errorf("activity: notarizeStep3 (activity ledger): %w", err)
		}
		return nil
	})
}

func consumedPaths(cfg *graph.ActivityConfig) []string {
	var out []string
	for _, paths := range cfg.Consumes {
		out = append(out, paths...)
	}
	return out
}
