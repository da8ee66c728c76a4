package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/meshrun/engine/internal/domain/workflow"
	"github.com/meshrun/engine/internal/hook"
	"github.com/meshrun/engine/internal/store"
)

// Signal is the client-facing §6 signal(topic, payload) entrypoint: it
// delivers payload to every hook activity registered under topic for jobID,
// independent of any signal activity inside the graph itself (a signal
// activity is one *producer* of this same delivery; an external client call
// is another). Each matched target is delivered and removed independently
// (§9 open-question decision 2, "mark partial-success").
func (m *Machine) Signal(ctx context.Context, jobID uuid.UUID, topic string, payload []byte) ([]hook.SignalFanoutResult, error) {
	if m.Hooks == nil {
		return nil, fmt.Errorf("activity: no hook index configured")
	}
	targets, err := m.Hooks.MatchTopic(ctx, jobID, topic)
	if err != nil {
		return nil, fmt.Errorf("activity: match signal topic %q: %w", topic, err)
	}

	results := make([]hook.SignalFanoutResult, 0, len(targets))
	err = m.Store.WithTxn(ctx, func(txn store.Txn) error {
		for _, t := range targets {
			res := hook.SignalFanoutResult{Target: t}
			if derr := m.wake(ctx, t, jobID, payload, txn); derr != nil {
				res.Err = derr.Error() // best-effort: one target's failure must not block the rest
			} else {
				res.Delivered = true
			}
			results = append(results, res)
		}
		return nil
	})
	return results, err
}

// WakeHook publishes a Leg 2 TRANSITION message to reg and removes its
// registration, wrapped in its own transaction. It is the primitive a
// sleep-deadline dispatcher uses to resume a hook activity registered with
// a Deadline but no Topic (§4.6), sharing the same delivery path Signal
// uses for topic-matched wakeups.
func (m *Machine) WakeHook(ctx context.Context, reg hook.Registration, payload []byte) error {
	return m.Store.WithTxn(ctx, func(txn store.Txn) error {
		return m.wake(ctx, reg, reg.JobID, payload, txn)
	})
}

// wake publishes a Leg 2 TRANSITION message to a paused hook target and
// removes its registration so a redelivered signal can't match it twice.
func (m *Machine) wake(ctx context.Context, t hook.Registration, jobID uuid.UUID, payload []byte, txn store.Txn) error {
	msg := &workflow.Message{
		Metadata: workflow.Metadata{
			Guid:  uuid.New(),
			JobID: jobID,
			Dad:   t.DimensionalAddr,
			Aid:   t.ActivityID,
			Topic: t.StreamTopic,
			Leg:   workflow.Leg2,
		},
		Type: workflow.MessageTransition,
		Data: payload,
	}
	if err := m.Publisher.Publish(ctx, msg, txn); err != nil {
		return err
	}
	return m.Hooks.Remove(ctx, t.JobID, t.ActivityID, t.DimensionalAddr, txn)
}

// Interrupt implements §5's user-initiated job interruption and §4.8's
// interrupt-propagation-to-hooks SUPPLEMENT: it writes the negative
// semaphore sentinel and, in the same transaction, wakes every paused hook
// registered for jobID with a synthetic RESPONSE-coded (410, interrupted)
// message, so pending hooks get a concrete wakeup rather than relying on
// the next unrelated poll to discover readFlatState's semaphore <= 0.
func (m *Machine) Interrupt(ctx context.Context, jobID uuid.UUID) error {
	var targets []hook.Registration
	if m.Hooks != nil {
		var err error
		targets, err = m.Hooks.ByJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("activity: list hooks for interrupt: %w", err)
		}
	}
	return m.Store.WithTxn(ctx, func(txn store.Txn) error {
		if err := m.Store.Interrupt(ctx, jobID, txn); err != nil {
			return fmt.Errorf("activity: interrupt: %w", err)
		}
		for _, t := range targets {
			errPayload := workflow.ErrorPayload{Status: workflow.ResponseError, Code: workflow.CodeInterrupted}
			errPayload.Data.Message = "job interrupted"
			data, err := json.Marshal(errPayload)
			if err != nil {
				return fmt.Errorf("activity: marshal interrupt payload: %w", err)
			}
			wake := &workflow.Message{
				Metadata: workflow.Metadata{
					Guid:  uuid.New(),
					JobID: jobID,
					Dad:   t.DimensionalAddr,
					Aid:   t.ActivityID,
					Topic: t.StreamTopic,
					Leg:   workflow.Leg2,
				},
				Type: workflow.MessageResponse,
				Data: data,
			}
			if err := m.Publisher.Publish(ctx, wake, txn); err != nil {
				return fmt.Errorf("activity: publish interrupt wake to %s: %w", t.ActivityID, err)
			}
			if err := m.Hooks.Remove(ctx, t.JobID, t.ActivityID, t.DimensionalAddr, txn); err != nil {
				return fmt.Errorf("activity: remove hook registration for %s: %w", t.ActivityID, err)
			}
		}
		return nil
	})
}
