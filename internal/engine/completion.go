package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meshrun/engine/internal/activity"
	"github.com/meshrun/engine/internal/domain/workflow"
	"github.com/meshrun/engine/internal/hook"
	"github.com/meshrun/engine/internal/store"
)

// SubscriberTopic is the reserved hook topic a job's one-shot "await
// completion" subscribers register under (§4.4 step 5 "notify one-shot
// subscribers"). It is namespaced per job so CompletionRunner can wake
// exactly that job's waiters via the same hook.Index a signal activity
// uses, without a separate subscriber registry.
func SubscriberTopic(jobID uuid.UUID) string {
	return "$job-complete:" + jobID.String()
}

// Completion is the concrete §4.4 Step 3 "completion tasks" implementation:
// emit the terminal RESPONSE message, wake one-shot subscribers registered
// on SubscriberTopic, and schedule the job's storage expiration if the
// client's `expire` start option (§6) was set. It implements
// activity.CompletionRunner.
type Completion struct {
	Store     store.Provider
	Publisher activity.Publisher
	Hooks     hook.Index
}

var _ activity.CompletionRunner = (*Completion)(nil)

// Run implements activity.CompletionRunner.
func (c *Completion) Run(ctx context.Context, jobID uuid.UUID, topic string, txn store.Txn) error {
	terminal := &workflow.Message{
		Metadata: workflow.Metadata{
			Guid:  uuid.New(),
			JobID: jobID,
			Topic: topic,
			Leg:   workflow.Leg2,
		},
		Type: workflow.MessageResponse,
	}
	if err := c.Publisher.Publish(ctx, terminal, txn); err != nil {
		return fmt.Errorf("engine: publish terminal message: %w", err)
	}

	if c.Hooks != nil {
		waiters, err := c.Hooks.MatchTopic(ctx, jobID, SubscriberTopic(jobID))
		if err != nil {
			return fmt.Errorf("engine: match job-complete subscribers: %w", err)
		}
		for _, w := range waiters {
			wake := &workflow.Message{
				Metadata: workflow.Metadata{
					Guid:  uuid.New(),
					JobID: jobID,
					Dad:   w.DimensionalAddr,
					Aid:   w.ActivityID,
					Topic: topic,
					Leg:   workflow.Leg2,
				},
				Type: workflow.MessageResponse,
			}
			if err := c.Publisher.Publish(ctx, wake, txn); err != nil {
				return fmt.Errorf("engine: wake subscriber %s: %w", w.ActivityID, err)
			}
			if err := c.Hooks.Remove(ctx, w.JobID, w.ActivityID, w.DimensionalAddr, txn); err != nil {
				return fmt.Errorf("engine: remove subscriber registration %s: %w", w.ActivityID, err)
			}
		}
	}

	flat, _, err := c.Store.ReadFlatState(ctx, jobID, []string{activity.ExpireAfterKey})
	if err != nil && err != store.ErrNotFound {
		return fmt.Errorf("engine: read expire TTL: %w", err)
	}
	if raw, ok := flat[activity.ExpireAfterKey]; ok {
		ns, ok := toInt64(raw)
		if ok && ns > 0 {
			if err := c.Store.CascadeExpire(ctx, jobID, time.Now().Add(time.Duration(ns)), txn); err != nil {
				return fmt.Errorf("engine: schedule expiration: %w", err)
			}
		}
	}
	return nil
}

// toInt64 normalizes a flat-state numeric value: values round-trip through
// JSON as float64 once persisted, but memstore and in-process tests may
// hand back the original int64 untouched.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
