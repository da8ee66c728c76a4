// Package hook implements §4.6: webhook/sleep registration for hook
// activities, and the signal-matching index a signal activity consults to
// find the hook(s) it wakes. Sleep timers and webhook registrations share
// one durable index keyed by (job, activity, dimensional address) and
// searchable by topic; the time-hook dispatcher and the
// signal activity are both just writers/readers of that index.
package hook

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meshrun/engine/internal/store"
)

// Registration is one paused hook activity waiting on a webhook topic or a
// sleep deadline (§4.6).
type Registration struct {
	JobID           uuid.UUID
	ActivityID      string
	DimensionalAddr string
	Topic           string // webhook/signal topic, empty for a pure sleep
	// StreamTopic is the job's graph/stream topic (§4.7) — distinct from
	// Topic, which is the webhook/signal name a client or signal activity
	// matches against. A wakeup published outside the originating message's
	// context (Signal, Interrupt, a sleep dispatcher) has no in-flight
	// message to read this from, so it is captured here at registration
	// time instead.
	StreamTopic string
	Deadline    *time.Time // sleep deadline, nil for a pure webhook wait
}

// Index is the durable registration store. The Postgres-backed
// implementation (pgstore.Store) keys each row on (job_id, activity_id,
// dimensional_addr) with an index on topic; this
// interface is what internal/activity's hook Doer and the signal fan-out
// path both depend on.
type Index interface {
	Register(ctx context.Context, reg Registration, txn store.Txn) error
	// MatchTopic returns every registration waiting on topic for jobID,
	// used by signal-one (single target, transactional) and signal-all
	// (fan-out, best-effort).
	MatchTopic(ctx context.Context, jobID uuid.UUID, topic string) ([]Registration, error)
	// DueSleeps returns registrations whose deadline has elapsed, for the
	// time-hook dispatcher to wake.
	DueSleeps(ctx context.Context, before time.Time) ([]Registration, error)
	// Remove deletes a registration once its hook has resumed, so a
	// redelivered signal doesn't match it twice.
	Remove(ctx context.Context, jobID uuid.UUID, activityID, dimensionalAddr string, txn store.Txn) error
	// ByJob returns every open registration for jobID regardless of topic,
	// used by interrupt propagation (§4.8 SUPPLEMENT) to wake every paused
	// hook a client-initiated interrupt must reach.
	ByJob(ctx context.Context, jobID uuid.UUID) ([]Registration, error)
}

// SignalFanoutResult is the outcome of a signal-all delivery to one matched
// target (§9 open-question decision 2: "mark partial-success" rather than
// replay the whole signal when some targets commit and others don't). Err
// is a string, not an error, since this value is written verbatim into a
// job's flat-state output so operators can see which hooks did not wake.
type SignalFanoutResult struct {
	Target    Registration
	Delivered bool
	Err       string
}

// SignalAll delivers payload to every registration matched under topic,
// independently committing each one; a failure on one target never undoes
// another's delivery (§4.4 "signal-all ... is best-effort, not
// transactional across all targets").
func SignalAll(ctx context.Context, idx Index, deliver func(ctx context.Context, reg Registration) error, jobID uuid.UUID, topic string) ([]SignalFanoutResult, error) {
	targets, err := idx.MatchTopic(ctx, jobID, topic)
	if err != nil {
		return nil, fmt.Errorf("hook: match topic %q: %w", topic, err)
	}
	results := make([]SignalFanoutResult, 0, len(targets))
	for _, t := range targets {
		res := SignalFanoutResult{Target: t}
		if err := deliver(ctx, t); err != nil {
			res.Err = err.Error()
		} else {
			res.Delivered = true
		}
		results = append(results, res)
	}
	return results, nil
}
