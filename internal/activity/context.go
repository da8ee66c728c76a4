// Package activity implements the §4.4 two-leg activity protocol: the
// per-activity Leg 1 (dispatch) / Leg 2 (completion) state machine that
// claims transition messages, advances the collation ledger, executes
// durable work, enqueues children, and acks. It is the core algorithm of
// the engine; every other package in this module exists to serve it.
package activity

import (
	"context"

	"github.com/google/uuid"

	"github.com/meshrun/engine/internal/domain/workflow"
	"github.com/meshrun/engine/internal/graph"
	"github.com/meshrun/engine/internal/store"
)

// Context is the per-invocation execution context passed to a Doer's do-work
// hook (§9 redesign flag: ambient per-task state becomes an explicit value
// threaded through the call, not a task-local store). It carries exactly
// what one activity invocation needs to read its consumed state and declare
// what it produced — nothing ambient survives past the call.
type Context struct {
	Ctx context.Context
	Job *workflow.Job
	Inv *workflow.ActivityInvocation
	Cfg *graph.ActivityConfig
	Msg *workflow.Message

	// Consumed holds the symbols this activity declared in its config's
	// consumes map, already read from the job's flat state.
	Consumed map[string]any

	produced map[string]any
	err      error
}

func newContext(ctx context.Context, job *workflow.Job, inv *workflow.ActivityInvocation, cfg *graph.ActivityConfig, msg *workflow.Message, consumed map[string]any) *Context {
	return &Context{
		Ctx:      ctx,
		Job:      job,
		Inv:      inv,
		Cfg:      cfg,
		Msg:      msg,
		Consumed: consumed,
		produced: map[string]any{},
	}
}

// Produce declares a symbol this activity's work computed, to be written to
// the job's flat state alongside the Step 1 commit.
func (c *Context) Produce(symbol string, value any) {
	c.produced[symbol] = value
}

// Fail records a fatal error for this invocation (§7 "fatal activity
// error"). The driver still runs the compound semaphore primitive so
// completion tasks run even when an activity fails.
func (c *Context) Fail(err error) {
	c.err = err
}

// JobID is a convenience accessor used throughout the driver and tests.
func (c *Context) JobID() uuid.UUID { return c.Job.ID }
