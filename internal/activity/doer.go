package activity

import "github.com/meshrun/engine/internal/domain/workflow"

// Doer specializes the "do-work" hook for one activity Kind (§4.4: "every
// activity follows the same two-leg protocol; implementations specialize
// only the do-work hook" — §9 redesign flag replaces per-subtype
// inheritance with this single tagged-variant interface).
//
// The driver calls Do inside the Leg 1 transaction (HandleLeg1) and again
// inside Leg 2 Step 1's transaction. Re-running Do for an already-completed
// step never happens (the driver skips it), so Do need not be idempotent on
// its own. Apart from ctx.Produce, the one durable side effect a Doer here
// performs is HookDoer's hook registration; any other external call belongs
// behind a worker/hook dispatch, not inline here.
type Doer interface {
	Do(ctx *Context) error
}

// DoerFunc adapts a plain function to a Doer.
type DoerFunc func(ctx *Context) error

func (f DoerFunc) Do(ctx *Context) error { return f(ctx) }

// Registry maps an activity Kind to the Doer that implements its do-work
// hook (run in Leg 1 and in Leg 2 Step 1). Kinds with no durable work of their own (hook, signal,
// cycle, interrupt) may omit an entry; the driver treats a missing entry
// as a no-op Doer.
type Registry map[workflow.Kind]Doer

func (r Registry) lookup(kind workflow.Kind) Doer {
	if d, ok := r[kind]; ok {
		return d
	}
	return DoerFunc(func(ctx *Context) error { return nil })
}
