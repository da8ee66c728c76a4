// Package stats names the §1 non-goal "statistics reporter" as an interface
// only: aggregate reporting over ledgers/faults/stream health is a
// collaborator that consumes the core's outputs, not a core concern.
package stats

import "context"

// Snapshot is an implementation-defined aggregate report. The core has no
// opinion on its shape; Reporter exists so a collaborator can be wired in
// without the core depending on one.
type Snapshot map[string]any

// Reporter produces an aggregate snapshot on demand.
type Reporter interface {
	Report(ctx context.Context) (Snapshot, error)
}
