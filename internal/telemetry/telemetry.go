// Package telemetry names the §1 non-goal "event-history exporter" as an
// interface only: the core emits into it but does not implement it. A real
// exporter would replay a job's ledger/message history into a timeline for
// export(jobId) (§6) — building that replay is the distinct, out-of-scope
// subsystem §1 names, not a core collation-engine concern.
package telemetry

import (
	"context"

	"github.com/google/uuid"
)

// Event is one entry in a job's exported timeline (§6 export(jobId) ->
// timeline). Shape only: a real exporter decides what else belongs here.
type Event struct {
	JobID     uuid.UUID
	Activity  string
	Dad       string
	Kind      string
	Timestamp int64
}

// Exporter produces a job's timeline on demand.
type Exporter interface {
	Export(ctx context.Context, jobID uuid.UUID) ([]Event, error)
}
