// Package engine assembles the collation primitives (internal/ledger,
// internal/collator, internal/activity, internal/store) behind the §6
// client-facing surface: start, signal, interrupt, and the two read
// operations a caller polls against, getState and getStatus. It is the
// thinnest possible wrapper — every invariant already lives in
// internal/activity.Machine; Facade only adapts that machine's shape to
// the handful of calls an embedding application makes.
package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/meshrun/engine/internal/activity"
	"github.com/meshrun/engine/internal/hook"
	"github.com/meshrun/engine/internal/stats"
	"github.com/meshrun/engine/internal/store"
	"github.com/meshrun/engine/internal/telemetry"
)

// Status is the §6 getStatus(jobId) summary: a point-in-time read of a
// job's obligation count and whether it is still open.
type Status struct {
	JobID     uuid.UUID
	Semaphore int64
	Active    bool
	Complete  bool
	Error     string
}

// Facade is the single entry point an embedding application holds. AppID
// scopes every job this Facade starts (§3: jobs belong to an app).
type Facade struct {
	AppID     string
	Machine   *activity.Machine
	Store     store.Provider
	Telemetry telemetry.Exporter // optional
	Stats     stats.Reporter     // optional
}

// Start runs the §6 start(graphId, args, options) entrypoint: a fresh job
// id is minted, its trigger seeded, and the first fan-out published, all
// before Start returns. Any error from activity.HandleTrigger, including
// ErrDuplicateJob, is returned unchanged; since Start mints a new jobID on
// every call, a retried Start creates a second job rather than reusing one.
func (f *Facade) Start(ctx context.Context, graphID string, args map[string]any, opts activity.StartOptions) (uuid.UUID, error) {
	jobID := uuid.New()
	guid := uuid.New()
	if opts.Search == nil && len(args) > 0 {
		opts.Search = args
	}
	if err := f.Machine.HandleTrigger(ctx, jobID, f.AppID, graphID, guid, opts); err != nil {
		return uuid.Nil, err
	}
	return jobID, nil
}

// Signal implements §6 signal(jobId, topic, payload): an external wakeup
// delivered to every hook activity registered under topic for jobID.
func (f *Facade) Signal(ctx context.Context, jobID uuid.UUID, topic string, payload []byte) ([]hook.SignalFanoutResult, error) {
	return f.Machine.Signal(ctx, jobID, topic, payload)
}

// Interrupt implements §5/§6 interrupt(jobId): the job is marked inactive
// and every paused hook registered for it is woken with an interrupted
// response (§4.8 SUPPLEMENT).
func (f *Facade) Interrupt(ctx context.Context, jobID uuid.UUID) error {
	return f.Machine.Interrupt(ctx, jobID)
}

// GetState implements §6 getState(jobId): the job's full flat-state
// snapshot, the same symbol table activity expressions and doers read and
// write against.
func (f *Facade) GetState(ctx context.Context, jobID uuid.UUID) (map[string]any, error) {
	flat, _, err := f.Store.ReadFlatState(ctx, jobID, nil)
	if err != nil {
		return nil, fmt.Errorf("engine: get state: %w", err)
	}
	return flat, nil
}

// GetStatus implements §6 getStatus(jobId): the job's current obligation
// count and derived activity/completion flags. A job interrupted via
// Interrupt reports Active=false, Complete=false, and its negative
// semaphore sentinel verbatim — a caller distinguishing "interrupted" from
// "still running" should check Semaphore < 0.
func (f *Facade) GetStatus(ctx context.Context, jobID uuid.UUID) (Status, error) {
	flat, sem, err := f.Store.ReadFlatState(ctx, jobID, []string{jobErrorKey})
	if err != nil {
		return Status{}, fmt.Errorf("engine: get status: %w", err)
	}
	errMsg, _ := flat[jobErrorKey].(string)
	return Status{
		JobID:     jobID,
		Semaphore: sem,
		Active:    sem > 0,
		Complete:  sem == 0,
		Error:     errMsg,
	}, nil
}

// Export implements §6 export(jobId) -> timeline, delegating to whatever
// telemetry.Exporter the embedding application wired in (§1 non-goal:
// building that exporter is out of scope for this engine).
func (f *Facade) Export(ctx context.Context, jobID uuid.UUID) ([]telemetry.Event, error) {
	if f.Telemetry == nil {
		return nil, fmt.Errorf("engine: no telemetry exporter configured")
	}
	return f.Telemetry.Export(ctx, jobID)
}

// jobErrorKey is the reserved flat-state path a fatal activity error (§7
// "sets the job error slot") is recorded under, mirroring
// activity.ExpireAfterKey's convention of carrying engine-internal state
// through the same flat-state map rather than extending store.Provider
// with a dedicated column per concern.
const jobErrorKey = "_job_error"

// RecordJobError writes jobErrorKey so a later GetStatus call surfaces a
// fatal activity failure (§7). Callers that wrap a Doer to translate a
// fatal error into CodeFatal should call this before publishing the
// terminal RESPONSE.
func RecordJobError(ctx context.Context, s store.Provider, jobID uuid.UUID, msg string, txn store.Txn) error {
	return s.WriteFlatState(ctx, jobID, map[string]any{jobErrorKey: msg}, txn)
}
