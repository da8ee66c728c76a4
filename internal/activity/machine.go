package activity

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/meshrun/engine/internal/collator"
	"github.com/meshrun/engine/internal/dimension"
	"github.com/meshrun/engine/internal/domain/workflow"
	"github.com/meshrun/engine/internal/expr"
	"github.com/meshrun/engine/internal/graph"
	"github.com/meshrun/engine/internal/hook"
	"github.com/meshrun/engine/internal/ledger"
	"github.com/meshrun/engine/internal/store"
)

// Publisher appends a transition message to its target stream, inside the
// caller's transaction when txn is non-nil (§4.7 streamAppend).
type Publisher interface {
	Publish(ctx context.Context, msg *workflow.Message, txn store.Txn) error
}

// CompletionRunner runs a job's one-time completion tasks (§4.4 Step 3):
// emit the terminal message, notify subscribers, schedule expiration. topic
// is the closing activity's topic, which is also the job's graph topic
// (one job subscribes to exactly one graph/topic for its whole lifetime).
type CompletionRunner interface {
	Run(ctx context.Context, jobID uuid.UUID, topic string, txn store.Txn) error
}

// Machine wires the store, collator policy, compiled graphs, and Kind
// dispatch table into the Leg 1 / Leg 2 driver (§4.4).
type Machine struct {
	Store      store.Provider
	Graphs     map[string]*graph.Graph
	Doers      Registry
	Publisher  Publisher
	Completion CompletionRunner
	Evaluator  expr.Evaluator
	Hooks      hook.Index
}

func (m *Machine) graphFor(topic string) (*graph.Graph, error) {
	g, ok := m.Graphs[topic]
	if !ok {
		return nil, fmt.Errorf("activity: no compiled graph for topic %q", topic)
	}
	return g, nil
}

// staleReplay reports whether a fault should be handled as a non-fatal
// stale/replayed message: log, ack, exit (§7).
func staleReplay(f *ledger.Fault) bool {
	if f == nil {
		return false
	}
	return f.Code == ledger.FaultDuplicate || f.Code == ledger.FaultInactive
}

// Handle dispatches a dequeued TRANSITION message to HandleLeg1 or
// HandleLeg2 by its Leg tag (§4.4, §4.7). It is the single entry point the
// stream router calls per claimed message.
func (m *Machine) Handle(ctx context.Context, msg *workflow.Message) error {
	switch msg.Metadata.Leg {
	case workflow.Leg2:
		return m.HandleLeg2(ctx, msg)
	default:
		return m.HandleLeg1(ctx, msg)
	}
}

// HandleLeg1 runs the Leg 1 entry protocol for a TRANSITION message
// targeting a non-trigger activity (§4.4).
func (m *Machine) HandleLeg1(ctx context.Context, msg *workflow.Message) error {
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

	post, err := m.Store.IncrementLedger(ctx, msg.Metadata.JobID, cfg.ID, dims, collator.Delta(collator.OpNotarizeEntry, cfg.Cyclic), nil)
	if err != nil {
		return fmt.Errorf("activity: notarizeEntry: %w", err)
	}
	priorAttempts := int(ledger.DigitAt(post, 3))
	if fault := collator.VerifyEntry(post, priorAttempts); fault != nil {
		if staleReplay(fault) {
			return nil // ack and exit: stale/replayed Leg 1 message
		}
		return fault
	}

	return m.Store.WithTxn(ctx, func(txn store.Txn) error {
		ac := newContext(ctx, nil, nil, cfg, msg, nil)
		if doer := m.Doers.lookup(cfg.Kind); doer != nil {
			if err := doer.Do(ac); err != nil {
				ac.Fail(err)
			}
		}
		if len(ac.produced) > 0 {
			if err := m.Store.WriteFlatState(ctx, msg.Metadata.JobID, ac.produced, txn); err != nil {
				return fmt.Errorf("activity: leg1 write flat state: %w", err)
			}
		}

		switch cfg.Kind {
		case workflow.KindCycle:
			if _, err := m.Store.IncrementLedger(ctx, msg.Metadata.JobID, cfg.ID, dims, collator.Delta(collator.OpNotarizeEarlyExit, cfg.Cyclic), txn); err != nil {
				return fmt.Errorf("activity: notarizeEarlyExit: %w", err)
			}
			return m.publishCycleReentry(ctx, msg, cfg, addr, post, txn)
		case workflow.KindSignal:
			if err := m.deliverSignal(ctx, msg, cfg, txn); err != nil {
				return err
			}
			if _, err := m.Store.IncrementLedger(ctx, msg.Metadata.JobID, cfg.ID, dims, collator.Delta(collator.OpNotarizeEarlyCompletion, cfg.Cyclic), txn); err != nil {
				return fmt.Errorf("activity: notarizeEarlyCompletion: %w", err)
			}
			return nil
		case workflow.KindHook, workflow.KindAwait:
			// A paused hook/await has no Leg 2 message of its own yet: the
			// real one arrives later from an external wake (a signal or a
			// fired timer, §4.6), not from this commit. authorizeReentry
			// opens Leg 2 (priming it, not closing it) so that later wake
			// passes ClassifyLeg2Entry's IsPrimed/!IsInactive check instead
			// of being misread as a stale replay.
			if _, err := m.Store.IncrementLedger(ctx, msg.Metadata.JobID, cfg.ID, dims, collator.Delta(collator.OpAuthorizeReentry, cfg.Cyclic), txn); err != nil {
				return fmt.Errorf("activity: authorizeReentry: %w", err)
			}
			return nil
		default:
			if _, err := m.Store.IncrementLedger(ctx, msg.Metadata.JobID, cfg.ID, dims, collator.Delta(collator.OpAuthorizeReentry, cfg.Cyclic), txn); err != nil {
				return fmt.Errorf("activity: authorizeReentry: %w", err)
			}
			return m.publishLeg2(ctx, msg, cfg, addr, txn)
		}
	})
}

// publishLeg2 emits the message that transitions this same invocation into
// Leg 2, carrying a fresh message guid as §4.4 step 2 requires.
func (m *Machine) publishLeg2(ctx context.Context, msg *workflow.Message, cfg *graph.ActivityConfig, addr dimension.Address, txn store.Txn) error {
	leg2 := &workflow.Message{
		Metadata: workflow.Metadata{
			Guid:  uuid.New(),
			JobID: msg.Metadata.JobID,
			GenID: msg.Metadata.GenID,
			Dad:   addr.String(),
			Aid:   cfg.ID,
			Topic: msg.Metadata.Topic,
			Leg:   workflow.Leg2,
		},
		Type: workflow.MessageTransition,
		Data: msg.Data,
	}
	return m.Publisher.Publish(ctx, leg2, txn)
}

func (m *Machine) publishCycleReentry(ctx context.Context, msg *workflow.Message, cfg *graph.ActivityConfig, addr dimension.Address, postLedger int64, txn store.Txn) error {
	if len(cfg.Ancestors) == 0 {
		return fmt.Errorf("activity: cycle activity %q has no ancestor to re-enter", cfg.ID)
	}
	ancestorID := cfg.Ancestors[len(cfg.Ancestors)-1]
	nextIndex := int(ledger.DimensionalIndex(postLedger)) + 1
	target := addr.CycleReentry(nextIndex)

	reentry := &workflow.Message{
		Metadata: workflow.Metadata{
			Guid:  uuid.New(),
			JobID: msg.Metadata.JobID,
			GenID: msg.Metadata.GenID,
			Dad:   target.String(),
			Aid:   ancestorID,
			Topic: msg.Metadata.Topic,
			Leg:   workflow.Leg1,
		},
		Type: workflow.MessageTransition,
	}
	return m.Publisher.Publish(ctx, reentry, txn)
}

// dimensionalAddresses returns the set of dimensional addresses an
// incrementLedger call must touch (§4.1 "across every named dimensional
// address (ancestors + self)"): the invocation's own address first, then
// every shorter non-empty prefix of it, each in trimmed storage form. The
// activity's Cyclic flag is not consulted; an address of length n yields
// n entries.
func dimensionalAddresses(self dimension.Address) []string {
	out := []string{self.String()}
	for i := len(self) - 1; i > 0; i-- {
		prefix := self[:i]
		out = append(out, prefix.String())
	}
	return out
}

// deliverSignal implements §4.4's two signal subtypes. signal-one bundles
// the hook publish with the Leg 1 completion marker in the same
// transaction (txn is the caller's open Leg 1 transaction); signal-all is
// best-effort per target and never fails the signal activity's own Leg 1
// even when some targets don't match or a delivery errors (§9 open
// question: "mark partial-success" rather than replay the whole signal).
func (m *Machine) deliverSignal(ctx context.Context, msg *workflow.Message, cfg *graph.ActivityConfig, txn store.Txn) error {
	if m.Hooks == nil {
		return fmt.Errorf("activity: signal activity %q has no hook index configured", cfg.ID)
	}
	targets, err := m.Hooks.MatchTopic(ctx, msg.Metadata.JobID, cfg.HookTopic)
	if err != nil {
		return fmt.Errorf("activity: match signal topic %q: %w", cfg.HookTopic, err)
	}

	deliver := func(t hook.Registration) error {
		wake := &workflow.Message{
			Metadata: workflow.Metadata{
				Guid:  uuid.New(),
				JobID: msg.Metadata.JobID,
				GenID: msg.Metadata.GenID,
				Dad:   t.DimensionalAddr,
				Aid:   t.ActivityID,
				Topic: msg.Metadata.Topic,
				Leg:   workflow.Leg2,
			},
			Type: workflow.MessageTransition,
			Data: msg.Data,
		}
		if err := m.Publisher.Publish(ctx, wake, txn); err != nil {
			return err
		}
		return m.Hooks.Remove(ctx, t.JobID, t.ActivityID, t.DimensionalAddr, txn)
	}

	if cfg.Subtype == workflow.SignalAll {
		results := make([]hook.SignalFanoutResult, 0, len(targets))
		for _, t := range targets {
			res := hook.SignalFanoutResult{Target: t}
			if err := deliver(t); err != nil {
				res.Err = err.Error() // best-effort: one target's failure must not block the rest
			} else {
				res.Delivered = true
			}
			results = append(results, res)
		}
		path := fmt.Sprintf("%s.signal_fanout", cfg.ID)
		return m.Store.WriteFlatState(ctx, msg.Metadata.JobID, map[string]any{path: results}, txn)
	}

	// signal-one: exactly one target is expected; delivering and the Leg 1
	// completion marker commit together since both happen inside txn.
	for _, t := range targets {
		if err := deliver(t); err != nil {
			return fmt.Errorf("activity: deliver signal to %s: %w", t.ActivityID, err)
		}
		break
	}
	return nil
}

// fanout evaluates every outgoing transition from cfg and builds the child
// TRANSITION messages that qualify (§4.5). The cycle index used in each
// child's dimensional address is always 0 on a first entry; cyclic
// re-entries carry a non-zero value already baked into addr by the time
// fanout runs.
func (m *Machine) fanout(cfg *graph.ActivityConfig, g *graph.Graph, msg *workflow.Message, addr dimension.Address, flat map[string]any) ([]*workflow.Message, error) {
	evaluator := m.Evaluator
	if evaluator == nil {
		evaluator = expr.AlwaysTrue{}
	}
	childAddr := addr.Child(0)

	var children []*workflow.Message
	for _, t := range g.Outgoing(cfg.ID) {
		ok, err := evaluator.Evaluate(t.Expression, flat)
		if err != nil {
			return nil, fmt.Errorf("evaluate transition %s->%s: %w", cfg.ID, t.Target, err)
		}
		if !ok {
			continue
		}
		children = append(children, &workflow.Message{
			Metadata: workflow.Metadata{
				Guid:  uuid.New(),
				JobID: msg.Metadata.JobID,
				GenID: msg.Metadata.GenID,
				Dad:   childAddr.String(),
				Aid:   t.Target,
				Topic: msg.Metadata.Topic,
				Leg:   workflow.Leg1,
			},
			Type: workflow.MessageTransition,
		})
	}
	return children, nil
}
