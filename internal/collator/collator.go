// Package collator is the thin policy layer over the pure ledger arithmetic
// in internal/ledger: it names the per-protocol-stage deltas (§4.3) and
// decides which fault, if any, a post-increment value represents. It never
// talks to storage itself — callers pass it the value returned by the
// store's atomic increment primitive.
package collator

import "github.com/meshrun/engine/internal/ledger"

// Op identifies one named collation operation from §4.3.
type Op string

const (
	OpNotarizeEntry             Op = "notarizeEntry"
	OpAuthorizeReentry          Op = "authorizeReentry"
	OpNotarizeEarlyCompletion   Op = "notarizeEarlyCompletion"
	OpNotarizeEarlyExit         Op = "notarizeEarlyExit"
	OpNotarizeReentry           Op = "notarizeReentry"
	OpNotarizeContinuation      Op = "notarizeContinuation"
	OpNotarizeCompletion        Op = "notarizeCompletion"
	OpNotarizeStep1             Op = "notarizeStep1"
	OpNotarizeStep2             Op = "notarizeStep2"
	OpNotarizeStep3             Op = "notarizeStep3"
)

const (
	deltaNotarizeEntry                 = -100_000_000_000_000             // -10^14
	deltaAuthorizeReentry              = -10_000_000_000_000              // -10^13
	deltaNotarizeEarlyCompletion       = 1_000_001 - 11*1_000_000_000_000 // +1_000_001 - 11*10^12
	deltaNotarizeEarlyCompletionCyclic = -10 * 1_000_000_000_000          // -10*10^12
	deltaNotarizeEarlyExit             = -11 * 1_000_000_000_000          // -11*10^12
	deltaNotarizeReentryLedger         = 1_000_000                       // +10^6
	deltaNotarizeContinuation          = 1
	deltaNotarizeCompletion            = 1 - 1_000_000_000_000 // +1 - 10^12
	deltaNotarizeCompletionCyclic      = 1
	deltaNotarizeStep1                 = 10_000_000_000 // +10^10
	deltaNotarizeStep2                 = 1_000_000_000  // +10^9
	deltaNotarizeStep3                 = 100_000_000    // +10^8
)

// Delta returns the signed increment a named operation applies to the
// activity ledger (or, for notarizeReentry/step ops, to the GUID ledger
// alongside an equal bundled activity-ledger delta — callers apply both).
func Delta(op Op, cyclic bool) int64 {
	switch op {
	case OpNotarizeEntry:
		return deltaNotarizeEntry
	case OpAuthorizeReentry:
		return deltaAuthorizeReentry
	case OpNotarizeEarlyCompletion:
		if cyclic {
			return deltaNotarizeEarlyCompletionCyclic
		}
		return deltaNotarizeEarlyCompletion
	case OpNotarizeEarlyExit:
		return deltaNotarizeEarlyExit
	case OpNotarizeReentry:
		return deltaNotarizeReentryLedger
	case OpNotarizeContinuation:
		return deltaNotarizeContinuation
	case OpNotarizeCompletion:
		if cyclic {
			return deltaNotarizeCompletionCyclic
		}
		return deltaNotarizeCompletion
	case OpNotarizeStep1:
		return deltaNotarizeStep1
	case OpNotarizeStep2:
		return deltaNotarizeStep2
	case OpNotarizeStep3:
		return deltaNotarizeStep3
	default:
		panic("collator: unknown op " + string(op))
	}
}

// VerifyEntry classifies the post-increment activity ledger value produced
// by applying notarizeEntry's delta, given how many Leg 1 attempts had
// already landed before this one.
func VerifyEntry(postValue int64, priorAttempts int) *ledger.Fault {
	return ledger.ClassifyLeg1Entry(postValue, priorAttempts)
}

// VerifyReentry classifies the pre-increment activity and GUID ledger
// values against notarizeReentry's preconditions. Pass the values observed
// *before* the bundled +10^6/+10^6 deltas are applied.
func VerifyReentry(activityLedgerBefore, guidLedgerBefore int64) *ledger.Fault {
	return ledger.ClassifyLeg2Entry(activityLedgerBefore, guidLedgerBefore)
}

// StepFlags decodes the three Leg 2 step markers from a GUID ledger value.
type StepFlags struct {
	Step1Done bool
	Step2Done bool
	Step3Done bool
}

// Steps reads the step-completion digits (positions 5, 6, 7) off a GUID
// ledger value.
func Steps(guidLedger int64) StepFlags {
	return StepFlags{
		Step1Done: ledger.DigitAt(guidLedger, 5) != 0,
		Step2Done: ledger.DigitAt(guidLedger, 6) != 0,
		Step3Done: ledger.DigitAt(guidLedger, 7) != 0,
	}
}

// SnapshotBitSet reports whether the GUID ledger's job-closed snapshot bit
// (position 4) has been set by setStatusAndCollateGuid.
func SnapshotBitSet(guidLedger int64) bool {
	return ledger.DigitAt(guidLedger, 4) != 0
}

// IsStaleReplay reports whether a fault classified at Leg 2 entry should be
// treated as a stale/replayed message (log, ack, exit) rather than fatal,
// per §7: DUPLICATE and INACTIVE are non-fatal at Leg 2 entry.
func IsStaleReplay(f *ledger.Fault) bool {
	if f == nil {
		return false
	}
	return f.Code == ledger.FaultDuplicate || f.Code == ledger.FaultInactive
}
