// Package ledger implements the pure digit-position arithmetic over the
// 15-digit collation ledger. Every ledger (activity or GUID) is a signed
// int64 whose decimal representation, read most-significant digit first,
// carries the following fields:
//
//	pos  weight   meaning
//	3    10^12    Leg 1 entry-attempt counter (0..999)
//	4    10^11    Leg 1 completion marker (0/1)
//	5    10^10    Leg 2 step marker: work done
//	6    10^9     Leg 2 step marker: children spawned
//	7    10^8     Leg 2 step marker: job-completion tasks done
//	8-15 10^7..1  Leg 2 entry counter (0..99,999,999)
//
// On a GUID ledger position 4 instead carries the job-closed snapshot bit.
// Positions 1 and 2 carry the leading digits of the seed values (Seed,
// TriggerSeed), which notarizeEntry and authorizeReentry decrement; IsPrimed
// reads them.
package ledger

import "fmt"

const (
	// Seed marks "Leg 1 entry primed, awaiting execution".
	Seed int64 = 899_000_000_000_000

	// TriggerSeed marks a trigger activity as pre-completed.
	TriggerSeed int64 = 888_000_001_000_001

	// MaxLeg1Attempts is the fatal cap on the Leg 1 entry-attempt counter.
	MaxLeg1Attempts = 999

	// MaxLeg2Entries is the fatal cap on the Leg 2 entry counter.
	MaxLeg2Entries = 99_999_999

	// UnwrittenBaseline is the conceptual value of an activity or GUID
	// ledger column that has never been incremented. notarizeEntry's
	// -10^14 delta is defined so that UnwrittenBaseline + delta == Seed,
	// which is how a fresh activity's first Leg 1 entry lands exactly on
	// the documented seed value.
	UnwrittenBaseline int64 = 999_000_000_000_000

	// unsetSentinel is the conceptual value of an activity ledger that has
	// never been notarized for Leg 1.
	unsetSentinel int64 = -100_000_000_000_000

	leg2EntryMod = 100_000_000
)

// digitWeights maps a 1-indexed (most-significant-first) position to its
// decimal weight in a 15-digit number: index i holds 10^(15-i).
var digitWeights = [16]int64{
	0,
	100_000_000_000_000, // pos 1 (10^14)
	10_000_000_000_000,  // pos 2
	1_000_000_000_000,   // pos 3
	100_000_000_000,     // pos 4
	10_000_000_000,      // pos 5
	1_000_000_000,       // pos 6
	100_000_000,         // pos 7
	10_000_000,          // pos 8
	1_000_000,           // pos 9
	100_000,             // pos 10
	10_000,              // pos 11
	1_000,               // pos 12
	100,                 // pos 13
	10,                  // pos 14
	1,                   // pos 15
}

// DigitAt returns the digit at the given 1-indexed position (1 = most
// significant of the 15 digits). Operates on the absolute value of n.
func DigitAt(n int64, pos int) int64 {
	if pos < 1 || pos > 15 {
		panic(fmt.Sprintf("ledger: position %d out of range [1,15]", pos))
	}
	if n < 0 {
		n = -n
	}
	w := digitWeights[pos]
	return (n / w) % 10
}

// Leg2EntryCount returns the Leg 2 entry counter occupying positions 8-15.
func Leg2EntryCount(ledger int64) int64 {
	v := ledger
	if v < 0 {
		v = -v
	}
	return v % leg2EntryMod
}

// DimensionalIndex derives the cyclic re-entry index from positions 4-9
// (six digits ending at the top digits of the Leg2 entry counter, used to locate cyclic
// re-entries in dimensional space). Result is zero-based.
func DimensionalIndex(ledger int64) int64 {
	v := ledger
	if v < 0 {
		v = -v
	}
	return ((v / 1_000_000) % 1_000_000) - 1
}

// IsPrimed reports whether the ledger has been notarized for the given leg.
//
// Leg 1: the ledger must differ from the unset sentinel (-10^14, i.e. no
// notarizeEntry has ever landed).
//
// Leg 2: both position-1 and position-2 digits must be below 9, meaning
// Leg 1 has both entered and authorized reentry (the two leading 8/9
// digits of the 899... seed have each been decremented at least once).
func IsPrimed(n int64, leg int) bool {
	switch leg {
	case 1:
		return n != unsetSentinel
	case 2:
		return DigitAt(n, 1) < 9 && DigitAt(n, 2) < 9
	default:
		panic(fmt.Sprintf("ledger: unknown leg %d", leg))
	}
}

// IsDuplicate reports whether the digit at pos has already been
// overwritten a second time (the nines-digit convention: anything below 8
// at a position whose seed value was 8 or 9 signals a repeat notarization).
func IsDuplicate(n int64, pos int) bool {
	return DigitAt(n, pos) < 8
}

// IsInactive reports whether Leg 2 has already completed once for this
// activity (position 3, the Leg 1 entry-attempt counter's leading digit,
// drops below 9 once notarizeCompletion has fired).
func IsInactive(n int64) bool {
	return DigitAt(n, 3) < 9
}

// FaultCode names a collation fault classification (§7).
type FaultCode string

const (
	FaultMissing   FaultCode = "MISSING"
	FaultDuplicate FaultCode = "DUPLICATE"
	FaultInactive  FaultCode = "INACTIVE"
	FaultInvalid   FaultCode = "INVALID"
	FaultForbidden FaultCode = "FORBIDDEN"
)

// Fault is a classified collation fault, ready to be surfaced as an error.
type Fault struct {
	Code   FaultCode
	Ledger int64
	Pos    int
	Detail string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("ledger: %s fault at pos %d (ledger=%d): %s", f.Code, f.Pos, f.Ledger, f.Detail)
}

// ClassifyLeg1Entry classifies the post-increment ledger value observed
// right after notarizeEntry applies its -10^14 delta.
//
//   - If the result equals Seed, this is a fresh, legitimate entry.
//   - If the entry-attempt counter (pos 3) has reached MaxLeg1Attempts,
//     this is fatal before it is ever applied (MAXED, modeled as INVALID).
//   - If position 4 (the Leg 1 completion marker) is already a duplicate,
//     the message is a stale replay (DUPLICATE, not fatal — see §7).
//   - Anything else unexpected is MISSING.
func ClassifyLeg1Entry(postValue int64, priorAttempts int) *Fault {
	if postValue == Seed {
		return nil
	}
	if priorAttempts >= MaxLeg1Attempts {
		return &Fault{Code: FaultInvalid, Ledger: postValue, Pos: 3, Detail: "Leg 1 entry attempts exceeded cap"}
	}
	if IsDuplicate(postValue, 4) {
		return &Fault{Code: FaultDuplicate, Ledger: postValue, Pos: 4, Detail: "Leg 1 already completed"}
	}
	return &Fault{Code: FaultMissing, Ledger: postValue, Pos: 0, Detail: "notarizeEntry produced unexpected value"}
}

// ClassifyLeg2Entry validates notarizeReentry's preconditions against the
// pre-increment activity ledger and GUID ledger values.
func ClassifyLeg2Entry(activityLedger, guidLedger int64) *Fault {
	if !IsPrimed(activityLedger, 2) {
		return &Fault{Code: FaultForbidden, Ledger: activityLedger, Pos: 1, Detail: "Leg 1 has not both entered and authorized reentry"}
	}
	if IsInactive(activityLedger) {
		return &Fault{Code: FaultInactive, Ledger: activityLedger, Pos: 3, Detail: "Leg 2 already completed for this activity"}
	}
	if DigitAt(guidLedger, 15) != 0 {
		return &Fault{Code: FaultDuplicate, Ledger: guidLedger, Pos: 15, Detail: "GUID ledger already notarized"}
	}
	if guidLedger >= 2_000_000 {
		return &Fault{Code: FaultDuplicate, Ledger: guidLedger, Pos: 0, Detail: "GUID ledger reentry already applied"}
	}
	return nil
}
