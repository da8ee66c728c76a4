// Package dimension implements the comma-separated dimensional address that
// locates an activity invocation in the unrolled graph (§4.4, §4.5).
package dimension

import (
	"strconv"
	"strings"
)

// Address is a parsed dimensional path, e.g. ",0,1,0" -> [0,1,0].
type Address []int

// Parse decodes a stored dimensional address string. A leading comma (or
// empty segments) is tolerated and skipped, matching the wire format
// ",0,1,0".
func Parse(s string) Address {
	parts := strings.Split(s, ",")
	out := make(Address, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

// String encodes the address back into its storage form, trimming
// trailing zeros per the invariant in §3 ("Trailing zeros are trimmed for
// storage").
func (a Address) String() string {
	trimmed := trimTrailingZeros(a)
	if len(trimmed) == 0 {
		return ""
	}
	parts := make([]string, len(trimmed))
	for i, n := range trimmed {
		parts[i] = strconv.Itoa(n)
	}
	return "," + strings.Join(parts, ",")
}

func trimTrailingZeros(a Address) Address {
	end := len(a)
	for end > 0 && a[end-1] == 0 {
		end--
	}
	out := make(Address, end)
	copy(out, a[:end])
	return out
}

// Child returns the dimensional address of a transition's child, formed by
// concatenating the parent's address with the parent's current Leg 2 cycle
// index (§4.5: "0 for the first entry").
func (a Address) Child(cycleIndex int) Address {
	out := make(Address, len(a)+1)
	copy(out, a)
	out[len(a)] = cycleIndex
	return trimTrailingZeros(out)
}

// CycleReentry returns the dimensional address a cycle activity targets
// when re-entering an ancestor: the ancestor's own address with its final
// position incremented by one, isolating the new iteration's descendants
// in a fresh dimensional subspace (§4.4, scenario 5 of §8).
func (a Address) CycleReentry(nextIndex int) Address {
	if len(a) == 0 {
		return Address{nextIndex}
	}
	out := make(Address, len(a))
	copy(out, a)
	out[len(out)-1] = nextIndex
	return trimTrailingZeros(out)
}

// Equal reports structural equality after trailing-zero trimming.
func (a Address) Equal(other Address) bool {
	x, y := trimTrailingZeros(a), trimTrailingZeros(other)
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}
