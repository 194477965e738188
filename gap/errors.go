package gap

import (
	"errors"
	"fmt"
)

// Sentinel errors, following the teacher's style of plain stdlib errors
// rather than an errors framework (DESIGN.md: gap/errors.go).
var (
	// ErrAlreadyQueued is returned by the indirection table's GROW path
	// when the sender is already among the slot's waiters (§4.D).
	ErrAlreadyQueued = errors.New("gap: sender already queued as a waiter for this slot")

	// ErrTooManyKeys is logged by GetStart when it refuses a query with
	// TooManyKeysResult: no keys, or more disjunct keys than the host is
	// willing to route.
	ErrTooManyKeys = errors.New("gap: query carries too many keys")

	// ErrMalformedMessage marks a wire message that failed to parse; per
	// §7 this is Transient and must never propagate past the executor.
	ErrMalformedMessage = errors.New("gap: malformed wire message")

	// ErrBlockstoreRejected is logged together with a blockstore.Put
	// failure (Transient, §7).
	ErrBlockstoreRejected = errors.New("gap: blockstore rejected value")

	// ErrSlotGone is logged when a slot's epoch or primary key no longer
	// matches after a drop-and-reacquire (§5); the work is dropped silently
	// and nothing is surfaced to the wire.
	ErrSlotGone = errors.New("gap: indirection table slot was replaced")
)

// Exit codes returned by GetStart, §6.
type GetStartResult int

const (
	Started GetStartResult = iota
	AlreadyAnswered
	TooManyKeysResult
	OutOfResources
)

func (r GetStartResult) String() string {
	switch r {
	case Started:
		return "Started"
	case AlreadyAnswered:
		return "AlreadyAnswered"
	case TooManyKeysResult:
		return "TooManyKeys"
	case OutOfResources:
		return "OutOfResources"
	default:
		return "Unknown"
	}
}

// assertInvariant is the §7 "Programmer error" handler: an invariant
// violation such as a routing index out of bounds or a forward target
// equal to the record's no_target.
// Under the gapdebug build tag it aborts the process (see errors_debug.go);
// otherwise it logs and continues, exactly as §7 prescribes.
func assertInvariant(cond bool, format string, args ...any) {
	if cond {
		return
	}
	msg := fmt.Sprintf(format, args...)
	invariantFailed(msg)
}
