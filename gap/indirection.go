package gap

import (
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// ITESlot is the in-flight state for whichever query currently occupies
// this routing index. There is no collision chaining -- a slot holds
// exactly one query at a time.
type ITESlot struct {
	mu sync.Mutex

	// epoch increments on every REPLACE. I/O paths (blockstore, transport)
	// snapshot it, do their work lock-free, then reacquire the slot lock
	// and re-validate epoch+primaryKey before mutating.
	epoch uint64

	primaryKey Hash
	blockType  BlockType
	// priority is always the trust-adjusted inbound priority, never the
	// raw wire field.
	priority uint32
	deadline time.Time
	waiters  []PeerId

	seenReplies   mapset.Set[Hash]
	seenWasUnique bool

	// localLookupInflight debounces a second local lookup on the same key
	// while a reply is scheduled for delayed delivery.
	localLookupInflight bool
}

func newITESlot() *ITESlot {
	return &ITESlot{seenReplies: mapset.NewThreadUnsafeSet[Hash]()}
}

// snapshot is the epoch+primaryKey pair an I/O path captures before
// releasing the slot lock, so it can detect the slot having been
// overwritten underneath it.
type slotSnapshot struct {
	epoch      uint64
	primaryKey Hash
}

func (s *ITESlot) snapshot() slotSnapshot {
	return slotSnapshot{epoch: s.epoch, primaryKey: s.primaryKey}
}

// stillValid re-checks a snapshot after reacquiring the lock.
func (s *ITESlot) stillValid(snap slotSnapshot) bool {
	return s.epoch == snap.epoch && s.primaryKey == snap.primaryKey
}

func (s *ITESlot) hasWaiter(p PeerId) bool {
	for _, w := range s.waiters {
		if w == p {
			return true
		}
	}
	return false
}

func (s *ITESlot) removeWaiter(p PeerId) {
	out := s.waiters[:0]
	for _, w := range s.waiters {
		if w != p {
			out = append(out, w)
		}
	}
	s.waiters = out
}

// replace installs a fresh query into the slot, clearing the dedup set and
// bumping the epoch.
func (s *ITESlot) replace(sender PeerId, query *QueryMessage, priority uint32, now time.Time) {
	s.epoch++
	s.primaryKey = query.PrimaryKey()
	s.blockType = query.Type
	s.priority = priority
	s.deadline = now.Add(query.TTL())
	s.waiters = []PeerId{sender}
	s.seenReplies = mapset.NewThreadUnsafeSet[Hash]()
	s.seenWasUnique = false
	s.localLookupInflight = false
}

// grow appends sender to the waiter list and extends the deadline,
// returning ErrAlreadyQueued (no mutation) if sender is already a waiter.
func (s *ITESlot) grow(sender PeerId, ttl time.Duration, priority uint32, now time.Time) error {
	if s.hasWaiter(sender) {
		return ErrAlreadyQueued
	}
	s.waiters = append(s.waiters, sender)
	newDeadline := now.Add(ttl)
	if newDeadline.After(s.deadline) {
		s.deadline = newDeadline
	}
	s.priority += priority
	return nil
}

// ttlRemaining is the new query's TTL() relative to "now", used throughout
// the comparisons below.
func ttlRemaining(query *QueryMessage) time.Duration {
	return query.TTL()
}

// queryDecision is the (is_routed, should_forward) tuple the executor
// consumes, plus the AlreadyQueued signal for a GROW collision.
type queryDecision struct {
	IsRouted     bool
	ShouldForward bool
	AlreadyQueued bool
}

// handleQuery is the routing-decision state machine: given the query
// currently occupying this slot (if any) and an incoming query for the
// same routing index, it decides whether to replace the slot's occupant,
// grow its waiter list, or reject the collision outright. slot must
// already be locked by the caller; networkSizeEstimate approximates
// network propagation delay from the live peer count.
func (s *ITESlot) handleQuery(sender PeerId, query *QueryMessage, priority uint32, networkSizeEstimate int, now time.Time) queryDecision {
	ttl := ttlRemaining(query)
	primaryKey := query.PrimaryKey()
	samePrimaryKey := s.primaryKey == primaryKey && !s.deadline.IsZero()

	// Slot very stale, new query not itself already expired -> REPLACE.
	if s.deadline.Before(now.Add(-10*TTLDecrement)) && ttl >= 0 {
		s.replace(sender, query, priority, now)
		return queryDecision{IsRouted: true, ShouldForward: true}
	}

	// New query already expired but same primary key as current
	// occupant -> piggyback only.
	if ttl < 0 && samePrimaryKey {
		if err := s.grow(sender, 0, priority, now); err != nil {
			return queryDecision{AlreadyQueued: true}
		}
		return queryDecision{IsRouted: false, ShouldForward: false}
	}

	// Slot soft-expired relative to an estimate of network propagation
	// delay -> REPLACE, whatever key it held; only a same-key occupant
	// with a local reply still in the delay loop is grown instead.
	softExpiryBound := s.deadline.Add(TTLDecrement * time.Duration(networkSizeEstimate))
	if softExpiryBound.Before(now.Add(ttl)) && s.deadline.Before(now) {
		if samePrimaryKey && s.localLookupInflight {
			if err := s.grow(sender, ttl, priority, now); err != nil {
				return queryDecision{AlreadyQueued: true}
			}
			return queryDecision{IsRouted: false, ShouldForward: false}
		}
		s.replace(sender, query, priority, now)
		return queryDecision{IsRouted: true, ShouldForward: true}
	}

	if samePrimaryKey {
		if s.seenReplies.Cardinality() == 0 {
			// No replies seen yet.
			if s.deadline.Add(TTLDecrement).Before(now.Add(ttl)) {
				// significantly longer TTL: re-ask with a fresh bitmap.
				s.replace(sender, query, priority, now)
				if s.localLookupInflight {
					return queryDecision{IsRouted: false, ShouldForward: false}
				}
				return queryDecision{IsRouted: true, ShouldForward: true}
			}
			if err := s.grow(sender, ttl, priority, now); err != nil {
				return queryDecision{AlreadyQueued: true}
			}
			if s.localLookupInflight {
				return queryDecision{IsRouted: false, ShouldForward: false}
			}
			return queryDecision{IsRouted: true, ShouldForward: false}
		}

		if s.seenWasUnique {
			// Already got the unique reply; equivalent to an empty slot.
			if s.deadline.Before(now.Add(ttl)) {
				s.seenReplies = mapset.NewThreadUnsafeSet[Hash]()
				s.seenWasUnique = false
				forward := s.deadline.Add(TTLDecrement).Before(now.Add(ttl))
				s.replace(sender, query, priority, now)
				if s.localLookupInflight {
					return queryDecision{IsRouted: false, ShouldForward: false}
				}
				return queryDecision{IsRouted: true, ShouldForward: forward}
			}
			if err := s.grow(sender, ttl, priority, now); err != nil {
				return queryDecision{AlreadyQueued: true}
			}
			if s.localLookupInflight {
				return queryDecision{IsRouted: false, ShouldForward: false}
			}
			return queryDecision{IsRouted: true, ShouldForward: false}
		}

		// Multiple-reply type (KSK/SKS) -- never re-send, just grow the
		// waiter list; forward only if the new TTL strictly exceeds the
		// old.
		ttlHigher := s.deadline.Before(now.Add(ttl))
		if err := s.grow(sender, ttl, priority, now); err != nil {
			return queryDecision{IsRouted: ttlHigher, ShouldForward: false}
		}
		return queryDecision{IsRouted: true, ShouldForward: ttlHigher}
	}

	// Different key, old slot already saw its unique reply -> cheap
	// replace.
	if s.deadline.Add(TTLDecrement).Before(now.Add(ttl)) && s.deadline.Before(now) && s.seenWasUnique {
		s.replace(sender, query, priority, now)
		return queryDecision{IsRouted: true, ShouldForward: true}
	}

	// New ttl already expired and nothing above matched: don't bother
	// with priorities.
	if ttl < 0 {
		return queryDecision{IsRouted: false, ShouldForward: false}
	}

	// Different key, slot still live. Cross-multiply (deadline-now)*
	// newPriority against 10*(newTTL*slot.priority); tie-break with
	// 1/TieBreakerChance odds.
	lhs := int64(s.deadline.Sub(now)) * int64(priority)
	rhs := 10 * int64(ttl) * int64(s.priority)
	if lhs > rhs {
		s.replace(sender, query, priority, now)
		return queryDecision{IsRouted: true, ShouldForward: true}
	}
	if tieBreak() {
		s.replace(sender, query, priority, now)
		return queryDecision{IsRouted: true, ShouldForward: true}
	}
	return queryDecision{IsRouted: false, ShouldForward: false}
}

// indirectionTable is the fixed 2^k-slot array routing keys into slots.
type indirectionTable struct {
	slots      []*ITESlot
	tableSize  int
	peerRandom uint64
}

func newIndirectionTable(tableSize int) *indirectionTable {
	slots := make([]*ITESlot, tableSize)
	for i := range slots {
		slots[i] = newITESlot()
	}
	return &indirectionTable{slots: slots, tableSize: tableSize, peerRandom: newPeerRandom()}
}

func (t *indirectionTable) slotFor(primaryKey Hash) *ITESlot {
	idx := routingIndex(t.tableSize, primaryKey, t.peerRandom)
	// §7 Programmer error: routingIndex masks by tableSize-1, so this can
	// only fail if tableSize was ever not a power of two.
	assertInvariant(idx >= 0 && idx < len(t.slots), "routing index %d out of bounds for table size %d", idx, len(t.slots))
	return t.slots[idx]
}
