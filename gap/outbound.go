package gap

import (
	"time"
)

// OutboundQueryRecord is a query awaiting a slot in an outgoing frame to
// some neighbour, serving piggybacking.
//
// Callers must hold GapCore's core lock while touching an
// outboundQueryTable (the core lock is always the outer lock; the ITE
// lock is inner, never both held at once).
type OutboundQueryRecord struct {
	Msg       QueryMessage
	ExpiresAt time.Time
	SendCount int
	// NoTarget is a peer this record must never be forwarded to: the
	// sender whose query this was.
	NoTarget PeerId
	Bitmap   bitmap128

	// rankings is transient scratch used only during target selection; it
	// never needs to survive past a single forwarding decision and is
	// intentionally not serialized or persisted anywhere.
	rankings []uint32
}

func (r *OutboundQueryRecord) live(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && r.ExpiresAt.After(now)
}

// outboundQueryTable is the fixed-capacity piggyback ring.
type outboundQueryTable struct {
	records [QueryRecordCount]OutboundQueryRecord
	occupied [QueryRecordCount]bool
	cursor   int
}

func newOutboundQueryTable() *outboundQueryTable {
	// Starting the round-robin scan at a random slot, rather than always
	// at 0, keeps an observer from inferring ring occupancy from scan
	// order on a freshly-started host.
	return &outboundQueryTable{cursor: int(randUint32() % QueryRecordCount)}
}

// insert installs rec into the ring, evicting the entry with the oldest
// expiry.
func (t *outboundQueryTable) insert(rec OutboundQueryRecord) {
	slot := 0
	oldest := time.Time{}
	found := false
	for i := range t.records {
		if !t.occupied[i] {
			slot = i
			found = true
			break
		}
		if !found || t.records[i].ExpiresAt.Before(oldest) {
			slot = i
			oldest = t.records[i].ExpiresAt
			found = true
		}
	}
	t.records[slot] = rec
	t.occupied[slot] = true
}

// findLive returns the first live record already queued for primaryKey, if
// any. forwardQuery uses this to decide whether a retransmission of the
// same query should reuse the existing bitmap rather than re-flood every
// connected neighbour again.
func (t *outboundQueryTable) findLive(primaryKey Hash, now time.Time) (OutboundQueryRecord, bool) {
	for i := range t.records {
		if t.occupied[i] && t.records[i].live(now) && t.records[i].Msg.PrimaryKey() == primaryKey {
			return t.records[i], true
		}
	}
	return OutboundQueryRecord{}, false
}

// getStop zeroes the deadline of every record queued for primaryKey, so
// subsequent piggyback scans drop them, and reports whether any was found.
func (t *outboundQueryTable) getStop(primaryKey Hash) bool {
	stopped := false
	for i := range t.records {
		if !t.occupied[i] {
			continue
		}
		if t.records[i].Msg.PrimaryKey() == primaryKey {
			t.records[i].ExpiresAt = time.Time{}
			stopped = true
		}
	}
	return stopped
}

// FrameEncoder renders a QueryMessage to wire bytes, used by
// fillQueryFrame to respect the caller's remaining buffer space.
type FrameEncoder func(QueryMessage) []byte

// fillQueryFrame does a single round-robin scan of the ring starting at
// the rotating cursor, copying a record into the frame when all four
// admission conditions hold (live, receiver's bit unset, receiver is
// neither no_target nor return_to, record fits in the remaining space),
// and stopping when the cursor wraps back to its start.
func (t *outboundQueryTable) fillQueryFrame(receiver PeerId, receiverIndex uint32, spaceLeft int, encode FrameEncoder) []byte {
	now := time.Now()
	out := make([]byte, 0, spaceLeft)
	start := t.cursor
	for i := 0; i < QueryRecordCount; i++ {
		idx := (start + i) % QueryRecordCount
		t.cursor = (idx + 1) % QueryRecordCount
		if !t.occupied[idx] {
			continue
		}
		rec := &t.records[idx]
		if !rec.live(now) {
			continue
		}
		if rec.Bitmap.isSet(receiverIndex) {
			continue
		}
		if rec.NoTarget == receiver || rec.Msg.ReturnTo == receiver {
			continue
		}
		encoded := encode(rec.Msg)
		if len(encoded)+len(out) > spaceLeft {
			// This record does not fit in the remaining space; a smaller
			// one further along the ring still may.
			continue
		}
		out = append(out, encoded...)
		rec.Bitmap.set(receiverIndex)
		rec.SendCount++
		if t.cursor == start {
			break
		}
	}
	return out
}
