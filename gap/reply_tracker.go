package gap

import "time"

// ReplyTrackData is per-origin memory of which neighbours have answered
// well before. A map of responder->count gives O(1) lookup/update, which
// is what noteResponse/score need on every call.
type ReplyTrackData struct {
	Origin        PeerId
	LastReplyTime time.Time
	responses     map[PeerId]uint32
}

// replyPathTracker is the reply-path tracker. Callers must hold GapCore's
// core lock.
type replyPathTracker struct {
	byOrigin map[PeerId]*ReplyTrackData
}

func newReplyPathTracker() *replyPathTracker {
	return &replyPathTracker{byOrigin: make(map[PeerId]*ReplyTrackData)}
}

// noteResponse bumps responses[responder].count for origin, creating
// entries as needed, and stamps the time.
func (t *replyPathTracker) noteResponse(origin, responder PeerId) {
	d, ok := t.byOrigin[origin]
	if !ok {
		d = &ReplyTrackData{Origin: origin, responses: make(map[PeerId]uint32)}
		t.byOrigin[origin] = d
	}
	d.responses[responder]++
	d.LastReplyTime = time.Now()
}

// score returns 0x7FFF*count, saturating at 0x7FFFFFF, if candidate has
// answered queries from origin before, else 0.
func (t *replyPathTracker) score(origin, candidate PeerId) uint32 {
	d, ok := t.byOrigin[origin]
	if !ok {
		return 0
	}
	count, ok := d.responses[candidate]
	if !ok || count == 0 {
		return 0
	}
	const saturate = 0x7FFFFFF
	value := uint64(0x7FFF) * uint64(count)
	if value > saturate {
		return saturate
	}
	return uint32(value)
}

// age is the periodic ageing job: halves every count and garbage-collects
// entries with all counts at zero or a last-seen older than
// replyTrackAgeLimit.
func (t *replyPathTracker) age() {
	now := time.Now()
	for origin, d := range t.byOrigin {
		stale := now.Sub(d.LastReplyTime) > replyTrackAgeLimit
		allZero := true
		for responder, count := range d.responses {
			count /= 2
			if count == 0 {
				delete(d.responses, responder)
			} else {
				d.responses[responder] = count
				allZero = false
			}
		}
		if stale || allZero {
			delete(t.byOrigin, origin)
		}
	}
}
