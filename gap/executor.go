package gap

import (
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// clampTTL bounds an incoming query's requested TTL to at most
// (priority+3)*TTLDecrement, grounded directly on gap.c's adjustTTL
// (original_source, §12 supplement: "Query-record TTL clamping").
func clampTTL(ttl time.Duration, priority uint32) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	bound := time.Duration(priority+3) * TTLDecrement
	if ttl > bound {
		log.Debugf("clamping ttl %s to %s for priority %d", ttl, bound, priority)
		return bound
	}
	return ttl
}

// clampPriority floors evaluate()'s trust-adjusted effective priority at
// zero before it is carried as a uint32 priority elsewhere in the core;
// ChangeTrust clamps trust at the host's configured minimum, so a negative
// result only arises from an unusually low minimum.
func clampPriority(p int32) uint32 {
	if p < 0 {
		return 0
	}
	return uint32(p)
}

// HandleQueryMessage is the wire entry point for component F (§4.F):
// a QUERY arriving from neighbour `sender`.
func (c *GapCore) HandleQueryMessage(sender PeerId, msg QueryMessage) {
	c.execQuery(&sender, msg.Priority, msg, clampTTL(msg.TTL(), msg.Priority))
}

// GetStart is the local-client entry point (§4.F, §6, §12 supplement).
func (c *GapCore) GetStart(blockType BlockType, anonymityLevel int, keys []Hash, timeout time.Duration, priority uint32) GetStartResult {
	if len(keys) == 0 {
		log.Debugf("%v: 0 keys", ErrTooManyKeys)
		return TooManyKeysResult
	}
	if len(keys) > c.config.MaxKeysPerQuery {
		log.Debugf("%v: %d keys, limit %d", ErrTooManyKeys, len(keys), c.config.MaxKeysPerQuery)
		return TooManyKeysResult
	}
	if anonymityLevel > 0 && c.caps.Peers.Count() < c.config.MinAnonymityPeers {
		// §12 supplement: anonymity-level gate lifted from gapGet.
		return OutOfResources
	}

	// Identity is only charged for remote senders (§4.E step 3); a local
	// start is always fully routable (execQuery's sender==nil branch).
	declaredPriority := BaseQueryPriority * uint32(len(keys))
	if priority > declaredPriority {
		declaredPriority = priority
	}

	msg := QueryMessage{
		Type:      blockType,
		Priority:  declaredPriority,
		TTLMillis: int32(timeout / time.Millisecond),
		ReturnTo:  c.selfPeerID(),
		Keys:      keys,
	}

	routed := c.execQuery(nil, declaredPriority, msg, clampTTL(msg.TTL(), declaredPriority))
	if !routed {
		return AlreadyAnswered
	}
	return Started
}

// GetStop cancels a local query (§4.F get_stop): it zeroes the matching
// outbound record's deadline so the piggyback scan drops it; in-flight
// replies for that key are still accepted until the ITE slot is
// overwritten (§5).
func (c *GapCore) GetStop(keys []Hash) {
	if len(keys) == 0 {
		return
	}
	primaryKey := keys[0]
	c.coreLock.Lock()
	c.outbound.getStop(primaryKey)
	c.coreLock.Unlock()
}

// selfPeerID is the identity used for locally-originated queries and for
// return_to rewriting. It is always the empty PeerId: Capabilities carries
// no host identity.
func (c *GapCore) selfPeerID() PeerId {
	return ""
}

// execQuery implements §4.F's executor algorithm. sender == nil means the
// query originated locally (§4.F: "sender = None"). Returns true when the
// slot decision routed the query (local lookup) or it is being forwarded,
// including when a unique local answer was found; returns false when the
// policy dropped it, the sender was already queued, or the slot decision
// neither routed nor forwarded it.
func (c *GapCore) execQuery(sender *PeerId, priority uint32, msg QueryMessage, ttl time.Duration) bool {
	msg.TTLMillis = int32(ttl / time.Millisecond)

	var policy Policy
	effectivePriority := priority
	if sender != nil {
		var trustAdjusted int32
		policy, trustAdjusted = evaluate(*sender, priority, c.caps.Load, c.caps.Identity)
		if policy.Dropped() {
			c.stats.queriesDropped.Add(1)
			log.Infof("dropping query from %s: load policy", *sender)
			return false
		}
		// §3: the ITE slot and any forward carry the trust-adjusted
		// priority evaluate() computed (0 under idle load,
		// -change_trust(sender, -priority) under load), never the raw
		// wire-declared priority.
		effectivePriority = clampPriority(trustAdjusted)
	} else {
		// Locally-originated: always fully routable (§4.F step "sender
		// is None"), and earns a reward-ledger entry up front so a
		// matching reply can later credit this client's own trust
		// bookkeeping (gap.c's addReward on the local path).
		policy = Policy{Answer: true, Forward: true, Indirect: true}
		c.coreLock.Lock()
		c.reward.record(msg.PrimaryKey(), priority)
		c.coreLock.Unlock()
	}

	if policy.Indirect {
		msg.ReturnTo = c.selfOrReturnTo(sender, msg.ReturnTo)
	}

	slot := c.ite.slotFor(msg.PrimaryKey())
	slot.mu.Lock()

	originSender := PeerId("")
	if sender != nil {
		originSender = *sender
	}
	decision := slot.handleQuery(originSender, &msg, effectivePriority, c.networkSizeEstimate(), time.Now())
	if decision.AlreadyQueued {
		slot.mu.Unlock()
		c.stats.alreadyQueuedHits.Add(1)
		return false
	}

	shouldForward := decision.ShouldForward && policy.Forward

	if decision.IsRouted && policy.Answer {
		c.answerLocally(slot, &msg, &shouldForward)
	}

	slot.mu.Unlock()

	if shouldForward {
		c.forwardQuery(sender, &msg, effectivePriority)
	}

	c.stats.queriesAnswered.Add(1)
	return shouldForward || decision.IsRouted
}

// selfOrReturnTo rewrites return_to to ourselves when we are indirecting
// (§4.E rationale: "Indirect means: rewrite return_to to self before
// forwarding"). A nil sender (local origin) already has return_to == self.
func (c *GapCore) selfOrReturnTo(sender *PeerId, returnTo PeerId) PeerId {
	if sender == nil {
		return returnTo
	}
	return c.selfPeerID()
}

// answerLocally implements §4.F steps 2-3: local blockstore lookup,
// dedup against the slot's seen-set, bounded delivery, re-put at the
// slot's priority, and the unique-reply short-circuit.
func (c *GapCore) answerLocally(slot *ITESlot, msg *QueryMessage, shouldForward *bool) {
	snap := slot.snapshot()
	blockType := slot.blockType
	primaryKey := msg.PrimaryKey()
	slot.mu.Unlock()

	type found struct {
		value       []byte
		fingerprint Hash
	}
	var values []found
	seenThisCall := mapset.NewThreadUnsafeSet[Hash]()

	_ = c.caps.Blockstore.Get(blockType, primaryKey, msg.Keys, func(pk Hash, value []byte) bool {
		fp := c.caps.Blockstore.ReplyFingerprint(value)
		slot.mu.Lock()
		alreadySeen := slot.stillValid(snap) && slot.seenReplies.Contains(fp)
		slot.mu.Unlock()
		if alreadySeen || seenThisCall.Contains(fp) {
			return true
		}
		seenThisCall.Add(fp)
		values = append(values, found{value: value, fingerprint: fp})
		return true
	})

	slot.mu.Lock()
	if !slot.stillValid(snap) {
		log.Debugf("%v: %s", ErrSlotGone, primaryKey)
		return
	}
	if len(values) == 0 {
		return
	}

	perm := randPermutation(len(values))
	uploadLoad, _ := c.caps.Load.NetUploadPercent()
	pick := ReplyPickRate(uploadLoad)
	if pick > len(values) {
		pick = len(values)
	}
	priority := slot.priority
	// gap.c's queueReply refuses to queue a second delayed local reply
	// while one is already in flight for this slot ("really bad
	// concurrent DB lookup" guard); mirrored here by only ever scheduling
	// the first pick of a batch, never more than one outstanding delivery
	// per slot at a time.
	scheduleAt := -1
	if pick > 0 && !slot.localLookupInflight {
		slot.localLookupInflight = true
		scheduleAt = 0
	}
	// §5: drop the ITE lock before the blockstore/scheduler calls below --
	// Put may block on disk and scheduleDelayedReply's callback re-enters
	// HandleReplyMessage, which takes this same slot's lock itself.
	slot.mu.Unlock()

	uniqueFound := false
	for i, idx := range perm {
		v := values[idx]
		if i == scheduleAt {
			// §4.F step 3: deliver via the delay queue regardless of
			// whether the requester is local or remote -- §4.G's
			// delayed-delivery re-entry handles waiter fan-out either way.
			c.scheduleDelayedReply(primaryKey, v.value)
		}
		_ = c.caps.Blockstore.Put(primaryKey, v.value, priority)
		if c.caps.Blockstore.IsUniqueReply(v.value, blockType, primaryKey) {
			uniqueFound = true
		}
	}

	slot.mu.Lock()
	if uniqueFound && slot.stillValid(snap) {
		*shouldForward = false
	}
}

// randPermutation draws a uniform permutation of [0,n), matching gap.c's
// permute(WEAK, valueCount) used to avoid a biased delivery order.
func randPermutation(n int) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := randIntn(i + 1)
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm
}

// scheduleDelayedReply implements §4.G's "Local delayed delivery": rather
// than deliver directly, it schedules a callback at
// now+random(TTLDecrement) that re-enters HandleReplyMessage as if the
// reply had just arrived from nowhere, levelling the timing distribution
// between local and remote answers. The caller has already marked the
// slot's localLookupInflight debounce flag and released its lock before
// calling this, since the scheduled callback re-enters the same slot's
// lock itself.
func (c *GapCore) scheduleDelayedReply(primaryKey Hash, value []byte) {
	delay := time.Duration(randIntn(int(TTLDecrement)))
	c.caps.Scheduler.After(delay, func() {
		c.HandleReplyMessage(nil, ReplyMessage{PrimaryKey: primaryKey, Payload: value})
	})
}

// forwardQuery implements §4.F step 4: weighted sampling of
// EntrySelectionCount distinct peers, installing a fresh
// OutboundQueryRecord into the piggyback ring.
func (c *GapCore) forwardQuery(sender *PeerId, msg *QueryMessage, priority uint32) {
	origin := msg.PrimaryKey()

	// gap.c's hotpathSelectionCode keys the reply-path tracker by
	// qr->noTarget, the peer whose query this is (self for a
	// locally-originated query) -- never by the query's content hash.
	originPeer := c.selfPeerID()
	if sender != nil {
		originPeer = *sender
	}

	type candidate struct {
		peer   PeerId
		weight uint64
	}
	var candidates []candidate

	c.coreLock.Lock()
	tracker := c.replyTracker
	c.caps.Peers.ForEachConnected(func(p PeerId) {
		if sender != nil && p == *sender {
			return
		}
		if p == msg.ReturnTo {
			return
		}
		distance := distanceOrZero(c.caps.Peers.Distance(p, PeerId(origin[:])))
		weight := uint64(0x7FFF)*uint64(tracker.score(originPeer, p)) +
			uint64(0xFFFF)/uint64(1+randIntn(int(distance)+1)) +
			uint64(1+randIntn(0xFF))
		candidates = append(candidates, candidate{peer: p, weight: weight})
	})
	c.coreLock.Unlock()

	if len(candidates) == 0 {
		return
	}

	now := time.Now()
	rec := OutboundQueryRecord{
		Msg:       *msg,
		ExpiresAt: now.Add(msg.TTL()),
		NoTarget:  originPeer,
	}

	c.coreLock.Lock()
	existing, haveExisting := c.outbound.findLive(origin, now)
	c.coreLock.Unlock()

	if haveExisting && existing.ExpiresAt.After(now.Add(-4*TTLDecrement)) && randIntn(4) != 0 {
		// gap.c's forwardQuery: a query retransmitted well inside its own
		// TTL_DECREMENT window keeps the existing bitmap with high
		// probability, rather than re-flooding every connected neighbour on
		// every retransmit of the same content.
		rec.Bitmap = existing.Bitmap
		rec.SendCount = existing.SendCount
		c.coreLock.Lock()
		c.outbound.insert(rec)
		c.coreLock.Unlock()
		return
	}
	rec.Bitmap.clear()

	// rankings is the per-candidate scratch the weighted draw consumes,
	// mirroring gap.c's qr->rankings: filled for this round's selection,
	// never persisted past it.
	rec.rankings = make([]uint32, len(candidates))
	for i, cand := range candidates {
		rec.rankings[i] = uint32(cand.weight)
	}

	picks := EntrySelectionCount
	if picks > len(candidates) {
		picks = len(candidates)
	}
	for n := 0; n < picks; n++ {
		var total uint64
		for _, cand := range candidates {
			total += cand.weight
		}
		if total == 0 {
			break
		}
		r := uint64(randIntn(int(total)))
		chosen := -1
		for i, cand := range candidates {
			if r < cand.weight {
				chosen = i
				break
			}
			r -= cand.weight
		}
		if chosen < 0 {
			chosen = len(candidates) - 1
		}
		picked := candidates[chosen].peer
		// §7 Programmer error: "never send back to source" -- the
		// sender/return_to skip above must have already excluded noTarget
		// from candidates entirely.
		assertInvariant(picked != rec.NoTarget, "forwardQuery selected no_target peer %s", picked)
		idx := c.caps.Peers.IndexOf(picked)
		rec.Bitmap.set(idx)
		rec.rankings[chosen] = 0
		candidates[chosen].weight = 0
	}
	rec.rankings = nil

	c.coreLock.Lock()
	c.outbound.insert(rec)
	c.coreLock.Unlock()
	c.stats.queriesForwarded.Add(1)
}

func distanceOrZero(d int32) int32 {
	if d < 0 {
		return 0
	}
	return d
}

// FillQueryFrame exposes component C's piggyback scan (§4.C) to the
// transport layer.
func (c *GapCore) FillQueryFrame(receiver PeerId, spaceLeft int, encode FrameEncoder) []byte {
	idx := c.caps.Peers.IndexOf(receiver)
	c.coreLock.Lock()
	defer c.coreLock.Unlock()
	return c.outbound.fillQueryFrame(receiver, idx, spaceLeft, encode)
}
