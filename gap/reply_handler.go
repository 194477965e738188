package gap

import "time"

// HandleReplyMessage is component G's entry point (§4.G). sender == nil
// means the reply is locally-produced (either a genuine local blockstore
// hit or a delayed-delivery re-entry from scheduleDelayedReply, §4.F/§4.G
// unify both paths so an observer cannot distinguish them by timing).
func (c *GapCore) HandleReplyMessage(sender *PeerId, msg ReplyMessage) {
	slot := c.ite.slotFor(msg.PrimaryKey)

	slot.mu.Lock()
	if slot.primaryKey != msg.PrimaryKey {
		// Routing table moved on; drop silently (§4.G step 1).
		slot.mu.Unlock()
		c.stats.repliesDropped.Add(1)
		return
	}
	// §4.G step 2 / §4.D "reset points": this entry claims the slot's
	// debounce flag back, whether this call is the delayed-delivery
	// callback reporting in or a genuine network reply arriving while one
	// was outstanding (gap.c's useContent resets the flag unconditionally
	// on entry; the corresponding refuse-to-double-schedule guard lives in
	// scheduleDelayedReply's caller, not here).
	slot.localLookupInflight = false
	fingerprint := c.caps.Blockstore.ReplyFingerprint(msg.Payload)
	if slot.seenReplies.Contains(fingerprint) {
		// Already relayed this reply on this slot (§4.G step 3).
		slot.mu.Unlock()
		c.stats.repliesDuplicate.Add(1)
		return
	}
	snap := slot.snapshot()
	slot.mu.Unlock()

	// §4.G step 4: offer to the blockstore outside any lock.
	if err := c.caps.Blockstore.Put(msg.PrimaryKey, msg.Payload, 0); err != nil {
		log.Debugf("%v for %s: %v", ErrBlockstoreRejected, msg.PrimaryKey, err)
		c.stats.repliesDropped.Add(1)
		return
	}

	// §4.G step 5: re-validate under the ITE lock, the slot may have been
	// overwritten while we were doing blockstore I/O.
	slot.mu.Lock()
	if !slot.stillValid(snap) {
		slot.mu.Unlock()
		log.Debugf("%v: %s", ErrSlotGone, msg.PrimaryKey)
		c.stats.repliesDropped.Add(1)
		return
	}

	credit := slot.priority
	slot.priority = 0

	if sender != nil {
		slot.removeWaiter(*sender)
	}

	slot.seenReplies.Add(fingerprint)
	isUnique := false
	if slot.seenReplies.Cardinality() == 1 {
		isUnique = c.caps.Blockstore.IsUniqueReply(msg.Payload, slot.blockType, msg.PrimaryKey)
		slot.seenWasUnique = isUnique
	} else {
		slot.seenWasUnique = false
	}

	waiters := append([]PeerId(nil), slot.waiters...)
	deadline := slot.deadline
	now := time.Now()
	maxDelay := deadline.Sub(now)
	if maxDelay <= 0 {
		maxDelay = TTLDecrement
	}
	// credit is the slot's accumulated inbound priority before this reply
	// claimed it (§4.G step 5): a higher-priority query earns its waiters
	// a higher-priority relay.
	effectivePriority := uint32(BaseReplyPriority) * (credit + 1)

	slot.mu.Unlock()

	// §4.G step 5 continued: schedule a unicast of the reply to every
	// remaining waiter, with randomised delay to defeat timing analysis.
	for _, w := range waiters {
		waiter := w
		delay := time.Duration(randIntn(int(maxDelay)))
		c.caps.Scheduler.After(delay, func() {
			encoded := append([]byte(nil), msg.Payload...)
			c.caps.Transport.Unicast(waiter, encoded, effectivePriority, maxDelay)
		})
		c.stats.repliesRelayed.Add(1)
	}

	// §4.G step 6: claim any reward recorded for this query.
	c.coreLock.Lock()
	credit += c.reward.claim(msg.PrimaryKey, peerOrZero(sender))
	c.coreLock.Unlock()

	// §4.G step 7: re-put with elevated priority if the reply earned credit.
	if credit > 0 {
		_ = c.caps.Blockstore.Put(msg.PrimaryKey, msg.Payload, credit)
	}

	// §4.G step 8: stop re-forwarding queries for a uniquely-answered key.
	if isUnique {
		c.GetStop([]Hash{msg.PrimaryKey})
	}

	// §4.G step 9: credit the sender's trust, hot-path preference, and
	// reply-path score for this query's origin.
	if sender != nil {
		c.caps.Identity.ChangeTrust(*sender, int32(credit))
		// gap.c's updateResponseData credits the sender against every one
		// of the ITE's original waiters, not just the query's primary key,
		// so each waiter's hot-path score toward sender improves.
		c.coreLock.Lock()
		for _, w := range waiters {
			c.replyTracker.noteResponse(w, *sender)
		}
		c.coreLock.Unlock()
		prefer := float64(credit)
		if prefer < ContentBandwidthValue {
			prefer = ContentBandwidthValue
		}
		c.caps.Identity.PreferTrafficFrom(*sender, prefer)
	}
}

func peerOrZero(sender *PeerId) PeerId {
	if sender == nil {
		return ""
	}
	return *sender
}
