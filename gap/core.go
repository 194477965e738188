package gap

import "sync"

// Capabilities bundles the environment collaborators the routing core
// depends on. The host process builds one of these once at initialisation
// and hands it to NewGapCore rather than registering modules piecemeal.
type Capabilities struct {
	Transport  Transport
	Blockstore Blockstore
	Identity   Identity
	Load       Load
	Peers      Peers
	// Scheduler defaults to NewTimerScheduler() if nil.
	Scheduler Scheduler
}

// GapCore is the routing core's single handle: the piggyback ring, the
// reply-path tracker, the reward ledger and the indirection table all hang
// off one explicitly-constructed value instead of package-level globals.
type GapCore struct {
	config Config
	caps   Capabilities

	ite *indirectionTable

	// coreLock protects the piggyback ring, the reply-path tracker and
	// the reward ledger. It is always the outer lock: it may be held
	// while acquiring nothing else, and must never be held at the same
	// time as any ITESlot's lock.
	coreLock     sync.Mutex
	outbound     *outboundQueryTable
	replyTracker *replyPathTracker
	reward       *rewardLedger

	stats *Stats

	ageingTask ScheduledTask
}

// NewGapCore builds a routing core from validated config and host
// capabilities, and starts the reply-tracker's periodic ageing job.
func NewGapCore(cfg Config, caps Capabilities) *GapCore {
	cfg = NewConfig(cfg)
	if caps.Scheduler == nil {
		caps.Scheduler = NewTimerScheduler()
	}
	core := &GapCore{
		config:       cfg,
		caps:         caps,
		ite:          newIndirectionTable(cfg.TableSize),
		outbound:     newOutboundQueryTable(),
		replyTracker: newReplyPathTracker(),
		reward:       newRewardLedger(),
		stats:        newStats(),
	}
	core.ageingTask = caps.Scheduler.Periodic(replyTrackAgeTick, core.runAgeingTick)
	return core
}

// runAgeingTick holds the core lock for the duration of the reply-tracker
// sweep.
func (c *GapCore) runAgeingTick() {
	c.coreLock.Lock()
	defer c.coreLock.Unlock()
	c.replyTracker.age()
}

// Close stops the background ageing job. Safe to call once.
func (c *GapCore) Close() {
	if c.ageingTask != nil {
		c.ageingTask.Cancel()
	}
}

// Stats exposes the core's statistics counters read-only.
func (c *GapCore) Stats() StatsSnapshot {
	return c.stats.snapshot()
}

// networkSizeEstimate approximates network size with the live
// connected-peer count; the routing decision that consumes this only needs
// an order-of-magnitude estimate of propagation delay, which the peer count
// already captures reasonably.
func (c *GapCore) networkSizeEstimate() int {
	n := c.caps.Peers.Count()
	if n < 1 {
		return 1
	}
	return n
}
