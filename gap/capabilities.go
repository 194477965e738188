package gap

import "time"

// The interfaces below are the environment capabilities the routing core
// treats as external collaborators: transport, storage, identity, load,
// peer membership and scheduling. The teacher models single-purpose
// peer-table callbacks as named function types (PeerPingFnc,
// PeerConnectednessFnc) rather than interfaces; this module generalizes
// that pattern into single-method traits instead of a bag of function
// fields.

// Transport delivers framed messages to neighbours. It is expected to be
// non-blocking and may silently drop under load; lossiness is an accepted
// design assumption, not an error condition the core reacts to.
type Transport interface {
	// Unicast sends msg to peer, worth priority, to be delivered within
	// maxDelay (the delay randomizes relay timing to defeat traffic
	// analysis on relayed replies).
	Unicast(peer PeerId, msg []byte, priority uint32, maxDelay time.Duration)
}

// BlockIterFunc is invoked once per candidate value found by Blockstore.Get.
// Returning false stops the iteration early.
type BlockIterFunc func(primaryKey Hash, value []byte) (cont bool)

// Blockstore is the externally-synchronized content store. Get and Put may
// block on disk I/O and are never called while the core holds the ITE lock
// or the core lock; the ReplyFingerprint and IsUniqueReply predicates are
// called with an ITE slot's lock held.
type Blockstore interface {
	Get(blockType BlockType, primaryKey Hash, keys []Hash, iter BlockIterFunc) error
	Put(primaryKey Hash, value []byte, priority uint32) error
	IsUniqueReply(value []byte, blockType BlockType, primaryKey Hash) bool
	ReplyFingerprint(value []byte) Hash
}

// Identity provides peer trust accounting. ChangeTrust returns the actual
// delta applied after clamping.
type Identity interface {
	ChangeTrust(peer PeerId, delta int32) int32
	// PreferTrafficFrom raises scheduling preference for peer, used to
	// reward a peer that just delivered a useful reply.
	PreferTrafficFrom(peer PeerId, value float64)
}

// Load reports the host's current network load, as a percentage in
// [0, 100], or false when unknown (unknown load is treated like idle).
type Load interface {
	NetUploadPercent() (pct int, ok bool)
	NetDownloadPercent() (pct int, ok bool)
}

// PeerIterFunc is invoked once per connected peer by Peers.ForEachConnected.
type PeerIterFunc func(peer PeerId)

// Peers provides the neighbour set and peer-index/XOR-distance primitives
// the weighted-sampling forward step and the bitmap need.
type Peers interface {
	ForEachConnected(iter PeerIterFunc)
	// IndexOf maps a peer to a stable index in [0, 8*BitmapSize), wrapping
	// by mask, used to address the outbound-record bitmap.
	IndexOf(peer PeerId) uint32
	// Distance is the XOR metric between two peer identifiers.
	Distance(a, b PeerId) int32
	// Count reports how many peers are currently connected, feeding the
	// minimum-anonymity-peers gate in GetStart.
	Count() int
}

// ScheduledTask is returned by Scheduler methods so callers can cancel a
// pending callback. GapCore.Close uses it to stop the ageing job; delayed
// reply deliveries are never cancelled.
type ScheduledTask interface {
	Cancel()
}

// Scheduler realises delayed delivery and the periodic ageing job without
// spawning threads of its own.
type Scheduler interface {
	// After runs task once, after delay.
	After(delay time.Duration, task func()) ScheduledTask
	// Periodic runs task repeatedly, every period, until cancelled.
	Periodic(period time.Duration, task func()) ScheduledTask
}
