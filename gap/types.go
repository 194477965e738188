// Package gap implements GNUnet's anonymous query routing engine: the
// indirection table, the piggyback queue, the reply-path tracker, the
// reward ledger and the policy/executor/reply-handler that tie them
// together. Everything outside this routing core (transport, identity,
// content storage, topology) is a capability the host process supplies,
// see capabilities.go.
package gap

import (
	"time"

	"github.com/libp2p/go-libp2p-core/peer"
)

// PeerId is an opaque, fixed-size, content-derived peer identifier. The
// routing core never does anything with it beyond equality and deriving a
// routing index or XOR distance; it never dials, stores, or trusts a peer
// identity on its own. go-libp2p's peer.ID is exactly this: an
// (optionally) multihash-wrapped digest of a public key.
type PeerId = peer.ID

// BlockType tags the kind of content a query asks for / a reply carries.
type BlockType uint32

// BlockTypeAny is the wildcard block type: "any type will do".
const BlockTypeAny BlockType = 0

// Hash is a 64-byte content-addressed digest, matching the reference
// system's wire format.
type Hash [64]byte

// IsZero reports whether h is the all-zero hash (used as an "unset" sentinel).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) String() string {
	const show = 8
	return hexEncode(h[:show]) + "…"
}

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}

// QueryMessage is the GAP `QUERY` message, carried either on the wire
// (from a neighbour) or synthesized locally for a client's `get_start`.
type QueryMessage struct {
	Type     BlockType
	Priority uint32
	// TTLMillis is signed: a negative value means the query has already
	// expired in flight but may still be meaningful for piggybacking onto
	// an existing slot.
	TTLMillis int32
	ReturnTo  PeerId
	// Keys holds one or more routing/query hashes. Keys[0] is the primary
	// key and the sole index used for ITE routing; the rest are query
	// disjuncts passed straight through to the blockstore.
	Keys []Hash
}

// PrimaryKey returns the routing key: Keys[0].
func (q *QueryMessage) PrimaryKey() Hash {
	return q.Keys[0]
}

// TTL converts the signed millisecond TTL field to a duration, which may
// be negative for an already-expired query.
func (q *QueryMessage) TTL() time.Duration {
	return time.Duration(q.TTLMillis) * time.Millisecond
}

// ReplyMessage is the GAP `REPLY` message.
type ReplyMessage struct {
	PrimaryKey Hash
	Payload    []byte
}

// Tunable constants governing table sizes, ageing, and priority scaling.
const (
	// TTLDecrement is the atomic TTL credit / "significant TTL difference"
	// threshold used throughout the indirection table's case analysis.
	TTLDecrement = 5 * time.Second

	// IdleLoadThreshold: below this percent upload load, nothing is charged.
	IdleLoadThreshold = 50

	// BitmapSize is the number of bits in a peer-set bitmap attached to
	// each outbound query record.
	BitmapSize = 128

	// QueryRecordCount is the size of the piggyback ring (component C).
	QueryRecordCount = 512

	// MinIndirectionTableSize is the default/minimum ITE table size; must
	// be rounded up to a power of two.
	MinIndirectionTableSize = 1024

	// MaxRewardTracks is the size of the reward ledger ring (component B).
	MaxRewardTracks = 128

	// BaseQueryPriority is the per-key "byte worth" multiplier used to
	// derive a local query's intrinsic declared priority.
	BaseQueryPriority = 20

	// BaseReplyPriority is the byte-worth multiplier applied to relayed
	// replies.
	BaseReplyPriority = 4092

	// TieBreakerChance: 1-in-N probability of replacing an ITE slot whose
	// weighted comparison is a tie.
	TieBreakerChance = 4

	// EntrySelectionCount is the number of peers picked per forward.
	EntrySelectionCount = 4

	// ContentBandwidthValue is the minimum bandwidth preference floor
	// applied to a peer that just delivered useful content.
	ContentBandwidthValue = 0.8

	// replyTrackAgeLimit and replyTrackAgeTick round out the reply-path
	// tracker's ageing policy.
	replyTrackAgeLimit = 10 * time.Minute
	replyTrackAgeTick  = 30 * time.Second
)

// ReplyPickRate computes how many locally-found values are returned per
// query, tapering off as upload load increases.
func ReplyPickRate(uploadLoadPercent int) int {
	rate := 10 - uploadLoadPercent/10
	if rate < 1 {
		rate = 1
	}
	return rate
}
