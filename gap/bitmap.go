package gap

// bitmap128 is the fixed 128-bit per-peer-index set attached to every
// OutboundQueryRecord (§3, §4.C: "bitmap: 128-bit set of peer-index values
// already sent to"). A generic unbounded bitset (or big.Int) would let the
// set grow past the wire-specified 128 bits; this fixed array is the
// literal data shape the spec calls for, not a stdlib shortcut -- see
// DESIGN.md's gap/bitmap.go entry for why no third-party bitset library
// fits here.
type bitmap128 [BitmapSize / 8]byte

// bitmapIndex returns the bit position for the given peer index, wrapping by
// mask as §6 specifies for Peers.IndexOf ("0 <= idx < 8*BITMAP_SIZE,
// wrapping by mask").
func bitmapIndex(peerIndex uint32) uint32 {
	return peerIndex & (BitmapSize - 1)
}

func (b *bitmap128) isSet(peerIndex uint32) bool {
	i := bitmapIndex(peerIndex)
	return b[i/8]&(1<<(i%8)) != 0
}

func (b *bitmap128) set(peerIndex uint32) {
	i := bitmapIndex(peerIndex)
	b[i/8] |= 1 << (i % 8)
}

func (b *bitmap128) clear() {
	*b = bitmap128{}
}
