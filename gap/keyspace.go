package gap

import (
	"encoding/binary"
	"io"
	"math/rand"

	util "github.com/ipfs/go-ipfs-util"
)

// newPeerRandom draws a per-process constant at startup to randomise
// routing-index collisions, so that two peers hitting the same primary
// key land in different ITE slots.
func newPeerRandom() uint64 {
	src := util.NewTimeSeededRand()
	var buf [8]byte
	if _, err := io.ReadFull(src, buf[:]); err != nil {
		// a source that can't be read from is effectively broken; fall
		// back to the runtime's own generator rather than crash startup.
		return rand.Uint64()
	}
	return binary.BigEndian.Uint64(buf[:])
}

// keyWords extracts the two 64-bit words the routing-index formula
// operates on from a primary key's first 16 bytes.
func keyWords(key Hash) (word0, word1 uint64) {
	word0 = binary.BigEndian.Uint64(key[0:8])
	word1 = binary.BigEndian.Uint64(key[8:16])
	return
}

// routingIndex computes the single array access index for a primary key,
// exactly per §3: "index = (key_word0 + key_word1 * peer_random) mod
// table_size". tableSize must be a power of two (enforced by NewConfig),
// so the modulo is a mask.
func routingIndex(tableSize int, key Hash, peerRandom uint64) int {
	word0, word1 := keyWords(key)
	idx := word0 + word1*peerRandom
	return int(idx) & (tableSize - 1)
}
