package gap

import (
	"math/rand"
	"sync"
)

// rngMu guards the package-level PRNG; the routing core runs its
// entrypoints concurrently (§5) and math/rand's default source is not
// safe for concurrent use without it.
var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(int64(newPeerRandom())))
)

func randIntn(n int) int {
	if n <= 0 {
		return 0
	}
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Intn(n)
}

func randUint32() uint32 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Uint32()
}

// tieBreak implements §4.D case 8's 1/TieBreakerChance coin flip used to
// break the "B-blocks-A-blocks-B" deadlock a pure priority comparison
// would otherwise create.
func tieBreak() bool {
	return randIntn(TieBreakerChance) == 0
}
