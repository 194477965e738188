package gap

import "math/bits"

// Config is the routing core's only configuration surface. §6 names a
// single config knob, GAP.TABLESIZE; everything else here is either a
// normative constant (types.go) or a capability supplied by the host
// (capabilities.go). There is deliberately no file/flag/env parsing layer:
// spec.md §1/§6 place CLI and configuration-file handling out of scope, so
// a plain struct is the whole of the ambient "configuration" concern here
// (see DESIGN.md, gap/config.go entry).
type Config struct {
	// TableSize is GAP.TABLESIZE, rounded up to a power of two no smaller
	// than MinIndirectionTableSize.
	TableSize int

	// MinAnonymityPeers gates GetStart (§12 supplement: anonymity-level
	// check lifted from the original gapGet).
	MinAnonymityPeers int

	// MaxKeysPerQuery bounds how many disjunct keys a single query may
	// carry before GetStart refuses it with TooManyKeys.
	MaxKeysPerQuery int
}

// DefaultConfig returns the normative defaults.
func DefaultConfig() Config {
	return Config{
		TableSize:         MinIndirectionTableSize,
		MinAnonymityPeers: 0,
		MaxKeysPerQuery:   64,
	}
}

// NewConfig validates and normalizes a host-supplied Config, rounding
// TableSize up to the next power of two and clamping it to at least
// MinIndirectionTableSize.
func NewConfig(c Config) Config {
	if c.TableSize < MinIndirectionTableSize {
		c.TableSize = MinIndirectionTableSize
	}
	c.TableSize = nextPowerOfTwo(c.TableSize)
	if c.MaxKeysPerQuery <= 0 {
		c.MaxKeysPerQuery = 64
	}
	return c
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
