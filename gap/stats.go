package gap

import "sync/atomic"

// Stats holds the §12 supplement's statistics counters: the original C
// wires every major branch of gap.c into the stats service; spec.md §7
// already requires Policy conditions to be "counted in stats", so this is
// that counting surface, kept in-process (no external stats service
// appears anywhere in the retrieval pack).
type Stats struct {
	queriesForwarded  atomic.Uint64
	queriesAnswered   atomic.Uint64
	queriesDropped    atomic.Uint64
	repliesRelayed    atomic.Uint64
	repliesDuplicate  atomic.Uint64
	repliesDropped    atomic.Uint64
	alreadyQueuedHits atomic.Uint64
}

func newStats() *Stats {
	return &Stats{}
}

// StatsSnapshot is an immutable point-in-time read of Stats.
type StatsSnapshot struct {
	QueriesForwarded  uint64
	QueriesAnswered   uint64
	QueriesDropped    uint64
	RepliesRelayed    uint64
	RepliesDuplicate  uint64
	RepliesDropped    uint64
	AlreadyQueuedHits uint64
}

func (s *Stats) snapshot() StatsSnapshot {
	return StatsSnapshot{
		QueriesForwarded:  s.queriesForwarded.Load(),
		QueriesAnswered:   s.queriesAnswered.Load(),
		QueriesDropped:    s.queriesDropped.Load(),
		RepliesRelayed:    s.repliesRelayed.Load(),
		RepliesDuplicate:  s.repliesDuplicate.Load(),
		RepliesDropped:    s.repliesDropped.Load(),
		AlreadyQueuedHits: s.alreadyQueuedHits.Load(),
	}
}
