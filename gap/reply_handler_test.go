package gap

import (
	"sync"
	"testing"
	"time"
)

type stubBlockstore struct {
	mu       sync.Mutex
	puts     []struct {
		key      Hash
		value    []byte
		priority uint32
	}
	unique bool
}

func (s *stubBlockstore) Get(blockType BlockType, primaryKey Hash, keys []Hash, iter BlockIterFunc) error {
	return nil
}

func (s *stubBlockstore) Put(primaryKey Hash, value []byte, priority uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts = append(s.puts, struct {
		key      Hash
		value    []byte
		priority uint32
	}{primaryKey, value, priority})
	return nil
}

func (s *stubBlockstore) IsUniqueReply(value []byte, blockType BlockType, primaryKey Hash) bool {
	return s.unique
}

func (s *stubBlockstore) ReplyFingerprint(value []byte) Hash {
	var h Hash
	copy(h[:], value)
	return h
}

type stubTransport struct {
	mu    sync.Mutex
	calls []PeerId
}

func (s *stubTransport) Unicast(peer PeerId, msg []byte, priority uint32, maxDelay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, peer)
}

type stubPeers struct{}

func (stubPeers) ForEachConnected(iter PeerIterFunc) {}
func (stubPeers) IndexOf(peer PeerId) uint32          { return 0 }
func (stubPeers) Distance(a, b PeerId) int32          { return 0 }
func (stubPeers) Count() int                          { return 0 }

type stubScheduledTask struct{}

func (stubScheduledTask) Cancel() {}

type syncScheduler struct{}

func (syncScheduler) After(delay time.Duration, task func()) ScheduledTask {
	task()
	return stubScheduledTask{}
}
func (syncScheduler) Periodic(period time.Duration, task func()) ScheduledTask {
	return stubScheduledTask{}
}

func newReplyHandlerTestCore(bs *stubBlockstore, transport *stubTransport) *GapCore {
	caps := Capabilities{
		Transport:  transport,
		Blockstore: bs,
		Identity:   &identityStub{},
		Load:       fakeLoad{},
		Peers:      stubPeers{},
		Scheduler:  syncScheduler{},
	}
	return NewGapCore(DefaultConfig(), caps)
}

func TestHandleReplyMessageRelaysToWaiters(t *testing.T) {
	bs := &stubBlockstore{}
	transport := &stubTransport{}
	core := newReplyHandlerTestCore(bs, transport)
	defer core.Close()

	var key Hash
	key[0] = 0x10
	q1 := QueryMessage{Type: BlockTypeAny, Priority: 1, TTLMillis: 5000, ReturnTo: "N1", Keys: []Hash{key}}
	core.HandleQueryMessage("N1", q1)
	q2 := QueryMessage{Type: BlockTypeAny, Priority: 1, TTLMillis: 5000, ReturnTo: "N3", Keys: []Hash{key}}
	core.HandleQueryMessage("N3", q2)

	core.HandleReplyMessage(nil, ReplyMessage{PrimaryKey: key, Payload: []byte("value")})

	if len(bs.puts) == 0 {
		t.Fatalf("expected blockstore to receive the reply")
	}
	if len(transport.calls) != 2 {
		t.Fatalf("expected both waiters to receive a relay, got %d calls: %v", len(transport.calls), transport.calls)
	}
}

func TestHandleReplyMessageDropsForWrongSlot(t *testing.T) {
	bs := &stubBlockstore{}
	transport := &stubTransport{}
	core := newReplyHandlerTestCore(bs, transport)
	defer core.Close()

	var key Hash
	key[0] = 0x20
	// No query was ever routed for this key, so its slot's primaryKey is
	// still the zero Hash and must not match.
	core.HandleReplyMessage(nil, ReplyMessage{PrimaryKey: key, Payload: []byte("value")})

	if len(bs.puts) != 0 {
		t.Fatalf("expected the reply to be dropped before reaching the blockstore")
	}
}

func TestHandleReplyMessageDuplicateProducesNoSecondRelay(t *testing.T) {
	bs := &stubBlockstore{}
	transport := &stubTransport{}
	core := newReplyHandlerTestCore(bs, transport)
	defer core.Close()

	var key Hash
	key[0] = 0x30
	q1 := QueryMessage{Type: BlockTypeAny, Priority: 1, TTLMillis: 5000, ReturnTo: "N1", Keys: []Hash{key}}
	core.HandleQueryMessage("N1", q1)

	core.HandleReplyMessage(nil, ReplyMessage{PrimaryKey: key, Payload: []byte("value")})
	firstCount := len(transport.calls)

	core.HandleReplyMessage(nil, ReplyMessage{PrimaryKey: key, Payload: []byte("value")})
	if len(transport.calls) != firstCount {
		t.Fatalf("expected a duplicate reply to relay nothing further")
	}
}
