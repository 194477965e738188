// Package wire implements the GAP QUERY/REPLY wire format, §6 of the
// specification: {size: u16, type: u16} headers, network byte order,
// MAX_BUFFER_SIZE-bounded frames.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/gnunet-go/gap/gap"
)

const (
	// MsgTypeQuery and MsgTypeReply are the GAP message type tags, §6.
	MsgTypeQuery = 16
	MsgTypeReply = 17

	// MaxBufferSize bounds a single wire frame, §6.
	MaxBufferSize = 65536

	headerSize   = 4 // size u16 + type u16
	peerIDSize   = 64
	hashSize     = 64
	queryBaseLen = headerSize + 4 + 4 + 4 + peerIDSize // type, priority, ttl_ms, return_to
	replyBaseLen = headerSize + hashSize
)

// PeerIDToWire renders a PeerId into the fixed 64-byte field §6's wire
// layout specifies. go-libp2p's peer.ID is a variable-length multihash in
// general; the reference system fixes PeerId at 64 bytes, so this frames
// the identifier's raw bytes into a zero-padded/truncated 64-byte field —
// a simplification documented here rather than silently assumed.
func PeerIDToWire(p gap.PeerId) [peerIDSize]byte {
	var out [peerIDSize]byte
	copy(out[:], []byte(p))
	return out
}

// WirePeerID recovers a PeerId from its 64-byte wire encoding, trimming
// the zero padding PeerIDToWire added.
func WirePeerID(b [peerIDSize]byte) gap.PeerId {
	n := peerIDSize
	for n > 0 && b[n-1] == 0 {
		n--
	}
	return gap.PeerId(b[:n])
}

// EncodeQuery renders a QueryMessage to wire bytes per §6.
func EncodeQuery(msg gap.QueryMessage) ([]byte, error) {
	if len(msg.Keys) == 0 {
		return nil, fmt.Errorf("wire: query has no keys")
	}
	size := queryBaseLen + len(msg.Keys)*hashSize
	if size > MaxBufferSize {
		return nil, fmt.Errorf("wire: query too large: %d bytes", size)
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint16(buf[0:2], uint16(size))
	binary.BigEndian.PutUint16(buf[2:4], MsgTypeQuery)
	binary.BigEndian.PutUint32(buf[4:8], uint32(msg.Type))
	binary.BigEndian.PutUint32(buf[8:12], msg.Priority)
	binary.BigEndian.PutUint32(buf[12:16], uint32(msg.TTLMillis))
	returnTo := PeerIDToWire(msg.ReturnTo)
	copy(buf[16:16+peerIDSize], returnTo[:])
	off := 16 + peerIDSize
	for _, k := range msg.Keys {
		copy(buf[off:off+hashSize], k[:])
		off += hashSize
	}
	return buf, nil
}

// DecodeQuery parses a QUERY frame. Malformed sizes return an error that
// callers must treat as §7's Transient/silent-drop case, never
// propagated to the wire.
func DecodeQuery(buf []byte) (gap.QueryMessage, error) {
	var msg gap.QueryMessage
	if len(buf) < queryBaseLen {
		return msg, fmt.Errorf("%w: query frame too short (%d bytes)", gap.ErrMalformedMessage, len(buf))
	}
	size := binary.BigEndian.Uint16(buf[0:2])
	typ := binary.BigEndian.Uint16(buf[2:4])
	if typ != MsgTypeQuery {
		return msg, fmt.Errorf("%w: expected QUERY type %d, got %d", gap.ErrMalformedMessage, MsgTypeQuery, typ)
	}
	if int(size) != len(buf) {
		return msg, fmt.Errorf("%w: declared size %d does not match buffer length %d", gap.ErrMalformedMessage, size, len(buf))
	}
	remainder := len(buf) - queryBaseLen
	if remainder <= 0 || remainder%hashSize != 0 {
		return msg, fmt.Errorf("%w: key area empty or not a multiple of hash size", gap.ErrMalformedMessage)
	}
	n := remainder / hashSize
	msg.Type = gap.BlockType(binary.BigEndian.Uint32(buf[4:8]))
	msg.Priority = binary.BigEndian.Uint32(buf[8:12])
	msg.TTLMillis = int32(binary.BigEndian.Uint32(buf[12:16]))
	var returnTo [peerIDSize]byte
	copy(returnTo[:], buf[16:16+peerIDSize])
	msg.ReturnTo = WirePeerID(returnTo)
	off := 16 + peerIDSize
	msg.Keys = make([]gap.Hash, n)
	for i := 0; i < n; i++ {
		copy(msg.Keys[i][:], buf[off:off+hashSize])
		off += hashSize
	}
	return msg, nil
}

// EncodeReply renders a ReplyMessage to wire bytes per §6.
func EncodeReply(msg gap.ReplyMessage) ([]byte, error) {
	size := replyBaseLen + len(msg.Payload)
	if size > MaxBufferSize {
		return nil, fmt.Errorf("wire: reply too large: %d bytes", size)
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint16(buf[0:2], uint16(size))
	binary.BigEndian.PutUint16(buf[2:4], MsgTypeReply)
	copy(buf[4:4+hashSize], msg.PrimaryKey[:])
	copy(buf[4+hashSize:], msg.Payload)
	return buf, nil
}

// DecodeReply parses a REPLY frame.
func DecodeReply(buf []byte) (gap.ReplyMessage, error) {
	var msg gap.ReplyMessage
	if len(buf) < replyBaseLen {
		return msg, fmt.Errorf("%w: reply frame too short (%d bytes)", gap.ErrMalformedMessage, len(buf))
	}
	size := binary.BigEndian.Uint16(buf[0:2])
	typ := binary.BigEndian.Uint16(buf[2:4])
	if typ != MsgTypeReply {
		return msg, fmt.Errorf("%w: expected REPLY type %d, got %d", gap.ErrMalformedMessage, MsgTypeReply, typ)
	}
	if int(size) != len(buf) {
		return msg, fmt.Errorf("%w: declared size %d does not match buffer length %d", gap.ErrMalformedMessage, size, len(buf))
	}
	copy(msg.PrimaryKey[:], buf[4:4+hashSize])
	msg.Payload = append([]byte(nil), buf[4+hashSize:]...)
	return msg, nil
}
