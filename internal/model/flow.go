package model

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// Direction is the direction of a single packet inside a bidirectional flow.
type Direction int8

const (
	// DirToServer marks a packet sent by the connection initiator (client).
	DirToServer Direction = 1
	// DirToClient marks a packet sent by the responder (server).
	DirToClient Direction = -1
)

func (d Direction) String() string {
	switch d {
	case DirToServer:
		return "to-server"
	case DirToClient:
		return "to-client"
	default:
		return fmt.Sprintf("direction(%d)", int8(d))
	}
}

// TCP control bits as they appear in the per-packet flags byte.
const (
	FlagFIN uint8 = 0x01
	FlagSYN uint8 = 0x02
	FlagRST uint8 = 0x04
	FlagPSH uint8 = 0x08
	FlagACK uint8 = 0x10
)

// HistBuckets is the number of log2 size buckets in SrcHist/DstHist:
// 0-15, 16-31, 32-63, 64-127, 128-255, 256-511, 512-1023, 1024+.
const HistBuckets = 8

// HistBucket returns the size histogram bucket of a packet payload length.
func HistBucket(size int) int {
	b := 0
	for s := size >> 4; s > 0 && b < HistBuckets-1; s >>= 1 {
		b++
	}
	return b
}

// ErrMalformedRecord is returned by Validate for records that cannot be analysed.
var ErrMalformedRecord = errors.New("malformed flow record")

// FlowRecord holds the metadata of one bidirectional connection as exported
// by the upstream flow probe. It is never mutated after it has been received.
type FlowRecord struct {
	SrcIP        net.IP
	DstIP        net.IP
	SrcPort      uint16
	DstPort      uint16
	Bytes        uint64
	BytesRev     uint64
	Packets      uint32
	PacketsRev   uint32
	LinkBitField uint64
	TimeFirst    time.Time
	TimeLast     time.Time

	// First payload bytes of each direction.
	Content    []byte
	ContentRev []byte

	// Per-packet sequences, all of the same length.
	Lengths    []uint16
	Directions []Direction
	Flags      []uint8
	Times      []time.Time

	// Packet size histograms of the client (Src) and server (Dst) direction.
	SrcHist []uint32
	DstHist []uint32
}

// PacketCount returns the number of packets in the per-packet sequences.
func (f *FlowRecord) PacketCount() int {
	return len(f.Lengths)
}

// Validate checks that the per-packet sequences are present and of equal length.
func (f *FlowRecord) Validate() error {
	n := len(f.Lengths)
	if n == 0 {
		return fmt.Errorf("%w: empty packet sequences", ErrMalformedRecord)
	}
	if len(f.Directions) != n || len(f.Flags) != n || len(f.Times) != n {
		return fmt.Errorf("%w: sequence lengths differ (lengths=%d directions=%d flags=%d times=%d)",
			ErrMalformedRecord, n, len(f.Directions), len(f.Flags), len(f.Times))
	}
	return nil
}

// String returns the endpoint pair of the flow.
func (f *FlowRecord) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d", f.SrcIP, f.SrcPort, f.DstIP, f.DstPort)
}
