// Package flowtest builds synthetic SSH flow records for tests.
package flowtest

import (
	"net"
	"time"

	"SSHSpectra/internal/model"
)

// Epoch is the timestamp of the first packet of every built record.
var Epoch = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

// DefaultGap separates consecutive packets unless overridden with After.
const DefaultGap = 10 * time.Millisecond

// Packet describes one entry of the per-packet sequences.
type Packet struct {
	Len   uint16
	Dir   model.Direction
	Flags uint8
	Gap   time.Duration
}

// C is a client to server packet carrying data.
func C(l uint16) Packet {
	return Packet{Len: l, Dir: model.DirToServer, Flags: model.FlagPSH | model.FlagACK, Gap: DefaultGap}
}

// S is a server to client packet carrying data.
func S(l uint16) Packet {
	return Packet{Len: l, Dir: model.DirToClient, Flags: model.FlagPSH | model.FlagACK, Gap: DefaultGap}
}

// After sets the delay since the previous packet.
func (p Packet) After(d time.Duration) Packet {
	p.Gap = d
	return p
}

// WithFlags replaces the TCP flags of the packet.
func (p Packet) WithFlags(f uint8) Packet {
	p.Flags = f
	return p
}

// Record builds a valid SSH record: both banners are present, the volume
// counters and the size histograms are derived from the packets.
func Record(packets ...Packet) *model.FlowRecord {
	rec := &model.FlowRecord{
		SrcIP:      net.IPv4(10, 0, 0, 1).To4(),
		DstIP:      net.IPv4(10, 0, 0, 2).To4(),
		SrcPort:    50022,
		DstPort:    22,
		Content:    []byte("SSH-2.0-OpenSSH_9.6p1 Ubuntu-3ubuntu13"),
		ContentRev: []byte("SSH-2.0-OpenSSH_8.9p1 Debian-3"),
		SrcHist:    make([]uint32, model.HistBuckets),
		DstHist:    make([]uint32, model.HistBuckets),
	}
	at := Epoch
	for i, p := range packets {
		if i > 0 {
			at = at.Add(p.Gap)
		}
		rec.Lengths = append(rec.Lengths, p.Len)
		rec.Directions = append(rec.Directions, p.Dir)
		rec.Flags = append(rec.Flags, p.Flags)
		rec.Times = append(rec.Times, at)
		b := model.HistBucket(int(p.Len))
		if p.Dir == model.DirToServer {
			rec.Bytes += uint64(p.Len) + 52
			rec.Packets++
			rec.SrcHist[b]++
		} else {
			rec.BytesRev += uint64(p.Len) + 52
			rec.PacketsRev++
			rec.DstHist[b]++
		}
	}
	rec.TimeFirst = Epoch
	rec.TimeLast = at
	return rec
}

// Handshake is the transport layer of an OpenSSH session up to and
// including SSH_MSG_NEWKEYS at index 6, so the authentication layer
// starts at index 7.
func Handshake() []Packet {
	return []Packet{
		C(41), S(41), C(1500), S(1080), C(48), S(500), C(16),
	}
}

// PasswordLogin is a session that fails once with the "none" method and
// then logs in with a password. The success response sits at index 12.
func PasswordLogin() *model.FlowRecord {
	return Record(append(Handshake(),
		C(44), S(44), // service request
		C(100), S(60), // none, failure
		C(116), S(36), // password, success
		C(400), S(600), C(100), S(1200),
	)...)
}

// KeyLogin is a session authenticating with a public key after the
// SSH_MSG_USERAUTH_PK_OK precheck, the first exchange after the service
// request.
func KeyLogin() *model.FlowRecord {
	return Record(append(Handshake(),
		C(44), S(44),
		C(400), S(330), // precheck, pk ok
		C(700), S(36), // signature, success
		C(400), S(600), C(100), S(1200),
	)...)
}

// RepeatedFailure is a session with six password attempts, each refused
// with an identical response.
func RepeatedFailure() *model.FlowRecord {
	packets := append(Handshake(), C(44), S(44), C(100), S(60))
	for i := 0; i < 5; i++ {
		packets = append(packets, C(116), S(60))
	}
	return Record(packets...)
}

// WithHist replaces the size histograms of the record.
func WithHist(rec *model.FlowRecord, src, dst []uint32) *model.FlowRecord {
	rec.SrcHist = src
	rec.DstHist = dst
	return rec
}
