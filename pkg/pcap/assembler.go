package pcap

import (
	"net"
	"sort"
	"time"

	"SSHSpectra/internal/model"
)

// AssemblerConfig limits what is recorded per flow.
type AssemblerConfig struct {
	// Ports selects the server ports of the tracked connections.
	Ports []uint16
	// MaxPackets is the number of payload packets kept in the per-packet
	// sequences.
	MaxPackets int
	// ContentBytes is the number of leading payload bytes kept per direction.
	ContentBytes int
}

type flowKey struct {
	clientIP   string
	serverIP   string
	clientPort uint16
	serverPort uint16
}

type flowState struct {
	rec *model.FlowRecord
	// The flow is closed once both sides sent FIN or either side sent RST.
	finClient, finServer, reset bool
}

// Assembler groups TCP segments into bidirectional flow records. The
// connection initiator is the side talking to one of the configured ports.
type Assembler struct {
	cfg   AssemblerConfig
	ports map[uint16]bool
	flows map[flowKey]*flowState
	done  []*model.FlowRecord
}

// NewAssembler creates an empty assembler.
func NewAssembler(cfg AssemblerConfig) *Assembler {
	ports := make(map[uint16]bool, len(cfg.Ports))
	for _, p := range cfg.Ports {
		ports[p] = true
	}
	return &Assembler{cfg: cfg, ports: ports, flows: make(map[flowKey]*flowState)}
}

// Add accounts a segment to its flow. It reports false for segments that
// belong to no tracked port.
func (a *Assembler) Add(seg *Segment) bool {
	key, dir, ok := a.classify(seg)
	if !ok {
		return false
	}

	st := a.flows[key]
	if st != nil && st.closed() && seg.Flags&model.FlagSYN != 0 && dir == model.DirToServer {
		// Port reuse: a new connection replaces the finished one.
		a.finish(key, st)
		st = nil
	}
	if st == nil {
		st = &flowState{rec: newRecord(key, seg.Timestamp)}
		a.flows[key] = st
	}
	a.update(st, dir, seg)
	return true
}

func (a *Assembler) classify(seg *Segment) (flowKey, model.Direction, bool) {
	switch {
	case a.ports[seg.DstPort]:
		return flowKey{seg.SrcIP.String(), seg.DstIP.String(), seg.SrcPort, seg.DstPort}, model.DirToServer, true
	case a.ports[seg.SrcPort]:
		return flowKey{seg.DstIP.String(), seg.SrcIP.String(), seg.DstPort, seg.SrcPort}, model.DirToClient, true
	default:
		return flowKey{}, 0, false
	}
}

func newRecord(key flowKey, ts time.Time) *model.FlowRecord {
	return &model.FlowRecord{
		SrcIP:     ipOf(key.clientIP),
		DstIP:     ipOf(key.serverIP),
		SrcPort:   key.clientPort,
		DstPort:   key.serverPort,
		TimeFirst: ts,
		SrcHist:   make([]uint32, model.HistBuckets),
		DstHist:   make([]uint32, model.HistBuckets),
	}
}

func ipOf(s string) net.IP {
	ip := net.ParseIP(s)
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip
}

func (a *Assembler) update(st *flowState, dir model.Direction, seg *Segment) {
	rec := st.rec
	rec.TimeLast = seg.Timestamp
	size := len(seg.Payload)

	if dir == model.DirToServer {
		rec.Packets++
		rec.Bytes += uint64(seg.IPLength)
		rec.Content = appendContent(rec.Content, seg.Payload, a.cfg.ContentBytes)
		if size > 0 {
			rec.SrcHist[model.HistBucket(size)]++
		}
		st.finClient = st.finClient || seg.Flags&model.FlagFIN != 0
	} else {
		rec.PacketsRev++
		rec.BytesRev += uint64(seg.IPLength)
		rec.ContentRev = appendContent(rec.ContentRev, seg.Payload, a.cfg.ContentBytes)
		if size > 0 {
			rec.DstHist[model.HistBucket(size)]++
		}
		st.finServer = st.finServer || seg.Flags&model.FlagFIN != 0
	}
	st.reset = st.reset || seg.Flags&model.FlagRST != 0

	if size > 0 && len(rec.Lengths) < a.cfg.MaxPackets {
		rec.Lengths = append(rec.Lengths, uint16(min(size, 0xffff)))
		rec.Directions = append(rec.Directions, dir)
		rec.Flags = append(rec.Flags, seg.Flags)
		rec.Times = append(rec.Times, seg.Timestamp)
	}
}

func appendContent(content, payload []byte, limit int) []byte {
	if room := limit - len(content); room > 0 && len(payload) > 0 {
		content = append(content, payload[:min(room, len(payload))]...)
	}
	return content
}

func (st *flowState) closed() bool {
	return st.reset || (st.finClient && st.finServer)
}

func (a *Assembler) finish(key flowKey, st *flowState) {
	delete(a.flows, key)
	a.done = append(a.done, st.rec)
}

// Flush returns every flow seen so far, ordered by first packet, and
// resets the assembler.
func (a *Assembler) Flush() []*model.FlowRecord {
	for key, st := range a.flows {
		a.finish(key, st)
	}
	out := a.done
	a.done = nil
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].TimeFirst.Equal(out[j].TimeFirst) {
			return out[i].TimeFirst.Before(out[j].TimeFirst)
		}
		return out[i].SrcPort < out[j].SrcPort
	})
	return out
}
