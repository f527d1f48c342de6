package features

import (
	"fmt"
	"time"

	"SSHSpectra/internal/model"
)

// Bits of Flow.computed.
const (
	hasPckt16 uint8 = 1 << iota
	hasAuthStart
	hasAuthEnd
	hasSrcHist
	hasDstHist
)

// preAuthPattern is the direction signature of NEWKEYS followed by the
// SSH_MSG_SERVICE_REQUEST/ACCEPT exchange.
var preAuthPattern = [...]model.Direction{model.DirToServer, model.DirToClient, model.DirToServer, model.DirToClient}

// Flow is one SSH flow of a batch. It owns preprocessed copies of the
// per-packet sequences and computes derived attributes on first access.
// A Flow is confined to the goroutine processing its batch.
type Flow struct {
	Record *model.FlowRecord

	cfg        *Config
	lengths    []uint16
	directions []model.Direction
	flags      []uint8
	times      []time.Time

	computed    uint8
	pckt16Index int
	authStart   int
	authEnd     int
	srcMajor    int
	srcPct      float64
	dstMajor    int
	dstPct      float64

	macCategory string
}

// NewFlow preprocesses a single record without applying the SSH filter.
// The record must be valid.
func NewFlow(rec *model.FlowRecord, cfg Config) *Flow {
	return newFlow(rec, &cfg)
}

func newFlow(rec *model.FlowRecord, cfg *Config) *Flow {
	f := &Flow{
		Record:     rec,
		cfg:        cfg,
		lengths:    append([]uint16(nil), rec.Lengths...),
		directions: append([]model.Direction(nil), rec.Directions...),
		flags:      append([]uint8(nil), rec.Flags...),
		times:      append([]time.Time(nil), rec.Times...),
	}
	mergeArtifacts(f, cfg.MergeFlag)
	return f
}

func (f *Flow) Lengths() []uint16             { return f.lengths }
func (f *Flow) Directions() []model.Direction { return f.directions }
func (f *Flow) Flags() []uint8                { return f.flags }
func (f *Flow) Times() []time.Time            { return f.times }

// PacketCount is the number of packets after preprocessing.
func (f *Flow) PacketCount() int {
	return len(f.lengths)
}

// SessStartMin is the minimal packet count of a flow that can carry a
// complete authentication.
func (f *Flow) SessStartMin() int {
	return f.cfg.SessStartMin
}

// Pckt16Index returns the position of the last 16 byte packet (SSH_MSG_NEWKEYS)
// among the first AuthEndThreshold packets, or 0 when there is none.
func (f *Flow) Pckt16Index() int {
	if f.computed&hasPckt16 == 0 {
		f.pckt16Index = 0
		limit := min(len(f.lengths), f.cfg.AuthEndThreshold)
		for i := limit - 1; i >= 0; i-- {
			if f.lengths[i] == 16 {
				f.pckt16Index = i
				break
			}
		}
		f.computed |= hasPckt16
	}
	return f.pckt16Index
}

// AuthEnd is the exclusive end of the authentication window.
func (f *Flow) AuthEnd() int {
	if f.computed&hasAuthEnd == 0 {
		f.authEnd = min(len(f.lengths), f.cfg.AuthEndThreshold)
		f.computed |= hasAuthEnd
	}
	return f.authEnd
}

// AuthStart is the index of the first packet of the authentication layer.
// It follows SSH_MSG_NEWKEYS when that packet is visible, otherwise it is
// guessed from the service request exchange.
func (f *Flow) AuthStart() int {
	if f.computed&hasAuthStart == 0 {
		start := 0
		if idx := f.Pckt16Index(); idx > 0 {
			start = idx + 1
		} else if len(f.lengths) > f.cfg.SessStartMin {
			start = f.authStartPattern()
		}
		f.authStart = min(start, f.AuthEnd())
		f.computed |= hasAuthStart
	}
	return f.authStart
}

func (f *Flow) authStartPattern() int {
	l, d := f.lengths, f.directions
	end := min(len(l)-len(preAuthPattern), f.AuthEnd())
	for i := f.cfg.AuthInitThreshold; i < end; i++ {
		if l[i] == l[i+1] && d[i] != d[i+1] && f.cfg.isUserauthValue(l[i]) {
			return i
		}
		if matchDirections(d, i, preAuthPattern[:]) {
			return i
		}
	}
	return 0
}

// SrcHistMajor is the index of the most populated client size bucket.
func (f *Flow) SrcHistMajor() int {
	f.srcHist()
	return f.srcMajor
}

// SrcHistPct is the share of the most populated client size bucket.
func (f *Flow) SrcHistPct() float64 {
	f.srcHist()
	return f.srcPct
}

// DstHistMajor is the index of the most populated server size bucket.
func (f *Flow) DstHistMajor() int {
	f.dstHist()
	return f.dstMajor
}

// DstHistPct is the share of the most populated server size bucket.
func (f *Flow) DstHistPct() float64 {
	f.dstHist()
	return f.dstPct
}

func (f *Flow) srcHist() {
	if f.computed&hasSrcHist == 0 {
		f.srcMajor, f.srcPct = histMajor(f.Record.SrcHist)
		f.computed |= hasSrcHist
	}
}

func (f *Flow) dstHist() {
	if f.computed&hasDstHist == 0 {
		f.dstMajor, f.dstPct = histMajor(f.Record.DstHist)
		f.computed |= hasDstHist
	}
}

func histMajor(hist []uint32) (int, float64) {
	var sum, max uint64
	major := 0
	for i, v := range hist {
		sum += uint64(v)
		if uint64(v) > max {
			max = uint64(v)
			major = i
		}
	}
	if sum == 0 {
		return 0, 0
	}
	return major, float64(max) / float64(sum)
}

// MacCategory returns the resolved cipher/MAC category, empty when no
// classifier is configured.
func (f *Flow) MacCategory() string {
	return f.macCategory
}

// SetMacCategory stores the resolved cipher/MAC category of the flow.
func (f *Flow) SetMacCategory(name string) {
	f.macCategory = name
}

// Attribute names accepted by Attr.
const (
	AttrPacketCount  = "packet_count"
	AttrPckt16Index  = "pckt_16_index"
	AttrAuthStart    = "auth_start"
	AttrAuthEnd      = "auth_end"
	AttrSrcHistMajor = "hist_src_size_major"
	AttrSrcHistPct   = "hist_src_size_perc"
	AttrDstHistMajor = "hist_dst_size_major"
	AttrDstHistPct   = "hist_dst_size_perc"
)

// AttrNames lists every attribute Attr knows, in export order.
var AttrNames = []string{
	AttrPacketCount, AttrPckt16Index, AttrAuthStart, AttrAuthEnd,
	AttrSrcHistMajor, AttrSrcHistPct, AttrDstHistMajor, AttrDstHistPct,
}

// Attr returns a derived attribute by name. Asking for an attribute that
// does not exist is a programming error and panics.
func (f *Flow) Attr(name string) float64 {
	switch name {
	case AttrPacketCount:
		return float64(f.PacketCount())
	case AttrPckt16Index:
		return float64(f.Pckt16Index())
	case AttrAuthStart:
		return float64(f.AuthStart())
	case AttrAuthEnd:
		return float64(f.AuthEnd())
	case AttrSrcHistMajor:
		return float64(f.SrcHistMajor())
	case AttrSrcHistPct:
		return f.SrcHistPct()
	case AttrDstHistMajor:
		return float64(f.DstHistMajor())
	case AttrDstHistPct:
		return f.DstHistPct()
	}
	panic(fmt.Sprintf("features: unknown flow attribute %q", name))
}

// matchDirections reports whether dirs[i:] starts with pattern.
func matchDirections(dirs []model.Direction, i int, pattern []model.Direction) bool {
	if i < 0 || i+len(pattern) > len(dirs) {
		return false
	}
	for j, p := range pattern {
		if dirs[i+j] != p {
			return false
		}
	}
	return true
}

// MatchDirections is matchDirections for the detectors.
func MatchDirections(dirs []model.Direction, i int, pattern ...model.Direction) bool {
	return matchDirections(dirs, i, pattern)
}
