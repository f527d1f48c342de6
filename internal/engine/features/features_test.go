package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SSHSpectra/internal/model"
	"SSHSpectra/internal/model/flowtest"
)

func TestNewBatch_FiltersNonSSH(t *testing.T) {
	// 1. Build one record per filter condition plus a valid one
	valid := flowtest.PasswordLogin()

	noBanner := flowtest.PasswordLogin()
	noBanner.ContentRev = []byte("HTTP/1.1 400 Bad Request")

	fewBytes := flowtest.PasswordLogin()
	fewBytes.BytesRev = 59

	fewPackets := flowtest.PasswordLogin()
	fewPackets.Packets = 5

	serverFirst := flowtest.Record(flowtest.S(41), flowtest.C(41), flowtest.S(1080), flowtest.C(1500))
	serverFirst.Packets, serverFirst.PacketsRev = 10, 10
	serverFirst.Bytes, serverFirst.BytesRev = 1000, 1000

	malformed := flowtest.PasswordLogin()
	malformed.Times = malformed.Times[:3]

	// 2. Run the batch
	records := []*model.FlowRecord{valid, noBanner, fewBytes, fewPackets, serverFirst, malformed, nil}
	b := NewBatch(records, DefaultConfig(), nil)

	// 3. Only the valid record survives
	require.Equal(t, 1, b.Len())
	assert.Same(t, valid, b.Flows[0].Record)
	assert.Equal(t, 4, b.Filtered)
	assert.Equal(t, 1, b.Malformed)
}

func TestMergeArtifacts(t *testing.T) {
	ack := model.FlagACK
	rec := flowtest.Record(
		flowtest.C(41),
		flowtest.C(100).WithFlags(ack), // merged into the next client packet
		flowtest.C(20),
		flowtest.S(30).WithFlags(ack), // next packet is client side: cleared
		flowtest.C(50),
		flowtest.S(60).WithFlags(ack), // last packet: cleared
	)

	f := NewFlow(rec, DefaultConfig())

	assert.Equal(t, []uint16{41, 120, 30, 50, 60}, f.Lengths())
	assert.Equal(t, []model.Direction{1, 1, -1, 1, -1}, f.Directions())
	assert.Equal(t, []uint8{0x18, 0x18, 0, 0x18, 0}, f.Flags())
	require.Len(t, f.Times(), 5)
	assert.Equal(t, rec.Times[2], f.Times()[1], "merged packet keeps the time of the following packet")
	assert.Equal(t, 5, f.PacketCount())

	// The record itself is untouched.
	assert.Len(t, rec.Lengths, 6)
	assert.Equal(t, uint16(100), rec.Lengths[1])
	assert.Equal(t, ack, rec.Flags[3])
}

func TestMergeArtifacts_Saturates(t *testing.T) {
	rec := flowtest.Record(
		flowtest.C(41),
		flowtest.C(60000).WithFlags(model.FlagACK),
		flowtest.C(9000),
	)

	f := NewFlow(rec, DefaultConfig())

	assert.Equal(t, []uint16{41, math.MaxUint16}, f.Lengths())
}

func TestAuthWindow_NewKeys(t *testing.T) {
	f := NewFlow(flowtest.PasswordLogin(), DefaultConfig())

	assert.Equal(t, 6, f.Pckt16Index())
	assert.Equal(t, 7, f.AuthStart())
	assert.Equal(t, 17, f.AuthEnd())
}

func TestAuthWindow_CapsAtThreshold(t *testing.T) {
	f := NewFlow(flowtest.RepeatedFailure(), DefaultConfig())

	assert.Equal(t, 21, f.PacketCount())
	assert.Equal(t, 20, f.AuthEnd())
	assert.Equal(t, 7, f.AuthStart())
}

func TestAuthStart_UserauthPair(t *testing.T) {
	// 1. No 16 byte packet; the service request/accept pair sits at index 7
	packets := []flowtest.Packet{
		flowtest.C(41), flowtest.S(41), flowtest.C(1500), flowtest.S(1080),
		flowtest.C(48), flowtest.S(500), flowtest.C(30),
		flowtest.C(44), flowtest.S(44),
	}
	for len(packets) < 25 {
		packets = append(packets, flowtest.C(116), flowtest.C(200))
	}
	packets = packets[:25]
	f := NewFlow(flowtest.Record(packets...), DefaultConfig())

	// 2. The pair marks the start of the authentication layer
	assert.Equal(t, 0, f.Pckt16Index())
	assert.Equal(t, 7, f.AuthStart())
	assert.Equal(t, 20, f.AuthEnd())
}

func TestAuthStart_DirectionPattern(t *testing.T) {
	packets := []flowtest.Packet{
		flowtest.C(41), flowtest.S(41), flowtest.C(1500), flowtest.S(1080),
		flowtest.C(48), flowtest.S(500), flowtest.C(30), flowtest.C(30),
		flowtest.C(52), flowtest.S(68), flowtest.C(84), flowtest.S(52),
		flowtest.C(400),
	}
	f := NewFlow(flowtest.Record(packets...), DefaultConfig())

	assert.Equal(t, 0, f.Pckt16Index())
	assert.Equal(t, 8, f.AuthStart(), "first to,from,to,from signature starts at 8")
}

func TestAuthStart_ShortFlowWithoutNewKeys(t *testing.T) {
	packets := []flowtest.Packet{
		flowtest.C(41), flowtest.S(41), flowtest.C(1500), flowtest.S(1080),
		flowtest.C(48), flowtest.S(500), flowtest.C(44), flowtest.S(44),
		flowtest.C(100), flowtest.S(60),
	}
	f := NewFlow(flowtest.Record(packets...), DefaultConfig())

	assert.Equal(t, 0, f.AuthStart())
	assert.LessOrEqual(t, f.AuthStart(), f.AuthEnd())
}

func TestHistogramAttributes(t *testing.T) {
	rec := flowtest.WithHist(flowtest.PasswordLogin(),
		[]uint32{0, 0, 0, 0, 0, 0, 2, 8},
		[]uint32{0, 5, 5, 0, 0, 0, 0, 0},
	)
	f := NewFlow(rec, DefaultConfig())

	assert.Equal(t, 7, f.SrcHistMajor())
	assert.InDelta(t, 0.8, f.SrcHistPct(), 1e-9)
	assert.Equal(t, 1, f.DstHistMajor(), "ties resolve to the first bucket")
	assert.InDelta(t, 0.5, f.DstHistPct(), 1e-9)

	empty := NewFlow(flowtest.WithHist(flowtest.PasswordLogin(), nil, make([]uint32, 8)), DefaultConfig())
	assert.Equal(t, 0, empty.SrcHistMajor())
	assert.Zero(t, empty.SrcHistPct())
	assert.Zero(t, empty.DstHistPct())
}

func TestAttr(t *testing.T) {
	f := NewFlow(flowtest.PasswordLogin(), DefaultConfig())

	assert.Equal(t, 17.0, f.Attr(AttrPacketCount))
	assert.Equal(t, 6.0, f.Attr(AttrPckt16Index))
	assert.Equal(t, 7.0, f.Attr(AttrAuthStart))
	assert.Equal(t, 17.0, f.Attr(AttrAuthEnd))
	for _, name := range AttrNames {
		assert.NotPanics(t, func() { f.Attr(name) }, name)
	}
	assert.Panics(t, func() { f.Attr("auth_middle") })
}

func TestAttr_Memoized(t *testing.T) {
	f := NewFlow(flowtest.PasswordLogin(), DefaultConfig())
	require.Equal(t, 7, f.AuthStart())

	// Later changes to the working copy do not affect cached values.
	f.lengths[6] = 17
	assert.Equal(t, 6, f.Pckt16Index())
	assert.Equal(t, 7, f.AuthStart())
}

func TestMacFeatures_NewKeysAnchor(t *testing.T) {
	rec := flowtest.Record(append(flowtest.Handshake(),
		flowtest.C(40), flowtest.S(40),
		flowtest.C(88), flowtest.S(56),
		flowtest.C(104), flowtest.S(24),
		flowtest.C(400), flowtest.S(600),
	)...)
	v := MacFeatures(NewFlow(rec, DefaultConfig()))

	assert.Equal(t, 40, v.UserauthSize)
	assert.True(t, v.BS8, "40 and 400 differ by 360")
	// The 16 byte NEWKEYS packet is part of the checked sizes, so only the
	// narrowest category can hold.
	assert.True(t, v.Categories[c16p8n])
	for i, set := range v.Categories[1:] {
		assert.False(t, set, model.CategoryFeatureNames[i+1])
	}
}

func TestMacFeatures_NestedCategories(t *testing.T) {
	sizes := []uint16{48, 56, 64, 72, 80, 96, 104, 120, 88, 144, 200, 256}
	packets := make([]flowtest.Packet, len(sizes))
	for i, l := range sizes {
		if i%2 == 0 {
			packets[i] = flowtest.C(l)
		} else {
			packets[i] = flowtest.S(l)
		}
	}
	f := NewFlow(flowtest.Record(packets...), DefaultConfig())
	v := MacFeatures(f)

	require.Equal(t, 6, f.AuthStart())
	assert.Equal(t, 104, v.UserauthSize)
	assert.True(t, v.BS8, "104 and 144 differ by 40")

	var set []string
	for i, ok := range v.Categories {
		if ok {
			set = append(set, model.CategoryFeatureNames[i])
		}
	}
	assert.Equal(t, []string{"16+8n", "24+8n", "32+8n", "40+8n"}, set)
}

func TestMacFeatures_SecondBranch(t *testing.T) {
	sizes := []uint16{28, 36, 44, 52, 60, 68, 76, 84, 92, 100, 108, 116}
	packets := make([]flowtest.Packet, len(sizes))
	for i, l := range sizes {
		if i%2 == 0 {
			packets[i] = flowtest.C(l)
		} else {
			packets[i] = flowtest.S(l)
		}
	}
	v := MacFeatures(NewFlow(flowtest.Record(packets...), DefaultConfig()))

	assert.False(t, v.Categories[c16p8n])
	assert.True(t, v.Categories[c20p8n])
	assert.True(t, v.Categories[c28p8n])
	assert.False(t, v.Categories[c44p8n])
	assert.False(t, v.Categories[c28p16n])
	assert.False(t, v.Categories[c36p16n])
}

func TestMacFeatures_NoCategory(t *testing.T) {
	rec := flowtest.Record(append(flowtest.Handshake(),
		flowtest.C(45), flowtest.S(45),
		flowtest.C(101), flowtest.S(61),
	)...)
	v := MacFeatures(NewFlow(rec, DefaultConfig()))

	assert.Equal(t, 45, v.UserauthSize)
	for i, set := range v.Categories {
		assert.False(t, set, model.CategoryFeatureNames[i])
	}
}

func TestInCategory(t *testing.T) {
	tests := []struct {
		name     string
		bs, ms   int
		sizes    []uint16
		min      int
		etm      bool
		expected bool
	}{
		{"8+8 fits", 8, 8, []uint16{16, 24, 88}, 16, false, true},
		{"below minimum", 8, 8, []uint16{8, 24}, 16, false, false},
		{"misaligned", 8, 8, []uint16{16, 25}, 16, false, false},
		{"etm shift", 8, 20, []uint16{32, 40, 96}, 32, true, true},
		{"etm shift missing", 8, 20, []uint16{28, 36}, 28, false, true},
		{"empty", 16, 64, nil, 80, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, inCategory(tt.bs, tt.ms, tt.sizes, tt.min, tt.etm))
		})
	}
}

func TestLeaksBlockSize8(t *testing.T) {
	assert.True(t, leaksBlockSize8([]uint16{40, 48}))
	assert.False(t, leaksBlockSize8([]uint16{40, 56, 40, 72}))
	assert.False(t, leaksBlockSize8([]uint16{40}))
}

func TestBatchMacFeatures(t *testing.T) {
	b := NewBatch([]*model.FlowRecord{flowtest.PasswordLogin(), flowtest.KeyLogin()}, DefaultConfig(), nil)
	vectors := b.MacFeatures()

	require.Len(t, vectors, 2)
	assert.Equal(t, 44, vectors[0].UserauthSize)
	assert.Equal(t, 44, vectors[1].UserauthSize)
}

func TestTimesAreCopied(t *testing.T) {
	rec := flowtest.PasswordLogin()
	f := NewFlow(rec, DefaultConfig())
	f.Times()[0] = time.Time{}
	assert.Equal(t, flowtest.Epoch, rec.Times[0])
}
