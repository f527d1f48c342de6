package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"SSHSpectra/internal/model"
	"SSHSpectra/internal/model/flowtest"
)

func TestFlowRoundTrip(t *testing.T) {
	rec := flowtest.PasswordLogin()
	rec.LinkBitField = 0x5
	rec.Flags[3] = model.FlagRST | model.FlagACK

	decoded, err := DecodeFlow(EncodeFlow(nil, rec))
	require.NoError(t, err)
	assert.Equal(t, rec, decoded)
	require.NoError(t, decoded.Validate())
	assert.Equal(t, model.DirToClient, decoded.Directions[1])
}

func TestDecodeFlow_SkipsUnknownAndUnpacked(t *testing.T) {
	// 1. A producer with a newer schema and unpacked repeated fields
	var b []byte
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future"))
	b = protowire.AppendTag(b, fieldDstPort, protowire.VarintType)
	b = protowire.AppendVarint(b, 22)
	for _, l := range []uint64{41, 1500} {
		b = protowire.AppendTag(b, fieldLengths, protowire.VarintType)
		b = protowire.AppendVarint(b, l)
	}
	b = protowire.AppendTag(b, fieldTimes, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(flowtest.Epoch.UnixNano()))

	// 2. Known fields are read, the unknown one is skipped
	rec, err := DecodeFlow(b)
	require.NoError(t, err)
	assert.Equal(t, uint16(22), rec.DstPort)
	assert.Equal(t, []uint16{41, 1500}, rec.Lengths)
	assert.True(t, flowtest.Epoch.Equal(rec.Times[0]))
	assert.Error(t, rec.Validate())
}

func TestDecodeFlow_Truncated(t *testing.T) {
	data := EncodeFlow(nil, flowtest.KeyLogin())
	_, err := DecodeFlow(data[:len(data)-3])
	assert.Error(t, err)

	_, err = DecodeFlow([]byte{0xff})
	assert.Error(t, err)
}

func TestTimeEncoding(t *testing.T) {
	assert.Zero(t, timeToWire(time.Time{}))
	assert.True(t, timeFromWire(0).IsZero())

	at := time.Date(2024, time.March, 1, 12, 0, 0, 123456789, time.UTC)
	assert.Equal(t, at, timeFromWire(timeToWire(at)))
}

func TestResultRoundTrip(t *testing.T) {
	res := &model.Result{
		Flow:    flowtest.KeyLogin(),
		Auth:    model.AuthOK,
		Method:  model.MethodKey,
		Timing:  model.TimingAutomated,
		Traffic: model.TrafficTerminal,
	}
	decoded, err := DecodeResult(EncodeResult(nil, res))
	require.NoError(t, err)
	assert.Equal(t, res, decoded)

	// Zero enums are omitted on the wire and restored as unknown.
	decoded, err = DecodeResult(EncodeResult(nil, &model.Result{Auth: model.AuthFail}))
	require.NoError(t, err)
	assert.Nil(t, decoded.Flow)
	assert.Equal(t, model.AuthFail, decoded.Auth)
	assert.Equal(t, model.MethodUnknown, decoded.Method)
}

func TestCheckTemplate(t *testing.T) {
	assert.NoError(t, CheckTemplate(FlowTemplate))
	assert.NoError(t, CheckTemplate("LINK_BIT_FIELD, "+FlowTemplate))

	err := CheckTemplate("SRC_IP,DST_IP,PPI_PKT_LENGTHS")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PPI_PKT_TIMES")
	assert.NotContains(t, err.Error(), "SRC_IP,")
}
