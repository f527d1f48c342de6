package ingest

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SSHSpectra/internal/codec"
	"SSHSpectra/internal/config"
	"SSHSpectra/internal/logging"
	"SSHSpectra/internal/model"
	"SSHSpectra/internal/model/flowtest"
	"SSHSpectra/pkg/pcap"
)

type fakeSub struct {
	msgs         chan *nats.Msg
	unsubscribed bool
}

func newFakeSub() *fakeSub {
	return &fakeSub{msgs: make(chan *nats.Msg, 16)}
}

func (f *fakeSub) NextMsgWithContext(ctx context.Context) (*nats.Msg, error) {
	select {
	case m := <-f.msgs:
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeSub) Unsubscribe() error {
	f.unsubscribed = true
	return nil
}

func flowMsg(port uint16) *nats.Msg {
	rec := flowtest.PasswordLogin()
	rec.SrcPort = port
	return NewFlowMsg("sshspectra.flows", rec)
}

func ports(recs []*model.FlowRecord) []uint16 {
	out := make([]uint16, len(recs))
	for i, r := range recs {
		out[i] = r.SrcPort
	}
	return out
}

func TestNATSSource_Fetch(t *testing.T) {
	sub := newFakeSub()
	src := newNATSSource(sub, logging.Discard())
	ctx := context.Background()

	// 1. A full batch returns without waiting
	for p := uint16(1); p <= 3; p++ {
		sub.msgs <- flowMsg(p)
	}
	recs, err := src.Fetch(ctx, 2, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 2}, ports(recs))
	require.NoError(t, recs[0].Validate())

	// 2. A partial batch is returned when the wait expires
	recs, err = src.Fetch(ctx, 10, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []uint16{3}, ports(recs))

	// 3. No data is an empty batch, not an error
	recs, err = src.Fetch(ctx, 10, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, recs)

	require.NoError(t, src.Close())
	assert.True(t, sub.unsubscribed)
}

func TestNATSSource_Malformed(t *testing.T) {
	sub := newFakeSub()
	src := newNATSSource(sub, logging.Discard())

	sub.msgs <- &nats.Msg{Data: []byte{0xff}}
	sub.msgs <- flowMsg(7)

	recs, err := src.Fetch(context.Background(), 10, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []uint16{7}, ports(recs))
	assert.Equal(t, uint64(1), src.Malformed())
}

func TestNATSSource_FormatChange(t *testing.T) {
	sub := newFakeSub()
	src := newNATSSource(sub, logging.Discard())
	ctx := context.Background()

	// 1. The second message announces a reordered template
	fields := append([]string{}, codec.FlowFields[1:]...)
	reordered := strings.Join(append(fields, codec.FlowFields[0]), ",")
	changed := flowMsg(2)
	changed.Header.Set(TemplateHeader, reordered)
	sub.msgs <- flowMsg(1)
	sub.msgs <- changed
	sub.msgs <- flowMsg(3)

	// 2. Records before the change are returned with the error
	recs, err := src.Fetch(ctx, 10, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrFormatChanged)
	assert.Equal(t, []uint16{1}, ports(recs))

	// 3. Fetching again without negotiating repeats the error
	_, err = src.Fetch(ctx, 10, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrFormatChanged)

	// 4. After negotiation the held message comes first; the third
	// message switches back to the original template
	require.NoError(t, src.Negotiate(ctx))
	recs, err = src.Fetch(ctx, 10, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrFormatChanged)
	assert.Equal(t, []uint16{2}, ports(recs))

	// 5. Nothing is lost
	require.NoError(t, src.Negotiate(ctx))
	recs, err = src.Fetch(ctx, 10, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []uint16{3}, ports(recs))
}

func TestNATSSource_IncompleteTemplate(t *testing.T) {
	sub := newFakeSub()
	src := newNATSSource(sub, logging.Discard())
	ctx := context.Background()

	msg := flowMsg(1)
	msg.Header.Set(TemplateHeader, "SRC_IP,DST_IP,PPI_PKT_LENGTHS")
	sub.msgs <- msg

	_, err := src.Fetch(ctx, 10, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrFormatChanged)
	err = src.Negotiate(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PPI_PKT_TIMES")
}

func TestNATSSource_Cancelled(t *testing.T) {
	src := newNATSSource(newFakeSub(), logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.Fetch(ctx, 10, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func writeCapture(t *testing.T, flows int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ssh.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w, err := pcap.NewWriter(f)
	require.NoError(t, err)
	at := flowtest.Epoch
	client, server := net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2)
	for i := 0; i < flows; i++ {
		port := uint16(40000 + i)
		for _, p := range []struct {
			toServer bool
			size     int
		}{{true, 21}, {false, 21}, {true, 1500}} {
			at = at.Add(time.Millisecond)
			seg := &pcap.Segment{Timestamp: at, Flags: model.FlagPSH | model.FlagACK, Payload: make([]byte, p.size)}
			if p.toServer {
				seg.SrcIP, seg.DstIP, seg.SrcPort, seg.DstPort = client, server, port, 22
			} else {
				seg.SrcIP, seg.DstIP, seg.SrcPort, seg.DstPort = server, client, 22, port
			}
			require.NoError(t, w.WriteSegment(seg))
		}
	}
	return path
}

func TestPCAPSource(t *testing.T) {
	cfg := config.PCAPSourceConfig{Path: writeCapture(t, 3), Ports: []uint16{22}, MaxPackets: 30, ContentBytes: 100}
	src, err := New(config.IngestConfig{Type: "pcap", PCAP: cfg}, logging.Discard())
	require.NoError(t, err)
	defer src.Close()
	ctx := context.Background()

	recs, err := src.Fetch(ctx, 2, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []uint16{40000, 40001}, ports(recs))
	assert.Equal(t, []uint16{21, 21, 1500}, recs[0].Lengths)

	recs, err = src.Fetch(ctx, 2, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []uint16{40002}, ports(recs))

	_, err = src.Fetch(ctx, 2, time.Second)
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, src.Negotiate(ctx))
}

func TestNew_Errors(t *testing.T) {
	_, err := New(config.IngestConfig{Type: "pcap", PCAP: config.PCAPSourceConfig{Path: "missing.pcap"}}, logging.Discard())
	assert.Error(t, err)

	_, err = New(config.IngestConfig{Type: "kafka"}, logging.Discard())
	assert.Error(t, err)
}
