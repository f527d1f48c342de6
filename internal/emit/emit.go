// Package emit provides the sinks classification results are written to.
package emit

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"SSHSpectra/internal/config"
	"SSHSpectra/internal/model"
)

// Options are shared by every sink created from one configuration.
type Options struct {
	// Debug adds the per-packet sequences to every record.
	Debug  bool
	Logger log.FieldLogger
	// Out is the destination of the stdout sink.
	Out io.Writer
}

// Factory creates a sink from its configuration section.
type Factory func(cfg config.SinkConfig, opts Options) (model.Sink, error)

var registry = make(map[string]Factory)

// Register makes a sink type available to New. It is called from init.
func Register(name string, factory Factory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("sink type '%s' already registered", name))
	}
	registry[name] = factory
}

// New creates every configured sink. On error the sinks created so far
// are closed.
func New(cfg config.EmitConfig, opts Options) ([]model.Sink, error) {
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	var sinks []model.Sink
	for i, sc := range cfg.Sinks {
		factory, ok := registry[sc.Type]
		if !ok {
			CloseAll(sinks, opts.Logger)
			return nil, fmt.Errorf("unknown sink type: '%s'", sc.Type)
		}
		sink, err := factory(sc, opts)
		if err != nil {
			CloseAll(sinks, opts.Logger)
			return nil, fmt.Errorf("error creating sink %d (%s): %w", i, sc.Type, err)
		}
		opts.Logger.WithField("sink", sc.Type).Info("Emit: sink ready")
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

// CloseAll closes every sink and logs failures.
func CloseAll(sinks []model.Sink, logger log.FieldLogger) {
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			logger.WithError(err).Warn("Emit: failed to close sink")
		}
	}
}

// Fields are the output field names, in output order.
var Fields = []string{
	"DST_IP", "SRC_IP", "BYTES", "BYTES_REV", "LINK_BIT_FIELD",
	"TIME_FIRST", "TIME_LAST", "PACKETS", "PACKETS_REV", "DST_PORT", "SRC_PORT",
	"AUTHENTICATION_RESULT", "AUTHENTICATION_METHOD", "AUTHENTICATION_TIMING", "TRAFFIC_CATEGORY",
}

// DebugFields are appended to Fields in debug mode.
var DebugFields = []string{"PPI_PKT_DIRECTIONS", "PPI_PKT_FLAGS", "PPI_PKT_LENGTHS", "PPI_PKT_TIMES"}

// Header returns the output field names for the given mode.
func Header(debug bool) []string {
	if !debug {
		return Fields
	}
	return append(append([]string{}, Fields...), DebugFields...)
}

const timeLayout = "2006-01-02T15:04:05.000000"

// Record is the flat form of a result shared by the text and JSON sinks.
type Record struct {
	DstIP        net.IP    `json:"DST_IP"`
	SrcIP        net.IP    `json:"SRC_IP"`
	Bytes        uint64    `json:"BYTES"`
	BytesRev     uint64    `json:"BYTES_REV"`
	LinkBitField uint64    `json:"LINK_BIT_FIELD"`
	TimeFirst    time.Time `json:"TIME_FIRST"`
	TimeLast     time.Time `json:"TIME_LAST"`
	Packets      uint32    `json:"PACKETS"`
	PacketsRev   uint32    `json:"PACKETS_REV"`
	DstPort      uint16    `json:"DST_PORT"`
	SrcPort      uint16    `json:"SRC_PORT"`
	Auth         string    `json:"AUTHENTICATION_RESULT"`
	Method       string    `json:"AUTHENTICATION_METHOD"`
	Timing       string    `json:"AUTHENTICATION_TIMING"`
	Traffic      string    `json:"TRAFFIC_CATEGORY"`

	Directions []int8      `json:"PPI_PKT_DIRECTIONS,omitempty"`
	Flags      []int       `json:"PPI_PKT_FLAGS,omitempty"`
	Lengths    []uint16    `json:"PPI_PKT_LENGTHS,omitempty"`
	Times      []time.Time `json:"PPI_PKT_TIMES,omitempty"`
}

// NewRecord flattens a result. The per-packet sequences are only copied in
// debug mode.
func NewRecord(res *model.Result, debug bool) Record {
	f := res.Flow
	r := Record{
		DstIP:        f.DstIP,
		SrcIP:        f.SrcIP,
		Bytes:        f.Bytes,
		BytesRev:     f.BytesRev,
		LinkBitField: f.LinkBitField,
		TimeFirst:    f.TimeFirst,
		TimeLast:     f.TimeLast,
		Packets:      f.Packets,
		PacketsRev:   f.PacketsRev,
		DstPort:      f.DstPort,
		SrcPort:      f.SrcPort,
		Auth:         res.Auth.String(),
		Method:       res.Method.String(),
		Timing:       res.Timing.String(),
		Traffic:      res.Traffic.String(),
	}
	if debug {
		r.Directions = make([]int8, len(f.Directions))
		for i, d := range f.Directions {
			r.Directions[i] = int8(d)
		}
		r.Flags = make([]int, len(f.Flags))
		for i, fl := range f.Flags {
			r.Flags[i] = int(fl)
		}
		r.Lengths = append([]uint16(nil), f.Lengths...)
		r.Times = append([]time.Time(nil), f.Times...)
	}
	return r
}

// Row renders the record as text columns in Header order.
func (r Record) Row(debug bool) []string {
	row := []string{
		r.DstIP.String(), r.SrcIP.String(),
		strconv.FormatUint(r.Bytes, 10), strconv.FormatUint(r.BytesRev, 10),
		strconv.FormatUint(r.LinkBitField, 10),
		r.TimeFirst.UTC().Format(timeLayout), r.TimeLast.UTC().Format(timeLayout),
		strconv.FormatUint(uint64(r.Packets), 10), strconv.FormatUint(uint64(r.PacketsRev), 10),
		strconv.Itoa(int(r.DstPort)), strconv.Itoa(int(r.SrcPort)),
		r.Auth, r.Method, r.Timing, r.Traffic,
	}
	if !debug {
		return row
	}
	return append(row,
		joinList(len(r.Directions), func(i int) string { return strconv.Itoa(int(r.Directions[i])) }),
		joinList(len(r.Flags), func(i int) string { return strconv.Itoa(r.Flags[i]) }),
		joinList(len(r.Lengths), func(i int) string { return strconv.Itoa(int(r.Lengths[i])) }),
		joinList(len(r.Times), func(i int) string { return r.Times[i].UTC().Format(timeLayout) }),
	)
}

func joinList(n int, item func(int) string) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = item(i)
	}
	return "[" + strings.Join(parts, "|") + "]"
}
