// Package codec encodes flow records and classification results in the
// protobuf wire format used on the message bus.
package codec

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"SSHSpectra/internal/model"
)

// Flow record field numbers. The names are the template field names
// announced by the flow exporter.
const (
	fieldSrcIP protowire.Number = iota + 1
	fieldDstIP
	fieldSrcPort
	fieldDstPort
	fieldBytes
	fieldBytesRev
	fieldPackets
	fieldPacketsRev
	fieldLinkBitField
	fieldTimeFirst
	fieldTimeLast
	fieldContent
	fieldContentRev
	fieldLengths
	fieldDirections
	fieldFlags
	fieldTimes
	fieldSrcHist
	fieldDstHist
)

// FlowFields lists the template field names in field number order.
var FlowFields = []string{
	"SRC_IP", "DST_IP", "SRC_PORT", "DST_PORT",
	"BYTES", "BYTES_REV", "PACKETS", "PACKETS_REV",
	"LINK_BIT_FIELD", "TIME_FIRST", "TIME_LAST",
	"IDP_CONTENT", "IDP_CONTENT_REV",
	"PPI_PKT_LENGTHS", "PPI_PKT_DIRECTIONS", "PPI_PKT_FLAGS", "PPI_PKT_TIMES",
	"S_PHISTS_SIZES", "D_PHISTS_SIZES",
}

// RequiredFields must be part of any template the classifier accepts.
var RequiredFields = []string{
	"SRC_IP", "DST_IP", "SRC_PORT", "DST_PORT",
	"BYTES", "BYTES_REV", "PACKETS", "PACKETS_REV",
	"IDP_CONTENT", "IDP_CONTENT_REV",
	"PPI_PKT_LENGTHS", "PPI_PKT_DIRECTIONS", "PPI_PKT_FLAGS", "PPI_PKT_TIMES",
	"S_PHISTS_SIZES", "D_PHISTS_SIZES",
}

// FlowTemplate is the template written by EncodeFlow.
var FlowTemplate = strings.Join(FlowFields, ",")

// ErrTruncated is returned for payloads that end inside a field.
var ErrTruncated = errors.New("truncated payload")

// CheckTemplate verifies that a comma separated template carries every
// required field.
func CheckTemplate(template string) error {
	have := make(map[string]bool)
	for _, f := range strings.Split(template, ",") {
		have[strings.TrimSpace(f)] = true
	}
	var missing []string
	for _, f := range RequiredFields {
		if !have[f] {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("template is missing fields: %s", strings.Join(missing, ","))
	}
	return nil
}

// EncodeFlow appends the wire form of rec to b.
func EncodeFlow(b []byte, rec *model.FlowRecord) []byte {
	b = appendBytes(b, fieldSrcIP, rec.SrcIP)
	b = appendBytes(b, fieldDstIP, rec.DstIP)
	b = appendVarint(b, fieldSrcPort, uint64(rec.SrcPort))
	b = appendVarint(b, fieldDstPort, uint64(rec.DstPort))
	b = appendVarint(b, fieldBytes, rec.Bytes)
	b = appendVarint(b, fieldBytesRev, rec.BytesRev)
	b = appendVarint(b, fieldPackets, uint64(rec.Packets))
	b = appendVarint(b, fieldPacketsRev, uint64(rec.PacketsRev))
	b = appendVarint(b, fieldLinkBitField, rec.LinkBitField)
	b = appendVarint(b, fieldTimeFirst, timeToWire(rec.TimeFirst))
	b = appendVarint(b, fieldTimeLast, timeToWire(rec.TimeLast))
	b = appendBytes(b, fieldContent, rec.Content)
	b = appendBytes(b, fieldContentRev, rec.ContentRev)

	b = appendPacked(b, fieldLengths, len(rec.Lengths), func(i int) uint64 { return uint64(rec.Lengths[i]) })
	b = appendPacked(b, fieldDirections, len(rec.Directions), func(i int) uint64 {
		return protowire.EncodeZigZag(int64(rec.Directions[i]))
	})
	b = appendPacked(b, fieldFlags, len(rec.Flags), func(i int) uint64 { return uint64(rec.Flags[i]) })
	b = appendPacked(b, fieldTimes, len(rec.Times), func(i int) uint64 { return timeToWire(rec.Times[i]) })
	b = appendPacked(b, fieldSrcHist, len(rec.SrcHist), func(i int) uint64 { return uint64(rec.SrcHist[i]) })
	b = appendPacked(b, fieldDstHist, len(rec.DstHist), func(i int) uint64 { return uint64(rec.DstHist[i]) })
	return b
}

// DecodeFlow parses a record written by EncodeFlow. Unknown fields are
// skipped. The per-packet sequences are not validated here.
func DecodeFlow(b []byte) (*model.FlowRecord, error) {
	rec := &model.FlowRecord{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("failed to read tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		var err error
		switch {
		case typ == protowire.BytesType && isBytesField(num):
			var v []byte
			if v, n = consumeBytes(b); n >= 0 {
				setBytes(rec, num, v)
			}
		case typ == protowire.VarintType && isScalarField(num):
			var v uint64
			if v, n = protowire.ConsumeVarint(b); n >= 0 {
				setScalar(rec, num, v)
			}
		case isRepeatedField(num) && (typ == protowire.BytesType || typ == protowire.VarintType):
			n, err = consumeRepeated(b, typ, func(v uint64) { appendRepeated(rec, num, v) })
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", num, err)
		}
		if n < 0 {
			return nil, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return rec, nil
}

func isBytesField(num protowire.Number) bool {
	switch num {
	case fieldSrcIP, fieldDstIP, fieldContent, fieldContentRev:
		return true
	}
	return false
}

func isScalarField(num protowire.Number) bool {
	return num >= fieldSrcPort && num <= fieldTimeLast
}

func isRepeatedField(num protowire.Number) bool {
	return num >= fieldLengths && num <= fieldDstHist
}

func setBytes(rec *model.FlowRecord, num protowire.Number, v []byte) {
	switch num {
	case fieldSrcIP:
		rec.SrcIP = net.IP(v)
	case fieldDstIP:
		rec.DstIP = net.IP(v)
	case fieldContent:
		rec.Content = v
	case fieldContentRev:
		rec.ContentRev = v
	}
}

func setScalar(rec *model.FlowRecord, num protowire.Number, v uint64) {
	switch num {
	case fieldSrcPort:
		rec.SrcPort = uint16(v)
	case fieldDstPort:
		rec.DstPort = uint16(v)
	case fieldBytes:
		rec.Bytes = v
	case fieldBytesRev:
		rec.BytesRev = v
	case fieldPackets:
		rec.Packets = uint32(v)
	case fieldPacketsRev:
		rec.PacketsRev = uint32(v)
	case fieldLinkBitField:
		rec.LinkBitField = v
	case fieldTimeFirst:
		rec.TimeFirst = timeFromWire(v)
	case fieldTimeLast:
		rec.TimeLast = timeFromWire(v)
	}
}

func appendRepeated(rec *model.FlowRecord, num protowire.Number, v uint64) {
	switch num {
	case fieldLengths:
		rec.Lengths = append(rec.Lengths, uint16(v))
	case fieldDirections:
		rec.Directions = append(rec.Directions, model.Direction(protowire.DecodeZigZag(v)))
	case fieldFlags:
		rec.Flags = append(rec.Flags, uint8(v))
	case fieldTimes:
		rec.Times = append(rec.Times, timeFromWire(v))
	case fieldSrcHist:
		rec.SrcHist = append(rec.SrcHist, uint32(v))
	case fieldDstHist:
		rec.DstHist = append(rec.DstHist, uint32(v))
	}
}

// consumeRepeated reads one packed run or one unpacked element.
func consumeRepeated(b []byte, typ protowire.Type, add func(uint64)) (int, error) {
	if typ == protowire.VarintType {
		v, n := protowire.ConsumeVarint(b)
		if n >= 0 {
			add(v)
		}
		return n, nil
	}
	run, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n, nil
	}
	for len(run) > 0 {
		v, m := protowire.ConsumeVarint(run)
		if m < 0 {
			return 0, ErrTruncated
		}
		add(v)
		run = run[m:]
	}
	return n, nil
}

// consumeBytes copies the field value so records never alias the message
// buffer.
func consumeBytes(b []byte) ([]byte, int) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, n
	}
	return append([]byte(nil), v...), n
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendPacked(b []byte, num protowire.Number, n int, value func(int) uint64) []byte {
	if n == 0 {
		return b
	}
	size := 0
	for i := 0; i < n; i++ {
		size += protowire.SizeVarint(value(i))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(size))
	for i := 0; i < n; i++ {
		b = protowire.AppendVarint(b, value(i))
	}
	return b
}

// Times travel as nanoseconds since the epoch, the zero time as 0.
func timeToWire(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano())
}

func timeFromWire(v uint64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(v)).UTC()
}
