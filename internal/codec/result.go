package codec

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"SSHSpectra/internal/model"
)

const (
	resultFlow protowire.Number = iota + 1
	resultAuth
	resultMethod
	resultTiming
	resultTraffic
)

// EncodeResult appends the wire form of res to b. The flow is embedded as
// a nested message.
func EncodeResult(b []byte, res *model.Result) []byte {
	if res.Flow != nil {
		b = protowire.AppendTag(b, resultFlow, protowire.BytesType)
		b = protowire.AppendBytes(b, EncodeFlow(nil, res.Flow))
	}
	b = appendVarint(b, resultAuth, uint64(res.Auth))
	b = appendVarint(b, resultMethod, uint64(res.Method))
	b = appendVarint(b, resultTiming, uint64(res.Timing))
	b = appendVarint(b, resultTraffic, uint64(res.Traffic))
	return b
}

// DecodeResult parses a result written by EncodeResult.
func DecodeResult(b []byte) (*model.Result, error) {
	res := &model.Result{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("failed to read tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == resultFlow && typ == protowire.BytesType:
			var msg []byte
			msg, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				flow, err := DecodeFlow(msg)
				if err != nil {
					return nil, fmt.Errorf("failed to decode flow: %w", err)
				}
				res.Flow = flow
			}
		case num >= resultAuth && num <= resultTraffic && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			switch num {
			case resultAuth:
				res.Auth = model.AuthResult(v)
			case resultMethod:
				res.Method = model.AuthMethod(v)
			case resultTiming:
				res.Timing = model.AuthTiming(v)
			case resultTraffic:
				res.Traffic = model.TrafficType(v)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return res, nil
}
