package pipeline

import (
	"sync/atomic"

	"SSHSpectra/internal/model"
)

// Stats are the counters of a running pipeline. All fields are updated
// atomically and may be read at any time.
type Stats struct {
	Batches    atomic.Uint64
	Received   atomic.Uint64
	Filtered   atomic.Uint64
	Malformed  atomic.Uint64
	Classified atomic.Uint64
	Emitted    atomic.Uint64
	EmitErrors atomic.Uint64

	auth    [3]atomic.Uint64
	method  [3]atomic.Uint64
	timing  [3]atomic.Uint64
	traffic [5]atomic.Uint64
}

func (s *Stats) record(res *model.Result) {
	s.Classified.Add(1)
	s.auth[res.Auth].Add(1)
	s.method[res.Method].Add(1)
	s.timing[res.Timing].Add(1)
	s.traffic[res.Traffic].Add(1)
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Batches    uint64            `json:"batches"`
	Received   uint64            `json:"received"`
	Filtered   uint64            `json:"filtered"`
	Malformed  uint64            `json:"malformed"`
	Classified uint64            `json:"classified"`
	Emitted    uint64            `json:"emitted"`
	EmitErrors uint64            `json:"emit_errors"`
	Auth       map[string]uint64 `json:"authentication_result"`
	Method     map[string]uint64 `json:"authentication_method"`
	Timing     map[string]uint64 `json:"authentication_timing"`
	Traffic    map[string]uint64 `json:"traffic_category"`
}

// Snapshot copies the current counters.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		Batches:    s.Batches.Load(),
		Received:   s.Received.Load(),
		Filtered:   s.Filtered.Load(),
		Malformed:  s.Malformed.Load(),
		Classified: s.Classified.Load(),
		Emitted:    s.Emitted.Load(),
		EmitErrors: s.EmitErrors.Load(),
		Auth:       make(map[string]uint64, len(s.auth)),
		Method:     make(map[string]uint64, len(s.method)),
		Timing:     make(map[string]uint64, len(s.timing)),
		Traffic:    make(map[string]uint64, len(s.traffic)),
	}
	for i := range s.auth {
		snap.Auth[model.AuthResult(i).String()] = s.auth[i].Load()
	}
	for i := range s.method {
		snap.Method[model.AuthMethod(i).String()] = s.method[i].Load()
	}
	for i := range s.timing {
		snap.Timing[model.AuthTiming(i).String()] = s.timing[i].Load()
	}
	for i := range s.traffic {
		snap.Traffic[model.TrafficType(i).String()] = s.traffic[i].Load()
	}
	return snap
}
