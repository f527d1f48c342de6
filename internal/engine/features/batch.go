package features

import (
	"bytes"
	"math"

	"github.com/sirupsen/logrus"

	"SSHSpectra/internal/model"
)

// Batch is the set of SSH flows accepted from one fetched batch of records.
type Batch struct {
	Flows []*Flow

	// Filtered counts records rejected as not being SSH.
	Filtered int
	// Malformed counts records with missing or inconsistent packet sequences.
	Malformed int
}

// NewBatch validates and filters the records and preprocesses every flow
// that looks like SSH. Malformed records are logged and dropped.
func NewBatch(records []*model.FlowRecord, cfg Config, log logrus.FieldLogger) *Batch {
	c := cfg
	b := &Batch{Flows: make([]*Flow, 0, len(records))}
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if err := rec.Validate(); err != nil {
			b.Malformed++
			if log != nil {
				log.WithField("flow", rec.String()).WithError(err).Warn("Features: dropping record")
			}
			continue
		}
		if !c.IsSSH(rec) {
			b.Filtered++
			continue
		}
		b.Flows = append(b.Flows, newFlow(rec, &c))
	}
	return b
}

// Len returns the number of accepted flows.
func (b *Batch) Len() int {
	return len(b.Flows)
}

// IsSSH reports whether a record looks like an SSH session worth analysing:
// both banners start with the SSH identification, both directions carry
// enough data and the client opened the connection.
func (c *Config) IsSSH(rec *model.FlowRecord) bool {
	prefix := []byte(c.ContentPrefix)
	if !bytes.HasPrefix(rec.Content, prefix) || !bytes.HasPrefix(rec.ContentRev, prefix) {
		return false
	}
	if rec.Bytes < c.MinBytesOneDir || rec.BytesRev < c.MinBytesOneDir {
		return false
	}
	if rec.Packets < c.MinPacketsOneDir || rec.PacketsRev < c.MinPacketsOneDir {
		return false
	}
	return len(rec.Directions) > 0 && rec.Directions[0] == model.DirToServer
}

// mergeArtifacts folds every packet whose flags equal mergeFlag into the
// following packet when both travel in the same direction. Packets that
// cannot be merged keep their length and get their flags cleared.
func mergeArtifacts(f *Flow, mergeFlag uint8) {
	for {
		i := -1
		for j, fl := range f.flags {
			if fl == mergeFlag {
				i = j
				break
			}
		}
		if i < 0 {
			return
		}
		if i+1 < len(f.flags) && f.directions[i] == f.directions[i+1] {
			f.lengths[i+1] = addLengths(f.lengths[i+1], f.lengths[i])
			f.lengths = append(f.lengths[:i], f.lengths[i+1:]...)
			f.directions = append(f.directions[:i], f.directions[i+1:]...)
			f.flags = append(f.flags[:i], f.flags[i+1:]...)
			f.times = append(f.times[:i], f.times[i+1:]...)
		} else {
			f.flags[i] = 0
		}
	}
}

// addLengths saturates at math.MaxUint16 so offloaded segments cannot wrap.
func addLengths(a, b uint16) uint16 {
	if sum := uint32(a) + uint32(b); sum <= math.MaxUint16 {
		return uint16(sum)
	}
	return math.MaxUint16
}
