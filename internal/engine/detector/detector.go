package detector

import (
	"SSHSpectra/internal/engine/features"
	"SSHSpectra/internal/model"
)

// Detector runs the authentication, timing and traffic detectors in order.
type Detector struct {
	Auth    *AuthenticationDetector
	Timing  *TimingDetector
	Traffic *TrafficTypeDetector
}

func New(cfg Config) *Detector {
	return &Detector{
		Auth:    NewAuthenticationDetector(cfg.Auth),
		Timing:  NewTimingDetector(cfg.Timing),
		Traffic: NewTrafficTypeDetector(cfg.Traffic),
	}
}

// Classify produces the result of a single flow. The flow's MAC category
// must already be resolved.
func (d *Detector) Classify(f *features.Flow) *model.Result {
	auth, method := d.Auth.Detect(f)
	return &model.Result{
		Flow:    f.Record,
		Auth:    auth,
		Method:  method,
		Timing:  d.Timing.Detect(f),
		Traffic: d.Traffic.Detect(f, auth),
	}
}

// ClassifyBatch classifies every flow of the batch in order.
func (d *Detector) ClassifyBatch(b *features.Batch) []*model.Result {
	out := make([]*model.Result, len(b.Flows))
	for i, f := range b.Flows {
		out[i] = d.Classify(f)
	}
	return out
}
