package detector

import (
	"time"

	"SSHSpectra/internal/engine/features"
	"SSHSpectra/internal/model"
)

// TimingDetector tells interactive logins from automated ones by the
// longest client side pause inside the authentication window.
type TimingDetector struct {
	cfg TimingConfig
}

func NewTimingDetector(cfg TimingConfig) *TimingDetector {
	return &TimingDetector{cfg: cfg}
}

// Detect returns human when a client packet follows its predecessor by
// more than HumanMinDelay. A window without client packets is automated.
func (d *TimingDetector) Detect(f *features.Flow) model.AuthTiming {
	if MaxClientDelay(f) > d.cfg.HumanMinDelay {
		return model.TimingHuman
	}
	return model.TimingAutomated
}

// MaxClientDelay is the longest gap before a client packet of the
// authentication window.
func MaxClientDelay(f *features.Flow) time.Duration {
	times, dirs := f.Times(), f.Directions()
	var longest time.Duration
	for i := f.AuthStart() + 1; i < f.AuthEnd(); i++ {
		if dirs[i] != to {
			continue
		}
		if gap := times[i].Sub(times[i-1]); gap > longest {
			longest = gap
		}
	}
	return longest
}
