package detector

import (
	"SSHSpectra/internal/engine/features"
	"SSHSpectra/internal/model"
)

// TrafficTypeDetector guesses what an authenticated session was used for
// from the packet size histograms.
type TrafficTypeDetector struct {
	cfg TrafficConfig
}

func NewTrafficTypeDetector(cfg TrafficConfig) *TrafficTypeDetector {
	return &TrafficTypeDetector{cfg: cfg}
}

// Detect only evaluates successful logins; abandoned scans would
// otherwise look like terminal sessions.
func (d *TrafficTypeDetector) Detect(f *features.Flow, auth model.AuthResult) model.TrafficType {
	if auth != model.AuthOK {
		return model.TrafficUnknown
	}
	c := d.cfg
	srcMajor, dstMajor := f.SrcHistMajor(), f.DstHistMajor()
	switch {
	case srcMajor > c.TransferMajor && f.SrcHistPct() > c.TransferThreshold:
		return model.TrafficUpload
	case dstMajor > c.TransferMajor && f.DstHistPct() > c.TransferThreshold:
		return model.TrafficDownload
	case dstMajor > c.TerminalDstMin && dstMajor < c.TerminalDstMax &&
		srcMajor >= c.TerminalSrcMin && srcMajor <= c.TerminalSrcMax:
		return model.TrafficTerminal
	default:
		return model.TrafficOther
	}
}
