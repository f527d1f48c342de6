package detector

import "time"

// AuthConfig holds the thresholds of the authentication cascade.
type AuthConfig struct {
	KeyMin  uint16 `yaml:"key_min" default:"256"`
	PassMin uint16 `yaml:"pass_min" default:"80"`
	// DefaultSuccessSize is used when the flow has no MAC category.
	DefaultSuccessSize uint16  `yaml:"default_success_size" default:"50"`
	ChachaSuccessSize  uint16  `yaml:"chacha_success_size" default:"28"`
	MinPcktToAuth      int     `yaml:"min_pckt_to_auth" default:"5"`
	MinPcktAfterAuth   int     `yaml:"min_pckt_after_auth" default:"3"`
	MinPcktPerDir      int     `yaml:"min_pckt_per_dir" default:"3"`
	KeyCoef            float64 `yaml:"key_coef" default:"0.65"`
	ResponseSizeDiff   float64 `yaml:"response_size_diff" default:"0.2"`
}

// TimingConfig holds the thresholds of the timing detector.
type TimingConfig struct {
	HumanMinDelay time.Duration `yaml:"human_min_delay" default:"1s"`
}

// TrafficConfig holds the histogram thresholds of the traffic type detector.
type TrafficConfig struct {
	TransferMajor     int     `yaml:"transfer_major" default:"6"`
	TransferThreshold float64 `yaml:"transfer_threshold" default:"0.7"`
	TerminalDstMin    int     `yaml:"terminal_dst_min" default:"1"`
	TerminalDstMax    int     `yaml:"terminal_dst_max" default:"6"`
	TerminalSrcMin    int     `yaml:"terminal_src_min" default:"2"`
	TerminalSrcMax    int     `yaml:"terminal_src_max" default:"3"`
}

// Config groups the thresholds of all detectors.
type Config struct {
	Auth    AuthConfig    `yaml:"auth"`
	Timing  TimingConfig  `yaml:"timing"`
	Traffic TrafficConfig `yaml:"traffic"`
}

// DefaultConfig returns the thresholds of the reference deployment.
func DefaultConfig() Config {
	return Config{
		Auth: AuthConfig{
			KeyMin:             256,
			PassMin:            80,
			DefaultSuccessSize: 50,
			ChachaSuccessSize:  28,
			MinPcktToAuth:      5,
			MinPcktAfterAuth:   3,
			MinPcktPerDir:      3,
			KeyCoef:            0.65,
			ResponseSizeDiff:   0.2,
		},
		Timing: TimingConfig{HumanMinDelay: time.Second},
		Traffic: TrafficConfig{
			TransferMajor:     6,
			TransferThreshold: 0.7,
			TerminalDstMin:    1,
			TerminalDstMax:    6,
			TerminalSrcMin:    2,
			TerminalSrcMax:    3,
		},
	}
}
