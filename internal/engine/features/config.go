// Package features turns raw SSH flow records into analysable flows: it
// filters non-SSH traffic, merges artifact packets and lazily derives the
// per-flow attributes the detectors share (authentication window, histogram
// ratios, MAC classifier features).
package features

// Config holds the thresholds of the SSH filter and of the authentication
// window search.
type Config struct {
	// SSH filter.
	ContentPrefix     string `yaml:"content_prefix" default:"SSH"`
	MinBytesOneDir    uint64 `yaml:"min_bytes_one_dir" default:"60"`
	MinPacketsOneDir  uint32 `yaml:"min_packets_one_dir" default:"6"`
	MergeFlag         uint8  `yaml:"merge_flag" default:"16"`
	AuthInitThreshold int    `yaml:"auth_init_threshold" default:"5"`
	AuthEndThreshold  int    `yaml:"auth_end_threshold" default:"20"`
	SessStartMin      int    `yaml:"sess_start_min" default:"11"`
	// UserauthValues are the possible sizes of SSH_MSG_SERVICE_REQUEST
	// ("ssh-userauth") across the supported cipher/MAC combinations.
	UserauthValues []int `yaml:"userauth_values"`
}

// DefaultUserauthValues are the sizes used when Config.UserauthValues is empty.
var DefaultUserauthValues = []int{32, 36, 40, 44, 48, 52, 56, 60, 64, 68, 88, 92, 96, 100}

// DefaultConfig returns the thresholds used by the reference deployment.
func DefaultConfig() Config {
	return Config{
		ContentPrefix:     "SSH",
		MinBytesOneDir:    60,
		MinPacketsOneDir:  6,
		MergeFlag:         16,
		AuthInitThreshold: 5,
		AuthEndThreshold:  20,
		SessStartMin:      11,
		UserauthValues:    DefaultUserauthValues,
	}
}

func (c *Config) isUserauthValue(size uint16) bool {
	values := c.UserauthValues
	if len(values) == 0 {
		values = DefaultUserauthValues
	}
	for _, v := range values {
		if int(size) == v {
			return true
		}
	}
	return false
}
