package detector

import (
	"SSHSpectra/internal/engine/features"
	"SSHSpectra/internal/model"
)

const (
	to   = model.DirToServer
	from = model.DirToClient
)

// AuthenticationDetector infers the authentication result and method from
// the packet sizes of the authentication window [AuthStart, AuthEnd).
type AuthenticationDetector struct {
	cfg AuthConfig
}

func NewAuthenticationDetector(cfg AuthConfig) *AuthenticationDetector {
	return &AuthenticationDetector{cfg: cfg}
}

// Detect runs the cascade. A detected method always means a successful
// login; flows too short to carry an authentication always fail.
func (d *AuthenticationDetector) Detect(f *features.Flow) (model.AuthResult, model.AuthMethod) {
	if !d.eligible(f) {
		return model.AuthFail, model.MethodUnknown
	}
	success := d.successSize(f)

	if d.keyWithPrecheck(f, success) {
		return model.AuthOK, model.MethodKey
	}
	chacha := d.chacha(f)
	if d.requestAccepted(f, success, d.cfg.KeyMin) {
		return model.AuthOK, model.MethodKey
	}
	if d.requestAccepted(f, success, d.cfg.PassMin) {
		return model.AuthOK, model.MethodPassword
	}
	if chacha {
		return model.AuthOK, model.MethodUnknown
	}
	return d.repeating(f, success), model.MethodUnknown
}

// successSize returns the SSH_MSG_USERAUTH_SUCCESS size of the flow's
// category.
func (d *AuthenticationDetector) successSize(f *features.Flow) uint16 {
	if cat, ok := MacCategories[f.MacCategory()]; ok {
		return cat.SuccessSize
	}
	return d.cfg.DefaultSuccessSize
}

// eligible excludes flows that are too short to hold an authentication
// exchange.
func (d *AuthenticationDetector) eligible(f *features.Flow) bool {
	n := f.PacketCount()
	start := f.AuthStart()
	if n < f.SessStartMin() || start+d.cfg.MinPcktToAuth >= n {
		return false
	}
	var toCnt, fromCnt int
	for _, dir := range f.Directions()[start+1:] {
		if dir == to {
			toCnt++
		} else {
			fromCnt++
		}
	}
	return toCnt >= d.cfg.MinPcktPerDir && fromCnt >= d.cfg.MinPcktPerDir
}

// keyWithPrecheck looks for the public key precheck: the client offers its
// key, the server echoes it in SSH_MSG_USERAUTH_PK_OK, the client repeats
// the request with a signature (about twice the size) and the server
// answers with SSH_MSG_USERAUTH_SUCCESS. Only the first exchange with
// that direction signature is checked.
func (d *AuthenticationDetector) keyWithPrecheck(f *features.Flow, success uint16) bool {
	l, dirs := f.Lengths(), f.Directions()
	coef := d.cfg.KeyCoef
	for i := f.AuthStart() + 2; i+3 < f.AuthEnd(); i++ {
		if !features.MatchDirections(dirs, i, to, from, to, from) {
			continue
		}
		req := float64(l[i])
		return float64(l[i+1]) > coef*req && l[i+1] < l[i] &&
			float64(l[i+2]) > 2*coef*req &&
			l[i+3] <= success
	}
	return false
}

// chacha reports the 28 byte SSH_MSG_USERAUTH_SUCCESS of
// chacha20-poly1305, the only suite where it cannot collide with other
// messages.
func (d *AuthenticationDetector) chacha(f *features.Flow) bool {
	l, dirs := f.Lengths(), f.Directions()
	for i := f.AuthStart(); i < f.AuthEnd(); i++ {
		if l[i] == d.cfg.ChachaSuccessSize && dirs[i] == from {
			return true
		}
	}
	return false
}

// requestAccepted looks for a client request larger than minReq answered
// by a success sized response while the connection stays open.
func (d *AuthenticationDetector) requestAccepted(f *features.Flow, success, minReq uint16) bool {
	l, dirs, flags := f.Lengths(), f.Directions(), f.Flags()
	n := f.PacketCount()
	for i := f.AuthStart() + 2; i+1 < f.AuthEnd() && i+2 < n; i++ {
		if dirs[i] != to || dirs[i+1] != from {
			continue
		}
		if l[i] > minReq && l[i+1] <= success && !terminates(flags[i+1]) && !terminates(flags[i+2]) {
			return true
		}
	}
	return false
}

func terminates(flags uint8) bool {
	return flags&(model.FlagFIN|model.FlagRST) != 0
}

// repeating recognises repeated failed attempts: every server response
// after the service request stays above the success size and the
// responses have nearly the same size.
func (d *AuthenticationDetector) repeating(f *features.Flow, success uint16) model.AuthResult {
	l, dirs := f.Lengths(), f.Directions()
	end := f.AuthEnd()

	var cnt int
	var sum, lo, hi float64
	i := f.AuthStart() + 2
	for ; i < end && l[i] > success; i++ {
		if dirs[i] != from {
			continue
		}
		v := float64(l[i])
		if cnt == 0 || v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
		sum += v
		cnt++
	}

	if i < end-d.cfg.MinPcktAfterAuth || cnt == 0 {
		return model.AuthUnknown
	}
	mean := sum / float64(cnt)
	limit := d.cfg.ResponseSizeDiff * mean
	if hi-mean <= limit && mean-lo <= limit {
		return model.AuthFail
	}
	return model.AuthUnknown
}
