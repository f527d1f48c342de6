package model

// AuthResult is the inferred outcome of the SSH authentication.
type AuthResult uint8

const (
	AuthUnknown AuthResult = iota
	AuthOK
	AuthFail
)

func (r AuthResult) String() string {
	switch r {
	case AuthOK:
		return "ok"
	case AuthFail:
		return "fail"
	default:
		return "unknown"
	}
}

// AuthMethod is the inferred authentication method.
type AuthMethod uint8

const (
	MethodUnknown AuthMethod = iota
	MethodKey
	MethodPassword
)

func (m AuthMethod) String() string {
	switch m {
	case MethodKey:
		return "key"
	case MethodPassword:
		return "password"
	default:
		return "unknown"
	}
}

// AuthTiming tells whether the credentials were typed by a human.
type AuthTiming uint8

const (
	TimingUnknown AuthTiming = iota
	TimingHuman
	TimingAutomated
)

func (t AuthTiming) String() string {
	switch t {
	case TimingHuman:
		return "human"
	case TimingAutomated:
		return "automated"
	default:
		return "unknown"
	}
}

// TrafficType is the shape of the traffic after authentication.
type TrafficType uint8

const (
	TrafficUnknown TrafficType = iota
	TrafficUpload
	TrafficDownload
	TrafficTerminal
	TrafficOther
)

func (t TrafficType) String() string {
	switch t {
	case TrafficUpload:
		return "upload"
	case TrafficDownload:
		return "download"
	case TrafficTerminal:
		return "terminal"
	case TrafficOther:
		return "other"
	default:
		return "unknown"
	}
}

// Result is the classification of a single SSH flow.
type Result struct {
	Flow    *FlowRecord
	Auth    AuthResult
	Method  AuthMethod
	Timing  AuthTiming
	Traffic TrafficType
}
