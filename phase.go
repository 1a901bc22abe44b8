package gambit

import "fmt"

// Phase is the startup phase of a [Client].
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseAuthenticating
	PhaseKeyExchanging

	// Dialing the game endpoint and sending the connect marker.
	PhaseConnecting

	PhaseConnected

	// Startup failed; the client cannot be restarted.
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAuthenticating:
		return "authenticating"
	case PhaseKeyExchanging:
		return "key_exchanging"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("Phase(%d)", int32(p))
	}
}
