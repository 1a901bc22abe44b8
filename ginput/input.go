package ginput

import "github.com/gordian-engine/gambit/gwire"

// Input is a request from an input source to the game server.
type Input struct {
	// Input code, interpreted by the server.
	Code string

	// Assigned by [*Queue.Enqueue]; any value set by the caller is overwritten.
	ID uint64

	// AckRequired inputs are resent every tick until the server
	// acknowledges them, after which their ID is purged.
	AckRequired bool

	// Optional opaque parameter.
	Param []byte

	// Condition, if set, replaces the acknowledgement check:
	// the input is resent every tick until Condition reports true
	// for an applied state.
	// Its ID is purged afterward only if AckRequired is also set.
	//
	// Condition is called from the tick goroutine.
	Condition func(*gwire.AuthoritativeState, Input) bool
}

// retained reports whether the input stays outstanding after being sent.
func (in Input) retained() bool {
	return in.AckRequired || in.Condition != nil
}

// Slot returns the wire representation of in.
func (in Input) Slot() gwire.InputSlot {
	return gwire.InputSlot{
		Present: true,

		Code: in.Code,

		HasID: true,
		ID:    in.ID,

		AckRequired: in.AckRequired,
		Param:       in.Param,
	}
}

// Slots returns the wire representation of every input.
func Slots(ins []Input) []gwire.InputSlot {
	out := make([]gwire.InputSlot, len(ins))
	for i, in := range ins {
		out[i] = in.Slot()
	}
	return out
}

// Notice reports that an outstanding input was satisfied.
type Notice struct {
	Input Input

	// Whether the input's ID was scheduled for purge.
	Purged bool
}
