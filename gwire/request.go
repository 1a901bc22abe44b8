package gwire

import (
	"errors"
	"fmt"
)

const (
	// MaxInputSlots is the number of input slots in every [OutboundRequest].
	MaxInputSlots = 5

	// MaxPurgeSlots is the number of purge slots in every [OutboundRequest].
	MaxPurgeSlots = 5
)

// Encoding limits. Longer values cannot be represented in an [OutboundRequest].
const (
	// MaxCodeSize bounds input and command codes, in bytes.
	MaxCodeSize = 0xFF

	// MaxTokenSize bounds the session token, in bytes.
	MaxTokenSize = 0xFF

	// MaxParamSize bounds an input parameter, in bytes.
	MaxParamSize = 0xFFFF
)

// JoinGameCode is the input code of the request the client repeats
// until the server reports the session as a player.
const JoinGameCode = "JOINGAME"

// InputSlot is one input carried in an [OutboundRequest].
// The zero value is an empty slot.
type InputSlot struct {
	Present bool

	Code string

	// HasID is false only for the join request,
	// whose input never went through the input queue.
	HasID bool
	ID    uint64

	// Whether the server must record an acknowledgement for this input.
	AckRequired bool

	// Optional opaque parameter, interpreted by the server per input code.
	Param []byte
}

// PurgeSlot tells the server that the acknowledgement record
// for the input with the given ID may be forgotten.
// The zero value is an empty slot.
type PurgeSlot struct {
	Present bool
	ID      uint64
}

// Command is a debug command issued to the server.
// Numbers are assigned by the client, starting at zero per session.
type Command struct {
	Number uint32
	Code   string
}

// OutboundRequest is the single message the client sends each tick.
type OutboundRequest struct {
	// Client-local, strictly increasing across the session.
	SequenceNumber uint64

	// The session secret.
	SessionToken string

	Inputs [MaxInputSlots]InputSlot
	Purges [MaxPurgeSlots]PurgeSlot

	// Commands the server has not yet acknowledged.
	Commands []Command

	// Commands the server acknowledged,
	// which the server may now stop reporting.
	CommandsToForget []Command
}

// NewJoinRequest returns the minimal request sent while the client
// waits for the server to recognize the session.
func NewJoinRequest(seq uint64, token string) OutboundRequest {
	r := OutboundRequest{
		SequenceNumber: seq,
		SessionToken:   token,
	}
	r.Inputs[0] = InputSlot{
		Present: true,
		Code:    JoinGameCode,
	}
	return r
}

// SetInputs fills the input slots in order from the given slots,
// clearing any remaining slots.
// It panics if more than [MaxInputSlots] are given;
// the input queue never produces more than that.
func (r *OutboundRequest) SetInputs(in []InputSlot) {
	if len(in) > MaxInputSlots {
		panic(fmt.Errorf(
			"BUG: attempted to set %d inputs (max %d)", len(in), MaxInputSlots,
		))
	}

	clear(r.Inputs[:])
	for i, s := range in {
		s.Present = true
		r.Inputs[i] = s
	}
}

// SetPurges fills the purge slots in order from the given IDs,
// clearing any remaining slots.
// It panics if more than [MaxPurgeSlots] IDs are given.
func (r *OutboundRequest) SetPurges(ids []uint64) {
	if len(ids) > MaxPurgeSlots {
		panic(fmt.Errorf(
			"BUG: attempted to set %d purges (max %d)", len(ids), MaxPurgeSlots,
		))
	}

	clear(r.Purges[:])
	for i, id := range ids {
		r.Purges[i] = PurgeSlot{Present: true, ID: id}
	}
}

// InputCount reports the number of occupied input slots.
func (r OutboundRequest) InputCount() int {
	n := 0
	for _, s := range r.Inputs {
		if s.Present {
			n++
		}
	}
	return n
}

// PurgeCount reports the number of occupied purge slots.
func (r OutboundRequest) PurgeCount() int {
	n := 0
	for _, s := range r.Purges {
		if s.Present {
			n++
		}
	}
	return n
}

// ErrMalformed is wrapped by every decoding error in this package.
var ErrMalformed = errors.New("malformed message")
