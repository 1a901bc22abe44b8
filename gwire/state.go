package gwire

import (
	"strings"

	"github.com/bits-and-blooms/bitset"
)

// PlayerRef identifies a player entity in the authoritative state
// by the public session ID that controls it.
type PlayerRef struct {
	SessionID string
}

// InputAck is the server's record that it processed
// an ack-required input from the given session.
type InputAck struct {
	SessionID string
	InputID   uint64
}

// CommandAck is the server's record that it processed
// a debug command from the given session.
type CommandAck struct {
	SessionID     string
	CommandNumber uint32
}

// AuthoritativeState is a snapshot of the server simulation.
//
// The client only interprets the fields needed by the protocol layer;
// the simulated entities are carried as opaque bytes for the renderer.
type AuthoritativeState struct {
	// Strictly increasing on the server.
	// A state whose version is not greater than the last applied version
	// must never be applied.
	Version int64

	// Whether the server accepts debug commands.
	DebugMode bool

	Players []PlayerRef

	InputAcks   []InputAck
	CommandAcks []CommandAck

	Entities []byte
}

// HasPlayer reports whether a player controlled by sessionID
// is present in the state.
// Session IDs are compared case-insensitively.
func (s *AuthoritativeState) HasPlayer(sessionID string) bool {
	for _, p := range s.Players {
		if strings.EqualFold(p.SessionID, sessionID) {
			return true
		}
	}
	return false
}

// InputAckWindow returns a bitset of length hi-lo,
// where bit i is set if the state acknowledges input lo+i for sessionID.
//
// Acknowledgements outside [lo, hi) are ignored,
// which keeps the bitset bounded by the caller's outstanding range
// no matter what the server reports.
func (s *AuthoritativeState) InputAckWindow(sessionID string, lo, hi uint64) *bitset.BitSet {
	if hi < lo {
		hi = lo
	}
	bs := bitset.New(uint(hi - lo))
	for _, a := range s.InputAcks {
		if a.InputID < lo || a.InputID >= hi {
			continue
		}
		if !strings.EqualFold(a.SessionID, sessionID) {
			continue
		}
		bs.Set(uint(a.InputID - lo))
	}
	return bs
}

// CommandAckWindow returns a bitset of length n,
// where bit i is set if the state acknowledges command number i for sessionID.
// Command numbers at or beyond n are ignored.
func (s *AuthoritativeState) CommandAckWindow(sessionID string, n uint32) *bitset.BitSet {
	bs := bitset.New(uint(n))
	for _, a := range s.CommandAcks {
		if a.CommandNumber >= n {
			continue
		}
		if !strings.EqualFold(a.SessionID, sessionID) {
			continue
		}
		bs.Set(uint(a.CommandNumber))
	}
	return bs
}
