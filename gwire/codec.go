package gwire

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// Leading byte of each encoded message, to catch a payload
// decoded as the wrong type before reading garbage lengths.
const (
	requestMagic byte = 'R'
	stateMagic   byte = 'S'
)

const (
	inputFlagAckRequired byte = 1 << 0
	inputFlagHasID       byte = 1 << 1
)

// MarshalBinary encodes r.
// All integers are big endian.
func (r OutboundRequest) MarshalBinary() ([]byte, error) {
	var b cryptobyte.Builder

	b.AddUint8(requestMagic)
	b.AddUint64(r.SequenceNumber)
	addString8(&b, r.SessionToken)

	for _, in := range r.Inputs {
		if !in.Present {
			b.AddUint8(0)
			continue
		}

		b.AddUint8(1)
		addString8(&b, in.Code)

		var flags byte
		if in.AckRequired {
			flags |= inputFlagAckRequired
		}
		if in.HasID {
			flags |= inputFlagHasID
		}
		b.AddUint8(flags)
		b.AddUint64(in.ID)

		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddBytes(in.Param)
		})
	}

	for _, p := range r.Purges {
		if !p.Present {
			b.AddUint8(0)
			continue
		}
		b.AddUint8(1)
		b.AddUint64(p.ID)
	}

	addCommands(&b, r.Commands)
	addCommands(&b, r.CommandsToForget)

	out, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to encode outbound request: %w", err)
	}
	return out, nil
}

// UnmarshalBinary decodes data into r.
// Errors wrap [ErrMalformed].
func (r *OutboundRequest) UnmarshalBinary(data []byte) error {
	s := cryptobyte.String(data)

	var magic byte
	if !s.ReadUint8(&magic) || magic != requestMagic {
		return fmt.Errorf("%w: not an outbound request", ErrMalformed)
	}

	var out OutboundRequest
	if !s.ReadUint64(&out.SequenceNumber) || !readString8(&s, &out.SessionToken) {
		return fmt.Errorf("%w: truncated request header", ErrMalformed)
	}

	for i := range out.Inputs {
		var present byte
		if !s.ReadUint8(&present) {
			return fmt.Errorf("%w: truncated input slot %d", ErrMalformed, i)
		}
		if present == 0 {
			continue
		}

		in := InputSlot{Present: true}
		var flags byte
		var param cryptobyte.String
		if !readString8(&s, &in.Code) ||
			!s.ReadUint8(&flags) ||
			!s.ReadUint64(&in.ID) ||
			!s.ReadUint16LengthPrefixed(&param) {
			return fmt.Errorf("%w: truncated input slot %d", ErrMalformed, i)
		}
		in.AckRequired = flags&inputFlagAckRequired != 0
		in.HasID = flags&inputFlagHasID != 0
		if len(param) > 0 {
			in.Param = append([]byte(nil), param...)
		}

		out.Inputs[i] = in
	}

	for i := range out.Purges {
		var present byte
		if !s.ReadUint8(&present) {
			return fmt.Errorf("%w: truncated purge slot %d", ErrMalformed, i)
		}
		if present == 0 {
			continue
		}
		out.Purges[i].Present = true
		if !s.ReadUint64(&out.Purges[i].ID) {
			return fmt.Errorf("%w: truncated purge slot %d", ErrMalformed, i)
		}
	}

	var err error
	if out.Commands, err = readCommands(&s); err != nil {
		return err
	}
	if out.CommandsToForget, err = readCommands(&s); err != nil {
		return err
	}

	if !s.Empty() {
		return fmt.Errorf("%w: %d trailing bytes in request", ErrMalformed, len(s))
	}

	*r = out
	return nil
}

// MarshalBinary encodes st.
func (st AuthoritativeState) MarshalBinary() ([]byte, error) {
	if len(st.Players) > 0xFFFF || len(st.InputAcks) > 0xFFFF || len(st.CommandAcks) > 0xFFFF {
		return nil, fmt.Errorf("state has too many records to encode")
	}

	var b cryptobyte.Builder

	b.AddUint8(stateMagic)
	b.AddUint64(uint64(st.Version))
	if st.DebugMode {
		b.AddUint8(1)
	} else {
		b.AddUint8(0)
	}

	b.AddUint16(uint16(len(st.Players)))
	for _, p := range st.Players {
		addString8(&b, p.SessionID)
	}

	b.AddUint16(uint16(len(st.InputAcks)))
	for _, a := range st.InputAcks {
		addString8(&b, a.SessionID)
		b.AddUint64(a.InputID)
	}

	b.AddUint16(uint16(len(st.CommandAcks)))
	for _, a := range st.CommandAcks {
		addString8(&b, a.SessionID)
		b.AddUint32(a.CommandNumber)
	}

	b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(st.Entities)
	})

	out, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	return out, nil
}

// UnmarshalBinary decodes data into st.
// Errors wrap [ErrMalformed].
func (st *AuthoritativeState) UnmarshalBinary(data []byte) error {
	s := cryptobyte.String(data)

	var magic byte
	if !s.ReadUint8(&magic) || magic != stateMagic {
		return fmt.Errorf("%w: not a state", ErrMalformed)
	}

	var out AuthoritativeState
	var version uint64
	var debug byte
	if !s.ReadUint64(&version) || !s.ReadUint8(&debug) {
		return fmt.Errorf("%w: truncated state header", ErrMalformed)
	}
	out.Version = int64(version)
	out.DebugMode = debug != 0

	var n uint16
	if !s.ReadUint16(&n) {
		return fmt.Errorf("%w: truncated player count", ErrMalformed)
	}
	if n > 0 {
		out.Players = make([]PlayerRef, n)
	}
	for i := range out.Players {
		if !readString8(&s, &out.Players[i].SessionID) {
			return fmt.Errorf("%w: truncated player %d", ErrMalformed, i)
		}
	}

	if !s.ReadUint16(&n) {
		return fmt.Errorf("%w: truncated input ack count", ErrMalformed)
	}
	if n > 0 {
		out.InputAcks = make([]InputAck, n)
	}
	for i := range out.InputAcks {
		a := &out.InputAcks[i]
		if !readString8(&s, &a.SessionID) || !s.ReadUint64(&a.InputID) {
			return fmt.Errorf("%w: truncated input ack %d", ErrMalformed, i)
		}
	}

	if !s.ReadUint16(&n) {
		return fmt.Errorf("%w: truncated command ack count", ErrMalformed)
	}
	if n > 0 {
		out.CommandAcks = make([]CommandAck, n)
	}
	for i := range out.CommandAcks {
		a := &out.CommandAcks[i]
		if !readString8(&s, &a.SessionID) || !s.ReadUint32(&a.CommandNumber) {
			return fmt.Errorf("%w: truncated command ack %d", ErrMalformed, i)
		}
	}

	var entities cryptobyte.String
	if !s.ReadUint24LengthPrefixed(&entities) {
		return fmt.Errorf("%w: truncated entities", ErrMalformed)
	}
	if len(entities) > 0 {
		out.Entities = append([]byte(nil), entities...)
	}

	if !s.Empty() {
		return fmt.Errorf("%w: %d trailing bytes in state", ErrMalformed, len(s))
	}

	*st = out
	return nil
}

func addString8(b *cryptobyte.Builder, v string) {
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes([]byte(v))
	})
}

func readString8(s *cryptobyte.String, out *string) bool {
	var v cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&v) {
		return false
	}
	*out = string(v)
	return true
}

func addCommands(b *cryptobyte.Builder, cmds []Command) {
	if len(cmds) > 0xFFFF {
		b.SetError(fmt.Errorf("too many commands: %d", len(cmds)))
		return
	}
	b.AddUint16(uint16(len(cmds)))
	for _, c := range cmds {
		b.AddUint32(c.Number)
		addString8(b, c.Code)
	}
}

func readCommands(s *cryptobyte.String) ([]Command, error) {
	var n uint16
	if !s.ReadUint16(&n) {
		return nil, fmt.Errorf("%w: truncated command count", ErrMalformed)
	}
	if n == 0 {
		return nil, nil
	}

	out := make([]Command, n)
	for i := range out {
		if !s.ReadUint32(&out[i].Number) || !readString8(s, &out[i].Code) {
			return nil, fmt.Errorf("%w: truncated command %d", ErrMalformed, i)
		}
	}
	return out, nil
}
