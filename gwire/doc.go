// Package gwire defines the values exchanged with the game server
// over the datagram channel, and their binary encodings.
//
// Outbound, the client sends one [OutboundRequest] per tick at most.
// The request carries exactly [MaxInputSlots] input slots
// and [MaxPurgeSlots] purge slots regardless of how many are in use;
// that fixed shape is a wire-format invariant, not a queue capacity.
//
// Inbound, the server sends [AuthoritativeState] snapshots,
// each carrying a monotonically increasing version.
//
// Both directions are sealed with a [Keyring]
// after the session key has been negotiated;
// only the initial [ConnectMarker] datagram travels in the clear.
package gwire
