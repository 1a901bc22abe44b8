// Package gambit contains the client side of a networked game session.
//
// A [Client] establishes a session in three phases:
// it trades credentials for a session at the authentication endpoint,
// negotiates a symmetric key at the key-exchange endpoint,
// and then opens an encrypted datagram connection to the game endpoint.
// Once connected, an [Engine] ticks at a fixed rate,
// sending queued inputs to the server and handing
// the newest authoritative state to a [Renderer].
//
// The server's states arrive over an unordered transport.
// The client applies a state only if its version is greater
// than every version applied before it;
// stale and duplicate deliveries are discarded.
package gambit
