// Package gdhke negotiates the session's symmetric key
// through Diffie-Hellman key exchange with the key-exchange endpoint.
//
// [State] is the pure arithmetic of one exchange.
// [Client] drives a State over a stream of newline-delimited text messages:
// the server sends the modulus and generator (optionally in one message),
// the client replies with its public value,
// the server sends its public value,
// and once the key is derived the server's next message is the key ID.
// An "E" message from the server aborts the exchange.
package gdhke
