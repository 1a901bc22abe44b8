package gambit

import (
	"fmt"
	"time"
)

// AuthenticationFailedError is returned from [*Client.Start]
// when the authentication endpoint does not grant a session.
type AuthenticationFailedError struct {
	Username string
	Err      error
}

func (e *AuthenticationFailedError) Error() string {
	return fmt.Sprintf("authentication failed for user %q: %v", e.Username, e.Err)
}

func (e *AuthenticationFailedError) Unwrap() error { return e.Err }

// KeyExchangeError is returned from [*Client.Start]
// when the key-exchange endpoint aborts the exchange
// or sends a message the client cannot use.
type KeyExchangeError struct {
	Err error
}

func (e *KeyExchangeError) Error() string {
	return "key exchange failed: " + e.Err.Error()
}

func (e *KeyExchangeError) Unwrap() error { return e.Err }

// PhaseTimeoutError is returned from [*Client.Start]
// when a startup phase does not complete within the handshake timeout.
type PhaseTimeoutError struct {
	Phase   Phase
	Timeout time.Duration
}

func (e *PhaseTimeoutError) Error() string {
	return fmt.Sprintf("%s phase did not complete within %s", e.Phase, e.Timeout)
}
