package gdhke

import (
	crand "crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/gordian-engine/gambit/gwire"
)

// PrivateExponentBits is the size of the default random private exponent.
const PrivateExponentBits = 128

// ErrExchangeComplete is returned from [*State.TakeNextInteger]
// if it is called after the key has been derived.
var ErrExchangeComplete = errors.New("key exchange already complete")

// State is the state of a single Diffie-Hellman exchange.
// It is not safe for concurrent use.
type State struct {
	newPrivate func() (*big.Int, error)

	modulus   *big.Int
	generator *big.Int
	private   *big.Int

	key      [gwire.KeySize]byte
	complete bool
}

// NewState returns a State that draws a random
// [PrivateExponentBits]-bit private exponent.
func NewState() *State {
	return NewStateWithPrivate(randomPrivate)
}

// NewStateWithPrivate returns a State that obtains its private exponent
// from newPrivate, which is called exactly once,
// when the generator arrives.
func NewStateWithPrivate(newPrivate func() (*big.Int, error)) *State {
	return &State{newPrivate: newPrivate}
}

func randomPrivate() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), PrivateExponentBits)
	for {
		n, err := crand.Int(crand.Reader, limit)
		if err != nil {
			return nil, err
		}
		// Exponents of 0 or 1 leak the generator or produce a constant.
		if n.Cmp(big.NewInt(1)) > 0 {
			return n, nil
		}
	}
}

// TakeNextInteger accepts the next integer received from the server.
//
// The first call records the modulus and returns nil.
// The second call records the generator and returns
// the public value generator^private mod modulus, to send to the server.
// The third call treats n as the server's public value,
// derives the key, and returns nil.
//
// Values that are not positive, or a modulus not greater than 2,
// are rejected with an error and leave the state unchanged.
func (s *State) TakeNextInteger(n *big.Int) (*big.Int, error) {
	if s.complete {
		return nil, ErrExchangeComplete
	}
	if n == nil || n.Sign() <= 0 {
		return nil, fmt.Errorf("integer must be positive (got %v)", n)
	}

	switch {
	case s.modulus == nil:
		if n.Cmp(big.NewInt(2)) <= 0 {
			return nil, fmt.Errorf("modulus must be greater than 2 (got %v)", n)
		}
		s.modulus = new(big.Int).Set(n)
		return nil, nil

	case s.generator == nil:
		priv, err := s.newPrivate()
		if err != nil {
			return nil, fmt.Errorf("failed to generate private exponent: %w", err)
		}
		s.generator = new(big.Int).Set(n)
		s.private = priv
		return new(big.Int).Exp(s.generator, s.private, s.modulus), nil

	default:
		secret := new(big.Int).Exp(n, s.private, s.modulus)
		s.key = DeriveKey(secret)
		s.complete = true
		return nil, nil
	}
}

// Complete reports whether the key has been derived.
func (s *State) Complete() bool {
	return s.complete
}

// Key returns the derived key bytes.
// It panics if the exchange is not complete.
func (s *State) Key() [gwire.KeySize]byte {
	if !s.complete {
		panic(errors.New("BUG: Key called before exchange completed"))
	}
	return s.key
}

// DeriveKey returns the least significant [gwire.KeySize] bytes
// of the big-endian representation of secret.
// Secrets shorter than the key are left-padded with zeros.
func DeriveKey(secret *big.Int) [gwire.KeySize]byte {
	var key [gwire.KeySize]byte
	b := secret.Bytes()
	if len(b) >= gwire.KeySize {
		copy(key[:], b[len(b)-gwire.KeySize:])
	} else {
		copy(key[gwire.KeySize-len(b):], b)
	}
	return key
}
