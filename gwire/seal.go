package gwire

import (
	"crypto/aes"
	"crypto/cipher"
	crand "crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/snappy"
)

// ConnectMarker is the only unsealed datagram the client sends.
// It lets the server associate the datagram connection with the session
// before any sealed traffic arrives.
const ConnectMarker = "CONN"

// KeySize is the size in bytes of every negotiated symmetric key.
const KeySize = 16

// SymmetricKey is a key negotiated through key exchange.
// The server refers to the key by ID, so each sealed datagram
// carries the ID of the key that sealed it.
type SymmetricKey struct {
	ID    string
	Bytes [KeySize]byte
}

// ErrUnknownKey is returned from [*Keyring.Open]
// when a datagram names a key ID that was never added.
var ErrUnknownKey = errors.New("unknown key ID")

// Keyring holds the AEADs for negotiated keys, indexed by key ID.
// It is safe for concurrent use;
// the tick goroutine seals while the receive goroutine opens.
//
// A sealed datagram is laid out as:
//
//	u8 key ID length | key ID | 12-byte nonce | AES-GCM(snappy(payload))
//
// The key ID is authenticated as additional data.
type Keyring struct {
	mu    sync.RWMutex
	aeads map[string]cipher.AEAD
}

// NewKeyring returns an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{aeads: make(map[string]cipher.AEAD)}
}

// Add registers k, replacing any key with the same ID.
func (r *Keyring) Add(k SymmetricKey) error {
	if k.ID == "" || len(k.ID) > 255 {
		return fmt.Errorf("invalid key ID length %d", len(k.ID))
	}

	block, err := aes.NewCipher(k.Bytes[:])
	if err != nil {
		return fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("failed to create GCM: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.aeads[k.ID] = aead
	return nil
}

func (r *Keyring) aead(id string) (cipher.AEAD, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.aeads[id]
	return a, ok
}

// Seal compresses and encrypts payload with the key identified by keyID.
func (r *Keyring) Seal(keyID string, payload []byte) ([]byte, error) {
	aead, ok := r.aead(keyID)
	if !ok {
		return nil, fmt.Errorf("cannot seal with key %q: %w", keyID, ErrUnknownKey)
	}

	compressed := snappy.Encode(nil, payload)

	ns := aead.NonceSize()
	hdrLen := 1 + len(keyID) + ns
	out := make([]byte, hdrLen, hdrLen+len(compressed)+aead.Overhead())
	out[0] = byte(len(keyID))
	copy(out[1:], keyID)
	nonce := out[1+len(keyID) : hdrLen]
	if _, err := crand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(out, nonce, compressed, out[1:1+len(keyID)]), nil
}

// Open authenticates, decrypts, and decompresses a datagram produced by Seal.
// Errors wrap [ErrMalformed] or [ErrUnknownKey].
func (r *Keyring) Open(datagram []byte) ([]byte, error) {
	if len(datagram) < 1 {
		return nil, fmt.Errorf("%w: empty datagram", ErrMalformed)
	}
	idLen := int(datagram[0])
	if len(datagram) < 1+idLen {
		return nil, fmt.Errorf("%w: truncated key ID", ErrMalformed)
	}
	keyID := datagram[1 : 1+idLen]

	aead, ok := r.aead(string(keyID))
	if !ok {
		return nil, fmt.Errorf("cannot open with key %q: %w", keyID, ErrUnknownKey)
	}

	rest := datagram[1+idLen:]
	ns := aead.NonceSize()
	if len(rest) < ns+aead.Overhead() {
		return nil, fmt.Errorf("%w: truncated ciphertext", ErrMalformed)
	}

	compressed, err := aead.Open(nil, rest[:ns], rest[ns:], keyID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to authenticate datagram: %v", ErrMalformed, err)
	}

	payload, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decompress datagram: %v", ErrMalformed, err)
	}
	return payload, nil
}
