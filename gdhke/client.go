package gdhke

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/gordian-engine/gambit/gquic"
	"github.com/gordian-engine/gambit/gwire"
	"github.com/gordian-engine/gambit/internal/gline"
)

// DefaultProvokeMessage is sent to the key-exchange endpoint
// to ask it to begin an exchange.
// The server ignores its content.
const DefaultProvokeMessage = "AHJ3281DFADSF3218312DARF"

// errorMessage is the server's abort marker.
const errorMessage = "E"

// ErrRejected is reported to the key callback
// when the server aborts the exchange.
var ErrRejected = errors.New("key exchange rejected by server")

// ParseError is reported to the key callback
// when a server message could not be used as the next integer of the exchange.
type ParseError struct {
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to use key exchange message %q: %v", e.Message, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// KeyFunc is called with the negotiated key,
// or with a non-nil error if the exchange failed.
// It is called from the client's receive goroutine.
type KeyFunc func(gwire.SymmetricKey, error)

// ClientConfig is the configuration for a [Client].
type ClientConfig struct {
	// Message sent by RequestNewKey.
	// Defaults to [DefaultProvokeMessage].
	ProvokeMessage string

	// Write timeout for each outgoing message.
	// Zero means no deadline.
	WriteTimeout time.Duration

	// Creates the state for each new exchange.
	// Defaults to [NewState].
	NewState func() *State
}

// Client drives one or more key exchanges over a stream
// to the key-exchange endpoint.
//
// There is no local timeout on the exchange itself;
// the caller bounds how long it waits for the KeyFunc.
type Client struct {
	log *slog.Logger

	conn *gline.Conn
	cfg  ClientConfig

	onKey KeyFunc

	// Only accessed from the receive goroutine.
	state *State

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient returns a Client using s,
// and starts its receive goroutine.
// Cancel ctx or call [*Client.Terminate] to stop it.
func NewClient(
	ctx context.Context, log *slog.Logger, s gquic.Stream, cfg ClientConfig, onKey KeyFunc,
) *Client {
	if onKey == nil {
		panic(errors.New("BUG: onKey callback must not be nil"))
	}
	if cfg.ProvokeMessage == "" {
		cfg.ProvokeMessage = DefaultProvokeMessage
	}
	if cfg.NewState == nil {
		cfg.NewState = NewState
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Client{
		log: log,

		conn: gline.NewConn(s, cfg.WriteTimeout),
		cfg:  cfg,

		onKey: onKey,

		cancel: cancel,
	}

	c.wg.Add(1)
	go c.receive(ctx)

	return c
}

// RequestNewKey asks the server to begin a new exchange.
func (c *Client) RequestNewKey() error {
	if err := c.conn.Send(c.cfg.ProvokeMessage); err != nil {
		return fmt.Errorf("failed to request new key: %w", err)
	}
	return nil
}

// Terminate closes the stream and waits for the receive goroutine to finish.
func (c *Client) Terminate() {
	c.log.Debug("Terminating key exchange client")

	c.cancel()
	if err := c.conn.Close(); err != nil {
		c.log.Debug("Error closing key exchange stream", "err", err)
	}
	c.wg.Wait()
}

func (c *Client) receive(ctx context.Context) {
	defer c.wg.Done()

	err := c.conn.Run(ctx, func(msg string) bool {
		reply, ok := c.handleMessage(msg)
		if ok {
			if err := c.conn.Send(reply); err != nil {
				c.log.Info("Failed to send key exchange reply", "err", err)
				return false
			}
		}
		return true
	})
	if err != nil && ctx.Err() == nil {
		c.log.Info("Key exchange stream failed", "err", err)
	}
}

// handleMessage advances the exchange with one server message.
// It returns the reply to send, if any.
func (c *Client) handleMessage(msg string) (string, bool) {
	if strings.EqualFold(msg, errorMessage) {
		c.log.Warn("Server sent key exchange error marker")
		c.state = nil
		c.onKey(gwire.SymmetricKey{}, ErrRejected)
		return "", false
	}

	// On the first message after completion, the server sends the key's ID.
	if c.state != nil && c.state.Complete() {
		key := gwire.SymmetricKey{
			ID:    msg,
			Bytes: c.state.Key(),
		}
		c.state = nil

		c.log.Info("Key exchange complete", "key_id", key.ID)
		c.onKey(key, nil)
		return "", false
	}

	if c.state == nil {
		c.state = c.cfg.NewState()
	}

	// The first round may bundle the modulus and generator.
	fields := strings.Fields(msg)
	if len(fields) == 0 || len(fields) > 2 {
		c.abandon(msg, fmt.Errorf("expected 1 or 2 integers, got %d fields", len(fields)))
		return "", false
	}

	var reply *big.Int
	for _, f := range fields {
		n, ok := new(big.Int).SetString(f, 10)
		if !ok {
			c.abandon(msg, fmt.Errorf("invalid decimal integer %q", f))
			return "", false
		}

		out, err := c.state.TakeNextInteger(n)
		if err != nil {
			c.abandon(msg, err)
			return "", false
		}
		if out != nil {
			reply = out
		}
	}

	if reply == nil {
		return "", false
	}
	return reply.String(), true
}

// abandon resets the current exchange after a bad message.
// There is no automatic retry; the caller must request a new key.
func (c *Client) abandon(msg string, err error) {
	pe := &ParseError{Message: msg, Err: err}
	c.log.Error("Abandoning key exchange", "err", pe)
	c.state = nil
	c.onKey(gwire.SymmetricKey{}, pe)
}
