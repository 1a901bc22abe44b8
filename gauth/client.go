// Package gauth contains the client side of the credential authentication
// handshake, which trades a username and password for a game session.
package gauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gordian-engine/gambit/gquic"
	"github.com/gordian-engine/gambit/gwire"
	"github.com/gordian-engine/gambit/internal/gline"
)

const (
	noSessionMessage = "NOSESSION"
	sessionPrefix    = "SESSION "
)

// ErrNoSession is reported when the server refuses the credentials.
var ErrNoSession = errors.New("server did not grant a session")

// ErrMalformedSession is reported when a session grant
// is missing its secret or its ID.
var ErrMalformedSession = errors.New("malformed session message")

// Session is the result of a successful authentication.
type Session struct {
	// Public identifier, visible to other players.
	ID string

	// Token attached to every request sent to the game server.
	// Must not be logged above debug level.
	Secret string
}

// LogValue implements [slog.LogValuer] so that the secret
// is not accidentally written to logs.
func (s Session) LogValue() slog.Value {
	return slog.GroupValue(slog.String("id", s.ID))
}

// SessionFunc is called with the granted session,
// or with a non-nil error if authentication failed.
// It is called from the client's receive goroutine.
type SessionFunc func(Session, error)

// ClientConfig is the configuration for a [Client].
type ClientConfig struct {
	// Write timeout for each outgoing message.
	// Zero means no deadline.
	WriteTimeout time.Duration
}

// Client requests a session over a stream to the authentication endpoint.
type Client struct {
	log *slog.Logger

	conn *gline.Conn

	onSession SessionFunc

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient returns a Client using s and starts its receive goroutine.
func NewClient(
	ctx context.Context, log *slog.Logger, s gquic.Stream, cfg ClientConfig, onSession SessionFunc,
) *Client {
	if onSession == nil {
		panic(errors.New("BUG: onSession callback must not be nil"))
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Client{
		log: log,

		conn: gline.NewConn(s, cfg.WriteTimeout),

		onSession: onSession,

		cancel: cancel,
	}

	c.wg.Add(1)
	go c.receive(ctx)

	return c
}

// RequestAuth sends the credentials to the server.
// The outcome is reported through the client's SessionFunc.
func (c *Client) RequestAuth(username, password string) error {
	if username == "" || strings.ContainsAny(username, " \t") {
		return fmt.Errorf("invalid username %q: must be non-empty without whitespace", username)
	}

	if err := c.conn.Send(username + " " + password); err != nil {
		return fmt.Errorf("failed to send credentials: %w", err)
	}
	return nil
}

// Terminate closes the stream and waits for the receive goroutine to finish.
func (c *Client) Terminate() {
	c.log.Debug("Terminating authentication client")

	c.cancel()
	if err := c.conn.Close(); err != nil {
		c.log.Debug("Error closing authentication stream", "err", err)
	}
	c.wg.Wait()
}

func (c *Client) receive(ctx context.Context) {
	defer c.wg.Done()

	err := c.conn.Run(ctx, func(msg string) bool {
		c.handleMessage(msg)
		return true
	})
	if err != nil && ctx.Err() == nil {
		c.log.Info("Authentication stream failed", "err", err)
	}
}

func (c *Client) handleMessage(msg string) {
	if strings.EqualFold(msg, noSessionMessage) {
		c.log.Info("Server refused credentials")
		c.onSession(Session{}, ErrNoSession)
		return
	}

	if len(msg) <= len(sessionPrefix) || !strings.EqualFold(msg[:len(sessionPrefix)], sessionPrefix) {
		// Anything else is not addressed to this client.
		c.log.Debug("Ignoring unrecognized authentication message", "len", len(msg))
		return
	}

	secret, id, ok := strings.Cut(msg[len(sessionPrefix):], " ")
	if !ok || secret == "" || id == "" || len(secret) > gwire.MaxTokenSize {
		c.log.Warn("Received malformed session message")
		c.onSession(Session{}, ErrMalformedSession)
		return
	}

	s := Session{ID: id, Secret: secret}
	c.log.Info("Authenticated", "session", s)
	c.onSession(s, nil)
}
