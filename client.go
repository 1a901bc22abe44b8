package gambit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordian-engine/gambit/gauth"
	"github.com/gordian-engine/gambit/gdhke"
	"github.com/gordian-engine/gambit/ginput"
	"github.com/gordian-engine/gambit/gmetrics"
	"github.com/gordian-engine/gambit/gquic"
	"github.com/gordian-engine/gambit/gwire"
	"github.com/gordian-engine/gambit/internal/gtrace"
	"golang.org/x/time/rate"
)

// Session is the identity granted by the authentication endpoint.
type Session = gauth.Session

// DefaultHandshakeTimeout bounds each startup phase
// when [ClientConfig.HandshakeTimeout] is zero.
const DefaultHandshakeTimeout = 10 * time.Second

// ErrNotConnected is returned from [*Client.SendRequest]
// before the client has connected to the game endpoint.
var ErrNotConnected = errors.New("client is not connected")

// Dialer opens QUIC connections to the server endpoints.
// [gquic.Dialer] is the usual implementation.
type Dialer interface {
	Dial(ctx context.Context, addr string) (gquic.Conn, error)
}

// ClientConfig is the configuration for a [Client].
type ClientConfig struct {
	// Addresses of the three server endpoints, as host:port.
	AuthAddr        string
	KeyExchangeAddr string
	GameAddr        string

	Dialer Dialer

	// Bound on each startup phase, including dialing.
	// Defaults to [DefaultHandshakeTimeout].
	HandshakeTimeout time.Duration

	Engine EngineConfig

	// Zero value means [ginput.DefaultQueueConfig].
	Queue ginput.QueueConfig

	Renderer Renderer

	// Optional source of debug commands.
	Commands CommandSource

	// Optional; nil records nothing.
	Metrics *gmetrics.Metrics

	// Optional; defaults to a no-op provider.
	TracerProvider gtrace.TracerProvider

	// Defaults to time.Now.
	NowFn func() time.Time
}

// validate panics if there are any illegal settings in the configuration.
func (c ClientConfig) validate() {
	var panicErrs error

	if c.AuthAddr == "" {
		panicErrs = errors.Join(panicErrs, errors.New("ClientConfig.AuthAddr must not be empty"))
	}
	if c.KeyExchangeAddr == "" {
		panicErrs = errors.Join(panicErrs, errors.New("ClientConfig.KeyExchangeAddr must not be empty"))
	}
	if c.GameAddr == "" {
		panicErrs = errors.Join(panicErrs, errors.New("ClientConfig.GameAddr must not be empty"))
	}
	if c.Dialer == nil {
		panicErrs = errors.Join(panicErrs, errors.New("ClientConfig.Dialer must not be nil"))
	}
	if c.Renderer == nil {
		panicErrs = errors.Join(panicErrs, errors.New("ClientConfig.Renderer must not be nil"))
	}
	if c.HandshakeTimeout < 0 {
		panicErrs = errors.Join(panicErrs, fmt.Errorf(
			"ClientConfig.HandshakeTimeout must not be negative (got %s)", c.HandshakeTimeout,
		))
	}
	if err := c.Engine.validate(); err != nil {
		panicErrs = errors.Join(panicErrs, err)
	}

	if panicErrs != nil {
		panic(panicErrs)
	}
}

// Client is the client side of a game session.
//
// Create it with [NewClient], then call [*Client.Start]
// to authenticate, negotiate a key, and connect.
// Inputs may be enqueued through [*Client.Inputs] at any time;
// they are discarded until the server recognizes the session.
type Client struct {
	log *slog.Logger

	cfg ClientConfig

	tracer gtrace.Tracer

	phase   atomic.Int32
	session atomic.Pointer[Session]

	queue   *ginput.Queue
	engine  *Engine
	keyring *gwire.Keyring
	latest  stateHolder

	// Set before the phase becomes connected, and never modified after.
	conn  gquic.Conn
	keyID string

	cancel context.CancelCauseFunc
	wg     sync.WaitGroup

	// Closed once Start has failed,
	// or once every session goroutine has returned.
	done chan struct{}

	dropLog rate.Sometimes
}

// NewClient returns a new Client.
// Configuration errors cause a panic.
func NewClient(log *slog.Logger, cfg ClientConfig) *Client {
	cfg.validate()

	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Queue == (ginput.QueueConfig{}) {
		cfg.Queue = ginput.DefaultQueueConfig()
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = gtrace.NopTracerProvider()
	}
	if cfg.NowFn == nil {
		cfg.NowFn = time.Now
	}

	c := &Client{
		log: log,

		cfg: cfg,

		tracer: cfg.TracerProvider.Tracer(gtrace.TracerName),

		queue:   ginput.NewQueue(log.With("sys", "inputs"), cfg.Queue),
		keyring: gwire.NewKeyring(),

		done: make(chan struct{}),

		dropLog: rate.Sometimes{Interval: 5 * time.Second},
	}

	c.engine = newEngine(log.With("sys", "engine"), engineConfig{
		EngineConfig: cfg.Engine,

		Queue:    c.queue,
		Renderer: cfg.Renderer,
		Commands: cfg.Commands,
		Metrics:  cfg.Metrics,

		Send:       c.sendRequest,
		Latest:     c.latest.Load,
		Recognized: c.latest.Recognized,
	})

	return c
}

// Start runs the startup phases in order,
// returning once the client is connected or a phase fails.
// Each phase is bounded by the configured handshake timeout.
//
// On success, ctx controls the lifetime of the session;
// cancel it to disconnect, then use [*Client.Wait]
// to block until all background work has completed.
//
// Start may only be called once.
func (c *Client) Start(ctx context.Context, username, password string) error {
	if !c.phase.CompareAndSwap(int32(PhaseIdle), int32(PhaseAuthenticating)) {
		return errors.New("client already started")
	}

	sctx, span := c.tracer.Start(ctx, "client startup")
	defer span.End()

	if err := c.start(ctx, sctx, username, password); err != nil {
		c.phase.Store(int32(PhaseFailed))
		gtrace.SpanError(span, err)
		c.log.Warn("Client startup failed", "err", err)
		close(c.done)
		return err
	}

	return nil
}

func (c *Client) start(ctx, sctx context.Context, username, password string) error {
	sess, err := c.authenticate(sctx, username, password)
	if err != nil {
		return err
	}
	c.session.Store(&sess)
	c.latest.Watch(sess.ID)

	c.phase.Store(int32(PhaseKeyExchanging))
	key, err := c.exchangeKey(sctx)
	if err != nil {
		return err
	}

	c.phase.Store(int32(PhaseConnecting))
	if err := c.connect(sctx, key); err != nil {
		return err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	c.cancel = cancel

	c.queue.SetSessionID(sess.ID)
	c.phase.Store(int32(PhaseConnected))
	c.log.Info("Connected to game server", "session", sess, "key_id", key.ID)

	c.wg.Add(3)
	go c.receiveDatagrams(ctx)
	go c.runEngine(ctx, sess)
	go c.closeOnDone(ctx)

	go func() {
		c.wg.Wait()
		close(c.done)
	}()

	return nil
}

// runPhase runs fn with a context bounded by the handshake timeout,
// recording a span and the phase duration.
func (c *Client) runPhase(
	ctx context.Context, p Phase, addr string, fn func(context.Context) error,
) error {
	ctx, span := c.tracer.Start(
		ctx,
		p.String(),
		gtrace.WithAttributes(
			gtrace.PhaseAttr(p.String()),
			gtrace.AddrAttr(addr),
		),
	)
	defer span.End()

	ctx, cancel := context.WithTimeoutCause(
		ctx,
		c.cfg.HandshakeTimeout,
		&PhaseTimeoutError{Phase: p, Timeout: c.cfg.HandshakeTimeout},
	)
	defer cancel()

	start := c.cfg.NowFn()
	err := fn(ctx)
	c.cfg.Metrics.ObserveHandshake(p.String(), c.cfg.NowFn().Sub(start), err)

	if err != nil {
		gtrace.SpanError(span, err)
	}
	return err
}

// contextOr returns the cause of ctx's cancellation if there is one,
// so that timeouts surface as [*PhaseTimeoutError] rather than
// as whichever operation happened to observe them.
func contextOr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return err
}

func (c *Client) openHandshakeStream(
	ctx context.Context, addr string,
) (gquic.Conn, gquic.Stream, error) {
	conn, err := c.cfg.Dialer.Dial(ctx, addr)
	if err != nil {
		return nil, nil, contextOr(ctx, fmt.Errorf("failed to dial %s: %w", addr, err))
	}

	s, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(gquic.ClientShutdown, "failed to open stream")
		return nil, nil, contextOr(ctx, fmt.Errorf("failed to open stream to %s: %w", addr, err))
	}

	return conn, s, nil
}

func (c *Client) closeHandshakeConn(conn gquic.Conn, reason string) {
	if err := conn.CloseWithError(gquic.NoError, reason); err != nil {
		c.log.Debug("Error closing handshake connection", "err", err)
	}
}

type sessionResult struct {
	Session Session
	Err     error
}

func (c *Client) authenticate(ctx context.Context, username, password string) (Session, error) {
	var sess Session
	err := c.runPhase(ctx, PhaseAuthenticating, c.cfg.AuthAddr, func(ctx context.Context) error {
		conn, s, err := c.openHandshakeStream(ctx, c.cfg.AuthAddr)
		if err != nil {
			return err
		}
		defer c.closeHandshakeConn(conn, "authentication complete")

		results := make(chan sessionResult, 1)
		ac := gauth.NewClient(
			ctx, c.log.With("sys", "auth"), s,
			gauth.ClientConfig{WriteTimeout: c.cfg.HandshakeTimeout},
			func(got Session, err error) {
				select {
				case results <- sessionResult{Session: got, Err: err}:
				default:
				}
			},
		)
		defer ac.Terminate()

		if err := ac.RequestAuth(username, password); err != nil {
			return contextOr(ctx, err)
		}

		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case r := <-results:
			if r.Err != nil {
				return &AuthenticationFailedError{Username: username, Err: r.Err}
			}
			sess = r.Session
			gtrace.SpanFromContext(ctx).SetAttributes(gtrace.SessionIDAttr(sess.ID))
			return nil
		}
	})
	return sess, err
}

type keyResult struct {
	Key gwire.SymmetricKey
	Err error
}

func (c *Client) exchangeKey(ctx context.Context) (gwire.SymmetricKey, error) {
	var key gwire.SymmetricKey
	err := c.runPhase(ctx, PhaseKeyExchanging, c.cfg.KeyExchangeAddr, func(ctx context.Context) error {
		conn, s, err := c.openHandshakeStream(ctx, c.cfg.KeyExchangeAddr)
		if err != nil {
			return err
		}
		defer c.closeHandshakeConn(conn, "key exchange complete")

		results := make(chan keyResult, 1)
		kc := gdhke.NewClient(
			ctx, c.log.With("sys", "dhke"), s,
			gdhke.ClientConfig{WriteTimeout: c.cfg.HandshakeTimeout},
			func(k gwire.SymmetricKey, err error) {
				select {
				case results <- keyResult{Key: k, Err: err}:
				default:
				}
			},
		)
		defer kc.Terminate()

		if err := kc.RequestNewKey(); err != nil {
			return contextOr(ctx, err)
		}

		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case r := <-results:
			if r.Err != nil {
				return &KeyExchangeError{Err: r.Err}
			}
			key = r.Key
			gtrace.SpanFromContext(ctx).SetAttributes(gtrace.KeyIDAttr(key.ID))
			return nil
		}
	})
	return key, err
}

func (c *Client) connect(ctx context.Context, key gwire.SymmetricKey) error {
	return c.runPhase(ctx, PhaseConnecting, c.cfg.GameAddr, func(ctx context.Context) error {
		if err := c.keyring.Add(key); err != nil {
			return &KeyExchangeError{Err: err}
		}

		conn, err := c.cfg.Dialer.Dial(ctx, c.cfg.GameAddr)
		if err != nil {
			return contextOr(ctx, fmt.Errorf("failed to dial %s: %w", c.cfg.GameAddr, err))
		}
		gtrace.SpanFromContext(ctx).SetAttributes(gtrace.RemoteAddrAttr(conn))

		if err := conn.SendDatagram([]byte(gwire.ConnectMarker)); err != nil {
			_ = conn.CloseWithError(gquic.ClientShutdown, "failed to send connect marker")
			return fmt.Errorf("failed to send connect marker: %w", err)
		}

		c.conn = conn
		c.keyID = key.ID
		return nil
	})
}

func (c *Client) runEngine(ctx context.Context, s Session) {
	defer c.wg.Done()
	c.engine.run(ctx, s)
}

func (c *Client) closeOnDone(ctx context.Context) {
	defer c.wg.Done()

	<-ctx.Done()
	if err := c.conn.CloseWithError(gquic.ClientShutdown, "client shutdown"); err != nil {
		c.log.Debug("Error closing game connection", "err", err)
	}
}

func (c *Client) receiveDatagrams(ctx context.Context) {
	defer c.wg.Done()

	for {
		d, err := c.conn.ReceiveDatagram(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn("Game connection lost", "err", err)
				c.cancel(fmt.Errorf("game connection lost: %w", err))
			}
			return
		}

		c.handleDatagram(d)
	}
}

// handleDatagram opens, decodes, and applies one inbound datagram.
// Undecodable datagrams are dropped; stale states are ignored.
func (c *Client) handleDatagram(d []byte) {
	payload, err := c.keyring.Open(d)
	if err != nil {
		c.cfg.Metrics.DatagramDropped(gmetrics.DropUnseal)
		c.dropLog.Do(func() {
			c.log.Info("Dropping datagram that failed to open", "size", len(d), "err", err)
		})
		return
	}

	st := new(gwire.AuthoritativeState)
	if err := st.UnmarshalBinary(payload); err != nil {
		c.cfg.Metrics.DatagramDropped(gmetrics.DropDecode)
		c.dropLog.Do(func() {
			c.log.Info("Dropping datagram that failed to decode", "size", len(payload), "err", err)
		})
		return
	}

	if !c.latest.Apply(st) {
		c.cfg.Metrics.StateStale()
		return
	}
	c.cfg.Metrics.StateApplied(st.Version)
}

// SendRequest seals and sends req on the game connection.
// The engine sends every request on its own;
// this is for callers that need to send out of band.
func (c *Client) SendRequest(req gwire.OutboundRequest) error {
	if c.Phase() != PhaseConnected {
		return ErrNotConnected
	}
	return c.sendRequest(req)
}

func (c *Client) sendRequest(req gwire.OutboundRequest) error {
	payload, err := req.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	d, err := c.keyring.Seal(c.keyID, payload)
	if err != nil {
		return fmt.Errorf("failed to seal request: %w", err)
	}

	if err := c.conn.SendDatagram(d); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	return nil
}

// Wait blocks until the session's background goroutines have stopped,
// which happens after the context passed to Start is canceled
// or the game connection is lost.
//
// It returns immediately if Start has not been called.
// While Start is running, Wait blocks until Start fails,
// or until the connected session ends.
func (c *Client) Wait() {
	if c.Phase() == PhaseIdle {
		return
	}
	<-c.done
}

// Phase returns the client's current startup phase.
func (c *Client) Phase() Phase {
	return Phase(c.phase.Load())
}

// Session returns the granted session,
// and false if authentication has not succeeded.
func (c *Client) Session() (Session, bool) {
	s := c.session.Load()
	if s == nil {
		return Session{}, false
	}
	return *s, true
}

// LatestState returns the newest applied state, or nil.
// The returned state must not be modified.
func (c *Client) LatestState() *gwire.AuthoritativeState {
	return c.latest.Load()
}

// Inputs returns the queue that input sources enqueue into.
func (c *Client) Inputs() *ginput.Queue {
	return c.queue
}

// Pause stops the tick engine. Inbound states are still applied.
func (c *Client) Pause() {
	c.engine.Pause()
}

// Resume restarts the tick engine after [*Client.Pause].
func (c *Client) Resume() {
	c.engine.Resume()
}
