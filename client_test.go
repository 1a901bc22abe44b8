package gambit_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/gordian-engine/gambit"
	"github.com/gordian-engine/gambit/gambittest"
	"github.com/gordian-engine/gambit/gauth"
	"github.com/gordian-engine/gambit/gdhke"
	"github.com/gordian-engine/gambit/ginput"
	"github.com/gordian-engine/gambit/gpubsub"
	"github.com/gordian-engine/gambit/gwire"
	"github.com/gordian-engine/gambit/internal/gtest"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var testUsers = map[string]string{"alice": "hunter2"}

type clientFixture struct {
	Server   *gambittest.Server
	Client   *gambit.Client
	Renderer *gambittest.Renderer
	Spans    *tracetest.SpanRecorder

	// Follows the server's received requests.
	Requests *gpubsub.Stream[gwire.OutboundRequest]
}

func newClientFixture(
	t *testing.T, scfg gambittest.ServerConfig, handshakeTimeout time.Duration,
) *clientFixture {
	t.Helper()

	log := gtest.NewLogger(t)

	s := gambittest.NewServer(t, t.Context(), log.With("sys", "server"), scfg)

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	r := gambittest.NewRenderer()
	c := gambit.NewClient(log.With("sys", "client"), gambit.ClientConfig{
		AuthAddr:        s.AuthAddr,
		KeyExchangeAddr: s.KeyExchangeAddr,
		GameAddr:        s.GameAddr,

		Dialer: s.ClientDialer(t),

		HandshakeTimeout: handshakeTimeout,

		Engine: gambit.EngineConfig{TickRate: 100},

		Renderer: r,

		TracerProvider: tp,
	})

	return &clientFixture{
		Server:   s,
		Client:   c,
		Renderer: r,
		Spans:    sr,

		Requests: s.RequestHead,
	}
}

// start starts the client with a context that is canceled,
// and waited on, during t's cleanup.
func (f *clientFixture) start(t *testing.T, user, pass string) error {
	t.Helper()

	ctx, cancel := context.WithCancel(t.Context())
	t.Cleanup(func() {
		cancel()
		f.Client.Wait()
	})

	return f.Client.Start(ctx, user, pass)
}

// nextRequest returns the next request the server received
// for which match returns true.
func (f *clientFixture) nextRequest(
	t *testing.T, match func(gwire.OutboundRequest) bool,
) gwire.OutboundRequest {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), gtest.ScheduleTimeout)
	defer cancel()

	for {
		req, next, err := f.Requests.Wait(ctx)
		require.NoError(t, err, "timed out waiting for matching request")
		f.Requests = next

		if match(req) {
			return req
		}
	}
}

func spanNames(sr *tracetest.SpanRecorder) []string {
	var names []string
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	return names
}

func TestClient_startAndPlay(t *testing.T) {
	t.Parallel()

	f := newClientFixture(t, gambittest.ServerConfig{Users: testUsers}, 5*time.Second)
	require.NoError(t, f.start(t, "alice", "hunter2"))
	require.Equal(t, gambit.PhaseConnected, f.Client.Phase())

	sess, ok := f.Client.Session()
	require.True(t, ok)
	require.Equal(t, "player-1", sess.ID)
	require.NotEmpty(t, sess.Secret)

	// The first requests are join requests carrying the session secret.
	join := f.nextRequest(t, func(gwire.OutboundRequest) bool { return true })
	require.Equal(t, gwire.JoinGameCode, join.Inputs[0].Code)
	require.Equal(t, sess.Secret, join.SessionToken)

	// Once the renderer has been handed a state listing the session,
	// the engine has stopped discarding inputs.
	gtest.Eventually(t, func() bool {
		st := f.Renderer.LastState()
		return st != nil && st.HasPlayer(sess.ID)
	}, "server should recognize the session")

	notices := f.Client.Inputs().Notifications()
	in, err := f.Client.Inputs().Enqueue(ginput.Input{Code: "fire", AckRequired: true})
	require.NoError(t, err)

	sent := f.nextRequest(t, func(req gwire.OutboundRequest) bool {
		return slices.ContainsFunc(req.Inputs[:], func(s gwire.InputSlot) bool {
			return s.Present && s.HasID && s.ID == in.ID
		})
	})
	require.Equal(t, "fire", sent.Inputs[0].Code)

	// Once the server acknowledges it, the client purges it.
	f.nextRequest(t, func(req gwire.OutboundRequest) bool {
		return slices.ContainsFunc(req.Purges[:], func(p gwire.PurgeSlot) bool {
			return p.Present && p.ID == in.ID
		})
	})

	ctx, cancel := context.WithTimeout(t.Context(), gtest.ScheduleTimeout)
	defer cancel()
	notice, _, err := notices.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, in.ID, notice.Input.ID)
	require.True(t, notice.Purged)

	require.Equal(t, sess.ID, f.Renderer.SessionID())
	require.Equal(t, 1, f.Renderer.SetupCalls())
	require.Positive(t, f.Renderer.Renders())

	require.Subset(t, spanNames(f.Spans), []string{
		"authenticating", "key_exchanging", "connecting", "client startup",
	})
}

func TestClient_separateGroupMessages(t *testing.T) {
	t.Parallel()

	f := newClientFixture(t, gambittest.ServerConfig{
		Users:         testUsers,
		SeparateGroup: true,
	}, 5*time.Second)
	require.NoError(t, f.start(t, "alice", "hunter2"))

	f.nextRequest(t, func(req gwire.OutboundRequest) bool {
		return req.Inputs[0].Code == gwire.JoinGameCode
	})
}

func TestClient_authenticationRefused(t *testing.T) {
	t.Parallel()

	f := newClientFixture(t, gambittest.ServerConfig{Users: testUsers}, 5*time.Second)

	err := f.start(t, "alice", "wrong")
	var afe *gambit.AuthenticationFailedError
	require.ErrorAs(t, err, &afe)
	require.Equal(t, "alice", afe.Username)
	require.ErrorIs(t, err, gauth.ErrNoSession)

	require.Equal(t, gambit.PhaseFailed, f.Client.Phase())
	_, ok := f.Client.Session()
	require.False(t, ok)

	// Failed clients cannot be restarted.
	require.Error(t, f.Client.Start(t.Context(), "alice", "hunter2"))

	require.Contains(t, spanNames(f.Spans), "authenticating")
	require.NotContains(t, spanNames(f.Spans), "key_exchanging")
}

func TestClient_keyExchangeRejected(t *testing.T) {
	t.Parallel()

	f := newClientFixture(t, gambittest.ServerConfig{
		Users:             testUsers,
		RejectKeyExchange: true,
	}, 5*time.Second)

	err := f.start(t, "alice", "hunter2")
	var kee *gambit.KeyExchangeError
	require.ErrorAs(t, err, &kee)
	require.ErrorIs(t, err, gdhke.ErrRejected)

	require.Equal(t, gambit.PhaseFailed, f.Client.Phase())

	// Authentication itself succeeded.
	_, ok := f.Client.Session()
	require.True(t, ok)
}

func TestClient_authenticationTimeout(t *testing.T) {
	t.Parallel()

	f := newClientFixture(t, gambittest.ServerConfig{
		Users:      testUsers,
		SilentAuth: true,
	}, 250*time.Millisecond)

	err := f.start(t, "alice", "hunter2")
	var pte *gambit.PhaseTimeoutError
	require.ErrorAs(t, err, &pte)
	require.Equal(t, gambit.PhaseAuthenticating, pte.Phase)
	require.Equal(t, 250*time.Millisecond, pte.Timeout)
}

func TestClient_waitDuringStart(t *testing.T) {
	t.Parallel()

	f := newClientFixture(t, gambittest.ServerConfig{
		Users:      testUsers,
		SilentAuth: true,
	}, 250*time.Millisecond)

	// Never started.
	f.Client.Wait()

	startErr := make(chan error, 1)
	go func() {
		startErr <- f.start(t, "alice", "hunter2")
	}()

	gtest.Eventually(t, func() bool {
		return f.Client.Phase() == gambit.PhaseAuthenticating
	}, "client should begin authenticating")

	waited := make(chan struct{})
	go func() {
		f.Client.Wait()
		close(waited)
	}()

	gtest.NotSending(t, waited)

	var pte *gambit.PhaseTimeoutError
	require.ErrorAs(t, gtest.ReceiveSoon(t, startErr), &pte)
	_ = gtest.ReceiveSoon(t, waited)
	require.Equal(t, gambit.PhaseFailed, f.Client.Phase())
}

func TestClient_staleStatesNeverRendered(t *testing.T) {
	t.Parallel()

	f := newClientFixture(t, gambittest.ServerConfig{
		Users:        testUsers,
		ManualStates: true,
	}, 5*time.Second)
	require.NoError(t, f.start(t, "alice", "hunter2"))

	sess, _ := f.Client.Session()

	// The server only learns where to send states from the first request.
	f.nextRequest(t, func(gwire.OutboundRequest) bool { return true })

	st := func(v int64) gwire.AuthoritativeState {
		return gwire.AuthoritativeState{
			Version: v,
			Players: []gwire.PlayerRef{{SessionID: sess.ID}},
		}
	}

	require.NoError(t, f.Server.SendState(st(5)))
	gtest.Eventually(t, func() bool {
		latest := f.Client.LatestState()
		return latest != nil && latest.Version == 5
	}, "version 5 should be applied")

	require.NoError(t, f.Server.SendState(st(3)))
	require.NoError(t, f.Server.SendState(st(7)))
	gtest.Eventually(t, func() bool {
		return f.Client.LatestState().Version == 7
	}, "version 7 should be applied")

	gtest.Eventually(t, func() bool {
		vs := f.Renderer.Versions()
		return len(vs) > 0 && vs[len(vs)-1] == 7
	}, "renderer should see version 7")

	vs := f.Renderer.Versions()
	require.NotContains(t, vs, int64(3))
	require.IsNonDecreasing(t, vs)
}

func TestClient_pauseStopsRequests(t *testing.T) {
	t.Parallel()

	f := newClientFixture(t, gambittest.ServerConfig{Users: testUsers}, 5*time.Second)
	require.NoError(t, f.start(t, "alice", "hunter2"))
	f.nextRequest(t, func(gwire.OutboundRequest) bool { return true })

	f.Client.Pause()
	time.Sleep(100 * time.Millisecond)
	before := f.Renderer.Renders()
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, before, f.Renderer.Renders())

	f.Client.Resume()
	gtest.Eventually(t, func() bool {
		return f.Renderer.Renders() > before
	}, "rendering should resume")
}

func TestClient_startTwice(t *testing.T) {
	t.Parallel()

	f := newClientFixture(t, gambittest.ServerConfig{Users: testUsers}, 5*time.Second)
	require.NoError(t, f.start(t, "alice", "hunter2"))

	err := f.Client.Start(t.Context(), "alice", "hunter2")
	require.Error(t, err)
	require.False(t, errors.Is(err, gauth.ErrNoSession))
}
