package gauth_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/gordian-engine/gambit/gauth"
	"github.com/gordian-engine/gambit/gquic/gquictest"
	"github.com/gordian-engine/gambit/gwire"
	"github.com/gordian-engine/gambit/internal/gline"
	"github.com/gordian-engine/gambit/internal/gtest"
	"github.com/stretchr/testify/require"
)

type sessionResult struct {
	Session gauth.Session
	Err     error
}

func newClient(t *testing.T) (*gauth.Client, *gline.Conn, <-chan sessionResult) {
	t.Helper()

	cs, ss := gquictest.NewStreamPair()
	results := make(chan sessionResult, 4)

	c := gauth.NewClient(
		t.Context(), gtest.NewLogger(t), cs, gauth.ClientConfig{},
		func(s gauth.Session, err error) {
			results <- sessionResult{Session: s, Err: err}
		},
	)
	t.Cleanup(c.Terminate)

	return c, gline.NewConn(ss, 0), results
}

func requestAuth(t *testing.T, c *gauth.Client, server *gline.Conn, user, pass string) {
	t.Helper()

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.RequestAuth(user, pass)
	}()

	msg, err := server.Receive()
	require.NoError(t, err)
	require.Equal(t, user+" "+pass, msg)
	require.NoError(t, gtest.ReceiveSoon(t, errCh))
}

func TestClient_granted(t *testing.T) {
	t.Parallel()

	c, server, results := newClient(t)
	requestAuth(t, c, server, "alice", "hunter2")

	require.NoError(t, server.Send("session s3cr3t player-7"))

	res := gtest.ReceiveSoon(t, results)
	require.NoError(t, res.Err)
	require.Equal(t, gauth.Session{ID: "player-7", Secret: "s3cr3t"}, res.Session)
}

func TestClient_refused(t *testing.T) {
	t.Parallel()

	c, server, results := newClient(t)
	requestAuth(t, c, server, "alice", "wrong")

	require.NoError(t, server.Send("NoSession"))

	res := gtest.ReceiveSoon(t, results)
	require.ErrorIs(t, res.Err, gauth.ErrNoSession)
	require.Zero(t, res.Session)
}

func TestClient_malformedSession(t *testing.T) {
	t.Parallel()

	c, server, results := newClient(t)
	requestAuth(t, c, server, "alice", "hunter2")

	require.NoError(t, server.Send("SESSION only-a-secret"))

	res := gtest.ReceiveSoon(t, results)
	require.ErrorIs(t, res.Err, gauth.ErrMalformedSession)
}

func TestClient_secretTooLongToSend(t *testing.T) {
	t.Parallel()

	c, server, results := newClient(t)
	requestAuth(t, c, server, "alice", "hunter2")

	secret := strings.Repeat("s", gwire.MaxTokenSize+1)
	require.NoError(t, server.Send("SESSION "+secret+" player-1"))

	res := gtest.ReceiveSoon(t, results)
	require.ErrorIs(t, res.Err, gauth.ErrMalformedSession)
}

func TestClient_ignoresUnrelatedMessages(t *testing.T) {
	t.Parallel()

	c, server, results := newClient(t)
	requestAuth(t, c, server, "alice", "hunter2")

	require.NoError(t, server.Send("WELCOME"))
	require.NoError(t, server.Send("SESSION abc def"))

	res := gtest.ReceiveSoon(t, results)
	require.NoError(t, res.Err)
	require.Equal(t, "def", res.Session.ID)
	gtest.NotSending(t, results)
}

func TestClient_rejectsBadUsername(t *testing.T) {
	t.Parallel()

	c, _, _ := newClient(t)

	require.Error(t, c.RequestAuth("", "pw"))
	require.Error(t, c.RequestAuth("two words", "pw"))
}

func TestSession_logValueOmitsSecret(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	log.Info("hello", "session", gauth.Session{ID: "player-7", Secret: "s3cr3t"})

	require.Contains(t, buf.String(), "player-7")
	require.NotContains(t, buf.String(), "s3cr3t")
}
