package gquictest

import (
	"context"
	"crypto/tls"
	"net"
	"sync"

	"github.com/gordian-engine/gambit/gpubsub"
	"github.com/gordian-engine/gambit/gquic"
)

// StubConnection is a [gquic.Conn] whose datagrams never touch the network.
//
// Sent datagrams are published on Sent, in order,
// so tests can follow them without sizing buffered channels.
// Inbound datagrams are delivered by sending on Inbound.
type StubConnection struct {
	// The value to return from the TLSConnectionState method.
	TLSConnectionStateValue tls.ConnectionState

	LocalAddrValue, RemoteAddrValue StubNetAddr

	Inbound chan []byte

	mu     sync.Mutex
	sent   *gpubsub.Stream[[]byte]
	closed chan struct{}

	// SentHead is the first node of the sent-datagram stream.
	SentHead *gpubsub.Stream[[]byte]
}

var _ gquic.Conn = (*StubConnection)(nil)

// NewStubConnection returns an initialized StubConnection.
func NewStubConnection() *StubConnection {
	head := gpubsub.NewStream[[]byte]()
	return &StubConnection{
		Inbound:  make(chan []byte),
		sent:     head,
		SentHead: head,
		closed:   make(chan struct{}),
	}
}

// AcceptStream implements [gquic.Conn].
func (c *StubConnection) AcceptStream(ctx context.Context) (gquic.Stream, error) {
	<-ctx.Done()
	return nil, context.Cause(ctx)
}

// OpenStreamSync implements [gquic.Conn].
func (c *StubConnection) OpenStreamSync(context.Context) (gquic.Stream, error) {
	panic("stub does not support OpenStreamSync")
}

// SendDatagram implements [gquic.Conn].
func (c *StubConnection) SendDatagram(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}

	c.sent.Publish(append([]byte(nil), p...))
	c.sent = c.sent.Next
	return nil
}

// ReceiveDatagram implements [gquic.Conn].
func (c *StubConnection) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case <-c.closed:
		return nil, net.ErrClosed
	case d := <-c.Inbound:
		return d, nil
	}
}

// CloseWithError implements [gquic.Conn].
// Subsequent sends and receives fail with [net.ErrClosed].
func (c *StubConnection) CloseWithError(gquic.ApplicationErrorCode, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

// TLSConnectionState implements [gquic.Conn].
func (c *StubConnection) TLSConnectionState() tls.ConnectionState {
	return c.TLSConnectionStateValue
}

// LocalAddr implements [gquic.Conn].
func (c *StubConnection) LocalAddr() net.Addr {
	return c.LocalAddrValue
}

// RemoteAddr implements [gquic.Conn].
func (c *StubConnection) RemoteAddr() net.Addr {
	return c.RemoteAddrValue
}

// StubNetAddr is used in [StubConnection]
// to hold the return values for
// [*StubConnection.LocalAddr] and [*StubConnection.RemoteAddr].
type StubNetAddr struct {
	NetworkValue string
	StringValue  string
}

var _ net.Addr = StubNetAddr{}

func (a StubNetAddr) Network() string { return a.NetworkValue }
func (a StubNetAddr) String() string  { return a.StringValue }
