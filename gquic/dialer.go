package gquic

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// Dialer handles establishing QUIC connections to the game server endpoints.
//
// All three endpoints (authentication, key exchange, and game)
// are dialed through the same [*quic.Transport],
// so the client only ever binds a single UDP socket.
type Dialer struct {
	TLSConf *tls.Config

	QUICTransport *quic.Transport
	QUICConfig    *quic.Config
}

// Dial resolves addr as a UDP address and opens a QUIC connection to it.
//
// The TLS configuration is cloned,
// and if ServerName is unset it is filled in from the host portion of addr.
func (d Dialer) Dial(ctx context.Context, addr string) (Conn, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", addr, err)
	}

	tlsConf := d.TLSConf.Clone()
	if tlsConf.ServerName == "" {
		host, _, err := net.SplitHostPort(addr)
		if err == nil {
			tlsConf.ServerName = host
		}
	}
	if len(tlsConf.NextProtos) == 0 {
		tlsConf.NextProtos = []string{ALPN}
	}

	qc, err := d.QUICTransport.Dial(ctx, ua, tlsConf, d.QUICConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %q: %w", addr, err)
	}

	return WrapConn(qc), nil
}

// ALPN is the application protocol negotiated on every gambit connection.
const ALPN = "gambit/1"

// MakeTransport returns a [*quic.Transport] wrapping the given UDP connection.
func MakeTransport(uc *net.UDPConn) *quic.Transport {
	return &quic.Transport{
		Conn: uc,

		// Skip: ConnectionIDLength: use default of 4.
		// Skip: StatelessResetKey: the client does not survive restarts anyway.
		// Skip: ConnContext: connection lifetimes are bounded by the dial context
		// and explicit CloseWithError calls.
	}
}

// StartListener starts a QUIC listener on the given transport.
// The tlsConf is cloned and has the gambit ALPN set if it had none.
func StartListener(
	tlsConf *tls.Config, qc *quic.Config, qt *quic.Transport,
) (*quic.Listener, error) {
	tlsConf = tlsConf.Clone()
	if len(tlsConf.NextProtos) == 0 {
		tlsConf.NextProtos = []string{ALPN}
	}

	ql, err := qt.Listen(tlsConf, qc)
	if err != nil {
		return nil, fmt.Errorf("failed to set up QUIC listener: %w", err)
	}
	return ql, nil
}

// DefaultConfig is the default QUIC configuration for gambit connections.
func DefaultConfig() *quic.Config {
	return &quic.Config{
		// Defaults to 5 otherwise; the handshakes are latency sensitive
		// and the client reports a timeout for the whole phase anyway.
		HandshakeIdleTimeout: 2 * time.Second,

		// Skip: MaxIdleTimeout: defaults to 30s of no activity.

		// The handshake streams carry a handful of short text lines,
		// so the stream windows can be small.
		InitialStreamReceiveWindow: 16 * 1024,
		MaxStreamReceiveWindow:     256 * 1024,

		InitialConnectionReceiveWindow: 4 * 16 * 1024,
		MaxConnectionReceiveWindow:     1024 * 1024,

		// One stream per handshake; the game connection uses none.
		MaxIncomingStreams:    2,
		MaxIncomingUniStreams: -1,

		// The game connection is idle from the server's perspective
		// whenever the player sends no input, so keep it alive.
		KeepAlivePeriod: 5 * time.Second,

		// All game traffic is datagrams.
		EnableDatagrams: true,
	}
}
