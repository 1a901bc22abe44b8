package gquictest

import (
	"net"
	"time"

	"github.com/gordian-engine/gambit/gquic"
)

// PipeStream is an in-memory [gquic.Stream] backed by [net.Pipe].
// It is useful for exercising the handshake protocols
// without standing up QUIC listeners.
//
// Unlike a real QUIC stream, closing either direction closes both.
type PipeStream struct {
	c net.Conn
}

var _ gquic.Stream = (*PipeStream)(nil)

// NewStreamPair returns two connected streams.
// Writes to a are read from b and vice versa.
func NewStreamPair() (a, b *PipeStream) {
	ca, cb := net.Pipe()
	return &PipeStream{c: ca}, &PipeStream{c: cb}
}

func (s *PipeStream) Read(p []byte) (int, error)  { return s.c.Read(p) }
func (s *PipeStream) Write(p []byte) (int, error) { return s.c.Write(p) }

func (s *PipeStream) Close() error { return s.c.Close() }

func (s *PipeStream) CancelRead(gquic.StreamErrorCode)  { _ = s.c.Close() }
func (s *PipeStream) CancelWrite(gquic.StreamErrorCode) { _ = s.c.Close() }

func (s *PipeStream) SetReadDeadline(t time.Time) error  { return s.c.SetReadDeadline(t) }
func (s *PipeStream) SetWriteDeadline(t time.Time) error { return s.c.SetWriteDeadline(t) }
