// Package gline frames the handshake micro-protocols
// as newline-delimited text messages over a single QUIC stream.
package gline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gordian-engine/gambit/gquic"
)

// MaxMessageSize bounds a single inbound line.
// The largest legitimate message is a decimal-encoded modulus and generator,
// so this leaves ample room for 8192-bit groups.
const MaxMessageSize = 8 * 1024

// StreamCanceled is the stream error code used
// when a read loop is stopped through context cancellation.
const StreamCanceled gquic.StreamErrorCode = 0x6C01

// Conn sends and receives text messages on a stream.
// Send is safe for concurrent use; Receive must only be called
// from one goroutine.
type Conn struct {
	s gquic.Stream

	writeTimeout time.Duration

	wmu sync.Mutex

	sc *bufio.Scanner
}

// NewConn returns a Conn over s.
// If writeTimeout is positive, each Send sets a write deadline.
func NewConn(s gquic.Stream, writeTimeout time.Duration) *Conn {
	sc := bufio.NewScanner(s)
	sc.Buffer(make([]byte, 0, 512), MaxMessageSize)
	return &Conn{
		s:            s,
		writeTimeout: writeTimeout,
		sc:           sc,
	}
}

// Send writes msg followed by a newline.
// Messages containing a newline are rejected,
// since they would be split into two messages on the remote end.
func (c *Conn) Send(msg string) error {
	if strings.ContainsAny(msg, "\r\n") {
		return errors.New("message must not contain a line break")
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.s.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}

	if _, err := c.s.Write([]byte(msg + "\n")); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Receive blocks until the next message arrives.
// It returns io.EOF (unwrapped) when the remote closed its write direction.
func (c *Conn) Receive() (string, error) {
	if c.sc.Scan() {
		return strings.TrimRight(c.sc.Text(), "\r"), nil
	}
	if err := c.sc.Err(); err != nil {
		return "", fmt.Errorf("failed to read message: %w", err)
	}
	return "", io.EOF
}

// Run calls handle for every received message
// until handle returns false, the stream ends, or ctx is canceled.
// It returns nil when handle stopped the loop or the stream ended cleanly.
func (c *Conn) Run(ctx context.Context, handle func(string) bool) error {
	stop := context.AfterFunc(ctx, func() {
		c.s.CancelRead(StreamCanceled)
	})
	defer stop()

	for {
		msg, err := c.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			return err
		}

		if !handle(msg) {
			return nil
		}
	}
}

// Close closes the write direction of the stream
// and cancels any further reads.
func (c *Conn) Close() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	err := c.s.Close()
	c.s.CancelRead(StreamCanceled)
	return err
}
