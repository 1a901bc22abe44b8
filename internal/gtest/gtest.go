// Package gtest contains helpers shared across gambit tests.
package gtest

import (
	"log/slog"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
)

// ScheduleTimeout is how long the channel helpers wait
// before failing the test.
// Tests run with the race detector on shared CI machines,
// so this is generous compared to the expected latency.
const ScheduleTimeout = 2 * time.Second

// NewLogger returns a logger that writes through t.Log,
// so output is associated with the test that produced it.
func NewLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slogt.New(t)
}

// ReceiveSoon receives a value from ch,
// failing the test if no value arrives within [ScheduleTimeout].
func ReceiveSoon[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	timer := time.NewTimer(ScheduleTimeout)
	defer timer.Stop()

	select {
	case v := <-ch:
		return v
	case <-timer.C:
		t.Fatalf("timed out waiting to receive value of type %T", *new(T))
		var zero T
		return zero
	}
}

// SendSoon sends v on ch,
// failing the test if the send does not complete within [ScheduleTimeout].
func SendSoon[T any](t *testing.T, ch chan<- T, v T) {
	t.Helper()

	timer := time.NewTimer(ScheduleTimeout)
	defer timer.Stop()

	select {
	case ch <- v:
	case <-timer.C:
		t.Fatalf("timed out waiting to send value of type %T", v)
	}
}

// IsSending asserts that ch is immediately readable,
// which includes the case of a closed channel.
func IsSending[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	select {
	case <-ch:
	default:
		t.Fatal("channel should have been sending")
	}
}

// NotSending asserts that ch is not immediately readable.
func NotSending[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	select {
	case <-ch:
		t.Fatal("channel should not have been sending")
	default:
	}
}

// Eventually polls cond every few milliseconds
// until it returns true, or fails the test after [ScheduleTimeout].
func Eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(ScheduleTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}

	t.Fatalf("condition never satisfied: %s", msg)
}
