// Package gtrace is a thin wrapper over the OpenTelemetry trace API,
// so that the rest of the module only references one tracing package.
package gtrace

import (
	"context"
	"net"

	otelattr "go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	otpnoop "go.opentelemetry.io/otel/trace/noop"
)

// TracerName is the instrumentation name for all gambit spans.
const TracerName = "github.com/gordian-engine/gambit"

type TracerProvider = oteltrace.TracerProvider

type Tracer = oteltrace.Tracer

type Span = oteltrace.Span

type KeyValueAttr = otelattr.KeyValue

// NopTracerProvider returns the otel no-op tracer provider.
// This is intended to use as a fallback when a nil tracer provider is given.
func NopTracerProvider() TracerProvider {
	return otpnoop.NewTracerProvider()
}

// WithAttributes is an alias to [oteltrace.WithAttributes]
// to allow consumers to only reference the gtrace package.
func WithAttributes(attrs ...KeyValueAttr) oteltrace.SpanStartEventOption {
	return oteltrace.WithAttributes(attrs...)
}

// SpanError sets the given span to error status,
// with detail from err.Error(), and records err as an event.
func SpanError(span Span, err error) {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}

// PhaseAttr returns the attribute naming the startup phase of a span.
func PhaseAttr(phase string) KeyValueAttr {
	return otelattr.String("gambit.phase", phase)
}

// AddrAttr returns an attribute for the dialed address.
func AddrAttr(addr string) KeyValueAttr {
	return otelattr.String("gambit.addr", addr)
}

// SessionIDAttr returns an attribute for the public session ID.
// The session secret must never be attached to a span.
func SessionIDAttr(id string) KeyValueAttr {
	return otelattr.String("gambit.session.id", id)
}

// KeyIDAttr returns an attribute for the negotiated key's ID.
func KeyIDAttr(id string) KeyValueAttr {
	return otelattr.String("gambit.key.id", id)
}

type RemoteAddr interface {
	RemoteAddr() net.Addr
}

// RemoteAddrAttr returns an attribute with the lazily evaluated
// remote address of ra.
func RemoteAddrAttr(ra RemoteAddr) KeyValueAttr {
	return otelattr.Stringer("remote", lazyRemoteAddr{a: ra.RemoteAddr()})
}

type lazyRemoteAddr struct {
	a net.Addr
}

func (lra lazyRemoteAddr) String() string {
	return lra.a.String()
}

// SpanFromContext is an alias to [oteltrace.SpanFromContext].
func SpanFromContext(ctx context.Context) Span {
	return oteltrace.SpanFromContext(ctx)
}
