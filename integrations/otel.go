package integrations

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-steplog/types"
)

const tracerName = "github.com/ethereum-optimism/infra/op-steplog"

// OTelListener opens one span per step. Steps nest as child spans, narrative
// events become span events on the innermost open step, or on the test span
// when no step is open.
type OTelListener struct {
	Base
	tracer trace.Tracer
	root   context.Context
	stack  []trace.Span
	ctxs   []context.Context
}

// NewOTelListener uses tracer, or the global tracer provider when nil
func NewOTelListener(tracer trace.Tracer) *OTelListener {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &OTelListener{tracer: tracer, root: context.Background()}
}

// StartTest opens the span all steps of a test nest under. The returned
// function ends it.
func (o *OTelListener) StartTest(ctx context.Context, module, name string) func(status types.TestStatus) {
	ctx, span := o.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("test.module", module),
		attribute.String("test.name", name),
	))
	o.root = ctx
	o.stack = []trace.Span{span}
	o.ctxs = []context.Context{ctx}
	return func(status types.TestStatus) {
		span.SetAttributes(attribute.String("test.status", string(status)))
		switch status {
		case types.TestStatusFailed, types.TestStatusBroken:
			span.SetStatus(codes.Error, string(status))
		case types.TestStatusPassed:
			span.SetStatus(codes.Ok, "")
		}
		span.End()
		o.root = context.Background()
		o.stack = nil
		o.ctxs = nil
	}
}

func (o *OTelListener) parent() context.Context {
	if len(o.ctxs) == 0 {
		return o.root
	}
	return o.ctxs[len(o.ctxs)-1]
}

func (o *OTelListener) current() trace.Span {
	if len(o.stack) == 0 {
		return nil
	}
	return o.stack[len(o.stack)-1]
}

func (o *OTelListener) OnStep(title, expected string) func(err error) {
	opts := []trace.SpanStartOption{}
	if expected != "" {
		opts = append(opts, trace.WithAttributes(attribute.String("step.expected", expected)))
	}
	ctx, span := o.tracer.Start(o.parent(), title, opts...)
	o.stack = append(o.stack, span)
	o.ctxs = append(o.ctxs, ctx)
	depth := len(o.stack)
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if len(o.stack) >= depth {
			o.stack = o.stack[:depth-1]
			o.ctxs = o.ctxs[:depth-1]
		}
	}
}

func (o *OTelListener) event(name string, attrs ...attribute.KeyValue) {
	if span := o.current(); span != nil {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

func (o *OTelListener) OnDescription(text string) {
	o.event("description", attribute.String("text", text))
}

func (o *OTelListener) OnInfo(key string, value types.Value) {
	o.event("info", attribute.String("key", key), attribute.String("value", value.String()))
}

func (o *OTelListener) OnLink(url, name string) {
	o.event("link", attribute.String("url", url), attribute.String("name", name))
}

func (o *OTelListener) OnKnownBug(description, url string) {
	o.event("known_bug", attribute.String("description", description), attribute.String("url", url))
}

func (o *OTelListener) OnAttach(content []byte, name, mimeType string) {
	o.event("attachment",
		attribute.String("name", name),
		attribute.String("type", mimeType),
		attribute.Int("size", len(content)),
	)
}

var _ Listener = (*OTelListener)(nil)
