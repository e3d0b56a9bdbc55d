package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// captureLog swaps the default slog logger for one writing to a buffer.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestLogger_NoSpanNoTraceAttributes(t *testing.T) {
	buf := captureLog(t)

	Logger(context.Background()).Info("chunk processed")

	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log line carries trace attributes without a span: %s", buf.String())
	}
}

func TestLogger_EnrichedWithSpanContext(t *testing.T) {
	buf := captureLog(t)

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "toggle")
	defer span.End()

	Logger(ctx).Warn("toggle failed")

	out := buf.String()
	if !strings.Contains(out, "trace_id="+span.SpanContext().TraceID().String()) {
		t.Errorf("log line missing trace_id: %s", out)
	}
	if !strings.Contains(out, "span_id="+span.SpanContext().SpanID().String()) {
		t.Errorf("log line missing span_id: %s", out)
	}
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without a span = %q, want empty", got)
	}

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "toggle")
	defer span.End()

	if got := CorrelationID(ctx); got != span.SpanContext().TraceID().String() {
		t.Errorf("CorrelationID = %q, want %q", got, span.SpanContext().TraceID())
	}
}
