package observer

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/nevindra/hive"
)

func newTestTracer(t *testing.T) (hive.Tracer, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewTracer(), exp
}

func TestTracerSpanLifecycle(t *testing.T) {
	tr, exp := newTestTracer(t)

	ctx, span := tr.Start(context.Background(), "agent.run",
		hive.StringAttr("agent", "lead"), hive.IntAttr("turn", 3))
	if !trace.SpanContextFromContext(ctx).IsValid() {
		t.Error("Start did not put the span in the context")
	}
	span.Event("tool.call", hive.StringAttr("tool", "Bash"))
	span.Error(errors.New("boom"))
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	got := spans[0]
	if got.Name != "agent.run" {
		t.Errorf("Name = %q, want agent.run", got.Name)
	}
	if got.Status.Code != codes.Error || got.Status.Description != "boom" {
		t.Errorf("Status = %+v, want the recorded error", got.Status)
	}
	if len(got.Events) != 2 {
		// The span event plus the exception from RecordError.
		t.Errorf("Events = %d, want 2", len(got.Events))
	}
}

func TestToOTELAttr(t *testing.T) {
	tests := []struct {
		name string
		attr hive.SpanAttr
		want attribute.KeyValue
	}{
		{"string", hive.SpanAttr{Key: "k", Value: "v"}, attribute.String("k", "v")},
		{"int", hive.SpanAttr{Key: "k", Value: 3}, attribute.Int("k", 3)},
		{"int64", hive.SpanAttr{Key: "k", Value: int64(4)}, attribute.Int64("k", 4)},
		{"float64", hive.SpanAttr{Key: "k", Value: 1.5}, attribute.Float64("k", 1.5)},
		{"bool", hive.SpanAttr{Key: "k", Value: true}, attribute.Bool("k", true)},
		{"fallback", hive.SpanAttr{Key: "k", Value: []string{"a", "b"}}, attribute.String("k", "[a b]")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toOTELAttr(tt.attr); got != tt.want {
				t.Errorf("toOTELAttr = %+v, want %+v", got, tt.want)
			}
		})
	}
}
